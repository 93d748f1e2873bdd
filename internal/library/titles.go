package library

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

var (
	bracketNoise   = regexp.MustCompile(`(?i)\s*[(\[][^)\]]*(?:official|lyrics?|lyric|audio|h[dq]|remaster|music\s*video)[^)\]]*[)\]]`)
	officialVideo  = regexp.MustCompile(`(?i)\s*official\s*(music\s*)?video`)
	trailingSuffix = regexp.MustCompile(`(?i)\s+[-–—]\s+(?:official\s+)?(?:music\s+)?(?:audio|video|lyric\s+video)\s*$`)
	danglingSep    = regexp.MustCompile(`\s+[-–—]\s*$`)

	titleSplits = []*regexp.Regexp{
		regexp.MustCompile(`^(.+?)\s+--\s+(.+)$`),
		regexp.MustCompile(`^(.+?)\s+[-–—]\s+(.+)$`),
		regexp.MustCompile(`^(.+?)\s*\|\s*(.+)$`),
	}
	topicSuffix   = regexp.MustCompile(`(?i)\s*[-–—]\s*Topic$`)
	channelSuffix = regexp.MustCompile(`(?i)\s*(VEVO|Official|Music)$`)

	featInner   = regexp.MustCompile(`\s*(feat\.?|ft\.?|featuring)\s+.*?\|`)
	featTail    = regexp.MustCompile(`\s*(feat\.?|ft\.?|featuring)\s+.*$`)
	anyBrackets = regexp.MustCompile(`\s*[(\[].*?[)\]]`)
	punctuation = regexp.MustCompile(`[^\p{L}\p{N}_\s|]`)
)

// CleanTitle strips video-site annotations such as "(Official Video)" or
// "- Lyric Video" from a track title.
func CleanTitle(title string) string {
	title = bracketNoise.ReplaceAllString(title, "")
	title = officialVideo.ReplaceAllString(title, "")
	title = trailingSuffix.ReplaceAllString(title, "")
	title = danglingSep.ReplaceAllString(title, "")
	return strings.TrimSpace(title)
}

// ExtractArtistTitle splits an uploaded title like "Artist - Title" into its
// parts, falling back to the channel name as the artist.
func ExtractArtistTitle(fullTitle, channel string) (artist, title string) {
	if fullTitle == "" {
		fullTitle = "Unknown Title"
	}
	if channel == "" {
		channel = "Unknown Artist"
	}

	for _, re := range titleSplits {
		m := re.FindStringSubmatch(fullTitle)
		if m == nil {
			continue
		}
		if cleaned := CleanTitle(m[2]); cleaned != "" {
			return strings.TrimSpace(m[1]), cleaned
		}
	}

	artist = topicSuffix.ReplaceAllString(channel, "")
	artist = strings.TrimSpace(channelSuffix.ReplaceAllString(artist, ""))
	if artist == "" {
		artist = "Unknown Artist"
	}
	title = CleanTitle(fullTitle)
	if title == "" {
		title = strings.TrimSpace(fullTitle)
	}
	if title == "" {
		title = "Unknown Title"
	}
	return artist, title
}

// NormaliseTrack reduces artist and title to "artist|title" with features,
// bracketed suffixes and punctuation removed.
func NormaliseTrack(artist, title string) string {
	text := strings.ToLower(artist + "|" + title)
	text = featInner.ReplaceAllString(text, "|")
	text = featTail.ReplaceAllString(text, "")
	text = anyBrackets.ReplaceAllString(text, "")
	text = punctuation.ReplaceAllString(text, "")
	return strings.TrimSpace(spaceRun.ReplaceAllString(text, " "))
}

// HashTrack identifies a track in a watched playlist across refreshes.
func HashTrack(artist, title string) string {
	sum := sha256.Sum256([]byte(NormaliseTrack(artist, title)))
	return hex.EncodeToString(sum[:])[:16]
}
