// Package scoring ranks search candidates on a single integer scale shared by
// every source.
package scoring

import (
	"regexp"
	"strings"
)

// Base is the score every candidate starts from.
const Base = 100

// Quality tiers reported by sources with authoritative stream quality.
const (
	TierHiResLossless = "HI_RES_LOSSLESS"
	TierLossless      = "LOSSLESS"
	TierHigh          = "HIGH"
)

// Tier bonuses are larger than the widest lexical swing so a lossless stream
// always outranks an untiered result carrying the same title.
var tierBonus = map[string]int{
	TierHiResLossless: 270,
	TierLossless:      250,
	TierHigh:          30,
}

// Signals are the inputs to Score. Zero Duration or Views skip their terms.
type Signals struct {
	Title      string
	Channel    string
	Query      string
	Duration   int
	Views      int64
	Tier       string
	Popularity int
}

type term struct {
	re    *regexp.Regexp
	delta int
}

var titleTerms = []term{
	{regexp.MustCompile(`\b(live|concert|tour|performance|unplugged)\b`), -50},
	{regexp.MustCompile(`\b(cover|remix|instrumental|karaoke|acoustic version|live session)\b`), -40},
	{regexp.MustCompile(`\b(lyric|lyrics)\b`), -20},
	{regexp.MustCompile(`\b(fan|unofficial|tribute)\b`), -30},
	{regexp.MustCompile(`\b(official|vevo)\b`), 30},
	{regexp.MustCompile(`official\s*(music)?\s*video`), 25},
	{regexp.MustCompile(`official\s*audio`), 35},
	{regexp.MustCompile(`\b(reaction|react|compilation|mashup|vs)\b`), -60},
	{regexp.MustCompile(`\b(extended|extended mix|extended version)\b`), -15},
	{regexp.MustCompile(`\b(full album|album|mix|playlist|soundtrack)\b`), -40},
	{regexp.MustCompile(`\b(nightcore|sped up|slowed|8d|reverb|bass boosted)\b`), -45},
}

var channelTerms = []term{
	{regexp.MustCompile(`\b(fan|fanpage|tribute|cover)\b`), -25},
	{regexp.MustCompile(`\b(official|vevo)\b`), 40},
}

var stopwords = map[string]struct{}{
	"official": {}, "music": {}, "video": {}, "lyrics": {}, "lyric": {},
	"audio": {}, "hd": {}, "hq": {}, "remaster": {}, "remastered": {},
	"live": {}, "full": {}, "album": {},
}

var (
	bracketed   = regexp.MustCompile(`[(\[][^)\]]*[)\]]`)
	nonAlnum    = regexp.MustCompile(`[^a-z0-9\s]`)
	whitespaces = regexp.MustCompile(`\s+`)
)

var querySeparators = []string{" - ", " – ", " — ", " | "}

// Score computes the quality score for one candidate. It is pure.
func Score(s Signals) int {
	title := strings.ToLower(s.Title)
	channel := strings.ToLower(s.Channel)
	score := Base

	for _, t := range titleTerms {
		if t.re.MatchString(title) {
			score += t.delta
		}
	}
	for _, t := range channelTerms {
		if t.re.MatchString(channel) {
			score += t.delta
		}
	}
	if strings.HasSuffix(channel, " - topic") {
		score += 35
	}
	if channel != "" && strings.Contains(title, channel) {
		score += 10
	}

	if s.Query != "" {
		score += queryScore(s.Query, s.Title, s.Channel)
	}
	if s.Duration > 0 {
		score += durationScore(s.Duration)
	}
	if s.Views > 0 {
		score += viewsScore(s.Views)
	}

	score += tierBonus[s.Tier]
	if s.Popularity > 0 {
		score += min(s.Popularity/10, 15)
	}
	return score
}

// Normalize lowercases text, drops bracketed spans and punctuation, and
// collapses whitespace. Used for loose containment checks.
func Normalize(text string) string {
	text = strings.ToLower(text)
	text = bracketed.ReplaceAllString(text, "")
	text = nonAlnum.ReplaceAllString(text, " ")
	return strings.TrimSpace(whitespaces.ReplaceAllString(text, " "))
}

// SplitQuery splits "Artist - Title" style queries on the first known separator.
func SplitQuery(query string) (artist, title string, ok bool) {
	for _, sep := range querySeparators {
		if a, t, found := strings.Cut(query, sep); found {
			return strings.TrimSpace(a), strings.TrimSpace(t), true
		}
	}
	return "", "", false
}

func queryScore(query, title, channel string) int {
	score := 0
	queryNorm := Normalize(query)
	titleNorm := Normalize(title)
	channelNorm := Normalize(channel)
	combined := strings.TrimSpace(titleNorm + " " + channelNorm)

	var tokens []string
	for _, tok := range strings.Fields(queryNorm) {
		if _, skip := stopwords[tok]; !skip {
			tokens = append(tokens, tok)
		}
	}
	if len(tokens) > 0 {
		matches := 0
		for _, tok := range tokens {
			if strings.Contains(combined, tok) {
				matches++
			}
		}
		coverage := float64(matches) / float64(len(tokens))
		switch {
		case coverage == 1:
			score += 20
		case coverage >= 0.7:
			score += 10
		case coverage < 0.4:
			score -= 15
		}
	}

	artist, wantTitle, ok := SplitQuery(query)
	if !ok {
		return score
	}
	artistNorm := Normalize(artist)
	wantTitleNorm := Normalize(wantTitle)
	if wantTitleNorm != "" {
		if strings.Contains(titleNorm, wantTitleNorm) {
			score += 25
		} else {
			score -= 25
		}
	}
	if artistNorm != "" {
		switch {
		case strings.Contains(titleNorm, artistNorm):
			score += 15
		case strings.Contains(channelNorm, artistNorm):
			score += 10
		default:
			score -= 10
		}
	}
	if artistNorm != "" && wantTitleNorm != "" && strings.Contains(titleNorm, artistNorm+" "+wantTitleNorm) {
		score += 20
	}
	return score
}

func durationScore(seconds int) int {
	switch {
	case seconds < 30:
		return -40
	case seconds < 90:
		return -15
	case seconds <= 420:
		return 10
	case seconds <= 720:
		return 0
	case seconds <= 1200:
		return -20
	default:
		return -40
	}
}

func viewsScore(views int64) int {
	switch {
	case views < 1_000:
		return -10
	case views >= 10_000_000:
		return 10
	case views >= 100_000:
		return 5
	}
	return 0
}
