package source

import (
	"context"
	"fmt"
	"regexp"
	"sort"

	"github.com/rs/zerolog"

	"github.com/cwygoda/musicgrabber/internal/domain"
	"github.com/cwygoda/musicgrabber/internal/scoring"
)

var youtubeID = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidYouTubeID reports whether id looks like a YouTube video or playlist ID.
func ValidYouTubeID(id string) bool {
	return youtubeID.MatchString(id)
}

// WatchURL is the canonical video URL for id.
func WatchURL(id string) string {
	return "https://www.youtube.com/watch?v=" + id
}

// PlaylistURL is the canonical playlist URL for id.
func PlaylistURL(id string) string {
	return "https://www.youtube.com/playlist?list=" + id
}

// YouTube searches YouTube through yt-dlp.
type YouTube struct {
	yt  *YTDLP
	log zerolog.Logger
}

// NewYouTube creates the YouTube searcher.
func NewYouTube(yt *YTDLP, log zerolog.Logger) *YouTube {
	return &YouTube{yt: yt, log: log}
}

func (y *YouTube) Name() domain.Source { return domain.SourceYouTube }

func (y *YouTube) Search(ctx context.Context, query string, limit int) []domain.SearchResult {
	fetch := max(limit*3, 30)
	entries, err := y.yt.Dump(ctx, fmt.Sprintf("ytsearch%d:%s", fetch, query), true, true, TimeoutSearch)
	if err != nil {
		y.log.Warn().Err(err).Str("query", query).Msg("youtube search failed")
		return nil
	}
	return rank(youtubeResults(entries, query), limit)
}

func youtubeResults(entries []Entry, query string) []domain.SearchResult {
	results := make([]domain.SearchResult, 0, len(entries))
	for _, e := range entries {
		title := e.Title
		if title == "" {
			title = "Unknown"
		}
		channel := e.ChannelName(false)
		r := domain.SearchResult{
			SourceID:   e.ID,
			Title:      title,
			Channel:    channel,
			Thumbnail:  e.Thumbnail,
			IsPlaylist: e.IsPlaylist(),
			Source:     domain.SourceYouTube,
			QualityScore: scoring.Score(scoring.Signals{
				Title:    title,
				Channel:  channel,
				Query:    query,
				Duration: int(e.Duration),
				Views:    e.ViewCount,
			}),
		}
		if r.Thumbnail == "" {
			r.Thumbnail = "https://i.ytimg.com/vi/" + e.ID + "/mqdefault.jpg"
		}
		if r.IsPlaylist {
			r.VideoCount = e.PlaylistCount
			if r.VideoCount == 0 {
				r.VideoCount = e.NEntries
			}
		} else {
			r.Duration = int(e.Duration)
		}
		results = append(results, r)
	}
	return results
}

// rank stable-sorts by score, highest first, and truncates to limit.
func rank(results []domain.SearchResult, limit int) []domain.SearchResult {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].QualityScore > results[j].QualityScore
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}

// PlaylistEntries lists the videos in a YouTube playlist.
func (y *YouTube) PlaylistEntries(ctx context.Context, playlistID string) ([]Entry, error) {
	entries, err := y.yt.Dump(ctx, PlaylistURL(playlistID), true, true, TimeoutPlaylist)
	if err != nil {
		return nil, err
	}
	out := entries[:0]
	for _, e := range entries {
		if e.ID != "" {
			out = append(out, e)
		}
	}
	return out, nil
}
