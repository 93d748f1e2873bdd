package source

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/cwygoda/musicgrabber/internal/domain"
	"github.com/cwygoda/musicgrabber/internal/scoring"
)

// SoundCloud searches SoundCloud through yt-dlp's scsearch extractor.
type SoundCloud struct {
	yt  *YTDLP
	log zerolog.Logger
}

// NewSoundCloud creates the SoundCloud searcher.
func NewSoundCloud(yt *YTDLP, log zerolog.Logger) *SoundCloud {
	return &SoundCloud{yt: yt, log: log}
}

func (s *SoundCloud) Name() domain.Source { return domain.SourceSoundCloud }

func (s *SoundCloud) Search(ctx context.Context, query string, limit int) []domain.SearchResult {
	fetch := max(limit*2, 15)
	entries, err := s.yt.Dump(ctx, fmt.Sprintf("scsearch%d:%s", fetch, query), false, true, TimeoutSearch)
	if err != nil {
		s.log.Warn().Err(err).Str("query", query).Msg("soundcloud search failed")
		return nil
	}
	return rank(soundcloudResults(entries, query), limit)
}

func soundcloudResults(entries []Entry, query string) []domain.SearchResult {
	var results []domain.SearchResult
	for _, e := range entries {
		// Sets are skipped; only single tracks are offered.
		if e.Type == "playlist" {
			continue
		}
		title := e.Title
		if title == "" {
			title = "Unknown"
		}
		channel := e.ChannelName(true)
		results = append(results, domain.SearchResult{
			SourceID:  e.ID,
			Title:     title,
			Channel:   channel,
			Duration:  int(e.Duration),
			Thumbnail: e.Thumbnail,
			Source:    domain.SourceSoundCloud,
			SourceURL: e.Link(),
			QualityScore: scoring.Score(scoring.Signals{
				Title:    title,
				Channel:  channel,
				Query:    query,
				Duration: int(e.Duration),
				Views:    e.ViewCount,
			}),
		})
	}
	return results
}
