package catalog

import (
	"context"
)

// Fingerprinter computes a chromaprint fingerprint for a file.
type Fingerprinter interface {
	Fingerprint(ctx context.Context, path string) (duration int, fingerprint string, ok bool)
}

// Input is what enrichment knows before asking the catalogs.
type Input struct {
	Artist string
	Title  string
	Path   string
}

// Strategy is one enrichment attempt. Strategies are tried in order and the
// first that reports ok wins.
type Strategy func(ctx context.Context, in Input) (Metadata, bool)

// Enricher runs the enrichment strategies.
type Enricher struct {
	client     *Client
	strategies []Strategy
}

// NewEnricher creates the default chain: fingerprint lookup, then text search.
func NewEnricher(client *Client, fp Fingerprinter) *Enricher {
	e := &Enricher{client: client}
	if fp != nil {
		e.strategies = append(e.strategies, e.byFingerprint(fp))
	}
	e.strategies = append(e.strategies, e.byText)
	return e
}

// Enrich returns canonical metadata, or false when lookups are disabled or
// nothing matched.
func (e *Enricher) Enrich(ctx context.Context, in Input) (Metadata, bool) {
	if !e.client.settings.Bool("enable_musicbrainz", true) {
		return Metadata{}, false
	}
	for _, s := range e.strategies {
		if m, ok := s(ctx, in); ok {
			return m, true
		}
	}
	return Metadata{}, false
}

// Year returns only the release year for artist and title. Used when the
// source's own metadata is kept.
func (e *Enricher) Year(ctx context.Context, artist, title string) string {
	if !e.client.settings.Bool("enable_musicbrainz", true) {
		return ""
	}
	m, ok := e.client.LookupText(ctx, artist, title)
	if !ok {
		return ""
	}
	return m.Year
}

func (e *Enricher) byFingerprint(fp Fingerprinter) Strategy {
	return func(ctx context.Context, in Input) (Metadata, bool) {
		if in.Path == "" {
			return Metadata{}, false
		}
		duration, fpText, ok := fp.Fingerprint(ctx, in.Path)
		if !ok {
			return Metadata{}, false
		}
		m, ok := e.client.LookupFingerprint(ctx, duration, fpText, in.Artist, in.Title)
		if !ok {
			return Metadata{}, false
		}
		if m.RecordingID != "" && m.Year == "" {
			if album, year, ok := e.client.Release(ctx, m.RecordingID); ok {
				m.Year = year
				if m.Album == "" {
					m.Album = album
				}
			}
		}
		return m, true
	}
}

func (e *Enricher) byText(ctx context.Context, in Input) (Metadata, bool) {
	return e.client.LookupText(ctx, in.Artist, in.Title)
}

// Lyrics fetches lyrics when enabled.
func (e *Enricher) Lyrics(ctx context.Context, artist, title string) (string, bool) {
	if !e.client.settings.Bool("enable_lyrics", true) {
		return "", false
	}
	return e.client.Lyrics(ctx, artist, title)
}
