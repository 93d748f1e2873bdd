package catalog

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

type lrcRecord struct {
	SyncedLyrics string `json:"syncedLyrics"`
	PlainLyrics  string `json:"plainLyrics"`
}

// Lyrics fetches lyrics from LRCLib, trying an exact match before a search.
// Synced lyrics are preferred over plain ones.
func (c *Client) Lyrics(ctx context.Context, artist, title string) (string, bool) {
	var exact lrcRecord
	err := c.http.GetJSON(ctx, c.endpoints.LRCLib+"/get", url.Values{
		"artist_name": {artist},
		"track_name":  {title},
	}, &exact)
	if err == nil {
		if exact.SyncedLyrics != "" {
			return exact.SyncedLyrics, true
		}
		if exact.PlainLyrics != "" {
			return exact.PlainLyrics, true
		}
	}

	var found []lrcRecord
	if err := c.http.GetJSON(ctx, c.endpoints.LRCLib+"/search", url.Values{"q": {artist + " " + title}}, &found); err != nil {
		c.log.Debug().Err(err).Msg("lrclib search failed")
		return "", false
	}
	for _, r := range found {
		if r.SyncedLyrics != "" {
			return r.SyncedLyrics, true
		}
	}
	for _, r := range found {
		if r.PlainLyrics != "" {
			return r.PlainLyrics, true
		}
	}
	return "", false
}

// LyricsPath is the sidecar .lrc path for an audio file.
func LyricsPath(audio string) string {
	return strings.TrimSuffix(audio, filepath.Ext(audio)) + ".lrc"
}

// SaveLyrics writes lyrics next to the audio file.
func SaveLyrics(audio, lyrics string) (string, error) {
	p := LyricsPath(audio)
	if err := os.WriteFile(p, []byte(lyrics), 0o666); err != nil {
		return "", errors.Wrap(err, "write lyrics")
	}
	return p, nil
}
