package catalog

import (
	"context"
	"fmt"
	"net/url"
)

type mbRelease struct {
	Title string `json:"title"`
	Date  string `json:"date"`
}

type mbRecording struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Score        int    `json:"score"`
	ArtistCredit []struct {
		Name string `json:"name"`
	} `json:"artist-credit"`
	Releases []mbRelease `json:"releases"`
}

func (c *Client) mbGet(ctx context.Context, path string, q url.Values, out any) error {
	if err := c.mbLimiter.Wait(ctx); err != nil {
		return err
	}
	q.Set("fmt", "json")
	return c.http.GetJSON(ctx, c.endpoints.MusicBrainz+path, q, out)
}

// LookupText searches MusicBrainz by artist and title. Matches scoring
// below MinTextScore are ignored.
func (c *Client) LookupText(ctx context.Context, artist, title string) (Metadata, bool) {
	var resp struct {
		Recordings []mbRecording `json:"recordings"`
	}
	q := url.Values{
		"query": {fmt.Sprintf(`artist:"%s" AND recording:"%s"`, artist, title)},
		"limit": {"1"},
	}
	if err := c.mbGet(ctx, "/recording/", q, &resp); err != nil {
		c.log.Debug().Err(err).Msg("musicbrainz search failed")
		return Metadata{}, false
	}
	if len(resp.Recordings) == 0 {
		return Metadata{}, false
	}
	rec := resp.Recordings[0]
	if rec.Score < MinTextScore {
		c.log.Debug().Int("score", rec.Score).Str("artist", artist).Str("title", title).Msg("musicbrainz score too low")
		return Metadata{}, false
	}

	m := Metadata{Title: rec.Title, RecordingID: rec.ID, Source: SourceText}
	if len(rec.ArtistCredit) > 0 {
		m.Artist = rec.ArtistCredit[0].Name
	}
	if len(rec.Releases) > 0 {
		m.Album = rec.Releases[0].Title
		m.Year = yearOf(rec.Releases[0].Date)
	}
	return m, true
}

// Release fetches the first release of a recording for its album and year.
func (c *Client) Release(ctx context.Context, recordingID string) (album, year string, ok bool) {
	var resp struct {
		Releases []mbRelease `json:"releases"`
	}
	if err := c.mbGet(ctx, "/recording/"+url.PathEscape(recordingID), url.Values{"inc": {"releases"}}, &resp); err != nil {
		c.log.Debug().Err(err).Str("recording", recordingID).Msg("musicbrainz release lookup failed")
		return "", "", false
	}
	if len(resp.Releases) == 0 {
		return "", "", false
	}
	r := resp.Releases[0]
	album, year = r.Title, yearOf(r.Date)
	return album, year, album != "" || year != ""
}
