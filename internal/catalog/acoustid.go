package catalog

import (
	"context"
	"net/url"
	"strconv"
	"strings"
)

type acoustIDArtist struct {
	Name string `json:"name"`
}

type acoustIDReleaseGroup struct {
	Title string `json:"title"`
	Type  string `json:"type"`
}

type acoustIDRecording struct {
	ID            string                 `json:"id"`
	Title         string                 `json:"title"`
	Artists       []acoustIDArtist       `json:"artists"`
	ReleaseGroups []acoustIDReleaseGroup `json:"releasegroups"`
}

// scoreRecording rates how well a fingerprint match fits the expected track.
func scoreRecording(r acoustIDRecording, artist, title string) int {
	score := 0
	expArtist, expTitle := strings.ToLower(artist), strings.ToLower(title)
	recTitle := strings.ToLower(r.Title)

	for _, a := range r.Artists {
		name := strings.ToLower(a.Name)
		if strings.Contains(name, expArtist) || strings.Contains(expArtist, name) {
			score += 10
			break
		}
	}
	switch {
	case expTitle == recTitle:
		score += 8
	case strings.Contains(recTitle, expTitle) || strings.Contains(expTitle, recTitle):
		score += 5
	}
	for _, w := range []string{"cover", "karaoke", "tribute"} {
		if strings.Contains(recTitle, w) {
			score -= 8
			break
		}
	}
	for _, w := range []string{"remaster", "live", "session"} {
		if strings.Contains(recTitle, w) {
			score -= 2
			break
		}
	}
	if len(r.ReleaseGroups) > 0 {
		score++
	}
	return score
}

func (r acoustIDRecording) metadata() Metadata {
	m := Metadata{Title: r.Title, RecordingID: r.ID, Source: SourceFingerprint}
	var names []string
	for _, a := range r.Artists {
		if a.Name != "" {
			names = append(names, a.Name)
		}
	}
	m.Artist = strings.Join(names, " & ")
	if len(r.ReleaseGroups) > 0 {
		m.Album = r.ReleaseGroups[0].Title
		for _, rg := range r.ReleaseGroups {
			if rg.Type == "Album" {
				m.Album = rg.Title
				break
			}
		}
	}
	return m
}

// LookupFingerprint asks AcoustID what the audio is and picks the recording
// that best fits the expected artist and title.
func (c *Client) LookupFingerprint(ctx context.Context, duration int, fingerprint, artist, title string) (Metadata, bool) {
	var resp struct {
		Status  string `json:"status"`
		Results []struct {
			Score      float64             `json:"score"`
			Recordings []acoustIDRecording `json:"recordings"`
		} `json:"results"`
	}
	q := url.Values{
		"client":      {c.settings.String("acoustid_api_key", "")},
		"duration":    {strconv.Itoa(duration)},
		"fingerprint": {fingerprint},
		"meta":        {"recordings releasegroups"},
	}
	if err := c.http.GetJSON(ctx, c.endpoints.AcoustID+"/lookup", q, &resp); err != nil {
		c.log.Debug().Err(err).Msg("acoustid lookup failed")
		return Metadata{}, false
	}

	var best *acoustIDRecording
	bestScore := 0
	for _, res := range resp.Results {
		if res.Score < MinFingerprintScore {
			continue
		}
		for i := range res.Recordings {
			rec := &res.Recordings[i]
			if rec.Title == "" {
				continue
			}
			if s := scoreRecording(*rec, artist, title); best == nil || s > bestScore {
				best, bestScore = rec, s
			}
		}
	}
	if best == nil {
		c.log.Debug().Int("results", len(resp.Results)).Msg("acoustid: no usable recordings")
		return Metadata{}, false
	}
	if bestScore < 0 {
		c.log.Debug().Int("score", bestScore).Msg("acoustid: best recording does not match")
		return Metadata{}, false
	}
	m := best.metadata()
	c.log.Info().Str("artist", m.Artist).Str("title", m.Title).Int("match", bestScore).Msg("acoustid match")
	return m, true
}
