package source

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/cwygoda/musicgrabber/internal/adapter/webapi"
	"github.com/cwygoda/musicgrabber/internal/domain"
	"github.com/cwygoda/musicgrabber/internal/scoring"
)

const (
	// CoverBase is the Tidal image CDN.
	CoverBase = "https://resources.tidal.com/images"

	monochromeTimeout = 15 * time.Second
	monochromeSite    = "https://monochrome.tf"
)

var (
	monochromeURL   = regexp.MustCompile(`(?i)^https?://(www\.)?monochrome\.tf/`)
	monochromeTrack = regexp.MustCompile(`(?i)/track/(\d+)`)
	monochromeAlbum = regexp.MustCompile(`(?i)/album/(\d+)`)
)

// IsMonochromeURL reports whether s is a monochrome.tf page.
func IsMonochromeURL(s string) bool {
	return monochromeURL.MatchString(s)
}

// MonochromeTrackID extracts the numeric track ID from a monochrome.tf URL.
func MonochromeTrackID(s string) (string, bool) {
	m := monochromeTrack.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// MonochromeAlbumID extracts the numeric album ID from a monochrome.tf URL.
func MonochromeAlbumID(s string) (string, bool) {
	m := monochromeAlbum.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// CoverURL turns a Tidal cover UUID into a CDN URL at size x size.
func CoverURL(uuid string, size int) string {
	return coverURL(CoverBase, uuid, size)
}

func coverURL(base, uuid string, size int) string {
	if uuid == "" {
		return ""
	}
	s := strconv.Itoa(size)
	return base + "/" + strings.ReplaceAll(uuid, "-", "/") + "/" + s + "x" + s + ".jpg"
}

// flexID accepts IDs encoded as either JSON numbers or strings.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	if string(b) == "null" {
		return nil
	}
	*f = flexID(b)
	return nil
}

// TidalArtist is the artist object of the Monochrome API.
type TidalArtist struct {
	ID   flexID `json:"id"`
	Name string `json:"name"`
}

// TidalAlbum is an album as returned by /album/ or embedded in a track.
type TidalAlbum struct {
	ID     flexID       `json:"id"`
	Title  string       `json:"title"`
	Cover  string       `json:"cover"`
	Artist *TidalArtist `json:"artist"`
	Tracks *struct {
		Items []TidalTrack `json:"items"`
	} `json:"tracks"`
	Items []TidalTrack `json:"items"`
}

// TrackList returns the album's tracks wherever the API version put them.
func (a TidalAlbum) TrackList() []TidalTrack {
	if a.Tracks != nil && len(a.Tracks.Items) > 0 {
		return a.Tracks.Items
	}
	return a.Items
}

// ArtistName returns the album artist, or def.
func (a TidalAlbum) ArtistName(def string) string {
	if a.Artist != nil && a.Artist.Name != "" {
		return a.Artist.Name
	}
	return def
}

// TidalTrack is a track as returned by /search/ and /info/.
type TidalTrack struct {
	ID           flexID       `json:"id"`
	Title        string       `json:"title"`
	Duration     int          `json:"duration"`
	AudioQuality string       `json:"audioQuality"`
	Popularity   int          `json:"popularity"`
	StreamReady  bool         `json:"streamReady"`
	ISRC         string       `json:"isrc"`
	Explicit     bool         `json:"explicit"`
	TrackNumber  int          `json:"trackNumber"`
	VolumeNumber int          `json:"volumeNumber"`
	Artist       *TidalArtist `json:"artist"`
	Album        *TidalAlbum  `json:"album"`
}

// ArtistName returns the track artist, or def.
func (t TidalTrack) ArtistName(def string) string {
	if t.Artist != nil && t.Artist.Name != "" {
		return t.Artist.Name
	}
	return def
}

// Manifest is the decoded stream manifest for a track.
type Manifest struct {
	URLs           []string `json:"urls"`
	MimeType       string   `json:"mimeType"`
	Codecs         string   `json:"codecs"`
	EncryptionType string   `json:"encryptionType"`

	BitDepth     int    `json:"-"`
	SampleRate   int    `json:"-"`
	AudioQuality string `json:"-"`
}

// Monochrome talks to the Monochrome API, a public Tidal front end.
type Monochrome struct {
	client    *webapi.Client
	coverBase string
	settings  domain.Settings
	log       zerolog.Logger
}

// NewMonochrome creates the Monochrome adapter.
func NewMonochrome(settings domain.Settings, log zerolog.Logger) *Monochrome {
	return &Monochrome{
		client:    webapi.New(monochromeTimeout),
		coverBase: CoverBase,
		settings:  settings,
		log:       log,
	}
}

func (m *Monochrome) Name() domain.Source { return domain.SourceMonochrome }

func (m *Monochrome) api(path string) string {
	base := strings.TrimRight(m.settings.String("monochrome_api_url", "https://api.monochrome.tf"), "/")
	return base + path
}

func (m *Monochrome) get(ctx context.Context, path string, q url.Values, data any) error {
	envelope := struct {
		Data any `json:"data"`
	}{Data: data}
	return m.client.GetJSON(ctx, m.api(path), q, &envelope)
}

func (m *Monochrome) Search(ctx context.Context, query string, limit int) []domain.SearchResult {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil
	}
	if IsMonochromeURL(query) {
		return m.resolveURL(ctx, query, limit)
	}

	var data struct {
		Items []TidalTrack `json:"items"`
	}
	if err := m.get(ctx, "/search/", url.Values{"s": {query}}, &data); err != nil {
		m.log.Warn().Err(err).Str("query", query).Msg("monochrome search failed")
		return nil
	}

	var results []domain.SearchResult
	for _, t := range data.Items {
		if !t.StreamReady {
			continue
		}
		results = append(results, trackResult(t, query))
	}
	return rank(results, limit)
}

func trackResult(t TidalTrack, query string) domain.SearchResult {
	title := t.Title
	if title == "" {
		title = "Unknown"
	}
	artist := t.ArtistName("Unknown")
	r := domain.SearchResult{
		SourceID:    string(t.ID),
		Title:       title,
		Channel:     artist,
		Duration:    t.Duration,
		Source:      domain.SourceMonochrome,
		SourceURL:   monochromeSite + "/track/" + string(t.ID),
		QualityTier: t.AudioQuality,
		ISRC:        t.ISRC,
		Explicit:    t.Explicit,
		QualityScore: scoring.Score(scoring.Signals{
			Title:      title,
			Channel:    artist,
			Query:      query,
			Duration:   t.Duration,
			Tier:       t.AudioQuality,
			Popularity: t.Popularity,
		}),
	}
	if t.Album != nil {
		r.Thumbnail = CoverURL(t.Album.Cover, 320)
		r.Album = t.Album.Title
		r.AlbumID = string(t.Album.ID)
		r.AlbumCover = t.Album.Cover
	}
	return r
}

func (m *Monochrome) resolveURL(ctx context.Context, raw string, limit int) []domain.SearchResult {
	if mm := monochromeAlbum.FindStringSubmatch(raw); mm != nil {
		album, err := m.Album(ctx, mm[1])
		if err != nil {
			m.log.Warn().Err(err).Str("url", raw).Msg("monochrome album lookup failed")
			return nil
		}
		tracks := album.TrackList()
		r := domain.SearchResult{
			SourceID:   mm[1],
			Title:      album.Title,
			Channel:    album.ArtistName("Unknown Artist"),
			Thumbnail:  CoverURL(album.Cover, 320),
			IsPlaylist: true,
			VideoCount: len(tracks),
			Source:     domain.SourceMonochrome,
			SourceURL:  monochromeSite + "/album/" + mm[1],
			Album:      album.Title,
			AlbumID:    mm[1],
			AlbumCover: album.Cover,
		}
		if len(tracks) > 0 {
			r.QualityTier = tracks[0].AudioQuality
		}
		r.QualityScore = scoring.Score(scoring.Signals{Title: r.Title, Channel: r.Channel, Tier: r.QualityTier})
		return []domain.SearchResult{r}
	}

	if id, ok := MonochromeTrackID(raw); ok {
		t, err := m.Info(ctx, id)
		if err != nil {
			m.log.Warn().Err(err).Str("url", raw).Msg("monochrome track lookup failed")
			return nil
		}
		if t.ID == "" {
			t.ID = flexID(id)
		}
		return rank([]domain.SearchResult{trackResult(*t, "")}, limit)
	}
	return nil
}

// Info fetches full metadata for one track.
func (m *Monochrome) Info(ctx context.Context, trackID string) (*TidalTrack, error) {
	var t TidalTrack
	if err := m.get(ctx, "/info/", url.Values{"id": {trackID}}, &t); err != nil {
		return nil, errors.Wrapf(err, "track info %s", trackID)
	}
	return &t, nil
}

// Album fetches album metadata and its track list.
func (m *Monochrome) Album(ctx context.Context, albumID string) (*TidalAlbum, error) {
	var a TidalAlbum
	if err := m.get(ctx, "/album/", url.Values{"id": {albumID}}, &a); err != nil {
		return nil, errors.Wrapf(err, "album info %s", albumID)
	}
	return &a, nil
}

// Stream fetches the stream manifest, falling back from LOSSLESS to HIGH
// when the lossless tier is forbidden.
func (m *Monochrome) Stream(ctx context.Context, trackID string) (*Manifest, error) {
	var data struct {
		Manifest     string `json:"manifest"`
		BitDepth     int    `json:"bitDepth"`
		SampleRate   int    `json:"sampleRate"`
		AudioQuality string `json:"audioQuality"`
	}
	var err error
	for _, quality := range []string{"LOSSLESS", "HIGH"} {
		err = m.get(ctx, "/track/", url.Values{"id": {trackID}, "quality": {quality}}, &data)
		if !webapi.IsStatus(err, http.StatusForbidden) {
			break
		}
		m.log.Info().Str("track", trackID).Str("quality", quality).Msg("quality tier forbidden, trying next")
	}
	if err != nil {
		return nil, errors.Wrapf(err, "stream manifest %s", trackID)
	}
	if data.Manifest == "" {
		return nil, errors.Errorf("no stream manifest returned for Monochrome track %s", trackID)
	}

	raw, err := base64.StdEncoding.DecodeString(data.Manifest)
	if err != nil {
		return nil, errors.Wrap(err, "decode manifest")
	}
	var man Manifest
	if err := json.Unmarshal(raw, &man); err != nil {
		return nil, errors.Wrap(err, "parse manifest")
	}
	if man.EncryptionType == "" {
		man.EncryptionType = "NONE"
	}
	if man.EncryptionType != "NONE" {
		return nil, errors.Errorf("Monochrome track %s is encrypted (%s), cannot download", trackID, man.EncryptionType)
	}
	if len(man.URLs) == 0 {
		return nil, errors.Errorf("empty URL list in manifest for Monochrome track %s", trackID)
	}
	man.BitDepth, man.SampleRate, man.AudioQuality = data.BitDepth, data.SampleRate, data.AudioQuality
	return &man, nil
}

// Ext returns the file extension matching the manifest's container.
func (m Manifest) Ext() string {
	mime := strings.ToLower(m.MimeType)
	codecs := strings.ToLower(m.Codecs)
	switch {
	case strings.Contains(mime, "flac"), strings.Contains(codecs, "flac"), mime == "":
		return ".flac"
	case strings.Contains(mime, "mp4"), strings.Contains(codecs, "mp4a"):
		return ".m4a"
	case strings.Contains(mime, "mpeg"):
		return ".mp3"
	}
	return ".flac"
}

// Download streams the track's audio to dir/stem plus the extension the
// manifest calls for, and returns the written path.
func (m *Monochrome) Download(ctx context.Context, trackID, dir, stem string) (string, error) {
	man, err := m.Stream(ctx, trackID)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrap(err, "create output dir")
	}

	outPath := filepath.Join(dir, stem+man.Ext())
	part := outPath + ".part"
	f, err := os.Create(part)
	if err != nil {
		return "", errors.Wrap(err, "create output")
	}
	stream := webapi.New(2 * time.Minute)
	if _, err := stream.Download(ctx, man.URLs[0], f); err != nil {
		f.Close()
		os.Remove(part)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(part)
		return "", errors.Wrap(err, "close output")
	}
	if err := os.Rename(part, outPath); err != nil {
		return "", errors.Wrap(err, "finalise output")
	}
	return outPath, nil
}

// Cover downloads the 640px cover image for uuid.
func (m *Monochrome) Cover(ctx context.Context, uuid string) ([]byte, error) {
	if uuid == "" {
		return nil, errors.New("no cover")
	}
	var buf bytes.Buffer
	c := webapi.New(10 * time.Second)
	if _, err := c.Download(ctx, coverURL(m.coverBase, uuid, 640), &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
