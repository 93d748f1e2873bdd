// Package catalog looks up canonical metadata and lyrics from AcoustID,
// MusicBrainz and LRCLib.
package catalog

import (
	"regexp"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/cwygoda/musicgrabber/internal/adapter/webapi"
	"github.com/cwygoda/musicgrabber/internal/domain"
)

const (
	requestTimeout = 10 * time.Second

	// MinFingerprintScore is the lowest AcoustID fingerprint score trusted.
	MinFingerprintScore = 0.8
	// MinTextScore is the lowest MusicBrainz text-search score trusted.
	MinTextScore = 85

	SourceFingerprint = "acoustid_fingerprint"
	SourceText        = "musicbrainz_text"
)

// Endpoints are the catalog base URLs.
type Endpoints struct {
	AcoustID    string
	MusicBrainz string
	LRCLib      string
}

// DefaultEndpoints are the public services.
var DefaultEndpoints = Endpoints{
	AcoustID:    "https://api.acoustid.org/v2",
	MusicBrainz: "https://musicbrainz.org/ws/2",
	LRCLib:      "https://lrclib.net/api",
}

// Metadata is what a catalog knows about a recording.
type Metadata struct {
	Artist      string
	Title       string
	Album       string
	Year        string
	RecordingID string
	Source      string
}

// Client talks to the catalogs.
type Client struct {
	http      *webapi.Client
	endpoints Endpoints
	settings  domain.Settings
	// MusicBrainz asks clients to stay at one request per second.
	mbLimiter *rate.Limiter
	log       zerolog.Logger
}

// New creates a catalog client.
func New(endpoints Endpoints, settings domain.Settings, log zerolog.Logger) *Client {
	return &Client{
		http:      webapi.New(requestTimeout),
		endpoints: endpoints,
		settings:  settings,
		mbLimiter: rate.NewLimiter(rate.Every(time.Second), 1),
		log:       log.With().Str("component", "catalog").Logger(),
	}
}

var yearPrefix = regexp.MustCompile(`^(\d{4})`)

func yearOf(date string) string {
	if m := yearPrefix.FindStringSubmatch(date); m != nil {
		return m[1]
	}
	return ""
}
