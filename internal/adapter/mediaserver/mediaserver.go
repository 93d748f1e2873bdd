// Package mediaserver asks Navidrome and Jellyfin to rescan the library
// after new files land.
package mediaserver

import (
	"context"
	"crypto/md5"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/cwygoda/musicgrabber/internal/adapter/webapi"
	"github.com/cwygoda/musicgrabber/internal/domain"
)

const (
	scanTimeout = 10 * time.Second

	subsonicVersion = "1.16.1"
	subsonicClient  = "MusicGrabber"
)

// Scanner triggers library scans on whichever servers are configured.
type Scanner struct {
	client   *webapi.Client
	settings domain.Settings
	log      zerolog.Logger
	salt     func() string
}

// New creates a Scanner.
func New(settings domain.Settings, log zerolog.Logger) *Scanner {
	return &Scanner{
		client:   webapi.New(scanTimeout),
		settings: settings,
		log:      log.With().Str("component", "mediaserver").Logger(),
		salt:     randomSalt,
	}
}

func randomSalt() string {
	b := make([]byte, 6)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// Scan asks every configured server to rescan. Failures are logged only.
func (s *Scanner) Scan(ctx context.Context) {
	if err := s.navidrome(ctx); err != nil {
		s.log.Warn().Err(err).Msg("navidrome scan failed")
	}
	if err := s.jellyfin(ctx); err != nil {
		s.log.Warn().Err(err).Msg("jellyfin scan failed")
	}
}

// SubsonicToken returns md5(password + salt) as lowercase hex.
func SubsonicToken(password, salt string) string {
	sum := md5.Sum([]byte(password + salt))
	return hex.EncodeToString(sum[:])
}

func (s *Scanner) navidrome(ctx context.Context) error {
	base := strings.TrimRight(s.settings.String("navidrome_url", ""), "/")
	user := s.settings.String("navidrome_user", "")
	pass := s.settings.String("navidrome_pass", "")
	if base == "" || user == "" || pass == "" {
		return nil
	}
	salt := s.salt()
	q := url.Values{
		"u": {user},
		"t": {SubsonicToken(pass, salt)},
		"s": {salt},
		"v": {subsonicVersion},
		"c": {subsonicClient},
		"f": {"json"},
	}
	var resp struct {
		Response struct {
			Status string `json:"status"`
			Error  *struct {
				Message string `json:"message"`
			} `json:"error"`
		} `json:"subsonic-response"`
	}
	if err := s.client.GetJSON(ctx, base+"/rest/startScan", q, &resp); err != nil {
		return err
	}
	if resp.Response.Status == "failed" {
		msg := "unknown error"
		if resp.Response.Error != nil {
			msg = resp.Response.Error.Message
		}
		return errors.Errorf("navidrome: %s", msg)
	}
	s.log.Info().Msg("navidrome scan triggered")
	return nil
}

func (s *Scanner) jellyfin(ctx context.Context) error {
	base := strings.TrimRight(s.settings.String("jellyfin_url", ""), "/")
	key := s.settings.String("jellyfin_api_key", "")
	if base == "" || key == "" {
		return nil
	}
	err := s.client.Do(ctx, webapi.Request{
		Method:  http.MethodPost,
		URL:     base + "/Library/Refresh",
		Headers: map[string]string{"X-Emby-Token": key},
	}, nil)
	if err != nil {
		return err
	}
	s.log.Info().Msg("jellyfin scan triggered")
	return nil
}
