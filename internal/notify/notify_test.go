package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwygoda/musicgrabber/internal/domain"
)

type mapSettings map[string]string

func (m mapSettings) String(key, def string) string {
	if v, ok := m[key]; ok {
		return v
	}
	return def
}

func (m mapSettings) Bool(key string, def bool) bool {
	if v, ok := m[key]; ok {
		return v == "true"
	}
	return def
}

func (m mapSettings) Int(key string, def int) int {
	if v, ok := m[key]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

type recorder struct {
	mu     sync.Mutex
	bodies map[string][]map[string]any
}

func (r *recorder) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
		r.mu.Lock()
		r.bodies[req.URL.Path] = append(r.bodies[req.URL.Path], body)
		r.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
}

func TestEnabled(t *testing.T) {
	n := New(mapSettings{"notify_on": "playlists, Bulk"}, zerolog.Nop())
	assert.True(t, n.Enabled(domain.Notification{Type: domain.NotifyPlaylist}))
	assert.True(t, n.Enabled(domain.Notification{Type: domain.NotifyBulk}))
	assert.False(t, n.Enabled(domain.Notification{Type: domain.NotifySingle, Status: "completed"}))
	assert.False(t, n.Enabled(domain.Notification{Type: domain.NotifyError, Status: "failed"}))

	n = New(mapSettings{}, zerolog.Nop())
	assert.False(t, n.Enabled(domain.Notification{Type: domain.NotifySingle, Status: "completed"}))
	assert.True(t, n.Enabled(domain.Notification{Type: domain.NotifySingle, Status: "failed"}), "errors apply to any type")
}

func TestMessage(t *testing.T) {
	tests := []struct {
		name        string
		n           domain.Notification
		wantBody    string
		wantSubject string
	}{
		{
			name:        "single",
			n:           domain.Notification{Type: domain.NotifySingle, Title: "Song", Artist: "Band", Source: domain.SourceYouTube, Status: "completed"},
			wantBody:    "MusicGrabber [OK]\nBand - Song\nSource: Youtube",
			wantSubject: "MusicGrabber [OK] - Band - Song",
		},
		{
			name:        "partial playlist",
			n:           domain.Notification{Type: domain.NotifyPlaylist, Title: "Mix", Status: "completed_with_errors", TrackCount: 10, FailedCount: 1, SkippedCount: 2},
			wantBody:    "MusicGrabber [PARTIAL]\nPlaylist: Mix\n10 tracks, 1 failed, 2 skipped",
			wantSubject: "MusicGrabber [PARTIAL] - Playlist: Mix",
		},
		{
			name:        "bulk",
			n:           domain.Notification{Type: domain.NotifyBulk, Title: "Bulk import ab12", Status: "completed", TrackCount: 3},
			wantBody:    "MusicGrabber [OK]\nBulk import: Bulk import ab12\n3 tracks",
			wantSubject: "MusicGrabber [OK] - Bulk import",
		},
		{
			name:        "error",
			n:           domain.Notification{Type: domain.NotifyError, Title: "x", Status: "failed", Error: "boom"},
			wantBody:    "MusicGrabber [FAILED]\nError: boom",
			wantSubject: "MusicGrabber [FAILED]",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, subject := Message(tt.n)
			assert.Equal(t, tt.wantBody, body)
			assert.Equal(t, tt.wantSubject, subject)
		})
	}
}

func TestNotify_AllChannels(t *testing.T) {
	rec := &recorder{bodies: map[string][]map[string]any{}}
	srv := httptest.NewServer(rec.handler(t))
	defer srv.Close()

	n := New(mapSettings{
		"notify_on":            "playlists",
		"telegram_webhook_url": srv.URL + "/telegram",
		"webhook_url":          srv.URL + "/hook",
		"smtp_host":            "mail.example.com",
		"smtp_port":            "2525",
		"smtp_user":            "bot@example.com",
		"smtp_pass":            "secret",
		"smtp_to":              "a@example.com, b@example.com",
	}, zerolog.Nop())
	var mails []Mail
	n.sendMail = func(ctx context.Context, m Mail) error {
		mails = append(mails, m)
		return nil
	}

	n.Notify(context.Background(), domain.Notification{
		Type: domain.NotifyPlaylist, Title: "Mix", Status: "completed", TrackCount: 4,
	})

	require.Len(t, rec.bodies["/telegram"], 1)
	assert.Equal(t, "MusicGrabber [OK]\nPlaylist: Mix\n4 tracks", rec.bodies["/telegram"][0]["text"])

	require.Len(t, rec.bodies["/hook"], 1)
	hook := rec.bodies["/hook"][0]
	assert.Equal(t, "download.completed", hook["event"])
	assert.Equal(t, "playlist", hook["type"])
	assert.Equal(t, float64(4), hook["track_count"])
	assert.Equal(t, float64(0), hook["failed_count"])
	assert.NotContains(t, hook, "artist")

	require.Len(t, mails, 1)
	m := mails[0]
	assert.Equal(t, 2525, m.Port)
	assert.True(t, m.StartTLS)
	assert.Equal(t, "bot@example.com", m.From, "from falls back to the smtp user")
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, m.To)
	assert.True(t, strings.HasPrefix(string(m.Body), "Subject: MusicGrabber [OK] - Playlist: Mix\r\n"))
	assert.Contains(t, string(m.Body), "\r\n\r\nMusicGrabber [OK]\r\nPlaylist: Mix\r\n4 tracks\r\n")
}

func TestNotify_FilteredAndFailuresSwallowed(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := New(mapSettings{"notify_on": "errors", "webhook_url": srv.URL, "smtp_host": "h", "smtp_to": "x@y"}, zerolog.Nop())
	n.sendMail = func(ctx context.Context, m Mail) error { return errors.New("connection refused") }

	n.Notify(context.Background(), domain.Notification{Type: domain.NotifySingle, Status: "completed"})
	assert.Zero(t, calls)

	n.Notify(context.Background(), domain.Notification{Type: domain.NotifySingle, Status: "failed", Error: "x"})
	assert.Equal(t, 1, calls)
}
