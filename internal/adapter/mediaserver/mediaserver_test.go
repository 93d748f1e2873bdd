package mediaserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

type mapSettings map[string]string

func (m mapSettings) String(key, def string) string {
	if v, ok := m[key]; ok {
		return v
	}
	return def
}

func (m mapSettings) Bool(key string, def bool) bool { return def }
func (m mapSettings) Int(key string, def int) int    { return def }

func TestSubsonicToken(t *testing.T) {
	// md5("sesame" + "c19b2d")
	assert.Equal(t, "26719a1196d2a940705a59634eb18eab", SubsonicToken("sesame", "c19b2d"))
}

func TestScanner_Scan(t *testing.T) {
	var mu sync.Mutex
	var navidromeQuery, jellyfinToken string

	mux := http.NewServeMux()
	mux.HandleFunc("GET /rest/startScan", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		navidromeQuery = r.URL.RawQuery
		mu.Unlock()
		w.Write([]byte(`{"subsonic-response":{"status":"ok"}}`))
	})
	mux.HandleFunc("POST /Library/Refresh", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		jellyfinToken = r.Header.Get("X-Emby-Token")
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s := New(mapSettings{
		"navidrome_url":    srv.URL + "/",
		"navidrome_user":   "admin",
		"navidrome_pass":   "sesame",
		"jellyfin_url":     srv.URL,
		"jellyfin_api_key": "jf-key",
	}, zerolog.Nop())
	s.salt = func() string { return "c19b2d" }

	s.Scan(context.Background())

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, navidromeQuery, "t=26719a1196d2a940705a59634eb18eab")
	assert.Contains(t, navidromeQuery, "s=c19b2d")
	assert.Contains(t, navidromeQuery, "c=MusicGrabber")
	assert.Contains(t, navidromeQuery, "v=1.16.1")
	assert.Equal(t, "jf-key", jellyfinToken)
}

func TestScanner_NotConfigured(t *testing.T) {
	s := New(mapSettings{}, zerolog.Nop())
	assert.NoError(t, s.navidrome(context.Background()))
	assert.NoError(t, s.jellyfin(context.Background()))
}

func TestScanner_NavidromeFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"subsonic-response":{"status":"failed","error":{"message":"Wrong username or password"}}}`))
	}))
	defer srv.Close()

	s := New(mapSettings{"navidrome_url": srv.URL, "navidrome_user": "u", "navidrome_pass": "p"}, zerolog.Nop())
	err := s.navidrome(context.Background())
	assert.ErrorContains(t, err, "Wrong username or password")
}
