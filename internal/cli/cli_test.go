package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/adrg/xdg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwygoda/musicgrabber/internal/domain"
)

func TestBuildRequest(t *testing.T) {
	tests := []struct {
		name    string
		src     domain.Source
		ref     string
		opts    getOptions
		check   func(t *testing.T, r domain.NewJobRequest)
		wantErr bool
	}{
		{
			name: "youtube id",
			src:  domain.SourceYouTube, ref: "dQw4w9WgXcQ",
			check: func(t *testing.T, r domain.NewJobRequest) {
				assert.Equal(t, "dQw4w9WgXcQ", r.SourceID)
				assert.Equal(t, domain.DownloadSingle, r.DownloadType)
				assert.True(t, r.ConvertToFLAC)
			},
		},
		{
			name: "youtube playlist url",
			src:  domain.SourceYouTube, ref: "https://www.youtube.com/playlist?list=PL123",
			opts: getOptions{noFLAC: true},
			check: func(t *testing.T, r domain.NewJobRequest) {
				assert.Equal(t, domain.DownloadPlaylist, r.DownloadType)
				assert.Equal(t, "https://www.youtube.com/playlist?list=PL123", r.SourceURL)
				assert.False(t, r.ConvertToFLAC)
			},
		},
		{
			name: "youtube garbage",
			src:  domain.SourceYouTube, ref: "not an id!", wantErr: true,
		},
		{
			name: "soundcloud set",
			src:  domain.SourceSoundCloud, ref: "https://soundcloud.com/band/sets/live",
			check: func(t *testing.T, r domain.NewJobRequest) {
				assert.Equal(t, domain.DownloadPlaylist, r.DownloadType)
			},
		},
		{
			name: "soundcloud needs url",
			src:  domain.SourceSoundCloud, ref: "12345", wantErr: true,
		},
		{
			name: "monochrome album",
			src:  domain.SourceMonochrome, ref: "https://monochrome.tf/album/777",
			check: func(t *testing.T, r domain.NewJobRequest) {
				assert.Equal(t, "777", r.SourceID)
				assert.Equal(t, domain.DownloadAlbum, r.DownloadType)
			},
		},
		{
			name: "soulseek",
			src:  domain.SourceSoulseek, ref: `Music\Air\Moon Safari\01 - La Femme d'Argent.flac`,
			opts: getOptions{peer: "alice"},
			check: func(t *testing.T, r domain.NewJobRequest) {
				assert.Equal(t, "alice", r.PeerUsername)
				assert.Equal(t, `Music\Air\Moon Safari\01 - La Femme d'Argent.flac`, r.PeerFilename)
				assert.Regexp(t, `^slskd_[0-9a-f]{8}$`, r.SourceID)
				assert.NoError(t, r.Validate())
			},
		},
		{
			name: "soulseek needs peer",
			src:  domain.SourceSoulseek, ref: "x.flac", wantErr: true,
		},
		{
			name: "unknown source",
			src:  "napster", ref: "x", wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := buildRequest(tt.src, tt.ref, tt.opts)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, r)
		})
	}
}

// cliEnv isolates config lookup and the database for one test.
func cliEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "data"))
	t.Setenv("XDG_STATE_HOME", filepath.Join(dir, "state"))
	xdg.Reload()
	t.Cleanup(xdg.Reload)
	return filepath.Join(dir, "musicgrabber.db")
}

func run(t *testing.T, db string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--db", db, "--log-level", "error"}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCLI_Settings(t *testing.T) {
	db := cliEnv(t)

	out, err := run(t, db, "settings", "set", "singles_subdir", "Loose")
	require.NoError(t, err)
	assert.Equal(t, "singles_subdir = Loose\n", out)

	out, err = run(t, db, "settings", "get", "singles_subdir")
	require.NoError(t, err)
	assert.Equal(t, "singles_subdir = Loose\n", out)

	out, err = run(t, db, "settings", "set", "smtp_pass", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "smtp_pass = ********\n", out)

	_, err = run(t, db, "settings", "set", "no_such_key", "x")
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	_, err = run(t, db, "settings", "get", "no_such_key")
	assert.Error(t, err)
}

func TestCLI_Blacklist(t *testing.T) {
	db := cliEnv(t)

	out, err := run(t, db, "blacklist", "add", "--uploader", "Lyrics Channel", "--reason", "wrong_song")
	require.NoError(t, err)
	assert.Equal(t, "Added blacklist entry 1\n", out)

	out, err = run(t, db, "blacklist", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "uploader")
	assert.Contains(t, out, "Lyrics Channel")

	_, err = run(t, db, "blacklist", "add")
	assert.EqualError(t, err, "one of --id or --uploader is required")

	_, err = run(t, db, "blacklist", "remove", "1")
	require.NoError(t, err)
	_, err = run(t, db, "blacklist", "remove", "1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	out, err = run(t, db, "blacklist", "list")
	require.NoError(t, err)
	assert.Equal(t, "Blacklist is empty\n", out)
}

func TestCLI_GetAndJobs(t *testing.T) {
	db := cliEnv(t)

	out, err := run(t, db, "get", "youtube", "dQw4w9WgXcQ", "--artist", "Rick Astley", "--title", "Never Gonna Give You Up")
	require.NoError(t, err)
	m := regexp.MustCompile(`Queued single job (\S+)`).FindStringSubmatch(out)
	require.NotNil(t, m, out)
	id := m[1]

	out, err = run(t, db, "jobs", "list")
	require.NoError(t, err)
	assert.Contains(t, out, id)
	assert.Contains(t, out, "Rick Astley - Never Gonna Give You Up")

	out, err = run(t, db, "jobs", "show", id)
	require.NoError(t, err)
	assert.Contains(t, out, "Status: queued")

	_, err = run(t, db, "jobs", "retry", id)
	assert.ErrorIs(t, err, domain.ErrNotRetryable)

	_, err = run(t, db, "jobs", "show", "missing")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestCLI_WatchListEmpty(t *testing.T) {
	db := cliEnv(t)

	out, err := run(t, db, "watch", "list")
	require.NoError(t, err)
	assert.Equal(t, "No watched playlists\n", out)

	_, err = run(t, db, "watch", "add", "https://open.spotify.com/playlist/x")
	assert.Error(t, err)
}
