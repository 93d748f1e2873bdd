package source

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwygoda/musicgrabber/internal/adapter/command"
	"github.com/cwygoda/musicgrabber/internal/backoff"
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

func (m mapSettings) Int(key string, def int) int { return def }

// fakeRunner records commands and answers them with fn.
type fakeRunner struct {
	mu   sync.Mutex
	cmds []command.Cmd
	fn   func(c command.Cmd) (command.Result, error)
}

func (f *fakeRunner) Run(ctx context.Context, c command.Cmd) (command.Result, error) {
	f.mu.Lock()
	f.cmds = append(f.cmds, c)
	f.mu.Unlock()
	if f.fn == nil {
		return command.Result{}, nil
	}
	return f.fn(c)
}

func (f *fakeRunner) last() command.Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cmds[len(f.cmds)-1]
}

func newTestYTDLP(t *testing.T, runner command.Runner, settings mapSettings) *YTDLP {
	t.Helper()
	ctrl := backoff.NewController(backoff.NewState(), settings, zerolog.Nop(),
		backoff.WithSleep(func(context.Context, time.Duration) error { return nil }))
	return NewYTDLP("yt-dlp", filepath.Join(t.TempDir(), "cookies.txt"), runner, settings, ctrl, zerolog.Nop())
}

func jsonLines(lines ...string) []byte {
	return []byte(strings.Join(lines, "\n") + "\n")
}

func TestParseEntries(t *testing.T) {
	out := jsonLines(
		`{"id":"a","title":"One","channel":"Chan"}`,
		`not json`,
		``,
		`{"id":"b","title":"Two","_type":"playlist","playlist_count":4}`,
	)
	entries := ParseEntries(out)
	require.Len(t, entries, 2)
	assert.Equal(t, "a", entries[0].ID)
	assert.True(t, entries[1].IsPlaylist())
}

func TestEntry_ChannelName(t *testing.T) {
	e := Entry{Channel: "Chan", Uploader: "Up"}
	assert.Equal(t, "Chan", e.ChannelName(false))
	assert.Equal(t, "Up", e.ChannelName(true))
	assert.Equal(t, "Chan", Entry{Channel: "Chan"}.ChannelName(true))
	assert.Equal(t, "Unknown", Entry{}.ChannelName(false))
}

func TestEntry_SourceFormat(t *testing.T) {
	label, abr := Entry{ACodec: "opus", ABR: 160.4}.SourceFormat()
	assert.Equal(t, "OPUS", label)
	assert.Equal(t, 160, abr)

	label, _ = Entry{ACodec: "mp4a.40.2"}.SourceFormat()
	assert.Equal(t, "AAC", label)
}

func TestYouTube_Search(t *testing.T) {
	runner := &fakeRunner{fn: func(c command.Cmd) (command.Result, error) {
		return command.Result{Stdout: jsonLines(
			`{"id":"v1","title":"Artist - Song (Live)","channel":"Someone","duration":240,"view_count":1000}`,
			`{"id":"v2","title":"Artist - Song","channel":"Artist - Topic","duration":210,"view_count":5000000}`,
			`{"id":"PL1","title":"Artist Mix","_type":"url","ie_key":"YoutubePlaylist","playlist_count":12}`,
		)}, nil
	}}
	yt := NewYouTube(newTestYTDLP(t, runner, mapSettings{}), zerolog.Nop())

	results := yt.Search(context.Background(), "Artist - Song", 2)
	require.Len(t, results, 2)
	assert.Equal(t, "v2", results[0].SourceID, "official upload ranks first")
	assert.GreaterOrEqual(t, results[0].QualityScore, results[1].QualityScore)

	cmd := runner.last()
	assert.Contains(t, cmd.Args, "ytsearch30:Artist - Song")
	assert.Contains(t, cmd.Args, "--flat-playlist")
	assert.Equal(t, TimeoutSearch, cmd.Timeout)
}

func TestYouTube_SearchFailureIsEmpty(t *testing.T) {
	runner := &fakeRunner{fn: func(c command.Cmd) (command.Result, error) {
		return command.Result{}, &command.ExitError{Name: "yt-dlp", Stderr: "boom"}
	}}
	yt := NewYouTube(newTestYTDLP(t, runner, mapSettings{}), zerolog.Nop())
	assert.Empty(t, yt.Search(context.Background(), "anything", 5))
}

func TestYouTubeResults_Playlist(t *testing.T) {
	results := youtubeResults([]Entry{{ID: "PL1", Title: "Mix", Type: "playlist", NEntries: 7}}, "mix")
	require.Len(t, results, 1)
	assert.True(t, results[0].IsPlaylist)
	assert.Equal(t, 7, results[0].VideoCount)
	assert.Zero(t, results[0].Duration)
	assert.Equal(t, "https://i.ytimg.com/vi/PL1/mqdefault.jpg", results[0].Thumbnail)
}

func TestSoundCloud_Search(t *testing.T) {
	runner := &fakeRunner{fn: func(c command.Cmd) (command.Result, error) {
		return command.Result{Stdout: jsonLines(
			`{"id":"1","title":"Song","uploader":"dj","channel":"ignored","webpage_url":"https://soundcloud.com/dj/song","duration":200}`,
			`{"id":"2","title":"Set","_type":"playlist"}`,
		)}, nil
	}}
	sc := NewSoundCloud(newTestYTDLP(t, runner, mapSettings{}), zerolog.Nop())

	results := sc.Search(context.Background(), "song", 5)
	require.Len(t, results, 1)
	assert.Equal(t, "dj", results[0].Channel)
	assert.Equal(t, "https://soundcloud.com/dj/song", results[0].SourceURL)
	assert.Equal(t, domain.SourceSoundCloud, results[0].Source)
	assert.Contains(t, runner.last().Args, "scsearch15:song")
	assert.NotContains(t, runner.last().Args, "--cookies", "cookies are only sent to YouTube")
}

func TestYTDLP_Download(t *testing.T) {
	dest := t.TempDir()
	runner := &fakeRunner{fn: func(c command.Cmd) (command.Result, error) {
		return command.Result{}, os.WriteFile(filepath.Join(c.Dir, "Artist - Song.flac"), []byte("audio"), 0o644)
	}}
	yt := newTestYTDLP(t, runner, mapSettings{"ytdlp_player_client": "web"})

	path, err := yt.Download(context.Background(), DownloadRequest{
		URL: WatchURL("abc"), Dir: dest, Stem: "Artist - Song", Format: "flac", YouTube: true, JobID: "j1",
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dest, "Artist - Song.flac"), path)

	args := runner.last().Args
	assert.Contains(t, args, "--audio-format")
	assert.Contains(t, args, "youtube:player_client=web")
	assert.NotContains(t, args, "--cookies")
	assert.Equal(t, WatchURL("abc"), args[len(args)-1])
}

func TestYTDLP_DownloadForbidden(t *testing.T) {
	runner := &fakeRunner{fn: func(c command.Cmd) (command.Result, error) {
		return command.Result{}, &command.ExitError{Name: "yt-dlp", Stderr: "ERROR: HTTP Error 403: Forbidden"}
	}}
	yt := newTestYTDLP(t, runner, mapSettings{})

	_, err := yt.Download(context.Background(), DownloadRequest{URL: WatchURL("abc"), Dir: t.TempDir(), Stem: "x", YouTube: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "YouTube blocked this download (403)")
	assert.Len(t, runner.cmds, 3, "forbidden responses are retried twice")
}

func TestYTDLP_ClearExpiredCookies(t *testing.T) {
	expired := "# Netscape HTTP Cookie File\n.youtube.com\tTRUE\t/\tTRUE\t1000\tSID\tabc\n"
	settings := mapSettings{"youtube_cookies": expired}
	yt := newTestYTDLP(t, &fakeRunner{}, settings)

	w := &recordingWriter{}
	cleared, err := yt.ClearExpiredCookies(context.Background(), w, time.Unix(2000, 0))
	require.NoError(t, err)
	assert.True(t, cleared)
	assert.Equal(t, map[string]string{"youtube_cookies": ""}, w.set)
}

type recordingWriter struct {
	set map[string]string
}

func (w *recordingWriter) Set(ctx context.Context, key, value string) error {
	if w.set == nil {
		w.set = map[string]string{}
	}
	w.set[key] = value
	return nil
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	yt := NewYouTube(nil, zerolog.Nop())
	sl := NewSlskd(mapSettings{}, zerolog.Nop())
	r.Register(yt)
	r.Register(sl)

	assert.Len(t, r.Searchers(), 1, "unconfigured soulseek is hidden")
	assert.Nil(t, r.Get(domain.SourceSoulseek))
	assert.Equal(t, yt, r.Get(domain.SourceYouTube))
	assert.Nil(t, r.Get(domain.SourceMonochrome))

	sl.settings = mapSettings{"slskd_url": "http://slskd", "slskd_user": "u", "slskd_pass": "p"}
	assert.Len(t, r.Searchers(), 2)
}
