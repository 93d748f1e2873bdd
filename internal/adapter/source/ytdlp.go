// Package source holds the search and acquisition adapters for each audio backend.
package source

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/cwygoda/musicgrabber/internal/adapter/command"
	"github.com/cwygoda/musicgrabber/internal/backoff"
	"github.com/cwygoda/musicgrabber/internal/domain"
	"github.com/cwygoda/musicgrabber/internal/library"
)

const (
	TimeoutInfo     = 30 * time.Second
	TimeoutSearch   = 30 * time.Second
	TimeoutPlaylist = 60 * time.Second
	TimeoutDownload = 300 * time.Second
)

// Entry is one JSON line of yt-dlp --dump-json output.
type Entry struct {
	ID            string  `json:"id"`
	Title         string  `json:"title"`
	Channel       string  `json:"channel"`
	Uploader      string  `json:"uploader"`
	Type          string  `json:"_type"`
	IEKey         string  `json:"ie_key"`
	Duration      float64 `json:"duration"`
	ViewCount     int64   `json:"view_count"`
	Thumbnail     string  `json:"thumbnail"`
	WebpageURL    string  `json:"webpage_url"`
	URL           string  `json:"url"`
	PlaylistTitle string  `json:"playlist_title"`
	PlaylistCount int     `json:"playlist_count"`
	NEntries      int     `json:"n_entries"`
	ACodec        string  `json:"acodec"`
	ABR           float64 `json:"abr"`
}

// IsPlaylist reports whether the entry is a playlist rather than a video.
func (e Entry) IsPlaylist() bool {
	return e.Type == "playlist" || strings.Contains(strings.ToLower(e.IEKey), "playlist")
}

// ChannelName returns the channel, or the uploader when preferUploader is set
// or the channel is missing.
func (e Entry) ChannelName(preferUploader bool) string {
	first, second := e.Channel, e.Uploader
	if preferUploader {
		first, second = second, first
	}
	switch {
	case first != "":
		return first
	case second != "":
		return second
	}
	return "Unknown"
}

// Link returns the page URL for the entry.
func (e Entry) Link() string {
	if e.WebpageURL != "" {
		return e.WebpageURL
	}
	return e.URL
}

var codecLabels = map[string]string{
	"mp3": "MP3", "aac": "AAC", "opus": "OPUS", "vorbis": "VORBIS",
	"flac": "FLAC", "alac": "ALAC", "pcm_s16le": "WAV", "pcm_s24le": "WAV",
	"mp4a.40.2": "AAC", "mp4a.40.5": "AAC",
}

// SourceFormat returns the codec label and bitrate yt-dlp selected before any
// post-processing conversion.
func (e Entry) SourceFormat() (string, int) {
	codec := strings.ToLower(strings.TrimSpace(e.ACodec))
	label, ok := codecLabels[codec]
	if !ok {
		label = strings.ToUpper(codec)
	}
	return label, int(e.ABR)
}

// ParseEntries decodes JSON lines, skipping lines that do not parse.
func ParseEntries(out []byte) []Entry {
	var entries []Entry
	sc := bufio.NewScanner(bytes.NewReader(out))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var e Entry
		if json.Unmarshal(line, &e) == nil {
			entries = append(entries, e)
		}
	}
	return entries
}

// YTDLP drives the yt-dlp binary for YouTube and SoundCloud.
type YTDLP struct {
	bin         string
	cookiesPath string
	runner      command.Runner
	settings    domain.Settings
	ctrl        *backoff.Controller
	log         zerolog.Logger
}

// NewYTDLP creates a yt-dlp driver. cookiesPath is where stored cookies are
// mirrored for --cookies.
func NewYTDLP(bin, cookiesPath string, runner command.Runner, settings domain.Settings, ctrl *backoff.Controller, log zerolog.Logger) *YTDLP {
	if bin == "" {
		bin = "yt-dlp"
	}
	return &YTDLP{bin: bin, cookiesPath: cookiesPath, runner: runner, settings: settings, ctrl: ctrl, log: log}
}

// HasCookies reports whether a usable cookie file is on disk.
func (y *YTDLP) HasCookies() bool {
	return backoff.CookieFileUsable(y.cookiesPath)
}

// SyncCookies mirrors the youtube_cookies setting to the cookie file.
func (y *YTDLP) SyncCookies() error {
	return backoff.SyncCookieFile(y.cookiesPath, y.settings.String("youtube_cookies", ""))
}

// SettingWriter persists one runtime setting.
type SettingWriter interface {
	Set(ctx context.Context, key, value string) error
}

// ClearExpiredCookies drops stored cookies once every auth cookie has expired.
func (y *YTDLP) ClearExpiredCookies(ctx context.Context, w SettingWriter, now time.Time) (bool, error) {
	text := y.settings.String("youtube_cookies", "")
	if strings.TrimSpace(text) == "" || !backoff.CookiesExpired(text, now) {
		return false, nil
	}
	y.log.Info().Msg("youtube cookies have expired, clearing")
	if err := w.Set(ctx, "youtube_cookies", ""); err != nil {
		return false, err
	}
	return true, y.SyncCookies()
}

// baseArgs returns cookie and player-client arguments for YouTube calls.
func (y *YTDLP) baseArgs(youtube, useAuth bool) []string {
	if !youtube {
		return nil
	}
	var args []string
	if useAuth && y.ctrl.AuthAllowed() && y.HasCookies() {
		args = append(args, "--cookies", y.cookiesPath)
	}
	if pc := y.settings.String("ytdlp_player_client", ""); pc != "" {
		args = append(args, "--extractor-args", "youtube:player_client="+pc)
	}
	return args
}

func (y *YTDLP) run(ctx context.Context, args []string, dir string, timeout time.Duration) (command.Result, error) {
	return y.runner.Run(ctx, command.Cmd{Name: y.bin, Args: args, Dir: dir, Timeout: timeout})
}

// Dump runs --dump-json against target. flat lists playlist entries without
// resolving each video.
func (y *YTDLP) Dump(ctx context.Context, target string, youtube, flat bool, timeout time.Duration) ([]Entry, error) {
	args := y.baseArgs(youtube, true)
	args = append(args, "--dump-json")
	if flat {
		args = append(args, "--flat-playlist")
	} else {
		args = append(args, "--no-playlist")
	}
	args = append(args, "--no-warnings", target)

	res, err := y.run(ctx, args, "", timeout)
	if err != nil {
		return nil, err
	}
	return ParseEntries(res.Stdout), nil
}

// Info resolves metadata for one video or track URL.
func (y *YTDLP) Info(ctx context.Context, target string, youtube bool) (*Entry, error) {
	entries, err := y.Dump(ctx, target, youtube, false, TimeoutInfo)
	if err != nil {
		if youtube && backoff.IsForbidden(err.Error()) {
			hasCookies := y.HasCookies()
			if hasCookies {
				y.ctrl.NoteAuthFailure()
			}
			return nil, blockedError(hasCookies, "request")
		}
		return nil, errors.Wrap(err, "failed to get video info")
	}
	if len(entries) == 0 {
		return nil, errors.New("failed to get video info")
	}
	return &entries[0], nil
}

func blockedError(hasCookies bool, what string) error {
	hint := "Add browser cookies in Settings to authenticate."
	if hasCookies {
		hint = "Your cookies may have expired, try re-exporting them in Settings."
	}
	return errors.Errorf("YouTube blocked this %s (403). %s", what, hint)
}

// DownloadRequest describes one audio extraction.
type DownloadRequest struct {
	URL     string
	Dir     string
	Stem    string
	Format  string
	YouTube bool
	JobID   string
}

func (y *YTDLP) downloadArgs(req DownloadRequest, outTemplate string, useAuth bool) []string {
	args := y.baseArgs(req.YouTube, useAuth)
	args = append(args, "-f", "bestaudio/best", "-x")
	if req.Format != "" {
		args = append(args, "--audio-format", req.Format)
	}
	args = append(args,
		"--audio-quality", "0",
		"--embed-metadata",
		"--embed-thumbnail",
		"--convert-thumbnails", "jpg",
		"--ppa", `ffmpeg:-c:v mjpeg -vf crop="'if(gt(ih,iw),iw,ih)':'if(gt(iw,ih),ih,iw)'"`,
		"--add-metadata",
		"--parse-metadata", "%(artist,channel,uploader)s:%(meta_artist)s",
		"--parse-metadata", "%(track,title)s:%(meta_title)s",
		"-o", outTemplate,
		"--no-warnings",
		req.URL,
	)
	return args
}

// Download extracts audio into an isolated temp dir, honouring the backoff
// controller, then moves the result into req.Dir without overwriting.
func (y *YTDLP) Download(ctx context.Context, req DownloadRequest) (string, error) {
	log := y.log.With().Str("job_id", req.JobID).Logger()
	hasAuth := req.YouTube && y.HasCookies()

	_, err := command.Isolated(ctx, log, "job-"+req.JobID, req.Dir, func(ctx context.Context, tempDir string) error {
		out := filepath.Join(tempDir, req.Stem+".%(ext)s")
		attempt := func(ctx context.Context, useAuth bool) error {
			_, err := y.run(ctx, y.downloadArgs(req, out, useAuth), tempDir, TimeoutDownload)
			return err
		}

		err := y.ctrl.Run(ctx, hasAuth, attempt)
		if err != nil && !backoff.IsTimeout(err) && backoff.IsPermissionRace(err.Error()) {
			if n := library.CleanupTemp(log, tempDir, req.Stem); n > 0 {
				log.Info().Int("removed", n).Msg("retrying after cleaning temp files")
				err = y.ctrl.Run(ctx, hasAuth, attempt)
			}
		}
		switch {
		case err == nil:
			return nil
		case backoff.IsTimeout(err):
			return errors.New("Download timed out (no progress)")
		case req.YouTube && backoff.IsForbidden(err.Error()):
			return blockedError(hasAuth, "download")
		}
		return errors.Wrap(err, "Download failed")
	})
	if err != nil {
		return "", err
	}
	return library.FindAudio(req.Dir, req.Stem)
}
