package source

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/cwygoda/musicgrabber/internal/adapter/webapi"
	"github.com/cwygoda/musicgrabber/internal/backoff"
	"github.com/cwygoda/musicgrabber/internal/domain"
	"github.com/cwygoda/musicgrabber/internal/library"
	"github.com/cwygoda/musicgrabber/internal/scoring"
)

// ErrNotConfigured is returned when slskd URL or credentials are missing.
var ErrNotConfigured = errors.New("slskd is not configured")

const (
	slskdMaxResults = 20
	slskdMinQuality = 50
	slskdAPITimeout = 30 * time.Second
	fastUploader    = 1_000_000
)

var defaultSlskdDirs = []string{"/slskd/downloads", "/app/downloads", "/downloads"}

// Slskd is the Soulseek adapter, speaking to an slskd daemon's REST API.
type Slskd struct {
	client   *webapi.Client
	settings domain.Settings
	log      zerolog.Logger

	mu      sync.Mutex
	token   string
	expires time.Time

	now             func() time.Time
	sleep           func(ctx context.Context, d time.Duration) error
	searchTimeout   time.Duration
	pollEvery       time.Duration
	transferEvery   time.Duration
	downloadTimeout time.Duration
	fallbackDirs    []string
}

// NewSlskd creates the Soulseek adapter.
func NewSlskd(settings domain.Settings, log zerolog.Logger) *Slskd {
	return &Slskd{
		client:          webapi.New(slskdAPITimeout),
		settings:        settings,
		log:             log,
		now:             time.Now,
		sleep:           sleepCtx,
		searchTimeout:   12 * time.Second,
		pollEvery:       time.Second,
		transferEvery:   5 * time.Second,
		downloadTimeout: 10 * time.Minute,
		fallbackDirs:    defaultSlskdDirs,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (s *Slskd) Name() domain.Source { return domain.SourceSoulseek }

// Enabled reports whether URL, user and password are all configured.
func (s *Slskd) Enabled() bool {
	return s.base() != "" && s.settings.String("slskd_user", "") != "" && s.settings.String("slskd_pass", "") != ""
}

func (s *Slskd) base() string {
	return strings.TrimRight(s.settings.String("slskd_url", ""), "/")
}

// session returns a bearer token, refreshing it within 60s of expiry.
func (s *Slskd) session(ctx context.Context) (string, error) {
	if !s.Enabled() {
		return "", ErrNotConfigured
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token != "" && s.now().Before(s.expires.Add(-60*time.Second)) {
		return s.token, nil
	}

	var resp struct {
		Token   string `json:"token"`
		Expires int64  `json:"expires"`
	}
	err := s.client.Do(ctx, webapi.Request{
		Method: http.MethodPost,
		URL:    s.base() + "/api/v0/session",
		Body: map[string]string{
			"username": s.settings.String("slskd_user", ""),
			"password": s.settings.String("slskd_pass", ""),
		},
	}, &resp)
	if err != nil {
		return "", errors.Wrap(err, "slskd authentication failed")
	}
	s.token, s.expires = resp.Token, time.Unix(resp.Expires, 0)
	return s.token, nil
}

func (s *Slskd) call(ctx context.Context, method, p string, body, out any) error {
	token, err := s.session(ctx)
	if err != nil {
		return err
	}
	return s.client.Do(ctx, webapi.Request{
		Method:  method,
		URL:     s.base() + "/api/v0" + p,
		Headers: map[string]string{"Authorization": "Bearer " + token},
		Body:    body,
	}, out)
}

type peerFile struct {
	Filename   string `json:"filename"`
	Size       int64  `json:"size"`
	BitDepth   int    `json:"bitDepth"`
	SampleRate int    `json:"sampleRate"`
	BitRate    int    `json:"bitRate"`
	Length     int    `json:"length"`
	IsLocked   bool   `json:"isLocked"`
}

type peerResponse struct {
	Username          string     `json:"username"`
	HasFreeUploadSlot bool       `json:"hasFreeUploadSlot"`
	UploadSpeed       int64      `json:"uploadSpeed"`
	Files             []peerFile `json:"files"`
}

func (s *Slskd) Search(ctx context.Context, query string, limit int) []domain.SearchResult {
	results, err := s.search(ctx, query)
	if err != nil {
		if !errors.Is(err, ErrNotConfigured) {
			s.log.Warn().Err(err).Str("query", query).Msg("slskd search failed")
		}
		return nil
	}
	if limit <= 0 || limit > slskdMaxResults {
		limit = slskdMaxResults
	}
	return rank(results, limit)
}

func (s *Slskd) search(ctx context.Context, query string) ([]domain.SearchResult, error) {
	var started struct {
		ID string `json:"id"`
	}
	if err := s.call(ctx, http.MethodPost, "/searches", map[string]string{"searchText": query}, &started); err != nil {
		return nil, errors.Wrap(err, "start search")
	}
	id := url.PathEscape(started.ID)
	defer func() {
		// The search is deleted even when the caller's context is gone.
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = s.call(cctx, http.MethodDelete, "/searches/"+id, nil, nil)
	}()

	deadline := s.now().Add(s.searchTimeout)
	for s.now().Before(deadline) {
		if err := s.sleep(ctx, s.pollEvery); err != nil {
			return nil, err
		}
		var status struct {
			IsComplete    bool `json:"isComplete"`
			FileCount     int  `json:"fileCount"`
			ResponseCount int  `json:"responseCount"`
		}
		if err := s.call(ctx, http.MethodGet, "/searches/"+id, nil, &status); err != nil {
			continue
		}
		if status.IsComplete {
			s.log.Debug().Int("files", status.FileCount).Int("responses", status.ResponseCount).Msg("slskd search complete")
			break
		}
	}

	if err := s.sleep(ctx, s.pollEvery); err != nil {
		return nil, err
	}
	var responses []peerResponse
	respDeadline := s.now().Add(min(5*time.Second, s.searchTimeout))
	for {
		if err := s.call(ctx, http.MethodGet, "/searches/"+id+"/responses", nil, &responses); err == nil && len(responses) > 0 {
			break
		}
		if !s.now().Before(respDeadline) {
			break
		}
		if err := s.sleep(ctx, s.pollEvery/2); err != nil {
			return nil, err
		}
	}
	return s.collect(responses), nil
}

func (s *Slskd) collect(responses []peerResponse) []domain.SearchResult {
	requireSlot := s.settings.Bool("slskd_require_free_slot", true)
	seen := make(map[string]bool)
	var results []domain.SearchResult
	var locked, lowQuality, noSlot int

	for _, resp := range responses {
		if requireSlot && !resp.HasFreeUploadSlot {
			noSlot++
			continue
		}
		for _, f := range resp.Files {
			if f.IsLocked {
				locked++
				continue
			}
			label, score := scoring.PeerQuality(scoring.PeerFile{
				Filename:   f.Filename,
				BitDepth:   f.BitDepth,
				SampleRate: f.SampleRate,
				BitRate:    f.BitRate,
			})
			if score < slskdMinQuality {
				lowQuality++
				continue
			}
			artist, title := ExtractTrackInfo(f.Filename)
			key := strings.ToLower(artist) + "|" + strings.ToLower(title) + "|" + label
			if seen[key] {
				continue
			}
			seen[key] = true

			if resp.HasFreeUploadSlot {
				score += 10
			}
			if resp.UploadSpeed > fastUploader {
				score += 5
			}
			results = append(results, domain.SearchResult{
				SourceID:     "slskd_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8],
				Title:        title,
				Artist:       artist,
				Channel:      resp.Username,
				Duration:     f.Length,
				Source:       domain.SourceSoulseek,
				QualityTier:  label,
				QualityScore: score,
				PeerUsername: resp.Username,
				PeerFilename: f.Filename,
				Size:         f.Size,
			})
		}
	}
	s.log.Debug().
		Int("locked", locked).
		Int("low_quality", lowQuality).
		Int("no_slot", noSlot).
		Int("kept", len(results)).
		Msg("slskd results filtered")
	return results
}

var (
	extPattern      = regexp.MustCompile(`\.[^.]+$`)
	trackNumPrefix  = regexp.MustCompile(`^\d+[\s.\-]+`)
	yearAlbumFolder = regexp.MustCompile(`^\[\d{4}\]`)
	cdFolder        = regexp.MustCompile(`^cd\d*$`)
	skipFolders     = map[string]bool{
		"music": true, "main": true, "albums": true, "singles": true,
		"anthologies": true, "instrumental": true, "@@*": true,
	}
)

// NormalizePeerPath converts a peer path to forward slashes.
func NormalizePeerPath(p string) string {
	return strings.TrimSpace(strings.ReplaceAll(p, `\`, "/"))
}

// ExtractTrackInfo infers artist and title from a peer path such as
// `@@share\Music\Artist\[1999] Album\03 - Title.flac`.
func ExtractTrackInfo(filePath string) (artist, title string) {
	parts := strings.Split(NormalizePeerPath(filePath), "/")
	name := parts[len(parts)-1]
	name = extPattern.ReplaceAllString(name, "")
	title = trackNumPrefix.ReplaceAllString(name, "")

	artist = "Unknown"
	for i, part := range parts[:len(parts)-1] {
		lower := strings.ToLower(part)
		if skipFolders[lower] || strings.HasPrefix(part, "@@") ||
			yearAlbumFolder.MatchString(part) || cdFolder.MatchString(lower) {
			continue
		}
		if i > 0 && part != "" && !strings.HasPrefix(part, "[") {
			artist = part
			break
		}
	}
	return artist, title
}

type transfer struct {
	Filename        string  `json:"filename"`
	State           string  `json:"state"`
	PercentComplete float64 `json:"percentComplete"`

	LocalPath          string `json:"localPath"`
	LocalFilename      string `json:"localFilename"`
	DownloadedFilePath string `json:"downloadedFilePath"`
	DownloadPath       string `json:"downloadPath"`
	Path               string `json:"path"`
	FullPath           string `json:"fullPath"`
}

func (t transfer) localPath() string {
	for _, v := range []string{t.LocalPath, t.LocalFilename, t.DownloadedFilePath, t.DownloadPath, t.Path, t.FullPath} {
		if v != "" {
			return v
		}
	}
	return ""
}

// Download enqueues filename from username, waits for the transfer and
// copies the finished file into destDir.
func (s *Slskd) Download(ctx context.Context, username, filename, destDir string) (string, error) {
	if _, err := s.session(ctx); err != nil {
		return "", err
	}
	user := url.PathEscape(username)
	enqueue := func() error {
		return s.call(ctx, http.MethodPost, "/transfers/downloads/"+user, []map[string]string{{"filename": filename}}, nil)
	}
	if err := enqueue(); err != nil {
		return "", errors.Wrap(err, "failed to enqueue download")
	}

	target := NormalizePeerPath(filename)
	base := path.Base(target)
	log := s.log.With().Str("peer", username).Str("file", base).Logger()
	log.Info().Msg("slskd download enqueued")

	var policy backoff.PeerPolicy
	var done *transfer
	lastState := ""
	deadline := s.now().Add(s.downloadTimeout)

	for done == nil && s.now().Before(deadline) {
		if err := s.sleep(ctx, s.transferEvery); err != nil {
			return "", err
		}
		var raw json.RawMessage
		if err := s.call(ctx, http.MethodGet, "/transfers/downloads/"+user, nil, &raw); err != nil {
			continue
		}
		found := matchTransfer(parseTransfers(raw), target, base)

		state := ""
		if found != nil {
			state = found.State
			if state != lastState {
				log.Debug().Str("state", state).Float64("percent", found.PercentComplete).Msg("transfer state")
				lastState = state
			}
		}
		switch policy.Observe(state, found != nil) {
		case backoff.PeerDone:
			done = found
		case backoff.PeerFail:
			if strings.Contains(strings.ToLower(state), "aborted") {
				return "", errors.Errorf("Download aborted %d times, giving up", policy.Aborts())
			}
			return "", errors.Errorf("Download failed: %s", state)
		case backoff.PeerRequeue:
			log.Info().Str("state", state).Msg("re-queuing transfer")
			if found != nil {
				if err := s.sleep(ctx, 2*time.Second); err != nil {
					return "", err
				}
			}
			if err := enqueue(); err != nil {
				log.Warn().Err(err).Msg("re-queue failed")
			}
			lastState = ""
		}
	}
	if done == nil {
		return "", errors.Errorf("Download timed out after %s", s.downloadTimeout)
	}
	return s.collectFile(log, username, done.localPath(), base, destDir)
}

type transferDir struct {
	Files []transfer `json:"files"`
}

type transferUser struct {
	Directories []transferDir `json:"directories"`
}

// parseTransfers flattens the transfer listing, which is either one user
// object, a list of user objects or a plain list of files.
func parseTransfers(raw json.RawMessage) []transfer {
	var user transferUser
	if err := json.Unmarshal(raw, &user); err == nil {
		return user.files()
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	var out []transfer
	for _, item := range items {
		var probe struct {
			Directories []transferDir `json:"directories"`
			Filename    string        `json:"filename"`
		}
		if json.Unmarshal(item, &probe) != nil {
			continue
		}
		if probe.Filename != "" {
			var t transfer
			if json.Unmarshal(item, &t) == nil {
				out = append(out, t)
			}
			continue
		}
		out = append(out, transferUser{Directories: probe.Directories}.files()...)
	}
	return out
}

func (u transferUser) files() []transfer {
	var out []transfer
	for _, d := range u.Directories {
		out = append(out, d.Files...)
	}
	return out
}

func matchTransfer(files []transfer, target, base string) *transfer {
	for i := range files {
		n := NormalizePeerPath(files[i].Filename)
		if n == target || path.Base(n) == base || strings.HasSuffix(n, "/"+base) {
			return &files[i]
		}
	}
	return nil
}

// downloadDirs lists the directories slskd may have written to, configured first.
func (s *Slskd) downloadDirs() []string {
	var dirs []string
	seen := make(map[string]bool)
	if p := s.settings.String("slskd_downloads_path", ""); p != "" {
		dirs = append(dirs, filepath.Clean(p))
		seen[filepath.Clean(p)] = true
	}
	for _, d := range s.fallbackDirs {
		if !seen[d] {
			dirs = append(dirs, d)
			seen[d] = true
		}
	}
	return dirs
}

// within reports whether p resolves inside one of dirs.
func within(p string, dirs []string) bool {
	abs, err := filepath.Abs(p)
	if err != nil {
		return false
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	for _, d := range dirs {
		root, err := filepath.Abs(d)
		if err != nil {
			continue
		}
		if r, err := filepath.EvalSymlinks(root); err == nil {
			root = r
		}
		if _, ok := library.Rel(root, abs); ok {
			return true
		}
	}
	return false
}

func (s *Slskd) collectFile(log zerolog.Logger, username, reported, base, destDir string) (string, error) {
	dirs := s.downloadDirs()

	var candidates []string
	if reported != "" {
		p := filepath.FromSlash(NormalizePeerPath(reported))
		if filepath.IsAbs(p) {
			if within(p, dirs) {
				candidates = append(candidates, p)
			} else {
				log.Warn().Str("path", p).Msg("ignoring absolute path outside download dirs")
			}
		} else {
			for _, d := range dirs {
				candidates = append(candidates, filepath.Join(d, p), filepath.Join(d, username, p))
			}
		}
	}
	for _, d := range dirs {
		candidates = append(candidates, filepath.Join(d, username, base))
	}

	copyOut := func(src string) (string, error) {
		if err := os.MkdirAll(destDir, 0o755); err != nil {
			return "", errors.Wrap(err, "create destination")
		}
		dst := filepath.Join(destDir, base)
		if err := library.CopyFile(src, dst); err != nil {
			return "", err
		}
		log.Info().Str("from", src).Str("to", dst).Msg("copied slskd download")
		return dst, nil
	}

	for _, c := range candidates {
		if !within(c, dirs) {
			continue
		}
		if st, err := os.Stat(c); err == nil && st.Mode().IsRegular() {
			return copyOut(c)
		}
	}

	for _, d := range dirs {
		var hit string
		filepath.WalkDir(filepath.Join(d, username), func(p string, e os.DirEntry, err error) error {
			if err != nil || hit != "" {
				return nil
			}
			if !e.IsDir() && e.Name() == base && within(p, dirs) {
				hit = p
				return filepath.SkipAll
			}
			return nil
		})
		if hit != "" {
			return copyOut(hit)
		}
	}
	return "", errors.New("downloaded file not found at expected location, check that the slskd downloads path is mounted")
}
