package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/cwygoda/musicgrabber/internal/domain"
	"github.com/cwygoda/musicgrabber/internal/library"
	"github.com/cwygoda/musicgrabber/internal/logging"
)

// ErrNoTracks is returned when an import has nothing to search for.
var ErrNoTracks = errors.New("no valid tracks found in input")

const (
	maxLineLength  = 200
	maxErrorLength = 200
	searchLimit    = 10
)

var (
	lineNumber  = regexp.MustCompile(`^\d+[.)]\s*`)
	lineBullet  = regexp.MustCompile(`^[•\-*]\s*`)
	musicGlyphs = regexp.MustCompile(`[♫♪🎵🎶]`)
	whitespace  = regexp.MustCompile(`\s+`)
	artistSong  = regexp.MustCompile(`^(.+?)\s*[-–—]\s*(.+)$`)
)

// CleanLine strips list numbering, bullets, music glyphs and extra
// whitespace from one line of pasted text. Comment lines become "".
func CleanLine(line string) string {
	line = strings.TrimSpace(line)
	if strings.HasPrefix(line, "#") {
		return ""
	}
	line = lineNumber.ReplaceAllString(line, "")
	line = lineBullet.ReplaceAllString(line, "")
	line = musicGlyphs.ReplaceAllString(line, "")
	line = whitespace.ReplaceAllString(line, " ")
	return strings.TrimSpace(line)
}

// ParseTracks turns pasted "Artist - Song" lines into track references.
// Lines that do not split into both parts are dropped.
func ParseTracks(text string) []domain.TrackRef {
	var tracks []domain.TrackRef
	for _, line := range strings.Split(text, "\n") {
		line = CleanLine(line)
		if line == "" || len(line) > maxLineLength {
			continue
		}
		m := artistSong.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		artist, song := strings.TrimSpace(m[1]), strings.TrimSpace(m[2])
		if artist == "" || song == "" {
			continue
		}
		tracks = append(tracks, domain.TrackRef{Artist: artist, Title: song})
	}
	return tracks
}

// Searcher ranks candidates across every source.
type Searcher interface {
	SearchAll(ctx context.Context, query string, limit int) []domain.SearchResult
}

// Jobs submits and reads download jobs.
type Jobs interface {
	Submit(ctx context.Context, req domain.NewJobRequest) (*domain.Job, error)
	Get(ctx context.Context, id string) (*domain.Job, error)
}

// ImportRequest describes a bulk import to start.
type ImportRequest struct {
	Tracks          []domain.TrackRef
	ConvertToFLAC   bool
	CreatePlaylist  bool
	PlaylistName    string
	UsePlaylistsDir bool
	WatchPlaylistID string
}

// BulkConfig wires a Bulk importer.
type BulkConfig struct {
	Imports  domain.ImportRepository
	Watch    domain.WatchRepository
	Jobs     Jobs
	Search   Searcher
	Layout   *library.Layout
	Notifier domain.Notifier
	Log      zerolog.Logger

	// SearchInterval paces searches across all running imports.
	SearchInterval time.Duration
	// PlaylistWait bounds how long an M3U waits for its downloads.
	PlaylistWait time.Duration
	PlaylistPoll time.Duration
}

// Bulk searches and queues imported tracks one at a time in the background.
type Bulk struct {
	cfg     BulkConfig
	log     zerolog.Logger
	limiter *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewBulk creates a Bulk importer. Close stops its background work.
func NewBulk(cfg BulkConfig) *Bulk {
	if cfg.SearchInterval <= 0 {
		cfg.SearchInterval = time.Second
	}
	if cfg.PlaylistWait <= 0 {
		cfg.PlaylistWait = time.Hour
	}
	if cfg.PlaylistPoll <= 0 {
		cfg.PlaylistPoll = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bulk{
		cfg:     cfg,
		log:     logging.Component(cfg.Log, "bulk"),
		limiter: rate.NewLimiter(rate.Every(cfg.SearchInterval), 1),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start persists the import and processes it in the background.
func (b *Bulk) Start(ctx context.Context, req ImportRequest) (*domain.BulkImport, error) {
	if len(req.Tracks) == 0 {
		return nil, ErrNoTracks
	}
	imp, err := b.cfg.Imports.CreateImport(ctx, domain.BulkImport{
		ConvertToFLAC:   req.ConvertToFLAC,
		CreatePlaylist:  req.CreatePlaylist,
		UsePlaylistsDir: req.UsePlaylistsDir,
		PlaylistName:    req.PlaylistName,
		WatchPlaylistID: req.WatchPlaylistID,
	}, req.Tracks)
	if err != nil {
		return nil, fmt.Errorf("create import: %w", err)
	}
	b.log.Info().Str("import_id", imp.ID).Int("tracks", imp.TotalTracks).Msg("bulk import started")

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.process(b.ctx, imp.ID)
	}()
	return imp, nil
}

// Wait blocks until every started import has finished.
func (b *Bulk) Wait() {
	b.wg.Wait()
}

// Close cancels running imports and waits for them to stop.
func (b *Bulk) Close() {
	b.cancel()
	b.wg.Wait()
}

func (b *Bulk) process(ctx context.Context, id string) {
	log := b.log.With().Str("import_id", id).Logger()
	imp, err := b.cfg.Imports.GetImport(ctx, id)
	if err != nil {
		log.Error().Err(err).Msg("load import")
		return
	}
	name := imp.PlaylistName
	if name == "" {
		name = "Bulk import " + id
	}

	defer func() {
		if r := recover(); r != nil {
			b.abort(ctx, log, id, name, fmt.Errorf("internal error: %v", r))
		}
	}()

	if err := b.cfg.Imports.SetImportStatus(ctx, id, domain.ImportProcessing, ""); err != nil {
		b.abort(ctx, log, id, name, err)
		return
	}

	for {
		track, err := b.cfg.Imports.NextPendingTrack(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			break
		}
		if err != nil {
			b.abort(ctx, log, id, name, err)
			return
		}
		if err := b.limiter.Wait(ctx); err != nil {
			log.Info().Msg("bulk import interrupted")
			return
		}
		if err := b.queueTrack(ctx, imp, *track); err != nil {
			b.abort(ctx, log, id, name, err)
			return
		}
	}

	if err := b.cfg.Imports.SetImportStatus(ctx, id, domain.ImportCompleted, ""); err != nil {
		log.Error().Err(err).Msg("complete import")
	}
	final, err := b.cfg.Imports.GetImport(ctx, id)
	if err != nil {
		log.Error().Err(err).Msg("reload import")
		return
	}
	status := string(domain.StatusCompleted)
	if final.Failed > 0 {
		status = string(domain.StatusCompletedWithErrors)
	}
	log.Info().Int("queued", final.Queued).Int("failed", final.Failed).Msg("bulk import finished")
	b.notify(ctx, domain.Notification{
		Type:         domain.NotifyBulk,
		Title:        name,
		Status:       status,
		TrackCount:   final.TotalTracks,
		FailedCount:  final.Failed,
		SkippedCount: final.Skipped,
	})

	if final.CreatePlaylist && final.Queued > 0 {
		if path, err := b.writePlaylist(ctx, final, name); err != nil {
			log.Warn().Err(err).Msg("bulk playlist not written")
		} else if path != "" {
			log.Info().Str("path", path).Msg("bulk playlist written")
		}
	}
}

// queueTrack searches one line and queues the best single-track match.
// Search and submit problems fail the track; only store errors are returned.
func (b *Bulk) queueTrack(ctx context.Context, imp *domain.BulkImport, t domain.BulkTrack) error {
	if err := b.cfg.Imports.SetTrackStatus(ctx, t.ID, domain.TrackSearching, ""); err != nil {
		return err
	}

	best, ok := pickBest(b.cfg.Search.SearchAll(ctx, t.Artist+" - "+t.Song, searchLimit))
	if !ok {
		return b.cfg.Imports.FailTrack(ctx, t, "No results found")
	}

	req := best.JobRequest(imp.ConvertToFLAC)
	req.Artist = t.Artist
	req.Title = t.Song
	if imp.CreatePlaylist && imp.UsePlaylistsDir {
		req.PlaylistName = imp.PlaylistName
	}
	job, err := b.cfg.Jobs.Submit(ctx, req)
	if err != nil {
		return b.cfg.Imports.FailTrack(ctx, t, truncate(err.Error(), maxErrorLength))
	}
	if err := b.cfg.Imports.QueueTrack(ctx, t, job.ID, best.SourceID); err != nil {
		return err
	}
	if imp.WatchPlaylistID != "" && b.cfg.Watch != nil {
		hash := library.HashTrack(t.Artist, t.Song)
		if err := b.cfg.Watch.LinkTrackJob(ctx, imp.WatchPlaylistID, hash, job.ID); err != nil {
			b.log.Warn().Err(err).Str("job_id", job.ID).Msg("link watched track")
		}
	}
	return nil
}

// pickBest returns the highest ranked result that is a single track.
func pickBest(results []domain.SearchResult) (domain.SearchResult, bool) {
	for _, r := range results {
		if !r.IsPlaylist {
			return r, true
		}
	}
	return domain.SearchResult{}, false
}

func (b *Bulk) abort(ctx context.Context, log zerolog.Logger, id, name string, cause error) {
	log.Error().Err(cause).Msg("bulk import failed")
	ctx = context.WithoutCancel(ctx)
	if err := b.cfg.Imports.SetImportStatus(ctx, id, domain.ImportError, truncate(cause.Error(), 500)); err != nil {
		log.Error().Err(err).Msg("record import failure")
	}
	b.notify(ctx, domain.Notification{
		Type:   domain.NotifyError,
		Title:  name,
		Status: string(domain.StatusFailed),
		Error:  cause.Error(),
	})
}

// writePlaylist waits for the import's jobs to settle and writes an M3U of
// the ones that completed cleanly.
func (b *Bulk) writePlaylist(ctx context.Context, imp *domain.BulkImport, name string) (string, error) {
	tracks, err := b.cfg.Imports.ImportTracks(ctx, imp.ID)
	if err != nil {
		return "", err
	}
	var ids []string
	for _, t := range tracks {
		if t.JobID != "" {
			ids = append(ids, t.JobID)
		}
	}

	jobs := b.waitForJobs(ctx, ids)
	var refs []library.TrackRef
	for _, j := range jobs {
		if j.Status == domain.StatusCompleted && j.Error == "" {
			refs = append(refs, library.TrackRef{Artist: j.Artist, Title: j.Title})
		}
	}
	if len(refs) == 0 {
		return "", nil
	}
	return b.cfg.Layout.BuildPlaylist(name, refs, imp.UsePlaylistsDir)
}

// waitForJobs polls until every job is terminal or PlaylistWait elapses,
// returning the last seen state of each job in order.
func (b *Bulk) waitForJobs(ctx context.Context, ids []string) []domain.Job {
	deadline := time.Now().Add(b.cfg.PlaylistWait)
	ticker := time.NewTicker(b.cfg.PlaylistPoll)
	defer ticker.Stop()

	for {
		jobs := make([]domain.Job, 0, len(ids))
		settled := true
		for _, id := range ids {
			j, err := b.cfg.Jobs.Get(ctx, id)
			if err != nil {
				continue
			}
			jobs = append(jobs, *j)
			if !j.Status.IsTerminal() {
				settled = false
			}
		}
		if settled || !time.Now().Before(deadline) {
			return jobs
		}
		select {
		case <-ctx.Done():
			return jobs
		case <-ticker.C:
		}
	}
}

func (b *Bulk) notify(ctx context.Context, n domain.Notification) {
	if b.cfg.Notifier != nil {
		b.cfg.Notifier.Notify(ctx, n)
	}
}

func truncate(s string, n int) string {
	if r := []rune(s); len(r) > n {
		return string(r[:n])
	}
	return s
}
