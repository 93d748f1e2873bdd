// Package pipeline drives a claimed job from metadata resolution to a
// tagged file in the library.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/cwygoda/musicgrabber/internal/catalog"
	"github.com/cwygoda/musicgrabber/internal/domain"
	"github.com/cwygoda/musicgrabber/internal/library"
	"github.com/cwygoda/musicgrabber/internal/logging"
	"github.com/cwygoda/musicgrabber/internal/media"
	"github.com/cwygoda/musicgrabber/internal/metrics"
)

// Media is the audio tooling the pipeline needs.
type Media interface {
	Probe(ctx context.Context, path string, src *media.SourceFormat) (media.Quality, error)
	Convert(ctx context.Context, src, dst, format string) error
	WriteTags(ctx context.Context, path string, tags media.Tags) error
}

// Enricher looks up canonical metadata and lyrics.
type Enricher interface {
	Enrich(ctx context.Context, in catalog.Input) (catalog.Metadata, bool)
	Year(ctx context.Context, artist, title string) string
	Lyrics(ctx context.Context, artist, title string) (string, bool)
}

// Scanner asks media servers to pick up new files.
type Scanner interface {
	Scan(ctx context.Context)
}

// DownloadTracker marks watched-playlist tracks fetched by a job as downloaded.
type DownloadTracker interface {
	MarkJobDownloaded(ctx context.Context, jobID string) error
}

// Config wires the pipeline's collaborators. Tracker, Enricher, Scanner,
// Notifier and Metrics are optional.
type Config struct {
	Jobs     domain.JobRepository
	Tracker  DownloadTracker
	Settings domain.Settings
	Layout   *library.Layout
	Media    Media
	Enricher Enricher
	Scanner  Scanner
	Notifier domain.Notifier
	Metrics  *metrics.Metrics
	Log      zerolog.Logger

	// Heartbeat is how often a running job refreshes its updated_at so the
	// stale sweep leaves it alone. Defaults to DefaultHeartbeat.
	Heartbeat time.Duration
}

// DefaultHeartbeat stays well under the stale sweep's cutoff.
const DefaultHeartbeat = time.Minute

// Pipeline processes jobs with the acquirer registered for their source.
type Pipeline struct {
	cfg       Config
	log       zerolog.Logger
	acquirers map[domain.Source]Acquirer
	now       func() time.Time
}

// New creates a Pipeline.
func New(cfg Config) *Pipeline {
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = DefaultHeartbeat
	}
	return &Pipeline{
		cfg:       cfg,
		log:       logging.Component(cfg.Log, "pipeline"),
		acquirers: make(map[domain.Source]Acquirer),
		now:       time.Now,
	}
}

// Register sets the acquirer for src.
func (p *Pipeline) Register(src domain.Source, a Acquirer) {
	p.acquirers[src] = a
}

// Outcome is a finished track.
type Outcome struct {
	Path           string
	Quality        string
	MetadataSource string
	Artist         string
	Title          string
}

type placement struct {
	Dir  string
	Stem string
	// Relocatable files follow a canonical artist change into that
	// artist's directory.
	Relocatable bool
}

// Process drives a claimed job to a terminal status. Job failures are
// recorded on the job; the returned error means the store could not be
// written or ctx ended before the job did.
func (p *Pipeline) Process(ctx context.Context, job *domain.Job) error {
	start := p.now()
	log := logging.Job(p.log, job.ID).With().Str("source", string(job.Source)).Logger()
	log.Info().Str("type", string(job.DownloadType)).Msg("job started")

	beat, stop := context.WithCancel(ctx)
	defer stop()
	go p.heartbeat(beat, log, job.ID)

	var status domain.JobStatus
	var err error
	acq, ok := p.acquirers[job.Source]
	switch {
	case !ok:
		status, err = p.failJob(ctx, log, job, fmt.Sprintf("no acquirer for source %q", job.Source))
	case job.DownloadType.IsMultiTrack():
		status, err = p.runMulti(ctx, log, job, acq)
	default:
		status, err = p.runSingle(ctx, log, job, acq)
	}

	stop()

	if errors.Is(err, domain.ErrJobReleased) {
		log.Warn().Msg("job was failed by the stale sweep while running, result discarded")
		return nil
	}

	elapsed := p.now().Sub(start)
	if status.IsTerminal() && p.cfg.Metrics != nil {
		p.cfg.Metrics.ObserveJob(string(job.Source), string(job.DownloadType), string(status), elapsed)
	}
	log.Info().Str("status", string(status)).Dur("elapsed", elapsed).Msg("job finished")
	return err
}

func (p *Pipeline) runSingle(ctx context.Context, log zerolog.Logger, job *domain.Job, acq Acquirer) (domain.JobStatus, error) {
	res := acq.Resolve(ctx, seedFromJob(job))
	if !res.OK() {
		return p.failJob(ctx, log, job, res.Reason)
	}
	t := res.Value
	if err := p.cfg.Jobs.Update(ctx, job.ID, domain.JobUpdate{Title: &t.Title, Artist: &t.Artist, Uploader: &t.Uploader}); err != nil {
		return domain.StatusDownloading, err
	}

	out := p.safeTrack(ctx, log, job, acq, t, p.singlePlacement(job, t))
	switch {
	case out.Is(KindSkip):
		log.Info().Str("existing", out.Value.Path).Msg("already in library")
		if err := p.cfg.Jobs.Finish(ctx, job.ID, domain.StatusCompleted, out.Reason); err != nil {
			return domain.StatusDownloading, err
		}
		p.markDownloaded(ctx, log, job.ID)
		return domain.StatusCompleted, nil
	case !out.OK():
		return p.failJob(ctx, log, job, out.Reason)
	}

	done := out.Value
	u := domain.JobUpdate{
		Title:          &done.Title,
		Artist:         &done.Artist,
		AudioQuality:   &done.Quality,
		MetadataSource: &done.MetadataSource,
	}
	if err := p.cfg.Jobs.Update(ctx, job.ID, u); err != nil {
		return domain.StatusDownloading, err
	}
	if err := p.cfg.Jobs.Finish(ctx, job.ID, domain.StatusCompleted, ""); err != nil {
		return domain.StatusDownloading, err
	}
	log.Info().Str("file", done.Path).Str("quality", done.Quality).Msg("track saved")

	p.markDownloaded(ctx, log, job.ID)
	p.publish(ctx)
	p.notify(ctx, domain.Notification{
		Type:   domain.NotifySingle,
		Title:  done.Title,
		Artist: done.Artist,
		Source: job.Source,
		Status: string(domain.StatusCompleted),
	})
	return domain.StatusCompleted, nil
}

func (p *Pipeline) runMulti(ctx context.Context, log zerolog.Logger, job *domain.Job, acq Acquirer) (domain.JobStatus, error) {
	lister, ok := acq.(Lister)
	if !ok {
		return p.failJob(ctx, log, job, fmt.Sprintf("%s does not support %s downloads", job.Source, job.DownloadType))
	}
	lr := lister.List(ctx, job)
	if !lr.OK() {
		return p.failJob(ctx, log, job, lr.Reason)
	}
	listing := lr.Value

	total := len(listing.Tracks)
	u := domain.JobUpdate{TotalTracks: &total}
	if listing.Album {
		title := listing.Name
		u.Title, u.Artist, u.Uploader = &title, &listing.Artist, &listing.Artist
	}
	if err := p.cfg.Jobs.Update(ctx, job.ID, u); err != nil {
		return domain.StatusDownloading, err
	}
	log.Info().Int("tracks", total).Str("name", listing.Name).Msg("listing resolved")

	var files []string
	var completed, failed, skipped int
	for i, seed := range listing.Tracks {
		if ctx.Err() != nil {
			return domain.StatusDownloading, ctx.Err()
		}
		tlog := log.With().Int("track", i+1).Logger()

		res := p.multiTrack(ctx, tlog, job, acq, listing, i, seed)
		counter := domain.CounterCompleted
		switch {
		case res.OK():
			completed++
			files = append(files, res.Value.Path)
			tlog.Info().Str("file", res.Value.Path).Msg("track saved")
		case res.Is(KindSkip):
			skipped++
			counter = domain.CounterSkipped
			if res.Value.Path != "" {
				files = append(files, res.Value.Path)
			}
			tlog.Info().Str("reason", res.Reason).Msg("track skipped")
		default:
			if ctx.Err() != nil {
				return domain.StatusDownloading, ctx.Err()
			}
			failed++
			counter = domain.CounterFailed
			tlog.Warn().Str("reason", res.Reason).Msg("track failed")
		}
		if err := p.cfg.Jobs.Increment(ctx, job.ID, counter); err != nil {
			return domain.StatusDownloading, err
		}
	}

	if m3u := p.writePlaylist(log, listing, files); m3u != "" {
		if err := p.cfg.Jobs.Update(ctx, job.ID, domain.JobUpdate{M3UPath: &m3u}); err != nil {
			return domain.StatusDownloading, err
		}
	}
	if completed > 0 {
		p.publish(ctx)
	}

	status, reason := domain.StatusCompleted, ""
	if failed > 0 {
		status = domain.StatusCompletedWithErrors
		reason = fmt.Sprintf("%d track(s) failed", failed)
		if skipped > 0 {
			reason += fmt.Sprintf(", %d skipped (duplicates)", skipped)
		}
	}
	if err := p.cfg.Jobs.Finish(ctx, job.ID, status, reason); err != nil {
		return domain.StatusDownloading, err
	}

	name := listing.Name
	if listing.Album && listing.Artist != "" {
		name = listing.Artist + " - " + listing.Name
	}
	p.notify(ctx, domain.Notification{
		Type:         domain.NotifyPlaylist,
		Title:        name,
		PlaylistName: name,
		Source:       job.Source,
		Status:       string(status),
		Error:        reason,
		TrackCount:   total,
		FailedCount:  failed,
		SkippedCount: skipped,
	})
	return status, nil
}

func (p *Pipeline) multiTrack(ctx context.Context, log zerolog.Logger, job *domain.Job, acq Acquirer, listing Listing, i int, seed Track) (res Result[Outcome]) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("track panicked")
			res = Failed[Outcome](fmt.Sprintf("internal error: %v", r), KindFatal)
		}
	}()

	t := seed
	if !t.Resolved {
		rr := acq.Resolve(ctx, seed)
		if !rr.OK() {
			return Failed[Outcome](rr.Reason, KindFatal)
		}
		t = rr.Value
	}
	if t.TrackNumber == 0 && listing.Album {
		t.TrackNumber = i + 1
	}
	return p.track(ctx, log, job, acq, t, p.listingPlacement(listing, t))
}

// safeTrack runs track, turning a panic into a fatal result.
func (p *Pipeline) safeTrack(ctx context.Context, log zerolog.Logger, job *domain.Job, acq Acquirer, t Track, place placement) (res Result[Outcome]) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("track panicked")
			res = Failed[Outcome](fmt.Sprintf("internal error: %v", r), KindFatal)
		}
	}()
	return p.track(ctx, log, job, acq, t, place)
}

func (p *Pipeline) singlePlacement(job *domain.Job, t Track) placement {
	if job.PlaylistName != "" {
		if dir, ok := p.cfg.Layout.PlaylistsDir(); ok {
			return placement{
				Dir:  filepath.Join(dir, library.Sanitize(job.PlaylistName)),
				Stem: library.PlaylistStem(t.Artist, t.Title, t.ID),
			}
		}
	}
	return p.artistPlacement(t)
}

func (p *Pipeline) artistPlacement(t Track) placement {
	return placement{
		Dir:         p.cfg.Layout.DownloadDir(t.Artist),
		Stem:        p.cfg.Layout.OutputStem(t.Artist, t.Title, t.ID),
		Relocatable: true,
	}
}

func (p *Pipeline) listingPlacement(l Listing, t Track) placement {
	if l.Album {
		return placement{
			Dir:  p.cfg.Layout.AlbumDir(l.Artist, l.Name),
			Stem: fmt.Sprintf("%02d - %s", t.TrackNumber, library.Sanitize(t.Title)),
		}
	}
	if dir, ok := p.cfg.Layout.PlaylistsDir(); ok {
		return placement{
			Dir:  filepath.Join(dir, library.Sanitize(l.Name)),
			Stem: library.PlaylistStem(t.Artist, t.Title, t.ID),
		}
	}
	return p.artistPlacement(t)
}

// writePlaylist writes an M3U next to the listing's files and returns its
// path relative to the library root.
func (p *Pipeline) writePlaylist(log zerolog.Logger, l Listing, files []string) string {
	if len(files) == 0 {
		return ""
	}
	safe := library.Sanitize(l.Name)
	if safe == "" {
		safe = "Playlist"
	}
	var dir string
	switch playlists, ok := p.cfg.Layout.PlaylistsDir(); {
	case l.Album:
		dir = p.cfg.Layout.AlbumDir(l.Artist, l.Name)
	case ok:
		dir = playlists
	default:
		dir = p.cfg.Layout.SinglesDir()
	}

	entries := make([]string, 0, len(files))
	for _, f := range files {
		rel, err := filepath.Rel(dir, f)
		if err != nil {
			rel = f
		}
		entries = append(entries, filepath.ToSlash(rel))
	}
	path := filepath.Join(dir, safe+".m3u")
	if err := library.WriteM3U(path, entries); err != nil {
		log.Warn().Err(err).Msg("could not write playlist")
		return ""
	}
	if rel, ok := library.Rel(p.cfg.Layout.Root(), path); ok {
		return rel
	}
	return path
}

func (p *Pipeline) heartbeat(ctx context.Context, log zerolog.Logger, id string) {
	t := time.NewTicker(p.cfg.Heartbeat)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			err := p.cfg.Jobs.Update(ctx, id, domain.JobUpdate{})
			switch {
			case err == nil, ctx.Err() != nil:
			case errors.Is(err, domain.ErrJobReleased):
				return
			default:
				log.Warn().Err(err).Msg("heartbeat failed")
			}
		}
	}
}

// failJob records a failed job. When ctx has ended the job is left
// downloading so the next start re-queues it.
func (p *Pipeline) failJob(ctx context.Context, log zerolog.Logger, job *domain.Job, reason string) (domain.JobStatus, error) {
	if ctx.Err() != nil {
		return domain.StatusDownloading, ctx.Err()
	}
	log.Warn().Str("reason", reason).Msg("job failed")
	if err := p.cfg.Jobs.Finish(ctx, job.ID, domain.StatusFailed, reason); err != nil {
		return domain.StatusDownloading, err
	}
	title := job.Title
	if title == "" {
		title = job.PlaylistName
	}
	p.notify(ctx, domain.Notification{
		Type:   domain.NotifyError,
		Title:  title,
		Artist: job.Artist,
		Source: job.Source,
		Status: string(domain.StatusFailed),
		Error:  reason,
	})
	return domain.StatusFailed, nil
}

func (p *Pipeline) markDownloaded(ctx context.Context, log zerolog.Logger, jobID string) {
	if p.cfg.Tracker == nil {
		return
	}
	if err := p.cfg.Tracker.MarkJobDownloaded(ctx, jobID); err != nil {
		log.Warn().Err(err).Msg("could not mark watched track downloaded")
	}
}

func (p *Pipeline) publish(ctx context.Context) {
	if p.cfg.Scanner == nil {
		return
	}
	go p.cfg.Scanner.Scan(context.WithoutCancel(ctx))
}

func (p *Pipeline) notify(ctx context.Context, n domain.Notification) {
	if p.cfg.Notifier != nil {
		p.cfg.Notifier.Notify(ctx, n)
	}
}

func (p *Pipeline) audioFormat() string {
	if strings.EqualFold(p.cfg.Settings.String("audio_format", "flac"), "opus") {
		return "opus"
	}
	return "flac"
}

func removeFile(log zerolog.Logger, path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Str("file", path).Msg("could not remove file")
	}
}
