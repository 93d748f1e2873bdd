package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cwygoda/musicgrabber/internal/adapter/command"
	"github.com/cwygoda/musicgrabber/internal/catalog"
	"github.com/cwygoda/musicgrabber/internal/domain"
	"github.com/cwygoda/musicgrabber/internal/media"
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

// fakeJobs implements domain.JobRepository in memory.
type fakeJobs struct {
	mu      sync.Mutex
	jobs    map[string]*domain.Job
	updates int
}

// owned returns the job if it is still downloading.
func (f *fakeJobs) owned(id string) (*domain.Job, error) {
	j, ok := f.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	if j.Status != domain.StatusDownloading {
		return nil, domain.ErrJobReleased
	}
	return j, nil
}

func (f *fakeJobs) updateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.updates
}

func (f *fakeJobs) sweep(id, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j := f.jobs[id]
	j.Status = domain.StatusFailed
	j.Error = reason
}

func newFakeJobs(jobs ...domain.Job) *fakeJobs {
	f := &fakeJobs{jobs: make(map[string]*domain.Job)}
	for _, j := range jobs {
		j := j
		if j.Status == "" {
			j.Status = domain.StatusDownloading
		}
		f.jobs[j.ID] = &j
	}
	return f
}

func (f *fakeJobs) job(id string) domain.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.jobs[id]
}

func (f *fakeJobs) Create(ctx context.Context, req domain.NewJobRequest) (*domain.Job, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeJobs) Get(ctx context.Context, id string) (*domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

func (f *fakeJobs) List(ctx context.Context, limit int) ([]domain.Job, error) { return nil, nil }

func (f *fakeJobs) FindQueued(ctx context.Context, limit int) ([]domain.Job, error) { return nil, nil }

func (f *fakeJobs) Claim(ctx context.Context, id string) error { return nil }

func (f *fakeJobs) Update(ctx context.Context, id string, u domain.JobUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, err := f.owned(id)
	if err != nil {
		return err
	}
	f.updates++
	if u.Title != nil {
		j.Title = *u.Title
	}
	if u.Artist != nil {
		j.Artist = *u.Artist
	}
	if u.Uploader != nil {
		j.Uploader = *u.Uploader
	}
	if u.AudioQuality != nil {
		j.AudioQuality = *u.AudioQuality
	}
	if u.MetadataSource != nil {
		j.MetadataSource = *u.MetadataSource
	}
	if u.TotalTracks != nil {
		j.TotalTracks = *u.TotalTracks
	}
	if u.M3UPath != nil {
		j.M3UPath = *u.M3UPath
	}
	return nil
}

func (f *fakeJobs) Increment(ctx context.Context, id string, c domain.Counter) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, err := f.owned(id)
	if err != nil {
		return err
	}
	switch c {
	case domain.CounterCompleted:
		j.CompletedTracks++
	case domain.CounterFailed:
		j.FailedTracks++
	case domain.CounterSkipped:
		j.SkippedTracks++
	}
	return nil
}

func (f *fakeJobs) Finish(ctx context.Context, id string, status domain.JobStatus, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, err := f.owned(id)
	if err != nil {
		return err
	}
	j.Status = status
	j.Error = reason
	now := time.Now()
	j.CompletedAt = &now
	return nil
}

func (f *fakeJobs) Reset(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j := f.jobs[id]
	j.Status = domain.StatusDownloading
	j.Error = ""
	return nil
}

func (f *fakeJobs) RecoverInterrupted(ctx context.Context) (int64, error) { return 0, nil }

func (f *fakeJobs) FailStale(ctx context.Context, status domain.JobStatus, before time.Time, reason string) (int64, error) {
	return 0, nil
}

// fakeAcquirer writes a small file for every acquisition.
type fakeAcquirer struct {
	mu       sync.Mutex
	ext      string
	resolve  func(seed Track) Result[Track]
	fail     map[string]string
	listing  *Listing
	acquired []Request
	// unknownSource mimics a source that transcoded without reporting
	// its original format.
	unknownSource bool
}

func (f *fakeAcquirer) Resolve(ctx context.Context, seed Track) Result[Track] {
	if f.resolve != nil {
		return f.resolve(seed)
	}
	t := seed
	t.Resolved = true
	return Ok(t)
}

func (f *fakeAcquirer) Acquire(ctx context.Context, req Request) Result[Acquired] {
	f.mu.Lock()
	f.acquired = append(f.acquired, req)
	f.mu.Unlock()
	if reason, ok := f.fail[req.Track.Title]; ok {
		return Failed[Acquired](reason, KindFatal)
	}
	ext := f.ext
	if ext == "" {
		ext = ".flac"
	}
	if err := os.MkdirAll(req.Dir, 0o755); err != nil {
		return Fatal[Acquired](err)
	}
	path := filepath.Join(req.Dir, req.Stem+ext)
	if err := os.WriteFile(path, []byte("audio"), 0o644); err != nil {
		return Fatal[Acquired](err)
	}
	return Ok(Acquired{Path: path, SourceUnknown: f.unknownSource && req.Convert})
}

func (f *fakeAcquirer) List(ctx context.Context, job *domain.Job) Result[Listing] {
	if f.listing == nil {
		return Failed[Listing]("No videos found in playlist", KindFatal)
	}
	return Ok(*f.listing)
}

func (f *fakeAcquirer) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.acquired)
}

// fakeMedia reports a fixed quality and records tags.
type fakeMedia struct {
	mu      sync.Mutex
	quality media.Quality
	tags    []media.Tags
}

func (f *fakeMedia) Probe(ctx context.Context, path string, src *media.SourceFormat) (media.Quality, error) {
	return f.quality, nil
}

func (f *fakeMedia) Convert(ctx context.Context, src, dst, format string) error {
	return os.Rename(src, dst)
}

func (f *fakeMedia) WriteTags(ctx context.Context, path string, tags media.Tags) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tags = append(f.tags, tags)
	return nil
}

type fakeEnricher struct {
	meta   catalog.Metadata
	ok     bool
	year   string
	lyrics string
}

func (f *fakeEnricher) Enrich(ctx context.Context, in catalog.Input) (catalog.Metadata, bool) {
	return f.meta, f.ok
}

func (f *fakeEnricher) Year(ctx context.Context, artist, title string) string { return f.year }

func (f *fakeEnricher) Lyrics(ctx context.Context, artist, title string) (string, bool) {
	return f.lyrics, f.lyrics != ""
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []domain.Notification
}

func (f *fakeNotifier) Notify(ctx context.Context, n domain.Notification) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, n)
}

func (f *fakeNotifier) last() domain.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return domain.Notification{}
	}
	return f.sent[len(f.sent)-1]
}

type fakeTracker struct {
	mu     sync.Mutex
	marked []string
}

func (f *fakeTracker) MarkJobDownloaded(ctx context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marked = append(f.marked, jobID)
	return nil
}

// fakeRunner answers ffprobe and ffmpeg the way the real tools would for
// the file extensions used in tests.
type fakeRunner struct {
	mu    sync.Mutex
	cmds  []command.Cmd
	probe map[string]string
}

func (f *fakeRunner) Run(ctx context.Context, c command.Cmd) (command.Result, error) {
	f.mu.Lock()
	f.cmds = append(f.cmds, c)
	f.mu.Unlock()

	last := c.Args[len(c.Args)-1]
	switch c.Name {
	case "ffprobe":
		out, ok := f.probe[filepath.Ext(last)]
		if !ok {
			return command.Result{}, errors.New("no stream")
		}
		return command.Result{Stdout: []byte(out)}, nil
	case "ffmpeg":
		if strings.Contains(strings.Join(c.Args, " "), "-c:a") {
			return command.Result{}, os.WriteFile(last, []byte("converted"), 0o644)
		}
	}
	return command.Result{}, nil
}
