package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/cwygoda/musicgrabber/internal/domain"
)

// StaleReason is recorded on jobs failed by the sweeper.
const StaleReason = "Timed out (no progress)"

// Processor drives one claimed job to completion.
type Processor interface {
	Process(ctx context.Context, job *domain.Job) error
}

// Config tunes the pool.
type Config struct {
	Workers       int
	PollInterval  time.Duration
	StaleAfter    time.Duration
	SweepInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 3
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 900 * time.Second
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 120 * time.Second
	}
	return c
}

// Worker claims queued jobs and runs them on a bounded pool.
type Worker struct {
	repo   domain.JobRepository
	proc   Processor
	cfg    Config
	log    zerolog.Logger
	wake   chan struct{}
	active atomic.Int32
	now    func() time.Time

	mu     sync.Mutex
	sweeps []func(ctx context.Context)
}

// New creates a new worker.
func New(repo domain.JobRepository, proc Processor, cfg Config, log zerolog.Logger) *Worker {
	return &Worker{
		repo: repo,
		proc: proc,
		cfg:  cfg.withDefaults(),
		log:  log.With().Str("component", "worker").Logger(),
		wake: make(chan struct{}, 1),
		now:  time.Now,
	}
}

// Wake nudges the poll loop to look for queued jobs now.
func (w *Worker) Wake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// OnSweep adds a task run on every sweep after stale jobs are handled.
func (w *Worker) OnSweep(fn func(ctx context.Context)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sweeps = append(w.sweeps, fn)
}

// Idle reports whether no job is in flight.
func (w *Worker) Idle() bool {
	return w.active.Load() == 0
}

// Run recovers interrupted jobs, then polls and processes until ctx is
// cancelled. In-flight jobs finish before Run returns.
func (w *Worker) Run(ctx context.Context) error {
	if n, err := w.repo.RecoverInterrupted(ctx); err != nil {
		return fmt.Errorf("recover interrupted jobs: %w", err)
	} else if n > 0 {
		w.log.Info().Int64("count", n).Msg("re-queued interrupted jobs")
	}

	jobs := make(chan domain.Job)
	var wg sync.WaitGroup
	for i := 0; i < w.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				w.processJob(ctx, &job)
			}
		}()
	}

	sched := cron.New()
	if _, err := sched.AddFunc(fmt.Sprintf("@every %s", w.cfg.SweepInterval), func() { w.Sweep(ctx) }); err != nil {
		close(jobs)
		wg.Wait()
		return fmt.Errorf("schedule sweep: %w", err)
	}
	sched.Start()

	w.log.Info().Int("workers", w.cfg.Workers).Dur("poll", w.cfg.PollInterval).Msg("worker started")
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	w.dispatch(ctx, jobs)
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("worker shutting down")
			<-sched.Stop().Done()
			close(jobs)
			wg.Wait()
			return nil
		case <-ticker.C:
			w.dispatch(ctx, jobs)
		case <-w.wake:
			w.dispatch(ctx, jobs)
		}
	}
}

// dispatch claims as many queued jobs as there are free workers.
func (w *Worker) dispatch(ctx context.Context, jobs chan<- domain.Job) {
	free := w.cfg.Workers - int(w.active.Load())
	if free <= 0 {
		return
	}
	queued, err := w.repo.FindQueued(ctx, free)
	if err != nil {
		w.log.Error().Err(err).Msg("poll failed")
		return
	}
	for _, job := range queued {
		if err := w.repo.Claim(ctx, job.ID); err != nil {
			w.log.Debug().Err(err).Str("job_id", job.ID).Msg("claim lost")
			continue
		}
		job.Status = domain.StatusDownloading
		w.active.Add(1)
		select {
		case jobs <- job:
		case <-ctx.Done():
			w.active.Add(-1)
			return
		}
	}
}

func (w *Worker) processJob(ctx context.Context, job *domain.Job) {
	defer w.active.Add(-1)
	log := w.log.With().Str("job_id", job.ID).Logger()
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("job panicked")
			reason := fmt.Sprintf("internal error: %v", r)
			if err := w.repo.Finish(context.WithoutCancel(ctx), job.ID, domain.StatusFailed, reason); err != nil && !errors.Is(err, domain.ErrJobReleased) {
				log.Error().Err(err).Msg("could not record failure")
			}
		}
	}()

	if err := w.proc.Process(ctx, job); err != nil {
		log.Warn().Err(err).Msg("job interrupted")
	}
}

// Sweep fails downloading jobs with no progress for StaleAfter, and queued
// jobs that old while the pool is idle, then runs the OnSweep tasks.
func (w *Worker) Sweep(ctx context.Context) {
	cutoff := w.now().Add(-w.cfg.StaleAfter)
	if n, err := w.repo.FailStale(ctx, domain.StatusDownloading, cutoff, StaleReason); err != nil {
		w.log.Error().Err(err).Msg("stale sweep failed")
	} else if n > 0 {
		w.log.Warn().Int64("count", n).Msg("failed stalled downloads")
	}
	if w.Idle() {
		if n, err := w.repo.FailStale(ctx, domain.StatusQueued, cutoff, StaleReason); err != nil {
			w.log.Error().Err(err).Msg("stale sweep failed")
		} else if n > 0 {
			w.log.Warn().Int64("count", n).Msg("failed stuck queued jobs")
		}
	}

	w.mu.Lock()
	sweeps := append([]func(context.Context){}, w.sweeps...)
	w.mu.Unlock()
	for _, fn := range sweeps {
		fn(ctx)
	}
}
