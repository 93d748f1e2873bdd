package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/cwygoda/musicgrabber/internal/adapter/command"
	"github.com/cwygoda/musicgrabber/internal/adapter/mediaserver"
	"github.com/cwygoda/musicgrabber/internal/adapter/source"
	"github.com/cwygoda/musicgrabber/internal/adapter/sqlite"
	"github.com/cwygoda/musicgrabber/internal/backoff"
	"github.com/cwygoda/musicgrabber/internal/catalog"
	"github.com/cwygoda/musicgrabber/internal/config"
	"github.com/cwygoda/musicgrabber/internal/domain"
	"github.com/cwygoda/musicgrabber/internal/library"
	"github.com/cwygoda/musicgrabber/internal/media"
	"github.com/cwygoda/musicgrabber/internal/metrics"
	"github.com/cwygoda/musicgrabber/internal/notify"
	"github.com/cwygoda/musicgrabber/internal/orchestrator"
	"github.com/cwygoda/musicgrabber/internal/pipeline"
	"github.com/cwygoda/musicgrabber/internal/search"
	"github.com/cwygoda/musicgrabber/internal/settings"
	"github.com/cwygoda/musicgrabber/internal/worker"
)

// App holds the wired service graph shared by every command.
type App struct {
	Config   *config.Config
	Log      zerolog.Logger
	Repo     *sqlite.Repository
	Settings *settings.Provider
	Metrics  *metrics.Metrics
	Jobs     *domain.JobService
	YTDLP    *source.YTDLP
	Search   *search.Aggregator
	Layout   *library.Layout
	Pipeline *pipeline.Pipeline
	Worker   *worker.Worker
	Bulk     *orchestrator.Bulk
	Watcher  *orchestrator.Watcher
}

// NewApp opens the database and wires every component.
func NewApp(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	repo, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	prov, err := settings.New(ctx, repo, log)
	if err != nil {
		repo.Close()
		return nil, fmt.Errorf("load settings: %w", err)
	}

	m := metrics.New()
	ctrl := backoff.NewController(backoff.NewState(), prov, log, backoff.WithObserver(m.BackoffEvent))
	runner := command.NewExec(log)

	ytdlp := source.NewYTDLP(cfg.Tools.YTDLP, cfg.CookiesFile, runner, prov, ctrl, log)
	if err := ytdlp.SyncCookies(); err != nil {
		log.Warn().Err(err).Msg("failed to write cookie file")
	}
	youtube := source.NewYouTube(ytdlp, log)
	monochrome := source.NewMonochrome(prov, log)
	slskd := source.NewSlskd(prov, log)

	sources := source.NewRegistry()
	sources.Register(youtube)
	sources.Register(source.NewSoundCloud(ytdlp, log))
	sources.Register(monochrome)
	sources.Register(slskd)

	tools := media.New(media.Binaries{
		FFmpeg:  cfg.Tools.FFmpeg,
		FFprobe: cfg.Tools.FFprobe,
		Fpcalc:  cfg.Tools.FPCalc,
	}, runner, log)
	enricher := catalog.NewEnricher(catalog.New(catalog.DefaultEndpoints, prov, log), tools)
	layout := library.NewLayout(cfg.MusicDir, prov, log)
	notifier := notify.New(prov, log)
	jobs := domain.NewJobService(repo)

	pipe := pipeline.New(pipeline.Config{
		Jobs:     repo,
		Tracker:  repo,
		Settings: prov,
		Layout:   layout,
		Media:    tools,
		Enricher: enricher,
		Scanner:  mediaserver.New(prov, log),
		Notifier: notifier,
		Metrics:  m,
		Log:      log,
	})
	pipe.Register(domain.SourceYouTube, pipeline.NewYouTubeAcquirer(ytdlp, youtube))
	pipe.Register(domain.SourceSoundCloud, pipeline.NewSoundCloudAcquirer(ytdlp))
	pipe.Register(domain.SourceMonochrome, pipeline.NewMonochromeAcquirer(monochrome, log))
	pipe.Register(domain.SourceSoulseek, pipeline.NewSoulseekAcquirer(slskd, log))

	w := worker.New(repo, pipe, worker.Config{
		Workers:       cfg.Workers,
		PollInterval:  cfg.PollInterval.Duration,
		StaleAfter:    cfg.StaleAfter.Duration,
		SweepInterval: cfg.SweepInterval.Duration,
	}, log)
	jobs.OnSubmit(w.Wake)
	w.OnSweep(func(ctx context.Context) {
		if cleared, err := ytdlp.ClearExpiredCookies(ctx, prov, time.Now()); err != nil {
			log.Warn().Err(err).Msg("cookie expiry check failed")
		} else if cleared {
			log.Info().Msg("cleared expired youtube cookies")
		}
	})

	agg := search.New(sources, repo, m, log)
	bulk := orchestrator.NewBulk(orchestrator.BulkConfig{
		Imports:  repo,
		Watch:    repo,
		Jobs:     jobs,
		Search:   agg,
		Layout:   layout,
		Notifier: notifier,
		Log:      log,
	})
	watcher := orchestrator.NewWatcher(orchestrator.WatchConfig{
		Repo:          repo,
		Imports:       bulk,
		Fetcher:       orchestrator.NewYouTubeFetcher(youtube, log),
		Layout:        layout,
		Log:           log,
		CheckInterval: cfg.WatchInterval.Duration,
	})

	return &App{
		Config:   cfg,
		Log:      log,
		Repo:     repo,
		Settings: prov,
		Metrics:  m,
		Jobs:     jobs,
		YTDLP:    ytdlp,
		Search:   agg,
		Layout:   layout,
		Pipeline: pipe,
		Worker:   w,
		Bulk:     bulk,
		Watcher:  watcher,
	}, nil
}

// APIKey returns the bootstrap API key, falling back to the api_key setting.
func (a *App) APIKey() string {
	if a.Config.APIKey != "" {
		return a.Config.APIKey
	}
	return a.Settings.String("api_key", "")
}

// Close stops background imports and closes the database.
func (a *App) Close() error {
	a.Bulk.Close()
	return a.Repo.Close()
}
