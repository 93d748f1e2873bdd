package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	httpAdapter "github.com/cwygoda/musicgrabber/internal/adapter/http"
)

const apiRateLimit = 60

func newServeCmd(e *env) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, download workers and playlist watcher",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := e.app
			if port > 0 {
				a.Config.Port = port
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, a)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (default from config)")
	return cmd
}

func serve(ctx context.Context, a *App) error {
	log := a.Log
	addr := fmt.Sprintf(":%d", a.Config.Port)

	log.Info().
		Int("port", a.Config.Port).
		Str("db", a.Config.DBPath).
		Str("music_dir", a.Layout.Root()).
		Int("workers", a.Config.Workers).
		Msg("starting musicgrabber")

	srv := httpAdapter.NewServer(a.Jobs, a.Search, a.Bulk, a.Repo, httpAdapter.Options{
		Addr:      addr,
		APIKey:    a.APIKey(),
		RateLimit: apiRateLimit,
		Metrics:   a.Metrics.Handler(),
		Log:       log,
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.Worker.Run(ctx)
	})
	g.Go(func() error {
		return a.Watcher.Run(ctx)
	})
	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown error")
		}
		return nil
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	log.Info().Msg("shutdown complete")
	return err
}
