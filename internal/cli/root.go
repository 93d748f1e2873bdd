// Package cli provides the command-line interface for musicgrabber.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cwygoda/musicgrabber/internal/config"
	"github.com/cwygoda/musicgrabber/internal/logging"
)

// Version is set at build time.
var Version = "0.1.0"

// env carries what the root command resolves for its subcommands.
type env struct {
	configPath string
	dbPath     string
	musicDir   string
	logLevel   string
	logFormat  string
	verbose    bool

	app *App
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	e := &env{}

	root := &cobra.Command{
		Use:   "musicgrabber",
		Short: "Self-hosted music search and download service",
		Long: `MusicGrabber searches YouTube, SoundCloud, Monochrome and Soulseek,
downloads the best match, tags it and files it into your music library.

Run "musicgrabber serve" for the HTTP API and download workers. The other
commands work against the same database.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !needsApp(cmd) {
				return nil
			}
			return e.open(cmd.Context())
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if e.app != nil {
				if err := e.app.Close(); err != nil {
					fmt.Fprintf(os.Stderr, "Warning: failed to close database: %v\n", err)
				}
			}
		},
	}

	f := root.PersistentFlags()
	f.StringVarP(&e.configPath, "config", "c", "", "config file (default $XDG_CONFIG_HOME/musicgrabber/config.toml)")
	f.StringVar(&e.dbPath, "db", "", "database path")
	f.StringVar(&e.musicDir, "music-dir", "", "music library root")
	f.StringVar(&e.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	f.StringVar(&e.logFormat, "log-format", "", "log format (json, console)")
	f.BoolVarP(&e.verbose, "verbose", "v", false, "verbose output")

	root.AddCommand(
		newServeCmd(e),
		newSearchCmd(e),
		newGetCmd(e),
		newJobsCmd(e),
		newImportCmd(e),
		newWatchCmd(e),
		newBlacklistCmd(e),
		newSettingsCmd(e),
	)
	return root
}

// needsApp reports whether cmd works against the database.
func needsApp(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		switch c.Name() {
		case "help", "version", "completion":
			return false
		}
	}
	return true
}

func (e *env) open(ctx context.Context) error {
	cfg, err := config.Load(e.configPath)
	if err != nil {
		return err
	}
	if e.dbPath != "" {
		cfg.DBPath = e.dbPath
	}
	if e.musicDir != "" {
		cfg.MusicDir = e.musicDir
	}
	if e.logLevel != "" {
		cfg.LogLevel = e.logLevel
	}
	if e.logFormat != "" {
		cfg.LogFormat = e.logFormat
	}
	if e.verbose {
		cfg.LogLevel = "debug"
	}

	log := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	if ctx == nil {
		ctx = context.Background()
	}
	e.app, err = NewApp(ctx, cfg, log)
	return err
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}
