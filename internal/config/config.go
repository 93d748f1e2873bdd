package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/adrg/xdg"
)

const appName = "musicgrabber"

// Duration is a time.Duration written as "90s" or "24h" in the config file.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Tools names the external binaries the service drives.
type Tools struct {
	YTDLP   string `toml:"ytdlp"`
	FFmpeg  string `toml:"ffmpeg"`
	FFprobe string `toml:"ffprobe"`
	FPCalc  string `toml:"fpcalc"`
}

// Config holds bootstrap configuration. Runtime settings live in the
// database and are read through the settings package.
type Config struct {
	Port     int    `toml:"port"`
	DBPath   string `toml:"db_path"`
	MusicDir string `toml:"music_dir"`

	Workers       int      `toml:"workers"`
	PollInterval  Duration `toml:"poll_interval"`
	StaleAfter    Duration `toml:"stale_after"`
	SweepInterval Duration `toml:"sweep_interval"`
	WatchInterval Duration `toml:"watch_interval"`

	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`

	Tools       Tools  `toml:"tools"`
	CookiesFile string `toml:"cookies_file"`
	APIKey      string `toml:"api_key"`
}

// DefaultDBPath returns the default database path under XDG_DATA_HOME.
func DefaultDBPath() string {
	return filepath.Join(xdg.DataHome, appName, appName+".db")
}

// DefaultCookiesFile returns where the YouTube cookies setting is mirrored for yt-dlp.
func DefaultCookiesFile() string {
	return filepath.Join(xdg.StateHome, appName, "cookies.txt")
}

// DefaultConfigFile returns the config file location under XDG_CONFIG_HOME.
func DefaultConfigFile() string {
	return filepath.Join(xdg.ConfigHome, appName, "config.toml")
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port:          8080,
		DBPath:        DefaultDBPath(),
		Workers:       3,
		PollInterval:  Duration{5 * time.Second},
		StaleAfter:    Duration{900 * time.Second},
		SweepInterval: Duration{120 * time.Second},
		WatchInterval: Duration{24 * time.Hour},
		LogLevel:      "info",
		LogFormat:     "json",
		Tools: Tools{
			YTDLP:   "yt-dlp",
			FFmpeg:  "ffmpeg",
			FFprobe: "ffprobe",
			FPCalc:  "fpcalc",
		},
		CookiesFile: DefaultCookiesFile(),
	}
}

// Load builds the configuration from defaults, the TOML file at path and
// MUSICGRABBER_* environment variables, in that order. An empty path uses
// the XDG config file when one exists.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		if found, err := xdg.SearchConfigFile(filepath.Join(appName, "config.toml")); err == nil {
			path = found
		}
	}
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	str := map[string]*string{
		"MUSICGRABBER_DB":           &c.DBPath,
		"MUSICGRABBER_MUSIC_DIR":    &c.MusicDir,
		"MUSICGRABBER_LOG_LEVEL":    &c.LogLevel,
		"MUSICGRABBER_LOG_FORMAT":   &c.LogFormat,
		"MUSICGRABBER_YTDLP":        &c.Tools.YTDLP,
		"MUSICGRABBER_FFMPEG":       &c.Tools.FFmpeg,
		"MUSICGRABBER_FFPROBE":      &c.Tools.FFprobe,
		"MUSICGRABBER_FPCALC":       &c.Tools.FPCalc,
		"MUSICGRABBER_COOKIES_FILE": &c.CookiesFile,
		"MUSICGRABBER_API_KEY":      &c.APIKey,
	}
	for key, dst := range str {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"MUSICGRABBER_PORT":    &c.Port,
		"MUSICGRABBER_WORKERS": &c.Workers,
	}
	for key, dst := range ints {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = n
		}
	}

	durations := map[string]*Duration{
		"MUSICGRABBER_POLL_INTERVAL":  &c.PollInterval,
		"MUSICGRABBER_STALE_AFTER":    &c.StaleAfter,
		"MUSICGRABBER_SWEEP_INTERVAL": &c.SweepInterval,
		"MUSICGRABBER_WATCH_INTERVAL": &c.WatchInterval,
	}
	for key, dst := range durations {
		if v := os.Getenv(key); v != "" {
			if err := dst.UnmarshalText([]byte(v)); err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
		}
	}
	return nil
}
