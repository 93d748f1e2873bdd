// Package settings provides runtime settings backed by the settings table,
// with environment overrides and schema defaults layered through viper.
package settings

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/cwygoda/musicgrabber/internal/domain"
)

const masked = "********"

// Provider implements domain.Settings. Environment beats persisted values,
// which beat schema defaults.
type Provider struct {
	store domain.SettingsStore
	log   zerolog.Logger

	mu sync.RWMutex
	v  *viper.Viper
}

// New loads persisted settings from store.
func New(ctx context.Context, store domain.SettingsStore, log zerolog.Logger) (*Provider, error) {
	p := &Provider{store: store, log: log.With().Str("component", "settings").Logger()}
	if err := p.Reload(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

// Reload rebuilds the layered view from the store.
func (p *Provider) Reload(ctx context.Context) error {
	persisted, err := p.store.AllSettings(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	v := viper.New()
	for key, f := range Schema {
		v.SetDefault(key, f.Default)
	}
	v.AutomaticEnv()

	layer := make(map[string]any, len(persisted))
	for k, val := range persisted {
		layer[k] = val
	}
	if err := v.MergeConfigMap(layer); err != nil {
		return fmt.Errorf("merge settings: %w", err)
	}

	p.mu.Lock()
	p.v = v
	p.mu.Unlock()
	p.log.Debug().Int("persisted", len(persisted)).Msg("settings loaded")
	return nil
}

func (p *Provider) lookup(key string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.v.IsSet(key) {
		return "", false
	}
	return p.v.GetString(key), true
}

// String returns the setting as a string, or def when unset.
func (p *Provider) String(key, def string) string {
	if v, ok := p.lookup(key); ok {
		return v
	}
	return def
}

// Bool accepts true, 1, yes and on, case-insensitively.
func (p *Provider) Bool(key string, def bool) bool {
	v, ok := p.lookup(key)
	if !ok {
		return def
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes", "on":
		return true
	}
	return false
}

// Int returns def when the value is unset or not an integer.
func (p *Provider) Int(key string, def int) int {
	v, ok := p.lookup(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}

// Set persists a value and reloads.
func (p *Provider) Set(ctx context.Context, key, value string) error {
	if _, known := Schema[key]; !known {
		return fmt.Errorf("%w: unknown setting %q", domain.ErrInvalidRequest, key)
	}
	if err := p.store.SetSetting(ctx, key, value); err != nil {
		return fmt.Errorf("save setting: %w", err)
	}
	if EnvOverride(key) {
		p.log.Warn().Str("key", key).Msg("setting saved but overridden by environment")
	}
	return p.Reload(ctx)
}

// EnvOverride reports whether an environment variable shadows key.
func EnvOverride(key string) bool {
	_, ok := os.LookupEnv(strings.ToUpper(key))
	return ok
}

// Entry is one setting as displayed to an operator.
type Entry struct {
	Key         string
	Value       string
	EnvOverride bool
}

// Entries lists every schema setting with sensitive values masked.
func (p *Provider) Entries() []Entry {
	keys := make([]string, 0, len(Schema))
	for k := range Schema {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]Entry, 0, len(keys))
	for _, k := range keys {
		val := p.String(k, "")
		if Sensitive(k) && val != "" {
			val = masked
		}
		out = append(out, Entry{Key: k, Value: val, EnvOverride: EnvOverride(k)})
	}
	return out
}
