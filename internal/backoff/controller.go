package backoff

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog"

	"github.com/cwygoda/musicgrabber/internal/domain"
)

const (
	// DefaultBotMin and DefaultBotMax bound the random bot-block extension.
	DefaultBotMin = 5 * time.Second
	DefaultBotMax = 20 * time.Second

	// AuthCooldown is how long auth stays disabled after a confirmed auth failure.
	AuthCooldown = 2 * time.Hour

	maxForbiddenRetries = 2
	forbiddenDelay      = 3 * time.Second
)

// Event kinds passed to the observer.
const (
	EventBotBlock     = "bot_block"
	EventAuthDisabled = "auth_disabled"
	EventRetry        = "retry_403"
	EventNoAuthRetry  = "retry_without_auth"
)

// Attempt runs one download try. useAuth says whether cookies may be passed.
type Attempt func(ctx context.Context, useAuth bool) error

// Controller applies the shared cooldown state to download attempts.
type Controller struct {
	state    *State
	settings domain.Settings
	log      zerolog.Logger

	now     func() time.Time
	uniform func(lo, hi float64) float64
	sleep   func(ctx context.Context, d time.Duration) error
	observe func(kind string)
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithSleep overrides how the controller waits.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Controller) { c.sleep = sleep }
}

// WithUniform overrides the random window draw.
func WithUniform(fn func(lo, hi float64) float64) Option {
	return func(c *Controller) { c.uniform = fn }
}

// WithObserver registers a callback for backoff events, used for metrics.
func WithObserver(fn func(kind string)) Option {
	return func(c *Controller) { c.observe = fn }
}

// NewController creates a controller over shared state.
func NewController(state *State, settings domain.Settings, log zerolog.Logger, opts ...Option) *Controller {
	c := &Controller{
		state:    state,
		settings: settings,
		log:      log.With().Str("component", "backoff").Logger(),
		now:      time.Now,
		uniform: func(lo, hi float64) float64 {
			return lo + rand.Float64()*(hi-lo)
		},
		sleep:   sleepCtx,
		observe: func(string) {},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// WaitBotBackoff blocks until the current bot-block window has passed.
func (c *Controller) WaitBotBackoff(ctx context.Context) error {
	wait := c.state.BotBackoffUntil().Sub(c.now())
	if wait <= 0 {
		return nil
	}
	c.log.Debug().Dur("wait", wait).Msg("waiting out bot backoff")
	return c.sleep(ctx, wait)
}

// Window returns the configured bot-block bounds after clamping.
func (c *Controller) Window() (time.Duration, time.Duration) {
	lo := c.settings.Int("youtube_bot_backoff_min", int(DefaultBotMin/time.Second))
	hi := c.settings.Int("youtube_bot_backoff_max", int(DefaultBotMax/time.Second))
	lo, hi = max(lo, 0), max(hi, 0)
	if hi < lo {
		c.log.Warn().Int("min", lo).Int("max", hi).Msg("bot backoff min exceeds max, swapping")
		lo, hi = hi, lo
	}
	return time.Duration(lo) * time.Second, time.Duration(hi) * time.Second
}

// NoteBotBlock extends the bot-block window by a random span within Window.
func (c *Controller) NoteBotBlock() {
	lo, hi := c.Window()
	var span time.Duration
	if hi > 0 {
		span = time.Duration(c.uniform(float64(lo), float64(hi)))
	}
	until := c.state.ExtendBotBackoff(c.now().Add(span))
	c.observe(EventBotBlock)
	c.log.Info().Time("until", until).Msg("bot block noted")
}

// NoteAuthFailure disables auth for AuthCooldown.
func (c *Controller) NoteAuthFailure() {
	until := c.state.ExtendAuthDisabled(c.now().Add(AuthCooldown))
	c.observe(EventAuthDisabled)
	c.log.Warn().Time("until", until).Msg("auth disabled after confirmed auth failure")
}

// AuthAllowed reports whether auth cookies may be used now.
func (c *Controller) AuthAllowed() bool {
	return !c.now().Before(c.state.AuthDisabledUntil())
}

// Run drives attempt through the forbidden-retry loop and the auth fallback.
// hasAuth says whether the caller has cookies to offer at all.
func (c *Controller) Run(ctx context.Context, hasAuth bool, attempt Attempt) error {
	useAuth := hasAuth && c.AuthAllowed()

	var err error
	for n := 0; n <= maxForbiddenRetries; n++ {
		if werr := c.WaitBotBackoff(ctx); werr != nil {
			return werr
		}
		err = attempt(ctx, useAuth)
		if err == nil {
			return nil
		}
		if IsTimeout(err) || !IsForbidden(err.Error()) || n == maxForbiddenRetries {
			break
		}
		c.observe(EventRetry)
		c.log.Info().Int("attempt", n+1).Msg("forbidden response, retrying")
		if serr := c.sleep(ctx, forbiddenDelay*time.Duration(n+1)); serr != nil {
			return serr
		}
	}

	timedOut := IsTimeout(err)
	authSuspect := !timedOut && IsAuthSuspect(err.Error())
	if timedOut || authSuspect {
		c.NoteBotBlock()
	}
	if !useAuth || !(timedOut || authSuspect) {
		return err
	}

	c.observe(EventNoAuthRetry)
	c.log.Info().Msg("retrying without auth")
	if rerr := attempt(ctx, false); rerr != nil {
		// A stripped-auth failure leaves auth enabled.
		return rerr
	}
	if authSuspect {
		c.NoteAuthFailure()
	}
	return nil
}
