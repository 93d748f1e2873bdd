// Package backoff holds the process-wide YouTube cooldown state and the
// retry policies built on top of it.
package backoff

import (
	"sync"
	"time"
)

// State tracks the bot-block cooldown and the auth-disabled cooldown.
// Each timer has its own lock and only ever moves forward.
type State struct {
	botMu    sync.Mutex
	botUntil time.Time

	authMu    sync.Mutex
	authUntil time.Time
}

// NewState returns a State with both timers expired.
func NewState() *State {
	return &State{}
}

// BotBackoffUntil returns the end of the current bot-block window.
func (s *State) BotBackoffUntil() time.Time {
	s.botMu.Lock()
	defer s.botMu.Unlock()
	return s.botUntil
}

// ExtendBotBackoff moves the window end to t if t is later, and returns the
// effective end.
func (s *State) ExtendBotBackoff(t time.Time) time.Time {
	s.botMu.Lock()
	defer s.botMu.Unlock()
	if t.After(s.botUntil) {
		s.botUntil = t
	}
	return s.botUntil
}

// AuthDisabledUntil returns the time auth cookies become usable again.
func (s *State) AuthDisabledUntil() time.Time {
	s.authMu.Lock()
	defer s.authMu.Unlock()
	return s.authUntil
}

// ExtendAuthDisabled moves the auth cooldown end to t if t is later.
func (s *State) ExtendAuthDisabled(t time.Time) time.Time {
	s.authMu.Lock()
	defer s.authMu.Unlock()
	if t.After(s.authUntil) {
		s.authUntil = t
	}
	return s.authUntil
}
