// Package ratelimit provides per-platform sliding-window rate limiting for
// outbound API calls. Admission blocks until a slot is free instead of
// rejecting, so callers above the limiter never see a local 429.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"integration-gateway/internal/common/logging"
)

// Config is the rate budget for one key.
type Config struct {
	// BurstLimit is the maximum number of requests admitted inside Window.
	BurstLimit int
	// Window is the sliding window duration.
	Window time.Duration
	// MinInterval is the minimum spacing between consecutive requests,
	// smoothing bursts so the window budget isn't spent instantly.
	MinInterval time.Duration
}

// Validate checks the budget values.
func (c Config) Validate() error {
	if c.BurstLimit <= 0 {
		return fmt.Errorf("BurstLimit must be positive, got %d", c.BurstLimit)
	}
	if c.Window <= 0 {
		return fmt.Errorf("Window must be positive, got %v", c.Window)
	}
	if c.MinInterval < 0 {
		return fmt.Errorf("MinInterval must not be negative, got %v", c.MinInterval)
	}
	return nil
}

// DefaultConfig returns a conservative budget for platforms without one.
func DefaultConfig() Config {
	return Config{
		BurstLimit:  100,
		Window:      10 * time.Second,
		MinInterval: 100 * time.Millisecond,
	}
}

// keyState tracks the sliding window for one key.
type keyState struct {
	config    Config
	stamps    []time.Time   // admission times inside the current window
	notBefore time.Time     // penalty gate; no admission before this instant
	spacer    *rate.Limiter // enforces MinInterval between admissions
}

// Limiter admits requests per key under a sliding-window budget. Admit blocks
// the caller until the request may proceed. Keys are created lazily with the
// config registered for them, falling back to the default budget.
type Limiter struct {
	mu      sync.Mutex
	keys    map[string]*keyState
	configs map[string]Config
	logger  logging.Logger

	// now is replaceable in tests
	now func() time.Time
}

// NewLimiter creates a limiter with per-key budgets. The configs map is keyed
// the same way Admit is called (platform identifier).
func NewLimiter(configs map[string]Config, logger logging.Logger) *Limiter {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	registered := make(map[string]Config, len(configs))
	for key, cfg := range configs {
		if err := cfg.Validate(); err != nil {
			logger.Warn("Invalid rate limit config, using defaults",
				logging.Field{Key: "key", Value: key},
				logging.Field{Key: "error", Value: err.Error()},
			)
			cfg = DefaultConfig()
		}
		registered[key] = cfg
	}
	return &Limiter{
		keys:    make(map[string]*keyState),
		configs: registered,
		logger:  logger,
		now:     time.Now,
	}
}

func (l *Limiter) state(key string) *keyState {
	st, ok := l.keys[key]
	if !ok {
		cfg, found := l.configs[key]
		if !found {
			cfg = DefaultConfig()
		}
		var spacer *rate.Limiter
		if cfg.MinInterval > 0 {
			spacer = rate.NewLimiter(rate.Every(cfg.MinInterval), 1)
		}
		st = &keyState{config: cfg, spacer: spacer}
		l.keys[key] = st
	}
	return st
}

// prune drops window entries older than the sliding window.
func (st *keyState) prune(now time.Time) {
	cutoff := now.Add(-st.config.Window)
	idx := 0
	for idx < len(st.stamps) && !st.stamps[idx].After(cutoff) {
		idx++
	}
	if idx > 0 {
		st.stamps = append(st.stamps[:0], st.stamps[idx:]...)
	}
}

// Admit blocks until a request for key may proceed, then records the
// admission. It returns early with the context error if ctx is done while
// waiting. Admission order across goroutines is not guaranteed.
func (l *Limiter) Admit(ctx context.Context, key string) error {
	for {
		wait, spacer := l.reserve(key)
		if wait <= 0 {
			if spacer != nil {
				if err := spacer.Wait(ctx); err != nil {
					return err
				}
			}
			return nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// reserve attempts to take a slot. On success it records the admission and
// returns zero with the spacer to wait on. Otherwise it returns how long the
// caller must sleep before trying again.
func (l *Limiter) reserve(key string) (time.Duration, *rate.Limiter) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := l.state(key)
	now := l.now()

	if now.Before(st.notBefore) {
		return st.notBefore.Sub(now), nil
	}

	st.prune(now)
	if len(st.stamps) >= st.config.BurstLimit {
		// Window is full: free slot opens when the oldest entry expires
		return st.stamps[0].Add(st.config.Window).Sub(now), nil
	}

	st.stamps = append(st.stamps, now)
	return 0, st.spacer
}

// Penalize blocks all admissions for key until the penalty elapses. Called
// when the platform returns 429 so in-flight concurrency doesn't keep
// hammering it. A shorter penalty never overwrites a longer one.
func (l *Limiter) Penalize(key string, d time.Duration) {
	if d <= 0 {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	st := l.state(key)
	until := l.now().Add(d)
	if until.After(st.notBefore) {
		st.notBefore = until
		l.logger.Warn("Rate limit penalty applied",
			logging.Field{Key: "key", Value: key},
			logging.Field{Key: "penalty", Value: d.String()},
		)
	}
}

// SyncRemote reconciles the local window with the platform's own quota
// headers. When the platform reports fewer remaining calls than the local
// window implies, the window is padded so local admission matches.
func (l *Limiter) SyncRemote(key string, remaining int, reset time.Time) {
	if remaining < 0 {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	st := l.state(key)
	now := l.now()
	st.prune(now)

	localRemaining := st.config.BurstLimit - len(st.stamps)
	if remaining >= localRemaining {
		return
	}

	if remaining == 0 && reset.After(now) {
		if reset.After(st.notBefore) {
			st.notBefore = reset
		}
		return
	}

	// Pad the window with synthetic admissions until local capacity agrees
	// with the platform's view.
	for st.config.BurstLimit-len(st.stamps) > remaining {
		st.stamps = append(st.stamps, now)
	}
}

// Snapshot reports the current occupancy for a key, for metrics and tests.
func (l *Limiter) Snapshot(key string) (used int, limit int, penalizedUntil time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := l.state(key)
	st.prune(l.now())
	return len(st.stamps), st.config.BurstLimit, st.notBefore
}
