// Package ratelimit gates write operations client-side before they reach
// the remote store. Each category combines a minimum cooldown since the
// last accepted action with one or more sliding-window caps; an action is
// recorded only when it clears every gate.
package ratelimit

import (
	"sync"
	"time"

	"pagestore/pkg/telemetry"
)

// Window caps accepted actions inside a sliding span.
type Window struct {
	Span time.Duration
	Max  int
}

// Category configures the gates for one rate-limited action category.
type Category struct {
	Cooldown time.Duration
	Windows  []Window
}

// Decision is the outcome of a check. RetryAfter is a hint for consumers
// that want to show "try again in Ns" messaging.
type Decision struct {
	Allowed    bool
	Reason     string
	RetryAfter time.Duration
}

// Limiter tracks accepted action timestamps per category.
type Limiter struct {
	mu      sync.Mutex
	cats    map[string]Category
	history map[string][]time.Time
	now     func() time.Time
}

// New creates a limiter for the given category configs. Categories not
// present in cats are unrestricted.
func New(cats map[string]Category) *Limiter {
	return &Limiter{
		cats:    cats,
		history: make(map[string][]time.Time),
		now:     time.Now,
	}
}

// Check applies the cooldown and every window cap for category.
func (l *Limiter) Check(category string) Decision {
	return l.check(category, false)
}

// CheckSwitch is Check minus the cooldown gate. Reaction toggles that
// merely switch from one type to the other are a correction, not new spam,
// so only the window caps apply.
func (l *Limiter) CheckSwitch(category string) Decision {
	return l.check(category, true)
}

// SetClock overrides the time source. Intended for tests.
func (l *Limiter) SetClock(now func() time.Time) { l.now = now }

func (l *Limiter) check(category string, skipCooldown bool) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	cfg, ok := l.cats[category]
	if !ok {
		return Decision{Allowed: true}
	}
	now := l.now()

	// prune history past the widest window; cooldown also needs the most
	// recent accepted timestamp, so keep at least that much
	keep := cfg.Cooldown
	for _, w := range cfg.Windows {
		if w.Span > keep {
			keep = w.Span
		}
	}
	hist := l.history[category]
	cut := 0
	for cut < len(hist) && now.Sub(hist[cut]) >= keep {
		cut++
	}
	hist = hist[cut:]
	l.history[category] = hist

	if !skipCooldown && cfg.Cooldown > 0 && len(hist) > 0 {
		since := now.Sub(hist[len(hist)-1])
		if since < cfg.Cooldown {
			telemetry.ObserveRateLimitRejection(category, "cooldown")
			return Decision{Reason: "cooldown", RetryAfter: cfg.Cooldown - since}
		}
	}

	for _, w := range cfg.Windows {
		inWindow := 0
		oldestIdx := -1
		for i, ts := range hist {
			if now.Sub(ts) < w.Span {
				if oldestIdx < 0 {
					oldestIdx = i
				}
				inWindow++
			}
		}
		if w.Max > 0 && inWindow >= w.Max {
			// allowed again once enough entries age out of the window
			freeAt := hist[oldestIdx+(inWindow-w.Max)].Add(w.Span)
			telemetry.ObserveRateLimitRejection(category, "window")
			return Decision{Reason: "window", RetryAfter: freeAt.Sub(now)}
		}
	}

	l.history[category] = append(hist, now)
	return Decision{Allowed: true}
}
