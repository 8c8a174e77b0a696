// Package ratelimit enforces per-user, per-operation sliding-window limits
// with repeat-offender blacklisting.
package ratelimit

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ragnote/ragcore/internal/metrics"
)

// ErrRateLimited reports a denied request. The handler layer maps it to 429.
var ErrRateLimited = errors.New("rate limit exceeded")

// Limit is a request budget over a sliding window.
type Limit struct {
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

// defaultLimits apply when no override file is loaded. Unknown operations
// fall back to api_default.
var defaultLimits = map[string]Limit{
	"chat":          {Requests: 20, Window: time.Minute},
	"upload":        {Requests: 10, Window: time.Minute},
	"voice":         {Requests: 5, Window: time.Minute},
	"login":         {Requests: 5, Window: 5 * time.Minute},
	"register":      {Requests: 3, Window: time.Hour},
	"config_update": {Requests: 10, Window: time.Minute},
	"search":        {Requests: 30, Window: time.Minute},
	"api_default":   {Requests: 100, Window: time.Minute},
}

const (
	violationLimit  = 5
	violationWindow = 10 * time.Minute
	blacklistFor    = 30 * time.Minute
	warnThreshold   = 0.8
)

// Quota describes the remaining budget for one user/operation pair.
type Quota struct {
	Limit         int     `json:"limit"`
	Used          int     `json:"used"`
	Remaining     int     `json:"remaining"`
	ResetIn       float64 `json:"reset_in"`
	WindowSeconds float64 `json:"window_seconds"`
}

// Limiter tracks request timestamps per "user:operation" key in memory.
type Limiter struct {
	mu        sync.Mutex
	limits    map[string]Limit
	requests  map[string][]time.Time
	blacklist map[string]time.Time // user -> expiry
	now       func() time.Time
	logger    *zap.Logger
}

// New builds a limiter with the built-in limits, optionally overridden by a
// YAML file at RATE_LIMITS_PATH.
func New(logger *zap.Logger) *Limiter {
	limits := make(map[string]Limit, len(defaultLimits))
	for op, l := range defaultLimits {
		limits[op] = l
	}

	if path := os.Getenv("RATE_LIMITS_PATH"); path != "" {
		if overrides, err := loadOverrides(path); err != nil {
			logger.Warn("Rate limit overrides not loaded", zap.String("path", path), zap.Error(err))
		} else {
			for op, l := range overrides {
				limits[op] = l
			}
			logger.Info("Loaded rate limit overrides", zap.String("path", path), zap.Int("count", len(overrides)))
		}
	}

	return &Limiter{
		limits:    limits,
		requests:  make(map[string][]time.Time),
		blacklist: make(map[string]time.Time),
		now:       time.Now,
		logger:    logger,
	}
}

func loadOverrides(path string) (map[string]Limit, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc struct {
		Limits map[string]struct {
			Requests      int `yaml:"requests"`
			WindowSeconds int `yaml:"window_seconds"`
		} `yaml:"limits"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse overrides: %w", err)
	}
	out := make(map[string]Limit, len(doc.Limits))
	for op, l := range doc.Limits {
		if l.Requests <= 0 || l.WindowSeconds <= 0 {
			continue
		}
		out[op] = Limit{Requests: l.Requests, Window: time.Duration(l.WindowSeconds) * time.Second}
	}
	return out, nil
}

func (l *Limiter) limitFor(operation string) Limit {
	if lim, ok := l.limits[operation]; ok {
		return lim
	}
	return l.limits["api_default"]
}

// Allow records a request for user/operation if within budget. A denied
// request counts as a violation; repeated violations blacklist the user.
func (l *Limiter) Allow(user, operation string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	if until, ok := l.blacklist[user]; ok {
		if now.Before(until) {
			metrics.RateLimitDenials.WithLabelValues(operation).Inc()
			return fmt.Errorf("%w: temporarily blocked for %.0f more seconds",
				ErrRateLimited, until.Sub(now).Seconds())
		}
		delete(l.blacklist, user)
	}

	lim := l.limitFor(operation)
	key := user + ":" + operation
	live := l.prune(key, now, lim.Window)

	if len(live) >= lim.Requests {
		l.recordViolation(user, now)
		metrics.RateLimitDenials.WithLabelValues(operation).Inc()
		resetIn := lim.Window - now.Sub(live[0])
		return fmt.Errorf("%w: %s quota of %d per %s reached, retry in %.0f seconds",
			ErrRateLimited, operation, lim.Requests, lim.Window, resetIn.Seconds())
	}

	l.requests[key] = append(live, now)

	if used := len(live) + 1; float64(used) >= warnThreshold*float64(lim.Requests) {
		l.logger.Debug("Rate limit nearing",
			zap.String("user", user),
			zap.String("operation", operation),
			zap.Int("used", used),
			zap.Int("limit", lim.Requests),
		)
	}
	return nil
}

// RetryAfter returns the seconds until the oldest tracked request for
// user/operation leaves the window. Zero when under budget.
func (l *Limiter) RetryAfter(user, operation string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if until, ok := l.blacklist[user]; ok && now.Before(until) {
		return int(until.Sub(now).Seconds()) + 1
	}

	lim := l.limitFor(operation)
	live := l.prune(user+":"+operation, now, lim.Window)
	if len(live) < lim.Requests {
		return 0
	}
	return int((lim.Window - now.Sub(live[0])).Seconds()) + 1
}

// GetQuota reports current usage for user/operation.
func (l *Limiter) GetQuota(user, operation string) Quota {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	lim := l.limitFor(operation)
	live := l.prune(user+":"+operation, now, lim.Window)

	resetIn := 0.0
	if len(live) > 0 {
		resetIn = (lim.Window - now.Sub(live[0])).Seconds()
		if resetIn < 0 {
			resetIn = 0
		}
	}
	remaining := lim.Requests - len(live)
	if remaining < 0 {
		remaining = 0
	}
	return Quota{
		Limit:         lim.Requests,
		Used:          len(live),
		Remaining:     remaining,
		ResetIn:       resetIn,
		WindowSeconds: lim.Window.Seconds(),
	}
}

// Blacklist manually blocks a user for the standard blacklist duration.
func (l *Limiter) Blacklist(user string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.blacklist[user] = l.now().Add(blacklistFor)
	metrics.BlacklistedUsers.Set(float64(len(l.blacklist)))
	l.logger.Warn("User blacklisted", zap.String("user", user))
}

// Unblacklist removes a manual or automatic block.
func (l *Limiter) Unblacklist(user string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.blacklist, user)
	metrics.BlacklistedUsers.Set(float64(len(l.blacklist)))
}

// Stats summarizes limiter state for the admin surface.
func (l *Limiter) Stats() map[string]interface{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	users := make(map[string]struct{})
	total := 0
	for key, times := range l.requests {
		if len(times) == 0 {
			continue
		}
		total += len(times)
		if i := strings.IndexByte(key, ':'); i > 0 {
			users[key[:i]] = struct{}{}
		}
	}

	blacklisted := make(map[string]float64)
	for user, until := range l.blacklist {
		if now.Before(until) {
			blacklisted[user] = until.Sub(now).Seconds()
		}
	}

	return map[string]interface{}{
		"active_users":           len(users),
		"total_requests_tracked": total,
		"blacklisted_users":      len(blacklisted),
		"blacklist":              blacklisted,
	}
}

// prune drops timestamps outside the window; caller holds the lock.
func (l *Limiter) prune(key string, now time.Time, window time.Duration) []time.Time {
	times := l.requests[key]
	cutoff := now.Add(-window)
	i := 0
	for i < len(times) && !times[i].After(cutoff) {
		i++
	}
	live := times[i:]
	if i > 0 {
		l.requests[key] = live
	}
	if len(live) == 0 {
		delete(l.requests, key)
	}
	return live
}

func (l *Limiter) recordViolation(user string, now time.Time) {
	key := user + ":violations"
	live := l.prune(key, now, violationWindow)
	live = append(live, now)
	l.requests[key] = live

	if len(live) >= violationLimit {
		l.blacklist[user] = now.Add(blacklistFor)
		delete(l.requests, key)
		metrics.BlacklistedUsers.Set(float64(len(l.blacklist)))
		l.logger.Warn("User blacklisted for repeated violations",
			zap.String("user", user),
			zap.Int("violations", len(live)),
		)
	}
}
