// Package cooldown tracks per-account failure backoff so the router can skip
// accounts that just failed without waiting for an external TTL store.
package cooldown

import (
	"math"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"proxygate/internal/obs"
)

const (
	backoffFloorSeconds = 15
	backoffCeilSeconds  = 300
	fallbackRetrySec    = 60
)

// penalty is one account's current backoff window plus the streak that
// produced it, so the next failure can double the wait instead of resetting.
type penalty struct {
	expiresAt time.Time
	cause     string
	streak    int
}

// registry is the process-local set of active penalties. Cooldowns are never
// meant to survive a restart or be shared across processes, so this is a
// plain guarded map rather than anything backed by external storage.
type registry struct {
	mu    sync.RWMutex
	byAcc map[string]*penalty
}

var active = &registry{byAcc: make(map[string]*penalty)}

// nextDuration computes the backoff for the Nth consecutive failure:
// an explicit Retry-After always wins, otherwise exponential doubling from
// backoffFloorSeconds, capped at backoffCeilSeconds.
func nextDuration(streak, retryAfterSec int) time.Duration {
	if retryAfterSec > 0 {
		return time.Duration(retryAfterSec) * time.Second
	}
	secs := math.Min(float64(backoffFloorSeconds)*math.Pow(2, float64(streak-1)), float64(backoffCeilSeconds))
	return time.Duration(secs) * time.Second
}

// Set records a failure for accountID, extending its cooldown. retryAfterSec
// of 0 falls back to the exponential schedule.
func Set(accountID, reason string, retryAfterSec int) {
	active.mu.Lock()
	defer active.mu.Unlock()

	streak := 1
	if prior, ok := active.byAcc[accountID]; ok {
		streak = prior.streak + 1
	}

	dur := nextDuration(streak, retryAfterSec)
	active.byAcc[accountID] = &penalty{
		expiresAt: time.Now().Add(dur),
		cause:     reason,
		streak:    streak,
	}

	obs.L().Info("account entered cooldown",
		zap.String("account", accountID),
		zap.Duration("duration", dur),
		zap.String("reason", reason),
		zap.Int("streak", streak),
	)
}

// IsOnCooldown reports whether accountID is currently serving a penalty,
// lazily reaping it once it has expired.
func IsOnCooldown(accountID string) bool {
	active.mu.RLock()
	p, ok := active.byAcc[accountID]
	active.mu.RUnlock()

	if !ok {
		return false
	}
	if time.Now().After(p.expiresAt) {
		active.mu.Lock()
		delete(active.byAcc, accountID)
		active.mu.Unlock()
		return false
	}
	return true
}

// Clear removes any penalty for accountID, typically after a successful call.
func Clear(accountID string) {
	active.mu.Lock()
	defer active.mu.Unlock()
	delete(active.byAcc, accountID)
}

// CooldownUntil returns when accountID's penalty expires, or the zero Time
// if it has none (or it already lapsed). Callers use this to stable-sort
// candidates by how soon they'll be usable again.
func CooldownUntil(accountID string) time.Time {
	active.mu.RLock()
	defer active.mu.RUnlock()
	p, ok := active.byAcc[accountID]
	if !ok || time.Now().After(p.expiresAt) {
		return time.Time{}
	}
	return p.expiresAt
}

// ParseRetryAfter interprets an HTTP Retry-After header, which may be either
// a delay in seconds or an HTTP-date, falling back to fallbackRetrySec when
// the header is absent or unparsable.
func ParseRetryAfter(headerValue string) int {
	if headerValue == "" {
		return 0
	}
	if secs, err := strconv.Atoi(headerValue); err == nil && secs > 0 {
		return secs
	}
	if when, err := time.Parse(time.RFC1123, headerValue); err == nil {
		if remaining := int(time.Until(when).Seconds()); remaining > 0 {
			return remaining
		}
		return fallbackRetrySec
	}
	return fallbackRetrySec
}
