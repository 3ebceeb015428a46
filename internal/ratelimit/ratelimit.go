// Package ratelimit implements the per-tool denial rate limiter (C5): an
// exponential backoff schedule keyed on consecutive denials for a given
// tool name, process-local and never persisted.
//
// A mutex-guarded, map-keyed, single-process store: nothing here is
// written to disk, and state never outlives the process.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ralph-run/ralph/internal/models"
)

// Limiter tracks DenialRecords per tool name and answers is_blocked /
// record_denial / reset / get_remaining.
type Limiter struct {
	mu      sync.Mutex
	records map[string]*models.DenialRecord
	now     func() time.Time
}

// New builds an empty, process-local rate limiter.
func New() *Limiter {
	return &Limiter{records: make(map[string]*models.DenialRecord), now: time.Now}
}

// backoffFor implements the fixed escalating schedule: 1-2 denials -> 0s,
// 3 -> 5s, 4 -> 15s, 5 -> 60s, >=6 -> 300s.
func backoffFor(count int) time.Duration {
	switch {
	case count <= 2:
		return 0
	case count == 3:
		return 5 * time.Second
	case count == 4:
		return 15 * time.Second
	case count == 5:
		return 60 * time.Second
	default:
		return 300 * time.Second
	}
}

// IsBlocked reports whether tool is currently within its backoff window.
func (l *Limiter) IsBlocked(tool string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[tool]
	if !ok {
		return false
	}
	return l.now().Before(rec.BackoffUntilTS)
}

// RecordDenial increments tool's denial counter and recomputes its
// backoff window from the fixed schedule.
func (l *Limiter) RecordDenial(tool string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[tool]
	if !ok {
		rec = &models.DenialRecord{}
		l.records[tool] = rec
	}
	now := l.now()
	rec.Count++
	rec.LastDenialTS = now
	rec.BackoffUntilTS = now.Add(backoffFor(rec.Count))
}

// Reset clears tool's denial state. Called on explicit user approval, on
// TTL expiry with no new denials (the caller is responsible for invoking
// this once its own expiry timer fires), or a full session restart
// (a fresh Limiter achieves that implicitly).
func (l *Limiter) Reset(tool string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.records, tool)
}

// GetRemaining returns the seconds left until tool is unblocked, 0 if it
// is not currently blocked.
func (l *Limiter) GetRemaining(tool string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[tool]
	if !ok {
		return 0
	}
	remaining := rec.BackoffUntilTS.Sub(l.now())
	if remaining <= 0 {
		return 0
	}
	return int(remaining.Seconds() + 0.999)
}

// IssuanceLimiter is a secondary, tool-agnostic soft cap on how often the
// Approval Engine may open a new interactive prompt at all, independent
// of any single tool's own backoff schedule: a burst of distinct gated
// tools (each individually under its own backoff) could otherwise still
// flood an interactive user with prompts back to back. Backed by
// golang.org/x/time/rate rather than a hand-rolled token bucket (see
// DESIGN.md).
type IssuanceLimiter struct {
	limiter *rate.Limiter
}

// NewIssuanceLimiter builds a limiter allowing up to burst prompts
// immediately, refilling at ratePerSecond thereafter.
func NewIssuanceLimiter(ratePerSecond float64, burst int) *IssuanceLimiter {
	return &IssuanceLimiter{limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst)}
}

// Allow reports whether a new prompt may be issued right now, consuming
// one token if so.
func (i *IssuanceLimiter) Allow() bool {
	if i == nil {
		return true
	}
	return i.limiter.Allow()
}
