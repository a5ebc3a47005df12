// Package resource tracks per-round token and time budget consumption
// (SPEC_FULL.md §10 supplemented feature,
// grounded on ciris_engine's resource_monitor and on
// itsneelabh-gomind/resilience/circuit_breaker.go's threshold-trip style:
// a running window of consumption that trips into a back-pressure state
// once a ceiling is crossed).
package resource

import (
	"sync"
	"time"

	"github.com/wisebound/sentinel/pkg/apperrors"
)

// Limits bounds the resources one processing round, and the rolling
// window around it, may consume before the monitor trips.
type Limits struct {
	MaxTokensPerRound int
	MaxRoundDuration  time.Duration
	MaxTokensPerHour  int
}

// DefaultLimits returns conservative defaults sized for a single-agent
// deployment.
func DefaultLimits() Limits {
	return Limits{
		MaxTokensPerRound: 20000,
		MaxRoundDuration:  30 * time.Second,
		MaxTokensPerHour:  500000,
	}
}

// Usage is a snapshot of consumption, returned by Monitor.Snapshot. It is
// not part of the scheduler's queue_status report.
type Usage struct {
	TokensThisRound int
	TokensThisHour  int
	Tripped         bool
	TripReason      string
}

// hourlySample is one round's token consumption, timestamped for the
// rolling hourly window.
type hourlySample struct {
	at     time.Time
	tokens int
}

// Monitor tracks token and wall-clock consumption across rounds and trips
// into a back-pressure state when a limit is exceeded (spec.md §7:
// "Capacity: rate limit hit, queue full — back-pressure: suspend scheduler
// round, re-queue at tail").
type Monitor struct {
	limits Limits
	now    func() time.Time

	mu           sync.Mutex
	samples      []hourlySample
	roundTokens  int
	roundStarted time.Time
	tripped      bool
	tripReason   string
}

// NewMonitor builds a Monitor over the given limits.
func NewMonitor(limits Limits) *Monitor {
	return &Monitor{limits: limits, now: func() time.Time { return time.Now().UTC() }}
}

// StartRound resets the per-round counter and records the round's start
// time for the duration check.
func (m *Monitor) StartRound() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roundTokens = 0
	m.roundStarted = m.now()
}

// RecordTokens adds to the current round's token consumption and the
// rolling hourly window, tripping the monitor if either ceiling is
// exceeded.
func (m *Monitor) RecordTokens(tokensIn, tokensOut int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	total := tokensIn + tokensOut
	m.roundTokens += total
	now := m.now()
	m.samples = append(m.samples, hourlySample{at: now, tokens: total})
	m.pruneLocked(now)

	if m.limits.MaxTokensPerRound > 0 && m.roundTokens > m.limits.MaxTokensPerRound {
		m.tripped = true
		m.tripReason = "round token budget exceeded"
	}
	hourly := m.hourlyTotalLocked()
	if m.limits.MaxTokensPerHour > 0 && hourly > m.limits.MaxTokensPerHour {
		m.tripped = true
		m.tripReason = "hourly token budget exceeded"
	}
	if m.tripped {
		return apperrors.Capacity("resource.monitor", m.tripReason)
	}
	return nil
}

// CheckDuration reports a KindCapacity error if the current round has run
// longer than MaxRoundDuration.
func (m *Monitor) CheckDuration() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.limits.MaxRoundDuration <= 0 || m.roundStarted.IsZero() {
		return nil
	}
	if m.now().Sub(m.roundStarted) > m.limits.MaxRoundDuration {
		m.tripped = true
		m.tripReason = "round duration exceeded"
		return apperrors.Capacity("resource.monitor", m.tripReason)
	}
	return nil
}

// Reset clears the tripped state, e.g. after an operator acknowledges and
// the scheduler resumes.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tripped = false
	m.tripReason = ""
}

// Snapshot returns the current usage.
func (m *Monitor) Snapshot() Usage {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruneLocked(m.now())
	return Usage{
		TokensThisRound: m.roundTokens,
		TokensThisHour:  m.hourlyTotalLocked(),
		Tripped:         m.tripped,
		TripReason:      m.tripReason,
	}
}

func (m *Monitor) hourlyTotalLocked() int {
	total := 0
	for _, s := range m.samples {
		total += s.tokens
	}
	return total
}

func (m *Monitor) pruneLocked(now time.Time) {
	cutoff := now.Add(-time.Hour)
	i := 0
	for i < len(m.samples) && m.samples[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		m.samples = m.samples[i:]
	}
}
