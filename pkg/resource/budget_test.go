package resource

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wisebound/sentinel/pkg/apperrors"
)

func TestRecordTokensWithinBudgetDoesNotTrip(t *testing.T) {
	m := NewMonitor(Limits{MaxTokensPerRound: 1000, MaxTokensPerHour: 5000, MaxRoundDuration: time.Minute})
	m.StartRound()

	require.NoError(t, m.RecordTokens(100, 200))
	snap := m.Snapshot()
	assert.Equal(t, 300, snap.TokensThisRound)
	assert.False(t, snap.Tripped)
}

func TestRecordTokensTripsOnRoundCeiling(t *testing.T) {
	m := NewMonitor(Limits{MaxTokensPerRound: 100, MaxTokensPerHour: 100000})
	m.StartRound()

	err := m.RecordTokens(80, 80)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindCapacity))

	snap := m.Snapshot()
	assert.True(t, snap.Tripped)
	assert.Equal(t, "round token budget exceeded", snap.TripReason)
}

func TestRecordTokensTripsOnHourlyCeiling(t *testing.T) {
	m := NewMonitor(Limits{MaxTokensPerRound: 1000000, MaxTokensPerHour: 150})
	m.StartRound()

	require.NoError(t, m.RecordTokens(50, 50))
	err := m.RecordTokens(30, 30)
	require.Error(t, err)
	assert.Equal(t, "hourly token budget exceeded", m.Snapshot().TripReason)
}

func TestHourlyWindowPrunesOldSamples(t *testing.T) {
	m := NewMonitor(Limits{MaxTokensPerHour: 1000000})
	cursor := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return cursor }

	m.StartRound()
	require.NoError(t, m.RecordTokens(100, 0))
	assert.Equal(t, 100, m.Snapshot().TokensThisHour)

	cursor = cursor.Add(2 * time.Hour)
	require.NoError(t, m.RecordTokens(50, 0))
	assert.Equal(t, 50, m.Snapshot().TokensThisHour)
}

func TestCheckDurationTripsAfterDeadline(t *testing.T) {
	m := NewMonitor(Limits{MaxRoundDuration: 10 * time.Second})
	cursor := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return cursor }

	m.StartRound()
	require.NoError(t, m.CheckDuration())

	cursor = cursor.Add(11 * time.Second)
	err := m.CheckDuration()
	require.Error(t, err)
	assert.True(t, m.Snapshot().Tripped)
}

func TestResetClearsTrippedState(t *testing.T) {
	m := NewMonitor(Limits{MaxTokensPerRound: 10})
	m.StartRound()
	_ = m.RecordTokens(20, 0)
	require.True(t, m.Snapshot().Tripped)

	m.Reset()
	snap := m.Snapshot()
	assert.False(t, snap.Tripped)
	assert.Empty(t, snap.TripReason)
}

func TestStartRoundResetsPerRoundCounter(t *testing.T) {
	m := NewMonitor(Limits{MaxTokensPerRound: 1000})
	m.StartRound()
	require.NoError(t, m.RecordTokens(500, 0))
	assert.Equal(t, 500, m.Snapshot().TokensThisRound)

	m.StartRound()
	assert.Equal(t, 0, m.Snapshot().TokensThisRound)
}
