package process

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultsPriorityAndTimeSlice(t *testing.T) {
	p := New(Config{PID: "p1", Name: "a"})
	assert.Equal(t, defaultPriority, p.Priority())
	assert.Equal(t, defaultTimeSlice, p.TimeSlice())
	assert.Equal(t, StateReady, p.State())
}

func TestTransitionTableI2(t *testing.T) {
	now := time.Unix(0, 0)

	cases := []struct {
		from, to State
		ok       bool
	}{
		{StateReady, StateRunning, true},
		{StateRunning, StateWaiting, true},
		{StateRunning, StateSuspended, true},
		{StateRunning, StateError, true},
		{StateWaiting, StateReady, true},
		{StateSuspended, StateReady, true},
		{StateError, StateReady, true},
		{StateReady, StateWaiting, false},
		{StateWaiting, StateSuspended, false},
		{StateTerminated, StateReady, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.ok, CanTransition(c.from, c.to), "%s -> %s", c.from, c.to)
	}

	// Every non-terminal state may transition to TERMINATED (I2).
	for _, s := range []State{StateReady, StateRunning, StateWaiting, StateSuspended, StateError} {
		assert.True(t, CanTransition(s, StateTerminated), "%s -> TERMINATED", s)
	}

	p := New(Config{PID: "p1", Now: now})
	require.NoError(t, p.Transition(StateRunning, now))
	require.NoError(t, p.Transition(StateSuspended, now))
	require.Error(t, p.Transition(StateWaiting, now))
}

func TestTerminatedNeverReenters(t *testing.T) {
	// I3: a TERMINATED process never re-enters any other state.
	p := New(Config{PID: "p1"})
	now := time.Unix(0, 0)
	require.NoError(t, p.Transition(StateTerminated, now))
	assert.Error(t, p.Transition(StateReady, now))
	assert.Error(t, p.Transition(StateRunning, now))
	assert.Equal(t, StateTerminated, p.State())
}

func TestTerminatedAtImpliesTerminatedState(t *testing.T) {
	// I4.
	p := New(Config{PID: "p1"})
	now := time.Unix(100, 0)
	require.NoError(t, p.Transition(StateTerminated, now))
	assert.Equal(t, now, p.TerminatedAt())
	assert.Equal(t, StateTerminated, p.State())
}

func TestRecordErrorCountsConsecutive(t *testing.T) {
	p := New(Config{PID: "p1"})
	assert.Equal(t, 1, p.RecordError("boom"))
	assert.Equal(t, 2, p.RecordError("boom again"))
	assert.Equal(t, "boom again", p.LastError())
	p.ResetErrors()
	assert.Equal(t, 0, p.ErrorCount())
}

func TestSnapshotRoundTripPreservesFields(t *testing.T) {
	p := New(Config{PID: "p1", Name: "agent", Priority: 20})
	p.AddUsage(100, 2, time.Second)
	p.SetContextValue("k", "v")

	snap := p.Snapshot()
	assert.Equal(t, PID("p1"), snap.PID)
	assert.Equal(t, "agent", snap.Name)
	assert.Equal(t, 20, snap.Priority)
	assert.Equal(t, int64(100), snap.TokenCount)
	assert.Equal(t, "v", snap.Context["k"])
}

func TestFromSnapshotResetsCountersForNewPID(t *testing.T) {
	p := New(Config{PID: "p1", Name: "agent", Priority: 20})
	p.AddUsage(500, 5, time.Minute)
	snap := p.Snapshot()

	clone := FromSnapshot(PID("p2"), snap, time.Now())
	assert.Equal(t, PID("p2"), clone.PID())
	assert.Equal(t, StateReady, clone.State())
	assert.Equal(t, int64(0), clone.TokenCount())
	assert.Equal(t, int64(0), clone.CallCount())
	assert.Equal(t, "agent", clone.Name())
	assert.Equal(t, 20, clone.Priority())
}
