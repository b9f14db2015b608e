package pager

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentkernel/agentkernel/pkg/clock"
	"github.com/agentkernel/agentkernel/pkg/process"
)

// fixedEstimator charges a constant token cost regardless of content,
// giving deterministic swap-pressure scenarios.
type fixedEstimator struct{ cost int }

func (f fixedEstimator) Estimate(content string) int {
	if content == "" {
		return 0
	}
	return f.cost
}

func TestAllocateAccessRoundTrip(t *testing.T) {
	m := NewManager(Config{MaxContextTokens: 1000, Estimator: fixedEstimator{cost: 10}, Clock: clock.NewFrozen(time.Unix(0, 0))})

	id, err := m.Allocate(process.PID("p1"), "hello", 0.5, PageGeneral)
	require.NoError(t, err)

	page, ok := m.Access(id, process.PID("p1"))
	require.True(t, ok)
	assert.Equal(t, "hello", page.Content)
	assert.Equal(t, 1, page.AccessCount)
}

func TestAccessDeniedForOtherAgent(t *testing.T) {
	m := NewManager(Config{MaxContextTokens: 1000, Estimator: fixedEstimator{cost: 10}, Clock: clock.NewFrozen(time.Unix(0, 0))})

	id, err := m.Allocate(process.PID("owner"), "secret", 0.5, PageGeneral)
	require.NoError(t, err)

	_, ok := m.Access(id, process.PID("intruder"))
	assert.False(t, ok, "a page must not be readable by a PID that doesn't own it")
}

func TestContextSwap(t *testing.T) {
	// Scenario 4: max_context_tokens=100, ten pages of cost 20 at
	// importance 0.1 each; the in-memory set stabilizes at 5 pages and
	// swaps_out >= 5.
	clk := clock.NewFrozen(time.Unix(0, 0))
	m := NewManager(Config{MaxContextTokens: 100, Estimator: fixedEstimator{cost: 20}, Clock: clk})

	pid := process.PID("p1")
	for i := 0; i < 10; i++ {
		clk.Advance(time.Second)
		_, err := m.Allocate(pid, "page content", 0.1, PageGeneral)
		require.NoError(t, err)
	}

	stats := m.Stats()
	assert.Equal(t, 5, stats.PagesInMemory)
	assert.GreaterOrEqual(t, stats.SwapOuts, int64(5))
	assert.LessOrEqual(t, stats.CurrentUsage, stats.MaxTokens)

	ids := m.AgentPageIDs(pid)
	require.NotEmpty(t, ids)

	before := m.Stats()
	_, ok := m.Access(ids[0], pid)
	require.True(t, ok)
	after := m.Stats()

	if before.PagesSwapped > 0 {
		assert.Equal(t, before.PageFaults+1, after.PageFaults)
		assert.Equal(t, before.SwapIns+1, after.SwapIns)
	}
}

func TestContextExhaustedMutatesNoState(t *testing.T) {
	m := NewManager(Config{MaxContextTokens: 50, Estimator: fixedEstimator{cost: 100}, Clock: clock.NewFrozen(time.Unix(0, 0))})

	before := m.CurrentUsage()
	_, err := m.Allocate(process.PID("p1"), "too big", 0.9, PageGeneral)
	assert.ErrorIs(t, err, ErrContextExhausted)
	assert.Equal(t, before, m.CurrentUsage())
}

func TestUsageInvariant(t *testing.T) {
	clk := clock.NewFrozen(time.Unix(0, 0))
	m := NewManager(Config{MaxContextTokens: 1000, Estimator: fixedEstimator{cost: 15}, Clock: clk})

	pid := process.PID("p1")
	for i := 0; i < 20; i++ {
		clk.Advance(time.Second)
		_, _ = m.Allocate(pid, "x", 0.3, PageGeneral)
	}

	stats := m.Stats()
	assert.LessOrEqual(t, stats.CurrentUsage, stats.MaxTokens)
	assert.Equal(t, stats.PagesInMemory*15, stats.CurrentUsage)
}
