package checkpoint

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentkernel/agentkernel/pkg/clock"
	"github.com/agentkernel/agentkernel/pkg/pager"
	"github.com/agentkernel/agentkernel/pkg/process"
	"github.com/agentkernel/agentkernel/pkg/storage"
)

func TestCheckpointRoundTrip(t *testing.T) {
	// End-to-end scenario 5: allocate two pages for pid P; create
	// checkpoint C; allocate a third page; restore_checkpoint(C) yields
	// pid P' != P with exactly two pages whose contents match the first
	// two; C survives after P is terminated.
	clk := clock.NewFrozen(time.Unix(0, 0))
	backend := storage.NewMemoryBackend()
	pg := pager.NewManager(pager.Config{MaxContextTokens: 10000, Clock: clk})
	mgr := NewManager(backend, pg, clk)

	pid := process.PID("p1")
	p := process.New(process.Config{PID: pid, Name: "agent", Now: clk.Now()})

	_, err := pg.Allocate(pid, "page one", 0.8, pager.PageGeneral)
	require.NoError(t, err)
	_, err = pg.Allocate(pid, "page two", 0.8, pager.PageGeneral)
	require.NoError(t, err)

	ck, err := mgr.Create(p, "before third page", nil, "")
	require.NoError(t, err)

	_, err = pg.Allocate(pid, "page three", 0.8, pager.PageGeneral)
	require.NoError(t, err)

	loaded, ok, err := mgr.Load(ck.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, loaded.Pages, 2)

	restored, err := mgr.Restore(loaded)
	require.NoError(t, err)
	assert.NotEqual(t, pid, restored.PID())
	assert.Equal(t, process.StateReady, restored.State())

	contents := []string{}
	for _, id := range pg.AgentPageIDs(restored.PID()) {
		page, ok := pg.PageByID(id)
		require.True(t, ok)
		contents = append(contents, page.Content)
	}
	assert.ElementsMatch(t, []string{"page one", "page two"}, contents)

	// C survives after P is terminated (checkpoints are independent of the
	// scheduler's process table).
	require.NoError(t, p.Transition(process.StateTerminated, clk.Now()))
	pg.Release(pid)
	_, stillOK, err := mgr.Load(ck.ID)
	require.NoError(t, err)
	assert.True(t, stillOK)
}

func TestChecksumMismatchReturnsFalseNotError(t *testing.T) {
	clk := clock.NewFrozen(time.Unix(0, 0))
	backend := storage.NewMemoryBackend()
	pg := pager.NewManager(pager.Config{MaxContextTokens: 1000, Clock: clk})
	mgr := NewManager(backend, pg, clk)

	pid := process.PID("p1")
	p := process.New(process.Config{PID: pid, Now: clk.Now()})
	ck, err := mgr.Create(p, "desc", nil, "")
	require.NoError(t, err)

	rec, ok, err := backend.LoadCheckpoint(ck.ID)
	require.NoError(t, err)
	require.True(t, ok)
	rec.Checksum = "corrupted"
	_, err = backend.SaveCheckpoint(rec)
	require.NoError(t, err)

	loaded, ok, err := mgr.Load(ck.ID)
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, loaded)
}

func TestCollectGarbageRespectsChainRefs(t *testing.T) {
	// C2: expired checkpoints may be GC'd only when no child references
	// them.
	clk := clock.NewFrozen(time.Unix(0, 0))
	backend := storage.NewMemoryBackend()
	pg := pager.NewManager(pager.Config{MaxContextTokens: 1000, Clock: clk})
	mgr := NewManager(backend, pg, clk)

	pid := process.PID("p1")
	p := process.New(process.Config{PID: pid, Now: clk.Now()})

	parent, err := mgr.Create(p, "parent", nil, "")
	require.NoError(t, err)
	child, err := mgr.Create(p, "child", nil, parent.ID)
	require.NoError(t, err)

	now := clk.Now().Add(48 * time.Hour)
	collected := mgr.CollectGarbage([]*Checkpoint{parent}, now, time.Hour)
	assert.Empty(t, collected, "parent must not be collected while child references it")

	collected = mgr.CollectGarbage([]*Checkpoint{child}, now, time.Hour)
	assert.Equal(t, []string{child.ID}, collected)

	collected = mgr.CollectGarbage([]*Checkpoint{parent}, now, time.Hour)
	assert.Equal(t, []string{parent.ID}, collected, "parent collectible once its only child is gone")
}
