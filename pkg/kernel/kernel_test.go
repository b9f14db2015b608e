package kernel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentkernel/agentkernel/pkg/clock"
	"github.com/agentkernel/agentkernel/pkg/process"
	"github.com/agentkernel/agentkernel/pkg/quota"
)

func TestSpawnAndStepOnceScenario(t *testing.T) {
	// End-to-end scenario 1: max_context_tokens=100000; spawn "A" with task
	// "T", priority 30. After run(max_iterations=1) with a stub LLM that
	// returns {reasoning:"X", done:true}, the process is TERMINATED, there
	// is exactly one audit entry of type llm_reasoning, and the context
	// (observed before termination releases it) contains both pages.
	clk := clock.NewFrozen(time.Unix(0, 0))

	var assembledContext string
	k := New(Config{
		MaxContextTokens: 100000,
		Clock:            clk,
		Step: func(pid process.PID, ctx string) (StepDecision, error) {
			assembledContext = ctx
			return StepDecision{Reasoning: "X", Done: true}, nil
		},
	})

	pid, err := k.SpawnAgent("A", "T", 30, nil)
	require.NoError(t, err)

	require.NoError(t, k.Run(1, ""))

	assert.Contains(t, assembledContext, "agent A")
	assert.Contains(t, assembledContext, "T")

	snap, err := k.GetAgentStatus(pid)
	require.NoError(t, err)
	assert.Equal(t, process.StateTerminated, snap.State)

	trail, err := k.GetAuditTrail(pid, 0)
	require.NoError(t, err)

	var reasoningEntries int
	for _, e := range trail {
		if e.ActionType == "llm_reasoning" {
			reasoningEntries++
		}
	}
	assert.Equal(t, 1, reasoningEntries)
}

func TestQuotaDenialMovesAgentToWaiting(t *testing.T) {
	clk := clock.NewFrozen(time.Unix(0, 0))
	k := New(Config{
		MaxContextTokens: 100000,
		Quota:            quota.Config{MaxTokensPerWindow: 10}, // smaller than the fixed 500-token step charge
		Clock:            clk,
		Step: func(pid process.PID, ctx string) (StepDecision, error) {
			t.Fatal("step function must not run when quota denies the request")
			return StepDecision{}, nil
		},
	})

	pid, err := k.SpawnAgent("A", "T", 30, nil)
	require.NoError(t, err)

	require.NoError(t, k.Run(1, ""))

	snap, err := k.GetAgentStatus(pid)
	require.NoError(t, err)
	assert.Equal(t, process.StateWaiting, snap.State)
}

func TestCreateAndRestoreCheckpointViaKernel(t *testing.T) {
	clk := clock.NewFrozen(time.Unix(0, 0))
	k := New(Config{
		MaxContextTokens: 100000,
		Clock:            clk,
		Step: func(pid process.PID, ctx string) (StepDecision, error) {
			return StepDecision{Reasoning: "noop", Done: false}, nil
		},
	})

	pid, err := k.SpawnAgent("A", "T", 50, nil)
	require.NoError(t, err)

	ckID, err := k.CreateCheckpoint(pid, "before restore")
	require.NoError(t, err)
	require.NotEmpty(t, ckID)

	newPID, err := k.RestoreCheckpoint(ckID)
	require.NoError(t, err)
	assert.NotEqual(t, pid, newPID)

	snap, err := k.GetAgentStatus(newPID)
	require.NoError(t, err)
	assert.Equal(t, process.StateReady, snap.State)
}

func TestTerminateAgentReleasesPagesAndMarksTerminated(t *testing.T) {
	clk := clock.NewFrozen(time.Unix(0, 0))
	k := New(Config{MaxContextTokens: 100000, Clock: clk})

	pid, err := k.SpawnAgent("A", "T", 50, nil)
	require.NoError(t, err)

	require.NoError(t, k.TerminateAgent(pid, "manual"))

	ctx := k.PagerStats()
	assert.Equal(t, 0, ctx.PagesInMemory)

	snap, err := k.GetAgentStatus(pid)
	require.NoError(t, err)
	assert.Equal(t, process.StateTerminated, snap.State)
}
