// Package kernel composes the scheduler, pager, quota manager, tool
// registry, security policy, storage/checkpoint layer, event bus, and
// circuit breaker into the Agent Runtime Kernel of spec.md §4.9. It does
// not itself invoke an LLM: callers supply a StepFunc that assembles the
// model call and parses its response into a StepDecision.
package kernel

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/agentkernel/agentkernel/pkg/breaker"
	"github.com/agentkernel/agentkernel/pkg/checkpoint"
	"github.com/agentkernel/agentkernel/pkg/clock"
	"github.com/agentkernel/agentkernel/pkg/eventbus"
	"github.com/agentkernel/agentkernel/pkg/pager"
	"github.com/agentkernel/agentkernel/pkg/process"
	"github.com/agentkernel/agentkernel/pkg/quota"
	"github.com/agentkernel/agentkernel/pkg/scheduler"
	"github.com/agentkernel/agentkernel/pkg/security"
	"github.com/agentkernel/agentkernel/pkg/storage"
	"github.com/agentkernel/agentkernel/pkg/toolkit"
)

// StepDecision is the typed, implementer-produced view of an LLM turn
// (spec.md §9): the core never parses free-form model output itself.
type StepDecision struct {
	Reasoning string
	Action    *toolkit.ToolCall // nil when the agent has no tool call this turn
	Done      bool
}

// StepFunc calls the LLM and returns a StepDecision. It receives the
// context string the kernel assembled and may return an *LLMFailure
// to signal retryable vs. terminal provider errors.
type StepFunc func(pid process.PID, assembledContext string) (StepDecision, error)

// StepOutcome is step()'s return value (spec.md §4.9).
type StepOutcome struct {
	Done      bool
	Reasoning string
	Action    *toolkit.ToolCall
	Result    *toolkit.Result
	Waiting   bool
	Error     string
}

// Hook runs before/after a step.
type Hook func(pid process.PID)

// Config wires every component the Kernel composes.
type Config struct {
	MaxContextTokens int
	Quota            quota.Config
	Scheduler        scheduler.Config
	Breaker          breaker.Config
	EventBus         eventbus.Config
	Backend          storage.Backend
	Clock            clock.Clock
	Step             StepFunc
}

// Kernel is the composition root (spec.md §4.9).
type Kernel struct {
	mu sync.Mutex

	clk clock.Clock

	scheduler *scheduler.Scheduler
	pager     *pager.Manager
	quota     *quota.Manager
	tools     *toolkit.Registry
	security  *security.Manager
	checkpts  *checkpoint.Manager
	bus       *eventbus.Bus
	backend   storage.Backend
	breakers  map[string]*breaker.Breaker // keyed by dependency name, e.g. "llm"

	stepFn StepFunc

	preHooks  []Hook
	postHooks []Hook
}

// New constructs a Kernel from cfg. backend defaults to an in-memory
// storage.Backend when cfg.Backend is nil.
func New(cfg Config) *Kernel {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Default
	}
	backend := cfg.Backend
	if backend == nil {
		backend = storage.NewMemoryBackend()
	}

	pg := pager.NewManager(pager.Config{MaxContextTokens: cfg.MaxContextTokens, Clock: clk})
	sched := cfg.Scheduler
	sched.Clock = clk

	k := &Kernel{
		clk:       clk,
		scheduler: scheduler.New(sched),
		pager:     pg,
		quota:     quota.NewManager(cfg.Quota, clk.Now),
		tools:     toolkit.NewRegistry(),
		security:  security.NewManager(),
		checkpts:  checkpoint.NewManager(backend, pg, clk),
		bus:       eventbus.NewBus(cfg.EventBus),
		backend:   backend,
		breakers:  make(map[string]*breaker.Breaker),
		stepFn:    cfg.Step,
	}
	k.breakers["llm"] = breaker.New(cfg.Breaker, clk.Now)

	k.quota.IsUnmetered = func(pid process.PID) bool {
		p := k.security.GetPolicy(pid)
		return p.Unmetered && p.Level == security.LevelAdmin
	}

	k.scheduler.QuotaRequest = func(pid process.PID, tokens, calls int64) (bool, string) {
		d := k.quota.Request(pid, tokens, calls)
		return d.Admitted, d.Reason
	}

	return k
}

// Tools exposes the tool registry for the embedder to register tools into.
func (k *Kernel) Tools() *toolkit.Registry { return k.tools }

// Security exposes the security manager for the embedder to set policies.
func (k *Kernel) Security() *security.Manager { return k.security }

// Bus exposes the event bus for observers to subscribe to.
func (k *Kernel) Bus() *eventbus.Bus { return k.bus }

// Breaker returns the named dependency's circuit breaker, creating a
// default one on first use.
func (k *Kernel) Breaker(name string) *breaker.Breaker {
	k.mu.Lock()
	defer k.mu.Unlock()
	b, ok := k.breakers[name]
	if !ok {
		b = breaker.New(breaker.Config{}, k.clk.Now)
		k.breakers[name] = b
	}
	return b
}

// AddPreStepHook registers fn to run before every step.
func (k *Kernel) AddPreStepHook(fn Hook) { k.preHooks = append(k.preHooks, fn) }

// AddPostStepHook registers fn to run after every step.
func (k *Kernel) AddPostStepHook(fn Hook) { k.postHooks = append(k.postHooks, fn) }

// SpawnAgent creates a process, allocates its system and task pages,
// assigns a security policy, persists it, and enqueues it in the
// scheduler (spec.md §4.9).
func (k *Kernel) SpawnAgent(name, task string, priority int, policy *security.Policy) (process.PID, error) {
	pid := process.PID(clock.NewID(clock.KindProcess))
	p := process.New(process.Config{PID: pid, Name: name, Priority: priority, Now: k.clk.Now()})

	if _, err := k.pager.Allocate(pid, systemPrompt(name), 1.0, pager.PageSystem); err != nil {
		return "", fmt.Errorf("kernel: spawn %s: %w", name, err)
	}
	if _, err := k.pager.Allocate(pid, task, 0.9, pager.PageTask); err != nil {
		return "", fmt.Errorf("kernel: spawn %s: %w", name, err)
	}

	if policy != nil {
		k.security.SetPolicy(pid, *policy)
	}

	if err := k.scheduler.Add(p); err != nil {
		return "", fmt.Errorf("kernel: spawn %s: %w", name, err)
	}

	k.persistProcess(p)

	return pid, nil
}

func (k *Kernel) persistProcess(p *process.Process) {
	if err := k.backend.SaveProcess(storage.ProcessRecord{Snapshot: p.Snapshot()}); err != nil {
		slog.Warn("persist process snapshot failed", "pid", p.PID(), "error", err)
	}
}

func systemPrompt(name string) string {
	return "You are agent " + name + ", a process managed by the agent runtime kernel."
}

// Run loops at most maxIterations times: schedule, step, and transition
// the process per the step outcome (spec.md §4.9).
func (k *Kernel) Run(maxIterations int, singleAgent process.PID) error {
	for i := 0; i < maxIterations; i++ {
		p := k.scheduler.Schedule(k.globalTokenShare)
		if p == nil {
			return nil
		}
		if singleAgent != "" && p.PID() != singleAgent {
			continue
		}

		outcome := k.Step(p)

		switch {
		case outcome.Error != "":
			count := p.RecordError(outcome.Error)
			if count >= 3 {
				_ = k.scheduler.Terminate(p.PID(), "error")
			} else {
				_ = k.scheduler.Wait(p.PID(), "error_retry")
			}
		case outcome.Waiting:
			// A quota denial arrives already WAITING (Scheduler.RequestResources
			// moved it); a circuit-open outcome is moved to WAITING here.
			if p.State() != process.StateWaiting {
				_ = k.scheduler.Wait(p.PID(), "circuit_open")
			}
		case outcome.Done:
			p.ResetErrors()
			_ = k.TerminateAgent(p.PID(), "done")
		default:
			p.ResetErrors()
		}
	}
	return nil
}

func (k *Kernel) globalTokenShare(pid process.PID) float64 {
	global, _ := k.quota.GlobalUsage()
	if global == 0 {
		return 0
	}
	agentTokens, _ := k.quota.AgentUsage(pid)
	return float64(agentTokens) / float64(global)
}

// Step assembles context, requests quota, invokes the step function,
// applies security policy, dispatches any tool call, appends the result
// as a page, and writes an audit entry — in that documented order
// (spec.md §4.9).
func (k *Kernel) Step(p *process.Process) StepOutcome {
	pid := p.PID()

	for _, h := range k.preHooks {
		h(pid)
	}
	defer func() {
		for _, h := range k.postHooks {
			h(pid)
		}
	}()

	ctxString := k.pager.GetAgentContext(pid, 0, true)

	const estimatedTokens = 500 // conservative placeholder charged before the real usage is known
	admitted, err := k.scheduler.RequestResources(pid, estimatedTokens, 1)
	if err != nil {
		return StepOutcome{Error: err.Error()}
	}
	if !admitted {
		k.audit(pid, checkpoint.ActionQuotaDenied, ctxString, "", "quota denied")
		return StepOutcome{Waiting: true}
	}

	if k.stepFn == nil {
		return StepOutcome{Error: "kernel: no step function configured"}
	}

	start := k.clk.Now()
	raw, err := k.Breaker("llm").Call(func() (any, error) {
		return k.stepFn(pid, ctxString)
	}, nil)
	duration := k.clk.Now().Sub(start)
	if errors.Is(err, breaker.ErrCircuitOpen) {
		k.audit(pid, checkpoint.ActionError, ctxString, "", "circuit open: llm")
		return StepOutcome{Waiting: true}
	}
	if err != nil {
		k.audit(pid, checkpoint.ActionError, ctxString, "", err.Error())
		var llmErr *LLMFailure
		if errors.As(err, &llmErr) {
			if llmErr.Retryable {
				_ = k.scheduler.Wait(pid, "llm_retry")
			} else {
				_ = k.TerminateAgent(pid, "error")
			}
		}
		return StepOutcome{Error: err.Error()}
	}
	decision, _ := raw.(StepDecision)

	k.auditWithDuration(pid, checkpoint.ActionLLMReasoning, ctxString, decision.Reasoning, decision.Reasoning, duration)

	if decision.Action == nil {
		return StepOutcome{Done: decision.Done, Reasoning: decision.Reasoning}
	}

	if !k.security.CanUseTool(pid, decision.Action.Name) {
		k.audit(pid, checkpoint.ActionError, decision.Action.Name, "", "tool permission denied")
		return StepOutcome{Error: "tool permission denied: " + decision.Action.Name}
	}

	toolBreaker := k.Breaker("tool:" + decision.Action.Name)
	raw, callErr := toolBreaker.Call(func() (any, error) {
		res := k.tools.Execute(decision.Action.Name, decision.Action.Args)
		if !res.Success {
			return res, errors.New(res.Error)
		}
		return res, nil
	}, nil)
	if errors.Is(callErr, breaker.ErrCircuitOpen) {
		k.audit(pid, checkpoint.ActionError, decision.Action.Name, "", "circuit open: tool "+decision.Action.Name)
		return StepOutcome{Waiting: true, Reasoning: decision.Reasoning}
	}
	result, _ := raw.(toolkit.Result)

	resultContent := result.Error
	if result.Success {
		resultContent = fmt.Sprintf("%v", result.Data)
	}
	if _, err := k.pager.Allocate(pid, resultContent, 0.5, pager.PageToolResult); err != nil {
		k.audit(pid, checkpoint.ActionError, decision.Action.Name, "", err.Error())
	}

	k.audit(pid, checkpoint.ActionToolCall, decision.Action.Name, resultContent, "")

	return StepOutcome{Done: decision.Done, Reasoning: decision.Reasoning, Action: decision.Action, Result: &result}
}

func (k *Kernel) audit(pid process.PID, action checkpoint.ActionType, input, output, errMsg string) {
	k.auditWithDuration(pid, action, input, output, errMsg, 0)
}

func (k *Kernel) auditWithDuration(pid process.PID, action checkpoint.ActionType, input, output, reasoning string, duration time.Duration) {
	_ = k.checkpts.LogAction(storage.AuditRecord{
		PID:        pid,
		ActionType: string(action),
		Input:      input,
		Output:     output,
		Reasoning:  reasoning,
		Duration:   duration,
	})
}

// CreateCheckpoint snapshots pid via the checkpoint manager.
func (k *Kernel) CreateCheckpoint(pid process.PID, description string) (string, error) {
	p, ok := k.scheduler.Get(pid)
	if !ok {
		return "", ErrUnknownPID
	}
	ck, err := k.checkpts.Create(p, description, nil, "")
	if err != nil {
		return "", err
	}
	k.audit(pid, checkpoint.ActionCheckpointCreate, description, ck.ID, "")
	return ck.ID, nil
}

// RestoreCheckpoint clones a checkpoint into a brand-new process (spec.md
// §4.6 restore-as-clone) and enqueues it in the scheduler.
func (k *Kernel) RestoreCheckpoint(id string) (process.PID, error) {
	ck, ok, err := k.checkpts.Load(id)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrChecksumMismatch
	}

	p, err := k.checkpts.Restore(ck)
	if err != nil {
		return "", err
	}
	if err := k.scheduler.Add(p); err != nil {
		return "", err
	}
	k.audit(p.PID(), checkpoint.ActionCheckpointRestore, id, string(p.PID()), "")
	return p.PID(), nil
}

// TerminateAgent releases pid's pages, forgets its quota/policy state,
// and marks it TERMINATED.
func (k *Kernel) TerminateAgent(pid process.PID, reason string) error {
	k.pager.Release(pid)
	k.quota.Forget(pid)
	k.security.Forget(pid)
	if err := k.scheduler.Terminate(pid, reason); err != nil {
		return err
	}
	if p, ok := k.scheduler.Get(pid); ok {
		k.persistProcess(p)
	}
	k.audit(pid, checkpoint.ActionStateChange, reason, "TERMINATED", "")
	return nil
}

// GetPersistedStatus returns pid's last persisted snapshot, for querying
// process state after the kernel process that ran it has exited.
func (k *Kernel) GetPersistedStatus(pid process.PID) (process.Snapshot, bool, error) {
	rec, ok, err := k.backend.LoadProcess(pid)
	if err != nil || !ok {
		return process.Snapshot{}, ok, err
	}
	return rec.Snapshot, true, nil
}

// GetAgentStatus returns a snapshot of pid's process state.
func (k *Kernel) GetAgentStatus(pid process.PID) (process.Snapshot, error) {
	p, ok := k.scheduler.Get(pid)
	if !ok {
		return process.Snapshot{}, ErrUnknownPID
	}
	return p.Snapshot(), nil
}

// GetAuditTrail returns pid's audit trail, chronologically descending.
func (k *Kernel) GetAuditTrail(pid process.PID, limit int) ([]storage.AuditRecord, error) {
	return k.checkpts.AuditTrail(pid, limit, "")
}

// PagerStats exposes the context manager's live statistics.
func (k *Kernel) PagerStats() pager.Stats { return k.pager.Stats() }

// SchedulerStats exposes the scheduler's live counters.
func (k *Kernel) SchedulerStats() scheduler.Stats { return k.scheduler.Stats() }

// Shutdown closes the event bus and storage backend.
func (k *Kernel) Shutdown() error {
	if err := k.bus.Close(); err != nil {
		return err
	}
	return k.backend.Close()
}
