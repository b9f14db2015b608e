// Package scheduler owns the process table and the ready/wait queues
// described in spec.md §4.1: priority scheduling with bounded time-slice
// preemption, built on pkg/process's state-transition table.
package scheduler

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/agentkernel/agentkernel/pkg/clock"
	"github.com/agentkernel/agentkernel/pkg/process"
)

// ErrUnknownPID is returned by operations addressing a PID not in the
// process table.
type ErrUnknownPID struct{ PID process.PID }

func (e *ErrUnknownPID) Error() string { return fmt.Sprintf("scheduler: unknown pid %s", e.PID) }

// ErrDuplicatePID is returned by Add when the PID is already present.
type ErrDuplicatePID struct{ PID process.PID }

func (e *ErrDuplicatePID) Error() string { return fmt.Sprintf("scheduler: duplicate pid %s", e.PID) }

// waitingEntry tracks why and since-when a process has been waiting.
type waitingEntry struct {
	pid   process.PID
	since time.Time
}

// Stats reports scheduler-level counters (used by the priority-preemption
// end-to-end scenario in spec.md §8).
type Stats struct {
	TotalPreempted int64
	TotalScheduled int64
}

// Config tunes the scheduling policy.
type Config struct {
	// WaitThreshold is how long a WAITING process may sit before it
	// becomes eligible for a wakeup scan (spec.md §4.1 step 2).
	WaitThreshold time.Duration
	Clock         clock.Clock
}

// Scheduler owns the process table and ready/wait queues. All
// state-mutating methods must be called from the single logical kernel
// thread (spec.md §5); the mutex here makes it additionally safe for
// concurrent read-only observers (status endpoints, metrics).
type Scheduler struct {
	mu sync.Mutex

	clk           clock.Clock
	waitThreshold time.Duration

	table   map[process.PID]*process.Process
	ready   []process.PID // FIFO among equal priority; sorted by priority on schedule()
	waiting map[process.PID]*waitingEntry
	running process.PID

	stats Stats

	// QuotaRequest is invoked by RequestResources; wired by the kernel to
	// the quota.Manager without the scheduler importing it directly.
	QuotaRequest func(pid process.PID, tokens, calls int64) (admitted bool, reason string)
}

// New constructs an empty Scheduler.
func New(cfg Config) *Scheduler {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Default
	}
	threshold := cfg.WaitThreshold
	if threshold <= 0 {
		threshold = 30 * time.Second
	}
	return &Scheduler{
		clk:           clk,
		waitThreshold: threshold,
		table:         make(map[process.PID]*process.Process),
		waiting:       make(map[process.PID]*waitingEntry),
	}
}

// Add enqueues p as READY. Fails with ErrDuplicatePID if its PID is
// already present.
func (s *Scheduler) Add(p *process.Process) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pid := p.PID()
	if _, ok := s.table[pid]; ok {
		return &ErrDuplicatePID{PID: pid}
	}
	s.table[pid] = p
	s.ready = append(s.ready, pid)
	return nil
}

// Get returns the process for pid, if present.
func (s *Scheduler) Get(pid process.PID) (*process.Process, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.table[pid]
	return p, ok
}

func removePID(list []process.PID, pid process.PID) []process.PID {
	out := list[:0]
	for _, p := range list {
		if p != pid {
			out = append(out, p)
		}
	}
	return out
}

// Wait moves pid to WAITING, recording waiting_since and reason.
func (s *Scheduler) Wait(pid process.PID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.table[pid]
	if !ok {
		return &ErrUnknownPID{PID: pid}
	}
	now := s.clk.Now()
	if err := p.Transition(process.StateWaiting, now); err != nil {
		return err
	}
	p.SetWaitingReason(reason)
	s.waiting[pid] = &waitingEntry{pid: pid, since: now}
	s.ready = removePID(s.ready, pid)
	if s.running == pid {
		s.running = ""
	}
	return nil
}

// Wakeup moves pid from WAITING to READY.
func (s *Scheduler) Wakeup(pid process.PID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.table[pid]
	if !ok {
		return &ErrUnknownPID{PID: pid}
	}
	if err := p.Transition(process.StateReady, s.clk.Now()); err != nil {
		return err
	}
	delete(s.waiting, pid)
	s.ready = append(s.ready, pid)
	return nil
}

// Suspend moves a RUNNING pid to SUSPENDED; from any other state the
// process's transition table rejects the move and the error is returned. Persisting
// a checkpoint is the kernel's responsibility; Suspend only updates state.
func (s *Scheduler) Suspend(pid process.PID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.table[pid]
	if !ok {
		return &ErrUnknownPID{PID: pid}
	}
	if err := p.Transition(process.StateSuspended, s.clk.Now()); err != nil {
		return err
	}
	s.ready = removePID(s.ready, pid)
	delete(s.waiting, pid)
	if s.running == pid {
		s.running = ""
	}
	return nil
}

// Resume moves pid from SUSPENDED to READY.
func (s *Scheduler) Resume(pid process.PID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.table[pid]
	if !ok {
		return &ErrUnknownPID{PID: pid}
	}
	if err := p.Transition(process.StateReady, s.clk.Now()); err != nil {
		return err
	}
	s.ready = append(s.ready, pid)
	return nil
}

// Terminate moves pid to TERMINATED and detaches it from every internal
// index in the same call (Open Question #3: termination must not leave a
// "ghost" entry in ready/waiting/running).
func (s *Scheduler) Terminate(pid process.PID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.table[pid]
	if !ok {
		return &ErrUnknownPID{PID: pid}
	}
	if p.State() != process.StateTerminated {
		if err := p.Transition(process.StateTerminated, s.clk.Now()); err != nil {
			return err
		}
		if reason != "" {
			p.RecordError(reason)
		}
	}
	s.ready = removePID(s.ready, pid)
	delete(s.waiting, pid)
	if s.running == pid {
		s.running = ""
	}
	return nil
}

// RequestResources forwards to the wired Quota Manager. On denial, the
// caller is moved to WAITING with the denial reason (not an error — this
// is the normal quota-backpressure path).
func (s *Scheduler) RequestResources(pid process.PID, tokens, calls int64) (bool, error) {
	if s.QuotaRequest == nil {
		return true, nil
	}
	admitted, reason := s.QuotaRequest(pid, tokens, calls)
	if !admitted {
		if err := s.Wait(pid, reason); err != nil {
			return false, err
		}
	}
	return admitted, nil
}

// preempt evaluates the four preemption predicates of spec.md §4.1 step 1
// against the currently RUNNING process. Caller must hold s.mu.
func (s *Scheduler) preemptCheckLocked(now time.Time, globalTokenShare func(process.PID) float64) bool {
	if s.running == "" {
		return false
	}
	p, ok := s.table[s.running]
	if !ok {
		s.running = ""
		return false
	}

	if now.Sub(p.LastRunAt()) > p.TimeSlice() {
		return true
	}

	if len(s.ready) > 0 {
		headPID := s.highestPriorityReadyLocked()
		if head, ok := s.table[headPID]; ok && head.Priority() <= p.Priority()-10 {
			return true
		}
	}

	if globalTokenShare != nil && globalTokenShare(p.PID()) > 0.30 {
		return true
	}

	if !p.StartedAt().IsZero() && now.Sub(p.StartedAt()) > 5*p.TimeSlice() {
		return true
	}

	return false
}

// highestPriorityReadyLocked returns the PID with lowest priority number
// (highest priority), ties broken by ready-queue (insertion) order.
// Caller must hold s.mu.
func (s *Scheduler) highestPriorityReadyLocked() process.PID {
	best := process.PID("")
	bestPriority := int(^uint(0) >> 1)
	for _, pid := range s.ready {
		p, ok := s.table[pid]
		if !ok || p.State() == process.StateTerminated {
			continue
		}
		if p.Priority() < bestPriority {
			bestPriority = p.Priority()
			best = pid
		}
	}
	return best
}

// Schedule returns the process that should run this tick, or nil if none
// is runnable (spec.md §4.1 scheduling policy). GlobalTokenShare, if
// non-nil, is consulted for preemption predicate (c).
func (s *Scheduler) Schedule(globalTokenShare func(process.PID) float64) *process.Process {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clk.Now()

	// Step 1: preempt the running process if any predicate triggers.
	if s.preemptCheckLocked(now, globalTokenShare) {
		p := s.table[s.running]
		_ = p.Transition(process.StateReady, now)
		s.ready = append(s.ready, s.running)
		s.running = ""
		s.stats.TotalPreempted++
	}

	// Step 2: scan WAITING queue for processes past the wait threshold.
	for pid, entry := range s.waiting {
		if now.Sub(entry.since) > s.waitThreshold {
			if p, ok := s.table[pid]; ok {
				_ = p.Transition(process.StateReady, now)
				s.ready = append(s.ready, pid)
				delete(s.waiting, pid)
			}
		}
	}

	if s.running != "" {
		return s.table[s.running]
	}

	// Step 3: pop the highest-priority READY entry, skipping/dropping
	// TERMINATED stragglers.
	sort.SliceStable(s.ready, func(i, j int) bool {
		pi, oki := s.table[s.ready[i]]
		pj, okj := s.table[s.ready[j]]
		if !oki || !okj {
			return false
		}
		return pi.Priority() < pj.Priority()
	})

	for len(s.ready) > 0 {
		pid := s.ready[0]
		p, ok := s.table[pid]
		if !ok || p.State() == process.StateTerminated {
			s.ready = s.ready[1:]
			continue
		}
		s.ready = s.ready[1:]
		if err := p.Transition(process.StateRunning, now); err != nil {
			continue
		}
		s.running = pid
		s.stats.TotalScheduled++
		return p
	}

	return nil
}

// Stats returns a copy of the scheduler's live counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Running returns the currently RUNNING process, if any.
func (s *Scheduler) Running() (*process.Process, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running == "" {
		return nil, false
	}
	return s.table[s.running], true
}
