// Package quota implements the windowed token/call admission control
// described in spec.md §4.3, adapted from the teacher's pkg/ratelimit
// sliding-window limiter: the window-reset and atomic-admit-with-counter-
// update shape is the same, but the policy is the kernel's fixed 7-step
// global/per-agent/per-request algorithm rather than a configurable
// per-scope rate limiter.
package quota

import (
	"sync"
	"time"

	"github.com/agentkernel/agentkernel/pkg/process"
)

// Config is the ResourceQuota configuration (spec.md §3).
type Config struct {
	WindowSeconds         int64
	MaxTokensPerWindow    int64
	MaxTokensPerRequest   int64
	MaxAPICallsPerWindow  int64
	MaxAPICallsPerMinute  int64
	MaxExecutionTime      time.Duration
	MaxMemoryMB           int64
	MaxConcurrentTools    int
}

const agentShareCap = 0.30

// usage is the live per-scope counter pair for one accounting window.
type usage struct {
	tokens      int64
	calls       int64
	windowStart time.Time
}

// Decision is the result of an admission request.
type Decision struct {
	Admitted bool
	Reason   string
}

// Manager is the windowed Quota Manager (spec.md §4.3). It tracks a global
// window and a per-minute secondary window, plus per-agent totals within
// both.
type Manager struct {
	mu sync.Mutex

	cfg Config
	now func() time.Time

	global      usage
	minute      usage
	perAgent    map[process.PID]*usage
	perAgentMin map[process.PID]*usage

	// IsUnmetered, when set, exempts a pid from the 30% per-agent share
	// cap (Open Question #1). Wired by the kernel to the security
	// manager's ADMIN+Unmetered policy check; nil means no exemptions.
	IsUnmetered func(process.PID) bool
}

// NewManager constructs a quota Manager. nowFn defaults to time.Now.
func NewManager(cfg Config, nowFn func() time.Time) *Manager {
	if nowFn == nil {
		nowFn = time.Now
	}
	if cfg.WindowSeconds <= 0 {
		cfg.WindowSeconds = 3600
	}
	now := nowFn()
	return &Manager{
		cfg:         cfg,
		now:         nowFn,
		global:      usage{windowStart: now},
		minute:      usage{windowStart: now},
		perAgent:    make(map[process.PID]*usage),
		perAgentMin: make(map[process.PID]*usage),
	}
}

func (m *Manager) agentUsageLocked(pid process.PID) *usage {
	u, ok := m.perAgent[pid]
	if !ok {
		u = &usage{windowStart: m.global.windowStart}
		m.perAgent[pid] = u
	}
	return u
}

func (m *Manager) agentMinuteUsageLocked(pid process.PID) *usage {
	u, ok := m.perAgentMin[pid]
	if !ok {
		u = &usage{windowStart: m.minute.windowStart}
		m.perAgentMin[pid] = u
	}
	return u
}

func (u *usage) resetIfExpired(now time.Time, window time.Duration) {
	if now.Sub(u.windowStart) >= window {
		u.tokens = 0
		u.calls = 0
		u.windowStart = now
	}
}

// Request runs the 7-step admission algorithm (spec.md §4.3) for a
// (tokens, calls) request by pid. Admission is atomic with the counter
// update; a denial leaves all counters unchanged.
func (m *Manager) Request(pid process.PID, tokens, calls int64) Decision {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	window := time.Duration(m.cfg.WindowSeconds) * time.Second

	// Step 1: reset expired windows.
	m.global.resetIfExpired(now, window)
	m.minute.resetIfExpired(now, time.Minute)
	agent := m.agentUsageLocked(pid)
	agentMin := m.agentMinuteUsageLocked(pid)
	agent.resetIfExpired(now, window)
	agentMin.resetIfExpired(now, time.Minute)

	if m.cfg.MaxTokensPerRequest > 0 && tokens > m.cfg.MaxTokensPerRequest {
		return Decision{Admitted: false, Reason: "per-request tokens"}
	}
	if m.cfg.MaxTokensPerWindow > 0 && m.global.tokens+tokens > m.cfg.MaxTokensPerWindow {
		return Decision{Admitted: false, Reason: "global token quota exceeded"}
	}
	if m.cfg.MaxAPICallsPerWindow > 0 && m.global.calls+calls > m.cfg.MaxAPICallsPerWindow {
		return Decision{Admitted: false, Reason: "global call quota exceeded"}
	}
	if m.cfg.MaxAPICallsPerMinute > 0 && m.minute.calls+calls > m.cfg.MaxAPICallsPerMinute {
		return Decision{Admitted: false, Reason: "per-minute call quota exceeded"}
	}
	unmetered := m.IsUnmetered != nil && m.IsUnmetered(pid)
	if !unmetered && m.cfg.MaxTokensPerWindow > 0 {
		agentCap := int64(float64(m.cfg.MaxTokensPerWindow) * agentShareCap)
		if agent.tokens+tokens > agentCap {
			return Decision{Admitted: false, Reason: "agent token quota"}
		}
	}
	if !unmetered && m.cfg.MaxAPICallsPerWindow > 0 {
		agentCallCap := int64(float64(m.cfg.MaxAPICallsPerWindow) * agentShareCap)
		if agent.calls+calls > agentCallCap {
			return Decision{Admitted: false, Reason: "agent call quota"}
		}
	}

	m.global.tokens += tokens
	m.global.calls += calls
	m.minute.calls += calls
	agent.tokens += tokens
	agent.calls += calls
	agentMin.calls += calls

	return Decision{Admitted: true}
}

// GlobalUsage returns the current global (tokens, calls) totals.
func (m *Manager) GlobalUsage() (tokens, calls int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.global.tokens, m.global.calls
}

// AgentUsage returns pid's current (tokens, calls) totals within the
// active window.
func (m *Manager) AgentUsage(pid process.PID) (tokens, calls int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.perAgent[pid]
	if !ok {
		return 0, 0
	}
	return u.tokens, u.calls
}

// Forget drops an agent's usage entries, e.g. after termination.
func (m *Manager) Forget(pid process.PID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.perAgent, pid)
	delete(m.perAgentMin, pid)
}
