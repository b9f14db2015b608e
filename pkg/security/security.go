// Package security implements the per-agent capability policy described in
// spec.md §4.5, adapted from the teacher's filetool path-validation pattern
// (pkg/tool/filetool/write_file.go validateWritePath): block-list matches
// always deny, and a non-empty allow-list makes membership mandatory.
package security

import (
	"strings"
	"sync"

	"github.com/agentkernel/agentkernel/pkg/process"
)

// PermissionLevel is the coarse capability tier of a policy.
type PermissionLevel string

const (
	LevelRestricted PermissionLevel = "RESTRICTED"
	LevelStandard   PermissionLevel = "STANDARD"
	LevelElevated   PermissionLevel = "ELEVATED"
	LevelAdmin      PermissionLevel = "ADMIN"
)

// Policy is the per-agent SecurityPolicy (spec.md §4.5).
type Policy struct {
	Level PermissionLevel

	AllowedPaths []string
	BlockedPaths []string
	ReadOnly     bool

	NetworkEnabled bool
	AllowedHosts   []string
	BlockedHosts   []string

	AllowedTools []string
	BlockedTools []string

	MaxMemoryMB     int64
	MaxCPUSeconds   int64
	MaxExecSeconds  int64
	MaxFileSizeMB   int64
	Sandbox         bool

	// Unmetered exempts the agent from the 30% per-agent quota cap
	// (Open Question #1); only an ADMIN-level policy may set it.
	Unmetered bool
}

// DefaultPolicy is returned by GetPolicy for an unknown PID.
func DefaultPolicy() Policy {
	return Policy{Level: LevelStandard}
}

// Manager holds one Policy per PID.
type Manager struct {
	mu       sync.RWMutex
	policies map[process.PID]Policy
}

// NewManager constructs an empty security Manager.
func NewManager() *Manager {
	return &Manager{policies: make(map[process.PID]Policy)}
}

// SetPolicy installs (or replaces) pid's policy. Unmetered may only be set
// on an ADMIN-level policy.
func (m *Manager) SetPolicy(pid process.PID, p Policy) {
	if p.Unmetered && p.Level != LevelAdmin {
		p.Unmetered = false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policies[pid] = p
}

// GetPolicy returns pid's policy, or DefaultPolicy() if none was set.
func (m *Manager) GetPolicy(pid process.PID) Policy {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.policies[pid]
	if !ok {
		return DefaultPolicy()
	}
	return p
}

// Forget removes pid's policy, e.g. after termination.
func (m *Manager) Forget(pid process.PID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.policies, pid)
}

// blockBeforeAllow applies spec.md's ordering: any block-list match is
// always a denial; otherwise, a non-empty allow-list requires membership.
func blockBeforeAllow(item string, allow, block []string, match func(item, pattern string) bool) bool {
	for _, b := range block {
		if match(item, b) {
			return false
		}
	}
	if len(allow) == 0 {
		return true
	}
	for _, a := range allow {
		if match(item, a) {
			return true
		}
	}
	return false
}

func pathMatch(path, pattern string) bool {
	return path == pattern || strings.HasPrefix(path, strings.TrimSuffix(pattern, "/")+"/")
}

func hostMatch(host, pattern string) bool {
	if pattern == host {
		return true
	}
	if strings.HasPrefix(pattern, "*.") {
		return strings.HasSuffix(host, pattern[1:])
	}
	return false
}

// CanUseTool reports whether pid may invoke the named tool.
func (m *Manager) CanUseTool(pid process.PID, toolName string) bool {
	p := m.GetPolicy(pid)
	return blockBeforeAllow(toolName, p.AllowedTools, p.BlockedTools, func(a, b string) bool { return a == b })
}

// CanAccessPath reports whether pid may access the given filesystem path.
func (m *Manager) CanAccessPath(pid process.PID, path string) bool {
	p := m.GetPolicy(pid)
	return blockBeforeAllow(path, p.AllowedPaths, p.BlockedPaths, pathMatch)
}

// CanAccessNetwork reports whether pid may reach the given host.
func (m *Manager) CanAccessNetwork(pid process.PID, host string) bool {
	p := m.GetPolicy(pid)
	if !p.NetworkEnabled {
		return false
	}
	return blockBeforeAllow(host, p.AllowedHosts, p.BlockedHosts, hostMatch)
}

// CheckResourceLimits is a pure comparison against the policy's declared
// memory/time limits.
func (m *Manager) CheckResourceLimits(pid process.PID, memoryMB int64, execSeconds int64) (bool, string) {
	p := m.GetPolicy(pid)
	if p.MaxMemoryMB > 0 && memoryMB > p.MaxMemoryMB {
		return false, "memory limit exceeded"
	}
	if p.MaxExecSeconds > 0 && execSeconds > p.MaxExecSeconds {
		return false, "execution time limit exceeded"
	}
	return true, ""
}
