package checkpoint

import (
	"github.com/agentkernel/agentkernel/pkg/process"
	"github.com/agentkernel/agentkernel/pkg/storage"
)

// Hooks wraps a Manager so the kernel can call checkpoint/audit operations
// unconditionally; when Enabled is false every call is a no-op, matching
// the teacher's disabled-feature hook pattern.
type Hooks struct {
	Enabled bool
	mgr     *Manager
}

// NewHooks wraps mgr. If mgr is nil, Enabled is forced false.
func NewHooks(mgr *Manager, enabled bool) *Hooks {
	if mgr == nil {
		enabled = false
	}
	return &Hooks{Enabled: enabled, mgr: mgr}
}

// LogAction no-ops when disabled, otherwise delegates to Manager.LogAction.
func (h *Hooks) LogAction(rec storage.AuditRecord) error {
	if !h.Enabled {
		return nil
	}
	return h.mgr.LogAction(rec)
}

// Create no-ops (returns nil, nil) when disabled.
func (h *Hooks) Create(p *process.Process, description string, tags []string, parentID string) (*Checkpoint, error) {
	if !h.Enabled {
		return nil, nil
	}
	return h.mgr.Create(p, description, tags, parentID)
}
