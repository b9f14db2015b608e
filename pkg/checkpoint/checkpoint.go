// Package checkpoint implements snapshot/restore and the audit trail
// described in spec.md §3/§4.6, adapted from the teacher's pkg/checkpoint
// Manager+Hooks pattern: a Manager wraps a storage.Backend, and a Hooks
// wrapper no-ops every call when checkpointing is disabled so callers
// never need a nil check.
package checkpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/agentkernel/agentkernel/pkg/clock"
	"github.com/agentkernel/agentkernel/pkg/pager"
	"github.com/agentkernel/agentkernel/pkg/process"
	"github.com/agentkernel/agentkernel/pkg/storage"
)

// ActionType is the finite taxonomy of audit log action types (spec.md §3).
type ActionType string

const (
	ActionLLMReasoning    ActionType = "llm_reasoning"
	ActionToolCall        ActionType = "tool_call"
	ActionStateChange     ActionType = "state_change"
	ActionError           ActionType = "error"
	ActionCheckpointCreate ActionType = "checkpoint_create"
	ActionCheckpointRestore ActionType = "checkpoint_restore"
	ActionQuotaDenied     ActionType = "quota_denied"
	ActionCircuitOpen     ActionType = "circuit_open"
	ActionRetry           ActionType = "retry"
)

// Checkpoint is the in-memory view of a snapshot (spec.md §3).
type Checkpoint struct {
	ID                 string
	PID                process.PID
	StateBytes         []byte
	Pages              []*pager.Page
	Description        string
	Tags               []string
	ParentCheckpointID string
	Version            int
	Checksum           string
	CreatedAt          time.Time
}

func checksum(state []byte) string {
	sum := sha256.Sum256(state)
	return hex.EncodeToString(sum[:])
}

// Manager snapshots processes and their pages, restores them as clones
// (spec.md §4.6), and maintains the audit trail.
type Manager struct {
	backend storage.Backend
	pager   *pager.Manager
	clk     clock.Clock

	// chainRefs counts, per checkpoint id, how many child checkpoints
	// reference it as ParentCheckpointID — used by CollectGarbage (C2).
	chainRefs map[string]int
	parentOf  map[string]string
}

// NewManager constructs a checkpoint Manager over backend and pager.
func NewManager(backend storage.Backend, pg *pager.Manager, clk clock.Clock) *Manager {
	if clk == nil {
		clk = clock.Default
	}
	return &Manager{
		backend:   backend,
		pager:     pg,
		clk:       clk,
		chainRefs: make(map[string]int),
		parentOf:  make(map[string]string),
	}
}

// Create snapshots p's state bytes (a JSON-serialized process.Snapshot) and
// its pages (IN_MEMORY plus swapped), persists them via the storage
// backend, and returns the new checkpoint id.
func (m *Manager) Create(p *process.Process, description string, tags []string, parentCheckpointID string) (*Checkpoint, error) {
	snap := p.Snapshot()
	stateBytes, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: marshal process state: %w", err)
	}

	pageIDs := m.pager.AgentPageIDs(p.PID())
	pages := make([]*pager.Page, 0, len(pageIDs))
	for _, id := range pageIDs {
		if pg, ok := m.pager.PageByID(id); ok {
			pages = append(pages, pg)
		}
	}
	pagesJSON, err := json.Marshal(pages)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: marshal pages: %w", err)
	}

	version := 1
	if parentCheckpointID != "" {
		if parent, ok, _ := m.backend.LoadCheckpoint(parentCheckpointID); ok {
			version = parent.Version + 1
		}
	}

	ck := &Checkpoint{
		ID:                 clock.NewID(clock.KindCheckpoint),
		PID:                p.PID(),
		StateBytes:         stateBytes,
		Pages:              pages,
		Description:        description,
		Tags:               tags,
		ParentCheckpointID: parentCheckpointID,
		Version:            version,
		Checksum:           checksum(stateBytes),
		CreatedAt:          m.clk.Now(),
	}

	if _, err := m.backend.SaveCheckpoint(storage.CheckpointRecord{
		ID: ck.ID, PID: ck.PID, StateBytes: ck.StateBytes, PagesJSON: pagesJSON,
		Description: ck.Description, Tags: ck.Tags, ParentCheckpointID: ck.ParentCheckpointID,
		Version: ck.Version, Checksum: ck.Checksum, CreatedAt: ck.CreatedAt,
	}); err != nil {
		return nil, fmt.Errorf("checkpoint: save: %w", err)
	}

	if parentCheckpointID != "" {
		m.chainRefs[parentCheckpointID]++
		m.parentOf[ck.ID] = parentCheckpointID
	}

	p.SetCheckpointID(ck.ID)
	return ck, nil
}

// Load retrieves a checkpoint and verifies its checksum (C1). On checksum
// mismatch, returns (nil, false, nil) per spec.md §4.6 — a verification
// failure is reported to the caller, not raised as an error.
func (m *Manager) Load(id string) (*Checkpoint, bool, error) {
	rec, ok, err := m.backend.LoadCheckpoint(id)
	if err != nil {
		return nil, false, fmt.Errorf("checkpoint: load %s: %w", id, err)
	}
	if !ok {
		return nil, false, nil
	}
	if checksum(rec.StateBytes) != rec.Checksum {
		return nil, false, nil
	}

	var pages []*pager.Page
	if err := json.Unmarshal(rec.PagesJSON, &pages); err != nil {
		return nil, false, fmt.Errorf("checkpoint: unmarshal pages: %w", err)
	}

	return &Checkpoint{
		ID: rec.ID, PID: rec.PID, StateBytes: rec.StateBytes, Pages: pages,
		Description: rec.Description, Tags: rec.Tags, ParentCheckpointID: rec.ParentCheckpointID,
		Version: rec.Version, Checksum: rec.Checksum, CreatedAt: rec.CreatedAt,
	}, true, nil
}

// Restore reconstructs a process and its pages from a checkpoint as a new
// clone (spec.md §4.6 restore-as-clone): a fresh PID, READY state, counters
// reset, pages reinstated under the new PID.
func (m *Manager) Restore(ck *Checkpoint) (*process.Process, error) {
	var snap process.Snapshot
	if err := json.Unmarshal(ck.StateBytes, &snap); err != nil {
		return nil, fmt.Errorf("checkpoint: unmarshal process state: %w", err)
	}

	newPID := process.PID(clock.NewID(clock.KindProcess))
	now := m.clk.Now()
	p := process.FromSnapshot(newPID, snap, now)

	for _, pg := range ck.Pages {
		m.pager.RestorePage(newPID, pg)
	}

	return p, nil
}

// LogAction writes an immutable audit log entry.
func (m *Manager) LogAction(rec storage.AuditRecord) error {
	if rec.ID == "" {
		rec.ID = clock.NewID(clock.KindAuditLog)
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = m.clk.Now()
	}
	if err := m.backend.LogAction(rec); err != nil {
		return fmt.Errorf("checkpoint: log action: %w", err)
	}
	return nil
}

// AuditTrail returns pid's audit entries, chronologically descending.
func (m *Manager) AuditTrail(pid process.PID, limit int, actionType string) ([]storage.AuditRecord, error) {
	return m.backend.GetAuditTrail(pid, limit, actionType)
}

// CollectGarbage selects checkpoints older than ttl that have no child
// referencing them (C2: expired checkpoints may be GC'd only when no
// child checkpoint references them as a parent) and returns their IDs,
// releasing each one's reference on its parent. It does not delete
// anything from the storage backend.
func (m *Manager) CollectGarbage(candidates []*Checkpoint, now time.Time, ttl time.Duration) []string {
	var collected []string
	for _, ck := range candidates {
		if now.Sub(ck.CreatedAt) < ttl {
			continue
		}
		if m.chainRefs[ck.ID] > 0 {
			continue
		}
		collected = append(collected, ck.ID)
		if parent, ok := m.parentOf[ck.ID]; ok {
			m.chainRefs[parent]--
		}
	}
	return collected
}
