package storage

import (
	"sort"
	"sync"

	"github.com/agentkernel/agentkernel/pkg/process"
)

// MemoryBackend is an in-process Backend implementation, suitable for
// tests and single-node deployments without a configured DSN.
type MemoryBackend struct {
	mu          sync.Mutex
	processes   map[process.PID]ProcessRecord
	checkpoints map[string]CheckpointRecord
	audit       map[process.PID][]AuditRecord
}

// NewMemoryBackend constructs an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		processes:   make(map[process.PID]ProcessRecord),
		checkpoints: make(map[string]CheckpointRecord),
		audit:       make(map[process.PID][]AuditRecord),
	}
}

func (b *MemoryBackend) SaveProcess(rec ProcessRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.processes[rec.PID] = rec
	return nil
}

func (b *MemoryBackend) LoadProcess(pid process.PID) (ProcessRecord, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec, ok := b.processes[pid]
	return rec, ok, nil
}

func (b *MemoryBackend) SaveCheckpoint(rec CheckpointRecord) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.checkpoints[rec.ID] = rec
	return rec.ID, nil
}

func (b *MemoryBackend) LoadCheckpoint(id string) (CheckpointRecord, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec, ok := b.checkpoints[id]
	return rec, ok, nil
}

func (b *MemoryBackend) LogAction(rec AuditRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.audit[rec.PID] = append(b.audit[rec.PID], rec)
	return nil
}

func (b *MemoryBackend) GetAuditTrail(pid process.PID, limit int, actionType string) ([]AuditRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entries := append([]AuditRecord(nil), b.audit[pid]...)
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})

	if actionType != "" {
		filtered := entries[:0:0]
		for _, e := range entries {
			if e.ActionType == actionType {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}

	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (b *MemoryBackend) Close() error { return nil }
