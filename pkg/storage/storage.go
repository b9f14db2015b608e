// Package storage implements the persistence contract of spec.md §4.6/§6:
// durable process snapshots, checkpoints, and an append-only audit trail.
package storage

import (
	"time"

	"github.com/agentkernel/agentkernel/pkg/process"
)

// ProcessRecord is the durable form of an AgentProcess snapshot.
type ProcessRecord struct {
	process.Snapshot
}

// CheckpointRecord is the durable form of a checkpoint (see pkg/checkpoint
// for the richer in-memory type; storage only needs the serialized bytes).
type CheckpointRecord struct {
	ID                 string
	PID                process.PID
	StateBytes         []byte
	PagesJSON          []byte
	Description        string
	Tags               []string
	ParentCheckpointID string
	Version            int
	Checksum           string
	CreatedAt          time.Time
}

// AuditRecord is one append-only audit log entry.
type AuditRecord struct {
	ID         string
	PID        process.PID
	ActionType string
	Input      string
	Output     string
	Reasoning  string
	Timestamp  time.Time
	Duration   time.Duration
	Tokens     int64
	Calls      int64
	SessionID  string
	TraceID    string
}

// Backend is the storage contract (spec.md §4.6). Implementations must
// honor write-before-return for SaveProcess, SaveCheckpoint, and LogAction.
type Backend interface {
	SaveProcess(rec ProcessRecord) error
	LoadProcess(pid process.PID) (ProcessRecord, bool, error)

	SaveCheckpoint(rec CheckpointRecord) (string, error)
	LoadCheckpoint(id string) (CheckpointRecord, bool, error)

	LogAction(rec AuditRecord) error
	// GetAuditTrail returns up to limit entries for pid, chronologically
	// descending. actionType, if non-empty, filters to that action type.
	GetAuditTrail(pid process.PID, limit int, actionType string) ([]AuditRecord, error)

	Close() error
}
