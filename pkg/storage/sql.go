package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/agentkernel/agentkernel/pkg/process"

	// Database drivers, registered by side effect (teacher's
	// pkg/memory/session_service_sql.go wires the same three dialects over
	// database/sql rather than a single ORM).
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// EnsureDataDir ensures the kernel's on-disk data directory exists at
// basePath/.agentkernel (or ./.agentkernel when basePath is empty),
// adapted from the teacher's utils.EnsureHectorDir for the kernel's own
// sqlite file, checkpoint blobs, and default DSN resolution.
func EnsureDataDir(basePath string) (string, error) {
	dir := ".agentkernel"
	if basePath != "" && basePath != "." {
		dir = filepath.Join(basePath, ".agentkernel")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("storage: create data dir %q: %w", dir, err)
	}
	return dir, nil
}

// DefaultSQLiteDSN returns the default sqlite DSN under the kernel's data
// directory, used when no explicit DSN is configured.
func DefaultSQLiteDSN(basePath string) (string, error) {
	dir, err := EnsureDataDir(basePath)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "agentkernel.db"), nil
}

// SQLBackend implements Backend over database/sql, following spec.md §6's
// four-table schema (agent_processes, checkpoints, audit_logs,
// context_storage). context_storage is created with the others but no
// Backend method reads or writes it; pkg/pager keeps pages in memory only.
type SQLBackend struct {
	db      *sql.DB
	dialect string
	mu      sync.Mutex
}

const createSchemaSQL = `
CREATE TABLE IF NOT EXISTS agent_processes (
    pid VARCHAR(255) PRIMARY KEY,
    name VARCHAR(255) NOT NULL,
    state VARCHAR(32) NOT NULL,
    priority INTEGER NOT NULL,
    parent_pid VARCHAR(255),
    token_count BIGINT NOT NULL,
    call_count BIGINT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    terminated_at TIMESTAMP NULL,
    snapshot_json TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS checkpoints (
    id VARCHAR(255) PRIMARY KEY,
    agent_pid VARCHAR(255) NOT NULL,
    state_bytes TEXT NOT NULL,
    pages_json TEXT NOT NULL,
    description TEXT,
    tags TEXT,
    parent_checkpoint_id VARCHAR(255),
    version INTEGER NOT NULL,
    checksum VARCHAR(128) NOT NULL,
    created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_checkpoints_agent_pid ON checkpoints(agent_pid);

CREATE TABLE IF NOT EXISTS audit_logs (
    id VARCHAR(255) PRIMARY KEY,
    agent_pid VARCHAR(255),
    action_type VARCHAR(64) NOT NULL,
    input_blob TEXT,
    output_blob TEXT,
    reasoning TEXT,
    timestamp TIMESTAMP NOT NULL,
    duration_ms BIGINT NOT NULL,
    tokens BIGINT NOT NULL,
    calls BIGINT NOT NULL,
    session_id VARCHAR(255),
    trace_id VARCHAR(255)
);
CREATE INDEX IF NOT EXISTS idx_audit_pid_timestamp ON audit_logs(agent_pid, timestamp DESC);

CREATE TABLE IF NOT EXISTS context_storage (
    id VARCHAR(255) PRIMARY KEY,
    agent_pid VARCHAR(255) NOT NULL,
    content TEXT,
    embedding TEXT
);
CREATE INDEX IF NOT EXISTS idx_context_agent_pid ON context_storage(agent_pid);
`

// NewSQLBackend opens a database/sql connection for dialect ("postgres",
// "mysql", or "sqlite") and ensures the schema exists.
func NewSQLBackend(driverName, dsn, dialect string) (*SQLBackend, error) {
	switch dialect {
	case "postgres", "mysql", "sqlite":
	default:
		return nil, fmt.Errorf("storage: unsupported dialect %q (supported: postgres, mysql, sqlite)", dialect)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", dialect, err)
	}

	b := &SQLBackend{db: db, dialect: dialect}
	if err := b.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: init schema: %w", err)
	}
	return b, nil
}

func (b *SQLBackend) initSchema() error {
	for _, stmt := range strings.Split(createSchemaSQL, ";\n\n") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := b.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (b *SQLBackend) SaveProcess(rec ProcessRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	snap, err := json.Marshal(rec.Snapshot)
	if err != nil {
		return fmt.Errorf("storage: marshal process snapshot: %w", err)
	}

	var parent any
	if rec.ParentPID != nil {
		parent = string(*rec.ParentPID)
	}
	var terminatedAt any
	if !rec.TerminatedAt.IsZero() {
		terminatedAt = rec.TerminatedAt
	}

	_, err = b.db.Exec(`
INSERT INTO agent_processes (pid, name, state, priority, parent_pid, token_count, call_count, created_at, terminated_at, snapshot_json)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (pid) DO UPDATE SET
    name=excluded.name, state=excluded.state, priority=excluded.priority,
    token_count=excluded.token_count, call_count=excluded.call_count,
    terminated_at=excluded.terminated_at, snapshot_json=excluded.snapshot_json`,
		string(rec.PID), rec.Name, string(rec.State), rec.Priority, parent,
		rec.TokenCount, rec.CallCount, rec.CreatedAt, terminatedAt, string(snap))
	if err != nil {
		return fmt.Errorf("storage: save process %s: %w", rec.PID, err)
	}
	return nil
}

func (b *SQLBackend) LoadProcess(pid process.PID) (ProcessRecord, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var snapJSON string
	err := b.db.QueryRow(`SELECT snapshot_json FROM agent_processes WHERE pid = ?`, string(pid)).Scan(&snapJSON)
	if err == sql.ErrNoRows {
		return ProcessRecord{}, false, nil
	}
	if err != nil {
		return ProcessRecord{}, false, fmt.Errorf("storage: load process %s: %w", pid, err)
	}

	var snap process.Snapshot
	if err := json.Unmarshal([]byte(snapJSON), &snap); err != nil {
		return ProcessRecord{}, false, fmt.Errorf("storage: unmarshal process snapshot: %w", err)
	}
	return ProcessRecord{Snapshot: snap}, true, nil
}

func (b *SQLBackend) SaveCheckpoint(rec CheckpointRecord) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	tags, err := json.Marshal(rec.Tags)
	if err != nil {
		return "", fmt.Errorf("storage: marshal checkpoint tags: %w", err)
	}

	_, err = b.db.Exec(`
INSERT INTO checkpoints (id, agent_pid, state_bytes, pages_json, description, tags, parent_checkpoint_id, version, checksum, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, string(rec.PID), string(rec.StateBytes), string(rec.PagesJSON),
		rec.Description, string(tags), rec.ParentCheckpointID, rec.Version, rec.Checksum, rec.CreatedAt)
	if err != nil {
		return "", fmt.Errorf("storage: save checkpoint %s: %w", rec.ID, err)
	}
	return rec.ID, nil
}

func (b *SQLBackend) LoadCheckpoint(id string) (CheckpointRecord, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var rec CheckpointRecord
	var pid, stateBytes, pagesJSON, tagsJSON string
	err := b.db.QueryRow(`
SELECT id, agent_pid, state_bytes, pages_json, description, tags, parent_checkpoint_id, version, checksum, created_at
FROM checkpoints WHERE id = ?`, id).Scan(
		&rec.ID, &pid, &stateBytes, &pagesJSON, &rec.Description, &tagsJSON,
		&rec.ParentCheckpointID, &rec.Version, &rec.Checksum, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return CheckpointRecord{}, false, nil
	}
	if err != nil {
		return CheckpointRecord{}, false, fmt.Errorf("storage: load checkpoint %s: %w", id, err)
	}

	rec.PID = process.PID(pid)
	rec.StateBytes = []byte(stateBytes)
	rec.PagesJSON = []byte(pagesJSON)
	_ = json.Unmarshal([]byte(tagsJSON), &rec.Tags)
	return rec, true, nil
}

func (b *SQLBackend) LogAction(rec AuditRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, err := b.db.Exec(`
INSERT INTO audit_logs (id, agent_pid, action_type, input_blob, output_blob, reasoning, timestamp, duration_ms, tokens, calls, session_id, trace_id)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, string(rec.PID), rec.ActionType, rec.Input, rec.Output, rec.Reasoning,
		rec.Timestamp, rec.Duration.Milliseconds(), rec.Tokens, rec.Calls, rec.SessionID, rec.TraceID)
	if err != nil {
		return fmt.Errorf("storage: log action for %s: %w", rec.PID, err)
	}
	return nil
}

func (b *SQLBackend) GetAuditTrail(pid process.PID, limit int, actionType string) ([]AuditRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	query := `SELECT id, agent_pid, action_type, input_blob, output_blob, reasoning, timestamp, duration_ms, tokens, calls, session_id, trace_id
FROM audit_logs WHERE agent_pid = ?`
	args := []any{string(pid)}
	if actionType != "" {
		query += ` AND action_type = ?`
		args = append(args, actionType)
	}
	query += ` ORDER BY timestamp DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := b.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: audit trail for %s: %w", pid, err)
	}
	defer rows.Close()

	var out []AuditRecord
	for rows.Next() {
		var rec AuditRecord
		var pidStr string
		var durationMS int64
		if err := rows.Scan(&rec.ID, &pidStr, &rec.ActionType, &rec.Input, &rec.Output,
			&rec.Reasoning, &rec.Timestamp, &durationMS, &rec.Tokens, &rec.Calls,
			&rec.SessionID, &rec.TraceID); err != nil {
			return nil, fmt.Errorf("storage: scan audit row: %w", err)
		}
		rec.PID = process.PID(pidStr)
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (b *SQLBackend) Close() error {
	return b.db.Close()
}
