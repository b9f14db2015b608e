// Package pager implements the paged "virtual memory" context manager
// described in spec.md §4.2: pages of conversation/tool context are kept
// in memory up to a token budget, swapped to a backing store under
// pressure, and paged back in on demand.
package pager

import (
	"time"

	"github.com/agentkernel/agentkernel/pkg/clock"
	"github.com/agentkernel/agentkernel/pkg/process"
)

// Status is the lifecycle state of a ContextPage (spec.md §3).
type Status string

const (
	StatusInMemory Status = "IN_MEMORY"
	StatusSwapped  Status = "SWAPPED"
	StatusLoading  Status = "LOADING"
	StatusDirty    Status = "DIRTY"
)

// PageType classifies the purpose of a page; used by the KV-cache layout
// policy (spec.md L1).
type PageType string

const (
	PageSystem     PageType = "system"
	PageTask       PageType = "task"
	PageTools      PageType = "tools"
	PageHistory    PageType = "history"
	PageToolResult PageType = "tool_result"
	PageGeneral    PageType = "general"
)

// Page is the ContextPage entity from spec.md §3.
type Page struct {
	ID      string
	PID     process.PID // P1: immutable after creation
	Content string

	Tokens     int
	Importance float64 // [0,1]
	Type       PageType

	AccessCount int
	LastAccess  time.Time
	CreatedAt   time.Time

	Status Status
	Dirty  bool

	Embedding []float32 // optional semantic embedding
}

// newPage constructs a page in IN_MEMORY status.
func newPage(pid process.PID, content string, tokens int, importance float64, pt PageType, now time.Time) *Page {
	return &Page{
		ID:          clock.NewID(clock.KindPage),
		PID:         pid,
		Content:     content,
		Tokens:      tokens,
		Importance:  importance,
		Type:        pt,
		AccessCount: 0,
		LastAccess:  now,
		CreatedAt:   now,
		Status:      StatusInMemory,
	}
}

// clone returns a shallow copy safe to hand to callers/checkpoints without
// letting them mutate the pager's internal state.
func (p *Page) clone() *Page {
	cp := *p
	if p.Embedding != nil {
		cp.Embedding = append([]float32(nil), p.Embedding...)
	}
	return &cp
}
