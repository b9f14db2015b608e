package pager

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/agentkernel/agentkernel/pkg/clock"
	"github.com/agentkernel/agentkernel/pkg/process"
)

// ErrContextExhausted is returned by Allocate when no swappable victim
// exists to make room for a new page (spec.md ContextExhausted).
var ErrContextExhausted = errors.New("pager: context exhausted: no swappable victim")

// Stats mirrors the Context Manager's stats() contract.
type Stats struct {
	CurrentUsage   int
	MaxTokens      int
	UsagePct       float64
	PagesInMemory  int
	PagesSwapped   int
	AgentCount     int
	PageFaults     int64
	SwapIns        int64
	SwapOuts       int64
	TotalAccesses  int64
}

// Config configures a Manager.
type Config struct {
	MaxContextTokens int
	Estimator        TokenEstimator
	Clock            clock.Clock
}

// Manager is the paged context manager (spec.md §4.2). It owns all pages
// for all agents; mutation always goes through its methods (isolation
// invariant: agent_pid is immutable, one process never observes another's
// pages through Access).
type Manager struct {
	mu sync.Mutex

	maxTokens int
	estimator TokenEstimator
	clk       clock.Clock

	currentUsage int

	// inMemory and swapped both index by page ID; agentPages indexes the
	// ordered page-id list owned by each PID (insertion order preserved).
	inMemory   map[string]*Page
	swapped    map[string]*Page
	agentPages map[process.PID][]string

	pageFaults, swapIns, swapOuts, totalAccesses int64
}

// NewManager constructs a pager Manager.
func NewManager(cfg Config) *Manager {
	est := cfg.Estimator
	if est == nil {
		est = NewTokenEstimator()
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Default
	}
	return &Manager{
		maxTokens:  cfg.MaxContextTokens,
		estimator:  est,
		clk:        clk,
		inMemory:   make(map[string]*Page),
		swapped:    make(map[string]*Page),
		agentPages: make(map[process.PID][]string),
	}
}

// Allocate creates a new page for pid, swapping out victims as needed to
// stay within MaxContextTokens. Returns ErrContextExhausted if it runs out
// of swappable victims before enough room is free; no page is created, and
// when no page was swappable to begin with no state changes, but victims
// already swapped out during this call stay swapped.
func (m *Manager) Allocate(pid process.PID, content string, importance float64, pt PageType) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tokens := m.estimator.Estimate(content)
	now := m.clk.Now()

	for m.currentUsage+tokens > m.maxTokens {
		victim := selectVictim(m.inMemoryPagesLocked(), now)
		if victim == nil {
			return "", ErrContextExhausted
		}
		m.swapOutLocked(victim)
	}

	page := newPage(pid, content, tokens, importance, pt, now)
	m.inMemory[page.ID] = page
	m.agentPages[pid] = append(m.agentPages[pid], page.ID)
	m.currentUsage += tokens

	return page.ID, nil
}

// inMemoryPagesLocked returns all currently in-memory pages. Caller must
// hold m.mu.
func (m *Manager) inMemoryPagesLocked() []*Page {
	out := make([]*Page, 0, len(m.inMemory))
	for _, p := range m.inMemory {
		out = append(out, p)
	}
	return out
}

// swapOutLocked moves a page from IN_MEMORY to SWAPPED. Caller must hold m.mu.
func (m *Manager) swapOutLocked(p *Page) {
	delete(m.inMemory, p.ID)
	p.Status = StatusSwapped
	m.swapped[p.ID] = p
	m.currentUsage -= p.Tokens
	m.swapOuts++
}

// pageInLocked moves a page from SWAPPED back to IN_MEMORY, evicting
// victims first if necessary. Caller must hold m.mu.
func (m *Manager) pageInLocked(p *Page, now time.Time) {
	for m.currentUsage+p.Tokens > m.maxTokens {
		victim := selectVictim(m.inMemoryPagesLocked(), now)
		if victim == nil || victim.ID == p.ID {
			break
		}
		m.swapOutLocked(victim)
	}
	delete(m.swapped, p.ID)
	p.Status = StatusInMemory
	m.inMemory[p.ID] = p
	m.currentUsage += p.Tokens
	m.pageFaults++
	m.swapIns++
}

// Access looks up a page by ID, performing a page-in transparently if it
// is currently swapped. If requestingPID is non-empty and does not match
// the page's owner, returns (nil, false) without raising (ownership
// isolation, spec.md §4.2).
func (m *Manager) Access(pageID string, requestingPID process.PID) (*Page, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clk.Now()
	m.totalAccesses++

	if p, ok := m.inMemory[pageID]; ok {
		if requestingPID != "" && p.PID != requestingPID {
			return nil, false
		}
		p.AccessCount++
		p.LastAccess = now
		return p.clone(), true
	}

	if p, ok := m.swapped[pageID]; ok {
		if requestingPID != "" && p.PID != requestingPID {
			return nil, false
		}
		m.pageInLocked(p, now)
		p.AccessCount++
		p.LastAccess = now
		return p.clone(), true
	}

	return nil, false
}

// UpdateImportance changes a page's importance score in place.
func (m *Manager) UpdateImportance(pageID string, importance float64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p, ok := m.inMemory[pageID]; ok {
		p.Importance = importance
		return true
	}
	if p, ok := m.swapped[pageID]; ok {
		p.Importance = importance
		return true
	}
	return false
}

// Release removes all of pid's pages from memory and the swap store,
// returning the count freed. Silent (returns 0) on an unknown PID.
func (m *Manager) Release(pid process.PID) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := m.agentPages[pid]
	freed := 0
	for _, id := range ids {
		if p, ok := m.inMemory[id]; ok {
			delete(m.inMemory, id)
			m.currentUsage -= p.Tokens
			freed++
			continue
		}
		if _, ok := m.swapped[id]; ok {
			delete(m.swapped, id)
			freed++
		}
	}
	delete(m.agentPages, pid)
	return freed
}

// GetAgentContext assembles pid's pages into a single string, optionally
// ordered for KV-cache affinity or by (importance desc, last-access desc),
// then optionally truncated to maxPages.
func (m *Manager) GetAgentContext(pid process.PID, maxPages int, optimizeForCache bool) string {
	m.mu.Lock()
	ids := append([]string(nil), m.agentPages[pid]...)
	m.mu.Unlock()

	pages := make([]*Page, 0, len(ids))
	now := m.clk.Now()
	for _, id := range ids {
		m.mu.Lock()
		p, inMem := m.inMemory[id]
		if !inMem {
			if sp, ok := m.swapped[id]; ok {
				m.pageInLocked(sp, now)
				p = sp
			}
		}
		if p != nil {
			p.AccessCount++
			p.LastAccess = now
			pages = append(pages, p.clone())
		}
		m.totalAccesses++
		m.mu.Unlock()
	}

	if optimizeForCache {
		pages = orderForCache(pages)
	} else {
		pages = orderByRecency(pages)
	}

	if maxPages > 0 && len(pages) > maxPages {
		pages = pages[:maxPages]
	}

	parts := make([]string, 0, len(pages))
	for _, p := range pages {
		parts = append(parts, p.Content)
	}
	return strings.Join(parts, "\n\n")
}

// AgentPageIDs returns the page IDs owned by pid, in insertion order —
// used by the checkpoint subsystem to snapshot a process's pages.
func (m *Manager) AgentPageIDs(pid process.PID) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.agentPages[pid]...)
}

// PageByID returns a defensive copy of a page regardless of its status,
// bypassing ownership checks — used internally by checkpoint snapshotting.
func (m *Manager) PageByID(pageID string) (*Page, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.inMemory[pageID]; ok {
		return p.clone(), true
	}
	if p, ok := m.swapped[pageID]; ok {
		return p.clone(), true
	}
	return nil, false
}

// RestorePage reinstates a page (e.g. from a checkpoint) directly into
// IN_MEMORY status, bypassing the normal Allocate estimation path. Used by
// restore-from-checkpoint. The reinstated page gets a fresh page ID, so the
// page it was copied from (and its owner) is left untouched.
func (m *Manager) RestorePage(pid process.PID, p *Page) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := p.clone()
	cp.ID = clock.NewID(clock.KindPage)
	cp.PID = pid
	if cp.Status == StatusSwapped {
		m.swapped[cp.ID] = cp
	} else {
		cp.Status = StatusInMemory
		m.inMemory[cp.ID] = cp
		m.currentUsage += cp.Tokens
	}
	m.agentPages[pid] = append(m.agentPages[pid], cp.ID)
}

// Stats reports the Context Manager's live statistics.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	pct := 0.0
	if m.maxTokens > 0 {
		pct = float64(m.currentUsage) / float64(m.maxTokens) * 100
	}

	return Stats{
		CurrentUsage:  m.currentUsage,
		MaxTokens:     m.maxTokens,
		UsagePct:      pct,
		PagesInMemory: len(m.inMemory),
		PagesSwapped:  len(m.swapped),
		AgentCount:    len(m.agentPages),
		PageFaults:    m.pageFaults,
		SwapIns:       m.swapIns,
		SwapOuts:      m.swapOuts,
		TotalAccesses: m.totalAccesses,
	}
}

// CurrentUsage returns the live token usage (P2/P3 invariant check helper).
func (m *Manager) CurrentUsage() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentUsage
}
