// Package clock provides the kernel's monotonic time source and opaque
// identifier generation. Every other package that needs "now" or a new ID
// goes through here so tests can substitute a deterministic clock.
package clock

import (
	"time"

	"github.com/google/uuid"
)

// Clock abstracts wall-clock time so the scheduler, pager, and quota
// manager can be driven deterministically in tests.
type Clock interface {
	Now() time.Time
}

// System is the production Clock backed by time.Now.
type System struct{}

// Now returns the current wall-clock time.
func (System) Now() time.Time { return time.Now() }

// Default is the process-wide System clock instance.
var Default Clock = System{}

// Frozen is a test Clock that always returns the same instant until
// advanced explicitly.
type Frozen struct {
	at time.Time
}

// NewFrozen creates a Frozen clock starting at t.
func NewFrozen(t time.Time) *Frozen {
	return &Frozen{at: t}
}

// Now returns the frozen instant.
func (f *Frozen) Now() time.Time { return f.at }

// Advance moves the frozen clock forward by d.
func (f *Frozen) Advance(d time.Duration) {
	f.at = f.at.Add(d)
}

// Set moves the frozen clock to t.
func (f *Frozen) Set(t time.Time) {
	f.at = t
}

// Kind distinguishes the category of entity an ID was minted for, purely
// as a debugging aid embedded in the ID's prefix.
type Kind string

const (
	KindProcess    Kind = "pid"
	KindPage       Kind = "page"
	KindCheckpoint Kind = "ckpt"
	KindAuditLog   Kind = "audit"
	KindEvent      Kind = "evt"
	KindSub        Kind = "sub"
)

// NewID mints an opaque, globally unique identifier for the given kind.
// IDs are strings of the form "<kind>_<uuid>" so they remain readable in
// logs and audit trails while staying opaque to callers.
func NewID(kind Kind) string {
	return string(kind) + "_" + uuid.NewString()
}
