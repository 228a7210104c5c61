// Package reactor implements the poll-driven descriptor multiplexer: a
// set of monitored selectables, a wake pipe, deadline timers and the
// event loop on top.
package reactor

import (
	"golang.org/x/sys/unix"
)

// Selectable is anything the reactor can monitor. Implementations
// contribute entries to the poll vector and translate readiness back into
// their own callbacks. A selectable belongs to at most one reactor.
type Selectable interface {
	// Enabled reports whether the selectable takes part in polling.
	Enabled() bool

	// Avail reports pending readiness that was observed but not yet
	// consumed; an avail selectable forces a zero poll timeout.
	Avail() bool

	// PollSize returns how many poll entries the selectable needs.
	PollSize() int

	// InitializePoll fills in up to len(pfds) entries and returns the
	// count used. The selectable may retain pointers into pfds until
	// the next rebuild.
	InitializePoll(pfds []unix.PollFd) int

	// CheckPollEvent consults the filled-in revents and fires the
	// selectable's callbacks in (error, writable, readable) order. It
	// reports whether the selectable became available.
	CheckPollEvent() bool

	// OnAttach and OnDetach are invoked by the reactor on Add and
	// Remove.
	OnAttach(r *Reactor)
	OnDetach(r *Reactor)
}

// Base carries the bookkeeping common to all selectables and is meant to
// be embedded. The zero value is detached and disabled.
type Base struct {
	sel     *Reactor
	enabled bool
	avail   bool
}

// Selector returns the owning reactor, nil when detached.
func (b *Base) Selector() *Reactor { return b.sel }

// SetSelector moves the selectable between reactors. Passing nil
// deregisters it.
func (b *Base) SetSelector(r *Reactor) { b.sel = r }

// Enabled reports whether the selectable polls.
func (b *Base) Enabled() bool { return b.enabled }

// SetEnabled toggles participation and marks the owning reactor's poll
// vector dirty.
func (b *Base) SetEnabled(on bool) {
	if b.enabled == on {
		return
	}
	b.enabled = on
	if b.sel != nil {
		b.sel.SetDirty()
	}
}

// Avail reports unconsumed readiness.
func (b *Base) Avail() bool { return b.avail }

// SetAvail records readiness observed by CheckPollEvent and consumed by
// the owner's end-operations.
func (b *Base) SetAvail(v bool) { b.avail = v }

// OnAttach is the default no-op registration hook.
func (b *Base) OnAttach(r *Reactor) {}

// OnDetach is the default no-op deregistration hook.
func (b *Base) OnDetach(r *Reactor) {}
