package reactor

import (
	"time"

	"golang.org/x/sys/unix"

	asyncrpc "github.com/behrlich/go-asyncrpc"
	"github.com/behrlich/go-asyncrpc/internal/logging"
)

const pollErrorMask = unix.POLLERR | unix.POLLHUP | unix.POLLNVAL

// Reactor multiplexes readiness over a set of selectables with a single
// poll vector. Slot 0 is always the wake pipe; the rest is rebuilt lazily
// whenever the set or any interest mask changes. All methods except Wake
// must be called from the owning goroutine.
type Reactor struct {
	selectables []Selectable
	cur         int  // iteration cursor; -1 outside dispatch
	curRemoved  bool // the element under the cursor was removed mid-callback
	dirty       bool
	pollfds     []unix.PollFd

	wakePipe [2]int
	timers   timerQueue

	logger *logging.Logger
}

// New creates a reactor and its wake pipe. Both pipe ends are
// non-blocking and close-on-exec and live for the reactor's lifetime.
func New() (*Reactor, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return nil, asyncrpc.WrapError("pipe2", err)
	}
	return &Reactor{
		wakePipe: fds,
		cur:      -1,
		dirty:    true,
		logger:   logging.Default(),
	}, nil
}

// Close detaches all selectables and closes the wake pipe. Idempotent.
func (r *Reactor) Close() error {
	for len(r.selectables) > 0 {
		r.Remove(r.selectables[0])
	}
	if r.wakePipe[0] >= 0 {
		unix.Close(r.wakePipe[0])
		unix.Close(r.wakePipe[1])
		r.wakePipe[0], r.wakePipe[1] = -1, -1
	}
	return nil
}

// Add registers a selectable. A selectable already owned by another
// reactor must be removed there first.
func (r *Reactor) Add(s Selectable) {
	for _, have := range r.selectables {
		if have == s {
			return
		}
	}
	r.selectables = append(r.selectables, s)
	r.dirty = true
	r.logger.Debug("selectable added", "count", len(r.selectables))
	s.OnAttach(r)
}

// Remove deregisters a selectable. Safe to call from inside the
// selectable's own callback; the dispatch cursor is kept consistent.
func (r *Reactor) Remove(s Selectable) {
	for i, have := range r.selectables {
		if have != s {
			continue
		}
		r.selectables = append(r.selectables[:i], r.selectables[i+1:]...)
		if r.cur >= 0 {
			if i < r.cur {
				r.cur--
			} else if i == r.cur {
				r.curRemoved = true
			}
		}
		r.dirty = true
		s.OnDetach(r)
		return
	}
}

// SetDirty forces a poll-vector rebuild before the next wait.
func (r *Reactor) SetDirty() { r.dirty = true }

// Changed notes that a selectable's interest mask or avail state moved.
func (r *Reactor) Changed(s Selectable) { r.dirty = true }

// Wake makes the next (or current) poll return immediately. The only
// method safe to call from other goroutines; idempotent across
// concurrent callers.
func (r *Reactor) Wake() {
	// EAGAIN means a wake byte is already pending, which is as good
	for {
		_, err := unix.Write(r.wakePipe[1], []byte{'W'})
		if err == unix.EINTR {
			continue
		}
		return
	}
}

// Wait polls for up to d. A negative duration waits without limit.
func (r *Reactor) Wait(d time.Duration) (bool, error) {
	if d < 0 {
		return r.WaitUntil(time.Time{})
	}
	return r.WaitUntil(time.Now().Add(d))
}

// WaitUntil runs one poll pass bounded by the absolute deadline (zero
// time means no deadline), fires due timers, dispatches readiness and
// reports whether any selectable became available. Callback panics
// propagate with the cursor restored.
func (r *Reactor) WaitUntil(until time.Time) (bool, error) {
	now := time.Now()

	// due timers fire first and the earliest survivor bounds the poll
	pollUntil := until
	if next := r.timers.update(now); !next.IsZero() {
		if pollUntil.IsZero() || next.Before(pollUntil) {
			pollUntil = next
		}
	}

	if r.dirty {
		r.rebuild()
	}

	timeout := pollTimeout(pollUntil, now)
	for _, s := range r.selectables {
		if s.Avail() {
			timeout = 0
			break
		}
	}

	n, err := r.poll(timeout)
	if err != nil {
		return false, err
	}

	avail := false
	if n > 0 && r.pollfds[0].Revents != 0 {
		if r.pollfds[0].Revents&pollErrorMask != 0 {
			return false, asyncrpc.NewError("poll", asyncrpc.CodeIO, "poll error on wake pipe")
		}
		if err := r.drainWakePipe(); err != nil {
			return false, err
		}
		avail = true
		r.pollfds[0].Revents = 0
	}

	if n > 0 || r.anyAvail() {
		if r.dispatch() {
			avail = true
		}
	}

	// timers that came due while polling
	r.timers.update(time.Now())

	// readiness observed earlier but not yet consumed still counts
	if !avail {
		avail = r.anyAvail()
	}
	return avail, nil
}

func (r *Reactor) anyAvail() bool {
	for _, s := range r.selectables {
		if s.Avail() {
			return true
		}
	}
	return false
}

// rebuild regenerates the poll vector: the wake pipe in slot 0 followed
// by each enabled selectable's entries.
func (r *Reactor) rebuild() {
	size := 1
	for _, s := range r.selectables {
		if s.Enabled() {
			size += s.PollSize()
		}
	}

	r.pollfds = make([]unix.PollFd, size)
	r.pollfds[0] = unix.PollFd{Fd: int32(r.wakePipe[0]), Events: unix.POLLIN}

	idx := 1
	for _, s := range r.selectables {
		if !s.Enabled() {
			continue
		}
		idx += s.InitializePoll(r.pollfds[idx:])
	}
	r.dirty = false
}

func pollTimeout(until time.Time, now time.Time) int {
	if until.IsZero() {
		return -1
	}
	remaining := until.Sub(now)
	if remaining <= 0 {
		return 0
	}
	// round up so a positive remainder never spins
	ms := (remaining + time.Millisecond - 1) / time.Millisecond
	if ms > 1<<31-1 {
		return 1<<31 - 1
	}
	return int(ms)
}

func (r *Reactor) poll(timeout int) (int, error) {
	for {
		n, err := unix.Poll(r.pollfds, timeout)
		if err == nil {
			return n, nil
		}
		if err == unix.EINTR {
			continue
		}
		return 0, asyncrpc.WrapError("poll", err)
	}
}

func (r *Reactor) drainWakePipe() error {
	var buf [1024]byte
	for {
		n, err := unix.Read(r.wakePipe[0], buf[:])
		if n > 0 {
			continue
		}
		switch err {
		case unix.EINTR:
			continue
		case unix.EAGAIN, nil:
			return nil
		}
		return asyncrpc.WrapError("read", err)
	}
}

// dispatch walks the selectable set firing readiness callbacks. The
// cursor survives Remove from inside a callback, and is restored even
// when a callback panics.
func (r *Reactor) dispatch() bool {
	avail := false
	r.cur = 0
	defer func() { r.cur = -1 }()

	for r.cur < len(r.selectables) {
		r.curRemoved = false
		s := r.selectables[r.cur]
		if s.Enabled() && s.CheckPollEvent() {
			avail = true
		}
		if !r.curRemoved {
			r.cur++
		}
	}
	return avail
}
