package reactor

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event is an opaque queued item; the loop hands it to OnEvent untouched.
type Event any

// EventLoop wraps a reactor with a cross-goroutine event queue. Exactly
// three entry points are safe from other goroutines: CommitEvent,
// CommitPriorityEvent and Exit; everything else runs on the loop
// goroutine.
type EventLoop struct {
	*Reactor

	mu    sync.Mutex
	queue []Event

	exitFlag atomic.Bool

	// IdleTimeout bounds each wait; when it elapses with nothing
	// ready, OnTimeout fires. Zero waits without limit.
	IdleTimeout time.Duration

	// OnEvent fires once per dequeued event.
	OnEvent func(Event)
	// OnTimeout fires when an idle wait elapsed without readiness.
	OnTimeout func()
	// OnExited fires when Run returns.
	OnExited func()
}

// NewLoop creates an event loop with its own reactor.
func NewLoop() (*EventLoop, error) {
	r, err := New()
	if err != nil {
		return nil, err
	}
	return &EventLoop{Reactor: r}, nil
}

// QueueEvent appends an event without waking the reactor.
func (l *EventLoop) QueueEvent(ev Event) {
	l.mu.Lock()
	l.queue = append(l.queue, ev)
	l.mu.Unlock()
}

// CommitEvent appends an event and wakes the reactor. Safe from any
// goroutine; the queue mutex plus the wake pipe give the happens-before
// edge to the dispatching goroutine.
func (l *EventLoop) CommitEvent(ev Event) {
	l.QueueEvent(ev)
	l.Wake()
}

// CommitPriorityEvent pushes an event to the front of the queue and
// wakes the reactor. Priority events fire before any queued non-priority
// ones but never preempt a callback already in flight.
func (l *EventLoop) CommitPriorityEvent(ev Event) {
	l.mu.Lock()
	l.queue = append([]Event{ev}, l.queue...)
	l.mu.Unlock()
	l.Wake()
}

// ProcessEvents drains the queue, firing OnEvent per item in insertion
// order. Each event is dequeued before dispatch, so it is released even
// when the handler panics.
func (l *EventLoop) ProcessEvents() {
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			l.mu.Unlock()
			return
		}
		ev := l.queue[0]
		l.queue = l.queue[1:]
		l.mu.Unlock()

		if l.OnEvent != nil {
			l.OnEvent(ev)
		}

		if l.exitFlag.Load() {
			return
		}
	}
}

// pendingEvents reports a non-empty queue.
func (l *EventLoop) pendingEvents() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue) > 0
}

// Run dispatches queued events and waits on the reactor until Exit.
// Poll-level errors and callback panics propagate out with the loop
// state intact.
func (l *EventLoop) Run() error {
	defer func() {
		if l.OnExited != nil {
			l.OnExited()
		}
	}()

	for !l.exitFlag.Load() {
		if l.pendingEvents() {
			l.ProcessEvents()
			continue
		}

		until := time.Time{}
		if l.IdleTimeout > 0 {
			until = time.Now().Add(l.IdleTimeout)
		}

		avail, err := l.WaitUntil(until)
		if err != nil {
			return err
		}
		if l.exitFlag.Load() {
			break
		}
		if !avail && !l.pendingEvents() && l.OnTimeout != nil {
			l.OnTimeout()
		}
	}
	return nil
}

// Exit schedules Run to return after the current dispatch cycle. Safe
// from any goroutine.
func (l *EventLoop) Exit() {
	l.exitFlag.Store(true)
	l.Wake()
}

// Exited reports whether Exit was requested.
func (l *EventLoop) Exited() bool { return l.exitFlag.Load() }

// Restart clears a previous Exit so the loop can run again.
func (l *EventLoop) Restart() { l.exitFlag.Store(false) }
