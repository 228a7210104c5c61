package iodev

import (
	"io"
	"time"

	"golang.org/x/sys/unix"

	asyncrpc "github.com/behrlich/go-asyncrpc"
	"github.com/behrlich/go-asyncrpc/internal/logging"
	"github.com/behrlich/go-asyncrpc/reactor"
)

// WaitInfinite disables the device timeout.
const WaitInfinite time.Duration = -1

// sentry guards callback dispatch against the device being closed from
// inside one of its own callbacks.
type sentry struct {
	dead bool
}

// Device owns one OS descriptor and implements reactor.Selectable. At
// most one read and one write operation may be outstanding; the caller
// owns the buffers passed to BeginRead/BeginWrite and the device borrows
// them, non-owning, until the matching end or Cancel.
type Device struct {
	reactor.Base

	fd      int
	async   bool
	timeout time.Duration
	eof     bool

	pfd    *unix.PollFd // slot in the reactor's vector; stale after rebuild
	events int16        // interest mask carried across rebuilds

	rbuf   []byte
	rn     int
	ravail bool

	wbuf   []byte
	wn     int
	wavail bool

	errPending bool

	// OnInput fires from the reactor when the device is readable (or
	// at EOF) with a read pending; OnOutput when writable with a
	// write pending.
	OnInput  func(*Device)
	OnOutput func(*Device)

	guard  *sentry
	logger *logging.Logger
}

// Open opens a filesystem path.
func Open(path string, mode OpenMode) (*Device, error) {
	fd, err := unix.Open(path, mode.openFlags(), 0666)
	if err != nil {
		if errno, ok := err.(unix.Errno); ok {
			return nil, asyncrpc.OpenError(path, errno)
		}
		return nil, asyncrpc.WrapError("open", err)
	}

	d, err := adopt(fd, mode&Async != 0, mode&Inherit != 0, false)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}

	if mode&AtEnd != 0 {
		if _, err := unix.Seek(fd, 0, unix.SEEK_END); err != nil {
			d.Close()
			return nil, asyncrpc.WrapError("seek", err)
		}
	}
	return d, nil
}

// OpenFd adopts an existing descriptor, applying the same non-blocking
// and close-on-exec handling as Open.
func OpenFd(fd int, async, inherit bool) (*Device, error) {
	return adopt(fd, async, inherit, true)
}

func adopt(fd int, async, inherit, applyNonblock bool) (*Device, error) {
	if async && applyNonblock {
		if err := unix.SetNonblock(fd, true); err != nil {
			return nil, asyncrpc.WrapError("fcntl", err)
		}
	}
	if !inherit {
		flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0)
		if err != nil {
			return nil, asyncrpc.WrapError("fcntl", err)
		}
		if _, err := unix.FcntlInt(uintptr(fd), unix.F_SETFD, flags|unix.FD_CLOEXEC); err != nil {
			return nil, asyncrpc.WrapError("fcntl", err)
		}
	}

	d := &Device{
		fd:      fd,
		async:   async,
		timeout: WaitInfinite,
		guard:   &sentry{},
		logger:  logging.Default(),
	}
	d.SetEnabled(true)
	return d, nil
}

// Fd returns the underlying descriptor, -1 when closed.
func (d *Device) Fd() int { return d.fd }

// IsOpen reports whether the descriptor is still held.
func (d *Device) IsOpen() bool { return d.fd >= 0 }

// IsAsync reports non-blocking mode.
func (d *Device) IsAsync() bool { return d.async }

// Eof reports that the peer closed or the file ended.
func (d *Device) Eof() bool { return d.eof }

// SetTimeout bounds synchronous operations on an async device;
// WaitInfinite removes the bound.
func (d *Device) SetTimeout(t time.Duration) { d.timeout = t }

// Timeout returns the current device timeout.
func (d *Device) Timeout() time.Duration { return d.timeout }

// Close cancels pending operations, detaches from the reactor and closes
// the descriptor. Idempotent.
func (d *Device) Close() error {
	if d.fd < 0 {
		return nil
	}
	d.Cancel()
	d.guard.dead = true
	if r := d.Selector(); r != nil {
		r.Remove(d)
		d.SetSelector(nil)
	}
	err := unix.Close(d.fd)
	d.logger.Debug("device closed", "fd", d.fd)
	d.fd = -1
	d.pfd = nil
	if err != nil {
		return asyncrpc.WrapError("close", err)
	}
	return nil
}

// Attach registers the device with a reactor. A device belongs to at
// most one reactor at a time.
func (d *Device) Attach(r *reactor.Reactor) {
	if d.Selector() == r {
		return
	}
	if old := d.Selector(); old != nil {
		old.Remove(d)
	}
	d.SetSelector(r)
	r.Add(d)
}

// Read reads into p with blocking semantics: EINTR is retried, and on an
// async device EAGAIN polls for up to the device timeout. At end of
// stream it returns 0, io.EOF.
func (d *Device) Read(p []byte) (int, error) {
	if d.fd < 0 {
		return 0, asyncrpc.NewError("read", asyncrpc.CodeInvalidOperation, "device is closed")
	}
	for {
		n, err := unix.Read(d.fd, p)
		if n > 0 {
			return n, nil
		}
		if n == 0 && err == nil {
			d.eof = true
			return 0, io.EOF
		}
		switch err {
		case unix.EINTR:
			continue
		case unix.ECONNRESET:
			d.eof = true
			return 0, io.EOF
		case unix.EAGAIN:
			if !d.async {
				return 0, asyncrpc.NewErrorWithErrno("read", asyncrpc.CodeIO, unix.EAGAIN)
			}
			if err := d.pollWait(unix.POLLIN, d.timeout); err != nil {
				return 0, err
			}
		default:
			return 0, asyncrpc.WrapError("read", err)
		}
	}
}

// Write writes all of p with blocking semantics mirroring Read.
func (d *Device) Write(p []byte) (int, error) {
	if d.fd < 0 {
		return 0, asyncrpc.NewError("write", asyncrpc.CodeInvalidOperation, "device is closed")
	}
	total := 0
	for total < len(p) {
		n, err := unix.Write(d.fd, p[total:])
		if n > 0 {
			total += n
			continue
		}
		switch err {
		case unix.EINTR:
			continue
		case unix.EPIPE, unix.ECONNRESET:
			d.eof = true
			return total, asyncrpc.NewErrorWithErrno("write", asyncrpc.CodeIO, err.(unix.Errno))
		case unix.EAGAIN:
			if !d.async {
				return total, asyncrpc.NewErrorWithErrno("write", asyncrpc.CodeIO, unix.EAGAIN)
			}
			if err := d.pollWait(unix.POLLOUT, d.timeout); err != nil {
				return total, err
			}
		default:
			return total, asyncrpc.WrapError("write", err)
		}
	}
	return total, nil
}

// BeginRead posts an asynchronous read of up to len(p) bytes. It records
// read interest and makes one non-blocking attempt; bytes already
// available are reported by the matching EndRead. Only one read may be
// outstanding.
func (d *Device) BeginRead(p []byte) error {
	if !d.async {
		return asyncrpc.NewError("beginRead", asyncrpc.CodeInvalidOperation, "device is not in async mode")
	}
	if d.rbuf != nil {
		return asyncrpc.NewError("beginRead", asyncrpc.CodePending, "read already in progress")
	}

	d.rbuf = p
	d.rn = 0
	d.setInterest(d.events | unix.POLLIN)

	n, err := unix.Read(d.fd, p)
	switch {
	case n > 0:
		d.rn = n
		d.markReadAvail()
	case n == 0 && err == nil:
		d.eof = true
		d.markReadAvail()
	case err == unix.ECONNRESET:
		d.eof = true
		d.markReadAvail()
	case err == unix.EAGAIN || err == unix.EINTR:
		// stays busy until the reactor reports readiness
	case err != nil:
		d.rbuf = nil
		d.setInterest(d.events &^ unix.POLLIN)
		return asyncrpc.WrapError("read", err)
	}
	return nil
}

// EndRead completes a posted read: it returns the bytes transferred and
// whether EOF was reached, blocking (bounded by the device timeout) when
// readiness has not arrived yet. Deferred poll errors surface here.
func (d *Device) EndRead() (int, bool, error) {
	if d.rbuf == nil {
		return 0, d.eof, asyncrpc.NewError("endRead", asyncrpc.CodeInvalidOperation, "no read in progress")
	}

	buf := d.rbuf
	n := d.rn

	finish := func() {
		d.rbuf = nil
		d.rn = 0
		d.ravail = false
		d.SetAvail(d.wavail)
		d.setInterest(d.events &^ unix.POLLIN)
	}

	if d.errPending {
		d.errPending = false
		finish()
		return 0, d.eof, asyncrpc.NewError("endRead", asyncrpc.CodeIO, "error condition reported by poll")
	}

	if n > 0 || d.eof {
		finish()
		return n, d.eof, nil
	}

	// readiness not consumed yet: read with blocking semantics
	nn, err := d.Read(buf)
	finish()
	if err == io.EOF {
		return 0, true, nil
	}
	if err != nil {
		return 0, d.eof, err
	}
	return nn, d.eof, nil
}

// BeginWrite posts an asynchronous write of p, making one non-blocking
// attempt first. Only one write may be outstanding.
func (d *Device) BeginWrite(p []byte) error {
	if !d.async {
		return asyncrpc.NewError("beginWrite", asyncrpc.CodeInvalidOperation, "device is not in async mode")
	}
	if d.wbuf != nil {
		return asyncrpc.NewError("beginWrite", asyncrpc.CodePending, "write already in progress")
	}

	d.wbuf = p
	d.wn = 0
	d.setInterest(d.events | unix.POLLOUT)

	n, err := unix.Write(d.fd, p)
	switch {
	case n > 0:
		d.wn = n
		d.markWriteAvail()
	case err == unix.EAGAIN || err == unix.EINTR:
		// stays busy until the reactor reports writability
	case err != nil:
		d.wbuf = nil
		d.setInterest(d.events &^ unix.POLLOUT)
		if err == unix.EPIPE || err == unix.ECONNRESET {
			d.eof = true
		}
		return asyncrpc.WrapError("write", err)
	}
	return nil
}

// EndWrite completes a posted write and returns the bytes transferred.
func (d *Device) EndWrite() (int, error) {
	if d.wbuf == nil {
		return 0, asyncrpc.NewError("endWrite", asyncrpc.CodeInvalidOperation, "no write in progress")
	}

	buf := d.wbuf
	n := d.wn

	finish := func() {
		d.wbuf = nil
		d.wn = 0
		d.wavail = false
		d.SetAvail(d.ravail)
		d.setInterest(d.events &^ unix.POLLOUT)
	}

	if d.errPending {
		d.errPending = false
		finish()
		return 0, asyncrpc.NewError("endWrite", asyncrpc.CodeIO, "error condition reported by poll")
	}

	if n > 0 {
		finish()
		return n, nil
	}

	nn, err := d.Write(buf)
	finish()
	return nn, err
}

// ReadPending and WritePending report outstanding asynchronous
// operations.
func (d *Device) ReadPending() bool  { return d.rbuf != nil }
func (d *Device) WritePending() bool { return d.wbuf != nil }

// Cancel withdraws both interest bits and abandons any in-flight
// operations without a callback.
func (d *Device) Cancel() {
	d.rbuf = nil
	d.wbuf = nil
	d.rn = 0
	d.wn = 0
	d.ravail = false
	d.wavail = false
	d.errPending = false
	d.SetAvail(false)
	d.setInterest(0)
}

// Wait polls the descriptor alone for up to t, the synchronous-user
// convenience.
func (d *Device) Wait(t time.Duration) (bool, error) {
	err := d.pollWait(unix.POLLIN|unix.POLLOUT, t)
	if err != nil {
		if asyncrpc.IsTimeout(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// pollWait blocks on a single-descriptor poll until one of events is
// ready; expiry raises CodeTimeout.
func (d *Device) pollWait(events int16, t time.Duration) error {
	timeout := -1
	if t >= 0 {
		ms := (t + time.Millisecond - 1) / time.Millisecond
		timeout = int(ms)
	}

	pfd := []unix.PollFd{{Fd: int32(d.fd), Events: events}}
	for {
		n, err := unix.Poll(pfd, timeout)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return asyncrpc.WrapError("poll", err)
		}
		if n == 0 {
			return asyncrpc.NewError("poll", asyncrpc.CodeTimeout, "timeout while waiting for device")
		}
		return nil
	}
}

// setInterest updates the interest mask, patching the live poll entry
// when one exists.
func (d *Device) setInterest(events int16) {
	d.events = events
	if d.pfd != nil {
		d.pfd.Events = events
	} else if r := d.Selector(); r != nil {
		r.SetDirty()
	}
}

func (d *Device) markReadAvail() {
	d.ravail = true
	d.SetAvail(true)
	if r := d.Selector(); r != nil {
		r.Changed(d)
	}
}

func (d *Device) markWriteAvail() {
	d.wavail = true
	d.SetAvail(true)
	if r := d.Selector(); r != nil {
		r.Changed(d)
	}
}

// OnAttach implements reactor.Selectable.
func (d *Device) OnAttach(r *reactor.Reactor) { d.SetSelector(r) }

// OnDetach implements reactor.Selectable.
func (d *Device) OnDetach(r *reactor.Reactor) {
	d.SetSelector(nil)
	d.pfd = nil
}

// PollSize implements reactor.Selectable.
func (d *Device) PollSize() int { return 1 }

// InitializePoll implements reactor.Selectable.
func (d *Device) InitializePoll(pfds []unix.PollFd) int {
	if d.fd < 0 {
		return 0
	}
	pfds[0] = unix.PollFd{Fd: int32(d.fd), Events: d.events}
	d.pfd = &pfds[0]
	return 1
}

const devErrorMask = unix.POLLERR | unix.POLLNVAL

// CheckPollEvent translates revents into the device callbacks, firing in
// (error, writable, readable) order. The sentry makes it safe for a
// callback to close the device.
func (d *Device) CheckPollEvent() bool {
	if d.pfd == nil || d.pfd.Revents == 0 {
		return false
	}
	revents := d.pfd.Revents
	d.pfd.Revents = 0

	guard := d.guard
	avail := false

	if revents&devErrorMask != 0 {
		// the error is deferred: readiness callbacks run so the
		// owner reaches EndRead/EndWrite, which raise it
		d.errPending = true
	}
	if revents&unix.POLLHUP != 0 {
		if d.wbuf != nil && d.rbuf == nil {
			d.errPending = true
		}
		// a reader observes HUP as EOF via a zero-length read
	}

	if d.wbuf != nil && (revents&(unix.POLLOUT|devErrorMask) != 0 || (revents&unix.POLLHUP != 0)) {
		d.wavail = true
		d.SetAvail(true)
		avail = true
		if d.OnOutput != nil {
			d.OnOutput(d)
		}
		if guard.dead {
			return avail
		}
	}

	if d.rbuf != nil && (revents&(unix.POLLIN|unix.POLLHUP|devErrorMask) != 0) {
		if revents&unix.POLLHUP != 0 && revents&unix.POLLIN == 0 {
			d.eof = true
		}
		d.ravail = true
		d.SetAvail(true)
		avail = true
		if d.OnInput != nil {
			d.OnInput(d)
		}
		if guard.dead {
			return avail
		}
	}

	return avail
}
