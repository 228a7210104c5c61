package iodev

import (
	"golang.org/x/sys/unix"

	"go.uber.org/multierr"

	asyncrpc "github.com/behrlich/go-asyncrpc"
	"github.com/behrlich/go-asyncrpc/internal/logging"
)

// PipeDevice is one end of a pipe.
type PipeDevice struct {
	Device
}

// Redirect duplicates this end onto the target descriptor (dup2) and
// optionally closes the original afterwards.
func (d *PipeDevice) Redirect(target int, closeOriginal bool) error {
	if d.fd < 0 {
		return asyncrpc.NewError("redirect", asyncrpc.CodeInvalidOperation, "device is closed")
	}
	if err := unix.Dup2(d.fd, target); err != nil {
		return asyncrpc.WrapError("dup2", err)
	}
	if closeOriginal {
		return d.Close()
	}
	return nil
}

// Pipe is a connected pair of pipe devices.
type Pipe struct {
	out *PipeDevice // read end
	in  *PipeDevice // write end
}

// NewPipe creates the pair via the OS pipe call, propagating the async
// and inherit flags to both ends.
func NewPipe(async, inherit bool) (*Pipe, error) {
	var fds [2]int
	flags := unix.O_CLOEXEC
	if inherit {
		flags = 0
	}
	if async {
		flags |= unix.O_NONBLOCK
	}
	if err := unix.Pipe2(fds[:], flags); err != nil {
		return nil, asyncrpc.WrapError("pipe2", err)
	}

	mk := func(fd int) *PipeDevice {
		d := &PipeDevice{}
		d.fd = fd
		d.async = async
		d.timeout = WaitInfinite
		d.guard = &sentry{}
		d.logger = logging.Default()
		d.SetEnabled(true)
		return d
	}

	return &Pipe{out: mk(fds[0]), in: mk(fds[1])}, nil
}

// Out returns the read end.
func (p *Pipe) Out() *PipeDevice { return p.out }

// In returns the write end.
func (p *Pipe) In() *PipeDevice { return p.in }

// Close closes both ends.
func (p *Pipe) Close() error {
	return multierr.Append(p.out.Close(), p.in.Close())
}

// RedirectStdin dups the read end onto descriptor 0.
func (p *Pipe) RedirectStdin(closeOriginal bool) error {
	return p.out.Redirect(0, closeOriginal)
}

// RedirectStdout dups the write end onto descriptor 1.
func (p *Pipe) RedirectStdout(closeOriginal bool) error {
	return p.in.Redirect(1, closeOriginal)
}

// RedirectStderr dups the write end onto descriptor 2.
func (p *Pipe) RedirectStderr(closeOriginal bool) error {
	return p.in.Redirect(2, closeOriginal)
}
