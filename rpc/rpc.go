// Package rpc implements the transport-independent core of the RPC
// framework: typed remote procedures, pending-call plumbing, the service
// registry with its reflect-built invokers, and the fault model. The
// concrete wire transports live in rpc/binrpc, rpc/jsonrpc and
// rpc/xmlrpc.
package rpc

import (
	"fmt"
	"time"

	asyncrpc "github.com/behrlich/go-asyncrpc"
	"github.com/behrlich/go-asyncrpc/sinfo"
)

// Well-known fault codes shared by all transports.
const (
	FaultMethodNotFound = -32601
	FaultInvalidParams  = -32602
	FaultInternalError  = -32603
)

// Fault is a structured, peer-reported error: a numeric code plus text.
// A server method returning a *Fault has it delivered verbatim to the
// remote caller.
type Fault struct {
	Code int
	Text string
}

func (f *Fault) Error() string {
	return fmt.Sprintf("fault %d: %s", f.Code, f.Text)
}

// Faultf builds a fault from a format string.
func Faultf(code int, format string, args ...any) *Fault {
	return &Fault{Code: code, Text: fmt.Sprintf(format, args...)}
}

// Caller is the transport seam: anything that can deliver a named call
// with an argument array and produce a result tree.
type Caller interface {
	// Call invokes method synchronously. A non-positive timeout waits
	// without limit; expiry is reported as a CodeTimeout error.
	Call(method string, args []*sinfo.Info, timeout time.Duration) (*sinfo.Info, error)

	// Begin schedules the call and returns immediately. The pending
	// call completes from the client's completion goroutine; it never
	// completes before Begin returns.
	Begin(method string, args []*sinfo.Info) *PendingCall
}

// PendingCall is an in-flight asynchronous invocation.
type PendingCall struct {
	done chan struct{}
	res  *sinfo.Info
	err  error
}

// NewPendingCall is used by transport implementations.
func NewPendingCall() *PendingCall {
	return &PendingCall{done: make(chan struct{})}
}

// Complete delivers the outcome; must be called exactly once.
func (p *PendingCall) Complete(res *sinfo.Info, err error) {
	p.res = res
	p.err = err
	close(p.done)
}

// Done is closed when the call finished.
func (p *PendingCall) Done() <-chan struct{} { return p.done }

// Wait blocks for completion up to timeout (non-positive waits without
// limit). Expiry leaves the call running and returns a CodeTimeout
// error.
func (p *PendingCall) Wait(timeout time.Duration) (*sinfo.Info, error) {
	if timeout <= 0 {
		<-p.done
		return p.res, p.err
	}
	select {
	case <-p.done:
		return p.res, p.err
	case <-time.After(timeout):
		return nil, asyncrpc.NewError("end", asyncrpc.CodeTimeout, "remote call did not complete in time")
	}
}

// Result carries a finished call's value-or-error; Get re-raises the
// stored error.
type Result[R any] struct {
	value R
	err   error
}

// Get returns the decoded value or the stored transport/fault/conversion
// error.
func (r *Result[R]) Get() (R, error) {
	return r.value, r.err
}

// Err returns the stored error without the value.
func (r *Result[R]) Err() error { return r.err }

// EncodeArgs converts a heterogeneous Go argument list into the wire
// argument array. A *sinfo.Info argument passes through as-is.
func EncodeArgs(args ...any) ([]*sinfo.Info, error) {
	out := make([]*sinfo.Info, len(args))
	for i, a := range args {
		si, err := sinfo.From(a)
		if err != nil {
			return nil, err
		}
		out[i] = si
	}
	return out, nil
}
