package rpc

import (
	"time"

	asyncrpc "github.com/behrlich/go-asyncrpc"
	"github.com/behrlich/go-asyncrpc/sinfo"
)

// Procedure binds a caller and a method name to a typed result. It
// offers synchronous invocation through Call, and asynchronous through
// Begin plus either End or the OnFinished callback.
type Procedure[R any] struct {
	caller  Caller
	name    string
	pending *PendingCall

	// OnFinished, when set before Begin, fires from the client's
	// completion goroutine with the decoded result.
	OnFinished func(*Result[R])
}

// NewProcedure binds a typed procedure to a caller. The caller is
// borrowed, not owned; many procedures may share one client.
func NewProcedure[R any](c Caller, name string) *Procedure[R] {
	return &Procedure[R]{caller: c, name: name}
}

// Name returns the bound method name.
func (p *Procedure[R]) Name() string { return p.name }

func decodeResult[R any](res *sinfo.Info, err error) *Result[R] {
	r := &Result[R]{}
	if err != nil {
		r.err = err
		return r
	}
	if res == nil {
		return r
	}
	if err := sinfo.To(res, &r.value); err != nil {
		r.err = err
	}
	return r
}

// Call invokes the method synchronously without a deadline.
func (p *Procedure[R]) Call(args ...any) (R, error) {
	return p.CallTimeout(0, args...)
}

// CallTimeout invokes the method synchronously, bounded by timeout when
// positive.
func (p *Procedure[R]) CallTimeout(timeout time.Duration, args ...any) (R, error) {
	var zero R
	enc, err := EncodeArgs(args...)
	if err != nil {
		return zero, err
	}
	res, err := p.caller.Call(p.name, enc, timeout)
	return decodeResult[R](res, err).Get()
}

// Begin schedules the call. The operation never completes before Begin
// returns, so the caller can attach OnFinished or go on to End.
func (p *Procedure[R]) Begin(args ...any) error {
	enc, err := EncodeArgs(args...)
	if err != nil {
		return err
	}
	pending := p.caller.Begin(p.name, enc)
	p.pending = pending

	if cb := p.OnFinished; cb != nil {
		go func() {
			<-pending.Done()
			cb(decodeResult[R](pending.Wait(0)))
		}()
	}
	return nil
}

// End completes the call started by Begin, waiting up to timeout
// (non-positive waits without limit). Expiry raises CodeTimeout and
// leaves the call running; a later End may still collect it.
func (p *Procedure[R]) End(timeout time.Duration) (R, error) {
	var zero R
	if p.pending == nil {
		return zero, asyncrpc.NewError("end", asyncrpc.CodeInvalidOperation, "no call in progress")
	}
	res, err := p.pending.Wait(timeout)
	if err == nil || !asyncrpc.IsTimeout(err) {
		p.pending = nil
	}
	return decodeResult[R](res, err).Get()
}

// VaProcedure is the variadic, runtime-shaped counterpart: arguments and
// result stay as value trees.
type VaProcedure struct {
	caller Caller
	name   string

	pending *PendingCall
}

// NewVaProcedure binds an untyped procedure to a caller.
func NewVaProcedure(c Caller, name string) *VaProcedure {
	return &VaProcedure{caller: c, name: name}
}

// Call invokes the method with a pre-built argument array.
func (p *VaProcedure) Call(args []*sinfo.Info, timeout time.Duration) (*sinfo.Info, error) {
	return p.caller.Call(p.name, args, timeout)
}

// Begin schedules the call.
func (p *VaProcedure) Begin(args []*sinfo.Info) {
	p.pending = p.caller.Begin(p.name, args)
}

// End completes a call started by Begin.
func (p *VaProcedure) End(timeout time.Duration) (*sinfo.Info, error) {
	if p.pending == nil {
		return nil, asyncrpc.NewError("end", asyncrpc.CodeInvalidOperation, "no call in progress")
	}
	res, err := p.pending.Wait(timeout)
	if err == nil || !asyncrpc.IsTimeout(err) {
		p.pending = nil
	}
	return res, err
}
