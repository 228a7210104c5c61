package rpc

import (
	"errors"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	asyncrpc "github.com/behrlich/go-asyncrpc"
	"github.com/behrlich/go-asyncrpc/internal/logging"
	"github.com/behrlich/go-asyncrpc/sinfo"
)

// ClientBase carries the connection plumbing every stream transport
// client shares: eager or lazy connecting, per-connection call
// serialization, the domain prefix and deadline bookkeeping. Transports
// embed it and provide the wire format.
type ClientBase struct {
	// Mu serializes calls on the connection. Held for a full
	// request/response round trip.
	Mu sync.Mutex

	addr   string
	conn   net.Conn
	domain string

	// Stale counts responses abandoned by timed-out calls that are
	// still due to arrive on the stream and must be discarded.
	Stale int

	ConnID string
	Logger *logging.Logger
}

// Connect dials the peer immediately. The address is host:port.
func (c *ClientBase) Connect(addr string) error {
	c.Mu.Lock()
	defer c.Mu.Unlock()
	c.addr = addr
	return c.dialLocked()
}

// PrepareConnect records the address; dialing is deferred to the first
// call.
func (c *ClientBase) PrepareConnect(addr string) {
	c.Mu.Lock()
	c.addr = addr
	c.Mu.Unlock()
}

// Domain sets the prefix prepended to method names for server-side
// namespace dispatch. An empty name clears it.
func (c *ClientBase) Domain(name string) {
	c.Mu.Lock()
	c.domain = name
	c.Mu.Unlock()
}

// CurrentDomain returns the configured domain prefix.
func (c *ClientBase) CurrentDomain() string {
	c.Mu.Lock()
	defer c.Mu.Unlock()
	return c.domain
}

// DomainLocked returns the domain; callers must hold Mu.
func (c *ClientBase) DomainLocked() string { return c.domain }

func (c *ClientBase) dialLocked() error {
	if c.addr == "" {
		return asyncrpc.NewError("connect", asyncrpc.CodeInvalidOperation, "no peer address configured")
	}
	conn, err := net.Dial("tcp", c.addr)
	if err != nil {
		return asyncrpc.WrapError("connect", err)
	}
	c.conn = conn
	c.ConnID = uuid.NewString()
	c.Stale = 0
	if c.Logger == nil {
		c.Logger = logging.Default()
	}
	c.Logger.Debug("connected", "addr", c.addr, "conn", c.ConnID)
	return nil
}

// ConnLocked returns the connection, dialing lazily; callers must hold
// Mu.
func (c *ClientBase) ConnLocked() (net.Conn, error) {
	if c.conn == nil {
		if err := c.dialLocked(); err != nil {
			return nil, err
		}
	}
	return c.conn, nil
}

// Connected reports an established connection.
func (c *ClientBase) Connected() bool {
	c.Mu.Lock()
	defer c.Mu.Unlock()
	return c.conn != nil
}

// DropLocked tears the connection down after a stream-level failure;
// callers must hold Mu. The next call reconnects.
func (c *ClientBase) DropLocked() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.Stale = 0
}

// Close shuts the connection. Idempotent.
func (c *ClientBase) Close() error {
	c.Mu.Lock()
	defer c.Mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// ApplyDeadline arms the connection deadline from a call timeout;
// non-positive timeouts disarm it.
func ApplyDeadline(conn net.Conn, timeout time.Duration) {
	if timeout > 0 {
		conn.SetDeadline(time.Now().Add(timeout))
	} else {
		conn.SetDeadline(time.Time{})
	}
}

// MapNetError turns deadline expiry into the timeout error code and
// wraps everything else as an I/O failure.
func MapNetError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return asyncrpc.NewError(op, asyncrpc.CodeTimeout, "remote call did not complete in time")
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return asyncrpc.NewError(op, asyncrpc.CodeTimeout, "remote call did not complete in time")
	}
	var ae *asyncrpc.Error
	if errors.As(err, &ae) {
		return err
	}
	return asyncrpc.WrapError(op, err)
}

// BeginVia schedules call on a fresh goroutine and hands back the
// pending handle; the shared implementation of Caller.Begin. The call
// function typically closes over the client's synchronous Call, whose
// per-connection mutex serializes overlapping begins.
func BeginVia(call func() (*sinfo.Info, error)) *PendingCall {
	p := NewPendingCall()
	go func() {
		res, err := call()
		p.Complete(res, err)
	}()
	return p
}
