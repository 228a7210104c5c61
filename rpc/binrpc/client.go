package binrpc

import (
	"bufio"
	"fmt"
	"time"

	asyncrpc "github.com/behrlich/go-asyncrpc"
	"github.com/behrlich/go-asyncrpc/codec/bin"
	"github.com/behrlich/go-asyncrpc/rpc"
	"github.com/behrlich/go-asyncrpc/sinfo"
)

// Client speaks the binary RPC framing over one TCP connection. Calls
// are serialized per connection; procedures may share a client. The
// codec dictionaries persist for the connection's lifetime, one per
// direction.
type Client struct {
	rpc.ClientBase

	br  *bufio.Reader
	bw  *bufio.Writer
	ser *bin.Serializer
	par *bin.Parser
}

// NewClient returns an unconnected client; use Connect or
// PrepareConnect.
func NewClient() *Client {
	return &Client{}
}

// Dial connects immediately.
func Dial(addr string) (*Client, error) {
	c := NewClient()
	if err := c.Connect(addr); err != nil {
		return nil, err
	}
	return c, nil
}

// setupLocked (re)binds the buffered stream and codec state to the
// current connection; Mu must be held.
func (c *Client) setupLocked() error {
	conn, err := c.ConnLocked()
	if err != nil {
		return err
	}
	if c.br == nil || c.bw == nil || c.ser == nil {
		c.br = bufio.NewReader(conn)
		c.bw = bufio.NewWriter(conn)
		c.ser = bin.NewSerializer(bin.NewDictionary())
		c.par = bin.NewParser(bin.NewDictionary())
	}
	return nil
}

// Close releases codec state and the connection.
func (c *Client) Close() error {
	c.Mu.Lock()
	if c.ser != nil {
		c.ser.Release()
		c.ser = nil
	}
	c.br = nil
	c.bw = nil
	c.par = nil
	c.Mu.Unlock()
	return c.ClientBase.Close()
}

// Call implements rpc.Caller.
func (c *Client) Call(method string, args []*sinfo.Info, timeout time.Duration) (*sinfo.Info, error) {
	c.Mu.Lock()
	defer c.Mu.Unlock()

	if err := c.setupLocked(); err != nil {
		return nil, err
	}
	conn, _ := c.ConnLocked()
	rpc.ApplyDeadline(conn, timeout)

	if err := writeCallFrame(c.bw, c.ser, c.DomainLocked(), method, args); err != nil {
		c.dropLocked()
		return nil, rpc.MapNetError("call", err)
	}

	// responses abandoned by earlier timed-out calls arrive first and
	// are discarded, fault or not
	for c.Stale > 0 {
		if _, err := c.readResponseLocked(); err != nil {
			if _, ok := err.(*rpc.Fault); !ok {
				return nil, err
			}
		}
		c.Stale--
	}

	res, err := c.readResponseLocked()
	if err != nil {
		if asyncrpc.IsTimeout(err) {
			c.Stale++
		}
		return nil, err
	}
	return res, nil
}

// readResponseLocked consumes one response or fault frame. A timeout
// before any frame byte arrived leaves the connection intact so a later
// call can drain the late response; a timeout or corruption mid-frame
// drops it.
func (c *Client) readResponseLocked() (*sinfo.Info, error) {
	kind, err := readMarker(c.br)
	if err != nil {
		mapped := rpc.MapNetError("call", err)
		if !asyncrpc.IsTimeout(mapped) {
			c.dropLocked()
		}
		return nil, mapped
	}

	switch kind {
	case kindResponse:
		res, err := readValue(c.br, c.par)
		if err != nil {
			return nil, c.streamError(err)
		}
		if err := readFrameEnd(c.br); err != nil {
			return nil, c.streamError(err)
		}
		return res, nil

	case kindFault:
		fv, err := readValue(c.br, c.par)
		if err != nil {
			return nil, c.streamError(err)
		}
		if err := readFrameEnd(c.br); err != nil {
			return nil, c.streamError(err)
		}
		code, text, err := parseFault(fv)
		if err != nil {
			return nil, c.streamError(err)
		}
		return nil, &rpc.Fault{Code: code, Text: text}
	}
	return nil, c.streamError(asyncrpc.SerializationError(fmt.Sprintf("unexpected frame kind <0x%02x>", kind)))
}

// streamError maps a mid-frame failure; the stream position is no
// longer trustworthy, so the connection is dropped.
func (c *Client) streamError(err error) error {
	c.dropLocked()
	return rpc.MapNetError("call", err)
}

func (c *Client) dropLocked() {
	c.DropLocked()
	if c.ser != nil {
		c.ser.Release()
		c.ser = nil
	}
	c.br = nil
	c.bw = nil
	c.par = nil
}

// Begin implements rpc.Caller. The pending call completes from its own
// goroutine; overlapping begins serialize on the connection.
func (c *Client) Begin(method string, args []*sinfo.Info) *rpc.PendingCall {
	return rpc.BeginVia(func() (*sinfo.Info, error) {
		return c.Call(method, args, 0)
	})
}
