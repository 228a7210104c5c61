package jsonrpc

import (
	"sync/atomic"
	"time"

	"github.com/behrlich/go-asyncrpc/codec/jsonc"
	"github.com/behrlich/go-asyncrpc/rpc"
	"github.com/behrlich/go-asyncrpc/sinfo"
)

// Client speaks JSON-RPC 2.0 over one TCP connection: consecutive
// request and response objects on the stream. Calls are serialized per
// connection; a read error, a timeout included, drops the connection,
// and responses whose id does not match the call are skipped.
type Client struct {
	rpc.ClientBase

	dec    *jsonc.Decoder
	nextID atomic.Int64
}

// NewClient returns an unconnected client.
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

// Call implements rpc.Caller.
func (c *Client) Call(method string, args []*sinfo.Info, timeout time.Duration) (*sinfo.Info, error) {
	c.Mu.Lock()
	defer c.Mu.Unlock()

	conn, err := c.ConnLocked()
	if err != nil {
		return nil, err
	}
	if c.dec == nil {
		c.dec = jsonc.NewDecoder(conn)
	}
	rpc.ApplyDeadline(conn, timeout)

	if d := c.DomainLocked(); d != "" {
		method = d + "." + method
	}
	id := c.nextID.Add(1)

	if err := jsonc.EncodeTo(conn, buildRequest(method, args, id)); err != nil {
		c.dropLocked()
		return nil, rpc.MapNetError("call", err)
	}

	// skip responses to calls that were abandoned on timeout
	for {
		resp, err := c.dec.ReadValue()
		if err != nil {
			// the decoder's error state is sticky, so even a
			// timeout costs the connection; the next call dials
			// fresh
			c.dropLocked()
			return nil, rpc.MapNetError("call", err)
		}
		gotID, res, fault, err := parseResponse(resp)
		if err != nil {
			c.dropLocked()
			return nil, err
		}
		if gotID != id {
			continue
		}
		if fault != nil {
			return nil, fault
		}
		return res, nil
	}
}

func (c *Client) dropLocked() {
	c.DropLocked()
	c.dec = nil
}

// Close releases the decoder and the connection.
func (c *Client) Close() error {
	c.Mu.Lock()
	c.dec = nil
	c.Mu.Unlock()
	return c.ClientBase.Close()
}

// Begin implements rpc.Caller.
func (c *Client) Begin(method string, args []*sinfo.Info) *rpc.PendingCall {
	return rpc.BeginVia(func() (*sinfo.Info, error) {
		return c.Call(method, args, 0)
	})
}
