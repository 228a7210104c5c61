package xmlrpc

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	asyncrpc "github.com/behrlich/go-asyncrpc"
	"github.com/behrlich/go-asyncrpc/internal/bufpool"
	"github.com/behrlich/go-asyncrpc/rpc"
	"github.com/behrlich/go-asyncrpc/sinfo"
)

// Handler serves XML-RPC over HTTP POST for the given registry.
func Handler(reg *rpc.ServiceRegistry) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "POST required", http.StatusMethodNotAllowed)
			return
		}

		var body io.Reader = r.Body
		var release func()
		if n := r.ContentLength; n > 0 {
			buf := bufpool.GetBuffer(int(n))
			if _, err := io.ReadFull(r.Body, buf); err != nil {
				bufpool.PutBuffer(buf)
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			body = bytes.NewReader(buf)
			release = func() { bufpool.PutBuffer(buf) }
			defer release()
		}

		method, args, err := decodeCall(body)

		var out []byte
		if err != nil {
			out, err = encodeResponse(nil, rpc.Faultf(rpc.FaultInvalidParams, "malformed request: %v", err))
		} else {
			res, fault := reg.Dispatch("", method, args)
			out, err = encodeResponse(res, fault)
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", ContentType)
		w.Write(out)
	})
}

// Client invokes XML-RPC methods through HTTP POST requests. It
// implements rpc.Caller.
type Client struct {
	url    string
	domain string
	hc     *http.Client
}

// NewClient targets url, e.g. "http://host:port/rpc".
func NewClient(url string) *Client {
	return &Client{url: url, hc: &http.Client{}}
}

// Domain sets the method-name prefix.
func (c *Client) Domain(name string) { c.domain = name }

// Call implements rpc.Caller.
func (c *Client) Call(method string, args []*sinfo.Info, timeout time.Duration) (*sinfo.Info, error) {
	if c.domain != "" {
		method = c.domain + "." + method
	}

	body, err := encodeCall(method, args)
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, asyncrpc.WrapError("call", err)
	}
	req.Header.Set("Content-Type", ContentType)

	httpResp, err := c.hc.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, asyncrpc.NewError("call", asyncrpc.CodeTimeout, "remote call did not complete in time")
		}
		return nil, rpc.MapNetError("call", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, httpResp.Body)
		return nil, asyncrpc.NewError("call", asyncrpc.CodeIO, "http status "+httpResp.Status)
	}

	res, fault, err := decodeResponse(httpResp.Body)
	if err != nil {
		return nil, err
	}
	if fault != nil {
		return nil, fault
	}
	return res, nil
}

// Begin implements rpc.Caller.
func (c *Client) Begin(method string, args []*sinfo.Info) *rpc.PendingCall {
	return rpc.BeginVia(func() (*sinfo.Info, error) {
		return c.Call(method, args, 0)
	})
}

// Close releases idle keep-alive connections.
func (c *Client) Close() error {
	c.hc.CloseIdleConnections()
	return nil
}
