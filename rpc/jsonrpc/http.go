package jsonrpc

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	asyncrpc "github.com/behrlich/go-asyncrpc"
	"github.com/behrlich/go-asyncrpc/codec/jsonc"
	"github.com/behrlich/go-asyncrpc/internal/bufpool"
	"github.com/behrlich/go-asyncrpc/rpc"
	"github.com/behrlich/go-asyncrpc/sinfo"
)

// Handler serves JSON-RPC over HTTP POST framing for the given registry.
// The request path has no routing significance here; mount the handler
// per service with your mux of choice.
func Handler(reg *rpc.ServiceRegistry) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "POST required", http.StatusMethodNotAllowed)
			return
		}

		body, release, err := readBody(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer release()

		req, err := jsonc.Decode(body)
		var resp *sinfo.Info
		if err != nil {
			resp = buildResponse(nil, nil, rpc.Faultf(rpc.FaultInvalidParams, "malformed request: %v", err))
		} else {
			resp = serveRequest(reg, req)
		}

		out, err := jsonc.Encode(resp)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", ContentType)
		w.Write(out)
	})
}

// readBody reads the request body through the frame buffer pool when the
// length is declared.
func readBody(r *http.Request) (data []byte, release func(), err error) {
	if n := r.ContentLength; n > 0 {
		buf := bufpool.GetBuffer(int(n))
		if _, err := io.ReadFull(r.Body, buf); err != nil {
			bufpool.PutBuffer(buf)
			return nil, nil, err
		}
		return buf, func() { bufpool.PutBuffer(buf) }, nil
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, nil, err
	}
	return body, func() {}, nil
}

// HTTPClient invokes JSON-RPC methods through HTTP POST requests with
// keep-alive reuse. It implements rpc.Caller.
type HTTPClient struct {
	url    string
	domain string
	hc     *http.Client
	nextID atomic.Int64
}

// NewHTTPClient targets url, e.g. "http://host:port/calc".
func NewHTTPClient(url string) *HTTPClient {
	return &HTTPClient{url: url, hc: &http.Client{}}
}

// Domain sets the method-name prefix.
func (c *HTTPClient) Domain(name string) { c.domain = name }

// Call implements rpc.Caller.
func (c *HTTPClient) Call(method string, args []*sinfo.Info, timeout time.Duration) (*sinfo.Info, error) {
	if c.domain != "" {
		method = c.domain + "." + method
	}

	body, err := jsonc.Encode(buildRequest(method, args, c.nextID.Add(1)))
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

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, rpc.MapNetError("call", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, asyncrpc.NewError("call", asyncrpc.CodeIO, "http status "+httpResp.Status)
	}

	resp, err := jsonc.Decode(raw)
	if err != nil {
		return nil, err
	}
	_, res, fault, err := parseResponse(resp)
	if err != nil {
		return nil, err
	}
	if fault != nil {
		return nil, fault
	}
	return res, nil
}

// Begin implements rpc.Caller.
func (c *HTTPClient) Begin(method string, args []*sinfo.Info) *rpc.PendingCall {
	return rpc.BeginVia(func() (*sinfo.Info, error) {
		return c.Call(method, args, 0)
	})
}

// Close releases idle keep-alive connections.
func (c *HTTPClient) Close() error {
	c.hc.CloseIdleConnections()
	return nil
}
