package jsonrpc

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	asyncrpc "github.com/behrlich/go-asyncrpc"
	"github.com/behrlich/go-asyncrpc/rpc"
)

type color struct {
	R int
	G int
	B int
}

func fillRegistry(t *testing.T, reg *rpc.ServiceRegistry) {
	t.Helper()
	require.NoError(t, reg.RegisterMethod("multiplyInt", func(a, b int) int { return a * b }))
	require.NoError(t, reg.RegisterMethod("echoString", func(s string) string { return s }))
	require.NoError(t, reg.RegisterMethod("multiplyColor", func(a, b color) color {
		return color{a.R * b.R, a.G * b.G, a.B * b.B}
	}))
	require.NoError(t, reg.RegisterMethod("fault", func() (bool, error) {
		return false, &rpc.Fault{Code: 7, Text: "Fault"}
	}))
	require.NoError(t, reg.RegisterMethod("sleep", func(ms int) bool {
		time.Sleep(time.Duration(ms) * time.Millisecond)
		return true
	}))
	require.NoError(t, reg.RegisterDomainMethod("calc", "add", func(a, b int) int { return a + b }))
}

func startTCPServer(t *testing.T) string {
	t.Helper()
	srv := NewServer()
	fillRegistry(t, srv.Registry)
	addr, err := srv.Listen("127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })
	return addr.String()
}

func dialTCP(t *testing.T, addr string) *Client {
	t.Helper()
	c, err := Dial(addr)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestTCPInteger(t *testing.T) {
	addr := startTCPServer(t)
	c := dialTCP(t, addr)

	proc := rpc.NewProcedure[int](c, "multiplyInt")
	v, err := proc.CallTimeout(2*time.Second, 2, 3)
	require.NoError(t, err)
	require.Equal(t, 6, v)
}

func TestTCPStruct(t *testing.T) {
	addr := startTCPServer(t)
	c := dialTCP(t, addr)

	proc := rpc.NewProcedure[color](c, "multiplyColor")
	v, err := proc.CallTimeout(2*time.Second, color{2, 3, 4}, color{3, 4, 5})
	require.NoError(t, err)
	require.Equal(t, color{6, 12, 20}, v)
}

func TestTCPUnicodeEcho(t *testing.T) {
	addr := startTCPServer(t)
	c := dialTCP(t, addr)

	raw := "\xEF\xBB\xBF'\"&<> foo?"
	proc := rpc.NewProcedure[string](c, "echoString")
	v, err := proc.CallTimeout(2*time.Second, raw)
	require.NoError(t, err)
	require.Equal(t, raw, v)
}

func TestTCPFault(t *testing.T) {
	addr := startTCPServer(t)
	c := dialTCP(t, addr)

	proc := rpc.NewProcedure[bool](c, "fault")
	require.NoError(t, proc.Begin())
	_, err := proc.End(2 * time.Second)
	var fault *rpc.Fault
	require.ErrorAs(t, err, &fault)
	require.Equal(t, 7, fault.Code)
	require.Equal(t, "Fault", fault.Text)
}

func TestTCPDomain(t *testing.T) {
	addr := startTCPServer(t)
	c := dialTCP(t, addr)
	c.Domain("calc")

	proc := rpc.NewProcedure[int](c, "add")
	v, err := proc.CallTimeout(2*time.Second, 20, 22)
	require.NoError(t, err)
	require.Equal(t, 42, v)
}

func TestTCPTimeoutThenRecovery(t *testing.T) {
	addr := startTCPServer(t)
	c := dialTCP(t, addr)

	sleep := rpc.NewProcedure[bool](c, "sleep")
	require.NoError(t, sleep.Begin(500))
	_, err := sleep.End(50 * time.Millisecond)
	require.True(t, asyncrpc.IsTimeout(err), "got %v", err)

	time.Sleep(700 * time.Millisecond)
	fast := rpc.NewProcedure[int](c, "multiplyInt")
	v, err := fast.CallTimeout(5*time.Second, 6, 7)
	require.NoError(t, err)
	require.Equal(t, 42, v)
}

func startHTTPServer(t *testing.T) string {
	t.Helper()
	reg := rpc.NewServiceRegistry()
	fillRegistry(t, reg)
	ts := httptest.NewServer(Handler(reg))
	t.Cleanup(ts.Close)
	return ts.URL
}

func TestHTTPInteger(t *testing.T) {
	url := startHTTPServer(t)
	c := NewHTTPClient(url)
	t.Cleanup(func() { c.Close() })

	proc := rpc.NewProcedure[int](c, "multiplyInt")
	v, err := proc.CallTimeout(2*time.Second, 7, 8)
	require.NoError(t, err)
	require.Equal(t, 56, v)
}

func TestHTTPStruct(t *testing.T) {
	url := startHTTPServer(t)
	c := NewHTTPClient(url)
	t.Cleanup(func() { c.Close() })

	proc := rpc.NewProcedure[color](c, "multiplyColor")
	v, err := proc.CallTimeout(2*time.Second, color{2, 3, 4}, color{3, 4, 5})
	require.NoError(t, err)
	require.Equal(t, color{6, 12, 20}, v)
}

func TestHTTPFault(t *testing.T) {
	url := startHTTPServer(t)
	c := NewHTTPClient(url)
	t.Cleanup(func() { c.Close() })

	proc := rpc.NewProcedure[bool](c, "fault")
	_, err := proc.CallTimeout(2 * time.Second)
	var fault *rpc.Fault
	require.ErrorAs(t, err, &fault)
	require.Equal(t, 7, fault.Code)
}

func TestHTTPTimeout(t *testing.T) {
	url := startHTTPServer(t)
	c := NewHTTPClient(url)
	t.Cleanup(func() { c.Close() })

	proc := rpc.NewProcedure[bool](c, "sleep")
	_, err := proc.CallTimeout(50*time.Millisecond, 500)
	require.True(t, asyncrpc.IsTimeout(err), "got %v", err)
}

func TestHTTPDomain(t *testing.T) {
	url := startHTTPServer(t)
	c := NewHTTPClient(url)
	t.Cleanup(func() { c.Close() })
	c.Domain("calc")

	proc := rpc.NewProcedure[int](c, "add")
	v, err := proc.CallTimeout(2*time.Second, 1, 2)
	require.NoError(t, err)
	require.Equal(t, 3, v)
}

func TestRequestShape(t *testing.T) {
	req := buildRequest("m", nil, 9)
	v, err := req.Member("jsonrpc")
	require.NoError(t, err)
	s, _ := v.Str()
	require.Equal(t, "2.0", s)
	id, err := req.Member("id")
	require.NoError(t, err)
	n, _ := id.Int()
	require.Equal(t, int64(9), n)
}
