package binrpc

import (
	"fmt"
	"net"
	"os"
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

// listenAddr honours the test-harness environment knobs.
func listenAddr() string {
	host := os.Getenv("UTEST_LISTEN")
	if host == "" {
		host = "127.0.0.1"
	}
	port := os.Getenv("UTEST_PORT")
	if port == "" {
		port = "0"
	}
	return net.JoinHostPort(host, port)
}

func startServer(t *testing.T) (*Server, string) {
	t.Helper()
	srv := NewServer()

	require.NoError(t, srv.RegisterMethod("nothing", func() bool { return false }))
	require.NoError(t, srv.RegisterMethod("boolean", func(a, b bool) bool { return a && b }))
	require.NoError(t, srv.RegisterMethod("multiplyInt", func(a, b int) int { return a * b }))
	require.NoError(t, srv.RegisterMethod("multiplyDouble", func(a, b float64) float64 { return a * b }))
	require.NoError(t, srv.RegisterMethod("echoString", func(s string) string { return s }))
	require.NoError(t, srv.RegisterMethod("multiplyEmpty", func(a, b string) string {
		if a == "" && b == "" {
			return "4"
		}
		return "fail"
	}))
	require.NoError(t, srv.RegisterMethod("multiplyVector", func(a, b []int) []int {
		out := make([]int, len(a))
		for i := range a {
			out[i] = a[i] * b[i]
		}
		return out
	}))
	require.NoError(t, srv.RegisterMethod("multiplyColor", func(a, b color) color {
		return color{a.R * b.R, a.G * b.G, a.B * b.B}
	}))
	require.NoError(t, srv.RegisterMethod("fault", func() (bool, error) {
		return false, &rpc.Fault{Code: 7, Text: "Fault"}
	}))
	require.NoError(t, srv.RegisterMethod("sleep", func(ms int) bool {
		time.Sleep(time.Duration(ms) * time.Millisecond)
		return true
	}))
	require.NoError(t, srv.RegisterDomainMethod("mydomain", "multiplyInt", func(a, b int) int {
		return a * b * 10
	}))

	addr, err := srv.Listen(listenAddr())
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })
	return srv, addr.String()
}

func dial(t *testing.T, addr string) *Client {
	t.Helper()
	c, err := Dial(addr)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestNothing(t *testing.T) {
	_, addr := startServer(t)
	c := dial(t, addr)

	proc := rpc.NewProcedure[bool](c, "nothing")
	require.NoError(t, proc.Begin())
	v, err := proc.End(2 * time.Second)
	require.NoError(t, err)
	require.False(t, v)
}

func TestBoolean(t *testing.T) {
	_, addr := startServer(t)
	c := dial(t, addr)

	proc := rpc.NewProcedure[bool](c, "boolean")
	v, err := proc.CallTimeout(2*time.Second, true, true)
	require.NoError(t, err)
	require.True(t, v)
}

func TestInteger(t *testing.T) {
	_, addr := startServer(t)
	c := dial(t, addr)

	proc := rpc.NewProcedure[int](c, "multiplyInt")
	v, err := proc.CallTimeout(2*time.Second, 2, 3)
	require.NoError(t, err)
	require.Equal(t, 6, v)
}

func TestDouble(t *testing.T) {
	_, addr := startServer(t)
	c := dial(t, addr)

	proc := rpc.NewProcedure[float64](c, "multiplyDouble")
	v, err := proc.CallTimeout(2*time.Second, 2.0, 3.0)
	require.NoError(t, err)
	require.Equal(t, 6.0, v)
}

func TestUnicodeString(t *testing.T) {
	_, addr := startServer(t)
	c := dial(t, addr)

	raw := "\xEF\xBB\xBF'\"&<> foo?"
	proc := rpc.NewProcedure[string](c, "echoString")
	v, err := proc.CallTimeout(2*time.Second, raw)
	require.NoError(t, err)
	require.Equal(t, raw, v)
}

func TestEmptyValues(t *testing.T) {
	_, addr := startServer(t)
	c := dial(t, addr)

	proc := rpc.NewProcedure[string](c, "multiplyEmpty")
	v, err := proc.CallTimeout(2*time.Second, "", "")
	require.NoError(t, err)
	require.Equal(t, "4", v)
}

func TestArray(t *testing.T) {
	_, addr := startServer(t)
	c := dial(t, addr)

	proc := rpc.NewProcedure[[]int](c, "multiplyVector")
	v, err := proc.CallTimeout(2*time.Second, []int{10, 20}, []int{10, 20})
	require.NoError(t, err)
	require.Equal(t, []int{100, 400}, v)
}

func TestEmptyArray(t *testing.T) {
	_, addr := startServer(t)
	c := dial(t, addr)

	proc := rpc.NewProcedure[[]int](c, "multiplyVector")
	v, err := proc.CallTimeout(2*time.Second, []int{}, []int{})
	require.NoError(t, err)
	require.Len(t, v, 0)
}

func TestStruct(t *testing.T) {
	_, addr := startServer(t)
	c := dial(t, addr)

	proc := rpc.NewProcedure[color](c, "multiplyColor")
	v, err := proc.CallTimeout(2*time.Second, color{2, 3, 4}, color{3, 4, 5})
	require.NoError(t, err)
	require.Equal(t, color{6, 12, 20}, v)
}

func TestMap(t *testing.T) {
	_, addr := startServer(t)
	c := dial(t, addr)

	proc := rpc.NewProcedure[map[string]int](c, "echoMap")
	// not registered: must fault with method-not-found
	_, err := proc.CallTimeout(2*time.Second, map[string]int{"a": 1})
	var fault *rpc.Fault
	require.ErrorAs(t, err, &fault)
	require.Equal(t, rpc.FaultMethodNotFound, fault.Code)
}

func TestUnknownMethod(t *testing.T) {
	_, addr := startServer(t)
	c := dial(t, addr)

	proc := rpc.NewProcedure[bool](c, "notthere")
	_, err := proc.CallTimeout(2*time.Second)
	var fault *rpc.Fault
	require.ErrorAs(t, err, &fault)
	require.Equal(t, rpc.FaultMethodNotFound, fault.Code)
}

func TestFault(t *testing.T) {
	_, addr := startServer(t)
	c := dial(t, addr)

	proc := rpc.NewProcedure[bool](c, "fault")
	require.NoError(t, proc.Begin())

	done := make(chan *rpc.Result[bool], 1)
	proc2 := rpc.NewProcedure[bool](c, "fault")
	proc2.OnFinished = func(r *rpc.Result[bool]) { done <- r }

	_, err := proc.End(2 * time.Second)
	var fault *rpc.Fault
	require.ErrorAs(t, err, &fault)
	require.Equal(t, 7, fault.Code)
	require.Equal(t, "Fault", fault.Text)

	require.NoError(t, proc2.Begin())
	select {
	case r := <-done:
		_, err := r.Get()
		require.ErrorAs(t, err, &fault)
		require.Equal(t, 7, fault.Code)
		require.Equal(t, "Fault", fault.Text)
	case <-time.After(5 * time.Second):
		t.Fatal("OnFinished never fired")
	}
}

func TestDomain(t *testing.T) {
	_, addr := startServer(t)
	c := dial(t, addr)
	c.Domain("mydomain")

	proc := rpc.NewProcedure[int](c, "multiplyInt")
	v, err := proc.CallTimeout(2*time.Second, 2, 3)
	require.NoError(t, err)
	require.Equal(t, 60, v)
}

func TestWrongDomain(t *testing.T) {
	_, addr := startServer(t)
	c := dial(t, addr)
	c.Domain("otherdomain")

	proc := rpc.NewProcedure[int](c, "multiplyInt")
	_, err := proc.CallTimeout(2*time.Second, 2, 3)
	var fault *rpc.Fault
	require.ErrorAs(t, err, &fault)
	require.Equal(t, rpc.FaultMethodNotFound, fault.Code)
}

func TestTimeoutThenRecovery(t *testing.T) {
	_, addr := startServer(t)
	c := dial(t, addr)

	sleep := rpc.NewProcedure[bool](c, "sleep")
	require.NoError(t, sleep.Begin(800))
	_, err := sleep.End(100 * time.Millisecond)
	require.True(t, asyncrpc.IsTimeout(err), "got %v", err)

	// wait out the server, then the same client works again
	time.Sleep(time.Second)
	fast := rpc.NewProcedure[int](c, "multiplyInt")
	v, err := fast.CallTimeout(5*time.Second, 4, 5)
	require.NoError(t, err)
	require.Equal(t, 20, v)
}

func TestPrepareConnect(t *testing.T) {
	_, addr := startServer(t)

	c := NewClient()
	c.PrepareConnect(addr)
	t.Cleanup(func() { c.Close() })
	require.False(t, c.Connected())

	proc := rpc.NewProcedure[int](c, "multiplyInt")
	v, err := proc.CallTimeout(2*time.Second, 3, 3)
	require.NoError(t, err)
	require.Equal(t, 9, v)
	require.True(t, c.Connected())
}

func TestConnectError(t *testing.T) {
	c := NewClient()
	c.PrepareConnect("127.0.0.1:1") // nothing listens there
	proc := rpc.NewProcedure[bool](c, "multiply")
	_, err := proc.CallTimeout(2 * time.Second)
	require.Error(t, err)
	require.True(t, asyncrpc.IsCode(err, asyncrpc.CodeIO), "got %v", err)
}

func TestBigRequest(t *testing.T) {
	_, addr := startServer(t)
	c := dial(t, addr)

	a := make([]int, 5000)
	b := make([]int, 5000)
	for i := range a {
		a[i] = i
		b[i] = 2
	}

	proc := rpc.NewProcedure[[]int](c, "multiplyVector")
	v, err := proc.CallTimeout(10*time.Second, a, b)
	require.NoError(t, err)
	require.Len(t, v, 5000)
	require.Equal(t, 4998, v[2499])
}

func TestMultipleSequentialCalls(t *testing.T) {
	_, addr := startServer(t)
	c := dial(t, addr)

	// repeated calls exercise the per-connection dictionary reuse
	proc := rpc.NewProcedure[color](c, "multiplyColor")
	for i := 1; i <= 5; i++ {
		v, err := proc.CallTimeout(2*time.Second, color{i, i, i}, color{2, 2, 2})
		require.NoError(t, err)
		require.Equal(t, color{2 * i, 2 * i, 2 * i}, v)
	}
}

func TestConcurrentBegins(t *testing.T) {
	_, addr := startServer(t)
	c := dial(t, addr)

	procs := make([]*rpc.Procedure[int], 5)
	for i := range procs {
		procs[i] = rpc.NewProcedure[int](c, "multiplyInt")
		require.NoError(t, procs[i].Begin(i, 10))
	}
	for i, p := range procs {
		v, err := p.End(5 * time.Second)
		require.NoError(t, err)
		require.Equal(t, i*10, v)
	}
}

func TestMetricsObserver(t *testing.T) {
	srv, addr := startServer(t)
	m := rpc.NewMetrics()
	srv.SetObserver(m)

	c := dial(t, addr)
	proc := rpc.NewProcedure[int](c, "multiplyInt")
	_, err := proc.CallTimeout(2*time.Second, 2, 2)
	require.NoError(t, err)
	c.Close()

	deadline := time.Now().Add(2 * time.Second)
	for m.Snapshot().ConnectionsClosed == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	snap := m.Snapshot()
	require.Equal(t, uint64(1), snap.Calls)
	require.Equal(t, uint64(1), snap.ConnectionsOpened)
}

func TestServerCloseStopsAccepting(t *testing.T) {
	srv, addr := startServer(t)
	require.NoError(t, srv.Close())

	deadline := time.Now().Add(2 * time.Second)
	var err error
	for time.Now().Before(deadline) {
		_, err = net.DialTimeout("tcp", addr, 100*time.Millisecond)
		if err != nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.Error(t, err, fmt.Sprintf("server at %s still accepting", addr))
}
