package rpc

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/behrlich/go-asyncrpc/sinfo"
)

type color struct {
	R int
	G int
	B int
}

func args(t *testing.T, vals ...any) []*sinfo.Info {
	t.Helper()
	enc, err := EncodeArgs(vals...)
	require.NoError(t, err)
	return enc
}

func TestRegisterAndDispatch(t *testing.T) {
	reg := NewServiceRegistry()
	require.NoError(t, reg.RegisterMethod("multiply", func(a, b int) int { return a * b }))

	res, fault := reg.Dispatch("", "multiply", args(t, 2, 3))
	require.Nil(t, fault)
	v, err := res.Int()
	require.NoError(t, err)
	require.Equal(t, int64(6), v)
}

func TestDispatchStructArgs(t *testing.T) {
	reg := NewServiceRegistry()
	require.NoError(t, reg.RegisterMethod("multiply", func(a, b color) color {
		return color{a.R * b.R, a.G * b.G, a.B * b.B}
	}))

	res, fault := reg.Dispatch("", "multiply", args(t, color{2, 3, 4}, color{3, 4, 5}))
	require.Nil(t, fault)

	var out color
	require.NoError(t, sinfo.To(res, &out))
	require.Equal(t, color{6, 12, 20}, out)
}

func TestDispatchUnknownMethod(t *testing.T) {
	reg := NewServiceRegistry()

	_, fault := reg.Dispatch("", "nothere", nil)
	require.NotNil(t, fault)
	require.Equal(t, FaultMethodNotFound, fault.Code)
}

func TestDispatchWrongArity(t *testing.T) {
	reg := NewServiceRegistry()
	require.NoError(t, reg.RegisterMethod("one", func(a int) int { return a }))

	_, fault := reg.Dispatch("", "one", args(t, 1, 2))
	require.NotNil(t, fault)
	require.Equal(t, FaultInvalidParams, fault.Code)
}

func TestDispatchBadArgumentType(t *testing.T) {
	reg := NewServiceRegistry()
	require.NoError(t, reg.RegisterMethod("inc", func(a int) int { return a + 1 }))

	_, fault := reg.Dispatch("", "inc", args(t, "not a number"))
	require.NotNil(t, fault)
	require.Equal(t, FaultInvalidParams, fault.Code)
}

func TestFaultFromMethodPassesThrough(t *testing.T) {
	reg := NewServiceRegistry()
	require.NoError(t, reg.RegisterMethod("boom", func() error {
		return &Fault{Code: 7, Text: "Fault"}
	}))

	_, fault := reg.Dispatch("", "boom", nil)
	require.NotNil(t, fault)
	require.Equal(t, 7, fault.Code)
	require.Equal(t, "Fault", fault.Text)
}

func TestPlainErrorBecomesFaultCodeZero(t *testing.T) {
	reg := NewServiceRegistry()
	require.NoError(t, reg.RegisterMethod("fail", func() (int, error) {
		return 0, errors.New("runtime error")
	}))

	_, fault := reg.Dispatch("", "fail", nil)
	require.NotNil(t, fault)
	require.Equal(t, 0, fault.Code)
	require.Equal(t, "runtime error", fault.Text)
}

func TestPanicBecomesFault(t *testing.T) {
	reg := NewServiceRegistry()
	require.NoError(t, reg.RegisterMethod("panics", func() int {
		panic("handler exploded")
	}))

	_, fault := reg.Dispatch("", "panics", nil)
	require.NotNil(t, fault)
	require.Equal(t, 0, fault.Code)
	require.Contains(t, fault.Text, "handler exploded")
}

func TestVoidMethodReturnsNull(t *testing.T) {
	reg := NewServiceRegistry()
	called := false
	require.NoError(t, reg.RegisterMethod("nothing", func() { called = true }))

	res, fault := reg.Dispatch("", "nothing", nil)
	require.Nil(t, fault)
	require.True(t, called)
	require.True(t, res.IsNull())
}

func TestDomainDispatch(t *testing.T) {
	reg := NewServiceRegistry()
	require.NoError(t, reg.RegisterDomainMethod("calc", "add", func(a, b int) int { return a + b }))

	// explicit domain
	res, fault := reg.Dispatch("calc", "add", args(t, 1, 2))
	require.Nil(t, fault)
	v, _ := res.Int()
	require.Equal(t, int64(3), v)

	// dotted method name resolves the domain
	res, fault = reg.Dispatch("", "calc.add", args(t, 2, 3))
	require.Nil(t, fault)
	v, _ = res.Int()
	require.Equal(t, int64(5), v)

	// wrong domain misses
	_, fault = reg.Dispatch("other", "add", args(t, 1, 2))
	require.NotNil(t, fault)
	require.Equal(t, FaultMethodNotFound, fault.Code)
}

func TestDuplicateRegistrationReplaces(t *testing.T) {
	reg := NewServiceRegistry()
	require.NoError(t, reg.RegisterMethod("m", func() int { return 1 }))
	require.NoError(t, reg.RegisterMethod("m", func() int { return 2 }))

	res, fault := reg.Dispatch("", "m", nil)
	require.Nil(t, fault)
	v, _ := res.Int()
	require.Equal(t, int64(2), v)
}

func TestRegisterRejectsNonFunc(t *testing.T) {
	reg := NewServiceRegistry()
	require.Error(t, reg.RegisterMethod("bad", 42))
	require.Error(t, reg.RegisterMethod("bad", func(args ...int) {}))
}

func TestObserverSeesDispatch(t *testing.T) {
	reg := NewServiceRegistry()
	m := NewMetrics()
	reg.SetObserver(m)

	require.NoError(t, reg.RegisterMethod("ok", func() int { return 1 }))
	require.NoError(t, reg.RegisterMethod("bad", func() error { return errors.New("x") }))

	reg.Dispatch("", "ok", nil)
	reg.Dispatch("", "bad", nil)

	snap := m.Snapshot()
	require.Equal(t, uint64(2), snap.Calls)
	require.Equal(t, uint64(1), snap.Faults)
}
