package rpc

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/behrlich/go-asyncrpc/internal/logging"
	"github.com/behrlich/go-asyncrpc/sinfo"
)

var errType = reflect.TypeOf((*error)(nil)).Elem()

// invoker is the type-erased glue for one registered method: it decodes
// the wire argument array into typed values, calls the functor and
// encodes the result.
type invoker struct {
	fn       reflect.Value
	argTypes []reflect.Type
	hasValue bool // returns a value besides the error
	hasError bool
}

func newInvoker(fn any) (*invoker, error) {
	v := reflect.ValueOf(fn)
	t := v.Type()
	if t.Kind() != reflect.Func {
		return nil, fmt.Errorf("method must be a func, got %s", t)
	}
	if t.IsVariadic() {
		return nil, fmt.Errorf("variadic methods are not supported")
	}

	inv := &invoker{fn: v}
	for i := 0; i < t.NumIn(); i++ {
		inv.argTypes = append(inv.argTypes, t.In(i))
	}

	switch t.NumOut() {
	case 0:
	case 1:
		if t.Out(0) == errType {
			inv.hasError = true
		} else {
			inv.hasValue = true
		}
	case 2:
		if t.Out(1) != errType {
			return nil, fmt.Errorf("second return value must be error, got %s", t.Out(1))
		}
		inv.hasValue = true
		inv.hasError = true
	default:
		return nil, fmt.Errorf("too many return values")
	}
	return inv, nil
}

// invoke runs the method against a decoded argument array. Every failure
// becomes a fault: decode errors report invalid params, a *Fault from
// the functor passes through, any other error or panic reports with
// code 0.
func (inv *invoker) invoke(args []*sinfo.Info) (res *sinfo.Info, fault *Fault) {
	if len(args) != len(inv.argTypes) {
		return nil, Faultf(FaultInvalidParams, "expected %d arguments, got %d", len(inv.argTypes), len(args))
	}

	in := make([]reflect.Value, len(args))
	for i, a := range args {
		dst := reflect.New(inv.argTypes[i])
		if err := sinfo.To(a, dst.Interface()); err != nil {
			return nil, Faultf(FaultInvalidParams, "argument %d: %v", i, err)
		}
		in[i] = dst.Elem()
	}

	defer func() {
		if v := recover(); v != nil {
			res = nil
			fault = Faultf(0, "%v", v)
		}
	}()

	out := inv.fn.Call(in)

	if inv.hasError {
		if errv := out[len(out)-1]; !errv.IsNil() {
			err := errv.Interface().(error)
			if f, ok := err.(*Fault); ok {
				return nil, f
			}
			return nil, &Fault{Code: 0, Text: err.Error()}
		}
	}

	if !inv.hasValue {
		null := sinfo.New()
		null.SetNull()
		return null, nil
	}

	si, err := sinfo.From(out[0].Interface())
	if err != nil {
		return nil, Faultf(FaultInternalError, "result encoding failed: %v", err)
	}
	return si, nil
}

type methodKey struct {
	domain string
	method string
}

// ServiceRegistry maps (domain, method) pairs to invokers. Lookup is
// case-sensitive; duplicate registration replaces the previous invoker.
type ServiceRegistry struct {
	mu       sync.RWMutex
	methods  map[methodKey]*invoker
	logger   *logging.Logger
	observer Observer
}

// NewServiceRegistry returns an empty registry.
func NewServiceRegistry() *ServiceRegistry {
	return &ServiceRegistry{
		methods: make(map[methodKey]*invoker),
		logger:  logging.Default(),
	}
}

// SetObserver installs a dispatch observer (e.g. *Metrics); nil removes
// it.
func (s *ServiceRegistry) SetObserver(o Observer) {
	s.mu.Lock()
	s.observer = o
	s.mu.Unlock()
}

// RegisterMethod binds fn under name in the default domain. fn must be a
// func; its trailing error return (if any) carries faults, any other
// single return value becomes the result.
func (s *ServiceRegistry) RegisterMethod(name string, fn any) error {
	return s.RegisterDomainMethod("", name, fn)
}

// RegisterDomainMethod binds fn under (domain, name).
func (s *ServiceRegistry) RegisterDomainMethod(domain, name string, fn any) error {
	inv, err := newInvoker(fn)
	if err != nil {
		return fmt.Errorf("register %q: %w", name, err)
	}
	s.mu.Lock()
	s.methods[methodKey{domain, name}] = inv
	s.mu.Unlock()
	s.logger.Debug("method registered", "domain", domain, "method", name)
	return nil
}

// Unregister removes a binding.
func (s *ServiceRegistry) Unregister(domain, name string) {
	s.mu.Lock()
	delete(s.methods, methodKey{domain, name})
	s.mu.Unlock()
}

// Methods lists registered names, sorted, for diagnostics.
func (s *ServiceRegistry) Methods() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.methods))
	for k := range s.methods {
		if k.domain == "" {
			out = append(out, k.method)
		} else {
			out = append(out, k.domain+"."+k.method)
		}
	}
	sort.Strings(out)
	return out
}

// Dispatch resolves (domain, method) and runs the invoker. A method not
// found in the default ("") domain is retried by splitting a dotted method name
// into a domain prefix, so transports without explicit domain framing
// can still address domain methods.
func (s *ServiceRegistry) Dispatch(domain, method string, args []*sinfo.Info) (*sinfo.Info, *Fault) {
	s.mu.RLock()
	inv := s.methods[methodKey{domain, method}]
	if inv == nil && domain == "" {
		if i := strings.Index(method, "."); i > 0 {
			inv = s.methods[methodKey{method[:i], method[i+1:]}]
		}
	}
	observer := s.observer
	s.mu.RUnlock()

	if inv == nil {
		s.logger.Debug("method not found", "domain", domain, "method", method)
		return nil, Faultf(FaultMethodNotFound, "method %q not found", method)
	}

	start := time.Now()
	res, fault := inv.invoke(args)
	if observer != nil {
		observer.ObserveCall(method, uint64(time.Since(start).Nanoseconds()), fault != nil)
	}
	return res, fault
}
