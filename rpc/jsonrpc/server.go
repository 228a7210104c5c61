package jsonrpc

import (
	"errors"
	"io"
	"net"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/behrlich/go-asyncrpc/codec/jsonc"
	"github.com/behrlich/go-asyncrpc/internal/logging"
	"github.com/behrlich/go-asyncrpc/rpc"
	"github.com/behrlich/go-asyncrpc/sinfo"
)

// Server accepts JSON-RPC connections over raw TCP. For the HTTP framing
// use Handler with a net/http server instead.
type Server struct {
	Registry *rpc.ServiceRegistry

	mu       sync.Mutex
	ln       net.Listener
	closed   bool
	observer rpc.Observer

	logger *logging.Logger
}

// NewServer returns a server with a fresh registry.
func NewServer() *Server {
	return &Server{
		Registry: rpc.NewServiceRegistry(),
		logger:   logging.Default(),
	}
}

// SetObserver installs a connection/dispatch observer.
func (s *Server) SetObserver(o rpc.Observer) {
	s.mu.Lock()
	s.observer = o
	s.mu.Unlock()
	s.Registry.SetObserver(o)
}

// RegisterMethod delegates to the registry's default domain.
func (s *Server) RegisterMethod(name string, fn any) error {
	return s.Registry.RegisterMethod(name, fn)
}

// RegisterDomainMethod delegates to the registry.
func (s *Server) RegisterDomainMethod(domain, name string, fn any) error {
	return s.Registry.RegisterDomainMethod(domain, name, fn)
}

// ListenAndServe listens on addr and serves until Close.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Listen binds addr, serves in the background and returns the chosen
// address.
func (s *Server) Listen(addr string) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	go s.Serve(ln)
	return ln.Addr(), nil
}

// Serve accepts connections on ln until Close.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ln.Close()
		return net.ErrClosed
	}
	s.ln = ln
	s.mu.Unlock()

	var eg errgroup.Group
	for {
		conn, err := ln.Accept()
		if err != nil {
			eg.Wait()
			if s.isClosed() {
				return nil
			}
			return err
		}
		eg.Go(func() error {
			s.serveConn(conn)
			return nil
		})
	}
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close stops accepting.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.ln != nil {
		return s.ln.Close()
	}
	return nil
}

func (s *Server) serveConn(conn net.Conn) {
	defer conn.Close()

	s.mu.Lock()
	observer := s.observer
	s.mu.Unlock()
	if observer != nil {
		observer.ObserveConnection(true)
		defer observer.ObserveConnection(false)
	}

	dec := jsonc.NewDecoder(conn)
	s.logger.Debug("jsonrpc connection open", "peer", conn.RemoteAddr().String())

	for {
		req, err := dec.ReadValue()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.logger.Debug("jsonrpc connection error", "err", err.Error())
			}
			return
		}

		resp := serveRequest(s.Registry, req)
		if err := jsonc.EncodeTo(conn, resp); err != nil {
			s.logger.Debug("response write failed", "err", err.Error())
			return
		}
	}
}

// serveRequest dispatches one decoded request object; shared with the
// HTTP framing.
func serveRequest(reg *rpc.ServiceRegistry, req *sinfo.Info) *sinfo.Info {
	method, params, id, err := parseRequest(req)
	if err != nil {
		return buildResponse(id, nil, rpc.Faultf(rpc.FaultInvalidParams, "malformed request: %v", err))
	}
	res, fault := reg.Dispatch("", method, params)
	return buildResponse(id, res, fault)
}
