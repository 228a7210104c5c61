package binrpc

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/behrlich/go-asyncrpc/codec/bin"
	"github.com/behrlich/go-asyncrpc/internal/logging"
	"github.com/behrlich/go-asyncrpc/rpc"
	"github.com/behrlich/go-asyncrpc/sinfo"
)

// Server accepts binary-RPC connections and dispatches through a service
// registry. One goroutine serves each connection; a connection's codec
// dictionaries live exactly as long as the connection.
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

// SetObserver installs a connection/dispatch observer; it is also passed
// down to the registry.
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

// Listen binds addr and returns the chosen address (useful with ":0"),
// serving in the background.
func (s *Server) Listen(addr string) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	go s.Serve(ln)
	return ln.Addr(), nil
}

// Serve accepts connections on ln until Close. Connection goroutines
// are awaited before Serve returns.
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

// Close stops accepting; established connections finish their current
// frame and end on the next read.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.ln != nil {
		return s.ln.Close()
	}
	return nil
}

// serveConn runs the request loop for one connection.
func (s *Server) serveConn(conn net.Conn) {
	defer conn.Close()

	s.mu.Lock()
	observer := s.observer
	s.mu.Unlock()
	if observer != nil {
		observer.ObserveConnection(true)
		defer observer.ObserveConnection(false)
	}

	br := bufio.NewReader(conn)
	bw := bufio.NewWriter(conn)
	ser := bin.NewSerializer(bin.NewDictionary())
	defer ser.Release()
	par := bin.NewParser(bin.NewDictionary())

	s.logger.Debug("binrpc connection open", "peer", conn.RemoteAddr().String())

	for {
		kind, err := readMarker(br)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.logger.Debug("binrpc connection error", "err", err.Error())
			}
			return
		}
		if s.isClosed() {
			return
		}

		var domain, method string
		switch kind {
		case kindDomainCall:
			if domain, err = readCString(br); err != nil {
				return
			}
			fallthrough
		case kindCall:
			if method, err = readCString(br); err != nil {
				return
			}
		default:
			s.logger.Debug("unexpected frame kind", "kind", fmt.Sprintf("0x%02x", kind))
			return
		}

		args, err := readValue(br, par)
		if err != nil {
			s.logger.Debug("argument parse failed", "method", method, "err", err.Error())
			return
		}
		if err := readFrameEnd(br); err != nil {
			return
		}

		res, fault := s.dispatch(domain, method, args)
		if fault != nil {
			err = writeValueFrame(bw, ser, kindFault, faultValue(fault.Code, fault.Text))
		} else {
			err = writeValueFrame(bw, ser, kindResponse, res)
		}
		if err != nil {
			s.logger.Debug("response write failed", "method", method, "err", err.Error())
			return
		}
	}
}

func (s *Server) dispatch(domain, method string, args *sinfo.Info) (*sinfo.Info, *rpc.Fault) {
	if args.Category() != sinfo.Array {
		return nil, rpc.Faultf(rpc.FaultInvalidParams, "argument frame is not an array")
	}
	list := make([]*sinfo.Info, args.MemberCount())
	for i := range list {
		list[i] = args.MemberAt(i)
	}
	return s.Registry.Dispatch(domain, method, list)
}
