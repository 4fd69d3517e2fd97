package framed

import (
	"context"
	"net"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"
)

// Handler is the interface for handling accepted connections.
// Handle is invoked once per connection and is expected to use the
// connection until done with it, then return; its return value is not
// consumed. By default each handler runs on its own goroutine.
type Handler interface {
	Handle(conn *Conn)
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(conn *Conn)

// Handle calls f(conn).
func (f HandlerFunc) Handle(conn *Conn) {
	f(conn)
}

// serverState tracks the server lifecycle. Transitions only move forward:
// created -> started -> stopping -> stopped, each observed under the
// lifecycle mutex.
type serverState int

const (
	stateCreated serverState = iota
	stateStarted
	stateStopping
	stateStopped
)

func (s serverState) String() string {
	switch s {
	case stateCreated:
		return "created"
	case stateStarted:
		return "started"
	case stateStopping:
		return "stopping"
	case stateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Server listens for incoming connections and dispatches each accepted
// connection, wrapped in a *Conn, to the configured handler. Start and Stop
// are each effective exactly once; Stop is idempotent.
type Server struct {
	addr    string
	handler Handler
	logger  Logger
	opts    serverOptions

	// mu guards the lifecycle state and the listener. The accept goroutine
	// never takes it, so Stop can hold it while joining that goroutine.
	mu         sync.Mutex
	state      serverState
	listener   *net.TCPListener
	acceptDone chan struct{}

	// stopCtx is cancelled by Stop before the listener is closed so that a
	// dispatch blocked on the handler bound unblocks too, not just AcceptTCP.
	stopCtx    context.Context
	stopCancel context.CancelFunc

	// stopMu guards only the stopping flag, which the accept loop consults
	// after an accept failure to tell a deliberate listener close apart from
	// a real fault.
	stopMu   sync.Mutex
	stopping bool

	handlerSem *semaphore.Weighted
}

// NewServer creates a server that will listen on addr ("host:port", port 0
// picks a free port) and pass each accepted connection to handler. The
// listening socket is not opened until Start.
func NewServer(addr string, handler Handler, opt ...ServerOption) *Server {
	var opts serverOptions
	for _, o := range opt {
		o(&opts)
	}

	if opts.logger == nil {
		opts.logger = defaultLogger()
	}

	s := &Server{
		addr:    addr,
		handler: handler,
		logger:  opts.logger,
		opts:    opts,
		state:   stateCreated,
	}

	if opts.maxConcurrency > 0 {
		s.handlerSem = semaphore.NewWeighted(opts.maxConcurrency)
	}

	return s
}

// Start binds the listening socket and launches the accept loop on its own
// goroutine, returning without blocking. It fails with
// ErrServerAlreadyStarted if the server has ever been started (or stopped)
// before; a second Start leaves the first accept loop untouched.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != stateCreated {
		return errors.Wrapf(ErrServerAlreadyStarted, "state %s", s.state)
	}

	tcpAddr, err := net.ResolveTCPAddr("tcp", s.addr)
	if err != nil {
		return errors.Wrapf(err, "resolve %s", s.addr)
	}

	listener, err := net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", s.addr)
	}

	s.listener = listener
	s.acceptDone = make(chan struct{})
	s.stopCtx, s.stopCancel = context.WithCancel(context.Background())
	s.state = stateStarted

	s.logger.Info("server started", "addr", listener.Addr())
	go s.acceptLoop(listener, s.acceptDone)

	return nil
}

// Stop closes the listening socket, which unblocks the accept loop, and
// waits for that loop to exit before marking the server stopped. It does not
// wait for in-flight connection handlers. Stop is a no-op when the server
// was never started or is already stopped.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case stateCreated:
		s.state = stateStopped
		return nil
	case stateStarted:
	default:
		return nil
	}

	s.state = stateStopping
	s.setStopping(true)
	s.stopCancel()

	// Closing the listener is what unblocks the accept call; the loop reads
	// the stopping flag to know the failure was asked for.
	err := s.listener.Close()
	<-s.acceptDone

	s.setStopping(false)
	s.listener = nil
	s.state = stateStopped

	s.logger.Info("server stopped", "addr", s.addr)

	if err != nil {
		return errors.Wrap(err, "close listener")
	}
	return nil
}

// Addr returns the address the server is listening on, or nil when the
// server is not started. Useful after binding port 0.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// acceptLoop accepts connections until the listener fails. A failure while
// the stopping flag is set is expected shutdown noise; any other failure is
// reported to the logger. Either way the loop exits and signals done.
func (s *Server) acceptLoop(listener *net.TCPListener, done chan struct{}) {
	defer close(done)

	for {
		conn, err := listener.AcceptTCP()
		if err != nil {
			if s.isStopping() {
				s.logger.Info("accept loop exiting", "addr", listener.Addr())
				return
			}
			s.logger.Error("accept failed", "addr", listener.Addr(), "error", err)
			return
		}

		s.logger.Debug("accepted connection", "remote_addr", conn.RemoteAddr())
		s.dispatch(NewConn(conn, s.opts.connOptions...))
	}
}

// dispatch hands a wrapped connection to the handler according to the
// configured dispatch mode.
func (s *Server) dispatch(conn *Conn) {
	if s.opts.syncDispatch {
		s.runHandler(conn)
		return
	}

	if s.handlerSem != nil {
		// Blocks acceptance until a handler slot frees up, or until Stop
		// cancels the wait; Stop must never hang on a saturated bound.
		if err := s.handlerSem.Acquire(s.stopCtx, 1); err != nil {
			if s.isStopping() {
				s.logger.Info("dispatch aborted, server stopping", "remote_addr", conn.RemoteAddr())
			} else {
				s.logger.Error("acquire handler slot", "error", err)
			}
			_ = conn.Close()
			return
		}
		go func() {
			defer s.handlerSem.Release(1)
			s.runHandler(conn)
		}()
		return
	}

	go s.runHandler(conn)
}

// runHandler invokes the handler and contains any panic at this boundary: a
// fault in one connection's handler is reported to the logger and must never
// take down the accept loop or other connections.
func (s *Server) runHandler(conn *Conn) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("handler panic", "remote_addr", conn.RemoteAddr(), "panic", r)
			_ = conn.Close()
		}
	}()

	s.handler.Handle(conn)
}

func (s *Server) setStopping(v bool) {
	s.stopMu.Lock()
	s.stopping = v
	s.stopMu.Unlock()
}

func (s *Server) isStopping() bool {
	s.stopMu.Lock()
	defer s.stopMu.Unlock()
	return s.stopping
}
