package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/talostrading/dispatch/dispatcherrors"
	"github.com/talostrading/dispatch/dispatchopts"
	"github.com/talostrading/dispatch/internal"
	"github.com/talostrading/dispatch/util"
)

type State uint32

const (
	StateSetup State = iota
	StateServing
	StateShutdown
)

func (s State) String() string {
	switch s {
	case StateSetup:
		return "setup"
	case StateServing:
		return "serving"
	case StateShutdown:
		return "shutdown"
	default:
		return fmt.Sprintf("state(%d)", uint32(s))
	}
}

var ErrNotSetup = errors.New("server is not in setup state")

type ServerOption func(*Server)

func WithLogger(log logrus.FieldLogger) ServerOption {
	return func(s *Server) {
		s.log = log
	}
}

// Server is the dispatch loop. It owns the listener, the poller and every
// accepted connection which has not been dispatched yet.
//
// Each dispatched connection is served by its own goroutine. The Server does
// not wait for, track or bound these goroutines.
type Server struct {
	cfg Config
	log logrus.FieldLogger

	listener *Listener
	handler  *Handler
	stats    *Stats

	// poller and pending are only used in ModeMultiplexed, and only touched
	// by the goroutine running Run. A connection is either in pending and
	// watched by poller, or owned by a handler, never both.
	poller  internal.Poller
	pending map[int]*Conn
	ready   []int

	state uint32

	// onDispatch is called on the loop goroutine after a connection leaves
	// the watch set and before its handler starts.
	onDispatch func(*Conn)
}

// NewServer binds the listener and, in ModeMultiplexed, creates the poller
// and starts watching the listener. Errors are fatal for the server.
func NewServer(cfg Config, opts ...ServerOption) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Server{
		cfg:     cfg,
		log:     logrus.StandardLogger(),
		stats:   newStats(),
		pending: make(map[int]*Conn),
		state:   uint32(StateSetup),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.handler = NewHandler(cfg, s.log)

	listenOpts := []dispatchopts.Option{
		dispatchopts.ReuseAddr(true),
		dispatchopts.Nonblocking(cfg.Mode == ModeMultiplexed),
	}
	if cfg.ReusePort {
		listenOpts = append(listenOpts, dispatchopts.ReusePort(true))
	}

	ln, err := Listen(cfg.Host, cfg.Port, cfg.Backlog, listenOpts...)
	if err != nil {
		return nil, err
	}
	s.listener = ln

	if cfg.Mode == ModeMultiplexed {
		poller, err := internal.NewPoller(cfg.Poller)
		if err != nil {
			ln.Close()
			return nil, err
		}
		if err := poller.Watch(ln.Fd()); err != nil {
			poller.Close()
			ln.Close()
			return nil, err
		}
		s.poller = poller
	}

	fields := logrus.Fields{
		"fd":      ln.Fd(),
		"addr":    ln.Addr().String(),
		"backlog": ln.Backlog(),
		"mode":    cfg.Mode.String(),
	}
	if s.poller != nil {
		fields["poller"] = s.poller.Kind().String()
	}
	s.log.WithFields(fields).Info("server created")

	return s, nil
}

// Run serves connections until ctx is done or a fatal error occurs, then
// closes the listener, the poller and every connection not yet dispatched.
// Connections already dispatched are not waited for.
//
// Run returns nil if it stopped because of ctx. Run can only be called once.
func (s *Server) Run(ctx context.Context) (err error) {
	if !atomic.CompareAndSwapUint32(&s.state, uint32(StateSetup), uint32(StateServing)) {
		return ErrNotSetup
	}
	defer s.shutdown()

	if s.cfg.PinCPU >= 0 {
		unpin, err := util.LockAndPin(s.cfg.PinCPU)
		if err != nil {
			return fmt.Errorf("pin to cpu %d: %w", s.cfg.PinCPU, err)
		}
		defer unpin()
	}

	if s.cfg.Mode == ModeBlocking {
		err = s.serveBlocking(ctx)
	} else {
		err = s.serveMultiplexed(ctx)
	}

	if err != nil && ctx.Err() != nil {
		// Errors caused by tearing down the listener.
		return nil
	}
	return err
}

func (s *Server) serveMultiplexed(ctx context.Context) error {
	lfd := s.listener.Fd()

	for ctx.Err() == nil {
		ready, err := s.poller.Poll(s.cfg.PollTimeout, s.ready[:0])
		s.ready = ready
		if err != nil {
			return err
		}

		s.stats.polls.Add(1)
		if len(ready) == 0 {
			s.stats.emptyPolls.Add(1)
			continue
		}

		for _, fd := range ready {
			if fd == lfd {
				if err := s.acceptAll(); err != nil {
					return err
				}
				continue
			}

			conn, ok := s.pending[fd]
			if !ok {
				continue
			}

			if err := s.poller.Unwatch(fd); err != nil {
				return err
			}
			delete(s.pending, fd)

			s.dispatch(conn)
		}
	}

	return nil
}

// acceptAll drains the accept queue, watching every new connection.
func (s *Server) acceptAll() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, dispatcherrors.ErrWouldBlock) {
				return nil
			}
			return err
		}
		s.stats.accepted.Add(1)

		if err := conn.SetNonblocking(true); err != nil {
			conn.Close()
			return err
		}
		s.setConnOpts(conn)

		if err := s.poller.Watch(conn.RawFd()); err != nil {
			conn.Close()
			if errors.Is(err, dispatcherrors.ErrWatchSetFull) {
				s.stats.rejected.Add(1)
				s.log.WithFields(logrus.Fields{
					"fd":       conn.RawFd(),
					"capacity": SelectCapacity,
				}).Warn("watch set full, closing connection")
				continue
			}
			return err
		}
		s.pending[conn.RawFd()] = conn

		s.log.WithFields(logrus.Fields{
			"fd":          conn.RawFd(),
			"conn_id":     conn.ID(),
			"remote_addr": conn.RemoteAddr(),
		}).Debug("accepted connection")
	}
}

func (s *Server) serveBlocking(ctx context.Context) error {
	done := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		defer close(done)
		if err := s.listener.Shutdown(); err != nil {
			s.log.WithError(err).Warn("could not wake up accept")
		}
	})
	defer func() {
		if !stop() {
			<-done
		}
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return err
		}
		s.stats.accepted.Add(1)
		s.setConnOpts(conn)

		s.log.WithFields(logrus.Fields{
			"fd":          conn.RawFd(),
			"conn_id":     conn.ID(),
			"remote_addr": conn.RemoteAddr(),
		}).Debug("accepted connection")

		s.dispatch(conn)
	}
}

func (s *Server) setConnOpts(conn *Conn) {
	if !s.cfg.NoDelay {
		return
	}
	if err := conn.SetOpts(dispatchopts.NoDelay(true)); err != nil {
		s.log.WithError(err).WithField("fd", conn.RawFd()).Warn("could not set no delay")
	}
}

// dispatch hands conn over to a new goroutine. conn must not be watched.
func (s *Server) dispatch(conn *Conn) {
	s.stats.dispatched.Add(1)
	if s.onDispatch != nil {
		s.onDispatch(conn)
	}

	go func() {
		s.stats.record(s.handler.Handle(conn))
	}()
}

func (s *Server) shutdown() {
	atomic.StoreUint32(&s.state, uint32(StateShutdown))

	for fd, conn := range s.pending {
		conn.Close()
		delete(s.pending, fd)
	}

	if s.poller != nil {
		s.poller.Close()
	}
	s.listener.Close()

	s.log.WithFields(s.stats.Snapshot().Fields()).Info("server shut down")
}

// Close releases a server which was never run. It returns ErrNotSetup if Run
// has been called.
func (s *Server) Close() error {
	if !atomic.CompareAndSwapUint32(&s.state, uint32(StateSetup), uint32(StateShutdown)) {
		return ErrNotSetup
	}
	s.shutdown()
	return nil
}

// checkWatchSet verifies that the watch set holds the listener and exactly
// the pending connections. It must be called from the loop goroutine.
func (s *Server) checkWatchSet() error {
	if s.poller == nil {
		return nil
	}
	if !s.poller.Watching(s.listener.Fd()) {
		return fmt.Errorf("listener fd=%d not watched", s.listener.Fd())
	}
	for fd := range s.pending {
		if !s.poller.Watching(fd) {
			return fmt.Errorf("pending fd=%d not watched", fd)
		}
	}
	if n := s.poller.Len(); n != len(s.pending)+1 {
		return fmt.Errorf("watch set has %d descriptors, want %d", n, len(s.pending)+1)
	}
	return nil
}

func (s *Server) State() State {
	return State(atomic.LoadUint32(&s.state))
}

func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

func (s *Server) Port() int {
	return s.listener.Addr().Port
}

func (s *Server) Stats() *Stats {
	return s.stats
}

func (s *Server) Handler() *Handler {
	return s.handler
}

func (s *Server) Config() Config {
	return s.cfg
}
