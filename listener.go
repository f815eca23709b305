package dispatch

import (
	"io"
	"net"
	"os"
	"sync/atomic"

	"github.com/talostrading/dispatch/dispatchopts"
	"github.com/talostrading/dispatch/internal"
	"golang.org/x/sys/unix"
)

// Listener is a bound, listening TCP socket.
type Listener struct {
	fd          int
	addr        *net.TCPAddr
	backlog     int
	nonblocking bool

	closed uint32
}

// Listen binds host:port and starts listening with a queue of backlog
// connections. An empty host binds all interfaces. SO_REUSEADDR is always set.
//
// If the option Nonblocking with value set to true is passed in, Accept
// returns ErrWouldBlock instead of blocking when no connection is queued.
func Listen(host string, port, backlog int, opts ...dispatchopts.Option) (*Listener, error) {
	opts = dispatchopts.AddOption(dispatchopts.ReuseAddr(true), append([]dispatchopts.Option(nil), opts...))

	fd, addr, err := internal.ListenTCP(host, port, backlog, opts...)
	if err != nil {
		return nil, err
	}

	nonblocking := false
	if opt, ok := dispatchopts.Lookup(dispatchopts.TypeNonblocking, opts); ok {
		nonblocking = opt.Value().(bool)
	}

	return &Listener{
		fd:          fd,
		addr:        addr,
		backlog:     backlog,
		nonblocking: nonblocking,
	}, nil
}

// Accept returns the next queued connection.
//
// In blocking mode Accept waits for a peer to connect. In nonblocking mode it
// returns ErrWouldBlock if the queue is empty. Any other error means the
// listener is unusable.
//
// The returned connection is in blocking mode regardless of the listener's
// mode.
func (l *Listener) Accept() (*Conn, error) {
	fd, remoteAddr, err := internal.Accept(l.fd)
	if err != nil {
		return nil, err
	}

	var remote net.Addr
	if remoteAddr != nil {
		remote = remoteAddr
	}

	conn, err := newConn(fd, l.addr, remote)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	return conn, nil
}

// SetNonblocking switches the listener between blocking and nonblocking
// accepts.
func (l *Listener) SetNonblocking(v bool) error {
	if err := internal.SetNonblock(l.fd, v); err != nil {
		return err
	}
	l.nonblocking = v
	return nil
}

// Shutdown stops the listener from accepting connections and wakes up a
// goroutine blocked in Accept. The descriptor stays open until Close.
func (l *Listener) Shutdown() error {
	if err := unix.Shutdown(l.fd, unix.SHUT_RDWR); err != nil {
		return os.NewSyscallError("shutdown", err)
	}
	return nil
}

func (l *Listener) Close() error {
	if !atomic.CompareAndSwapUint32(&l.closed, 0, 1) {
		return io.EOF
	}
	return unix.Close(l.fd)
}

func (l *Listener) Fd() int {
	return l.fd
}

func (l *Listener) Addr() *net.TCPAddr {
	return l.addr
}

func (l *Listener) Backlog() int {
	return l.backlog
}

func (l *Listener) Nonblocking() bool {
	return l.nonblocking
}
