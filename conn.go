package dispatch

import (
	"io"
	"net"
	"os"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/talostrading/dispatch/dispatcherrors"
	"github.com/talostrading/dispatch/dispatchopts"
	"github.com/talostrading/dispatch/internal"
	"golang.org/x/sys/unix"
)

var _ io.ReadWriteCloser = &Conn{}

// Conn is an accepted TCP connection. Reads and writes go straight to the
// socket; there is no buffering and no deadline support.
//
// A Conn is owned by exactly one goroutine at a time: the Server while it is
// waiting for the connection to become readable, then the Handler it is
// dispatched to.
type Conn struct {
	fd          int
	id          uuid.UUID
	nonblocking bool

	localAddr  net.Addr
	remoteAddr net.Addr

	closed uint32
}

func newConn(fd int, localAddr, remoteAddr net.Addr) (*Conn, error) {
	nonblocking, err := internal.IsNonblocking(fd)
	if err != nil {
		return nil, err
	}

	return &Conn{
		fd:          fd,
		id:          uuid.New(),
		nonblocking: nonblocking,
		localAddr:   localAddr,
		remoteAddr:  remoteAddr,
	}, nil
}

// Read reads up to len(b) bytes.
//
// It returns io.EOF if the peer closed its side of the connection, and
// ErrWouldBlock if the connection is nonblocking and nothing can be read yet.
func (c *Conn) Read(b []byte) (int, error) {
	for {
		n, err := unix.Read(c.fd, b)
		if err != nil {
			switch err {
			case unix.EINTR:
				continue
			case unix.EAGAIN:
				return 0, dispatcherrors.ErrWouldBlock
			default:
				return 0, os.NewSyscallError("read", err)
			}
		}

		if n == 0 && len(b) > 0 {
			return 0, io.EOF
		}
		return n, nil
	}
}

// Write writes all of b. On a nonblocking connection it waits for the socket
// to become writable whenever the send buffer is full.
func (c *Conn) Write(b []byte) (n int, err error) {
	for n < len(b) {
		// MSG_NOSIGNAL turns a write to a reset connection into EPIPE instead
		// of SIGPIPE.
		nn, err := unix.SendmsgN(c.fd, b[n:], nil, nil, unix.MSG_NOSIGNAL)
		if err != nil {
			switch {
			case err == unix.EINTR:
				continue
			case err == unix.EAGAIN && c.nonblocking:
				if err := c.waitWritable(); err != nil {
					return n, err
				}
				continue
			default:
				return n, os.NewSyscallError("write", err)
			}
		}
		n += nn
	}
	return n, nil
}

func (c *Conn) waitWritable() error {
	fds := []unix.PollFd{{Fd: int32(c.fd), Events: unix.POLLOUT}}
	for {
		_, err := unix.Poll(fds, -1)
		if err == nil {
			return nil
		}
		if err != unix.EINTR {
			return os.NewSyscallError("poll", err)
		}
	}
}

// SetNonblocking switches the connection between blocking and nonblocking
// I/O.
func (c *Conn) SetNonblocking(v bool) error {
	if err := internal.SetNonblock(c.fd, v); err != nil {
		return err
	}
	c.nonblocking = v
	return nil
}

// SetOpts applies socket options to the connection.
func (c *Conn) SetOpts(opts ...dispatchopts.Option) error {
	if err := internal.ApplyOpts(c.fd, opts...); err != nil {
		return err
	}
	if opt, ok := dispatchopts.Lookup(dispatchopts.TypeNonblocking, opts); ok {
		c.nonblocking = opt.Value().(bool)
	}
	return nil
}

// Close closes the connection. Only the first call closes the descriptor,
// subsequent calls return io.EOF.
func (c *Conn) Close() error {
	if !atomic.CompareAndSwapUint32(&c.closed, 0, 1) {
		return io.EOF
	}
	return unix.Close(c.fd)
}

func (c *Conn) Closed() bool {
	return atomic.LoadUint32(&c.closed) == 1
}

func (c *Conn) RawFd() int {
	return c.fd
}

// ID identifies the connection in logs. Descriptor numbers are reused as soon
// as a connection is closed, IDs are not.
func (c *Conn) ID() uuid.UUID {
	return c.id
}

func (c *Conn) Nonblocking() bool {
	return c.nonblocking
}

func (c *Conn) LocalAddr() net.Addr {
	return c.localAddr
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.remoteAddr
}
