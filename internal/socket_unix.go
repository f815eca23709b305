//go:build linux

package internal

import (
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/talostrading/dispatch/dispatcherrors"
	"github.com/talostrading/dispatch/dispatchopts"
	"golang.org/x/sys/unix"
)

// CreateSocket creates a close-on-exec stream socket for addr's family.
func CreateSocket(addr *net.TCPAddr) (int, error) {
	domain := unix.AF_INET
	if addr.IP != nil && addr.IP.To4() == nil {
		domain = unix.AF_INET6
	}

	fd, err := unix.Socket(domain, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return -1, os.NewSyscallError("socket", err)
	}

	return fd, nil
}

// ListenTCP creates a socket, applies opts, binds it to host:port and starts
// listening with a queue of backlog pending connections. An empty host binds
// all IPv4 interfaces.
//
// The socket is closed if any step fails.
func ListenTCP(host string, port, backlog int, opts ...dispatchopts.Option) (fd int, addr *net.TCPAddr, err error) {
	localAddr, err := net.ResolveTCPAddr("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return -1, nil, err
	}

	fd, err = CreateSocket(localAddr)
	if err != nil {
		return -1, nil, err
	}

	if err := ApplyOpts(fd, opts...); err != nil {
		unix.Close(fd)
		return -1, nil, err
	}

	if err := unix.Bind(fd, ToSockaddr(localAddr)); err != nil {
		unix.Close(fd)
		return -1, nil, os.NewSyscallError("bind", err)
	}

	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return -1, nil, os.NewSyscallError("listen", err)
	}

	bound, err := SocketAddress(fd)
	if err != nil {
		unix.Close(fd)
		return -1, nil, err
	}

	return fd, bound, nil
}

// Accept takes the next connection off fd's accept queue. If fd is
// nonblocking and the queue is empty, it returns ErrWouldBlock.
func Accept(fd int) (nfd int, remoteAddr *net.TCPAddr, err error) {
	for {
		nfd, sa, err := unix.Accept4(fd, unix.SOCK_CLOEXEC)
		if err == nil {
			return nfd, FromSockaddr(sa), nil
		}

		switch err {
		case unix.EINTR, unix.ECONNABORTED:
			// The peer reset the connection while it was still queued. This
			// concerns that one connection only, so try the next one.
			continue
		case unix.EAGAIN:
			return -1, nil, dispatcherrors.ErrWouldBlock
		default:
			return -1, nil, os.NewSyscallError("accept", err)
		}
	}
}

// SetNonblock switches fd between blocking and nonblocking mode.
func SetNonblock(fd int, v bool) error {
	if err := unix.SetNonblock(fd, v); err != nil {
		return os.NewSyscallError(fmt.Sprintf("set_nonblock(%v)", v), err)
	}
	return nil
}

func ApplyOpts(fd int, opts ...dispatchopts.Option) error {
	for _, opt := range opts {
		switch t := opt.Type(); t {
		case dispatchopts.TypeNonblocking:
			if err := SetNonblock(fd, opt.Value().(bool)); err != nil {
				return err
			}
		case dispatchopts.TypeReuseAddr:
			if err := setBool(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, opt); err != nil {
				return err
			}
		case dispatchopts.TypeReusePort:
			if err := setBool(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, opt); err != nil {
				return err
			}
		case dispatchopts.TypeNoDelay:
			if err := setBool(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, opt); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unsupported socket option %s", t)
		}
	}

	return nil
}

func setBool(fd, level, name int, opt dispatchopts.Option) error {
	v := opt.Value().(bool)

	iv := 0
	if v {
		iv = 1
	}

	if err := unix.SetsockoptInt(fd, level, name, iv); err != nil {
		return os.NewSyscallError(fmt.Sprintf("%s(%v)", opt.Type(), v), err)
	}
	return nil
}

// IsNonblocking returns true if O_NONBLOCK is set on fd.
func IsNonblocking(fd int) (bool, error) {
	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
	if err != nil {
		return false, os.NewSyscallError("fcntl(F_GETFL)", err)
	}
	return flags&unix.O_NONBLOCK != 0, nil
}

func SocketAddress(fd int) (*net.TCPAddr, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return nil, os.NewSyscallError("getsockname", err)
	}
	return FromSockaddr(sa), nil
}
