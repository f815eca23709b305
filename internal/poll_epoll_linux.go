//go:build linux

package internal

import (
	"io"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

var _ Poller = &EpollPoller{}

type EpollPoller struct {
	// fd is the file descriptor returned by calling epoll_create1.
	fd int

	// events receives the events which occurred in a Poll call.
	events []unix.EpollEvent

	// watched is the watch set. epoll keeps its own copy in the kernel, this
	// one backs Watching and Len and makes Watch/Unwatch idempotent.
	watched map[int]struct{}

	// closed is 1 if Close has been called.
	closed uint32
}

func NewEpollPoller() (*EpollPoller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, os.NewSyscallError("epoll_create1", err)
	}

	return &EpollPoller{
		fd:      fd,
		events:  make([]unix.EpollEvent, 128),
		watched: make(map[int]struct{}),
	}, nil
}

func (p *EpollPoller) Kind() PollerKind {
	return PollerEpoll
}

func (p *EpollPoller) Watch(fd int) error {
	if _, ok := p.watched[fd]; ok {
		return nil
	}

	event := unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(fd),
	}
	if err := unix.EpollCtl(p.fd, unix.EPOLL_CTL_ADD, fd, &event); err != nil {
		return os.NewSyscallError("epoll_ctl_add", err)
	}
	p.watched[fd] = struct{}{}

	return nil
}

func (p *EpollPoller) Unwatch(fd int) error {
	if _, ok := p.watched[fd]; !ok {
		return nil
	}

	// The entry is dropped even if epoll_ctl fails: the only failure modes are
	// a descriptor that is already closed, and therefore already gone from the
	// kernel's interest list, or a closed epoll instance.
	delete(p.watched, fd)
	if err := unix.EpollCtl(p.fd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return os.NewSyscallError("epoll_ctl_del", err)
	}

	return nil
}

func (p *EpollPoller) Watching(fd int) bool {
	_, ok := p.watched[fd]
	return ok
}

func (p *EpollPoller) Len() int {
	return len(p.watched)
}

func (p *EpollPoller) Poll(timeout time.Duration, ready []int) ([]int, error) {
	if p.Closed() {
		return ready, os.NewSyscallError("epoll_wait", unix.EBADF)
	}

	n, err := unix.EpollWait(p.fd, p.events, timeoutMs(timeout))
	if err != nil {
		if err == unix.EINTR {
			return ready, nil
		}
		return ready, os.NewSyscallError("epoll_wait", err)
	}

	for i := 0; i < n; i++ {
		fd := int(p.events[i].Fd)
		// An fd may have been unwatched since the kernel queued its event.
		if _, ok := p.watched[fd]; ok {
			ready = append(ready, fd)
		}
	}

	return ready, nil
}

func (p *EpollPoller) Close() error {
	if !atomic.CompareAndSwapUint32(&p.closed, 0, 1) {
		return io.EOF
	}

	p.watched = make(map[int]struct{})
	return unix.Close(p.fd)
}

func (p *EpollPoller) Closed() bool {
	return atomic.LoadUint32(&p.closed) == 1
}
