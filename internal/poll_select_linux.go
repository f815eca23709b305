//go:build linux

package internal

import (
	"io"
	"os"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/talostrading/dispatch/dispatcherrors"
	"golang.org/x/sys/unix"
)

// SelectCapacity is the number of descriptors a select(2) bitmap can hold
// (FD_SETSIZE). Descriptors numbered SelectCapacity or higher can never be
// watched by a SelectPoller: this is a hard limit on the number of
// connections a SelectPoller based server can hold at once.
const SelectCapacity = int(unsafe.Sizeof(unix.FdSet{})) * 8

var _ Poller = &SelectPoller{}

type SelectPoller struct {
	// set is the watch set. It is copied before every select call since the
	// kernel overwrites the set it is given with the ready descriptors.
	set unix.FdSet

	// ready receives the copy of set passed to select.
	ready unix.FdSet

	// n is the number of descriptors in set.
	n int

	// watermark is the highest descriptor in set, or -1 if set is empty.
	watermark int

	closed uint32
}

func NewSelectPoller() (*SelectPoller, error) {
	return &SelectPoller{watermark: -1}, nil
}

func (p *SelectPoller) Kind() PollerKind {
	return PollerSelect
}

func (p *SelectPoller) Watch(fd int) error {
	if fd < 0 {
		return os.NewSyscallError("select_watch", unix.EBADF)
	}
	if fd >= SelectCapacity {
		return dispatcherrors.ErrWatchSetFull
	}
	if p.set.IsSet(fd) {
		return nil
	}

	p.set.Set(fd)
	p.n++
	if fd > p.watermark {
		p.watermark = fd
	}

	return nil
}

func (p *SelectPoller) Unwatch(fd int) error {
	if !p.Watching(fd) {
		return nil
	}

	p.set.Clear(fd)
	p.n--
	if fd == p.watermark {
		for p.watermark >= 0 && !p.set.IsSet(p.watermark) {
			p.watermark--
		}
	}

	return nil
}

func (p *SelectPoller) Watching(fd int) bool {
	if fd < 0 || fd >= SelectCapacity {
		return false
	}
	return p.set.IsSet(fd)
}

func (p *SelectPoller) Len() int {
	return p.n
}

// Watermark returns the highest watched descriptor, or -1 if nothing is
// watched. select only scans descriptors up to the watermark.
func (p *SelectPoller) Watermark() int {
	return p.watermark
}

func (p *SelectPoller) Poll(timeout time.Duration, ready []int) ([]int, error) {
	if p.Closed() {
		return ready, os.NewSyscallError("select", unix.EBADF)
	}

	// Linux writes the unslept time back into the timeval, so a fresh one is
	// needed on every call.
	var tv *unix.Timeval
	if timeout >= 0 {
		t := unix.NsecToTimeval(timeout.Nanoseconds())
		tv = &t
	}

	p.ready = p.set
	n, err := unix.Select(p.watermark+1, &p.ready, nil, nil, tv)
	if err != nil {
		if err == unix.EINTR {
			return ready, nil
		}
		return ready, os.NewSyscallError("select", err)
	}

	for fd := 0; fd <= p.watermark && n > 0; fd++ {
		if p.ready.IsSet(fd) {
			ready = append(ready, fd)
			n--
		}
	}

	return ready, nil
}

func (p *SelectPoller) Close() error {
	if !atomic.CompareAndSwapUint32(&p.closed, 0, 1) {
		return io.EOF
	}

	p.set.Zero()
	p.n = 0
	p.watermark = -1
	return nil
}

func (p *SelectPoller) Closed() bool {
	return atomic.LoadUint32(&p.closed) == 1
}
