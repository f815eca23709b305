package internal

import (
	"fmt"
	"time"
)

type PollerKind uint8

const (
	// PollerEpoll tracks the watch set in a map and has no fixed capacity.
	PollerEpoll PollerKind = iota

	// PollerSelect tracks the watch set in a select(2) descriptor bitmap. It
	// cannot watch descriptors at or above SelectCapacity.
	PollerSelect
)

func (k PollerKind) String() string {
	switch k {
	case PollerEpoll:
		return "epoll"
	case PollerSelect:
		return "select"
	default:
		return fmt.Sprintf("poller(%d)", uint8(k))
	}
}

// ParsePollerKind is the inverse of PollerKind.String.
func ParsePollerKind(s string) (PollerKind, error) {
	switch s {
	case "epoll", "":
		return PollerEpoll, nil
	case "select":
		return PollerSelect, nil
	default:
		return 0, fmt.Errorf("unknown poller %q", s)
	}
}

// Poller reports which descriptors of its watch set are readable. It never
// performs I/O on the watched descriptors.
//
// A Poller is not safe for concurrent use. The watch set must be mutated only
// by the goroutine calling Poll.
type Poller interface {
	// Watch adds fd to the watch set. Watching an fd twice is a no-op.
	Watch(fd int) error

	// Unwatch removes fd from the watch set. Unwatching an fd which is not
	// watched is a no-op.
	Unwatch(fd int) error

	// Watching returns true if fd is in the watch set.
	Watching(fd int) bool

	// Len returns the size of the watch set.
	Len() int

	// Poll blocks for at most timeout until at least one watched descriptor is
	// readable, and appends the readable descriptors to ready.
	//
	// A timeout or an interrupted wait return ready unchanged and a nil error.
	// The order of the returned descriptors is unspecified.
	Poll(timeout time.Duration, ready []int) ([]int, error)

	// Close releases the resources held by the Poller. It does not close the
	// watched descriptors.
	Close() error

	// Kind returns the multiplexing primitive behind the Poller.
	Kind() PollerKind
}
