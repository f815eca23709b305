//go:build linux

package internal

import "time"

// NewPoller creates a Poller backed by the given multiplexing primitive.
func NewPoller(kind PollerKind) (Poller, error) {
	switch kind {
	case PollerSelect:
		return NewSelectPoller()
	default:
		return NewEpollPoller()
	}
}

// timeoutMs converts timeout to the millisecond argument of epoll_wait. A
// negative timeout blocks indefinitely. Positive timeouts below a millisecond
// are rounded up so that they do not turn into a busy poll.
func timeoutMs(timeout time.Duration) int {
	if timeout < 0 {
		return -1
	}
	ms := timeout.Milliseconds()
	if ms == 0 && timeout > 0 {
		ms = 1
	}
	return int(ms)
}
