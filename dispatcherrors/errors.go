package dispatcherrors

import "errors"

var (
	ErrWouldBlock = errors.New("operation would block")
	ErrTimeout    = errors.New("operation timed out")
	ErrClosed     = errors.New("file descriptor closed")

	// ErrWatchSetFull is returned by fixed capacity pollers (select) when
	// the descriptor does not fit in the descriptor bitmap.
	ErrWatchSetFull = errors.New("watch set is full")
)
