package dispatch

import (
	"fmt"
	"time"

	"github.com/talostrading/dispatch/internal"
)

const (
	DefaultPort            = 8080
	DefaultBacklog         = 1024
	DefaultChunkSize       = 1024
	DefaultResponseSize    = 1024
	DefaultResponseFill    = byte('a')
	DefaultPollTimeout     = time.Second
	DefaultProcessingDelay = time.Millisecond
)

// Mode selects how the Server waits for work.
type Mode uint8

const (
	// ModeMultiplexed waits on a Poller for the listener and the accepted
	// connections to become readable, and dispatches readable connections.
	ModeMultiplexed Mode = iota

	// ModeBlocking blocks in accept and dispatches every connection as soon
	// as it is accepted.
	ModeBlocking
)

func (m Mode) String() string {
	switch m {
	case ModeMultiplexed:
		return "multiplexed"
	case ModeBlocking:
		return "blocking"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

func ParseMode(s string) (Mode, error) {
	switch s {
	case "multiplexed", "":
		return ModeMultiplexed, nil
	case "blocking":
		return ModeBlocking, nil
	default:
		return 0, fmt.Errorf("unknown mode %q", s)
	}
}

type PollerKind = internal.PollerKind

const (
	PollerEpoll  = internal.PollerEpoll
	PollerSelect = internal.PollerSelect
)

// SelectCapacity is the highest number of descriptors PollerSelect can watch.
const SelectCapacity = internal.SelectCapacity

func ParsePollerKind(s string) (PollerKind, error) {
	return internal.ParsePollerKind(s)
}

type Config struct {
	// Host is the address to bind. Empty binds all interfaces.
	Host string
	// Port to bind. 0 picks an ephemeral port, see Server.Addr.
	Port int
	// Backlog is the capacity of the kernel's accept queue.
	Backlog int

	Mode Mode
	// Poller is the multiplexing primitive of ModeMultiplexed.
	Poller PollerKind
	// PollTimeout bounds every wait of ModeMultiplexed. Cancellation of the
	// context passed to Run is observed at least this often.
	PollTimeout time.Duration

	// ChunkSize is the size of a single read. A read returning less than
	// ChunkSize bytes ends the request.
	ChunkSize int
	// ProcessingDelay is slept between reading the request and responding.
	ProcessingDelay time.Duration
	// ResponseSize bytes of ResponseFill are sent back on every request.
	ResponseSize int
	ResponseFill byte

	NoDelay   bool
	ReusePort bool

	// PinCPU pins the dispatch loop's thread to a CPU. Negative disables
	// pinning.
	PinCPU int
}

func DefaultConfig() Config {
	return Config{
		Port:            DefaultPort,
		Backlog:         DefaultBacklog,
		Mode:            ModeMultiplexed,
		Poller:          PollerEpoll,
		PollTimeout:     DefaultPollTimeout,
		ChunkSize:       DefaultChunkSize,
		ProcessingDelay: DefaultProcessingDelay,
		ResponseSize:    DefaultResponseSize,
		ResponseFill:    DefaultResponseFill,
		PinCPU:          -1,
	}
}

func (c Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.Backlog <= 0 {
		return fmt.Errorf("invalid backlog %d", c.Backlog)
	}
	if c.Mode != ModeMultiplexed && c.Mode != ModeBlocking {
		return fmt.Errorf("invalid mode %s", c.Mode)
	}
	if c.Poller != PollerEpoll && c.Poller != PollerSelect {
		return fmt.Errorf("invalid poller %s", c.Poller)
	}
	if c.Mode == ModeMultiplexed && c.PollTimeout <= 0 {
		return fmt.Errorf("invalid poll timeout %s", c.PollTimeout)
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("invalid chunk size %d", c.ChunkSize)
	}
	if c.ProcessingDelay < 0 {
		return fmt.Errorf("invalid processing delay %s", c.ProcessingDelay)
	}
	if c.ResponseSize < 0 {
		return fmt.Errorf("invalid response size %d", c.ResponseSize)
	}
	return nil
}
