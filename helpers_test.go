package dispatch

import (
	"bytes"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// socketPair returns a Conn and the raw, blocking descriptor of its peer.
func socketPair(t *testing.T, nonblocking bool) (*Conn, int) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)

	if nonblocking {
		require.NoError(t, unix.SetNonblock(fds[0], true))
	}

	conn, err := newConn(fds[0], nil, nil)
	require.NoError(t, err)
	require.Equal(t, nonblocking, conn.Nonblocking())

	t.Cleanup(func() {
		conn.Close()
		unix.Close(fds[1])
	})
	return conn, fds[1]
}

// readPeer reads from a blocking descriptor until EOF.
func readPeer(t *testing.T, fd int) []byte {
	var (
		out []byte
		b   = make([]byte, 4096)
	)
	for {
		n, err := unix.Read(fd, b)
		if err == unix.EINTR {
			continue
		}
		require.NoError(t, err)
		if n == 0 {
			return out
		}
		out = append(out, b[:n]...)
	}
}

func writePeer(t *testing.T, fd int, b []byte) {
	for len(b) > 0 {
		n, err := unix.Write(fd, b)
		if err == unix.EINTR {
			continue
		}
		require.NoError(t, err)
		b = b[n:]
	}
}

func nullLogger() (*logrus.Logger, *test.Hook) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	return logger, hook
}

func testConfig(mode Mode, poller PollerKind) Config {
	cfg := DefaultConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	cfg.Mode = mode
	cfg.Poller = poller
	cfg.PollTimeout = 50 * time.Millisecond
	return cfg
}

type serverMode struct {
	name   string
	mode   Mode
	poller PollerKind
}

var serverModes = []serverMode{
	{"multiplexed_epoll", ModeMultiplexed, PollerEpoll},
	{"multiplexed_select", ModeMultiplexed, PollerSelect},
	{"blocking", ModeBlocking, PollerEpoll},
}

func forEachMode(t *testing.T, fn func(t *testing.T, cfg Config)) {
	for _, m := range serverModes {
		t.Run(m.name, func(t *testing.T) {
			fn(t, testConfig(m.mode, m.poller))
		})
	}
}

func newTestServer(t *testing.T, cfg Config) (*Server, *test.Hook) {
	logger, hook := nullLogger()
	s, err := NewServer(cfg, WithLogger(logger))
	require.NoError(t, err)
	return s, hook
}

// run runs s until the test ends.
func run(t *testing.T, s *Server) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
		assert.Equal(t, StateShutdown, s.State())
	})
}

func startServer(t *testing.T, cfg Config) (*Server, *test.Hook) {
	s, hook := newTestServer(t, cfg)
	run(t, s)
	return s, hook
}

func dial(t *testing.T, s *Server) *net.TCPConn {
	conn, err := net.DialTimeout("tcp", s.Addr(), time.Second)
	require.NoError(t, err)
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	t.Cleanup(func() { conn.Close() })
	return conn.(*net.TCPConn)
}

// request sends payload and returns everything read until the server closes
// the connection.
func request(conn net.Conn, payload []byte) ([]byte, error) {
	if len(payload) > 0 {
		if _, err := conn.Write(payload); err != nil {
			return nil, err
		}
	}
	return io.ReadAll(conn)
}

var wantResponse = bytes.Repeat([]byte{'a'}, 1024)
