package dispatch

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/talostrading/dispatch/dispatcherrors"
	"github.com/talostrading/dispatch/dispatchopts"
	"golang.org/x/sys/unix"
)

func TestListenerNonblockingAccept(t *testing.T) {
	assert := assert.New(t)

	ln, err := Listen("127.0.0.1", 0, 8, dispatchopts.Nonblocking(true))
	require.NoError(t, err)
	defer ln.Close()

	assert.True(ln.Nonblocking())
	assert.Equal(8, ln.Backlog())
	assert.NotZero(ln.Addr().Port)

	reuse, err := unix.GetsockoptInt(ln.Fd(), unix.SOL_SOCKET, unix.SO_REUSEADDR)
	assert.NoError(err)
	assert.Equal(1, reuse)

	_, err = ln.Accept()
	assert.ErrorIs(err, dispatcherrors.ErrWouldBlock)

	client, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	var conn *Conn
	assert.Eventually(func() bool {
		conn, err = ln.Accept()
		return err == nil
	}, time.Second, time.Millisecond)
	require.NotNil(t, conn)
	defer conn.Close()

	// Accepted connections start out blocking whatever the listener mode.
	assert.False(conn.Nonblocking())
	assert.Equal(client.LocalAddr().String(), conn.RemoteAddr().String())
}

func TestListenerShutdownWakesAccept(t *testing.T) {
	ln, err := Listen("127.0.0.1", 0, 8)
	require.NoError(t, err)
	defer ln.Close()

	assert.False(t, ln.Nonblocking())

	errc := make(chan error, 1)
	go func() {
		_, err := ln.Accept()
		errc <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, ln.Shutdown())

	select {
	case err := <-errc:
		assert.Error(t, err)
		assert.NotErrorIs(t, err, dispatcherrors.ErrWouldBlock)
	case <-time.After(5 * time.Second):
		t.Fatal("accept was not woken up")
	}
}

func TestListenerSetNonblocking(t *testing.T) {
	ln, err := Listen("127.0.0.1", 0, 8)
	require.NoError(t, err)
	defer ln.Close()

	require.NoError(t, ln.SetNonblocking(true))
	_, err = ln.Accept()
	assert.ErrorIs(t, err, dispatcherrors.ErrWouldBlock)
}

func TestListenerCloseOnce(t *testing.T) {
	ln, err := Listen("127.0.0.1", 0, 8)
	require.NoError(t, err)

	assert.NoError(t, ln.Close())
	assert.ErrorIs(t, ln.Close(), io.EOF)
}

func TestListenAddressInUse(t *testing.T) {
	ln, err := Listen("127.0.0.1", 0, 8)
	require.NoError(t, err)
	defer ln.Close()

	_, err = Listen("127.0.0.1", ln.Addr().Port, 8)
	assert.ErrorIs(t, err, unix.EADDRINUSE)
}
