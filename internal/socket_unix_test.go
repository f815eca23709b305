//go:build linux

package internal

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/talostrading/dispatch/dispatcherrors"
	"github.com/talostrading/dispatch/dispatchopts"
	"golang.org/x/sys/unix"
)

func TestListenTCPEphemeralPort(t *testing.T) {
	assert := assert.New(t)

	fd, addr, err := ListenTCP("127.0.0.1", 0, 16, dispatchopts.ReuseAddr(true))
	require.NoError(t, err)
	defer unix.Close(fd)

	assert.NotZero(addr.Port)
	assert.True(addr.IP.Equal(net.IPv4(127, 0, 0, 1)))

	reuse, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR)
	assert.NoError(err)
	assert.Equal(1, reuse)
}

func TestListenTCPAddressInUse(t *testing.T) {
	fd, addr, err := ListenTCP("127.0.0.1", 0, 16)
	require.NoError(t, err)
	defer unix.Close(fd)

	_, _, err = ListenTCP("127.0.0.1", addr.Port, 16)
	assert.ErrorIs(t, err, unix.EADDRINUSE)
}

func TestAcceptNonblockingWouldBlock(t *testing.T) {
	assert := assert.New(t)

	fd, addr, err := ListenTCP("127.0.0.1", 0, 16, dispatchopts.Nonblocking(true))
	require.NoError(t, err)
	defer unix.Close(fd)

	nonblocking, err := IsNonblocking(fd)
	assert.NoError(err)
	assert.True(nonblocking)

	_, _, err = Accept(fd)
	assert.ErrorIs(err, dispatcherrors.ErrWouldBlock)

	client, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer client.Close()

	var nfd int
	assert.Eventually(func() bool {
		nfd, _, err = Accept(fd)
		return err == nil
	}, time.Second, time.Millisecond)
	defer unix.Close(nfd)

	assert.NoError(SetNonblock(nfd, true))
	nonblocking, err = IsNonblocking(nfd)
	assert.NoError(err)
	assert.True(nonblocking)

	_, _, err = Accept(fd)
	assert.ErrorIs(err, dispatcherrors.ErrWouldBlock)
}

func TestAcceptBlocking(t *testing.T) {
	assert := assert.New(t)

	fd, addr, err := ListenTCP("127.0.0.1", 0, 16)
	require.NoError(t, err)
	defer unix.Close(fd)

	go func() {
		time.Sleep(10 * time.Millisecond)
		if c, err := net.Dial("tcp", addr.String()); err == nil {
			defer c.Close()
			time.Sleep(100 * time.Millisecond)
		}
	}()

	nfd, remote, err := Accept(fd)
	require.NoError(t, err)
	defer unix.Close(nfd)

	assert.True(remote.IP.Equal(net.IPv4(127, 0, 0, 1)))

	nonblocking, err := IsNonblocking(nfd)
	assert.NoError(err)
	assert.False(nonblocking)
}

func TestApplyOptsNoDelay(t *testing.T) {
	fd, err := CreateSocket(&net.TCPAddr{})
	require.NoError(t, err)
	defer unix.Close(fd)

	require.NoError(t, ApplyOpts(fd, dispatchopts.NoDelay(true), dispatchopts.ReusePort(true)))

	v, err := unix.GetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY)
	assert.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestSockaddrRoundTrip(t *testing.T) {
	assert := assert.New(t)

	v4 := &net.TCPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 8080}
	got := FromSockaddr(ToSockaddr(v4))
	assert.True(got.IP.Equal(v4.IP))
	assert.Equal(8080, got.Port)

	v6 := &net.TCPAddr{IP: net.ParseIP("::1"), Port: 9090}
	got = FromSockaddr(ToSockaddr(v6))
	assert.True(got.IP.Equal(v6.IP))
	assert.Equal(9090, got.Port)

	zero := ToSockaddr(&net.TCPAddr{Port: 1}).(*unix.SockaddrInet4)
	assert.Equal([4]byte{}, zero.Addr)

	assert.Nil(FromSockaddr(&unix.SockaddrUnix{Name: "x"}))
}
