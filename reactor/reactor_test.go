// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package reactor

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/luxfi/lrucache/conn"
	"github.com/luxfi/lrucache/log"
	"github.com/luxfi/lrucache/proto"
	"github.com/luxfi/lrucache/store"
)

// listenTCP opens a non-blocking, loopback listening socket the same
// way the production front ends do, returning its fd and address.
func listenTCP(t *testing.T) (fd int, addr string) {
	t.Helper()
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	require.NoError(t, unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1))
	require.NoError(t, unix.Bind(fd, &unix.SockaddrInet4{Port: 0, Addr: [4]byte{127, 0, 0, 1}}))
	require.NoError(t, unix.Listen(fd, 16))
	require.NoError(t, unix.SetNonblock(fd, true))

	sa, err := unix.Getsockname(fd)
	require.NoError(t, err)
	in4 := sa.(*unix.SockaddrInet4)
	addr = net.JoinHostPort("127.0.0.1", strconv.Itoa(in4.Port))
	return fd, addr
}

func testLogger() log.Logger { return log.NewLogger(log.NewTerminalHandler(nil, false)) }

func TestReactorServesRequestsAndShutsDownCleanly(t *testing.T) {
	listenFD, addr := listenTCP(t)
	s := store.New(1024)

	newConn := func(fd int) *conn.Conn {
		return conn.New(fd, s, proto.NewParser(0), testLogger())
	}
	inline := func(c *conn.Conn, ev Events, resync Resync) {
		if ev.Readable {
			c.OnReadable()
		}
		if ev.Writable {
			c.OnWritable()
		}
		if ev.Err {
			c.OnError()
		}
		if ev.Hup {
			c.OnHangup()
		}
		resync(c)
	}

	r, err := New(listenFD, testLogger(), newConn, inline)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- r.Run(ctx) }()

	client, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Write([]byte("SET k 1\r\nv\r\n"))
	require.NoError(t, err)
	reader := bufio.NewReader(client)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "STORED\r\n", line)

	_, err = client.Write([]byte("GET k\r\n"))
	require.NoError(t, err)
	line, err = reader.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "VALUE v\r\n", line)

	cancel()
	select {
	case err := <-runErr:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("reactor did not shut down in time")
	}
	require.NoError(t, r.Close())
}
