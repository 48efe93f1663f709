// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package blocking

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/lrucache/log"
	"github.com/luxfi/lrucache/store"
)

func testLogger() log.Logger { return log.NewLogger(log.NewTerminalHandler(nil, false)) }

func startServer(t *testing.T, s store.Accessor) (addr string, srv *Server) {
	t.Helper()
	srv = New(s, testLogger())
	require.NoError(t, srv.Start(0, 2, 4))

	// Port 0 picks an ephemeral port; recover it from the listener.
	addr = srv.listener.Addr().String()
	t.Cleanup(func() {
		srv.Stop()
		srv.Join()
	})
	return addr, srv
}

func TestBlockingServerRoundTrip(t *testing.T) {
	s := store.New(1024)
	addr, _ := startServer(t, s)

	c, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Write([]byte("SET k 5\r\nhello\r\n"))
	require.NoError(t, err)
	r := bufio.NewReader(c)
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "STORED\r\n", line)

	_, err = c.Write([]byte("GET k\r\n"))
	require.NoError(t, err)
	line, err = r.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "VALUE hello\r\n", line)

	_, err = c.Write([]byte("DELETE k\r\n"))
	require.NoError(t, err)
	line, err = r.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "DELETED\r\n", line)
}

func TestBlockingServerProtocolError(t *testing.T) {
	s := store.New(1024)
	addr, _ := startServer(t, s)

	c, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Write([]byte("NONSENSE\r\n"))
	require.NoError(t, err)
	r := bufio.NewReader(c)
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	require.Contains(t, line, "CLIENT_ERROR")
}

func TestBlockingServerStopClosesListener(t *testing.T) {
	s := store.New(1024)
	_, srv := startServer(t, s)
	srv.Stop()
	srv.Join()
}
