// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package stnonblock

import (
	"bufio"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/lrucache/log"
	"github.com/luxfi/lrucache/store"
)

func testLogger() log.Logger { return log.NewLogger(log.NewTerminalHandler(nil, false)) }

func TestStNonBlockRoundTripAndShutdown(t *testing.T) {
	s := store.New(1024)
	srv := New(s, testLogger())
	require.NoError(t, srv.Start(0, 1, 1))

	addr, err := srv.Addr()
	require.NoError(t, err)
	tcpAddr := addr.(*net.TCPAddr)
	dialAddr := net.JoinHostPort("127.0.0.1", strconv.Itoa(tcpAddr.Port))

	c, err := net.DialTimeout("tcp", dialAddr, time.Second)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Write([]byte("SET k 3\r\nfoo\r\n"))
	require.NoError(t, err)
	r := bufio.NewReader(c)
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "STORED\r\n", line)

	_, err = c.Write([]byte("GET k\r\n"))
	require.NoError(t, err)
	line, err = r.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "VALUE foo\r\n", line)

	srv.Stop()
	srv.Join()
}
