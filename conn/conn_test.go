// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package conn

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/luxfi/lrucache/log"
	"github.com/luxfi/lrucache/proto"
	"github.com/luxfi/lrucache/store"
)

// newPair returns (serverFD, peerFD): a connected UNIX stream socket
// pair, with serverFD set non-blocking the way the reactor would set
// an accepted connection.
func newPair(t *testing.T) (serverFD, peerFD int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	require.NoError(t, unix.SetNonblock(fds[0], true))
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func testLogger() log.Logger { return log.NewLogger(log.NewTerminalHandler(nil, false)) }

func TestConnSplitSegmentScenario(t *testing.T) {
	serverFD, peerFD := newPair(t)
	s := store.New(1024)
	c := New(serverFD, s, proto.NewParser(0), testLogger())

	first := "SET k 1\r\n"
	second := "v\r\n"

	_, err := unix.Write(peerFD, []byte(first))
	require.NoError(t, err)
	c.OnReadable()
	require.Equal(t, StateOpen, c.State())

	_, err = unix.Write(peerFD, []byte(second))
	require.NoError(t, err)
	c.OnReadable()

	v, ok := s.Get([]byte("k"))
	require.True(t, ok)
	require.Equal(t, "v", string(v))

	require.Equal(t, InterestRead|InterestWrite|InterestErr|InterestHup, c.Interest())

	c.OnWritable()
	reply := readAll(t, peerFD)
	require.Equal(t, "STORED\r\n", reply)
	require.Equal(t, InterestRead|InterestErr|InterestHup, c.Interest())
}

func TestConnPeerCloseEntersDrainingThenCloses(t *testing.T) {
	serverFD, peerFD := newPair(t)
	s := store.New(1024)
	c := New(serverFD, s, proto.NewParser(0), testLogger())

	unix.Close(peerFD)
	// Give the kernel a moment to surface the orderly close as EOF.
	time.Sleep(10 * time.Millisecond)

	c.OnReadable()
	require.Equal(t, StateClosed, c.State())
	require.Zero(t, c.Interest())
}

func TestConnProtocolErrorRepliesAndContinues(t *testing.T) {
	serverFD, peerFD := newPair(t)
	s := store.New(1024)
	c := New(serverFD, s, proto.NewParser(0), testLogger())

	_, err := unix.Write(peerFD, []byte("BOGUS\r\nGET k\r\n"))
	require.NoError(t, err)
	c.OnReadable()

	c.OnWritable()
	reply := readAll(t, peerFD)
	require.Contains(t, reply, "CLIENT_ERROR")
	require.Contains(t, reply, "NOT_FOUND")
	require.Equal(t, StateOpen, c.State())
}

func readAll(t *testing.T, fd int) string {
	t.Helper()
	buf := make([]byte, 4096)
	n, err := unix.Read(fd, buf)
	require.NoError(t, err)
	return string(buf[:n])
}
