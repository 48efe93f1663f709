// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package stnonblock implements the single-threaded non-blocking front
// end: one reactor goroutine owns the listening socket and every
// accepted Connection, dispatching readiness events to Connection
// methods inline. No Connection synchronization is needed — only the
// reactor goroutine ever touches any of them.
package stnonblock

import (
	"context"
	"net"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/luxfi/lrucache/conn"
	"github.com/luxfi/lrucache/log"
	"github.com/luxfi/lrucache/proto"
	"github.com/luxfi/lrucache/reactor"
	"github.com/luxfi/lrucache/store"
)

// Server is the single-threaded non-blocking front end.
type Server struct {
	store store.Accessor
	log   log.Logger

	listenFD int
	react    *reactor.Reactor

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// New builds an stnonblock Server over the given cache.
func New(s store.Accessor, lg log.Logger) *Server {
	return &Server{store: s, log: lg}
}

// Start opens a non-blocking listening socket and runs the reactor on
// its own goroutine. acceptors and workers are accepted for interface
// symmetry with the other front ends but don't apply to a
// single-threaded reactor: there is exactly one accept path and one
// event-processing goroutine by construction.
func (s *Server) Start(port, _, _ int) error {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return err
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return err
	}
	addr := &unix.SockaddrInet4{Port: port}
	if err := unix.Bind(fd, addr); err != nil {
		_ = unix.Close(fd)
		return err
	}
	if err := unix.Listen(fd, 128); err != nil {
		_ = unix.Close(fd)
		return err
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return err
	}
	s.listenFD = fd

	newConn := func(nfd int) *conn.Conn {
		return conn.New(nfd, s.store, proto.NewParser(0), s.log)
	}
	dispatch := func(c *conn.Conn, ev reactor.Events, resync reactor.Resync) {
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

	r, err := reactor.New(fd, s.log, newConn, dispatch)
	if err != nil {
		_ = unix.Close(fd)
		return err
	}
	s.react = r

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		if err := s.react.Run(ctx); err != nil {
			s.log.Error("reactor exited with error", "err", err)
		}
		_ = s.react.Close()
	}()
	return nil
}

// Addr reports the bound listening address, for callers that started
// on port 0 and need the kernel-assigned port.
func (s *Server) Addr() (net.Addr, error) {
	sa, err := unix.Getsockname(s.listenFD)
	if err != nil {
		return nil, err
	}
	in4 := sa.(*unix.SockaddrInet4)
	return &net.TCPAddr{IP: net.IPv4(in4.Addr[0], in4.Addr[1], in4.Addr[2], in4.Addr[3]), Port: in4.Port}, nil
}

func (s *Server) Stop() {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
}

func (s *Server) Join() {
	if s.done != nil {
		<-s.done
	}
}
