// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package mtnonblock implements the multi-threaded non-blocking front
// end: the same Connection state machine as stnonblock, but event
// handling for each ready Connection is submitted to a WorkerPool
// instead of run inline on the reactor goroutine. A per-Connection
// mutex guarantees only one worker at a time executes a given
// Connection's handlers — the alternative this module documents to
// sharding Connections across a fixed worker set.
package mtnonblock

import (
	"context"
	"net"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/luxfi/lrucache/conn"
	"github.com/luxfi/lrucache/log"
	"github.com/luxfi/lrucache/metrics"
	"github.com/luxfi/lrucache/pool"
	"github.com/luxfi/lrucache/proto"
	"github.com/luxfi/lrucache/reactor"
	"github.com/luxfi/lrucache/store"
)

// Config tunes the worker pool backing this front end.
type Config struct {
	LowWatermark  int
	HighWatermark int
	MaxQueueSize  int
	IdleTimeout   time.Duration
}

// Server is the multi-threaded non-blocking front end.
type Server struct {
	store store.Accessor
	log   log.Logger
	cfg   Config
	m     *metrics.Component

	listenFD int
	react    *reactor.Reactor
	pool     *pool.Pool

	guards sync.Map // fd (int) -> *sync.Mutex, one per live Connection

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// New builds an mtnonblock Server over the given cache and pool
// configuration.
func New(s store.Accessor, lg log.Logger, cfg Config, m *metrics.Component) *Server {
	return &Server{store: s, log: lg, cfg: cfg, m: m}
}

// Start opens a non-blocking listening socket, starts the worker pool,
// and runs the reactor on its own goroutine. acceptors is accepted for
// interface symmetry: a single epoll instance has one accept path
// regardless. workers, if positive, overrides the configured high
// watermark.
func (s *Server) Start(port, _, workers int) error {
	cfg := s.cfg
	if workers > 0 {
		cfg.HighWatermark = workers
	}
	s.pool = pool.New(pool.Config{
		Low:          cfg.LowWatermark,
		High:         cfg.HighWatermark,
		MaxQueueSize: cfg.MaxQueueSize,
		IdleTimeout:  cfg.IdleTimeout,
	}, s.log, s.m)

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return err
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return err
	}
	if err := unix.Bind(fd, &unix.SockaddrInet4{Port: port}); err != nil {
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
		s.guards.Store(nfd, &sync.Mutex{})
		return conn.New(nfd, s.store, proto.NewParser(0), s.log)
	}
	r, err := reactor.New(fd, s.log, newConn, s.dispatch)
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
		s.pool.Stop(true)
	}()
	return nil
}

// dispatch submits one Connection's event handling to the pool and
// returns immediately — it never blocks the reactor goroutine waiting
// for the task to run, which is the entire point of routing commands
// through a pool instead of running them inline. The submitted task
// holds that Connection's own mutex across handler execution AND the
// resync call, so when the reactor hands the same Connection to two
// workers they run its handlers one after the other, never
// concurrently, and a concurrent Resync of a DIFFERENT
// Connection from the reactor goroutine (e.g. on new accept) is
// unaffected since Reactor.Resync guards its own map access.
func (s *Server) dispatch(c *conn.Conn, ev reactor.Events, resync reactor.Resync) {
	guardVal, ok := s.guards.Load(c.FD())
	if !ok {
		return
	}
	guard := guardVal.(*sync.Mutex)

	run := func() {
		guard.Lock()
		defer guard.Unlock()

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

		if c.State() == conn.StateClosed {
			s.guards.Delete(c.FD())
		}
	}

	if err := s.pool.Submit(run); err != nil {
		// Pool is saturated or stopped: run inline rather than drop the
		// event, since the reactor is the only place that will ever
		// re-offer it. This briefly blocks the reactor goroutine, same
		// as the single-threaded front end, as a degrade path only.
		run()
	}
}

// Addr reports the bound listening address.
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
