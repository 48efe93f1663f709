// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package reactor drives a set of Connections from a single epoll
// instance: a single-threaded cooperative loop that blocks only inside
// epoll_wait, accepts new connections off the listening socket, and
// hands readiness events to a caller-supplied Dispatch for execution.
package reactor

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/luxfi/lrucache/conn"
	"github.com/luxfi/lrucache/log"
)

// Events is the readiness-event set epoll reported for one fd.
type Events struct {
	Readable, Writable, Err, Hup bool
}

// Resync reconciles a Connection's epoll registration with whatever
// its Interest is by the time this is called. Dispatch implementations
// must call it exactly once per event, after the Connection's handlers
// have finished running — synchronously for an inline dispatch,
// or from whichever goroutine finishes running them for an
// off-reactor-thread one. Resync is safe to call from any goroutine.
type Resync func(c *conn.Conn)

// Dispatch runs a Connection's handlers for one readiness event and
// calls resync once done. The single-threaded front end calls the
// Connection's methods and resync inline, never leaving the reactor
// goroutine. The multi-threaded front end hands the work to a worker
// pool instead, so the reactor goroutine isn't blocked waiting for a
// potentially slow command to finish — ensuring only one worker at a
// time touches a given Connection is the dispatcher's job, not the
// reactor's.
type Dispatch func(c *conn.Conn, ev Events, resync Resync)

// pollTimeoutMillis bounds how long epoll_wait blocks before the loop
// re-checks ctx, so shutdown is noticed promptly even with no traffic.
const pollTimeoutMillis = 100

// Reactor owns one epoll instance, the listening socket, and the set
// of Connections currently registered against it. mu guards conns and
// the epoll registration calls so Resync can be invoked safely from a
// worker-pool goroutine concurrently with the reactor's own goroutine.
type Reactor struct {
	epfd     int
	listenFD int
	log      log.Logger
	newConn  func(fd int) *conn.Conn
	dispatch Dispatch

	mu    sync.Mutex
	conns map[int]*conn.Conn
}

// New creates a Reactor over an already-bound, already-listening,
// non-blocking listenFD. newConn builds a Connection for each accepted
// socket; dispatch runs its event handlers.
func New(listenFD int, lg log.Logger, newConn func(fd int) *conn.Conn, dispatch Dispatch) (*Reactor, error) {
	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		return nil, err
	}
	r := &Reactor{
		epfd:     epfd,
		listenFD: listenFD,
		log:      lg,
		newConn:  newConn,
		dispatch: dispatch,
		conns:    make(map[int]*conn.Conn),
	}
	ev := &unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(listenFD)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, listenFD, ev); err != nil {
		unix.Close(epfd)
		return nil, err
	}
	return r, nil
}

// Run blocks, servicing readiness events, until ctx is canceled. On
// cancellation it stops accepting new connections immediately, but
// keeps running existing Connections until each has flushed and
// closed itself, then returns.
func (r *Reactor) Run(ctx context.Context) error {
	events := make([]unix.EpollEvent, 128)
	draining := false

	for {
		if !draining {
			select {
			case <-ctx.Done():
				draining = true
				r.beginShutdown()
			default:
			}
		}
		if draining && r.connCount() == 0 {
			return nil
		}

		n, err := unix.EpollWait(r.epfd, events, pollTimeoutMillis)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return err
		}

		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			if fd == r.listenFD {
				if !draining {
					r.acceptLoop()
				}
				continue
			}
			c, ok := r.lookup(fd)
			if !ok {
				continue
			}
			r.dispatch(c, toEvents(events[i].Events), r.Resync)
		}
	}
}

func toEvents(mask uint32) Events {
	return Events{
		Readable: mask&unix.EPOLLIN != 0,
		Writable: mask&unix.EPOLLOUT != 0,
		Err:      mask&unix.EPOLLERR != 0,
		Hup:      mask&(unix.EPOLLRDHUP|unix.EPOLLHUP) != 0,
	}
}

func (r *Reactor) connCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

func (r *Reactor) lookup(fd int) (*conn.Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[fd]
	return c, ok
}

func (r *Reactor) beginShutdown() {
	_ = unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, r.listenFD, nil)
	_ = unix.Close(r.listenFD)

	r.mu.Lock()
	live := make([]*conn.Conn, 0, len(r.conns))
	for _, c := range r.conns {
		live = append(live, c)
	}
	r.mu.Unlock()

	for _, c := range live {
		c.Shutdown()
		r.Resync(c)
	}
}

// acceptLoop drains the listening socket's backlog until it would
// block, registering each new connection with the epoll instance.
func (r *Reactor) acceptLoop() {
	for {
		nfd, _, err := unix.Accept(r.listenFD)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) {
				return
			}
			r.log.Warn("accept error", "err", err)
			return
		}
		if err := unix.SetNonblock(nfd, true); err != nil {
			r.log.Warn("failed to set accepted socket non-blocking", "err", err)
			_ = unix.Close(nfd)
			continue
		}
		r.Resync(r.newConn(nfd))
	}
}

// Resync reconciles c's epoll registration with its current Interest,
// deregistering and forgetting it once Closed. Safe for concurrent use
// across Connections; callers must still serialize their own calls for
// the SAME Connection (the per-Connection guard each front end already
// holds across handler execution does this).
func (r *Reactor) Resync(c *conn.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c.State() == conn.StateClosed {
		delete(r.conns, c.FD())
		_ = unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, c.FD(), nil)
		return
	}

	op := unix.EPOLL_CTL_MOD
	if _, tracked := r.conns[c.FD()]; !tracked {
		op = unix.EPOLL_CTL_ADD
		r.conns[c.FD()] = c
	}
	ev := &unix.EpollEvent{Events: conn.ToEpollEvents(c.Interest()), Fd: int32(c.FD())}
	if err := unix.EpollCtl(r.epfd, op, c.FD(), ev); err != nil {
		r.log.Warn("epoll_ctl failed", "err", err)
	}
}

// Close releases the epoll file descriptor. Call after Run returns.
func (r *Reactor) Close() error {
	return unix.Close(r.epfd)
}
