// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package conn implements the per-connection state machine driven by
// the reactor: reading into a fixed buffer, feeding bytes through a
// command parser, executing complete commands against a store, and
// draining replies back out via vectored writes.
package conn

import (
	"errors"

	"golang.org/x/sys/unix"

	"github.com/luxfi/lrucache/log"
	"github.com/luxfi/lrucache/proto"
	"github.com/luxfi/lrucache/store"
)

// readBufferCap is ReadBuffer's fixed capacity.
const readBufferCap = 4096

// State is a Connection's lifecycle phase. Transitions are monotonic:
// Open -> Draining -> Closed.
type State int

const (
	StateOpen State = iota
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Interest is the set of readiness events a Connection currently wants
// to be notified of.
type Interest uint32

const (
	InterestRead Interest = 1 << iota
	InterestWrite
	InterestErr
	InterestHup
)

// Parser is the subset of proto.Parser a Connection depends on,
// expressed as an interface so tests can substitute a stub.
type Parser interface {
	Parse(buf []byte) (consumed int, hdr *proto.Header, err error)
}

// Conn is one TCP connection's non-blocking state machine. It owns a
// raw, already-non-blocking file descriptor; the reactor is
// responsible for registering/deregistering it with the readiness
// notifier according to Interest.
type Conn struct {
	fd    int
	store store.Accessor
	parse Parser
	log   log.Logger

	state State

	readBuf  [readBufferCap]byte
	readFill int

	partial      *proto.Header
	argRemaining int
	argBuf       []byte

	writeQueue  [][]byte
	writeOffset int
}

// New wraps fd (already set non-blocking by the caller) as a
// Connection in the Open state.
func New(fd int, s store.Accessor, p Parser, lg log.Logger) *Conn {
	return &Conn{fd: fd, store: s, parse: p, log: lg, state: StateOpen}
}

func (c *Conn) FD() int      { return c.fd }
func (c *Conn) State() State { return c.state }

// Interest reports the readiness events this Connection wants,
// computed purely from its current state and queue occupancy.
func (c *Conn) Interest() Interest {
	switch c.state {
	case StateOpen:
		if len(c.writeQueue) == 0 {
			return InterestRead | InterestErr | InterestHup
		}
		return InterestRead | InterestWrite | InterestErr | InterestHup
	case StateDraining:
		if len(c.writeQueue) != 0 {
			return InterestWrite | InterestErr | InterestHup
		}
		return 0
	default:
		return 0
	}
}

// ToEpollEvents converts an Interest set to the epoll_event bitmask
// the reactor registers with EPOLL_CTL_MOD/ADD.
func ToEpollEvents(i Interest) uint32 {
	var ev uint32
	if i&InterestRead != 0 {
		ev |= unix.EPOLLIN
	}
	if i&InterestWrite != 0 {
		ev |= unix.EPOLLOUT
	}
	if i&InterestErr != 0 {
		ev |= unix.EPOLLERR
	}
	if i&InterestHup != 0 {
		ev |= unix.EPOLLRDHUP
	}
	return ev
}

// OnReadable drains the socket into ReadBuffer and runs the
// parse/execute pipeline after every read, until the kernel reports
// EAGAIN, an orderly close, or the buffer has no free capacity left.
func (c *Conn) OnReadable() {
	for c.state == StateOpen {
		free := len(c.readBuf) - c.readFill
		if free == 0 {
			return
		}
		n, err := unix.Read(c.fd, c.readBuf[c.readFill:c.readFill+free])
		if err != nil {
			if errors.Is(err, unix.EAGAIN) {
				return
			}
			c.log.Warn("connection read error", "err", err)
			c.enterDraining()
			return
		}
		if n == 0 {
			c.enterDraining()
			return
		}
		c.readFill += n
		c.drain()
	}
}

// drain repeatedly applies the parse -> accumulate-argument ->
// execute pipeline to whatever is buffered, until no step makes
// progress.
func (c *Conn) drain() {
	for c.readFill > 0 {
		progressed := false

		if c.partial == nil {
			consumed, hdr, err := c.parse.Parse(c.readBuf[:c.readFill])
			switch {
			case err != nil:
				c.enqueueReply("CLIENT_ERROR " + err.Error())
				c.shiftLeft(consumed)
				progressed = true
			case hdr == nil:
				// Not enough buffered yet for a full header line.
			default:
				c.partial = hdr
				c.argRemaining = hdr.ArgBytes
				if c.argRemaining > 0 {
					c.argRemaining += 2 // trailing CRLF after the payload
				}
				c.argBuf = c.argBuf[:0]
				c.shiftLeft(consumed)
				progressed = true
			}
		}

		if c.partial != nil && c.argRemaining > 0 {
			n := c.argRemaining
			if n > c.readFill {
				n = c.readFill
			}
			if n > 0 {
				c.argBuf = append(c.argBuf, c.readBuf[:n]...)
				c.shiftLeft(n)
				c.argRemaining -= n
				progressed = true
			}
		}

		if c.partial != nil && c.argRemaining == 0 {
			c.execute()
			progressed = true
		}

		if !progressed {
			break
		}
	}
}

// shiftLeft consumes the first n bytes of the read buffer.
func (c *Conn) shiftLeft(n int) {
	if n == 0 {
		return
	}
	copy(c.readBuf[:c.readFill-n], c.readBuf[n:c.readFill])
	c.readFill -= n
}

func (c *Conn) execute() {
	cmd := c.partial.Build()
	arg := c.argBuf
	if len(arg) >= 2 {
		arg = arg[:len(arg)-2] // strip the trailing CRLF accounted for above
	}
	reply := cmd.Execute(c.store, arg)
	c.enqueueReply(reply)

	c.partial = nil
	c.argRemaining = 0
	c.argBuf = nil
}

func (c *Conn) enqueueReply(line string) {
	c.writeQueue = append(c.writeQueue, []byte(line+"\r\n"))
}

// OnWritable attempts one vectored write of whatever is queued.
func (c *Conn) OnWritable() {
	if len(c.writeQueue) == 0 {
		c.checkDrainClose()
		return
	}

	iovs := make([][]byte, len(c.writeQueue))
	iovs[0] = c.writeQueue[0][c.writeOffset:]
	copy(iovs[1:], c.writeQueue[1:])

	n, err := unix.Writev(c.fd, iovs)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) {
			return
		}
		c.log.Warn("connection write error", "err", err)
		c.enterDraining()
		return
	}
	if n == 0 {
		c.enterDraining()
		return
	}

	c.advanceWriteCursor(int(n))
	c.checkDrainClose()
}

// advanceWriteCursor accounts for n freshly-written bytes. It pops
// fully-written queue elements, subtracting each popped element's OWN
// length from the cursor before moving to the next one — the source
// this is ported from subtracts the next element's length instead,
// an off-by-one this port avoids.
func (c *Conn) advanceWriteCursor(n int) {
	c.writeOffset += n
	for len(c.writeQueue) > 0 {
		head := c.writeQueue[0]
		if c.writeOffset < len(head) {
			return
		}
		c.writeOffset -= len(head)
		c.writeQueue = c.writeQueue[1:]
	}
}

func (c *Conn) OnError()  { c.enterDraining() }
func (c *Conn) OnHangup() { c.enterDraining() }

// Shutdown forces Open -> Draining on the server's own initiative (a
// reactor stopping its accept loop, say), rather than in response to
// an I/O event. Any already-queued replies still flush; no further
// reads happen.
func (c *Conn) Shutdown() { c.enterDraining() }

func (c *Conn) enterDraining() {
	if c.state == StateOpen {
		c.state = StateDraining
	}
	c.checkDrainClose()
}

// checkDrainClose implements "Draining with an empty write queue
// transitions to Closed immediately:" it is invoked right after every
// event that could have emptied the queue or entered Draining.
func (c *Conn) checkDrainClose() {
	if c.state == StateDraining && len(c.writeQueue) == 0 {
		c.close()
	}
}

func (c *Conn) close() {
	if c.state == StateClosed {
		return
	}
	c.state = StateClosed
	_ = unix.Close(c.fd)
}
