// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package server defines the control surface shared by this module's
// three network front ends (blocking, single-threaded non-blocking,
// multi-threaded non-blocking). Each front end implements Server
// against the same storage backend and wire protocol, trading off
// concurrency model for implementation complexity the way the system
// they're modeled on does.
package server

// Server is the control surface every front end exposes.
type Server interface {
	// Start begins serving on port. acceptors is the number of
	// concurrent accept-path goroutines (front ends that don't use
	// more than one treat it as a minimum of 1); workers bounds
	// command-processing concurrency, meaning differs per front end
	// (a semaphore's width for blocking, a reactor-dispatch pool's
	// size for mt_nonblocking).
	Start(port, acceptors, workers int) error

	// Stop begins shutdown: no new connections are accepted, and
	// in-flight commands on existing connections are allowed to
	// finish and flush their replies. Stop does not block.
	Stop()

	// Join blocks until the server has fully shut down after Stop.
	Join()
}
