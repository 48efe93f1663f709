// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package pool implements the elastic worker pool shared by the
// multi-threaded front end: a bounded task queue served by a thread
// count that grows toward a high watermark under load and decays back
// toward a low watermark once workers sit idle past a timeout.
package pool

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/luxfi/lrucache/log"
	"github.com/luxfi/lrucache/metrics"
)

// ErrStopped is returned by Submit once the pool has left Running.
var ErrStopped = errors.New("pool: stopped")

// ErrQueueFull is returned by Submit when the task queue is at
// capacity; Submit never blocks to wait for room.
var ErrQueueFull = errors.New("pool: queue full")

// Task is a unit of work run by a pool worker. A panicking Task is
// contained by the worker loop and logged, never allowed to take down
// the worker or the pool.
type Task func()

type state int

const (
	stateRunning state = iota
	stateStopping
	stateStopped
)

// Config bounds the pool's elasticity.
type Config struct {
	Low          int           // permanent worker count; never retires below this
	High         int           // worker ceiling; never spawns above this
	MaxQueueSize int           // Submit fails once this many tasks are queued
	IdleTimeout  time.Duration // a worker above Low retires after this much idle wait
}

// Pool is the elastic worker pool. All shared state — queue, state,
// counters, and the worker handle map — is guarded by mu; nothing
// reads or mutates it outside that lock, including the loop condition
// each worker evaluates (a known failure mode in the pool this is
// modeled on: reading `state` unlocked there let a worker race past
// the stop transition).
type Pool struct {
	cfg Config
	log log.Logger

	mu         sync.Mutex
	cond       *sync.Cond // signaled on: new task, stop, worker exit (quiescence)
	st         state
	queue      []Task
	workers    map[uint64]*workerHandle
	nextWorker uint64
	busy       int

	threadsTotal prometheus.Gauge
	busyThreads  prometheus.Gauge
	idleThreads  prometheus.Gauge
	queueDepth   prometheus.Gauge
	submitted    prometheus.Counter
	rejected     prometheus.Counter
	panics       prometheus.Counter
}

type workerHandle struct {
	done chan struct{}
}

// New creates a Pool and starts its Low permanent workers.
func New(cfg Config, lg log.Logger, m *metrics.Component) *Pool {
	if cfg.Low <= 0 || cfg.High < cfg.Low || cfg.MaxQueueSize < 1 {
		panic("pool: invalid configuration")
	}
	p := &Pool{
		cfg:     cfg,
		log:     lg,
		workers: make(map[uint64]*workerHandle),

		threadsTotal: m.Gauge("threads_total", "Current worker goroutine count."),
		busyThreads:  m.Gauge("busy_threads", "Workers currently running a task."),
		idleThreads:  m.Gauge("idle_threads", "Workers currently waiting for a task."),
		queueDepth:   m.Gauge("queue_depth", "Tasks currently queued."),
		submitted:    m.Counter("submitted_total", "Tasks accepted by Submit."),
		rejected:     m.Counter("rejected_total", "Tasks refused by Submit."),
		panics:       m.Counter("task_panics_total", "Tasks that panicked."),
	}
	p.cond = sync.NewCond(&p.mu)

	p.mu.Lock()
	defer p.mu.Unlock()
	for i := 0; i < cfg.Low; i++ {
		p.spawnLocked()
	}
	return p
}

// Submit enqueues task for execution. It never blocks: it reports
// ErrStopped once the pool is no longer Running, and ErrQueueFull once
// the queue is at MaxQueueSize. After a successful enqueue it spawns
// one more worker if there's room to grow and none are idle.
func (p *Pool) Submit(task Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.st != stateRunning {
		p.rejected.Inc()
		return ErrStopped
	}
	if len(p.queue) >= p.cfg.MaxQueueSize {
		p.rejected.Inc()
		return ErrQueueFull
	}

	p.queue = append(p.queue, task)
	p.queueDepth.Set(float64(len(p.queue)))
	p.submitted.Inc()

	if p.idleCountLocked() == 0 && len(p.workers) < p.cfg.High {
		p.spawnLocked()
	}
	p.cond.Signal()
	return nil
}

func (p *Pool) idleCountLocked() int { return len(p.workers) - p.busy }

func (p *Pool) spawnLocked() {
	id := p.nextWorker
	p.nextWorker++
	h := &workerHandle{done: make(chan struct{})}
	p.workers[id] = h
	p.threadsTotal.Set(float64(len(p.workers)))
	p.idleThreads.Set(float64(p.idleCountLocked()))
	go p.runWorker(id, h)
}

// Stop transitions Running -> Stopping and wakes every worker so they
// drain the remaining queue and exit. If await, it blocks until the
// queue is empty and no worker remains. Idempotent.
func (p *Pool) Stop(await bool) {
	p.mu.Lock()
	if p.st == stateRunning {
		p.st = stateStopping
		p.cond.Broadcast()
	}
	p.mu.Unlock()

	if !await {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for !(len(p.queue) == 0 && p.busy == 0 && len(p.workers) == 0) {
		p.cond.Wait()
	}
	p.st = stateStopped
}

// Stats is a point-in-time snapshot of the pool's counters.
type Stats struct {
	ThreadsTotal int
	BusyThreads  int
	IdleThreads  int
	QueueDepth   int
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		ThreadsTotal: len(p.workers),
		BusyThreads:  p.busy,
		IdleThreads:  p.idleCountLocked(),
		QueueDepth:   len(p.queue),
	}
}

// runWorker is the body of one worker goroutine. All reads of st,
// queue, and busy happen under p.mu; there is no unlocked peek at pool
// state anywhere in this loop.
func (p *Pool) runWorker(id uint64, h *workerHandle) {
	defer close(h.done)

	for {
		p.mu.Lock()
		for len(p.queue) == 0 && p.st == stateRunning {
			if !p.waitWithTimeout(p.cfg.IdleTimeout) {
				// Timed out. Retirement above Low is elastic; at or
				// below Low, a worker waits indefinitely instead.
				if len(p.workers) > p.cfg.Low {
					p.retireLocked(id)
					p.mu.Unlock()
					return
				}
			}
		}

		if p.st != stateRunning && len(p.queue) == 0 {
			p.retireLocked(id)
			p.mu.Unlock()
			return
		}

		task := p.queue[0]
		p.queue = p.queue[1:]
		p.queueDepth.Set(float64(len(p.queue)))
		p.busy++
		p.busyThreads.Set(float64(p.busy))
		p.idleThreads.Set(float64(p.idleCountLocked()))
		p.mu.Unlock()

		p.runTask(task)

		p.mu.Lock()
		p.busy--
		p.busyThreads.Set(float64(p.busy))
		p.idleThreads.Set(float64(p.idleCountLocked()))
		if p.st == stateStopping && len(p.queue) == 0 && p.busy == 0 {
			p.cond.Broadcast() // quiescence
		}
		p.mu.Unlock()
	}
}

func (p *Pool) runTask(task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.panics.Inc()
			p.log.Error("worker task panicked", "recovered", r)
		}
	}()
	task()
}

// retireLocked removes this worker's own handle from the map before
// exiting — the source this is modeled on erased a worker from its
// thread list while another goroutine was still iterating it to join,
// racing a use-after-erase. Removing only one's own entry, under the
// same lock every other mutation holds, avoids that.
func (p *Pool) retireLocked(id uint64) {
	delete(p.workers, id)
	p.threadsTotal.Set(float64(len(p.workers)))
	p.idleThreads.Set(float64(p.idleCountLocked()))
	if p.st == stateStopping && len(p.queue) == 0 && p.busy == 0 && len(p.workers) == 0 {
		p.cond.Broadcast()
	}
}

// waitWithTimeout waits on p.cond for up to d, returning false if it
// woke because d elapsed rather than because someone signaled. Cond
// has no native timed wait, so this arms a timer that broadcasts on
// expiry, the standard way around that gap.
func (p *Pool) waitWithTimeout(d time.Duration) (signaled bool) {
	timer := time.AfterFunc(d, func() {
		p.mu.Lock()
		p.cond.Broadcast()
		p.mu.Unlock()
	})
	p.cond.Wait()
	return timer.Stop()
}
