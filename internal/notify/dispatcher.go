/*
 * Copyright 2025 SREDiag Authors
 * Copyright 2023 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package notify delivers caller-facing callbacks off the executor goroutine while keeping
// their order.
package notify

import (
	"errors"
	"sync/atomic"

	queuepkg "github.com/Workiva/go-datastructures/queue"
	"github.com/panjf2000/ants/v2"

	"github.com/srediag/plugin-voice/internal/logger"
)

var log = logger.New("notify")

// NewPool creates the worker pool shared by dispatchers. Submitting to a saturated pool
// fails instead of waiting for a worker.
func NewPool(workers int) (*ants.Pool, error) {
	if workers <= 0 {
		workers = 1
	}
	return ants.NewPool(workers,
		ants.WithNonblocking(true),
		ants.WithPanicHandler(func(v interface{}) {
			log.Errorf("callback panic: %v", v)
		}))
}

// Dispatcher runs callbacks one at a time in submission order on a pool worker. Go never
// blocks, so a callback may call back into the core without deadlocking it. When every
// pool worker is busy the drain runs on its own goroutine.
type Dispatcher struct {
	name     string
	pool     *ants.Pool
	pending  *queuepkg.Queue
	draining atomic.Bool
}

// NewDispatcher creates a dispatcher on pool.
func NewDispatcher(name string, pool *ants.Pool) *Dispatcher {
	return &Dispatcher{
		name:    name,
		pool:    pool,
		pending: queuepkg.New(16),
	}
}

// Go queues fn. Callbacks queued after Close are dropped.
func (d *Dispatcher) Go(fn func()) {
	if fn == nil {
		return
	}
	if err := d.pending.Put(fn); err != nil {
		log.Warnf("%s closed, drop callback", d.name)
		return
	}
	d.kick()
}

// Idle reports whether no callback is queued or running.
func (d *Dispatcher) Idle() bool {
	return d.pending.Empty() && !d.draining.Load()
}

// Close drops queued callbacks. A callback already running finishes.
func (d *Dispatcher) Close() {
	d.pending.Dispose()
}

func (d *Dispatcher) kick() {
	if !d.draining.CompareAndSwap(false, true) {
		return
	}
	err := d.pool.Submit(d.drain)
	switch {
	case err == nil:
	case errors.Is(err, ants.ErrPoolOverload):
		go d.drain()
	default:
		d.draining.Store(false)
		log.Warnf("%s submit drain failed: %v", d.name, err)
	}
}

func (d *Dispatcher) drain() {
	for {
		for !d.pending.Empty() {
			items, err := d.pending.Get(1)
			if err != nil {
				d.draining.Store(false)
				return
			}
			d.run(items[0].(func()))
		}
		d.draining.Store(false)
		if d.pending.Empty() || !d.draining.CompareAndSwap(false, true) {
			return
		}
	}
}

func (d *Dispatcher) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("%s callback panic: %v", d.name, r)
		}
	}()
	fn()
}
