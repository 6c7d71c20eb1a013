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

// Package executor implements the single worker FIFO through which every mutation of
// engine state flows.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	queuepkg "github.com/Workiva/go-datastructures/queue"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/srediag/plugin-voice/internal/logger"
	"github.com/srediag/plugin-voice/internal/metrics"
)

const defaultCapacity = 2048

var (
	// ErrQueueFull is returned when the executor already holds Capacity pending tasks.
	ErrQueueFull = errors.New("executor queue is full")
	// ErrExecutorStopped is returned for submissions after Stop and to sync callers whose
	// task was discarded by Stop.
	ErrExecutorStopped = errors.New("executor stopped")
)

var log = logger.New("executor")

// Config tunes an executor.
type Config struct {
	// Name labels the worker thread and log lines. Linux keeps the first 15 bytes.
	Name string
	// Capacity bounds the number of pending tasks.
	Capacity int
	// Metrics receives the task counter and queue depth. Nil creates a private set.
	Metrics *metrics.Metrics
	// Meter records task durations. Nil uses a noop meter.
	Meter metric.Meter
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:     "voice_executor",
		Capacity: defaultCapacity,
	}
}

type task struct {
	fn   func()
	done chan error
}

// Executor runs submitted closures one at a time, in submission order, on one dedicated
// goroutine locked to its own OS thread.
type Executor struct {
	name     string
	capacity int64
	tasks    *queuepkg.Queue
	putMu    sync.Mutex
	done     chan struct{}
	tid      atomic.Int64
	started  atomic.Bool
	stopped  atomic.Bool
	stopOnce sync.Once

	metrics  *metrics.Metrics
	duration metric.Float64Histogram
	attrs    metric.MeasurementOption
}

// New creates a stopped executor. A nil config uses DefaultConfig.
func New(config *Config) *Executor {
	if config == nil {
		config = DefaultConfig()
	}
	capacity := config.Capacity
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	meter := config.Meter
	if meter == nil {
		meter = noop.NewMeterProvider().Meter("voice/executor")
	}
	duration, err := meter.Float64Histogram("executor.task.duration",
		metric.WithUnit("s"),
		metric.WithDescription("Time spent running one executor task."))
	if err != nil {
		log.Warnf("create duration histogram failed: %v", err)
		duration, _ = noop.NewMeterProvider().Meter("voice/executor").Float64Histogram("executor.task.duration")
	}
	e := &Executor{
		name:     config.Name,
		capacity: int64(capacity),
		tasks:    queuepkg.New(int64(capacity)),
		done:     make(chan struct{}),
		metrics:  metrics.OrNew(config.Metrics),
		duration: duration,
		attrs:    metric.WithAttributes(attribute.String("executor", config.Name)),
	}
	e.tid.Store(-1)
	return e
}

// Start launches the worker. Calling it twice is a no-op.
func (e *Executor) Start() {
	if !e.started.CompareAndSwap(false, true) {
		return
	}
	ready := make(chan struct{})
	go e.loop(ready)
	<-ready
}

// Stop discards pending tasks, releases their sync callers with ErrExecutorStopped and
// waits for the running task to finish. It must not be called from a task.
func (e *Executor) Stop() {
	e.stopOnce.Do(func() {
		e.stopped.Store(true)
		for _, item := range e.tasks.Dispose() {
			if t, ok := item.(*task); ok && t.done != nil {
				t.done <- ErrExecutorStopped
			}
		}
		if e.started.Load() {
			<-e.done
		}
		log.Infof("%s stopped", e.name)
	})
}

// Alive reports whether the worker is running.
func (e *Executor) Alive() bool {
	return e.started.Load() && !e.stopped.Load()
}

// Len returns the number of pending tasks.
func (e *Executor) Len() int {
	return int(e.tasks.Len())
}

// InWorker reports whether the caller runs on the worker goroutine.
func (e *Executor) InWorker() bool {
	tid := e.tid.Load()
	return tid >= 0 && tid == currentThreadID()
}

// Submit queues fn without waiting for it.
func (e *Executor) Submit(fn func()) error {
	return e.put(&task{fn: fn})
}

// SubmitSync queues fn and blocks until the worker has run it. Called from the worker
// itself it runs fn inline, keeping FIFO semantics for the caller.
func (e *Executor) SubmitSync(fn func()) error {
	return e.SubmitSyncContext(context.Background(), fn)
}

// SubmitSyncContext is SubmitSync bounded by ctx. When ctx ends first the task stays
// queued and still runs.
func (e *Executor) SubmitSyncContext(ctx context.Context, fn func()) error {
	if e.InWorker() {
		return e.run(&task{fn: fn})
	}
	t := &task{fn: fn, done: make(chan error, 1)}
	if err := e.put(t); err != nil {
		return err
	}
	select {
	case err := <-t.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Call runs fn on the executor and returns its results.
func Call[T any](e *Executor, fn func() (T, error)) (T, error) {
	var (
		v    T
		ferr error
	)
	if err := e.SubmitSync(func() { v, ferr = fn() }); err != nil {
		var zero T
		return zero, err
	}
	return v, ferr
}

func (e *Executor) put(t *task) error {
	if t.fn == nil {
		return fmt.Errorf("%s: nil task", e.name)
	}
	if e.stopped.Load() || !e.started.Load() {
		return ErrExecutorStopped
	}
	e.putMu.Lock()
	if e.tasks.Len() >= e.capacity {
		e.putMu.Unlock()
		log.Warnf("%s queue full, len:%d", e.name, e.tasks.Len())
		return ErrQueueFull
	}
	err := e.tasks.Put(t)
	e.putMu.Unlock()
	if err != nil {
		return ErrExecutorStopped
	}
	e.metrics.ExecutorQueueDepth.Set(float64(e.tasks.Len()))
	return nil
}

func (e *Executor) loop(ready chan<- struct{}) {
	defer close(e.done)
	e.tid.Store(lockWorkerThread(e.name))
	close(ready)
	for {
		items, err := e.tasks.Get(1)
		if err != nil {
			return
		}
		e.metrics.ExecutorQueueDepth.Set(float64(e.tasks.Len()))
		for _, item := range items {
			t := item.(*task)
			err := e.run(t)
			if t.done != nil {
				t.done <- err
			}
		}
	}
}

func (e *Executor) run(t *task) (err error) {
	begin := time.Now()
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("%s task panic: %v", e.name, r)
			err = fmt.Errorf("%s: task panic: %v", e.name, r)
		}
		e.metrics.ExecutorTasks.Inc()
		e.duration.Record(context.Background(), time.Since(begin).Seconds(), e.attrs)
	}()
	t.fn()
	return nil
}
