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

// Package update runs update jobs on the UPDATE engine: priority arbitration between
// jobs, bounded retries and the watchdog that turns a silent driver into a timeout.
package update

import (
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/srediag/plugin-voice/api"
	"github.com/srediag/plugin-voice/internal/logger"
	"github.com/srediag/plugin-voice/internal/metrics"
	"github.com/srediag/plugin-voice/pkg/timer"
)

// DefaultRetryDelay is both the attempt watchdog and the pause between attempts.
const DefaultRetryDelay = 30 * time.Second

// ErrLowPriority is returned when a running update has equal or higher priority.
var ErrLowPriority = fmt.Errorf("running update has equal or higher priority: %w", api.ErrArbitrationRejected)

var log = logger.New("update")

// State is the controller phase.
type State int

const (
	Idle State = iota
	Running
	RetryWait
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Running:
		return "RUNNING"
	case RetryWait:
		return "RETRY_WAIT"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Host owns the UPDATE engine the controller drives.
type Host interface {
	CreateUpdateEngine(param string) error
	ReleaseUpdateEngine()
}

// Submitter hands a task to the executor.
type Submitter interface {
	Submit(fn func()) error
}

type Config struct {
	RetryDelay time.Duration
	Metrics    *metrics.Metrics
	// OnFinished is called after the last attempt of a job that was not cancelled.
	OnFinished func(result api.UpdateResult)
}

// Controller must only be used from the executor goroutine. Timer fires are submitted
// back to it.
type Controller struct {
	host    Host
	exec    Submitter
	timers  *timer.Service
	delay   time.Duration
	metrics *metrics.Metrics
	finish  func(api.UpdateResult)

	state    State
	strategy Strategy
	budget   backoff.BackOff
	attempts int
	timer    timer.Handle
	gen      uint64
}

// New creates an idle controller.
func New(config *Config, host Host, exec Submitter, timers *timer.Service) *Controller {
	if config == nil {
		config = &Config{}
	}
	delay := config.RetryDelay
	if delay <= 0 {
		delay = DefaultRetryDelay
	}
	if timers == nil {
		timers = timer.New(nil)
	}
	return &Controller{
		host:    host,
		exec:    exec,
		timers:  timers,
		delay:   delay,
		metrics: metrics.OrNew(config.Metrics),
		finish:  config.OnFinished,
	}
}

func (c *Controller) State() State {
	return c.state
}

// Updating reports whether a job is running or waiting for its next attempt.
func (c *Controller) Updating() bool {
	return c.state != Idle
}

// Strategy returns the current job, nil when idle.
func (c *Controller) Strategy() Strategy {
	return c.strategy
}

// Attempts returns the number of attempts started for the current job.
func (c *Controller) Attempts() int {
	return c.attempts
}

// Request starts s. A running job of lower priority is cancelled first.
func (c *Controller) Request(s Strategy) error {
	if s == nil {
		return fmt.Errorf("nil strategy: %w", api.ErrInvalidParam)
	}
	if c.Updating() && s.Priority() <= c.strategy.Priority() {
		log.Infof("reject %T, running %T has priority %d >= %d", s, c.strategy, c.strategy.Priority(), s.Priority())
		c.metrics.UpdateRequests.WithLabelValues("rejected").Inc()
		return ErrLowPriority
	}
	if s.Restrained() {
		log.Infof("%T restrained, no need to update", s)
		c.metrics.UpdateRequests.WithLabelValues("restrained").Inc()
		return api.ErrUpdateRestrained
	}
	if c.Updating() {
		log.Infof("%T preempts %T", s, c.strategy)
		c.metrics.UpdateRequests.WithLabelValues("preempted").Inc()
		c.abort()
	}
	if err := c.host.CreateUpdateEngine(s.Param()); err != nil {
		c.metrics.UpdateRequests.WithLabelValues("failed").Inc()
		return fmt.Errorf("create update engine: %w", err)
	}
	limit := s.RetryLimit()
	if limit < 1 {
		limit = 1
	}
	c.strategy = s
	c.budget = backoff.WithMaxRetries(backoff.NewConstantBackOff(c.delay), uint64(limit-1))
	c.attempts = 1
	c.state = Running
	c.arm(c.delay)
	c.metrics.UpdateRequests.WithLabelValues("accepted").Inc()
	log.Infof("update %T started, param:%s limit:%d", s, s.Param(), limit)
	return nil
}

// OnUpdateComplete records the result of the running attempt. A completion for another
// param or outside RUNNING is ignored.
func (c *Controller) OnUpdateComplete(result api.UpdateResult, param string) {
	if c.state != Running || c.strategy.Param() != param {
		log.Warnf("ignore update complete %s, param:%s state:%s", result, param, c.state)
		return
	}
	c.complete(result)
}

// Cancel ends the current job with UpdateCancelled. It reports whether a job was
// running.
func (c *Controller) Cancel() bool {
	if !c.Updating() {
		return false
	}
	log.Infof("cancel update %T", c.strategy)
	c.abort()
	return true
}

func (c *Controller) abort() {
	s := c.strategy
	c.disarm()
	c.reset()
	c.host.ReleaseUpdateEngine()
	c.metrics.UpdateAttempts.WithLabelValues(api.UpdateCancelled.String()).Inc()
	s.OnComplete(api.UpdateCancelled, true)
}

func (c *Controller) complete(result api.UpdateResult) {
	c.disarm()
	c.metrics.UpdateAttempts.WithLabelValues(result.String()).Inc()
	s := c.strategy
	next := c.budget.NextBackOff()
	isLast := result == api.UpdateSuccess || next == backoff.Stop
	c.host.ReleaseUpdateEngine()
	if isLast {
		c.reset()
		log.Infof("update %T finished, result:%s attempts:%d", s, result, c.attempts)
	} else {
		c.state = RetryWait
		c.arm(next)
		log.Infof("update %T attempt %d %s, retry in %s", s, c.attempts, result, next)
	}
	s.OnComplete(result, isLast)
	if isLast && c.finish != nil {
		c.finish(result)
	}
}

func (c *Controller) retry() {
	s := c.strategy
	if s.Restrained() {
		log.Infof("%T restrained, stop retrying", s)
		c.reset()
		s.OnComplete(api.UpdateCancelled, true)
		return
	}
	c.attempts++
	if err := c.host.CreateUpdateEngine(s.Param()); err != nil {
		log.Warnf("retry %d create failed: %v", c.attempts, err)
		c.state = Running
		c.complete(api.UpdateFailed)
		return
	}
	c.state = Running
	c.arm(c.delay)
}

func (c *Controller) onTimer(gen uint64) {
	if gen != c.gen {
		return
	}
	c.timer = 0
	switch c.state {
	case Running:
		log.Warnf("update attempt %d timed out", c.attempts)
		c.complete(api.UpdateTimeout)
	case RetryWait:
		c.retry()
	}
}

func (c *Controller) arm(d time.Duration) {
	c.gen++
	gen := c.gen
	c.timer = c.timers.StartTimer(d, func() {
		if err := c.exec.Submit(func() { c.onTimer(gen) }); err != nil {
			log.Debugf("drop update timer: %v", err)
		}
	})
}

func (c *Controller) disarm() {
	if c.timer != 0 {
		c.timers.Cancel(c.timer)
		c.timer = 0
	}
	c.gen++
}

func (c *Controller) reset() {
	c.disarm()
	c.state = Idle
	c.strategy = nil
	c.budget = nil
	c.attempts = 0
}
