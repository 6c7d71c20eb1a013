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

package adapter

import (
	"errors"
	"sync"
	"time"

	"github.com/srediag/plugin-voice/api"
)

var (
	ErrCapturerRunning = errors.New("capturer already running")
	ErrSimStart        = errors.New("simulated capturer start failure")
)

// SimCapturer is an api.Capturer. With a zero Interval it only delivers what Feed
// pushes; otherwise a goroutine delivers Frame every Interval.
type SimCapturer struct {
	Interval time.Duration
	Frame    func(bufferSize, channels uint32) []byte

	mu        sync.RWMutex
	onBuffer  api.BufferFunc
	running   bool
	channels  uint32
	failStart bool
	starts    int
	stops     int
	stop      chan struct{}
	wg        sync.WaitGroup
}

// FailStart makes Start fail.
func (c *SimCapturer) FailStart(fail bool) {
	c.mu.Lock()
	c.failStart = fail
	c.mu.Unlock()
}

func (c *SimCapturer) Start(bufferSize uint32, channels uint32, onBuffer api.BufferFunc) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failStart {
		return ErrSimStart
	}
	if c.running {
		return ErrCapturerRunning
	}
	c.onBuffer = onBuffer
	c.channels = channels
	c.running = true
	c.starts++
	c.stop = make(chan struct{})
	if c.Interval > 0 {
		frame := c.Frame
		if frame == nil {
			frame = func(size, _ uint32) []byte { return make([]byte, size) }
		}
		c.wg.Add(1)
		go c.loop(c.stop, func() []byte { return frame(bufferSize, channels) })
	}
	return nil
}

func (c *SimCapturer) loop(stop <-chan struct{}, next func() []byte) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.Feed(next(), false)
		}
	}
}

// Stop joins the capture goroutine. No callback runs after it returns.
func (c *SimCapturer) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	c.onBuffer = nil
	c.stops++
	stop := c.stop
	c.mu.Unlock()
	close(stop)
	c.wg.Wait()
	return nil
}

// Feed delivers buf to the running consumer. It reports false when stopped.
func (c *SimCapturer) Feed(buf []byte, isEnd bool) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.running || c.onBuffer == nil {
		return false
	}
	c.onBuffer(buf, isEnd)
	return true
}

// Running reports whether capture is active.
func (c *SimCapturer) Running() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running
}

// Channels returns the channel count of the last Start.
func (c *SimCapturer) Channels() uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channels
}

// Starts returns the number of successful starts.
func (c *SimCapturer) Starts() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.starts
}

// Stops returns the number of stops of a running capture.
func (c *SimCapturer) Stops() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stops
}
