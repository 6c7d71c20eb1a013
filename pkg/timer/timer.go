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

// Package timer is the one-shot timer service used for update retries and wakeup state
// timeouts.
package timer

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Handle identifies a started timer. The zero Handle is never returned.
type Handle uint64

// Service starts and cancels one-shot timers on a clock. Callbacks run on a clock
// goroutine; they must hand their work to an executor and return.
type Service struct {
	clock  clock.Clock
	mu     sync.Mutex
	next   Handle
	timers map[Handle]*clock.Timer
}

// New creates a service on c, or on the wall clock when c is nil.
func New(c clock.Clock) *Service {
	if c == nil {
		c = clock.New()
	}
	return &Service{
		clock:  c,
		timers: make(map[Handle]*clock.Timer),
	}
}

// Clock returns the underlying clock.
func (s *Service) Clock() clock.Clock {
	return s.clock
}

// StartTimer fires fn once after delay.
func (s *Service) StartTimer(delay time.Duration, fn func()) Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	h := s.next
	s.timers[h] = s.clock.AfterFunc(delay, func() {
		s.mu.Lock()
		_, live := s.timers[h]
		delete(s.timers, h)
		s.mu.Unlock()
		if live {
			fn()
		}
	})
	return h
}

// Cancel stops the timer. It reports whether the timer was still pending.
func (s *Service) Cancel(h Handle) bool {
	s.mu.Lock()
	t, ok := s.timers[h]
	delete(s.timers, h)
	s.mu.Unlock()
	if !ok {
		return false
	}
	t.Stop()
	return true
}

// Pending returns the number of timers not yet fired or cancelled.
func (s *Service) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}
