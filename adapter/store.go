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
	"sync"

	evbus "github.com/asaskevich/EventBus"
	cmap "github.com/orcaman/concurrent-map/v2"
)

// MemoryHistory is an in-memory api.HistoryStore.
type MemoryHistory struct {
	m cmap.ConcurrentMap[string, string]
}

// NewMemoryHistory creates an empty history.
func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{m: cmap.New[string]()}
}

func (h *MemoryHistory) Get(key string) (string, bool) {
	return h.m.Get(key)
}

func (h *MemoryHistory) Set(key, value string) error {
	h.m.Set(key, value)
	return nil
}

func (h *MemoryHistory) Delete(key string) error {
	h.m.Remove(key)
	return nil
}

// Len returns the number of stored keys.
func (h *MemoryHistory) Len() int {
	return h.m.Count()
}

// MemorySwitches is an in-memory api.SwitchStore. Changes are published on an event bus
// and observers run on the bus goroutine, one change at a time per key.
type MemorySwitches struct {
	values cmap.ConcurrentMap[string, bool]
	bus    evbus.Bus

	mu       sync.Mutex
	nextID   uint64
	watchers map[string]map[uint64]func(string)
}

// NewMemorySwitches creates a store with every switch off.
func NewMemorySwitches() *MemorySwitches {
	return &MemorySwitches{
		values:   cmap.New[bool](),
		bus:      evbus.New(),
		watchers: make(map[string]map[uint64]func(string)),
	}
}

func topic(key string) string {
	return "switch:" + key
}

func (s *MemorySwitches) QuerySwitchStatus(key string) bool {
	on, _ := s.values.Get(key)
	return on
}

// Set changes a switch and notifies its observers.
func (s *MemorySwitches) Set(key string, on bool) {
	s.values.Set(key, on)
	s.bus.Publish(topic(key), key)
}

func (s *MemorySwitches) Watch(key string, fn func(key string)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	ws, ok := s.watchers[key]
	if !ok {
		ws = make(map[uint64]func(string))
		s.watchers[key] = ws
		if err := s.bus.SubscribeAsync(topic(key), s.fanout, true); err != nil {
			log.Warnf("subscribe %s failed: %v", key, err)
		}
	}
	s.nextID++
	id := s.nextID
	ws[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.watchers[key], id)
		s.mu.Unlock()
	}
}

// WaitAsync blocks until every published change was delivered.
func (s *MemorySwitches) WaitAsync() {
	s.bus.WaitAsync()
}

func (s *MemorySwitches) fanout(key string) {
	s.mu.Lock()
	fns := make([]func(string), 0, len(s.watchers[key]))
	for _, fn := range s.watchers[key] {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(key)
	}
}
