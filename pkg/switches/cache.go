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

// Package switches caches the user switches that gate wakeup and tracks the trigger
// detectors started on their behalf.
package switches

import (
	"sync"

	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/srediag/plugin-voice/api"
	"github.com/srediag/plugin-voice/internal/logger"
)

const (
	WakeupKey    = "intell_voice_trigger_enabled"
	WhisperKey   = "intell_voice_trigger_whisper"
	ImproveKey   = "intell_voice_improve_enabled"
	ShortWordKey = "intell_voice_trigger_shortword"
)

// Keys are the switches observed by the service.
var Keys = []string{WakeupKey, WhisperKey, ImproveKey, ShortWordKey}

var log = logger.New("switches")

// Submitter hands a task to an executor.
type Submitter interface {
	Submit(fn func()) error
}

// Cache is a read-through cache over a switch store.
type Cache struct {
	store  api.SwitchStore
	values cmap.ConcurrentMap[string, bool]

	mu      sync.Mutex
	cancels []func()
}

// NewCache wraps store.
func NewCache(store api.SwitchStore) *Cache {
	return &Cache{
		store:  store,
		values: cmap.New[bool](),
	}
}

// Query returns the cached value of key, reading the store on a miss.
func (c *Cache) Query(key string) bool {
	if v, ok := c.values.Get(key); ok {
		return v
	}
	return c.Refresh(key)
}

// Refresh rereads key from the store.
func (c *Cache) Refresh(key string) bool {
	v := c.store.QuerySwitchStatus(key)
	c.values.Set(key, v)
	return v
}

// WakeupEnabled reports whether the wake or the whisper switch is on.
func (c *Cache) WakeupEnabled() bool {
	return c.Query(WakeupKey) || c.Query(WhisperKey)
}

// ShortWord reports whether the short word switch is on.
func (c *Cache) ShortWord() bool {
	return c.Query(ShortWordKey)
}

// Watch observes keys. A change refreshes the cache and submits fn with the key; fn runs
// on the executor, never on the store goroutine.
func (c *Cache) Watch(keys []string, exec Submitter, fn func(key string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range keys {
		cancel := c.store.Watch(key, func(key string) {
			c.Refresh(key)
			if err := exec.Submit(func() { fn(key) }); err != nil {
				log.Warnf("drop switch change %s: %v", key, err)
			}
		})
		c.cancels = append(c.cancels, cancel)
	}
}

// Close cancels every observer.
func (c *Cache) Close() {
	c.mu.Lock()
	cancels := c.cancels
	c.cancels = nil
	c.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}
