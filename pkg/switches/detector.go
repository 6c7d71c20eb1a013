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

package switches

import (
	"sort"
	"sync/atomic"

	cmap "github.com/orcaman/concurrent-map/v2"
)

// Detector is a low power trigger that reports a model hit to its callback while
// started.
type Detector struct {
	uuid       int
	onDetected func(uuid int)
	started    atomic.Bool
}

// UUID returns the model UUID the detector listens for.
func (d *Detector) UUID() int {
	return d.uuid
}

// Started reports whether the detector is recognizing.
func (d *Detector) Started() bool {
	return d.started.Load()
}

// Registry holds detectors by model UUID.
type Registry struct {
	detectors cmap.ConcurrentMap[int, *Detector]
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		detectors: cmap.NewWithCustomShardingFunction[int, *Detector](func(uuid int) uint32 {
			return uint32(uuid)
		}),
	}
}

// Register adds a detector for uuid, or returns the one already registered.
func (r *Registry) Register(uuid int, onDetected func(uuid int)) *Detector {
	d := &Detector{uuid: uuid, onDetected: onDetected}
	if !r.detectors.SetIfAbsent(uuid, d) {
		log.Infof("detector %d already registered", uuid)
		d, _ = r.detectors.Get(uuid)
	}
	return d
}

// Unregister stops and removes the detector of uuid.
func (r *Registry) Unregister(uuid int) {
	if d, ok := r.detectors.Pop(uuid); ok {
		d.started.Store(false)
	}
}

func (r *Registry) Get(uuid int) (*Detector, bool) {
	return r.detectors.Get(uuid)
}

// Start starts recognition on the detector of uuid. It reports false when none is
// registered.
func (r *Registry) Start(uuid int) bool {
	d, ok := r.detectors.Get(uuid)
	if !ok {
		log.Warnf("no detector %d to start", uuid)
		return false
	}
	if !d.started.Swap(true) {
		log.Infof("detector %d started", uuid)
	}
	return true
}

// Stop stops recognition on the detector of uuid.
func (r *Registry) Stop(uuid int) {
	if d, ok := r.detectors.Get(uuid); ok && d.started.Swap(false) {
		log.Infof("detector %d stopped", uuid)
	}
}

// StopAll stops every detector.
func (r *Registry) StopAll() {
	for _, d := range r.All() {
		r.Stop(d.uuid)
	}
}

// All returns the registered detectors ordered by UUID.
func (r *Registry) All() []*Detector {
	all := make([]*Detector, 0, r.detectors.Count())
	for _, d := range r.detectors.Items() {
		all = append(all, d)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].uuid < all[j].uuid })
	return all
}

// Fire delivers a hit for uuid. A started detector stops, as the hardware trigger is one
// shot, and calls its callback. It reports whether the hit was delivered.
func (r *Registry) Fire(uuid int) bool {
	d, ok := r.detectors.Get(uuid)
	if !ok || !d.started.CompareAndSwap(true, false) {
		return false
	}
	if d.onDetected != nil {
		d.onDetected(uuid)
	}
	return true
}
