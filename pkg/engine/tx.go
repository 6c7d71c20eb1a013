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

package engine

import (
	"context"

	"github.com/srediag/plugin-voice/api"
	"github.com/srediag/plugin-voice/pkg/update"
)

// Tx is the manager seen from a task already running on the executor. It is only
// valid inside the Do or Post callback that produced it.
type Tx struct {
	m   *Manager
	ctx context.Context
}

// CreateEngine arbitrates against the live engines, applies the side effects and
// creates an engine of type t. A live engine of the same type and param is returned as is.
func (tx *Tx) CreateEngine(t api.EngineType, param string) (Engine, error) {
	return tx.m.createEngine(tx.ctx, t, param)
}

// ReleaseEngine detaches and removes the engine of type t. Releasing UPDATE cancels a
// running update job instead.
func (tx *Tx) ReleaseEngine(t api.EngineType) error {
	return tx.m.releaseEngine(tx.ctx, t)
}

// Engine returns the live engine of type t.
func (tx *Tx) Engine(t api.EngineType) (Engine, bool) {
	e, ok := tx.m.engines[t]
	return e, ok
}

// IsEngineExist reports whether an engine of type t is live. UPDATE also exists while an
// update job runs between attempts.
func (tx *Tx) IsEngineExist(t api.EngineType) bool {
	if _, ok := tx.m.engines[t]; ok {
		return true
	}
	return t == api.EngineUpdate && tx.m.updates.Updating()
}

// AnyEngineExist reports whether any of types exists.
func (tx *Tx) AnyEngineExist(types ...api.EngineType) bool {
	for _, t := range types {
		if tx.IsEngineExist(t) {
			return true
		}
	}
	return false
}

// LiveTypes returns the types of the live engines.
func (tx *Tx) LiveTypes() []api.EngineType {
	return tx.m.liveTypes()
}

// Wakeup returns the live wakeup engine.
func (tx *Tx) Wakeup() (*WakeupEngine, bool) {
	w := tx.m.wakeupEngine()
	return w, w != nil
}

// Enroll returns the live enroll engine.
func (tx *Tx) Enroll() (*EnrollEngine, bool) {
	e, ok := tx.m.engines[api.EngineEnroll]
	if !ok {
		return nil, false
	}
	en, ok := e.(*EnrollEngine)
	return en, ok
}

// RequestUpdate hands s to the update controller.
func (tx *Tx) RequestUpdate(s update.Strategy) error {
	return tx.m.updates.Request(s)
}

// CancelUpdate reports whether a job was cancelled.
func (tx *Tx) CancelUpdate() bool {
	return tx.m.updates.Cancel()
}

// Updating reports whether an update job is running.
func (tx *Tx) Updating() bool {
	return tx.m.updates.Updating()
}

func (tx *Tx) onDeath(t api.EngineType, n api.DeathNotifier) {
	if !tx.m.removeDeath(t, n) {
		return
	}
	log.Infof("caller of %s died", t)
	switch t {
	case api.EngineWakeup:
		if w := tx.m.wakeupEngine(); w != nil {
			w.Callback().Clear()
		}
		if tx.m.parked != nil {
			tx.m.parked.Callback().Clear()
		}
	default:
		if err := tx.ReleaseEngine(t); err != nil {
			log.Warnf("release %s after caller death failed: %v", t, err)
		}
	}
}
