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

// Package engine owns the live voice engines: creation under arbitration, release,
// death handling of remote callers and the UPDATE engine driven by the update
// controller.
package engine

import (
	"sync"

	"github.com/google/uuid"

	"github.com/srediag/plugin-voice/api"
	"github.com/srediag/plugin-voice/internal/logger"
)

var log = logger.New("engine")

// Engine is one live instance. Methods run on the core executor.
type Engine interface {
	ID() string
	Type() api.EngineType
	// Param is the creation parameter. Creating the same type again with another param
	// fails.
	Param() string
	Callback() *CallbackRef
	SetParameter(keyValueList string) error
	GetParameter(key string) (string, error)
	// Stop halts the running job and keeps the engine live.
	Stop() error
	// Detach hands the driver adapter back. The engine is unusable afterwards.
	Detach() error
}

// Submitter hands a task to the core executor.
type Submitter interface {
	Submit(fn func()) error
}

// CallbackRef is the caller listener shared between an engine and its remote caller.
// Clearing it drops the caller without touching the engine.
type CallbackRef struct {
	mu       sync.RWMutex
	listener api.EngineListener
}

// NewCallbackRef creates a reference to l, which may be nil.
func NewCallbackRef(l api.EngineListener) *CallbackRef {
	return &CallbackRef{listener: l}
}

func (r *CallbackRef) Set(l api.EngineListener) {
	r.mu.Lock()
	r.listener = l
	r.mu.Unlock()
}

func (r *CallbackRef) Clear() {
	r.Set(nil)
}

func (r *CallbackRef) Listener() api.EngineListener {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.listener
}

// OnEvent forwards ev to the current listener.
func (r *CallbackRef) OnEvent(ev api.DriverEvent) {
	if l := r.Listener(); l != nil {
		l.OnEvent(ev)
	}
}

type base struct {
	id       string
	typ      api.EngineType
	param    string
	callback *CallbackRef
}

func newBase(t api.EngineType, param string) base {
	return base{
		id:       uuid.NewString(),
		typ:      t,
		param:    param,
		callback: NewCallbackRef(nil),
	}
}

func (b *base) ID() string             { return b.id }
func (b *base) Type() api.EngineType   { return b.typ }
func (b *base) Param() string          { return b.param }
func (b *base) Callback() *CallbackRef { return b.callback }
