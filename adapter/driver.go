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

// Package adapter provides reference implementations of the collaborators the voice
// engine core drives: a simulated driver and capturer, in-memory stores, a death
// notifier, telemetry and health wiring.
package adapter

import (
	"errors"
	"strings"
	"sync"

	"github.com/srediag/plugin-voice/api"
	"github.com/srediag/plugin-voice/internal/logger"
)

var log = logger.New("adapter")

// ErrSimCreate is returned by SimDriver when creation was scripted to fail.
var ErrSimCreate = errors.New("simulated adapter creation failure")

// SimDriver is an in-process api.AdapterFactory. By default a wakeup adapter reports
// init done right after Attach; update adapters wait for Complete.
type SimDriver struct {
	mu         sync.Mutex
	adapters   map[api.EngineType]*SimAdapter
	failCreate map[api.EngineType]bool
	created    map[api.EngineType]int
	released   map[api.EngineType]int
	params     map[string]string
	autoInit   bool
	initResult int32
}

// NewSimDriver creates a driver.
func NewSimDriver() *SimDriver {
	return &SimDriver{
		adapters:   make(map[api.EngineType]*SimAdapter),
		failCreate: make(map[api.EngineType]bool),
		created:    make(map[api.EngineType]int),
		released:   make(map[api.EngineType]int),
		params:     make(map[string]string),
		autoInit:   true,
	}
}

// FailCreate makes CreateAdapter fail for t.
func (d *SimDriver) FailCreate(t api.EngineType, fail bool) {
	d.mu.Lock()
	d.failCreate[t] = fail
	d.mu.Unlock()
}

// AutoInit controls the init done event of wakeup adapters.
func (d *SimDriver) AutoInit(enabled bool, result int32) {
	d.mu.Lock()
	d.autoInit = enabled
	d.initResult = result
	d.mu.Unlock()
}

// SetDriverParameter presets a value every adapter returns from GetParameter.
func (d *SimDriver) SetDriverParameter(key, value string) {
	d.mu.Lock()
	d.params[key] = value
	d.mu.Unlock()
}

func (d *SimDriver) CreateAdapter(desc api.AdapterDescriptor) (api.Adapter, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failCreate[desc.Type] {
		return nil, ErrSimCreate
	}
	params := make(map[string]string, len(d.params))
	for k, v := range d.params {
		params[k] = v
	}
	a := &SimAdapter{
		typ:        desc.Type,
		driver:     d,
		params:     params,
		failures:   make(map[string]int32),
		pcm:        []byte{1, 2, 3, 4},
		autoInit:   d.autoInit && desc.Type == api.EngineWakeup,
		initResult: d.initResult,
	}
	d.adapters[desc.Type] = a
	d.created[desc.Type]++
	return a, nil
}

func (d *SimDriver) ReleaseAdapter(desc api.AdapterDescriptor) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.adapters, desc.Type)
	d.released[desc.Type]++
	return nil
}

// Adapter returns the current adapter of t.
func (d *SimDriver) Adapter(t api.EngineType) *SimAdapter {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.adapters[t]
}

// Created returns how many adapters of t were created.
func (d *SimDriver) Created(t api.EngineType) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.created[t]
}

// Released returns how many adapters of t were released.
func (d *SimDriver) Released(t api.EngineType) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.released[t]
}

// SimAdapter records every call and lets tests emit driver events.
type SimAdapter struct {
	typ        api.EngineType
	driver     *SimDriver
	autoInit   bool
	initResult int32

	mu       sync.Mutex
	cb       api.DriverCallback
	calls    []string
	params   map[string]string
	failures map[string]int32
	written  int
	pcm      []byte
	wg       sync.WaitGroup
}

// Fail makes op return code until cleared with 0.
func (a *SimAdapter) Fail(op string, code int32) {
	a.mu.Lock()
	a.failures[op] = code
	a.mu.Unlock()
}

func (a *SimAdapter) record(op string) int32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, op)
	return a.failures[op]
}

// Calls returns the recorded operation names.
func (a *SimAdapter) Calls() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.calls...)
}

// Count returns how many times op was called.
func (a *SimAdapter) Count(op string) int {
	n := 0
	for _, c := range a.Calls() {
		if c == op {
			n++
		}
	}
	return n
}

// Written returns the number of audio bytes received through WriteAudio.
func (a *SimAdapter) Written() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.written
}

// Emit delivers ev to the installed callback on a driver goroutine.
func (a *SimAdapter) Emit(ev api.DriverEvent) {
	a.mu.Lock()
	cb := a.cb
	a.mu.Unlock()
	if cb == nil {
		return
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		cb(ev)
	}()
}

// Complete emits a commit enroll complete event, the completion of enroll and update
// jobs.
func (a *SimAdapter) Complete(result int32) {
	a.Emit(api.DriverEvent{Msg: api.MsgCommitEnrollComplete, Result: result})
}

// Wait blocks until every emitted event was delivered.
func (a *SimAdapter) Wait() {
	a.wg.Wait()
}

func (a *SimAdapter) SetCallback(cb api.DriverCallback) int32 {
	a.mu.Lock()
	a.cb = cb
	a.mu.Unlock()
	return a.record("SetCallback")
}

func (a *SimAdapter) Attach(api.AttachInfo) int32 {
	code := a.record("Attach")
	if code == 0 && a.autoInit {
		a.Emit(api.DriverEvent{Msg: api.MsgInitDone, Result: a.initResult})
	}
	return code
}

func (a *SimAdapter) Detach() int32 {
	return a.record("Detach")
}

func (a *SimAdapter) SetParameter(keyValueList string) int32 {
	code := a.record("SetParameter")
	if code != 0 {
		return code
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, kv := range strings.Split(keyValueList, ";") {
		k, v, ok := strings.Cut(kv, "=")
		if ok {
			a.params[k] = v
		}
	}
	return 0
}

func (a *SimAdapter) GetParameter(key string) (string, int32) {
	code := a.record("GetParameter")
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.params[key], code
}

// Param returns a value stored through SetParameter.
func (a *SimAdapter) Param(key string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.params[key]
}

func (a *SimAdapter) Start(api.StartInfo) int32 {
	return a.record("Start")
}

func (a *SimAdapter) Stop() int32 {
	return a.record("Stop")
}

func (a *SimAdapter) WriteAudio(pcm []byte) int32 {
	a.mu.Lock()
	a.written += len(pcm)
	code := a.failures["WriteAudio"]
	a.mu.Unlock()
	return code
}

func (a *SimAdapter) Evaluate(word string) (api.EvaluationResult, int32) {
	code := a.record("Evaluate")
	return api.EvaluationResult{Score: int32(len(word)), Result: 0}, code
}

func (a *SimAdapter) GetWakeupPcm() ([]byte, int32) {
	code := a.record("GetWakeupPcm")
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]byte(nil), a.pcm...), code
}
