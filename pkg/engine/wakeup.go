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
	"errors"

	"github.com/srediag/plugin-voice/pkg/wakeup"
)

// WakeupEngine is the live wakeup session. Its calls are serialized by the session
// itself, so a blocking Read may run off the core executor.
type WakeupEngine struct {
	base
	session *wakeup.Session
}

func ignored(err error) error {
	if errors.Is(err, wakeup.ErrEventIgnored) {
		return nil
	}
	return err
}

func (e *WakeupEngine) init() error {
	if err := e.session.SetListener(e.callback); err != nil {
		return err
	}
	return e.session.Init()
}

// Session returns the state machine behind the engine.
func (e *WakeupEngine) Session() *wakeup.Session {
	return e.session
}

func (e *WakeupEngine) StartRecognize(modelUUID int) error {
	return e.session.StartRecognize(modelUUID)
}

func (e *WakeupEngine) StartCapturer(mask int) error {
	return e.session.StartCapturer(mask)
}

func (e *WakeupEngine) Read() ([]byte, error) {
	return e.session.Read()
}

func (e *WakeupEngine) StopCapturer() error {
	return e.session.StopCapturer()
}

func (e *WakeupEngine) GetWakeupPcm() ([]byte, error) {
	return e.session.GetWakeupPcm()
}

func (e *WakeupEngine) SetParameter(keyValueList string) error {
	return e.session.SetParameter(keyValueList)
}

func (e *WakeupEngine) GetParameter(key string) (string, error) {
	return e.session.GetParameter(key)
}

// Stop ends a running recognition. An idle session is left alone.
func (e *WakeupEngine) Stop() error {
	return ignored(e.session.StopRecognize())
}

// ReleaseAdapter hands the driver adapter to another engine type and keeps the session.
func (e *WakeupEngine) ReleaseAdapter() error {
	return ignored(e.session.ReleaseAdapter())
}

// ResetAdapter takes the driver adapter back after ReleaseAdapter.
func (e *WakeupEngine) ResetAdapter() error {
	return ignored(e.session.ResetAdapter())
}

func (e *WakeupEngine) Detach() error {
	return e.session.Close()
}

func (e *WakeupEngine) State() wakeup.State {
	return e.session.State()
}

// park releases the adapter but keeps the session for a later revive.
func (e *WakeupEngine) park() error {
	return e.ReleaseAdapter()
}

// revive brings a parked session back, initializing it from scratch when it holds no
// released adapter.
func (e *WakeupEngine) revive() error {
	if err := e.session.SetListener(e.callback); err != nil {
		return err
	}
	err := e.session.ResetAdapter()
	if errors.Is(err, wakeup.ErrEventIgnored) && e.session.State() == wakeup.Idle {
		return e.session.Init()
	}
	return ignored(err)
}
