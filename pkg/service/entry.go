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

package service

import (
	"context"
	"fmt"
	"strconv"

	"github.com/srediag/plugin-voice/api"
	"github.com/srediag/plugin-voice/pkg/engine"
	"github.com/srediag/plugin-voice/pkg/history"
	"github.com/srediag/plugin-voice/pkg/update"
)

// Service level parameter keys answered without an engine.
const (
	ParamIsEnrolled     = "isEnrolled"
	ParamIsNeedReEnroll = "isNeedReEnroll"
	ParamIsWhispering   = "isWhispering"
	ParamWakeupFeatures = "wakeup_features"
)

func (s *Service) do(ctx context.Context, fn func(tx *engine.Tx) error) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return s.manager.Do(ctx, fn)
}

// CreateEngine creates an engine of type t for a remote caller.
func (s *Service) CreateEngine(ctx context.Context, t api.EngineType, param string) (engine.Engine, error) {
	var e engine.Engine
	err := s.do(ctx, func(tx *engine.Tx) (err error) {
		e, err = tx.CreateEngine(t, param)
		return err
	})
	return e, err
}

// ReleaseEngine releases the engine of type t. Releasing ENROLL brings wakeup back
// according to the enrollment result and the switches.
func (s *Service) ReleaseEngine(ctx context.Context, t api.EngineType) error {
	return s.do(ctx, func(tx *engine.Tx) error {
		if err := tx.ReleaseEngine(t); err != nil {
			return err
		}
		if t != api.EngineEnroll {
			return nil
		}
		if s.manager.EnrollResult() {
			s.switchOn(tx, api.VoiceWakeupModelUUID, true)
			s.switchOn(tx, api.ProximalWakeupModelUUID, true)
			s.switchOff(tx, api.ProximalWakeupModelUUID)
			return nil
		}
		s.switchOn(tx, api.VoiceWakeupModelUUID, true)
		s.switchOff(tx, api.VoiceWakeupModelUUID)
		s.switchOn(tx, api.ProximalWakeupModelUUID, true)
		s.switchOff(tx, api.ProximalWakeupModelUUID)
		return nil
	})
}

func (s *Service) RegisterDeathRecipient(t api.EngineType, n api.DeathNotifier) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return s.manager.RegisterDeathRecipient(t, n)
}

func (s *Service) DeregisterDeathRecipient(t api.EngineType) {
	s.manager.DeregisterDeathRecipient(t)
}

// SetParameter forwards keyValueList to the live engine of type t.
func (s *Service) SetParameter(t api.EngineType, keyValueList string) error {
	return s.do(context.Background(), func(tx *engine.Tx) error {
		e, ok := tx.Engine(t)
		if !ok {
			return fmt.Errorf("engine %s: %w", t, api.ErrNotFound)
		}
		return e.SetParameter(keyValueList)
	})
}

// GetParameter answers the service level keys and forwards any other key to the live
// engine of type t.
func (s *Service) GetParameter(t api.EngineType, key string) (string, error) {
	switch key {
	case ParamIsEnrolled:
		return strconv.FormatBool(s.history.Enrolled()), nil
	case ParamIsNeedReEnroll:
		current := ""
		if s.deps.CurrentVersion != nil {
			current = update.ParseWakeupVersion(s.deps.CurrentVersion())
		}
		return strconv.FormatBool(update.VersionUpdated(s.history.WakeupVersion(), current)), nil
	case ParamIsWhispering:
		whispering := s.deps.Whispering != nil && s.deps.Whispering()
		if whispering {
			return "1", nil
		}
		return "0", nil
	}
	var v string
	err := s.do(context.Background(), func(tx *engine.Tx) (err error) {
		if key == ParamWakeupFeatures {
			v = s.wakeupFeatures(tx)
			return nil
		}
		e, ok := tx.Engine(t)
		if !ok {
			return fmt.Errorf("engine %s: %w", t, api.ErrNotFound)
		}
		v, err = e.GetParameter(key)
		return err
	})
	return v, err
}

// wakeupFeatures asks the live wakeup engine and remembers the answer, falling back to the
// last one remembered.
func (s *Service) wakeupFeatures(tx *engine.Tx) string {
	if w, ok := tx.Wakeup(); ok {
		if v, err := w.GetParameter(ParamWakeupFeatures); err == nil && v != "" {
			s.history.Set(history.KeyWakeupDspFeature, v)
			return v
		}
	}
	v := s.history.Get(history.KeyWakeupDspFeature)
	if v == "" {
		log.Warnf("no wakeup dsp feature")
	}
	return v
}

// SilenceUpdate retrains the voiceprint after a wakeup model upgrade.
func (s *Service) SilenceUpdate(ctx context.Context) error {
	st := update.NewSilenceStrategy("", s.history, s.deps.CurrentVersion)
	st.NotifyFail = s.deps.NotifyFail
	return s.requestUpdate(ctx, st)
}

// CloneUpdate imports a voiceprint described by param and reports to callback.
func (s *Service) CloneUpdate(ctx context.Context, param string, callback api.UpdateCallback) error {
	return s.requestUpdate(ctx, update.NewCloneStrategy(param, s.history, callback, s.manager.Notifier()))
}

// WhisperUpdate trains the whisper voiceprint.
func (s *Service) WhisperUpdate(ctx context.Context, param string) error {
	return s.requestUpdate(ctx, update.NewWhisperStrategy(param, s.history))
}

func (s *Service) requestUpdate(ctx context.Context, st update.Strategy) error {
	return s.do(ctx, func(tx *engine.Tx) error { return tx.RequestUpdate(st) })
}

// OnSwitchChange rereads key and applies it.
func (s *Service) OnSwitchChange(key string) error {
	s.switches.Refresh(key)
	return s.do(context.Background(), func(tx *engine.Tx) error {
		s.onSwitchChange(tx, key)
		return nil
	})
}

// OnDetected starts recognition after the detector of uuid fired.
func (s *Service) OnDetected(uuid int) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return s.manager.Post(func(tx *engine.Tx) { s.onDetected(tx, uuid) })
}

func (s *Service) wakeup() (*engine.WakeupEngine, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	w, ok := s.manager.Wakeup()
	if !ok {
		return nil, fmt.Errorf("engine %s: %w", api.EngineWakeup, api.ErrNotFound)
	}
	return w, nil
}

func (s *Service) StartRecognize(modelUUID int) error {
	w, err := s.wakeup()
	if err != nil {
		return err
	}
	return w.StartRecognize(modelUUID)
}

func (s *Service) StartCapturer(mask int) error {
	w, err := s.wakeup()
	if err != nil {
		return err
	}
	return w.StartCapturer(mask)
}

// Read blocks on the wakeup session, never on the service executor.
func (s *Service) Read() ([]byte, error) {
	w, err := s.wakeup()
	if err != nil {
		return nil, err
	}
	return w.Read()
}

func (s *Service) StopCapturer() error {
	w, err := s.wakeup()
	if err != nil {
		return err
	}
	return w.StopCapturer()
}

func (s *Service) GetWakeupPcm() ([]byte, error) {
	w, err := s.wakeup()
	if err != nil {
		return nil, err
	}
	return w.GetWakeupPcm()
}

// ClearUserData cancels any update, releases every engine, forgets the enrolled
// voiceprint and stops the detectors.
func (s *Service) ClearUserData(ctx context.Context) error {
	return s.do(ctx, func(tx *engine.Tx) error {
		tx.CancelUpdate()
		var first error
		for _, t := range tx.LiveTypes() {
			if err := tx.ReleaseEngine(t); err != nil && first == nil {
				first = err
			}
		}
		s.history.Clear()
		for _, d := range s.detectors.All() {
			s.detectors.Unregister(d.UUID())
		}
		log.Infof("user data cleared")
		return first
	})
}

// IsNeedToUnload reports whether the service is idle: no engine, no update job and both
// wakeup switches off.
func (s *Service) IsNeedToUnload() bool {
	var idle bool
	if err := s.do(context.Background(), func(tx *engine.Tx) error {
		idle = !tx.AnyEngineExist(api.EngineTypes()...) && !s.switches.WakeupEnabled()
		return nil
	}); err != nil {
		return false
	}
	return idle
}
