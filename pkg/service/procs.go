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
	"github.com/srediag/plugin-voice/api"
	"github.com/srediag/plugin-voice/pkg/engine"
	"github.com/srediag/plugin-voice/pkg/switches"
)

// Everything below runs on the executor.

func (s *Service) switchOf(uuid int) bool {
	if uuid == api.ProximalWakeupModelUUID {
		return s.switches.Query(switches.WhisperKey)
	}
	return s.switches.Query(switches.WakeupKey)
}

// switchOn brings up the wakeup engine and the detector of uuid. With reset set a live
// wakeup engine gets a fresh driver adapter.
func (s *Service) switchOn(tx *engine.Tx, uuid int, reset bool) {
	if tx.AnyEngineExist(api.EngineEnroll, api.EngineUpdate) {
		log.Infof("enroll or update running, skip switch on %d", uuid)
		return
	}
	if !s.switchOf(uuid) {
		log.Debugf("switch of %d is off", uuid)
		return
	}
	if !s.history.Enrolled() {
		log.Infof("no wakeup model, skip switch on %d", uuid)
		return
	}
	var err error
	if reset {
		err = s.createOrResetWakeup(tx)
	} else {
		_, err = tx.CreateEngine(api.EngineWakeup, "")
	}
	if err != nil {
		log.Warnf("bring up wakeup engine for %d: %v", uuid, err)
	}
	s.detectors.Register(uuid, s.fire)
	if uuid == api.VoiceWakeupModelUUID {
		s.applyShortWord(tx)
	}
	s.detectors.Start(uuid)
}

// switchOff drops the detector of uuid, and the wakeup engine once both switches are off.
func (s *Service) switchOff(tx *engine.Tx, uuid int) {
	if tx.AnyEngineExist(api.EngineEnroll, api.EngineUpdate) {
		log.Infof("enroll or update running, skip switch off %d", uuid)
		return
	}
	if s.switchOf(uuid) {
		return
	}
	s.detectors.Unregister(uuid)
	if s.switches.WakeupEnabled() {
		return
	}
	if err := tx.ReleaseEngine(api.EngineWakeup); err != nil {
		log.Warnf("release wakeup engine: %v", err)
	}
}

func (s *Service) createOrResetWakeup(tx *engine.Tx) error {
	w, ok := tx.Wakeup()
	if !ok {
		_, err := tx.CreateEngine(api.EngineWakeup, "")
		return err
	}
	if err := w.ReleaseAdapter(); err != nil {
		log.Warnf("wakeup release adapter: %v", err)
	}
	return w.ResetAdapter()
}

func (s *Service) applyShortWord(tx *engine.Tx) {
	w, ok := tx.Wakeup()
	if !ok {
		return
	}
	mode := "WakeupMode=0"
	if s.switches.ShortWord() {
		mode = "WakeupMode=1"
	}
	if err := w.SetParameter(mode); err != nil {
		log.Warnf("set %s: %v", mode, err)
	}
}

func (s *Service) onSwitchChange(tx *engine.Tx, key string) {
	log.Infof("switch %s changed", key)
	switch key {
	case switches.WakeupKey:
		s.applySwitch(tx, key, api.VoiceWakeupModelUUID)
	case switches.WhisperKey:
		s.applySwitch(tx, key, api.ProximalWakeupModelUUID)
	case switches.ShortWordKey:
		if tx.AnyEngineExist(api.EngineEnroll, api.EngineUpdate) {
			log.Infof("enroll or update running, skip short word change")
			return
		}
		s.detectors.Stop(api.VoiceWakeupModelUUID)
		s.detectors.Stop(api.ProximalWakeupModelUUID)
		if s.switches.WakeupEnabled() && s.history.Enrolled() {
			if err := s.createOrResetWakeup(tx); err != nil {
				log.Warnf("reset wakeup engine: %v", err)
			}
		}
		s.applyShortWord(tx)
		for _, d := range s.detectors.All() {
			s.detectors.Start(d.UUID())
		}
	}
}

func (s *Service) applySwitch(tx *engine.Tx, key string, uuid int) {
	if s.switches.Query(key) {
		s.switchOn(tx, uuid, false)
		return
	}
	s.switchOff(tx, uuid)
}

// fire runs on the detector goroutine.
func (s *Service) fire(uuid int) {
	if err := s.OnDetected(uuid); err != nil {
		log.Warnf("drop detection of %d: %v", uuid, err)
	}
}

func (s *Service) onDetected(tx *engine.Tx, uuid int) {
	w, ok := tx.Wakeup()
	if !ok {
		log.Warnf("no wakeup engine for detection of %d, restart detector", uuid)
		s.detectors.Start(uuid)
		return
	}
	if err := w.StartRecognize(uuid); err != nil {
		log.Warnf("start recognize %d: %v", uuid, err)
	}
}

// onUpdateFinished brings wakeup back after an update job ended.
func (s *Service) onUpdateFinished(tx *engine.Tx, result api.UpdateResult) {
	log.Infof("update finished, result:%s", result)
	s.switchOn(tx, api.VoiceWakeupModelUUID, true)
	s.switchOn(tx, api.ProximalWakeupModelUUID, true)
}
