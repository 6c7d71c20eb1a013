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

package update

import (
	"github.com/srediag/plugin-voice/api"
	"github.com/srediag/plugin-voice/internal/notify"
	"github.com/srediag/plugin-voice/pkg/history"
)

// Priority orders concurrent update requests. A running update is preempted only by a
// strictly higher priority.
type Priority int

const (
	PriorityDefault Priority = 0
	PriorityCloud   Priority = 1
	PriorityClone   Priority = 2
	PrioritySilence Priority = 3
	PriorityWhisper Priority = 2
)

const (
	SilenceRetryLimit = 5
	WhisperRetryLimit = 5
	CloneRetryLimit   = 1
)

// Strategy describes one kind of update job. OnComplete runs on the executor once per
// attempt; the call with isLast set is the last one the strategy receives.
type Strategy interface {
	Param() string
	Priority() Priority
	// RetryLimit is the total number of attempts, at least one.
	RetryLimit() int
	// Restrained reports that the update is not needed right now.
	Restrained() bool
	OnComplete(result api.UpdateResult, isLast bool)
}

// SilenceStrategy refreshes the enrolled wakeup model after the device model version
// changed.
type SilenceStrategy struct {
	param   string
	history *history.History
	// CurrentVersion returns the raw version banner of the installed wakeup model.
	CurrentVersion func() string
	// NotifyFail is told the wakeup engine bundle and ability after the last attempt
	// failed. Optional.
	NotifyFail func(bundle, ability string)
}

// NewSilenceStrategy creates a silence update for param.
func NewSilenceStrategy(param string, h *history.History, currentVersion func() string) *SilenceStrategy {
	return &SilenceStrategy{param: param, history: h, CurrentVersion: currentVersion}
}

func (s *SilenceStrategy) Param() string      { return s.param }
func (s *SilenceStrategy) Priority() Priority { return PrioritySilence }
func (s *SilenceStrategy) RetryLimit() int    { return SilenceRetryLimit }

func (s *SilenceStrategy) current() string {
	if s.CurrentVersion == nil {
		return ""
	}
	return ParseWakeupVersion(s.CurrentVersion())
}

// Restrained holds the update back unless the installed model is newer than the one the
// user enrolled with.
func (s *SilenceStrategy) Restrained() bool {
	return !VersionUpdated(s.history.WakeupVersion(), s.current())
}

func (s *SilenceStrategy) OnComplete(result api.UpdateResult, isLast bool) {
	if result == api.UpdateSuccess {
		if v := s.current(); v != "" {
			s.history.Set(history.KeyWakeupVersion, v)
		}
		return
	}
	if !isLast {
		return
	}
	log.Infof("silence update failed, result:%s", result)
	if s.NotifyFail != nil {
		s.NotifyFail(s.history.Get(history.KeyWakeupEngineBundleName), s.history.Get(history.KeyWakeupEngineAbilityName))
	}
}

// WhisperStrategy registers the whisper voiceprint.
type WhisperStrategy struct {
	param   string
	history *history.History
}

// NewWhisperStrategy creates a whisper update for param.
func NewWhisperStrategy(param string, h *history.History) *WhisperStrategy {
	return &WhisperStrategy{param: param, history: h}
}

func (s *WhisperStrategy) Param() string      { return s.param }
func (s *WhisperStrategy) Priority() Priority { return PriorityWhisper }
func (s *WhisperStrategy) RetryLimit() int    { return WhisperRetryLimit }
func (s *WhisperStrategy) Restrained() bool   { return false }

func (s *WhisperStrategy) OnComplete(result api.UpdateResult, isLast bool) {
	switch {
	case result == api.UpdateSuccess:
		s.history.SetWhisperVpr(true)
	case isLast:
		log.Infof("whisper update failed, result:%s", result)
		s.history.SetWhisperVpr(false)
	}
}

// CloneStrategy imports a voiceprint on behalf of a remote caller, in a single attempt.
type CloneStrategy struct {
	param    string
	history  *history.History
	callback api.UpdateCallback
	notifier *notify.Dispatcher
}

// NewCloneStrategy creates a clone update reporting to callback through notifier. A nil
// notifier reports inline.
func NewCloneStrategy(param string, h *history.History, callback api.UpdateCallback, notifier *notify.Dispatcher) *CloneStrategy {
	return &CloneStrategy{param: param, history: h, callback: callback, notifier: notifier}
}

func (s *CloneStrategy) Param() string      { return s.param }
func (s *CloneStrategy) Priority() Priority { return PriorityClone }
func (s *CloneStrategy) RetryLimit() int    { return CloneRetryLimit }

// Restrained holds the clone back until a wakeup model was enrolled.
func (s *CloneStrategy) Restrained() bool {
	if !s.history.Enrolled() {
		log.Warnf("no saved wakeup version, clone restrained")
		return true
	}
	return false
}

func (s *CloneStrategy) OnComplete(result api.UpdateResult, _ bool) {
	if s.callback == nil {
		return
	}
	cb, param := s.callback, s.param
	report := func() { cb.OnUpdateComplete(result, param) }
	if s.notifier == nil {
		report()
		return
	}
	s.notifier.Go(report)
}
