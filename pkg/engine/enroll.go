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
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/srediag/plugin-voice/api"
	"github.com/srediag/plugin-voice/internal/notify"
	"github.com/srediag/plugin-voice/pkg/history"
	"github.com/srediag/plugin-voice/pkg/update"
)

const (
	enrollBufferSize = 1280

	paramBundleName  = "wakeup_bundle_name"
	paramAbilityName = "wakeup_ability_name"
	paramLanguage    = "language"
	paramArea        = "area"
	paramSensibility = "Sensibility"
)

const commitNone int32 = -1

// EnrollEngine records a new wakeup voiceprint.
type EnrollEngine struct {
	base
	driver         api.AdapterFactory
	adapter        api.Adapter
	capturer       api.Capturer
	history        *history.History
	exec           Submitter
	notifier       *notify.Dispatcher
	currentVersion func() string
	onCommit       func(ok bool)

	external     bool
	capturing    bool
	wakeupPhrase string
	commit       atomic.Int32
}

func (e *EnrollEngine) init() error {
	e.commit.Store(commitNone)
	a, err := e.driver.CreateAdapter(api.AdapterDescriptor{Type: api.EngineEnroll})
	if err != nil {
		return fmt.Errorf("%w: %v", api.ErrDriverCreateFailed, err)
	}
	if a == nil {
		return api.ErrDriverCreateFailed
	}
	if err := api.CheckStatus("SetCallback", a.SetCallback(func(ev api.DriverEvent) {
		if err := e.exec.Submit(func() { e.onDriverEvent(ev) }); err != nil {
			log.Warnf("drop enroll event %s: %v", ev.Msg, err)
		}
	})); err != nil {
		e.releaseAdapter()
		return err
	}
	e.adapter = a
	return nil
}

// Attach hands the enrollment phrase and audio format to the driver. With external set
// the caller writes the audio itself.
func (e *EnrollEngine) Attach(info api.AttachInfo, external bool) error {
	if e.adapter == nil {
		return fmt.Errorf("enroll adapter: %w", api.ErrNotFound)
	}
	e.external = external
	e.wakeupPhrase = info.WakeupPhrase
	return api.CheckStatus("Attach", e.adapter.Attach(info))
}

// Start begins one enrollment utterance and, unless the audio is external, captures the
// microphone into the driver.
func (e *EnrollEngine) Start(isLast bool) error {
	if e.adapter == nil {
		return fmt.Errorf("enroll adapter: %w", api.ErrNotFound)
	}
	if e.capturing {
		return fmt.Errorf("enroll capture running: %w", api.ErrAlreadyExists)
	}
	if err := api.CheckStatus("Start", e.adapter.Start(api.StartInfo{IsLast: isLast})); err != nil {
		return err
	}
	if e.external {
		return nil
	}
	a := e.adapter
	err := e.capturer.Start(enrollBufferSize, 1, func(buf []byte, isEnd bool) {
		if !isEnd && len(buf) > 0 {
			a.WriteAudio(buf)
		}
	})
	if err != nil {
		a.Stop()
		return fmt.Errorf("start enroll capture: %w", err)
	}
	e.capturing = true
	return nil
}

func (e *EnrollEngine) Stop() error {
	e.stopCapture()
	if e.adapter == nil {
		return nil
	}
	return api.CheckStatus("Stop", e.adapter.Stop())
}

func (e *EnrollEngine) WriteAudio(pcm []byte) error {
	if e.adapter == nil {
		return fmt.Errorf("enroll adapter: %w", api.ErrNotFound)
	}
	return api.CheckStatus("WriteAudio", e.adapter.WriteAudio(pcm))
}

func (e *EnrollEngine) Evaluate(word string) (api.EvaluationResult, error) {
	if e.adapter == nil {
		return api.EvaluationResult{}, fmt.Errorf("enroll adapter: %w", api.ErrNotFound)
	}
	res, code := e.adapter.Evaluate(word)
	return res, api.CheckStatus("Evaluate", code)
}

// SetParameter keeps the wakeup engine identity in the history and mirrors language,
// area and sensibility there before forwarding to the driver.
func (e *EnrollEngine) SetParameter(keyValueList string) error {
	for _, kv := range strings.Split(keyValueList, ";") {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		switch k {
		case paramBundleName:
			e.history.Set(history.KeyWakeupEngineBundleName, v)
			return nil
		case paramAbilityName:
			e.history.Set(history.KeyWakeupEngineAbilityName, v)
			return nil
		case paramLanguage:
			e.history.Set(history.KeyLanguage, v)
		case paramArea:
			e.history.Set(history.KeyArea, v)
		case paramSensibility:
			e.history.Set(history.KeySensibility, v)
		}
	}
	if e.adapter == nil {
		return fmt.Errorf("enroll adapter: %w", api.ErrNotFound)
	}
	return api.CheckStatus("SetParameter", e.adapter.SetParameter(keyValueList))
}

func (e *EnrollEngine) GetParameter(key string) (string, error) {
	if e.adapter == nil {
		return "", fmt.Errorf("enroll adapter: %w", api.ErrNotFound)
	}
	v, code := e.adapter.GetParameter(key)
	return v, api.CheckStatus("GetParameter", code)
}

// Committed reports whether the driver confirmed the enrollment.
func (e *EnrollEngine) Committed() bool {
	return e.commit.Load() == 0
}

// Detach saves a committed enrollment into the history and releases the adapter.
func (e *EnrollEngine) Detach() error {
	e.stopCapture()
	if e.adapter == nil {
		return nil
	}
	if e.Committed() {
		if e.wakeupPhrase != "" {
			e.history.Set(history.KeyWakeupPhrase, e.wakeupPhrase)
		}
		if e.currentVersion != nil {
			if v := update.ParseWakeupVersion(e.currentVersion()); v != "" {
				e.history.Set(history.KeyWakeupVersion, v)
			}
		}
	}
	err := api.CheckStatus("Detach", e.adapter.Detach())
	e.adapter = nil
	e.releaseAdapter()
	return err
}

func (e *EnrollEngine) releaseAdapter() {
	if err := e.driver.ReleaseAdapter(api.AdapterDescriptor{Type: api.EngineEnroll}); err != nil {
		log.Warnf("release enroll adapter failed: %v", err)
	}
}

func (e *EnrollEngine) stopCapture() {
	if !e.capturing {
		return
	}
	if err := e.capturer.Stop(); err != nil {
		log.Warnf("stop enroll capture failed: %v", err)
	}
	e.capturing = false
}

func (e *EnrollEngine) onDriverEvent(ev api.DriverEvent) {
	if e.adapter == nil {
		return
	}
	switch ev.Msg {
	case api.MsgEnrollComplete:
		e.stopCapture()
	case api.MsgCommitEnrollComplete:
		e.commit.Store(ev.Result)
		if e.onCommit != nil {
			e.onCommit(ev.Result == 0)
		}
	}
	cb := e.callback
	e.notifier.Go(func() { cb.OnEvent(ev) })
}
