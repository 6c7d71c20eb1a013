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

	"github.com/srediag/plugin-voice/api"
	"github.com/srediag/plugin-voice/internal/notify"
	"github.com/srediag/plugin-voice/pkg/history"
)

// UpdateEngine runs one update attempt on the driver. The commit enroll complete event
// ends the attempt.
type UpdateEngine struct {
	base
	driver     api.AdapterFactory
	adapter    api.Adapter
	history    *history.History
	exec       Submitter
	notifier   *notify.Dispatcher
	onComplete func(result api.UpdateResult, param string)
	done       bool
}

func (e *UpdateEngine) init() error {
	a, err := e.driver.CreateAdapter(api.AdapterDescriptor{Type: api.EngineUpdate})
	if err != nil {
		return fmt.Errorf("%w: %v", api.ErrDriverCreateFailed, err)
	}
	if a == nil {
		return api.ErrDriverCreateFailed
	}
	release := func() {
		if err := e.driver.ReleaseAdapter(api.AdapterDescriptor{Type: api.EngineUpdate}); err != nil {
			log.Warnf("release update adapter failed: %v", err)
		}
	}
	if err := api.CheckStatus("SetCallback", a.SetCallback(func(ev api.DriverEvent) {
		if ev.Msg != api.MsgCommitEnrollComplete {
			return
		}
		if err := e.exec.Submit(func() { e.complete(ev) }); err != nil {
			log.Warnf("drop update complete: %v", err)
		}
	})); err != nil {
		release()
		return err
	}
	params := []string{
		paramLanguage + "=" + e.history.Language(),
		paramArea + "=" + e.history.Area(),
	}
	if e.param != "" {
		params = append(params, e.param)
	}
	for _, p := range params {
		if code := a.SetParameter(p); code != 0 {
			log.Warnf("set %s failed, code:%d", p, code)
		}
	}
	info := api.AttachInfo{
		WakeupPhrase:   e.history.WakeupPhrase(),
		MinBufferSize:  enrollBufferSize,
		SampleChannels: 1,
		BitsPerSample:  16,
		SampleRate:     16000,
	}
	if err := api.CheckStatus("Attach", a.Attach(info)); err != nil {
		release()
		return err
	}
	e.adapter = a
	return nil
}

func (e *UpdateEngine) complete(ev api.DriverEvent) {
	if e.adapter == nil || e.done {
		return
	}
	e.done = true
	result := api.UpdateSuccess
	if ev.Result != 0 {
		result = api.UpdateFailed
	}
	log.Infof("update attempt complete, result:%s", result)
	cb := e.callback
	e.notifier.Go(func() { cb.OnEvent(ev) })
	if e.onComplete != nil {
		e.onComplete(result, e.param)
	}
}

func (e *UpdateEngine) SetParameter(keyValueList string) error {
	if e.adapter == nil {
		return fmt.Errorf("update adapter: %w", api.ErrNotFound)
	}
	return api.CheckStatus("SetParameter", e.adapter.SetParameter(keyValueList))
}

func (e *UpdateEngine) GetParameter(key string) (string, error) {
	if e.adapter == nil {
		return "", fmt.Errorf("update adapter: %w", api.ErrNotFound)
	}
	v, code := e.adapter.GetParameter(key)
	return v, api.CheckStatus("GetParameter", code)
}

func (e *UpdateEngine) Stop() error {
	if e.adapter == nil {
		return nil
	}
	return api.CheckStatus("Stop", e.adapter.Stop())
}

func (e *UpdateEngine) Detach() error {
	if e.adapter == nil {
		return nil
	}
	err := api.CheckStatus("Detach", e.adapter.Detach())
	e.adapter = nil
	if rerr := e.driver.ReleaseAdapter(api.AdapterDescriptor{Type: api.EngineUpdate}); rerr != nil {
		log.Warnf("release update adapter failed: %v", rerr)
	}
	return err
}
