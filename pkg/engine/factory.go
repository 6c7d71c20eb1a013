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

	"github.com/panjf2000/ants/v2"

	"github.com/srediag/plugin-voice/api"
	"github.com/srediag/plugin-voice/internal/metrics"
	"github.com/srediag/plugin-voice/internal/notify"
	"github.com/srediag/plugin-voice/pkg/history"
	"github.com/srediag/plugin-voice/pkg/timer"
	"github.com/srediag/plugin-voice/pkg/wakeup"
)

// factory builds engines on the driver.
type factory struct {
	driver         api.AdapterFactory
	capturer       api.Capturer
	history        *history.History
	timers         *timer.Service
	exec           Submitter
	notifier       *notify.Dispatcher
	pool           *ants.Pool
	metrics        *metrics.Metrics
	wakeupConfig   *wakeup.Config
	shortWord      func() bool
	currentVersion func() string

	onUpdateComplete func(result api.UpdateResult, param string)
	onEnrollCommit   func(ok bool)
}

func (f *factory) create(t api.EngineType, param string) (Engine, error) {
	switch t {
	case api.EngineEnroll:
		e := &EnrollEngine{
			base:           newBase(t, param),
			driver:         f.driver,
			capturer:       f.capturer,
			history:        f.history,
			exec:           f.exec,
			notifier:       f.notifier,
			currentVersion: f.currentVersion,
			onCommit:       f.onEnrollCommit,
		}
		if err := e.init(); err != nil {
			return nil, err
		}
		return e, nil
	case api.EngineWakeup:
		session, err := wakeup.New(f.wakeupConfig, wakeup.Deps{
			Driver:    f.driver,
			Capturer:  f.capturer,
			Timers:    f.timers,
			History:   f.history,
			ShortWord: f.shortWord,
			Metrics:   f.metrics,
			Pool:      f.pool,
		})
		if err != nil {
			return nil, err
		}
		e := &WakeupEngine{base: newBase(t, param), session: session}
		if err := e.init(); err != nil {
			_ = session.Close()
			return nil, err
		}
		return e, nil
	case api.EngineUpdate:
		e := &UpdateEngine{
			base:       newBase(t, param),
			driver:     f.driver,
			history:    f.history,
			exec:       f.exec,
			notifier:   f.notifier,
			onComplete: f.onUpdateComplete,
		}
		if err := e.init(); err != nil {
			return nil, err
		}
		return e, nil
	}
	return nil, fmt.Errorf("engine type %s: %w", t, api.ErrInvalidParam)
}
