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

// Package service wires the voice engine core into one context: executor, engine manager,
// update controller, switches, detectors, history, metrics, telemetry and health.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"github.com/heptiolabs/healthcheck"
	"github.com/panjf2000/ants/v2"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/srediag/plugin-voice/adapter"
	"github.com/srediag/plugin-voice/api"
	"github.com/srediag/plugin-voice/internal/logger"
	"github.com/srediag/plugin-voice/internal/metrics"
	"github.com/srediag/plugin-voice/internal/notify"
	"github.com/srediag/plugin-voice/pkg/engine"
	"github.com/srediag/plugin-voice/pkg/executor"
	"github.com/srediag/plugin-voice/pkg/history"
	"github.com/srediag/plugin-voice/pkg/switches"
	"github.com/srediag/plugin-voice/pkg/timer"
)

var log = logger.New("service")

// ErrClosed is returned by entry points after Close.
var ErrClosed = errors.New("voice service closed")

// Deps are the platform collaborators of a service.
type Deps struct {
	Driver   api.AdapterFactory
	Capturer api.Capturer
	Switches api.SwitchStore
	History  api.HistoryStore

	// Clock drives every timer. The wall clock when nil.
	Clock          clock.Clock
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider

	// CurrentVersion returns the installed wakeup model banner, e.g. "wakeup_v.5.2.1".
	CurrentVersion func() string
	// Whispering reports whether the audio system is in whisper mode.
	Whispering func() bool
	// NotifyFail is told the wakeup engine identity when a silence update gave up.
	NotifyFail func(bundle, ability string)
}

// Service is one voice engine context. Every state change runs on its executor.
type Service struct {
	config    *Config
	deps      Deps
	exec      *executor.Executor
	pool      *ants.Pool
	manager   *engine.Manager
	history   *history.History
	switches  *switches.Cache
	detectors *switches.Registry
	metrics   *metrics.Metrics
	telemetry adapter.Telemetry
	health    healthcheck.Handler
	closed    atomic.Bool
}

// New builds a service and applies the current switches. A nil config uses DefaultConfig.
func New(config *Config, deps Deps) (*Service, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := VerifyConfig(config); err != nil {
		return nil, err
	}
	if deps.Driver == nil || deps.Capturer == nil || deps.Switches == nil || deps.History == nil {
		return nil, fmt.Errorf("voice service needs a driver, a capturer, a switch store and a history store: %w", api.ErrInvalidParam)
	}
	if config.LogLevel != nil {
		logger.SetLogLevel(*config.LogLevel)
	}

	s := &Service{
		config:    config,
		deps:      deps,
		history:   history.New(deps.History),
		switches:  switches.NewCache(deps.Switches),
		detectors: switches.NewRegistry(),
		metrics:   metrics.New(),
		telemetry: adapter.NewTelemetry(deps.TracerProvider, deps.MeterProvider),
	}
	pool, err := notify.NewPool(config.NotifyWorkers)
	if err != nil {
		return nil, fmt.Errorf("create notify pool: %w", err)
	}
	s.pool = pool
	s.exec = executor.New(&executor.Config{
		Name:     "voice_service",
		Capacity: config.ExecutorCapacity,
		Metrics:  s.metrics,
		Meter:    s.telemetry.Meter,
	})
	s.exec.Start()

	policy, _ := config.policy()
	s.manager, err = engine.New(&engine.Config{
		Policy:           policy,
		WakeupRelease:    engine.ReleasePolicy(config.WakeupRelease),
		UpdateRetryDelay: config.UpdateRetryDelay,
		Wakeup:           config.wakeupConfig(),
		OnUpdateFinished: s.onUpdateFinished,
	}, engine.Deps{
		Exec:           s.exec,
		Driver:         deps.Driver,
		Capturer:       deps.Capturer,
		History:        s.history,
		Timers:         timer.New(deps.Clock),
		Pool:           pool,
		Metrics:        s.metrics,
		Tracer:         s.telemetry.Tracer,
		ShortWord:      s.switches.ShortWord,
		CurrentVersion: deps.CurrentVersion,
	})
	if err != nil {
		s.exec.Stop()
		pool.Release()
		return nil, err
	}

	s.health = adapter.NewHealthHandler(map[string]healthcheck.Check{
		"executor": s.executorAlive,
	}, map[string]healthcheck.Check{
		"open":   s.open,
		"memory": adapter.MemoryFloorCheck(config.MinFreeMemory),
	})

	s.switches.Watch(switches.Keys, s.exec, func(key string) {
		s.onSwitchChange(s.manager.Tx(), key)
	})
	if err := s.manager.Do(context.Background(), func(tx *engine.Tx) error {
		s.switchOn(tx, api.VoiceWakeupModelUUID, false)
		s.switchOn(tx, api.ProximalWakeupModelUUID, false)
		return nil
	}); err != nil {
		log.Warnf("apply switches at start: %v", err)
	}
	return s, nil
}

func (s *Service) executorAlive() error {
	if !s.exec.Alive() {
		return errors.New("executor not running")
	}
	return nil
}

func (s *Service) open() error {
	if s.closed.Load() {
		return ErrClosed
	}
	return nil
}

// HealthHandler serves /live and /ready.
func (s *Service) HealthHandler() healthcheck.Handler {
	return s.health
}

// Registry returns the detectors started for the wakeup switches.
func (s *Service) Registry() *switches.Registry {
	return s.detectors
}

// Metrics returns the collectors of this context. Metrics().Registry is ready to serve.
func (s *Service) Metrics() *metrics.Metrics {
	return s.metrics
}

// Manager returns the engine manager.
func (s *Service) Manager() *engine.Manager {
	return s.manager
}

// History returns the persisted engine history.
func (s *Service) History() *history.History {
	return s.history
}

// Close stops observing switches, releases every engine and stops the executor.
func (s *Service) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.switches.Close()
	s.detectors.StopAll()
	err := s.manager.Close()
	s.exec.Stop()
	s.pool.Release()
	return err
}
