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
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/panjf2000/ants/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/srediag/plugin-voice/api"
	"github.com/srediag/plugin-voice/internal/metrics"
	"github.com/srediag/plugin-voice/internal/notify"
	"github.com/srediag/plugin-voice/pkg/arbitration"
	"github.com/srediag/plugin-voice/pkg/executor"
	"github.com/srediag/plugin-voice/pkg/history"
	"github.com/srediag/plugin-voice/pkg/timer"
	"github.com/srediag/plugin-voice/pkg/update"
	"github.com/srediag/plugin-voice/pkg/wakeup"
)

// ReleasePolicy decides what releasing the WAKEUP engine does to its session.
type ReleasePolicy string

const (
	// ReleaseDestroy closes the session.
	ReleaseDestroy ReleasePolicy = "destroy"
	// ReleaseDetach hands the adapter back and parks the session until the next
	// CreateEngine(WAKEUP).
	ReleaseDetach ReleasePolicy = "detach"
)

// ParseReleasePolicy parses a policy name. The empty name is ReleaseDestroy.
func ParseReleasePolicy(s string) (ReleasePolicy, error) {
	switch p := ReleasePolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return ReleaseDestroy, nil
	case ReleaseDestroy, ReleaseDetach:
		return p, nil
	}
	return "", fmt.Errorf("wakeup release policy %q: %w", s, api.ErrInvalidParam)
}

type Config struct {
	// Policy is the arbitration table, arbitration.DefaultPolicy when nil.
	Policy           *arbitration.Policy
	WakeupRelease    ReleasePolicy
	UpdateRetryDelay time.Duration
	Wakeup           *wakeup.Config
	// OnUpdateFinished runs on the executor after an update job ended without being
	// cancelled.
	OnUpdateFinished func(tx *Tx, result api.UpdateResult)
}

// Deps are the collaborators of a manager. Exec must be started by the owner.
type Deps struct {
	Exec     *executor.Executor
	Driver   api.AdapterFactory
	Capturer api.Capturer
	History  *history.History
	Timers   *timer.Service
	// Pool runs caller callbacks. A private pool is created when nil.
	Pool    *ants.Pool
	Metrics *metrics.Metrics
	Tracer  trace.Tracer
	// ShortWord reports the short word switch to new wakeup sessions. Optional.
	ShortWord func() bool
	// CurrentVersion returns the installed wakeup model version banner. Optional.
	CurrentVersion func() string
}

// Manager owns the live engines. Its state belongs to the executor goroutine; public
// methods enqueue onto it.
type Manager struct {
	config   Config
	exec     *executor.Executor
	policy   *arbitration.Policy
	factory  *factory
	updates  *update.Controller
	metrics  *metrics.Metrics
	tracer   trace.Tracer
	notifier *notify.Dispatcher
	ownPool  *ants.Pool

	engines      map[api.EngineType]Engine
	parked       *WakeupEngine
	updateDriven bool
	handover     bool

	deaths   cmap.ConcurrentMap[api.EngineType, api.DeathNotifier]
	enrolled atomic.Bool
}

// New creates a manager.
func New(config *Config, deps Deps) (*Manager, error) {
	if config == nil {
		config = &Config{}
	}
	if deps.Exec == nil || deps.Driver == nil || deps.Capturer == nil || deps.History == nil {
		return nil, fmt.Errorf("engine manager needs an executor, a driver, a capturer and a history: %w", api.ErrInvalidParam)
	}
	release, err := ParseReleasePolicy(string(config.WakeupRelease))
	if err != nil {
		return nil, err
	}
	m := &Manager{
		config:  *config,
		exec:    deps.Exec,
		policy:  config.Policy,
		metrics: metrics.OrNew(deps.Metrics),
		tracer:  deps.Tracer,
		engines: make(map[api.EngineType]Engine),
		deaths:  cmap.NewStringer[api.EngineType, api.DeathNotifier](),
	}
	m.config.WakeupRelease = release
	if m.policy == nil {
		m.policy = arbitration.DefaultPolicy()
	}
	if m.tracer == nil {
		m.tracer = tracenoop.NewTracerProvider().Tracer("")
	}
	if deps.Timers == nil {
		deps.Timers = timer.New(nil)
	}
	pool := deps.Pool
	if pool == nil {
		if pool, err = notify.NewPool(2); err != nil {
			return nil, fmt.Errorf("create notify pool: %w", err)
		}
		m.ownPool = pool
	}
	m.notifier = notify.NewDispatcher("engine_listener", pool)
	m.updates = update.New(&update.Config{
		RetryDelay: config.UpdateRetryDelay,
		Metrics:    m.metrics,
		OnFinished: m.onUpdateFinished,
	}, updateHost{m}, deps.Exec, deps.Timers)
	m.factory = &factory{
		driver:         deps.Driver,
		capturer:       deps.Capturer,
		history:        deps.History,
		timers:         deps.Timers,
		exec:           deps.Exec,
		notifier:       m.notifier,
		pool:           pool,
		metrics:        m.metrics,
		wakeupConfig:   config.Wakeup,
		shortWord:      deps.ShortWord,
		currentVersion: deps.CurrentVersion,
		onUpdateComplete: func(result api.UpdateResult, param string) {
			m.updates.OnUpdateComplete(result, param)
		},
		onEnrollCommit: func(ok bool) {
			if ok {
				m.enrolled.Store(true)
			}
		},
	}
	return m, nil
}

// Notifier returns the dispatcher that runs caller callbacks off the executor.
func (m *Manager) Notifier() *notify.Dispatcher {
	return m.notifier
}

// Do runs fn on the executor and waits for it.
func (m *Manager) Do(ctx context.Context, fn func(tx *Tx) error) error {
	var err error
	if serr := m.exec.SubmitSyncContext(ctx, func() { err = fn(&Tx{m: m, ctx: ctx}) }); serr != nil {
		return serr
	}
	return err
}

// Post runs fn on the executor without waiting.
func (m *Manager) Post(fn func(tx *Tx)) error {
	return m.exec.Submit(func() { fn(m.Tx()) })
}

// Tx returns the view of the running executor task for callbacks that were submitted to
// the executor directly. Calling it from any other goroutine is a data race.
func (m *Manager) Tx() *Tx {
	return &Tx{m: m, ctx: context.Background()}
}

// CreateEngine creates an engine of type t, arbitrating against the live ones. A live
// engine of type t is returned as is when param matches.
func (m *Manager) CreateEngine(ctx context.Context, t api.EngineType, param string) (Engine, error) {
	var e Engine
	err := m.Do(ctx, func(tx *Tx) (err error) {
		e, err = tx.CreateEngine(t, param)
		return err
	})
	return e, err
}

// ReleaseEngine releases the engine of type t. An absent type is not an error.
func (m *Manager) ReleaseEngine(ctx context.Context, t api.EngineType) error {
	return m.Do(ctx, func(tx *Tx) error { return tx.ReleaseEngine(t) })
}

// IsEngineExist reports whether t is live. UPDATE also exists while an update job runs.
func (m *Manager) IsEngineExist(t api.EngineType) bool {
	var ok bool
	if err := m.Do(context.Background(), func(tx *Tx) error {
		ok = tx.IsEngineExist(t)
		return nil
	}); err != nil {
		log.Warnf("query %s: %v", t, err)
	}
	return ok
}

// AnyEngineExist reports whether any of types is live.
func (m *Manager) AnyEngineExist(types ...api.EngineType) bool {
	var ok bool
	if err := m.Do(context.Background(), func(tx *Tx) error {
		ok = tx.AnyEngineExist(types...)
		return nil
	}); err != nil {
		log.Warnf("query %v: %v", types, err)
	}
	return ok
}

// LiveTypes returns the live engine types in type order.
func (m *Manager) LiveTypes() []api.EngineType {
	var live []api.EngineType
	if err := m.Do(context.Background(), func(tx *Tx) error {
		live = tx.LiveTypes()
		return nil
	}); err != nil {
		log.Warnf("query live types: %v", err)
	}
	return live
}

// Engine returns the live engine of type t. The engine belongs to the executor: outside
// Do only ID, Type, Param and Callback may be used. A WakeupEngine is the exception since
// its session serializes every call.
func (m *Manager) Engine(t api.EngineType) (Engine, bool) {
	var e Engine
	if err := m.Do(context.Background(), func(tx *Tx) error {
		e, _ = tx.Engine(t)
		return nil
	}); err != nil {
		log.Warnf("query %s: %v", t, err)
	}
	return e, e != nil
}

// Wakeup returns the live wakeup engine.
func (m *Manager) Wakeup() (*WakeupEngine, bool) {
	e, ok := m.Engine(api.EngineWakeup)
	if !ok {
		return nil, false
	}
	w, ok := e.(*WakeupEngine)
	return w, ok
}

// SetParameter forwards to the live engine of type t.
func (m *Manager) SetParameter(t api.EngineType, keyValueList string) error {
	return m.Do(context.Background(), func(tx *Tx) error {
		e, ok := tx.Engine(t)
		if !ok {
			return fmt.Errorf("engine %s: %w", t, api.ErrNotFound)
		}
		return e.SetParameter(keyValueList)
	})
}

// GetParameter forwards to the live engine of type t.
func (m *Manager) GetParameter(t api.EngineType, key string) (string, error) {
	var v string
	err := m.Do(context.Background(), func(tx *Tx) (err error) {
		e, ok := tx.Engine(t)
		if !ok {
			return fmt.Errorf("engine %s: %w", t, api.ErrNotFound)
		}
		v, err = e.GetParameter(key)
		return err
	})
	return v, err
}

// RequestUpdate hands s to the update controller.
func (m *Manager) RequestUpdate(ctx context.Context, s update.Strategy) error {
	return m.Do(ctx, func(tx *Tx) error { return tx.RequestUpdate(s) })
}

// IsUpdating reports whether an update job is running.
func (m *Manager) IsUpdating() bool {
	var ok bool
	if err := m.Do(context.Background(), func(tx *Tx) error {
		ok = tx.Updating()
		return nil
	}); err != nil {
		log.Warnf("query update job: %v", err)
	}
	return ok
}

// EnrollResult reports whether an enrollment was committed since start.
func (m *Manager) EnrollResult() bool {
	return m.enrolled.Load()
}

// RegisterDeathRecipient watches the remote caller of type t. One subscription per type.
// The death callback only enqueues: ENROLL and UPDATE are then released, WAKEUP only
// drops its caller listener.
func (m *Manager) RegisterDeathRecipient(t api.EngineType, n api.DeathNotifier) error {
	if n == nil || !t.Valid() {
		return fmt.Errorf("death recipient for %s: %w", t, api.ErrInvalidParam)
	}
	if !m.deaths.SetIfAbsent(t, n) {
		return fmt.Errorf("death recipient for %s: %w", t, api.ErrAlreadyExists)
	}
	ok := n.AddDeathRecipient(func() {
		if err := m.Post(func(tx *Tx) { tx.onDeath(t, n) }); err != nil {
			log.Warnf("drop death of %s caller: %v", t, err)
		}
	})
	if !ok {
		m.removeDeath(t, n)
		return fmt.Errorf("add death recipient for %s: %w", t, api.ErrInvalidParam)
	}
	return nil
}

// DeregisterDeathRecipient stops watching the caller of type t.
func (m *Manager) DeregisterDeathRecipient(t api.EngineType) {
	if n, ok := m.deaths.Pop(t); ok {
		n.RemoveDeathRecipient()
	}
}

// HasDeathRecipient reports whether the caller of type t is watched.
func (m *Manager) HasDeathRecipient(t api.EngineType) bool {
	return m.deaths.Has(t)
}

func (m *Manager) removeDeath(t api.EngineType, n api.DeathNotifier) bool {
	return m.deaths.RemoveCb(t, func(_ api.EngineType, v api.DeathNotifier, exists bool) bool {
		return exists && v == n
	})
}

// Close cancels the update job, releases every engine and drops the death
// subscriptions. The executor keeps running.
func (m *Manager) Close() error {
	err := m.Do(context.Background(), func(tx *Tx) error {
		m.handover = true
		defer func() { m.handover = false }()
		tx.CancelUpdate()
		var first error
		for _, t := range tx.LiveTypes() {
			if err := m.removeEngine(t, false); err != nil && first == nil {
				first = err
			}
		}
		if m.parked != nil {
			if err := m.parked.Detach(); err != nil && first == nil {
				first = err
			}
			m.parked = nil
		}
		return first
	})
	for _, t := range m.deaths.Keys() {
		m.DeregisterDeathRecipient(t)
	}
	m.notifier.Close()
	if m.ownPool != nil {
		m.ownPool.Release()
	}
	return err
}

func (m *Manager) onUpdateFinished(result api.UpdateResult) {
	if m.config.OnUpdateFinished != nil {
		m.config.OnUpdateFinished(m.Tx(), result)
	}
}

func (m *Manager) liveTypes() []api.EngineType {
	var live []api.EngineType
	for _, t := range api.EngineTypes() {
		if _, ok := m.engines[t]; ok {
			live = append(live, t)
		}
	}
	return live
}

func (m *Manager) wakeupEngine() *WakeupEngine {
	if e, ok := m.engines[api.EngineWakeup]; ok {
		return e.(*WakeupEngine)
	}
	return nil
}

func (m *Manager) createEngine(ctx context.Context, t api.EngineType, param string) (_ Engine, err error) {
	ctx, span := m.tracer.Start(ctx, "engine.create", trace.WithAttributes(
		attribute.String("engine.type", t.String()),
	))
	defer func() { endSpan(span, err) }()

	if !t.Valid() {
		return nil, fmt.Errorf("engine type %s: %w", t, api.ErrInvalidParam)
	}
	if t == api.EngineUpdate && m.updates.Updating() && !m.updateDriven {
		m.metrics.EngineCreateErrors.WithLabelValues(t.String(), "updating").Inc()
		return nil, fmt.Errorf("update job running: %w", api.ErrAlreadyExists)
	}
	if e, ok := m.engines[t]; ok {
		if e.Param() == param {
			log.Infof("engine %s already live, id:%s", t, e.ID())
			return e, nil
		}
		m.metrics.EngineCreateErrors.WithLabelValues(t.String(), "exists").Inc()
		return nil, fmt.Errorf("engine %s live with another param: %w", t, api.ErrAlreadyExists)
	}

	d := m.policy.Apply(t, m.liveTypes())
	m.metrics.ArbitrationOutcomes.WithLabelValues(t.String(), d.Outcome.String()).Inc()
	span.AddEvent("arbitration", trace.WithAttributes(attribute.String("outcome", d.Outcome.String())))
	if d.Outcome == arbitration.Rejected {
		m.metrics.EngineCreateErrors.WithLabelValues(t.String(), "rejected").Inc()
		log.Infof("create %s rejected by live %s", t, d.RejectedBy)
		return nil, fmt.Errorf("create %s with %s live: %w", t, d.RejectedBy, api.ErrArbitrationRejected)
	}

	if t != api.EngineWakeup {
		m.handover = true
		defer func() { m.handover = false }()
	}
	for _, se := range d.SideEffects {
		log.Infof("create %s: %s", t, se)
		m.apply(ctx, se)
	}
	if w := m.wakeupEngine(); w != nil && t != api.EngineWakeup {
		if err := w.ReleaseAdapter(); err != nil {
			log.Warnf("wakeup release adapter failed: %v", err)
		}
	}

	var e Engine
	if t == api.EngineWakeup && m.parked != nil {
		w := m.parked
		m.parked = nil
		if err = w.revive(); err != nil {
			_ = w.Detach()
		} else {
			e = w
		}
	} else {
		e, err = m.factory.create(t, param)
	}
	if err != nil {
		m.metrics.EngineCreateErrors.WithLabelValues(t.String(), "driver").Inc()
		if t != api.EngineWakeup {
			m.handover = false
			m.handBack()
		}
		return nil, fmt.Errorf("create %s: %w", t, err)
	}
	m.engines[t] = e
	m.metrics.EnginesLive.WithLabelValues(t.String()).Set(1)
	log.Infof("engine %s created, id:%s", t, e.ID())
	return e, nil
}

func (m *Manager) apply(ctx context.Context, se arbitration.SideEffect) {
	switch se.Action {
	case arbitration.ActionStop:
		if e, ok := m.engines[se.Target]; ok {
			if err := e.Stop(); err != nil {
				log.Warnf("stop %s failed: %v", se.Target, err)
			}
		}
	case arbitration.ActionRemove:
		if err := m.releaseEngine(ctx, se.Target); err != nil {
			log.Warnf("remove %s failed: %v", se.Target, err)
		}
	}
}

func (m *Manager) releaseEngine(ctx context.Context, t api.EngineType) (err error) {
	_, span := m.tracer.Start(ctx, "engine.release", trace.WithAttributes(
		attribute.String("engine.type", t.String()),
	))
	defer func() { endSpan(span, err) }()

	if t == api.EngineUpdate && m.updates.Cancel() {
		return nil
	}
	return m.removeEngine(t, true)
}

// removeEngine drops t from the live set. With park set a WAKEUP engine follows the
// release policy, otherwise it is destroyed.
func (m *Manager) removeEngine(t api.EngineType, park bool) error {
	e, ok := m.engines[t]
	if !ok {
		return nil
	}
	delete(m.engines, t)
	m.metrics.EnginesLive.WithLabelValues(t.String()).Set(0)

	var err error
	if w, isWakeup := e.(*WakeupEngine); isWakeup && park && m.config.WakeupRelease == ReleaseDetach {
		err = w.park()
		m.parked = w
		log.Infof("engine %s parked, id:%s", t, e.ID())
	} else {
		err = e.Detach()
		log.Infof("engine %s released, id:%s", t, e.ID())
	}
	if en, isEnroll := e.(*EnrollEngine); isEnroll && en.Committed() {
		m.enrolled.Store(true)
	}
	if t != api.EngineWakeup {
		m.handBack()
	}
	return err
}

// handBack returns the driver adapter to the wakeup engine once no other type holds it.
func (m *Manager) handBack() {
	if m.handover {
		return
	}
	w := m.wakeupEngine()
	if w == nil {
		return
	}
	for t := range m.engines {
		if t != api.EngineWakeup {
			return
		}
	}
	if err := w.ResetAdapter(); err != nil {
		log.Warnf("wakeup reset adapter failed: %v", err)
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// updateHost lets the update controller drive the UPDATE engine from the executor.
type updateHost struct {
	m *Manager
}

func (h updateHost) CreateUpdateEngine(param string) error {
	h.m.updateDriven = true
	defer func() { h.m.updateDriven = false }()
	_, err := h.m.createEngine(context.Background(), api.EngineUpdate, param)
	return err
}

func (h updateHost) ReleaseUpdateEngine() {
	if err := h.m.removeEngine(api.EngineUpdate, false); err != nil {
		log.Warnf("release update engine failed: %v", err)
	}
}
