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

// Package wakeup implements the session state machine behind a WAKEUP engine: adapter
// initialization, recognition and the readback of the audio captured after a wakeup.
package wakeup

import (
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/srediag/plugin-voice/api"
	"github.com/srediag/plugin-voice/internal/logger"
	"github.com/srediag/plugin-voice/internal/metrics"
	"github.com/srediag/plugin-voice/internal/notify"
	"github.com/srediag/plugin-voice/pkg/executor"
	"github.com/srediag/plugin-voice/pkg/history"
	"github.com/srediag/plugin-voice/pkg/timer"
)

const (
	DefaultRecognizingTimeout       = 10 * time.Second
	DefaultRecognizeCompleteTimeout = 2 * time.Second
	DefaultReadCapturerTimeout      = 10 * time.Second
	DefaultBufferSize               = 1280

	// ParamSourceChannel is the driver parameter holding the capture channel count.
	ParamSourceChannel = "wakeup_source_channel"

	// ResultTimeout is the result reported to the listener when recognition times out.
	ResultTimeout int32 = -1

	sampleRate    = 16000
	bitsPerSample = 16
)

// ErrEventIgnored is returned for an event the current state does not handle.
var ErrEventIgnored = errors.New("event not handled in current state")

var log = logger.New("wakeup")

// Config tunes a session.
type Config struct {
	RecognizingTimeout       time.Duration
	RecognizeCompleteTimeout time.Duration
	ReadCapturerTimeout      time.Duration
	// ReadWait bounds how long Read waits for each selected channel.
	ReadWait time.Duration
	// QueueCapacity bounds each channel queue of the readback source.
	QueueCapacity int
	// Channels is the capture channel count. Zero asks the driver.
	Channels uint32
	// BufferSize is the capture buffer size per channel in bytes.
	BufferSize       uint32
	ExecutorCapacity int
}

// DefaultConfig returns the default session configuration.
func DefaultConfig() *Config {
	return &Config{
		RecognizingTimeout:       DefaultRecognizingTimeout,
		RecognizeCompleteTimeout: DefaultRecognizeCompleteTimeout,
		ReadCapturerTimeout:      DefaultReadCapturerTimeout,
		ReadWait:                 DefaultReadWait,
		QueueCapacity:            DefaultQueueCapacity,
		BufferSize:               DefaultBufferSize,
		ExecutorCapacity:         64,
	}
}

// VerifyConfig checks a session configuration.
func VerifyConfig(config *Config) error {
	if config.RecognizingTimeout <= 0 || config.RecognizeCompleteTimeout <= 0 || config.ReadCapturerTimeout <= 0 {
		return errors.New("wakeup timeouts must be positive")
	}
	if config.ReadWait <= 0 {
		return errors.New("wakeup read wait must be positive")
	}
	if config.QueueCapacity <= 0 {
		return errors.New("wakeup queue capacity must be positive")
	}
	if config.Channels > MaxChannels {
		return fmt.Errorf("wakeup channel count %d exceeds %d", config.Channels, MaxChannels)
	}
	if config.BufferSize == 0 {
		return errors.New("wakeup buffer size must be positive")
	}
	return nil
}

// Deps are the collaborators of a session.
type Deps struct {
	Driver   api.AdapterFactory
	Capturer api.Capturer
	Timers   *timer.Service
	// History supplies phrase, language, area and sensibility. Optional.
	History *history.History
	// ShortWord reports whether the short word model is enabled. Optional.
	ShortWord func() bool
	Metrics   *metrics.Metrics
	// Pool runs listener callbacks. A private pool is created when nil.
	Pool *ants.Pool
}

type handlerFunc func(ev *Event) (State, error)

// Session is one wakeup engine. Every event is handled on the session's own executor,
// so a blocking Read never stalls the engine manager. Driver callbacks and timer fires
// only post events.
type Session struct {
	config   Config
	deps     Deps
	metrics  *metrics.Metrics
	exec     *executor.Executor
	notifier *notify.Dispatcher
	ownPool  *ants.Pool
	table    map[State]map[EventType]handlerFunc

	state  atomic.Int32
	closed atomic.Bool

	adapter    api.Adapter
	adapterGen uint64
	listener   api.EngineListener
	retained   bool
	source     *Source
	capturing  bool
	channels   uint32
	channelID  int
	readMask   int
	timer      timer.Handle
	timerGen   uint64
}

// New creates a session in IDLE.
func New(config *Config, deps Deps) (*Session, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := VerifyConfig(config); err != nil {
		return nil, err
	}
	if deps.Driver == nil || deps.Capturer == nil {
		return nil, fmt.Errorf("wakeup session needs a driver and a capturer: %w", api.ErrInvalidParam)
	}
	if deps.Timers == nil {
		deps.Timers = timer.New(nil)
	}
	s := &Session{
		config:  *config,
		deps:    deps,
		metrics: metrics.OrNew(deps.Metrics),
	}
	pool := deps.Pool
	if pool == nil {
		p, err := notify.NewPool(1)
		if err != nil {
			return nil, fmt.Errorf("create notify pool: %w", err)
		}
		pool, s.ownPool = p, p
	}
	s.notifier = notify.NewDispatcher("wakeup_listener", pool)
	s.exec = executor.New(&executor.Config{
		Name:     "wakeup_session",
		Capacity: config.ExecutorCapacity,
	})
	s.initStates()
	s.exec.Start()
	return s, nil
}

func (s *Session) initStates() {
	s.table = make(map[State]map[EventType]handlerFunc)
	on := func(st State, ev EventType, h handlerFunc) {
		if s.table[st] == nil {
			s.table[st] = make(map[EventType]handlerFunc)
		}
		s.table[st][ev] = h
	}
	for st := Idle; st <= ReadCapturer; st++ {
		on(st, EventSetListener, s.handleSetListener)
		on(st, EventSetParam, s.handleSetParam)
		on(st, EventGetParam, s.handleGetParam)
		on(st, EventRelease, s.handleRelease)
	}
	for st := Initializing; st <= ReadCapturer; st++ {
		on(st, EventReleaseAdapter, s.handleReleaseAdapter)
	}

	on(Idle, EventInit, s.handleInit)
	on(Idle, EventResetAdapter, s.handleResetFromIdle)

	on(Initializing, EventInitDone, s.handleInitDone)

	on(Initialized, EventStartRecognize, s.handleStartRecognize)

	on(Recognizing, EventStopRecognize, s.handleStopRecognize)
	on(Recognizing, EventRecognizeComplete, s.handleRecognizeComplete)
	on(Recognizing, EventReconfirmComplete, s.handleRecognizeComplete)
	on(Recognizing, EventRecognizingTimeout, s.handleRecognizingTimeout)

	on(Recognized, EventStartCapturer, s.handleStartCapturer)
	on(Recognized, EventGetWakeupPcm, s.handleGetWakeupPcm)
	on(Recognized, EventResetAdapter, s.handleResetFromRecognized)
	on(Recognized, EventRecognizeCompleteTimeout, s.handleRecognizedTimeout)

	on(ReadCapturer, EventRead, s.handleRead)
	on(ReadCapturer, EventStopCapturer, s.handleStopCapturer)
	on(ReadCapturer, EventReadTimeout, s.handleStopCapturer)
}

// State returns the current state.
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) Init() error {
	return s.call(&Event{Type: EventInit})
}

// StartRecognize starts recognition for a detector model.
func (s *Session) StartRecognize(modelUUID int) error {
	return s.call(&Event{Type: EventStartRecognize, ModelUUID: modelUUID})
}

func (s *Session) StopRecognize() error {
	return s.call(&Event{Type: EventStopRecognize})
}

// StartCapturer opens the readback queues for the channels selected by mask.
func (s *Session) StartCapturer(mask int) error {
	return s.call(&Event{Type: EventStartCapturer, Mask: mask})
}

// Read returns the next chunk of every selected channel.
func (s *Session) Read() ([]byte, error) {
	ev := &Event{Type: EventRead}
	err := s.call(ev)
	return ev.Data, err
}

func (s *Session) StopCapturer() error {
	return s.call(&Event{Type: EventStopCapturer})
}

// GetWakeupPcm returns the audio that triggered the last wakeup.
func (s *Session) GetWakeupPcm() ([]byte, error) {
	ev := &Event{Type: EventGetWakeupPcm}
	err := s.call(ev)
	return ev.Data, err
}

// SetListener installs the caller callback. Nil clears it.
func (s *Session) SetListener(l api.EngineListener) error {
	return s.call(&Event{Type: EventSetListener, Listener: l})
}

func (s *Session) SetParameter(keyValueList string) error {
	return s.call(&Event{Type: EventSetParam, Value: keyValueList})
}

func (s *Session) GetParameter(key string) (string, error) {
	ev := &Event{Type: EventGetParam, Key: key}
	err := s.call(ev)
	return ev.Value, err
}

// ReleaseAdapter hands the driver adapter back and keeps the listener for ResetAdapter.
func (s *Session) ReleaseAdapter() error {
	return s.call(&Event{Type: EventReleaseAdapter})
}

// ResetAdapter recreates the driver adapter.
func (s *Session) ResetAdapter() error {
	return s.call(&Event{Type: EventResetAdapter})
}

// Release tears the session down to IDLE.
func (s *Session) Release() error {
	return s.call(&Event{Type: EventRelease})
}

// Handle runs ev synchronously.
func (s *Session) Handle(ev Event) error {
	return s.call(&ev)
}

// Close releases the session and stops its executor. The session is unusable afterwards.
func (s *Session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := s.Release()
	s.exec.Stop()
	s.notifier.Close()
	if s.ownPool != nil {
		s.ownPool.Release()
	}
	return err
}

func (s *Session) call(ev *Event) error {
	var err error
	if serr := s.exec.SubmitSync(func() { err = s.dispatch(ev) }); serr != nil {
		return serr
	}
	return err
}

func (s *Session) post(ev Event) {
	if err := s.exec.Submit(func() { _ = s.dispatch(&ev) }); err != nil {
		log.Debugf("drop %s: %v", ev.Type, err)
	}
}

func (s *Session) dispatch(ev *Event) error {
	cur := s.State()
	if ev.Type.isTimeout() && ev.timerGen != 0 && ev.timerGen != s.timerGen {
		log.Debugf("drop stale %s in %s", ev.Type, cur)
		return nil
	}
	if ev.adapterGen != 0 && ev.adapterGen != s.adapterGen {
		log.Debugf("drop %s from released adapter", ev.Type)
		return nil
	}
	h, ok := s.table[cur][ev.Type]
	if !ok {
		log.Debugf("%s ignored in %s", ev.Type, cur)
		return fmt.Errorf("%s in %s: %w", ev.Type, cur, ErrEventIgnored)
	}
	next, err := h(ev)
	if err != nil {
		log.Warnf("%s in %s failed: %v", ev.Type, cur, err)
	}
	s.transit(cur, next)
	return err
}

func (s *Session) transit(from, to State) {
	if from == to {
		return
	}
	s.cancelTimer()
	// the state timer is armed before the state is published
	s.armTimer(to)
	s.state.Store(int32(to))
	s.metrics.WakeupTransitions.WithLabelValues(from.String(), to.String()).Inc()
	log.Infof("state %s -> %s", from, to)
}

func (s *Session) timeoutOf(st State) (time.Duration, EventType) {
	switch st {
	case Recognizing:
		return s.config.RecognizingTimeout, EventRecognizingTimeout
	case Recognized:
		return s.config.RecognizeCompleteTimeout, EventRecognizeCompleteTimeout
	case ReadCapturer:
		return s.config.ReadCapturerTimeout, EventReadTimeout
	}
	return 0, 0
}

func (s *Session) armTimer(st State) {
	d, evType := s.timeoutOf(st)
	if d <= 0 {
		return
	}
	s.timerGen++
	gen := s.timerGen
	s.timer = s.deps.Timers.StartTimer(d, func() {
		s.post(Event{Type: evType, timerGen: gen})
	})
}

func (s *Session) cancelTimer() {
	if s.timer != 0 {
		s.deps.Timers.Cancel(s.timer)
		s.timer = 0
	}
	s.timerGen++
}

func (s *Session) onDriverEvent(gen uint64, ev api.DriverEvent) {
	var t EventType
	switch ev.Msg {
	case api.MsgInitDone:
		t = EventInitDone
	case api.MsgRecognizeComplete:
		t = EventRecognizeComplete
	case api.MsgReconfirmRecognitionComplete:
		t = EventReconfirmComplete
	default:
		log.Debugf("ignore driver msg %s", ev.Msg)
		return
	}
	s.post(Event{Type: t, Result: ev.Result, Info: ev.Info, adapterGen: gen})
}

func (s *Session) notify(ev api.DriverEvent) {
	l := s.listener
	if l == nil {
		return
	}
	s.notifier.Go(func() { l.OnEvent(ev) })
}

func (s *Session) attachAdapter() error {
	a, err := s.deps.Driver.CreateAdapter(api.AdapterDescriptor{Type: api.EngineWakeup})
	if err != nil {
		return fmt.Errorf("%w: %v", api.ErrDriverCreateFailed, err)
	}
	if a == nil {
		return api.ErrDriverCreateFailed
	}
	s.adapterGen++
	gen := s.adapterGen
	if err := api.CheckStatus("SetCallback", a.SetCallback(func(ev api.DriverEvent) {
		s.onDriverEvent(gen, ev)
	})); err != nil {
		s.releaseDriverAdapter()
		return err
	}
	s.applyParams(a)
	info := api.AttachInfo{
		WakeupPhrase:   history.DefaultWakeupPhrase,
		MinBufferSize:  s.config.BufferSize,
		SampleChannels: 1,
		BitsPerSample:  bitsPerSample,
		SampleRate:     sampleRate,
	}
	if s.deps.History != nil {
		info.WakeupPhrase = s.deps.History.WakeupPhrase()
	}
	if err := api.CheckStatus("Attach", a.Attach(info)); err != nil {
		s.releaseDriverAdapter()
		return err
	}
	s.adapter = a
	return nil
}

func (s *Session) applyParams(a api.Adapter) {
	mode := "WakeupMode=0"
	if s.deps.ShortWord != nil && s.deps.ShortWord() {
		mode = "WakeupMode=1"
	}
	params := []string{mode}
	if h := s.deps.History; h != nil {
		if v := h.Language(); v != "" {
			params = append(params, "language="+v)
		}
		if v := h.Area(); v != "" {
			params = append(params, "area="+v)
		}
		params = append(params, "sensibility="+strconv.Itoa(h.Sensibility()))
	}
	for _, p := range params {
		if code := a.SetParameter(p); code != 0 {
			log.Warnf("set %s failed, code:%d", p, code)
		}
	}
}

func (s *Session) detachAdapter() {
	if s.adapter == nil {
		return
	}
	if code := s.adapter.Detach(); code != 0 {
		log.Warnf("detach failed, code:%d", code)
	}
	s.adapter = nil
	s.adapterGen++
	s.releaseDriverAdapter()
}

func (s *Session) releaseDriverAdapter() {
	if err := s.deps.Driver.ReleaseAdapter(api.AdapterDescriptor{Type: api.EngineWakeup}); err != nil {
		log.Warnf("release adapter failed: %v", err)
	}
}

func (s *Session) stopAdapter() {
	if s.adapter == nil {
		return
	}
	if code := s.adapter.Stop(); code != 0 {
		log.Warnf("stop failed, code:%d", code)
	}
}

func (s *Session) sourceChannels() uint32 {
	if s.config.Channels > 0 {
		return s.config.Channels
	}
	if s.adapter != nil {
		v, code := s.adapter.GetParameter(ParamSourceChannel)
		if n, err := strconv.Atoi(v); code == 0 && err == nil && n >= 1 && n <= MaxChannels {
			return uint32(n)
		}
	}
	return 1
}

func (s *Session) startCapture(readback bool) error {
	channels := s.sourceChannels()
	var src *Source
	if readback {
		var err error
		src, err = NewSource(channels, s.config.QueueCapacity, s.config.ReadWait, s.metrics.DroppedChunks)
		if err != nil {
			return err
		}
	}
	a, channelID := s.adapter, s.channelID
	onBuffer := func(buf []byte, isEnd bool) {
		feedAudio(a, src, channels, channelID, buf, isEnd)
	}
	if err := s.deps.Capturer.Start(s.config.BufferSize*channels, channels, onBuffer); err != nil {
		if src != nil {
			src.Close()
		}
		return fmt.Errorf("start capturer: %w", err)
	}
	s.capturing = true
	s.channels = channels
	s.source = src
	return nil
}

func (s *Session) stopCapture() {
	if s.capturing {
		if err := s.deps.Capturer.Stop(); err != nil {
			log.Warnf("stop capturer failed: %v", err)
		}
		s.capturing = false
	}
	if s.source != nil {
		s.source.Close()
		s.source = nil
	}
}

// feedAudio runs on the capture goroutine. It touches only the adapter and source
// captured when the capture started.
func feedAudio(a api.Adapter, src *Source, channels uint32, channelID int, buf []byte, isEnd bool) {
	if len(buf) > 0 {
		data, err := Deinterleave(buf, int(channels))
		if err != nil {
			log.Warnf("deinterleave failed: %v", err)
			return
		}
		switch {
		case src != nil:
			src.Write(data)
		case a == nil || isEnd:
		case channelID >= len(data):
			log.Warnf("channel %d not captured, channels:%d", channelID, len(data))
		case channelID == 1:
			// proximal wakeup consumes channels 0 and 1
			joined := make([]byte, 0, len(data[0])+len(data[1]))
			joined = append(joined, data[0]...)
			a.WriteAudio(append(joined, data[1]...))
		default:
			a.WriteAudio(data[channelID])
		}
	}
	if isEnd && src == nil && a != nil {
		a.SetParameter("end_of_pcm=true")
	}
}

func (s *Session) handleInit(*Event) (State, error) {
	if err := s.attachAdapter(); err != nil {
		return Idle, err
	}
	return Initializing, nil
}

func (s *Session) handleInitDone(ev *Event) (State, error) {
	s.notify(api.DriverEvent{Msg: api.MsgInitDone, Result: ev.Result})
	if ev.Result != 0 {
		log.Warnf("init done failed, result:%d", ev.Result)
		s.detachAdapter()
		return Idle, nil
	}
	return Initialized, nil
}

func (s *Session) handleStartRecognize(ev *Event) (State, error) {
	if s.adapter == nil {
		return Initialized, fmt.Errorf("no adapter: %w", api.ErrNotFound)
	}
	s.channelID = 0
	wakeupType := "WakeupType=0"
	if ev.ModelUUID == api.ProximalWakeupModelUUID {
		s.channelID = 1
		wakeupType = "WakeupType=3"
	}
	if code := s.adapter.SetParameter(wakeupType); code != 0 {
		log.Warnf("set %s failed, code:%d", wakeupType, code)
	}
	if err := api.CheckStatus("Start", s.adapter.Start(api.StartInfo{IsLast: true})); err != nil {
		return Initialized, err
	}
	if err := s.startCapture(false); err != nil {
		s.stopAdapter()
		return Initialized, err
	}
	return Recognizing, nil
}

func (s *Session) handleStopRecognize(*Event) (State, error) {
	s.stopCapture()
	s.stopAdapter()
	return Initialized, nil
}

func (s *Session) handleRecognizeComplete(ev *Event) (State, error) {
	s.stopCapture()
	s.stopAdapter()
	msg := api.MsgRecognizeComplete
	if ev.Type == EventReconfirmComplete {
		msg = api.MsgReconfirmRecognitionComplete
	}
	s.notify(api.DriverEvent{Msg: msg, Result: ev.Result, Info: ev.Info})
	if ev.Result != 0 {
		return Initialized, nil
	}
	return Recognized, nil
}

func (s *Session) handleRecognizingTimeout(*Event) (State, error) {
	s.stopCapture()
	s.stopAdapter()
	s.notify(api.DriverEvent{Msg: api.MsgRecognizeComplete, Result: ResultTimeout, Info: "timeout"})
	return Initialized, nil
}

func (s *Session) handleRecognizedTimeout(*Event) (State, error) {
	return Initialized, nil
}

func (s *Session) handleStartCapturer(ev *Event) (State, error) {
	if !ValidMask(ev.Mask) {
		return Recognized, fmt.Errorf("channel mask %d: %w", ev.Mask, api.ErrInvalidParam)
	}
	if err := s.startCapture(true); err != nil {
		return Recognized, err
	}
	s.readMask = ev.Mask
	return ReadCapturer, nil
}

func (s *Session) handleRead(ev *Event) (State, error) {
	data, err := s.source.Read(s.readMask)
	if err != nil {
		return ReadCapturer, err
	}
	ev.Data = data
	s.cancelTimer()
	s.armTimer(ReadCapturer)
	return ReadCapturer, nil
}

func (s *Session) handleStopCapturer(*Event) (State, error) {
	s.stopCapture()
	return Recognized, nil
}

func (s *Session) handleGetWakeupPcm(ev *Event) (State, error) {
	data, code := s.adapter.GetWakeupPcm()
	if err := api.CheckStatus("GetWakeupPcm", code); err != nil {
		return Recognized, err
	}
	ev.Data = data
	return Recognized, nil
}

func (s *Session) handleResetFromIdle(*Event) (State, error) {
	if !s.retained {
		return Idle, fmt.Errorf("no released adapter to reset: %w", ErrEventIgnored)
	}
	if err := s.attachAdapter(); err != nil {
		return Idle, err
	}
	s.retained = false
	return Initializing, nil
}

func (s *Session) handleResetFromRecognized(*Event) (State, error) {
	s.detachAdapter()
	if err := s.attachAdapter(); err != nil {
		s.retained = true
		return Idle, err
	}
	return Initialized, nil
}

func (s *Session) handleReleaseAdapter(*Event) (State, error) {
	s.stopCapture()
	s.stopAdapter()
	s.detachAdapter()
	s.retained = true
	return Idle, nil
}

func (s *Session) handleRelease(*Event) (State, error) {
	s.stopCapture()
	s.stopAdapter()
	s.detachAdapter()
	s.listener = nil
	s.retained = false
	return Idle, nil
}

func (s *Session) handleSetListener(ev *Event) (State, error) {
	s.listener = ev.Listener
	return s.State(), nil
}

func (s *Session) handleSetParam(ev *Event) (State, error) {
	if s.adapter == nil {
		return s.State(), fmt.Errorf("no adapter: %w", api.ErrNotFound)
	}
	return s.State(), api.CheckStatus("SetParameter", s.adapter.SetParameter(ev.Value))
}

func (s *Session) handleGetParam(ev *Event) (State, error) {
	if ev.Key == ParamSourceChannel && s.channels > 0 {
		ev.Value = strconv.Itoa(int(s.channels))
		return s.State(), nil
	}
	if s.adapter == nil {
		return s.State(), fmt.Errorf("no adapter: %w", api.ErrNotFound)
	}
	v, code := s.adapter.GetParameter(ev.Key)
	ev.Value = v
	return s.State(), api.CheckStatus("GetParameter", code)
}
