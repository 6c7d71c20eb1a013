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

package wakeup

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/suite"

	"github.com/srediag/plugin-voice/adapter"
	"github.com/srediag/plugin-voice/api"
	"github.com/srediag/plugin-voice/internal/metrics"
	"github.com/srediag/plugin-voice/pkg/executor"
	"github.com/srediag/plugin-voice/pkg/history"
	"github.com/srediag/plugin-voice/pkg/timer"
)

type recordingListener struct {
	mu     sync.Mutex
	events []api.DriverEvent
}

func (l *recordingListener) OnEvent(ev api.DriverEvent) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *recordingListener) Events() []api.DriverEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]api.DriverEvent(nil), l.events...)
}

func (l *recordingListener) Has(msg api.DriverMsg, result int32) bool {
	for _, ev := range l.Events() {
		if ev.Msg == msg && ev.Result == result {
			return true
		}
	}
	return false
}

type SessionTestSuite struct {
	suite.Suite
	clock    *clock.Mock
	driver   *adapter.SimDriver
	capturer *adapter.SimCapturer
	listener *recordingListener
	metrics  *metrics.Metrics
	history  *history.History
	session  *Session
}

func (s *SessionTestSuite) newSession(channels uint32) *Session {
	config := DefaultConfig()
	config.Channels = channels
	config.ReadWait = 50 * time.Millisecond
	sess, err := New(config, Deps{
		Driver:   s.driver,
		Capturer: s.capturer,
		Timers:   timer.New(s.clock),
		History:  s.history,
		Metrics:  s.metrics,
	})
	s.Require().Nil(err)
	return sess
}

func (s *SessionTestSuite) SetupTest() {
	s.clock = clock.NewMock()
	s.driver = adapter.NewSimDriver()
	s.capturer = &adapter.SimCapturer{}
	s.listener = &recordingListener{}
	s.metrics = metrics.New()
	s.history = history.New(adapter.NewMemoryHistory())
	s.session = s.newSession(1)
}

func (s *SessionTestSuite) TearDownTest() {
	s.Require().Nil(s.session.Close())
}

func (s *SessionTestSuite) waitState(st State) {
	s.Require().Eventually(func() bool { return s.session.State() == st }, time.Second, time.Millisecond,
		"want %s, have %s", st, s.session.State())
}

func (s *SessionTestSuite) toInitialized() {
	s.Require().Nil(s.session.SetListener(s.listener))
	s.Require().Nil(s.session.Init())
	s.waitState(Initialized)
}

func (s *SessionTestSuite) toRecognized() {
	s.toInitialized()
	s.Require().Nil(s.session.StartRecognize(api.VoiceWakeupModelUUID))
	s.Require().Equal(Recognizing, s.session.State())
	s.driver.Adapter(api.EngineWakeup).Emit(api.DriverEvent{Msg: api.MsgRecognizeComplete})
	s.waitState(Recognized)
}

func (s *SessionTestSuite) TestInit() {
	s.toInitialized()
	a := s.driver.Adapter(api.EngineWakeup)
	s.Require().NotNil(a)
	s.Require().Equal(1, a.Count("SetCallback"))
	s.Require().Equal(1, a.Count("Attach"))
	s.Require().Equal("0", a.Param("WakeupMode"))
	s.Require().Eventually(func() bool { return s.listener.Has(api.MsgInitDone, 0) }, time.Second, time.Millisecond)
	s.Require().Equal(float64(1), metrics.Value(s.metrics.WakeupTransitions.WithLabelValues("IDLE", "INITIALIZING")))
}

func (s *SessionTestSuite) TestInitDoneFailure() {
	s.driver.AutoInit(true, 3)
	s.Require().Nil(s.session.Init())
	s.waitState(Idle)
	s.Require().Eventually(func() bool { return s.driver.Released(api.EngineWakeup) == 1 }, time.Second, time.Millisecond)
}

func (s *SessionTestSuite) TestInitCreateFailure() {
	s.driver.FailCreate(api.EngineWakeup, true)
	err := s.session.Init()
	s.Require().ErrorIs(err, api.ErrDriverCreateFailed)
	s.Require().Equal(Idle, s.session.State())
}

func (s *SessionTestSuite) TestRecognizeSuccess() {
	s.toInitialized()
	s.Require().Nil(s.session.StartRecognize(api.VoiceWakeupModelUUID))
	s.Require().Equal(Recognizing, s.session.State())
	s.Require().True(s.capturer.Running())

	s.Require().True(s.capturer.Feed([]byte{1, 0, 2, 0}, false))
	a := s.driver.Adapter(api.EngineWakeup)
	s.Require().Equal(4, a.Written())
	s.Require().Equal("0", a.Param("WakeupType"))

	a.Emit(api.DriverEvent{Msg: api.MsgRecognizeComplete, Info: "score=90"})
	s.waitState(Recognized)
	s.Require().False(s.capturer.Running())
	s.Require().Equal(1, a.Count("Stop"))
	s.Require().Eventually(func() bool { return s.listener.Has(api.MsgRecognizeComplete, 0) }, time.Second, time.Millisecond)
}

func (s *SessionTestSuite) TestRecognizeFailure() {
	s.toInitialized()
	s.Require().Nil(s.session.StartRecognize(api.VoiceWakeupModelUUID))
	s.driver.Adapter(api.EngineWakeup).Emit(api.DriverEvent{Msg: api.MsgRecognizeComplete, Result: 1})
	s.waitState(Initialized)
	s.Require().False(s.capturer.Running())
}

func (s *SessionTestSuite) TestStopRecognize() {
	s.toInitialized()
	s.Require().Nil(s.session.StartRecognize(api.VoiceWakeupModelUUID))
	s.Require().Nil(s.session.StopRecognize())
	s.Require().Equal(Initialized, s.session.State())
	s.Require().Equal(1, s.capturer.Stops())

	// the cancelled recognizing timer never fires
	s.clock.Add(DefaultRecognizingTimeout)
	time.Sleep(10 * time.Millisecond)
	s.Require().Equal(Initialized, s.session.State())
	s.Require().False(s.listener.Has(api.MsgRecognizeComplete, ResultTimeout))
}

func (s *SessionTestSuite) TestRecognizingTimeout() {
	s.toInitialized()
	s.Require().Nil(s.session.StartRecognize(api.VoiceWakeupModelUUID))
	s.clock.Add(DefaultRecognizingTimeout)
	s.waitState(Initialized)
	s.Require().Equal(1, s.capturer.Stops())
	s.Require().Eventually(func() bool { return s.listener.Has(api.MsgRecognizeComplete, ResultTimeout) }, time.Second, time.Millisecond)
}

func (s *SessionTestSuite) TestRecognizingTimeoutIgnoredOutsideRecognizing() {
	s.toInitialized()
	err := s.session.Handle(Event{Type: EventRecognizingTimeout})
	s.Require().ErrorIs(err, ErrEventIgnored)
	s.Require().Equal(Initialized, s.session.State())
	s.Require().Equal(0, s.capturer.Stops())
}

func (s *SessionTestSuite) TestRecognizedTimeout() {
	s.toRecognized()
	s.clock.Add(DefaultRecognizeCompleteTimeout)
	s.waitState(Initialized)
}

func (s *SessionTestSuite) TestReadback() {
	s.toRecognized()
	s.Require().Nil(s.session.StartCapturer(1))
	s.Require().Equal(ReadCapturer, s.session.State())
	s.Require().True(s.capturer.Feed([]byte{1, 2, 3, 4}, false))
	s.Require().True(s.capturer.Feed([]byte{5, 6}, false))

	data, err := s.session.Read()
	s.Require().Nil(err)
	s.Require().Equal([]byte{1, 2, 3, 4}, data)
	data, err = s.session.Read()
	s.Require().Nil(err)
	s.Require().Equal([]byte{5, 6}, data)

	_, err = s.session.Read()
	s.Require().ErrorIs(err, api.ErrTimeout)
	s.Require().Equal(ReadCapturer, s.session.State())

	s.Require().Nil(s.session.StopCapturer())
	s.Require().Equal(Recognized, s.session.State())
	s.Require().False(s.capturer.Running())
}

func (s *SessionTestSuite) TestReadRearmsTimeout() {
	s.toRecognized()
	s.Require().Nil(s.session.StartCapturer(1))
	s.clock.Add(DefaultReadCapturerTimeout - time.Second)
	s.Require().True(s.capturer.Feed([]byte{1, 2}, false))
	_, err := s.session.Read()
	s.Require().Nil(err)

	s.clock.Add(DefaultReadCapturerTimeout - time.Second)
	time.Sleep(10 * time.Millisecond)
	s.Require().Equal(ReadCapturer, s.session.State())

	s.clock.Add(time.Second)
	s.waitState(Recognized)
	s.Require().False(s.capturer.Running())
}

func (s *SessionTestSuite) TestInvalidMask() {
	s.toRecognized()
	s.Require().ErrorIs(s.session.StartCapturer(0), api.ErrInvalidParam)
	s.Require().ErrorIs(s.session.StartCapturer(1<<MaxChannels), api.ErrInvalidParam)
	s.Require().Equal(Recognized, s.session.State())
}

func (s *SessionTestSuite) TestGetWakeupPcm() {
	s.toRecognized()
	pcm, err := s.session.GetWakeupPcm()
	s.Require().Nil(err)
	s.Require().Equal([]byte{1, 2, 3, 4}, pcm)

	s.driver.Adapter(api.EngineWakeup).Fail("GetWakeupPcm", 7)
	_, err = s.session.GetWakeupPcm()
	var derr *api.DriverCallError
	s.Require().True(errors.As(err, &derr))
	s.Require().Equal(int32(7), derr.Code)
}

func (s *SessionTestSuite) TestReleaseFromReadCapturer() {
	s.toRecognized()
	s.Require().Nil(s.session.StartCapturer(1))
	a := s.driver.Adapter(api.EngineWakeup)
	s.Require().Nil(s.session.Release())
	s.Require().Equal(Idle, s.session.State())
	s.Require().False(s.capturer.Running())
	s.Require().Equal(1, a.Count("Detach"))
	s.Require().Equal(1, s.driver.Released(api.EngineWakeup))

	_, err := s.session.Read()
	s.Require().ErrorIs(err, ErrEventIgnored)
	s.Require().Nil(s.session.Release())
}

func (s *SessionTestSuite) TestReleaseAdapterAndReset() {
	s.Require().ErrorIs(s.session.ResetAdapter(), ErrEventIgnored)
	s.toInitialized()
	s.Require().Nil(s.session.ReleaseAdapter())
	s.Require().Equal(Idle, s.session.State())
	s.Require().Equal(1, s.driver.Released(api.EngineWakeup))

	s.Require().Nil(s.session.ResetAdapter())
	s.waitState(Initialized)
	s.Require().Equal(2, s.driver.Created(api.EngineWakeup))
}

func (s *SessionTestSuite) TestResetFromRecognized() {
	s.toRecognized()
	s.Require().Nil(s.session.ResetAdapter())
	s.Require().Equal(Initialized, s.session.State())
	s.Require().Equal(2, s.driver.Created(api.EngineWakeup))
	s.Require().Equal(1, s.driver.Released(api.EngineWakeup))
}

func (s *SessionTestSuite) TestParameters() {
	s.Require().ErrorIs(s.session.SetParameter("k=v"), api.ErrNotFound)
	s.toInitialized()
	s.Require().Nil(s.session.SetParameter("k=v"))
	v, err := s.session.GetParameter("k")
	s.Require().Nil(err)
	s.Require().Equal("v", v)
}

func (s *SessionTestSuite) TestStaleDriverEventDropped() {
	s.toInitialized()
	old := s.driver.Adapter(api.EngineWakeup)
	s.Require().Nil(s.session.ReleaseAdapter())
	s.Require().Nil(s.session.ResetAdapter())
	s.waitState(Initialized)
	s.Require().Nil(s.session.StartRecognize(api.VoiceWakeupModelUUID))

	old.Emit(api.DriverEvent{Msg: api.MsgRecognizeComplete})
	old.Wait()
	s.Require().Nil(s.session.SetParameter("sync=1"))
	s.Require().Equal(Recognizing, s.session.State())
}

func (s *SessionTestSuite) TestProximalWakeupUsesTwoChannels() {
	s.Require().Nil(s.session.Close())
	s.session = s.newSession(2)
	s.toInitialized()
	s.Require().Nil(s.session.StartRecognize(api.ProximalWakeupModelUUID))
	a := s.driver.Adapter(api.EngineWakeup)
	s.Require().Equal("3", a.Param("WakeupType"))
	s.Require().Equal(uint32(2), s.capturer.Channels())

	// two frames of two channels
	s.Require().True(s.capturer.Feed([]byte{1, 0, 2, 0, 3, 0, 4, 0}, false))
	s.Require().Equal(8, a.Written())
}

func (s *SessionTestSuite) TestChannelsFromDriver() {
	s.Require().Nil(s.session.Close())
	s.driver.SetDriverParameter(ParamSourceChannel, "4")
	s.session = s.newSession(0)
	s.toRecognized()
	s.Require().Nil(s.session.StartCapturer(0b0010))
	s.Require().Equal(uint32(4), s.capturer.Channels())
	v, err := s.session.GetParameter(ParamSourceChannel)
	s.Require().Nil(err)
	s.Require().Equal("4", v)
}

func (s *SessionTestSuite) TestCloseIsIdempotent() {
	s.toInitialized()
	s.Require().Nil(s.session.Close())
	s.Require().Nil(s.session.Close())
	s.Require().ErrorIs(s.session.Init(), executor.ErrExecutorStopped)
}

func TestSessionTestSuite(t *testing.T) {
	suite.Run(t, new(SessionTestSuite))
}
