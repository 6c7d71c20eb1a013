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
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/srediag/plugin-voice/adapter"
	"github.com/srediag/plugin-voice/api"
	"github.com/srediag/plugin-voice/pkg/arbitration"
	"github.com/srediag/plugin-voice/pkg/engine"
	"github.com/srediag/plugin-voice/pkg/history"
	"github.com/srediag/plugin-voice/pkg/switches"
	"github.com/srediag/plugin-voice/pkg/wakeup"
)

const banner = "wakeup_v.5.2.1"

type ServiceTestSuite struct {
	suite.Suite
	clock      *clock.Mock
	driver     *adapter.SimDriver
	capturer   *adapter.SimCapturer
	switches   *adapter.MemorySwitches
	store      *adapter.MemoryHistory
	whispering bool
	svc        *Service
}

func (s *ServiceTestSuite) SetupTest() {
	s.clock = clock.NewMock()
	s.driver = adapter.NewSimDriver()
	s.capturer = &adapter.SimCapturer{}
	s.switches = adapter.NewMemorySwitches()
	s.store = adapter.NewMemoryHistory()
	s.whispering = false
	s.svc = nil
}

func (s *ServiceTestSuite) TearDownTest() {
	if s.svc != nil {
		s.Require().Nil(s.svc.Close())
	}
}

func (s *ServiceTestSuite) start() {
	svc, err := New(DefaultConfig(), Deps{
		Driver:         s.driver,
		Capturer:       s.capturer,
		Switches:       s.switches,
		History:        s.store,
		Clock:          s.clock,
		CurrentVersion: func() string { return banner },
		Whispering:     func() bool { return s.whispering },
	})
	s.Require().Nil(err)
	s.svc = svc
}

func (s *ServiceTestSuite) enrolled(version string) {
	s.Require().Nil(s.store.Set(history.KeyWakeupVersion, version))
}

func (s *ServiceTestSuite) exists(t api.EngineType) bool {
	return s.svc.Manager().IsEngineExist(t)
}

func (s *ServiceTestSuite) waitWakeup(st wakeup.State) {
	s.Require().Eventually(func() bool {
		w, ok := s.svc.Manager().Wakeup()
		return ok && w.State() == st
	}, time.Second, time.Millisecond)
}

func (s *ServiceTestSuite) started(uuid int) bool {
	d, ok := s.svc.Registry().Get(uuid)
	return ok && d.Started()
}

func (s *ServiceTestSuite) TestSwitchOnWithoutEnrollment() {
	s.switches.Set(switches.WakeupKey, true)
	s.start()
	s.Require().False(s.exists(api.EngineWakeup))
	s.Require().Empty(s.svc.Registry().All())
	s.Require().False(s.svc.IsNeedToUnload())
}

func (s *ServiceTestSuite) TestSwitchOnAndOff() {
	s.enrolled("050201")
	s.switches.Set(switches.WakeupKey, true)
	s.start()
	s.Require().True(s.exists(api.EngineWakeup))
	s.Require().True(s.started(api.VoiceWakeupModelUUID))
	s.waitWakeup(wakeup.Initialized)

	s.switches.Set(switches.WakeupKey, false)
	s.Require().Eventually(func() bool { return !s.exists(api.EngineWakeup) }, time.Second, time.Millisecond)
	s.Require().Empty(s.svc.Registry().All())
	s.Require().True(s.svc.IsNeedToUnload())
}

func (s *ServiceTestSuite) TestWhisperKeepsWakeupWhenWakeSwitchOff() {
	s.enrolled("050201")
	s.switches.Set(switches.WakeupKey, true)
	s.switches.Set(switches.WhisperKey, true)
	s.start()
	s.Require().True(s.started(api.VoiceWakeupModelUUID))
	s.Require().True(s.started(api.ProximalWakeupModelUUID))

	s.switches.Set(switches.WakeupKey, false)
	s.Require().Eventually(func() bool {
		_, ok := s.svc.Registry().Get(api.VoiceWakeupModelUUID)
		return !ok
	}, time.Second, time.Millisecond)
	s.Require().True(s.exists(api.EngineWakeup))
	s.Require().True(s.started(api.ProximalWakeupModelUUID))
}

func (s *ServiceTestSuite) TestDetectionStartsRecognize() {
	s.enrolled("050201")
	s.switches.Set(switches.WakeupKey, true)
	s.start()
	s.waitWakeup(wakeup.Initialized)

	s.Require().True(s.svc.Registry().Fire(api.VoiceWakeupModelUUID))
	s.Require().False(s.svc.Registry().Fire(api.VoiceWakeupModelUUID))
	s.waitWakeup(wakeup.Recognizing)
}

func (s *ServiceTestSuite) TestDetectionWithoutWakeupRestartsDetector() {
	s.enrolled("050201")
	s.switches.Set(switches.WakeupKey, true)
	s.start()
	s.Require().Nil(s.svc.Manager().ReleaseEngine(context.Background(), api.EngineWakeup))

	s.Require().True(s.svc.Registry().Fire(api.VoiceWakeupModelUUID))
	s.Require().Eventually(func() bool { return s.started(api.VoiceWakeupModelUUID) }, time.Second, time.Millisecond)
	s.Require().False(s.exists(api.EngineWakeup))
}

func (s *ServiceTestSuite) TestEnrollReleaseBringsWakeupUp() {
	s.switches.Set(switches.WakeupKey, true)
	s.start()
	s.Require().False(s.exists(api.EngineWakeup))

	_, err := s.svc.CreateEngine(context.Background(), api.EngineEnroll, "")
	s.Require().Nil(err)
	s.Require().Nil(s.svc.Manager().Do(context.Background(), func(tx *engine.Tx) error {
		en, _ := tx.Enroll()
		return en.Attach(api.AttachInfo{WakeupPhrase: "hey"}, true)
	}))
	s.driver.Adapter(api.EngineEnroll).Complete(0)
	s.Require().Eventually(s.svc.Manager().EnrollResult, time.Second, time.Millisecond)

	s.Require().Nil(s.svc.ReleaseEngine(context.Background(), api.EngineEnroll))
	s.Require().Equal("050201", s.svc.History().WakeupVersion())
	s.Require().True(s.exists(api.EngineWakeup))
	s.Require().True(s.started(api.VoiceWakeupModelUUID))
	s.waitWakeup(wakeup.Initialized)
}

func (s *ServiceTestSuite) TestSilenceUpdateRestoresWakeup() {
	s.enrolled("040000")
	s.switches.Set(switches.WakeupKey, true)
	s.start()
	s.waitWakeup(wakeup.Initialized)

	s.Require().Nil(s.svc.SilenceUpdate(context.Background()))
	s.Require().True(s.exists(api.EngineUpdate))
	s.Require().Equal(wakeup.Idle, s.mustWakeup().State())

	s.driver.Adapter(api.EngineUpdate).Complete(0)
	s.Require().Eventually(func() bool { return !s.svc.Manager().IsUpdating() }, time.Second, time.Millisecond)
	s.Require().Equal("050201", s.svc.History().WakeupVersion())
	s.waitWakeup(wakeup.Initialized)
	s.Require().True(s.started(api.VoiceWakeupModelUUID))
}

func (s *ServiceTestSuite) TestUpdatesRestrained() {
	s.start()
	s.Require().ErrorIs(s.svc.CloneUpdate(context.Background(), "clone", nil), api.ErrUpdateRestrained)

	s.enrolled("050201")
	s.Require().ErrorIs(s.svc.SilenceUpdate(context.Background()), api.ErrUpdateRestrained)
	s.Require().False(s.exists(api.EngineUpdate))
}

func (s *ServiceTestSuite) TestWhisperUpdateSetsVpr() {
	s.start()
	s.Require().Nil(s.svc.WhisperUpdate(context.Background(), "whisper=1"))
	s.driver.Adapter(api.EngineUpdate).Complete(0)
	s.Require().Eventually(s.svc.History().WhisperVpr, time.Second, time.Millisecond)
}

func (s *ServiceTestSuite) TestServiceParameters() {
	s.driver.SetDriverParameter(ParamWakeupFeatures, "dsp=2")
	s.whispering = true
	s.start()

	v, err := s.svc.GetParameter(api.EngineWakeup, ParamIsEnrolled)
	s.Require().Nil(err)
	s.Require().Equal("false", v)
	v, _ = s.svc.GetParameter(api.EngineWakeup, ParamIsWhispering)
	s.Require().Equal("1", v)

	s.enrolled("040000")
	v, _ = s.svc.GetParameter(api.EngineWakeup, ParamIsEnrolled)
	s.Require().Equal("true", v)
	v, _ = s.svc.GetParameter(api.EngineWakeup, ParamIsNeedReEnroll)
	s.Require().Equal("true", v)

	v, _ = s.svc.GetParameter(api.EngineWakeup, ParamWakeupFeatures)
	s.Require().Equal("", v)
	_, err = s.svc.CreateEngine(context.Background(), api.EngineWakeup, "")
	s.Require().Nil(err)
	v, _ = s.svc.GetParameter(api.EngineWakeup, ParamWakeupFeatures)
	s.Require().Equal("dsp=2", v)
	s.Require().Nil(s.svc.ReleaseEngine(context.Background(), api.EngineWakeup))
	v, _ = s.svc.GetParameter(api.EngineWakeup, ParamWakeupFeatures)
	s.Require().Equal("dsp=2", v)

	_, err = s.svc.GetParameter(api.EngineEnroll, "language")
	s.Require().ErrorIs(err, api.ErrNotFound)
	s.Require().ErrorIs(s.svc.SetParameter(api.EngineEnroll, "language=en"), api.ErrNotFound)
}

func (s *ServiceTestSuite) TestShortWordResetsWakeup() {
	s.enrolled("050201")
	s.switches.Set(switches.WakeupKey, true)
	s.start()
	s.waitWakeup(wakeup.Initialized)
	s.Require().Equal("0", s.driver.Adapter(api.EngineWakeup).Param("WakeupMode"))

	s.switches.Set(switches.ShortWordKey, true)
	s.Require().Eventually(func() bool { return s.driver.Created(api.EngineWakeup) == 2 }, time.Second, time.Millisecond)
	s.waitWakeup(wakeup.Initialized)
	s.Require().Equal("1", s.driver.Adapter(api.EngineWakeup).Param("WakeupMode"))
	s.Require().Eventually(func() bool { return s.started(api.VoiceWakeupModelUUID) }, time.Second, time.Millisecond)
}

func (s *ServiceTestSuite) TestWakeupCallsNeedEngine() {
	s.start()
	s.Require().ErrorIs(s.svc.StartRecognize(api.VoiceWakeupModelUUID), api.ErrNotFound)
	_, err := s.svc.Read()
	s.Require().ErrorIs(err, api.ErrNotFound)
	_, err = s.svc.GetWakeupPcm()
	s.Require().ErrorIs(err, api.ErrNotFound)
	s.Require().ErrorIs(s.svc.StartCapturer(1), api.ErrNotFound)
	s.Require().ErrorIs(s.svc.StopCapturer(), api.ErrNotFound)
}

func (s *ServiceTestSuite) TestClearUserData() {
	s.enrolled("050201")
	s.Require().Nil(s.store.Set(history.KeyWakeupEngineBundleName, "bundle"))
	s.switches.Set(switches.WakeupKey, true)
	s.start()
	s.Require().True(s.exists(api.EngineWakeup))

	s.Require().Nil(s.svc.ClearUserData(context.Background()))
	s.Require().Empty(s.svc.Manager().LiveTypes())
	s.Require().False(s.svc.History().Enrolled())
	s.Require().Equal("bundle", s.svc.History().Get(history.KeyWakeupEngineBundleName))
	s.Require().Empty(s.svc.Registry().All())
}

func (s *ServiceTestSuite) TestIsNeedToUnload() {
	s.start()
	s.Require().True(s.svc.IsNeedToUnload())
	_, err := s.svc.CreateEngine(context.Background(), api.EngineEnroll, "")
	s.Require().Nil(err)
	s.Require().False(s.svc.IsNeedToUnload())
}

func (s *ServiceTestSuite) TestDeathRecipient() {
	s.start()
	_, err := s.svc.CreateEngine(context.Background(), api.EngineEnroll, "")
	s.Require().Nil(err)
	n := &adapter.DeathNotifier{}
	s.Require().Nil(s.svc.RegisterDeathRecipient(api.EngineEnroll, n))
	n.Kill()
	s.Require().Eventually(func() bool { return !s.exists(api.EngineEnroll) }, time.Second, time.Millisecond)
	s.svc.DeregisterDeathRecipient(api.EngineEnroll)
}

func (s *ServiceTestSuite) TestCloseAndHealth() {
	s.start()
	ready := func() int {
		rec := httptest.NewRecorder()
		s.svc.HealthHandler().ReadyEndpoint(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
		return rec.Code
	}
	s.Require().Equal(http.StatusOK, ready())

	s.Require().Nil(s.svc.Close())
	s.Require().Nil(s.svc.Close())
	s.Require().Equal(http.StatusServiceUnavailable, ready())
	_, err := s.svc.CreateEngine(context.Background(), api.EngineEnroll, "")
	s.Require().ErrorIs(err, ErrClosed)
	s.Require().ErrorIs(s.svc.OnDetected(api.VoiceWakeupModelUUID), ErrClosed)
	s.svc = nil
}

func (s *ServiceTestSuite) mustWakeup() *engine.WakeupEngine {
	w, ok := s.svc.Manager().Wakeup()
	s.Require().True(ok)
	return w
}

func TestServiceTestSuite(t *testing.T) {
	suite.Run(t, new(ServiceTestSuite))
}

func TestVerifyConfig(t *testing.T) {
	assert.Nil(t, VerifyConfig(DefaultConfig()))

	c := DefaultConfig()
	c.WakeupRelease = "keep"
	assert.ErrorIs(t, VerifyConfig(c), api.ErrInvalidParam)

	c = DefaultConfig()
	c.Arbitration = []RuleConfig{{Requested: "UPDATE", Existing: "WAKEUP", Kind: "sometimes"}}
	assert.ErrorIs(t, VerifyConfig(c), api.ErrInvalidParam)

	c = DefaultConfig()
	c.ExecutorCapacity = 0
	assert.NotNil(t, VerifyConfig(c))

	c = DefaultConfig()
	level := 9
	c.LogLevel = &level
	assert.NotNil(t, VerifyConfig(c))
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voice.yaml")
	require.Nil(t, os.WriteFile(path, []byte(`
update_retry_delay: 45s
read_wait: 200ms
channels: 4
wakeup_release: detach
arbitration:
  - requested: update
    existing: wakeup
    kind: reject
`), 0o600))

	c, err := LoadConfig(path)
	require.Nil(t, err)
	assert.Equal(t, 45*time.Second, c.UpdateRetryDelay)
	assert.Equal(t, 200*time.Millisecond, c.ReadWait)
	assert.Equal(t, uint32(4), c.Channels)
	assert.Equal(t, "detach", c.WakeupRelease)
	assert.Equal(t, DefaultConfig().ExecutorCapacity, c.ExecutorCapacity)

	p, err := c.policy()
	require.Nil(t, err)
	assert.Equal(t, arbitration.Reject, p.Relation(api.EngineUpdate, api.EngineWakeup))
	assert.Equal(t, arbitration.Preempt, p.Relation(api.EngineEnroll, api.EngineWakeup))

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.NotNil(t, err)
}
