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

package logger

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/suite"
)

type LoggerTestSuite struct {
	suite.Suite
	saved int
}

func (s *LoggerTestSuite) SetupTest() {
	s.saved = Level()
}

func (s *LoggerTestSuite) TearDownTest() {
	SetLogLevel(s.saved)
}

func (s *LoggerTestSuite) TestLogColor() {
	SetLogLevel(LevelTrace)
	l := New("test")

	l.Tracef("this is tracef %s", "hello world")
	l.Debugf("this is debugf %s", "hello world")
	l.Infof("this is infof %s", "hello world")
	l.Warnf("this is warnf %s", "hello world")
	l.Errorf("this is errorf %s", "hello world")
}

func (s *LoggerTestSuite) TestLevelFilter() {
	var out bytes.Buffer
	l := NewWithWriter("filter", &out)

	SetLogLevel(LevelWarn)
	l.Infof("hidden")
	l.Warnf("shown %d", 1)
	s.Require().NotContains(out.String(), "hidden")
	s.Require().Contains(out.String(), "shown 1")
	s.Require().Contains(out.String(), "logger_test.go")
	s.Require().Contains(out.String(), "filter")

	out.Reset()
	SetLogLevel(LevelNoPrint)
	l.Errorf("nothing")
	s.Require().Equal(0, out.Len())
}

func (s *LoggerTestSuite) TestSetLogLevelIgnoresInvalid() {
	SetLogLevel(LevelInfo)
	SetLogLevel(LevelNoPrint + 1)
	SetLogLevel(-1)
	s.Require().Equal(LevelInfo, Level())
}

func (s *LoggerTestSuite) TestOneLinePerCall() {
	var out bytes.Buffer
	l := NewWithWriter("lines", &out)
	SetLogLevel(LevelDebug)
	l.Debugf("a")
	l.Infof("b")
	s.Require().Equal(2, strings.Count(out.String(), "\n"))
}

func TestLoggerTestSuite(t *testing.T) {
	suite.Run(t, new(LoggerTestSuite))
}
