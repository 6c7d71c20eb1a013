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
	"fmt"

	"github.com/srediag/plugin-voice/api"
)

// State of a wakeup session.
type State int32

const (
	Idle State = iota
	Initializing
	Initialized
	Recognizing
	Recognized
	ReadCapturer
)

var stateNames = [...]string{
	Idle:         "IDLE",
	Initializing: "INITIALIZING",
	Initialized:  "INITIALIZED",
	Recognizing:  "RECOGNIZING",
	Recognized:   "RECOGNIZED",
	ReadCapturer: "READ_CAPTURER",
}

func (s State) String() string {
	if s < Idle || s > ReadCapturer {
		return fmt.Sprintf("State(%d)", int32(s))
	}
	return stateNames[s]
}

// EventType names an input of the session state machine.
type EventType int

const (
	EventInit EventType = iota + 1
	EventInitDone
	EventStartRecognize
	EventStopRecognize
	EventRecognizeComplete
	EventReconfirmComplete
	EventRecognizingTimeout
	EventRecognizeCompleteTimeout
	EventStartCapturer
	EventRead
	EventStopCapturer
	EventReadTimeout
	EventGetWakeupPcm
	EventSetListener
	EventSetParam
	EventGetParam
	EventReleaseAdapter
	EventResetAdapter
	EventRelease
)

var eventNames = map[EventType]string{
	EventInit:                     "Init",
	EventInitDone:                 "InitDone",
	EventStartRecognize:           "StartRecognize",
	EventStopRecognize:            "StopRecognize",
	EventRecognizeComplete:        "RecognizeComplete",
	EventReconfirmComplete:        "ReconfirmComplete",
	EventRecognizingTimeout:       "RecognizingTimeout",
	EventRecognizeCompleteTimeout: "RecognizeCompleteTimeout",
	EventStartCapturer:            "StartCapturer",
	EventRead:                     "Read",
	EventStopCapturer:             "StopCapturer",
	EventReadTimeout:              "ReadTimeout",
	EventGetWakeupPcm:             "GetWakeupPcm",
	EventSetListener:              "SetListener",
	EventSetParam:                 "SetParam",
	EventGetParam:                 "GetParam",
	EventReleaseAdapter:           "ReleaseAdapter",
	EventResetAdapter:             "ResetAdapter",
	EventRelease:                  "Release",
}

func (e EventType) String() string {
	if n, ok := eventNames[e]; ok {
		return n
	}
	return fmt.Sprintf("EventType(%d)", int(e))
}

func (e EventType) isTimeout() bool {
	switch e {
	case EventRecognizingTimeout, EventRecognizeCompleteTimeout, EventReadTimeout:
		return true
	}
	return false
}

// Event is one input of the state machine. Output fields are filled by the handler.
type Event struct {
	Type   EventType
	Result int32
	Info   string
	// ModelUUID selects the detector model for StartRecognize.
	ModelUUID int
	// Mask selects channels for StartCapturer.
	Mask     int
	Key      string
	Value    string
	Listener api.EngineListener

	Data []byte

	timerGen   uint64
	adapterGen uint64
}
