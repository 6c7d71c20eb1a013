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

package api

// DriverMsg identifies a driver callback event.
type DriverMsg int32

const (
	MsgInitDone DriverMsg = iota + 1
	MsgEnrollComplete
	MsgCommitEnrollComplete
	MsgRecognizeComplete
	MsgReconfirmRecognitionComplete
)

func (m DriverMsg) String() string {
	switch m {
	case MsgInitDone:
		return "init_done"
	case MsgEnrollComplete:
		return "enroll_complete"
	case MsgCommitEnrollComplete:
		return "commit_enroll_complete"
	case MsgRecognizeComplete:
		return "recognize_complete"
	case MsgReconfirmRecognitionComplete:
		return "reconfirm_recognition_complete"
	}
	return "unknown"
}

// DriverEvent is delivered by the driver on its own goroutine.
type DriverEvent struct {
	Msg    DriverMsg
	Result int32
	Info   string
}

// DriverCallback receives driver events. Implementations inside the core only enqueue.
type DriverCallback func(DriverEvent)

// AdapterDescriptor selects the kind of adapter the driver builds.
type AdapterDescriptor struct {
	Type EngineType
}

// AttachInfo describes the audio format and phrase handed to a freshly created adapter.
type AttachInfo struct {
	WakeupPhrase   string
	MinBufferSize  uint32
	SampleChannels uint32
	BitsPerSample  uint32
	SampleRate     uint32
}

// StartInfo is passed to Adapter.Start.
type StartInfo struct {
	IsLast bool
}

// EvaluationResult is the driver's score for an enrollment phrase.
type EvaluationResult struct {
	Score  int32
	Result int32
}

// Adapter is one driver-side engine handle. Every call may block; a non-zero status
// means failure.
type Adapter interface {
	SetCallback(cb DriverCallback) int32
	Attach(info AttachInfo) int32
	Detach() int32
	SetParameter(keyValueList string) int32
	GetParameter(key string) (string, int32)
	Start(info StartInfo) int32
	Stop() int32
	WriteAudio(pcm []byte) int32
	Evaluate(word string) (EvaluationResult, int32)
	GetWakeupPcm() ([]byte, int32)
}

// AdapterFactory is the driver host.
type AdapterFactory interface {
	CreateAdapter(desc AdapterDescriptor) (Adapter, error)
	ReleaseAdapter(desc AdapterDescriptor) error
}
