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

// Package history gives typed access to the persisted voice history.
package history

import (
	"strconv"

	"github.com/srediag/plugin-voice/api"
	"github.com/srediag/plugin-voice/internal/logger"
)

const (
	KeyLanguage                = "Language"
	KeyArea                    = "Area"
	KeyWakeupPhrase            = "WakeupPhrase"
	KeySensibility             = "Sensibility"
	KeyWakeupVersion           = "WakeupVersion"
	KeyEnrollEngineUID         = "EnrollEngineUid"
	KeyWakeupEngineBundleName  = "WakeupEngineBundleName"
	KeyWakeupEngineAbilityName = "WakeupEngineAbilityName"
	KeyWhisperVpr              = "WhisperVpr"
	KeyWakeupDspFeature        = "WakeupDspFeature"
)

// UserKeys are removed by Clear.
var UserKeys = []string{
	KeyLanguage,
	KeyArea,
	KeyWakeupPhrase,
	KeySensibility,
	KeyWakeupVersion,
	KeyEnrollEngineUID,
	KeyWhisperVpr,
	KeyWakeupDspFeature,
}

const DefaultWakeupPhrase = "hello voice"

var log = logger.New("history")

// History wraps the external store.
type History struct {
	store api.HistoryStore
}

// New wraps store.
func New(store api.HistoryStore) *History {
	return &History{store: store}
}

// Get returns the value of key, "" when absent.
func (h *History) Get(key string) string {
	v, _ := h.store.Get(key)
	return v
}

// Set stores value under key. Store failures are logged, the history is best effort.
func (h *History) Set(key, value string) {
	if err := h.store.Set(key, value); err != nil {
		log.Warnf("set %s failed: %v", key, err)
	}
}

func (h *History) Language() string      { return h.Get(KeyLanguage) }
func (h *History) Area() string          { return h.Get(KeyArea) }
func (h *History) WakeupVersion() string { return h.Get(KeyWakeupVersion) }

// WakeupPhrase returns the stored phrase or DefaultWakeupPhrase.
func (h *History) WakeupPhrase() string {
	if p := h.Get(KeyWakeupPhrase); p != "" {
		return p
	}
	return DefaultWakeupPhrase
}

// Sensibility returns the stored sensibility, 1 when absent or malformed.
func (h *History) Sensibility() int {
	n, err := strconv.Atoi(h.Get(KeySensibility))
	if err != nil {
		return 1
	}
	return n
}

// WhisperVpr reports whether a whisper voiceprint was registered.
func (h *History) WhisperVpr() bool {
	return h.Get(KeyWhisperVpr) == "true"
}

// SetWhisperVpr records the whisper voiceprint state.
func (h *History) SetWhisperVpr(ok bool) {
	h.Set(KeyWhisperVpr, strconv.FormatBool(ok))
}

// Enrolled reports whether an enrollment was ever committed.
func (h *History) Enrolled() bool {
	return h.Get(KeyWakeupVersion) != ""
}

// Clear removes every user key.
func (h *History) Clear() {
	for _, k := range UserKeys {
		if err := h.store.Delete(k); err != nil {
			log.Warnf("delete %s failed: %v", k, err)
		}
	}
}
