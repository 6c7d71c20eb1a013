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

// Package api holds the contracts shared by the voice engine core and the collaborators it
// drives: the hardware driver, audio capture, the remote transport and the stores.
package api

import (
	"fmt"
	"strings"
)

// EngineType is a class of mutually arbitrated engine session.
type EngineType int

const (
	EngineEnroll EngineType = iota
	EngineWakeup
	EngineUpdate
	engineTypeCount
)

var engineTypeNames = [...]string{
	EngineEnroll: "ENROLL",
	EngineWakeup: "WAKEUP",
	EngineUpdate: "UPDATE",
}

func (t EngineType) String() string {
	if !t.Valid() {
		return fmt.Sprintf("EngineType(%d)", int(t))
	}
	return engineTypeNames[t]
}

// Valid reports whether t is a known engine type.
func (t EngineType) Valid() bool {
	return t >= EngineEnroll && t < engineTypeCount
}

// ParseEngineType parses a type name, case-insensitively.
func ParseEngineType(s string) (EngineType, error) {
	for t, n := range engineTypeNames {
		if strings.EqualFold(n, strings.TrimSpace(s)) {
			return EngineType(t), nil
		}
	}
	return 0, fmt.Errorf("unknown engine type %q: %w", s, ErrInvalidParam)
}

// EngineTypes returns every engine type in declaration order.
func EngineTypes() []EngineType {
	return []EngineType{EngineEnroll, EngineWakeup, EngineUpdate}
}

// Detector model identifiers.
const (
	VoiceWakeupModelUUID    = 1
	ProximalWakeupModelUUID = 2
)

// UpdateResult is the outcome of one update attempt.
type UpdateResult int

const (
	UpdateSuccess UpdateResult = iota
	UpdateFailed
	UpdateTimeout
	UpdateCancelled
)

func (r UpdateResult) String() string {
	switch r {
	case UpdateSuccess:
		return "success"
	case UpdateFailed:
		return "failed"
	case UpdateTimeout:
		return "timeout"
	case UpdateCancelled:
		return "cancelled"
	}
	return fmt.Sprintf("UpdateResult(%d)", int(r))
}
