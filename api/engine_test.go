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

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEngineTypeNames(t *testing.T) {
	for _, typ := range EngineTypes() {
		parsed, err := ParseEngineType(typ.String())
		assert.Nil(t, err)
		assert.Equal(t, typ, parsed)
	}
	parsed, err := ParseEngineType(" wakeup")
	assert.Nil(t, err)
	assert.Equal(t, EngineWakeup, parsed)

	_, err = ParseEngineType("SPEAKER")
	assert.ErrorIs(t, err, ErrInvalidParam)
	assert.False(t, EngineType(3).Valid())
	assert.Equal(t, "EngineType(3)", EngineType(3).String())
}

func TestCheckStatus(t *testing.T) {
	assert.Nil(t, CheckStatus("Start", 0))

	err := CheckStatus("Start", -3)
	var callErr *DriverCallError
	assert.True(t, errors.As(err, &callErr))
	assert.Equal(t, "Start", callErr.Op)
	assert.Equal(t, int32(-3), callErr.Code)
	assert.Equal(t, "driver Start failed, code:-3", err.Error())
}

func TestDriverMsgString(t *testing.T) {
	assert.Equal(t, "commit_enroll_complete", MsgCommitEnrollComplete.String())
	assert.Equal(t, "unknown", DriverMsg(42).String())
}
