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
	"fmt"
)

var (
	// ErrArbitrationRejected is returned when the arbitration table refuses a creation.
	ErrArbitrationRejected = errors.New("engine creation rejected by arbitration")
	// ErrDriverCreateFailed is returned when the driver could not build an adapter.
	ErrDriverCreateFailed = errors.New("driver failed to create adapter")
	// ErrAlreadyExists is returned when a type is live with another param, or a
	// subscription is already registered.
	ErrAlreadyExists = errors.New("already exists")
	// ErrNotFound marks an absent engine. Release treats it as success.
	ErrNotFound = errors.New("not found")
	// ErrTimeout is returned by bounded waits: recognition, audio read and update attempts.
	ErrTimeout = errors.New("timeout")
	// ErrCancelled is reported when a running job is replaced or preempted.
	ErrCancelled = errors.New("cancelled")
	// ErrUpdateRestrained is returned when a strategy declines to start.
	ErrUpdateRestrained = errors.New("update restrained")
	// ErrInvalidParam is returned for malformed arguments.
	ErrInvalidParam = errors.New("invalid param")
)

// DriverCallError carries the non-zero status returned by a driver call.
type DriverCallError struct {
	Op   string
	Code int32
}

func (e *DriverCallError) Error() string {
	return fmt.Sprintf("driver %s failed, code:%d", e.Op, e.Code)
}

// CheckStatus converts a driver status into an error, nil when code is zero.
func CheckStatus(op string, code int32) error {
	if code == 0 {
		return nil
	}
	return &DriverCallError{Op: op, Code: code}
}
