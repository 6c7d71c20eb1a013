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

//go:build !linux

package executor

import "runtime"

// lockWorkerThread pins the worker goroutine. Without thread ids InWorker always
// reports false, so a task must not call SubmitSync on its own executor.
func lockWorkerThread(string) int64 {
	runtime.LockOSThread()
	return -1
}

func currentThreadID() int64 {
	return -2
}
