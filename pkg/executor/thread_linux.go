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

//go:build linux

package executor

import (
	"runtime"
	"unsafe"

	"golang.org/x/sys/unix"
)

const maxThreadNameLen = 15

// lockWorkerThread pins the worker goroutine to its OS thread and names the thread. The
// thread id identifies the worker for InWorker.
func lockWorkerThread(name string) int64 {
	runtime.LockOSThread()
	if len(name) > maxThreadNameLen {
		name = name[:maxThreadNameLen]
	}
	if name != "" {
		p, err := unix.BytePtrFromString(name)
		if err == nil {
			err = unix.Prctl(unix.PR_SET_NAME, uintptr(unsafe.Pointer(p)), 0, 0, 0)
		}
		if err != nil {
			log.Warnf("set thread name %s failed: %v", name, err)
		}
	}
	return int64(unix.Gettid())
}

func currentThreadID() int64 {
	return int64(unix.Gettid())
}
