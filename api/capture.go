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

// BufferFunc receives interleaved PCM from the capture goroutine. It must copy what it
// keeps and return quickly.
type BufferFunc func(buffer []byte, isEnd bool)

// Capturer is the physical audio capture component. Stop returns only after the capture
// goroutine has exited and no further BufferFunc call can happen.
type Capturer interface {
	Start(bufferSize uint32, channels uint32, onBuffer BufferFunc) error
	Stop() error
}
