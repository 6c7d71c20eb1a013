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

package adapter

import "sync"

// DeathNotifier simulates the transport of one remote caller.
type DeathNotifier struct {
	mu sync.Mutex
	fn func()
}

func (d *DeathNotifier) AddDeathRecipient(fn func()) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if fn == nil {
		return false
	}
	d.fn = fn
	return true
}

func (d *DeathNotifier) RemoveDeathRecipient() {
	d.mu.Lock()
	d.fn = nil
	d.mu.Unlock()
}

// Registered reports whether a recipient is installed.
func (d *DeathNotifier) Registered() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fn != nil
}

// Kill fires the recipient on a transport goroutine and waits for it to return.
func (d *DeathNotifier) Kill() {
	d.mu.Lock()
	fn := d.fn
	d.mu.Unlock()
	if fn == nil {
		return
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	<-done
}
