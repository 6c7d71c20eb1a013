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

// SwitchStore is the settings store holding the feature switches.
type SwitchStore interface {
	QuerySwitchStatus(key string) bool
	// Watch calls fn on a store goroutine whenever key changes. The returned func
	// removes the observer.
	Watch(key string, fn func(key string)) (cancel func())
}

// HistoryStore is the persistent key-value history.
type HistoryStore interface {
	Get(key string) (string, bool)
	Set(key, value string) error
	Delete(key string) error
}
