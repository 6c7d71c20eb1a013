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

// DeathNotifier is the transport side of a remote caller. The recipient fires on a
// transport goroutine when the caller process terminates.
type DeathNotifier interface {
	AddDeathRecipient(fn func()) bool
	RemoveDeathRecipient()
}

// EngineListener is the caller-side callback object of an engine.
type EngineListener interface {
	OnEvent(ev DriverEvent)
}

// UpdateCallback is the remote callback of a clone update.
type UpdateCallback interface {
	OnUpdateComplete(result UpdateResult, info string)
}
