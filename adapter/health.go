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

import (
	"fmt"

	"github.com/heptiolabs/healthcheck"
	"github.com/shirou/gopsutil/v3/mem"
)

// NewHealthHandler builds a health handler serving /live and /ready.
func NewHealthHandler(liveness, readiness map[string]healthcheck.Check) healthcheck.Handler {
	h := healthcheck.NewHandler()
	for name, check := range liveness {
		h.AddLivenessCheck(name, check)
	}
	for name, check := range readiness {
		h.AddReadinessCheck(name, check)
	}
	return h
}

// MemoryFloorCheck fails while the available system memory is below minFree bytes. A
// zero floor always passes.
func MemoryFloorCheck(minFree uint64) healthcheck.Check {
	return func() error {
		if minFree == 0 {
			return nil
		}
		vm, err := mem.VirtualMemory()
		if err != nil {
			return fmt.Errorf("read memory stats: %w", err)
		}
		if vm.Available < minFree {
			return fmt.Errorf("available memory %d below floor %d", vm.Available, minFree)
		}
		return nil
	}
}
