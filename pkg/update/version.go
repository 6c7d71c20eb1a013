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

package update

import (
	"strconv"
	"strings"
)

const versionParts = 3

// ParseWakeupVersion turns a model version banner such as "wakeup_v.5.2.1" into its
// comparable form "050201". It returns "" for anything else.
func ParseWakeupVersion(raw string) string {
	raw = strings.TrimSpace(raw)
	idx := strings.LastIndex(raw, "v.")
	if idx < 0 || idx+2 >= len(raw) {
		return ""
	}
	parts := strings.Split(raw[idx+2:], ".")
	if len(parts) != versionParts {
		return ""
	}
	var sb strings.Builder
	for _, p := range parts {
		if _, err := strconv.Atoi(p); err != nil || p == "" || len(p) > 2 {
			return ""
		}
		if len(p) == 1 {
			sb.WriteByte('0')
		}
		sb.WriteString(p)
	}
	return sb.String()
}

// VersionUpdated reports whether current is newer than saved. Both are parsed versions;
// an empty one never counts as an update.
func VersionUpdated(saved, current string) bool {
	s, err := strconv.Atoi(saved)
	if err != nil {
		return false
	}
	c, err := strconv.Atoi(current)
	if err != nil {
		return false
	}
	return c > s
}
