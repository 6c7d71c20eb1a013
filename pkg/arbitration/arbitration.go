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

// Package arbitration decides whether an engine type may be created next to the live ones
// and which live engines must yield first.
package arbitration

import (
	"fmt"
	"strings"

	"github.com/srediag/plugin-voice/api"
)

// Kind is the relation of a requested type towards one live type.
type Kind int

const (
	Concurrent Kind = iota
	Reject
	Preempt
	Replace
)

var kindNames = map[Kind]string{
	Concurrent: "concurrent",
	Reject:     "reject",
	Preempt:    "preempt",
	Replace:    "replace",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind parses the lower case name of a Kind.
func ParseKind(s string) (Kind, error) {
	for k, n := range kindNames {
		if strings.EqualFold(n, s) {
			return k, nil
		}
	}
	return Concurrent, fmt.Errorf("unknown arbitration kind %q: %w", s, api.ErrInvalidParam)
}

// Outcome of an arbitration.
type Outcome int

const (
	Allowed Outcome = iota
	Rejected
)

func (o Outcome) String() string {
	if o == Rejected {
		return "rejected"
	}
	return "allowed"
}

// Action is applied to a live engine before the requested one is created.
type Action int

const (
	// ActionStop stops the engine and keeps it live.
	ActionStop Action = iota
	// ActionRemove detaches the engine and removes it from the live set.
	ActionRemove
)

func (a Action) String() string {
	if a == ActionRemove {
		return "detach+remove"
	}
	return "stop"
}

// SideEffect is one action on one live engine.
type SideEffect struct {
	Target api.EngineType
	Action Action
}

func (e SideEffect) String() string {
	return e.Action.String() + "(" + e.Target.String() + ")"
}

// Decision is the result of Apply. SideEffects is empty unless Outcome is Allowed.
type Decision struct {
	Outcome     Outcome
	SideEffects []SideEffect
	// RejectedBy is the live type whose relation rejected the request.
	RejectedBy api.EngineType
}

// Rule is one entry of the relation table.
type Rule struct {
	Requested api.EngineType
	Existing  api.EngineType
	Kind      Kind
}

type pair struct {
	requested api.EngineType
	existing  api.EngineType
}

// Policy is an immutable relation table keyed by requested type.
type Policy struct {
	table map[pair]Kind
}

// DefaultRules is the voice service table.
func DefaultRules() []Rule {
	return []Rule{
		{Requested: api.EngineEnroll, Existing: api.EngineWakeup, Kind: Preempt},
		{Requested: api.EngineEnroll, Existing: api.EngineUpdate, Kind: Replace},
		{Requested: api.EngineWakeup, Existing: api.EngineEnroll, Kind: Concurrent},
		{Requested: api.EngineUpdate, Existing: api.EngineEnroll, Kind: Reject},
	}
}

// DefaultPolicy returns a policy built from DefaultRules.
func DefaultPolicy() *Policy {
	return NewPolicy(DefaultRules()...)
}

// NewPolicy builds a policy. Later rules for the same pair win; pairs without a rule are
// Concurrent.
func NewPolicy(rules ...Rule) *Policy {
	p := &Policy{table: make(map[pair]Kind, len(rules))}
	for _, r := range rules {
		p.table[pair{r.Requested, r.Existing}] = r.Kind
	}
	return p
}

// Relation returns the relation of requested towards existing.
func (p *Policy) Relation(requested, existing api.EngineType) Kind {
	return p.table[pair{requested, existing}]
}

// Apply arbitrates requested against the live types. Any Reject wins. Otherwise the
// decision lists every Preempt stop, then every Replace removal, each in live order.
// A live entry equal to requested is skipped.
func (p *Policy) Apply(requested api.EngineType, live []api.EngineType) Decision {
	for _, t := range live {
		if t != requested && p.Relation(requested, t) == Reject {
			return Decision{Outcome: Rejected, RejectedBy: t}
		}
	}
	var effects []SideEffect
	for _, t := range live {
		if t != requested && p.Relation(requested, t) == Preempt {
			effects = append(effects, SideEffect{Target: t, Action: ActionStop})
		}
	}
	for _, t := range live {
		if t != requested && p.Relation(requested, t) == Replace {
			effects = append(effects, SideEffect{Target: t, Action: ActionRemove})
		}
	}
	return Decision{Outcome: Allowed, SideEffects: effects}
}
