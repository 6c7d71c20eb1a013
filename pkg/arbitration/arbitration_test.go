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

package arbitration

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/srediag/plugin-voice/api"
)

func TestDefaultRelations(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, Preempt, p.Relation(api.EngineEnroll, api.EngineWakeup))
	assert.Equal(t, Replace, p.Relation(api.EngineEnroll, api.EngineUpdate))
	assert.Equal(t, Concurrent, p.Relation(api.EngineWakeup, api.EngineEnroll))
	assert.Equal(t, Reject, p.Relation(api.EngineUpdate, api.EngineEnroll))
	// asymmetric and defaulting to concurrent
	assert.Equal(t, Concurrent, p.Relation(api.EngineWakeup, api.EngineUpdate))
	assert.Equal(t, Concurrent, p.Relation(api.EngineUpdate, api.EngineWakeup))
}

func TestApplyConcreteScenario(t *testing.T) {
	p := DefaultPolicy()
	d := p.Apply(api.EngineEnroll, []api.EngineType{api.EngineWakeup, api.EngineUpdate})
	assert.Equal(t, Allowed, d.Outcome)
	assert.Equal(t, []SideEffect{
		{Target: api.EngineWakeup, Action: ActionStop},
		{Target: api.EngineUpdate, Action: ActionRemove},
	}, d.SideEffects)
}

func TestApplyPreemptBeforeReplace(t *testing.T) {
	p := DefaultPolicy()
	d := p.Apply(api.EngineEnroll, []api.EngineType{api.EngineUpdate, api.EngineWakeup})
	assert.Equal(t, []SideEffect{
		{Target: api.EngineWakeup, Action: ActionStop},
		{Target: api.EngineUpdate, Action: ActionRemove},
	}, d.SideEffects)
}

func TestApplyRejectWins(t *testing.T) {
	p := NewPolicy(
		Rule{Requested: api.EngineUpdate, Existing: api.EngineEnroll, Kind: Reject},
		Rule{Requested: api.EngineUpdate, Existing: api.EngineWakeup, Kind: Replace},
	)
	d := p.Apply(api.EngineUpdate, []api.EngineType{api.EngineWakeup, api.EngineEnroll})
	assert.Equal(t, Rejected, d.Outcome)
	assert.Equal(t, api.EngineEnroll, d.RejectedBy)
	assert.Empty(t, d.SideEffects)
}

func TestApplyEveryRejectPair(t *testing.T) {
	p := DefaultPolicy()
	for _, r := range DefaultRules() {
		if r.Kind != Reject {
			continue
		}
		d := p.Apply(r.Requested, []api.EngineType{r.Existing})
		assert.Equal(t, Rejected, d.Outcome, "%s vs %s", r.Requested, r.Existing)
		assert.Empty(t, d.SideEffects)
	}
}

func TestApplySkipsSameType(t *testing.T) {
	p := NewPolicy(Rule{Requested: api.EngineWakeup, Existing: api.EngineWakeup, Kind: Reject})
	d := p.Apply(api.EngineWakeup, []api.EngineType{api.EngineWakeup})
	assert.Equal(t, Allowed, d.Outcome)
	assert.Empty(t, d.SideEffects)
}

func TestApplyEmptyLiveSet(t *testing.T) {
	for _, typ := range api.EngineTypes() {
		d := DefaultPolicy().Apply(typ, nil)
		assert.Equal(t, Allowed, d.Outcome)
		assert.Empty(t, d.SideEffects)
	}
}

func TestLaterRuleWins(t *testing.T) {
	p := NewPolicy(
		Rule{Requested: api.EngineEnroll, Existing: api.EngineWakeup, Kind: Preempt},
		Rule{Requested: api.EngineEnroll, Existing: api.EngineWakeup, Kind: Concurrent},
	)
	assert.Equal(t, Concurrent, p.Relation(api.EngineEnroll, api.EngineWakeup))
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("Replace")
	assert.Nil(t, err)
	assert.Equal(t, Replace, k)

	_, err = ParseKind("evict")
	assert.ErrorIs(t, err, api.ErrInvalidParam)
}

func TestStrings(t *testing.T) {
	assert.Equal(t, "stop(WAKEUP)", SideEffect{Target: api.EngineWakeup}.String())
	assert.Equal(t, "detach+remove(UPDATE)", SideEffect{Target: api.EngineUpdate, Action: ActionRemove}.String())
	assert.Equal(t, "rejected", Rejected.String())
	assert.Equal(t, "Kind(9)", Kind(9).String())
}
