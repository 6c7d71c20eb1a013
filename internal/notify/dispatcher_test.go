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

package notify

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcherKeepsOrder(t *testing.T) {
	pool, err := NewPool(4)
	require.Nil(t, err)
	defer pool.Release()

	d := NewDispatcher("order", pool)
	var mu sync.Mutex
	var got []int
	for i := 0; i < 200; i++ {
		i := i
		d.Go(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		})
	}
	assert.Eventually(t, d.Idle, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 200)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestDispatcherReentrant(t *testing.T) {
	pool, err := NewPool(1)
	require.Nil(t, err)
	defer pool.Release()

	d := NewDispatcher("reentrant", pool)
	done := make(chan struct{})
	d.Go(func() {
		d.Go(func() { close(done) })
	})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("nested callback did not run")
	}
}

func TestDispatcherGoDoesNotWaitForBusyPool(t *testing.T) {
	pool, err := NewPool(1)
	require.Nil(t, err)
	defer pool.Release()

	a := NewDispatcher("a", pool)
	b := NewDispatcher("b", pool)
	gate := make(chan struct{})
	defer close(gate)
	started := make(chan struct{})
	a.Go(func() {
		close(started)
		<-gate
	})
	<-started

	done := make(chan struct{})
	go b.Go(func() { close(done) })
	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("callback of b waited for the worker held by a")
	}
}

func TestDispatcherSurvivesPanic(t *testing.T) {
	pool, err := NewPool(1)
	require.Nil(t, err)
	defer pool.Release()

	d := NewDispatcher("panic", pool)
	done := make(chan struct{})
	d.Go(func() { panic("boom") })
	d.Go(func() { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher stopped after panic")
	}
}

func TestDispatcherClosed(t *testing.T) {
	pool, err := NewPool(1)
	require.Nil(t, err)
	defer pool.Release()

	d := NewDispatcher("closed", pool)
	d.Close()
	ran := false
	d.Go(func() { ran = true })
	time.Sleep(10 * time.Millisecond)
	assert.False(t, ran)
}
