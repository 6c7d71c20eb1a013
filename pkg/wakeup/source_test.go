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

package wakeup

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srediag/plugin-voice/api"
	"github.com/srediag/plugin-voice/internal/metrics"
)

func TestSourceDropsOldest(t *testing.T) {
	m := metrics.New()
	src, err := NewSource(1, 2, 10*time.Millisecond, m.DroppedChunks)
	require.Nil(t, err)
	defer src.Close()

	src.Write([][]byte{{1}})
	src.Write([][]byte{{2}})
	src.Write([][]byte{{3}})
	assert.Equal(t, 2, src.Pending(0))
	assert.Equal(t, float64(1), metrics.Value(m.DroppedChunks.WithLabelValues("0")))

	data, err := src.Read(1)
	require.Nil(t, err)
	assert.Equal(t, []byte{2}, data)
	data, err = src.Read(1)
	require.Nil(t, err)
	assert.Equal(t, []byte{3}, data)
}

func TestSourceFourChannelLayout(t *testing.T) {
	src, err := NewSource(4, 8, 10*time.Millisecond, nil)
	require.Nil(t, err)
	defer src.Close()

	src.Write([][]byte{{0}, {1}, {2}, {3}})
	assert.Equal(t, 0, src.Pending(0))
	for ch := 1; ch < 4; ch++ {
		assert.Equal(t, 1, src.Pending(ch))
	}

	data, err := src.Read(0b1010)
	require.Nil(t, err)
	assert.Equal(t, []byte{1, 3}, data)

	_, err = src.Read(0b0001)
	assert.ErrorIs(t, err, api.ErrTimeout)
}

func TestSourceFailedReadKeepsTakenChunks(t *testing.T) {
	src, err := NewSource(4, 8, 10*time.Millisecond, nil)
	require.Nil(t, err)
	defer src.Close()

	src.Write([][]byte{{0}, {1}, {2}, {3}})
	_, err = src.Read(0b1000)
	require.Nil(t, err)

	_, err = src.Read(0b1100)
	assert.ErrorIs(t, err, api.ErrTimeout)
	assert.Equal(t, 1, src.Pending(2))

	src.Write([][]byte{{0}, {1}, {9}, {10}})
	data, err := src.Read(0b1100)
	require.Nil(t, err)
	assert.Equal(t, []byte{2, 10}, data)
	data, err = src.Read(0b0100)
	require.Nil(t, err)
	assert.Equal(t, []byte{9}, data)
}

func TestSourceOtherLayoutsFillEveryChannel(t *testing.T) {
	src, err := NewSource(2, 8, 10*time.Millisecond, nil)
	require.Nil(t, err)
	defer src.Close()

	src.Write([][]byte{{7}, {8}})
	data, err := src.Read(0b11)
	require.Nil(t, err)
	assert.Equal(t, []byte{7, 8}, data)

	// mismatched blocks are dropped
	src.Write([][]byte{{1}})
	assert.Equal(t, 0, src.Pending(0))
}

func TestSourceReadMask(t *testing.T) {
	src, err := NewSource(2, 8, 10*time.Millisecond, nil)
	require.Nil(t, err)
	defer src.Close()

	for _, mask := range []int{0, -1, 16, 32} {
		_, err := src.Read(mask)
		assert.ErrorIs(t, err, api.ErrInvalidParam, "mask %d", mask)
	}
	_, err = src.Read(0b0100)
	assert.ErrorIs(t, err, api.ErrInvalidParam)

	assert.True(t, ValidMask(1))
	assert.True(t, ValidMask(15))
	assert.False(t, ValidMask(0))
	assert.False(t, ValidMask(16))
}

func TestSourceCloseUnblocksReader(t *testing.T) {
	src, err := NewSource(1, 8, 5*time.Second, nil)
	require.Nil(t, err)

	var wg sync.WaitGroup
	var rerr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, rerr = src.Read(1)
	}()
	time.Sleep(20 * time.Millisecond)
	src.Close()
	wg.Wait()
	assert.ErrorIs(t, rerr, ErrSourceClosed)

	// writes after close are discarded
	src.Write([][]byte{{1}})
}

func TestNewSourceRejectsChannels(t *testing.T) {
	_, err := NewSource(0, 8, time.Second, nil)
	assert.ErrorIs(t, err, api.ErrInvalidParam)
	_, err = NewSource(MaxChannels+1, 8, time.Second, nil)
	assert.ErrorIs(t, err, api.ErrInvalidParam)
}

func TestDeinterleave(t *testing.T) {
	out, err := Deinterleave([]byte{1, 2, 3, 4, 5, 6, 7, 8}, 2)
	require.Nil(t, err)
	assert.Equal(t, [][]byte{{1, 2, 5, 6}, {3, 4, 7, 8}}, out)

	out, err = Deinterleave([]byte{1, 2, 3, 4}, 1)
	require.Nil(t, err)
	assert.Equal(t, [][]byte{{1, 2, 3, 4}}, out)

	_, err = Deinterleave([]byte{1, 2, 3}, 2)
	assert.ErrorIs(t, err, api.ErrInvalidParam)
	_, err = Deinterleave(nil, 0)
	assert.ErrorIs(t, err, api.ErrInvalidParam)
}
