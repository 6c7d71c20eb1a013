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
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	queuepkg "github.com/Workiva/go-datastructures/queue"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/valyala/bytebufferpool"

	"github.com/srediag/plugin-voice/api"
)

const (
	DefaultQueueCapacity = 500
	DefaultReadWait      = time.Second
	MaxChannels          = 4

	bytesPerSample = 2
)

// ErrSourceClosed is returned by Read after the source was closed.
var ErrSourceClosed = errors.New("wakeup source closed")

// chunkQueue is a bounded FIFO of pooled audio chunks. Push never waits: a full queue
// drops its oldest chunk. Chunks handed back by a failed read sit in front of the queue.
type chunkQueue struct {
	mu       sync.Mutex
	q        *queuepkg.Queue
	held     []*bytebufferpool.ByteBuffer
	capacity int64
}

func newChunkQueue(capacity int) *chunkQueue {
	return &chunkQueue{
		q:        queuepkg.New(int64(capacity)),
		capacity: int64(capacity),
	}
}

func (c *chunkQueue) push(data []byte) (dropped bool, err error) {
	buf := bytebufferpool.Get()
	_, _ = buf.Write(data)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.q.Len()+int64(len(c.held)) >= c.capacity {
		if len(c.held) > 0 {
			bytebufferpool.Put(c.held[0])
			c.held = c.held[1:]
			dropped = true
		} else if items, perr := c.q.Poll(1, time.Millisecond); perr == nil {
			for _, it := range items {
				bytebufferpool.Put(it.(*bytebufferpool.ByteBuffer))
			}
			dropped = true
		}
	}
	if err := c.q.Put(buf); err != nil {
		bytebufferpool.Put(buf)
		return dropped, ErrSourceClosed
	}
	return dropped, nil
}

// pop takes the oldest chunk, waiting up to wait.
func (c *chunkQueue) pop(wait time.Duration) (*bytebufferpool.ByteBuffer, error) {
	c.mu.Lock()
	if len(c.held) > 0 {
		buf := c.held[0]
		c.held = c.held[1:]
		c.mu.Unlock()
		return buf, nil
	}
	c.mu.Unlock()

	items, err := c.q.Poll(1, wait)
	switch {
	case errors.Is(err, queuepkg.ErrTimeout):
		return nil, api.ErrTimeout
	case errors.Is(err, queuepkg.ErrDisposed):
		return nil, ErrSourceClosed
	case err != nil:
		return nil, err
	}
	return items[0].(*bytebufferpool.ByteBuffer), nil
}

// unpop puts buf back in front of the queue.
func (c *chunkQueue) unpop(buf *bytebufferpool.ByteBuffer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.q.Disposed() {
		bytebufferpool.Put(buf)
		return
	}
	c.held = append([]*bytebufferpool.ByteBuffer{buf}, c.held...)
}

func (c *chunkQueue) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return int(c.q.Len()) + len(c.held)
}

func (c *chunkQueue) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, buf := range c.held {
		bytebufferpool.Put(buf)
	}
	c.held = nil
	for _, it := range c.q.Dispose() {
		bytebufferpool.Put(it.(*bytebufferpool.ByteBuffer))
	}
}

// Source buffers the per-channel audio captured after a wakeup until the caller reads it.
type Source struct {
	queues   []*chunkQueue
	readWait time.Duration
	dropped  *prometheus.CounterVec
}

// NewSource opens one queue per channel.
func NewSource(channels uint32, capacity int, readWait time.Duration, dropped *prometheus.CounterVec) (*Source, error) {
	if channels == 0 || channels > MaxChannels {
		return nil, fmt.Errorf("channel count %d: %w", channels, api.ErrInvalidParam)
	}
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	if readWait <= 0 {
		readWait = DefaultReadWait
	}
	s := &Source{readWait: readWait, dropped: dropped}
	for i := uint32(0); i < channels; i++ {
		s.queues = append(s.queues, newChunkQueue(capacity))
	}
	return s, nil
}

// Channels returns the number of queues.
func (s *Source) Channels() int {
	return len(s.queues)
}

// Write stores one deinterleaved block. A mono capture fills channel 0, a four channel
// capture fills channels 1 to 3, any other layout fills every channel.
func (s *Source) Write(perChannel [][]byte) {
	if len(perChannel) != len(s.queues) {
		log.Warnf("channel mismatch, data:%d queues:%d", len(perChannel), len(s.queues))
		return
	}
	switch len(s.queues) {
	case 1:
		s.writeChannel(perChannel, 0)
	case MaxChannels:
		for ch := 1; ch < MaxChannels; ch++ {
			s.writeChannel(perChannel, ch)
		}
	default:
		for ch := range s.queues {
			s.writeChannel(perChannel, ch)
		}
	}
}

func (s *Source) writeChannel(perChannel [][]byte, ch int) {
	dropped, err := s.queues[ch].push(perChannel[ch])
	if err != nil {
		return
	}
	if dropped && s.dropped != nil {
		s.dropped.WithLabelValues(strconv.Itoa(ch)).Inc()
	}
}

// ValidMask reports whether mask selects at least one of the four channels and nothing
// else.
func ValidMask(mask int) bool {
	return mask > 0 && mask < 1<<MaxChannels
}

// Read pops one chunk from every channel selected by mask, lowest channel first, waiting
// up to the read wait per channel. When a channel fails, the chunks already taken from
// the other channels go back to the front of their queues.
func (s *Source) Read(mask int) ([]byte, error) {
	if !ValidMask(mask) {
		return nil, fmt.Errorf("channel mask %d: %w", mask, api.ErrInvalidParam)
	}
	for ch := 0; ch < MaxChannels; ch++ {
		if mask&(1<<ch) != 0 && ch >= len(s.queues) {
			return nil, fmt.Errorf("channel %d not captured: %w", ch, api.ErrInvalidParam)
		}
	}
	taken := make([]*bytebufferpool.ByteBuffer, len(s.queues))
	for ch := range s.queues {
		if mask&(1<<ch) == 0 {
			continue
		}
		buf, err := s.queues[ch].pop(s.readWait)
		if err != nil {
			for i, b := range taken {
				if b != nil {
					s.queues[i].unpop(b)
				}
			}
			return nil, fmt.Errorf("read channel %d: %w", ch, err)
		}
		taken[ch] = buf
	}
	var out []byte
	for _, b := range taken {
		if b != nil {
			out = append(out, b.B...)
			bytebufferpool.Put(b)
		}
	}
	return out, nil
}

// Pending returns the number of chunks queued on channel ch.
func (s *Source) Pending(ch int) int {
	if ch < 0 || ch >= len(s.queues) {
		return 0
	}
	return s.queues[ch].len()
}

// Close releases every queue. Blocked readers return ErrSourceClosed.
func (s *Source) Close() {
	for _, q := range s.queues {
		q.close()
	}
}

// Deinterleave splits interleaved little endian 16 bit PCM into one slice per channel.
func Deinterleave(pcm []byte, channels int) ([][]byte, error) {
	if channels <= 0 {
		return nil, fmt.Errorf("channel count %d: %w", channels, api.ErrInvalidParam)
	}
	frame := channels * bytesPerSample
	if len(pcm)%frame != 0 {
		return nil, fmt.Errorf("pcm size %d not a multiple of frame %d: %w", len(pcm), frame, api.ErrInvalidParam)
	}
	frames := len(pcm) / frame
	out := make([][]byte, channels)
	for ch := range out {
		out[ch] = make([]byte, frames*bytesPerSample)
	}
	for f := 0; f < frames; f++ {
		for ch := 0; ch < channels; ch++ {
			off := f*frame + ch*bytesPerSample
			binary.LittleEndian.PutUint16(out[ch][f*bytesPerSample:], binary.LittleEndian.Uint16(pcm[off:]))
		}
	}
	return out, nil
}
