// Package pipeline implements transcribe-then-synthesize processing: audio
// is accumulated into utterance-sized chunks, transcribed, quality-checked,
// answered by a language model, and synthesized back to speech.
package pipeline

import (
	"time"

	"github.com/echoloom/echoloom/pkg/audio"
	"github.com/echoloom/echoloom/pkg/types"
)

const (
	// DefaultBufferDuration flushes the accumulator once this much audio has
	// been collected.
	DefaultBufferDuration = 2000 * time.Millisecond

	// DefaultBufferMaxBytes flushes the accumulator once this many bytes
	// have been collected, regardless of duration.
	DefaultBufferMaxBytes = 100 * 1024
)

// Buffer accumulates inbound audio frames until either a duration or a byte
// ceiling is reached, then releases the run as one transcription unit. This
// bounds both per-call transcription cost and memory held per session.
//
// Buffer is not safe for concurrent use; each session owns one and feeds it
// from its single reader goroutine.
type Buffer struct {
	maxDuration time.Duration
	maxBytes    int

	data     []byte
	duration time.Duration
}

// NewBuffer creates a buffer with the given limits. Non-positive limits fall
// back to the defaults.
func NewBuffer(maxDuration time.Duration, maxBytes int) *Buffer {
	if maxDuration <= 0 {
		maxDuration = DefaultBufferDuration
	}
	if maxBytes <= 0 {
		maxBytes = DefaultBufferMaxBytes
	}
	return &Buffer{maxDuration: maxDuration, maxBytes: maxBytes}
}

// Add appends one frame. It returns the accumulated PCM run and true when a
// limit was reached and the buffer flushed; otherwise it returns (nil, false).
func (b *Buffer) Add(frame types.AudioFrame) ([]byte, bool) {
	b.data = append(b.data, frame.Data...)
	b.duration += frameDuration(frame)

	if b.duration >= b.maxDuration || len(b.data) >= b.maxBytes {
		return b.flush(), true
	}
	return nil, false
}

// Flush releases whatever has accumulated, regardless of limits. Used on
// turn-complete so a short final utterance is not stranded. Returns nil when
// the buffer is empty.
func (b *Buffer) Flush() []byte {
	if len(b.data) == 0 {
		return nil
	}
	return b.flush()
}

// Len returns the number of buffered bytes.
func (b *Buffer) Len() int {
	return len(b.data)
}

func (b *Buffer) flush() []byte {
	out := b.data
	b.data = nil
	b.duration = 0
	return out
}

// frameDuration derives the frame's play time from its PCM geometry. Frames
// with unknown geometry assume 16 kHz mono.
func frameDuration(frame types.AudioFrame) time.Duration {
	rate := frame.SampleRate
	if rate <= 0 {
		rate = 16000
	}
	channels := frame.Channels
	if channels <= 0 {
		channels = 1
	}
	return audio.Duration(frame.Data, rate, channels)
}
