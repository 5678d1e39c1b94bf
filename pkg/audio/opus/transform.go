// Package opus provides an Opus-decoding [audio.FrameTransform] for clients
// that stream Opus packets instead of raw PCM.
package opus

import (
	"fmt"
	"sync"

	"layeh.com/gopus"

	"github.com/echoloom/echoloom/pkg/audio"
	"github.com/echoloom/echoloom/pkg/types"
)

// Browser capture typically ships 16 kHz mono Opus at 20 ms frame size.
const (
	defaultSampleRate = 16000
	defaultChannels   = 1
	frameSizeMs       = 20
)

// Compile-time assertion that Transform satisfies audio.FrameTransform.
var _ audio.FrameTransform = (*Transform)(nil)

// Transform decodes Opus packets into 16-bit little-endian PCM frames.
//
// A gopus decoder is stateful across consecutive packets, so a Transform is
// created per session stream. The internal mutex keeps the decoder safe if
// the caller ever feeds frames from more than one goroutine, though the
// transport layer delivers frames strictly in order from a single read loop.
type Transform struct {
	sampleRate int
	channels   int
	frameSize  int

	mu  sync.Mutex
	dec *gopus.Decoder
}

// New creates an Opus transform for the given stream format. Zero values
// select 16 kHz mono.
func New(sampleRate, channels int) (*Transform, error) {
	if sampleRate <= 0 {
		sampleRate = defaultSampleRate
	}
	if channels <= 0 {
		channels = defaultChannels
	}
	dec, err := gopus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("opus: create decoder: %w", err)
	}
	return &Transform{
		sampleRate: sampleRate,
		channels:   channels,
		frameSize:  sampleRate * frameSizeMs / 1000,
		dec:        dec,
	}, nil
}

// Transform decodes one Opus packet into a PCM16 frame.
func (t *Transform) Transform(raw []byte) (types.AudioFrame, error) {
	if len(raw) == 0 {
		return types.AudioFrame{}, audio.ErrEmptyFrame
	}

	t.mu.Lock()
	pcm, err := t.dec.Decode(raw, t.frameSize, false)
	t.mu.Unlock()
	if err != nil {
		return types.AudioFrame{}, fmt.Errorf("opus: decode: %w", err)
	}

	return types.AudioFrame{
		Data:       int16sToBytes(pcm),
		SampleRate: t.sampleRate,
		Channels:   t.channels,
	}, nil
}

// int16sToBytes converts a slice of int16 PCM samples to little-endian bytes.
func int16sToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}
