// Package audio provides the FrameTransform abstraction that decodes and
// validates inbound client audio into the PCM wire format the upstream
// conversational-audio service expects, plus the PCM helpers shared by the
// transcription pipeline (energy, duration, WAV framing).
//
// Transforms are pluggable: the transport layer builds one per session based
// on the configured input codec. Stateless transforms (PCM16) may be shared;
// stateful decoders (Opus) must not be, which is why the transport goes
// through a factory.
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/echoloom/echoloom/pkg/types"
)

// bitsPerSample is fixed at 16 for the signed little-endian PCM carried
// through the whole engine.
const bitsPerSample = 16

// ErrEmptyFrame is returned by transforms when the input contains no samples.
var ErrEmptyFrame = errors.New("audio: empty frame")

// FrameTransform decodes one inbound raw audio frame into the PCM format the
// upstream service expects.
type FrameTransform interface {
	// Transform decodes raw into a validated PCM frame. The returned frame's
	// SampleRate and Channels describe the decoded data, not the input.
	Transform(raw []byte) (types.AudioFrame, error)
}

// PCM16Transform validates pass-through 16-bit little-endian PCM frames.
// It performs no decoding; it only rejects frames that cannot be valid PCM16
// (empty or odd-length payloads).
type PCM16Transform struct {
	// SampleRate is the rate stamped on validated frames. Default 16000.
	SampleRate int

	// Channels is the channel count stamped on validated frames. Default 1.
	Channels int
}

// Compile-time assertion that PCM16Transform satisfies FrameTransform.
var _ FrameTransform = (*PCM16Transform)(nil)

// Transform validates raw as PCM16 and wraps it in an AudioFrame.
func (t *PCM16Transform) Transform(raw []byte) (types.AudioFrame, error) {
	if len(raw) == 0 {
		return types.AudioFrame{}, ErrEmptyFrame
	}
	if len(raw)%2 != 0 {
		return types.AudioFrame{}, fmt.Errorf("audio: pcm16 frame has odd length %d", len(raw))
	}
	sr := t.SampleRate
	if sr <= 0 {
		sr = 16000
	}
	ch := t.Channels
	if ch <= 0 {
		ch = 1
	}
	return types.AudioFrame{Data: raw, SampleRate: sr, Channels: ch}, nil
}

// RMS returns the root-mean-square energy of a 16-bit signed little-endian
// PCM buffer, expressed in PCM sample units (0–32767). Returns 0 for buffers
// shorter than one sample.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		v := float64(sample)
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}

// Duration returns the playback duration of a PCM buffer at the given format.
// Returns 0 for invalid inputs.
func Duration(pcm []byte, sampleRate, channels int) time.Duration {
	if sampleRate <= 0 || channels <= 0 {
		return 0
	}
	bytesPerSec := sampleRate * channels * (bitsPerSample / 8)
	return time.Duration(len(pcm)) * time.Second / time.Duration(bytesPerSec)
}

// EncodeWAV wraps raw 16-bit signed little-endian PCM data in a standard
// RIFF/WAV container, suitable for batch transcription uploads.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8
	dataSize := len(pcm)

	buf := make([]byte, 44+dataSize)

	// RIFF chunk descriptor
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	// fmt sub-chunk
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)

	// data sub-chunk
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)

	return buf
}
