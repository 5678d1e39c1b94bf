package audio

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"
	"time"
)

func TestPCM16Transform(t *testing.T) {
	t.Parallel()

	tr := &PCM16Transform{}

	frame, err := tr.Transform([]byte{0x01, 0x02, 0x03, 0x04})
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	if frame.SampleRate != 16000 || frame.Channels != 1 {
		t.Errorf("frame format = %d Hz / %d ch, want 16000 / 1 defaults", frame.SampleRate, frame.Channels)
	}
	if len(frame.Data) != 4 {
		t.Errorf("frame data length = %d, want pass-through 4", len(frame.Data))
	}

	if _, err := tr.Transform(nil); !errors.Is(err, ErrEmptyFrame) {
		t.Errorf("empty frame err = %v, want ErrEmptyFrame", err)
	}
	if _, err := tr.Transform([]byte{0x01}); err == nil {
		t.Error("odd-length frame accepted")
	}

	custom := &PCM16Transform{SampleRate: 24000, Channels: 2}
	frame, err = custom.Transform([]byte{0, 0})
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	if frame.SampleRate != 24000 || frame.Channels != 2 {
		t.Errorf("frame format = %d Hz / %d ch, want configured 24000 / 2", frame.SampleRate, frame.Channels)
	}
}

func TestRMS(t *testing.T) {
	t.Parallel()

	if got := RMS(nil); got != 0 {
		t.Errorf("RMS(nil) = %f, want 0", got)
	}
	if got := RMS(make([]byte, 64)); got != 0 {
		t.Errorf("RMS(silence) = %f, want 0", got)
	}

	// A constant-amplitude signal has RMS equal to that amplitude.
	pcm := make([]byte, 32)
	for i := 0; i < len(pcm); i += 2 {
		binary.LittleEndian.PutUint16(pcm[i:i+2], uint16(int16(1000)))
	}
	if got := RMS(pcm); math.Abs(got-1000) > 0.001 {
		t.Errorf("RMS(constant 1000) = %f, want 1000", got)
	}
}

func TestDuration(t *testing.T) {
	t.Parallel()

	// 16 kHz mono PCM16 is 32000 bytes per second.
	if got := Duration(make([]byte, 32000), 16000, 1); got != time.Second {
		t.Errorf("duration = %v, want 1s", got)
	}
	if got := Duration(make([]byte, 3200), 16000, 1); got != 100*time.Millisecond {
		t.Errorf("duration = %v, want 100ms", got)
	}
	if got := Duration([]byte{0, 0}, 0, 1); got != 0 {
		t.Errorf("duration with zero rate = %v, want 0", got)
	}
}

func TestEncodeWAV(t *testing.T) {
	t.Parallel()

	pcm := make([]byte, 320)
	wav := EncodeWAV(pcm, 16000, 1)

	if len(wav) != 44+len(pcm) {
		t.Fatalf("wav length = %d, want 44-byte header + %d data", len(wav), len(pcm))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Errorf("header magic = %q %q", wav[0:4], wav[8:12])
	}
	if rate := binary.LittleEndian.Uint32(wav[24:28]); rate != 16000 {
		t.Errorf("sample rate = %d, want 16000", rate)
	}
	if size := binary.LittleEndian.Uint32(wav[40:44]); int(size) != len(pcm) {
		t.Errorf("data size = %d, want %d", size, len(pcm))
	}
}
