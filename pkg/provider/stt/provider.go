// Package stt defines the Provider interface for batch speech-to-text
// transcription.
//
// Unlike the upstream live channel, pipeline-mode transcription is
// utterance-at-a-time: the orchestrator accumulates one complete utterance of
// PCM audio and hands it to a Provider in a single call. Implementations must
// be safe for concurrent use.
package stt

import "context"

// Result is the outcome of transcribing one utterance.
type Result struct {
	// Success reports whether the provider produced a usable transcript.
	// A failed transcription is not an error: the audio may simply contain
	// no recognisable speech.
	Success bool

	// Transcript is the recognised text. Empty when Success is false.
	Transcript string

	// Confidence is the provider's overall confidence in the transcript,
	// in [0, 1]. Providers that do not report confidence use 1.0 on success.
	Confidence float64

	// IsFinal reports whether this is a final (non-interim) result. Batch
	// providers always return final results.
	IsFinal bool

	// LanguageCode is the detected or configured language of the transcript.
	LanguageCode string
}

// Provider transcribes complete utterances of PCM audio.
type Provider interface {
	// Transcribe converts one utterance of 16-bit signed little-endian PCM
	// audio (16 kHz mono) into text. language is a BCP-47 hint; empty means
	// auto-detect.
	Transcribe(ctx context.Context, pcm []byte, language string) (Result, error)

	// Name identifies the provider in logs and latency metrics.
	Name() string
}
