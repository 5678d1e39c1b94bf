// Package interrupt tracks interrupted assistant utterances so a later turn
// can resume them instead of starting over.
//
// Each session owns one bounded Store of interruption contexts. Turn
// detection produces an Event when the user speaks over assistant audio; the
// store snapshots what had been said, what remained, and whether the
// utterance is worth resuming. The Responder consumes the newest resumable
// context when composing the next reply.
package interrupt

import (
	"strings"
	"sync"
	"time"
)

// Type classifies why the user interrupted.
type Type string

const (
	// TypeClarification: the user asked a question about what was being said.
	TypeClarification Type = "CLARIFICATION"
	// TypeCorrection: the user is correcting the assistant; the interrupted
	// utterance should not be resumed.
	TypeCorrection Type = "CORRECTION"
	// TypeUrgent: the user needs something else immediately.
	TypeUrgent Type = "URGENT"
	// TypeBargeIn: the user simply started talking over the assistant.
	TypeBargeIn Type = "BARGE_IN"
	// TypeCutOff: the audio stream was cut mid-utterance.
	TypeCutOff Type = "CUT_OFF"
)

// Event is one detected interruption. It is consumed immediately by the
// store and the adaptive profile; nothing retains it afterwards.
type Event struct {
	// Type classifies the interruption.
	Type Type

	// Progress is the fraction of the assistant utterance that had played
	// when the interruption occurred, in [0, 1].
	Progress float64

	// PartialText is what the user said while interrupting, possibly empty
	// or an interim transcript.
	PartialText string

	// Confidence is the transcription confidence of PartialText.
	Confidence float64

	// Intensity is the relative audio energy of the interruption.
	Intensity float64
}

// ResponseSnapshot captures the assistant utterance at the moment of
// interruption.
type ResponseSnapshot struct {
	FullText      string
	SpokenText    string
	RemainingText string
	Progress      float64
}

// Context is one stored interruption record.
type Context struct {
	Timestamp time.Time
	Type      Type
	Response  ResponseSnapshot
	User      Event

	// CanResume reports whether the interrupted utterance is eligible for
	// contextual resumption. Computed at save time, never stored verbatim
	// from the caller.
	CanResume bool
}

const (
	// DefaultCapacity bounds the stack; the oldest entry is evicted first.
	DefaultCapacity = 3

	resumeProgressMin = 0.2
	resumeProgressMax = 0.9
)

// Store is a bounded stack of interruption contexts, newest last. Safe for
// concurrent use.
type Store struct {
	mu       sync.Mutex
	entries  []Context
	capacity int
	now      func() time.Time
}

// NewStore creates a store with the given capacity. A capacity below 1 uses
// [DefaultCapacity].
func NewStore(capacity int) *Store {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Store{
		capacity: capacity,
		now:      time.Now,
	}
}

// Save stores a new context for the interrupted assistant response, evicting
// the oldest entry when the stack is full. It returns the stored context.
func (s *Store) Save(event Event, lastResponse string) Context {
	spoken, remaining := splitByProgress(lastResponse, event.Progress)
	ctx := Context{
		Timestamp: s.now(),
		Type:      event.Type,
		Response: ResponseSnapshot{
			FullText:      lastResponse,
			SpokenText:    spoken,
			RemainingText: remaining,
			Progress:      event.Progress,
		},
		User:      event,
		CanResume: canResume(event),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, ctx)
	if len(s.entries) > s.capacity {
		s.entries = s.entries[len(s.entries)-s.capacity:]
	}
	return ctx
}

// LastResumable returns the most recent context with CanResume set, or nil
// when no stored entry is resumable.
func (s *Store) LastResumable() *Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].CanResume {
			c := s.entries[i]
			return &c
		}
	}
	return nil
}

// Len returns the number of stored contexts.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Clear drops all stored contexts. Called after a successful resumption so
// the same utterance is not resumed twice.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
}

// canResume decides resumability from the event alone: corrections and
// urgent interruptions want a fresh answer, and utterances that had barely
// started or nearly finished are not worth picking back up.
func canResume(event Event) bool {
	switch event.Type {
	case TypeCorrection, TypeUrgent:
		return false
	}
	if event.Progress < resumeProgressMin || event.Progress > resumeProgressMax {
		return false
	}
	return true
}

// splitByProgress divides text at the word boundary closest to the given
// playback fraction.
func splitByProgress(text string, progress float64) (spoken, remaining string) {
	if progress <= 0 {
		return "", text
	}
	if progress >= 1 {
		return text, ""
	}
	words := strings.Fields(text)
	if len(words) == 0 {
		return "", ""
	}
	cut := int(progress*float64(len(words)) + 0.5)
	if cut < 0 {
		cut = 0
	}
	if cut > len(words) {
		cut = len(words)
	}
	return strings.Join(words[:cut], " "), strings.Join(words[cut:], " ")
}
