// Package fallback produces a pre-baked or freshly synthesized utterance
// when transcription quality or connection problems prevent a normal
// response.
//
// Lookups walk three tiers in ascending latency order, keyed by (language,
// issue type, severity): a process-wide in-memory cache, a pre-generated
// utterance library on durable storage, and on-demand speech synthesis.
// Every successful tier-2 or tier-3 result is written into tier 1 before it
// is returned.
package fallback

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/echoloom/echoloom/internal/quality"
	"github.com/echoloom/echoloom/pkg/provider/tts"
	"github.com/echoloom/echoloom/pkg/types"
)

// Source identifies which tier served a fallback response.
type Source string

const (
	SourceCache     Source = "cache"
	SourceLibrary   Source = "library"
	SourceGenerated Source = "generated"
)

// Key addresses one cache slot.
type Key struct {
	Language  string
	IssueType quality.IssueType
	Severity  quality.Severity
}

// Entry is one cached fallback utterance. At most one entry exists per key;
// regeneration refreshes the entry in place.
type Entry struct {
	Source  Source
	Audio   []byte
	Text    string
	Latency time.Duration
}

// Utterance is one pre-generated library record.
type Utterance struct {
	Text  string
	Audio []byte
}

// Library is the tier-2 durable utterance store. Implementations rotate
// through available variants by attempt count so consecutive fallbacks do
// not repeat the same phrase.
type Library interface {
	// Lookup returns the utterance variant for the given attempt, or
	// (nil, nil) when the library has no entry for this language/type.
	Lookup(ctx context.Context, language string, issueType quality.IssueType, attempt int) (*Utterance, error)
}

// Request carries the context needed to pick a fallback utterance.
type Request struct {
	// Language is the session's BCP-47 language tag.
	Language string

	// Issue is the dominant quality issue that triggered the fallback.
	Issue quality.Issue

	// Attempts counts how many fallbacks this session has already consumed.
	Attempts int

	// Frustration is the session's current frustration estimate, in [0, 1].
	Frustration float64

	// Voice selects the synthesis voice for tier 3.
	Voice types.VoiceProfile
}

// Response is the selected fallback utterance.
type Response struct {
	Text    string
	Audio   []byte
	Source  Source
	Latency time.Duration
}

const (
	empatheticAttemptMin     = 2
	apologeticFrustrationMin = 0.7
)

// Selector implements the three-tier fallback lookup. The tier-1 cache is
// process-wide and safe for concurrent use across sessions.
type Selector struct {
	library Library      // may be nil when no durable library is configured
	synth   tts.Provider // may be nil in tests exercising only tiers 1–2

	mu    sync.RWMutex
	cache map[Key]Entry

	// rng drives neutral phrase selection. Guarded by mu.
	rng *rand.Rand
}

// NewSelector creates a Selector. library may be nil (tier 2 is skipped);
// synth may be nil (tier 3 fails, which callers treat as no fallback
// available).
func NewSelector(library Library, synth tts.Provider) *Selector {
	return &Selector{
		library: library,
		synth:   synth,
		cache:   make(map[Key]Entry),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Select resolves a fallback utterance for the request, walking the tiers in
// order. A cache hit reports zero latency and source "cache".
func (s *Selector) Select(ctx context.Context, req Request) (Response, error) {
	key := Key{
		Language:  phraseLanguage(req.Language),
		IssueType: req.Issue.Type,
		Severity:  req.Issue.Severity,
	}

	// Tier 1: in-process cache.
	s.mu.RLock()
	entry, ok := s.cache[key]
	s.mu.RUnlock()
	if ok {
		return Response{
			Text:   entry.Text,
			Audio:  entry.Audio,
			Source: SourceCache,
		}, nil
	}

	// Tier 2: durable utterance library.
	if s.library != nil {
		start := time.Now()
		utt, err := s.library.Lookup(ctx, key.Language, key.IssueType, req.Attempts)
		if err != nil {
			slog.Warn("fallback library lookup failed, synthesizing instead",
				"language", key.Language, "issue", key.IssueType, "error", err)
		} else if utt != nil {
			resp := Response{
				Text:    utt.Text,
				Audio:   utt.Audio,
				Source:  SourceLibrary,
				Latency: time.Since(start),
			}
			s.store(key, resp)
			return resp, nil
		}
	}

	// Tier 3: on-demand synthesis.
	if s.synth == nil {
		return Response{}, fmt.Errorf("fallback: no utterance available for %s/%s", key.Language, key.IssueType)
	}
	text := s.pickText(key, req)
	start := time.Now()
	audio, err := s.synth.Synthesize(ctx, text, req.Language, req.Voice)
	if err != nil {
		return Response{}, fmt.Errorf("fallback: synthesize: %w", err)
	}
	resp := Response{
		Text:    text,
		Audio:   audio,
		Source:  SourceGenerated,
		Latency: time.Since(start),
	}
	s.store(key, resp)
	return resp, nil
}

// store writes a tier-2/3 result into the tier-1 cache, replacing any
// previous entry for the key.
func (s *Selector) store(key Key, resp Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[key] = Entry{
		Source:  resp.Source,
		Audio:   resp.Audio,
		Text:    resp.Text,
		Latency: resp.Latency,
	}
}

// Invalidate drops the cache entry for a key, forcing regeneration on the
// next lookup. Used when voice configuration changes.
func (s *Selector) Invalidate(key Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cache, key)
}

// pickText selects the tier-3 utterance text: empathetic after repeated
// attempts, apologetic under high frustration, otherwise a random neutral
// template for the language and issue type.
func (s *Selector) pickText(key Key, req Request) string {
	if req.Attempts > empatheticAttemptMin {
		if set := empatheticPhrases[key.Language]; len(set) > 0 {
			return set[req.Attempts%len(set)]
		}
	}
	if req.Frustration > apologeticFrustrationMin {
		if set := apologeticPhrases[key.Language]; len(set) > 0 {
			return set[req.Attempts%len(set)]
		}
	}

	set := neutralPhrases[key.Language][key.IssueType]
	if len(set) == 0 {
		set = neutralPhrases["en"][quality.IssueLowConfidence]
	}
	s.mu.Lock()
	idx := s.rng.Intn(len(set))
	s.mu.Unlock()
	return set[idx]
}

// baseLanguage strips a BCP-47 tag down to its primary subtag ("en-US" → "en").
func baseLanguage(tag string) string {
	tag = strings.ToLower(tag)
	if i := strings.IndexByte(tag, '-'); i > 0 {
		return tag[:i]
	}
	return tag
}
