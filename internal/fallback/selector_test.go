package fallback

import (
	"context"
	"errors"
	"testing"

	"github.com/echoloom/echoloom/internal/quality"
	ttsmock "github.com/echoloom/echoloom/pkg/provider/tts/mock"
)

// memLibrary is an in-memory Library for tests.
type memLibrary struct {
	variants map[string][]Utterance // keyed by language + "/" + issue type
	err      error
	lookups  int
}

func (m *memLibrary) Lookup(ctx context.Context, language string, issueType quality.IssueType, attempt int) (*Utterance, error) {
	m.lookups++
	if m.err != nil {
		return nil, m.err
	}
	set := m.variants[language+"/"+string(issueType)]
	if len(set) == 0 {
		return nil, nil
	}
	u := set[attempt%len(set)]
	return &u, nil
}

func lowConfidenceReq() Request {
	return Request{
		Language: "en-US",
		Issue:    quality.Issue{Type: quality.IssueLowConfidence, Severity: quality.SeverityHigh},
	}
}

func TestSelect_LibraryHitIsCachedForNextLookup(t *testing.T) {
	t.Parallel()
	lib := &memLibrary{variants: map[string][]Utterance{
		"en/LOW_CONFIDENCE": {{Text: "pardon?", Audio: []byte{1, 2}}},
	}}
	s := NewSelector(lib, nil)

	first, err := s.Select(context.Background(), lowConfidenceReq())
	if err != nil {
		t.Fatalf("first select: %v", err)
	}
	if first.Source != SourceLibrary || first.Text != "pardon?" {
		t.Fatalf("first = %+v, want library hit", first)
	}

	second, err := s.Select(context.Background(), lowConfidenceReq())
	if err != nil {
		t.Fatalf("second select: %v", err)
	}
	if second.Source != SourceCache {
		t.Errorf("second source = %s, want cache", second.Source)
	}
	if second.Latency != 0 {
		t.Errorf("cache hit latency = %v, want 0", second.Latency)
	}
	if lib.lookups != 1 {
		t.Errorf("library lookups = %d, want 1 (second hit from cache)", lib.lookups)
	}
}

func TestSelect_SynthesisWhenLibraryEmpty(t *testing.T) {
	t.Parallel()
	synth := &ttsmock.Provider{Audio: []byte{9, 9}}
	s := NewSelector(&memLibrary{}, synth)

	resp, err := s.Select(context.Background(), lowConfidenceReq())
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if resp.Source != SourceGenerated {
		t.Errorf("source = %s, want generated", resp.Source)
	}
	if resp.Text == "" {
		t.Error("generated response has empty text")
	}
	if synth.CallCount() != 1 {
		t.Errorf("synthesize calls = %d, want 1", synth.CallCount())
	}

	// Result must now be in the cache.
	again, err := s.Select(context.Background(), lowConfidenceReq())
	if err != nil {
		t.Fatalf("second select: %v", err)
	}
	if again.Source != SourceCache {
		t.Errorf("second source = %s, want cache", again.Source)
	}
	if synth.CallCount() != 1 {
		t.Errorf("synthesize calls after cache hit = %d, want 1", synth.CallCount())
	}
}

func TestSelect_LibraryErrorFallsThroughToSynthesis(t *testing.T) {
	t.Parallel()
	lib := &memLibrary{err: errors.New("db down")}
	synth := &ttsmock.Provider{Audio: []byte{1}}
	s := NewSelector(lib, synth)

	resp, err := s.Select(context.Background(), lowConfidenceReq())
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if resp.Source != SourceGenerated {
		t.Errorf("source = %s, want generated", resp.Source)
	}
}

func TestSelect_NoTiersAvailable(t *testing.T) {
	t.Parallel()
	s := NewSelector(nil, nil)

	if _, err := s.Select(context.Background(), lowConfidenceReq()); err == nil {
		t.Fatal("expected error when no tier can serve, got nil")
	}
}

func TestPickText_Tiers(t *testing.T) {
	t.Parallel()
	s := NewSelector(nil, nil)
	key := Key{Language: "en", IssueType: quality.IssueLowConfidence, Severity: quality.SeverityHigh}

	// Repeated attempts select the empathetic set.
	req := lowConfidenceReq()
	req.Attempts = 3
	if got := s.pickText(key, req); !contains(empatheticPhrases["en"], got) {
		t.Errorf("attempts=3 text %q not from empathetic set", got)
	}

	// High frustration selects the apologetic set.
	req = lowConfidenceReq()
	req.Frustration = 0.8
	if got := s.pickText(key, req); !contains(apologeticPhrases["en"], got) {
		t.Errorf("frustration=0.8 text %q not from apologetic set", got)
	}

	// Otherwise neutral, per language and issue type.
	req = lowConfidenceReq()
	if got := s.pickText(key, req); !contains(neutralPhrases["en"][quality.IssueLowConfidence], got) {
		t.Errorf("neutral text %q not from neutral set", got)
	}
}

func TestSelect_UnsupportedLanguageFallsBackToEnglish(t *testing.T) {
	t.Parallel()
	synth := &ttsmock.Provider{Audio: []byte{1}}
	s := NewSelector(nil, synth)

	req := lowConfidenceReq()
	req.Language = "ja-JP"
	resp, err := s.Select(context.Background(), req)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if !contains(neutralPhrases["en"][quality.IssueLowConfidence], resp.Text) {
		t.Errorf("text %q not from the English neutral set", resp.Text)
	}
}

func contains(set []string, s string) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}
