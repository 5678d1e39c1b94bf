package interrupt

import (
	"strings"
	"testing"
)

func TestSave_CanResumeRules(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		event     Event
		resumable bool
	}{
		{"barge-in mid-utterance", Event{Type: TypeBargeIn, Progress: 0.5}, true},
		{"cut-off mid-utterance", Event{Type: TypeCutOff, Progress: 0.5}, true},
		{"clarification mid-utterance", Event{Type: TypeClarification, Progress: 0.5}, true},
		{"correction never resumes", Event{Type: TypeCorrection, Progress: 0.5}, false},
		{"urgent never resumes", Event{Type: TypeUrgent, Progress: 0.5}, false},
		{"barely started", Event{Type: TypeBargeIn, Progress: 0.1}, false},
		{"nearly finished", Event{Type: TypeBargeIn, Progress: 0.95}, false},
		{"lower bound inclusive", Event{Type: TypeBargeIn, Progress: 0.2}, true},
		{"upper bound inclusive", Event{Type: TypeBargeIn, Progress: 0.9}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s := NewStore(0)
			ctx := s.Save(tc.event, "the answer is forty two because of reasons")
			if ctx.CanResume != tc.resumable {
				t.Errorf("CanResume = %v, want %v", ctx.CanResume, tc.resumable)
			}
		})
	}
}

func TestStore_CapacityEvictsOldest(t *testing.T) {
	t.Parallel()
	s := NewStore(3)

	for i := 0; i < 5; i++ {
		s.Save(Event{Type: TypeBargeIn, Progress: 0.5}, strings.Repeat("x ", i+1))
	}
	if got := s.Len(); got != 3 {
		t.Fatalf("Len = %d, want 3", got)
	}

	// The newest resumable entry must be the last one saved (5 words).
	c := s.LastResumable()
	if c == nil {
		t.Fatal("LastResumable returned nil")
	}
	if len(strings.Fields(c.Response.FullText)) != 5 {
		t.Errorf("newest entry FullText = %q, want the 5-word response", c.Response.FullText)
	}
}

func TestLastResumable_SkipsNonResumable(t *testing.T) {
	t.Parallel()
	s := NewStore(3)

	s.Save(Event{Type: TypeBargeIn, Progress: 0.5}, "resumable answer about the weather")
	s.Save(Event{Type: TypeCorrection, Progress: 0.5}, "corrected answer")

	c := s.LastResumable()
	if c == nil {
		t.Fatal("LastResumable returned nil")
	}
	if c.Type != TypeBargeIn {
		t.Errorf("type = %s, want BARGE_IN (the correction is not resumable)", c.Type)
	}

	s.Clear()
	if s.LastResumable() != nil {
		t.Error("LastResumable after Clear should be nil")
	}
}

func TestSave_SnapshotSplitsByProgress(t *testing.T) {
	t.Parallel()
	s := NewStore(3)

	ctx := s.Save(Event{Type: TypeBargeIn, Progress: 0.5}, "one two three four")
	if ctx.Response.SpokenText != "one two" {
		t.Errorf("SpokenText = %q, want %q", ctx.Response.SpokenText, "one two")
	}
	if ctx.Response.RemainingText != "three four" {
		t.Errorf("RemainingText = %q, want %q", ctx.Response.RemainingText, "three four")
	}
	if ctx.Response.FullText != "one two three four" {
		t.Errorf("FullText = %q", ctx.Response.FullText)
	}
}
