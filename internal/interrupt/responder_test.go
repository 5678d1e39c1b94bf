package interrupt

import (
	"context"
	"strings"
	"testing"

	llmmock "github.com/echoloom/echoloom/pkg/provider/llm/mock"
	"github.com/echoloom/echoloom/pkg/types"
)

func TestRespond_BargeInContinuesSilently(t *testing.T) {
	t.Parallel()
	gen := &llmmock.Provider{Response: "As I was saying, the meeting is at three."}
	r := NewResponder(gen)

	store := NewStore(3)
	store.Save(Event{Type: TypeBargeIn, Progress: 0.5, PartialText: "wait"}, "the meeting is at three in the main room")

	c := store.LastResumable()
	if c == nil || !c.CanResume {
		t.Fatal("expected a resumable context for BARGE_IN at progress 0.5")
	}

	text, err := r.Respond(context.Background(), Request{
		Context:  c,
		UserText: "wait, which room?",
		Language: "en-US",
		Style:    types.StyleNormal,
	})
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if text != gen.Response {
		t.Errorf("barge-in reply = %q, want the raw generation without an acknowledgment prefix", text)
	}

	prompt := gen.LastRequest().Messages[len(gen.LastRequest().Messages)-1].Content
	if !strings.Contains(prompt, c.Response.SpokenText) || !strings.Contains(prompt, c.Response.RemainingText) {
		t.Errorf("prompt missing interruption snapshot: %q", prompt)
	}
}

func TestRespond_AcknowledgmentByType(t *testing.T) {
	t.Parallel()

	cases := []struct {
		typ      Type
		language string
		wantAck  bool
	}{
		{TypeClarification, "en-US", true},
		{TypeCorrection, "en-US", true},
		{TypeUrgent, "en-US", true},
		{TypeBargeIn, "en-US", false},
		{TypeCutOff, "en-US", false},
		{TypeClarification, "de-DE", true},
	}
	for _, tc := range cases {
		t.Run(string(tc.typ)+"/"+tc.language, func(t *testing.T) {
			t.Parallel()
			gen := &llmmock.Provider{Response: "generated body"}
			r := NewResponder(gen)

			c := &Context{
				Type: tc.typ,
				Response: ResponseSnapshot{
					FullText:   "full text",
					SpokenText: "full",
				},
			}
			text, err := r.Respond(context.Background(), Request{
				Context:  c,
				UserText: "hm?",
				Language: tc.language,
			})
			if err != nil {
				t.Fatalf("respond: %v", err)
			}
			hasPrefix := text != "generated body"
			if hasPrefix != tc.wantAck {
				t.Errorf("text = %q, want acknowledgment prefix: %v", text, tc.wantAck)
			}
			if tc.wantAck {
				want := acknowledgments[strings.Split(strings.ToLower(tc.language), "-")[0]][tc.typ]
				if !strings.HasPrefix(text, want) {
					t.Errorf("text = %q, want prefix %q", text, want)
				}
			}
		})
	}
}

func TestRespond_UsesStyleTokenBudget(t *testing.T) {
	t.Parallel()
	gen := &llmmock.Provider{Response: "short"}
	r := NewResponder(gen)

	_, err := r.Respond(context.Background(), Request{
		Context:  &Context{Type: TypeBargeIn},
		UserText: "go on",
		Language: "en",
		Style:    types.StyleConcise,
	})
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if got := gen.LastRequest().MaxTokens; got != types.StyleConcise.TokenBudget() {
		t.Errorf("MaxTokens = %d, want %d", got, types.StyleConcise.TokenBudget())
	}
}

func TestRespond_NilContext(t *testing.T) {
	t.Parallel()
	r := NewResponder(&llmmock.Provider{})

	if _, err := r.Respond(context.Background(), Request{UserText: "hi"}); err == nil {
		t.Fatal("expected error for nil context")
	}
}
