package interrupt

import (
	"context"
	"fmt"
	"strings"

	"github.com/echoloom/echoloom/pkg/provider/llm"
	"github.com/echoloom/echoloom/pkg/types"
)

// acknowledgments holds the localized phrases prepended when the reply
// addresses the interruption explicitly. Smooth barge-ins get no
// acknowledgment so the conversation continues without meta-commentary.
var acknowledgments = map[string]map[Type]string{
	"en": {
		TypeClarification: "Of course, let me clarify.",
		TypeCorrection:    "You're right, let me correct that.",
		TypeUrgent:        "Understood, let's handle that first.",
	},
	"de": {
		TypeClarification: "Natürlich, das erkläre ich gern.",
		TypeCorrection:    "Sie haben recht, das korrigiere ich.",
		TypeUrgent:        "Verstanden, kümmern wir uns zuerst darum.",
	},
	"es": {
		TypeClarification: "Por supuesto, se lo aclaro.",
		TypeCorrection:    "Tiene razón, permítame corregirlo.",
		TypeUrgent:        "Entendido, ocupémonos de eso primero.",
	},
	"fr": {
		TypeClarification: "Bien sûr, je vais préciser.",
		TypeCorrection:    "Vous avez raison, je corrige.",
		TypeUrgent:        "Compris, occupons-nous de cela d'abord.",
	},
}

// Responder composes interruption-aware replies in pipeline mode. When a
// resumable context exists, the generation prompt carries what the assistant
// had already said and what remained unsaid, so the model can pick the
// thought back up instead of restarting it.
type Responder struct {
	provider llm.Provider
}

// NewResponder creates a responder backed by the given language model.
func NewResponder(provider llm.Provider) *Responder {
	return &Responder{provider: provider}
}

// Request carries the inputs for one interruption-aware generation.
type Request struct {
	// Context is the resumable interruption record, from
	// [Store.LastResumable]. Must not be nil.
	Context *Context

	// UserText is what the user said (the interrupting utterance, possibly
	// followed by further speech).
	UserText string

	// Language is the session's BCP-47 language tag, used to localize the
	// acknowledgment phrase.
	Language string

	// SystemPrompt is the session's base system instruction.
	SystemPrompt string

	// History is the conversation so far, oldest first.
	History []types.Message

	// Style bounds the completion length.
	Style types.ResponseStyle
}

// Respond generates a reply that accounts for the interrupted utterance. For
// clarifications, corrections and urgent interruptions the reply is prefixed
// with a localized acknowledgment; barge-ins and cut-offs continue silently.
func (r *Responder) Respond(ctx context.Context, req Request) (string, error) {
	if req.Context == nil {
		return "", fmt.Errorf("interrupt: respond: nil context")
	}

	text, err := r.provider.Generate(ctx, llm.Request{
		SystemPrompt: req.SystemPrompt,
		Messages: append(append([]types.Message{}, req.History...), types.Message{
			Role:    "user",
			Content: buildPrompt(req.Context, req.UserText),
		}),
		MaxTokens: req.Style.TokenBudget(),
	})
	if err != nil {
		return "", fmt.Errorf("interrupt: generate: %w", err)
	}

	if ack := acknowledgmentFor(req.Language, req.Context.Type); ack != "" {
		text = ack + " " + text
	}
	return text, nil
}

// buildPrompt embeds the interruption context around the user's new input.
func buildPrompt(c *Context, userText string) string {
	var b strings.Builder
	b.WriteString("You were interrupted while speaking.\n")
	fmt.Fprintf(&b, "You had said: %q\n", c.Response.SpokenText)
	if c.Response.RemainingText != "" {
		fmt.Fprintf(&b, "You had not yet said: %q\n", c.Response.RemainingText)
	}
	fmt.Fprintf(&b, "The interruption was a %s.\n", strings.ToLower(string(c.Type)))
	fmt.Fprintf(&b, "The user now says: %s\n", userText)
	b.WriteString("Respond to the user. If your unfinished point is still relevant, weave it back in naturally; do not repeat what you already said.")
	return b.String()
}

// acknowledgmentFor returns the localized prefix for the interruption type,
// or "" when the type gets no acknowledgment. Unsupported languages fall
// back to English.
func acknowledgmentFor(language string, t Type) string {
	base := strings.ToLower(language)
	if i := strings.IndexByte(base, '-'); i > 0 {
		base = base[:i]
	}
	set, ok := acknowledgments[base]
	if !ok {
		set = acknowledgments["en"]
	}
	return set[t]
}
