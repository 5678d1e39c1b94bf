// Package quality inspects transcription results for confidence and
// coherence problems in pipeline mode.
//
// Analyze is a pure function over one transcription result: every check runs
// unconditionally, so a single result can yield multiple issues. The issue
// set is then collapsed into one recommended action by [RecommendedAction].
package quality

import (
	"regexp"
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/echoloom/echoloom/pkg/provider/stt"
)

// IssueType classifies a detected transcription problem.
type IssueType string

const (
	IssueEmptyTranscript    IssueType = "EMPTY_TRANSCRIPT"
	IssueLowConfidence      IssueType = "LOW_CONFIDENCE"
	IssueIncoherentSpeech   IssueType = "INCOHERENT_SPEECH"
	IssuePartialRecognition IssueType = "PARTIAL_RECOGNITION"
	IssueLanguageMismatch   IssueType = "LANGUAGE_MISMATCH"
	IssueBackgroundNoise    IssueType = "BACKGROUND_NOISE"

	// IssueLongPause is never produced by Analyze; the session layer records
	// it directly into the adaptive profile when silence gaps are detected.
	IssueLongPause IssueType = "LONG_PAUSE"
)

// Severity ranks how strongly an issue should influence the response.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Issue is one detected transcription problem.
type Issue struct {
	Type       IssueType
	Severity   Severity
	Snippet    string
	Confidence float64
}

// Action is the single decision derived from a set of issues.
type Action string

const (
	ActionContinue            Action = "CONTINUE"
	ActionContinueWithCaution Action = "CONTINUE_WITH_CAUTION"
	ActionRequestRepeat       Action = "REQUEST_REPEAT"
	ActionRequestClarify      Action = "REQUEST_CLARIFICATION"
	ActionSuggestQuiet        Action = "SUGGEST_QUIET_LOCATION"
	ActionOfferLanguageSwitch Action = "OFFER_LANGUAGE_SWITCH"
)

// Confidence thresholds, descending.
const (
	confidenceCritical = 0.3
	confidenceHigh     = 0.5
	confidenceMedium   = 0.7
)

const (
	repeatedWordRatioMax = 0.30
	fragmentRatioMax     = 0.50
	partialWordMin       = 3
)

// noiseMarker matches transcriber annotations for non-speech audio, e.g.
// "[noise]", "(music)", "[inaudible]".
var noiseMarker = regexp.MustCompile(`(?i)[\[(](?:background )?(?:noise|music|static|inaudible|applause|laughter|wind)[\])]`)

// punctOnly strips everything that is not a letter or digit.
var punctOnly = regexp.MustCompile(`[^\p{L}\p{N}]+`)

// fillerWords lists language-specific filler words excluded from the
// coherence checks, keyed by base language subtag.
var fillerWords = map[string]map[string]bool{
	"en": wordSet("um", "uh", "er", "ah", "like", "hmm", "mhm", "well", "so", "you", "know"),
	"de": wordSet("äh", "ähm", "hm", "also", "ja", "halt", "eben", "naja", "quasi"),
	"es": wordSet("eh", "em", "este", "pues", "bueno", "o", "sea", "vale"),
	"fr": wordSet("euh", "ben", "bah", "hein", "alors", "bon", "quoi", "enfin"),
}

func wordSet(words ...string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}

// Analyzer detects quality issues in transcription results. It is stateless
// and safe for concurrent use.
type Analyzer struct{}

// NewAnalyzer creates an Analyzer.
func NewAnalyzer() *Analyzer {
	return &Analyzer{}
}

// Analyze runs every quality check against one transcription result.
// A failed or empty transcription short-circuits to a single critical
// EMPTY_TRANSCRIPT issue; everything else is checked independently.
func (a *Analyzer) Analyze(res stt.Result, expectedLanguage string) []Issue {
	transcript := strings.TrimSpace(res.Transcript)
	if !res.Success || transcript == "" {
		return []Issue{{
			Type:       IssueEmptyTranscript,
			Severity:   SeverityCritical,
			Snippet:    transcript,
			Confidence: res.Confidence,
		}}
	}

	var issues []Issue
	words := splitWords(transcript)

	if iss, ok := checkConfidence(res, transcript); ok {
		issues = append(issues, iss)
	}
	if iss, ok := checkIncoherence(transcript, words, expectedLanguage); ok {
		issues = append(issues, iss)
	}
	if res.IsFinal && len(words) < partialWordMin {
		issues = append(issues, Issue{
			Type:       IssuePartialRecognition,
			Severity:   SeverityLow,
			Snippet:    transcript,
			Confidence: res.Confidence,
		})
	}
	if iss, ok := checkLanguage(res, transcript, expectedLanguage); ok {
		issues = append(issues, iss)
	}
	// Empty-content check: nothing left once punctuation and noise markers
	// are stripped away.
	if punctOnly.ReplaceAllString(noiseMarker.ReplaceAllString(transcript, ""), "") == "" {
		issues = append(issues, Issue{
			Type:       IssueEmptyTranscript,
			Severity:   SeverityCritical,
			Snippet:    transcript,
			Confidence: res.Confidence,
		})
	}
	if iss, ok := checkNoise(res, transcript, words); ok {
		issues = append(issues, iss)
	}

	return issues
}

// checkConfidence maps the numeric confidence onto the three descending
// thresholds.
func checkConfidence(res stt.Result, transcript string) (Issue, bool) {
	var sev Severity
	switch {
	case res.Confidence < confidenceCritical:
		sev = SeverityCritical
	case res.Confidence < confidenceHigh:
		sev = SeverityHigh
	case res.Confidence < confidenceMedium:
		sev = SeverityMedium
	default:
		return Issue{}, false
	}
	return Issue{
		Type:       IssueLowConfidence,
		Severity:   sev,
		Snippet:    transcript,
		Confidence: res.Confidence,
	}, true
}

// checkIncoherence filters filler words, then flags transcripts with no
// meaningful words, excessive repetition, excessive fragments, or
// consecutive stutters (exact or phonetic near-repeats).
func checkIncoherence(transcript string, words []string, language string) (Issue, bool) {
	fillers := fillerWords[baseLanguage(language)]

	var meaningful []string
	for _, w := range words {
		if !fillers[w] {
			meaningful = append(meaningful, w)
		}
	}

	if len(meaningful) == 0 && len(words) > 0 {
		return Issue{
			Type:     IssueIncoherentSpeech,
			Severity: SeverityHigh,
			Snippet:  transcript,
		}, true
	}

	counts := make(map[string]int, len(meaningful))
	repeated := 0
	for _, w := range meaningful {
		counts[w]++
		if counts[w] > 1 {
			repeated++
		}
	}
	if len(meaningful) > 0 && float64(repeated)/float64(len(meaningful)) > repeatedWordRatioMax {
		return Issue{
			Type:     IssueIncoherentSpeech,
			Severity: SeverityMedium,
			Snippet:  transcript,
		}, true
	}

	fragments := 0
	for _, w := range meaningful {
		if len([]rune(w)) <= 2 {
			fragments++
		}
	}
	if len(meaningful) > 0 && float64(fragments)/float64(len(meaningful)) > fragmentRatioMax {
		return Issue{
			Type:     IssueIncoherentSpeech,
			Severity: SeverityMedium,
			Snippet:  transcript,
		}, true
	}

	for i := 1; i < len(meaningful); i++ {
		if isStutter(meaningful[i-1], meaningful[i]) {
			return Issue{
				Type:     IssueIncoherentSpeech,
				Severity: SeverityMedium,
				Snippet:  transcript,
			}, true
		}
	}

	return Issue{}, false
}

// isStutter reports whether two consecutive words are the same word or
// phonetic near-repeats ("wha what").
func isStutter(prev, cur string) bool {
	if prev == cur {
		return true
	}
	if len(prev) < 2 || len(cur) < 2 {
		return false
	}
	p1, _ := matchr.DoubleMetaphone(prev)
	c1, _ := matchr.DoubleMetaphone(cur)
	if p1 != "" && p1 == c1 {
		// Same phonetic code plus a prefix relationship separates stutters
		// from legitimate homophone pairs.
		return strings.HasPrefix(cur, prev) || strings.HasPrefix(prev, cur)
	}
	return false
}

// checkLanguage compares base language subtags (region ignored) of the
// detected and expected languages.
func checkLanguage(res stt.Result, transcript, expected string) (Issue, bool) {
	if res.LanguageCode == "" || expected == "" {
		return Issue{}, false
	}
	if baseLanguage(res.LanguageCode) == baseLanguage(expected) {
		return Issue{}, false
	}
	return Issue{
		Type:       IssueLanguageMismatch,
		Severity:   SeverityMedium,
		Snippet:    transcript,
		Confidence: res.Confidence,
	}, true
}

// checkNoise flags explicit noise markers, or the combination of low
// confidence and a very short transcript.
func checkNoise(res stt.Result, transcript string, words []string) (Issue, bool) {
	if noiseMarker.MatchString(transcript) {
		return Issue{
			Type:       IssueBackgroundNoise,
			Severity:   SeverityMedium,
			Snippet:    transcript,
			Confidence: res.Confidence,
		}, true
	}
	if res.Confidence < confidenceHigh && len(words) <= 2 {
		return Issue{
			Type:       IssueBackgroundNoise,
			Severity:   SeverityLow,
			Snippet:    transcript,
			Confidence: res.Confidence,
		}, true
	}
	return Issue{}, false
}

// RecommendedAction collapses a set of issues into one decision with fixed
// precedence.
func RecommendedAction(issues []Issue) Action {
	if len(issues) == 0 {
		return ActionContinue
	}

	var (
		hasNoise      bool
		hasIncoherent bool
		hasMismatch   bool
		lowConfidence *Issue
	)
	for i, iss := range issues {
		if iss.Severity == SeverityCritical {
			return ActionRequestRepeat
		}
		switch iss.Type {
		case IssueBackgroundNoise:
			hasNoise = true
		case IssueIncoherentSpeech:
			hasIncoherent = true
		case IssueLanguageMismatch:
			hasMismatch = true
		case IssueLowConfidence:
			lowConfidence = &issues[i]
		}
	}

	switch {
	case hasNoise:
		return ActionSuggestQuiet
	case hasIncoherent:
		return ActionRequestClarify
	case hasMismatch:
		return ActionOfferLanguageSwitch
	case lowConfidence != nil:
		return ActionRequestClarify
	default:
		return ActionContinueWithCaution
	}
}

// splitWords lowercases and tokenises a transcript into plain words.
func splitWords(s string) []string {
	raw := strings.Fields(strings.ToLower(s))
	words := make([]string, 0, len(raw))
	for _, w := range raw {
		w = strings.Trim(w, ".,!?;:\"'()[]")
		if w != "" {
			words = append(words, w)
		}
	}
	return words
}

// baseLanguage strips a BCP-47 tag down to its primary subtag ("en-US" → "en").
func baseLanguage(tag string) string {
	tag = strings.ToLower(tag)
	if i := strings.IndexByte(tag, '-'); i > 0 {
		return tag[:i]
	}
	return tag
}
