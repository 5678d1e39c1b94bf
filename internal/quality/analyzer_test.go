package quality

import (
	"testing"

	"github.com/echoloom/echoloom/pkg/provider/stt"
)

func hasIssue(issues []Issue, t IssueType) bool {
	for _, iss := range issues {
		if iss.Type == t {
			return true
		}
	}
	return false
}

func TestAnalyze_FailedTranscriptionYieldsSingleEmptyTranscript(t *testing.T) {
	t.Parallel()
	a := NewAnalyzer()

	for _, res := range []stt.Result{
		{Success: false},
		{Success: true, Transcript: "   ", Confidence: 0.9, IsFinal: true},
	} {
		issues := a.Analyze(res, "en-US")
		if len(issues) != 1 {
			t.Fatalf("got %d issues, want exactly 1: %+v", len(issues), issues)
		}
		if issues[0].Type != IssueEmptyTranscript || issues[0].Severity != SeverityCritical {
			t.Errorf("got %+v, want critical EMPTY_TRANSCRIPT", issues[0])
		}
	}
}

func TestAnalyze_LowConfidenceCritical_RequestsRepeat(t *testing.T) {
	t.Parallel()
	a := NewAnalyzer()

	res := stt.Result{
		Success:    true,
		Transcript: "please turn on the lights",
		Confidence: 0.25,
		IsFinal:    true,
	}
	issues := a.Analyze(res, "en-US")

	found := false
	for _, iss := range issues {
		if iss.Type == IssueLowConfidence {
			found = true
			if iss.Severity != SeverityCritical {
				t.Errorf("LOW_CONFIDENCE severity = %s, want critical", iss.Severity)
			}
		}
	}
	if !found {
		t.Fatalf("expected LOW_CONFIDENCE issue, got %+v", issues)
	}
	if got := RecommendedAction(issues); got != ActionRequestRepeat {
		t.Errorf("RecommendedAction = %s, want REQUEST_REPEAT", got)
	}
}

func TestAnalyze_ConfidenceThresholds(t *testing.T) {
	t.Parallel()
	a := NewAnalyzer()

	cases := []struct {
		confidence float64
		want       Severity
	}{
		{0.2, SeverityCritical},
		{0.4, SeverityHigh},
		{0.6, SeverityMedium},
	}
	for _, tc := range cases {
		issues := a.Analyze(stt.Result{
			Success:    true,
			Transcript: "this is a reasonably long test sentence",
			Confidence: tc.confidence,
			IsFinal:    true,
		}, "en-US")
		var got Severity
		for _, iss := range issues {
			if iss.Type == IssueLowConfidence {
				got = iss.Severity
			}
		}
		if got != tc.want {
			t.Errorf("confidence %.2f: severity = %s, want %s", tc.confidence, got, tc.want)
		}
	}

	issues := a.Analyze(stt.Result{
		Success:    true,
		Transcript: "this is a reasonably long test sentence",
		Confidence: 0.85,
		IsFinal:    true,
	}, "en-US")
	if hasIssue(issues, IssueLowConfidence) {
		t.Errorf("confidence 0.85 should not yield LOW_CONFIDENCE: %+v", issues)
	}
}

func TestAnalyze_IncoherentSpeech(t *testing.T) {
	t.Parallel()
	a := NewAnalyzer()

	cases := []struct {
		name       string
		transcript string
	}{
		{"only fillers", "um uh like hmm"},
		{"repeated words", "yes yes yes yes no"},
		{"fragments", "a b c d okay"},
		{"consecutive stutter", "turn on the the lights please"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			issues := a.Analyze(stt.Result{
				Success:    true,
				Transcript: tc.transcript,
				Confidence: 0.9,
				IsFinal:    true,
			}, "en-US")
			if !hasIssue(issues, IssueIncoherentSpeech) {
				t.Errorf("%q: expected INCOHERENT_SPEECH, got %+v", tc.transcript, issues)
			}
		})
	}

	issues := a.Analyze(stt.Result{
		Success:    true,
		Transcript: "please schedule a meeting for tomorrow morning",
		Confidence: 0.9,
		IsFinal:    true,
	}, "en-US")
	if hasIssue(issues, IssueIncoherentSpeech) {
		t.Errorf("coherent sentence flagged as incoherent: %+v", issues)
	}
}

func TestAnalyze_PartialRecognition(t *testing.T) {
	t.Parallel()
	a := NewAnalyzer()

	issues := a.Analyze(stt.Result{
		Success:    true,
		Transcript: "turn lights",
		Confidence: 0.9,
		IsFinal:    true,
	}, "en-US")
	if !hasIssue(issues, IssuePartialRecognition) {
		t.Errorf("2-word final result should yield PARTIAL_RECOGNITION: %+v", issues)
	}

	issues = a.Analyze(stt.Result{
		Success:    true,
		Transcript: "turn lights",
		Confidence: 0.9,
		IsFinal:    false,
	}, "en-US")
	if hasIssue(issues, IssuePartialRecognition) {
		t.Errorf("interim result should not yield PARTIAL_RECOGNITION: %+v", issues)
	}
}

func TestAnalyze_LanguageMismatchIgnoresRegion(t *testing.T) {
	t.Parallel()
	a := NewAnalyzer()

	issues := a.Analyze(stt.Result{
		Success:      true,
		Transcript:   "guten morgen wie geht es dir heute",
		Confidence:   0.9,
		IsFinal:      true,
		LanguageCode: "de-DE",
	}, "en-US")
	if !hasIssue(issues, IssueLanguageMismatch) {
		t.Errorf("de vs en should yield LANGUAGE_MISMATCH: %+v", issues)
	}

	issues = a.Analyze(stt.Result{
		Success:      true,
		Transcript:   "good morning how are you doing today",
		Confidence:   0.9,
		IsFinal:      true,
		LanguageCode: "en-GB",
	}, "en-US")
	if hasIssue(issues, IssueLanguageMismatch) {
		t.Errorf("en-GB vs en-US should not yield LANGUAGE_MISMATCH: %+v", issues)
	}
}

func TestAnalyze_BackgroundNoise(t *testing.T) {
	t.Parallel()
	a := NewAnalyzer()

	issues := a.Analyze(stt.Result{
		Success:    true,
		Transcript: "please [noise] turn on the lights",
		Confidence: 0.9,
		IsFinal:    true,
	}, "en-US")
	if !hasIssue(issues, IssueBackgroundNoise) {
		t.Errorf("noise marker should yield BACKGROUND_NOISE: %+v", issues)
	}

	// Low confidence plus very short transcript.
	issues = a.Analyze(stt.Result{
		Success:    true,
		Transcript: "okay sure",
		Confidence: 0.45,
		IsFinal:    false,
	}, "en-US")
	if !hasIssue(issues, IssueBackgroundNoise) {
		t.Errorf("low-confidence short transcript should yield BACKGROUND_NOISE: %+v", issues)
	}
}

func TestAnalyze_ChecksAreNotShortCircuited(t *testing.T) {
	t.Parallel()
	a := NewAnalyzer()

	// Low confidence and a noise marker in one result: both issues expected.
	issues := a.Analyze(stt.Result{
		Success:    true,
		Transcript: "the the lights [static] on and and off maybe",
		Confidence: 0.4,
		IsFinal:    true,
	}, "en-US")
	if !hasIssue(issues, IssueLowConfidence) || !hasIssue(issues, IssueBackgroundNoise) || !hasIssue(issues, IssueIncoherentSpeech) {
		t.Errorf("expected multiple independent issues, got %+v", issues)
	}
}

func TestRecommendedAction_Precedence(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		issues []Issue
		want   Action
	}{
		{"no issues", nil, ActionContinue},
		{"any critical wins", []Issue{
			{Type: IssueLanguageMismatch, Severity: SeverityMedium},
			{Type: IssueEmptyTranscript, Severity: SeverityCritical},
		}, ActionRequestRepeat},
		{"noise beats incoherence", []Issue{
			{Type: IssueIncoherentSpeech, Severity: SeverityMedium},
			{Type: IssueBackgroundNoise, Severity: SeverityMedium},
		}, ActionSuggestQuiet},
		{"incoherence beats mismatch", []Issue{
			{Type: IssueLanguageMismatch, Severity: SeverityMedium},
			{Type: IssueIncoherentSpeech, Severity: SeverityMedium},
		}, ActionRequestClarify},
		{"mismatch alone", []Issue{
			{Type: IssueLanguageMismatch, Severity: SeverityMedium},
		}, ActionOfferLanguageSwitch},
		{"non-critical low confidence", []Issue{
			{Type: IssueLowConfidence, Severity: SeverityHigh},
		}, ActionRequestClarify},
		{"other issues only", []Issue{
			{Type: IssuePartialRecognition, Severity: SeverityLow},
		}, ActionContinueWithCaution},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := RecommendedAction(tc.issues); got != tc.want {
				t.Errorf("RecommendedAction = %s, want %s", got, tc.want)
			}
		})
	}
}
