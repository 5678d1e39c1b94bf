// Package whisperhttp implements the stt.Provider interface against a
// whisper.cpp server's HTTP inference endpoint.
//
// The provider wraps each utterance in a WAV container and uploads it as a
// multipart form to POST /inference. A short RMS gate skips uploads for
// buffers that are effectively silence, saving a round trip on utterances the
// voice-activity logic let through by mistake.
package whisperhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/echoloom/echoloom/pkg/audio"
	"github.com/echoloom/echoloom/pkg/provider/stt"
)

// Compile-time assertion that Provider satisfies stt.Provider.
var _ stt.Provider = (*Provider)(nil)

const (
	defaultTimeout = 30 * time.Second

	// silenceRMSThreshold is the PCM energy floor below which an utterance is
	// treated as silence and never uploaded.
	silenceRMSThreshold = 120.0

	sampleRate = 16000
	channels   = 1
)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithHTTPClient overrides the HTTP client used for inference requests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// WithTemperature sets the decoding temperature passed to the server.
func WithTemperature(t float64) Option {
	return func(p *Provider) { p.temperature = t }
}

// Provider transcribes utterances via a whisper.cpp server.
type Provider struct {
	baseURL     string
	client      *http.Client
	temperature float64
}

// New creates a whisper-server transcription provider. baseURL points at the
// server root, e.g. "http://localhost:8080".
func New(baseURL string, opts ...Option) *Provider {
	p := &Provider{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Name identifies this provider in logs and metrics.
func (p *Provider) Name() string { return "whisper" }

// inferenceResponse is the JSON body returned by whisper-server.
type inferenceResponse struct {
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
}

// Transcribe uploads one utterance as WAV and returns the recognised text.
func (p *Provider) Transcribe(ctx context.Context, pcm []byte, language string) (stt.Result, error) {
	if len(pcm) == 0 {
		return stt.Result{}, nil
	}
	if audio.RMS(pcm) < silenceRMSThreshold {
		return stt.Result{}, nil
	}

	body, contentType, err := buildForm(pcm, language, p.temperature)
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisperhttp: build request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/inference", body)
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisperhttp: create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := p.client.Do(req)
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisperhttp: inference request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisperhttp: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return stt.Result{}, fmt.Errorf("whisperhttp: inference returned status %d: %s", resp.StatusCode, respBody)
	}

	var infer inferenceResponse
	if err := json.Unmarshal(respBody, &infer); err != nil {
		return stt.Result{}, fmt.Errorf("whisperhttp: decode response: %w", err)
	}
	if infer.Error != "" {
		return stt.Result{}, fmt.Errorf("whisperhttp: inference error: %s", infer.Error)
	}

	text := strings.TrimSpace(infer.Text)
	if text == "" {
		return stt.Result{}, nil
	}

	// whisper-server does not report per-utterance confidence.
	return stt.Result{
		Success:      true,
		Transcript:   text,
		Confidence:   1.0,
		IsFinal:      true,
		LanguageCode: language,
	}, nil
}

// buildForm assembles the multipart body whisper-server expects: a "file"
// part carrying the WAV data plus form fields controlling decoding.
func buildForm(pcm []byte, language string, temperature float64) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	filePart, err := w.CreateFormFile("file", "utterance.wav")
	if err != nil {
		return nil, "", err
	}
	if _, err := filePart.Write(audio.EncodeWAV(pcm, sampleRate, channels)); err != nil {
		return nil, "", err
	}

	fields := map[string]string{
		"response_format": "json",
		"temperature":     fmt.Sprintf("%g", temperature),
	}
	if language != "" {
		// whisper expects the bare ISO 639-1 code, not a full BCP-47 tag.
		fields["language"] = baseLanguage(language)
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

// baseLanguage strips a BCP-47 tag down to its primary subtag ("en-US" → "en").
func baseLanguage(tag string) string {
	if i := strings.IndexByte(tag, '-'); i > 0 {
		return tag[:i]
	}
	return tag
}
