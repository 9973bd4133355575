// Package openai provides an STT provider backed by the OpenAI
// transcription API. It implements the stt.Provider interface with a single
// request/response round-trip per payload.
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/gideonheart/openclaw-even-g2-voice-gateway-sub000/pkg/provider/stt"
	"github.com/gideonheart/openclaw-even-g2-voice-gateway-sub000/pkg/types"
)

const (
	defaultModel = "whisper-1"

	// maxUploadBytes is the documented upstream payload cap. Larger payloads
	// are rejected locally instead of burning a round-trip.
	maxUploadBytes = 25 << 20

	healthTimeout = 3 * time.Second
)

// Option is a functional option for configuring the OpenAI Provider.
type Option func(*config)

// config holds optional configuration for the provider.
type config struct {
	baseURL string
	timeout time.Duration
}

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// Provider implements stt.Provider using the OpenAI transcription API.
type Provider struct {
	client   oai.Client
	model    string
	language string
}

// Compile-time assertion that Provider satisfies the stt.Provider interface.
var _ stt.Provider = (*Provider)(nil)

// New constructs an OpenAI STT Provider. apiKey must be non-empty; model
// defaults to whisper-1 and language to auto-detect.
func New(apiKey, model, language string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if model == "" {
		model = defaultModel
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Provider{
		client:   oai.NewClient(reqOpts...),
		model:    model,
		language: language,
	}, nil
}

// Transcribe implements stt.Provider with one round-trip against the
// transcription endpoint.
func (p *Provider) Transcribe(ctx context.Context, audio types.AudioPayload, opts stt.TranscribeOpts) (stt.Result, error) {
	if len(audio.Bytes) > maxUploadBytes {
		return stt.Result{}, &stt.Error{
			Class:    stt.ClassAudioInvalid,
			Provider: types.ProviderOpenAI,
			Message:  fmt.Sprintf("payload of %d bytes exceeds the %d byte API limit", len(audio.Bytes), maxUploadBytes),
		}
	}

	start := time.Now()

	params := oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(audio.Bytes), "audio"+extensionFor(audio.ContentType), audio.ContentType),
		Model: oai.AudioModel(p.model),
	}
	lang := opts.LanguageHint
	if lang == "" {
		lang = p.language
	}
	if lang != "" {
		params.Language = oai.String(lang)
	}

	resp, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return stt.Result{}, p.mapError(ctx, err)
	}
	if resp.Text == "" {
		return stt.Result{}, &stt.Error{
			Class:    stt.ClassAudioInvalid,
			Provider: types.ProviderOpenAI,
			Message:  "transcription returned no text",
		}
	}

	return stt.Result{
		Text:     resp.Text,
		Language: lang,
		Provider: types.ProviderOpenAI,
		Model:    p.model,
		Duration: time.Since(start),
	}, nil
}

// HealthCheck implements stt.Provider by listing models with a short
// deadline. It exercises authentication without consuming quota.
func (p *Provider) HealthCheck(ctx context.Context) stt.Health {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	start := time.Now()
	_, err := p.client.Models.List(ctx)
	latency := time.Since(start)
	if err != nil {
		return stt.Health{Healthy: false, Message: err.Error(), Latency: latency}
	}
	return stt.Health{Healthy: true, Message: "ok", Latency: latency}
}

// mapError translates an SDK failure into the closed provider error set.
func (p *Provider) mapError(ctx context.Context, err error) *stt.Error {
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &stt.Error{
			Class:    stt.ClassTimeout,
			Provider: types.ProviderOpenAI,
			Message:  "transcription deadline exceeded",
			Cause:    err,
		}
	}

	var apierr *oai.Error
	if errors.As(err, &apierr) {
		class := stt.ClassUnknown
		switch {
		case apierr.StatusCode == http.StatusUnauthorized || apierr.StatusCode == http.StatusForbidden:
			class = stt.ClassAuth
		case apierr.StatusCode == http.StatusTooManyRequests:
			class = stt.ClassRateLimited
		case apierr.StatusCode >= 500:
			class = stt.ClassUnavailable
		case apierr.StatusCode >= 400:
			class = stt.ClassAudioInvalid
		}
		return &stt.Error{
			Class:    class,
			Provider: types.ProviderOpenAI,
			Message:  fmt.Sprintf("API returned status %d", apierr.StatusCode),
			Cause:    err,
		}
	}

	return &stt.Error{
		Class:    stt.ClassUnavailable,
		Provider: types.ProviderOpenAI,
		Message:  "transcription request failed",
		Cause:    err,
	}
}

// extensionFor picks a filename extension for the upload based on the
// payload content type.
func extensionFor(contentType string) string {
	switch contentType {
	case "audio/wav", "audio/x-wav":
		return ".wav"
	case "audio/ogg":
		return ".ogg"
	case "audio/mpeg":
		return ".mp3"
	case "audio/webm":
		return ".webm"
	default:
		return ".bin"
	}
}
