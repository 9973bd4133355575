// Package whisperx provides an STT provider backed by a self-hosted WhisperX
// server with an asynchronous task API. It implements the stt.Provider
// interface.
//
// Protocol: POST the audio as a multipart form to /transcribe, receive an
// opaque task id, then poll GET /tasks/{id} until the task reports COMPLETED
// or FAILED, or the overall timeout elapses. Any other status means "keep
// polling".
package whisperx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/gideonheart/openclaw-even-g2-voice-gateway-sub000/pkg/provider/stt"
	"github.com/gideonheart/openclaw-even-g2-voice-gateway-sub000/pkg/types"
)

const (
	// minPollInterval clamps the poll cadence to at most 1 Hz regardless of
	// configuration.
	minPollInterval = 1 * time.Second

	defaultPollInterval = 1 * time.Second
	defaultTimeout      = 120 * time.Second
	healthTimeout       = 3 * time.Second

	// maxResponseBytes bounds how much of a backend response body is read.
	maxResponseBytes = 1 << 20
)

// Terminal task states reported by the WhisperX status endpoint.
const (
	statusCompleted = "COMPLETED"
	statusFailed    = "FAILED"
)

// Option is a functional option for configuring the WhisperX Provider.
type Option func(*Provider)

// WithModel sets the Whisper model requested from the server (e.g. "large-v3").
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the default transcription language. An empty string lets
// the server auto-detect.
func WithLanguage(language string) Option {
	return func(p *Provider) { p.language = language }
}

// WithPollInterval sets the task-status poll cadence. Values below one
// second are clamped up; the server is never polled faster than 1 Hz.
func WithPollInterval(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.pollInterval = d
		}
	}
}

// WithTimeout bounds the whole submit-and-poll cycle for one transcription.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithHTTPClient overrides the HTTP client, mainly for tests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.http = c }
}

// Provider implements stt.Provider against a WhisperX async task server.
type Provider struct {
	baseURL      string
	model        string
	language     string
	pollInterval time.Duration
	timeout      time.Duration
	http         *http.Client
}

// Compile-time assertion that Provider satisfies the stt.Provider interface.
var _ stt.Provider = (*Provider)(nil)

// New constructs a WhisperX Provider. baseURL must be non-empty.
func New(baseURL string, opts ...Option) (*Provider, error) {
	if baseURL == "" {
		return nil, errors.New("whisperx: baseURL must not be empty")
	}
	p := &Provider{
		baseURL:      strings.TrimRight(baseURL, "/"),
		pollInterval: defaultPollInterval,
		timeout:      defaultTimeout,
		http:         &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	if p.pollInterval < minPollInterval {
		p.pollInterval = minPollInterval
	}
	return p, nil
}

// Transcribe implements stt.Provider. It submits the audio, then polls the
// task status until a terminal state or the overall timeout. Cancelling ctx
// aborts the in-flight HTTP request and any inter-poll sleep.
func (p *Provider) Transcribe(ctx context.Context, audio types.AudioPayload, opts stt.TranscribeOpts) (stt.Result, error) {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	taskID, err := p.submit(ctx, audio, opts)
	if err != nil {
		return stt.Result{}, err
	}

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return stt.Result{}, p.ctxError(ctx)
		case <-ticker.C:
		}

		doc, err := p.pollOnce(ctx, taskID)
		if err != nil {
			if ctx.Err() != nil {
				return stt.Result{}, p.ctxError(ctx)
			}
			return stt.Result{}, err
		}

		switch doc.Get("status").String() {
		case statusCompleted:
			return p.extract(doc, start)
		case statusFailed:
			msg := doc.Get("error").String()
			if msg == "" {
				msg = "task failed"
			}
			return stt.Result{}, &stt.Error{
				Class:    stt.ClassUnavailable,
				Provider: types.ProviderWhisperX,
				Message:  "transcription task failed: " + msg,
			}
		default:
			// PENDING, PROCESSING, or anything unrecognised: keep polling.
		}
	}
}

// submit uploads the audio as a multipart form and returns the task id.
func (p *Provider) submit(ctx context.Context, audio types.AudioPayload, opts stt.TranscribeOpts) (string, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	part, err := w.CreateFormFile("audio", "audio"+extensionFor(audio.ContentType))
	if err != nil {
		return "", p.wrap(stt.ClassUnknown, "build multipart form", err)
	}
	if _, err := part.Write(audio.Bytes); err != nil {
		return "", p.wrap(stt.ClassUnknown, "build multipart form", err)
	}
	if p.model != "" {
		_ = w.WriteField("model", p.model)
	}
	lang := opts.LanguageHint
	if lang == "" {
		lang = p.language
	}
	if lang != "" {
		_ = w.WriteField("language", lang)
	}
	if err := w.Close(); err != nil {
		return "", p.wrap(stt.ClassUnknown, "build multipart form", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/transcribe", &body)
	if err != nil {
		return "", p.wrap(stt.ClassUnknown, "build request", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := p.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", p.ctxError(ctx)
		}
		return "", p.wrap(stt.ClassUnavailable, "submit audio", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", p.wrap(stt.ClassUnavailable, "read submit response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &stt.Error{
			Class:    classForStatus(resp.StatusCode),
			Provider: types.ProviderWhisperX,
			Message:  fmt.Sprintf("submit returned status %d", resp.StatusCode),
		}
	}

	taskID := gjson.GetBytes(raw, "task_id").String()
	if taskID == "" {
		return "", &stt.Error{
			Class:    stt.ClassUnavailable,
			Provider: types.ProviderWhisperX,
			Message:  "submit response contains no task_id",
		}
	}
	return taskID, nil
}

// pollOnce fetches the current task document.
func (p *Provider) pollOnce(ctx context.Context, taskID string) (gjson.Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/tasks/"+taskID, nil)
	if err != nil {
		return gjson.Result{}, p.wrap(stt.ClassUnknown, "build poll request", err)
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return gjson.Result{}, p.wrap(stt.ClassUnavailable, "poll task status", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return gjson.Result{}, p.wrap(stt.ClassUnavailable, "read poll response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return gjson.Result{}, &stt.Error{
			Class:    classForStatus(resp.StatusCode),
			Provider: types.ProviderWhisperX,
			Message:  fmt.Sprintf("status endpoint returned %d", resp.StatusCode),
		}
	}
	return gjson.ParseBytes(raw), nil
}

// extract builds the normalised Result from a COMPLETED task document.
func (p *Provider) extract(doc gjson.Result, start time.Time) (stt.Result, error) {
	text := strings.TrimSpace(doc.Get("result.text").String())
	if text == "" {
		return stt.Result{}, &stt.Error{
			Class:    stt.ClassAudioInvalid,
			Provider: types.ProviderWhisperX,
			Message:  "completed task contains no transcript text",
		}
	}

	res := stt.Result{
		Text:     text,
		Language: doc.Get("result.language").String(),
		Provider: types.ProviderWhisperX,
		Model:    p.model,
		Duration: time.Since(start),
	}
	if c := doc.Get("result.confidence"); c.Exists() {
		v := c.Float()
		res.Confidence = &v
	}
	return res, nil
}

// HealthCheck implements stt.Provider with a short GET against /health.
func (p *Provider) HealthCheck(ctx context.Context) stt.Health {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/health", nil)
	if err != nil {
		return stt.Health{Healthy: false, Message: err.Error()}
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return stt.Health{Healthy: false, Message: err.Error(), Latency: time.Since(start)}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))

	h := stt.Health{Latency: time.Since(start)}
	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		h.Healthy = true
		h.Message = "ok"
	} else {
		h.Message = fmt.Sprintf("health endpoint returned %d", resp.StatusCode)
	}
	return h
}

// ctxError maps a cancelled or expired context onto the timeout class.
func (p *Provider) ctxError(ctx context.Context) *stt.Error {
	msg := "transcription timed out"
	if errors.Is(ctx.Err(), context.Canceled) {
		msg = "transcription cancelled"
	}
	return &stt.Error{
		Class:    stt.ClassTimeout,
		Provider: types.ProviderWhisperX,
		Message:  msg,
		Cause:    ctx.Err(),
	}
}

// wrap builds a typed provider error around a transport failure.
func (p *Provider) wrap(class stt.Class, msg string, err error) *stt.Error {
	return &stt.Error{Class: class, Provider: types.ProviderWhisperX, Message: msg, Cause: err}
}

// classForStatus maps an HTTP status to a provider error class.
func classForStatus(status int) stt.Class {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return stt.ClassAuth
	case status == http.StatusTooManyRequests:
		return stt.ClassRateLimited
	case status >= 500:
		return stt.ClassUnavailable
	default:
		return stt.ClassUnavailable
	}
}

// extensionFor picks a filename extension for the multipart part based on
// the payload content type. WhisperX sniffs content anyway; the extension is
// only a hint.
func extensionFor(contentType string) string {
	base, _, _ := strings.Cut(contentType, ";")
	switch strings.TrimSpace(strings.ToLower(base)) {
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
