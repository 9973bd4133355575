// Package customhttp provides an STT provider for arbitrary HTTP
// transcription endpoints. The endpoint URL, auth header, and the JSON paths
// for extracting text, language, and confidence are all configurable, so any
// backend that accepts raw audio bytes and answers with JSON can be wired in
// without code changes.
package customhttp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/gideonheart/openclaw-even-g2-voice-gateway-sub000/pkg/provider/stt"
	"github.com/gideonheart/openclaw-even-g2-voice-gateway-sub000/pkg/types"
)

const (
	defaultTimeout   = 60 * time.Second
	healthTimeout    = 3 * time.Second
	maxResponseBytes = 1 << 20
)

// ResponseMapping names the dotted gjson paths used to pull fields out of
// the backend's JSON response (e.g. "result.text" or "alternatives.0.text").
type ResponseMapping struct {
	// TextField locates the transcript. Required; a missing or empty value
	// fails the transcription.
	TextField string

	// LanguageField locates the detected language. Optional.
	LanguageField string

	// ConfidenceField locates the confidence score. Optional.
	ConfidenceField string
}

// Option is a functional option for configuring the custom Provider.
type Option func(*Provider)

// WithAuthHeader sets the Authorization header value sent with every
// request. The value is used verbatim (e.g. "Bearer abc123").
func WithAuthHeader(value string) Option {
	return func(p *Provider) { p.authHeader = value }
}

// WithQueryParams sets static query parameters appended to every
// transcription request, for backends that need extra knobs
// (e.g. {"format": "json"}).
func WithQueryParams(params map[string]string) Option {
	return func(p *Provider) {
		if len(params) == 0 {
			return
		}
		p.query = make(map[string]string, len(params))
		for k, v := range params {
			p.query[k] = v
		}
	}
}

// WithTimeout bounds one transcription round-trip.
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

// Provider implements stt.Provider against a user-configured HTTP endpoint.
type Provider struct {
	url        string
	authHeader string
	query      map[string]string
	mapping    ResponseMapping
	timeout    time.Duration
	http       *http.Client
}

// Compile-time assertion that Provider satisfies the stt.Provider interface.
var _ stt.Provider = (*Provider)(nil)

// New constructs a custom HTTP Provider. url and mapping.TextField must be
// non-empty.
func New(url string, mapping ResponseMapping, opts ...Option) (*Provider, error) {
	if url == "" {
		return nil, errors.New("customhttp: url must not be empty")
	}
	if mapping.TextField == "" {
		return nil, errors.New("customhttp: mapping.TextField must not be empty")
	}
	p := &Provider{
		url:     url,
		mapping: mapping,
		timeout: defaultTimeout,
		http:    &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe implements stt.Provider. The audio bytes are posted verbatim
// with the payload's content type; the response JSON is mined with the
// configured field paths.
func (p *Provider) Transcribe(ctx context.Context, audio types.AudioPayload, opts stt.TranscribeOpts) (stt.Result, error) {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(audio.Bytes))
	if err != nil {
		return stt.Result{}, &stt.Error{Class: stt.ClassUnknown, Provider: types.ProviderCustom, Message: "build request", Cause: err}
	}
	if len(p.query) > 0 {
		q := req.URL.Query()
		for k, v := range p.query {
			q.Set(k, v)
		}
		req.URL.RawQuery = q.Encode()
	}
	req.Header.Set("Content-Type", audio.ContentType)
	if p.authHeader != "" {
		req.Header.Set("Authorization", p.authHeader)
	}
	if audio.LanguageHint != "" {
		req.Header.Set("X-Language-Hint", audio.LanguageHint)
	}

	resp, err := p.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return stt.Result{}, p.ctxError(ctx)
		}
		return stt.Result{}, &stt.Error{Class: stt.ClassUnavailable, Provider: types.ProviderCustom, Message: "transcription request failed", Cause: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return stt.Result{}, &stt.Error{Class: stt.ClassUnavailable, Provider: types.ProviderCustom, Message: "read response", Cause: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return stt.Result{}, &stt.Error{
			Class:    classForStatus(resp.StatusCode),
			Provider: types.ProviderCustom,
			Message:  fmt.Sprintf("endpoint returned status %d", resp.StatusCode),
		}
	}

	if !gjson.ValidBytes(raw) {
		return stt.Result{}, &stt.Error{
			Class:    stt.ClassUnavailable,
			Provider: types.ProviderCustom,
			Message:  "endpoint returned unparseable JSON",
		}
	}
	doc := gjson.ParseBytes(raw)

	text := strings.TrimSpace(doc.Get(p.mapping.TextField).String())
	if text == "" {
		return stt.Result{}, &stt.Error{
			Class:    stt.ClassAudioInvalid,
			Provider: types.ProviderCustom,
			Message:  fmt.Sprintf("response field %q is missing or empty", p.mapping.TextField),
		}
	}

	res := stt.Result{
		Text:     text,
		Provider: types.ProviderCustom,
		Duration: time.Since(start),
	}
	if p.mapping.LanguageField != "" {
		res.Language = doc.Get(p.mapping.LanguageField).String()
	}
	if p.mapping.ConfidenceField != "" {
		if c := doc.Get(p.mapping.ConfidenceField); c.Exists() {
			v := c.Float()
			res.Confidence = &v
		}
	}
	return res, nil
}

// HealthCheck implements stt.Provider with a HEAD against the configured
// URL. Any response, including 405, proves the endpoint is reachable; only
// transport failures and 5xx count as unhealthy.
func (p *Provider) HealthCheck(ctx context.Context) stt.Health {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		return stt.Health{Healthy: false, Message: err.Error()}
	}
	if p.authHeader != "" {
		req.Header.Set("Authorization", p.authHeader)
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return stt.Health{Healthy: false, Message: err.Error(), Latency: time.Since(start)}
	}
	defer resp.Body.Close()

	h := stt.Health{Latency: time.Since(start)}
	if resp.StatusCode >= 500 {
		h.Message = fmt.Sprintf("endpoint returned %d", resp.StatusCode)
	} else {
		h.Healthy = true
		h.Message = "ok"
	}
	return h
}

// ctxError maps a cancelled or expired context onto the timeout class.
func (p *Provider) ctxError(ctx context.Context) *stt.Error {
	msg := "transcription timed out"
	if errors.Is(ctx.Err(), context.Canceled) {
		msg = "transcription cancelled"
	}
	return &stt.Error{Class: stt.ClassTimeout, Provider: types.ProviderCustom, Message: msg, Cause: ctx.Err()}
}

// classForStatus maps an HTTP status to a provider error class.
func classForStatus(status int) stt.Class {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return stt.ClassAuth
	case status == http.StatusTooManyRequests:
		return stt.ClassRateLimited
	default:
		return stt.ClassUnavailable
	}
}
