// Package stt defines the Provider interface for speech-to-text backends.
//
// An STT provider wraps one transcription service (a self-hosted WhisperX
// server, the OpenAI transcription API, or an arbitrary HTTP endpoint) and
// exposes a uniform whole-payload interface: one audio payload in, one
// [Result] out. Providers own all transport, polling, retry, and result
// normalisation; callers never see a backend-native error shape.
//
// Providers are pure consumers of configuration at construction time. When
// gateway settings change, a fresh instance replaces the old one; providers
// never read the config store themselves.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"

	"github.com/gideonheart/openclaw-even-g2-voice-gateway-sub000/pkg/types"
)

// TranscribeOpts carries per-call context for a transcription.
type TranscribeOpts struct {
	// TurnID is the correlation token of the enclosing voice turn. Providers
	// include it in their log lines but never on the wire.
	TurnID types.TurnId

	// LanguageHint is an optional BCP-47 tag overriding the provider's
	// configured language for this call. Empty means use the configured
	// default (or auto-detect).
	LanguageHint string
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe submits one complete audio payload and blocks until a
	// transcript is available, the provider fails, or ctx is cancelled.
	// Cancellation is a hard interrupt: in-flight I/O is torn down and the
	// call returns a [*Error] of [ClassTimeout] within bounded wind-down
	// time. All failures are reported as [*Error]; use [AsError] to
	// classify.
	Transcribe(ctx context.Context, audio types.AudioPayload, opts TranscribeOpts) (Result, error)

	// HealthCheck probes the backend with a short deadline. It is cheap
	// enough to call from the readiness endpoint on every request.
	HealthCheck(ctx context.Context) Health
}
