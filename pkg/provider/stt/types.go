package stt

import (
	"errors"
	"fmt"
	"time"

	"github.com/gideonheart/openclaw-even-g2-voice-gateway-sub000/pkg/types"
)

// Result is the normalised transcription outcome. Every provider returns
// this exact shape regardless of its backend's native response format.
type Result struct {
	// Text is the transcript. Never empty in a successful Result.
	Text string

	// Language is the detected or configured BCP-47 language tag. May be
	// empty when the backend does not report one.
	Language string

	// Confidence is the backend's overall confidence in [0,1], or nil when
	// the backend does not report one.
	Confidence *float64

	// Provider identifies which adapter produced this result.
	Provider types.ProviderId

	// Model is the backend model used, when known.
	Model string

	// Duration is the wall-clock time spent inside the provider call.
	Duration time.Duration
}

// Health is the outcome of a provider health probe.
type Health struct {
	Healthy bool
	Message string
	Latency time.Duration
}

// Class partitions provider failures into the closed set the orchestrator
// understands. Adapters map every backend-native failure into one of these.
type Class string

const (
	ClassTimeout      Class = "TIMEOUT"
	ClassUnavailable  Class = "UNAVAILABLE"
	ClassAudioInvalid Class = "AUDIO_INVALID"
	ClassRateLimited  Class = "RATE_LIMITED"
	ClassAuth         Class = "AUTH"
	ClassUnknown      Class = "UNKNOWN"
)

// Error is the typed failure returned by every provider. The orchestrator
// never sees a provider-native error shape.
type Error struct {
	Class    Class
	Provider types.ProviderId
	Message  string
	Cause    error
}

// NewError builds a provider error.
func NewError(class Class, provider types.ProviderId, message string) *Error {
	return &Error{Class: class, Provider: provider, Message: message}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("stt/%s: %s: %s: %v", e.Provider, e.Class, e.Message, e.Cause)
	}
	return fmt.Sprintf("stt/%s: %s: %s", e.Provider, e.Class, e.Message)
}

// Unwrap exposes the cause to errors.Is/As chains.
func (e *Error) Unwrap() error { return e.Cause }

// AsError extracts the typed provider error from err, if present.
func AsError(err error) (*Error, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
