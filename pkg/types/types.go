// Package types defines the shared types used across all gateway packages.
//
// These types form the lingua franca between the HTTP plane, the turn
// orchestrator, the STT providers, and the OpenClaw session client. Each
// package defines its own domain types, but cross-cutting data structures
// live here to avoid circular imports.
package types

import (
	"fmt"
	"time"
)

// TurnId is the per-request correlation token. It is generated when a voice
// turn enters the HTTP plane and threads through every log line, provider
// call, and agent frame belonging to that turn.
type TurnId string

// NewTurnId wraps s as a TurnId. s must not be empty.
func NewTurnId(s string) (TurnId, error) {
	if s == "" {
		return "", fmt.Errorf("types: turn id must not be empty")
	}
	return TurnId(s), nil
}

// String returns the raw identifier.
func (id TurnId) String() string { return string(id) }

// SessionKey identifies the logical OpenClaw conversation channel. It is
// constant across all turns within a session.
type SessionKey string

// NewSessionKey wraps s as a SessionKey. s must not be empty.
func NewSessionKey(s string) (SessionKey, error) {
	if s == "" {
		return "", fmt.Errorf("types: session key must not be empty")
	}
	return SessionKey(s), nil
}

// String returns the raw key.
func (k SessionKey) String() string { return string(k) }

// ProviderId selects the active STT provider. The set of valid values is
// closed; use [NewProviderId] to construct one from untrusted input.
type ProviderId string

const (
	// ProviderWhisperX is the self-hosted async-poll WhisperX server.
	ProviderWhisperX ProviderId = "whisperx"

	// ProviderOpenAI is the OpenAI transcription API.
	ProviderOpenAI ProviderId = "openai"

	// ProviderCustom is a user-configured generic HTTP endpoint.
	ProviderCustom ProviderId = "custom"
)

// NewProviderId validates s against the closed provider set.
func NewProviderId(s string) (ProviderId, error) {
	p := ProviderId(s)
	if !p.IsValid() {
		return "", fmt.Errorf("types: unknown stt provider %q (valid: whisperx, openai, custom)", s)
	}
	return p, nil
}

// IsValid reports whether p is a recognised provider id.
func (p ProviderId) IsValid() bool {
	switch p {
	case ProviderWhisperX, ProviderOpenAI, ProviderCustom:
		return true
	}
	return false
}

// String returns the raw identifier.
func (p ProviderId) String() string { return string(p) }

// AudioPayload is one complete audio recording submitted for a voice turn.
// The bytes are held in memory only for the duration of the transcription
// call and discarded afterwards.
type AudioPayload struct {
	// Bytes is the raw audio data exactly as received on the wire.
	Bytes []byte

	// ContentType is the declared MIME type (e.g. "audio/wav"). Must be one
	// of the whitelisted audio types; see guard.ValidAudioContentType.
	ContentType string

	// LanguageHint is an optional BCP-47 language tag supplied by the caller
	// via the X-Language-Hint header. Empty means provider auto-detect.
	LanguageHint string
}

// AgentResponse is the accumulated reply to one transcript, assembled by the
// session client from one or more chat event frames.
type AgentResponse struct {
	SessionKey SessionKey
	TurnId     TurnId
	Text       string
	Timestamp  time.Time
}

// Segment is one display-sized piece of the shaped assistant reply.
type Segment struct {
	// Index is the zero-based position of this segment; strictly increasing.
	Index int `json:"index"`

	// Text is the segment content.
	Text string `json:"text"`

	// Continuation is true when this segment was produced by splitting a
	// source paragraph and is not the paragraph's first piece.
	Continuation bool `json:"continuation"`
}

// AssistantReply is the shaped agent response inside the turn envelope.
type AssistantReply struct {
	FullText  string    `json:"fullText"`
	Segments  []Segment `json:"segments"`
	Truncated bool      `json:"truncated"`
}

// Timing records per-stage wall-clock durations for one turn, exposed on the
// wire in milliseconds.
type Timing struct {
	SttMs   int64 `json:"sttMs"`
	AgentMs int64 `json:"agentMs"`
	TotalMs int64 `json:"totalMs"`
}

// Meta carries provider attribution for one turn.
type Meta struct {
	Provider ProviderId `json:"provider"`
	Model    string     `json:"model,omitempty"`
}

// TurnReply is the HTTP response envelope for POST /api/voice/turn.
type TurnReply struct {
	TurnId     TurnId         `json:"turnId"`
	SessionKey SessionKey     `json:"sessionKey"`
	Assistant  AssistantReply `json:"assistant"`
	Timing     Timing         `json:"timing"`
	Meta       Meta           `json:"meta"`
}
