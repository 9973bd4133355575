package openclaw

import "encoding/json"

// Wire protocol frame kinds. Every frame is a JSON object whose "type"
// field discriminates between the three kinds.
const (
	frameTypeRequest  = "req"
	frameTypeResponse = "res"
	frameTypeEvent    = "event"
)

// Method names sent by this client.
const (
	methodConnect  = "connect"
	methodChatSend = "chat.send"
)

// Event names consumed by this client.
const (
	eventChallenge = "connect.challenge"
	eventChat      = "chat"
)

// Chat event states.
const (
	chatStateDelta   = "delta"
	chatStateFinal   = "final"
	chatStateAborted = "aborted"
	chatStateError   = "error"
)

// requestFrame is an outbound request. Domain fields (sessionKey, message,
// ...) always live inside Params, never at the top level.
type requestFrame struct {
	Type   string `json:"type"`
	ID     string `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params"`
}

// inboundFrame is the union of everything the server sends. Which fields
// are populated depends on Type.
type inboundFrame struct {
	Type string `json:"type"`

	// Response fields (type == "res").
	ID      string          `json:"id,omitempty"`
	OK      bool            `json:"ok,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *wireError      `json:"error,omitempty"`

	// Event fields (type == "event"). Event payloads reuse Payload.
	Event string `json:"event,omitempty"`
	Seq   int64  `json:"seq,omitempty"`
}

// wireError is the error object inside a failed response frame.
type wireError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// connectParams is the handshake request body. The server rejects unknown
// top-level keys, so this struct must match its schema exactly. The
// backend-auth flow never carries a nonce: device.nonce exists only for
// device-paired flows, and a top-level nonce key is always invalid.
type connectParams struct {
	MinProtocol int               `json:"minProtocol"`
	MaxProtocol int               `json:"maxProtocol"`
	Client      connectClientInfo `json:"client"`
	Caps        []string          `json:"caps"`
	Role        string            `json:"role"`
	Scopes      []string          `json:"scopes"`
	Auth        *connectAuth      `json:"auth,omitempty"`
}

// connectClientInfo identifies this gateway to the server.
type connectClientInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName,omitempty"`
	Version     string `json:"version"`
	Platform    string `json:"platform"`
	Mode        string `json:"mode"`
}

// connectAuth carries the backend token.
type connectAuth struct {
	Token string `json:"token,omitempty"`
}

// chatSendParams is the body of a chat.send request. The idempotency key
// doubles as the runId that correlates later chat events with this turn.
type chatSendParams struct {
	SessionKey     string `json:"sessionKey"`
	Message        string `json:"message"`
	IdempotencyKey string `json:"idempotencyKey"`
	TimeoutMs      int64  `json:"timeoutMs"`
}
