package openclaw

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"
)

// Default retry parameters for dial attempts.
const (
	defaultBaseDelay    = 500 * time.Millisecond
	defaultMaxDelay     = 10 * time.Second
	defaultMaxDialTries = 4
)

// Backoff computes exponential retry delays with jitter:
//
//	delay(n) = min(Base·2^n + rand[0, Base), Max)
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// Delay returns the sleep before retry attempt n (0-based).
func (b Backoff) Delay(attempt int) time.Duration {
	base := b.Base
	if base <= 0 {
		base = defaultBaseDelay
	}
	max := b.Max
	if max <= 0 {
		max = defaultMaxDelay
	}

	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= max {
			d = max
			break
		}
	}
	d += time.Duration(rand.Int63n(int64(base)))
	if d > max {
		d = max
	}
	return d
}

// HandshakeError is a connect rejection from the server. It carries the
// wire error code so the retry policy can tell auth failures (terminal)
// from everything else (transient).
type HandshakeError struct {
	Code    string
	Message string
}

// Error implements the error interface.
func (e *HandshakeError) Error() string {
	return fmt.Sprintf("openclaw: handshake rejected: %s: %s", e.Code, e.Message)
}

// Auth reports whether the rejection is an authentication or authorisation
// failure.
func (e *HandshakeError) Auth() bool {
	code := strings.ToLower(e.Code)
	return strings.Contains(code, "auth") ||
		code == "unauthorized" ||
		code == "forbidden" ||
		code == "invalid_token"
}

// errInvalidGatewayURL marks a config problem the retry loop cannot fix.
var errInvalidGatewayURL = errors.New("openclaw: gateway URL is not set")

// isTerminalConnectErr is the retry classifier: a connect failure is
// terminal (no retry) iff it is an auth or config error. Refused sockets,
// resets, timeouts, and every other transport failure are transient.
func isTerminalConnectErr(err error) bool {
	if errors.Is(err, errInvalidGatewayURL) {
		return true
	}
	var he *HandshakeError
	if errors.As(err, &he) {
		return he.Auth()
	}
	return false
}
