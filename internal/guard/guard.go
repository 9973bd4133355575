// Package guard provides the pure validation predicates used by the HTTP
// plane and the settings patch validator. Guards never perform I/O and never
// include secret values in their error messages.
package guard

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/gideonheart/openclaw-even-g2-voice-gateway-sub000/pkg/types"
)

// audioContentTypes is the closed whitelist of accepted audio MIME types.
var audioContentTypes = map[string]bool{
	"audio/wav":   true,
	"audio/x-wav": true,
	"audio/pcm":   true,
	"audio/ogg":   true,
	"audio/mpeg":  true,
	"audio/webm":  true,
}

// ValidAudioContentType reports whether ct names a whitelisted audio type.
// Media-type parameters after ';' (e.g. "audio/webm;codecs=opus") are
// ignored for the comparison.
func ValidAudioContentType(ct string) bool {
	base, _, _ := strings.Cut(ct, ";")
	return audioContentTypes[strings.ToLower(strings.TrimSpace(base))]
}

// CheckAudioPayload validates the size and content type of one audio upload.
// maxBytes is the inclusive upper bound; a payload of exactly maxBytes is
// admitted.
func CheckAudioPayload(audio types.AudioPayload, maxBytes int) error {
	if !ValidAudioContentType(audio.ContentType) {
		return types.NewUserError(types.CodeInvalidContentType,
			fmt.Sprintf("unsupported audio content type %q", audio.ContentType))
	}
	if len(audio.Bytes) == 0 {
		return types.NewUserError(types.CodeInvalidAudio, "audio payload is empty")
	}
	if maxBytes > 0 && len(audio.Bytes) > maxBytes {
		return types.NewUserError(types.CodeAudioTooLarge,
			fmt.Sprintf("audio payload exceeds the %d byte limit", maxBytes))
	}
	return nil
}

// CheckURL validates that raw is an absolute http(s) or ws(s) URL with a
// host. The offending value is echoed back; URLs are not secrets.
func CheckURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return types.NewUserError(types.CodeInvalidConfig,
			fmt.Sprintf("%s: %q is not a valid URL", field, raw))
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return types.NewUserError(types.CodeInvalidConfig,
			fmt.Sprintf("%s: URL scheme must be http(s) or ws(s), got %q", field, u.Scheme))
	}
	if u.Host == "" {
		return types.NewUserError(types.CodeInvalidConfig,
			fmt.Sprintf("%s: URL %q has no host", field, raw))
	}
	return nil
}

// CheckNonEmpty validates that value contains at least one non-space rune.
// The value itself is never echoed back; non-empty guards frequently cover
// secrets.
func CheckNonEmpty(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return types.NewUserError(types.CodeInvalidConfig,
			fmt.Sprintf("%s must not be empty", field))
	}
	return nil
}

// CheckPositiveInt validates that n is strictly greater than zero.
func CheckPositiveInt(field string, n int) error {
	if n <= 0 {
		return types.NewUserError(types.CodeInvalidConfig,
			fmt.Sprintf("%s must be a positive integer, got %d", field, n))
	}
	return nil
}

// CheckProviderId validates s against the closed provider set, converting
// the branded-constructor failure into a user error so the HTTP layer maps
// it to 400.
func CheckProviderId(field, s string) (types.ProviderId, error) {
	p, err := types.NewProviderId(s)
	if err != nil {
		return "", types.NewUserError(types.CodeInvalidConfig,
			fmt.Sprintf("%s: unknown provider %q (valid: whisperx, openai, custom)", field, s))
	}
	return p, nil
}
