// Package config provides the gateway configuration schema, the boot
// loaders (environment and optional YAML file), the runtime store with
// validated partial updates, and the secret-masked projection served by the
// settings endpoints.
package config

import (
	"github.com/gideonheart/openclaw-even-g2-voice-gateway-sub000/pkg/types"
)

// SecretMask is the literal that replaces secret values in the safe
// projection returned by [GatewayConfig.Masked].
const SecretMask = "********"

// GatewayConfig is the complete runtime configuration. It is owned
// exclusively by the [Store]; every snapshot handed out is a deep copy, so
// holders can never observe a later update.
type GatewayConfig struct {
	// OpenclawGatewayURL is the WebSocket URL of the OpenClaw agent gateway.
	OpenclawGatewayURL string `json:"openclawGatewayUrl" yaml:"openclawGatewayUrl"`

	// OpenclawGatewayToken authenticates the connect handshake. Secret.
	OpenclawGatewayToken string `json:"openclawGatewayToken" yaml:"openclawGatewayToken"`

	// OpenclawSessionKey is the agent conversation channel for this gateway
	// instance.
	OpenclawSessionKey string `json:"openclawSessionKey" yaml:"openclawSessionKey"`

	// SttProvider selects the active transcription backend.
	SttProvider types.ProviderId `json:"sttProvider" yaml:"sttProvider"`

	WhisperX   WhisperXConfig   `json:"whisperx" yaml:"whisperx"`
	OpenAI     OpenAIConfig     `json:"openai" yaml:"openai"`
	CustomHTTP CustomHTTPConfig `json:"customHttp" yaml:"customHttp"`
	Server     ServerConfig     `json:"server" yaml:"server"`
}

// WhisperXConfig configures the self-hosted async-poll WhisperX backend.
type WhisperXConfig struct {
	BaseURL        string `json:"baseUrl" yaml:"baseUrl"`
	Model          string `json:"model" yaml:"model"`
	Language       string `json:"language" yaml:"language"`
	PollIntervalMs int    `json:"pollIntervalMs" yaml:"pollIntervalMs"`
	TimeoutMs      int    `json:"timeoutMs" yaml:"timeoutMs"`
}

// OpenAIConfig configures the OpenAI transcription backend.
type OpenAIConfig struct {
	// APIKey authenticates against the OpenAI API. Secret.
	APIKey   string `json:"apiKey" yaml:"apiKey"`
	Model    string `json:"model" yaml:"model"`
	Language string `json:"language" yaml:"language"`
}

// CustomHTTPConfig configures the generic HTTP transcription backend.
type CustomHTTPConfig struct {
	URL string `json:"url" yaml:"url"`

	// AuthHeader is the full Authorization header value. Secret.
	AuthHeader string `json:"authHeader" yaml:"authHeader"`

	// RequestMapping holds static query parameters appended to every
	// transcription request, for backends that need extra knobs
	// (e.g. {"format": "json"}).
	RequestMapping map[string]string `json:"requestMapping,omitempty" yaml:"requestMapping"`

	ResponseMapping ResponseMappingConfig `json:"responseMapping" yaml:"responseMapping"`
}

// ResponseMappingConfig names the dotted JSON paths for extracting the
// transcription result from the custom backend's response.
type ResponseMappingConfig struct {
	TextField       string `json:"textField" yaml:"textField"`
	LanguageField   string `json:"languageField" yaml:"languageField"`
	ConfidenceField string `json:"confidenceField" yaml:"confidenceField"`
}

// ServerConfig holds the HTTP plane settings.
type ServerConfig struct {
	Port int    `json:"port" yaml:"port"`
	Host string `json:"host" yaml:"host"`

	// CorsOrigins is the allowed-origin list. Empty means every origin is
	// allowed (development mode).
	CorsOrigins []string `json:"corsOrigins" yaml:"corsOrigins"`

	MaxAudioBytes      int `json:"maxAudioBytes" yaml:"maxAudioBytes"`
	RateLimitPerMinute int `json:"rateLimitPerMinute" yaml:"rateLimitPerMinute"`

	// TrustedProxyHeader optionally names a request header (e.g.
	// "X-Forwarded-For") whose first entry is used as the rate-limit client
	// identity instead of the remote address. Empty trusts the socket peer.
	TrustedProxyHeader string `json:"trustedProxyHeader,omitempty" yaml:"trustedProxyHeader"`
}

// Default returns the built-in configuration used when neither environment
// nor config file supplies a value.
func Default() GatewayConfig {
	return GatewayConfig{
		OpenclawGatewayURL: "ws://localhost:3000",
		OpenclawSessionKey: "default",
		SttProvider:        types.ProviderWhisperX,
		WhisperX: WhisperXConfig{
			BaseURL:        "http://localhost:9000",
			Model:          "large-v3",
			PollIntervalMs: 1000,
			TimeoutMs:      120000,
		},
		OpenAI: OpenAIConfig{
			Model: "whisper-1",
		},
		CustomHTTP: CustomHTTPConfig{
			ResponseMapping: ResponseMappingConfig{
				TextField:       "text",
				LanguageField:   "language",
				ConfidenceField: "confidence",
			},
		},
		Server: ServerConfig{
			Port:               4400,
			Host:               "0.0.0.0",
			MaxAudioBytes:      10 << 20,
			RateLimitPerMinute: 60,
		},
	}
}

// Clone returns a deep copy of c.
func (c GatewayConfig) Clone() GatewayConfig {
	out := c
	if c.Server.CorsOrigins != nil {
		out.Server.CorsOrigins = make([]string, len(c.Server.CorsOrigins))
		copy(out.Server.CorsOrigins, c.Server.CorsOrigins)
	}
	if c.CustomHTTP.RequestMapping != nil {
		out.CustomHTTP.RequestMapping = make(map[string]string, len(c.CustomHTTP.RequestMapping))
		for k, v := range c.CustomHTTP.RequestMapping {
			out.CustomHTTP.RequestMapping[k] = v
		}
	}
	return out
}

// Masked returns the safe projection of c: identical structure with the
// three secret fields replaced by [SecretMask]. The mask is applied
// unconditionally, so no code path can leak a secret by misjudging whether
// one is set.
func (c GatewayConfig) Masked() GatewayConfig {
	out := c.Clone()
	out.OpenclawGatewayToken = SecretMask
	out.OpenAI.APIKey = SecretMask
	out.CustomHTTP.AuthHeader = SecretMask
	return out
}
