package config

import (
	"testing"

	"github.com/gideonheart/openclaw-even-g2-voice-gateway-sub000/pkg/types"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.SttProvider != types.ProviderWhisperX {
		t.Errorf("SttProvider = %q, want whisperx", cfg.SttProvider)
	}
	if cfg.OpenclawSessionKey != "default" {
		t.Errorf("OpenclawSessionKey = %q, want default", cfg.OpenclawSessionKey)
	}
	if cfg.Server.Port != 4400 {
		t.Errorf("Port = %d, want 4400", cfg.Server.Port)
	}
	if cfg.Server.MaxAudioBytes != 10<<20 {
		t.Errorf("MaxAudioBytes = %d, want 10 MiB", cfg.Server.MaxAudioBytes)
	}
	if cfg.Server.RateLimitPerMinute != 60 {
		t.Errorf("RateLimitPerMinute = %d, want 60", cfg.Server.RateLimitPerMinute)
	}
	if cfg.CustomHTTP.ResponseMapping.TextField != "text" {
		t.Errorf("TextField = %q, want text", cfg.CustomHTTP.ResponseMapping.TextField)
	}
}

func TestClone_IsDeep(t *testing.T) {
	orig := Default()
	orig.Server.CorsOrigins = []string{"https://a.example"}
	orig.CustomHTTP.RequestMapping = map[string]string{"format": "json"}

	clone := orig.Clone()
	clone.Server.CorsOrigins[0] = "https://evil.example"
	clone.CustomHTTP.RequestMapping["format"] = "xml"

	if orig.Server.CorsOrigins[0] != "https://a.example" {
		t.Error("mutating the clone's origin list changed the original")
	}
	if orig.CustomHTTP.RequestMapping["format"] != "json" {
		t.Error("mutating the clone's request mapping changed the original")
	}
}

func TestMasked_CoversEverySecret(t *testing.T) {
	cfg := Default()
	cfg.OpenclawGatewayToken = "tok-secret"
	cfg.OpenAI.APIKey = "sk-secret"
	cfg.CustomHTTP.AuthHeader = "Bearer abc"

	safe := cfg.Masked()

	if safe.OpenclawGatewayToken != SecretMask {
		t.Errorf("token = %q, want mask", safe.OpenclawGatewayToken)
	}
	if safe.OpenAI.APIKey != SecretMask {
		t.Errorf("apiKey = %q, want mask", safe.OpenAI.APIKey)
	}
	if safe.CustomHTTP.AuthHeader != SecretMask {
		t.Errorf("authHeader = %q, want mask", safe.CustomHTTP.AuthHeader)
	}
	// Non-secrets survive untouched.
	if safe.WhisperX.BaseURL != cfg.WhisperX.BaseURL {
		t.Errorf("baseUrl rewritten: %q", safe.WhisperX.BaseURL)
	}
	// Masking is unconditional, even on empty secrets.
	empty := Default().Masked()
	if empty.OpenAI.APIKey != SecretMask {
		t.Errorf("empty apiKey = %q, want mask", empty.OpenAI.APIKey)
	}
}
