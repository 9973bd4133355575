package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/gideonheart/openclaw-even-g2-voice-gateway-sub000/pkg/types"
)

// FromEnv builds the boot configuration from [Default] plus environment
// overrides. A non-numeric value where a positive integer is expected is a
// hard boot error so misconfiguration fails loudly instead of silently
// falling back.
func FromEnv() (GatewayConfig, error) {
	cfg := Default()
	var errs []error

	envStr("OPENCLAW_GATEWAY_URL", &cfg.OpenclawGatewayURL)
	envStr("OPENCLAW_GATEWAY_TOKEN", &cfg.OpenclawGatewayToken)
	envStr("OPENCLAW_SESSION_KEY", &cfg.OpenclawSessionKey)

	if v, ok := os.LookupEnv("STT_PROVIDER"); ok {
		p, err := types.NewProviderId(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("STT_PROVIDER: %w", err))
		} else {
			cfg.SttProvider = p
		}
	}

	envStr("WHISPERX_BASE_URL", &cfg.WhisperX.BaseURL)
	envStr("WHISPERX_MODEL", &cfg.WhisperX.Model)
	envStr("WHISPERX_LANGUAGE", &cfg.WhisperX.Language)
	envInt("WHISPERX_POLL_INTERVAL_MS", &cfg.WhisperX.PollIntervalMs, &errs)
	envInt("WHISPERX_TIMEOUT_MS", &cfg.WhisperX.TimeoutMs, &errs)

	envStr("OPENAI_API_KEY", &cfg.OpenAI.APIKey)
	envStr("OPENAI_STT_MODEL", &cfg.OpenAI.Model)
	envStr("OPENAI_STT_LANGUAGE", &cfg.OpenAI.Language)

	envStr("CUSTOM_STT_URL", &cfg.CustomHTTP.URL)
	envStr("CUSTOM_STT_AUTH", &cfg.CustomHTTP.AuthHeader)
	envStr("CUSTOM_STT_TEXT_FIELD", &cfg.CustomHTTP.ResponseMapping.TextField)
	envStr("CUSTOM_STT_LANGUAGE_FIELD", &cfg.CustomHTTP.ResponseMapping.LanguageField)
	envStr("CUSTOM_STT_CONFIDENCE_FIELD", &cfg.CustomHTTP.ResponseMapping.ConfidenceField)

	envInt("PORT", &cfg.Server.Port, &errs)
	envStr("HOST", &cfg.Server.Host)
	if v, ok := os.LookupEnv("CORS_ORIGINS"); ok {
		cfg.Server.CorsOrigins = splitOrigins(v)
	}
	envInt("MAX_AUDIO_BYTES", &cfg.Server.MaxAudioBytes, &errs)
	envInt("RATE_LIMIT_PER_MINUTE", &cfg.Server.RateLimitPerMinute, &errs)
	envStr("TRUSTED_PROXY_HEADER", &cfg.Server.TrustedProxyHeader)

	if len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return GatewayConfig{}, fmt.Errorf("config: invalid environment: %s", strings.Join(msgs, "; "))
	}
	return cfg, nil
}

// Load reads an optional YAML config file over base. Values present in the
// file override base; everything else is kept. Unknown keys are a parse
// error so typos surface at boot.
func Load(path string, base GatewayConfig) (GatewayConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return GatewayConfig{}, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f, base)
	if err != nil {
		return GatewayConfig{}, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r over base. Useful in tests
// where configs are constructed from string literals.
func LoadFromReader(r io.Reader, base GatewayConfig) (GatewayConfig, error) {
	cfg := base.Clone()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		if err == io.EOF {
			return cfg, nil
		}
		return GatewayConfig{}, fmt.Errorf("config: decode yaml: %w", err)
	}
	if !cfg.SttProvider.IsValid() {
		return GatewayConfig{}, fmt.Errorf("config: sttProvider %q is not one of whisperx, openai, custom", cfg.SttProvider)
	}
	return cfg, nil
}

// envStr overrides dst when the variable is set, even to an empty string.
func envStr(name string, dst *string) {
	if v, ok := os.LookupEnv(name); ok {
		*dst = v
	}
}

// envInt overrides dst when the variable is set; non-positive or
// non-numeric values append to errs.
func envInt(name string, dst *int, errs *[]error) {
	v, ok := os.LookupEnv(name)
	if !ok {
		return
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %q is not an integer", name, v))
		return
	}
	if n <= 0 {
		*errs = append(*errs, fmt.Errorf("%s: must be positive, got %d", name, n))
		return
	}
	*dst = n
}

// splitOrigins parses a comma-separated origin list, dropping empty entries.
func splitOrigins(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
