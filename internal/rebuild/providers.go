package rebuild

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/gideonheart/openclaw-even-g2-voice-gateway-sub000/internal/config"
	"github.com/gideonheart/openclaw-even-g2-voice-gateway-sub000/pkg/provider/stt"
	"github.com/gideonheart/openclaw-even-g2-voice-gateway-sub000/pkg/provider/stt/customhttp"
	"github.com/gideonheart/openclaw-even-g2-voice-gateway-sub000/pkg/provider/stt/openai"
	"github.com/gideonheart/openclaw-even-g2-voice-gateway-sub000/pkg/provider/stt/whisperx"
	"github.com/gideonheart/openclaw-even-g2-voice-gateway-sub000/pkg/types"
)

// BuildProvider constructs the provider id from its section of cfg.
// Incomplete config (e.g. no OpenAI API key) is an error; the caller decides
// whether that is fatal.
func BuildProvider(id types.ProviderId, cfg config.GatewayConfig) (stt.Provider, error) {
	switch id {
	case types.ProviderWhisperX:
		return whisperx.New(cfg.WhisperX.BaseURL,
			whisperx.WithModel(cfg.WhisperX.Model),
			whisperx.WithLanguage(cfg.WhisperX.Language),
			whisperx.WithPollInterval(time.Duration(cfg.WhisperX.PollIntervalMs)*time.Millisecond),
			whisperx.WithTimeout(time.Duration(cfg.WhisperX.TimeoutMs)*time.Millisecond),
		)
	case types.ProviderOpenAI:
		return openai.New(cfg.OpenAI.APIKey, cfg.OpenAI.Model, cfg.OpenAI.Language)
	case types.ProviderCustom:
		return customhttp.New(cfg.CustomHTTP.URL,
			customhttp.ResponseMapping{
				TextField:       cfg.CustomHTTP.ResponseMapping.TextField,
				LanguageField:   cfg.CustomHTTP.ResponseMapping.LanguageField,
				ConfidenceField: cfg.CustomHTTP.ResponseMapping.ConfidenceField,
			},
			customhttp.WithAuthHeader(cfg.CustomHTTP.AuthHeader),
			customhttp.WithQueryParams(cfg.CustomHTTP.RequestMapping),
		)
	default:
		return nil, fmt.Errorf("rebuild: unknown provider %q", id)
	}
}

// SeedProviders populates set with every provider whose config section is
// complete. Called once at boot; incomplete sections are logged and skipped.
func SeedProviders(cfg config.GatewayConfig, set *ProviderSet, logger *slog.Logger) {
	for _, id := range []types.ProviderId{types.ProviderWhisperX, types.ProviderOpenAI, types.ProviderCustom} {
		p, err := BuildProvider(id, cfg)
		if err != nil {
			logger.Info("stt provider not configured", "provider", id, "reason", err)
			continue
		}
		set.Put(id, p)
		logger.Debug("stt provider built", "provider", id)
	}
}

// Providers returns a store listener that rebuilds the provider group(s) a
// patch touches. A rebuild that fails removes the instance, so the next turn
// using that provider reports MISSING_CONFIG instead of running with stale
// settings.
func Providers(set *ProviderSet, logger *slog.Logger) config.Listener {
	rebuildOne := func(id types.ProviderId, cfg config.GatewayConfig) {
		p, err := BuildProvider(id, cfg)
		if err != nil {
			set.Put(id, nil)
			logger.Warn("stt provider rebuild failed", "provider", id, "err", err)
			return
		}
		set.Put(id, p)
		logger.Info("stt provider rebuilt", "provider", id)
	}

	return func(patch config.Patch, cfg config.GatewayConfig) {
		if patch.TouchesWhisperX() {
			rebuildOne(types.ProviderWhisperX, cfg)
		}
		if patch.TouchesOpenAI() {
			rebuildOne(types.ProviderOpenAI, cfg)
		}
		if patch.TouchesCustomHTTP() {
			rebuildOne(types.ProviderCustom, cfg)
		}
	}
}
