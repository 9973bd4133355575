package config

import (
	"fmt"
	"math"

	"github.com/gideonheart/openclaw-even-g2-voice-gateway-sub000/internal/guard"
	"github.com/gideonheart/openclaw-even-g2-voice-gateway-sub000/pkg/types"
)

// Patch is a validated partial update. Nil fields are untouched; non-nil
// top-level scalars overwrite and non-nil groups shallow-merge into the
// current config. Only [ValidatePatch] produces a Patch from raw input, so
// handlers never see unvalidated values.
type Patch struct {
	OpenclawGatewayURL   *string
	OpenclawGatewayToken *string
	OpenclawSessionKey   *string
	SttProvider          *types.ProviderId

	WhisperX   *WhisperXPatch
	OpenAI     *OpenAIPatch
	CustomHTTP *CustomHTTPPatch
	Server     *ServerPatch
}

// WhisperXPatch is a partial update of the whisperx group.
type WhisperXPatch struct {
	BaseURL        *string
	Model          *string
	Language       *string
	PollIntervalMs *int
	TimeoutMs      *int
}

// OpenAIPatch is a partial update of the openai group.
type OpenAIPatch struct {
	APIKey   *string
	Model    *string
	Language *string
}

// CustomHTTPPatch is a partial update of the customHttp group.
type CustomHTTPPatch struct {
	URL             *string
	AuthHeader      *string
	RequestMapping  map[string]string
	TextField       *string
	LanguageField   *string
	ConfidenceField *string
}

// ServerPatch is a partial update of the server group.
type ServerPatch struct {
	Port               *int
	Host               *string
	CorsOrigins        []string
	MaxAudioBytes      *int
	RateLimitPerMinute *int
	TrustedProxyHeader *string
}

// TouchesWhisperX reports whether applying p changes the whisperx group.
func (p Patch) TouchesWhisperX() bool { return p.WhisperX != nil }

// TouchesOpenAI reports whether applying p changes the openai group.
func (p Patch) TouchesOpenAI() bool { return p.OpenAI != nil }

// TouchesCustomHTTP reports whether applying p changes the customHttp group.
func (p Patch) TouchesCustomHTTP() bool { return p.CustomHTTP != nil }

// TouchesGateway reports whether applying p changes the OpenClaw connection
// identity (URL or token), which requires a session-client rebuild.
func (p Patch) TouchesGateway() bool {
	return p.OpenclawGatewayURL != nil || p.OpenclawGatewayToken != nil
}

// Apply merges p into cfg: scalars overwrite, groups shallow-merge so
// sibling fields survive.
func (p Patch) Apply(cfg *GatewayConfig) {
	setIf(&cfg.OpenclawGatewayURL, p.OpenclawGatewayURL)
	setIf(&cfg.OpenclawGatewayToken, p.OpenclawGatewayToken)
	setIf(&cfg.OpenclawSessionKey, p.OpenclawSessionKey)
	if p.SttProvider != nil {
		cfg.SttProvider = *p.SttProvider
	}

	if w := p.WhisperX; w != nil {
		setIf(&cfg.WhisperX.BaseURL, w.BaseURL)
		setIf(&cfg.WhisperX.Model, w.Model)
		setIf(&cfg.WhisperX.Language, w.Language)
		setIf(&cfg.WhisperX.PollIntervalMs, w.PollIntervalMs)
		setIf(&cfg.WhisperX.TimeoutMs, w.TimeoutMs)
	}
	if o := p.OpenAI; o != nil {
		setIf(&cfg.OpenAI.APIKey, o.APIKey)
		setIf(&cfg.OpenAI.Model, o.Model)
		setIf(&cfg.OpenAI.Language, o.Language)
	}
	if c := p.CustomHTTP; c != nil {
		setIf(&cfg.CustomHTTP.URL, c.URL)
		setIf(&cfg.CustomHTTP.AuthHeader, c.AuthHeader)
		if c.RequestMapping != nil {
			cfg.CustomHTTP.RequestMapping = c.RequestMapping
		}
		setIf(&cfg.CustomHTTP.ResponseMapping.TextField, c.TextField)
		setIf(&cfg.CustomHTTP.ResponseMapping.LanguageField, c.LanguageField)
		setIf(&cfg.CustomHTTP.ResponseMapping.ConfidenceField, c.ConfidenceField)
	}
	if s := p.Server; s != nil {
		setIf(&cfg.Server.Port, s.Port)
		setIf(&cfg.Server.Host, s.Host)
		if s.CorsOrigins != nil {
			cfg.Server.CorsOrigins = s.CorsOrigins
		}
		setIf(&cfg.Server.MaxAudioBytes, s.MaxAudioBytes)
		setIf(&cfg.Server.RateLimitPerMinute, s.RateLimitPerMinute)
		setIf(&cfg.Server.TrustedProxyHeader, s.TrustedProxyHeader)
	}
}

func setIf[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

// ValidatePatch checks an arbitrary decoded JSON object against the
// settings schema and returns the typed patch. Unknown top-level keys and
// unknown keys inside recognised groups are silently ignored for forward
// compatibility. Every recognised field runs through its guard; failures
// come back as UserError(INVALID_CONFIG) so the HTTP layer answers 400.
func ValidatePatch(raw map[string]any) (Patch, error) {
	var p Patch

	if v, ok := raw["openclawGatewayUrl"]; ok {
		s, err := stringField("openclawGatewayUrl", v)
		if err != nil {
			return Patch{}, err
		}
		if err := guard.CheckURL("openclawGatewayUrl", s); err != nil {
			return Patch{}, err
		}
		p.OpenclawGatewayURL = &s
	}
	if v, ok := raw["openclawGatewayToken"]; ok {
		s, err := stringField("openclawGatewayToken", v)
		if err != nil {
			return Patch{}, err
		}
		p.OpenclawGatewayToken = &s
	}
	if v, ok := raw["openclawSessionKey"]; ok {
		s, err := stringField("openclawSessionKey", v)
		if err != nil {
			return Patch{}, err
		}
		if err := guard.CheckNonEmpty("openclawSessionKey", s); err != nil {
			return Patch{}, err
		}
		p.OpenclawSessionKey = &s
	}
	if v, ok := raw["sttProvider"]; ok {
		s, err := stringField("sttProvider", v)
		if err != nil {
			return Patch{}, err
		}
		id, err := guard.CheckProviderId("sttProvider", s)
		if err != nil {
			return Patch{}, err
		}
		p.SttProvider = &id
	}

	if v, ok := raw["whisperx"]; ok {
		g, err := groupField("whisperx", v)
		if err != nil {
			return Patch{}, err
		}
		wp, err := validateWhisperX(g)
		if err != nil {
			return Patch{}, err
		}
		p.WhisperX = wp
	}
	if v, ok := raw["openai"]; ok {
		g, err := groupField("openai", v)
		if err != nil {
			return Patch{}, err
		}
		op, err := validateOpenAI(g)
		if err != nil {
			return Patch{}, err
		}
		p.OpenAI = op
	}
	if v, ok := raw["customHttp"]; ok {
		g, err := groupField("customHttp", v)
		if err != nil {
			return Patch{}, err
		}
		cp, err := validateCustomHTTP(g)
		if err != nil {
			return Patch{}, err
		}
		p.CustomHTTP = cp
	}
	if v, ok := raw["server"]; ok {
		g, err := groupField("server", v)
		if err != nil {
			return Patch{}, err
		}
		sp, err := validateServer(g)
		if err != nil {
			return Patch{}, err
		}
		p.Server = sp
	}

	return p, nil
}

func validateWhisperX(g map[string]any) (*WhisperXPatch, error) {
	wp := &WhisperXPatch{}
	if v, ok := g["baseUrl"]; ok {
		s, err := stringField("whisperx.baseUrl", v)
		if err != nil {
			return nil, err
		}
		if err := guard.CheckURL("whisperx.baseUrl", s); err != nil {
			return nil, err
		}
		wp.BaseURL = &s
	}
	if v, ok := g["model"]; ok {
		s, err := stringField("whisperx.model", v)
		if err != nil {
			return nil, err
		}
		if err := guard.CheckNonEmpty("whisperx.model", s); err != nil {
			return nil, err
		}
		wp.Model = &s
	}
	if v, ok := g["language"]; ok {
		s, err := stringField("whisperx.language", v)
		if err != nil {
			return nil, err
		}
		wp.Language = &s
	}
	if v, ok := g["pollIntervalMs"]; ok {
		n, err := positiveIntField("whisperx.pollIntervalMs", v)
		if err != nil {
			return nil, err
		}
		wp.PollIntervalMs = &n
	}
	if v, ok := g["timeoutMs"]; ok {
		n, err := positiveIntField("whisperx.timeoutMs", v)
		if err != nil {
			return nil, err
		}
		wp.TimeoutMs = &n
	}
	return wp, nil
}

func validateOpenAI(g map[string]any) (*OpenAIPatch, error) {
	op := &OpenAIPatch{}
	if v, ok := g["apiKey"]; ok {
		s, err := stringField("openai.apiKey", v)
		if err != nil {
			return nil, err
		}
		if err := guard.CheckNonEmpty("openai.apiKey", s); err != nil {
			return nil, err
		}
		op.APIKey = &s
	}
	if v, ok := g["model"]; ok {
		s, err := stringField("openai.model", v)
		if err != nil {
			return nil, err
		}
		if err := guard.CheckNonEmpty("openai.model", s); err != nil {
			return nil, err
		}
		op.Model = &s
	}
	if v, ok := g["language"]; ok {
		s, err := stringField("openai.language", v)
		if err != nil {
			return nil, err
		}
		op.Language = &s
	}
	return op, nil
}

func validateCustomHTTP(g map[string]any) (*CustomHTTPPatch, error) {
	cp := &CustomHTTPPatch{}
	if v, ok := g["url"]; ok {
		s, err := stringField("customHttp.url", v)
		if err != nil {
			return nil, err
		}
		if err := guard.CheckURL("customHttp.url", s); err != nil {
			return nil, err
		}
		cp.URL = &s
	}
	if v, ok := g["authHeader"]; ok {
		s, err := stringField("customHttp.authHeader", v)
		if err != nil {
			return nil, err
		}
		cp.AuthHeader = &s
	}
	if v, ok := g["requestMapping"]; ok {
		m, err := stringMapField("customHttp.requestMapping", v)
		if err != nil {
			return nil, err
		}
		cp.RequestMapping = m
	}
	if v, ok := g["responseMapping"]; ok {
		rm, err := groupField("customHttp.responseMapping", v)
		if err != nil {
			return nil, err
		}
		if v, ok := rm["textField"]; ok {
			s, err := stringField("customHttp.responseMapping.textField", v)
			if err != nil {
				return nil, err
			}
			if err := guard.CheckNonEmpty("customHttp.responseMapping.textField", s); err != nil {
				return nil, err
			}
			cp.TextField = &s
		}
		if v, ok := rm["languageField"]; ok {
			s, err := stringField("customHttp.responseMapping.languageField", v)
			if err != nil {
				return nil, err
			}
			cp.LanguageField = &s
		}
		if v, ok := rm["confidenceField"]; ok {
			s, err := stringField("customHttp.responseMapping.confidenceField", v)
			if err != nil {
				return nil, err
			}
			cp.ConfidenceField = &s
		}
	}
	return cp, nil
}

func validateServer(g map[string]any) (*ServerPatch, error) {
	sp := &ServerPatch{}
	if v, ok := g["port"]; ok {
		n, err := positiveIntField("server.port", v)
		if err != nil {
			return nil, err
		}
		if n > 65535 {
			return nil, types.NewUserError(types.CodeInvalidConfig,
				fmt.Sprintf("server.port must be at most 65535, got %d", n))
		}
		sp.Port = &n
	}
	if v, ok := g["host"]; ok {
		s, err := stringField("server.host", v)
		if err != nil {
			return nil, err
		}
		if err := guard.CheckNonEmpty("server.host", s); err != nil {
			return nil, err
		}
		sp.Host = &s
	}
	if v, ok := g["corsOrigins"]; ok {
		list, err := stringListField("server.corsOrigins", v)
		if err != nil {
			return nil, err
		}
		sp.CorsOrigins = list
	}
	if v, ok := g["maxAudioBytes"]; ok {
		n, err := positiveIntField("server.maxAudioBytes", v)
		if err != nil {
			return nil, err
		}
		sp.MaxAudioBytes = &n
	}
	if v, ok := g["rateLimitPerMinute"]; ok {
		n, err := positiveIntField("server.rateLimitPerMinute", v)
		if err != nil {
			return nil, err
		}
		sp.RateLimitPerMinute = &n
	}
	if v, ok := g["trustedProxyHeader"]; ok {
		s, err := stringField("server.trustedProxyHeader", v)
		if err != nil {
			return nil, err
		}
		sp.TrustedProxyHeader = &s
	}
	return sp, nil
}

// ── field decoders ───────────────────────────────────────────────────────────

func stringField(field string, v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", types.NewUserError(types.CodeInvalidConfig,
			fmt.Sprintf("%s must be a string", field))
	}
	return s, nil
}

// positiveIntField accepts JSON numbers (decoded as float64) and Go ints,
// requiring an integral, strictly positive value.
func positiveIntField(field string, v any) (int, error) {
	var n int
	switch x := v.(type) {
	case float64:
		if x != math.Trunc(x) {
			return 0, types.NewUserError(types.CodeInvalidConfig,
				fmt.Sprintf("%s must be an integer", field))
		}
		n = int(x)
	case int:
		n = x
	default:
		return 0, types.NewUserError(types.CodeInvalidConfig,
			fmt.Sprintf("%s must be an integer", field))
	}
	if err := guard.CheckPositiveInt(field, n); err != nil {
		return 0, err
	}
	return n, nil
}

func groupField(field string, v any) (map[string]any, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, types.NewUserError(types.CodeInvalidConfig,
			fmt.Sprintf("%s must be an object", field))
	}
	return m, nil
}

func stringListField(field string, v any) ([]string, error) {
	raw, ok := v.([]any)
	if !ok {
		return nil, types.NewUserError(types.CodeInvalidConfig,
			fmt.Sprintf("%s must be an array of strings", field))
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		s, ok := item.(string)
		if !ok {
			return nil, types.NewUserError(types.CodeInvalidConfig,
				fmt.Sprintf("%s must be an array of strings", field))
		}
		out = append(out, s)
	}
	return out, nil
}

func stringMapField(field string, v any) (map[string]string, error) {
	raw, ok := v.(map[string]any)
	if !ok {
		return nil, types.NewUserError(types.CodeInvalidConfig,
			fmt.Sprintf("%s must be an object of strings", field))
	}
	out := make(map[string]string, len(raw))
	for k, item := range raw {
		s, ok := item.(string)
		if !ok {
			return nil, types.NewUserError(types.CodeInvalidConfig,
				fmt.Sprintf("%s must be an object of strings", field))
		}
		out[k] = s
	}
	return out, nil
}
