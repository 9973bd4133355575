// Package orchestrator sequences one voice turn: resolve the active STT
// provider, transcribe, forward the transcript to the agent session, shape
// the reply, and assemble the response envelope. It never retries; retry
// policy lives inside the session client and the provider SDKs.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gideonheart/openclaw-even-g2-voice-gateway-sub000/internal/config"
	"github.com/gideonheart/openclaw-even-g2-voice-gateway-sub000/internal/observe"
	"github.com/gideonheart/openclaw-even-g2-voice-gateway-sub000/internal/rebuild"
	"github.com/gideonheart/openclaw-even-g2-voice-gateway-sub000/internal/shape"
	"github.com/gideonheart/openclaw-even-g2-voice-gateway-sub000/pkg/provider/stt"
	"github.com/gideonheart/openclaw-even-g2-voice-gateway-sub000/pkg/types"
)

// Turn is one validated voice turn entering the pipeline.
type Turn struct {
	ID    types.TurnId
	Audio types.AudioPayload
}

// Orchestrator runs voice turns against the live provider set and session
// client. Safe for concurrent use; every dependency it holds is.
type Orchestrator struct {
	store     *config.Store
	providers *rebuild.ProviderSet
	session   *rebuild.ClientSlot
	metrics   *observe.Metrics
	logger    *slog.Logger
}

// New creates an Orchestrator.
func New(store *config.Store, providers *rebuild.ProviderSet, session *rebuild.ClientSlot, metrics *observe.Metrics, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		store:     store,
		providers: providers,
		session:   session,
		metrics:   metrics,
		logger:    logger.With("component", "orchestrator"),
	}
}

// Run executes one turn. The config snapshot, provider instance, and session
// client are all resolved once at entry; a config update mid-turn affects
// only later turns.
func (o *Orchestrator) Run(ctx context.Context, turn Turn) (types.TurnReply, error) {
	start := time.Now()
	cfg := o.store.Get()
	log := o.logger.With("turn_id", turn.ID)

	providerID := cfg.SttProvider
	provider, ok := o.providers.Get(providerID)
	if !ok {
		return types.TurnReply{}, types.NewOperatorError(types.CodeMissingConfig,
			"stt provider "+providerID.String()+" is selected but not configured")
	}
	client := o.session.Get()
	sessionKey := types.SessionKey(cfg.OpenclawSessionKey)

	log.Info("turn started",
		"provider", providerID,
		"audio_bytes", len(turn.Audio.Bytes),
		"content_type", turn.Audio.ContentType,
	)

	sttStart := time.Now()
	result, err := provider.Transcribe(ctx, turn.Audio, stt.TranscribeOpts{
		TurnID:       turn.ID,
		LanguageHint: turn.Audio.LanguageHint,
	})
	sttElapsed := time.Since(sttStart)
	o.metrics.STTDuration.Record(ctx, sttElapsed.Seconds())
	if err != nil {
		class := stt.ClassUnknown
		if se, ok := stt.AsError(err); ok {
			class = se.Class
		}
		o.metrics.RecordProviderRequest(ctx, providerID.String(), "error")
		o.metrics.RecordProviderError(ctx, providerID.String(), string(class))
		log.Warn("transcription failed", "provider", providerID, "class", class, "err", err)
		return types.TurnReply{}, mapSttError(err, providerID)
	}
	o.metrics.RecordProviderRequest(ctx, providerID.String(), "ok")
	log.Info("transcription complete",
		"provider", providerID,
		"language", result.Language,
		"chars", len(result.Text),
		"stt_ms", sttElapsed.Milliseconds(),
	)

	agentStart := time.Now()
	resp, err := client.SendTranscript(ctx, sessionKey, turn.ID, result.Text)
	agentElapsed := time.Since(agentStart)
	o.metrics.AgentDuration.Record(ctx, agentElapsed.Seconds())
	if err != nil {
		log.Warn("agent turn failed", "session_key", sessionKey, "err", err)
		return types.TurnReply{}, err
	}
	log.Info("agent reply received",
		"session_key", sessionKey,
		"chars", len(resp.Text),
		"agent_ms", agentElapsed.Milliseconds(),
	)

	shaped := shape.Shape(resp.Text, shape.Opts{})
	total := time.Since(start)
	o.metrics.TurnDuration.Record(ctx, total.Seconds())

	return types.TurnReply{
		TurnId:     turn.ID,
		SessionKey: sessionKey,
		Assistant: types.AssistantReply{
			FullText:  shaped.FullText,
			Segments:  shaped.Segments,
			Truncated: shaped.Truncated,
		},
		Timing: types.Timing{
			SttMs:   sttElapsed.Milliseconds(),
			AgentMs: agentElapsed.Milliseconds(),
			TotalMs: total.Milliseconds(),
		},
		Meta: types.Meta{
			Provider: providerID,
			Model:    result.Model,
		},
	}, nil
}

// mapSttError converts a provider error into the request taxonomy. Bad audio
// is the caller's fault; everything else is an operator problem with the
// provider class preserved in the diagnostic.
func mapSttError(err error, provider types.ProviderId) error {
	var se *stt.Error
	if !errors.As(err, &se) {
		return &types.OperatorError{
			Code:    types.CodeSTTUnavailable,
			Message: "transcription failed",
			Cause:   err,
		}
	}

	if se.Class == stt.ClassAudioInvalid {
		return &types.UserError{
			Code:    types.CodeInvalidAudio,
			Message: "The audio could not be transcribed. Please record again.",
			Cause:   err,
		}
	}
	return &types.OperatorError{
		Code:    types.CodeSTTUnavailable,
		Message: "stt provider " + provider.String() + " failed with class " + string(se.Class),
		Cause:   err,
	}
}
