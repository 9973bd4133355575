// Package httpapi is the HTTP plane of the voice gateway: the voice turn
// route, the settings endpoints, health probes, and the metrics scrape
// endpoint, wrapped in the gate/CORS/rate-limit middleware chain.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gideonheart/openclaw-even-g2-voice-gateway-sub000/internal/config"
	"github.com/gideonheart/openclaw-even-g2-voice-gateway-sub000/internal/guard"
	"github.com/gideonheart/openclaw-even-g2-voice-gateway-sub000/internal/health"
	"github.com/gideonheart/openclaw-even-g2-voice-gateway-sub000/internal/observe"
	"github.com/gideonheart/openclaw-even-g2-voice-gateway-sub000/internal/orchestrator"
	"github.com/gideonheart/openclaw-even-g2-voice-gateway-sub000/pkg/types"
)

// settingsBodyLimit caps a settings patch. Config objects are small; 64 KiB
// is generous.
const settingsBodyLimit = 64 << 10

// TurnRunner executes one voice turn. *orchestrator.Orchestrator implements
// it; tests substitute fakes.
type TurnRunner interface {
	Run(ctx context.Context, turn orchestrator.Turn) (types.TurnReply, error)
}

// Server is the HTTP plane. Construct with [New], mount via [Handler].
type Server struct {
	store   *config.Store
	runner  TurnRunner
	health  *health.Handler
	gate    *health.Gate
	limiter *rateLimiter
	metrics *observe.Metrics
	logger  *slog.Logger
}

// New assembles the HTTP plane. The limiter's pruner must be started
// separately via [Server.RunPruner].
func New(store *config.Store, runner TurnRunner, healthHandler *health.Handler, gate *health.Gate, metrics *observe.Metrics, logger *slog.Logger) *Server {
	return &Server{
		store:   store,
		runner:  runner,
		health:  healthHandler,
		gate:    gate,
		limiter: newRateLimiter(store, metrics),
		metrics: metrics,
		logger:  logger.With("component", "httpapi"),
	}
}

// Handler returns the full middleware-wrapped handler. The chain is
// telemetry → readiness gate → CORS gate → rate gate → routes; body caps are
// applied per handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/voice/turn", s.handleVoiceTurn)
	mux.HandleFunc("GET /api/settings", s.handleGetSettings)
	mux.HandleFunc("POST /api/settings", s.handleUpdateSettings)
	s.health.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	var h http.Handler = mux
	h = s.rateGate(h)
	h = s.corsGate(h)
	h = s.readinessGate(h)
	h = observe.Middleware(s.metrics)(h)
	return h
}

// RunPruner runs the rate limiter's background prune loop until ctx is
// cancelled.
func (s *Server) RunPruner(ctx context.Context) {
	s.limiter.Run(ctx)
}

// handleVoiceTurn accepts one audio recording and answers with the shaped
// assistant reply envelope.
func (s *Server) handleVoiceTurn(w http.ResponseWriter, r *http.Request) {
	turnID := types.TurnId(uuid.NewString())
	log := s.logger.With("turn_id", turnID)

	maxBytes := s.store.Get().Server.MaxAudioBytes
	contentType := r.Header.Get("Content-Type")
	if !guard.ValidAudioContentType(contentType) {
		writeError(w, log, types.NewUserError(types.CodeInvalidContentType,
			fmt.Sprintf("unsupported audio content type %q", contentType)))
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, int64(maxBytes)))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, log, types.NewUserError(types.CodeAudioTooLarge,
				fmt.Sprintf("audio payload exceeds the %d byte limit", maxBytes)))
			return
		}
		writeError(w, log, types.NewUserError(types.CodeInvalidAudio,
			"failed to read the audio payload"))
		return
	}

	audio := types.AudioPayload{
		Bytes:        body,
		ContentType:  contentType,
		LanguageHint: r.Header.Get("X-Language-Hint"),
	}
	if err := guard.CheckAudioPayload(audio, maxBytes); err != nil {
		writeError(w, log, err)
		return
	}

	reply, err := s.runner.Run(r.Context(), orchestrator.Turn{ID: turnID, Audio: audio})
	if err != nil {
		writeError(w, log, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

// handleGetSettings answers with the masked config snapshot. Secrets never
// leave the process.
func (s *Server) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.store.GetSafe())
}

// handleUpdateSettings validates a partial settings object, applies it to
// the store (which fans out to the rebuilders), and answers with the masked
// merged config.
func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, settingsBodyLimit))
	if err != nil {
		writeError(w, s.logger, types.NewUserError(types.CodeInvalidConfig,
			"settings payload is too large or unreadable"))
		return
	}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		writeError(w, s.logger, types.NewUserError(types.CodeInvalidConfig,
			"settings payload is not a JSON object"))
		return
	}

	patch, err := config.ValidatePatch(raw)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	merged := s.store.Update(patch)
	s.logger.Info("settings updated")
	writeJSON(w, http.StatusOK, merged.Masked())
}
