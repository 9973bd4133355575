package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gideonheart/openclaw-even-g2-voice-gateway-sub000/pkg/types"
)

// errorBody is the JSON error envelope: a user-safe message plus the machine
// code.
type errorBody struct {
	Error string          `json:"error"`
	Code  types.ErrorCode `json:"code"`
}

// writeError maps err onto the HTTP taxonomy and writes the JSON error
// envelope. UserError messages go out verbatim; OperatorError details stay
// in the logs and the client gets a generic message.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	if userErr, ok := types.AsUserError(err); ok {
		logger.Info("request rejected", "code", userErr.Code, "err", err)
		writeJSON(w, userStatus(userErr.Code), errorBody{
			Error: userErr.Message,
			Code:  userErr.Code,
		})
		return
	}

	if opErr, ok := types.AsOperatorError(err); ok {
		logger.Error("request failed", "code", opErr.Code, "err", err)
		writeJSON(w, operatorStatus(opErr.Code), errorBody{
			Error: "The assistant is temporarily unavailable. Please try again.",
			Code:  opErr.Code,
		})
		return
	}

	logger.Error("request failed", "err", err)
	writeJSON(w, http.StatusInternalServerError, errorBody{
		Error: "Internal error.",
		Code:  types.CodeInternal,
	})
}

// userStatus maps a user-class code onto its 4xx (or gateway 5xx) status.
// Oversized audio is a plain 400 like every other malformed payload.
func userStatus(code types.ErrorCode) int {
	switch code {
	case types.CodeRateLimited:
		return http.StatusTooManyRequests
	case types.CodeCORSRejected:
		return http.StatusForbidden
	case types.CodeNotReady:
		return http.StatusServiceUnavailable
	case types.CodeOpenClawTimeout, types.CodeOpenClawSession, types.CodeOpenClawUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusBadRequest
	}
}

// operatorStatus maps an operator-class code onto its 5xx status.
func operatorStatus(code types.ErrorCode) int {
	if code == types.CodeInternal {
		return http.StatusInternalServerError
	}
	return http.StatusBadGateway
}

// writeJSON encodes v with the given status. Encoding failures fall back to
// a bare 500; by then headers are already written.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
