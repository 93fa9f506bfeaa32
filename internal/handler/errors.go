package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"admission-gateway/internal/service"

	"github.com/rs/zerolog/log"
)

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error             string `json:"error"`
	Message           string `json:"message"`
	RequestID         string `json:"request_id,omitempty"`
	RetryAfterSeconds int    `json:"retry_after_seconds,omitempty"`
}

func statusFor(kind service.Kind) int {
	switch kind {
	case service.KindInvalidInput:
		return http.StatusBadRequest
	case service.KindForbidden:
		return http.StatusForbidden
	case service.KindRateLimited:
		return http.StatusTooManyRequests
	case service.KindCollaboratorFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps a gateway error onto its status code and JSON body.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := service.KindOf(err)
	resp := ErrorResponse{
		Error:     string(kind),
		Message:   err.Error(),
		RequestID: r.Header.Get("X-Request-ID"),
	}
	switch kind {
	case "":
		// Store failures and the like: do not leak internals.
		log.Error().Err(err).Str("request_id", resp.RequestID).Msg("unclassified gateway error")
		resp.Error = "internal"
		resp.Message = "internal error"
	case service.KindCollaboratorFailure:
		var e *service.Error
		if errors.As(err, &e) {
			resp.Message = e.Message
		}
	case service.KindRateLimited:
		if secs, ok := service.RetryAfter(err); ok {
			resp.RetryAfterSeconds = secs
			w.Header().Set("Retry-After", strconv.Itoa(secs))
		}
	}
	writeJSON(w, statusFor(kind), resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("write response")
	}
}
