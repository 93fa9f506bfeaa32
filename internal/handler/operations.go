package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"admission-gateway/internal/middleware"
	"admission-gateway/internal/service"

	"github.com/go-chi/chi/v5"
)

// OperationHandler exposes the gateway's protected operations over HTTP.
type OperationHandler struct {
	gw *service.Gateway
}

func NewOperationHandler(gw *service.Gateway) *OperationHandler {
	return &OperationHandler{gw: gw}
}

// Routes mounts the per-user operations under /users/{userId}.
func (h *OperationHandler) Routes(r chi.Router) {
	r.Post("/chatbot", h.serve(service.OpChat))
	r.Delete("/chatbot/history", h.serve(service.OpClearHistory))
	r.Post("/chatbot/actions/execute", h.serve(service.OpExecuteAction))
	r.Post("/generate-profile", h.serve(service.OpGenerateProfile))
	r.Get("/meal-recommendations", h.serve(service.OpMealRecommendations))
	r.Get("/workout-recommendations", h.serve(service.OpWorkoutRecommendations))
}

func (h *OperationHandler) serve(op service.Operation) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := middleware.PrincipalFrom(r.Context())
		if !ok {
			writeJSON(w, http.StatusUnauthorized, ErrorResponse{
				Error:     "unauthorized",
				Message:   "authentication required",
				RequestID: r.Header.Get("X-Request-ID"),
			})
			return
		}

		var payload json.RawMessage
		if r.Body != nil && r.Method != http.MethodGet && r.Method != http.MethodDelete {
			body, err := io.ReadAll(r.Body)
			if err != nil {
				var tooLarge *http.MaxBytesError
				if errors.As(err, &tooLarge) {
					writeJSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{
						Error:     string(service.KindInvalidInput),
						Message:   "request body too large",
						RequestID: r.Header.Get("X-Request-ID"),
					})
					return
				}
				writeError(w, r, service.NewError(service.KindInvalidInput, "unreadable request body"))
				return
			}
			payload = body
		}

		reply, err := h.gw.Handle(r.Context(), actor, chi.URLParam(r, "userId"), op, payload)
		if reply.Outcome.Capacity > 0 {
			w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(reply.Outcome.Capacity, 10))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(int64(reply.Outcome.Remaining), 10))
		}
		if err != nil {
			writeError(w, r, err)
			return
		}
		if reply.Body == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeJSON(w, http.StatusOK, reply.Body)
	}
}
