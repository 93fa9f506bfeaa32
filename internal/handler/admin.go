package handler

import (
	"context"
	"net/http"
	"time"

	"admission-gateway/internal/config"
	"admission-gateway/internal/middleware"
	"admission-gateway/internal/repository"
	"admission-gateway/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// AdminHandler exposes read-only quota configuration and bucket maintenance.
type AdminHandler struct {
	quotas   *config.QuotaTable
	store    repository.Store
	breakers func() map[string]service.CircuitState
}

func NewAdminHandler(q *config.QuotaTable, s repository.Store, breakers func() map[string]service.CircuitState) *AdminHandler {
	return &AdminHandler{quotas: q, store: s, breakers: breakers}
}

// QuotaView is the admin rendering of a quota class.
type QuotaView struct {
	Class           config.QuotaClass `json:"class"`
	Capacity        int64             `json:"capacity"`
	RefillTokens    int64             `json:"refill_tokens"`
	RefillPeriod    string            `json:"refill_period"`
	RefillPerSecond float64           `json:"refill_per_second"`
	IdleTTL         string            `json:"idle_ttl"`
}

func (a *AdminHandler) Routes(r chi.Router) {
	r.Get("/quotas", a.ListQuotas)
	r.Post("/buckets/sweep", a.Sweep)
	r.Get("/breakers", a.Breakers)
}

// ListQuotas returns the quota table in class order.
func (a *AdminHandler) ListQuotas(w http.ResponseWriter, r *http.Request) {
	views := make([]QuotaView, 0)
	for _, class := range a.quotas.Classes() {
		q, _ := a.quotas.Get(class)
		views = append(views, QuotaView{
			Class:           class,
			Capacity:        q.Capacity,
			RefillTokens:    q.RefillTokens,
			RefillPeriod:    q.RefillPeriod.String(),
			RefillPerSecond: q.RefillRate(),
			IdleTTL:         q.IdleTTL.String(),
		})
	}
	writeJSON(w, http.StatusOK, views)
}

// Sweep evicts idle buckets immediately instead of waiting for the janitor.
func (a *AdminHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	n, err := a.store.Sweep(ctx)
	if err != nil {
		log.Error().Err(err).Msg("manual sweep failed")
		writeError(w, r, err)
		return
	}
	p, _ := middleware.PrincipalFrom(r.Context())
	log.Info().Int("evicted", n).Str("principal", p.ID).Msg("manual sweep")
	writeJSON(w, http.StatusOK, map[string]int{"evicted": n})
}

// Breakers reports collaborator circuit states.
func (a *AdminHandler) Breakers(w http.ResponseWriter, r *http.Request) {
	states := map[string]service.CircuitState{}
	if a.breakers != nil {
		states = a.breakers()
	}
	writeJSON(w, http.StatusOK, states)
}
