package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

// Simple downstream backend for exercising the gateway locally. It keeps chat history
// and the plan in memory.
func main() {
	addr := ":8081"
	if v := os.Getenv("DOWNSTREAM_LISTEN_ADDR"); v != "" {
		addr = v
	}

	b := &backend{history: map[string][]string{}, plan: map[string][]json.RawMessage{}}
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"status": "healthy"})
	})
	r.Route("/users/{id}", func(r chi.Router) {
		r.Post("/chat", b.chat)
		r.Delete("/chat/history", b.clearHistory)
		r.Post("/actions", b.action)
		r.Post("/profile", b.profile)
		r.Get("/recommendations/meals", b.recommendations("meals", []string{"overnight oats", "lentil soup", "salmon bowl"}))
		r.Get("/recommendations/workouts", b.recommendations("workouts", []string{"5k easy run", "full body strength", "mobility"}))
	})

	log.Info().Msgf("downstream service listening on %s", addr)
	if err := http.ListenAndServe(addr, r); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
}

type backend struct {
	mu      sync.Mutex
	history map[string][]string
	plan    map[string][]json.RawMessage
}

func (b *backend) chat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	id := chi.URLParam(r, "id")
	// Simulate model latency
	time.Sleep(50 * time.Millisecond)

	b.mu.Lock()
	b.history[id] = append(b.history[id], req.Message)
	turns := len(b.history[id])
	b.mu.Unlock()

	writeJSON(w, map[string]any{
		"reply": fmt.Sprintf("turn %d: you said %q", turns, req.Message),
		"actions": []map[string]any{
			{"type": "ADD_WORKOUT", "data": map[string]string{"name": "20 min walk"}},
		},
	})
}

func (b *backend) clearHistory(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	delete(b.history, chi.URLParam(r, "id"))
	b.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (b *backend) action(w http.ResponseWriter, r *http.Request) {
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	b.mu.Lock()
	id := chi.URLParam(r, "id")
	b.plan[id] = append(b.plan[id], raw)
	b.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (b *backend) profile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Observations string `json:"observations"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	// Simulate slow generation
	time.Sleep(200 * time.Millisecond)
	writeJSON(w, map[string]string{
		"profile": fmt.Sprintf("profile for %s based on %d characters of observations", chi.URLParam(r, "id"), len(req.Observations)),
	})
}

func (b *backend) recommendations(kind string, items []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "max-age=300")
		writeJSON(w, map[string]any{
			"user":        chi.URLParam(r, "id"),
			kind:          items,
			"generatedAt": time.Now().UTC().Format(time.RFC3339),
		})
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
