package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"time"

	"admission-gateway/internal/config"

	"github.com/rs/zerolog/log"
)

// ChatCollaborator is the chatbot backend.
type ChatCollaborator interface {
	Chat(ctx context.Context, userID string, req ChatRequest) (ChatResponse, error)
	ClearHistory(ctx context.Context, userID string) error
	ExecuteAction(ctx context.Context, userID string, action RecommendationAction) error
}

// ProfileCollaborator generates user profiles from observations.
type ProfileCollaborator interface {
	GenerateProfile(ctx context.Context, userID string, req ProfileRequest) (ProfileResponse, error)
}

// RecommendationCollaborator serves cached recommendations, regenerating them when stale.
type RecommendationCollaborator interface {
	CachedMealRecommendations(ctx context.Context, userID string) (Recommendations, error)
	CachedWorkoutRecommendations(ctx context.Context, userID string) (Recommendations, error)
}

// Collaborators groups the backends the gateway delegates to.
type Collaborators struct {
	Chat            ChatCollaborator
	Profiles        ProfileCollaborator
	Recommendations RecommendationCollaborator
}

// Operation is a protected operation kind.
type Operation string

const (
	OpChat                   Operation = "chat"
	OpClearHistory           Operation = "clear-history"
	OpExecuteAction          Operation = "execute-action"
	OpGenerateProfile        Operation = "generate-profile"
	OpMealRecommendations    Operation = "meal-recommendations"
	OpWorkoutRecommendations Operation = "workout-recommendations"
)

// QuotaClasses maps each operation to the quota it draws from.
var QuotaClasses = map[Operation]config.QuotaClass{
	OpChat:                   config.ChatMessage,
	OpClearHistory:           config.HistoryClear,
	OpExecuteAction:          config.ActionExecute,
	OpGenerateProfile:        config.ProfileGeneration,
	OpMealRecommendations:    config.RecommendationRead,
	OpWorkoutRecommendations: config.RecommendationRead,
}

// collaborator names used for breakers and metrics
const (
	chatCollaborator           = "chat"
	profileCollaborator        = "profile"
	recommendationCollaborator = "recommendation"
)

// Recorder receives gateway decisions. metrics.Registry implements it.
type Recorder interface {
	ObserveDecision(op string, outcome string)
	ObserveCollaborator(name string, took time.Duration, err error)
}

type nopRecorder struct{}

func (nopRecorder) ObserveDecision(string, string)                    {}
func (nopRecorder) ObserveCollaborator(string, time.Duration, error) {}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithRecorder reports decisions and collaborator latencies to r.
func WithRecorder(r Recorder) GatewayOption {
	return func(g *Gateway) { g.recorder = r }
}

// WithCollaboratorTimeout bounds each delegated call.
func WithCollaboratorTimeout(d time.Duration) GatewayOption {
	return func(g *Gateway) { g.timeout = d }
}

// WithBreakers replaces the default circuit breaker pool.
func WithBreakers(p *CircuitBreakerPool) GatewayOption {
	return func(g *Gateway) { g.breakers = p }
}

// Gateway admits operations: authorization first, then quota, then delegation.
// A denied caller never consumes quota.
type Gateway struct {
	guard    Guard
	limiter  *Limiter
	collab   Collaborators
	breakers *CircuitBreakerPool
	recorder Recorder
	timeout  time.Duration
}

// NewGateway wires the guard and limiter in front of the collaborators.
func NewGateway(l *Limiter, c Collaborators, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		limiter:  l,
		collab:   c,
		breakers: NewCircuitBreakerPool(5, 1, 30*time.Second, WithFailureClassifier(CollaboratorFault)),
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Reply is the result of an admitted operation. Body is nil for operations without a
// response document.
type Reply struct {
	Outcome Outcome
	Body    any
}

// Handle runs the admission checks for op and, if they pass, delegates to the
// collaborator with the decoded payload.
func (g *Gateway) Handle(ctx context.Context, actor Principal, targetUserID string, op Operation, payload json.RawMessage) (Reply, error) {
	class, ok := QuotaClasses[op]
	if !ok {
		return Reply{}, g.reject(op, invalidInput(ErrUnknownOperation, "operation %q", op))
	}

	if err := g.guard.Check(actor, targetUserID); err != nil {
		log.Info().
			Str("operation", string(op)).
			Str("principal", actor.ID).
			Str("target", targetUserID).
			Msg("operation forbidden")
		return Reply{}, g.reject(op, err)
	}

	call, err := g.prepare(op, targetUserID, payload)
	if err != nil {
		return Reply{}, g.reject(op, err)
	}

	outcome, err := g.limiter.TryConsume(ctx, actor, class, 1)
	if err != nil {
		if KindOf(err) == "" {
			log.Error().Err(err).Str("operation", string(op)).Msg("quota evaluation failed")
		}
		return Reply{}, g.reject(op, err)
	}
	if !outcome.Admitted {
		log.Info().
			Str("operation", string(op)).
			Str("principal", actor.ID).
			Int("retry_after", outcome.RetryAfterSeconds).
			Msg("operation rate limited")
		return Reply{Outcome: outcome}, g.reject(op, rateLimited(outcome.RetryAfterSeconds))
	}

	body, err := g.delegate(ctx, call)
	if err != nil {
		log.Error().Err(err).Str("operation", string(op)).Str("target", targetUserID).Msg("collaborator failed")
		return Reply{Outcome: outcome}, g.reject(op, collaboratorFailure(call.name, err))
	}
	g.recorder.ObserveDecision(string(op), "admitted")
	return Reply{Outcome: outcome, Body: body}, nil
}

func (g *Gateway) reject(op Operation, err error) error {
	kind := KindOf(err)
	if kind == "" {
		kind = "error"
	}
	g.recorder.ObserveDecision(string(op), string(kind))
	return err
}

// collaboratorCall is a validated, ready-to-run delegation.
type collaboratorCall struct {
	name string
	run  func(ctx context.Context) (any, error)
}

func (g *Gateway) prepare(op Operation, userID string, payload json.RawMessage) (collaboratorCall, error) {
	switch op {
	case OpChat:
		var req ChatRequest
		if err := decodePayload(payload, &req); err != nil {
			return collaboratorCall{}, err
		}
		return collaboratorCall{name: chatCollaborator, run: func(ctx context.Context) (any, error) {
			return g.collab.Chat.Chat(ctx, userID, req)
		}}, nil
	case OpClearHistory:
		return collaboratorCall{name: chatCollaborator, run: func(ctx context.Context) (any, error) {
			return nil, g.collab.Chat.ClearHistory(ctx, userID)
		}}, nil
	case OpExecuteAction:
		var action RecommendationAction
		if err := decodePayload(payload, &action); err != nil {
			return collaboratorCall{}, err
		}
		return collaboratorCall{name: chatCollaborator, run: func(ctx context.Context) (any, error) {
			return nil, g.collab.Chat.ExecuteAction(ctx, userID, action)
		}}, nil
	case OpGenerateProfile:
		var req ProfileRequest
		if err := decodePayload(payload, &req); err != nil {
			return collaboratorCall{}, err
		}
		return collaboratorCall{name: profileCollaborator, run: func(ctx context.Context) (any, error) {
			return g.collab.Profiles.GenerateProfile(ctx, userID, req)
		}}, nil
	case OpMealRecommendations:
		return collaboratorCall{name: recommendationCollaborator, run: func(ctx context.Context) (any, error) {
			return g.collab.Recommendations.CachedMealRecommendations(ctx, userID)
		}}, nil
	case OpWorkoutRecommendations:
		return collaboratorCall{name: recommendationCollaborator, run: func(ctx context.Context) (any, error) {
			return g.collab.Recommendations.CachedWorkoutRecommendations(ctx, userID)
		}}, nil
	}
	return collaboratorCall{}, invalidInput(ErrUnknownOperation, "operation %q", op)
}

func (g *Gateway) delegate(ctx context.Context, call collaboratorCall) (any, error) {
	callCtx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	var body any
	start := time.Now()
	err := g.breakers.Get(call.name).Call(func() error {
		var err error
		body, err = call.run(callCtx)
		if err != nil && ctx.Err() != nil {
			return errCallerGone{err}
		}
		return err
	})
	g.recorder.ObserveCollaborator(call.name, time.Since(start), err)
	var gone errCallerGone
	if errors.As(err, &gone) {
		err = gone.err
	}
	return body, err
}

type validator interface {
	validate() error
}

func decodePayload(payload json.RawMessage, v validator) error {
	if len(bytes.TrimSpace(payload)) == 0 {
		return invalidInput(nil, "request body is required")
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return invalidInput(err, "malformed request body")
	}
	if err := v.validate(); err != nil {
		return invalidInput(err, "invalid request body")
	}
	return nil
}

// BreakerStates reports the circuit state of each collaborator called so far.
func (g *Gateway) BreakerStates() map[string]CircuitState {
	return g.breakers.States()
}
