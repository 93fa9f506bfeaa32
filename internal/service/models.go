package service

import (
	"encoding/json"
	"strings"
)

// ChatRequest is the body of a chat operation.
type ChatRequest struct {
	Message string `json:"message"`
}

func (r ChatRequest) validate() error {
	if strings.TrimSpace(r.Message) == "" {
		return errMissingField("message")
	}
	return nil
}

// ChatResponse is returned by the chat collaborator.
type ChatResponse struct {
	Reply   string                 `json:"reply"`
	Actions []RecommendationAction `json:"actions,omitempty"`
}

// ActionType is the kind of recommendation action a user can execute.
type ActionType string

const (
	ActionAddWorkout ActionType = "ADD_WORKOUT"
	ActionAddMeal    ActionType = "ADD_MEAL"
)

// RecommendationAction asks the backend to add a suggested workout or meal to the
// user's plan. Data is passed through untouched.
type RecommendationAction struct {
	Type ActionType      `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

func (a RecommendationAction) validate() error {
	switch a.Type {
	case ActionAddWorkout, ActionAddMeal:
		return nil
	case "":
		return errMissingField("type")
	default:
		return &fieldError{field: "type", msg: "unsupported action " + string(a.Type)}
	}
}

// ProfileRequest is the body of a profile generation.
type ProfileRequest struct {
	Observations string `json:"observations"`
}

func (r ProfileRequest) validate() error {
	if strings.TrimSpace(r.Observations) == "" {
		return errMissingField("observations")
	}
	return nil
}

// ProfileResponse carries a generated profile.
type ProfileResponse struct {
	Profile string `json:"profile"`
}

// Recommendations is an opaque recommendation document from the backend.
type Recommendations = json.RawMessage

type fieldError struct {
	field string
	msg   string
}

func (e *fieldError) Error() string {
	return e.field + ": " + e.msg
}

func errMissingField(field string) error {
	return &fieldError{field: field, msg: "is required"}
}
