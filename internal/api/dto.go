package api

import (
	"golang-reconciliation-engine/internal/fetcher"
	"golang-reconciliation-engine/internal/models"
)

// TargetRef names the target of a request: either a stored target by id or
// an inline target. An inline target wins when both are given.
type TargetRef struct {
	TargetID string         `json:"target_id,omitempty"`
	Target   *models.Target `json:"target,omitempty"`
}

// SuggestionRequest is the body of POST /v1/suggestions.
type SuggestionRequest struct {
	TargetRef
	WindowDays              int                 `json:"window_days,omitempty"`
	AmountToleranceOverride *float64            `json:"amount_tolerance_override,omitempty"`
	Scope                   fetcher.ScopeFilter `json:"scope,omitempty"`
}

// ConfirmationRequest is the body of POST /v1/confirmations.
type ConfirmationRequest struct {
	TargetRef
	Links        []models.ProposedLink `json:"links"`
	Actor        string                `json:"actor,omitempty"`
	CandidateIDs []string              `json:"candidate_ids,omitempty"`
	Confidence   float64               `json:"confidence,omitempty"`
	Reasons      []string              `json:"reasons,omitempty"`
	Metadata     map[string]string     `json:"metadata,omitempty"`
}

// RejectionRequest is the body of POST /v1/rejections.
type RejectionRequest struct {
	TargetRef
	CandidateIDs []string          `json:"candidate_ids"`
	Actor        string            `json:"actor,omitempty"`
	Confidence   float64           `json:"confidence,omitempty"`
	Reasons      []string          `json:"reasons,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// APIError is the body of every error response.
type APIError struct {
	Category   string             `json:"category"`
	Code       string             `json:"code"`
	Message    string             `json:"message"`
	Suggestion string             `json:"suggestion,omitempty"`
	Violations []models.Violation `json:"violations,omitempty"`
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}
