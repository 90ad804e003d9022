package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"golang-reconciliation-engine/internal/models"
	"golang-reconciliation-engine/internal/reconciler"
	"golang-reconciliation-engine/pkg/errors"
	"golang-reconciliation-engine/pkg/logger"
)

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// suggest handles POST /v1/suggestions.
func (s *Server) suggest(w http.ResponseWriter, r *http.Request) {
	var body SuggestionRequest
	if err := s.decode(w, r, &body); err != nil {
		s.writeError(w, err, nil)
		return
	}
	target, err := s.resolveTarget(r, body.TargetRef)
	if err != nil {
		s.writeError(w, err, nil)
		return
	}

	resp, err := s.engine.Suggest(r.Context(), reconciler.SuggestRequest{
		Target:                  target,
		WindowDays:              body.WindowDays,
		AmountToleranceOverride: body.AmountToleranceOverride,
		Scope:                   body.Scope,
	})
	if err != nil {
		s.writeError(w, err, nil)
		return
	}
	if resp.Suggestions == nil {
		resp.Suggestions = []models.Suggestion{}
	}
	writeJSON(w, http.StatusOK, resp)
}

// confirm handles POST /v1/confirmations.
func (s *Server) confirm(w http.ResponseWriter, r *http.Request) {
	var body ConfirmationRequest
	if err := s.decode(w, r, &body); err != nil {
		s.writeError(w, err, nil)
		return
	}
	target, err := s.resolveTarget(r, body.TargetRef)
	if err != nil {
		s.writeError(w, err, nil)
		return
	}

	result, err := s.engine.Confirm(r.Context(), reconciler.ConfirmRequest{
		Target:       target,
		Links:        body.Links,
		Actor:        body.Actor,
		CandidateIDs: body.CandidateIDs,
		Confidence:   body.Confidence,
		Reasons:      body.Reasons,
		Metadata:     body.Metadata,
	})
	if err != nil {
		var violations []models.Violation
		if result != nil {
			violations = result.Violations
		}
		s.writeError(w, err, violations)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// reject handles POST /v1/rejections.
func (s *Server) reject(w http.ResponseWriter, r *http.Request) {
	var body RejectionRequest
	if err := s.decode(w, r, &body); err != nil {
		s.writeError(w, err, nil)
		return
	}
	target, err := s.resolveTarget(r, body.TargetRef)
	if err != nil {
		s.writeError(w, err, nil)
		return
	}

	event, err := s.engine.Reject(r.Context(), reconciler.RejectRequest{
		Target:       target,
		CandidateIDs: body.CandidateIDs,
		Actor:        body.Actor,
		Confidence:   body.Confidence,
		Reasons:      body.Reasons,
		Metadata:     body.Metadata,
	})
	if err != nil {
		s.writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusCreated, event)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	limit := s.config.MaxBodyBytes
	if limit <= 0 {
		limit = DefaultConfig().MaxBodyBytes
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, limit))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if err == io.EOF {
			return errors.InvalidInput("body", "empty")
		}
		return errors.Wrap(err, errors.CategoryInput, errors.CodeInvalidInput, "invalid JSON body").
			WithSuggestion("Send a JSON object matching the endpoint's request schema")
	}
	return nil
}

func (s *Server) resolveTarget(r *http.Request, ref TargetRef) (models.Target, error) {
	if ref.Target != nil {
		return *ref.Target, nil
	}
	if ref.TargetID == "" {
		return models.Target{}, errors.InvalidInput("target", "either target or target_id is required")
	}
	if s.targets == nil {
		return models.Target{}, errors.InvalidInput("target_id", "no target store configured; send an inline target")
	}
	t, err := s.targets.GetTarget(r.Context(), ref.TargetID)
	if err != nil {
		if _, ok := errors.AsReconcilerError(err); ok {
			return models.Target{}, err
		}
		return models.Target{}, errors.StoreUnavailable("get_target", err)
	}
	return t, nil
}

func (s *Server) writeError(w http.ResponseWriter, err error, violations []models.Violation) {
	rerr, ok := errors.AsReconcilerError(err)
	if !ok {
		rerr = errors.InternalError("http_request", err)
	}

	status := rerr.HTTPStatus()
	entry := s.logger.WithFields(logger.Fields{
		"status":   status,
		"category": string(rerr.Category),
		"code":     string(rerr.Code),
	}).WithError(err)
	if status >= http.StatusInternalServerError {
		entry.Error("Request failed")
	} else {
		entry.Debug("Request rejected")
	}

	writeJSON(w, status, APIError{
		Category:   string(rerr.Category),
		Code:       string(rerr.Code),
		Message:    messageFor(rerr),
		Suggestion: rerr.Suggestion,
		Violations: violations,
	})
}

// messageFor hides internal causes from clients.
func messageFor(err *errors.ReconcilerError) string {
	if err.Category == errors.CategoryInternal {
		return "an internal error occurred"
	}
	if err.Cause != nil && err.Category == errors.CategoryInput {
		return fmt.Sprintf("%s: %v", err.Message, err.Cause)
	}
	return err.Message
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
