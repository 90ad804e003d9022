package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestReconcilerError(t *testing.T) {
	tests := []struct {
		name       string
		category   ErrorCategory
		code       ErrorCode
		message    string
		cause      error
		expectCode int
	}{
		{
			name:       "input error",
			category:   CategoryInput,
			code:       CodeInvalidInput,
			message:    "bad target",
			cause:      nil,
			expectCode: 2,
		},
		{
			name:       "validation error",
			category:   CategoryValidation,
			code:       CodeValidationFailed,
			message:    "over allocated",
			cause:      nil,
			expectCode: 3,
		},
		{
			name:       "store error",
			category:   CategoryStore,
			code:       CodeStoreUnavailable,
			message:    "store down",
			cause:      errors.New("connection refused"),
			expectCode: 5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var err *ReconcilerError
			if tt.cause != nil {
				err = Wrap(tt.cause, tt.category, tt.code, tt.message)
			} else {
				err = New(tt.category, tt.code, tt.message)
			}

			if err.Category != tt.category {
				t.Errorf("expected category %s, got %s", tt.category, err.Category)
			}
			if err.Code != tt.code {
				t.Errorf("expected code %s, got %s", tt.code, err.Code)
			}
			if err.GetExitCode() != tt.expectCode {
				t.Errorf("expected exit code %d, got %d", tt.expectCode, err.GetExitCode())
			}
			if tt.cause != nil && err.Unwrap() != tt.cause {
				t.Errorf("expected to unwrap to %v, got %v", tt.cause, err.Unwrap())
			}
			if tt.cause == nil && err.Error() != tt.message {
				t.Errorf("expected error string %s, got %s", tt.message, err.Error())
			}
			if len(err.StackTrace) == 0 {
				t.Error("expected a captured stack trace")
			}
		})
	}
}

func TestStoreUnavailable_ContextErrorsBecomeCancelled(t *testing.T) {
	err := StoreUnavailable("fetch_candidates", context.Canceled)
	if err.Category != CategoryCancelled {
		t.Fatalf("expected cancelled category, got %s", err.Category)
	}
	if !IsCancelled(err) {
		t.Error("expected IsCancelled to be true")
	}
	if IsStoreUnavailable(err) {
		t.Error("cancellation must not be reported as store unavailable")
	}

	deadline := StoreUnavailable("fetch_candidates", fmt.Errorf("query: %w", context.DeadlineExceeded))
	if !IsCancelled(deadline) {
		t.Error("expected deadline exceeded to be reported as cancelled")
	}
}

func TestPredicatesThroughWrapping(t *testing.T) {
	base := StoreUnavailable("write_links", errors.New("disk full"))
	wrapped := fmt.Errorf("confirm: %w", base)

	if !IsStoreUnavailable(wrapped) {
		t.Error("expected IsStoreUnavailable through fmt wrapping")
	}
	if IsValidationFailed(wrapped) {
		t.Error("did not expect validation failure")
	}
	if !errors.Is(wrapped, base.Cause) {
		t.Error("expected errors.Is to reach the root cause")
	}

	if !IsValidationFailed(ValidationFailed("T1", 2, []string{"links_exceed_total"})) {
		t.Error("expected IsValidationFailed")
	}
	if !IsInvalidInput(InvalidInput("target.id", "")) {
		t.Error("expected IsInvalidInput")
	}
	if !IsCancelled(context.Canceled) {
		t.Error("bare context.Canceled should count as cancelled")
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err    *ReconcilerError
		status int
	}{
		{InvalidInput("target.amount", "abc"), http.StatusBadRequest},
		{ValidationFailed("T1", 1, []string{"amount_exceeds_remaining"}), http.StatusConflict},
		{StoreUnavailable("fetch", errors.New("down")), http.StatusServiceUnavailable},
		{NotFound("target", "T9"), http.StatusNotFound},
		{Cancelled("suggest", nil), 499},
		{InternalError("suggest", errors.New("boom")), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := tt.err.HTTPStatus(); got != tt.status {
			t.Errorf("%s: expected status %d, got %d", tt.err.Code, tt.status, got)
		}
	}
}

func TestInvalidInput_MissingField(t *testing.T) {
	err := InvalidInput("actor", "")
	if err.Code != CodeMissingField {
		t.Errorf("expected missing_field code, got %s", err.Code)
	}
	if err.Context["field"] != "actor" {
		t.Errorf("expected field context, got %v", err.Context["field"])
	}
}

func TestWrapIfNeeded(t *testing.T) {
	if WrapIfNeeded(nil, CategoryInternal, CodeUnexpectedError, "x") != nil {
		t.Error("expected nil for nil error")
	}

	original := NotFound("target", "T1")
	if got := WrapIfNeeded(original, CategoryInternal, CodeUnexpectedError, "x"); got != original {
		t.Error("expected existing ReconcilerError to be returned unchanged")
	}

	plain := errors.New("plain")
	got := WrapIfNeeded(plain, CategoryInternal, CodeUnexpectedError, "wrapped")
	if got.Cause != plain || got.Category != CategoryInternal {
		t.Errorf("unexpected wrap result: %+v", got)
	}
}
