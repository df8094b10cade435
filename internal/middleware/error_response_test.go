package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/savezy/internal/model"
)

func decodeError(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	return body
}

func TestWriteError_StatusPerKind(t *testing.T) {
	tests := []struct {
		err        error
		wantStatus int
		wantCode   string
	}{
		{model.NewMissingCredentialError(), http.StatusUnauthorized, "MISSING_CREDENTIAL"},
		{model.NewAuthFailedError(nil), http.StatusUnauthorized, "AUTH_FAILED"},
		{model.NewCSRFMismatchError(nil), http.StatusBadRequest, "CSRF_MISMATCH"},
		{model.NewValidationError("Token is required"), http.StatusBadRequest, "VALIDATION_ERROR"},
		{model.NewUpstreamRejectedError("Failed to exchange authorization code", nil, nil), http.StatusBadRequest, "UPSTREAM_REJECTED"},
		{model.NewUpstreamUnreachableError(nil), http.StatusInternalServerError, "UPSTREAM_UNREACHABLE"},
		{model.NewPersistenceError(nil), http.StatusInternalServerError, "PERSISTENCE_ERROR"},
		{errors.New("untyped"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.wantCode, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, httptest.NewRequest(http.MethodGet, "/", nil), tt.err)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q", ct)
			}
			body := decodeError(t, w)
			if body["success"] != false {
				t.Errorf("success = %v, want false", body["success"])
			}
			if body["code"] != tt.wantCode {
				t.Errorf("code = %v, want %s", body["code"], tt.wantCode)
			}
			if _, ok := body["details"]; ok {
				t.Errorf("details should be omitted, got %v", body["details"])
			}
		})
	}
}

func TestWriteError_UpstreamRejectedIncludesDetails(t *testing.T) {
	w := httptest.NewRecorder()
	err := model.NewUpstreamRejectedError("Failed to exchange authorization code",
		map[string]any{"error": "invalid_grant"}, nil)

	WriteError(w, httptest.NewRequest(http.MethodPost, "/", nil), err)

	body := decodeError(t, w)
	details, ok := body["details"].(map[string]any)
	if !ok || details["error"] != "invalid_grant" {
		t.Errorf("details = %#v", body["details"])
	}
	if body["error"] != "Failed to exchange authorization code" {
		t.Errorf("error = %v", body["error"])
	}
}

func TestWriteError_InternalCauseNotLeaked(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, httptest.NewRequest(http.MethodGet, "/", nil),
		model.NewPersistenceError(errors.New("pq: password authentication failed for user savezy")))

	if strings.Contains(w.Body.String(), "password") {
		t.Errorf("internal cause leaked into response: %s", w.Body.String())
	}
}

func TestRecoveryMiddleware_Returns500(t *testing.T) {
	handler := NewRecoveryMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	if body := decodeError(t, w); body["code"] != "INTERNAL_ERROR" {
		t.Errorf("code = %v", body["code"])
	}
}
