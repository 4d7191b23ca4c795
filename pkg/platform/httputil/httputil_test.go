package httputil

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	dErrors "crowdledger/pkg/domain-errors"
)

func TestWriteError(t *testing.T) {
	t.Run("internal error omits description", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, dErrors.New(dErrors.CodeInternal, "db failed"))

		if w.Code != http.StatusInternalServerError {
			t.Fatalf("expected status %d, got %d", http.StatusInternalServerError, w.Code)
		}

		var body map[string]string
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if body["error"] != "internal_error" {
			t.Fatalf("expected error code internal_error, got %q", body["error"])
		}
		if _, ok := body["error_description"]; ok {
			t.Fatalf("expected error_description to be omitted for internal errors")
		}
	})

	t.Run("bad request includes description", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid input"))

		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected status %d, got %d", http.StatusBadRequest, w.Code)
		}

		var body map[string]string
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if body["error"] != "bad_request" {
			t.Fatalf("expected error code bad_request, got %q", body["error"])
		}
		if body["error_description"] != "invalid input" {
			t.Fatalf("expected error_description to be returned for bad request")
		}
	})

	t.Run("uncoded error is internal", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, errors.New("boom"))

		if w.Code != http.StatusInternalServerError {
			t.Fatalf("expected status %d, got %d", http.StatusInternalServerError, w.Code)
		}
	})

	t.Run("transfer failure maps to bad gateway", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, dErrors.Wrap(errors.New("recipient rejected"), dErrors.CodeTransferFailed, "transfer failed"))

		if w.Code != http.StatusBadGateway {
			t.Fatalf("expected status %d, got %d", http.StatusBadGateway, w.Code)
		}
		var body map[string]string
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if body["error_description"] != "transfer failed" {
			t.Fatalf("expected cause to stay out of the description, got %q", body["error_description"])
		}
	})
}

type titleRequest struct {
	Title string `json:"title"`
}

func (r *titleRequest) Validate() error {
	if strings.TrimSpace(r.Title) == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "title required")
	}
	return nil
}

func TestDecodeAndPrepare(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	decode := func(body string) (*titleRequest, *httptest.ResponseRecorder, bool) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		req, ok := DecodeAndPrepare[titleRequest](w, r, logger, r.Context(), "req-1")
		return req, w, ok
	}

	t.Run("valid body", func(t *testing.T) {
		req, _, ok := decode(`{"title":"roof"}`)
		if !ok || req.Title != "roof" {
			t.Fatalf("expected decoded request, got %+v ok=%v", req, ok)
		}
	})

	t.Run("unknown field", func(t *testing.T) {
		_, w, ok := decode(`{"title":"roof","extra":1}`)
		if ok || w.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d ok=%v", w.Code, ok)
		}
	})

	t.Run("empty body", func(t *testing.T) {
		_, w, ok := decode(``)
		if ok || !strings.Contains(w.Body.String(), "request body is required") {
			t.Fatalf("expected missing body error, got %s", w.Body.String())
		}
	})

	t.Run("validation error keeps its code", func(t *testing.T) {
		_, w, ok := decode(`{"title":"  "}`)
		if ok || !strings.Contains(w.Body.String(), "invalid_input") {
			t.Fatalf("expected invalid_input, got %s", w.Body.String())
		}
	})
}
