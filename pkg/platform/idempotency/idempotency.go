// Package idempotency replays the first response recorded for an
// Idempotency-Key so that retried mutations take effect once.
//
// Keys are scoped by caller, method and path. A retry with a different body
// under the same key is rejected with 409, as is a retry that arrives while the
// first request is still running. Responses with a 5xx status are not recorded,
// so a failed transfer can be retried under the same key.
package idempotency

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	dErrors "crowdledger/pkg/domain-errors"
	"crowdledger/pkg/platform/httputil"
	"crowdledger/pkg/requestcontext"
)

const (
	HeaderKey      = "Idempotency-Key"
	HeaderReplayed = "Idempotent-Replayed"

	maxKeyLength  = 255
	maxBodyLength = 1 << 20
)

// Record is a stored request outcome. A record without a status is a
// reservation for a request still in flight.
type Record struct {
	Fingerprint string `json:"fingerprint"`
	Status      int    `json:"status,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

// InFlight reports whether the record is only a reservation.
func (r *Record) InFlight() bool {
	return r.Status == 0
}

// Store persists records for ttl.
type Store interface {
	// Get returns nil when the key is unknown or expired.
	Get(ctx context.Context, key string) (*Record, error)
	// Reserve stores an in-flight record unless key exists; it reports whether
	// the reservation was made.
	Reserve(ctx context.Context, key, fingerprint string, ttl time.Duration) (bool, error)
	// Complete replaces the reservation with the final response.
	Complete(ctx context.Context, key string, record Record, ttl time.Duration) error
	// Release drops the reservation so the request can be retried.
	Release(ctx context.Context, key string) error
}

// Middleware applies idempotency to requests that carry an Idempotency-Key.
// Mount it after authentication: the caller is part of the key scope.
func Middleware(store Store, ttl time.Duration, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(HeaderKey)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > maxKeyLength {
				httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "idempotency key too long"))
				return
			}

			ctx := r.Context()
			body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyLength+1))
			if err != nil || len(body) > maxBodyLength {
				httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			scoped := scopeKey(r, key)
			fingerprint := fingerprintOf(body)

			reserved, err := store.Reserve(ctx, scoped, fingerprint, ttl)
			if err != nil {
				logger.ErrorContext(ctx, "idempotency reserve failed",
					"error", err,
					"request_id", requestcontext.RequestID(ctx),
				)
				httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "idempotency store unavailable"))
				return
			}
			if !reserved {
				replay(ctx, w, store, scoped, fingerprint, logger)
				return
			}

			var buf bytes.Buffer
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			ww.Tee(&buf)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			// detached: the response is already written
			storeCtx := context.WithoutCancel(ctx)
			if status >= http.StatusInternalServerError {
				if err := store.Release(storeCtx, scoped); err != nil {
					logger.WarnContext(ctx, "idempotency release failed", "error", err)
				}
				return
			}
			record := Record{
				Fingerprint: fingerprint,
				Status:      status,
				ContentType: ww.Header().Get("Content-Type"),
				Body:        buf.Bytes(),
			}
			if err := store.Complete(storeCtx, scoped, record, ttl); err != nil {
				logger.WarnContext(ctx, "idempotency complete failed",
					"error", err,
					"request_id", requestcontext.RequestID(ctx),
				)
			}
		})
	}
}

func replay(ctx context.Context, w http.ResponseWriter, store Store, key, fingerprint string, logger *slog.Logger) {
	record, err := store.Get(ctx, key)
	if err != nil {
		logger.ErrorContext(ctx, "idempotency lookup failed", "error", err)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "idempotency store unavailable"))
		return
	}
	switch {
	case record == nil:
		// expired between Reserve and Get
		httputil.WriteError(w, dErrors.New(dErrors.CodeConflict, "idempotent request in progress"))
	case record.Fingerprint != fingerprint:
		httputil.WriteError(w, dErrors.New(dErrors.CodeConflict, "idempotency key reused with a different request"))
	case record.InFlight():
		httputil.WriteError(w, dErrors.New(dErrors.CodeConflict, "idempotent request in progress"))
	default:
		if record.ContentType != "" {
			w.Header().Set("Content-Type", record.ContentType)
		}
		w.Header().Set(HeaderReplayed, "true")
		w.WriteHeader(record.Status)
		_, _ = w.Write(record.Body)
	}
}

func scopeKey(r *http.Request, key string) string {
	return requestcontext.Caller(r.Context()).String() + "|" + r.Method + "|" + r.URL.Path + "|" + key
}

func fingerprintOf(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// ErrUnavailable is returned by stores that cannot reach their backend.
var ErrUnavailable = errors.New("idempotency store unavailable")
