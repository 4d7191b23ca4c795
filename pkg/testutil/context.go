package testutil

import (
	"context"
	"net/http"

	id "crowdledger/pkg/domain"
	"crowdledger/pkg/requestcontext"
)

// WithCaller adds an authenticated caller to the request context.
// This simulates what the auth middleware does for a valid bearer token.
// An unparseable address leaves the request anonymous.
func WithCaller(req *http.Request, address string) *http.Request {
	caller, err := id.ParseIdentity(address)
	if err != nil {
		return req
	}
	return req.WithContext(requestcontext.WithCaller(req.Context(), caller))
}

// WithRequestID adds a request id to the request context.
func WithRequestID(req *http.Request, requestID string) *http.Request {
	return req.WithContext(requestcontext.WithRequestID(req.Context(), requestID))
}

// WithContextValue adds an arbitrary key-value pair to the request context.
func WithContextValue(req *http.Request, key, value any) *http.Request {
	ctx := context.WithValue(req.Context(), key, value)
	return req.WithContext(ctx)
}
