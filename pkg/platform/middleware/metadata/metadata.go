package metadata

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/mssola/useragent"

	"crowdledger/pkg/requestcontext"
)

// ClientMetadata puts the client IP, the raw User-Agent and a parsed client
// summary on the request context. Apply it early in the chain.
func ClientMetadata(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get("User-Agent")
		ctx := requestcontext.WithClientMetadata(r.Context(), ClientIPFromRequest(r), raw, ClientKind(raw))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClientKind summarizes a User-Agent as "bot", "Browser/Version (OS)" or "unknown".
func ClientKind(raw string) string {
	if raw == "" {
		return "unknown"
	}
	ua := useragent.New(raw)
	if ua.Bot() {
		return "bot"
	}
	name, version := ua.Browser()
	if name == "" {
		return "unknown"
	}
	if major, _, ok := strings.Cut(version, "."); ok {
		version = major
	}
	kind := name
	if version != "" {
		kind = fmt.Sprintf("%s/%s", name, version)
	}
	if os := ua.OS(); os != "" {
		kind = fmt.Sprintf("%s (%s)", kind, os)
	}
	if ua.Mobile() {
		kind += " mobile"
	}
	return kind
}

// ClientIPFromRequest extracts the client IP, preferring proxy headers.
func ClientIPFromRequest(r *http.Request) string {
	// X-Forwarded-For is "client, proxy1, proxy2"
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	if addr := r.RemoteAddr; addr != "" {
		// [::1]:port or 127.0.0.1:port
		if idx := strings.LastIndex(addr, ":"); idx != -1 {
			return addr[:idx]
		}
		return addr
	}
	return "unknown"
}
