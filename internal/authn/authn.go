// Package authn resolves each inbound request to an Identity: token-
// authenticated, IP-authenticated, or anonymous. Grounded on
// pkg/mcp/middleware/auth.go's header-extraction style (strings.HasPrefix +
// case-insensitive Bearer check) and the forwarded-for parsing pattern from
// the teacher's transport/CORS handling.
package authn

import (
	"context"
	"net"
	"net/http"
	"strings"

	"docsearch-mcp/internal/identity"
	"docsearch-mcp/internal/logging"
)

// cdnIPHeaders are checked, in order, before falling back to the generic
// X-Forwarded-For header. A known CDN's own header is trusted over a
// generic proxy chain because it cannot be spoofed past that CDN's edge.
var cdnIPHeaders = []string{"CF-Connecting-IP", "True-Client-IP"}

// clientIPCtxKey carries the resolved client IP (independent of whatever
// identity.Key ends up being — "user:<id>" for a token-authenticated
// caller) so usage logging (§6.6) can still record it.
type clientIPCtxKey struct{}

// WithClientIP stashes the resolved client IP in ctx for downstream
// logging to pick up without recomputing it from headers.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPCtxKey{}, ip)
}

// ClientIPFromContext returns the IP stashed by WithClientIP, or "".
func ClientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPCtxKey{}).(string)
	return ip
}

// Resolver turns request headers into an identity.Identity.
type Resolver struct {
	store identity.Store
}

func NewResolver(store identity.Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve implements §4.G's chain: bearer token, then authorized IP, then
// anonymous. A bad or unrecognized token never fails the request outright —
// it is logged and the resolution falls through, so presenting a bad token
// is never worse than presenting none.
func (r *Resolver) Resolve(ctx context.Context, headers http.Header, remoteAddr string) *identity.Identity {
	ip := ExtractClientIP(headers, remoteAddr)

	if token := ExtractBearerToken(headers.Get("Authorization")); token != "" {
		id, err := r.store.ValidateToken(ctx, token)
		if err == nil {
			return id
		}
		logging.AuthnLogger.WithContext(ctx).Warn("token validation failed, falling back to IP/anonymous",
			"error", err.Error())
	}

	if ip != "" {
		if id, err := r.store.ResolveIP(ctx, ip); err == nil {
			return id
		}
	}

	return &identity.Identity{Authenticated: false, Key: ip}
}

// ExtractBearerToken returns the token in an "Authorization: Bearer <token>"
// header, matched case-insensitively on the scheme, or "" if absent/malformed.
func ExtractBearerToken(header string) string {
	const prefix = "bearer "
	if len(header) <= len(prefix) {
		return ""
	}
	if !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

// ExtractClientIP resolves the caller's IP in priority order: a known CDN
// header, then the generic X-Forwarded-For header, then the direct peer
// address. A comma-separated header value yields its first, trimmed element.
func ExtractClientIP(headers http.Header, remoteAddr string) string {
	for _, h := range cdnIPHeaders {
		if v := headers.Get(h); v != "" {
			return firstCommaElement(v)
		}
	}
	if v := headers.Get("X-Forwarded-For"); v != "" {
		return firstCommaElement(v)
	}
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	return remoteAddr
}

func firstCommaElement(v string) string {
	if idx := strings.IndexByte(v, ','); idx >= 0 {
		v = v[:idx]
	}
	return strings.TrimSpace(v)
}
