package authn

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docsearch-mcp/internal/identity"
)

func TestExtractBearerTokenCaseInsensitive(t *testing.T) {
	assert.Equal(t, "at_abc", ExtractBearerToken("Bearer at_abc"))
	assert.Equal(t, "at_abc", ExtractBearerToken("bearer at_abc"))
	assert.Equal(t, "at_abc", ExtractBearerToken("BEARER   at_abc"))
	assert.Equal(t, "", ExtractBearerToken(""))
	assert.Equal(t, "", ExtractBearerToken("Basic dXNlcjpwYXNz"))
}

func TestExtractClientIPPriority(t *testing.T) {
	h := http.Header{}
	h.Set("X-Forwarded-For", "10.0.0.1, 10.0.0.2")
	h.Set("CF-Connecting-IP", "203.0.113.9")
	assert.Equal(t, "203.0.113.9", ExtractClientIP(h, "127.0.0.1:1234"))

	h2 := http.Header{}
	h2.Set("X-Forwarded-For", "10.0.0.1, 10.0.0.2")
	assert.Equal(t, "10.0.0.1", ExtractClientIP(h2, "127.0.0.1:1234"))

	h3 := http.Header{}
	assert.Equal(t, "127.0.0.1", ExtractClientIP(h3, "127.0.0.1:1234"))
}

func TestResolveByToken(t *testing.T) {
	store := identity.NewFake()
	token := "at_" + "0123456789abcdef0123456789abcdef"
	store.Tokens[token] = identity.Identity{Authenticated: true, UserID: "u1", Token: token, Key: "user:u1"}

	r := NewResolver(store)
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)

	id := r.Resolve(context.Background(), h, "1.2.3.4:5")
	require.True(t, id.Authenticated)
	assert.Equal(t, "user:u1", id.Key)
}

func TestResolveFallsBackToIPOnBadToken(t *testing.T) {
	store := identity.NewFake()
	store.IPs["1.2.3.4"] = identity.Identity{Authenticated: true, UserID: "u2", Token: "ip-based", Key: "user:u2"}

	r := NewResolver(store)
	h := http.Header{}
	h.Set("Authorization", "Bearer not-a-real-token")

	id := r.Resolve(context.Background(), h, "1.2.3.4:5")
	require.True(t, id.Authenticated)
	assert.Equal(t, "ip-based", id.Token)
}

func TestResolveAnonymousWhenNoTokenOrAuthorizedIP(t *testing.T) {
	store := identity.NewFake()
	r := NewResolver(store)

	id := r.Resolve(context.Background(), http.Header{}, "9.9.9.9:1")
	assert.False(t, id.Authenticated)
	assert.Equal(t, "9.9.9.9", id.Key)
}
