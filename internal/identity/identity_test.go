package identity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docsearch-mcp/internal/errtax"
)

func TestFakeValidateTokenRejectsBadFormat(t *testing.T) {
	f := NewFake()
	_, err := f.ValidateToken(context.Background(), "not-a-token")
	require.Error(t, err)
	assert.Equal(t, errtax.KindInvalidArgument, errtax.From(err).Kind)
}

func TestFakeValidateTokenNotFound(t *testing.T) {
	f := NewFake()
	_, err := f.ValidateToken(context.Background(), "at_"+"0123456789abcdef0123456789abcdef")
	require.Error(t, err)
	assert.Equal(t, errtax.KindNotFound, errtax.From(err).Kind)
}

func TestFakeValidateTokenFound(t *testing.T) {
	f := NewFake()
	token := "at_" + "0123456789abcdef0123456789abcdef"
	f.Tokens[token] = Identity{Authenticated: true, UserID: "u1", Plan: "pro", Token: token, Key: "user:u1"}

	id, err := f.ValidateToken(context.Background(), token)
	require.NoError(t, err)
	assert.True(t, id.Authenticated)
	assert.Equal(t, "pro", id.Plan)
	assert.Equal(t, "user:u1", id.Key)
}

func TestFakeResolveIPFound(t *testing.T) {
	f := NewFake()
	f.IPs["203.0.113.5"] = Identity{Authenticated: true, UserID: "u2", Token: "ip-based", Key: "user:u2"}

	id, err := f.ResolveIP(context.Background(), "203.0.113.5")
	require.NoError(t, err)
	assert.Equal(t, "ip-based", id.Token)
}

func TestFakeResolveIPNotFound(t *testing.T) {
	f := NewFake()
	_, err := f.ResolveIP(context.Background(), "203.0.113.9")
	require.Error(t, err)
	assert.Equal(t, errtax.KindNotFound, errtax.From(err).Kind)
}

func TestFakeLogSearchAndLogFetchRecordEntries(t *testing.T) {
	f := NewFake()
	f.LogSearch(context.Background(), SearchLogEntry{IdentityKey: "user:u1", Query: "swiftui", ResultCount: 3, Status: "ok"})
	f.LogFetch(context.Background(), FetchLogEntry{IdentityKey: "user:u1", RequestedURL: "https://a", Status: "ok"})

	require.Len(t, f.SearchLogs, 1)
	require.Len(t, f.FetchLogs, 1)
	assert.Equal(t, "swiftui", f.SearchLogs[0].Query)
	assert.Equal(t, "https://a", f.FetchLogs[0].RequestedURL)
}
