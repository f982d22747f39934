package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelexchange/mxf/pkg/mxerr"
	"github.com/modelexchange/mxf/pkg/store"
)

const testDomainKey = "a-long-random-domain-secret"

func newTestAuth(t *testing.T) (*Authenticator, *store.InMemory) {
	t.Helper()
	s := store.NewInMemory()
	ctx := context.Background()

	require.NoError(t, s.PutAgentCredential(ctx, store.AgentCredential{
		KeyID: "key-1", SecretKey: "agent-secret", AgentID: "agent-1", ChannelID: "ops"}))

	hash, err := HashPassword("hunter2")
	require.NoError(t, err)
	require.NoError(t, s.PutUserCredential(ctx, store.UserCredential{
		UserID: "u1", Token: "tok-1", Username: "alice", PasswordHash: hash}))

	return New(testDomainKey, s, nil), s
}

func TestHandshake(t *testing.T) {
	a, _ := newTestAuth(t)
	ctx := context.Background()

	tests := []struct {
		name      string
		req       HandshakeRequest
		wantCode  mxerr.Code
		wantKind  PrincipalKind
		wantAgent string
	}{
		{
			name: "wrong domain key",
			req: HandshakeRequest{DomainKey: "wrong",
				Principal: Principal{UserID: "u1", UserToken: "tok-1"}},
			wantCode: mxerr.CodeAuthInvalidKey,
		},
		{
			name:     "no principal",
			req:      HandshakeRequest{DomainKey: testDomainKey},
			wantCode: mxerr.CodeAuthMissing,
		},
		{
			name: "user token",
			req: HandshakeRequest{DomainKey: testDomainKey,
				Principal: Principal{UserID: "u1", UserToken: "tok-1"}},
			wantKind: PrincipalUser,
		},
		{
			name: "bad user token",
			req: HandshakeRequest{DomainKey: testDomainKey,
				Principal: Principal{UserID: "u1", UserToken: "nope"}},
			wantCode: mxerr.CodeAuthInvalidKey,
		},
		{
			name: "username password",
			req: HandshakeRequest{DomainKey: testDomainKey,
				Principal: Principal{Username: "alice", Password: "hunter2"}},
			wantKind: PrincipalUser,
		},
		{
			name: "wrong password",
			req: HandshakeRequest{DomainKey: testDomainKey,
				Principal: Principal{Username: "alice", Password: "wrong"}},
			wantCode: mxerr.CodeAuthInvalidKey,
		},
		{
			name: "agent key",
			req: HandshakeRequest{DomainKey: testDomainKey,
				Principal: Principal{KeyID: "key-1", SecretKey: "agent-secret", ChannelID: "ops"}},
			wantKind:  PrincipalAgent,
			wantAgent: "agent-1",
		},
		{
			name: "agent key wrong channel claim",
			req: HandshakeRequest{DomainKey: testDomainKey,
				Principal: Principal{KeyID: "key-1", SecretKey: "agent-secret", ChannelID: "other"}},
			wantCode: mxerr.CodeAuthInvalidKey,
		},
		{
			name: "agent key wrong secret",
			req: HandshakeRequest{DomainKey: testDomainKey,
				Principal: Principal{KeyID: "key-1", SecretKey: "bad", ChannelID: "ops"}},
			wantCode: mxerr.CodeAuthInvalidKey,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := a.Handshake(ctx, tt.req)
			if tt.wantCode != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantCode, mxerr.CodeOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, id.Kind)
			if tt.wantAgent != "" {
				assert.Equal(t, tt.wantAgent, id.AgentID)
				assert.Equal(t, "ops", id.ChannelID)
			}
		})
	}
}

func TestRevocationTakesEffect(t *testing.T) {
	a, s := newTestAuth(t)
	ctx := context.Background()

	id, err := a.Handshake(ctx, HandshakeRequest{DomainKey: testDomainKey,
		Principal: Principal{KeyID: "key-1", SecretKey: "agent-secret"}})
	require.NoError(t, err)
	require.NoError(t, a.CheckRevoked(ctx, id))

	require.NoError(t, s.RevokeAgentCredential(ctx, "key-1"))

	// The cached check may still pass inside the TTL; an uncached
	// authenticator must see the revocation immediately.
	fresh := New(testDomainKey, s, nil)
	err = fresh.CheckRevoked(ctx, id)
	require.Error(t, err)
	assert.Equal(t, mxerr.CodeAuthExpired, mxerr.CodeOf(err))

	// New handshakes fail outright.
	_, err = fresh.Handshake(ctx, HandshakeRequest{DomainKey: testDomainKey,
		Principal: Principal{KeyID: "key-1", SecretKey: "agent-secret"}})
	require.Error(t, err)
	assert.Equal(t, mxerr.CodeAuthExpired, mxerr.CodeOf(err))
}
