// Package auth implements the two-layer handshake: a constant-time domain
// key check followed by principal credential resolution. Revocation is
// re-checked on bus-touching operations through a short-lived cache.
package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/modelexchange/mxf/pkg/mxerr"
	"github.com/modelexchange/mxf/pkg/store"
)

// revocationCacheTTL bounds how long a revoked credential can keep
// operating. Every bus-touching operation re-checks through this cache.
const revocationCacheTTL = 5 * time.Second

// PrincipalKind discriminates resolved identities.
type PrincipalKind string

const (
	PrincipalUser  PrincipalKind = "user"
	PrincipalAgent PrincipalKind = "agent"
)

// Identity is a verified principal.
type Identity struct {
	Kind      PrincipalKind
	UserID    string
	AgentID   string
	ChannelID string
	KeyID     string
}

// Principal carries the credential presented in the handshake. Exactly one
// of the three forms must be populated.
type Principal struct {
	// User token form
	UserID    string `json:"userId,omitempty"`
	UserToken string `json:"userToken,omitempty"`

	// Username/password form
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`

	// Agent key form
	KeyID     string `json:"keyId,omitempty"`
	SecretKey string `json:"secretKey,omitempty"`
	ChannelID string `json:"channelId,omitempty"`
}

// HandshakeRequest is the first message on a new connection.
type HandshakeRequest struct {
	DomainKey string    `json:"domainKey"`
	Principal Principal `json:"principal"`
}

// Authenticator verifies handshakes and tracks revocation.
type Authenticator struct {
	domainKey []byte
	creds     store.CredentialStore
	log       *slog.Logger

	cacheMu sync.Mutex
	cache   map[string]revocationEntry // key: kind+id
}

type revocationEntry struct {
	revoked   bool
	checkedAt time.Time
}

// New creates an authenticator. domainKey is the configured shared secret.
func New(domainKey string, creds store.CredentialStore, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{
		domainKey: []byte(domainKey),
		creds:     creds,
		log:       logger.With("component", "auth"),
		cache:     make(map[string]revocationEntry),
	}
}

// Handshake verifies both auth layers and resolves the principal.
//
// Layer 1 is the domain key, compared in constant time. Layer 2 is one of:
// user token, username/password, or agent key pair. Agent credentials must
// resolve to the channel the connection claims.
func (a *Authenticator) Handshake(ctx context.Context, req HandshakeRequest) (*Identity, error) {
	if len(a.domainKey) == 0 {
		return nil, mxerr.New(mxerr.CodeAuthMissing, "server has no domain key configured")
	}
	if subtle.ConstantTimeCompare([]byte(req.DomainKey), a.domainKey) != 1 {
		return nil, mxerr.New(mxerr.CodeAuthInvalidKey, "domain key mismatch")
	}

	p := req.Principal
	switch {
	case p.KeyID != "":
		return a.resolveAgent(ctx, p)
	case p.UserID != "":
		return a.resolveUserToken(ctx, p)
	case p.Username != "":
		return a.resolveUserPassword(ctx, p)
	default:
		return nil, mxerr.New(mxerr.CodeAuthMissing, "no principal credential presented")
	}
}

func (a *Authenticator) resolveAgent(ctx context.Context, p Principal) (*Identity, error) {
	cred, err := a.creds.GetAgentCredential(ctx, p.KeyID)
	if err != nil {
		// Uniform failure message: do not reveal whether the key id exists.
		return nil, mxerr.New(mxerr.CodeAuthInvalidKey, "invalid agent credential")
	}
	if subtle.ConstantTimeCompare([]byte(p.SecretKey), []byte(cred.SecretKey)) != 1 {
		return nil, mxerr.New(mxerr.CodeAuthInvalidKey, "invalid agent credential")
	}
	if cred.Revoked {
		return nil, mxerr.New(mxerr.CodeAuthExpired, "agent credential revoked")
	}
	if p.ChannelID != "" && p.ChannelID != cred.ChannelID {
		return nil, mxerr.Newf(mxerr.CodeAuthInvalidKey,
			"credential is not valid for channel %q", p.ChannelID)
	}
	return &Identity{
		Kind:      PrincipalAgent,
		AgentID:   cred.AgentID,
		ChannelID: cred.ChannelID,
		KeyID:     cred.KeyID,
	}, nil
}

func (a *Authenticator) resolveUserToken(ctx context.Context, p Principal) (*Identity, error) {
	user, err := a.creds.GetUserByToken(ctx, p.UserID)
	if err != nil {
		return nil, mxerr.New(mxerr.CodeAuthInvalidKey, "invalid user credential")
	}
	if subtle.ConstantTimeCompare([]byte(p.UserToken), []byte(user.Token)) != 1 {
		return nil, mxerr.New(mxerr.CodeAuthInvalidKey, "invalid user credential")
	}
	if user.Revoked {
		return nil, mxerr.New(mxerr.CodeAuthExpired, "user credential revoked")
	}
	return &Identity{Kind: PrincipalUser, UserID: user.UserID}, nil
}

func (a *Authenticator) resolveUserPassword(ctx context.Context, p Principal) (*Identity, error) {
	user, err := a.creds.GetUserByName(ctx, p.Username)
	if err != nil {
		return nil, mxerr.New(mxerr.CodeAuthInvalidKey, "invalid user credential")
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(p.Password)) != nil {
		return nil, mxerr.New(mxerr.CodeAuthInvalidKey, "invalid user credential")
	}
	if user.Revoked {
		return nil, mxerr.New(mxerr.CodeAuthExpired, "user credential revoked")
	}
	return &Identity{Kind: PrincipalUser, UserID: user.UserID}, nil
}

// CheckRevoked re-verifies an identity against the credential store.
// Results are cached for revocationCacheTTL, which bounds how long a
// revoked credential can keep using the bus.
func (a *Authenticator) CheckRevoked(ctx context.Context, id *Identity) error {
	var cacheKey string
	switch id.Kind {
	case PrincipalAgent:
		cacheKey = "agent:" + id.KeyID
	case PrincipalUser:
		cacheKey = "user:" + id.UserID
	default:
		return mxerr.New(mxerr.CodeAuthMissing, "unknown principal kind")
	}

	a.cacheMu.Lock()
	entry, ok := a.cache[cacheKey]
	a.cacheMu.Unlock()
	if ok && time.Since(entry.checkedAt) < revocationCacheTTL {
		if entry.revoked {
			return mxerr.New(mxerr.CodeAuthExpired, "credential revoked")
		}
		return nil
	}

	revoked, err := a.lookupRevoked(ctx, id)
	if err != nil {
		// Credential vanished: treat as revoked.
		revoked = true
	}

	a.cacheMu.Lock()
	a.cache[cacheKey] = revocationEntry{revoked: revoked, checkedAt: time.Now()}
	a.cacheMu.Unlock()

	if revoked {
		return mxerr.New(mxerr.CodeAuthExpired, "credential revoked")
	}
	return nil
}

func (a *Authenticator) lookupRevoked(ctx context.Context, id *Identity) (bool, error) {
	switch id.Kind {
	case PrincipalAgent:
		cred, err := a.creds.GetAgentCredential(ctx, id.KeyID)
		if err != nil {
			return true, fmt.Errorf("credential lookup failed: %w", err)
		}
		return cred.Revoked, nil
	default:
		user, err := a.creds.GetUserByToken(ctx, id.UserID)
		if err != nil {
			return true, fmt.Errorf("credential lookup failed: %w", err)
		}
		return user.Revoked, nil
	}
}

// HashPassword produces a bcrypt hash for storage.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}
