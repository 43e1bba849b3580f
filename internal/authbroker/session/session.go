// Package session implements the durable, short-lived OAuth handshake
// record keyed by the opaque "state" value.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gorax/gorax/internal/authbroker/provider"
)

// MinTTL and MaxTTL bound how long a session may live.
const (
	MinTTL     = 10 * time.Minute
	MaxTTL     = time.Hour
	DefaultTTL = 15 * time.Minute
)

// ErrNotFound is returned by Store.FindAndDelete when no session
// exists for the given id, or it already expired.
var ErrNotFound = errors.New("oauth session not found or expired")

// Session is the transient, single-use record binding a pending
// handshake to its originating tenant, provider and callback.
type Session struct {
	ID                string
	EnvironmentID     string
	ProviderConfigKey string
	Provider          string
	AuthMode          provider.AuthMode
	ConnectionID      string
	CallbackURL       string
	CodeVerifier      string
	ConnectionConfig  map[string]any
	WebSocketClientID string
	ActivityLogID     string
	RequestTokenSecret string // OAuth1 only

	// ClientIDOverride and ClientSecretOverride carry a per-connection
	// OAuth app override supplied at start time: preserved across the
	// callback and honored by later refreshes instead of falling back
	// to the integration default.
	ClientIDOverride     string
	ClientSecretOverride string

	CreatedAt time.Time
	ExpiresAt time.Time
}

// IsExpired reports whether the session has outlived its TTL.
func (s *Session) IsExpired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// New builds a session with a fresh id (which doubles as the OAuth
// "state" parameter — no second identifier is ever introduced) and a
// fresh PKCE code verifier.
func New(environmentID, providerConfigKey, providerName string, mode provider.AuthMode, connectionID, callbackURL string, ttl time.Duration, now time.Time) (*Session, error) {
	verifier, err := GenerateCodeVerifier()
	if err != nil {
		return nil, fmt.Errorf("generating code verifier: %w", err)
	}
	if ttl < MinTTL {
		ttl = MinTTL
	}
	if ttl > MaxTTL {
		ttl = MaxTTL
	}
	return &Session{
		ID:                uuid.NewString(),
		EnvironmentID:     environmentID,
		ProviderConfigKey: providerConfigKey,
		Provider:          providerName,
		AuthMode:          mode,
		ConnectionID:      connectionID,
		CallbackURL:       callbackURL,
		CodeVerifier:      verifier,
		ConnectionConfig:  map[string]any{},
		CreatedAt:         now,
		ExpiresAt:         now.Add(ttl),
	}, nil
}

// GenerateCodeVerifier returns 48 random bytes hex-encoded for use as
// Session.CodeVerifier.
func GenerateCodeVerifier() (string, error) {
	b := make([]byte, 48)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// Store is the durable session repository. FindAndDelete MUST be a
// single atomic operation: of any two concurrent callers racing on the
// same id, at most one may observe a non-nil session.
type Store interface {
	Create(ctx context.Context, s *Session) error
	FindAndDelete(ctx context.Context, id string) (*Session, error)
	SweepExpired(ctx context.Context, now time.Time) (int, error)
}
