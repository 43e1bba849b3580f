package connection

import (
	"context"
	"errors"
	"time"

	"github.com/gorax/gorax/internal/authbroker/provider"
)

// Status is a connection's lifecycle state.
type Status string

const (
	StatusActive  Status = "active"
	StatusErrored Status = "errored"
	StatusRevoked Status = "revoked"
)

var (
	ErrNotFound      = errors.New("connection not found")
	ErrAlreadyExists = errors.New("connection already exists")
)

// Connection is a tenant-scoped, durable credential record: the
// system of record the auth flow engine populates and the refresh
// coordinator keeps current.
type Connection struct {
	EnvironmentID     string
	ProviderConfigKey string
	ConnectionID      string
	Provider          string
	AuthMode          provider.AuthMode

	Credentials      *Credentials
	ConnectionConfig map[string]any
	Metadata         map[string]any

	Status       Status
	LastError    string
	LastErrorAt  *time.Time

	CreatedAt     time.Time
	UpdatedAt     time.Time
	LastFetchedAt *time.Time
}

// NeedsRefresh reports whether the connection's OAuth2 access token
// is within skew of expiring, or already expired. Non-OAuth2
// connections never need a background refresh.
func (c *Connection) NeedsRefresh(now time.Time, skew time.Duration) bool {
	if c.Credentials == nil || c.Credentials.OAuth2 == nil {
		return false
	}
	return c.Credentials.OAuth2.NeedsRefresh(now, skew)
}

// ClearError resets the errored state after a successful refresh or
// probe, so stale failure notifications do not linger.
func (c *Connection) ClearError() {
	c.Status = StatusActive
	c.LastError = ""
	c.LastErrorAt = nil
}

// MarkError records a failed refresh/probe without discarding the
// last-known-good credentials, so operators can inspect what broke.
func (c *Connection) MarkError(msg string, at time.Time) {
	c.Status = StatusErrored
	c.LastError = msg
	c.LastErrorAt = &at
}

// Store is the durable connection repository, implemented against
// Postgres in this package (postgres.go).
type Store interface {
	Upsert(ctx context.Context, c *Connection) error
	Get(ctx context.Context, environmentID, providerConfigKey, connectionID string) (*Connection, error)
	ListByProviderConfig(ctx context.Context, environmentID, providerConfigKey string) ([]*Connection, error)
	Delete(ctx context.Context, environmentID, providerConfigKey, connectionID string) error

	// WithAdvisoryLock runs fn while holding a Postgres advisory lock
	// scoped to (environmentID, providerConfigKey, connectionID), so
	// that only one process-wide refresh can be in flight for a given
	// connection at a time.
	WithAdvisoryLock(ctx context.Context, environmentID, providerConfigKey, connectionID string, fn func(ctx context.Context) error) error
}
