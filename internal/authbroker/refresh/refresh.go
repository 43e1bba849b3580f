// Package refresh implements the refresh coordinator: keeping OAuth2
// access tokens alive ahead of expiry, de-duplicated in-process with
// singleflight and serialized cross-process with a Postgres advisory
// lock.
package refresh

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/gorax/gorax/internal/authbroker/connection"
	"github.com/gorax/gorax/internal/authbroker/errcode"
	"github.com/gorax/gorax/internal/authbroker/provider"
)

// DefaultSkew is how far ahead of expiry a token is proactively
// refreshed.
const DefaultSkew = 15 * time.Minute

// TokenExchanger performs the actual refresh_token grant against the
// provider's token endpoint. flow.OAuth2Driver's token-exchange
// helper is adapted into this narrow interface to avoid an import
// cycle between flow and refresh (both depend on connection/provider,
// neither should depend on the other).
type TokenExchanger interface {
	ExchangeRefreshToken(ctx context.Context, desc *provider.Descriptor, cfg *provider.IntegrationConfig, clientID, clientSecret, refreshToken string) (*connection.OAuth2Credentials, error)
}

// Hooks and Notifier mirror flow's narrow collaborator interfaces so
// a refreshed connection still runs post-connect side effects and
// notifications.
type Hooks interface {
	Run(ctx context.Context, c *connection.Connection, operation, postConnectScript string) error
}

type Notifier interface {
	ConnectionSucceeded(ctx context.Context, c *connection.Connection, operation string)
	ConnectionFailed(ctx context.Context, c *connection.Connection, code errcode.Code, err error)
}

// Coordinator refreshes OAuth2 connections ahead of expiry.
type Coordinator struct {
	Connections connection.Store
	Registry    provider.Registry
	Exchanger   TokenExchanger
	Hooks       Hooks
	Notifier    Notifier
	Skew        time.Duration
	Now         func() time.Time
	Logger      *slog.Logger

	group singleflight.Group
}

// NewCoordinator builds a Coordinator with spec defaults.
func NewCoordinator(connections connection.Store, registry provider.Registry, exchanger TokenExchanger, hooks Hooks, notifier Notifier, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		Connections: connections,
		Registry:    registry,
		Exchanger:   exchanger,
		Hooks:       hooks,
		Notifier:    notifier,
		Skew:        DefaultSkew,
		Now:         time.Now,
		Logger:      logger,
	}
}

// EnsureFresh returns a connection guaranteed to have a non-stale
// access token, refreshing it first if needed. Concurrent callers for
// the same connection within this process share one in-flight
// refresh (singleflight); concurrent callers across processes are
// serialized by the connection store's Postgres advisory lock.
func (c *Coordinator) EnsureFresh(ctx context.Context, environmentID, providerConfigKey, connectionID string) (*connection.Connection, error) {
	conn, err := c.Connections.Get(ctx, environmentID, providerConfigKey, connectionID)
	if err != nil {
		return nil, err
	}
	if !conn.NeedsRefresh(c.Now(), c.Skew) {
		return conn, nil
	}

	key := fmt.Sprintf("%s/%s/%s", environmentID, providerConfigKey, connectionID)
	result, err, _ := c.group.Do(key, func() (any, error) {
		return c.refreshLocked(ctx, environmentID, providerConfigKey, connectionID)
	})
	if err != nil {
		return nil, err
	}
	return result.(*connection.Connection), nil
}

// refreshLocked acquires the cross-process advisory lock and performs
// the refresh, re-checking staleness after the lock is held in case
// another process already refreshed this connection.
func (c *Coordinator) refreshLocked(ctx context.Context, environmentID, providerConfigKey, connectionID string) (*connection.Connection, error) {
	var out *connection.Connection
	err := c.Connections.WithAdvisoryLock(ctx, environmentID, providerConfigKey, connectionID, func(ctx context.Context) error {
		conn, err := c.Connections.Get(ctx, environmentID, providerConfigKey, connectionID)
		if err != nil {
			return err
		}
		if !conn.NeedsRefresh(c.Now(), c.Skew) {
			out = conn
			return nil
		}

		refreshed, rerr := c.doRefresh(ctx, conn)
		if rerr != nil {
			conn.MarkError(rerr.Error(), c.Now())
			if uerr := c.Connections.Upsert(ctx, conn); uerr != nil {
				c.Logger.Error("persisting connection refresh error", "error", uerr)
			}
			if c.Notifier != nil {
				code := errcode.RefreshExternalError
				if ae, ok := errcode.As(rerr); ok {
					code = ae.Code
				}
				c.Notifier.ConnectionFailed(ctx, conn, code, rerr)
			}
			return rerr
		}

		out = refreshed
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Coordinator) doRefresh(ctx context.Context, conn *connection.Connection) (*connection.Connection, error) {
	if conn.Credentials == nil || conn.Credentials.OAuth2 == nil || conn.Credentials.OAuth2.RefreshToken == "" {
		return nil, errcode.New(errcode.RefreshExternalError, "connection has no refresh token")
	}

	cfg, err := c.Registry.GetIntegrationConfig(conn.EnvironmentID, conn.ProviderConfigKey)
	if err != nil {
		return nil, errcode.New(errcode.UnknownProviderConfig, err.Error())
	}
	desc, err := c.Registry.GetDescriptor(cfg.Provider)
	if err != nil {
		return nil, errcode.New(errcode.UnknownProviderTpl, err.Error())
	}

	clientID := cfg.OAuthClientID
	clientSecret := cfg.OAuthClientSecret
	if conn.Credentials.OAuth2.ClientIDOverride != "" {
		clientID = conn.Credentials.OAuth2.ClientIDOverride
	}
	if conn.Credentials.OAuth2.ClientSecretOverride != "" {
		clientSecret = conn.Credentials.OAuth2.ClientSecretOverride
	}

	refreshed, err := c.Exchanger.ExchangeRefreshToken(ctx, desc, cfg, clientID, clientSecret, conn.Credentials.OAuth2.RefreshToken)
	if err != nil {
		return nil, errcode.Wrap(errcode.RefreshExternalError, "exchanging refresh token", err)
	}
	if refreshed.RefreshToken == "" {
		// Some providers omit refresh_token on a refresh response,
		// meaning "unchanged" rather than "revoked".
		refreshed.RefreshToken = conn.Credentials.OAuth2.RefreshToken
	}
	refreshed.ClientIDOverride = conn.Credentials.OAuth2.ClientIDOverride
	refreshed.ClientSecretOverride = conn.Credentials.OAuth2.ClientSecretOverride

	conn.Credentials.OAuth2 = refreshed
	conn.ClearError()

	if err := c.Connections.Upsert(ctx, conn); err != nil {
		return nil, fmt.Errorf("persisting refreshed connection: %w", err)
	}
	if c.Hooks != nil {
		if herr := c.Hooks.Run(ctx, conn, "refresh", desc.PostConnectScript); herr != nil {
			c.Logger.Warn("post-refresh hook failed", "error", herr)
		}
	}
	if c.Notifier != nil {
		c.Notifier.ConnectionSucceeded(ctx, conn, "refresh")
	}
	return conn, nil
}
