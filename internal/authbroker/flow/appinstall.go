package flow

import (
	"context"
	"fmt"
	"net/url"

	"github.com/gorax/gorax/internal/authbroker/connection"
	"github.com/gorax/gorax/internal/authbroker/errcode"
	"github.com/gorax/gorax/internal/authbroker/provider"
	"github.com/gorax/gorax/internal/authbroker/session"
)

// AppInstallDriver implements the APP and APP_STORE auth modes: no
// client secret is exchanged up front, the caller is sent to a
// provider-hosted installation page and the resulting installation_id
// arrives either on the callback or on a later webhook, so Finish
// leaves the connection Pending until that metadata shows up.
type AppInstallDriver struct{}

func (d *AppInstallDriver) Start(ctx context.Context, eng *Engine, desc *provider.Descriptor, cfg *provider.IntegrationConfig, req *StartRequest) (*StartResult, error) {
	if cfg.AppLink == "" {
		return nil, errcode.New(errcode.InvalidConnConfig, "provider config has no app_link configured")
	}

	now := eng.Now()
	sess, err := session.New(req.EnvironmentID, req.ProviderConfigKey, cfg.Provider, desc.AuthMode, req.ConnectionID, req.CallbackURL, eng.SessionTTL, now)
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}
	sess.ConnectionConfig = req.ConnectionConfig
	sess.WebSocketClientID = req.WebSocketClientID
	sess.ActivityLogID = req.ActivityLogID

	if err := eng.Sessions.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("persisting session: %w", err)
	}

	u, err := url.Parse(cfg.AppLink)
	if err != nil {
		return nil, errcode.New(errcode.InvalidConnConfig, "app_link is not a valid URL")
	}
	q := u.Query()
	q.Set("state", sess.ID)
	u.RawQuery = q.Encode()

	return &StartResult{Redirect: u.String()}, nil
}

func (d *AppInstallDriver) Finish(ctx context.Context, eng *Engine, desc *provider.Descriptor, cfg *provider.IntegrationConfig, sess *session.Session, req *FinishRequest) (*connection.Connection, error) {
	if req.Error != "" {
		return nil, errcode.New(errcode.InvalidCallbackOAuth2, "provider returned error: "+req.Error)
	}

	connConfig := map[string]any{}
	for k, v := range sess.ConnectionConfig {
		connConfig[k] = v
	}
	for _, key := range desc.RedirectURIMetadata {
		if v, ok := req.CallbackMetadata[key]; ok {
			connConfig[key] = v
		}
	}

	_, hasInstallation := connConfig["installation_id"]

	c := &connection.Connection{
		EnvironmentID:     sess.EnvironmentID,
		ProviderConfigKey: sess.ProviderConfigKey,
		ConnectionID:      sess.ConnectionID,
		Provider:          sess.Provider,
		AuthMode:          desc.AuthMode,
		Credentials:       &connection.Credentials{Mode: desc.AuthMode, AppStore: &connection.AppStoreCredentials{}},
		ConnectionConfig:  connConfig,
		Status:            connection.StatusActive,
	}
	c.ClearError()

	if !hasInstallation {
		if err := eng.Connections.Upsert(ctx, c); err != nil {
			return nil, fmt.Errorf("upserting pending app connection: %w", err)
		}
		return c, nil
	}

	operation := "creation"
	if existing, err := eng.Connections.Get(ctx, c.EnvironmentID, c.ProviderConfigKey, c.ConnectionID); err == nil && existing != nil {
		operation = "refresh"
	}
	if err := finalizeConnection(ctx, eng, c, operation, desc); err != nil {
		return nil, err
	}
	return c, nil
}
