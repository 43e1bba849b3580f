package flow

import (
	"context"
	"fmt"

	"github.com/gorax/gorax/internal/authbroker/connection"
	"github.com/gorax/gorax/internal/authbroker/errcode"
	"github.com/gorax/gorax/internal/authbroker/provider"
	"github.com/gorax/gorax/internal/authbroker/session"
)

// OAuth2CCDriver implements the OAUTH2_CC auth mode: a synchronous
// client-credentials grant with no redirect and no session.
type OAuth2CCDriver struct{}

func (d *OAuth2CCDriver) Start(ctx context.Context, eng *Engine, desc *provider.Descriptor, cfg *provider.IntegrationConfig, req *StartRequest) (*StartResult, error) {
	clientID, _ := req.RawCredentialInput["client_id"].(string)
	clientSecret, _ := req.RawCredentialInput["client_secret"].(string)
	if clientID == "" {
		clientID = cfg.OAuthClientID
	}
	if clientSecret == "" {
		clientSecret = cfg.OAuthClientSecret
	}
	if clientID == "" || clientSecret == "" {
		return nil, errcode.New(errcode.InvalidConnConfig, "client_id and client_secret are required for OAUTH2_CC")
	}

	tctx := buildTemplateContext(cfg, req.ConnectionConfig)
	tokenParams, err := interpolateParams("token_params", desc.TokenParams, tctx)
	if err != nil {
		return nil, err
	}
	tokenParams["grant_type"] = "client_credentials"

	tokenURL, ok := desc.TokenURL.Resolve(desc.AuthMode)
	if !ok {
		return nil, errcode.New(errcode.UnknownProviderTpl, "provider has no token_url for OAUTH2_CC")
	}
	tokenURL, err = interpolateURL("token_url", tokenURL, tctx)
	if err != nil {
		return nil, err
	}

	tokenResp, err := exchangeToken(ctx, eng, tokenURL, clientID, clientSecret, tokenParams, desc)
	if err != nil {
		return nil, errcode.New(errcode.OAuth2CCError, err.Error())
	}
	oauth2Creds, err := parseOAuth2TokenResponse(tokenResp, eng.Now())
	if err != nil {
		return nil, errcode.New(errcode.OAuth2CCError, err.Error())
	}

	c := &connection.Connection{
		EnvironmentID:     req.EnvironmentID,
		ProviderConfigKey: req.ProviderConfigKey,
		ConnectionID:      req.ConnectionID,
		Provider:          cfg.Provider,
		AuthMode:          desc.AuthMode,
		Credentials:       &connection.Credentials{Mode: provider.OAuth2, OAuth2: oauth2Creds},
		ConnectionConfig:  req.ConnectionConfig,
		Status:            connection.StatusActive,
	}
	c.ClearError()

	operation := "creation"
	if existing, gerr := eng.Connections.Get(ctx, c.EnvironmentID, c.ProviderConfigKey, c.ConnectionID); gerr == nil && existing != nil {
		operation = "refresh"
	}
	if err := finalizeConnection(ctx, eng, c, operation, desc); err != nil {
		return nil, err
	}
	return &StartResult{Connection: c}, nil
}

func (d *OAuth2CCDriver) Finish(ctx context.Context, eng *Engine, desc *provider.Descriptor, cfg *provider.IntegrationConfig, sess *session.Session, req *FinishRequest) (*connection.Connection, error) {
	return nil, fmt.Errorf("OAUTH2_CC completes synchronously in Start; Finish is never called")
}
