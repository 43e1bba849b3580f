package flow

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorax/gorax/internal/authbroker/connection"
	"github.com/gorax/gorax/internal/authbroker/errcode"
	"github.com/gorax/gorax/internal/authbroker/provider"
	"github.com/gorax/gorax/internal/authbroker/session"
)

// OAuth2Driver implements the OAUTH2 and CUSTOM auth modes: the
// authorization-code grant with optional PKCE.
type OAuth2Driver struct{}

func (d *OAuth2Driver) Start(ctx context.Context, eng *Engine, desc *provider.Descriptor, cfg *provider.IntegrationConfig, req *StartRequest) (*StartResult, error) {
	tctx := buildTemplateContext(cfg, req.ConnectionConfig)

	authBase, ok := desc.AuthorizationURL.Resolve(desc.AuthMode)
	if !ok {
		return nil, errcode.New(errcode.UnknownProviderTpl, "provider has no authorization_url for this auth mode")
	}
	if _, err := interpolateURL("authorization_url", authBase, tctx); err != nil {
		return nil, err
	}
	tokenBase, ok := desc.TokenURL.Resolve(desc.AuthMode)
	if ok {
		if _, err := interpolateURL("token_url", tokenBase, tctx); err != nil {
			return nil, err
		}
	}
	if gt, ok := desc.TokenParams["grant_type"]; ok {
		if s, _ := gt.(string); s != "" && s != "authorization_code" {
			return nil, errcode.New(errcode.UnknownGrantType, "unsupported grant_type "+s)
		}
	}

	authParams, err := interpolateParams("authorization_params", desc.AuthorizationParams, tctx)
	if err != nil {
		return nil, err
	}
	for k, v := range req.AuthorizationParamsOverride {
		if v == nil {
			delete(authParams, k)
			continue
		}
		authParams[k] = v
	}

	now := eng.Now()
	sess, err := session.New(req.EnvironmentID, req.ProviderConfigKey, cfg.Provider, desc.AuthMode, req.ConnectionID, req.CallbackURL, eng.SessionTTL, now)
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}
	sess.ConnectionConfig = req.ConnectionConfig
	sess.WebSocketClientID = req.WebSocketClientID
	sess.ActivityLogID = req.ActivityLogID
	sess.ClientIDOverride = req.ClientIDOverride
	sess.ClientSecretOverride = req.ClientSecretOverride

	if !desc.DisablePKCE {
		authParams["code_challenge"] = computeCodeChallenge(sess.CodeVerifier)
		authParams["code_challenge_method"] = "S256"
	}

	if err := eng.Sessions.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("persisting session: %w", err)
	}

	clientID := cfg.OAuthClientID
	if req.ClientIDOverride != "" {
		clientID = req.ClientIDOverride
	}

	query := url.Values{}
	query.Set("response_type", "code")
	query.Set("client_id", clientID)
	query.Set("redirect_uri", req.CallbackURL)
	if scope := joinScopes(cfg.OAuthScopes, desc.EffectiveScopeSeparator()); scope != "" {
		query.Set("scope", scope)
	}
	query.Set("state", sess.ID)
	for k, v := range authParams {
		query.Set(k, fmt.Sprint(v))
	}

	redirect := buildAuthorizeURL(authBase, query, desc.AuthorizationURLFrag, desc.AuthorizationURLReplacements)
	return &StartResult{Redirect: redirect}, nil
}

func (d *OAuth2Driver) Finish(ctx context.Context, eng *Engine, desc *provider.Descriptor, cfg *provider.IntegrationConfig, sess *session.Session, req *FinishRequest) (*connection.Connection, error) {
	if req.Error != "" {
		return nil, errcode.New(errcode.InvalidCallbackOAuth2, "provider returned error: "+req.Error)
	}

	clientID := cfg.OAuthClientID
	clientSecret := cfg.OAuthClientSecret
	if sess.ClientIDOverride != "" {
		clientID = sess.ClientIDOverride
	}
	if sess.ClientSecretOverride != "" {
		clientSecret = sess.ClientSecretOverride
	}

	tctx := buildTemplateContext(cfg, sess.ConnectionConfig)

	tokenParams, err := interpolateParams("token_params", desc.TokenParams, tctx)
	if err != nil {
		return nil, err
	}
	delete(tokenParams, "grant_type")
	tokenParams["grant_type"] = "authorization_code"
	tokenParams["code"] = req.Code
	tokenParams["redirect_uri"] = sess.CallbackURL
	if !desc.DisablePKCE {
		tokenParams["code_verifier"] = sess.CodeVerifier
	}

	tokenURL, ok := desc.TokenURL.Resolve(desc.AuthMode)
	if !ok {
		return nil, errcode.New(errcode.UnknownProviderTpl, "provider has no token_url for this auth mode")
	}
	tokenURL, err = interpolateURL("token_url", tokenURL, tctx)
	if err != nil {
		return nil, err
	}

	tokenResp, err := exchangeToken(ctx, eng, tokenURL, clientID, clientSecret, tokenParams, desc)
	if err != nil {
		return nil, errcode.Wrap(errcode.TokenExternalError, "exchanging authorization code", err)
	}

	oauth2Creds, err := parseOAuth2TokenResponse(tokenResp, eng.Now())
	if err != nil {
		return nil, errcode.Wrap(errcode.TokenParsingError, "parsing token response", err)
	}
	oauth2Creds.ClientIDOverride = sess.ClientIDOverride
	oauth2Creds.ClientSecretOverride = sess.ClientSecretOverride

	connConfig := map[string]any{}
	maps.Copy(connConfig, sess.ConnectionConfig)
	for _, key := range desc.TokenResponseMetadata {
		if v, ok := tokenResp[key]; ok {
			connConfig[key] = v
		}
	}
	for _, key := range desc.RedirectURIMetadata {
		if v, ok := req.CallbackMetadata[key]; ok {
			connConfig[key] = v
		}
	}

	status := connection.StatusActive
	pending := false
	if desc.AuthMode == provider.Custom {
		if _, hasInstallation := connConfig["installation_id"]; !hasInstallation {
			pending = true
		}
	}

	c := &connection.Connection{
		EnvironmentID:     sess.EnvironmentID,
		ProviderConfigKey: sess.ProviderConfigKey,
		ConnectionID:      sess.ConnectionID,
		Provider:          sess.Provider,
		AuthMode:          desc.AuthMode,
		Credentials:       &connection.Credentials{Mode: provider.OAuth2, OAuth2: oauth2Creds},
		ConnectionConfig:  connConfig,
		Status:            status,
	}
	c.ClearError()

	operation := "creation"
	if existing, err := eng.Connections.Get(ctx, c.EnvironmentID, c.ProviderConfigKey, c.ConnectionID); err == nil && existing != nil {
		operation = "refresh"
	}

	if pending {
		if err := eng.Connections.Upsert(ctx, c); err != nil {
			return nil, fmt.Errorf("upserting pending connection: %w", err)
		}
		return c, nil
	}

	if err := finalizeConnection(ctx, eng, c, operation, desc); err != nil {
		return nil, err
	}
	return c, nil
}

func joinScopes(scopesCSV, separator string) string {
	if scopesCSV == "" {
		return ""
	}
	parts := strings.Split(scopesCSV, ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return strings.Join(parts, separator)
}

func buildAuthorizeURL(base string, query url.Values, useFragment bool, replacements map[string]string) string {
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	encoded := query.Encode()
	if useFragment {
		u.RawQuery = ""
		u.Fragment = encoded
	} else {
		existing := u.Query()
		for k, vs := range query {
			for _, v := range vs {
				existing.Set(k, v)
			}
		}
		u.RawQuery = existing.Encode()
	}
	out := u.String()
	for from, to := range replacements {
		out = strings.ReplaceAll(out, from, to)
	}
	return out
}

// exchangeToken performs the token-exchange POST, honoring
// token_request_auth_method (basic vs body) and body_format
// (form vs json).
func exchangeToken(ctx context.Context, eng *Engine, tokenURL, clientID, clientSecret string, params map[string]any, desc *provider.Descriptor) (map[string]any, error) {
	if desc.TokenRequestAuthMethod != provider.TokenAuthBasic {
		params["client_id"] = clientID
		params["client_secret"] = clientSecret
	}

	var body io.Reader
	contentType := "application/x-www-form-urlencoded"
	if desc.BodyFormat == provider.BodyFormatJSON {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshaling token request body: %w", err)
		}
		body = bytes.NewReader(raw)
		contentType = "application/json"
	} else {
		form := url.Values{}
		for k, v := range params {
			form.Set(k, fmt.Sprint(v))
		}
		body = strings.NewReader(form.Encode())
	}

	reqCtx, cancel := context.WithTimeout(ctx, eng.RequestTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, tokenURL, body)
	if err != nil {
		return nil, fmt.Errorf("building token request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")
	if desc.TokenRequestAuthMethod == provider.TokenAuthBasic {
		httpReq.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(clientID+":"+clientSecret)))
	}

	resp, err := eng.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("calling token endpoint: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading token response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, string(raw))
	}

	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decoding token response: %w", err)
	}
	return out, nil
}

func parseOAuth2TokenResponse(resp map[string]any, now time.Time) (*connection.OAuth2Credentials, error) {
	accessToken, _ := resp["access_token"].(string)
	if accessToken == "" {
		return nil, fmt.Errorf("token response missing access_token")
	}
	creds := &connection.OAuth2Credentials{
		AccessToken:      accessToken,
		RefreshToken:     stringField(resp, "refresh_token"),
		TokenType:        stringField(resp, "token_type"),
		RawTokenResponse: resp,
	}
	if expiresIn, ok := numberField(resp, "expires_in"); ok {
		expiry := now.Add(time.Duration(expiresIn) * time.Second)
		creds.ExpiresAt = &expiry
	}
	return creds, nil
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func numberField(m map[string]any, key string) (float64, bool) {
	switch v := m[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}
