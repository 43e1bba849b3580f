package flow

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/gorax/gorax/internal/authbroker/connection"
	"github.com/gorax/gorax/internal/authbroker/errcode"
	"github.com/gorax/gorax/internal/authbroker/provider"
	"github.com/gorax/gorax/internal/authbroker/session"
)

// OAuth1Driver implements the OAUTH1 auth mode: the RFC 5849
// three-legged dance. Signing is hand rolled on crypto/hmac+sha1
// rather than pulling in a dedicated OAuth1 library, following the
// same request/token flow shape the OAuth2 driver uses.
type OAuth1Driver struct{}

func (d *OAuth1Driver) Start(ctx context.Context, eng *Engine, desc *provider.Descriptor, cfg *provider.IntegrationConfig, req *StartRequest) (*StartResult, error) {
	requestTokenURL, ok := desc.TokenURL.Resolve(desc.AuthMode)
	if !ok {
		return nil, errcode.New(errcode.UnknownProviderTpl, "provider has no request token url for OAUTH1")
	}
	authorizeBase, ok := desc.AuthorizationURL.Resolve(desc.AuthMode)
	if !ok {
		return nil, errcode.New(errcode.UnknownProviderTpl, "provider has no authorization_url for OAUTH1")
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

	clientID := cfg.OAuthClientID
	clientSecret := cfg.OAuthClientSecret
	if req.ClientIDOverride != "" {
		clientID = req.ClientIDOverride
	}
	if req.ClientSecretOverride != "" {
		clientSecret = req.ClientSecretOverride
	}

	callback := req.CallbackURL + "?state=" + url.QueryEscape(sess.ID)
	params := map[string]string{"oauth_callback": callback}

	resp, err := doOAuth1Request(ctx, eng, http.MethodPost, requestTokenURL, clientID, clientSecret, "", "", params)
	if err != nil {
		return nil, errcode.Wrap(errcode.InvalidCallbackOAuth1, "requesting OAuth1 request token", err)
	}
	values, err := url.ParseQuery(resp)
	if err != nil {
		return nil, errcode.Wrap(errcode.InvalidCallbackOAuth1, "parsing request token response", err)
	}
	if values.Get("oauth_callback_confirmed") != "true" {
		return nil, errcode.New(errcode.InvalidCallbackOAuth1, "provider did not confirm oauth_callback")
	}
	requestToken := values.Get("oauth_token")
	requestTokenSecret := values.Get("oauth_token_secret")
	if requestToken == "" {
		return nil, errcode.New(errcode.InvalidCallbackOAuth1, "request token response missing oauth_token")
	}
	sess.RequestTokenSecret = requestTokenSecret

	if err := eng.Sessions.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("persisting session: %w", err)
	}

	query := url.Values{}
	query.Set("oauth_token", requestToken)
	redirect := buildAuthorizeURL(authorizeBase, query, desc.AuthorizationURLFrag, desc.AuthorizationURLReplacements)
	return &StartResult{Redirect: redirect}, nil
}

func (d *OAuth1Driver) Finish(ctx context.Context, eng *Engine, desc *provider.Descriptor, cfg *provider.IntegrationConfig, sess *session.Session, req *FinishRequest) (*connection.Connection, error) {
	if req.OAuthToken == "" || req.OAuthVerifier == "" {
		return nil, errcode.New(errcode.InvalidCallbackOAuth1, "callback missing oauth_token or oauth_verifier")
	}

	accessTokenURL, ok := desc.RefreshURL.Resolve(desc.AuthMode)
	if !ok {
		accessTokenURL, ok = desc.TokenURL.Resolve(desc.AuthMode)
	}
	if !ok {
		return nil, errcode.New(errcode.UnknownProviderTpl, "provider has no access token url for OAUTH1")
	}

	clientID := cfg.OAuthClientID
	clientSecret := cfg.OAuthClientSecret
	if sess.ClientIDOverride != "" {
		clientID = sess.ClientIDOverride
	}
	if sess.ClientSecretOverride != "" {
		clientSecret = sess.ClientSecretOverride
	}

	params := map[string]string{"oauth_verifier": req.OAuthVerifier}
	resp, err := doOAuth1Request(ctx, eng, http.MethodPost, accessTokenURL, clientID, clientSecret, req.OAuthToken, sess.RequestTokenSecret, params)
	if err != nil {
		return nil, errcode.Wrap(errcode.TokenExternalError, "exchanging OAuth1 access token", err)
	}
	values, err := url.ParseQuery(resp)
	if err != nil {
		return nil, errcode.Wrap(errcode.TokenParsingError, "parsing access token response", err)
	}
	accessToken := values.Get("oauth_token")
	accessTokenSecret := values.Get("oauth_token_secret")
	if accessToken == "" || accessTokenSecret == "" {
		return nil, errcode.New(errcode.TokenParsingError, "access token response missing oauth_token/oauth_token_secret")
	}

	c := &connection.Connection{
		EnvironmentID:     sess.EnvironmentID,
		ProviderConfigKey: sess.ProviderConfigKey,
		ConnectionID:      sess.ConnectionID,
		Provider:          sess.Provider,
		AuthMode:          desc.AuthMode,
		Credentials: &connection.Credentials{
			Mode: provider.OAuth1,
			OAuth1: &connection.OAuth1Credentials{
				OAuthToken:       accessToken,
				OAuthTokenSecret: accessTokenSecret,
			},
		},
		ConnectionConfig: sess.ConnectionConfig,
		Status:           connection.StatusActive,
	}
	c.ClearError()

	operation := "creation"
	if existing, err := eng.Connections.Get(ctx, c.EnvironmentID, c.ProviderConfigKey, c.ConnectionID); err == nil && existing != nil {
		operation = "refresh"
	}
	if err := finalizeConnection(ctx, eng, c, operation, desc); err != nil {
		return nil, err
	}
	return c, nil
}

// doOAuth1Request signs and executes a single RFC 5849 HMAC-SHA1
// request, returning the raw response body (providers return
// form-encoded token responses, not JSON, for the request/access
// token legs).
func doOAuth1Request(ctx context.Context, eng *Engine, method, endpoint, consumerKey, consumerSecret, token, tokenSecret string, extra map[string]string) (string, error) {
	oauthParams := map[string]string{
		"oauth_consumer_key":     consumerKey,
		"oauth_nonce":            oauth1Nonce(),
		"oauth_signature_method": "HMAC-SHA1",
		"oauth_timestamp":        fmt.Sprintf("%d", eng.Now().Unix()),
		"oauth_version":          "1.0",
	}
	if token != "" {
		oauthParams["oauth_token"] = token
	}
	for k, v := range extra {
		oauthParams["oauth_"+strings.TrimPrefix(k, "oauth_")] = v
	}

	signature := oauth1Signature(method, endpoint, oauthParams, consumerSecret, tokenSecret)
	oauthParams["oauth_signature"] = signature

	var header strings.Builder
	header.WriteString("OAuth ")
	keys := make([]string, 0, len(oauthParams))
	for k := range oauthParams {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for i, k := range keys {
		if i > 0 {
			header.WriteString(", ")
		}
		fmt.Fprintf(&header, `%s="%s"`, oauth1Encode(k), oauth1Encode(oauthParams[k]))
	}

	reqCtx, cancel := context.WithTimeout(ctx, eng.RequestTimeout)
	defer cancel()
	httpReq, err := http.NewRequestWithContext(reqCtx, method, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("building oauth1 request: %w", err)
	}
	httpReq.Header.Set("Authorization", header.String())

	resp, err := eng.HTTPClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("calling oauth1 endpoint: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading oauth1 response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("oauth1 endpoint returned %d: %s", resp.StatusCode, string(raw))
	}
	return string(bytes.TrimSpace(raw)), nil
}

// oauth1Signature builds the RFC 5849 §3.4.2 signature base string and
// returns the base64 HMAC-SHA1 digest.
func oauth1Signature(method, endpoint string, oauthParams map[string]string, consumerSecret, tokenSecret string) string {
	u, _ := url.Parse(endpoint)
	baseURL := fmt.Sprintf("%s://%s%s", u.Scheme, u.Host, u.Path)

	all := map[string]string{}
	for k, v := range oauthParams {
		all[k] = v
	}
	for k, vs := range u.Query() {
		if len(vs) > 0 {
			all[k] = vs[0]
		}
	}

	keys := make([]string, 0, len(all))
	for k := range all {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var params strings.Builder
	for i, k := range keys {
		if i > 0 {
			params.WriteString("&")
		}
		fmt.Fprintf(&params, "%s=%s", oauth1Encode(k), oauth1Encode(all[k]))
	}

	baseString := strings.Join([]string{
		method,
		oauth1Encode(baseURL),
		oauth1Encode(params.String()),
	}, "&")

	signingKey := oauth1Encode(consumerSecret) + "&" + oauth1Encode(tokenSecret)
	mac := hmac.New(sha1.New, []byte(signingKey))
	mac.Write([]byte(baseString))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// oauth1Encode applies the RFC 5849 §3.6 percent-encoding rules, which
// are stricter than url.QueryEscape (space -> %20, not +).
func oauth1Encode(s string) string {
	escaped := url.QueryEscape(s)
	escaped = strings.ReplaceAll(escaped, "+", "%20")
	return escaped
}

func oauth1Nonce() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
