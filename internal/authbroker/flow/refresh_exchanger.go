package flow

import (
	"context"
	"net/http"
	"time"

	"github.com/gorax/gorax/internal/authbroker/connection"
	"github.com/gorax/gorax/internal/authbroker/errcode"
	"github.com/gorax/gorax/internal/authbroker/provider"
)

// RefreshExchanger adapts the engine's token-exchange helpers into the
// refresh package's TokenExchanger interface, so the refresh
// coordinator reuses the exact same HTTP/auth-method/body-format logic
// as the initial OAuth2 code exchange instead of a second copy of it.
type RefreshExchanger struct {
	HTTPClient     *http.Client
	RequestTimeout time.Duration
	Now            func() time.Time
}

func NewRefreshExchanger(httpClient *http.Client, requestTimeout time.Duration) *RefreshExchanger {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}
	return &RefreshExchanger{HTTPClient: httpClient, RequestTimeout: requestTimeout, Now: time.Now}
}

func (r *RefreshExchanger) ExchangeRefreshToken(ctx context.Context, desc *provider.Descriptor, cfg *provider.IntegrationConfig, clientID, clientSecret, refreshToken string) (*connection.OAuth2Credentials, error) {
	tctx := buildTemplateContext(cfg, nil)

	params, err := interpolateParams("refresh_params", desc.RefreshParams, tctx)
	if err != nil {
		return nil, err
	}
	params["grant_type"] = "refresh_token"
	params["refresh_token"] = refreshToken

	tokenURL, ok := desc.RefreshURL.Resolve(desc.AuthMode)
	if !ok {
		tokenURL, ok = desc.TokenURL.Resolve(desc.AuthMode)
	}
	if !ok {
		return nil, errcode.New(errcode.UnknownProviderTpl, "provider has no refresh_url or token_url for refresh")
	}
	tokenURL, err = interpolateURL("refresh_url", tokenURL, tctx)
	if err != nil {
		return nil, err
	}

	eng := &Engine{HTTPClient: r.HTTPClient, RequestTimeout: r.RequestTimeout, Now: r.Now}
	resp, err := exchangeToken(ctx, eng, tokenURL, clientID, clientSecret, params, desc)
	if err != nil {
		return nil, err
	}
	return parseOAuth2TokenResponse(resp, r.Now())
}
