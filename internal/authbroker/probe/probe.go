// Package probe implements the verification prober: firing a
// provider-declared request immediately after a non-redirect
// credential is minted, so a typo'd API key fails fast instead of
// surfacing as a mysterious sync failure hours later.
package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/gorax/gorax/internal/authbroker/connection"
	"github.com/gorax/gorax/internal/authbroker/errcode"
	"github.com/gorax/gorax/internal/authbroker/provider"
)

// CredentialInjector applies c's credentials to an outgoing probe
// request the way the (out-of-scope) proxy layer would for a real
// data-plane call — one function per non-redirect auth mode, kept
// narrow since the prober only ever issues GET/HEAD-style checks.
type CredentialInjector func(req *http.Request, c *connection.Connection)

// DefaultInjectors covers every non-redirect auth mode with the
// header/param shape its provider descriptor declares.
func DefaultInjectors() map[provider.AuthMode]CredentialInjector {
	return map[provider.AuthMode]CredentialInjector{
		provider.APIKey: func(req *http.Request, c *connection.Connection) {
			if c.Credentials == nil || c.Credentials.ApiKey == nil {
				return
			}
			req.Header.Set("Authorization", "Bearer "+c.Credentials.ApiKey.APIKey)
		},
		provider.Basic: func(req *http.Request, c *connection.Connection) {
			if c.Credentials == nil || c.Credentials.Basic == nil {
				return
			}
			req.SetBasicAuth(c.Credentials.Basic.Username, c.Credentials.Basic.Password)
		},
		provider.Tableau: func(req *http.Request, c *connection.Connection) {
			if c.Credentials == nil || c.Credentials.Tableau == nil {
				return
			}
			req.Header.Set("X-Tableau-Auth", c.Credentials.Tableau.PatSecret)
		},
		provider.JWT: func(req *http.Request, c *connection.Connection) {
			if c.Credentials == nil || c.Credentials.Jwt == nil {
				return
			}
			assertion, err := mintJWTAssertion(c.Credentials.Jwt)
			if err != nil {
				return
			}
			req.Header.Set("Authorization", "Bearer "+assertion)
		},
	}
}

// mintJWTAssertion signs a short-lived RS256 assertion from the
// stored private key, the way the private-key JWT auth mode expects
// to authenticate every request (e.g. Google service-account style
// bearer tokens), rather than replaying a static credential.
func mintJWTAssertion(creds *connection.JwtCredentials) (string, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(creds.PrivateKey))
	if err != nil {
		return "", fmt.Errorf("parsing JWT private key: %w", err)
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"iss": creds.Issuer,
		"iat": now.Unix(),
		"exp": now.Add(5 * time.Minute).Unix(),
	}
	if creds.Subject != "" {
		claims["sub"] = creds.Subject
	}
	if creds.Audience != "" {
		claims["aud"] = creds.Audience
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if creds.PrivateKeyID != "" {
		token.Header["kid"] = creds.PrivateKeyID
	}
	return token.SignedString(key)
}

// ProxyClient is the narrow HTTP surface the prober needs, so callers
// can substitute an instrumented or rate-limited client.
type ProxyClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Prober implements flow.Prober / refresh-adjacent verification: any
// 2xx response from the provider's declared verification endpoint is
// success, anything else (including a transport error) is
// connection_test_failed.
type Prober struct {
	Client    ProxyClient
	Injectors map[provider.AuthMode]CredentialInjector
	Timeout   time.Duration
}

func NewProber(client ProxyClient) *Prober {
	if client == nil {
		client = http.DefaultClient
	}
	return &Prober{Client: client, Injectors: DefaultInjectors(), Timeout: 15 * time.Second}
}

// Verify fires d.Proxy.Verification against c's credentials. A
// descriptor with no Proxy.Verification configured is never probed.
func (p *Prober) Verify(ctx context.Context, d *provider.Descriptor, c *connection.Connection) *errcode.Error {
	if d.Proxy == nil || d.Proxy.Verification == nil {
		return nil
	}
	vp := d.Proxy.Verification

	endpoint := vp.Endpoint
	if vp.BaseURL != "" && !strings.HasPrefix(endpoint, "http") {
		endpoint = strings.TrimRight(vp.BaseURL, "/") + "/" + strings.TrimLeft(endpoint, "/")
	}

	method := vp.Method
	if method == "" {
		method = http.MethodGet
	}

	reqCtx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, method, endpoint, nil)
	if err != nil {
		return errcode.Wrap(errcode.ConnectionTestFailed, "building verification request", err)
	}
	for k, v := range vp.Headers {
		req.Header.Set(k, v)
	}
	if injector, ok := p.Injectors[c.AuthMode]; ok {
		injector(req, c)
	}

	resp, err := p.Client.Do(req)
	if err != nil {
		return errcode.Wrap(errcode.ConnectionTestFailed, "calling verification endpoint", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errcode.New(errcode.ConnectionTestFailed, fmt.Sprintf("verification endpoint returned %d", resp.StatusCode))
	}
	return nil
}
