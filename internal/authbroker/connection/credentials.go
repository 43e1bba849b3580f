// Package connection implements the credential store: a tagged union
// of per-auth-mode credential shapes, persisted at rest behind the
// envelope-encryption scheme in internal/credential.
package connection

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorax/gorax/internal/authbroker/provider"
)

// OAuth2Credentials holds the bearer-token state for OAUTH2 and
// OAUTH2_CC connections.
type OAuth2Credentials struct {
	AccessToken  string         `json:"access_token"`
	RefreshToken string         `json:"refresh_token,omitempty"`
	TokenType    string         `json:"token_type,omitempty"`
	ExpiresAt    *time.Time     `json:"expires_at,omitempty"`
	RawTokenResponse map[string]any `json:"raw_token_response,omitempty"`

	// ClientID/ClientSecret are persisted only when the originating
	// session overrode the integration's configured app credentials;
	// the refresh coordinator must keep using them rather than falling
	// back to the integration default.
	ClientIDOverride     string `json:"client_id_override,omitempty"`
	ClientSecretOverride string `json:"client_secret_override,omitempty"`
}

func (c *OAuth2Credentials) NeedsRefresh(now time.Time, skew time.Duration) bool {
	if c.ExpiresAt == nil {
		return false
	}
	return now.Add(skew).After(*c.ExpiresAt)
}

// OAuth1Credentials holds the token/secret pair from the OAuth1
// three-legged handshake (RFC 5849 §2.3).
type OAuth1Credentials struct {
	OAuthToken       string `json:"oauth_token"`
	OAuthTokenSecret string `json:"oauth_token_secret"`
}

// ApiKeyCredentials is a bare API key, injected per the provider
// descriptor's proxy header/query template.
type ApiKeyCredentials struct {
	APIKey string `json:"api_key"`
}

// BasicCredentials is HTTP Basic username/password.
type BasicCredentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// TbaCredentials is token-based auth (e.g. NetSuite TBA): a
// consumer/token key-secret pair signed the same way as OAuth1.
type TbaCredentials struct {
	ConsumerKey    string `json:"consumer_key"`
	ConsumerSecret string `json:"consumer_secret"`
	TokenID        string `json:"token_id"`
	TokenSecret    string `json:"token_secret"`
}

// JwtCredentials holds the parameters needed to mint a signed JWT
// assertion on every request (private-key JWT auth mode).
type JwtCredentials struct {
	PrivateKeyID string `json:"private_key_id"`
	PrivateKey   string `json:"private_key"`
	Issuer       string `json:"issuer"`
	Subject      string `json:"subject,omitempty"`
	Audience     string `json:"audience,omitempty"`
}

// SignatureCredentials carries an arbitrary shared secret used to
// compute a provider-specific request signature.
type SignatureCredentials struct {
	SecretKey string `json:"secret_key"`
}

// TableauCredentials holds a Personal Access Token pair for
// Tableau's auth mode.
type TableauCredentials struct {
	PatName   string `json:"pat_name"`
	PatSecret string `json:"pat_secret"`
	ContentURL string `json:"content_url,omitempty"`
}

// BillCredentials is the Bill.com session/dev-key pair.
type BillCredentials struct {
	DevKey     string `json:"dev_key"`
	Username   string `json:"username"`
	Password   string `json:"password"`
	OrgID      string `json:"org_id"`
	SessionID  string `json:"session_id,omitempty"`
}

// AppStoreCredentials carries an Apple App Store Connect API key.
type AppStoreCredentials struct {
	KeyID       string `json:"key_id"`
	IssuerID    string `json:"issuer_id"`
	PrivateKey  string `json:"private_key"`
}

// TwoStepCredentials captures an arbitrary multi-request login
// sequence's resulting session token, alongside the field values
// used to obtain it (so the flow can be repeated on expiry).
type TwoStepCredentials struct {
	SessionToken string         `json:"session_token"`
	LoginFields  map[string]any `json:"login_fields,omitempty"`
}

// Credentials is the tagged union stored, encrypted, against a
// Connection. Exactly one of the typed fields is populated, selected
// by Mode.
type Credentials struct {
	Mode provider.AuthMode

	OAuth2    *OAuth2Credentials
	OAuth1    *OAuth1Credentials
	ApiKey    *ApiKeyCredentials
	Basic     *BasicCredentials
	Tba       *TbaCredentials
	Jwt       *JwtCredentials
	Signature *SignatureCredentials
	Tableau   *TableauCredentials
	Bill      *BillCredentials
	AppStore  *AppStoreCredentials
	TwoStep   *TwoStepCredentials
}

// payload is the wire shape serialized before encryption: a type tag
// plus the single populated variant, flattened into one map so it
// round-trips through credential.CredentialData.Value (map[string]any).
type payload struct {
	Mode  provider.AuthMode `json:"mode"`
	Value json.RawMessage   `json:"value"`
}

// ToMap renders the tagged union into the map[string]any shape the
// envelope-encryption layer (credential.CredentialData) expects as
// its plaintext value.
func (c *Credentials) ToMap() (map[string]any, error) {
	var variant any
	switch c.Mode {
	case provider.OAuth2, provider.OAuth2CC:
		variant = c.OAuth2
	case provider.OAuth1:
		variant = c.OAuth1
	case provider.APIKey:
		variant = c.ApiKey
	case provider.Basic:
		variant = c.Basic
	case provider.App, provider.Custom, provider.AppStore:
		if c.AppStore != nil {
			variant = c.AppStore
		} else if c.OAuth2 != nil {
			variant = c.OAuth2
		} else {
			variant = c.Tba
		}
	case provider.JWT:
		variant = c.Jwt
	case provider.Signature:
		variant = c.Signature
	case provider.Tableau:
		variant = c.Tableau
	case provider.TwoStep:
		variant = c.TwoStep
	case provider.Bill:
		variant = c.Bill
	default:
		return nil, fmt.Errorf("unknown auth mode %q for credentials payload", c.Mode)
	}
	if variant == nil {
		return nil, fmt.Errorf("no credential variant populated for auth mode %q", c.Mode)
	}

	raw, err := json.Marshal(variant)
	if err != nil {
		return nil, fmt.Errorf("marshaling credential variant: %w", err)
	}
	p := payload{Mode: c.Mode, Value: raw}
	encoded, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshaling credential payload: %w", err)
	}

	var out map[string]any
	if err := json.Unmarshal(encoded, &out); err != nil {
		return nil, fmt.Errorf("flattening credential payload: %w", err)
	}
	return out, nil
}

// FromMap reconstructs a Credentials union from the plaintext map
// produced by the encryption layer's Decrypt call.
func FromMap(m map[string]any) (*Credentials, error) {
	encoded, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("re-marshaling credential payload: %w", err)
	}
	var p payload
	if err := json.Unmarshal(encoded, &p); err != nil {
		return nil, fmt.Errorf("unmarshaling credential payload: %w", err)
	}

	c := &Credentials{Mode: p.Mode}
	var target any
	switch p.Mode {
	case provider.OAuth2, provider.OAuth2CC:
		c.OAuth2 = &OAuth2Credentials{}
		target = c.OAuth2
	case provider.OAuth1:
		c.OAuth1 = &OAuth1Credentials{}
		target = c.OAuth1
	case provider.APIKey:
		c.ApiKey = &ApiKeyCredentials{}
		target = c.ApiKey
	case provider.Basic:
		c.Basic = &BasicCredentials{}
		target = c.Basic
	case provider.JWT:
		c.Jwt = &JwtCredentials{}
		target = c.Jwt
	case provider.Signature:
		c.Signature = &SignatureCredentials{}
		target = c.Signature
	case provider.Tableau:
		c.Tableau = &TableauCredentials{}
		target = c.Tableau
	case provider.TwoStep:
		c.TwoStep = &TwoStepCredentials{}
		target = c.TwoStep
	case provider.Bill:
		c.Bill = &BillCredentials{}
		target = c.Bill
	case provider.App, provider.Custom, provider.AppStore:
		c.AppStore = &AppStoreCredentials{}
		target = c.AppStore
	default:
		return nil, fmt.Errorf("unknown auth mode %q in stored credential payload", p.Mode)
	}

	if len(p.Value) > 0 {
		if err := json.Unmarshal(p.Value, target); err != nil {
			return nil, fmt.Errorf("unmarshaling credential variant: %w", err)
		}
	}
	return c, nil
}
