// Package provider holds the declarative, immutable metadata that
// describes how to talk to a third-party API, and the tenant-scoped
// binding of concrete client credentials to one such descriptor.
package provider

// AuthMode identifies which authorization handshake a provider uses.
type AuthMode string

const (
	OAuth1    AuthMode = "OAUTH1"
	OAuth2    AuthMode = "OAUTH2"
	OAuth2CC  AuthMode = "OAUTH2_CC"
	App       AuthMode = "APP"
	Custom    AuthMode = "CUSTOM"
	AppStore  AuthMode = "APP_STORE"
	Basic     AuthMode = "BASIC"
	APIKey    AuthMode = "API_KEY"
	JWT       AuthMode = "JWT"
	Signature AuthMode = "SIGNATURE"
	Tableau   AuthMode = "TABLEAU"
	TwoStep   AuthMode = "TWO_STEP"
	Bill      AuthMode = "BILL"
)

// Valid reports whether m is one of the supported auth modes.
func (m AuthMode) Valid() bool {
	switch m {
	case OAuth1, OAuth2, OAuth2CC, App, Custom, AppStore, Basic, APIKey, JWT, Signature, Tableau, TwoStep, Bill:
		return true
	default:
		return false
	}
}

// IsRedirectBased reports whether Start returns a redirect (as opposed
// to completing synchronously).
func (m AuthMode) IsRedirectBased() bool {
	switch m {
	case OAuth1, OAuth2, App, Custom, AppStore:
		return true
	default:
		return false
	}
}

// TokenAuthMethod controls how client credentials are attached to a
// token-exchange request.
type TokenAuthMethod string

const (
	TokenAuthBasic TokenAuthMethod = "basic"
	TokenAuthBody  TokenAuthMethod = "body"
)

// BodyFormat controls how a token-exchange request body is encoded.
type BodyFormat string

const (
	BodyFormatForm BodyFormat = "form"
	BodyFormatJSON BodyFormat = "json"
)

// VerificationProbe describes a provider-declared request used to
// confirm that newly minted non-OAuth credentials actually work.
type VerificationProbe struct {
	Method   string            `yaml:"method" json:"method"`
	Endpoint string            `yaml:"endpoint" json:"endpoint"`
	Headers  map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	BaseURL  string            `yaml:"base_url,omitempty" json:"base_url,omitempty"`
}

// Proxy holds the subset of proxy-layer configuration the broker itself
// needs to know about (the proxy layer proper is out of scope).
type Proxy struct {
	Verification *VerificationProbe `yaml:"verification,omitempty" json:"verification,omitempty"`
}

// Descriptor is the immutable, per-provider metadata loaded from
// declarative configuration (providers.yaml). Every string field that
// may contain "${...}" tokens is resolved at use-time against the
// union of connection-config, tenant config and session
// (see internal/authbroker/template).
type Descriptor struct {
	Alias string `yaml:"alias,omitempty" json:"alias,omitempty"`

	AuthMode AuthMode `yaml:"auth_mode" json:"auth_mode"`

	// AuthorizationURL and TokenURL may either be a plain string or,
	// for providers whose authorize/token hosts differ per auth mode,
	// a map keyed by auth mode name. URLMapping.Resolve normalizes both.
	AuthorizationURL URLMapping `yaml:"authorization_url" json:"authorization_url"`
	TokenURL         URLMapping `yaml:"token_url" json:"token_url"`
	RefreshURL       URLMapping `yaml:"refresh_url,omitempty" json:"refresh_url,omitempty"`

	AuthorizationParams         map[string]any    `yaml:"authorization_params,omitempty" json:"authorization_params,omitempty"`
	TokenParams                 map[string]any    `yaml:"token_params,omitempty" json:"token_params,omitempty"`
	RefreshParams                map[string]any    `yaml:"refresh_params,omitempty" json:"refresh_params,omitempty"`
	AuthorizationURLReplacements map[string]string `yaml:"authorization_url_replacements,omitempty" json:"authorization_url_replacements,omitempty"`
	RedirectURIMetadata          []string          `yaml:"redirect_uri_metadata,omitempty" json:"redirect_uri_metadata,omitempty"`
	TokenResponseMetadata        []string          `yaml:"token_response_metadata,omitempty" json:"token_response_metadata,omitempty"`

	TokenURLEncode         bool `yaml:"token_url_encode,omitempty" json:"token_url_encode,omitempty"`
	AuthorizationURLEncode bool `yaml:"authorization_url_encode,omitempty" json:"authorization_url_encode,omitempty"`
	DisablePKCE            bool `yaml:"disable_pkce,omitempty" json:"disable_pkce,omitempty"`
	AuthorizationURLFrag   bool `yaml:"authorization_url_fragment,omitempty" json:"authorization_url_fragment,omitempty"`

	TokenRequestAuthMethod TokenAuthMethod `yaml:"token_request_auth_method,omitempty" json:"token_request_auth_method,omitempty"`
	BodyFormat             BodyFormat      `yaml:"body_format,omitempty" json:"body_format,omitempty"`
	ScopeSeparator         string          `yaml:"scope_separator,omitempty" json:"scope_separator,omitempty"`

	Proxy                *Proxy `yaml:"proxy,omitempty" json:"proxy,omitempty"`
	WebhookRoutingScript string `yaml:"webhook_routing_script,omitempty" json:"webhook_routing_script,omitempty"`
	PostConnectScript    string `yaml:"post_connect_script,omitempty" json:"post_connect_script,omitempty"`
}

// EffectiveScopeSeparator returns the configured separator, defaulting
// to a single space as every example OAuth2 provider expects.
func (d *Descriptor) EffectiveScopeSeparator() string {
	if d.ScopeSeparator != "" {
		return d.ScopeSeparator
	}
	return " "
}

// URLMapping supports a plain-string URL or a per-auth-mode map, as
// providers.yaml may declare either shape for auth/token hosts.
type URLMapping struct {
	Plain string
	ByAuthMode map[AuthMode]string
}

// Resolve returns the URL applicable to mode, or the plain URL if no
// per-mode mapping was declared.
func (u URLMapping) Resolve(mode AuthMode) (string, bool) {
	if u.Plain != "" {
		return u.Plain, true
	}
	if u.ByAuthMode == nil {
		return "", false
	}
	url, ok := u.ByAuthMode[mode]
	return url, ok
}

// UnmarshalYAML supports both "token_url: https://..." and
// "token_url: {OAUTH2: https://..., OAUTH2_CC: https://...}".
func (u *URLMapping) UnmarshalYAML(unmarshal func(any) error) error {
	var plain string
	if err := unmarshal(&plain); err == nil {
		u.Plain = plain
		return nil
	}
	var mapped map[AuthMode]string
	if err := unmarshal(&mapped); err != nil {
		return err
	}
	u.ByAuthMode = mapped
	return nil
}

// IntegrationConfig is a tenant's binding of a provider descriptor to
// concrete client credentials and overrides.
type IntegrationConfig struct {
	ProviderConfigKey string         `json:"provider_config_key"`
	Provider          string         `json:"provider"`
	OAuthClientID     string         `json:"oauth_client_id"`
	OAuthClientSecret string         `json:"oauth_client_secret"`
	OAuthScopes       string         `json:"oauth_scopes"`
	AppLink           string         `json:"app_link,omitempty"`
	Custom            map[string]any `json:"custom,omitempty"`
}

// Registry is the read-only lookup the broker consumes for provider
// descriptors and tenant integration config. Its concrete storage
// (database, file, remote service) is an external collaborator; this
// package only defines the contract plus a YAML-file-backed default
// implementation (see registry_yaml.go).
type Registry interface {
	GetDescriptor(providerID string) (*Descriptor, error)
	GetIntegrationConfig(environmentID, providerConfigKey string) (*IntegrationConfig, error)
}

// ErrUnknownProvider is returned by a Registry when asked for a
// provider id it has no descriptor (or alias) for.
type ErrUnknownProvider struct {
	ProviderID string
}

func (e *ErrUnknownProvider) Error() string {
	return "unknown provider template: " + e.ProviderID
}

// ErrUnknownProviderConfig is returned when the tenant has no
// IntegrationConfig bound to the given provider_config_key.
type ErrUnknownProviderConfig struct {
	ProviderConfigKey string
}

func (e *ErrUnknownProviderConfig) Error() string {
	return "unknown provider config: " + e.ProviderConfigKey
}
