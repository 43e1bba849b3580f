// Package flow implements the auth flow engine: one driver per
// auth_mode, dispatched from a single registry keyed on credential
// type.
package flow

import (
	"context"
	"net/http"
	"time"

	"github.com/gorax/gorax/internal/authbroker/connection"
	"github.com/gorax/gorax/internal/authbroker/errcode"
	"github.com/gorax/gorax/internal/authbroker/provider"
	"github.com/gorax/gorax/internal/authbroker/session"
)

// StartRequest carries everything needed to begin an authorization
// attempt, for both redirect-based and synchronous auth modes.
type StartRequest struct {
	EnvironmentID     string
	ProviderConfigKey string
	ConnectionID      string
	CallbackURL       string
	ConnectionConfig  map[string]any
	AuthorizationParamsOverride map[string]any
	WebSocketClientID string
	ActivityLogID     string

	// ClientIDOverride/ClientSecretOverride let a single connection
	// bring its own OAuth app credentials instead of the integration's
	// configured defaults. Empty means "use the integration default".
	ClientIDOverride     string
	ClientSecretOverride string

	// RawCredentialInput carries the caller-supplied secret material
	// for non-redirect modes and OAUTH2_CC (api key, basic user/pass,
	// jwt signing key, etc).
	RawCredentialInput map[string]any
}

// StartResult is the outcome of Start: exactly one of Redirect or
// Connection is populated.
type StartResult struct {
	Redirect   string
	Connection *connection.Connection
	Pending    bool
}

// FinishRequest carries the OAuth callback parameters.
type FinishRequest struct {
	State            string
	Code             string
	Error            string
	OAuthToken       string // OAuth1
	OAuthVerifier    string // OAuth1
	CallbackMetadata map[string]any
}

// Driver implements the per-auth-mode start/finish contract. Drivers
// for synchronous modes (OAUTH2_CC, non-redirect modes) complete the
// whole exchange inside Start and leave Finish unimplemented.
//
// Finish receives the already-consumed Session (see Engine.Finish):
// the single findAndDelete call that gates the at-most-once callback
// transition lives in the engine, not in each driver, so every
// redirect-based driver shares the same commit point.
type Driver interface {
	Start(ctx context.Context, eng *Engine, desc *provider.Descriptor, cfg *provider.IntegrationConfig, req *StartRequest) (*StartResult, error)
	Finish(ctx context.Context, eng *Engine, desc *provider.Descriptor, cfg *provider.IntegrationConfig, sess *session.Session, req *FinishRequest) (*connection.Connection, error)
}

// Hooks is the narrow surface the engine needs from the
// post-connection hook runner (internal/authbroker/hooks), kept as an
// interface here to avoid an import cycle. postConnectScript is the
// provider descriptor's tenant-defined script, if any (empty means
// "no script configured for this provider").
type Hooks interface {
	Run(ctx context.Context, c *connection.Connection, operation, postConnectScript string) error
}

// Notifier is the narrow surface needed from internal/authbroker/notify.
type Notifier interface {
	ConnectionSucceeded(ctx context.Context, c *connection.Connection, operation string)
	ConnectionFailed(ctx context.Context, c *connection.Connection, code errcode.Code, err error)
}

// Prober is the narrow surface needed from internal/authbroker/probe.
type Prober interface {
	Verify(ctx context.Context, d *provider.Descriptor, c *connection.Connection) *errcode.Error
}

// Engine wires the provider registry and persistence collaborators
// together and dispatches to the registered per-mode Driver.
type Engine struct {
	Registry   provider.Registry
	Sessions   session.Store
	Connections connection.Store
	Hooks      Hooks
	Notifier   Notifier
	Prober     Prober
	HTTPClient *http.Client

	SessionTTL   time.Duration
	RequestTimeout time.Duration

	Now func() time.Time

	drivers map[provider.AuthMode]Driver
}

// NewEngine builds an Engine with the default driver set (every
// supported auth mode registered).
func NewEngine(registry provider.Registry, sessions session.Store, connections connection.Store, hooks Hooks, notifier Notifier, prober Prober, httpClient *http.Client) *Engine {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	e := &Engine{
		Registry:       registry,
		Sessions:       sessions,
		Connections:    connections,
		Hooks:          hooks,
		Notifier:       notifier,
		Prober:         prober,
		HTTPClient:     httpClient,
		SessionTTL:     session.DefaultTTL,
		RequestTimeout: 30 * time.Second,
		Now:            time.Now,
	}
	e.drivers = map[provider.AuthMode]Driver{
		provider.OAuth2:    &OAuth2Driver{},
		provider.Custom:    &OAuth2Driver{},
		provider.OAuth2CC:  &OAuth2CCDriver{},
		provider.OAuth1:    &OAuth1Driver{},
		provider.App:       &AppInstallDriver{},
		provider.AppStore:  &AppInstallDriver{},
	}
	for _, mode := range []provider.AuthMode{
		provider.APIKey, provider.Basic, provider.JWT, provider.Signature,
		provider.Tableau, provider.TwoStep, provider.Bill,
	} {
		e.drivers[mode] = &NonRedirectDriver{Mode: mode}
	}
	return e
}

func (e *Engine) driverFor(mode provider.AuthMode) (Driver, *errcode.Error) {
	d, ok := e.drivers[mode]
	if !ok {
		return nil, errcode.New(errcode.InvalidAuthMode, "no driver registered for auth mode "+string(mode))
	}
	return d, nil
}

// Start dispatches req to the driver registered for providerConfigKey's
// configured auth mode.
func (e *Engine) Start(ctx context.Context, req *StartRequest) (*StartResult, *errcode.Error) {
	cfg, err := e.Registry.GetIntegrationConfig(req.EnvironmentID, req.ProviderConfigKey)
	if err != nil {
		return nil, errcode.New(errcode.UnknownProviderConfig, err.Error())
	}
	desc, err := e.Registry.GetDescriptor(cfg.Provider)
	if err != nil {
		return nil, errcode.New(errcode.UnknownProviderTpl, err.Error())
	}
	driver, derr := e.driverFor(desc.AuthMode)
	if derr != nil {
		return nil, derr
	}

	result, goErr := driver.Start(ctx, e, desc, cfg, req)
	if goErr != nil {
		if ae, ok := errcode.As(goErr); ok {
			return nil, ae
		}
		return nil, errcode.Wrap(errcode.UnknownError, "starting auth flow", goErr)
	}
	return result, nil
}

// Finish consumes the session named by req.State — the single
// findAndDelete call that makes the AWAITING_CALLBACK → EXCHANGING
// transition at-most-once — then dispatches to the driver registered
// for the session's recorded auth mode.
func (e *Engine) Finish(ctx context.Context, req *FinishRequest) (*connection.Connection, *errcode.Error) {
	sess, err := e.Sessions.FindAndDelete(ctx, req.State)
	if err != nil {
		return nil, errcode.New(errcode.InvalidState, "oauth session not found or already consumed")
	}

	driver, derr := e.driverFor(sess.AuthMode)
	if derr != nil {
		return nil, derr
	}
	cfg, cfgErr := e.Registry.GetIntegrationConfig(sess.EnvironmentID, sess.ProviderConfigKey)
	if cfgErr != nil {
		return nil, errcode.New(errcode.UnknownProviderConfig, cfgErr.Error())
	}
	desc, descErr := e.Registry.GetDescriptor(cfg.Provider)
	if descErr != nil {
		return nil, errcode.New(errcode.UnknownProviderTpl, descErr.Error())
	}
	c, goErr := driver.Finish(ctx, e, desc, cfg, sess, req)
	if goErr != nil {
		if ae, ok := errcode.As(goErr); ok {
			return nil, ae
		}
		return nil, errcode.Wrap(errcode.UnknownError, "finishing auth flow", goErr)
	}
	return c, nil
}
