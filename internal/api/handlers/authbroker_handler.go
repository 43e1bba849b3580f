package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/gorax/gorax/internal/api/response"
	"github.com/gorax/gorax/internal/authbroker/connection"
	"github.com/gorax/gorax/internal/authbroker/errcode"
	"github.com/gorax/gorax/internal/authbroker/flow"
	"github.com/gorax/gorax/internal/authbroker/hmacguard"
	"github.com/gorax/gorax/internal/database"
)

// AuthBrokerHandler exposes the auth broker's redirect and
// synchronous-credential flows over HTTP, dispatching through a
// single flow.Engine instead of a per-provider service.
type AuthBrokerHandler struct {
	engine      *flow.Engine
	hmacEnabled bool
	hmacSecret  string
	logger      *slog.Logger
}

func NewAuthBrokerHandler(engine *flow.Engine, hmacEnabled bool, hmacSecret string, logger *slog.Logger) *AuthBrokerHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthBrokerHandler{engine: engine, hmacEnabled: hmacEnabled, hmacSecret: hmacSecret, logger: logger}
}

// verifyHMAC enforces the HMAC Guard ahead of any Start call when
// enabled: the caller must present the hex-encoded HMAC-SHA256 over
// providerConfigKey+connectionID computed with the shared secret.
func (h *AuthBrokerHandler) verifyHMAC(q url.Values, providerConfigKey, connectionID string) *errcode.Error {
	if !h.hmacEnabled {
		return nil
	}
	return hmacguard.Verify(h.hmacSecret, providerConfigKey, connectionID, q.Get("hmac"))
}

// Connect starts an authorization attempt for a provider config key.
// GET /oauth/connect/{providerConfigKey}
func (h *AuthBrokerHandler) Connect(w http.ResponseWriter, r *http.Request) {
	providerConfigKey := chi.URLParam(r, "providerConfigKey")
	q := r.URL.Query()

	if aerr := h.verifyHMAC(q, providerConfigKey, q.Get("connection_id")); aerr != nil {
		writeBrokerError(w, h.logger, aerr)
		return
	}

	req := &flow.StartRequest{
		EnvironmentID:        q.Get("environment_id"),
		ProviderConfigKey:    providerConfigKey,
		ConnectionID:         q.Get("connection_id"),
		CallbackURL:          q.Get("callback_url"),
		WebSocketClientID:    q.Get("ws_client_id"),
		ActivityLogID:        q.Get("activity_log_id"),
		ClientIDOverride:     q.Get("client_id"),
		ClientSecretOverride: q.Get("client_secret"),
	}
	if cfgJSON := q.Get("connection_config"); cfgJSON != "" {
		var cfg map[string]any
		if err := json.Unmarshal([]byte(cfgJSON), &cfg); err != nil {
			response.ValidationError(w, h.logger, "connection_config must be valid JSON", "connection_config")
			return
		}
		req.ConnectionConfig = cfg
	}

	ctx := database.TenantScoped(r.Context(), req.EnvironmentID)
	result, aerr := h.engine.Start(ctx, req)
	if aerr != nil {
		writeBrokerError(w, h.logger, aerr)
		return
	}

	if result.Redirect != "" {
		http.Redirect(w, r, result.Redirect, http.StatusFound)
		return
	}
	response.Data(w, h.logger, http.StatusOK, connectionView(result.Connection, result.Pending))
}

// ConnectSync completes the OAUTH2_CC client-credentials grant
// synchronously, with no redirect leg.
// POST /oauth2/cc/{providerConfigKey}
func (h *AuthBrokerHandler) ConnectSync(w http.ResponseWriter, r *http.Request) {
	providerConfigKey := chi.URLParam(r, "providerConfigKey")

	var body struct {
		EnvironmentID    string         `json:"environment_id"`
		ConnectionID     string         `json:"connection_id"`
		ConnectionConfig map[string]any `json:"connection_config"`
		Credentials      map[string]any `json:"credentials"`
		ClientID         string         `json:"client_id"`
		ClientSecret     string         `json:"client_secret"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		response.BadRequest(w, h.logger, "invalid JSON body")
		return
	}
	if aerr := h.verifyHMAC(r.URL.Query(), providerConfigKey, body.ConnectionID); aerr != nil {
		writeBrokerError(w, h.logger, aerr)
		return
	}

	req := &flow.StartRequest{
		EnvironmentID:        body.EnvironmentID,
		ProviderConfigKey:    providerConfigKey,
		ConnectionID:         body.ConnectionID,
		ConnectionConfig:     body.ConnectionConfig,
		RawCredentialInput:   body.Credentials,
		ClientIDOverride:     body.ClientID,
		ClientSecretOverride: body.ClientSecret,
	}

	ctx := database.TenantScoped(r.Context(), req.EnvironmentID)
	result, aerr := h.engine.Start(ctx, req)
	if aerr != nil {
		writeBrokerError(w, h.logger, aerr)
		return
	}
	response.Data(w, h.logger, http.StatusOK, connectionView(result.Connection, result.Pending))
}

// APIAuth completes a non-redirect auth mode (API key, basic, JWT,
// signature, Tableau, two-step, Bill) synchronously from a JSON body.
// POST /api-auth/{providerConfigKey}
func (h *AuthBrokerHandler) APIAuth(w http.ResponseWriter, r *http.Request) {
	providerConfigKey := chi.URLParam(r, "providerConfigKey")

	var body struct {
		EnvironmentID    string         `json:"environment_id"`
		ConnectionID     string         `json:"connection_id"`
		ConnectionConfig map[string]any `json:"connection_config"`
		Credentials      map[string]any `json:"credentials"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		response.BadRequest(w, h.logger, "invalid JSON body")
		return
	}
	if aerr := h.verifyHMAC(r.URL.Query(), providerConfigKey, body.ConnectionID); aerr != nil {
		writeBrokerError(w, h.logger, aerr)
		return
	}

	req := &flow.StartRequest{
		EnvironmentID:      body.EnvironmentID,
		ProviderConfigKey:  providerConfigKey,
		ConnectionID:       body.ConnectionID,
		ConnectionConfig:   body.ConnectionConfig,
		RawCredentialInput: body.Credentials,
	}

	ctx := database.TenantScoped(r.Context(), req.EnvironmentID)
	result, aerr := h.engine.Start(ctx, req)
	if aerr != nil {
		writeBrokerError(w, h.logger, aerr)
		return
	}
	response.Data(w, h.logger, http.StatusOK, connectionView(result.Connection, result.Pending))
}

// Callback completes a redirect-based flow (OAuth1/OAuth2/APP/custom)
// started by Connect.
// GET /oauth/callback
func (h *AuthBrokerHandler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	// A GitHub App "Configure" callback (setup_action=update) means the
	// installing user only edited an existing installation's repository
	// access from GitHub's UI; there is no session to consume, just a
	// bounce back to wherever they started.
	if q.Get("setup_action") == "update" {
		referer := q.Get("referer")
		if referer == "" {
			referer = r.Referer()
		}
		if referer != "" {
			http.Redirect(w, r, referer, http.StatusFound)
			return
		}
	}

	req := &flow.FinishRequest{
		State:         q.Get("state"),
		Code:          q.Get("code"),
		Error:         q.Get("error"),
		OAuthToken:    q.Get("oauth_token"),
		OAuthVerifier: q.Get("oauth_verifier"),
	}
	if len(q) > 0 {
		meta := make(map[string]any, len(q))
		for k, v := range q {
			if len(v) > 0 {
				meta[k] = v[0]
			}
		}
		req.CallbackMetadata = meta
	}

	c, aerr := h.engine.Finish(r.Context(), req)
	if aerr != nil {
		writeBrokerError(w, h.logger, aerr)
		return
	}
	response.Data(w, h.logger, http.StatusOK, connectionView(c, false))
}

// connectionViewPayload strips credential material before a
// connection crosses the HTTP boundary.
type connectionViewPayload struct {
	EnvironmentID     string `json:"environment_id"`
	ProviderConfigKey string `json:"provider_config_key"`
	ConnectionID      string `json:"connection_id"`
	Provider          string `json:"provider"`
	AuthMode          string `json:"auth_mode"`
	Status            string `json:"status"`
	Pending           bool   `json:"pending"`
}

func connectionView(c *connection.Connection, pending bool) connectionViewPayload {
	return connectionViewPayload{
		EnvironmentID:     c.EnvironmentID,
		ProviderConfigKey: c.ProviderConfigKey,
		ConnectionID:      c.ConnectionID,
		Provider:          c.Provider,
		AuthMode:          string(c.AuthMode),
		Status:            string(c.Status),
		Pending:           pending,
	}
}

func writeBrokerError(w http.ResponseWriter, logger *slog.Logger, aerr *errcode.Error) {
	status := http.StatusBadRequest
	switch aerr.Code {
	case errcode.MissingConnection, errcode.UnknownProviderConfig, errcode.UnknownProviderTpl:
		status = http.StatusNotFound
	case errcode.UpstreamTimeout:
		status = http.StatusGatewayTimeout
	case errcode.TokenExternalError, errcode.RefreshExternalError, errcode.OAuth2CCError, errcode.ConnectionTestFailed:
		status = http.StatusBadGateway
	case errcode.UnknownError:
		status = http.StatusInternalServerError
	case errcode.MissingHMAC, errcode.InvalidHMAC:
		status = http.StatusUnauthorized
	}
	response.ErrorWithDetails(w, logger, status, aerr.Message, response.ErrCodeBadRequest, map[string]string{
		"code": string(aerr.Code),
	})
}
