package hooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorax/gorax/internal/authbroker/connection"
)

// HTTPWebhookSender POSTs a signed JSON payload to the tenant's
// configured webhook URL, using a "sha256=<hex hmac>" signature
// convention so receivers can verify it with one shared helper.
type HTTPWebhookSender struct {
	Client  *http.Client
	URL     func(environmentID string) (url, secret string, ok bool)
	Timeout time.Duration
}

func NewHTTPWebhookSender(client *http.Client, urlFn func(environmentID string) (string, string, bool)) *HTTPWebhookSender {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPWebhookSender{Client: client, URL: urlFn, Timeout: 15 * time.Second}
}

type connectionEventPayload struct {
	Type              string `json:"type"`
	EnvironmentID     string `json:"environment_id"`
	ProviderConfigKey string `json:"provider_config_key"`
	ConnectionID      string `json:"connection_id"`
	Provider          string `json:"provider"`
	AuthMode          string `json:"auth_mode"`
	Operation         string `json:"operation"`
	Success           bool   `json:"success"`
	Error             string `json:"error,omitempty"`
}

func (s *HTTPWebhookSender) SendConnectionEvent(ctx context.Context, c *connection.Connection, operation string) error {
	url, secret, ok := s.URL(c.EnvironmentID)
	if !ok || url == "" {
		return nil
	}

	payload := connectionEventPayload{
		Type:              "auth",
		EnvironmentID:     c.EnvironmentID,
		ProviderConfigKey: c.ProviderConfigKey,
		ConnectionID:      c.ConnectionID,
		Provider:          c.Provider,
		AuthMode:          string(c.AuthMode),
		Operation:         operation,
		Success:           c.LastError == "",
		Error:             c.LastError,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling webhook payload: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()
	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building webhook request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if secret != "" {
		httpReq.Header.Set("X-Webhook-Signature", signPayload(body, secret))
	}

	resp, err := s.Client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("delivering webhook: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// signPayload produces "sha256=" followed by the hex-encoded
// HMAC-SHA256 digest of payload.
func signPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
