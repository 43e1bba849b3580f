// Package notify implements the broker's outward-facing signaling for
// a connection attempt: structured logs, a websocket push to anyone
// watching the tenant's dashboard, a Prometheus counter bump, and (on
// failure) a Sentry capture via websocket.Hub and errortracking.Tracker.
package notify

import (
	"context"
	"log/slog"

	"github.com/gorax/gorax/internal/authbroker/connection"
	"github.com/gorax/gorax/internal/authbroker/errcode"
	"github.com/gorax/gorax/internal/errortracking"
	"github.com/gorax/gorax/internal/metrics"
	"github.com/gorax/gorax/internal/websocket"
)

// MetricsRecorder is the narrow surface notify needs from
// internal/metrics, kept separate so tests can stub it without
// spinning up a real registry.
type MetricsRecorder interface {
	RecordAuthConnection(provider, authMode, operation, outcome string)
	RecordAuthConnectionFailure(provider, code string)
}

// ErrorTracker is the narrow surface notify needs from
// internal/errortracking.
type ErrorTracker interface {
	CaptureErrorWithTags(ctx context.Context, err error, tags map[string]string) string
}

// AlertService is the narrow surface notify needs from
// internal/notification: out-of-band delivery (email/Slack/in-app) for
// operators who aren't watching the websocket dashboard live.
type AlertService interface {
	NotifyConnectionEstablished(ctx context.Context, environmentID, provider, providerConfigKey, connectionID, operation string) error
	NotifyConnectionFailed(ctx context.Context, environmentID, provider, providerConfigKey, connectionID, errCode, errMessage string) error
}

// Notifier implements flow.Notifier and refresh.Notifier: both halves
// of the broker report through the same fan-out so a UI watching a
// tenant's dashboard sees OAuth-flow and background-refresh outcomes
// the same way.
type Notifier struct {
	Hub     *websocket.Hub
	Metrics MetricsRecorder
	Tracker ErrorTracker
	Alerts  AlertService
	Logger  *slog.Logger
}

func NewNotifier(hub *websocket.Hub, m MetricsRecorder, tracker ErrorTracker, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{Hub: hub, Metrics: m, Tracker: tracker, Logger: logger}
}

type connectionEvent struct {
	Type              string `json:"type"`
	EnvironmentID     string `json:"environment_id"`
	ProviderConfigKey string `json:"provider_config_key"`
	ConnectionID      string `json:"connection_id"`
	Provider          string `json:"provider"`
	AuthMode          string `json:"auth_mode"`
	Operation         string `json:"operation"`
	Success           bool   `json:"success"`
	Error             string `json:"error,omitempty"`
	Code              string `json:"code,omitempty"`
}

// ConnectionSucceeded reports a newly created or refreshed connection.
func (n *Notifier) ConnectionSucceeded(ctx context.Context, c *connection.Connection, operation string) {
	n.Logger.Info("connection succeeded",
		"environment_id", c.EnvironmentID,
		"provider_config_key", c.ProviderConfigKey,
		"connection_id", c.ConnectionID,
		"provider", c.Provider,
		"auth_mode", c.AuthMode,
		"operation", operation,
	)
	if n.Metrics != nil {
		n.Metrics.RecordAuthConnection(c.Provider, string(c.AuthMode), operation, "success")
	}
	if n.Alerts != nil {
		if err := n.Alerts.NotifyConnectionEstablished(ctx, c.EnvironmentID, c.Provider, c.ProviderConfigKey, c.ConnectionID, operation); err != nil {
			n.Logger.Warn("alert delivery failed", "connection_id", c.ConnectionID, "error", err)
		}
	}
	n.broadcast(c, connectionEvent{
		Type:              "connection.succeeded",
		EnvironmentID:     c.EnvironmentID,
		ProviderConfigKey: c.ProviderConfigKey,
		ConnectionID:      c.ConnectionID,
		Provider:          c.Provider,
		AuthMode:          string(c.AuthMode),
		Operation:         operation,
		Success:           true,
	})
}

// ConnectionFailed reports a failed connection attempt or refresh.
func (n *Notifier) ConnectionFailed(ctx context.Context, c *connection.Connection, code errcode.Code, err error) {
	n.Logger.Error("connection failed",
		"environment_id", c.EnvironmentID,
		"provider_config_key", c.ProviderConfigKey,
		"connection_id", c.ConnectionID,
		"provider", c.Provider,
		"auth_mode", c.AuthMode,
		"code", code,
		"error", err,
	)
	if n.Metrics != nil {
		n.Metrics.RecordAuthConnectionFailure(c.Provider, string(code))
	}
	if n.Tracker != nil && err != nil {
		n.Tracker.CaptureErrorWithTags(ctx, err, map[string]string{
			"environment_id":      c.EnvironmentID,
			"provider_config_key": c.ProviderConfigKey,
			"connection_id":       c.ConnectionID,
			"provider":            c.Provider,
			"auth_mode":           string(c.AuthMode),
			"code":                string(code),
		})
	}
	if n.Alerts != nil {
		if alertErr := n.Alerts.NotifyConnectionFailed(ctx, c.EnvironmentID, c.Provider, c.ProviderConfigKey, c.ConnectionID, string(code), errMessage(err)); alertErr != nil {
			n.Logger.Warn("alert delivery failed", "connection_id", c.ConnectionID, "error", alertErr)
		}
	}
	n.broadcast(c, connectionEvent{
		Type:              "connection.failed",
		EnvironmentID:     c.EnvironmentID,
		ProviderConfigKey: c.ProviderConfigKey,
		ConnectionID:      c.ConnectionID,
		Provider:          c.Provider,
		AuthMode:          string(c.AuthMode),
		Success:           false,
		Error:             errMessage(err),
		Code:              string(code),
	})
}

func errMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
