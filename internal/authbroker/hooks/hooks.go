// Package hooks implements the post-connection hook runner: an
// ordered, best-effort sequence of side effects that fires once a
// connection is created or refreshed, built on a retry-backed webhook
// delivery loop and a sandboxed JavaScript script engine.
package hooks

import (
	"context"
	"log/slog"

	"github.com/gorax/gorax/internal/authbroker/connection"
)

// SyncScheduler schedules the initial data sync for a newly created
// connection. Its concrete implementation lives outside the broker
// (the workflow engine owns sync scheduling); this is the narrow
// contract the hook runner needs.
type SyncScheduler interface {
	ScheduleInitialSync(ctx context.Context, c *connection.Connection) error
}

// ScriptRunner executes a tenant-defined post-connection script in a
// sandbox, given the connection as input. Implemented by
// GojaScriptRunner, backed by the internal/javascript engine.
type ScriptRunner interface {
	RunPostConnectScript(ctx context.Context, script string, c *connection.Connection, operation string) error
}

// WebhookSender emits the signed outbound "connection succeeded/failed"
// notification.
type WebhookSender interface {
	SendConnectionEvent(ctx context.Context, c *connection.Connection, operation string) error
}

// AuthFailureClearer clears any standing "auth needs attention"
// notification once a connection is healthy again.
type AuthFailureClearer interface {
	ClearAuthFailure(ctx context.Context, environmentID, providerConfigKey, connectionID string) error
}

// ConnectionCounter reports how many connections under a
// provider_config_key already carry post-connection scripts, enforced
// against Runner.ScriptCapLimit.
type ConnectionCounter interface {
	CountWithScripts(ctx context.Context, environmentID, providerConfigKey string) (int, error)
}

// DefaultScriptCapLimit is the environment-level guardrail: past this
// many scripted connections per provider config, the post-connect
// script step is skipped (not the connection itself) to bound
// worst-case fan-out.
const DefaultScriptCapLimit = 1000

// Runner executes the ordered post-connection hook sequence. Every
// step after persistence is best-effort: a step's failure is logged
// and passed to the caller's notifier, but never undoes the
// already-committed connection.
type Runner struct {
	Sync           SyncScheduler
	Scripts        ScriptRunner
	Webhooks       WebhookSender
	FailureClearer AuthFailureClearer
	Counter        ConnectionCounter
	ScriptCapLimit int
	Logger         *slog.Logger

	// InternalPostConnect runs unconditionally (not subject to the
	// script cap) for providers needing broker-owned post-connect
	// fixups, e.g. normalizing a Salesforce instance_url.
	InternalPostConnect func(ctx context.Context, c *connection.Connection) error
}

// NewRunner builds a Runner with its default script cap.
func NewRunner(sync SyncScheduler, scripts ScriptRunner, webhooks WebhookSender, failureClearer AuthFailureClearer, counter ConnectionCounter, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		Sync:           sync,
		Scripts:        scripts,
		Webhooks:       webhooks,
		FailureClearer: failureClearer,
		Counter:        counter,
		ScriptCapLimit: DefaultScriptCapLimit,
		Logger:         logger,
	}
}

// Run executes the ordered hook sequence for c. Each step's error is
// logged and swallowed rather than returned, except that Run itself
// returns the first error encountered so the caller's notifier can
// surface it — the connection record itself is never rolled back.
// postConnectScript is the provider descriptor's tenant-defined
// script, if any.
func (r *Runner) Run(ctx context.Context, c *connection.Connection, operation, postConnectScript string) error {
	var firstErr error
	note := func(step string, err error) {
		if err == nil {
			return
		}
		r.Logger.Warn("post-connection hook step failed", "step", step, "connection_id", c.ConnectionID, "provider_config_key", c.ProviderConfigKey, "error", err)
		if firstErr == nil {
			firstErr = err
		}
	}

	if operation == "creation" && r.Sync != nil {
		note("schedule_initial_sync", r.Sync.ScheduleInitialSync(ctx, c))
	}

	if r.InternalPostConnect != nil {
		note("internal_post_connect", r.InternalPostConnect(ctx, c))
	}

	if r.Scripts != nil && postConnectScript != "" {
		if r.underScriptCap(ctx, c) {
			note("post_connect_script", r.Scripts.RunPostConnectScript(ctx, postConnectScript, c, operation))
		} else {
			r.Logger.Info("skipping post-connect script: cap limit reached", "provider_config_key", c.ProviderConfigKey, "limit", r.ScriptCapLimit)
		}
	}

	if r.FailureClearer != nil {
		note("clear_auth_failure", r.FailureClearer.ClearAuthFailure(ctx, c.EnvironmentID, c.ProviderConfigKey, c.ConnectionID))
	}

	if r.Webhooks != nil {
		note("send_webhook", r.Webhooks.SendConnectionEvent(ctx, c, operation))
	}

	return firstErr
}

func (r *Runner) underScriptCap(ctx context.Context, c *connection.Connection) bool {
	if r.Counter == nil {
		return true
	}
	limit := r.ScriptCapLimit
	if limit <= 0 {
		limit = DefaultScriptCapLimit
	}
	n, err := r.Counter.CountWithScripts(ctx, c.EnvironmentID, c.ProviderConfigKey)
	if err != nil {
		r.Logger.Warn("counting scripted connections failed; allowing script to run", "error", err)
		return true
	}
	return n < limit
}
