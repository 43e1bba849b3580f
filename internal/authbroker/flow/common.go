package flow

import (
	"context"
	"fmt"

	"github.com/gorax/gorax/internal/authbroker/connection"
	"github.com/gorax/gorax/internal/authbroker/errcode"
	"github.com/gorax/gorax/internal/authbroker/provider"
	"github.com/gorax/gorax/internal/authbroker/template"
)

// buildTemplateContext merges the tenant's integration configuration
// and the connection config supplied at start time into one
// interpolation context, flattening nested config before substitution.
func buildTemplateContext(cfg *provider.IntegrationConfig, connectionConfig map[string]any) template.Context {
	base := template.Flatten(map[string]any{
		"oAuthClientId":     cfg.OAuthClientID,
		"oAuthClientSecret": cfg.OAuthClientSecret,
		"oAuthScopes":       cfg.OAuthScopes,
		"appPublicLink":     cfg.AppLink,
	})
	custom := template.Flatten(cfg.Custom)
	connCfg := template.Flatten(connectionConfig)
	return template.Merge(base, custom, connCfg)
}

// interpolateParams interpolates every value in params against ctx,
// failing with invalid_connection_config if any value references a
// key ctx cannot resolve.
func interpolateParams(templateName string, params map[string]any, ctx template.Context) (map[string]any, error) {
	if len(params) == 0 {
		return map[string]any{}, nil
	}
	missing := template.MissingKeysInMap(params, ctx)
	if len(missing) > 0 {
		return nil, errcode.New(errcode.InvalidConnConfig,
			fmt.Sprintf("%s: missing connection config keys %v", templateName, missing))
	}
	return template.InterpolateMap(params, ctx, false), nil
}

// interpolateURL interpolates a single URL template, failing the same
// way interpolateParams does.
func interpolateURL(templateName, tpl string, ctx template.Context) (string, error) {
	missing := template.MissingKeys(tpl, ctx)
	if len(missing) > 0 {
		return "", errcode.New(errcode.InvalidConnConfig,
			fmt.Sprintf("%s: missing connection config keys %v", templateName, missing))
	}
	return template.Interpolate(tpl, ctx, false), nil
}

// finalizeConnection persists the connection, then runs post-connect
// hooks and notification best-effort: hook/notify failures are logged
// by those collaborators and never unwind the already-committed
// connection.
func finalizeConnection(ctx context.Context, eng *Engine, c *connection.Connection, operation string, desc *provider.Descriptor) error {
	if err := eng.Connections.Upsert(ctx, c); err != nil {
		return fmt.Errorf("upserting connection: %w", err)
	}

	if eng.Hooks != nil {
		if err := eng.Hooks.Run(ctx, c, operation, desc.PostConnectScript); err != nil {
			if eng.Notifier != nil {
				eng.Notifier.ConnectionFailed(ctx, c, errcode.UnknownError, err)
			}
		}
	}
	if eng.Notifier != nil {
		eng.Notifier.ConnectionSucceeded(ctx, c, operation)
	}
	return nil
}
