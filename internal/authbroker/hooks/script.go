package hooks

import (
	"context"
	"fmt"

	"github.com/gorax/gorax/internal/authbroker/connection"
	"github.com/gorax/gorax/internal/javascript"
)

// GojaScriptRunner runs a tenant-defined post-connection script inside
// a sandboxed JavaScript engine, exposing the connection as the
// script's `input` binding.
type GojaScriptRunner struct {
	engine *javascript.Engine
}

// NewGojaScriptRunner builds a runner with the engine's default
// sandbox and resource limits: a post-connection script gets no more
// trust than any other tenant-supplied script.
func NewGojaScriptRunner() (*GojaScriptRunner, error) {
	engine, err := javascript.NewEngine(javascript.DefaultEngineConfig())
	if err != nil {
		return nil, fmt.Errorf("initializing post-connect script engine: %w", err)
	}
	return &GojaScriptRunner{engine: engine}, nil
}

func (r *GojaScriptRunner) RunPostConnectScript(ctx context.Context, script string, c *connection.Connection, operation string) error {
	input := map[string]any{
		"environmentId":     c.EnvironmentID,
		"providerConfigKey": c.ProviderConfigKey,
		"connectionId":      c.ConnectionID,
		"provider":          c.Provider,
		"authMode":          string(c.AuthMode),
		"operation":         operation,
		"connectionConfig":  c.ConnectionConfig,
		"metadata":          c.Metadata,
	}
	execCtx := javascript.NewExecutionContext().WithInput(input)

	_, err := r.engine.Execute(ctx, &javascript.ExecuteConfig{
		Script:     script,
		Context:    execCtx,
		TenantID:   c.EnvironmentID,
		WorkflowID: "post-connect:" + c.ProviderConfigKey,
		NodeID:     c.ConnectionID,
	})
	if err != nil {
		return fmt.Errorf("running post-connect script: %w", err)
	}
	return nil
}

// Close releases the underlying VM pool.
func (r *GojaScriptRunner) Close() error {
	return r.engine.Close()
}
