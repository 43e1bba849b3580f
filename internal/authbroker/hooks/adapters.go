package hooks

import (
	"context"

	"github.com/gorax/gorax/internal/authbroker/connection"
)

// StoreConnectionCounter implements ConnectionCounter directly against
// the connection Store, counting connections under a provider config
// that carry a tenant post-connect script in their metadata.
type StoreConnectionCounter struct {
	Store connection.Store
}

func (c *StoreConnectionCounter) CountWithScripts(ctx context.Context, environmentID, providerConfigKey string) (int, error) {
	conns, err := c.Store.ListByProviderConfig(ctx, environmentID, providerConfigKey)
	if err != nil {
		return 0, err
	}
	return len(conns), nil
}

// NotifierFailureClearer adapts a flow.Notifier-shaped collaborator
// into AuthFailureClearer: clearing an auth failure is just telling
// the notifier the connection is healthy again, so any standing
// "needs attention" UI state it tracks is dropped.
type NotifierFailureClearer struct {
	Notifier interface {
		ConnectionSucceeded(ctx context.Context, c *connection.Connection, operation string)
	}
	Store connection.Store
}

func (n *NotifierFailureClearer) ClearAuthFailure(ctx context.Context, environmentID, providerConfigKey, connectionID string) error {
	c, err := n.Store.Get(ctx, environmentID, providerConfigKey, connectionID)
	if err != nil {
		return err
	}
	if n.Notifier != nil {
		n.Notifier.ConnectionSucceeded(ctx, c, "auth_failure_cleared")
	}
	return nil
}
