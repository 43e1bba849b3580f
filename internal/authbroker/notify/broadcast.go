package notify

import (
	"encoding/json"

	"github.com/gorax/gorax/internal/authbroker/connection"
)

// authRoom scopes broadcast delivery to everyone watching a tenant's
// auth dashboard, distinct from the workflow-execution rooms the hub
// also serves.
func authRoom(environmentID string) string {
	return "auth:" + environmentID
}

func (n *Notifier) broadcast(c *connection.Connection, event connectionEvent) {
	if n.Hub == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	n.Hub.BroadcastToRoom(authRoom(c.EnvironmentID), data)
}
