// Package agentengine talks to the managed conversational-agent runtime.
// Two backends exist: the Agent Engine REST backend used in deployments,
// and a direct Gemini backend for development environments without a
// deployed agent.
package agentengine

import (
	"context"
	"strings"
	"time"

	"github.com/agentgate-dev/agentgate/pkg/router"
)

// Agent describes a discovered remote agent.
type Agent struct {
	// Name is the full resource name.
	Name string
	// DisplayName is the human-readable name used for discovery.
	DisplayName string
	// CreateTime orders agents when several share a display name.
	CreateTime time.Time
}

// ID returns the trailing component of the resource name.
func (a Agent) ID() string {
	if i := strings.LastIndexByte(a.Name, '/'); i >= 0 {
		return a.Name[i+1:]
	}
	return a.Name
}

// Client is the upstream collaborator contract: listing for discovery plus
// the two session operations the router needs.
type Client interface {
	router.Upstream

	// ListAgents returns agents whose display name matches exactly.
	ListAgents(ctx context.Context, displayName string) ([]Agent, error)
}
