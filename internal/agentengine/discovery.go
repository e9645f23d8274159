package agentengine

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"

	"github.com/agentgate-dev/agentgate/pkg/observability"
	"github.com/agentgate-dev/agentgate/pkg/router"
)

// State is the discovery lifecycle. There is a single transition out of
// Uninitialized, at process start; the service never re-discovers on its
// own, so a newly deployed agent is invisible until the proxy restarts.
type State int

const (
	StateUninitialized State = iota
	StateReady
	StateUnavailable
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateUnavailable:
		return "unavailable"
	default:
		return "uninitialized"
	}
}

// Discovery holds the one-shot agent lookup result.
type Discovery struct {
	mu    sync.RWMutex
	state State
	agent Agent
}

// NewDiscovery returns an uninitialized Discovery.
func NewDiscovery() *Discovery {
	return &Discovery{}
}

// Run performs the one-shot lookup: agents matching the display name
// exactly, newest creation time wins. A failed or empty lookup marks the
// discovery Unavailable and returns a DiscoveryError; it never panics or
// aborts startup.
func (d *Discovery) Run(ctx context.Context, client Client, displayName string) error {
	log.Printf("Discovering agent: %s", displayName)

	agents, err := client.ListAgents(ctx, displayName)
	if err != nil {
		d.set(StateUnavailable, Agent{})
		observability.RecordUpstreamError("discovery")
		return &router.DiscoveryError{DisplayName: displayName, Err: err}
	}
	if len(agents) == 0 {
		d.set(StateUnavailable, Agent{})
		observability.RecordUpstreamError("discovery")
		return &router.DiscoveryError{DisplayName: displayName, Err: errors.New("no agents found")}
	}

	sort.Slice(agents, func(i, j int) bool {
		return agents[i].CreateTime.After(agents[j].CreateTime)
	})
	d.set(StateReady, agents[0])

	log.Printf("Agent discovered: id=%s created=%s", agents[0].ID(), agents[0].CreateTime)
	return nil
}

func (d *Discovery) set(state State, agent Agent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = state
	d.agent = agent
}

// State returns the current lifecycle state.
func (d *Discovery) State() State {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

// Ready reports whether an agent was discovered.
func (d *Discovery) Ready() bool {
	return d.State() == StateReady
}

// Agent returns the discovered agent, if any.
func (d *Discovery) Agent() (Agent, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.agent, d.state == StateReady
}
