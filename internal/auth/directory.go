package auth

import (
	"context"
	"sync"
)

// StaticDirectory is an in-memory AgentDirectory. The account system proper
// lives outside this service; deployments feed the directory from it.
type StaticDirectory struct {
	mu     sync.RWMutex
	agents map[string]struct{}
}

// NewStaticDirectory creates a directory seeded with the given agent IDs.
func NewStaticDirectory(agentIDs ...string) *StaticDirectory {
	d := &StaticDirectory{agents: make(map[string]struct{}, len(agentIDs))}
	for _, id := range agentIDs {
		d.agents[id] = struct{}{}
	}
	return d
}

// Add registers an agent.
func (d *StaticDirectory) Add(agentID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.agents[agentID] = struct{}{}
}

// Remove deregisters an agent. Outstanding tokens for it resolve to
// Anonymous from then on.
func (d *StaticDirectory) Remove(agentID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.agents, agentID)
}

// Exists implements AgentDirectory.
func (d *StaticDirectory) Exists(_ context.Context, agentID string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.agents[agentID]
	return ok, nil
}
