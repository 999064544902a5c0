package mobility

import (
	"cmp"
	"slices"
	"sync"

	"github.com/talgya/daysim/internal/agents"
)

// Registry maps agent IDs to planners. Cross-agent operations resolve
// their counterpart through it rather than holding pointers.
type Registry struct {
	mu       sync.RWMutex
	planners map[agents.AgentID]*Planner
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{planners: make(map[agents.AgentID]*Planner)}
}

// Add registers p under its agent's ID.
func (r *Registry) Add(p *Planner) {
	r.mu.Lock()
	r.planners[p.agent.ID] = p
	r.mu.Unlock()
}

// Get returns the planner of id, or nil.
func (r *Registry) Get(id agents.AgentID) *Planner {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.planners[id]
}

// All returns every planner ordered by agent ID.
func (r *Registry) All() []*Planner {
	r.mu.RLock()
	out := make([]*Planner, 0, len(r.planners))
	for _, p := range r.planners {
		out = append(out, p)
	}
	r.mu.RUnlock()
	slices.SortFunc(out, func(a, b *Planner) int {
		return cmp.Compare(a.agent.ID, b.agent.ID)
	})
	return out
}

// Len returns the number of registered planners.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.planners)
}
