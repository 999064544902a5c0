package mobility

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/talgya/daysim/internal/agents"
	"github.com/talgya/daysim/internal/schedule"
	"github.com/talgya/daysim/internal/world"
)

// EventKind tells an adult whether a dependent now needs it somewhere.
type EventKind uint8

const (
	EventBind EventKind = iota
	EventUnbind
)

const (
	reasonHospitalized = "hospitalized"
	reasonQuarantined  = "quarantined"
	reasonStayAtHome   = "stay-at-home"
)

// SupervisionEvent asks the adult a dependent follows to stay with it at
// Location, or releases that request.
type SupervisionEvent struct {
	Kind      EventKind
	Dependent agents.AgentID
	Location  schedule.Location
	Reason    string
}

// Mailbox queues supervision events for an adult until its next activity
// starts.
type Mailbox struct {
	mu     sync.Mutex
	events []SupervisionEvent
}

// Post queues ev.
func (m *Mailbox) Post(ev SupervisionEvent) {
	m.mu.Lock()
	m.events = append(m.events, ev)
	m.mu.Unlock()
}

// Drain returns and clears the queued events in posting order.
func (m *Mailbox) Drain() []SupervisionEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.events
	m.events = nil
	return out
}

// Bound returns the dependents currently holding the agent, by ID.
func (p *Planner) Bound() []agents.AgentID {
	p.drainMailbox()
	out := make([]agents.AgentID, 0, len(p.bound))
	for id := range p.bound {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

func (p *Planner) drainMailbox() {
	for _, ev := range p.mailbox.Drain() {
		switch ev.Kind {
		case EventBind:
			p.bound[ev.Dependent] = ev
		case EventUnbind:
			delete(p.bound, ev.Dependent)
		}
	}
}

// firstBound returns the binding of the lowest dependent ID, so that an
// adult with several confined dependents always picks the same one.
func (p *Planner) firstBound() (SupervisionEvent, bool) {
	var (
		best  SupervisionEvent
		found bool
	)
	for id, ev := range p.bound {
		if !found || id < best.Dependent {
			best, found = ev, true
		}
	}
	return best, found
}

// desiredBinding returns where the dependent needs its adult, or nil.
func (p *Planner) desiredBinding() *SupervisionEvent {
	ev := &SupervisionEvent{Kind: EventBind, Dependent: p.agent.ID}
	switch {
	case p.hospital != nil:
		ev.Location, ev.Reason = p.hospital, reasonHospitalized
	case p.agent.Health.Quarantined:
		ev.Location, ev.Reason = locOf(p.household()), reasonQuarantined
	case p.restAtHome:
		ev.Location, ev.Reason = locOf(p.household()), reasonStayAtHome
	default:
		return nil
	}
	return ev
}

func (p *Planner) syncBinding() {
	p.setBinding(p.desiredBinding())
}

// setBinding tells the followed adult about a changed binding.
func (p *Planner) setBinding(b *SupervisionEvent) {
	prev := p.binding
	p.binding = b
	adult := p.registry.Get(p.following)
	if adult == nil {
		return
	}
	switch {
	case b == nil && prev != nil:
		adult.mailbox.Post(SupervisionEvent{Kind: EventUnbind, Dependent: p.agent.ID})
	case b != nil && (prev == nil || prev.Location != b.Location || prev.Reason != b.Reason):
		adult.mailbox.Post(*b)
	}
}

// switchAdult moves an active binding to the adult followed from now on.
func (p *Planner) switchAdult(id agents.AgentID) {
	if id == p.following {
		return
	}
	if p.binding != nil {
		if old := p.registry.Get(p.following); old != nil {
			old.mailbox.Post(SupervisionEvent{Kind: EventUnbind, Dependent: p.agent.ID})
		}
		if next := p.registry.Get(id); next != nil {
			next.mailbox.Post(*p.binding)
		}
	}
	p.following = id
}

// adultsInHouse returns the living adults of the agent's household.
func (p *Planner) adultsInHouse() []agents.AgentID {
	h := p.household()
	if h == nil {
		return nil
	}
	var out []agents.AgentID
	for _, r := range h.Residents() {
		id := agents.AgentID(r)
		other := p.registry.Get(id)
		if id == p.agent.ID || other == nil || other.IsDead() {
			continue
		}
		if !other.agent.IsChild(p.cfg.Supervision.MaxChildAge) {
			out = append(out, id)
		}
	}
	return out
}

// canSupervise returns the adults able to take the dependent along today.
// When all of them are unwell, any living one will do.
func (p *Planner) canSupervise() []*Planner {
	var living, fit []*Planner
	for _, id := range p.adults {
		a := p.registry.Get(id)
		if a == nil || a.IsDead() {
			continue
		}
		living = append(living, a)
		if !a.restAtHome && a.hospital == nil && a.criticalAt.IsZero() {
			fit = append(fit, a)
		}
	}
	if len(fit) == 0 {
		return living
	}
	return fit
}

// reallocateResidence moves a dependent whose household has no living
// adult into a random household that has one.
func (p *Planner) reallocateResidence() bool {
	homes := slices.Clone(p.town.Homes())
	for i := len(homes) - 1; i > 0; i-- {
		j := p.rng.IntN(i + 1)
		homes[i], homes[j] = homes[j], homes[i]
	}

	old := p.household()
	for _, h := range homes {
		if h == old || !p.hasLivingAdult(h) {
			continue
		}
		if old != nil {
			old.RemoveResident(uint64(p.agent.ID))
		}
		h.AddResident(uint64(p.agent.ID))
		p.agent.Household = h.ID
		p.agent.Home = h.Coord
		p.adults = p.adultsInHouse()
		slog.Info("dependent moved to a new household", "agent", p.agent.ID, "household", h.Name())
		return true
	}
	return false
}

func (p *Planner) hasLivingAdult(h *world.Location) bool {
	for _, r := range h.Residents() {
		other := p.registry.Get(agents.AgentID(r))
		if other != nil && !other.IsDead() && !other.agent.IsChild(p.cfg.Supervision.MaxChildAge) {
			return true
		}
	}
	return false
}
