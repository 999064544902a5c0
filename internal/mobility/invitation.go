package mobility

import (
	"fmt"

	"github.com/talgya/daysim/internal/schedule"
)

// ledger records, per calendar day, whether the agent already sent,
// received or accepted an invitation. One of each is enough to rule the
// day out.
type ledger struct {
	sent     map[string]bool
	received map[string]bool
	accepted map[string]bool
}

func newLedger() ledger {
	return ledger{
		sent:     make(map[string]bool),
		received: make(map[string]bool),
		accepted: make(map[string]bool),
	}
}

func (l ledger) touched(day string) bool {
	return l.sent[day] || l.received[day] || l.accepted[day]
}

// canAccept reports whether the agent is free to take part in socials on
// day, as host or as guest.
func (p *Planner) canAccept(day string) bool {
	return !p.restAtHome &&
		p.hospital == nil &&
		p.deathAt.IsZero() &&
		!p.followsAdult &&
		!p.agent.Health.Quarantined &&
		!p.ledger.touched(day)
}

// Invite offers a hosted social to candidates and returns how many
// accepted. Gatherings shorter than the minimum contact time are not
// worth coordinating and are skipped.
func (p *Planner) Invite(a *schedule.Activity, candidates []*Planner) (int, error) {
	if a.Kind != schedule.KindSocialize || a.Duration < p.cfg.Social.MinContact() {
		return 0, nil
	}
	if a.Guests == nil {
		a.Guests = schedule.NewGuests()
	}
	accepted := 0
	for _, c := range candidates {
		if c == p {
			continue
		}
		ok, err := c.Receive(a)
		if err != nil {
			return accepted, fmt.Errorf("invite agent %d: %w", c.agent.ID, err)
		}
		if ok {
			a.Guests.Add(c.agent.ID)
			accepted++
		}
	}
	return accepted, nil
}

// Receive decides on an invitation to another agent's social and, when
// accepted, splices a copy tracking the host's activity into the
// remaining schedule. A rejected invitation leaves the schedule untouched.
func (p *Planner) Receive(invite *schedule.Activity) (bool, error) {
	day := dateKey(invite.Start)
	if !p.canAccept(day) || p.current == nil || invite.Start.Before(p.current.End()) {
		return false, nil
	}

	var (
		remaining []*schedule.Activity
		suffix    *[]*schedule.Activity
	)
	if n := len(p.today); n > 0 && invite.Start.Before(p.today[n-1].End()) {
		if !invite.End().Before(p.today[n-1].End()) {
			return false, nil
		}
		remaining = []*schedule.Activity{p.current}
		suffix = &p.today
	} else {
		if len(p.days) == 0 {
			return false, nil
		}
		remaining = append([]*schedule.Activity{p.current}, p.today...)
		suffix = &p.days[0]
	}

	p.ledger.received[day] = true
	if p.rng.Float64() >= p.cfg.Social.InvitationAcceptance {
		return false, nil
	}

	c := invite.Clone(schedule.OriginInvitation, p.agent.ID)
	c.Location = nil
	c.Parent = &schedule.ParentRef{Owner: invite.Owner, At: invite.Start.Unix()}

	out, ok, err := schedule.Fit(remaining, c, *suffix)
	if err != nil {
		return false, fmt.Errorf("agent %d receives %s: %w", p.agent.ID, invite, err)
	}
	if !ok {
		return false, nil
	}
	if err := p.replaceBlock(*suffix, out); err != nil {
		return false, err
	}
	*suffix = out
	p.ledger.accepted[day] = true
	return true, nil
}

// SendSocialInvites offers the agent's first social of the day to its
// connections. It runs at midnight, and an agent hosts at most one social
// per day.
func (p *Planner) SendSocialInvites() (int, error) {
	now := p.clock.Now()
	day := dateKey(now)
	if !p.canAccept(day) {
		return 0, nil
	}

	pool := make([]*schedule.Activity, 0, len(p.today)+16)
	if p.current != nil {
		pool = append(pool, p.current)
	}
	pool = append(pool, p.today...)
	if len(p.days) > 0 {
		pool = append(pool, p.days[0]...)
	}

	var social *schedule.Activity
	for _, a := range pool {
		if a.Kind == schedule.KindSocialize &&
			a.Origin != schedule.OriginInvitation &&
			a.Duration >= p.cfg.Social.MinContact() &&
			dateKey(a.Start) == day {
			social = a
			break
		}
	}
	if social == nil {
		return 0, nil
	}

	p.ledger.sent[day] = true
	var candidates []*Planner
	for _, id := range p.agent.Connections {
		if c := p.registry.Get(id); c != nil && !c.IsDead() {
			candidates = append(candidates, c)
		}
	}
	return p.Invite(social, candidates)
}
