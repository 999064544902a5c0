package mobility

import (
	"log/slog"
	"time"

	"github.com/talgya/daysim/internal/agents"
	"github.com/talgya/daysim/internal/config"
	"github.com/talgya/daysim/internal/schedule"
	"github.com/talgya/daysim/internal/world"
)

// transition is a health state change due when an activity starts.
type transition uint8

const (
	transitionNone transition = iota
	transitionScriptedDeath
	transitionRecovery
	transitionHospital
	transitionICU
	transitionDeath
)

// pendingTransition returns the first health transition due at now.
func (p *Planner) pendingTransition(now time.Time) transition {
	h := p.agent.Health
	if h.NeverRecovers {
		return transitionScriptedDeath
	}
	terminal := p.willDie && !p.criticalAt.IsZero()
	if p.hospital != nil && !terminal && !now.Before(p.recoveryAt) {
		return transitionRecovery
	}
	if !p.outcomesSampled || !h.Symptomatic() {
		return transitionNone
	}

	c := p.cfg.Health
	switch {
	case p.willBeHospitalized && p.hospitalizedAt.IsZero() &&
		!now.Before(h.SymptomsAt.Add(days(c.DaysToHospital))):
		return transitionHospital
	case p.willBeCritical && !p.hospitalizedAt.IsZero() && p.criticalAt.IsZero() &&
		!now.Before(p.hospitalizedAt.Add(days(c.DaysToCritical))):
		return transitionICU
	case p.willDie && !p.criticalAt.IsZero() &&
		!now.Before(p.criticalAt.Add(days(c.DaysToDeath))):
		return transitionDeath
	}
	return transitionNone
}

// sampleOutcomes draws, once per infection, whether it will need a
// hospital, then an ICU, then end in death.
func (p *Planner) sampleOutcomes() {
	if p.outcomesSampled || !p.agent.Health.Infected() {
		return
	}
	c := p.cfg.Health
	age := p.agent.Age
	p.outcomesSampled = true
	p.willBeHospitalized = p.rng.Float64() < config.Probability(c.HospitalizedGivenSymptoms, age)
	p.willBeCritical = p.willBeHospitalized && p.rng.Float64() < config.Probability(c.CriticalGivenHospitalized, age)
	p.willDie = p.willBeCritical && p.rng.Float64() < config.Probability(c.FatalityGivenCritical, age)
}

// gate decides where a starts, relocating it when the agent's health or a
// supervision duty requires. It never changes Start or Duration.
func (p *Planner) gate(a *schedule.Activity) (*schedule.Activity, error) {
	now := p.clock.Now()
	p.sampleOutcomes()

	switch p.pendingTransition(now) {
	case transitionScriptedDeath, transitionDeath:
		p.die(a, now)
		return a, nil
	case transitionHospital:
		p.admit(a, now, false)
		return a, nil
	case transitionICU:
		p.admit(a, now, true)
		return a, nil
	case transitionRecovery:
		p.recover(now)
	case transitionNone:
		if p.hospital != nil {
			if !a.Hospitalized || a.Location != p.hospital {
				a.Hospitalize(p.stayReason(), p.hospital)
			}
			return a, nil
		}
	}

	p.resolve(a)
	if p.followsAdult {
		p.syncBinding()
	}
	return a, nil
}

// resolve runs the ordinary location rules once health transitions are
// settled.
func (p *Planner) resolve(a *schedule.Activity) {
	home := locOf(p.household())

	p.drainMailbox()
	if ev, ok := p.firstBound(); ok {
		reason := "inverted-supervision-" + ev.Reason
		if ev.Reason != reasonStayAtHome || a.Location == nil || a.Location != ev.Location {
			a.CancelAndGo(reason, ev.Location)
		}
		return
	}

	if h := p.agent.Health; h.Quarantined {
		reason := "quarantine"
		if h.QuarantineReason != "" {
			reason += "-" + h.QuarantineReason
		}
		a.CancelAndGo(reason, home)
		return
	}

	if p.updateRestAtHome() {
		if a.Location == nil || a.Location != home {
			a.CancelAndGo("sick-rest-at-home", home)
		}
		return
	}

	if a.Parent != nil {
		p.resolveParent(a, home)
		return
	}

	if a.Location == nil {
		loc := p.town.Select(purposeOf(a.Kind), p.visitor(), p.rng)
		if loc == nil {
			a.CancelAndGo("no-location", home)
			slog.Debug("no location available", "agent", p.agent.ID, "activity", a.Label())
			return
		}
		a.Location = loc
	}
}

// resolveParent copies the location of the activity a tracks. A parent
// that is gone or has no location yet sends the agent home.
func (p *Planner) resolveParent(a *schedule.Activity, home schedule.Location) {
	owner := p.registry.Get(a.Parent.Owner)
	if owner == nil {
		a.CancelAndGo("unresolved-parent", home)
		return
	}
	parent, _, err := owner.store.Lookup(a.Parent.At)
	if err != nil || parent.Cancelled {
		a.Location = home
		return
	}
	if parent.Location == nil {
		a.CancelAndGo("unresolved-parent", home)
		return
	}
	a.Location = parent.Location
}

// updateRestAtHome latches staying home once symptoms make the agent
// decide against going out. The latch opens only after recovery, once
// nothing else keeps the agent in.
func (p *Planner) updateRestAtHome() bool {
	if p.hospital != nil {
		return false
	}
	l := likelihoodToGoOut(p.agent.Health, p.cfg.Mobility)
	switch {
	case p.restAtHome && l >= 1 && !p.agent.Health.Infected():
		p.restAtHome = false
	case !p.restAtHome && p.rng.Float64() < 1-l:
		p.restAtHome = true
	}
	return p.restAtHome
}

// likelihoodToGoOut is the probability of leaving home given the most
// restrictive of the agent's conditions.
func likelihoodToGoOut(h agents.Health, m config.Mobility) float64 {
	switch {
	case h.Quarantined:
		return m.GivenQuarantined
	case h.TestPositive && h.Infected():
		return m.GivenPositiveTest
	case !h.Symptomatic():
		return 1
	}
	switch h.Severity {
	case agents.SeveritySevere:
		return m.GivenSevere
	case agents.SeverityModerate:
		return m.GivenModerate
	case agents.SeverityMild:
		return m.GivenMild
	}
	return 1
}

// admit moves the agent to a hospital, or an ICU when critical, and
// rewrites every activity until recovery to take place there. The agent
// dies when no unit has room.
func (p *Planner) admit(a *schedule.Activity, now time.Time, critical bool) {
	c := p.cfg.Health
	purpose, stay := world.PurposeHospital, c.DaysRecoveryHospitalized
	if critical {
		purpose, stay = world.PurposeICU, c.DaysRecoveryCritical
		if p.willDie {
			// A terminal patient stays until death.
			stay = c.DaysToDeath
		}
		p.criticalAt = now
	} else {
		p.hospitalizedAt = now
	}

	unit := p.town.Select(purpose, p.visitor(), p.rng)
	if unit == nil {
		slog.Info("no hospital capacity", "agent", p.agent.ID, "critical", critical)
		p.die(a, now)
		return
	}

	recovery := now.Add(days(stay))
	if p.hospital != nil {
		p.hospital.Discharge(uint64(p.agent.ID))
	}
	if !unit.Admit(uint64(p.agent.ID), recovery) {
		p.hospital = nil
		p.die(a, now)
		return
	}
	p.hospital = unit
	p.recoveryAt = recovery
	p.restAtHome = false
	p.relocateUntil(recovery, p.stayReason(), unit)
	a.Hospitalize(p.stayReason(), unit)

	slog.Info("agent admitted", "agent", p.agent.ID, "unit", unit.Name(),
		"critical", critical, "until", recovery.Format(time.RFC3339))
	if p.followsAdult {
		p.syncBinding()
	}
}

// relocateUntil moves every activity that starts before recovery to unit.
// Activities a previous, longer stay had moved and that now start after
// recovery get their usual location back.
func (p *Planner) relocateUntil(recovery time.Time, reason string, unit schedule.Location) {
	relocate := func(a *schedule.Activity) {
		switch {
		case a == nil:
		case !a.Start.After(recovery):
			a.Hospitalize(reason, unit)
		case a.Hospitalized:
			a.RevertHospitalized(p.defaultLocation(a))
		}
	}
	relocate(p.current)
	for _, a := range p.today {
		relocate(a)
	}
	for _, d := range p.days {
		for _, a := range d {
			relocate(a)
		}
	}
}

// stayReason tags activities moved by the current stay.
func (p *Planner) stayReason() string {
	if !p.criticalAt.IsZero() {
		return "critical"
	}
	return "hospitalized"
}

// recover ends a hospital stay and restores the activities it had taken
// over.
func (p *Planner) recover(now time.Time) {
	if p.hospital != nil {
		p.hospital.Discharge(uint64(p.agent.ID))
	}
	p.hospital = nil
	p.hospitalizedAt = time.Time{}
	p.criticalAt = time.Time{}
	p.recoveryAt = time.Time{}
	p.agent.Health.Recovered = true

	revert := func(a *schedule.Activity) {
		if a != nil && a.Hospitalized {
			a.RevertHospitalized(p.defaultLocation(a))
		}
	}
	revert(p.current)
	for _, a := range p.today {
		revert(a)
	}
	for _, d := range p.days {
		for _, a := range d {
			revert(a)
		}
	}
	slog.Info("agent recovered", "agent", p.agent.ID, "at", now.Format(time.RFC3339))
}

// defaultLocation is where an activity goes before the gate chooses: home
// for sleep and idle, the workplace for work, undecided otherwise.
func (p *Planner) defaultLocation(a *schedule.Activity) schedule.Location {
	switch a.Kind {
	case schedule.KindWork:
		return locOf(p.workplace())
	case schedule.KindSleep, schedule.KindIdle:
		return locOf(p.household())
	}
	return nil
}

// die ends the agent's schedule at the start of a.
func (p *Planner) die(a *schedule.Activity, now time.Time) {
	p.deathAt = now
	a.Dies = true
	if p.hospital != nil {
		p.hospital.Discharge(uint64(p.agent.ID))
		p.hospital = nil
	}
	p.agent.Alive = false
	p.CancelAllEvents()
	slog.Info("agent died", "agent", p.agent.ID, "at", now.Format(time.RFC3339), "activity", a.Label())
}
