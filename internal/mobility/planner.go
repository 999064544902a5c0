// Package mobility plans where every agent is at any time. A Planner owns
// one agent's interval store and daily schedules, consults the health gate
// before each activity starts and coordinates with other planners for
// invitations and supervision.
package mobility

import (
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/talgya/daysim/internal/agents"
	"github.com/talgya/daysim/internal/config"
	"github.com/talgya/daysim/internal/interval"
	"github.com/talgya/daysim/internal/schedule"
	"github.com/talgya/daysim/internal/world"
)

// Planner holds one agent's schedule. It is driven by a single goroutine
// at a time; cross-agent calls are serialized by the engine.
type Planner struct {
	agent    *agents.Agent
	cfg      *config.Config
	clock    Clock
	town     Town
	registry *Registry
	rng      schedule.Rand

	store   *interval.Store[*schedule.Activity]
	sleeps  []*schedule.Activity   // Closing sleep of every stored day
	current *schedule.Activity     // nil until the first activity starts
	today   []*schedule.Activity   // Remaining activities up to the next sleep
	days    [][]*schedule.Activity // Presampled days not started yet

	// Supervision
	followsAdult bool
	adults       []agents.AgentID // Adults of the household
	following    agents.AgentID   // Adult followed today, 0 if none
	binding      *SupervisionEvent
	mailbox      Mailbox
	bound        map[agents.AgentID]SupervisionEvent

	ledger ledger

	// Health progression
	outcomesSampled    bool
	willBeHospitalized bool
	willBeCritical     bool
	willDie            bool
	hospitalizedAt     time.Time
	criticalAt         time.Time
	recoveryAt         time.Time
	deathAt            time.Time
	hospital           Facility
	restAtHome         bool
}

// New returns a planner for agent. Register it before initializing any
// planner of the same household.
func New(agent *agents.Agent, deps Deps) *Planner {
	return &Planner{
		agent:    agent,
		cfg:      deps.Config,
		clock:    deps.Clock,
		town:     deps.Town,
		registry: deps.Registry,
		rng:      deps.Rand,
		store:    interval.New[*schedule.Activity](),
		bound:    make(map[agents.AgentID]SupervisionEvent),
		ledger:   newLedger(),
	}
}

// Initialize starts the agent asleep at home and, for independent agents,
// presamples every day of the horizon. Dependents follow an adult of their
// household and derive each day when they wake up.
func (p *Planner) Initialize() error {
	now := p.clock.Now()
	sleep := &schedule.Activity{
		Start:    now,
		Duration: hours(p.cfg.Durations.InitialSleep),
		Kind:     schedule.KindSleep,
		Location: locOf(p.household()),
		Owner:    p.agent.ID,
		Date:     schedule.Midnight(now),
	}
	p.today = []*schedule.Activity{sleep}

	if p.agent.IsChild(p.cfg.Supervision.MaxChildAge) {
		p.followsAdult = true
		p.adults = p.adultsInHouse()
		if len(p.adults) > 0 {
			p.following = p.adults[p.rng.IntN(len(p.adults))]
		} else {
			p.followsAdult = false
			slog.Warn("dependent lives without an adult, planning unsupervised",
				"agent", p.agent.ID, "household", p.agent.Household)
		}
	}

	if p.followsAdult {
		return p.storeDay([]*schedule.Activity{sleep})
	}

	presampled, err := p.presample(sleep)
	if err != nil {
		return fmt.Errorf("initialize agent %d: %w", p.agent.ID, err)
	}
	if err := p.storeDay([]*schedule.Activity{sleep}); err != nil {
		return err
	}
	for _, d := range presampled {
		if err := p.storeDay(d); err != nil {
			return err
		}
	}
	p.days = presampled
	return nil
}

// presample plans Days+1 days after first and pads the horizon with a
// filler sleep. Days are patched in order since a day may shorten the
// sleep before it, so nothing is stored until all are final.
func (p *Planner) presample(first *schedule.Activity) ([][]*schedule.Activity, error) {
	n := p.cfg.Simulation.Days + 1
	start := first.Start
	d := p.cfg.Durations
	f := p.cfg.Frequency

	work := make([]time.Duration, n)
	for i := range n {
		if p.agent.WorksOn(start.AddDate(0, 0, i).Weekday()) {
			work[i] = schedule.SampleDuration(p.rng, d.Work)
		}
	}
	grocery := schedule.Presample(p.rng, d, f.Grocery, schedule.KindGrocery, n)
	exercise := schedule.Presample(p.rng, d, f.Exercise, schedule.KindExercise, n)
	socialize := schedule.Presample(p.rng, d, f.Socialize, schedule.KindSocialize, n)

	env := p.env()
	workplace := locOf(p.workplace())
	out := make([][]*schedule.Activity, 0, n+1)
	last := first
	for i := range n {
		date := schedule.Midnight(start).AddDate(0, 0, i)
		tentative := []*schedule.Activity{
			{Duration: work[i], Kind: schedule.KindWork, Location: workplace, Owner: p.agent.ID, Date: date},
			{Duration: socialize[i], Kind: schedule.KindSocialize, Owner: p.agent.ID, Date: date},
			{Duration: grocery[i], Kind: schedule.KindGrocery, Owner: p.agent.ID, Date: date},
			{Duration: exercise[i], Kind: schedule.KindExercise, Owner: p.agent.ID, Date: date},
		}
		day, err := schedule.Patch(env, last, tentative)
		if err != nil {
			return nil, fmt.Errorf("presample day %d: %w", i, err)
		}
		out = append(out, day)
		last = day[len(day)-1]
	}

	horizon := start.Add(time.Duration(n+1) * 24 * time.Hour)
	if last.End().Before(horizon) {
		filler := &schedule.Activity{
			Start:    last.End(),
			Duration: horizon.Sub(last.End()),
			Kind:     schedule.KindSleep,
			Location: locOf(p.household()),
			Owner:    p.agent.ID,
			Date:     schedule.Midnight(last.End()),
			Origin:   schedule.OriginFiller,
		}
		out = append(out, []*schedule.Activity{filler})
	}
	return out, nil
}

// storeDay inserts a day into the interval store and indexes its closing
// sleep. Zero-length activities are not stored.
func (p *Planner) storeDay(day []*schedule.Activity) error {
	if n := len(day); n > 0 && day[n-1].Kind == schedule.KindSleep {
		p.sleeps = append(p.sleeps, day[n-1])
	}
	for _, a := range day {
		if a.Duration == 0 {
			continue
		}
		if err := p.store.Insert(a.Range(), a); err != nil {
			return fmt.Errorf("store %s for agent %d: %w", a, p.agent.ID, err)
		}
	}
	return nil
}

// GetScheduleForDay returns the stored activities of a day, where day -1
// is the initial sleep and day i runs from the end of the i-th sleep
// through the next one.
func (p *Planner) GetScheduleForDay(day int) ([]*schedule.Activity, error) {
	if day < -1 || day > len(p.sleeps)-2 {
		return nil, fmt.Errorf("day %d of agent %d: %w", day, p.agent.ID, ErrNoSuchDay)
	}
	if day == -1 {
		s := p.sleeps[0]
		return p.store.QueryRange(s.Start.Unix(), s.End().Unix()), nil
	}
	return p.store.QueryRange(p.sleeps[day].End().Unix(), p.sleeps[day+1].End().Unix()), nil
}

// GetSchedule returns the remaining activities of today, preparing the
// next day first when none are left. Calling it again without advancing
// returns the same activities.
func (p *Planner) GetSchedule() ([]*schedule.Activity, error) {
	if err := p.ensureToday(); err != nil {
		return nil, err
	}
	return slices.Clone(p.today), nil
}

// GetScheduleForDependents returns what a dependent can follow: the
// current activity, the rest of today and all of the next day.
func (p *Planner) GetScheduleForDependents() ([]*schedule.Activity, error) {
	if p.followsAdult {
		return nil, fmt.Errorf("agent %d follows an adult: %w", p.agent.ID, schedule.ErrInvariant)
	}
	out := make([]*schedule.Activity, 0, len(p.today)+16)
	if p.current != nil {
		out = append(out, p.current)
	}
	out = append(out, p.today...)
	if len(p.days) > 0 {
		out = append(out, p.days[0]...)
	}
	return out, nil
}

func (p *Planner) ensureToday() error {
	if len(p.today) > 0 {
		return nil
	}
	if p.current == nil || p.current.Kind != schedule.KindSleep {
		return fmt.Errorf("prepare schedule of agent %d after %s: %w", p.agent.ID, p.current, schedule.ErrInvariant)
	}
	return p.prepare()
}

// GetNextActivity advances to the next activity, resolves where it takes
// place and returns it. The returned activity has Dies set when the agent
// dies at its start.
func (p *Planner) GetNextActivity() (*schedule.Activity, error) {
	if !p.deathAt.IsZero() {
		return nil, fmt.Errorf("next activity of dead agent %d: %w", p.agent.ID, schedule.ErrInvariant)
	}
	if err := p.ensureToday(); err != nil {
		return nil, err
	}
	p.current = p.today[0]
	p.today = p.today[1:]
	return p.gate(p.current)
}

// PeekTracksParent reports whether the next activity follows another
// agent's activity. Days of dependents are derived on waking and always
// do.
func (p *Planner) PeekTracksParent() bool {
	if p.followsAdult {
		return true
	}
	if len(p.today) > 0 {
		return p.today[0].Parent != nil
	}
	if len(p.days) > 0 && len(p.days[0]) > 0 {
		return p.days[0][0].Parent != nil
	}
	return false
}

// NeedsSerial reports whether advancing the planner at now may touch
// another agent or a shared resource, so it must not run concurrently
// with other planners.
func (p *Planner) NeedsSerial(now time.Time) bool {
	if p.PeekTracksParent() {
		return true
	}
	if p.agent.Health.Infected() && !p.outcomesSampled {
		return true
	}
	return p.pendingTransition(now) != transitionNone
}

// prepare makes the next day current. Dependents derive it from their
// adult; independent agents take the next presampled day.
func (p *Planner) prepare() error {
	if p.followsAdult {
		return p.prepareDependent()
	}
	if len(p.days) == 0 {
		day, err := schedule.PatchDependent(p.env(), p.current, nil, p.workToday())
		if err != nil {
			return err
		}
		if err := p.storeDay(day); err != nil {
			return err
		}
		p.today = day
		return nil
	}
	p.today = p.days[0]
	p.days = p.days[1:]
	return nil
}

func (p *Planner) prepareDependent() error {
	adults := p.canSupervise()
	if len(adults) == 0 {
		if !p.reallocateResidence() {
			slog.Warn("no household can supervise dependent, planning unsupervised", "agent", p.agent.ID)
			p.followsAdult = false
			p.switchAdult(0)
			return p.prepare()
		}
		adults = p.canSupervise()
	}

	adult := adults[p.rng.IntN(len(adults))]
	adultDay, err := adult.GetScheduleForDependents()
	if err != nil {
		return err
	}
	day, err := schedule.PatchDependent(p.env(), p.current, adultDay, p.workToday())
	if err != nil {
		return fmt.Errorf("follow agent %d: %w", adult.agent.ID, err)
	}
	if p.hospital != nil {
		for _, a := range day {
			if !a.Start.After(p.recoveryAt) {
				a.Hospitalize(p.stayReason(), p.hospital)
			}
		}
	}
	if err := p.storeDay(day); err != nil {
		return err
	}
	p.today = day
	p.switchAdult(adult.agent.ID)
	return nil
}

// workToday returns the tentative work block of the day the current
// sleep ends on, or nil.
func (p *Planner) workToday() *schedule.Activity {
	now := p.current.End()
	if !p.agent.WorksOn(now.Weekday()) {
		return nil
	}
	return &schedule.Activity{
		Duration: schedule.SampleDuration(p.rng, p.cfg.Durations.Work),
		Kind:     schedule.KindWork,
		Location: locOf(p.workplace()),
		Owner:    p.agent.ID,
		Date:     schedule.Midnight(now),
	}
}

// CancelAllEvents empties the schedule, leaves any hosted socials the
// agent was invited to and removes the agent from its household.
func (p *Planner) CancelAllEvents() {
	for _, a := range p.store.All() {
		p.leaveInvitation(a)
	}
	p.store.Clear()
	p.today = nil
	p.days = nil
	if h := p.household(); h != nil {
		h.RemoveResident(uint64(p.agent.ID))
	}
	if p.followsAdult {
		p.setBinding(nil)
	}
}

// leaveInvitation removes the agent from the guest list of the social an
// accepted invitation points at.
func (p *Planner) leaveInvitation(a *schedule.Activity) {
	if a.Origin != schedule.OriginInvitation || a.Parent == nil {
		return
	}
	host := p.registry.Get(a.Parent.Owner)
	if host == nil {
		return
	}
	social, _, err := host.store.Lookup(a.Parent.At)
	if err != nil || social.Guests == nil {
		return
	}
	social.Guests.Remove(p.agent.ID)
}

// CanEdit reports whether a manual edit may touch a: it must be a future
// activity other than the current one and not a sleep.
func (p *Planner) CanEdit(a *schedule.Activity) bool {
	return a != nil &&
		a != p.current &&
		a.Kind != schedule.KindSleep &&
		a.Start.After(p.clock.Now())
}

// CancelActivity cancels the stored activity covering at and sends the
// agent home for it.
func (p *Planner) CancelActivity(at time.Time) (*schedule.Activity, error) {
	a, _, err := p.store.Lookup(at.Unix())
	if err != nil {
		return nil, fmt.Errorf("cancel activity of agent %d at %s: %w", p.agent.ID, at.Format(time.RFC3339), err)
	}
	if !p.CanEdit(a) {
		return nil, fmt.Errorf("cancel %s: %w", a, ErrNotEditable)
	}
	p.leaveInvitation(a)
	a.CancelAndGo("manual-override", locOf(p.household()))
	return a, nil
}

// UpdateSchedule replaces a future block of activities. The new
// activities must be contiguous and cover exactly the stored activities
// they replace, none of which may be a sleep. On failure nothing changes.
func (p *Planner) UpdateSchedule(acts []*schedule.Activity) error {
	if len(acts) == 0 {
		return nil
	}
	first, last := acts[0], acts[len(acts)-1]
	old := p.store.QueryRange(first.Start.Unix(), last.End().Unix())
	if len(old) == 0 || !old[0].Start.Equal(first.Start) || !old[len(old)-1].End().Equal(last.End()) {
		return fmt.Errorf("update %s to %s: block boundaries do not match: %w", first, last, ErrNotEditable)
	}
	for _, a := range old {
		if !p.CanEdit(a) {
			return fmt.Errorf("update %s: %w", a, ErrNotEditable)
		}
	}
	cursor := first.Start
	for _, a := range acts {
		if a.Kind == schedule.KindSleep || !a.Start.Equal(cursor) || a.Duration < 0 {
			return fmt.Errorf("update with %s: %w", a, ErrNotEditable)
		}
		cursor = a.End()
		a.Owner = p.agent.ID
	}

	list := p.listContaining(first.Start)
	if list == nil {
		return fmt.Errorf("update %s: not in a planned day: %w", first, ErrNotEditable)
	}
	if err := p.replaceBlock(old, acts); err != nil {
		return err
	}
	for _, a := range old {
		p.leaveInvitation(a)
	}
	var next []*schedule.Activity
	for _, a := range *list {
		if a.Start.Before(first.Start) {
			next = append(next, a)
		}
	}
	next = append(next, schedule.DropEmpty(acts)...)
	for _, a := range *list {
		if !a.Start.Before(last.End()) {
			next = append(next, a)
		}
	}
	*list = next
	return nil
}

// listContaining returns the schedule slice (today or a future day) that
// holds the activity starting at t.
func (p *Planner) listContaining(t time.Time) *[]*schedule.Activity {
	contains := func(l []*schedule.Activity) bool {
		return len(l) > 0 && !t.Before(l[0].Start) && t.Before(l[len(l)-1].End())
	}
	if contains(p.today) {
		return &p.today
	}
	for i := range p.days {
		if contains(p.days[i]) {
			return &p.days[i]
		}
	}
	return nil
}

// replaceBlock swaps old for repl in the store, restoring old when an
// insert fails.
func (p *Planner) replaceBlock(old, repl []*schedule.Activity) error {
	for _, a := range old {
		p.store.DeleteRange(a.Range())
	}
	var inserted []*schedule.Activity
	for _, a := range repl {
		if a.Duration == 0 {
			continue
		}
		if err := p.store.Insert(a.Range(), a); err != nil {
			for _, b := range inserted {
				p.store.DeleteRange(b.Range())
			}
			for _, b := range old {
				if b.Duration > 0 {
					_ = p.store.Insert(b.Range(), b)
				}
			}
			return fmt.Errorf("replace schedule block of agent %d: %w", p.agent.ID, err)
		}
		inserted = append(inserted, a)
	}

	// Cutting into a sleep replaces it with its remainder.
	for i, s := range p.sleeps {
		if !slices.Contains(old, s) {
			continue
		}
		for _, a := range repl {
			if a.Kind == schedule.KindSleep && a.End().Equal(s.End()) {
				p.sleeps[i] = a
			}
		}
	}
	return nil
}

func (p *Planner) env() schedule.Env {
	return schedule.Env{
		Owner:     p.agent.ID,
		Household: locOf(p.household()),
		WorkStart: p.agent.WorkStart,
		Config:    p.cfg,
		Rand:      p.rng,
	}
}

func (p *Planner) household() *world.Location {
	return p.town.Location(p.agent.Household)
}

func (p *Planner) workplace() *world.Location {
	if p.agent.Workplace == 0 {
		return nil
	}
	return p.town.Location(p.agent.Workplace)
}

func (p *Planner) visitor() world.Visitor {
	return world.Visitor{
		Home:      p.agent.Home,
		Household: p.household(),
		Workplace: p.workplace(),
		Visits:    &p.agent.Visits,
	}
}

// Agent returns the planned agent.
func (p *Planner) Agent() *agents.Agent { return p.agent }

// Current returns the activity in progress, or nil before the first one.
func (p *Planner) Current() *schedule.Activity { return p.current }

// Store returns the agent's interval store.
func (p *Planner) Store() *interval.Store[*schedule.Activity] { return p.store }

// IsDead reports whether the agent died.
func (p *Planner) IsDead() bool { return !p.deathAt.IsZero() }

// DeathAt returns the time of death, or the zero time.
func (p *Planner) DeathAt() time.Time { return p.deathAt }

// HospitalizedAt returns when the current hospital stay began, or the
// zero time.
func (p *Planner) HospitalizedAt() time.Time { return p.hospitalizedAt }

// CriticalAt returns when the agent entered critical care, or the zero time.
func (p *Planner) CriticalAt() time.Time { return p.criticalAt }

// RecoveryAt returns the planned end of the current hospital stay.
func (p *Planner) RecoveryAt() time.Time { return p.recoveryAt }

// HospitalLocation returns the hospital or ICU the agent is admitted to,
// or nil.
func (p *Planner) HospitalLocation() Facility { return p.hospital }

// RestingAtHome reports whether the agent stays home because of symptoms.
func (p *Planner) RestingAtHome() bool { return p.restAtHome }

// FollowsAdult reports whether the agent's days are derived from an adult.
func (p *Planner) FollowsAdult() bool { return p.followsAdult }

// Following returns the adult followed today, or 0.
func (p *Planner) Following() agents.AgentID { return p.following }

// SetOutcomes fixes how an infection will progress instead of sampling it
// from the age-binned probabilities.
func (p *Planner) SetOutcomes(hospitalized, critical, dies bool) {
	p.outcomesSampled = true
	p.willBeHospitalized = hospitalized
	p.willBeCritical = hospitalized && critical
	p.willDie = p.willBeCritical && dies
}
