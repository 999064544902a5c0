// Simulation ties the planners together and advances them in time order.
package engine

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/talgya/daysim/internal/agents"
	"github.com/talgya/daysim/internal/config"
	"github.com/talgya/daysim/internal/entropy"
	"github.com/talgya/daysim/internal/mobility"
	"github.com/talgya/daysim/internal/schedule"
	"github.com/talgya/daysim/internal/world"
)

// ErrUnknownAgent is returned for an agent ID not in the population.
var ErrUnknownAgent = errors.New("unknown agent")

// maxEvents bounds the recent events kept in memory.
const maxEvents = 1000

// Simulation holds the population, its planners and the event queue.
type Simulation struct {
	mu sync.RWMutex

	RunID      string
	Config     *config.Config
	Town       *world.Town
	Agents     []*agents.Agent
	AgentIndex map[agents.AgentID]*agents.Agent
	Registry   *mobility.Registry

	clock        *Clock
	start, end   time.Time
	queue        eventQueue
	nextMidnight time.Time
	day          int // Midnights processed
	workers      int
	finished     bool

	observers []Observer
	Events    []Event // Most recent last
	Stats     SimStats
}

// Build generates the town and population described by cfg and returns
// an initialized simulation.
func Build(cfg *config.Config) (*Simulation, error) {
	town := world.Generate(world.GenConfigFrom(cfg))
	spawner := agents.NewSpawner(agents.SpawnConfig{
		Seed:        cfg.Simulation.Seed,
		Agents:      cfg.Simulation.Agents,
		MaxChildAge: cfg.Supervision.MaxChildAge,
		Connections: cfg.Social.Connections,
	})
	return New(cfg, town, spawner.SpawnPopulation(town))
}

// New creates a planner for every agent, initializes them and queues
// their first activity at the start time.
func New(cfg *config.Config, town *world.Town, population []*agents.Agent) (*Simulation, error) {
	start := cfg.Simulation.Start
	s := &Simulation{
		RunID:      uuid.NewString(),
		Config:     cfg,
		Town:       town,
		Agents:     population,
		AgentIndex: make(map[agents.AgentID]*agents.Agent, len(population)),
		Registry:   mobility.NewRegistry(),
		clock:      NewClock(start),
		start:      start,
		end:        start.AddDate(0, 0, cfg.Simulation.Days),
		workers:    cfg.Simulation.Workers,
	}
	if s.workers <= 0 {
		s.workers = runtime.GOMAXPROCS(0)
	}
	s.nextMidnight = schedule.Midnight(start)
	if s.nextMidnight.Before(start) {
		s.nextMidnight = s.nextMidnight.AddDate(0, 0, 1)
	}

	for _, a := range population {
		s.AgentIndex[a.ID] = a
		s.Registry.Add(mobility.New(a, mobility.Deps{
			Config:   cfg,
			Clock:    s.clock,
			Town:     town,
			Registry: s.Registry,
			Rand:     entropy.ForAgent(uint64(cfg.Simulation.Seed), uint64(a.ID)),
		}))
	}
	for _, p := range s.Registry.All() {
		if err := p.Initialize(); err != nil {
			return nil, fmt.Errorf("initialize agent %d: %w", p.Agent().ID, err)
		}
		s.queue.push(start, p)
	}
	s.updateStats()

	slog.Info("simulation initialized",
		"run", s.RunID,
		"agents", len(population),
		"locations", town.Len(),
		"start", start.Format(time.RFC3339),
		"days", cfg.Simulation.Days,
		"workers", s.workers,
	)
	return s, nil
}

// Subscribe registers o for activity records and daily reports.
func (s *Simulation) Subscribe(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

// Now returns the current simulated time.
func (s *Simulation) Now() time.Time {
	return s.clock.Now()
}

// Start returns the simulation start time.
func (s *Simulation) Start() time.Time { return s.start }

// End returns the exclusive horizon.
func (s *Simulation) End() time.Time { return s.end }

// SimTime renders the current time relative to the start.
func (s *Simulation) SimTime() string {
	return SimTime(s.start, s.Now())
}

// Step processes the next instant: either a midnight or every agent whose
// activity ends at the earliest queued time. It returns false once the
// horizon is reached.
func (s *Simulation) Step(ctx context.Context) (bool, []DayReport, error) {
	if err := ctx.Err(); err != nil {
		return false, nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.queue.Len() == 0 {
		return false, nil, nil
	}
	next := s.queue.next()
	if !s.nextMidnight.After(next) && s.nextMidnight.Before(s.end) {
		rep, err := s.midnight()
		if err != nil {
			return false, nil, err
		}
		var reports []DayReport
		if rep != nil {
			reports = append(reports, *rep)
		}
		return true, reports, nil
	}
	if !next.Before(s.end) {
		return false, nil, nil
	}

	s.clock.set(next)
	if err := s.advance(ctx, next); err != nil {
		return false, nil, err
	}
	return true, nil, nil
}

// midnight reports the day that just ended and lets every living agent
// send invitations for the day starting now.
func (s *Simulation) midnight() (*DayReport, error) {
	now := s.nextMidnight
	s.clock.set(now)

	var rep *DayReport
	if s.day > 0 {
		r := s.report(now.AddDate(0, 0, -1))
		rep = &r
	}
	for _, p := range s.Registry.All() {
		if p.IsDead() {
			continue
		}
		n, err := p.SendSocialInvites()
		if err != nil {
			return nil, fmt.Errorf("invitations of agent %d: %w", p.Agent().ID, err)
		}
		s.Stats.Invitations += n
	}
	s.nextMidnight = now.AddDate(0, 0, 1)
	s.day++
	return rep, nil
}

// advance starts the next activity of every agent due at now. Planners
// that only touch their own state run concurrently; the rest run one at a
// time with hosts and adults ahead of the agents tracking them.
func (s *Simulation) advance(ctx context.Context, now time.Time) error {
	var parallel, serial []*mobility.Planner
	for _, p := range s.queue.popDue(now) {
		if p.NeedsSerial(now) {
			serial = append(serial, p)
		} else {
			parallel = append(parallel, p)
		}
	}

	// A started step always completes so the queue stays consistent;
	// only a planner error cuts it short.
	started := make([]*schedule.Activity, len(parallel))
	faults := make([]error, len(parallel))
	g, gctx := errgroup.WithContext(context.WithoutCancel(ctx))
	g.SetLimit(s.workers)
	for i, p := range parallel {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			a, err := p.GetNextActivity()
			switch {
			case errors.Is(err, schedule.ErrInvariant):
				faults[i] = err
			case err != nil:
				return fmt.Errorf("agent %d: %w", p.Agent().ID, err)
			}
			started[i] = a
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for i, p := range parallel {
		if faults[i] != nil {
			s.fault(p, faults[i], now)
			continue
		}
		inCare := p.HospitalLocation() != nil
		s.started(p, started[i], inCare, now)
	}

	slices.SortStableFunc(serial, func(a, b *mobility.Planner) int {
		if ra, rb := serialRank(a), serialRank(b); ra != rb {
			return ra - rb
		}
		return cmp.Compare(a.Agent().ID, b.Agent().ID)
	})
	for _, p := range serial {
		inCare := p.HospitalLocation() != nil
		a, err := p.GetNextActivity()
		switch {
		case errors.Is(err, schedule.ErrInvariant):
			s.fault(p, err, now)
			continue
		case err != nil:
			return fmt.Errorf("agent %d: %w", p.Agent().ID, err)
		}
		s.started(p, a, inCare, now)
	}
	return nil
}

// fault takes an agent whose schedule broke an invariant out of the
// queue. The rest of the population carries on.
func (s *Simulation) fault(p *mobility.Planner, err error, now time.Time) {
	id := p.Agent().ID
	slog.Error("agent faulted", "agent", id, "time", SimTime(s.start, now), "err", err)
	s.Stats.Faulted++
	s.emit(Event{Time: now, Agent: id, Category: "fault", Description: err.Error()})
}

// serialRank orders hosts before guests and guests before dependents.
func serialRank(p *mobility.Planner) int {
	switch {
	case p.FollowsAdult():
		return 2
	case p.PeekTracksParent():
		return 1
	}
	return 0
}

// started records a, notifies observers and queues the agent's next
// wakeup. wasInCare is whether the agent was in hospital before a began.
func (s *Simulation) started(p *mobility.Planner, a *schedule.Activity, wasInCare bool, now time.Time) {
	s.Stats.Activities++
	if a.Cancelled {
		s.Stats.Cancelled++
	}
	rec := RecordOf(a)
	for _, o := range s.observers {
		o.ObserveActivity(rec)
	}

	id := p.Agent().ID
	inCare := p.HospitalLocation() != nil
	switch {
	case a.Dies:
		s.emit(Event{Time: now, Agent: id, Category: "death",
			Description: fmt.Sprintf("%s died (%s)", p.Agent().Name, a.Label())})
	case !wasInCare && inCare:
		s.emit(Event{Time: now, Agent: id, Category: "hospital",
			Description: fmt.Sprintf("%s admitted to %s", p.Agent().Name, p.HospitalLocation().Name())})
	case inCare && p.CriticalAt().Equal(now):
		s.emit(Event{Time: now, Agent: id, Category: "critical",
			Description: fmt.Sprintf("%s moved to %s", p.Agent().Name, p.HospitalLocation().Name())})
	case wasInCare && !inCare:
		s.emit(Event{Time: now, Agent: id, Category: "recovery",
			Description: fmt.Sprintf("%s discharged", p.Agent().Name)})
	}

	if !p.IsDead() {
		s.queue.push(a.End(), p)
	}
}

func (s *Simulation) emit(e Event) {
	s.Events = append(s.Events, e)
	if len(s.Events) > maxEvents {
		s.Events = s.Events[len(s.Events)-maxEvents:]
	}
}

// Finish reports the final, possibly partial, day. Later calls return the
// same report without notifying observers again.
func (s *Simulation) Finish() DayReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	day := s.nextMidnight.AddDate(0, 0, -1)
	if s.finished {
		return DayReport{RunID: s.RunID, Day: s.day - 1, Date: day, Stats: s.Stats}
	}
	s.finished = true
	if s.Now().Before(s.end) {
		s.clock.set(s.end)
	}
	rep := s.report(day)
	slog.Info("simulation finished",
		"run", s.RunID,
		"days", s.day,
		"activities", s.Stats.Activities,
		"dead", s.Stats.Dead,
	)
	return rep
}

// report refreshes the statistics, logs them and notifies observers.
func (s *Simulation) report(date time.Time) DayReport {
	s.updateStats()

	counts := make(map[string]int)
	for _, e := range s.Events {
		if !e.Time.Before(date) {
			counts[e.Category]++
		}
	}

	rep := DayReport{RunID: s.RunID, Day: s.day - 1, Date: date, Stats: s.Stats}
	slog.Info("daily report",
		"day", rep.Day,
		"date", date.Format(time.DateOnly),
		"alive", s.Stats.Alive,
		"dead", s.Stats.Dead,
		"hospitalized", s.Stats.Hospitalized,
		"critical", s.Stats.Critical,
		"resting_at_home", s.Stats.RestingAtHome,
		"quarantined", s.Stats.Quarantined,
		"activities", s.Stats.Activities,
		"cancelled", s.Stats.Cancelled,
		"invitations", s.Stats.Invitations,
		"faulted", s.Stats.Faulted,
		"events_death", counts["death"],
		"events_hospital", counts["hospital"],
		"events_recovery", counts["recovery"],
	)
	for _, o := range s.observers {
		o.ObserveDay(rep)
	}
	return rep
}

func (s *Simulation) updateStats() {
	var alive, dead, hosp, crit, rest, quar int
	for _, p := range s.Registry.All() {
		if p.IsDead() {
			dead++
			continue
		}
		alive++
		if p.HospitalLocation() != nil {
			if p.CriticalAt().IsZero() {
				hosp++
			} else {
				crit++
			}
		}
		if p.RestingAtHome() {
			rest++
		}
		if p.Agent().Health.Quarantined {
			quar++
		}
	}
	s.Stats.Alive = alive
	s.Stats.Dead = dead
	s.Stats.Hospitalized = hosp
	s.Stats.Critical = crit
	s.Stats.RestingAtHome = rest
	s.Stats.Quarantined = quar
}

// UpdateHealth applies update to the agent's health. Changes take effect
// when the agent's next activity starts.
func (s *Simulation) UpdateHealth(id agents.AgentID, update func(*agents.Health)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.AgentIndex[id]
	if a == nil {
		return fmt.Errorf("agent %d: %w", id, ErrUnknownAgent)
	}
	update(&a.Health)
	slog.Info("health updated",
		"agent", id,
		"infected", a.Health.Infected(),
		"severity", a.Health.Severity.String(),
		"quarantined", a.Health.Quarantined,
	)
	return nil
}

// CancelActivity cancels the agent's future activity covering at.
func (s *Simulation) CancelActivity(id agents.AgentID, at time.Time) (ActivityRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.Registry.Get(id)
	if p == nil {
		return ActivityRecord{}, fmt.Errorf("agent %d: %w", id, ErrUnknownAgent)
	}
	a, err := p.CancelActivity(at)
	if err != nil {
		return ActivityRecord{}, err
	}
	return RecordOf(a), nil
}

// Schedule returns the agent's activities for day, counted from the start
// with -1 for the initial sleep.
func (s *Simulation) Schedule(id agents.AgentID, day int) ([]ActivityRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p := s.Registry.Get(id)
	if p == nil {
		return nil, fmt.Errorf("agent %d: %w", id, ErrUnknownAgent)
	}
	acts, err := p.GetScheduleForDay(day)
	if err != nil {
		return nil, err
	}
	out := make([]ActivityRecord, len(acts))
	for i, a := range acts {
		out[i] = RecordOf(a)
	}
	return out, nil
}

// AgentSummary is the public view of one agent.
type AgentSummary struct {
	ID        agents.AgentID  `json:"id"`
	Name      string          `json:"name"`
	Age       int             `json:"age"`
	Alive     bool            `json:"alive"`
	Following agents.AgentID  `json:"following,omitempty"`
	Hospital  string          `json:"hospital,omitempty"`
	Resting   bool            `json:"resting_at_home,omitempty"`
	Health    agents.Health   `json:"health"`
	Current   *ActivityRecord `json:"current,omitempty"`
}

// Summaries returns a summary of every agent in ID order.
func (s *Simulation) Summaries() []AgentSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	planners := s.Registry.All()
	out := make([]AgentSummary, 0, len(planners))
	for _, p := range planners {
		out = append(out, summarize(p))
	}
	return out
}

// Summary returns one agent's summary.
func (s *Simulation) Summary(id agents.AgentID) (AgentSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p := s.Registry.Get(id)
	if p == nil {
		return AgentSummary{}, fmt.Errorf("agent %d: %w", id, ErrUnknownAgent)
	}
	return summarize(p), nil
}

func summarize(p *mobility.Planner) AgentSummary {
	a := p.Agent()
	sum := AgentSummary{
		ID:        a.ID,
		Name:      a.Name,
		Age:       a.Age,
		Alive:     !p.IsDead(),
		Following: p.Following(),
		Resting:   p.RestingAtHome(),
		Health:    a.Health,
	}
	if h := p.HospitalLocation(); h != nil {
		sum.Hospital = h.Name()
	}
	if c := p.Current(); c != nil {
		rec := RecordOf(c)
		sum.Current = &rec
	}
	return sum
}

// Status is a point-in-time overview of the run.
type Status struct {
	RunID   string    `json:"run_id"`
	Time    time.Time `json:"time"`
	SimTime string    `json:"sim_time"`
	Day     int       `json:"day"`
	Agents  int       `json:"agents"`
	Stats   SimStats  `json:"stats"`
}

// Status returns the current overview.
func (s *Simulation) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Status{
		RunID:   s.RunID,
		Time:    s.Now(),
		SimTime: s.SimTime(),
		Day:     max(s.day-1, 0),
		Agents:  len(s.Agents),
		Stats:   s.Stats,
	}
}

// RecentEvents returns up to n of the latest events, oldest first.
func (s *Simulation) RecentEvents(n int) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n <= 0 || n > len(s.Events) {
		n = len(s.Events)
	}
	return slices.Clone(s.Events[len(s.Events)-n:])
}
