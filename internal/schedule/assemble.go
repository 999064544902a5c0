package schedule

import (
	"time"

	"github.com/talgya/daysim/internal/agents"
	"github.com/talgya/daysim/internal/config"
)

const day = 24 * time.Hour

// Env carries what assembly needs to know about the owner.
type Env struct {
	Owner     agents.AgentID
	Household Location
	WorkStart time.Duration // Offset from midnight
	Config    *config.Config
	Rand      Rand
}

// window returns the opening hours that constrain a. Unresolved locations
// fall back to the typical hours of their location class.
func (e Env) window(a *Activity) (open, close time.Duration) {
	if a.Location != nil {
		return a.Location.Hours()
	}
	switch a.Kind {
	case KindGrocery:
		return e.Config.Hours.Store.Bounds()
	case KindSocialize:
		return e.Config.Hours.Misc.Bounds()
	case KindExercise:
		return e.Config.Hours.Park.Bounds()
	case KindSleep, KindIdle, KindWork:
		return config.AllDay.Bounds()
	}
	return config.AllDay.Bounds()
}

// Midnight returns the start of t's day.
func Midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func sinceMidnight(t time.Time) time.Duration {
	return t.Sub(Midnight(t))
}

// builder appends activities behind a cursor, the end of the last one.
type builder struct {
	env   Env
	out   []*Activity
	last  *Activity
	awake time.Duration
}

// add clips a to its location's opening window, pads any gap with idle
// time at home, and appends it. Activities starting after closing time are
// dropped silently.
func (b *builder) add(a *Activity) error {
	if a.Start.Before(b.last.End()) {
		return invariant("add", "%s starts before %s ends", a, b.last)
	}

	open, close := b.env.window(a)
	since := sinceMidnight(a.Start)
	if since > close {
		return nil
	}
	if since < open {
		base := Midnight(a.Start)
		if !a.Date.IsZero() {
			base = Midnight(a.Date)
		}
		a.Start = base.Add(open)
		if a.Start.Before(b.last.End()) {
			return nil
		}
		since = open
	}
	if close != day && a.Duration > close-since {
		a.Duration = close - since
	}
	if a.Duration < 0 {
		return invariant("add", "negative duration %s for %s", a.Duration, a)
	}

	if gap := a.Start.Sub(b.last.End()); gap > 0 {
		b.addIdle(gap)
	}
	b.out = append(b.out, a)
	b.last = a
	b.awake += a.Duration
	return nil
}

func (b *builder) addIdle(gap time.Duration) {
	idle := &Activity{
		Start:    b.last.End(),
		Duration: gap,
		Kind:     KindIdle,
		Location: b.env.Household,
		Owner:    b.env.Owner,
	}
	b.out = append(b.out, idle)
	b.last = idle
	b.awake += gap
}

// addSleep closes the day. Sleep starts maxAwake after lastSleep ended; a
// non-positive maxAwake is sampled.
func (b *builder) addSleep(lastSleep *Activity, maxAwake time.Duration) error {
	if maxAwake <= 0 {
		maxAwake = SampleDuration(b.env.Rand, b.env.Config.Durations.Awake)
	}
	sleep := &Activity{
		Start:    lastSleep.End().Add(maxAwake),
		Duration: SampleDuration(b.env.Rand, b.env.Config.Durations.Sleep),
		Kind:     KindSleep,
		Location: b.env.Household,
		Owner:    b.env.Owner,
	}
	if sleep.Start.Before(b.last.End()) {
		if err := HardChange(sleep, b.last, false); err != nil {
			return err
		}
	}
	return b.add(sleep)
}

// HardChange resolves next starting before last ends. Exactly one of the
// two absorbs the conflict: last is shortened when it starts no later than
// next (unless keepLast), otherwise next starts late, or shrinks to nothing
// when it would have finished before last.
func HardChange(next, last *Activity, keepLast bool) error {
	switch {
	case !keepLast && !last.Start.After(next.Start):
		last.AdjustTime(next.Start.Sub(last.End()), false)
	case !next.End().Before(last.End()):
		next.AdjustTime(last.End().Sub(next.Start), true)
	default:
		next.Start = last.End()
		next.Duration = 0
	}
	if next.Duration < 0 || last.Duration < 0 {
		return invariant("hard change", "negative duration between %s and %s", last, next)
	}
	return nil
}

// Patch turns tentative activities (durations only) into a contiguous day
// following prev, which must be sleep. Work starts at the owner's work
// start time on its planned date; everything else starts at the cursor.
// prev may be shortened when work starts before it ends.
func Patch(env Env, prev *Activity, tentative []*Activity) ([]*Activity, error) {
	if prev.Kind != KindSleep {
		return nil, invariant("patch", "previous activity %s is not sleep", prev)
	}

	b := &builder{env: env, last: prev}
	for _, a := range tentative {
		if a.Duration == 0 {
			continue
		}
		if a.Kind == KindWork {
			a.Start = Midnight(a.Date).Add(env.WorkStart)
			if a.Start.Before(b.last.End()) {
				if err := HardChange(a, b.last, false); err != nil {
					return nil, err
				}
			}
		} else {
			a.Start = b.last.End()
		}
		if err := b.add(a); err != nil {
			return nil, err
		}
	}
	if err := b.addSleep(prev, 0); err != nil {
		return nil, err
	}

	out := DropEmpty(b.out)
	if err := CheckContiguous(prev.End(), out); err != nil {
		return nil, err
	}
	return out, nil
}

// PatchDependent derives a dependent's day from an adult's activities.
// The optional work block comes first without touching current. Adult
// activities ending before the cursor are skipped, the one straddling it is
// cut, and the rest are copied as supervised activities tracking the
// adult's originals until the sampled awake budget is spent.
func PatchDependent(env Env, current *Activity, adult []*Activity, work *Activity) ([]*Activity, error) {
	if current.Kind != KindSleep {
		return nil, invariant("patch dependent", "current activity %s is not sleep", current)
	}

	maxAwake := SampleDuration(env.Rand, env.Config.Durations.Awake)
	b := &builder{env: env, last: current}

	if work != nil && work.Duration > 0 {
		work.Start = Midnight(work.Date).Add(env.WorkStart)
		if work.Start.Before(b.last.End()) {
			if err := HardChange(work, b.last, true); err != nil {
				return nil, err
			}
		}
		if err := b.add(work); err != nil {
			return nil, err
		}
	}

	for _, a := range adult {
		if !a.End().After(b.last.End()) {
			continue
		}
		var c *Activity
		if a.Start.Before(b.last.End()) {
			var err error
			if c, err = a.Align(b.last, true, OriginSupervised, env.Owner); err != nil {
				return nil, err
			}
		} else {
			c = a.Clone(OriginSupervised, env.Owner)
		}
		c.Parent = &ParentRef{Owner: a.Owner, At: a.Start.Unix()}
		if err := b.add(c); err != nil {
			return nil, err
		}
		if b.awake > maxAwake {
			break
		}
	}

	if err := b.addSleep(current, maxAwake); err != nil {
		return nil, err
	}

	out := DropEmpty(b.out)
	if err := CheckContiguous(current.End(), out); err != nil {
		return nil, err
	}
	return out, nil
}

// DropEmpty removes zero-length activities other than sleep.
func DropEmpty(acts []*Activity) []*Activity {
	out := acts[:0:0]
	for _, a := range acts {
		if a.Duration == 0 && a.Kind != KindSleep {
			continue
		}
		out = append(out, a)
	}
	return out
}

// CheckContiguous verifies that acts start at from, follow each other
// without gap or overlap, have non-negative durations and end in sleep.
func CheckContiguous(from time.Time, acts []*Activity) error {
	if len(acts) == 0 {
		return invariant("check", "empty schedule")
	}
	cursor := from
	for _, a := range acts {
		if !a.Start.Equal(cursor) {
			return invariant("check", "%s does not start at %s", a, cursor.Format(time.RFC3339))
		}
		if a.Duration < 0 {
			return invariant("check", "negative duration in %s", a)
		}
		cursor = a.End()
	}
	if last := acts[len(acts)-1]; last.Kind != KindSleep {
		return invariant("check", "schedule ends in %s, not sleep", last)
	}
	return nil
}
