package schedule

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/daysim/internal/agents"
	"github.com/talgya/daysim/internal/config"
)

// meanRand returns the mean of every gamma draw and fixed uniform values.
type meanRand struct {
	u   float64
	cat int
}

func (r meanRand) Float64() float64                   { return r.u }
func (r meanRand) IntN(n int) int                     { return 0 }
func (r meanRand) Gamma(shape, scale float64) float64 { return shape * scale }
func (r meanRand) Categorical(w []float64) int        { return r.cat }

type place struct {
	name        string
	open, close time.Duration
}

func (p place) Name() string                          { return p.name }
func (p place) Hours() (time.Duration, time.Duration) { return p.open, p.close }

var (
	d0       = time.Date(2020, time.March, 2, 0, 0, 0, 0, time.UTC)
	home     = place{"home", 0, 24 * time.Hour}
	office   = place{"office", 0, 24 * time.Hour}
	school   = place{"school", 8 * time.Hour, 16 * time.Hour}
	ownerID  = agents.AgentID(1)
	parentID = agents.AgentID(2)
)

func at(h float64) time.Time {
	return d0.Add(time.Duration(h * float64(time.Hour)))
}

func hours(h float64) time.Duration {
	return time.Duration(h * float64(time.Hour))
}

func act(kind Kind, startH, durH float64, loc Location) *Activity {
	return &Activity{Start: at(startH), Duration: hours(durH), Kind: kind, Location: loc, Owner: ownerID, Date: d0}
}

func testEnv(cfg *config.Config) Env {
	if cfg == nil {
		cfg = config.Default()
	}
	return Env{
		Owner:     ownerID,
		Household: home,
		WorkStart: 9 * time.Hour,
		Config:    cfg,
		Rand:      meanRand{},
	}
}

// span is a comparable summary of an activity.
type span struct {
	Kind       Kind
	Start, End float64
}

func spans(acts []*Activity) []span {
	out := make([]span, len(acts))
	for i, a := range acts {
		out[i] = span{a.Kind, a.Start.Sub(d0).Hours(), a.End().Sub(d0).Hours()}
	}
	return out
}

func tentative(kind Kind, durH float64, loc Location) *Activity {
	return &Activity{Duration: hours(durH), Kind: kind, Location: loc, Owner: ownerID, Date: d0}
}

func TestPatchBuildsContiguousDay(t *testing.T) {
	prev := act(KindSleep, 0, 8, home)
	day, err := Patch(testEnv(nil), prev, []*Activity{
		tentative(KindWork, 8, office),
		tentative(KindSocialize, 2, nil),
		tentative(KindGrocery, 1, nil),
		tentative(KindExercise, 0, nil),
	})
	require.NoError(t, err)

	want := []span{
		{KindIdle, 8, 9},
		{KindWork, 9, 17},
		{KindSocialize, 17, 19},
		{KindGrocery, 19, 20},
		{KindIdle, 20, 24},
		{KindSleep, 24, 32},
	}
	if diff := cmp.Diff(want, spans(day)); diff != "" {
		t.Fatalf("day mismatch (-want +got):\n%s", diff)
	}
	require.NoError(t, CheckContiguous(prev.End(), day))
	assert.Equal(t, home, day[0].Location)
	assert.Equal(t, home, day[len(day)-1].Location)
}

func TestPatchRespectsOpeningHours(t *testing.T) {
	t.Run("dropped after closing", func(t *testing.T) {
		prev := act(KindSleep, 0, 8, home)
		day, err := Patch(testEnv(nil), prev, []*Activity{
			tentative(KindWork, 11.5, office),
			tentative(KindGrocery, 1, nil),
		})
		require.NoError(t, err)
		assert.Equal(t, []span{{KindIdle, 8, 9}, {KindWork, 9, 20.5}, {KindIdle, 20.5, 24}, {KindSleep, 24, 32}}, spans(day))
	})

	t.Run("truncated at closing", func(t *testing.T) {
		prev := act(KindSleep, 0, 8, home)
		day, err := Patch(testEnv(nil), prev, []*Activity{
			tentative(KindWork, 10.5, office),
			tentative(KindGrocery, 1, nil),
		})
		require.NoError(t, err)
		assert.Equal(t, []span{{KindIdle, 8, 9}, {KindWork, 9, 19.5}, {KindGrocery, 19.5, 20}, {KindIdle, 20, 24}, {KindSleep, 24, 32}}, spans(day))
	})

	t.Run("pushed to opening", func(t *testing.T) {
		prev := act(KindSleep, 0, 5, home)
		day, err := Patch(testEnv(nil), prev, []*Activity{tentative(KindGrocery, 1, nil)})
		require.NoError(t, err)
		assert.Equal(t, []span{{KindIdle, 5, 8}, {KindGrocery, 8, 9}, {KindIdle, 9, 21}, {KindSleep, 21, 29}}, spans(day))
	})
}

func TestPatchShortensPreviousSleepForEarlyWork(t *testing.T) {
	prev := act(KindSleep, 0, 10, home)
	day, err := Patch(testEnv(nil), prev, []*Activity{tentative(KindWork, 8, office)})
	require.NoError(t, err)

	assert.Equal(t, hours(9), prev.Duration)
	assert.Equal(t, span{KindWork, 9, 17}, spans(day)[0])
	require.NoError(t, CheckContiguous(prev.End(), day))
}

func TestPatchHardChangeDelaysSleep(t *testing.T) {
	cfg := config.Default()
	cfg.Durations.Awake.Mean = 12

	prev := act(KindSleep, 0, 8, home)
	day, err := Patch(testEnv(cfg), prev, []*Activity{
		tentative(KindWork, 12, office),
		tentative(KindSocialize, 3, nil),
	})
	require.NoError(t, err)

	// Sleep wanted to start at 20:00 but socializing runs until the misc
	// closes at 23:00, so sleep starts late and keeps its planned end.
	want := []span{{KindIdle, 8, 9}, {KindWork, 9, 21}, {KindSocialize, 21, 23}, {KindSleep, 23, 28}}
	assert.Equal(t, want, spans(day))
}

func TestPatchRejectsNonSleepPrevious(t *testing.T) {
	_, err := Patch(testEnv(nil), act(KindIdle, 0, 8, home), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvariant))
}

func TestHardChange(t *testing.T) {
	t.Run("shorten last", func(t *testing.T) {
		last, next := act(KindIdle, 8, 4, home), act(KindWork, 10, 8, office)
		require.NoError(t, HardChange(next, last, false))
		assert.Equal(t, hours(2), last.Duration)
		assert.Equal(t, at(10), next.Start)
		assert.Equal(t, hours(8), next.Duration)
	})

	t.Run("keep last and start late", func(t *testing.T) {
		last, next := act(KindSleep, 0, 8.5, home), act(KindWork, 8, 8, school)
		require.NoError(t, HardChange(next, last, true))
		assert.Equal(t, hours(8.5), last.Duration)
		assert.Equal(t, at(8.5), next.Start)
		assert.Equal(t, hours(7.5), next.Duration)
	})

	t.Run("next finishes before last", func(t *testing.T) {
		last, next := act(KindWork, 9, 10, office), act(KindSleep, 8, 4, home)
		require.NoError(t, HardChange(next, last, false))
		assert.Equal(t, at(19), next.Start)
		assert.Zero(t, next.Duration)
		assert.Equal(t, hours(10), last.Duration)
	})
}

func adultDay() []*Activity {
	adult := []*Activity{
		act(KindSleep, 0, 8, home),
		act(KindIdle, 8, 1, home),
		act(KindWork, 9, 8, office),
		act(KindIdle, 17, 7, home),
		act(KindSleep, 24, 8, home),
	}
	for _, a := range adult {
		a.Owner = parentID
	}
	return adult
}

func TestPatchDependentFollowsAdult(t *testing.T) {
	current := act(KindSleep, 0, 8.5, home)
	day, err := PatchDependent(testEnv(nil), current, adultDay(), nil)
	require.NoError(t, err)

	want := []span{
		{KindIdle, 8.5, 9},
		{KindWork, 9, 17},
		{KindIdle, 17, 24},
		{KindSleep, 24, 24.5},
		{KindSleep, 24.5, 32.5},
	}
	assert.Equal(t, want, spans(day))
	assert.Equal(t, hours(8.5), current.Duration)

	for _, a := range day[:4] {
		assert.Equal(t, OriginSupervised, a.Origin)
		assert.Equal(t, ownerID, a.Owner)
		require.NotNil(t, a.Parent)
		assert.Equal(t, parentID, a.Parent.Owner)
	}
	assert.Equal(t, at(8).Unix(), day[0].Parent.At)
	assert.Nil(t, day[4].Parent)
	require.NoError(t, CheckContiguous(current.End(), day))
}

func TestPatchDependentWorkComesFirst(t *testing.T) {
	env := testEnv(nil)
	env.WorkStart = 8 * time.Hour

	current := act(KindSleep, 0, 8.5, home)
	work := tentative(KindWork, 8, school)
	day, err := PatchDependent(env, current, adultDay(), work)
	require.NoError(t, err)

	assert.Equal(t, span{KindWork, 8.5, 16}, spans(day)[0])
	assert.Equal(t, OriginPlanned, day[0].Origin)
	assert.Equal(t, hours(8.5), current.Duration)
	require.NoError(t, CheckContiguous(current.End(), day))
}

func suffixDay() (remaining, suffix []*Activity) {
	remaining = []*Activity{act(KindSleep, 0, 8, home)}
	suffix = []*Activity{
		act(KindIdle, 8, 6, home),
		act(KindExercise, 14, 1, nil),
		act(KindIdle, 15, 9, home),
		act(KindSleep, 24, 8, home),
	}
	return remaining, suffix
}

func TestFitInsertsAndTrimsNeighbours(t *testing.T) {
	remaining, suffix := suffixDay()
	invite := act(KindSocialize, 12, 4, nil)
	invite.Origin = OriginInvitation

	out, ok, err := Fit(remaining, invite, suffix)
	require.NoError(t, err)
	require.True(t, ok)

	want := []span{{KindIdle, 8, 12}, {KindSocialize, 12, 16}, {KindIdle, 16, 24}, {KindSleep, 24, 32}}
	assert.Equal(t, want, spans(out))
	assert.Same(t, invite, out[1])
	assert.Equal(t, OriginCutRight, out[0].Origin)
	assert.Equal(t, OriginCutLeft, out[2].Origin)

	// The original suffix is untouched.
	assert.Equal(t, hours(6), suffix[0].Duration)
	assert.Equal(t, at(15), suffix[2].Start)
}

func TestFitBoundaries(t *testing.T) {
	cases := []struct {
		name       string
		start, dur float64
		want       []span
	}{
		{"at suffix start", 8, 2, []span{{KindSocialize, 8, 10}, {KindIdle, 10, 14}, {KindExercise, 14, 15}, {KindIdle, 15, 24}, {KindSleep, 24, 32}}},
		{"replaces exactly", 14, 1, []span{{KindIdle, 8, 14}, {KindSocialize, 14, 15}, {KindIdle, 15, 24}, {KindSleep, 24, 32}}},
		{"inside one entry", 16, 2, []span{{KindIdle, 8, 14}, {KindExercise, 14, 15}, {KindIdle, 15, 16}, {KindSocialize, 16, 18}, {KindIdle, 18, 24}, {KindSleep, 24, 32}}},
		{"into sleep", 23, 2, []span{{KindIdle, 8, 14}, {KindExercise, 14, 15}, {KindIdle, 15, 23}, {KindSocialize, 23, 25}, {KindSleep, 25, 32}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			remaining, suffix := suffixDay()
			out, ok, err := Fit(remaining, act(KindSocialize, tc.start, tc.dur, nil), suffix)
			require.NoError(t, err)
			require.True(t, ok)
			if diff := cmp.Diff(tc.want, spans(out)); diff != "" {
				t.Fatalf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFitRejects(t *testing.T) {
	cases := []struct {
		name       string
		start, dur float64
	}{
		{"starts before boundary", 7, 3},
		{"inside boundary", 2, 3},
		{"beyond closing sleep", 30, 3},
		{"ends with closing sleep", 28, 4},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			remaining, suffix := suffixDay()
			before := spans(suffix)
			out, ok, err := Fit(remaining, act(KindSocialize, tc.start, tc.dur, nil), suffix)
			require.NoError(t, err)
			assert.False(t, ok)
			assert.Nil(t, out)
			assert.Equal(t, before, spans(suffix))
			assert.Equal(t, hours(8), remaining[0].Duration)
		})
	}

	t.Run("overlaps work", func(t *testing.T) {
		remaining := []*Activity{act(KindSleep, 0, 8, home)}
		suffix := []*Activity{act(KindIdle, 8, 1, home), act(KindWork, 9, 8, office), act(KindIdle, 17, 7, home), act(KindSleep, 24, 8, home)}
		for _, start := range []float64{8, 10, 16} {
			_, ok, err := Fit(remaining, act(KindSocialize, start, 2, nil), suffix)
			require.NoError(t, err)
			assert.False(t, ok, "start %v", start)
		}
		_, ok, err := Fit(remaining, act(KindSocialize, 17, 2, nil), suffix)
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestFitInvariantErrors(t *testing.T) {
	_, suffix := suffixDay()
	_, _, err := Fit([]*Activity{act(KindSleep, 0, 8, home)}, act(KindSocialize, 12, 1, nil), suffix[:3])
	assert.ErrorIs(t, err, ErrInvariant)

	_, _, err = Fit([]*Activity{act(KindSleep, 0, 7, home)}, act(KindSocialize, 12, 1, nil), suffix)
	assert.ErrorIs(t, err, ErrInvariant)

	var ie *InvariantError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "fit", ie.Op)
}

func TestFitAfterCurrentActivity(t *testing.T) {
	current := act(KindIdle, 8, 2, home)
	today := []*Activity{act(KindGrocery, 10, 1, nil), act(KindIdle, 11, 13, home), act(KindSleep, 24, 8, home)}
	out, ok, err := Fit([]*Activity{current}, act(KindSocialize, 14, 2, nil), today)
	require.NoError(t, err)
	require.True(t, ok)
	want := []span{{KindGrocery, 10, 11}, {KindIdle, 11, 14}, {KindSocialize, 14, 16}, {KindIdle, 16, 24}, {KindSleep, 24, 32}}
	assert.Equal(t, want, spans(out))
	assert.Equal(t, hours(2), current.Duration)
}

func TestCheckContiguous(t *testing.T) {
	_, suffix := suffixDay()
	require.NoError(t, CheckContiguous(at(8), suffix))
	assert.ErrorIs(t, CheckContiguous(at(7), suffix), ErrInvariant)
	assert.ErrorIs(t, CheckContiguous(at(8), suffix[:3]), ErrInvariant)
	assert.ErrorIs(t, CheckContiguous(at(8), nil), ErrInvariant)

	gap := []*Activity{act(KindIdle, 8, 1, home), act(KindSleep, 10, 8, home)}
	assert.ErrorIs(t, CheckContiguous(at(8), gap), ErrInvariant)
}

func TestActivityHelpers(t *testing.T) {
	a := act(KindSocialize, 12, 2, nil)
	a.Origin = OriginInvitation
	a.Parent = &ParentRef{Owner: parentID, At: at(12).Unix()}

	c := a.Clone(OriginClone, 9)
	assert.Equal(t, agents.AgentID(9), c.Owner)
	require.NotNil(t, c.Parent)
	assert.NotSame(t, a.Parent, c.Parent)
	assert.Equal(t, *a.Parent, *c.Parent)

	a.CancelAndGo("quarantine", home)
	assert.Equal(t, "invitation-socialize-quarantine", a.Label())
	assert.Equal(t, at(12), a.Start)
	assert.Equal(t, hours(2), a.Duration)
	assert.True(t, a.Cancelled)

	_, err := act(KindIdle, 8, 1, home).Align(act(KindWork, 12, 1, office), true, OriginCutLeft, ownerID)
	assert.ErrorIs(t, err, ErrInvariant)

	b := act(KindIdle, 8, 4, home)
	b.AdjustTime(time.Hour, true)
	assert.Equal(t, span{KindIdle, 9, 12}, spans([]*Activity{b})[0])
	b.AdjustTime(time.Hour, false)
	assert.Equal(t, span{KindIdle, 9, 13}, spans([]*Activity{b})[0])

	assert.Equal(t, a.Range().End-a.Range().Start, int64(7200))
}

func TestHospitalizeAndRevert(t *testing.T) {
	hospital := place{"hospital", 0, 24 * time.Hour}
	a := act(KindWork, 9, 8, office)
	a.Hospitalize("hospitalized", hospital)
	assert.True(t, a.Cancelled)
	assert.True(t, a.Hospitalized)
	assert.Equal(t, hospital, a.Location)

	a.RevertHospitalized(office)
	assert.False(t, a.Cancelled)
	assert.False(t, a.Hospitalized)
	assert.Equal(t, "recovered", a.Reason)
	assert.Equal(t, office, a.Location)
	assert.Equal(t, hours(8), a.Duration)
}

func TestKindNames(t *testing.T) {
	for k := KindSleep; k <= KindIdle; k++ {
		got, err := ParseKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}
	_, err := ParseKind("nap")
	assert.Error(t, err)
}

func TestGuests(t *testing.T) {
	g := NewGuests()
	g.Add(5)
	g.Add(3)
	g.Add(5)
	assert.Equal(t, 2, g.Len())
	assert.True(t, g.Has(3))
	g.Remove(3)
	assert.False(t, g.Has(3))
	assert.Equal(t, []agents.AgentID{5}, g.IDs())
}

type bigRand struct{ meanRand }

func (bigRand) Gamma(shape, scale float64) float64 { return 1000 }

func TestSampleDuration(t *testing.T) {
	spec := config.DurationSpec{Mean: 1.5, Scale: 0.5, Max: 4}
	assert.Equal(t, 90*time.Minute, SampleDuration(meanRand{}, spec))
	assert.Equal(t, 4*time.Hour, SampleDuration(bigRand{}, spec))
}

func TestPresample(t *testing.T) {
	d := config.Default().Durations
	d.Grocery = config.DurationSpec{Mean: 1, Scale: 0.5, Max: 4}
	got := Presample(meanRand{}, d, []config.DayWeight{{Days: 2, Weight: 1}}, KindGrocery, 7)
	want := []time.Duration{0, 0, time.Hour, 0, time.Hour, 0, time.Hour}
	assert.Equal(t, want, got)

	assert.Equal(t, make([]time.Duration, 3), Presample(meanRand{}, d, nil, KindGrocery, 3))
}
