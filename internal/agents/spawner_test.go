package agents

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/daysim/internal/world"
)

func spawnTestPopulation(t *testing.T, n int) ([]*Agent, *world.Town) {
	t.Helper()
	town := world.Generate(world.SmallTestConfig())
	s := NewSpawner(SpawnConfig{Seed: 7, Agents: n, MaxChildAge: 12, Connections: 4})
	return s.SpawnPopulation(town), town
}

func TestSpawnPopulation(t *testing.T) {
	pop, town := spawnTestPopulation(t, 40)
	require.Len(t, pop, 40)

	seen := make(map[AgentID]bool)
	residents := 0
	for _, a := range pop {
		assert.False(t, seen[a.ID], "duplicate id %d", a.ID)
		seen[a.ID] = true
		assert.True(t, a.Alive)
		assert.NotEmpty(t, a.Name)

		home := town.Location(a.Household)
		require.NotNil(t, home)
		assert.Equal(t, world.KindHousehold, home.Kind)
		assert.Contains(t, home.Residents(), uint64(a.ID))
		assert.Equal(t, home.Coord, a.Home)
	}
	for _, h := range town.Households {
		residents += len(h.Residents())
	}
	assert.Equal(t, 40, residents)
}

func TestFirstResidentIsAdult(t *testing.T) {
	pop, town := spawnTestPopulation(t, 40)
	byID := make(map[AgentID]*Agent)
	for _, a := range pop {
		byID[a.ID] = a
	}
	for _, h := range town.Households {
		ids := h.Residents()
		if len(ids) == 0 {
			continue
		}
		assert.False(t, byID[AgentID(ids[0])].IsChild(12), "household %s", h.Name())
	}
}

func TestOccupations(t *testing.T) {
	pop, town := spawnTestPopulation(t, 60)
	for _, a := range pop {
		if a.DoesNotWork {
			assert.Zero(t, a.Workplace)
			assert.False(t, a.WorksOn(time.Monday))
			continue
		}
		loc := town.Location(a.Workplace)
		require.NotNil(t, loc)
		assert.Len(t, a.WorkingDays, 5)
		if a.Age <= 17 {
			assert.Equal(t, world.KindSchool, loc.Kind)
			assert.Equal(t, 8*time.Hour, a.WorkStart)
		} else {
			assert.Equal(t, world.KindWorkplace, loc.Kind)
		}
	}
}

func TestConnections(t *testing.T) {
	pop, _ := spawnTestPopulation(t, 30)
	for _, a := range pop {
		if a.IsChild(12) {
			assert.Empty(t, a.Connections)
			continue
		}
		assert.NotContains(t, a.Connections, a.ID)
		assert.LessOrEqual(t, len(a.Connections), 4)
		assert.IsNonDecreasing(t, a.Connections)
	}
}

func TestSpawnIsDeterministic(t *testing.T) {
	a, _ := spawnTestPopulation(t, 25)
	b, _ := spawnTestPopulation(t, 25)
	for i := range a {
		assert.Equal(t, a[i].Name, b[i].Name)
		assert.Equal(t, a[i].Age, b[i].Age)
		assert.Equal(t, a[i].Connections, b[i].Connections)
	}
}

func TestHealth(t *testing.T) {
	var h Health
	assert.False(t, h.Infected())
	h.InfectedAt = time.Date(2020, 3, 1, 0, 0, 0, 0, time.UTC)
	assert.True(t, h.Infected())
	assert.False(t, h.Symptomatic())
	h.SymptomsAt = h.InfectedAt.Add(72 * time.Hour)
	assert.True(t, h.Symptomatic())
	h.Recovered = true
	assert.False(t, h.Symptomatic())
	assert.Equal(t, "moderate", SeverityModerate.String())
}
