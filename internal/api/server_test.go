package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/talgya/daysim/internal/config"
	"github.com/talgya/daysim/internal/engine"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const adminKey = "secret"

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	cfg := config.Default()
	cfg.Simulation.Days = 2
	cfg.Simulation.Agents = 12
	cfg.Simulation.Workers = 2
	cfg.Town.Radius = 4
	cfg.Town.Households = 4
	sim, err := engine.Build(cfg)
	require.NoError(t, err)

	s := NewServer(sim, engine.NewEngine(sim), nil, "")
	s.AdminKey = adminKey
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	t.Cleanup(func() { require.NoError(t, s.Shutdown(context.Background())) })
	return s, ts
}

func get(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func post(t *testing.T, url, key string, body any, out any) int {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(b))
	require.NoError(t, err)
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestStatusAndAgents(t *testing.T) {
	s, ts := newTestServer(t)

	var status map[string]any
	require.Equal(t, http.StatusOK, get(t, ts.URL+"/api/v1/status", &status))
	assert.Equal(t, s.Sim.RunID, status["run_id"])
	assert.Equal(t, "Day 1, 0:00", status["sim_time"])
	assert.Equal(t, false, status["running"])

	var all []engine.AgentSummary
	require.Equal(t, http.StatusOK, get(t, ts.URL+"/api/v1/agents", &all))
	assert.Len(t, all, 12)

	var dead []engine.AgentSummary
	require.Equal(t, http.StatusOK, get(t, ts.URL+"/api/v1/agents?alive=false", &dead))
	assert.Empty(t, dead)

	var one engine.AgentSummary
	require.Equal(t, http.StatusOK, get(t, fmt.Sprintf("%s/api/v1/agent/%d", ts.URL, all[0].ID), &one))
	assert.Equal(t, all[0].Name, one.Name)

	assert.Equal(t, http.StatusNotFound, get(t, ts.URL+"/api/v1/agent/9999", nil))
	assert.Equal(t, http.StatusBadRequest, get(t, ts.URL+"/api/v1/agent/abc", nil))
	assert.Equal(t, http.StatusNotFound, get(t, ts.URL+"/api/v1/agent/1/nope", nil))
}

func TestSchedule(t *testing.T) {
	s, ts := newTestServer(t)
	id := s.Sim.Agents[0].ID

	var resp struct {
		Day        int                     `json:"day"`
		Activities []engine.ActivityRecord `json:"activities"`
	}
	require.Equal(t, http.StatusOK, get(t, fmt.Sprintf("%s/api/v1/agent/%d/schedule?day=0", ts.URL, id), &resp))
	require.NotEmpty(t, resp.Activities)
	assert.Equal(t, "sleep", resp.Activities[len(resp.Activities)-1].Kind)

	assert.Equal(t, http.StatusNotFound, get(t, fmt.Sprintf("%s/api/v1/agent/%d/schedule?day=99", ts.URL, id), nil))
	assert.Equal(t, http.StatusBadRequest, get(t, fmt.Sprintf("%s/api/v1/agent/%d/schedule?day=x", ts.URL, id), nil))

	var sleeps struct {
		Activities []engine.ActivityRecord `json:"activities"`
	}
	require.Equal(t, http.StatusOK, get(t, fmt.Sprintf("%s/api/v1/agent/%d/schedule?day=0&kind=sleep", ts.URL, id), &sleeps))
	require.NotEmpty(t, sleeps.Activities)
	for _, a := range sleeps.Activities {
		assert.Equal(t, "sleep", a.Kind)
	}
	assert.Less(t, len(sleeps.Activities), len(resp.Activities))
	assert.Equal(t, http.StatusBadRequest, get(t, fmt.Sprintf("%s/api/v1/agent/%d/schedule?day=0&kind=nap", ts.URL, id), nil))
}

func TestAdminAuth(t *testing.T) {
	s, ts := newTestServer(t)
	url := ts.URL + "/api/v1/speed"

	assert.Equal(t, http.StatusUnauthorized, post(t, url, "", map[string]float64{"speed": 5}, nil))
	assert.Equal(t, http.StatusUnauthorized, post(t, url, "wrong", map[string]float64{"speed": 5}, nil))

	var got map[string]float64
	require.Equal(t, http.StatusOK, post(t, url, adminKey, map[string]float64{"speed": 5}, &got))
	assert.Equal(t, 5.0, got["speed"])
	assert.Equal(t, 5.0, s.Eng.Speed())
	assert.Equal(t, http.StatusBadRequest, post(t, url, adminKey, map[string]float64{"speed": -1}, nil))

	// Reads stay public.
	require.Equal(t, http.StatusOK, get(t, url, &got))

	off := NewServer(s.Sim, s.Eng, nil, "")
	defer off.Shutdown(context.Background())
	rr := httptest.NewRecorder()
	off.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/speed", strings.NewReader(`{"speed":1}`)))
	assert.Equal(t, http.StatusForbidden, rr.Code, "no admin key disables POST")
}

func TestCancelActivity(t *testing.T) {
	s, ts := newTestServer(t)
	id := s.Sim.Agents[0].ID
	day, err := s.Sim.Schedule(id, 0)
	require.NoError(t, err)

	var target, sleep *engine.ActivityRecord
	for i := range day {
		switch {
		case day[i].Kind == "sleep" && sleep == nil:
			sleep = &day[i]
		case day[i].Kind != "sleep" && target == nil:
			target = &day[i]
		}
	}
	require.NotNil(t, target)
	require.NotNil(t, sleep)

	url := fmt.Sprintf("%s/api/v1/agent/%d/cancel", ts.URL, id)
	var rec engine.ActivityRecord
	require.Equal(t, http.StatusOK, post(t, url, adminKey, map[string]time.Time{"at": target.Start}, &rec))
	assert.True(t, rec.Cancelled)
	assert.Equal(t, "manual-override", rec.Reason)
	assert.True(t, target.Start.Equal(rec.Start))

	assert.Equal(t, http.StatusConflict, post(t, url, adminKey, map[string]time.Time{"at": sleep.Start}, nil))
	assert.Equal(t, http.StatusBadRequest, post(t, url, adminKey, map[string]string{}, nil))
	assert.Equal(t, http.StatusNotFound, post(t, url, adminKey, map[string]time.Time{"at": s.Sim.End().AddDate(1, 0, 0)}, nil))
}

func TestHealthUpdate(t *testing.T) {
	s, ts := newTestServer(t)
	id := s.Sim.Agents[0].ID
	url := fmt.Sprintf("%s/api/v1/agent/%d/health", ts.URL, id)

	var sum engine.AgentSummary
	require.Equal(t, http.StatusOK, post(t, url, adminKey, map[string]any{
		"infected_at": s.Sim.Start(),
		"severity":    "mild",
		"quarantined": true,
	}, &sum))
	assert.True(t, sum.Health.Quarantined)
	assert.Equal(t, "mild", sum.Health.Severity.String())
	assert.True(t, sum.Health.Infected())

	// Absent fields are left alone.
	require.Equal(t, http.StatusOK, post(t, url, adminKey, map[string]any{"quarantined": false}, &sum))
	assert.False(t, sum.Health.Quarantined)
	assert.Equal(t, "mild", sum.Health.Severity.String())

	assert.Equal(t, http.StatusBadRequest, post(t, url, adminKey, map[string]any{"severity": "awful"}, nil))
	assert.Equal(t, http.StatusNotFound, post(t, ts.URL+"/api/v1/agent/9999/health", adminKey, map[string]any{}, nil))
}

func TestEventsAndSnapshotWithoutDB(t *testing.T) {
	_, ts := newTestServer(t)
	var events []engine.Event
	require.Equal(t, http.StatusOK, get(t, ts.URL+"/api/v1/events?limit=5", &events))
	assert.Empty(t, events)
	assert.Equal(t, http.StatusServiceUnavailable, post(t, ts.URL+"/api/v1/snapshot", adminKey, struct{}{}, nil))
}

func dialStream(t *testing.T, ts *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/stream" + query
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	return conn
}

func TestStreamDeliversActivities(t *testing.T) {
	s, ts := newTestServer(t)
	id := s.Sim.Agents[0].ID
	everyone := dialStream(t, ts, "")
	defer everyone.Close()
	one := dialStream(t, ts, fmt.Sprintf("?agent=%d", id))
	defer one.Close()
	require.Eventually(t, func() bool { return s.hub.Len() == 2 }, time.Second, 5*time.Millisecond)

	// Midnight, then everyone's first activity.
	for range 2 {
		_, _, err := s.Sim.Step(context.Background())
		require.NoError(t, err)
	}

	seen := map[uint64]bool{}
	for range len(s.Sim.Agents) {
		var m StreamMessage
		require.NoError(t, everyone.SetReadDeadline(time.Now().Add(2*time.Second)))
		require.NoError(t, everyone.ReadJSON(&m))
		require.Equal(t, "activity", m.Type)
		require.NotNil(t, m.Activity)
		seen[uint64(m.Activity.Agent)] = true
	}
	assert.Len(t, seen, len(s.Sim.Agents))

	var m StreamMessage
	require.NoError(t, one.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, one.ReadJSON(&m))
	require.NotNil(t, m.Activity)
	assert.Equal(t, id, m.Activity.Agent)
	assert.Equal(t, "sleep", m.Activity.Kind)
}

func TestStreamClosesOnShutdown(t *testing.T) {
	s, ts := newTestServer(t)
	conn := dialStream(t, ts, "")
	defer conn.Close()
	require.Eventually(t, func() bool { return s.hub.Len() == 1 }, time.Second, 5*time.Millisecond)

	s.hub.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
	assert.Zero(t, s.hub.Len())
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(2, time.Hour)
	defer rl.Stop()

	assert.Zero(t, rl.Take("1.2.3.4"))
	assert.Zero(t, rl.Take("1.2.3.4"))
	wait := rl.Take("1.2.3.4")
	assert.Greater(t, wait, time.Duration(0))
	assert.LessOrEqual(t, wait, time.Hour)
	assert.Zero(t, rl.Take("5.6.7.8"), "windows are per client")

	h := rl.Limit(func(w http.ResponseWriter, r *http.Request) {})
	for i, want := range []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests} {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.Header.Set("X-Forwarded-For", "10.0.0.1, 10.0.0.2")
		rr := httptest.NewRecorder()
		h(rr, req)
		assert.Equal(t, want, rr.Code, "request %d", i)
	}

	rl.Stop()
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	assert.Equal(t, "192.0.2.1", clientIP(req))
	req.Header.Set("X-Forwarded-For", " 203.0.113.5 , 10.0.0.1")
	assert.Equal(t, "203.0.113.5", clientIP(req))
}
