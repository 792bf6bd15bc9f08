package edge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tinegachris/iot-project-server-room-security/internal/config"
	"github.com/tinegachris/iot-project-server-room-security/internal/sensor"
)

// uplinkRecorder is a fake server capturing what the agent sends.
type uplinkRecorder struct {
	mu         sync.Mutex
	events     []map[string]any
	heartbeats int
	srv        *httptest.Server
}

func newUplinkRecorder() *uplinkRecorder {
	r := &uplinkRecorder{}
	r.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		r.mu.Lock()
		defer r.mu.Unlock()
		switch req.URL.Path {
		case "/events":
			var body map[string]any
			_ = json.NewDecoder(req.Body).Decode(&body)
			r.events = append(r.events, body)
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(map[string]any{"accepted": true})
		case "/heartbeat":
			r.heartbeats++
			w.WriteHeader(http.StatusOK)
		}
	}))
	return r
}

func (r *uplinkRecorder) eventTypes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		out = append(out, e["event_type"].(string))
	}
	return out
}

func (r *uplinkRecorder) heartbeatCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.heartbeats
}

func testAgent(t *testing.T, rec *uplinkRecorder, hw *SimulatedHardware) *Agent {
	t.Helper()
	cfg := &config.Edge{
		DeviceID:          "edge-1",
		ServerURL:         rec.srv.URL,
		APIKey:            "device-key",
		HeartbeatInterval: time.Hour,
		SensorPollEvery:   time.Millisecond,
		Sensors: []config.SensorConfig{
			{ID: "door-1", Kind: "door", DebounceWindow: time.Millisecond},
			{ID: "badge-1", Kind: "access"},
		},
	}
	monitor := sensor.NewMonitor([]sensor.Config{
		{ID: "door-1", Kind: sensor.KindDoor, DebounceWindow: time.Millisecond},
	}, zap.NewNop())
	access := sensor.NewAccessReader("badge-1", []string{"CARD-OK"}, time.Second, zap.NewNop())
	uplink := fastUplink(rec.srv.URL)
	return NewAgent(cfg, monitor, access, nil, uplink, hw, hw, zap.NewNop())
}

func TestAgentPublishesDoorTransition(t *testing.T) {
	rec := newUplinkRecorder()
	defer rec.srv.Close()
	hw := NewSimulatedHardware()
	a := testAgent(t, rec, hw)

	base := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	now := base
	a.now = func() time.Time { return now }

	ctx := context.Background()
	a.scan(ctx) // establishes the idle baseline

	now = now.Add(time.Second)
	hw.SetLine("door-1", true)
	a.scan(ctx)

	require.Contains(t, rec.eventTypes(), "door_opened")
}

func TestAgentPublishesAccessEvents(t *testing.T) {
	rec := newUplinkRecorder()
	defer rec.srv.Close()
	hw := NewSimulatedHardware()
	a := testAgent(t, rec, hw)

	now := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return now }

	ctx := context.Background()
	hw.PresentCard("CARD-OK")
	a.scan(ctx)
	hw.PresentCard("CARD-UNKNOWN")
	a.scan(ctx)

	types := rec.eventTypes()
	assert.Contains(t, types, "authorized_access")
	assert.Contains(t, types, "unauthorized_access")
}

func TestAgentMarksDegradedOnReadFailure(t *testing.T) {
	rec := newUplinkRecorder()
	defer rec.srv.Close()
	hw := NewSimulatedHardware()
	a := testAgent(t, rec, hw)
	a.lines = failingReader{}

	a.scan(context.Background())

	var degraded bool
	for _, s := range a.SensorStatus() {
		if s.ID == "door-1" && s.Degraded {
			degraded = true
		}
	}
	assert.True(t, degraded, "a read failure marks the sensor degraded")
	assert.Empty(t, rec.eventTypes(), "read failures never become events")
}

type failingReader struct{}

func (failingReader) Read(context.Context, string) (bool, error) {
	return false, assert.AnError
}

func TestAgentRunSendsInitialHeartbeat(t *testing.T) {
	rec := newUplinkRecorder()
	defer rec.srv.Close()
	hw := NewSimulatedHardware()
	a := testAgent(t, rec, hw)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = a.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return rec.heartbeatCount() >= 1 },
		time.Second, time.Millisecond)
	cancel()
	<-done
}

func TestAgentTestSensors(t *testing.T) {
	rec := newUplinkRecorder()
	defer rec.srv.Close()
	hw := NewSimulatedHardware()
	a := testAgent(t, rec, hw)

	results := a.TestSensors(context.Background())
	assert.Equal(t, "ok", results["door-1"])
	assert.Equal(t, "ok", results["badge-1"])

	a.lines = failingReader{}
	results = a.TestSensors(context.Background())
	assert.Contains(t, results["door-1"], "error")
}
