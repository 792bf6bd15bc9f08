package edge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tinegachris/iot-project-server-room-security/internal/event"
	"github.com/tinegachris/iot-project-server-room-security/internal/sensor"
)

func fastUplink(url string) *Uplink {
	u := NewUplink(url, "device-key", time.Second, zap.NewNop())
	u.newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	return u
}

func doorCandidate() event.Candidate {
	return event.Candidate{
		Type:           event.TypeDoorOpened,
		SourceSensorID: "door-1",
		OccurredAt:     time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC),
		Severity:       event.SeverityWarning,
		Detail:         event.Detail{Message: "Server room door opened"},
	}
}

func TestPostEventAccepted(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/events", r.URL.Path)
		assert.Equal(t, "device-key", r.Header.Get("X-API-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{"log_id": 5, "accepted": true})
	}))
	defer srv.Close()

	accepted, err := fastUplink(srv.URL).PostEvent(context.Background(), doorCandidate())
	require.NoError(t, err)
	assert.True(t, accepted)
	assert.Equal(t, "door_opened", gotBody["event_type"])
	assert.Equal(t, "2026-03-04T10:00:00Z", gotBody["timestamp"])
	assert.Equal(t, "door-1", gotBody["sensor_id"])
}

func TestPostEventDeduplicatedIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{"accepted": false, "reason": "deduplicated"})
	}))
	defer srv.Close()

	accepted, err := fastUplink(srv.URL).PostEvent(context.Background(), doorCandidate())
	require.NoError(t, err)
	assert.False(t, accepted)
	assert.Equal(t, int32(1), calls.Load())
}

func TestPostEventRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{"accepted": true})
	}))
	defer srv.Close()

	accepted, err := fastUplink(srv.URL).PostEvent(context.Background(), doorCandidate())
	require.NoError(t, err)
	assert.True(t, accepted)
	assert.Equal(t, int32(3), calls.Load())
}

func TestPostEventRejectionIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "unknown event type", http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := fastUplink(srv.URL).PostEvent(context.Background(), doorCandidate())
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load(), "a 4xx is never retried")
}

func TestHeartbeatPostsSensorStates(t *testing.T) {
	var gotBody struct {
		Timestamp string          `json:"timestamp"`
		Sensors   []sensor.Status `json:"sensors"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/heartbeat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	at := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	err := fastUplink(srv.URL).Heartbeat(context.Background(), at, []sensor.Status{
		{ID: "motion-1", Kind: sensor.KindMotion},
	})
	require.NoError(t, err)
	assert.Equal(t, "2026-03-04T10:00:00Z", gotBody.Timestamp)
	require.Len(t, gotBody.Sensors, 1)
	assert.Equal(t, "motion-1", gotBody.Sensors[0].ID)
}
