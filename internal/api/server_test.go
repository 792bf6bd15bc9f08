package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tinegachris/iot-project-server-room-security/internal/config"
	"github.com/tinegachris/iot-project-server-room-security/internal/event"
	"github.com/tinegachris/iot-project-server-room-security/internal/eventlog"
	"github.com/tinegachris/iot-project-server-room-security/internal/ingest"
	"github.com/tinegachris/iot-project-server-room-security/internal/sensor"
	"github.com/tinegachris/iot-project-server-room-security/internal/status"
)

type fakeSubmitter struct {
	result    ingest.Result
	err       error
	lastCand  event.Candidate
	submitted int
}

func (f *fakeSubmitter) Submit(_ context.Context, c event.Candidate) (ingest.Result, error) {
	f.submitted++
	f.lastCand = c
	return f.result, f.err
}

type fakeLogReader struct {
	logs    []event.Logged
	listErr error
	ackErr  error
	lastF   eventlog.Filter
	ackedID int64
}

func (f *fakeLogReader) List(_ context.Context, filter eventlog.Filter) ([]event.Logged, error) {
	f.lastF = filter
	return f.logs, f.listErr
}

func (f *fakeLogReader) Acknowledge(_ context.Context, id int64) error {
	f.ackedID = id
	return f.ackErr
}

type fakeStatusSource struct {
	snap        status.Snapshot
	heartbeatAt time.Time
	sensors     []sensor.Status
}

func (f *fakeStatusSource) Snapshot() status.Snapshot { return f.snap }

func (f *fakeStatusSource) RecordHeartbeat(at time.Time, sensors []sensor.Status) {
	f.heartbeatAt = at
	f.sensors = sensors
}

type fakeEdge struct {
	result map[string]any
	err    error
	action string
	params map[string]any
}

func (f *fakeEdge) Command(_ context.Context, action string, params map[string]any) (map[string]any, error) {
	f.action = action
	f.params = params
	return f.result, f.err
}

type serverFixture struct {
	server    *Server
	submitter *fakeSubmitter
	logs      *fakeLogReader
	status    *fakeStatusSource
	edge      *fakeEdge
}

func newFixture() *serverFixture {
	f := &serverFixture{
		submitter: &fakeSubmitter{},
		logs:      &fakeLogReader{},
		status:    &fakeStatusSource{},
		edge:      &fakeEdge{result: map[string]any{"status": "ok"}},
	}
	cfg := &config.Server{
		HTTPAddr:        ":0",
		DeviceAPIKeys:   map[string]string{"device-key-1": "edge-1"},
		ClientTokens:    []string{"client-token-1"},
		EdgeCallTimeout: time.Second,
		RateLimit:       1000,
	}
	f.server = NewServer(cfg, f.submitter, f.logs, f.status, f.edge, zap.NewNop())
	return f
}

func (f *serverFixture) do(method, path string, body any, auth func(*http.Request)) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "10.1.2.3:49152"
	if auth != nil {
		auth(req)
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func asDevice(req *http.Request) { req.Header.Set("X-API-Key", "device-key-1") }
func asClient(req *http.Request) { req.Header.Set("Authorization", "Bearer client-token-1") }

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestPostEventsAccepted(t *testing.T) {
	f := newFixture()
	f.submitter.result = ingest.Result{Event: &event.Logged{ID: 7}}

	rec := f.do(http.MethodPost, "/events", map[string]any{
		"event_type": "door_opened",
		"timestamp":  "2026-03-04T10:00:00Z",
		"sensor_id":  "door-1",
		"detail":     map[string]any{"message": "Server room door opened"},
	}, asDevice)

	require.Equal(t, http.StatusCreated, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["accepted"])
	assert.Equal(t, float64(7), body["log_id"])
	assert.Equal(t, event.TypeDoorOpened, f.submitter.lastCand.Type)
	assert.Equal(t, "door-1", f.submitter.lastCand.SourceSensorID)
}

func TestPostEventsDeduplicated(t *testing.T) {
	f := newFixture()
	f.submitter.result = ingest.Result{Suppressed: true}

	rec := f.do(http.MethodPost, "/events", map[string]any{
		"event_type": "motion_detected",
		"detail":     map[string]any{"message": "Motion detected in server room"},
	}, asDevice)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, false, body["accepted"])
	assert.Equal(t, "deduplicated", body["reason"])
}

func TestPostEventsRejectsInvalid(t *testing.T) {
	f := newFixture()
	f.submitter.err = ingest.ErrInvalid

	rec := f.do(http.MethodPost, "/events", map[string]any{
		"event_type": "flood",
		"detail":     map[string]any{"message": "x"},
	}, asDevice)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPostEventsRequiresDeviceKey(t *testing.T) {
	f := newFixture()

	rec := f.do(http.MethodPost, "/events", map[string]any{
		"event_type": "door_opened",
		"detail":     map[string]any{"message": "x"},
	}, nil)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, 0, f.submitter.submitted, "no log row for rejected requests")

	rec = f.do(http.MethodPost, "/events", nil, func(req *http.Request) {
		req.Header.Set("X-API-Key", "wrong")
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPostHeartbeatRecords(t *testing.T) {
	f := newFixture()

	rec := f.do(http.MethodPost, "/heartbeat", map[string]any{
		"timestamp": "2026-03-04T10:00:00Z",
		"sensors":   []map[string]any{{"id": "motion-1", "kind": "motion"}},
	}, asDevice)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC), f.status.heartbeatAt)
	require.Len(t, f.status.sensors, 1)
	assert.Equal(t, "motion-1", f.status.sensors[0].ID)
}

func TestPostHeartbeatClampsFutureTimestamp(t *testing.T) {
	f := newFixture()
	future := time.Now().Add(48 * time.Hour)

	rec := f.do(http.MethodPost, "/heartbeat", map[string]any{
		"timestamp": future.UTC().Format(time.RFC3339),
	}, asDevice)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, f.status.heartbeatAt.After(time.Now()),
		"heartbeat recorded ahead of receipt time")
}

func TestGetStatusRequiresBearer(t *testing.T) {
	f := newFixture()

	rec := f.do(http.MethodGet, "/status", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// A device key is not a client credential.
	rec = f.do(http.MethodGet, "/status", nil, asDevice)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGetStatusReturnsSnapshot(t *testing.T) {
	f := newFixture()
	f.status.snap = status.Snapshot{Status: status.Healthy, EdgeOnline: true}

	rec := f.do(http.MethodGet, "/status", nil, asClient)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, true, body["edge_online"])
}

func TestGetLogsPassesFilter(t *testing.T) {
	f := newFixture()
	f.logs.logs = []event.Logged{{ID: 1, Type: event.TypeDoorOpened}}

	rec := f.do(http.MethodGet,
		"/logs?limit=10&event_type=door_opened&start_date=2026-03-01&end_date=2026-03-04T10:00:00Z",
		nil, asClient)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 10, f.logs.lastF.Limit)
	assert.Equal(t, "door_opened", f.logs.lastF.EventType)
	require.NotNil(t, f.logs.lastF.StartDate)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), *f.logs.lastF.StartDate)
	require.NotNil(t, f.logs.lastF.EndDate)

	body := decode(t, rec)
	assert.Len(t, body["logs"], 1)
}

func TestGetLogsEmptyResultIsEmptyArray(t *testing.T) {
	f := newFixture()

	rec := f.do(http.MethodGet, "/logs", nil, asClient)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"logs":[]}`, rec.Body.String())
}

func TestGetLogsRejectsBadLimit(t *testing.T) {
	f := newFixture()

	rec := f.do(http.MethodGet, "/logs?limit=-1", nil, asClient)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPostAlertCreatesManualEvent(t *testing.T) {
	f := newFixture()
	f.submitter.result = ingest.Result{Event: &event.Logged{ID: 11}}

	rec := f.do(http.MethodPost, "/alert", map[string]any{
		"message":   "Evacuate the server room",
		"dedup_key": "manual:evacuation",
	}, asClient)

	require.Equal(t, http.StatusCreated, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, float64(11), body["log_id"])
	assert.Equal(t, event.TypeManualAlert, f.submitter.lastCand.Type)
	assert.Equal(t, "manual:evacuation", f.submitter.lastCand.ExplicitDedupKey)
}

func TestPostControlForwardsToEdge(t *testing.T) {
	f := newFixture()
	f.edge.result = map[string]any{"status": "locked"}

	rec := f.do(http.MethodPost, "/control", map[string]any{
		"action":     "lock",
		"parameters": map[string]any{"target": "door"},
	}, asClient)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "lock", f.edge.action)
	assert.Equal(t, map[string]any{"target": "door"}, f.edge.params)
	body := decode(t, rec)
	assert.Equal(t, "locked", body["status"])
}

func TestPostControlTimeout(t *testing.T) {
	f := newFixture()
	f.edge.err = context.DeadlineExceeded

	rec := f.do(http.MethodPost, "/control", map[string]any{"action": "lock"}, asClient)
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
}

func TestPostAcknowledge(t *testing.T) {
	f := newFixture()

	rec := f.do(http.MethodPost, "/acknowledge", map[string]any{"event_id": 9}, asClient)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(9), f.logs.ackedID)

	f.logs.ackErr = eventlog.ErrNotFound
	rec = f.do(http.MethodPost, "/acknowledge", map[string]any{"event_id": 10}, asClient)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture()

	rec := f.do(http.MethodGet, "/events", nil, asDevice)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRateLimitExceeded(t *testing.T) {
	f := &serverFixture{
		submitter: &fakeSubmitter{},
		logs:      &fakeLogReader{},
		status:    &fakeStatusSource{},
		edge:      &fakeEdge{},
	}
	cfg := &config.Server{
		DeviceAPIKeys:   map[string]string{"device-key-1": "edge-1"},
		ClientTokens:    []string{"client-token-1"},
		EdgeCallTimeout: time.Second,
		RateLimit:       2,
	}
	f.server = NewServer(cfg, f.submitter, f.logs, f.status, f.edge, zap.NewNop())

	for i := 0; i < 2; i++ {
		rec := f.do(http.MethodGet, "/status", nil, asClient)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := f.do(http.MethodGet, "/status", nil, asClient)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestInternalErrorsAreOpaque(t *testing.T) {
	f := newFixture()
	f.submitter.err = errors.New("pq: connection refused")

	rec := f.do(http.MethodPost, "/events", map[string]any{
		"event_type": "door_opened",
		"detail":     map[string]any{"message": "x"},
	}, asDevice)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "pq:", "driver errors must not leak")
}
