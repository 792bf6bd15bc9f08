package poll

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

	"github.com/tinegachris/iot-project-server-room-security/internal/event"
	"github.com/tinegachris/iot-project-server-room-security/internal/status"
)

type pollServer struct {
	mu        sync.Mutex
	logs      []event.Logged
	afterIDs  []string
	statusErr bool
	logsErr   bool
}

func (s *pollServer) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer client-token", r.Header.Get("Authorization"))
		s.mu.Lock()
		fail := s.statusErr
		s.mu.Unlock()
		if fail {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(status.Snapshot{Status: status.Healthy, EdgeOnline: true})
	})
	mux.HandleFunc("/logs", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer client-token", r.Header.Get("Authorization"))
		s.mu.Lock()
		s.afterIDs = append(s.afterIDs, r.URL.Query().Get("after_id"))
		logs := s.logs
		s.logs = nil
		fail := s.logsErr
		s.mu.Unlock()
		if fail {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		if logs == nil {
			logs = []event.Logged{}
		}
		json.NewEncoder(w).Encode(map[string]any{"logs": logs})
	})
	return mux
}

func newHTTPPollerFixture(t *testing.T) (*pollServer, *HTTPPoller) {
	srv := &pollServer{}
	ts := httptest.NewServer(srv.handler(t))
	t.Cleanup(ts.Close)
	return srv, NewHTTPPoller(ts.URL, "client-token", time.Second, zap.NewNop())
}

func TestHTTPPollerFetchesStatusAndLogDelta(t *testing.T) {
	srv, poller := newHTTPPollerFixture(t)
	srv.logs = []event.Logged{
		{ID: 2, Type: event.TypeMotionDetected},
		{ID: 1, Type: event.TypeDoorOpened},
	}

	var gotSnap status.Snapshot
	var gotLogs []event.Logged
	poller.OnStatus = func(s status.Snapshot) { gotSnap = s }
	poller.OnLogs = func(l []event.Logged) { gotLogs = append(gotLogs, l...) }

	require.NoError(t, poller.Poll(context.Background()))
	assert.True(t, gotSnap.EdgeOnline)
	require.Len(t, gotLogs, 2)
	assert.Equal(t, int64(2), poller.Cursor())

	// Second round starts from the cursor and sees no new rows.
	require.NoError(t, poller.Poll(context.Background()))
	assert.Len(t, gotLogs, 2)
	assert.Equal(t, int64(2), poller.Cursor())

	srv.mu.Lock()
	defer srv.mu.Unlock()
	assert.Equal(t, []string{"0", "2"}, srv.afterIDs)
}

func TestHTTPPollerStatusFailureFailsPoll(t *testing.T) {
	srv, poller := newHTTPPollerFixture(t)
	srv.statusErr = true

	err := poller.Poll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 500")
}

func TestHTTPPollerKeepsCursorWhenLogsFail(t *testing.T) {
	srv, poller := newHTTPPollerFixture(t)
	srv.logs = []event.Logged{{ID: 7, Type: event.TypeDoorOpened}}
	srv.logsErr = true

	delivered := false
	poller.OnStatus = func(status.Snapshot) { delivered = true }

	require.Error(t, poller.Poll(context.Background()))
	assert.Equal(t, int64(0), poller.Cursor())
	assert.False(t, delivered, "partial poll must not hand off results")
}

func TestHTTPPollerDrivenByClient(t *testing.T) {
	srv, poller := newHTTPPollerFixture(t)
	srv.logs = []event.Logged{{ID: 4, Type: event.TypeManualAlert}}

	var mu sync.Mutex
	var rows int
	poller.OnLogs = func(l []event.Logged) {
		mu.Lock()
		rows += len(l)
		mu.Unlock()
	}

	clock := newFakeClock()
	client := NewClient(poller, time.Second, DefaultSuspensionThreshold, clock, zap.NewNop())
	client.Start(context.Background())
	t.Cleanup(client.Stop)

	// The immediate first poll pulls the pending row.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return rows == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(4), poller.Cursor())
}
