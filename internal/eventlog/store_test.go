package eventlog

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tinegachris/iot-project-server-room-security/internal/event"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(sqlx.NewDb(db, "sqlmock"), zap.NewNop()), mock
}

func doorCandidate(ts time.Time) event.Candidate {
	return event.Candidate{
		Type:           event.TypeDoorOpened,
		SourceSensorID: "door-1",
		OccurredAt:     ts,
		Severity:       event.SeverityWarning,
		Detail: event.Detail{
			Message:    "Door opened in server room",
			SensorData: map[string]string{"sensor_id": "door-1"},
		},
	}
}

func TestInsertIfAbsentInserted(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectQuery("INSERT INTO events").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))

	logged, inserted, err := store.InsertIfAbsent(context.Background(), doorCandidate(now), now, time.Minute)
	require.NoError(t, err)
	assert.True(t, inserted)
	require.NotNil(t, logged)
	assert.Equal(t, int64(7), logged.ID)
	assert.Equal(t, "door_opened:door-1", logged.DedupKey)
	assert.Equal(t, event.DispatchPending, logged.DispatchStatus)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertIfAbsentSuppressedByCooldown(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()

	// The conditional insert returns no rows when the cooldown check fails.
	mock.ExpectQuery("INSERT INTO events").WillReturnError(sql.ErrNoRows)

	logged, inserted, err := store.InsertIfAbsent(context.Background(), doorCandidate(now), now, time.Minute)
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Nil(t, logged)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordAttemptUpserts(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO dispatch_attempts").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.RecordAttempt(context.Background(), event.DispatchAttempt{
		EventID:       7,
		Channel:       event.ChannelSMS,
		AttemptCount:  2,
		LastAttemptAt: time.Now(),
		Outcome:       event.OutcomeTransientFailure,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateDispatchStatusMissingEvent(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE events SET dispatch_status").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.UpdateDispatchStatus(context.Background(), 99, event.DispatchDone)
	assert.Error(t, err)
}

func TestListAppliesFilters(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()
	start := now.Add(-time.Hour)

	rows := sqlmock.NewRows([]string{
		"id", "event_type", "source_sensor_id", "dedup_key", "severity", "message",
		"sensor_data", "media_url", "occurred_at", "received_at", "dispatch_status", "acknowledged",
	}).AddRow(int64(3), "door_opened", "door-1", "door_opened:door-1", "warning",
		"Door opened in server room", []byte(`{"sensor_id":"door-1"}`), nil,
		now, now, "dispatched", false)

	mock.ExpectQuery("SELECT (.+) FROM events WHERE event_type").
		WithArgs("door_opened", start, 100).
		WillReturnRows(rows)

	events, err := store.List(context.Background(), Filter{
		EventType: "door_opened",
		StartDate: &start,
	})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, event.TypeDoorOpened, events[0].Type)
	assert.Equal(t, event.DispatchDone, events[0].DispatchStatus)
	assert.Equal(t, "door-1", events[0].SensorData["sensor_id"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListClampsOversizedLimit(t *testing.T) {
	store, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{
		"id", "event_type", "source_sensor_id", "dedup_key", "severity", "message",
		"sensor_data", "media_url", "occurred_at", "received_at", "dispatch_status", "acknowledged",
	})

	mock.ExpectQuery("SELECT (.+) FROM events").
		WithArgs(500).
		WillReturnRows(rows)

	_, err := store.List(context.Background(), Filter{Limit: 501})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT (.+) FROM events WHERE id").
		WillReturnError(sql.ErrNoRows)

	_, err := store.Get(context.Background(), 404)
	assert.ErrorIs(t, err, ErrNotFound)
}
