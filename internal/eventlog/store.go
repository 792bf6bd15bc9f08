// Package eventlog is the durable event log: one row per accepted candidate
// event plus one dispatch-attempt row per (event, channel) pair. The log is
// the single source of truth; dispatch status is never derived from anything
// but its own attempt rows.
package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/tinegachris/iot-project-server-room-security/internal/event"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id               BIGSERIAL PRIMARY KEY,
	event_type       TEXT        NOT NULL,
	source_sensor_id TEXT,
	dedup_key        TEXT        NOT NULL,
	severity         TEXT        NOT NULL,
	message          TEXT        NOT NULL DEFAULT '',
	sensor_data      JSONB,
	media_url        TEXT,
	occurred_at      TIMESTAMPTZ NOT NULL,
	received_at      TIMESTAMPTZ NOT NULL,
	dispatch_status  TEXT        NOT NULL DEFAULT 'pending',
	acknowledged     BOOLEAN     NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS idx_events_dedup_key_received ON events (dedup_key, received_at DESC);
CREATE INDEX IF NOT EXISTS idx_events_type ON events (event_type);
CREATE INDEX IF NOT EXISTS idx_events_received ON events (received_at DESC);

CREATE TABLE IF NOT EXISTS dispatch_attempts (
	event_id        BIGINT      NOT NULL REFERENCES events (id),
	channel         TEXT        NOT NULL,
	attempt_count   INT         NOT NULL DEFAULT 0,
	last_attempt_at TIMESTAMPTZ NOT NULL,
	outcome         TEXT        NOT NULL,
	provider_ref    TEXT,
	PRIMARY KEY (event_id, channel)
);
`

const eventColumns = `id, event_type, source_sensor_id, dedup_key, severity, message,
	sensor_data, media_url, occurred_at, received_at, dispatch_status, acknowledged`

// Store persists events and dispatch attempts in Postgres.
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewStore wraps an open database handle.
func NewStore(db *sqlx.DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger.Named("eventlog")}
}

// EnsureSchema applies the schema. Safe to run repeatedly.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Ping reports database reachability for the readiness surface.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// InsertIfAbsent persists the candidate unless another event with the same
// dedup key was received inside the cooldown window. The WHERE NOT EXISTS
// form makes the cooldown check and the insert one conditional write, so
// concurrent ingestion of the same key cannot both pass it.
//
// Returns (logged, true, nil) when inserted and (nil, false, nil) when
// suppressed by the cooldown.
func (s *Store) InsertIfAbsent(ctx context.Context, c event.Candidate, receivedAt time.Time, cooldown time.Duration) (*event.Logged, bool, error) {
	sensorData, err := marshalSensorData(c.Detail.SensorData)
	if err != nil {
		return nil, false, fmt.Errorf("encode sensor data: %w", err)
	}

	cutoff := receivedAt.Add(-cooldown)

	var id int64
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO events (event_type, source_sensor_id, dedup_key, severity,
			message, sensor_data, media_url, occurred_at, received_at, dispatch_status)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9, 'pending'
		WHERE NOT EXISTS (
			SELECT 1 FROM events WHERE dedup_key = $3 AND received_at > $10
		)
		RETURNING id
	`, string(c.Type), nullString(c.SourceSensorID), c.DedupKey(), string(c.Severity),
		c.Detail.Message, sensorData, nullString(c.Detail.MediaURL),
		c.OccurredAt, receivedAt, cutoff).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("insert event: %w", err)
	}

	logged := &event.Logged{
		ID:             id,
		Type:           c.Type,
		SourceSensorID: c.SourceSensorID,
		DedupKey:       c.DedupKey(),
		Severity:       c.Severity,
		Message:        c.Detail.Message,
		SensorData:     c.Detail.SensorData,
		MediaURL:       c.Detail.MediaURL,
		OccurredAt:     c.OccurredAt,
		ReceivedAt:     receivedAt,
		DispatchStatus: event.DispatchPending,
	}
	return logged, true, nil
}

// Get returns one logged event.
func (s *Store) Get(ctx context.Context, id int64) (*event.Logged, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = $1`, id)
	return scanEvent(row)
}

// Filter narrows a log listing.
type Filter struct {
	Limit     int
	AfterID   int64
	EventType string
	StartDate *time.Time
	EndDate   *time.Time
}

// List returns logged events newest first, honoring the filter.
func (s *Store) List(ctx context.Context, f Filter) ([]event.Logged, error) {
	if f.Limit <= 0 {
		f.Limit = 100
	} else if f.Limit > 500 {
		f.Limit = 500
	}

	var conds []string
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.EventType != "" {
		conds = append(conds, "event_type = "+arg(f.EventType))
	}
	if f.AfterID > 0 {
		conds = append(conds, "id > "+arg(f.AfterID))
	}
	if f.StartDate != nil {
		conds = append(conds, "received_at >= "+arg(*f.StartDate))
	}
	if f.EndDate != nil {
		conds = append(conds, "received_at <= "+arg(*f.EndDate))
	}

	query := `SELECT ` + eventColumns + ` FROM events`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY id DESC LIMIT ` + arg(f.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []event.Logged
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ev)
	}
	return out, rows.Err()
}

// UpdateDispatchStatus moves the aggregate delivery state of one event.
// Only the dispatch engine calls this.
func (s *Store) UpdateDispatchStatus(ctx context.Context, id int64, status event.DispatchStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE events SET dispatch_status = $1 WHERE id = $2`, string(status), id)
	if err != nil {
		return fmt.Errorf("update dispatch status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("event %d not found", id)
	}
	return nil
}

// RecordAttempt upserts the dispatch-attempt row for one (event, channel).
func (s *Store) RecordAttempt(ctx context.Context, a event.DispatchAttempt) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dispatch_attempts (event_id, channel, attempt_count, last_attempt_at, outcome, provider_ref)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (event_id, channel) DO UPDATE SET
			attempt_count   = EXCLUDED.attempt_count,
			last_attempt_at = EXCLUDED.last_attempt_at,
			outcome         = EXCLUDED.outcome,
			provider_ref    = EXCLUDED.provider_ref
	`, a.EventID, string(a.Channel), a.AttemptCount, a.LastAttemptAt,
		string(a.Outcome), nullString(a.ProviderRef))
	if err != nil {
		return fmt.Errorf("record dispatch attempt: %w", err)
	}
	return nil
}

// Attempts returns the dispatch attempts for one event.
func (s *Store) Attempts(ctx context.Context, eventID int64) ([]event.DispatchAttempt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, channel, attempt_count, last_attempt_at, outcome, provider_ref
		FROM dispatch_attempts WHERE event_id = $1 ORDER BY channel
	`, eventID)
	if err != nil {
		return nil, fmt.Errorf("list dispatch attempts: %w", err)
	}
	defer rows.Close()

	var out []event.DispatchAttempt
	for rows.Next() {
		var a event.DispatchAttempt
		var channel, outcome string
		var ref sql.NullString
		if err := rows.Scan(&a.EventID, &channel, &a.AttemptCount, &a.LastAttemptAt, &outcome, &ref); err != nil {
			return nil, err
		}
		a.Channel = event.Channel(channel)
		a.Outcome = event.Outcome(outcome)
		a.ProviderRef = ref.String
		out = append(out, a)
	}
	return out, rows.Err()
}

// Acknowledge marks one event as seen by an operator.
func (s *Store) Acknowledge(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE events SET acknowledged = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("acknowledge event: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("event %d not found", id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row rowScanner) (*event.Logged, error) {
	var ev event.Logged
	var sourceID, mediaURL sql.NullString
	var sensorData []byte
	var evType, severity, status string

	err := row.Scan(&ev.ID, &evType, &sourceID, &ev.DedupKey, &severity, &ev.Message,
		&sensorData, &mediaURL, &ev.OccurredAt, &ev.ReceivedAt, &status, &ev.Acknowledged)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan event: %w", err)
	}

	ev.Type = event.Type(evType)
	ev.Severity = event.Severity(severity)
	ev.DispatchStatus = event.DispatchStatus(status)
	ev.SourceSensorID = sourceID.String
	ev.MediaURL = mediaURL.String
	if len(sensorData) > 0 {
		if err := json.Unmarshal(sensorData, &ev.SensorData); err != nil {
			return nil, fmt.Errorf("decode sensor data: %w", err)
		}
	}
	return &ev, nil
}

// ErrNotFound is returned when a requested event does not exist.
var ErrNotFound = errors.New("event not found")

func marshalSensorData(m map[string]string) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	return json.Marshal(m)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
