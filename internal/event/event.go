// Package event defines the event model shared by the edge agent and the
// server: candidate events produced by the sensor state machines, logged
// events persisted after deduplication, and per-channel dispatch attempts.
package event

import (
	"fmt"
	"time"
)

// Type identifies what happened.
type Type string

const (
	TypeMotionDetected     Type = "motion_detected"
	TypeDoorOpened         Type = "door_opened"
	TypeDoorClosed         Type = "door_closed"
	TypeWindowOpened       Type = "window_opened"
	TypeWindowClosed       Type = "window_closed"
	TypeUnauthorizedAccess Type = "unauthorized_access"
	TypeAuthorizedAccess   Type = "authorized_access"
	TypeManualAlert        Type = "manual_alert"
	TypeSystemInfo         Type = "system_info"
)

// Valid reports whether t is a known event type.
func (t Type) Valid() bool {
	switch t {
	case TypeMotionDetected, TypeDoorOpened, TypeDoorClosed,
		TypeWindowOpened, TypeWindowClosed,
		TypeUnauthorizedAccess, TypeAuthorizedAccess,
		TypeManualAlert, TypeSystemInfo:
		return true
	}
	return false
}

// Severity classifies how urgent an event is.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
		return true
	}
	return false
}

// DefaultSeverity returns the severity assigned to an event type when the
// producer did not set one explicitly.
func DefaultSeverity(t Type) Severity {
	switch t {
	case TypeUnauthorizedAccess, TypeManualAlert:
		return SeverityCritical
	case TypeMotionDetected, TypeDoorOpened, TypeWindowOpened:
		return SeverityWarning
	case TypeDoorClosed, TypeWindowClosed, TypeAuthorizedAccess, TypeSystemInfo:
		return SeverityInfo
	default:
		return SeverityInfo
	}
}

// Detail carries the free-form payload of an event. SensorData is the only
// intentionally open part; everything else is typed.
type Detail struct {
	Message    string            `json:"message"`
	SensorData map[string]string `json:"sensor_data,omitempty"`
	MediaURL   string            `json:"media_url,omitempty"`
}

// Candidate is an event emitted by a state machine or an operator action.
// It is immutable once created; corrections are new events.
type Candidate struct {
	Type           Type      `json:"event_type"`
	SourceSensorID string    `json:"source_sensor_id,omitempty"` // empty for manual/system events
	OccurredAt     time.Time `json:"occurred_at"`
	Severity       Severity  `json:"severity"`
	Detail         Detail    `json:"detail"`

	// ExplicitDedupKey overrides the derived key. Used for manual events so
	// an operator can fire distinct alerts of the same type.
	ExplicitDedupKey string `json:"dedup_key,omitempty"`
}

// DedupKey is the identity used to decide whether two candidates refer to
// the same underlying incident.
func (c Candidate) DedupKey() string {
	if c.ExplicitDedupKey != "" {
		return c.ExplicitDedupKey
	}
	if c.SourceSensorID == "" {
		return string(c.Type)
	}
	return fmt.Sprintf("%s:%s", c.Type, c.SourceSensorID)
}

// DispatchStatus is the aggregate delivery state of a logged event.
type DispatchStatus string

const (
	DispatchPending DispatchStatus = "pending"
	DispatchDone    DispatchStatus = "dispatched"
	DispatchPartial DispatchStatus = "partially_dispatched"
	DispatchFailed  DispatchStatus = "failed"
)

// Logged is the durable record of an accepted candidate. Only the ingestion
// service creates rows; only the dispatch engine moves DispatchStatus.
type Logged struct {
	ID             int64             `db:"id" json:"id"`
	Type           Type              `db:"event_type" json:"event_type"`
	SourceSensorID string            `db:"source_sensor_id" json:"source_sensor_id,omitempty"`
	DedupKey       string            `db:"dedup_key" json:"dedup_key"`
	Severity       Severity          `db:"severity" json:"severity"`
	Message        string            `db:"message" json:"message"`
	SensorData     map[string]string `db:"-" json:"sensor_data,omitempty"`
	MediaURL       string            `db:"media_url" json:"media_url,omitempty"`
	OccurredAt     time.Time         `db:"occurred_at" json:"occurred_at"`
	ReceivedAt     time.Time         `db:"received_at" json:"received_at"`
	DispatchStatus DispatchStatus    `db:"dispatch_status" json:"dispatch_status"`
	Acknowledged   bool              `db:"acknowledged" json:"acknowledged"`
}

// Candidate reconstructs the candidate view of a logged event, used when the
// dispatch engine formats alert messages.
func (l Logged) Candidate() Candidate {
	return Candidate{
		Type:           l.Type,
		SourceSensorID: l.SourceSensorID,
		OccurredAt:     l.OccurredAt,
		Severity:       l.Severity,
		Detail: Detail{
			Message:    l.Message,
			SensorData: l.SensorData,
			MediaURL:   l.MediaURL,
		},
	}
}

// Channel names an independent notification delivery mechanism.
type Channel string

const (
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
	ChannelPush  Channel = "push"
)

// Valid reports whether c is a known delivery channel.
func (c Channel) Valid() bool {
	switch c {
	case ChannelSMS, ChannelEmail, ChannelPush:
		return true
	}
	return false
}

// Outcome is the terminal or in-progress result of delivery on one channel.
type Outcome string

const (
	OutcomeSuccess          Outcome = "success"
	OutcomeTransientFailure Outcome = "transient_failure"
	OutcomePermanentFailure Outcome = "permanent_failure"
)

// Terminal reports whether the outcome will not change with further retries.
func (o Outcome) Terminal() bool {
	return o == OutcomeSuccess || o == OutcomePermanentFailure
}

// DispatchAttempt tracks delivery of one logged event on one channel.
type DispatchAttempt struct {
	EventID       int64     `db:"event_id" json:"event_id"`
	Channel       Channel   `db:"channel" json:"channel"`
	AttemptCount  int       `db:"attempt_count" json:"attempt_count"`
	LastAttemptAt time.Time `db:"last_attempt_at" json:"last_attempt_at"`
	Outcome       Outcome   `db:"outcome" json:"outcome"`
	ProviderRef   string    `db:"provider_ref" json:"provider_ref,omitempty"`
}

// AggregateStatus folds per-channel terminal outcomes into the event-level
// dispatch status. Attempts that are still transient count as failures for
// aggregation purposes only once the engine has given up on them.
func AggregateStatus(attempts []DispatchAttempt) DispatchStatus {
	if len(attempts) == 0 {
		return DispatchPending
	}
	succeeded, failed := 0, 0
	for _, a := range attempts {
		switch a.Outcome {
		case OutcomeSuccess:
			succeeded++
		default:
			failed++
		}
	}
	switch {
	case failed == 0:
		return DispatchDone
	case succeeded == 0:
		return DispatchFailed
	default:
		return DispatchPartial
	}
}
