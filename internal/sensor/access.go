package sensor

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tinegachris/iot-project-server-room-security/internal/event"
)

// accessState is the credential state machine position.
type accessState int

const (
	accessIdle accessState = iota
	accessAwaitingCredential
)

// AccessReader runs the badge-reader state machine: a card read moves it to
// AWAITING_CREDENTIAL; a credential either matches the authorized set or is
// emitted as unauthorized access; if no credential arrives within the
// configured window the reader falls back to idle without an event.
type AccessReader struct {
	mu         sync.Mutex
	sensorID   string
	authorized map[string]struct{}
	timeout    time.Duration
	state      accessState
	since      time.Time
	logger     *zap.Logger
}

// NewAccessReader builds the reader for one badge sensor.
func NewAccessReader(sensorID string, authorizedCards []string, timeout time.Duration, logger *zap.Logger) *AccessReader {
	authorized := make(map[string]struct{}, len(authorizedCards))
	for _, c := range authorizedCards {
		authorized[c] = struct{}{}
	}
	return &AccessReader{
		sensorID:   sensorID,
		authorized: authorized,
		timeout:    timeout,
		logger:     logger.Named("access-reader"),
	}
}

// BeginRead marks that a card has been presented and the reader is waiting
// for the credential payload.
func (r *AccessReader) BeginRead(ts time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = accessAwaitingCredential
	r.since = ts
}

// Credential resolves a pending read. A credential in the authorized set is
// granted; anything else is an unauthorized access event. A credential with
// no pending read also resolves (the reader hardware delivers both in one
// callback on some models).
func (r *AccessReader) Credential(cardID string, ts time.Time) *event.Candidate {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = accessIdle

	if _, ok := r.authorized[cardID]; ok {
		r.logger.Info("access granted", zap.String("card", cardID))
		return r.candidate(event.TypeAuthorizedAccess, "Authorized badge access", cardID, ts)
	}

	r.logger.Warn("unauthorized access attempt", zap.String("card", cardID))
	return r.candidate(event.TypeUnauthorizedAccess, "Unauthorized badge access attempt", cardID, ts)
}

// Tick expires a pending read whose credential never arrived. Expiry is not
// an event; it only returns the reader to idle.
func (r *AccessReader) Tick(ts time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == accessAwaitingCredential && ts.Sub(r.since) >= r.timeout {
		r.state = accessIdle
		r.logger.Debug("credential wait expired")
	}
}

// Awaiting reports whether a read is pending a credential.
func (r *AccessReader) Awaiting() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state == accessAwaitingCredential
}

func (r *AccessReader) candidate(t event.Type, msg, cardID string, ts time.Time) *event.Candidate {
	return &event.Candidate{
		Type:           t,
		SourceSensorID: r.sensorID,
		OccurredAt:     ts,
		Severity:       event.DefaultSeverity(t),
		Detail: event.Detail{
			Message: msg,
			SensorData: map[string]string{
				"sensor_id": r.sensorID,
				"card_uid":  cardID,
			},
		},
	}
}
