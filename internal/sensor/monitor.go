package sensor

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tinegachris/iot-project-server-room-security/internal/event"
)

// Monitor owns the logical state of the binary sensors and applies
// debouncing. A raw transition is accepted only if it arrives at least the
// debounce window after the previous raw transition; earlier ones increment
// the bounce counter and are discarded.
type Monitor struct {
	mu      sync.Mutex
	sensors map[string]*State
	logger  *zap.Logger
}

// Config is the static setup for one monitored line.
type Config struct {
	ID             string
	Kind           Kind
	DebounceWindow time.Duration
	TriggerDelay   time.Duration
}

// NewMonitor builds the sensor map from static configuration. States persist
// for the process lifetime and reset on restart; there is no durability
// requirement at the edge.
func NewMonitor(configs []Config, logger *zap.Logger) *Monitor {
	m := &Monitor{
		sensors: make(map[string]*State, len(configs)),
		logger:  logger.Named("sensor-monitor"),
	}
	for _, c := range configs {
		m.sensors[c.ID] = &State{
			ID:             c.ID,
			Kind:           c.Kind,
			DebounceWindow: c.DebounceWindow,
			TriggerDelay:   c.TriggerDelay,
		}
	}
	return m
}

// Observe feeds one raw reading for a sensor and returns a candidate event
// when a logical transition of interest occurred, or nil.
func (m *Monitor) Observe(sensorID string, raw bool, ts time.Time) (*event.Candidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sensors[sensorID]
	if !ok {
		return nil, fmt.Errorf("unknown sensor %q", sensorID)
	}

	s.Degraded = false
	s.LastError = ""

	flipped := !s.rawKnown || raw != s.lastRaw
	s.lastRaw = raw
	s.rawKnown = true

	if flipped {
		if !s.LastTransitionAt.IsZero() && ts.Sub(s.LastTransitionAt) < s.DebounceWindow {
			// Bounce: remember when the line last moved so the settle
			// check below measures true stability, but emit nothing.
			s.ConsecutiveBounces++
			s.LastTransitionAt = ts
			s.pending = false
			m.logger.Debug("transition discarded by debounce",
				zap.String("sensor", sensorID),
				zap.Int("consecutive_bounces", s.ConsecutiveBounces))
			return nil, nil
		}
		s.ConsecutiveBounces = 0
		s.LastTransitionAt = ts
		return m.transition(s, raw, ts), nil
	}

	// Line has not moved. If it settled on a value that disagrees with the
	// logical state after a bounce storm, accept the transition now.
	if raw != s.Active && !s.pending && ts.Sub(s.LastTransitionAt) >= s.DebounceWindow {
		s.ConsecutiveBounces = 0
		s.LastTransitionAt = ts
		return m.transition(s, raw, ts), nil
	}

	// Motion rise held long enough becomes event-worthy.
	if s.pending && raw && ts.Sub(s.pendingSince) >= s.TriggerDelay {
		s.pending = false
		s.Active = true
		return m.emit(s, event.TypeMotionDetected, ts), nil
	}

	return nil, nil
}

// transition applies an accepted raw transition to the logical state and
// returns the resulting candidate event, if any.
func (m *Monitor) transition(s *State, raw bool, ts time.Time) *event.Candidate {
	if s.Kind == KindMotion {
		if !raw {
			s.Active = false
			s.pending = false
			return nil // motion going idle is not event-worthy
		}
		if s.TriggerDelay <= 0 {
			s.Active = true
			return m.emit(s, event.TypeMotionDetected, ts)
		}
		s.pending = true
		s.pendingSince = ts
		return nil
	}

	if raw == s.Active {
		// First reading after boot agrees with the logical state; nothing
		// actually changed.
		return nil
	}
	s.Active = raw
	var t event.Type
	switch {
	case s.Kind == KindDoor && raw:
		t = event.TypeDoorOpened
	case s.Kind == KindDoor:
		t = event.TypeDoorClosed
	case s.Kind == KindWindow && raw:
		t = event.TypeWindowOpened
	case s.Kind == KindWindow:
		t = event.TypeWindowClosed
	default:
		return nil
	}
	return m.emit(s, t, ts)
}

func (m *Monitor) emit(s *State, t event.Type, ts time.Time) *event.Candidate {
	s.eventCount++
	s.lastEventAt = ts
	m.logger.Info("logical transition",
		zap.String("sensor", s.ID),
		zap.String("event_type", string(t)))
	return &event.Candidate{
		Type:           t,
		SourceSensorID: s.ID,
		OccurredAt:     ts,
		Severity:       event.DefaultSeverity(t),
		Detail: event.Detail{
			Message: transitionMessage(t),
			SensorData: map[string]string{
				"sensor_id":   s.ID,
				"sensor_kind": string(s.Kind),
			},
		},
	}
}

// MarkDegraded records a read failure. Degraded sensors surface only through
// the status aggregator, never as events.
func (m *Monitor) MarkDegraded(sensorID string, readErr error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sensors[sensorID]; ok {
		s.Degraded = true
		if readErr != nil {
			s.LastError = readErr.Error()
		}
		m.logger.Warn("sensor degraded",
			zap.String("sensor", sensorID),
			zap.Error(readErr))
	}
}

// Snapshot returns the current view of every sensor.
func (m *Monitor) Snapshot() []Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Status, 0, len(m.sensors))
	for _, s := range m.sensors {
		out = append(out, s.status())
	}
	return out
}

// IDs lists the configured sensor IDs.
func (m *Monitor) IDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sensors))
	for id := range m.sensors {
		ids = append(ids, id)
	}
	return ids
}

func transitionMessage(t event.Type) string {
	switch t {
	case event.TypeMotionDetected:
		return "Motion detected in server room"
	case event.TypeDoorOpened:
		return "Door opened in server room"
	case event.TypeDoorClosed:
		return "Door closed in server room"
	case event.TypeWindowOpened:
		return "Window opened in server room"
	case event.TypeWindowClosed:
		return "Window closed in server room"
	default:
		return string(t)
	}
}
