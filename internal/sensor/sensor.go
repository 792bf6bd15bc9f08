// Package sensor turns noisy physical line transitions into trustworthy
// logical events. The line monitor debounces binary sensors (motion, door,
// window contacts); the access reader runs the credential state machine for
// the badge reader. Neither does any I/O: the edge loop reads the hardware
// and feeds observations in.
package sensor

import (
	"time"
)

// Kind classifies a physical sensor.
type Kind string

const (
	KindMotion Kind = "motion"
	KindDoor   Kind = "door"
	KindWindow Kind = "window"
	KindAccess Kind = "access"
)

// State is the per-sensor logical state. Each sensor is mutated only by the
// monitor that owns it; never shared-write across sensors.
type State struct {
	ID               string
	Kind             Kind
	Active           bool // motion active / door open / window open
	LastTransitionAt time.Time
	DebounceWindow   time.Duration
	TriggerDelay     time.Duration

	ConsecutiveBounces int
	Degraded           bool
	LastError          string

	lastRaw      bool
	rawKnown     bool
	pending      bool // motion rise observed, trigger delay not yet served
	pendingSince time.Time
	eventCount   int
	lastEventAt  time.Time
}

// Status is the externally visible view of one sensor, surfaced through the
// status aggregator and the edge command API.
type Status struct {
	ID          string    `json:"id"`
	Kind        Kind      `json:"kind"`
	Active      bool      `json:"active"`
	Degraded    bool      `json:"degraded"`
	LastError   string    `json:"last_error,omitempty"`
	Bounces     int       `json:"consecutive_bounces"`
	EventCount  int       `json:"event_count"`
	LastEventAt time.Time `json:"last_event_at,omitempty"`
}

func (s *State) status() Status {
	return Status{
		ID:          s.ID,
		Kind:        s.Kind,
		Active:      s.Active,
		Degraded:    s.Degraded,
		LastError:   s.LastError,
		Bounces:     s.ConsecutiveBounces,
		EventCount:  s.eventCount,
		LastEventAt: s.lastEventAt,
	}
}
