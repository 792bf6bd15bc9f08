// Package dispatch fans logged events out to the configured notification
// channels, retrying transient failures per channel with exponential backoff
// and recording every attempt.
package dispatch

import (
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/tinegachris/iot-project-server-room-security/internal/event"
)

// RetryPolicy is the per-channel retry budget. It is injected into the
// engine so delivery behavior is testable without real channel I/O.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// backOff builds a fresh exponential backoff with jitter for one channel's
// delivery. cenkalti's default randomization factor provides the jitter.
func (p RetryPolicy) backOff() backoff.BackOff {
	ebo := backoff.NewExponentialBackOff()
	if p.BaseDelay > 0 {
		ebo.InitialInterval = p.BaseDelay
	}
	if p.MaxDelay > 0 {
		ebo.MaxInterval = p.MaxDelay
	}
	ebo.MaxElapsedTime = 0 // attempts are bounded by MaxAttempts, not time
	ebo.Reset()
	return ebo
}

// SelectionPolicy maps severity to the channels used for it. It comes from
// configuration, never from code.
type SelectionPolicy map[event.Severity][]event.Channel

// ChannelsFor returns the channels configured for a severity. An
// unconfigured severity falls back to every channel so misconfiguration
// fails loud rather than silent.
func (p SelectionPolicy) ChannelsFor(sev event.Severity) []event.Channel {
	if chans, ok := p[sev]; ok {
		return chans
	}
	return []event.Channel{event.ChannelSMS, event.ChannelEmail, event.ChannelPush}
}
