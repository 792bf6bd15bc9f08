// Package channel defines the notification channel contract and the SMS,
// email and push implementations. Each channel is independent: its own
// provider, its own failure mode, its own classification of what is worth
// retrying. Provider payload shapes stay inside each implementation.
package channel

import (
	"context"
	"errors"
	"fmt"

	"github.com/tinegachris/iot-project-server-room-security/internal/event"
)

// Message is the channel-agnostic alert content.
type Message struct {
	Subject  string
	Body     string
	Severity event.Severity
	MediaURL string
}

// Sender delivers one message on one channel. A non-nil error must be a
// *channel.Error so the dispatch engine can tell transient from permanent.
type Sender interface {
	Name() event.Channel
	Send(ctx context.Context, msg Message) (providerRef string, err error)
}

// Error classifies a delivery failure. Transient failures are retried with
// backoff; permanent ones (bad recipient, bad credentials) are not.
type Error struct {
	Channel   event.Channel
	Transient bool
	Err       error
}

func (e *Error) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("%s channel %s failure: %v", e.Channel, kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// TransientError wraps err as retryable.
func TransientError(ch event.Channel, err error) *Error {
	return &Error{Channel: ch, Transient: true, Err: err}
}

// PermanentError wraps err as terminal.
func PermanentError(ch event.Channel, err error) *Error {
	return &Error{Channel: ch, Transient: false, Err: err}
}

// IsTransient reports whether err should be retried. Unclassified errors are
// treated as transient so a misbehaving provider cannot silently drop alerts.
func IsTransient(err error) bool {
	var cerr *Error
	if errors.As(err, &cerr) {
		return cerr.Transient
	}
	return true
}
