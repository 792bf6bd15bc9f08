// Package poll implements the resilient polling client used by remote
// observers: a single periodic timer, overlap-free polls, a consecutive
// failure counter and automatic suspension once failures cross a threshold.
// Suspension is distinct from a transient error: the observer is told that
// automatic refresh has stopped and must resume explicitly.
package poll

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultSuspensionThreshold is the number of consecutive failures after
// which polling suspends.
const DefaultSuspensionThreshold = 5

// Poller performs one poll round trip.
type Poller interface {
	Poll(ctx context.Context) error
}

// PollerFunc adapts a function to the Poller interface.
type PollerFunc func(ctx context.Context) error

func (f PollerFunc) Poll(ctx context.Context) error { return f(ctx) }

// State is a snapshot of the client for observers.
type State struct {
	Running             bool      `json:"running"`
	Suspended           bool      `json:"suspended"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastSuccessAt       time.Time `json:"last_success_at,omitempty"`
}

// Client drives a Poller on a fixed interval. All mutation happens on the
// run loop goroutine or under the state mutex; polls themselves run off the
// loop so a slow poll never delays tick delivery, it only causes the next
// tick to be skipped.
type Client struct {
	poller    Poller
	interval  time.Duration
	threshold int
	clock     Clock
	logger    *zap.Logger

	mu        sync.Mutex
	running   bool
	suspended bool
	failures  int
	lastOK    time.Time
	inFlight  bool

	resumeCh chan struct{}
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewClient(poller Poller, interval time.Duration, threshold int, clock Clock, logger *zap.Logger) *Client {
	if threshold < 1 {
		threshold = DefaultSuspensionThreshold
	}
	if clock == nil {
		clock = RealClock{}
	}
	return &Client{
		poller:    poller,
		interval:  interval,
		threshold: threshold,
		clock:     clock,
		logger:    logger,
		resumeCh:  make(chan struct{}, 1),
	}
}

// Start begins the periodic cycle with an immediate first poll. Starting an
// already running client is a no-op.
func (c *Client) Start(ctx context.Context) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.mu.Unlock()

	go c.run(runCtx)
}

// Stop cancels any in-flight wait and clears failure and suspension state.
// The next Start is a fresh cycle, not a resume of a stale count.
func (c *Client) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	cancel()
	<-done

	c.mu.Lock()
	c.running = false
	c.suspended = false
	c.failures = 0
	c.mu.Unlock()
}

// Resume re-arms a suspended client: an immediate poll, then the regular
// interval. Calling Resume on a client that is not suspended is a no-op.
func (c *Client) Resume() {
	c.mu.Lock()
	if !c.running || !c.suspended {
		c.mu.Unlock()
		return
	}
	c.suspended = false
	c.failures = 0
	c.mu.Unlock()

	select {
	case c.resumeCh <- struct{}{}:
	default:
	}
}

// State returns the current client state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		Running:             c.running,
		Suspended:           c.suspended,
		ConsecutiveFailures: c.failures,
		LastSuccessAt:       c.lastOK,
	}
}

func (c *Client) run(ctx context.Context) {
	defer close(c.done)

	ticker := c.clock.Ticker(c.interval)
	defer func() {
		if ticker != nil {
			ticker.Stop()
		}
	}()

	c.pollOnce(ctx)

	for {
		var tick <-chan time.Time
		if ticker != nil {
			tick = ticker.Chan()
		}
		select {
		case <-ctx.Done():
			return
		case <-tick:
			c.pollOnce(ctx)
		case <-c.resumeCh:
			if ticker == nil {
				ticker = c.clock.Ticker(c.interval)
			}
			c.pollOnce(ctx)
		}
		if c.suspendedNow() && ticker != nil {
			ticker.Stop()
			ticker = nil
		}
	}
}

func (c *Client) suspendedNow() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.suspended
}

// pollOnce runs one poll in the background unless one is already in flight,
// in which case the tick is skipped.
func (c *Client) pollOnce(ctx context.Context) {
	c.mu.Lock()
	if c.inFlight || c.suspended {
		c.mu.Unlock()
		return
	}
	c.inFlight = true
	c.mu.Unlock()

	go func() {
		err := c.poller.Poll(ctx)

		c.mu.Lock()
		defer c.mu.Unlock()
		c.inFlight = false
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			c.failures = 0
			c.lastOK = c.clock.Now()
			return
		}
		c.failures++
		c.logger.Warn("poll failed",
			zap.Int("consecutive_failures", c.failures),
			zap.Error(err))
		if c.failures >= c.threshold {
			c.suspended = true
			c.logger.Error("polling suspended after repeated failures",
				zap.Int("threshold", c.threshold))
		}
	}()
}
