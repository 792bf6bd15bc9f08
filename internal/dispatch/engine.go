package dispatch

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tinegachris/iot-project-server-room-security/internal/channel"
	"github.com/tinegachris/iot-project-server-room-security/internal/event"
)

// Recorder persists dispatch progress. The event log store satisfies it.
type Recorder interface {
	RecordAttempt(ctx context.Context, a event.DispatchAttempt) error
	UpdateDispatchStatus(ctx context.Context, eventID int64, status event.DispatchStatus) error
}

// Engine delivers logged events over the configured channels. Channels are
// attempted concurrently and fail independently; one channel's outage never
// blocks another's delivery.
type Engine struct {
	senders   map[event.Channel]channel.Sender
	recorder  Recorder
	retry     RetryPolicy
	selection SelectionPolicy
	logger    *zap.Logger

	queue chan event.Logged
	quit  chan struct{}
	wg    sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	stopOnce sync.Once

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewEngine wires senders, the attempt recorder and the retry/selection
// policies. Call Start to begin consuming the queue.
func NewEngine(senders []channel.Sender, recorder Recorder, retry RetryPolicy, selection SelectionPolicy, queueSize int, logger *zap.Logger) *Engine {
	byName := make(map[event.Channel]channel.Sender, len(senders))
	for _, s := range senders {
		byName[s.Name()] = s
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		senders:   byName,
		recorder:  recorder,
		retry:     retry,
		selection: selection,
		logger:    logger,
		queue:     make(chan event.Logged, queueSize),
		quit:      make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
		now:       time.Now,
		sleep:     sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start launches the worker pool.
func (e *Engine) Start(workers int) {
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		e.wg.Add(1)
		go e.worker()
	}
}

func (e *Engine) worker() {
	defer e.wg.Done()
	for {
		select {
		case <-e.quit:
			// Drain what is already queued before exiting.
			for {
				select {
				case ev := <-e.queue:
					e.Dispatch(e.ctx, ev)
				default:
					return
				}
			}
		case ev := <-e.queue:
			e.Dispatch(e.ctx, ev)
		}
	}
}

// Enqueue hands an event to the worker pool. It never blocks the caller: the
// event is already durable, so a full queue is logged and left for a later
// reconciliation sweep over pending rows.
func (e *Engine) Enqueue(ev event.Logged) {
	select {
	case <-e.quit:
		e.logger.Warn("dispatch engine stopped, leaving event pending",
			zap.Int64("event_id", ev.ID))
	case e.queue <- ev:
	default:
		e.logger.Warn("dispatch queue full, leaving event pending",
			zap.Int64("event_id", ev.ID),
			zap.String("event_type", string(ev.Type)))
	}
}

// Stop stops accepting work, lets in-flight deliveries finish within grace,
// then cancels them. Cancelled retries stay recorded as transient failures so
// a restart can resume them.
func (e *Engine) Stop(grace time.Duration) {
	e.stopOnce.Do(func() {
		close(e.quit)
		done := make(chan struct{})
		go func() {
			e.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(grace):
			e.cancel()
			<-done
		}
	})
}

// Dispatch delivers one event on every channel its severity selects,
// concurrently, then folds the per-channel outcomes into the event's
// dispatch status. It returns the final attempt state per channel.
func (e *Engine) Dispatch(ctx context.Context, ev event.Logged) []event.DispatchAttempt {
	var (
		mu       sync.Mutex
		attempts []event.DispatchAttempt
		wg       sync.WaitGroup
	)
	for _, name := range e.selection.ChannelsFor(ev.Severity) {
		sender, ok := e.senders[name]
		if !ok {
			e.logger.Warn("channel selected but not configured",
				zap.String("channel", string(name)),
				zap.Int64("event_id", ev.ID))
			continue
		}
		wg.Add(1)
		go func(s channel.Sender) {
			defer wg.Done()
			a := e.deliver(ctx, ev, s)
			mu.Lock()
			attempts = append(attempts, a)
			mu.Unlock()
		}(sender)
	}
	wg.Wait()

	if len(attempts) == 0 {
		e.logger.Error("no configured channel for event, marking failed",
			zap.Int64("event_id", ev.ID),
			zap.String("severity", string(ev.Severity)))
		e.setStatus(ev.ID, event.DispatchFailed)
		return nil
	}

	// An attempt abandoned mid-retry (shutdown) is not terminal; leave the
	// event pending so it can be resumed, rather than calling it failed.
	for _, a := range attempts {
		if !a.Outcome.Terminal() {
			e.logger.Info("delivery interrupted, event left pending",
				zap.Int64("event_id", ev.ID),
				zap.String("channel", string(a.Channel)))
			return attempts
		}
	}

	status := event.AggregateStatus(attempts)
	e.setStatus(ev.ID, status)
	e.logger.Info("event dispatched",
		zap.Int64("event_id", ev.ID),
		zap.String("dispatch_status", string(status)),
		zap.Int("channels", len(attempts)))
	return attempts
}

// deliver runs the retry loop for one channel. Every attempt is recorded as
// it happens, so progress survives a crash between retries.
func (e *Engine) deliver(ctx context.Context, ev event.Logged, sender channel.Sender) event.DispatchAttempt {
	msg := channel.Format(ev)
	a := event.DispatchAttempt{
		EventID: ev.ID,
		Channel: sender.Name(),
	}
	bo := e.retry.backOff()
	for {
		a.AttemptCount++
		a.LastAttemptAt = e.now()

		ref, err := sender.Send(ctx, msg)
		switch {
		case err == nil:
			a.Outcome = event.OutcomeSuccess
			a.ProviderRef = ref
		case !channel.IsTransient(err):
			a.Outcome = event.OutcomePermanentFailure
			e.logger.Warn("permanent delivery failure",
				zap.Int64("event_id", ev.ID),
				zap.String("channel", string(a.Channel)),
				zap.Error(err))
		case a.AttemptCount >= e.retry.MaxAttempts:
			// Retry budget exhausted; transient failure becomes terminal.
			a.Outcome = event.OutcomePermanentFailure
			e.logger.Warn("retry budget exhausted",
				zap.Int64("event_id", ev.ID),
				zap.String("channel", string(a.Channel)),
				zap.Int("attempts", a.AttemptCount),
				zap.Error(err))
		default:
			a.Outcome = event.OutcomeTransientFailure
			e.logger.Debug("transient delivery failure, will retry",
				zap.Int64("event_id", ev.ID),
				zap.String("channel", string(a.Channel)),
				zap.Int("attempt", a.AttemptCount),
				zap.Error(err))
		}

		e.recordAttempt(a)
		if a.Outcome.Terminal() {
			return a
		}
		if err := e.sleep(ctx, bo.NextBackOff()); err != nil {
			// Shutdown during backoff: the recorded transient failure is the
			// resumable state.
			return a
		}
	}
}

// recordAttempt writes on a fresh context so a cancelled delivery context
// cannot lose the attempt row.
func (e *Engine) recordAttempt(a event.DispatchAttempt) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.recorder.RecordAttempt(ctx, a); err != nil {
		e.logger.Error("failed to record dispatch attempt",
			zap.Int64("event_id", a.EventID),
			zap.String("channel", string(a.Channel)),
			zap.Error(err))
	}
}

func (e *Engine) setStatus(eventID int64, status event.DispatchStatus) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.recorder.UpdateDispatchStatus(ctx, eventID, status); err != nil {
		e.logger.Error("failed to update dispatch status",
			zap.Int64("event_id", eventID),
			zap.Error(err))
	}
}
