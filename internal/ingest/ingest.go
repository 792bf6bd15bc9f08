// Package ingest is the single entry point for event candidates. It
// validates, normalizes, deduplicates against the cooldown window and hands
// accepted events to the dispatch engine.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tinegachris/iot-project-server-room-security/internal/event"
)

// ErrInvalid marks a candidate the service refused to log.
var ErrInvalid = errors.New("invalid event candidate")

// Log persists candidates if no equivalent event exists within the cooldown
// window. The eventlog store satisfies it.
type Log interface {
	InsertIfAbsent(ctx context.Context, c event.Candidate, receivedAt time.Time, cooldown time.Duration) (*event.Logged, bool, error)
}

// Dispatcher receives accepted events for delivery.
type Dispatcher interface {
	Enqueue(ev event.Logged)
}

// Result reports what ingestion did with a candidate.
type Result struct {
	Event      *event.Logged
	Suppressed bool
}

// Service applies the cooldown contract: at most one logged event per dedup
// key per window. The store's conditional insert is the authority; the
// per-key locks only serialize concurrent submissions of the same incident
// so they cannot race past each other inside one process.
type Service struct {
	log        Log
	dispatcher Dispatcher
	cooldown   time.Duration
	logger     *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	now func() time.Time
}

func NewService(log Log, dispatcher Dispatcher, cooldown time.Duration, logger *zap.Logger) *Service {
	return &Service{
		log:        log,
		dispatcher: dispatcher,
		cooldown:   cooldown,
		logger:     logger,
		locks:      make(map[string]*sync.Mutex),
		now:        time.Now,
	}
}

// Submit validates and logs a candidate. A suppressed duplicate is a normal
// outcome, not an error: the caller gets Suppressed=true and no event.
func (s *Service) Submit(ctx context.Context, c event.Candidate) (Result, error) {
	if err := normalize(&c, s.now()); err != nil {
		return Result{}, err
	}

	key := c.DedupKey()
	lock := s.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	logged, inserted, err := s.log.InsertIfAbsent(ctx, c, s.now(), s.cooldown)
	if err != nil {
		return Result{}, fmt.Errorf("logging event %q: %w", c.Type, err)
	}
	if !inserted {
		s.logger.Debug("duplicate event suppressed",
			zap.String("event_type", string(c.Type)),
			zap.String("dedup_key", key))
		return Result{Suppressed: true}, nil
	}

	s.logger.Info("event logged",
		zap.Int64("event_id", logged.ID),
		zap.String("event_type", string(logged.Type)),
		zap.String("severity", string(logged.Severity)),
		zap.String("sensor_id", logged.SourceSensorID))

	if s.dispatcher != nil {
		s.dispatcher.Enqueue(*logged)
	}
	return Result{Event: logged}, nil
}

func (s *Service) keyLock(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

// normalize fills defaults and rejects candidates that cannot become valid
// log rows.
func normalize(c *event.Candidate, now time.Time) error {
	if !c.Type.Valid() {
		return fmt.Errorf("%w: unknown event type %q", ErrInvalid, c.Type)
	}
	if c.OccurredAt.IsZero() {
		c.OccurredAt = now
	}
	if c.Severity == "" {
		c.Severity = event.DefaultSeverity(c.Type)
	} else if !c.Severity.Valid() {
		return fmt.Errorf("%w: unknown severity %q", ErrInvalid, c.Severity)
	}
	if c.Detail.Message == "" {
		return fmt.Errorf("%w: message is required", ErrInvalid)
	}
	return nil
}
