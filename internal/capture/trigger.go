// Package capture attaches visual evidence to security-relevant events
// without blocking the sensor loop.
package capture

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tinegachris/iot-project-server-room-security/internal/event"
	"github.com/tinegachris/iot-project-server-room-security/internal/storage"
)

// Camera abstracts the capture hardware. Driver internals are out of this
// package's hands; it only needs encoded bytes back.
type Camera interface {
	CaptureImage(ctx context.Context) (data []byte, contentType string, err error)
}

// Trigger runs captures asynchronously with a hard timeout. If capture does
// not finish in time the event is forwarded without a media reference rather
// than being dropped. Capture failures are logged locally and never become
// events of their own.
type Trigger struct {
	camera  Camera
	store   storage.MediaStore
	timeout time.Duration
	sem     chan struct{}
	logger  *zap.Logger
}

// NewTrigger builds the capture trigger. maxInFlight bounds concurrent
// captures so a burst of events cannot pile work onto the device.
func NewTrigger(camera Camera, store storage.MediaStore, timeout time.Duration, maxInFlight int, logger *zap.Logger) *Trigger {
	if maxInFlight <= 0 {
		maxInFlight = 1
	}
	return &Trigger{
		camera:  camera,
		store:   store,
		timeout: timeout,
		sem:     make(chan struct{}, maxInFlight),
		logger:  logger.Named("capture"),
	}
}

// Worthy reports whether an event type warrants visual evidence.
func Worthy(t event.Type) bool {
	switch t {
	case event.TypeMotionDetected, event.TypeDoorOpened,
		event.TypeWindowOpened, event.TypeUnauthorizedAccess:
		return true
	}
	return false
}

// MaybeCapture returns the event with a media reference attached when
// capture completed within the timeout, or the event unchanged otherwise.
func (t *Trigger) MaybeCapture(ctx context.Context, ev event.Candidate) event.Candidate {
	if t.camera == nil || t.store == nil || !Worthy(ev.Type) {
		return ev
	}

	select {
	case t.sem <- struct{}{}:
	default:
		// Capture worker saturated; forward without evidence.
		t.logger.Warn("capture skipped, worker busy", zap.String("event_type", string(ev.Type)))
		return ev
	}

	result := make(chan string, 1)
	go func() {
		defer func() { <-t.sem }()

		// The capture keeps its own deadline so an abandoned wait below
		// does not leave it running forever.
		cctx, cancel := context.WithTimeout(context.Background(), 2*t.timeout)
		defer cancel()

		url, err := t.capture(cctx, ev)
		if err != nil {
			t.logger.Error("capture failed", zap.String("event_type", string(ev.Type)), zap.Error(err))
		}
		result <- url
	}()

	select {
	case url := <-result:
		if url != "" {
			ev.Detail.MediaURL = url
		}
		return ev
	case <-time.After(t.timeout):
		t.logger.Warn("capture timed out, forwarding without media",
			zap.String("event_type", string(ev.Type)),
			zap.Duration("timeout", t.timeout))
		return ev
	case <-ctx.Done():
		return ev
	}
}

// VideoRecorder is implemented by cameras that can record clips. Cameras
// without it reject record_video commands.
type VideoRecorder interface {
	RecordVideo(ctx context.Context, d time.Duration) (data []byte, contentType string, err error)
}

// CaptureNow takes one picture synchronously on operator demand and returns
// the stored media URL.
func (t *Trigger) CaptureNow(ctx context.Context) (string, error) {
	if t.camera == nil || t.store == nil {
		return "", fmt.Errorf("no camera configured")
	}
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	data, contentType, err := t.camera.CaptureImage(ctx)
	if err != nil {
		return "", fmt.Errorf("camera capture: %w", err)
	}
	key := fmt.Sprintf("capture/manual/%s", uuid.New().String())
	url, err := t.store.Save(ctx, key, data, contentType)
	if err != nil {
		return "", fmt.Errorf("media upload: %w", err)
	}
	return url, nil
}

// RecordNow records a clip of the given length on operator demand.
func (t *Trigger) RecordNow(ctx context.Context, d time.Duration) (string, error) {
	if t.store == nil {
		return "", fmt.Errorf("no media store configured")
	}
	rec, ok := t.camera.(VideoRecorder)
	if !ok {
		return "", fmt.Errorf("camera does not support video recording")
	}
	ctx, cancel := context.WithTimeout(ctx, d+t.timeout)
	defer cancel()

	data, contentType, err := rec.RecordVideo(ctx, d)
	if err != nil {
		return "", fmt.Errorf("video recording: %w", err)
	}
	key := fmt.Sprintf("capture/video/%s", uuid.New().String())
	url, err := t.store.Save(ctx, key, data, contentType)
	if err != nil {
		return "", fmt.Errorf("media upload: %w", err)
	}
	return url, nil
}

func (t *Trigger) capture(ctx context.Context, ev event.Candidate) (string, error) {
	data, contentType, err := t.camera.CaptureImage(ctx)
	if err != nil {
		return "", fmt.Errorf("camera capture: %w", err)
	}

	key := fmt.Sprintf("capture/%s/%s", ev.Type, uuid.New().String())
	url, err := t.store.Save(ctx, key, data, contentType)
	if err != nil {
		return "", fmt.Errorf("media upload: %w", err)
	}
	return url, nil
}
