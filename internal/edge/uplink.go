package edge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/tinegachris/iot-project-server-room-security/internal/event"
	"github.com/tinegachris/iot-project-server-room-security/internal/sensor"
)

const uplinkRetries = 3

// Uplink posts events and heartbeats to the server. The server answers a
// deduplicated event with 200, which the uplink treats as delivered so the
// device never retries a suppressed duplicate.
type Uplink struct {
	serverURL string
	apiKey    string
	http      *http.Client
	logger    *zap.Logger

	newBackOff func() backoff.BackOff
}

func NewUplink(serverURL, apiKey string, timeout time.Duration, logger *zap.Logger) *Uplink {
	return &Uplink{
		serverURL: serverURL,
		apiKey:    apiKey,
		http:      &http.Client{Timeout: timeout},
		logger:    logger.Named("uplink"),
		newBackOff: func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.InitialInterval = time.Second
			bo.MaxInterval = 10 * time.Second
			bo.MaxElapsedTime = 0
			return bo
		},
	}
}

// PostEvent sends one candidate. It returns whether the server accepted it
// as a new log row; a deduplicated event returns (false, nil).
func (u *Uplink) PostEvent(ctx context.Context, c event.Candidate) (bool, error) {
	body := map[string]any{
		"event_type": c.Type,
		"timestamp":  c.OccurredAt.Format(time.RFC3339),
		"sensor_id":  c.SourceSensorID,
		"detail": map[string]any{
			"message":     c.Detail.Message,
			"sensor_data": c.Detail.SensorData,
			"media_url":   c.Detail.MediaURL,
		},
	}
	if c.Severity != "" {
		body["severity"] = c.Severity
	}
	if c.ExplicitDedupKey != "" {
		body["dedup_key"] = c.ExplicitDedupKey
	}

	var accepted bool
	err := u.post(ctx, "/events", body, func(status int, respBody []byte) error {
		switch {
		case status == http.StatusCreated:
			accepted = true
			return nil
		case status == http.StatusOK:
			// Deduplicated: delivered as far as the device is concerned.
			return nil
		case status >= 500:
			return fmt.Errorf("server returned %d", status)
		default:
			return backoff.Permanent(fmt.Errorf("server rejected event: %d %s",
				status, bytes.TrimSpace(respBody)))
		}
	})
	if err != nil {
		return false, fmt.Errorf("posting %s event: %w", c.Type, err)
	}
	return accepted, nil
}

// Heartbeat reports liveness and the current sensor states.
func (u *Uplink) Heartbeat(ctx context.Context, at time.Time, sensors []sensor.Status) error {
	body := map[string]any{
		"timestamp": at.Format(time.RFC3339),
		"sensors":   sensors,
	}
	err := u.post(ctx, "/heartbeat", body, func(status int, respBody []byte) error {
		switch {
		case status < 300:
			return nil
		case status >= 500:
			return fmt.Errorf("server returned %d", status)
		default:
			return backoff.Permanent(fmt.Errorf("server rejected heartbeat: %d", status))
		}
	})
	if err != nil {
		return fmt.Errorf("posting heartbeat: %w", err)
	}
	return nil
}

func (u *Uplink) post(ctx context.Context, path string, body any, handle func(status int, body []byte) error) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			u.serverURL+path, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-API-Key", u.apiKey)

		resp, err := u.http.Do(req)
		if err != nil {
			return fmt.Errorf("server request: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return fmt.Errorf("reading response: %w", err)
		}
		return handle(resp.StatusCode, respBody)
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(u.newBackOff(), uplinkRetries), ctx)
	return backoff.RetryNotify(operation, bo, func(err error, next time.Duration) {
		u.logger.Warn("uplink retry",
			zap.String("path", path),
			zap.Duration("next_attempt_in", next),
			zap.Error(err))
	})
}
