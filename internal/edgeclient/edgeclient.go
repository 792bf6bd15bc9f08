// Package edgeclient is the server-side client for the edge device's
// command API. Commands are forwarded as-is; network failures and 5xx
// responses are retried briefly, 4xx responses are not.
package edgeclient

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
)

const maxRetries = 3

// Client talks to one edge device.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *zap.Logger

	newBackOff func() backoff.BackOff
}

func New(baseURL, apiKey string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		http:       &http.Client{Timeout: timeout},
		logger:     logger,
		newBackOff: defaultBackOff,
	}
}

// Command posts an action to the device's /control endpoint and returns the
// per-action result payload.
func (c *Client) Command(ctx context.Context, action string, parameters map[string]any) (map[string]any, error) {
	payload, err := json.Marshal(map[string]any{
		"action":     action,
		"parameters": parameters,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding command: %w", err)
	}

	var result map[string]any
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.baseURL+"/control", bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-API-Key", c.apiKey)

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("edge request: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return fmt.Errorf("reading edge response: %w", err)
		}
		if resp.StatusCode >= 500 {
			return fmt.Errorf("edge returned %d", resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			return backoff.Permanent(fmt.Errorf("edge rejected command: %d %s",
				resp.StatusCode, bytes.TrimSpace(body)))
		}
		if err := json.Unmarshal(body, &result); err != nil {
			return backoff.Permanent(fmt.Errorf("decoding edge response: %w", err))
		}
		return nil
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), maxRetries), ctx)
	if err := backoff.RetryNotify(operation, bo, func(err error, next time.Duration) {
		c.logger.Warn("edge command retry",
			zap.String("action", action),
			zap.Duration("next_attempt_in", next),
			zap.Error(err))
	}); err != nil {
		return nil, fmt.Errorf("edge command %q: %w", action, err)
	}
	return result, nil
}

func defaultBackOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	bo.MaxElapsedTime = 0
	return bo
}
