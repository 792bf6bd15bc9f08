package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/tinegachris/iot-project-server-room-security/internal/event"
)

// PushConfig carries the push gateway settings (FCM-style key auth).
type PushConfig struct {
	Endpoint    string
	ServerKey   string
	DeviceToken string
}

// PushSender delivers alerts as push notifications.
type PushSender struct {
	config PushConfig
	client *http.Client
}

// NewPushSender builds the push channel.
func NewPushSender(config PushConfig, client *http.Client) *PushSender {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &PushSender{config: config, client: client}
}

func (p *PushSender) Name() event.Channel { return event.ChannelPush }

// Send posts the notification payload to the gateway.
func (p *PushSender) Send(ctx context.Context, msg Message) (string, error) {
	payload := map[string]interface{}{
		"to": p.config.DeviceToken,
		"notification": map[string]string{
			"title": msg.Subject,
			"body":  msg.Body,
		},
		"data": map[string]string{
			"severity":  string(msg.Severity),
			"media_url": msg.MediaURL,
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", PermanentError(event.ChannelPush, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", PermanentError(event.ChannelPush, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("key=%s", p.config.ServerKey))

	resp, err := p.client.Do(req)
	if err != nil {
		return "", TransientError(event.ChannelPush, err)
	}
	defer resp.Body.Close()

	if err := classifyHTTPStatus(event.ChannelPush, resp.StatusCode); err != nil {
		return "", err
	}

	var out struct {
		MessageID string `json:"message_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil || out.MessageID == "" {
		return "push-" + uuid.New().String(), nil
	}
	return out.MessageID, nil
}
