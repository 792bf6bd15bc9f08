package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tinegachris/iot-project-server-room-security/internal/event"
)

// SMSConfig carries the SMS gateway settings. The endpoint speaks the common
// REST form-post shape (Twilio-compatible); the account ID and token go into
// basic auth.
type SMSConfig struct {
	Endpoint  string
	AccountID string
	Token     string
	From      string
	To        string
}

// SMSSender delivers alerts through an HTTP SMS gateway.
type SMSSender struct {
	config SMSConfig
	client *http.Client
}

// NewSMSSender builds the SMS channel.
func NewSMSSender(config SMSConfig, client *http.Client) *SMSSender {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &SMSSender{config: config, client: client}
}

func (s *SMSSender) Name() event.Channel { return event.ChannelSMS }

// Send posts the message and returns the provider's message reference.
func (s *SMSSender) Send(ctx context.Context, msg Message) (string, error) {
	form := url.Values{}
	form.Set("From", s.config.From)
	form.Set("To", s.config.To)
	form.Set("Body", msg.Body)
	if msg.MediaURL != "" {
		form.Set("MediaUrl", msg.MediaURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.Endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", PermanentError(event.ChannelSMS, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(s.config.AccountID, s.config.Token)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", TransientError(event.ChannelSMS, err)
	}
	defer resp.Body.Close()

	if err := classifyHTTPStatus(event.ChannelSMS, resp.StatusCode); err != nil {
		return "", err
	}

	var out struct {
		SID string `json:"sid"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil || out.SID == "" {
		// Provider accepted the message but gave no usable reference.
		return fmt.Sprintf("sms-%d", time.Now().UnixNano()), nil
	}
	return out.SID, nil
}

// classifyHTTPStatus maps gateway status codes onto the retry taxonomy:
// rate limiting and server errors are transient, other 4xx (bad recipient,
// bad credentials) are permanent.
func classifyHTTPStatus(ch event.Channel, status int) *Error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests || status >= 500:
		return TransientError(ch, fmt.Errorf("gateway returned %d", status))
	default:
		return PermanentError(ch, fmt.Errorf("gateway returned %d", status))
	}
}
