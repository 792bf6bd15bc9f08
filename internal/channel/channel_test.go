package channel

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinegachris/iot-project-server-room-security/internal/event"
)

func TestClassifyHTTPStatus(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantErr   bool
		transient bool
	}{
		{"ok", 200, false, false},
		{"created", 201, false, false},
		{"rate limited", 429, true, true},
		{"server error", 503, true, true},
		{"bad recipient", 400, true, false},
		{"bad credentials", 401, true, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := classifyHTTPStatus(event.ChannelSMS, tc.status)
			if !tc.wantErr {
				assert.Nil(t, err)
				return
			}
			require.NotNil(t, err)
			assert.Equal(t, tc.transient, err.Transient)
		})
	}
}

func TestIsTransientDefaultsToRetry(t *testing.T) {
	assert.True(t, IsTransient(assert.AnError))
	assert.True(t, IsTransient(TransientError(event.ChannelPush, assert.AnError)))
	assert.False(t, IsTransient(PermanentError(event.ChannelPush, assert.AnError)))
}

func TestSMSSenderPostsForm(t *testing.T) {
	var gotAuth bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _, gotAuth = r.BasicAuth()
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "+15550001111", r.Form.Get("To"))
		assert.Contains(t, r.Form.Get("Body"), "door_opened")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"sid":"SM123"}`))
	}))
	defer srv.Close()

	sender := NewSMSSender(SMSConfig{
		Endpoint:  srv.URL,
		AccountID: "AC1",
		Token:     "tok",
		From:      "+15550002222",
		To:        "+15550001111",
	}, srv.Client())

	ref, err := sender.Send(context.Background(), Format(event.Logged{
		Type:       event.TypeDoorOpened,
		Severity:   event.SeverityWarning,
		Message:    "Door opened in server room",
		OccurredAt: time.Now(),
	}))
	require.NoError(t, err)
	assert.Equal(t, "SM123", ref)
	assert.True(t, gotAuth)
}

func TestSMSSenderPermanentOnBadRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	sender := NewSMSSender(SMSConfig{Endpoint: srv.URL}, srv.Client())
	_, err := sender.Send(context.Background(), Message{Body: "x"})
	require.Error(t, err)
	assert.False(t, IsTransient(err))
}

func TestPushSenderSendsNotification(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key=server-key", r.Header.Get("Authorization"))
		w.Write([]byte(`{"message_id":"m-1"}`))
	}))
	defer srv.Close()

	sender := NewPushSender(PushConfig{
		Endpoint:    srv.URL,
		ServerKey:   "server-key",
		DeviceToken: "dev-token",
	}, srv.Client())

	ref, err := sender.Send(context.Background(), Message{Subject: "alert", Body: "b"})
	require.NoError(t, err)
	assert.Equal(t, "m-1", ref)
}

func TestEmailSenderClassifiesFailures(t *testing.T) {
	sender := NewEmailSender(EmailConfig{Host: "smtp.example.com", Port: 587, To: "ops@example.com"})

	// 5xx replies (bad credentials, rejected recipient) are permanent.
	sender.sendMail = func(string, smtp.Auth, string, []string, []byte) error {
		return errors.New("535 5.7.8 Username and Password not accepted")
	}
	_, err := sender.Send(context.Background(), Message{Subject: "s", Body: "b"})
	require.Error(t, err)
	assert.False(t, IsTransient(err))

	// 4xx replies are worth retrying.
	sender.sendMail = func(string, smtp.Auth, string, []string, []byte) error {
		return errors.New("421 4.7.0 Try again later")
	}
	_, err = sender.Send(context.Background(), Message{Subject: "s", Body: "b"})
	require.Error(t, err)
	assert.True(t, IsTransient(err))

	// Success yields an opaque reference.
	sender.sendMail = func(string, smtp.Auth, string, []string, []byte) error { return nil }
	ref, err := sender.Send(context.Background(), Message{Subject: "s", Body: "b"})
	require.NoError(t, err)
	assert.NotEmpty(t, ref)
}

func TestFormatIncludesSensorDataAndMedia(t *testing.T) {
	msg := Format(event.Logged{
		Type:       event.TypeUnauthorizedAccess,
		Severity:   event.SeverityCritical,
		Message:    "Unauthorized badge access attempt",
		OccurredAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		SensorData: map[string]string{"card_uid": "card-99"},
		MediaURL:   "https://media.example/x.jpg",
	})
	assert.Equal(t, "Server Room Alert: unauthorized_access", msg.Subject)
	assert.Contains(t, msg.Body, "card_uid: card-99")
	assert.Contains(t, msg.Body, "Media URL: https://media.example/x.jpg")
	assert.Contains(t, msg.Body, "Severity: critical")
}
