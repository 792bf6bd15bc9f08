package channel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strings"

	"github.com/google/uuid"

	"github.com/tinegachris/iot-project-server-room-security/internal/event"
)

// EmailConfig carries SMTP settings and recipients.
type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       string
}

// EmailSender delivers alerts over SMTP with STARTTLS plain auth.
type EmailSender struct {
	config EmailConfig
	auth   smtp.Auth
	// sendMail is swappable for tests.
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewEmailSender builds the email channel.
func NewEmailSender(config EmailConfig) *EmailSender {
	return &EmailSender{
		config:   config,
		auth:     smtp.PlainAuth("", config.Username, config.Password, config.Host),
		sendMail: smtp.SendMail,
	}
}

func (e *EmailSender) Name() event.Channel { return event.ChannelEmail }

// Send delivers the message and returns an opaque reference for the
// dispatch-attempt row.
func (e *EmailSender) Send(ctx context.Context, msg Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", TransientError(event.ChannelEmail, err)
	}

	body := "To: " + e.config.To + "\r\n" +
		"From: " + e.config.From + "\r\n" +
		"Subject: " + msg.Subject + "\r\n" +
		"\r\n" + msg.Body

	addr := fmt.Sprintf("%s:%d", e.config.Host, e.config.Port)
	if err := e.sendMail(addr, e.auth, e.config.From, []string{e.config.To}, []byte(body)); err != nil {
		return "", classifySMTPError(err)
	}

	return "smtp-" + uuid.New().String(), nil
}

// classifySMTPError maps SMTP failures onto the retry taxonomy: network
// problems and 4xx server replies are transient, authentication and policy
// rejections (5xx) are permanent.
func classifySMTPError(err error) *Error {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return TransientError(event.ChannelEmail, err)
	}

	s := err.Error()
	switch {
	case strings.HasPrefix(s, "4"):
		return TransientError(event.ChannelEmail, err)
	case strings.HasPrefix(s, "5"):
		return PermanentError(event.ChannelEmail, err)
	default:
		return TransientError(event.ChannelEmail, err)
	}
}
