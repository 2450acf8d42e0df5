package mail

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/celestialseal/server/internal/logger"
)

// Message is a plain text email
type Message struct {
	To      string
	Subject string
	Body    string
}

// Mailer delivers a single message
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// VerificationMessage builds the email carrying the account verification link
func VerificationMessage(to, link string) Message {
	return Message{
		To:      to,
		Subject: "Verification",
		Body:    "Click here to verify: " + link,
	}
}

// OTPMessage builds the email carrying a login code
func OTPMessage(to, code string) Message {
	return Message{
		To:      to,
		Subject: "Your login code",
		Body:    fmt.Sprintf("Your OTP is: %s", code),
	}
}

// LogMailer writes messages to the log instead of sending them. Used when MAIL_HOST is unset.
// Bodies carry codes and login links, so they are only logged in dev mode.
type LogMailer struct {
	log *slog.Logger
	dev bool
}

func NewLogMailer(log *slog.Logger, dev bool) *LogMailer {
	return &LogMailer{log: log, dev: dev}
}

func (m *LogMailer) Send(_ context.Context, msg Message) error {
	attrs := []any{
		"to", logger.MaskEmail(msg.To),
		"subject", msg.Subject,
	}
	if m.dev {
		attrs = append(attrs, "body", msg.Body)
	}
	m.log.Info("mail not sent, no SMTP host configured", attrs...)
	return nil
}
