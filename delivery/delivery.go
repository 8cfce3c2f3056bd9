// Package delivery provides otpkit.Sender implementations. Senders are
// invoked by the caller that wraps the engine, never by the engine itself.
package delivery

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
)

// SMTP delivers codes by email through an SMTP relay.
type SMTP struct {
	dialer  *gomail.Dialer
	from    string
	subject string
}

// NewSMTP returns an SMTP sender. subject may be empty; a default is used.
func NewSMTP(host string, port int, username, password, from, subject string) *SMTP {
	if subject == "" {
		subject = "Your verification code"
	}
	return &SMTP{
		dialer:  gomail.NewDialer(host, port, username, password),
		from:    from,
		subject: subject,
	}
}

// Send implements otpkit.Sender. The identifier is used as the recipient
// address; deliverability validation is the caller's concern.
func (s *SMTP) Send(_ context.Context, identifier, code string) error {
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", identifier)
	m.SetHeader("Subject", s.subject)

	body := fmt.Sprintf(`
		<p>Your verification code is:</p>
		<p><strong style="font-size: 1.5em; letter-spacing: 0.2em;">%s</strong></p>
		<p>The code expires shortly. If you did not request it, you can ignore
		this message.</p>
	`, code)
	m.SetBody("text/html", body)

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send otp email: %w", err)
	}
	return nil
}

// Log writes codes to a zap logger instead of delivering them. Development
// only: it exists so local setups work without an SMTP relay, and it must
// never be wired in production configuration.
type Log struct {
	logger *zap.Logger
}

// NewLog returns a Log sender over logger.
func NewLog(logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{logger: logger}
}

// Send implements otpkit.Sender.
func (l *Log) Send(_ context.Context, identifier, code string) error {
	l.logger.Info("otp delivery (development log sender)",
		zap.String("identifier", identifier),
		zap.String("code", code),
	)
	return nil
}
