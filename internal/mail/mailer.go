// Package mail sends outbound application mail over SMTP.
package mail

import (
	"fmt"

	"github.com/bpajor/pay-man-sys/internal/config"
	"go.uber.org/zap"
	gomail "gopkg.in/gomail.v2"
)

type Mailer interface {
	Send(to, subject, body string) error
}

type SMTPMailer struct {
	dialer *gomail.Dialer
	from   string
}

func NewSMTPMailer(cfg *config.EmailConfig) *SMTPMailer {
	return &SMTPMailer{
		dialer: gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.Username, cfg.Password),
		from:   cfg.From,
	}
}

func (m *SMTPMailer) Send(to, subject, body string) error {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/html", body)

	if err := m.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("send mail to %s: %w", to, err)
	}
	return nil
}

// LogMailer writes mail to the process log instead of dispatching it.
// Used in local development when no SMTP relay is configured.
type LogMailer struct {
	Log *zap.Logger
}

func (m LogMailer) Send(to, subject, body string) error {
	logger := m.Log
	if logger == nil {
		logger = zap.L()
	}
	logger.Info("mail not sent, no relay configured",
		zap.String("to", to),
		zap.String("subject", subject),
	)
	return nil
}
