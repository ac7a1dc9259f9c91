// Package email delivers verification and password reset messages.
package email

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	mail "github.com/go-mail/mail"
)

type Sender interface {
	Send(ctx context.Context, to, subject, htmlBody, textBody string) error
}

const defaultDialTimeout = 10 * time.Second

type SMTPSender struct {
	Host     string
	Port     int
	From     string
	Username string
	Password string
	// TLSMode is one of "auto", "ssl" or "none". "auto" upgrades with
	// STARTTLS when the server offers it.
	TLSMode string
	Logger  *slog.Logger
}

func NewSMTPSender(host string, port int, from, username, password string, logger *slog.Logger) *SMTPSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &SMTPSender{
		Host:     host,
		Port:     port,
		From:     from,
		Username: username,
		Password: password,
		TLSMode:  "auto",
		Logger:   logger,
	}
}

func (s *SMTPSender) Send(ctx context.Context, to, subject, htmlBody, textBody string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	log := s.Logger.With("component", "smtp_sender", "host", s.Host, "port", s.Port)

	d := mail.NewDialer(s.Host, s.Port, s.Username, s.Password)
	d.Timeout = defaultDialTimeout
	if deadline, ok := ctx.Deadline(); ok {
		d.Timeout = time.Until(deadline)
	}
	d.TLSConfig = &tls.Config{ServerName: s.Host, MinVersion: tls.VersionTLS12}
	switch s.TLSMode {
	case "ssl":
		d.SSL = true
	case "none":
		d.TLSConfig = nil
		d.StartTLSPolicy = mail.NoStartTLS
	}

	if err := d.DialAndSend(s.message(to, subject, htmlBody, textBody)); err != nil {
		log.ErrorContext(ctx, "smtp send failed", "error", err)
		return fmt.Errorf("smtp send: %w", err)
	}
	log.DebugContext(ctx, "email sent", "subject", subject)
	return nil
}

// message builds a multipart/alternative message when both bodies are set.
func (s *SMTPSender) message(to, subject, htmlBody, textBody string) *mail.Message {
	m := mail.NewMessage()
	m.SetHeader("From", s.From)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	if textBody != "" {
		m.SetBody("text/plain", textBody)
	}
	if htmlBody != "" {
		if textBody == "" {
			m.SetBody("text/html", htmlBody)
		} else {
			m.AddAlternative("text/html", htmlBody)
		}
	}
	return m
}
