package email

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"github.com/tonyging/jx3-trading-platform/internal/platform/logger"
)

// Sender delivers a single message.
type Sender interface {
	Send(ctx context.Context, to []string, subject, bodyHTML, bodyText string) error
}

type SMTPConfig struct {
	Host       string
	Port       int
	Username   string
	Password   string
	Sender     string
	Encryption string // "", "ssl", "tls" or "starttls"
}

type smtpSender struct {
	from   string
	logger *logger.Logger
	dialer *gomail.Dialer
}

func NewSMTPSender(cfg SMTPConfig, log *logger.Logger) (Sender, error) {
	if cfg.Host == "" || cfg.Port == 0 || cfg.Sender == "" {
		return nil, fmt.Errorf("SMTP host, port, and sender email must be configured")
	}

	dialer := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	switch strings.ToLower(cfg.Encryption) {
	case "ssl":
		dialer.SSL = true
		dialer.TLSConfig = &tls.Config{ServerName: cfg.Host, MinVersion: tls.VersionTLS12}
	case "tls", "starttls":
		dialer.TLSConfig = &tls.Config{ServerName: cfg.Host, MinVersion: tls.VersionTLS12}
	}

	return &smtpSender{from: cfg.Sender, logger: log.Named("smtp"), dialer: dialer}, nil
}

func (s *smtpSender) Send(ctx context.Context, to []string, subject, bodyHTML, bodyText string) error {
	if len(to) == 0 {
		return fmt.Errorf("no recipients provided for email")
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to...)
	m.SetHeader("Subject", subject)

	switch {
	case bodyHTML != "":
		m.SetBody("text/html", bodyHTML)
		if bodyText != "" {
			m.AddAlternative("text/plain", bodyText)
		}
	case bodyText != "":
		m.SetBody("text/plain", bodyText)
	default:
		return fmt.Errorf("email body (HTML or Text) must be provided")
	}

	done := make(chan error, 1)
	go func() {
		done <- s.dialer.DialAndSend(m)
	}()

	select {
	case <-ctx.Done():
		s.logger.Warn("Email sending cancelled", zap.Strings("to", to), zap.String("subject", subject), zap.Error(ctx.Err()))
		return fmt.Errorf("email sending cancelled or timed out: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			s.logger.Error("Failed to send email", zap.Strings("to", to), zap.String("subject", subject), zap.Error(err))
			return fmt.Errorf("failed to send email: %w", err)
		}
	}

	s.logger.Info("Email sent", zap.Strings("to", to), zap.String("subject", subject))
	return nil
}
