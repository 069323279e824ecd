package auth

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
)

type Mailer interface {
	SendWelcome(ctx context.Context, email, fullName string) error
}

type SMTPMailer struct {
	host string
	port int
	user string
	pass string
	from string
}

type SMTPConfig struct {
	Host string
	Port int
	User string
	Pass string
	From string
}

// NewSMTPMailer returns nil when the config is incomplete so callers
// can treat email delivery as optional.
func NewSMTPMailer(cfg SMTPConfig) Mailer {
	if strings.TrimSpace(cfg.Host) == "" || cfg.Port <= 0 || strings.TrimSpace(cfg.From) == "" {
		return nil
	}
	return &SMTPMailer{
		host: strings.TrimSpace(cfg.Host),
		port: cfg.Port,
		user: strings.TrimSpace(cfg.User),
		pass: cfg.Pass,
		from: strings.TrimSpace(cfg.From),
	}
}

func (m *SMTPMailer) SendWelcome(ctx context.Context, email, fullName string) error {
	_ = ctx
	addr := fmt.Sprintf("%s:%d", m.host, m.port)

	subject := "Your survey panel account is ready"
	body := fmt.Sprintf("Hello %s,\n\nYour registration has been approved. You can now sign in with your email address and the password chosen during onboarding.\n", fullName)
	msg := "From: " + m.from + "\r\n" +
		"To: " + email + "\r\n" +
		"Subject: " + subject + "\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: text/plain; charset=UTF-8\r\n\r\n" +
		body + "\r\n"

	var auth smtp.Auth
	if m.user != "" {
		auth = smtp.PlainAuth("", m.user, m.pass, m.host)
	}

	if err := smtp.SendMail(addr, auth, m.from, []string{email}, []byte(msg)); err != nil {
		return fmt.Errorf("smtp send welcome: %w", err)
	}
	return nil
}
