package account

import (
	"fmt"
	"net"
	"net/smtp"
	"strings"
)

// Mailer delivers out-of-band notifications, used only by invitations
type Mailer interface {
	Send(to, subject, body string) error
}

// NopMailer swallows all mail, for deployments without a relay and for
// tests
type NopMailer struct{}

// Send discards the message
func (NopMailer) Send(to, subject, body string) error {
	return nil
}

// SMTPMailer delivers mail through a plain SMTP relay
type SMTPMailer struct {
	Addr string // host:port
	From string
	auth smtp.Auth
}

// NewSMTPMailer creates a mailer pointed at an SMTP relay. username and
// password may be empty for relays that accept unauthenticated submission.
func NewSMTPMailer(addr, from, username, password string) *SMTPMailer {
	m := &SMTPMailer{Addr: addr, From: from}
	if username != "" {
		host := addr
		if h, _, err := net.SplitHostPort(addr); err == nil {
			host = h
		}
		m.auth = smtp.PlainAuth("", username, password, host)
	}
	return m
}

// Send delivers a single plain-text message
func (m *SMTPMailer) Send(to, subject, body string) error {
	msg := strings.Join([]string{
		"From: " + m.From,
		"To: " + to,
		"Subject: " + subject,
		"",
		body,
	}, "\r\n")
	if err := smtp.SendMail(m.Addr, m.auth, m.From, []string{to}, []byte(msg)); err != nil {
		return fmt.Errorf("failed to send mail: %w", err)
	}
	return nil
}
