package email

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/rs/zerolog/log"
)

type SMTPConfig struct {
	Host string
	Port int
	User string
	Pass string
	From string
}

// Mail is a plain text message. It is also the payload of queued mail jobs.
type Mail struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Sender delivers a Mail, directly or by handing it to a queue.
type Sender interface {
	Send(ctx context.Context, m Mail) error
}

func buildMessage(from string, m Mail) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + m.To + "\r\n")
	b.WriteString("Subject: " + m.Subject + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(m.Body)
	return []byte(b.String())
}

func SendText(cfg SMTPConfig, to, subject, body string) error {
	if cfg.Host == "" {
		return errors.New("smtp host not configured")
	}
	if strings.ContainsAny(to, "\r\n") || strings.ContainsAny(subject, "\r\n") {
		return errors.New("invalid header value")
	}
	var a smtp.Auth
	if cfg.User != "" {
		a = smtp.PlainAuth("", cfg.User, cfg.Pass, cfg.Host)
	}
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	return smtp.SendMail(addr, a, cfg.From, []string{to}, buildMessage(cfg.From, Mail{To: to, Subject: subject, Body: body}))
}

type SMTPSender struct {
	cfg SMTPConfig
}

func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	return &SMTPSender{cfg: cfg}
}

func (s *SMTPSender) Send(_ context.Context, m Mail) error {
	return SendText(s.cfg, m.To, m.Subject, m.Body)
}

// LogSender only logs. Used when no SMTP server is configured.
type LogSender struct{}

func (LogSender) Send(ctx context.Context, m Mail) error {
	log.Ctx(ctx).Info().Str("to", m.To).Str("subject", m.Subject).Str("body", m.Body).Msg("mail not sent: smtp disabled")
	return nil
}
