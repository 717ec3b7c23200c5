package notify

import (
	"context"
	"fmt"

	"gopkg.in/gomail.v2"
)

// SMTPConfig holds relay settings. Port 587 upgrades with STARTTLS.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// SMTPTransport sends notifications through an authenticated SMTP relay as
// multipart/alternative messages.
type SMTPTransport struct {
	send func(m ...*gomail.Message) error
}

// NewSMTPTransport dials the relay once per message.
func NewSMTPTransport(cfg SMTPConfig) *SMTPTransport {
	port := cfg.Port
	if port == 0 {
		port = 587
	}
	d := gomail.NewDialer(cfg.Host, port, cfg.Username, cfg.Password)
	return &SMTPTransport{send: d.DialAndSend}
}

func (s *SMTPTransport) Send(ctx context.Context, m Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.From)
	msg.SetHeader("To", m.To)
	msg.SetHeader("Subject", m.Subject)
	msg.SetBody("text/plain", m.Text)
	msg.AddAlternative("text/html", m.HTML)

	if err := s.send(msg); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}
