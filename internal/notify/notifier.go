// Package notify delivers engagement notifications to the operator's inbox.
//
// Each notice is rendered with Liquid templates into a subject plus
// text and HTML bodies, then handed to a Transport (SES or SMTP). Notices
// always go to the single configured operator address, never to the tracked
// recipient.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ignite/mailtrack/internal/domain"
	"github.com/ignite/mailtrack/internal/pkg/logger"
	"github.com/osteele/liquid"
)

// Message is a rendered notification ready for a transport.
type Message struct {
	From    string
	To      string
	Subject string
	Text    string
	HTML    string
}

// Transport delivers one rendered message.
type Transport interface {
	Send(ctx context.Context, m Message) error
}

// Config selects and configures the transport.
type Config struct {
	Transport string // "ses", "smtp" or "none"
	To        string
	From      string
	Timezone  string
	SMTP      SMTPConfig
	SES       SESConfig
}

// Notifier renders and sends the four notice kinds.
type Notifier struct {
	to        string
	from      string
	transport Transport
	tpl       *templateSet
}

// New builds a notifier from cfg. A "none" transport, a missing operator
// address, or missing credentials yield a disabled notifier whose calls all
// return ErrNotConfigured.
func New(ctx context.Context, cfg Config) (*Notifier, error) {
	var t Transport
	var err error
	switch strings.ToLower(cfg.Transport) {
	case "ses":
		if cfg.From != "" {
			t, err = NewSESTransport(ctx, cfg.SES)
		}
	case "smtp":
		if cfg.SMTP.Host != "" && cfg.SMTP.Username != "" && cfg.SMTP.Password != "" {
			t = NewSMTPTransport(cfg.SMTP)
			if cfg.From == "" {
				cfg.From = cfg.SMTP.Username
			}
		}
	case "", "none":
	default:
		return nil, fmt.Errorf("unknown notify transport %q", cfg.Transport)
	}
	if err != nil {
		return nil, err
	}
	if cfg.To == "" {
		t = nil
	}
	if t == nil {
		logger.Warn("email notifications disabled", "transport", cfg.Transport)
	}
	return NewWithTransport(cfg, t)
}

// NewWithTransport builds a notifier around an existing transport. A nil
// transport disables delivery.
func NewWithTransport(cfg Config, t Transport) (*Notifier, error) {
	loc := time.UTC
	if cfg.Timezone != "" {
		l, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("load timezone %q: %w", cfg.Timezone, err)
		}
		loc = l
	}
	tpl, err := newTemplateSet(loc)
	if err != nil {
		return nil, err
	}
	return &Notifier{to: cfg.To, from: cfg.From, transport: t, tpl: tpl}, nil
}

// Enabled reports whether notices are actually delivered.
func (n *Notifier) Enabled() bool { return n.transport != nil }

// NotifyFirstOpen sends the first-real-open alert.
func (n *Notifier) NotifyFirstOpen(ctx context.Context, fo domain.FirstOpenNotice) error {
	ev := domain.OpenEvent{Country: fo.Country, City: fo.City}
	return n.send(ctx, kindFirstOpen, fo.TrackingID, liquid.Bindings{
		"name":      displayName(fo.Recipient),
		"recipient": orDefault(fo.Recipient, "Unknown"),
		"subject":   orDefault(fo.Subject, "(no subject)"),
		"opened_at": fo.OpenedAt,
		"location":  ev.Location(),
		"elapsed":   fo.Elapsed,
	})
}

// NotifyHot sends the hot-conversation alert.
func (n *Notifier) NotifyHot(ctx context.Context, h domain.HotNotice) error {
	return n.send(ctx, kindHot, h.TrackingID, liquid.Bindings{
		"name":       displayName(h.Recipient),
		"recipient":  orDefault(h.Recipient, "Unknown"),
		"subject":    orDefault(h.Subject, "(no subject)"),
		"open_count": h.OpenCount,
	})
}

// NotifyRevived sends the revived-conversation alert.
func (n *Notifier) NotifyRevived(ctx context.Context, r domain.RevivedNotice) error {
	return n.send(ctx, kindRevived, r.TrackingID, liquid.Bindings{
		"name":      displayName(r.Recipient),
		"recipient": orDefault(r.Recipient, "Unknown"),
		"subject":   orDefault(r.Subject, "(no subject)"),
		"days":      r.DaysSinceFirstOpen,
	})
}

// NotifyFollowup sends the unopened-message reminder.
func (n *Notifier) NotifyFollowup(ctx context.Context, f domain.FollowupNotice) error {
	return n.send(ctx, kindFollowup, f.TrackingID, liquid.Bindings{
		"recipient": orDefault(f.Recipient, "Unknown"),
		"subject":   orDefault(f.Subject, "(no subject)"),
		"sent_at":   f.SentAt,
		"days":      f.DaysAgo,
	})
}

func (n *Notifier) send(ctx context.Context, k kind, trackingID string, vars liquid.Bindings) error {
	if n.transport == nil {
		logger.Warn("email notifications not configured, skipping", "kind", k, "tracking_id", trackingID)
		return ErrNotConfigured
	}
	subject, text, html, err := n.tpl.render(k, vars)
	if err != nil {
		return err
	}
	msg := Message{From: n.from, To: n.to, Subject: subject, Text: text, HTML: html}
	if err := n.transport.Send(ctx, msg); err != nil {
		return fmt.Errorf("send %s notification: %w", k, err)
	}
	logger.Info("notification delivered", "kind", k, "tracking_id", trackingID)
	return nil
}

// displayName is the local part of the recipient address, or "Someone".
func displayName(recipient string) string {
	if recipient == "" {
		return "Someone"
	}
	local, _, _ := strings.Cut(recipient, "@")
	if local == "" {
		return "Someone"
	}
	return local
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
