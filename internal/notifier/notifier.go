// Package notifier delivers lifecycle emails. Failures are logged, never
// propagated; a dead mail relay must not block billing.
package notifier

import (
	"context"
	"fmt"
	"net/smtp"

	"github.com/nimbuspay/nimbus/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Notifier sends one templated message. Implementations are fire-and-forget
// from the caller's point of view.
type Notifier interface {
	Send(ctx context.Context, templateKey, recipient string, data map[string]any)
}

var subjects = map[string]string{
	"trial_ending_soon":      "Your trial is ending soon",
	"payment_past_due":       "Payment required: your account is past due",
	"subscription_suspended": "Your account has been suspended",
	"subscription_canceled":  "Your subscription has been canceled",
}

type Params struct {
	fx.In

	Cfg config.Config
	Log *zap.Logger
}

type smtpNotifier struct {
	host     string
	port     int
	username string
	password string
	from     string
	log      *zap.Logger
}

// New returns the SMTP notifier, or a no-op when no relay is configured.
func New(p Params) Notifier {
	log := p.Log.Named("notifier")
	if p.Cfg.SMTPHost == "" {
		log.Info("no smtp relay configured, notifications disabled")
		return NoOp{}
	}
	return &smtpNotifier{
		host:     p.Cfg.SMTPHost,
		port:     p.Cfg.SMTPPort,
		username: p.Cfg.SMTPUsername,
		password: p.Cfg.SMTPPassword,
		from:     p.Cfg.SMTPFrom,
		log:      log,
	}
}

func (n *smtpNotifier) Send(ctx context.Context, templateKey, recipient string, data map[string]any) {
	subject, ok := subjects[templateKey]
	if !ok {
		subject = "Billing notification"
	}

	body := fmt.Sprintf("Subject: %s\r\nTo: %s\r\nContent-Type: text/plain; charset=\"UTF-8\"\r\n\r\n", subject, recipient)
	for key, value := range data {
		body += fmt.Sprintf("%s: %v\r\n", key, value)
	}

	auth := smtp.PlainAuth("", n.username, n.password, n.host)
	addr := fmt.Sprintf("%s:%d", n.host, n.port)
	if err := smtp.SendMail(addr, auth, n.from, []string{recipient}, []byte(body)); err != nil {
		n.log.Warn("notification delivery failed",
			zap.String("template", templateKey),
			zap.String("recipient", recipient),
			zap.Error(err),
		)
	}
}

// NoOp drops every notification.
type NoOp struct{}

func (NoOp) Send(ctx context.Context, templateKey, recipient string, data map[string]any) {}

var Module = fx.Module("notifier",
	fx.Provide(New),
)
