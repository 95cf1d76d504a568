package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/wneessen/go-mail"

	"github.com/odyssey-erp/odyssey-billing/internal/settings"
)

// Envelope is a rendered message addressed to one recipient.
type Envelope struct {
	MessageID      string `json:"messageId"`
	To             string `json:"to"`
	ToName         string `json:"toName,omitempty"`
	Subject        string `json:"subject"`
	HTML           string `json:"html"`
	TemplateKey    string `json:"templateKey"`
	TemplateSource string `json:"templateSource"`
}

// Transport hands an envelope to a mail server.
type Transport interface {
	Deliver(ctx context.Context, env Envelope) error
}

// EmailSettingsSource supplies SMTP configuration for each send.
type EmailSettingsSource interface {
	EmailSettings(ctx context.Context) settings.EmailSettings
}

// SMTPTransport delivers over SMTP, building a client from fresh settings on
// every call so edits take effect without a restart.
type SMTPTransport struct {
	settings EmailSettingsSource
	logger   *slog.Logger
}

// NewSMTPTransport wires the SMTP transport.
func NewSMTPTransport(src EmailSettingsSource, logger *slog.Logger) *SMTPTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &SMTPTransport{settings: src, logger: logger}
}

// Deliver sends env.
func (t *SMTPTransport) Deliver(ctx context.Context, env Envelope) error {
	cfg := t.settings.EmailSettings(ctx)
	if cfg.SMTPHost == "" {
		return errors.New("smtp host not configured")
	}

	msg := mail.NewMsg()
	if err := msg.FromFormat(fromName(cfg), cfg.FromAddress); err != nil {
		return fmt.Errorf("from address: %w", err)
	}
	if err := msg.AddToFormat(env.ToName, env.To); err != nil {
		return fmt.Errorf("recipient: %w", err)
	}
	msg.Subject(env.Subject)
	msg.SetBodyString(mail.TypeTextHTML, env.HTML)
	if env.MessageID != "" {
		msg.SetMessageIDWithValue(env.MessageID)
	}

	client, err := mail.NewClient(cfg.SMTPHost, clientOptions(cfg)...)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	t.logger.Debug("email delivered", slog.String("to", env.To), slog.String("template", env.TemplateKey))
	return nil
}

func clientOptions(cfg settings.EmailSettings) []mail.Option {
	opts := []mail.Option{mail.WithPort(cfg.SMTPPort), mail.WithTLSPolicy(mail.TLSOpportunistic)}
	if cfg.SMTPPort == 0 {
		opts[0] = mail.WithPort(25)
	}
	if cfg.SMTPUsername != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.SMTPUsername),
			mail.WithPassword(cfg.SMTPPassword),
		)
	}
	return opts
}

func fromName(cfg settings.EmailSettings) string {
	if cfg.FromName != "" {
		return cfg.FromName
	}
	return cfg.CompanyName
}
