package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-billing/internal/platform/httpx"
)

// ErrNoRecipient is returned when the client has no email address.
var ErrNoRecipient error = &httpx.DomainError{Kind: httpx.ErrValidation, Message: "client has no email address"}

// Outbox queues envelopes for retried delivery.
type Outbox interface {
	EnqueueEmail(ctx context.Context, env Envelope) error
}

// Observer records delivery outcomes.
type Observer interface {
	ObserveEmail(templateKey, outcome string)
}

// Delivery outcomes.
const (
	OutcomeSent    = "sent"
	OutcomeFailed  = "failed"
	OutcomeQueued  = "queued"
	OutcomeSkipped = "skipped"
)

// DeliveryError reports a transport failure. Queued is set when the message
// was handed to the outbox for a later retry.
type DeliveryError struct {
	Err    error
	Queued bool
}

func (e *DeliveryError) Error() string {
	if e.Queued {
		return fmt.Sprintf("email delivery failed, queued for retry: %v", e.Err)
	}
	return fmt.Sprintf("email delivery failed: %v", e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Request describes one notification.
type Request struct {
	Event   Event
	Variant string
	To      string
	ToName  string
	Data    TemplateData
}

// Receipt describes a delivered message.
type Receipt struct {
	MessageID      string    `json:"messageId"`
	Recipient      string    `json:"recipient"`
	Subject        string    `json:"subject"`
	TemplateKey    string    `json:"templateKey"`
	TemplateSource string    `json:"templateSource"`
	SentAt         time.Time `json:"sentAt"`
}

// Notifier renders and delivers client emails.
type Notifier struct {
	resolver  *Resolver
	transport Transport
	outbox    Outbox
	observer  Observer
	logger    *slog.Logger
	now       func() time.Time
}

// NotifierOption customises a Notifier.
type NotifierOption func(*Notifier)

// WithOutbox enables queued retries after a failed send.
func WithOutbox(o Outbox) NotifierOption {
	return func(n *Notifier) { n.outbox = o }
}

// WithObserver records delivery metrics.
func WithObserver(o Observer) NotifierOption {
	return func(n *Notifier) { n.observer = o }
}

// NewNotifier wires a Notifier.
func NewNotifier(resolver *Resolver, transport Transport, logger *slog.Logger, opts ...NotifierOption) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	n := &Notifier{resolver: resolver, transport: transport, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Send renders req and delivers it synchronously.
func (n *Notifier) Send(ctx context.Context, req Request) (*Receipt, error) {
	to := strings.TrimSpace(req.To)
	if to == "" {
		n.observe(req.Event.Key(""), OutcomeSkipped)
		return nil, ErrNoRecipient
	}
	msg, err := n.resolver.Render(ctx, req.Event, req.Variant, req.Data)
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", req.Event, err)
	}
	env := Envelope{
		MessageID:      uuid.NewString() + "@odyssey-billing",
		To:             to,
		ToName:         req.ToName,
		Subject:        msg.Subject,
		HTML:           msg.HTML,
		TemplateKey:    msg.Key,
		TemplateSource: msg.Source,
	}
	if err := n.transport.Deliver(ctx, env); err != nil {
		return nil, n.deliveryFailed(ctx, env, err)
	}
	n.observe(msg.Key, OutcomeSent)
	return &Receipt{
		MessageID:      env.MessageID,
		Recipient:      to,
		Subject:        msg.Subject,
		TemplateKey:    msg.Key,
		TemplateSource: msg.Source,
		SentAt:         n.now(),
	}, nil
}

func (n *Notifier) deliveryFailed(ctx context.Context, env Envelope, err error) error {
	n.logger.Warn("email delivery failed",
		slog.String("template", env.TemplateKey),
		slog.String("to", env.To),
		slog.Any("error", err))
	if n.outbox == nil {
		n.observe(env.TemplateKey, OutcomeFailed)
		return &DeliveryError{Err: err}
	}
	if qerr := n.outbox.EnqueueEmail(ctx, env); qerr != nil {
		n.logger.Error("email outbox enqueue failed", slog.String("to", env.To), slog.Any("error", qerr))
		n.observe(env.TemplateKey, OutcomeFailed)
		return &DeliveryError{Err: errors.Join(err, qerr)}
	}
	n.observe(env.TemplateKey, OutcomeQueued)
	return &DeliveryError{Err: err, Queued: true}
}

func (n *Notifier) observe(key, outcome string) {
	if n.observer != nil {
		n.observer.ObserveEmail(key, outcome)
	}
}

// Preview renders without sending.
func (n *Notifier) Preview(ctx context.Context, event Event, variant string, data TemplateData) (Message, error) {
	return n.resolver.Render(ctx, event, variant, data)
}
