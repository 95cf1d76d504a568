// Package numbering issues human readable invoice and quotation numbers.
package numbering

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-billing/internal/settings"
)

const genericInvoiceMarker = "TAX_INVOICE_"

// InvoiceCounter counts invoices of one type created in [from, to).
type InvoiceCounter interface {
	CountInvoicesInPeriod(ctx context.Context, invoiceType string, from, to time.Time) (int, error)
}

// QuotationCounter counts quotations created in [from, to).
type QuotationCounter interface {
	CountQuotationsInPeriod(ctx context.Context, from, to time.Time) (int, error)
}

// InvoiceSettingsSource supplies numbering policy.
type InvoiceSettingsSource interface {
	LookupInvoice(ctx context.Context) (settings.InvoiceSettings, error)
}

// InvoiceGenerator produces {typePrefix}-{YYYYMM}-{sequence}{disambiguator}.
//
// The sequence is read, not reserved: two concurrent callers may compute the
// same value. The random disambiguator keeps their numbers distinct and the
// caller retries on a unique violation.
type InvoiceGenerator struct {
	counter  InvoiceCounter
	settings InvoiceSettingsSource
	logger   *slog.Logger
	now      func() time.Time
	nonce    func() string
}

// NewInvoiceGenerator wires an InvoiceGenerator.
func NewInvoiceGenerator(counter InvoiceCounter, src InvoiceSettingsSource, logger *slog.Logger) *InvoiceGenerator {
	if logger == nil {
		logger = slog.Default()
	}
	return &InvoiceGenerator{
		counter:  counter,
		settings: src,
		logger:   logger,
		now:      time.Now,
		nonce:    randomHex3,
	}
}

// Next returns a fresh number for invoiceType.
func (g *InvoiceGenerator) Next(ctx context.Context, invoiceType string) (string, error) {
	prefix, start := g.policy(ctx)
	now := g.now().UTC()
	from := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)

	count, err := g.counter.CountInvoicesInPeriod(ctx, invoiceType, from, to)
	if err != nil {
		return "", fmt.Errorf("count invoices: %w", err)
	}
	return fmt.Sprintf("%s-%s-%d%s", TypePrefix(invoiceType, prefix), now.Format("200601"), start+count, g.nonce()), nil
}

func (g *InvoiceGenerator) policy(ctx context.Context) (string, int) {
	prefix, start := settings.DefaultSequencePrefix, settings.DefaultStartingNumber
	if g.settings == nil {
		return prefix, start
	}
	cfg, err := g.settings.LookupInvoice(ctx)
	if err != nil {
		g.logger.Warn("invoice settings unavailable, using default numbering",
			slog.String("prefix", prefix), slog.Int("start", start), slog.Any("error", err))
		return prefix, start
	}
	if p := strings.TrimSpace(cfg.SequencePrefix); p != "" {
		prefix = p
	}
	if cfg.StartingNumber > 0 {
		start = cfg.StartingNumber
	}
	return prefix, start
}

// TypePrefix substitutes prefix for the generic marker in an invoice type;
// TAX_INVOICE_GST with INV- becomes INV-GST.
func TypePrefix(invoiceType, prefix string) string {
	if !strings.Contains(invoiceType, genericInvoiceMarker) {
		return strings.TrimSuffix(prefix, "-") + "-" + invoiceType
	}
	return strings.Replace(invoiceType, genericInvoiceMarker, prefix, 1)
}

// QuotationGenerator produces QT-{YYYYMMDD}-{seq:03d}{ms}.
type QuotationGenerator struct {
	counter QuotationCounter
	now     func() time.Time
}

// NewQuotationGenerator wires a QuotationGenerator.
func NewQuotationGenerator(counter QuotationCounter) *QuotationGenerator {
	return &QuotationGenerator{counter: counter, now: time.Now}
}

// Next returns a fresh quotation number.
func (g *QuotationGenerator) Next(ctx context.Context) (string, error) {
	now := g.now().UTC()
	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 1)

	count, err := g.counter.CountQuotationsInPeriod(ctx, from, to)
	if err != nil {
		return "", fmt.Errorf("count quotations: %w", err)
	}
	suffix := now.Nanosecond() / int(time.Millisecond)
	return fmt.Sprintf("QT-%s-%03d%03d", now.Format("20060102"), count+1, suffix), nil
}

func randomHex3() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:3])
}
