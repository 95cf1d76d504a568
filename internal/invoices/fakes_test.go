package invoices

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/odyssey-erp/odyssey-billing/internal/clients"
	"github.com/odyssey-erp/odyssey-billing/internal/notify"
	"github.com/odyssey-erp/odyssey-billing/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-billing/internal/settings"
)

type memoryRepo struct {
	mu          sync.Mutex
	quotations  map[int64]QuotationRef
	invoices    map[int64]*Invoice
	nextID      int64
	collisions  int
	createCalls int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{quotations: map[int64]QuotationRef{}, invoices: map[int64]*Invoice{}}
}

func (m *memoryRepo) GetQuotationRef(_ context.Context, id int64) (QuotationRef, error) {
	q, ok := m.quotations[id]
	if !ok {
		return QuotationRef{}, httpx.NotFoundf("quotation %d not found", id)
	}
	return q, nil
}

func (m *memoryRepo) FindByQuotationAndType(_ context.Context, quotationID int64, t Type) (*Invoice, error) {
	for _, inv := range m.sorted() {
		if inv.QuotationID == quotationID && inv.Type == t {
			cp := *inv
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memoryRepo) HasPaidInvoice(_ context.Context, quotationID int64) (bool, error) {
	for _, inv := range m.invoices {
		if inv.QuotationID == quotationID && inv.Status == StatusPaid {
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryRepo) CountInvoicesInPeriod(_ context.Context, invoiceType string, from, to time.Time) (int, error) {
	n := 0
	for _, inv := range m.invoices {
		if string(inv.Type) == invoiceType && !inv.CreatedAt.Before(from) && inv.CreatedAt.Before(to) {
			n++
		}
	}
	return n, nil
}

func (m *memoryRepo) Create(_ context.Context, inv Invoice) (*Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createCalls++
	if m.collisions > 0 {
		m.collisions--
		return nil, ErrDuplicateNumber
	}
	for _, existing := range m.invoices {
		if existing.InvoiceNumber == inv.InvoiceNumber {
			return nil, ErrDuplicateNumber
		}
	}
	m.nextID++
	inv.ID = m.nextID
	inv.CreatedAt = time.Now().UTC()
	inv.UpdatedAt = inv.CreatedAt
	m.invoices[inv.ID] = &inv
	cp := inv
	return &cp, nil
}

func (m *memoryRepo) Get(_ context.Context, id int64) (*Invoice, error) {
	inv, ok := m.invoices[id]
	if !ok {
		return nil, httpx.NotFoundf("invoice %d not found", id)
	}
	cp := *inv
	return &cp, nil
}

func (m *memoryRepo) List(_ context.Context, filter ListFilter) ([]Invoice, int, error) {
	var out []Invoice
	for _, inv := range m.sorted() {
		if filter.Status != "" && inv.Status != filter.Status {
			continue
		}
		if filter.QuotationID > 0 && inv.QuotationID != filter.QuotationID {
			continue
		}
		out = append(out, *inv)
	}
	return out, len(out), nil
}

func (m *memoryRepo) ListByIDs(_ context.Context, ids []int64) ([]Invoice, error) {
	var out []Invoice
	for _, id := range ids {
		if inv, ok := m.invoices[id]; ok {
			out = append(out, *inv)
		}
	}
	return out, nil
}

func (m *memoryRepo) UpdateStatus(_ context.Context, id int64, status Status, paidDate *time.Time) (*Invoice, error) {
	inv, ok := m.invoices[id]
	if !ok {
		return nil, httpx.NotFoundf("invoice %d not found", id)
	}
	inv.Status = status
	if paidDate != nil {
		inv.PaidDate = paidDate
	}
	cp := *inv
	return &cp, nil
}

func (m *memoryRepo) MarkEmailSent(_ context.Context, id int64, at time.Time) (*Invoice, error) {
	inv, ok := m.invoices[id]
	if !ok {
		return nil, httpx.NotFoundf("invoice %d not found", id)
	}
	inv.EmailSent = true
	inv.EmailSentAt = &at
	if inv.Status == StatusPending {
		inv.Status = StatusSent
	}
	cp := *inv
	return &cp, nil
}

func (m *memoryRepo) UpdateTaxes(_ context.Context, inv Invoice) error {
	stored, ok := m.invoices[inv.ID]
	if !ok {
		return httpx.NotFoundf("invoice %d not found", inv.ID)
	}
	*stored = inv
	return nil
}

func (m *memoryRepo) Delete(_ context.Context, id int64) error {
	if _, ok := m.invoices[id]; !ok {
		return httpx.NotFoundf("invoice %d not found", id)
	}
	delete(m.invoices, id)
	return nil
}

func (m *memoryRepo) sorted() []*Invoice {
	out := make([]*Invoice, 0, len(m.invoices))
	for _, inv := range m.invoices {
		out = append(out, inv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type staticSettings struct {
	tax     settings.TaxSettings
	invoice settings.InvoiceSettings
	email   settings.EmailSettings
}

func defaultStaticSettings() *staticSettings {
	return &staticSettings{
		tax:     settings.TaxSettings{DefaultGSTRate: 5, DefaultPSTRate: 7, EnableAutoTaxCalculation: true},
		invoice: settings.DefaultInvoice(),
		email:   settings.EmailSettings{CompanyName: "Odyssey Ltd"},
	}
}

func (s *staticSettings) TaxSettings(context.Context) settings.TaxSettings         { return s.tax }
func (s *staticSettings) InvoiceSettings(context.Context) settings.InvoiceSettings { return s.invoice }
func (s *staticSettings) EmailSettings(context.Context) settings.EmailSettings     { return s.email }

type sequenceNumbers struct {
	n int
}

func (s *sequenceNumbers) Next(_ context.Context, invoiceType string) (string, error) {
	s.n++
	return invoiceType + "-" + time.Now().Format("200601") + "-" + string(rune('A'+s.n-1)), nil
}

type fakeMailer struct {
	requests []notify.Request
	err      error
}

func (f *fakeMailer) Send(_ context.Context, req notify.Request) (*notify.Receipt, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	if req.To == "" {
		return nil, notify.ErrNoRecipient
	}
	return &notify.Receipt{MessageID: "m-1", Recipient: req.To, TemplateKey: req.Event.Key(req.Variant), SentAt: time.Now()}, nil
}

type fakeClients map[int64]clients.Client

func (f fakeClients) GetClient(_ context.Context, id int64) (clients.Client, error) {
	c, ok := f[id]
	if !ok {
		return clients.Client{}, httpx.NotFoundf("client %d not found", id)
	}
	return c, nil
}

type fixture struct {
	repo     *memoryRepo
	settings *staticSettings
	mailer   *fakeMailer
	clients  fakeClients
	gen      *Generator
	svc      *Service
}

var errTransport = errors.New("smtp: connection refused")

func newFixture() *fixture {
	f := &fixture{
		repo:     newMemoryRepo(),
		settings: defaultStaticSettings(),
		mailer:   &fakeMailer{},
		clients: fakeClients{
			10: {ID: 10, Name: "Ada", Email: "ada@example.com"},
			11: {ID: 11, Name: "No Mail"},
		},
	}
	f.repo.quotations[1] = QuotationRef{ID: 1, Number: "QT-1", Title: "Fit-out", ClientID: 10, OwnerID: 5, Status: QuotationApproved, TaxType: "GST_AND_PST", Subtotal: 100, GSTPercentage: 5, PSTPercentage: 7}
	f.repo.quotations[2] = QuotationRef{ID: 2, Number: "QT-2", ClientID: 10, OwnerID: 5, Status: "DRAFT", TaxType: "GST_ONLY", Subtotal: 50}
	f.repo.quotations[3] = QuotationRef{ID: 3, Number: "QT-3", ClientID: 11, OwnerID: 5, Status: QuotationApproved, TaxType: "PST_ONLY", Subtotal: 200, PSTPercentage: 7}
	f.gen = NewGenerator(GeneratorDeps{
		Repo:     f.repo,
		Numbers:  &sequenceNumbers{},
		Settings: f.settings,
		Mailer:   f.mailer,
		Clients:  f.clients,
	})
	f.svc = NewService(ServiceDeps{
		Repo:      f.repo,
		Generator: f.gen,
		Settings:  f.settings,
		Mailer:    f.mailer,
		Clients:   f.clients,
	})
	return f
}

func ptr(v float64) *float64 { return &v }
