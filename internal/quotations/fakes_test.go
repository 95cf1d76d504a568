package quotations

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/odyssey-erp/odyssey-billing/internal/clients"
	"github.com/odyssey-erp/odyssey-billing/internal/invoices"
	"github.com/odyssey-erp/odyssey-billing/internal/notify"
	"github.com/odyssey-erp/odyssey-billing/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-billing/internal/settings"
	"github.com/odyssey-erp/odyssey-billing/internal/shared"
)

type memoryRepo struct {
	mu          sync.Mutex
	items       map[int64]*Quotation
	nextID      int64
	collisions  int
	createCalls int
	paid        map[int64]bool
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{items: map[int64]*Quotation{}, paid: map[int64]bool{}}
}

func (m *memoryRepo) seed(q Quotation) *Quotation {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	q.ID = m.nextID
	if q.QuotationNumber == "" {
		q.QuotationNumber = fmt.Sprintf("QT-SEED-%03d", q.ID)
	}
	if q.Status == "" {
		q.Status = StatusDraft
	}
	m.items[q.ID] = &q
	cp := q
	return &cp
}

func (m *memoryRepo) Create(_ context.Context, q Quotation) (*Quotation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createCalls++
	if m.collisions > 0 {
		m.collisions--
		return nil, ErrDuplicateNumber
	}
	m.nextID++
	q.ID = m.nextID
	q.CreatedAt = time.Now().UTC()
	q.UpdatedAt = q.CreatedAt
	m.items[q.ID] = &q
	cp := q
	return &cp, nil
}

func (m *memoryRepo) Get(_ context.Context, id int64) (*Quotation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.items[id]
	if !ok {
		return nil, httpx.NotFoundf("quotation %d not found", id)
	}
	cp := *q
	return &cp, nil
}

func (m *memoryRepo) List(_ context.Context, filter ListFilter) ([]Quotation, int, error) {
	var out []Quotation
	for _, q := range m.sorted() {
		if filter.Status != "" && q.Status != filter.Status {
			continue
		}
		if filter.OwnerID > 0 && q.UserID != filter.OwnerID {
			continue
		}
		if filter.ClientID > 0 && q.ClientID != filter.ClientID {
			continue
		}
		out = append(out, *q)
	}
	return out, len(out), nil
}

func (m *memoryRepo) Update(_ context.Context, q Quotation) (*Quotation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.items[q.ID]
	if !ok {
		return nil, httpx.NotFoundf("quotation %d not found", q.ID)
	}
	if stored.Status != StatusDraft {
		return nil, httpx.Conflictf("quotation %d is no longer editable", q.ID)
	}
	*stored = q
	cp := q
	return &cp, nil
}

func (m *memoryRepo) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[id]; !ok {
		return httpx.NotFoundf("quotation %d not found", id)
	}
	delete(m.items, id)
	return nil
}

func (m *memoryRepo) UpdateStatus(_ context.Context, id int64, change StatusChange) (*Quotation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.items[id]
	if !ok {
		return nil, httpx.NotFoundf("quotation %d not found", id)
	}
	if q.Status != StatusDraft {
		return nil, httpx.Conflictf("quotation %d is not in DRAFT", id)
	}
	apply(q, change)
	cp := *q
	return &cp, nil
}

func (m *memoryRepo) ListForBulk(_ context.Context, ids []int64, status Status, ownerID int64) ([]Quotation, error) {
	want := map[int64]bool{}
	for _, id := range ids {
		want[id] = true
	}
	var out []Quotation
	for _, q := range m.sorted() {
		if !want[q.ID] {
			continue
		}
		if status != "" && q.Status != status {
			continue
		}
		if ownerID > 0 && q.UserID != ownerID {
			continue
		}
		out = append(out, *q)
	}
	return out, nil
}

func (m *memoryRepo) BulkUpdateStatus(_ context.Context, ids []int64, change StatusChange) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var changed []int64
	for _, id := range ids {
		q, ok := m.items[id]
		if !ok || q.Status != StatusDraft {
			continue
		}
		apply(q, change)
		changed = append(changed, id)
	}
	return changed, nil
}

func (m *memoryRepo) CountQuotationsInPeriod(_ context.Context, from, to time.Time) (int, error) {
	n := 0
	for _, q := range m.sorted() {
		if !q.CreatedAt.Before(from) && q.CreatedAt.Before(to) {
			n++
		}
	}
	return n, nil
}

func (m *memoryRepo) HasPaidInvoice(_ context.Context, quotationID int64) (bool, error) {
	return m.paid[quotationID], nil
}

func (m *memoryRepo) sorted() []*Quotation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Quotation, 0, len(m.items))
	for _, q := range m.items {
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func apply(q *Quotation, change StatusChange) {
	q.Status = change.Status
	actor, at := change.ActorID, change.At
	switch change.Status {
	case StatusApproved:
		q.ApprovedBy, q.ApprovedAt = &actor, &at
	case StatusRejected:
		q.RejectedBy, q.RejectedAt = &actor, &at
		q.RejectionReason = change.Reason
	}
}

type fakeGenerator struct {
	requests []invoices.GenerateRequest
	failFor  map[int64]error
	nextID   int64
}

func (f *fakeGenerator) Generate(_ context.Context, req invoices.GenerateRequest) (*invoices.Invoice, error) {
	f.requests = append(f.requests, req)
	if err := f.failFor[req.QuotationID]; err != nil {
		return nil, err
	}
	f.nextID++
	return &invoices.Invoice{
		ID:            100 + f.nextID,
		InvoiceNumber: fmt.Sprintf("%s-TEST-%d", req.Type, f.nextID),
		Type:          req.Type,
		QuotationID:   req.QuotationID,
		Status:        invoices.StatusPending,
		DueDate:       time.Date(2026, 4, 13, 0, 0, 0, 0, time.UTC),
	}, nil
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
	return &notify.Receipt{MessageID: "m", Recipient: req.To, TemplateKey: req.Event.Key(req.Variant), SentAt: time.Now()}, nil
}

type fakeClients map[int64]clients.Client

func (f fakeClients) GetClient(_ context.Context, id int64) (clients.Client, error) {
	c, ok := f[id]
	if !ok {
		return clients.Client{}, httpx.NotFoundf("client %d not found", id)
	}
	return c, nil
}

type staticSettings struct {
	tax     settings.TaxSettings
	invoice settings.InvoiceSettings
}

func (s *staticSettings) TaxSettings(context.Context) settings.TaxSettings         { return s.tax }
func (s *staticSettings) InvoiceSettings(context.Context) settings.InvoiceSettings { return s.invoice }
func (s *staticSettings) EmailSettings(context.Context) settings.EmailSettings {
	return settings.EmailSettings{CompanyName: "Odyssey Ltd"}
}

type sequenceNumbers struct{ n int }

func (s *sequenceNumbers) Next(context.Context) (string, error) {
	s.n++
	return fmt.Sprintf("QT-20260314-%03d000", s.n), nil
}

type memoryApprovals struct {
	logs []shared.ApprovalLog
}

func (m *memoryApprovals) Record(_ context.Context, log shared.ApprovalLog) error {
	m.logs = append(m.logs, log)
	return nil
}

func (m *memoryApprovals) List(_ context.Context, module string, ref int64) ([]shared.ApprovalLog, error) {
	var out []shared.ApprovalLog
	for _, l := range m.logs {
		if l.Module == module && l.RefID == ref {
			out = append(out, l)
		}
	}
	return out, nil
}

type memoryGuard struct {
	keys map[string]bool
}

func (g *memoryGuard) CheckAndInsert(_ context.Context, key, _ string) error {
	if g.keys[key] {
		return shared.ErrIdempotencyConflict
	}
	g.keys[key] = true
	return nil
}

func (g *memoryGuard) Delete(_ context.Context, key string) error {
	delete(g.keys, key)
	return nil
}

type countingObserver map[string]int

func (c countingObserver) ObserveQuotation(transition string) { c[transition]++ }

// Test users.
const (
	userAdmin    int64 = 1 // every billing permission
	userSales    int64 = 2 // create, edit, delete
	userApprover int64 = 3 // approve, own records only
	userOther    int64 = 4 // no permissions
)

var grants = map[int64][]string{
	userAdmin:    shared.BillingScopes(),
	userSales:    {shared.PermQuotationsCreate, shared.PermQuotationsEdit, shared.PermQuotationsDelete},
	userApprover: {shared.PermQuotationsApprove},
}

func hasPermission(_ context.Context, userID int64, perm string) bool {
	for _, p := range grants[userID] {
		if p == perm {
			return true
		}
	}
	return false
}

type fixture struct {
	repo      *memoryRepo
	gen       *fakeGenerator
	mailer    *fakeMailer
	clients   fakeClients
	settings  *staticSettings
	approvals *memoryApprovals
	guard     *memoryGuard
	observer  countingObserver
	svc       *Service
}

var errGenerate = errors.New("invoice numbering unavailable")

func newFixture() *fixture {
	f := &fixture{
		repo:   newMemoryRepo(),
		gen:    &fakeGenerator{failFor: map[int64]error{}},
		mailer: &fakeMailer{},
		clients: fakeClients{
			10: {ID: 10, Name: "Ada", Email: "ada@example.com"},
			11: {ID: 11, Name: "No Mail"},
		},
		settings: &staticSettings{
			tax:     settings.TaxSettings{DefaultGSTRate: 5, DefaultPSTRate: 7, EnableAutoTaxCalculation: true},
			invoice: settings.DefaultInvoice(),
		},
		approvals: &memoryApprovals{},
		guard:     &memoryGuard{keys: map[string]bool{}},
		observer:  countingObserver{},
	}
	f.svc = NewService(ServiceDeps{
		Repo:        f.repo,
		Numbers:     &sequenceNumbers{},
		Clients:     f.clients,
		Settings:    f.settings,
		Invoices:    f.gen,
		PaidChecker: f.repo,
		Mailer:      f.mailer,
		Permissions: shared.PermissionFunc(hasPermission),
		Approvals:   f.approvals,
		Idempotency: f.guard,
		Observer:    f.observer,
	})
	return f
}

// draft seeds a DRAFT GST_AND_PST quotation of 100 at 5/7.
func (f *fixture) draft(owner, clientID int64) *Quotation {
	return f.repo.seed(Quotation{
		Title:             "Fit-out",
		ClientID:          clientID,
		UserID:            owner,
		Status:            StatusDraft,
		TaxType:           "GST_AND_PST",
		Subtotal:          100,
		GSTPercentage:     5,
		GSTAmount:         5,
		PSTPercentage:     7,
		PSTAmount:         7,
		CombinedTaxAmount: 12,
		TaxPercentage:     12,
		TaxAmount:         12,
		TotalAmount:       112,
	})
}

func ptr[T any](v T) *T { return &v }
