package quotations

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-billing/internal/rbac"
	"github.com/odyssey-erp/odyssey-billing/internal/shared"
)

type grantSource struct{}

func (grantSource) EffectivePermissions(_ context.Context, userID int64) ([]string, error) {
	return grants[userID], nil
}

func newTestRouter(f *fixture) http.Handler {
	h := NewHandler(nil, f.svc, rbac.Middleware{Service: grantSource{}})
	r := chi.NewRouter()
	r.Route("/quotations", h.MountRoutes)
	return r
}

func do(t *testing.T, h http.Handler, user int64, method, path string, body io.Reader, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	if user > 0 {
		req = req.WithContext(shared.ContextWithActor(req.Context(), shared.Actor{UserID: user}))
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func path(id int64, suffix string) string {
	return "/quotations/" + strconv.FormatInt(id, 10) + suffix
}

func TestHandlerCreateRequiresPermission(t *testing.T) {
	f := newFixture()
	router := newTestRouter(f)
	body := `{"title":"Roof repair","clientId":10,"subtotal":250,"taxType":"GST_ONLY"}`

	rr := do(t, router, userOther, http.MethodPost, "/quotations/", strings.NewReader(body))
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = do(t, router, 0, http.MethodGet, "/quotations/", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = do(t, router, userSales, http.MethodPost, "/quotations/", strings.NewReader(body))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var q Quotation
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &q))
	assert.Equal(t, 262.5, q.TotalAmount)
	assert.Equal(t, userSales, q.UserID)

	rr = do(t, router, userSales, http.MethodPost, "/quotations/", strings.NewReader(`{"clientId":10}`))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/problem+json")
}

func TestHandlerListScopesToOwner(t *testing.T) {
	f := newFixture()
	router := newTestRouter(f)
	f.draft(userSales, 10)
	f.draft(userAdmin, 10)

	rr := do(t, router, userSales, http.MethodGet, "/quotations/?status=draft", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var listed struct {
		Quotations []Quotation        `json:"quotations"`
		Pagination shared.Pagination `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &listed))
	assert.Len(t, listed.Quotations, 1)
	assert.Equal(t, 1, listed.Pagination.Total)

	rr = do(t, router, userSales, http.MethodGet, "/quotations/?status=sent", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandlerSetStatus(t *testing.T) {
	f := newFixture()
	router := newTestRouter(f)
	q := f.draft(userAdmin, 11)

	rr := do(t, router, userSales, http.MethodPut, path(q.ID, "/status"), strings.NewReader(`{"status":"APPROVED"}`))
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = do(t, router, userAdmin, http.MethodPut, path(q.ID, "/status"), strings.NewReader(`{"status":"APPROVED"}`))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var res StatusChangeResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	assert.Equal(t, StatusApproved, res.Quotation.Status)
	require.NotNil(t, res.GeneratedInvoice)
	assert.False(t, res.EmailSent)
	assert.NotEmpty(t, res.EmailError)

	rr = do(t, router, userAdmin, http.MethodPut, path(q.ID, "/status"), strings.NewReader(`{"status":"REJECTED"}`))
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = do(t, router, userAdmin, http.MethodGet, path(q.ID, "/approvals"), nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"approvals"`)

	rr = do(t, router, userSales, http.MethodPut, path(q.ID, ""), strings.NewReader(`{"title":"Changed"}`))
	assert.Equal(t, http.StatusForbidden, rr.Code, "not the owner")
}

func TestHandlerBulkReplayConflicts(t *testing.T) {
	f := newFixture()
	router := newTestRouter(f)
	a := f.draft(userAdmin, 10)
	b := f.draft(userAdmin, 10)
	body := `{"action":"approve","quotationIds":[` + strconv.FormatInt(a.ID, 10) + `,` + strconv.FormatInt(b.ID, 10) + `]}`

	rr := do(t, router, userAdmin, http.MethodPost, "/quotations/bulk-action", strings.NewReader(body), shared.IdempotencyHeader, "bulk-1")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var res BulkResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	assert.Equal(t, 2, res.AffectedCount)
	assert.Len(t, res.GeneratedInvoices, 2)
	assert.Equal(t, 2, res.EmailSummary.EmailsSent)

	rr = do(t, router, userAdmin, http.MethodPost, "/quotations/bulk-action", strings.NewReader(body), shared.IdempotencyHeader, "bulk-1")
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestHandlerDelete(t *testing.T) {
	f := newFixture()
	router := newTestRouter(f)
	q := f.draft(userSales, 10)

	rr := do(t, router, userApprover, http.MethodDelete, path(q.ID, ""), nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = do(t, router, userSales, http.MethodDelete, path(q.ID, ""), nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = do(t, router, userSales, http.MethodGet, path(q.ID, ""), nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
