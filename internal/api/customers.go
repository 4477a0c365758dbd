package api

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opensource-finance/vasool/internal/aggregate"
	"github.com/opensource-finance/vasool/internal/domain"
	"github.com/opensource-finance/vasool/internal/ingest"
	"github.com/shopspring/decimal"
	"github.com/ttacon/libphonenumber"
)

// ListCustomers returns derived customer summaries, filtered by
// ?stage=, ?risk=, ?maxOutstanding= and ?q=.
func (h *Handler) ListCustomers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	today, err := h.today(r)
	if err != nil {
		writeError(w, err)
		return
	}
	filter, err := parseSummaryFilter(r)
	if err != nil {
		writeError(w, err)
		return
	}

	snap, err := h.snapshot(ctx, GetTenantID(ctx), today, false)
	if err != nil {
		writeError(w, err)
		return
	}

	customers := aggregate.FilterSummaries(snap.Summaries, filter)
	if customers == nil {
		customers = []*aggregate.CustomerSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"customers": customers,
		"count":     len(customers),
		"today":     today,
	})
}

func parseSummaryFilter(r *http.Request) (aggregate.Filter, error) {
	q := r.URL.Query()
	f := aggregate.Filter{Query: q.Get("q")}

	if s := q.Get("stage"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || !domain.Stage(n).Valid() {
			return f, fmt.Errorf("%w: stage must be 0..5, got %q", domain.ErrInvalidInput, s)
		}
		stage := domain.Stage(n)
		f.Stage = &stage
	}
	if s := q.Get("risk"); s != "" {
		risk := domain.RiskLevel(strings.ToLower(s))
		if !risk.Valid() {
			return f, fmt.Errorf("%w: risk must be low, medium or high, got %q", domain.ErrInvalidInput, s)
		}
		f.Risk = risk
	}
	if s := q.Get("maxOutstanding"); s != "" {
		limit, err := decimal.NewFromString(s)
		if err != nil {
			return f, fmt.Errorf("%w: maxOutstanding: %v", domain.ErrInvalidInput, err)
		}
		f.MaxOutstanding = &limit
	}
	return f, nil
}

// CustomerRequest is the body for POST /customers and /customers/promote.
type CustomerRequest struct {
	Name          string `json:"name" validate:"required"`
	ContactPerson string `json:"contactPerson"`
	Email         string `json:"email" validate:"omitempty,email"`
	Phone         string `json:"phone"`
	AIEnabled     *bool  `json:"aiEnabled,omitempty"`
}

// CreateCustomer stores a new customer record. Names are unique per tenant,
// compared case-insensitively.
func (h *Handler) CreateCustomer(w http.ResponseWriter, r *http.Request) {
	var req CustomerRequest
	if !h.bind(w, r, &req) {
		return
	}

	c, err := h.createCustomer(r, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// PromoteCustomer turns a customer known only from invoice names into a
// stored record, so it can carry contacts.
func (h *Handler) PromoteCustomer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req CustomerRequest
	if !h.bind(w, r, &req) {
		return
	}

	invoices, err := h.repo.ListInvoices(ctx, tenantID)
	if err != nil {
		writeError(w, err)
		return
	}
	key := domain.NameKey(req.Name)
	billed := false
	for _, inv := range invoices {
		if inv.CustomerKey() == key {
			billed = true
			// Keep the spelling used on the invoices.
			req.Name = inv.CustomerName
			break
		}
	}
	if !billed {
		writeError(w, fmt.Errorf("%w: no invoices for customer %q", domain.ErrNotFound, req.Name))
		return
	}

	c, err := h.createCustomer(r, req)
	if err != nil {
		writeError(w, err)
		return
	}

	slog.Info("customer promoted", "tenant_id", tenantID, "id", c.ID, "name", c.Name)
	writeJSON(w, http.StatusCreated, c)
}

func (h *Handler) createCustomer(r *http.Request, req CustomerRequest) (*domain.Customer, error) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	existing, err := h.repo.GetCustomerByName(ctx, tenantID, req.Name)
	switch {
	case err == nil:
		return nil, fmt.Errorf("%w: customer %q (%s)", domain.ErrAlreadyExists, existing.Name, existing.ID)
	case !errors.Is(err, domain.ErrNotFound):
		return nil, err
	}

	phone, err := h.normalizePhone(req.Phone)
	if err != nil {
		return nil, err
	}

	now := h.now().UTC()
	c := &domain.Customer{
		ID:            uuid.New().String(),
		Name:          strings.TrimSpace(req.Name),
		ContactPerson: req.ContactPerson,
		Email:         req.Email,
		Phone:         phone,
		AIEnabled:     true,
		StageContacts: map[domain.Stage]domain.StageContact{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if req.AIEnabled != nil {
		c.AIEnabled = *req.AIEnabled
	}
	if err := h.repo.SaveCustomer(ctx, tenantID, c); err != nil {
		return nil, err
	}
	return c, nil
}

// StageContactRequest is the body for PUT /customers/{id}/contacts/{stage}.
type StageContactRequest struct {
	Name  string `json:"name"`
	Email string `json:"email" validate:"omitempty,email"`
	Phone string `json:"phone"`
}

// SetStageContact sets who to reach at one escalation stage. An empty body
// clears the stage contact.
func (h *Handler) SetStageContact(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	stage, err := parseStage(chi.URLParam(r, "stage"))
	if err != nil {
		writeError(w, err)
		return
	}

	var req StageContactRequest
	if !h.bind(w, r, &req) {
		return
	}
	phone, err := h.normalizePhone(req.Phone)
	if err != nil {
		writeError(w, err)
		return
	}

	c, err := h.repo.GetCustomer(ctx, tenantID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if c.StageContacts == nil {
		c.StageContacts = map[domain.Stage]domain.StageContact{}
	}

	contact := domain.StageContact{Name: req.Name, Email: req.Email, Phone: phone}
	if contact == (domain.StageContact{}) {
		delete(c.StageContacts, stage)
	} else {
		c.StageContacts[stage] = contact
	}
	if err := h.repo.SaveCustomer(ctx, tenantID, c); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// ExportCustomers downloads the customer summaries as an xlsx workbook.
func (h *Handler) ExportCustomers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	today, err := h.today(r)
	if err != nil {
		writeError(w, err)
		return
	}
	filter, err := parseSummaryFilter(r)
	if err != nil {
		writeError(w, err)
		return
	}
	snap, err := h.snapshot(ctx, GetTenantID(ctx), today, false)
	if err != nil {
		writeError(w, err)
		return
	}

	var buf bytes.Buffer
	if err := ingest.WriteSummaries(&buf, aggregate.FilterSummaries(snap.Summaries, filter)); err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="customers-%s.xlsx"`, today))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// normalizePhone parses a phone number into E.164. Blank and "N/A" are
// kept as given.
func (h *Handler) normalizePhone(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, "N/A") {
		return raw, nil
	}
	num, err := libphonenumber.Parse(raw, h.region)
	if err != nil {
		return "", fmt.Errorf("%w: phone %q: %v", domain.ErrInvalidInput, raw, err)
	}
	if !libphonenumber.IsValidNumber(num) {
		return "", fmt.Errorf("%w: phone %q is not a valid number", domain.ErrInvalidInput, raw)
	}
	return libphonenumber.Format(num, libphonenumber.E164), nil
}
