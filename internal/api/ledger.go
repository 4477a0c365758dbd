package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/opensource-finance/vasool/internal/aggregate"
	"github.com/opensource-finance/vasool/internal/bus"
	"github.com/opensource-finance/vasool/internal/domain"
	"github.com/opensource-finance/vasool/internal/ingest"
	"github.com/opensource-finance/vasool/internal/rules"
	"github.com/shopspring/decimal"
)

// maxUploadBytes bounds a workbook upload.
const maxUploadBytes = 10 << 20

// InvoiceView is an invoice with its derived state for today.
type InvoiceView struct {
	*domain.Invoice
	EffectiveStatus domain.EffectiveStatus `json:"effectiveStatus"`
	Outstanding     decimal.Decimal        `json:"outstanding"`
	DaysOverdue     int                    `json:"daysOverdue"`
	Stage           domain.Stage           `json:"escalationLevel"`
}

func viewInvoice(inv *domain.Invoice, p *domain.Protocol, today domain.Date) InvoiceView {
	return InvoiceView{
		Invoice:         inv,
		EffectiveStatus: rules.EffectiveStatus(inv, today),
		Outstanding:     inv.Outstanding(),
		DaysOverdue:     rules.DaysOverdue(inv, today),
		Stage:           rules.ClassifyEscalation(inv, p, today),
	}
}

// ListInvoices returns invoices filtered by ?status=ALL|OVERDUE|PENDING|PAID.
func (h *Handler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	today, err := h.today(r)
	if err != nil {
		writeError(w, err)
		return
	}
	filter, ok := aggregate.ParseStatusFilter(r.URL.Query().Get("status"))
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "status must be one of ALL, OVERDUE, PENDING, PAID",
		})
		return
	}

	p, err := h.protocols.Get(ctx, tenantID)
	if err != nil {
		writeError(w, err)
		return
	}
	invoices, err := h.repo.ListInvoices(ctx, tenantID)
	if err != nil {
		writeError(w, err)
		return
	}

	filtered := aggregate.FilterInvoices(invoices, filter, today)
	views := make([]InvoiceView, 0, len(filtered))
	for _, inv := range filtered {
		views = append(views, viewInvoice(inv, p, today))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"invoices": views,
		"count":    len(views),
		"today":    today,
	})
}

// GetInvoice returns one invoice with its derived state.
func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	today, err := h.today(r)
	if err != nil {
		writeError(w, err)
		return
	}
	inv, err := h.repo.GetInvoice(ctx, tenantID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	p, err := h.protocols.Get(ctx, tenantID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewInvoice(inv, p, today))
}

// CreateInvoice adds one invoice. Blank fields take the import defaults and
// an unseen customer name gets a placeholder record.
func (h *Handler) CreateInvoice(w http.ResponseWriter, r *http.Request) {
	var rec ingest.Record
	if !h.bind(w, r, &rec) {
		return
	}

	res, err := h.importRecords(r, []ingest.Record{rec}, "")
	if err != nil {
		writeError(w, err)
		return
	}
	switch {
	case len(res.Rejected) > 0:
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": res.Rejected[0].Reason,
		})
	case res.Skipped > 0:
		writeJSON(w, http.StatusConflict, map[string]string{
			"error": "duplicate invoice",
		})
	default:
		writeJSON(w, http.StatusCreated, res.Added[0])
	}
}

// ImportRequest is the JSON form of POST /invoices/import.
type ImportRequest struct {
	Source   domain.Source   `json:"source" validate:"omitempty,oneof=MANUAL EXCEL ZOHO QUICKBOOKS TALLY ZEROBOOKS BANK_RECON"`
	Invoices []ingest.Record `json:"invoices" validate:"required,min=1"`
}

// ImportInvoices accepts either a JSON batch or a multipart xlsx upload in
// the "file" field.
func (h *Handler) ImportInvoices(w http.ResponseWriter, r *http.Request) {
	var (
		records []ingest.Record
		rowErrs []ingest.RowError
		source  domain.Source
	)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
		file, _, err := r.FormFile("file")
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "multipart field \"file\" is required",
			})
			return
		}
		defer file.Close()

		records, rowErrs, err = ingest.ReadWorkbook(file)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": err.Error(),
			})
			return
		}
		source = domain.SourceExcel
	} else {
		var req ImportRequest
		if !h.bind(w, r, &req) {
			return
		}
		records, source = req.Invoices, req.Source
	}

	res, err := h.importRecords(r, records, source)
	if err != nil {
		writeError(w, err)
		return
	}
	res.Rejected = append(rowErrs, res.Rejected...)

	slog.Info("invoices imported",
		"tenant_id", GetTenantID(r.Context()),
		"source", source,
		"added", len(res.Added),
		"skipped", res.Skipped,
		"rejected", len(res.Rejected),
	)
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) importRecords(r *http.Request, records []ingest.Record, source domain.Source) (*ingest.Result, error) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	today, err := h.today(r)
	if err != nil {
		return nil, err
	}
	existing, err := h.repo.ListInvoices(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}
	customers, err := h.repo.ListCustomers(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list customers: %w", err)
	}

	res := ingest.Import(records, source, existing, customers, today, h.now())
	if err := h.repo.SaveInvoices(ctx, tenantID, res.Added); err != nil {
		return nil, fmt.Errorf("failed to save invoices: %w", err)
	}
	for _, c := range res.NewCustomers {
		if err := h.repo.SaveCustomer(ctx, tenantID, c); err != nil {
			return nil, fmt.Errorf("failed to save customer %s: %w", c.Name, err)
		}
	}
	return res, nil
}

// DeleteInvoice removes an invoice.
func (h *Handler) DeleteInvoice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	if err := h.repo.DeleteInvoice(ctx, GetTenantID(ctx), id); err != nil {
		writeError(w, err)
		return
	}

	slog.Info("invoice deleted", "tenant_id", GetTenantID(ctx), "id", id)
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "invoice deleted",
	})
}

// LogRequest is the body for POST /invoices/{id}/logs.
type LogRequest struct {
	Note   string `json:"note" validate:"required"`
	Author string `json:"performedBy"`
}

// AddInvoiceLog appends a manual audit entry.
func (h *Handler) AddInvoiceLog(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req LogRequest
	if !h.bind(w, r, &req) {
		return
	}
	if req.Author == "" {
		req.Author = "User"
	}

	inv, err := h.repo.GetInvoice(ctx, tenantID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	now := h.now()
	inv.AppendLog(now, strings.TrimSpace(req.Note), req.Author)
	inv.UpdatedAt = now.UTC()
	if err := h.repo.SaveInvoice(ctx, tenantID, inv); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

// Dashboard returns portfolio totals and charts for today.
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	today, err := h.today(r)
	if err != nil {
		writeError(w, err)
		return
	}
	invoices, err := h.repo.ListInvoices(ctx, GetTenantID(ctx))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, aggregate.BuildDashboard(invoices, today))
}

// PaymentRequest is the body for POST /payments. Customer is a customer
// reference (record id or virtual-<name>) or a plain name.
type PaymentRequest struct {
	Customer string                `json:"customer" validate:"required"`
	Amount   decimal.Decimal       `json:"amount"`
	Kind     aggregate.PaymentKind `json:"type" validate:"omitempty,oneof=FULL PARTIAL"`
	Author   string                `json:"performedBy"`
}

// PaymentRecorded is published on TopicPaymentRecorded.
type PaymentRecorded struct {
	Customer  domain.CustomerRef `json:"customer"`
	Applied   string             `json:"applied"`
	Remainder string             `json:"remainder"`
	Invoices  []string           `json:"invoices"`
}

// RecordPayment spreads a customer payment over their unpaid invoices,
// oldest first.
func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req PaymentRequest
	if !h.bind(w, r, &req) {
		return
	}
	today, err := h.today(r)
	if err != nil {
		writeError(w, err)
		return
	}

	snap, err := h.snapshot(ctx, tenantID, today, false)
	if err != nil {
		writeError(w, err)
		return
	}
	summary := resolveCustomer(snap.Summaries, req.Customer)
	if summary == nil {
		writeError(w, fmt.Errorf("%w: customer %q", domain.ErrNotFound, req.Customer))
		return
	}

	invoices, err := h.repo.ListInvoices(ctx, tenantID)
	if err != nil {
		writeError(w, err)
		return
	}
	var theirs []*domain.Invoice
	for _, inv := range invoices {
		if inv.CustomerKey() == summary.Key() {
			theirs = append(theirs, inv)
		}
	}

	result, err := aggregate.ApplyPayment(theirs, req.Amount, req.Kind, today, h.now(), req.Author)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.repo.SaveInvoices(ctx, tenantID, result.Changed); err != nil {
		writeError(w, err)
		return
	}

	ids := make([]string, len(result.Changed))
	for i, inv := range result.Changed {
		ids[i] = inv.ID
	}
	h.publish(ctx, tenantID, domain.TopicPaymentRecorded, PaymentRecorded{
		Customer:  summary.Ref,
		Applied:   result.Applied.StringFixed(2),
		Remainder: result.Remainder.StringFixed(2),
		Invoices:  ids,
	})
	writeJSON(w, http.StatusOK, result)
}

// Reconcile settles the first unpaid invoice matching a bank transaction amount.
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var txn domain.BankTransaction
	if err := json.NewDecoder(r.Body).Decode(&txn); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if !txn.Amount.IsPositive() {
		writeError(w, aggregate.ErrInvalidAmount)
		return
	}
	today, err := h.today(r)
	if err != nil {
		writeError(w, err)
		return
	}

	invoices, err := h.repo.ListInvoices(ctx, tenantID)
	if err != nil {
		writeError(w, err)
		return
	}
	inv, err := aggregate.Reconcile(invoices, txn, today, h.now(), "Bank Reconciliation")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.repo.SaveInvoice(ctx, tenantID, inv); err != nil {
		writeError(w, err)
		return
	}

	h.publish(ctx, tenantID, domain.TopicPaymentRecorded, PaymentRecorded{
		Customer:  domain.VirtualRef(inv.CustomerName),
		Applied:   txn.Amount.StringFixed(2),
		Remainder: decimal.Zero.StringFixed(2),
		Invoices:  []string{inv.ID},
	})
	writeJSON(w, http.StatusOK, inv)
}

// publish sends an event when a bus is configured. Failures are logged; the
// request has already succeeded.
func (h *Handler) publish(ctx context.Context, tenantID, topic string, v any) {
	if h.bus == nil {
		return
	}
	if err := bus.PublishJSON(ctx, h.bus, tenantID, topic, v); err != nil {
		slog.Warn("failed to publish event",
			"tenant_id", tenantID,
			"topic", topic,
			"error", err,
		)
	}
}

// resolveCustomer finds a summary by reference, falling back to name.
func resolveCustomer(summaries []*aggregate.CustomerSummary, s string) *aggregate.CustomerSummary {
	if s = strings.TrimSpace(s); s == "" {
		return nil
	}
	if found := aggregate.Find(summaries, domain.ParseCustomerRef(s)); found != nil {
		return found
	}
	return aggregate.Find(summaries, domain.VirtualRef(s))
}
