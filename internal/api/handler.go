// Package api is the HTTP surface: protocol settings, ledger, customers,
// follow-ups, payments and collection policies, all scoped by X-Tenant-ID.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/opensource-finance/vasool/internal/aggregate"
	"github.com/opensource-finance/vasool/internal/bus"
	"github.com/opensource-finance/vasool/internal/cadence"
	"github.com/opensource-finance/vasool/internal/domain"
	"github.com/opensource-finance/vasool/internal/ingest"
	"github.com/opensource-finance/vasool/internal/metrics"
	"github.com/opensource-finance/vasool/internal/protocol"
	"github.com/opensource-finance/vasool/internal/rules"
	"github.com/shopspring/decimal"
)

// DefaultPhoneRegion is used to parse phone numbers without a country code.
const DefaultPhoneRegion = "IN"

// Deps are the collaborators the handlers need. Cache, Bus, Engine, Cadence
// and Metrics may be nil.
type Deps struct {
	Repo      domain.Repository
	Cache     domain.Cache
	Bus       domain.EventBus
	Protocols *protocol.Store
	Engine    *rules.PolicyEngine
	Processor *aggregate.Processor
	Cadence   *cadence.Service
	Metrics   *metrics.Metrics

	// Location decides the calendar date used as "today".
	Location *time.Location

	// PhoneRegion defaults to DefaultPhoneRegion.
	PhoneRegion string

	Version string
}

// Handler holds dependencies for API handlers.
type Handler struct {
	repo      domain.Repository
	cache     domain.Cache
	bus       domain.EventBus
	protocols *protocol.Store
	engine    *rules.PolicyEngine
	processor *aggregate.Processor
	cadence   *cadence.Service
	metrics   *metrics.Metrics
	validate  *validator.Validate
	loc       *time.Location
	region    string
	version   string
	now       func() time.Time
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps) *Handler {
	h := &Handler{
		repo:      deps.Repo,
		cache:     deps.Cache,
		bus:       deps.Bus,
		protocols: deps.Protocols,
		engine:    deps.Engine,
		processor: deps.Processor,
		cadence:   deps.Cadence,
		metrics:   deps.Metrics,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		loc:       deps.Location,
		region:    deps.PhoneRegion,
		version:   deps.Version,
		now:       time.Now,
	}
	if h.loc == nil {
		h.loc = time.UTC
	}
	if h.region == "" {
		h.region = DefaultPhoneRegion
	}
	if h.processor == nil {
		h.processor = aggregate.NewProcessor(deps.Engine, 0)
	}
	if h.protocols == nil {
		h.protocols = protocol.NewStore(deps.Repo, deps.Cache, deps.Bus, 0)
	}
	return h
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"ready": "false",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// GetProtocol returns the tenant's protocol, or the defaults if none was committed.
func (h *Handler) GetProtocol(w http.ResponseWriter, r *http.Request) {
	p, err := h.protocols.Get(r.Context(), GetTenantID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// PutProtocol validates and commits a whole protocol. Omitted fields take
// their default values.
func (h *Handler) PutProtocol(w http.ResponseWriter, r *http.Request) {
	var p domain.Protocol
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	if err := h.protocols.Commit(r.Context(), GetTenantID(r.Context()), &p); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, &p)
}

// ResetProtocol commits the defaults.
func (h *Handler) ResetProtocol(w http.ResponseWriter, r *http.Request) {
	p, err := h.protocols.Reset(r.Context(), GetTenantID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ChannelRequest is the body for POST /protocol/stages/{stage}/channels.
type ChannelRequest struct {
	Channel string `json:"channel" validate:"required"`
}

// AddStageChannel appends a channel to a stage's preference list.
func (h *Handler) AddStageChannel(w http.ResponseWriter, r *http.Request) {
	stage, err := parseStage(chi.URLParam(r, "stage"))
	if err != nil {
		writeError(w, err)
		return
	}

	var req ChannelRequest
	if !h.bind(w, r, &req) {
		return
	}
	ch, err := domain.ParseChannel(req.Channel)
	if err != nil {
		writeError(w, err)
		return
	}

	h.editProtocol(w, r, func(p *domain.Protocol) error {
		return p.AddChannel(stage, ch)
	})
}

// RemoveStageChannel drops a channel from a stage. The last channel of a
// stage cannot be removed.
func (h *Handler) RemoveStageChannel(w http.ResponseWriter, r *http.Request) {
	stage, err := parseStage(chi.URLParam(r, "stage"))
	if err != nil {
		writeError(w, err)
		return
	}
	ch, err := domain.ParseChannel(chi.URLParam(r, "channel"))
	if err != nil {
		writeError(w, err)
		return
	}

	h.editProtocol(w, r, func(p *domain.Protocol) error {
		return p.RemoveChannel(stage, ch)
	})
}

func (h *Handler) editProtocol(w http.ResponseWriter, r *http.Request, edit func(*domain.Protocol) error) {
	p, err := h.protocols.Update(r.Context(), GetTenantID(r.Context()), edit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ClassifyRequest is a single invoice snapshot to classify. Protocol, when
// set, is used instead of the tenant's committed protocol.
type ClassifyRequest struct {
	Status   domain.InvoiceStatus `json:"status" validate:"omitempty,oneof=DRAFT PENDING OVERDUE PAID"`
	DueDate  domain.Date          `json:"dueDate"`
	Amount   decimal.Decimal      `json:"amount"`
	Balance  *decimal.Decimal     `json:"balance,omitempty"`
	Protocol *domain.Protocol     `json:"protocol,omitempty"`
}

// ClassifyResponse is the engine's verdict for one invoice.
type ClassifyResponse struct {
	Today           domain.Date            `json:"today"`
	EffectiveStatus domain.EffectiveStatus `json:"effectiveStatus"`
	DaysPastDue     int                    `json:"daysPastDue"`
	DaysOverdue     int                    `json:"daysOverdue"`
	Stage           domain.Stage           `json:"stage"`
	StageLabel      string                 `json:"stageLabel"`
	Channel         domain.Channel         `json:"channel"`
	Outstanding     decimal.Decimal        `json:"outstanding"`
	Risk            domain.RiskLevel       `json:"risk"`
}

// Classify runs the escalation and risk classifiers on an invoice snapshot
// without storing anything.
func (h *Handler) Classify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	today, err := h.today(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req ClassifyRequest
	if !h.bind(w, r, &req) {
		return
	}
	if req.DueDate.IsZero() {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "dueDate is required",
		})
		return
	}

	p := req.Protocol
	if p == nil {
		if p, err = h.protocols.Get(ctx, GetTenantID(ctx)); err != nil {
			writeError(w, err)
			return
		}
	}

	inv := &domain.Invoice{
		Amount:  req.Amount,
		DueDate: req.DueDate,
		Status:  req.Status,
	}
	if inv.Status == "" {
		inv.Status = domain.InvoicePending
	}
	if req.Balance != nil {
		inv.Balance = decimal.NewNullDecimal(*req.Balance)
	}

	stage := rules.ClassifyEscalation(inv, p, today)
	daysOverdue := rules.DaysOverdue(inv, today)
	outstanding := decimal.Zero
	if rules.EffectiveStatus(inv, today) != domain.EffectivePaid {
		outstanding = inv.Outstanding()
	}
	h.metrics.Classified(stage)

	writeJSON(w, http.StatusOK, ClassifyResponse{
		Today:           today,
		EffectiveStatus: rules.EffectiveStatus(inv, today),
		DaysPastDue:     rules.DaysPastDue(inv, today),
		DaysOverdue:     daysOverdue,
		Stage:           stage,
		StageLabel:      stage.Label(),
		Channel:         rules.ResolveChannel(stage, p),
		Outstanding:     outstanding,
		Risk:            rules.ClassifyRisk(outstanding, daysOverdue, p),
	})
}

// snapshot builds the tenant's derived view for today. Policies are applied
// when withPolicies is set.
func (h *Handler) snapshot(ctx context.Context, tenantID string, today domain.Date, withPolicies bool) (*aggregate.Snapshot, error) {
	p, err := h.protocols.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	invoices, err := h.repo.ListInvoices(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}
	customers, err := h.repo.ListCustomers(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list customers: %w", err)
	}

	input := &aggregate.Input{
		TenantID:  tenantID,
		Today:     today,
		Protocol:  p,
		Customers: customers,
		Invoices:  invoices,
	}
	if withPolicies {
		return h.processor.Process(ctx, input), nil
	}
	return aggregate.NewProcessor(nil, 0).Process(ctx, input), nil
}

// today is the ?today= query parameter, or the current date in the
// configured location.
func (h *Handler) today(r *http.Request) (domain.Date, error) {
	if s := r.URL.Query().Get("today"); s != "" {
		d, err := domain.ParseDate(s)
		if err != nil {
			return domain.Date{}, fmt.Errorf("%w: today: %v", domain.ErrInvalidInput, err)
		}
		return d, nil
	}
	return domain.DateOf(h.now().In(h.loc)), nil
}

// bind decodes and validates a JSON body, writing a 400 on failure.
func (h *Handler) bind(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return false
	}
	if err := h.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":  "validation failed",
				"fields": validationFields(verrs),
			})
			return false
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return false
	}
	return true
}

func validationFields(verrs validator.ValidationErrors) map[string]string {
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fe.Tag()
	}
	return fields
}

func parseStage(s string) (domain.Stage, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < int(domain.Stage1) || n > int(domain.Stage5) {
		return 0, fmt.Errorf("%w: stage must be 1..5, got %q", domain.ErrInvalidInput, s)
	}
	return domain.Stage(n), nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError maps domain errors to status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, aggregate.ErrNoMatch):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadyExists), errors.Is(err, domain.ErrOutcomeRecorded),
		errors.Is(err, domain.ErrLastChannel):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrInvalidProtocol),
		errors.Is(err, domain.ErrInvalidDate), errors.Is(err, aggregate.ErrInvalidAmount),
		errors.Is(err, ingest.ErrInvalidRecord):
		status = http.StatusBadRequest
	case errors.Is(err, bus.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	case errors.Is(err, bus.ErrClosed):
		status = http.StatusServiceUnavailable
	}

	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]string{"error": msg})
}
