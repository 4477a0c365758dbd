package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opensource-finance/vasool/internal/aggregate"
	"github.com/opensource-finance/vasool/internal/domain"
)

// defaultFollowUpLimit caps GET /followups without ?limit=.
const defaultFollowUpLimit = 50

// FollowUpQueue returns today's queue with policies applied.
func (h *Handler) FollowUpQueue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	today, err := h.today(r)
	if err != nil {
		writeError(w, err)
		return
	}
	snap, err := h.snapshot(ctx, GetTenantID(ctx), today, true)
	if err != nil {
		writeError(w, err)
		return
	}
	if snap.Queue == nil {
		snap.Queue = []*aggregate.QueueItem{}
	}
	h.metrics.PolicyErrors(len(snap.Failures))
	writeJSON(w, http.StatusOK, snap)
}

// DraftFollowUp composes the reminder text for one queued customer,
// selected by ?customer=. ?payLink= fills the payment link placeholder.
func (h *Handler) DraftFollowUp(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	today, err := h.today(r)
	if err != nil {
		writeError(w, err)
		return
	}
	snap, err := h.snapshot(ctx, GetTenantID(ctx), today, true)
	if err != nil {
		writeError(w, err)
		return
	}

	ref := r.URL.Query().Get("customer")
	summary := resolveCustomer(snap.Summaries, ref)
	if summary == nil {
		writeError(w, fmt.Errorf("%w: customer %q", domain.ErrNotFound, ref))
		return
	}
	for _, item := range snap.Queue {
		if item.Summary == summary {
			writeJSON(w, http.StatusOK, aggregate.DraftMessage(item, r.URL.Query().Get("payLink")))
			return
		}
	}
	writeError(w, fmt.Errorf("%w: %s has nothing outstanding", domain.ErrNotFound, summary.Name))
}

// FollowUpRequest records a reminder that was sent. Stage and channel are
// captured from today's queue unless given.
type FollowUpRequest struct {
	Customer  string                `json:"customer" validate:"required"`
	Channel   string                `json:"type"`
	Status    domain.FollowUpStatus `json:"status" validate:"omitempty,oneof=SENT DELIVERED READ REPLIED FAILED IN_PROGRESS LOGGED"`
	Message   string                `json:"message"`
	Recipient string                `json:"recipient"`
}

// CreateFollowUp stores a dispatch record and publishes TopicReminderDispatched.
func (h *Handler) CreateFollowUp(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req FollowUpRequest
	if !h.bind(w, r, &req) {
		return
	}
	today, err := h.today(r)
	if err != nil {
		writeError(w, err)
		return
	}

	snap, err := h.snapshot(ctx, tenantID, today, true)
	if err != nil {
		writeError(w, err)
		return
	}
	summary := resolveCustomer(snap.Summaries, req.Customer)
	if summary == nil {
		writeError(w, fmt.Errorf("%w: customer %q", domain.ErrNotFound, req.Customer))
		return
	}

	f := &domain.FollowUp{
		ID:           uuid.New().String(),
		Customer:     summary.Ref,
		CustomerName: summary.Name,
		Stage:        summary.CurrentEscalation,
		Status:       req.Status,
		Message:      req.Message,
		Recipient:    req.Recipient,
		SentAt:       h.now().UTC(),
	}
	if f.Status == "" {
		f.Status = domain.FollowUpSent
	}

	var item *aggregate.QueueItem
	for _, q := range snap.Queue {
		if q.Summary == summary {
			item = q
			break
		}
	}
	switch {
	case req.Channel != "":
		if f.Channel, err = domain.ParseChannel(req.Channel); err != nil {
			writeError(w, err)
			return
		}
	case item != nil:
		f.Channel = item.Channel
	default:
		f.Channel = domain.ChannelManual
	}
	if f.Recipient == "" {
		f.Recipient = aggregate.ResolveContact(summary.Record, f.Stage, f.Channel).Address
	}

	if err := h.repo.SaveFollowUp(ctx, tenantID, f); err != nil {
		writeError(w, err)
		return
	}

	h.publish(ctx, tenantID, domain.TopicReminderDispatched, f)
	slog.Info("follow-up recorded",
		"tenant_id", tenantID,
		"customer", summary.ID,
		"stage", int(f.Stage),
		"channel", f.Channel,
	)
	writeJSON(w, http.StatusCreated, f)
}

// ListFollowUps returns the newest follow-ups, or every follow-up for one
// customer with ?customer=. ?limit= defaults to 50.
func (h *Handler) ListFollowUps(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	q := r.URL.Query()

	if customer := q.Get("customer"); customer != "" {
		key := domain.ParseCustomerRef(customer).NameKey
		if key == "" {
			key = domain.NameKey(customer)
			if c, err := h.repo.GetCustomer(ctx, tenantID, customer); err == nil {
				key = c.NameKey()
			}
		}
		h.listCustomerFollowUps(w, r, key)
		return
	}

	limit := defaultFollowUpLimit
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			writeError(w, fmt.Errorf("%w: limit must be a positive integer", domain.ErrInvalidInput))
			return
		}
		limit = n
	}

	followUps, err := h.repo.ListFollowUps(ctx, tenantID, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if followUps == nil {
		followUps = []*domain.FollowUp{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"followUps": followUps,
		"count":     len(followUps),
	})
}

func (h *Handler) listCustomerFollowUps(w http.ResponseWriter, r *http.Request, nameKey string) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	followUps, err := h.repo.ListFollowUpsByCustomer(ctx, tenantID, nameKey, time.Time{})
	if err != nil {
		writeError(w, err)
		return
	}
	if followUps == nil {
		followUps = []*domain.FollowUp{}
	}

	resp := map[string]any{
		"followUps": followUps,
		"count":     len(followUps),
	}
	if h.cadence != nil && h.processor.CadenceWindow > 0 {
		recent, err := h.cadence.RecentContacts(ctx, tenantID, nameKey, h.processor.CadenceWindow)
		if err != nil {
			writeError(w, err)
			return
		}
		resp["recentContacts"] = recent
		resp["cadenceWindow"] = h.processor.CadenceWindow.String()
	}
	writeJSON(w, http.StatusOK, resp)
}

// OutcomeRequest is the body for POST /followups/{id}/outcome.
type OutcomeRequest struct {
	Response   string             `json:"customerResponse" validate:"required"`
	Suggestion *domain.Suggestion `json:"suggestedNextStep,omitempty"`
}

// RecordOutcome attaches the customer's reply. An outcome can be recorded once.
func (h *Handler) RecordOutcome(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req OutcomeRequest
	if !h.bind(w, r, &req) {
		return
	}

	f, err := h.repo.GetFollowUp(ctx, tenantID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if err := f.AttachOutcome(domain.Outcome{
		Response:   req.Response,
		Suggestion: req.Suggestion,
		RecordedAt: h.now().UTC(),
	}); err != nil {
		writeError(w, err)
		return
	}
	if err := h.repo.SaveFollowUp(ctx, tenantID, f); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

// Sweep asks the reminder worker to run now and waits for its result.
func (h *Handler) Sweep(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.bus == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "event bus not available",
		})
		return
	}
	today, err := h.today(r)
	if err != nil {
		writeError(w, err)
		return
	}

	payload, err := json.Marshal(domain.SweepRequest{
		RequestID: GetRequestID(ctx),
		Today:     today,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	reply, err := h.bus.Request(ctx, GetTenantID(ctx), domain.TopicSweepRequested, payload)
	if err != nil {
		writeError(w, err)
		return
	}

	var result domain.SweepResult
	if err := json.Unmarshal(reply, &result); err != nil {
		writeError(w, fmt.Errorf("invalid sweep reply: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, result)
}
