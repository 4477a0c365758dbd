// Package aggregate derives customer summaries, the follow-up queue and the
// portfolio dashboard from stored invoices and customers.
//
// Nothing here is persisted. Every figure is recomputed from the invoices
// and the protocol snapshot for the given calendar date.
package aggregate

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/vasool/internal/domain"
	"github.com/opensource-finance/vasool/internal/rules"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("vasool-aggregate")

// Processor builds queue snapshots and applies collection policies.
type Processor struct {
	// Engine is optional. Without it no item is ever held.
	Engine *rules.PolicyEngine

	// CadenceWindow is passed to policies as the recent_contacts lookback.
	CadenceWindow time.Duration
}

// NewProcessor creates a processor.
func NewProcessor(engine *rules.PolicyEngine, cadenceWindow time.Duration) *Processor {
	return &Processor{
		Engine:        engine,
		CadenceWindow: cadenceWindow,
	}
}

// Input is everything a snapshot is computed from.
type Input struct {
	TenantID  string
	Today     domain.Date
	Protocol  *domain.Protocol
	Customers []*domain.Customer
	Invoices  []*domain.Invoice
}

// Snapshot is the derived state of a tenant's ledger for one day.
type Snapshot struct {
	ID        string             `json:"id"`
	TenantID  string             `json:"tenantId"`
	Today     domain.Date        `json:"today"`
	Summaries []*CustomerSummary `json:"-"`
	Queue     []*QueueItem       `json:"queue"`
	Failures  []PolicyFailure    `json:"policyFailures,omitempty"`
	Metadata  SnapshotMetadata   `json:"metadata"`
}

// PolicyFailure is a policy that could not be evaluated for a customer.
type PolicyFailure struct {
	Customer string `json:"customer"`
	domain.PolicyError
}

// SnapshotMetadata contains processing details.
type SnapshotMetadata struct {
	CustomersEvaluated int   `json:"customersEvaluated"`
	InvoicesEvaluated  int   `json:"invoicesEvaluated"`
	PoliciesLoaded     int   `json:"policiesLoaded"`
	Held               int   `json:"held"`
	Actionable         int   `json:"actionable"`
	DurationMs         int64 `json:"durationMs"`
}

// Process summarizes customers, builds the queue and applies policies.
func (p *Processor) Process(ctx context.Context, input *Input) *Snapshot {
	ctx, span := tracer.Start(ctx, "aggregate.process")
	defer span.End()

	start := time.Now()
	summaries := Summarize(input.Customers, input.Invoices, input.Protocol, input.Today)
	queue := BuildQueue(summaries, input.Protocol)

	snap := &Snapshot{
		ID:        uuid.New().String(),
		TenantID:  input.TenantID,
		Today:     input.Today,
		Summaries: summaries,
		Queue:     queue,
	}

	if p.Engine != nil {
		snap.Metadata.PoliciesLoaded = p.Engine.PoliciesCount(input.TenantID)
	}

	for _, item := range queue {
		if snap.Metadata.PoliciesLoaded > 0 {
			pin := item.PolicyInput(input.TenantID)
			pin.CadenceWindow = p.CadenceWindow

			matches, failures := p.Engine.Evaluate(ctx, pin)
			item.ApplyPolicies(matches)
			for _, f := range failures {
				slog.Warn("policy evaluation failed",
					"tenant", input.TenantID,
					"customer", item.Summary.ID,
					"policy", f.PolicyID,
					"error", f.Reason,
				)
				snap.Failures = append(snap.Failures, PolicyFailure{Customer: item.Summary.ID, PolicyError: f})
			}
		}

		if item.Held {
			snap.Metadata.Held++
		}
		if item.Actionable() {
			snap.Metadata.Actionable++
		}
	}

	snap.Metadata.CustomersEvaluated = len(summaries)
	snap.Metadata.InvoicesEvaluated = len(input.Invoices)
	snap.Metadata.DurationMs = time.Since(start).Milliseconds()

	span.SetAttributes(
		attribute.String("tenant_id", input.TenantID),
		attribute.Int("customers", len(summaries)),
		attribute.Int("queued", len(queue)),
		attribute.Int("held", snap.Metadata.Held),
	)

	return snap
}
