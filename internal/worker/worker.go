// Package worker runs reminder sweeps: it rebuilds a tenant's follow-up
// queue and publishes one reminder event per customer that is due.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/vasool/internal/aggregate"
	"github.com/opensource-finance/vasool/internal/bus"
	"github.com/opensource-finance/vasool/internal/domain"
	"github.com/opensource-finance/vasool/internal/metrics"
	"github.com/opensource-finance/vasool/internal/protocol"
)

// Worker answers sweep requests from the event bus and, optionally, sweeps
// every configured tenant on a ticker.
type Worker struct {
	bus       domain.EventBus
	repo      domain.Repository
	cache     domain.Cache
	protocols *protocol.Store
	processor *aggregate.Processor
	metrics   *metrics.Metrics

	mu            sync.Mutex
	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs to subscribe and sweep.
	TenantIDs []string

	// SweepInterval triggers a sweep per tenant. Zero disables the ticker.
	SweepInterval time.Duration

	// DedupeWindow suppresses a repeat reminder for the same customer and
	// stage. Zero disables suppression.
	DedupeWindow time.Duration

	// Location decides what "today" is for ticker sweeps.
	Location *time.Location
}

// NewWorker creates a worker. cache and m may be nil.
func NewWorker(eventBus domain.EventBus, repo domain.Repository, cache domain.Cache, protocols *protocol.Store, processor *aggregate.Processor, m *metrics.Metrics) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:       eventBus,
		repo:      repo,
		cache:     cache,
		protocols: protocols,
		processor: processor,
		metrics:   m,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start subscribes to sweep requests for each tenant and starts the ticker.
func (w *Worker) Start(cfg Config) error {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}

	for _, tenantID := range cfg.TenantIDs {
		if err := w.startTenantWorker(tenantID, cfg); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	if cfg.SweepInterval > 0 && len(cfg.TenantIDs) > 0 {
		w.wg.Add(1)
		go w.tick(cfg)
	}

	slog.Info("workers started",
		"tenant_count", len(cfg.TenantIDs),
		"sweep_interval", cfg.SweepInterval.String(),
	)
	return nil
}

func (w *Worker) startTenantWorker(tenantID string, cfg Config) error {
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicSweepRequested, func(ctx context.Context, msg *domain.Message) error {
		return w.handleSweep(ctx, tenantID, msg, cfg)
	})
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.subscriptions = append(w.subscriptions, sub)
	w.mu.Unlock()

	slog.Info("tenant worker started",
		"tenant_id", tenantID,
		"topic", domain.TopicSweepRequested,
	)
	return nil
}

func (w *Worker) handleSweep(ctx context.Context, tenantID string, msg *domain.Message, cfg Config) error {
	var req domain.SweepRequest
	if len(msg.Payload) > 0 {
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			slog.Error("failed to parse sweep request",
				"message_id", msg.ID,
				"error", err,
			)
			return err
		}
	}
	if req.RequestID == "" {
		req.RequestID = msg.ID
	}
	if req.Today.IsZero() {
		req.Today = domain.Today(cfg.Location)
	}

	result, err := w.Sweep(ctx, tenantID, req, cfg.DedupeWindow)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return w.bus.Reply(ctx, msg, payload)
}

func (w *Worker) tick(cfg Config) {
	defer w.wg.Done()

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			for _, tenantID := range cfg.TenantIDs {
				req := domain.SweepRequest{RequestID: uuid.New().String(), Today: domain.Today(cfg.Location)}
				if _, err := w.Sweep(w.ctx, tenantID, req, cfg.DedupeWindow); err != nil {
					slog.Error("scheduled sweep failed", "tenant_id", tenantID, "error", err)
				}
			}
		}
	}
}

// Sweep builds the tenant's follow-up queue for req.Today and publishes a
// ReminderDue for each actionable item not already reminded inside
// dedupeWindow.
func (w *Worker) Sweep(ctx context.Context, tenantID string, req domain.SweepRequest, dedupeWindow time.Duration) (*domain.SweepResult, error) {
	start := time.Now()

	input, err := w.load(ctx, tenantID, req.Today)
	if err != nil {
		return nil, err
	}

	snap := w.processor.Process(ctx, input)
	w.metrics.PolicyErrors(len(snap.Failures))

	result := &domain.SweepResult{RequestID: req.RequestID}
	for _, item := range snap.Queue {
		if item.Held {
			result.Held++
			w.metrics.ReminderHeld()
			continue
		}
		if !item.Actionable() {
			continue
		}
		result.Queued++

		if w.alreadyReminded(ctx, tenantID, item, dedupeWindow) {
			result.Skipped++
			w.metrics.ReminderSuppressed()
			continue
		}

		if err := bus.PublishJSON(ctx, w.bus, tenantID, domain.TopicReminderDue, reminderFor(req.RequestID, item)); err != nil {
			slog.Error("failed to publish reminder",
				"tenant_id", tenantID,
				"customer", item.Summary.ID,
				"error", err,
			)
			w.releaseReminder(ctx, tenantID, item, dedupeWindow)
			continue
		}
		result.Published++
		w.metrics.ReminderPublished(item.Channel)
	}

	w.metrics.SweepCompleted(time.Since(start))
	slog.Info("sweep completed",
		"tenant_id", tenantID,
		"request_id", req.RequestID,
		"today", req.Today.String(),
		"queued", result.Queued,
		"held", result.Held,
		"published", result.Published,
		"skipped", result.Skipped,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return result, nil
}

func (w *Worker) load(ctx context.Context, tenantID string, today domain.Date) (*aggregate.Input, error) {
	p, err := w.protocols.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	invoices, err := w.repo.ListInvoices(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}
	customers, err := w.repo.ListCustomers(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list customers: %w", err)
	}

	if engine := w.processor.Engine; engine != nil {
		policies, err := w.repo.ListPolicies(ctx, tenantID)
		if err != nil {
			return nil, fmt.Errorf("failed to list policies: %w", err)
		}
		if err := engine.ReloadPolicies(tenantID, policies); err != nil {
			slog.Warn("keeping previously loaded policies", "tenant_id", tenantID, "error", err)
		}
	}

	return &aggregate.Input{
		TenantID:  tenantID,
		Today:     today,
		Protocol:  p,
		Customers: customers,
		Invoices:  invoices,
	}, nil
}

func reminderKey(item *aggregate.QueueItem) string {
	return fmt.Sprintf("reminder:%s:%d", item.Summary.Key(), item.Stage)
}

// alreadyReminded counts the reminder against the dedupe window. Cache
// failures let the reminder through.
func (w *Worker) alreadyReminded(ctx context.Context, tenantID string, item *aggregate.QueueItem, window time.Duration) bool {
	if w.cache == nil || window <= 0 {
		return false
	}
	n, err := w.cache.IncrementCounter(ctx, tenantID, reminderKey(item), window)
	if err != nil {
		slog.Warn("reminder dedupe unavailable", "tenant_id", tenantID, "error", err)
		return false
	}
	return n > 1
}

// releaseReminder gives back the dedupe slot of a reminder that was never
// published.
func (w *Worker) releaseReminder(ctx context.Context, tenantID string, item *aggregate.QueueItem, window time.Duration) {
	if w.cache == nil || window <= 0 {
		return
	}
	if err := w.cache.ResetCounter(ctx, tenantID, reminderKey(item)); err != nil {
		slog.Warn("failed to release reminder dedupe slot", "tenant_id", tenantID, "error", err)
	}
}

func reminderFor(requestID string, item *aggregate.QueueItem) domain.ReminderDue {
	r := domain.ReminderDue{
		RequestID: requestID,
		Customer:  item.Summary.Ref,
		Name:      item.Summary.Name,
		Stage:     item.Stage,
		Channel:   item.Channel,
		Recipient: item.Contact.Address,
		Risk:      item.Summary.RiskLevel,
		Amount:    item.Summary.TotalOutstanding.StringFixed(2),
		Matches:   item.Matches,
	}
	if len(item.Suggestions) > 0 {
		r.Suggestion = item.Suggestions[0].Action
	}
	return r
}

// Stop unsubscribes and waits for the ticker to exit.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil
	w.mu.Unlock()

	w.wg.Wait()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
