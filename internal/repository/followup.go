package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/vasool/internal/domain"
)

// DefaultFollowUpLimit bounds ListFollowUps when no limit is given.
const DefaultFollowUpLimit = 100

const followUpColumns = `
	id, tenant_id, customer_kind, customer_id, customer_key, customer_name,
	channel, stage, status, message, recipient, sent_at, outcome
`

// SaveFollowUp inserts or updates a follow-up record.
func (r *SQLRepository) SaveFollowUp(ctx context.Context, tenantID string, f *domain.FollowUp) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if f == nil || f.ID == "" {
		return fmt.Errorf("%w: follow-up id is required", ErrInvalidInput)
	}
	if f.Customer.NameKey == "" {
		f.Customer.NameKey = domain.NameKey(f.CustomerName)
	}
	if f.Customer.Kind == "" {
		f.Customer.Kind = domain.CustomerVirtual
	}
	if f.SentAt.IsZero() {
		f.SentAt = time.Now()
	}
	f.SentAt = f.SentAt.UTC()
	f.TenantID = tenantID

	var outcome sql.NullString
	if f.Outcome != nil {
		data, err := json.Marshal(f.Outcome)
		if err != nil {
			return fmt.Errorf("failed to encode outcome: %w", err)
		}
		outcome = sql.NullString{String: string(data), Valid: true}
	}

	query := `
		INSERT INTO followups (
			id, tenant_id, customer_kind, customer_id, customer_key, customer_name,
			channel, stage, status, message, recipient, sent_at, outcome
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, id) DO UPDATE SET
			status = excluded.status,
			message = excluded.message,
			recipient = excluded.recipient,
			outcome = excluded.outcome
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		f.ID, tenantID, string(f.Customer.Kind), nullString(f.Customer.ID), f.Customer.NameKey,
		f.CustomerName, string(f.Channel), int(f.Stage), string(f.Status),
		f.Message, nullString(f.Recipient), f.SentAt, outcome,
	)
	return err
}

// GetFollowUp retrieves a follow-up by ID with tenant isolation.
func (r *SQLRepository) GetFollowUp(ctx context.Context, tenantID string, followUpID string) (*domain.FollowUp, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `SELECT ` + followUpColumns + ` FROM followups WHERE tenant_id = ? AND id = ?`

	f, err := scanFollowUp(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, followUpID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return f, err
}

// ListFollowUps returns the most recent follow-ups, newest first.
func (r *SQLRepository) ListFollowUps(ctx context.Context, tenantID string, limit int) ([]*domain.FollowUp, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if limit <= 0 {
		limit = DefaultFollowUpLimit
	}

	query := `SELECT ` + followUpColumns + ` FROM followups WHERE tenant_id = ? ORDER BY sent_at DESC, id LIMIT ?`
	return r.queryFollowUps(ctx, query, tenantID, limit)
}

// ListFollowUpsByCustomer returns a customer's follow-ups sent at or after since.
func (r *SQLRepository) ListFollowUpsByCustomer(ctx context.Context, tenantID string, nameKey string, since time.Time) ([]*domain.FollowUp, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT ` + followUpColumns + `
		FROM followups
		WHERE tenant_id = ?
		  AND customer_key = ?
		  AND sent_at >= ?
		ORDER BY sent_at DESC
	`
	return r.queryFollowUps(ctx, query, tenantID, domain.NameKey(nameKey), since.UTC())
}

func (r *SQLRepository) queryFollowUps(ctx context.Context, query string, args ...any) ([]*domain.FollowUp, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var followUps []*domain.FollowUp
	for rows.Next() {
		f, err := scanFollowUp(rows)
		if err != nil {
			return nil, err
		}
		followUps = append(followUps, f)
	}

	return followUps, rows.Err()
}

func scanFollowUp(row scanner) (*domain.FollowUp, error) {
	var f domain.FollowUp
	var kind, channel, status string
	var customerID, message, recipient, outcome sql.NullString
	var stage int

	if err := row.Scan(
		&f.ID, &f.TenantID, &kind, &customerID, &f.Customer.NameKey, &f.CustomerName,
		&channel, &stage, &status, &message, &recipient, &f.SentAt, &outcome,
	); err != nil {
		return nil, err
	}

	f.Customer.Kind = domain.CustomerKind(kind)
	f.Customer.ID = customerID.String
	f.Channel = domain.Channel(channel)
	f.Stage = domain.Stage(stage)
	f.Status = domain.FollowUpStatus(status)
	f.Message = message.String
	f.Recipient = recipient.String

	if outcome.Valid && outcome.String != "" {
		var o domain.Outcome
		if err := json.Unmarshal([]byte(outcome.String), &o); err != nil {
			return nil, fmt.Errorf("failed to parse outcome for %s: %w", f.ID, err)
		}
		f.Outcome = &o
	}

	return &f, nil
}
