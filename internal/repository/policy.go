package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/vasool/internal/domain"
)

const policyColumns = `
	id, tenant_id, name, description, expression, action, channel,
	priority, enabled, created_at, updated_at
`

// SavePolicy stores a collection policy with tenant isolation.
func (r *SQLRepository) SavePolicy(ctx context.Context, tenantID string, p *domain.Policy) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if p == nil || p.ID == "" {
		return fmt.Errorf("%w: policy id is required", ErrInvalidInput)
	}

	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	p.TenantID = tenantID

	query := `
		INSERT INTO policies (
			id, tenant_id, name, description, expression, action, channel,
			priority, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			action = excluded.action,
			channel = excluded.channel,
			priority = excluded.priority,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		p.ID, tenantID, p.Name, p.Description, p.Expression,
		string(p.Action), nullString(string(p.Channel)),
		p.Priority, boolInt(p.Enabled), p.CreatedAt, p.UpdatedAt,
	)
	return err
}

// GetPolicy retrieves a policy by ID with tenant isolation.
func (r *SQLRepository) GetPolicy(ctx context.Context, tenantID string, policyID string) (*domain.Policy, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `SELECT ` + policyColumns + ` FROM policies WHERE tenant_id = ? AND id = ?`

	p, err := scanPolicy(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, policyID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

// ListPolicies retrieves every policy for a tenant, enabled or not,
// highest priority first.
func (r *SQLRepository) ListPolicies(ctx context.Context, tenantID string) ([]*domain.Policy, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `SELECT ` + policyColumns + ` FROM policies WHERE tenant_id = ? ORDER BY priority DESC, id`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var policies []*domain.Policy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		policies = append(policies, p)
	}

	return policies, rows.Err()
}

// DeletePolicy removes a policy.
func (r *SQLRepository) DeletePolicy(ctx context.Context, tenantID string, policyID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	result, err := r.db.ExecContext(ctx, r.rebind(`DELETE FROM policies WHERE tenant_id = ? AND id = ?`), tenantID, policyID)
	if err != nil {
		return err
	}
	return affectedOne(result)
}

func scanPolicy(row scanner) (*domain.Policy, error) {
	var p domain.Policy
	var description, channel sql.NullString
	var action string
	var enabled int

	if err := row.Scan(
		&p.ID, &p.TenantID, &p.Name, &description, &p.Expression, &action, &channel,
		&p.Priority, &enabled, &p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return nil, err
	}

	p.Description = description.String
	p.Action = domain.PolicyAction(action)
	p.Channel = domain.Channel(channel.String)
	p.Enabled = enabled == 1

	return &p, nil
}
