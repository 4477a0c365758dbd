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

const customerColumns = `
	id, tenant_id, name, contact_person, email, phone, ai_enabled,
	stage_contacts, created_at, updated_at
`

// SaveCustomer inserts or updates a customer record. Names are unique per
// tenant after normalization.
func (r *SQLRepository) SaveCustomer(ctx context.Context, tenantID string, c *domain.Customer) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if c == nil || c.ID == "" || c.NameKey() == "" {
		return fmt.Errorf("%w: customer id and name are required", ErrInvalidInput)
	}

	contacts := c.StageContacts
	if contacts == nil {
		contacts = map[domain.Stage]domain.StageContact{}
	}
	stageContacts, err := json.Marshal(contacts)
	if err != nil {
		return fmt.Errorf("failed to encode stage contacts: %w", err)
	}

	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	c.TenantID = tenantID

	query := `
		INSERT INTO customers (
			id, tenant_id, name, name_key, contact_person, email, phone,
			ai_enabled, stage_contacts, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, id) DO UPDATE SET
			name = excluded.name,
			name_key = excluded.name_key,
			contact_person = excluded.contact_person,
			email = excluded.email,
			phone = excluded.phone,
			ai_enabled = excluded.ai_enabled,
			stage_contacts = excluded.stage_contacts,
			updated_at = excluded.updated_at
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		c.ID, tenantID, c.Name, c.NameKey(), c.ContactPerson, c.Email, c.Phone,
		boolInt(c.AIEnabled), string(stageContacts), c.CreatedAt, c.UpdatedAt,
	)
	return err
}

// GetCustomer retrieves a customer by ID with tenant isolation.
func (r *SQLRepository) GetCustomer(ctx context.Context, tenantID string, customerID string) (*domain.Customer, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `SELECT ` + customerColumns + ` FROM customers WHERE tenant_id = ? AND id = ?`

	c, err := scanCustomer(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, customerID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

// GetCustomerByName retrieves a customer by normalized name.
func (r *SQLRepository) GetCustomerByName(ctx context.Context, tenantID string, name string) (*domain.Customer, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `SELECT ` + customerColumns + ` FROM customers WHERE tenant_id = ? AND name_key = ?`

	c, err := scanCustomer(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, domain.NameKey(name)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

// ListCustomers retrieves every customer for a tenant ordered by name.
func (r *SQLRepository) ListCustomers(ctx context.Context, tenantID string) ([]*domain.Customer, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `SELECT ` + customerColumns + ` FROM customers WHERE tenant_id = ? ORDER BY name_key`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var customers []*domain.Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		customers = append(customers, c)
	}

	return customers, rows.Err()
}

func scanCustomer(row scanner) (*domain.Customer, error) {
	var c domain.Customer
	var contactPerson, email, phone sql.NullString
	var aiEnabled int
	var stageContacts string

	if err := row.Scan(
		&c.ID, &c.TenantID, &c.Name, &contactPerson, &email, &phone,
		&aiEnabled, &stageContacts, &c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		return nil, err
	}

	c.ContactPerson = contactPerson.String
	c.Email = email.String
	c.Phone = phone.String
	c.AIEnabled = aiEnabled == 1

	if err := json.Unmarshal([]byte(stageContacts), &c.StageContacts); err != nil {
		return nil, fmt.Errorf("failed to parse stage contacts for %s: %w", c.ID, err)
	}

	return &c, nil
}
