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

const invoiceColumns = `
	id, tenant_id, external_id, source, customer_name, amount, balance,
	currency, due_date, status, is_emailed, manual_logs, created_at, updated_at
`

const upsertInvoice = `
	INSERT INTO invoices (
		id, tenant_id, external_id, source, customer_name, customer_key,
		amount, balance, currency, due_date, status, is_emailed, manual_logs,
		created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(tenant_id, id) DO UPDATE SET
		external_id = excluded.external_id,
		source = excluded.source,
		customer_name = excluded.customer_name,
		customer_key = excluded.customer_key,
		amount = excluded.amount,
		balance = excluded.balance,
		currency = excluded.currency,
		due_date = excluded.due_date,
		status = excluded.status,
		is_emailed = excluded.is_emailed,
		manual_logs = excluded.manual_logs,
		updated_at = excluded.updated_at
`

// SaveInvoice inserts or updates an invoice with tenant isolation.
func (r *SQLRepository) SaveInvoice(ctx context.Context, tenantID string, inv *domain.Invoice) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	return r.saveInvoice(ctx, r.db, tenantID, inv)
}

// SaveInvoices stores a batch of invoices in one transaction.
func (r *SQLRepository) SaveInvoices(ctx context.Context, tenantID string, invs []*domain.Invoice) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if len(invs) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	for _, inv := range invs {
		if err := r.saveInvoice(ctx, tx, tenantID, inv); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to save invoice %s: %w", inv.ID, err)
		}
	}

	return tx.Commit()
}

func (r *SQLRepository) saveInvoice(ctx context.Context, db execer, tenantID string, inv *domain.Invoice) error {
	if inv == nil || inv.ID == "" {
		return fmt.Errorf("%w: invoice id is required", ErrInvalidInput)
	}

	logs := inv.ManualLogs
	if logs == nil {
		logs = []domain.ManualLog{}
	}
	manualLogs, err := json.Marshal(logs)
	if err != nil {
		return fmt.Errorf("failed to encode manual logs: %w", err)
	}

	now := time.Now().UTC()
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = now
	}
	inv.UpdatedAt = now
	inv.TenantID = tenantID

	_, err = db.ExecContext(ctx, r.rebind(upsertInvoice),
		inv.ID, tenantID, nullString(inv.ExternalID), string(inv.Source),
		inv.CustomerName, inv.CustomerKey(),
		inv.Amount, inv.Balance, inv.Currency, inv.DueDate,
		string(inv.Status), boolInt(inv.IsEmailed), string(manualLogs),
		inv.CreatedAt, inv.UpdatedAt,
	)
	return err
}

// GetInvoice retrieves an invoice by ID with tenant isolation.
func (r *SQLRepository) GetInvoice(ctx context.Context, tenantID string, invoiceID string) (*domain.Invoice, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE tenant_id = ? AND id = ?`

	inv, err := scanInvoice(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, invoiceID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return inv, err
}

// ListInvoices retrieves every invoice for a tenant ordered by due date.
func (r *SQLRepository) ListInvoices(ctx context.Context, tenantID string) ([]*domain.Invoice, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE tenant_id = ? ORDER BY due_date, id`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invoices []*domain.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, inv)
	}

	return invoices, rows.Err()
}

// DeleteInvoice removes an invoice.
func (r *SQLRepository) DeleteInvoice(ctx context.Context, tenantID string, invoiceID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	result, err := r.db.ExecContext(ctx, r.rebind(`DELETE FROM invoices WHERE tenant_id = ? AND id = ?`), tenantID, invoiceID)
	if err != nil {
		return err
	}
	return affectedOne(result)
}

func scanInvoice(row scanner) (*domain.Invoice, error) {
	var inv domain.Invoice
	var externalID sql.NullString
	var source, status, manualLogs string
	var emailed int

	if err := row.Scan(
		&inv.ID, &inv.TenantID, &externalID, &source, &inv.CustomerName,
		&inv.Amount, &inv.Balance, &inv.Currency, &inv.DueDate, &status,
		&emailed, &manualLogs, &inv.CreatedAt, &inv.UpdatedAt,
	); err != nil {
		return nil, err
	}

	inv.ExternalID = externalID.String
	inv.Source = domain.Source(source)
	inv.Status = domain.InvoiceStatus(status)
	inv.IsEmailed = emailed == 1

	if err := json.Unmarshal([]byte(manualLogs), &inv.ManualLogs); err != nil {
		return nil, fmt.Errorf("failed to parse manual logs for %s: %w", inv.ID, err)
	}

	return &inv, nil
}
