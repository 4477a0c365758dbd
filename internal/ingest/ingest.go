// Package ingest turns external ledger rows into invoices.
//
// This is the only place raw dates and amounts from outside the system are
// parsed. Everything downstream works with validated domain values.
package ingest

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/vasool/internal/domain"
	"github.com/shopspring/decimal"
)

// ErrInvalidRecord wraps every per-row rejection.
var ErrInvalidRecord = errors.New("invalid invoice record")

// Record is a partially filled invoice as received from a file or an
// accounting system. Missing fields take the import defaults.
type Record struct {
	ID           string           `json:"id,omitempty"`
	ExternalID   string           `json:"externalId,omitempty"`
	Source       domain.Source    `json:"source,omitempty"`
	CustomerName string           `json:"customerName"`
	Amount       *decimal.Decimal `json:"amount"`
	Balance      *decimal.Decimal `json:"balance,omitempty"`
	Currency     string           `json:"currency,omitempty"`
	DueDate      string           `json:"dueDate,omitempty"`
	Status       string           `json:"status,omitempty"`
	IsEmailed    *bool            `json:"isEmailed,omitempty"`
}

// RowError is a rejected record and why.
type RowError struct {
	Row    int    `json:"row"`
	Reason string `json:"reason"`
}

func (e RowError) Error() string {
	return fmt.Sprintf("row %d: %s", e.Row, e.Reason)
}

// Normalize converts a record into an invoice. Blank customer names become
// "Unknown Customer", blank currencies INR, blank statuses PENDING and blank
// due dates today. The balance defaults to the amount.
func Normalize(rec Record, source domain.Source, today domain.Date, now time.Time) (*domain.Invoice, error) {
	inv := &domain.Invoice{
		ID:           strings.TrimSpace(rec.ID),
		ExternalID:   strings.TrimSpace(rec.ExternalID),
		Source:       source,
		CustomerName: strings.TrimSpace(rec.CustomerName),
		Currency:     strings.ToUpper(strings.TrimSpace(rec.Currency)),
		DueDate:      today,
		Status:       domain.InvoicePending,
		ManualLogs:   []domain.ManualLog{},
		CreatedAt:    now.UTC(),
		UpdatedAt:    now.UTC(),
	}

	if inv.ID == "" {
		inv.ID = uuid.New().String()
	}
	if inv.Source == "" {
		inv.Source = rec.Source
	}
	if inv.Source == "" {
		inv.Source = domain.SourceManual
	}
	if inv.CustomerName == "" {
		inv.CustomerName = domain.UnknownCustomer
	}
	if inv.Currency == "" {
		inv.Currency = domain.DefaultCurrency
	}

	if rec.Amount != nil {
		inv.Amount = *rec.Amount
	}
	if inv.Amount.IsNegative() {
		return nil, fmt.Errorf("%w: amount %s is negative", ErrInvalidRecord, inv.Amount)
	}

	balance := inv.Amount
	if rec.Balance != nil {
		balance = *rec.Balance
	}
	if balance.IsNegative() {
		return nil, fmt.Errorf("%w: balance %s is negative", ErrInvalidRecord, balance)
	}
	inv.Balance = decimal.NewNullDecimal(balance)

	if s := strings.TrimSpace(rec.DueDate); s != "" {
		due, err := domain.ParseDate(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidRecord, err)
		}
		inv.DueDate = due
	}

	if s := strings.ToUpper(strings.TrimSpace(rec.Status)); s != "" {
		status := domain.InvoiceStatus(s)
		if !status.Valid() {
			return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidRecord, rec.Status)
		}
		inv.Status = status
	}
	if !balance.IsPositive() {
		inv.Status = domain.InvoicePaid
	}

	if rec.IsEmailed != nil {
		inv.IsEmailed = *rec.IsEmailed
	}

	return inv, nil
}

// Result is the outcome of an import batch.
type Result struct {
	Added        []*domain.Invoice  `json:"added"`
	Skipped      int                `json:"skipped"`
	Rejected     []RowError         `json:"rejected,omitempty"`
	NewCustomers []*domain.Customer `json:"newCustomers,omitempty"`
}

// Import normalizes records, drops duplicates of existing and earlier
// records in the batch, and proposes a customer record for every new name.
func Import(records []Record, source domain.Source, existing []*domain.Invoice, customers []*domain.Customer, today domain.Date, now time.Time) *Result {
	res := &Result{}
	seen := NewIndex(existing)

	known := make(map[string]bool, len(customers))
	for _, c := range customers {
		known[c.NameKey()] = true
	}

	for i, rec := range records {
		inv, err := Normalize(rec, source, today, now)
		if err != nil {
			res.Rejected = append(res.Rejected, RowError{Row: i + 1, Reason: err.Error()})
			continue
		}
		if seen.Contains(inv) {
			res.Skipped++
			continue
		}
		seen.Add(inv)
		res.Added = append(res.Added, inv)

		if key := inv.CustomerKey(); !known[key] {
			known[key] = true
			res.NewCustomers = append(res.NewCustomers, PlaceholderCustomer(inv.CustomerName, now))
		}
	}
	return res
}

// PlaceholderCustomer is the record created for a name first seen on an
// imported invoice. Contact details are left as "N/A" until filled in.
func PlaceholderCustomer(name string, now time.Time) *domain.Customer {
	return &domain.Customer{
		ID:            uuid.New().String(),
		Name:          name,
		ContactPerson: "Contact needed",
		Email:         "N/A",
		Phone:         "N/A",
		AIEnabled:     true,
		StageContacts: map[domain.Stage]domain.StageContact{},
		CreatedAt:     now.UTC(),
		UpdatedAt:     now.UTC(),
	}
}

// Index answers duplicate checks. Two invoices are duplicates when both carry
// the same external id, or when customer name key, amount and due date match.
type Index struct {
	external map[string]bool
	natural  map[string]bool
}

// NewIndex indexes existing invoices.
func NewIndex(invoices []*domain.Invoice) *Index {
	idx := &Index{external: make(map[string]bool), natural: make(map[string]bool)}
	for _, inv := range invoices {
		idx.Add(inv)
	}
	return idx
}

// Add records an invoice.
func (x *Index) Add(inv *domain.Invoice) {
	if inv.ExternalID != "" {
		x.external[inv.ExternalID] = true
	}
	x.natural[naturalKey(inv)] = true
}

// Contains reports whether inv duplicates an indexed invoice.
func (x *Index) Contains(inv *domain.Invoice) bool {
	if inv.ExternalID != "" && x.external[inv.ExternalID] {
		return true
	}
	return x.natural[naturalKey(inv)]
}

func naturalKey(inv *domain.Invoice) string {
	return inv.CustomerKey() + "|" + inv.Amount.String() + "|" + inv.DueDate.String()
}

// Dedupe returns the incoming invoices that do not duplicate existing ones
// or each other, and how many were dropped.
func Dedupe(existing, incoming []*domain.Invoice) ([]*domain.Invoice, int) {
	idx := NewIndex(existing)
	var accepted []*domain.Invoice
	skipped := 0
	for _, inv := range incoming {
		if idx.Contains(inv) {
			skipped++
			continue
		}
		idx.Add(inv)
		accepted = append(accepted, inv)
	}
	return accepted, skipped
}
