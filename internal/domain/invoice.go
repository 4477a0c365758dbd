package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceStatus is the stored status of an invoice.
type InvoiceStatus string

const (
	InvoiceDraft   InvoiceStatus = "DRAFT"
	InvoicePending InvoiceStatus = "PENDING"
	InvoiceOverdue InvoiceStatus = "OVERDUE"
	InvoicePaid    InvoiceStatus = "PAID"
)

// Valid reports whether s is a known stored status.
func (s InvoiceStatus) Valid() bool {
	switch s {
	case InvoiceDraft, InvoicePending, InvoiceOverdue, InvoicePaid:
		return true
	}
	return false
}

// EffectiveStatus is the status computed at read time from the due date.
type EffectiveStatus string

const (
	EffectivePaid    EffectiveStatus = "PAID"
	EffectiveOverdue EffectiveStatus = "OVERDUE"
	EffectivePending EffectiveStatus = "PENDING"
)

// Source tags where an invoice came from.
type Source string

const (
	SourceManual     Source = "MANUAL"
	SourceExcel      Source = "EXCEL"
	SourceZoho       Source = "ZOHO"
	SourceQuickBooks Source = "QUICKBOOKS"
	SourceTally      Source = "TALLY"
	SourceZeroBooks  Source = "ZEROBOOKS"
	SourceBankRecon  Source = "BANK_RECON"
)

// DefaultCurrency is applied to imported invoices without a currency.
const DefaultCurrency = "INR"

// UnknownCustomer is the name given to imported invoices without a customer.
const UnknownCustomer = "Unknown Customer"

// Invoice is a receivable owed by a customer. Customers are referenced by name.
type Invoice struct {
	ID           string              `json:"id"`
	TenantID     string              `json:"tenantId"`
	ExternalID   string              `json:"externalId,omitempty"`
	Source       Source              `json:"source,omitempty"`
	CustomerName string              `json:"customerName"`
	Amount       decimal.Decimal     `json:"amount"`
	Balance      decimal.NullDecimal `json:"balance"`
	Currency     string              `json:"currency"`
	DueDate      Date                `json:"dueDate"`
	Status       InvoiceStatus       `json:"status"`
	IsEmailed    bool                `json:"isEmailed"`
	ManualLogs   []ManualLog         `json:"manualLogs"`
	CreatedAt    time.Time           `json:"createdAt"`
	UpdatedAt    time.Time           `json:"updatedAt"`
}

// ManualLog is one entry in an invoice's audit trail.
type ManualLog struct {
	At     time.Time `json:"date"`
	Note   string    `json:"note"`
	Author string    `json:"performedBy"`
}

// Outstanding is the remaining balance, or the full amount when no balance is recorded.
func (inv *Invoice) Outstanding() decimal.Decimal {
	if inv.Balance.Valid {
		return inv.Balance.Decimal
	}
	return inv.Amount
}

// CustomerKey is the normalized customer name the invoice belongs to.
func (inv *Invoice) CustomerKey() string {
	return NameKey(inv.CustomerName)
}

// AppendLog adds an audit entry. Existing entries are never modified.
func (inv *Invoice) AppendLog(at time.Time, note, author string) {
	inv.ManualLogs = append(inv.ManualLogs, ManualLog{At: at.UTC(), Note: note, Author: author})
}

// BankTransaction is a statement line offered for reconciliation.
type BankTransaction struct {
	ID          string          `json:"id"`
	Date        Date            `json:"date"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
}
