package aggregate

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/opensource-finance/vasool/internal/domain"
	"github.com/opensource-finance/vasool/internal/rules"
	"github.com/shopspring/decimal"
)

var (
	// ErrNoMatch is returned when no unpaid invoice matches a bank transaction.
	ErrNoMatch = errors.New("no unpaid invoice matches transaction amount")

	// ErrInvalidAmount is returned for zero or negative payments.
	ErrInvalidAmount = errors.New("payment amount must be positive")
)

// PaymentKind records whether a payment settles the customer in full.
type PaymentKind string

const (
	PaymentFull    PaymentKind = "FULL"
	PaymentPartial PaymentKind = "PARTIAL"
)

// Valid reports whether k is a known kind.
func (k PaymentKind) Valid() bool {
	return k == PaymentFull || k == PaymentPartial
}

// PaymentResult describes how a payment was spread across invoices.
type PaymentResult struct {
	Applied   decimal.Decimal   `json:"applied"`
	Remainder decimal.Decimal   `json:"remainder"`
	Changed   []*domain.Invoice `json:"invoices"`
}

// ApplyPayment spreads amount over the unpaid invoices oldest due date first
// (ties by id). Each touched invoice gets a reduced balance and an audit log
// entry, and becomes PAID once nothing is left. Invoices are modified in
// place. Any amount left over once every invoice is settled is returned as
// the remainder. A FULL payment without an amount settles the whole
// outstanding total.
func ApplyPayment(invoices []*domain.Invoice, amount decimal.Decimal, kind PaymentKind, today domain.Date, at time.Time, author string) (*PaymentResult, error) {
	if !kind.Valid() {
		kind = PaymentPartial
	}
	if author == "" {
		author = "System"
	}

	var unpaid []*domain.Invoice
	outstanding := decimal.Zero
	for _, inv := range invoices {
		if rules.EffectiveStatus(inv, today) != domain.EffectivePaid {
			unpaid = append(unpaid, inv)
			outstanding = outstanding.Add(inv.Outstanding())
		}
	}
	if kind == PaymentFull && amount.IsZero() {
		amount = outstanding
	}
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	slices.SortStableFunc(unpaid, func(a, b *domain.Invoice) int {
		if a.DueDate.Before(b.DueDate) {
			return -1
		}
		if a.DueDate.After(b.DueDate) {
			return 1
		}
		return cmp.Compare(a.ID, b.ID)
	})

	result := &PaymentResult{}
	remaining := amount
	for _, inv := range unpaid {
		if !remaining.IsPositive() {
			break
		}
		balance := inv.Outstanding()
		applied := decimal.Min(remaining, balance)
		if !applied.IsPositive() {
			continue
		}

		balance = balance.Sub(applied)
		remaining = remaining.Sub(applied)

		inv.Balance = decimal.NewNullDecimal(balance)
		if !balance.IsPositive() {
			inv.Status = domain.InvoicePaid
		}
		inv.AppendLog(at, fmt.Sprintf("Received payment of %s %s (%s)", currency(inv), applied.StringFixed(2), kind), author)
		inv.UpdatedAt = at.UTC()

		result.Applied = result.Applied.Add(applied)
		result.Changed = append(result.Changed, inv)
	}

	result.Remainder = remaining
	return result, nil
}

// Reconcile settles the first unpaid invoice whose amount equals the bank
// transaction amount.
func Reconcile(invoices []*domain.Invoice, txn domain.BankTransaction, today domain.Date, at time.Time, author string) (*domain.Invoice, error) {
	if author == "" {
		author = "System"
	}
	for _, inv := range invoices {
		if rules.EffectiveStatus(inv, today) == domain.EffectivePaid {
			continue
		}
		if !inv.Amount.Equal(txn.Amount) {
			continue
		}

		inv.Status = domain.InvoicePaid
		inv.Balance = decimal.NewNullDecimal(decimal.Zero)
		note := fmt.Sprintf("Reconciled against bank transaction %s of %s %s", txn.ID, currency(inv), txn.Amount.StringFixed(2))
		if txn.Description != "" {
			note += ": " + txn.Description
		}
		inv.AppendLog(at, note, author)
		inv.UpdatedAt = at.UTC()
		return inv, nil
	}
	return nil, ErrNoMatch
}

func currency(inv *domain.Invoice) string {
	if inv.Currency == "" {
		return domain.DefaultCurrency
	}
	return inv.Currency
}
