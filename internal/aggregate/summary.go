package aggregate

import (
	"cmp"
	"slices"
	"strings"

	"github.com/opensource-finance/vasool/internal/domain"
	"github.com/opensource-finance/vasool/internal/rules"
	"github.com/shopspring/decimal"
)

// CustomerSummary is a customer together with the figures derived from
// their invoices. It is rebuilt on every read and never stored.
type CustomerSummary struct {
	Ref    domain.CustomerRef `json:"ref"`
	ID     string             `json:"id"`
	Name   string             `json:"name"`
	Record *domain.Customer   `json:"record,omitempty"`

	// Currency of the customer's first invoice.
	Currency string `json:"currency"`

	TotalOutstanding  decimal.Decimal  `json:"totalOutstanding"`
	TotalBilled       decimal.Decimal  `json:"totalBilled"`
	MaxOverdueDays    int              `json:"maxOverdueDays"`
	CurrentEscalation domain.Stage     `json:"currentEscalation"`
	RiskLevel         domain.RiskLevel `json:"riskLevel"`
	InvoiceCount      int              `json:"invoiceCount"`
	UnpaidCount       int              `json:"unpaidCount"`
	OverdueCount      int              `json:"overdueCount"`
	NextDueDate       domain.Date      `json:"nextDueDate"`
}

// Key is the normalized name the summary is grouped under.
func (s *CustomerSummary) Key() string { return s.Ref.NameKey }

// Summarize groups invoices by normalized customer name and derives
// outstanding, worst overdue days, worst stage and risk per customer.
// Stored customers keep their record; names that only appear on invoices
// become virtual customers. The result is sorted by name key.
func Summarize(customers []*domain.Customer, invoices []*domain.Invoice, p *domain.Protocol, today domain.Date) []*CustomerSummary {
	index := make(map[string]*CustomerSummary)

	for _, c := range customers {
		key := c.NameKey()
		if key == "" {
			continue
		}
		if _, ok := index[key]; ok {
			continue
		}
		ref := c.Ref()
		index[key] = &CustomerSummary{
			Ref:    ref,
			ID:     ref.String(),
			Name:   c.Name,
			Record: c,
		}
	}

	for _, inv := range invoices {
		name := inv.CustomerName
		key := domain.NameKey(name)
		if key == "" {
			name = domain.UnknownCustomer
			key = domain.NameKey(name)
		}

		s, ok := index[key]
		if !ok {
			ref := domain.VirtualRef(name)
			s = &CustomerSummary{Ref: ref, ID: ref.String(), Name: name}
			index[key] = s
		}
		s.add(inv, p, today)
	}

	out := make([]*CustomerSummary, 0, len(index))
	for _, s := range index {
		s.RiskLevel = rules.ClassifyRisk(s.TotalOutstanding, s.MaxOverdueDays, p)
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b *CustomerSummary) int { return cmp.Compare(a.Key(), b.Key()) })
	return out
}

func (s *CustomerSummary) add(inv *domain.Invoice, p *domain.Protocol, today domain.Date) {
	s.InvoiceCount++
	s.TotalBilled = s.TotalBilled.Add(inv.Amount)
	if s.Currency == "" {
		s.Currency = currency(inv)
	}

	status := rules.EffectiveStatus(inv, today)
	if status == domain.EffectivePaid {
		return
	}

	s.UnpaidCount++
	s.TotalOutstanding = s.TotalOutstanding.Add(inv.Outstanding())

	if stage := rules.ClassifyEscalation(inv, p, today); stage > s.CurrentEscalation {
		s.CurrentEscalation = stage
	}
	if s.NextDueDate.IsZero() || inv.DueDate.Before(s.NextDueDate) {
		s.NextDueDate = inv.DueDate
	}

	if status == domain.EffectiveOverdue {
		s.OverdueCount++
		if days := rules.DaysPastDue(inv, today); days > s.MaxOverdueDays {
			s.MaxOverdueDays = days
		}
	}
}

// Find returns the summary for a reference, matching virtual references by name key.
func Find(summaries []*CustomerSummary, ref domain.CustomerRef) *CustomerSummary {
	for _, s := range summaries {
		if ref.IsVirtual() {
			if s.Key() == ref.NameKey {
				return s
			}
			continue
		}
		if !s.Ref.IsVirtual() && s.Ref.ID == ref.ID {
			return s
		}
	}
	return nil
}

// Filter narrows a summary list. Zero-value fields match everything.
type Filter struct {
	Stage          *domain.Stage
	Risk           domain.RiskLevel
	MaxOutstanding *decimal.Decimal
	Query          string
}

// FilterSummaries applies f, preserving order.
func FilterSummaries(summaries []*CustomerSummary, f Filter) []*CustomerSummary {
	query := domain.NameKey(f.Query)

	var out []*CustomerSummary
	for _, s := range summaries {
		if f.Stage != nil && s.CurrentEscalation != *f.Stage {
			continue
		}
		if f.Risk != "" && s.RiskLevel != f.Risk {
			continue
		}
		if f.MaxOutstanding != nil && s.TotalOutstanding.GreaterThan(*f.MaxOutstanding) {
			continue
		}
		if query != "" && !containsFold(s, query) {
			continue
		}
		out = append(out, s)
	}
	return out
}

func containsFold(s *CustomerSummary, query string) bool {
	if strings.Contains(s.Key(), query) {
		return true
	}
	if s.Record != nil {
		return strings.Contains(domain.NameKey(s.Record.Email), query) ||
			strings.Contains(domain.NameKey(s.Record.ContactPerson), query)
	}
	return false
}
