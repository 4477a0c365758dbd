package aggregate

import (
	"cmp"
	"slices"
	"strings"

	"github.com/opensource-finance/vasool/internal/domain"
	"github.com/opensource-finance/vasool/internal/rules"
	"github.com/shopspring/decimal"
)

// HeatmapDays is how many days ahead the due-date heatmap covers.
const HeatmapDays = 30

// TopCustomers is how many customers the revenue leaderboard keeps.
const TopCustomers = 5

// Dashboard is the portfolio overview.
type Dashboard struct {
	AsOf domain.Date `json:"asOf"`

	Outstanding decimal.Decimal `json:"outstanding"`
	Overdue     decimal.Decimal `json:"overdue"`
	Paid        decimal.Decimal `json:"paid"`
	Revenue     decimal.Decimal `json:"revenue"`

	InvoiceCount int `json:"invoiceCount"`
	OverdueCount int `json:"overdueCount"`
	PendingCount int `json:"pendingCount"`
	PaidCount    int `json:"paidCount"`
	DraftCount   int `json:"draftCount"`

	EmailedCount int     `json:"emailedCount"`
	EmailedRate  float64 `json:"emailedRate"`

	TopCustomers []CustomerRevenue `json:"topCustomers"`
	Histogram    []HistogramBin    `json:"histogram"`
	Timeline     []MonthTotal      `json:"timeline"`
	Heatmap      []HeatmapDay      `json:"heatmap"`
}

// CustomerRevenue is a customer's total billed amount.
type CustomerRevenue struct {
	Name         string          `json:"name"`
	Revenue      decimal.Decimal `json:"revenue"`
	InvoiceCount int             `json:"invoiceCount"`
}

// HistogramBin counts invoices whose amount falls at or under Max.
// The last bin has no upper bound.
type HistogramBin struct {
	Range string           `json:"range"`
	Max   *decimal.Decimal `json:"-"`
	Count int              `json:"count"`
}

// MonthTotal is the amount due in a calendar month (YYYY-MM).
type MonthTotal struct {
	Month  string          `json:"month"`
	Amount decimal.Decimal `json:"amount"`
}

// HeatmapDay is the unpaid amount due on a day, bucketed 0..3.
type HeatmapDay struct {
	Day       domain.Date     `json:"day"`
	Amount    decimal.Decimal `json:"amount"`
	Intensity int             `json:"intensity"`
}

var (
	heatHigh   = decimal.NewFromInt(50000)
	heatMedium = decimal.NewFromInt(20000)
)

func histogramBins() []HistogramBin {
	bound := func(v int64) *decimal.Decimal {
		d := decimal.NewFromInt(v)
		return &d
	}
	return []HistogramBin{
		{Range: "0-10k", Max: bound(10000)},
		{Range: "10-30k", Max: bound(30000)},
		{Range: "30-60k", Max: bound(60000)},
		{Range: "60k+"},
	}
}

// BuildDashboard computes the overview for a set of invoices as of today.
func BuildDashboard(invoices []*domain.Invoice, today domain.Date) *Dashboard {
	d := &Dashboard{
		AsOf:         today,
		InvoiceCount: len(invoices),
		Histogram:    histogramBins(),
	}

	revenue := make(map[string]*CustomerRevenue)
	months := make(map[string]decimal.Decimal)
	heat := make(map[domain.Date]decimal.Decimal)
	horizon := today.AddDays(HeatmapDays - 1)

	for _, inv := range invoices {
		status := rules.EffectiveStatus(inv, today)
		switch status {
		case domain.EffectivePaid:
			d.Paid = d.Paid.Add(inv.Amount)
			d.PaidCount++
		case domain.EffectiveOverdue:
			d.Outstanding = d.Outstanding.Add(inv.Outstanding())
			d.Overdue = d.Overdue.Add(inv.Outstanding())
			d.OverdueCount++
		default:
			d.Outstanding = d.Outstanding.Add(inv.Outstanding())
			d.PendingCount++
		}
		if inv.Status == domain.InvoiceDraft {
			d.DraftCount++
		}
		if inv.IsEmailed {
			d.EmailedCount++
		}

		key := inv.CustomerKey()
		r, ok := revenue[key]
		if !ok {
			r = &CustomerRevenue{Name: strings.TrimSpace(inv.CustomerName)}
			revenue[key] = r
		}
		r.Revenue = r.Revenue.Add(inv.Amount)
		r.InvoiceCount++

		for i := range d.Histogram {
			if b := d.Histogram[i]; b.Max == nil || inv.Amount.LessThanOrEqual(*b.Max) {
				d.Histogram[i].Count++
				break
			}
		}

		if !inv.DueDate.IsZero() {
			month := inv.DueDate.String()[:7]
			months[month] = months[month].Add(inv.Amount)
		}

		if status != domain.EffectivePaid && !inv.DueDate.Before(today) && !inv.DueDate.After(horizon) {
			heat[inv.DueDate] = heat[inv.DueDate].Add(inv.Amount)
		}
	}

	d.Revenue = d.Paid.Add(d.Outstanding)
	if d.InvoiceCount > 0 {
		d.EmailedRate = float64(d.EmailedCount) / float64(d.InvoiceCount)
	}

	for _, r := range revenue {
		d.TopCustomers = append(d.TopCustomers, *r)
	}
	slices.SortFunc(d.TopCustomers, func(a, b CustomerRevenue) int {
		if c := b.Revenue.Cmp(a.Revenue); c != 0 {
			return c
		}
		return cmp.Compare(domain.NameKey(a.Name), domain.NameKey(b.Name))
	})
	if len(d.TopCustomers) > TopCustomers {
		d.TopCustomers = d.TopCustomers[:TopCustomers]
	}

	for month, amount := range months {
		d.Timeline = append(d.Timeline, MonthTotal{Month: month, Amount: amount})
	}
	slices.SortFunc(d.Timeline, func(a, b MonthTotal) int { return cmp.Compare(a.Month, b.Month) })

	d.Heatmap = make([]HeatmapDay, HeatmapDays)
	for i := range d.Heatmap {
		day := today.AddDays(i)
		amount := heat[day]
		d.Heatmap[i] = HeatmapDay{Day: day, Amount: amount, Intensity: intensity(amount)}
	}

	return d
}

func intensity(amount decimal.Decimal) int {
	switch {
	case amount.GreaterThan(heatHigh):
		return 3
	case amount.GreaterThan(heatMedium):
		return 2
	case amount.IsPositive():
		return 1
	default:
		return 0
	}
}

// StatusFilter selects invoices by effective status.
type StatusFilter string

const (
	FilterAll     StatusFilter = "ALL"
	FilterOverdue StatusFilter = "OVERDUE"
	FilterPending StatusFilter = "PENDING"
	FilterPaid    StatusFilter = "PAID"
)

// ParseStatusFilter reads a filter, treating blank as ALL.
func ParseStatusFilter(s string) (StatusFilter, bool) {
	f := StatusFilter(strings.ToUpper(strings.TrimSpace(s)))
	switch f {
	case "":
		return FilterAll, true
	case FilterAll, FilterOverdue, FilterPending, FilterPaid:
		return f, true
	}
	return "", false
}

// FilterInvoices keeps invoices whose effective status matches, preserving order.
func FilterInvoices(invoices []*domain.Invoice, f StatusFilter, today domain.Date) []*domain.Invoice {
	if f == FilterAll || f == "" {
		return invoices
	}
	var out []*domain.Invoice
	for _, inv := range invoices {
		if string(rules.EffectiveStatus(inv, today)) == string(f) {
			out = append(out, inv)
		}
	}
	return out
}
