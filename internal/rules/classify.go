// Package rules provides the escalation and risk classifiers and the
// CEL-based collection policy engine.
//
// The classifiers are pure: every call takes the invoice or aggregate,
// an explicit protocol snapshot and, where time matters, the calendar
// date to evaluate against. They hold no state and are safe for
// concurrent use.
package rules

import (
	"github.com/opensource-finance/vasool/internal/domain"
	"github.com/shopspring/decimal"
)

// EffectiveStatus derives PAID, OVERDUE or PENDING for an invoice as of today.
// A stored PAID status is sticky regardless of dates.
func EffectiveStatus(inv *domain.Invoice, today domain.Date) domain.EffectiveStatus {
	if inv.Status == domain.InvoicePaid {
		return domain.EffectivePaid
	}
	if inv.DueDate.Before(today) {
		return domain.EffectiveOverdue
	}
	return domain.EffectivePending
}

// DaysPastDue is the signed calendar-day offset of today from the due date.
// Positive means overdue, zero means due today.
func DaysPastDue(inv *domain.Invoice, today domain.Date) int {
	return domain.DaysBetween(inv.DueDate, today)
}

// DaysOverdue is DaysPastDue for invoices whose effective status is OVERDUE,
// and 0 otherwise.
func DaysOverdue(inv *domain.Invoice, today domain.Date) int {
	if EffectiveStatus(inv, today) != domain.EffectiveOverdue {
		return 0
	}
	return DaysPastDue(inv, today)
}

// ClassifyEscalation assigns an escalation stage 0..5.
//
// Thresholds are offsets from the due date: stage 1 covers the level1Days
// before and including the due date, stages 2..4 end at level2..4Days past
// due, and anything beyond level4Days is stage 5. level5Days is not a
// boundary. Paid invoices are always stage 0. A nil protocol means the defaults.
func ClassifyEscalation(inv *domain.Invoice, p *domain.Protocol, today domain.Date) domain.Stage {
	if inv.Status == domain.InvoicePaid {
		return domain.StageNone
	}

	if p == nil {
		p = domain.DefaultProtocol()
	}

	diff := DaysPastDue(inv, today)
	l1, l2, l3, l4 := p.Days(domain.Stage1), p.Days(domain.Stage2), p.Days(domain.Stage3), p.Days(domain.Stage4)

	switch {
	case diff < -l1:
		return domain.StageNone
	case diff <= 0:
		return domain.Stage1
	case diff <= l2:
		return domain.Stage2
	case diff <= l3:
		return domain.Stage3
	case diff <= l4:
		return domain.Stage4
	default:
		return domain.Stage5
	}
}

// ClassifyRisk buckets exposure. Either dimension alone reaching a threshold
// is enough to land in that bucket.
func ClassifyRisk(outstanding decimal.Decimal, maxOverdueDays int, p *domain.Protocol) domain.RiskLevel {
	if p == nil {
		p = domain.DefaultProtocol()
	}
	if outstanding.GreaterThanOrEqual(p.RiskHighAmount) || maxOverdueDays >= p.RiskHighDays {
		return domain.RiskHigh
	}
	if outstanding.GreaterThanOrEqual(p.RiskMediumAmount) || maxOverdueDays >= p.RiskMediumDays {
		return domain.RiskMedium
	}
	return domain.RiskLow
}

// ResolveChannel returns the preferred channel for a stage: the first entry
// of the stage's channel list. Stage 0, unknown stages and empty lists
// resolve to EMAIL.
func ResolveChannel(stage domain.Stage, p *domain.Protocol) domain.Channel {
	if p == nil {
		p = domain.DefaultProtocol()
	}
	channels := p.Channels(stage)
	if len(channels) == 0 {
		return domain.ChannelEmail
	}
	return channels[0]
}
