package rules

import (
	"fmt"
	"testing"
	"time"

	"github.com/opensource-finance/vasool/internal/domain"
	"github.com/shopspring/decimal"
)

var today = domain.NewDate(2025, time.November, 14)

func invoiceDue(due domain.Date, status domain.InvoiceStatus) *domain.Invoice {
	return &domain.Invoice{
		ID:           "inv-1",
		CustomerName: "Acme",
		Amount:       decimal.NewFromInt(1000),
		DueDate:      due,
		Status:       status,
	}
}

func TestEffectiveStatus(t *testing.T) {
	tests := []struct {
		name   string
		due    domain.Date
		status domain.InvoiceStatus
		want   domain.EffectiveStatus
	}{
		{"PaidAndOverdue", today.AddDays(-100), domain.InvoicePaid, domain.EffectivePaid},
		{"PaidAndFuture", today.AddDays(10), domain.InvoicePaid, domain.EffectivePaid},
		{"DueYesterday", today.AddDays(-1), domain.InvoicePending, domain.EffectiveOverdue},
		{"DueToday", today, domain.InvoicePending, domain.EffectivePending},
		{"DueTomorrow", today.AddDays(1), domain.InvoicePending, domain.EffectivePending},
		{"StoredOverdueButFuture", today.AddDays(3), domain.InvoiceOverdue, domain.EffectivePending},
		{"DraftPastDue", today.AddDays(-2), domain.InvoiceDraft, domain.EffectiveOverdue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EffectiveStatus(invoiceDue(tt.due, tt.status), today)
			if got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestClassifyEscalationBands(t *testing.T) {
	p := domain.DefaultProtocol()

	tests := []struct {
		diff int
		want domain.Stage
	}{
		{-30, domain.StageNone},
		{-6, domain.StageNone},
		{-5, domain.Stage1},
		{-1, domain.Stage1},
		{0, domain.Stage1},
		{1, domain.Stage2},
		{15, domain.Stage2},
		{16, domain.Stage3},
		{30, domain.Stage3},
		{31, domain.Stage4},
		{60, domain.Stage4},
		{61, domain.Stage5},
		{89, domain.Stage5},
		{90, domain.Stage5},
		{400, domain.Stage5},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("diff=%d", tt.diff), func(t *testing.T) {
			inv := invoiceDue(today.AddDays(-tt.diff), domain.InvoicePending)
			if got := ClassifyEscalation(inv, p, today); got != tt.want {
				t.Errorf("expected stage %d, got %d", tt.want, got)
			}
		})
	}
}

func TestClassifyEscalationMonotonic(t *testing.T) {
	protocols := map[string]*domain.Protocol{
		"default": domain.DefaultProtocol(),
		"tight": func() *domain.Protocol {
			p := domain.DefaultProtocol()
			p.Stages[0].Days = 0
			p.Stages[1].Days = 1
			p.Stages[2].Days = 2
			p.Stages[3].Days = 3
			return p
		}(),
	}

	for name, p := range protocols {
		t.Run(name, func(t *testing.T) {
			prev := domain.StageNone
			for diff := -200; diff <= 200; diff++ {
				inv := invoiceDue(today.AddDays(-diff), domain.InvoicePending)
				got := ClassifyEscalation(inv, p, today)
				if got < prev {
					t.Fatalf("stage regressed at diff=%d: %d -> %d", diff, prev, got)
				}
				if !got.Valid() {
					t.Fatalf("stage out of range at diff=%d: %d", diff, got)
				}
				prev = got
			}
		})
	}
}

func TestClassifyEscalationPaid(t *testing.T) {
	p := domain.DefaultProtocol()

	for diff := -100; diff <= 100; diff += 7 {
		inv := invoiceDue(today.AddDays(-diff), domain.InvoicePaid)
		if got := ClassifyEscalation(inv, p, today); got != domain.StageNone {
			t.Errorf("paid invoice at diff=%d: expected stage 0, got %d", diff, got)
		}
		if got := EffectiveStatus(inv, today); got != domain.EffectivePaid {
			t.Errorf("paid invoice at diff=%d: expected PAID, got %s", diff, got)
		}
	}
}

func TestClassifyEscalationPreNudgeWindow(t *testing.T) {
	p := domain.DefaultProtocol()

	inv := invoiceDue(today.AddDays(p.Days(domain.Stage1)+1), domain.InvoicePending)
	if got := ClassifyEscalation(inv, p, today); got != domain.StageNone {
		t.Errorf("expected stage 0 for invoice due in level1Days+1, got %d", got)
	}

	inv = invoiceDue(today.AddDays(p.Days(domain.Stage1)), domain.InvoicePending)
	if got := ClassifyEscalation(inv, p, today); got != domain.Stage1 {
		t.Errorf("expected stage 1 for invoice due in exactly level1Days, got %d", got)
	}
}

func TestClassifyEscalationIgnoresLevel5Days(t *testing.T) {
	p := domain.DefaultProtocol()
	p.Stages[4].Days = 1000

	inv := invoiceDue(today.AddDays(-61), domain.InvoicePending)
	if got := ClassifyEscalation(inv, p, today); got != domain.Stage5 {
		t.Errorf("expected stage 5 past level4Days regardless of level5Days, got %d", got)
	}
}

func TestClassifyEscalationInvertedThresholds(t *testing.T) {
	p := domain.DefaultProtocol()
	p.Stages[1].Days = 30
	p.Stages[2].Days = 15

	// Stage 3 is unreachable; the classifier does not reject the protocol.
	for diff := 1; diff <= 100; diff++ {
		inv := invoiceDue(today.AddDays(-diff), domain.InvoicePending)
		if got := ClassifyEscalation(inv, p, today); got == domain.Stage3 {
			t.Fatalf("stage 3 should be unreachable, got it at diff=%d", diff)
		}
	}
}

func TestClassifyEscalationNilProtocol(t *testing.T) {
	inv := invoiceDue(today.AddDays(-30), domain.InvoicePending)
	if got := ClassifyEscalation(inv, nil, today); got != domain.Stage3 {
		t.Errorf("expected nil protocol to use defaults (stage 3), got %d", got)
	}
}

func TestClassifyRisk(t *testing.T) {
	p := domain.DefaultProtocol()

	tests := []struct {
		name   string
		amount int64
		days   int
		want   domain.RiskLevel
	}{
		{"Zero", 0, 0, domain.RiskLow},
		{"Negative", -500, -3, domain.RiskLow},
		{"BelowMedium", 24999, 29, domain.RiskLow},
		{"MediumByAmount", 25000, 0, domain.RiskMedium},
		{"MediumByDays", 0, 30, domain.RiskMedium},
		{"HighByAmountOnly", 100000, 0, domain.RiskHigh},
		{"HighByDaysOnly", 0, 60, domain.RiskHigh},
		{"JustBelowHigh", 99999, 59, domain.RiskMedium},
		{"Both", 500000, 365, domain.RiskHigh},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyRisk(decimal.NewFromInt(tt.amount), tt.days, p)
			if got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestClassifyRiskFractionalAmounts(t *testing.T) {
	p := domain.DefaultProtocol()
	p.RiskMediumAmount = decimal.RequireFromString("25000.50")

	if got := ClassifyRisk(decimal.RequireFromString("25000.49"), 0, p); got != domain.RiskLow {
		t.Errorf("expected low just under fractional threshold, got %s", got)
	}
	if got := ClassifyRisk(decimal.RequireFromString("25000.50"), 0, p); got != domain.RiskMedium {
		t.Errorf("expected medium at fractional threshold, got %s", got)
	}
}

func TestResolveChannel(t *testing.T) {
	p := domain.DefaultProtocol()

	tests := []struct {
		stage domain.Stage
		want  domain.Channel
	}{
		{domain.StageNone, domain.ChannelEmail},
		{domain.Stage1, domain.ChannelEmail},
		{domain.Stage2, domain.ChannelWhatsApp},
		{domain.Stage3, domain.ChannelWhatsApp},
		{domain.Stage4, domain.ChannelCall},
		{domain.Stage5, domain.ChannelCall},
		{domain.Stage(6), domain.ChannelEmail},
		{domain.Stage(-2), domain.ChannelEmail},
	}

	for _, tt := range tests {
		if got := ResolveChannel(tt.stage, p); got != tt.want {
			t.Errorf("stage %d: expected %s, got %s", tt.stage, tt.want, got)
		}
	}
}

func TestResolveChannelEmptyList(t *testing.T) {
	p := domain.DefaultProtocol()
	p.Stages[3].Channels = nil
	p.Stages[4].Channels = []domain.Channel{}

	if got := ResolveChannel(domain.Stage4, p); got != domain.ChannelEmail {
		t.Errorf("expected EMAIL for nil list, got %s", got)
	}
	if got := ResolveChannel(domain.Stage5, p); got != domain.ChannelEmail {
		t.Errorf("expected EMAIL for empty list, got %s", got)
	}
}

func TestResolveChannelKeepsCallerOrder(t *testing.T) {
	p := domain.DefaultProtocol()
	p.Stages[2].Channels = []domain.Channel{domain.ChannelSMS, domain.ChannelWhatsApp}

	if got := ResolveChannel(domain.Stage3, p); got != domain.ChannelSMS {
		t.Errorf("expected first configured channel SMS, got %s", got)
	}
}

func TestClassifiersIdempotent(t *testing.T) {
	p := domain.DefaultProtocol()
	inv := invoiceDue(today.AddDays(-42), domain.InvoicePending)

	for i := 0; i < 3; i++ {
		if got := ClassifyEscalation(inv, p, today); got != domain.Stage4 {
			t.Fatalf("call %d: expected stage 4, got %d", i, got)
		}
		if got := ClassifyRisk(decimal.NewFromInt(30000), 42, p); got != domain.RiskMedium {
			t.Fatalf("call %d: expected medium, got %s", i, got)
		}
		if got := ResolveChannel(domain.Stage4, p); got != domain.ChannelCall {
			t.Fatalf("call %d: expected CALL, got %s", i, got)
		}
		if got := EffectiveStatus(inv, today); got != domain.EffectiveOverdue {
			t.Fatalf("call %d: expected OVERDUE, got %s", i, got)
		}
	}
}

func TestScenarioThirtyDaysOverdue(t *testing.T) {
	p := domain.DefaultProtocol()
	inv := invoiceDue(domain.MustParseDate("2025-10-15"), domain.InvoicePending)
	evalDay := domain.MustParseDate("2025-11-14")

	if got := DaysPastDue(inv, evalDay); got != 30 {
		t.Fatalf("expected diffDays 30, got %d", got)
	}
	stage := ClassifyEscalation(inv, p, evalDay)
	if stage != domain.Stage3 {
		t.Fatalf("expected stage 3, got %d", stage)
	}
	if ch := ResolveChannel(stage, p); ch != domain.ChannelWhatsApp {
		t.Errorf("expected WHATSAPP, got %s", ch)
	}
}

func TestScenarioSixtyOneDaysOverdue(t *testing.T) {
	p := domain.DefaultProtocol()
	inv := invoiceDue(domain.MustParseDate("2025-10-15"), domain.InvoicePending)
	evalDay := domain.MustParseDate("2025-12-15")

	if got := DaysPastDue(inv, evalDay); got != 61 {
		t.Fatalf("expected diffDays 61, got %d", got)
	}
	stage := ClassifyEscalation(inv, p, evalDay)
	if stage != domain.Stage5 {
		t.Fatalf("expected stage 5, got %d", stage)
	}
	if ch := ResolveChannel(stage, p); ch != domain.ChannelCall {
		t.Errorf("expected CALL, got %s", ch)
	}
}

func TestScenarioPartialBalanceRisk(t *testing.T) {
	p := domain.DefaultProtocol()
	inv := &domain.Invoice{
		Amount:  decimal.NewFromInt(125000),
		Balance: decimal.NewNullDecimal(decimal.NewFromInt(50000)),
		DueDate: today.AddDays(-10),
		Status:  domain.InvoicePending,
	}

	outstanding := inv.Outstanding()
	if !outstanding.Equal(decimal.NewFromInt(50000)) {
		t.Fatalf("expected outstanding 50000, got %s", outstanding)
	}
	if got := ClassifyRisk(outstanding, DaysOverdue(inv, today), p); got != domain.RiskMedium {
		t.Errorf("expected medium with 10 days overdue, got %s", got)
	}
	if got := ClassifyRisk(outstanding, 60, p); got != domain.RiskHigh {
		t.Errorf("expected high with 60 days overdue, got %s", got)
	}
}

func TestDaysOverdue(t *testing.T) {
	if got := DaysOverdue(invoiceDue(today.AddDays(5), domain.InvoicePending), today); got != 0 {
		t.Errorf("future invoice: expected 0, got %d", got)
	}
	if got := DaysOverdue(invoiceDue(today, domain.InvoicePending), today); got != 0 {
		t.Errorf("due today: expected 0, got %d", got)
	}
	if got := DaysOverdue(invoiceDue(today.AddDays(-12), domain.InvoicePending), today); got != 12 {
		t.Errorf("overdue: expected 12, got %d", got)
	}
	if got := DaysOverdue(invoiceDue(today.AddDays(-12), domain.InvoicePaid), today); got != 0 {
		t.Errorf("paid: expected 0, got %d", got)
	}
}
