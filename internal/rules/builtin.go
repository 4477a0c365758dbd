package rules

import "github.com/opensource-finance/vasool/internal/domain"

// BuiltinPolicies returns the starter policies offered to new tenants.
// They are installed disabled; tenants enable what fits their book.
func BuiltinPolicies(tenantID string) []*domain.Policy {
	return []*domain.Policy{
		{
			ID:          "builtin-legal-review",
			TenantID:    tenantID,
			Name:        "Legal review for long-overdue high risk",
			Description: "Hold reminders and flag for legal once a high-risk customer is four months late.",
			Expression:  `stage == 5 && risk == "high" && max_overdue_days >= 120`,
			Action:      domain.ActionLegal,
			Priority:    100,
		},
		{
			ID:          "builtin-contact-fatigue",
			TenantID:    tenantID,
			Name:        "Pause after repeated contact",
			Description: "Hold reminders when a customer was contacted three or more times in the cadence window.",
			Expression:  `recent_contacts >= 3`,
			Action:      domain.ActionPause,
			Priority:    90,
		},
		{
			ID:          "builtin-plan-offer",
			TenantID:    tenantID,
			Name:        "Offer a payment plan",
			Description: "Suggest an instalment plan for large balances at stage 3 or later.",
			Expression:  `stage >= 3 && outstanding >= 50000.0`,
			Action:      domain.ActionPlan,
			Priority:    50,
		},
		{
			ID:          "builtin-sms-unregistered",
			TenantID:    tenantID,
			Name:        "SMS for customers without a record",
			Description: "Customers known only from invoice names rarely have WhatsApp opt-in; use SMS.",
			Expression:  `virtual && channel == "WHATSAPP"`,
			Action:      domain.ActionOverrideChannel,
			Channel:     domain.ChannelSMS,
			Priority:    10,
		},
	}
}
