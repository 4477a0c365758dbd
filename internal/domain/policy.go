package domain

import "time"

// PolicyAction is what a matching policy does to a reminder queue item.
type PolicyAction string

const (
	// ActionPause holds the reminder (e.g. customer promised payment).
	ActionPause PolicyAction = "PAUSE"

	// ActionLegal holds the reminder and flags the customer for legal review.
	ActionLegal PolicyAction = "LEGAL"

	// ActionPlan suggests offering a payment plan.
	ActionPlan PolicyAction = "PLAN"

	// ActionMessage suggests a custom message.
	ActionMessage PolicyAction = "MESSAGE"

	// ActionOverrideChannel replaces the resolved channel with Policy.Channel.
	ActionOverrideChannel PolicyAction = "OVERRIDE_CHANNEL"
)

// Valid reports whether a is a known action.
func (a PolicyAction) Valid() bool {
	switch a {
	case ActionPause, ActionLegal, ActionPlan, ActionMessage, ActionOverrideChannel:
		return true
	}
	return false
}

// Holds reports whether the action stops the reminder from being sent.
func (a PolicyAction) Holds() bool {
	return a == ActionPause || a == ActionLegal
}

// Policy is a tenant-authored collection rule evaluated against each
// reminder queue item.
type Policy struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenantId"`
	Name        string `json:"name"`
	Description string `json:"description"`

	// CEL expression; must evaluate to bool.
	Expression string `json:"expression"`

	Action PolicyAction `json:"action"`

	// Only used by ActionOverrideChannel.
	Channel Channel `json:"channel,omitempty"`

	// Higher priority policies are applied first.
	Priority int `json:"priority"`

	Enabled bool `json:"enabled"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// PolicyMatch is a policy whose expression evaluated to true.
type PolicyMatch struct {
	PolicyID string       `json:"policyId"`
	Name     string       `json:"name"`
	Action   PolicyAction `json:"action"`
	Channel  Channel      `json:"channel,omitempty"`
	Priority int          `json:"priority"`
}

// PolicyError is a policy that failed to evaluate for an item.
type PolicyError struct {
	PolicyID string `json:"policyId"`
	Reason   string `json:"reason"`
}
