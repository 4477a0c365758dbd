package domain

import (
	"errors"
	"time"
)

// ErrOutcomeRecorded is returned when a follow-up already has an outcome.
var ErrOutcomeRecorded = errors.New("follow-up outcome already recorded")

// FollowUpStatus is the delivery state of a dispatched reminder.
type FollowUpStatus string

const (
	FollowUpSent       FollowUpStatus = "SENT"
	FollowUpDelivered  FollowUpStatus = "DELIVERED"
	FollowUpRead       FollowUpStatus = "READ"
	FollowUpReplied    FollowUpStatus = "REPLIED"
	FollowUpFailed     FollowUpStatus = "FAILED"
	FollowUpInProgress FollowUpStatus = "IN_PROGRESS"
	FollowUpLogged     FollowUpStatus = "LOGGED"
)

// SuggestionType classifies a suggested next step.
type SuggestionType string

const (
	SuggestPlan    SuggestionType = "PLAN"
	SuggestMessage SuggestionType = "MESSAGE"
	SuggestPause   SuggestionType = "PAUSE"
	SuggestLegal   SuggestionType = "LEGAL"
)

// Suggestion is a recommended next action after a customer reply.
type Suggestion struct {
	Action      string         `json:"action"`
	Description string         `json:"description"`
	Type        SuggestionType `json:"type"`
}

// Outcome is the customer's reply to a follow-up.
type Outcome struct {
	Response   string      `json:"customerResponse"`
	Suggestion *Suggestion `json:"suggestedNextStep,omitempty"`
	RecordedAt time.Time   `json:"recordedAt"`
}

// FollowUp records a dispatched reminder. The stage and channel are captured
// at send time.
type FollowUp struct {
	ID           string         `json:"id"`
	TenantID     string         `json:"tenantId"`
	Customer     CustomerRef    `json:"customer"`
	CustomerName string         `json:"customerName"`
	Channel      Channel        `json:"type"`
	Stage        Stage          `json:"escalationLevel"`
	Status       FollowUpStatus `json:"status"`
	Message      string         `json:"message"`
	Recipient    string         `json:"recipient,omitempty"`
	SentAt       time.Time      `json:"timestamp"`
	Outcome      *Outcome       `json:"outcome,omitempty"`
}

// AttachOutcome records the customer's reply. It succeeds only once.
func (f *FollowUp) AttachOutcome(o Outcome) error {
	if f.Outcome != nil {
		return ErrOutcomeRecorded
	}
	if o.RecordedAt.IsZero() {
		o.RecordedAt = time.Now().UTC()
	}
	f.Outcome = &o
	f.Status = FollowUpReplied
	return nil
}
