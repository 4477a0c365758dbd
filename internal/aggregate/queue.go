package aggregate

import (
	"cmp"
	"slices"
	"strings"

	"github.com/opensource-finance/vasool/internal/domain"
	"github.com/opensource-finance/vasool/internal/rules"
)

// QueueItem is one customer in the follow-up queue.
type QueueItem struct {
	Summary *CustomerSummary `json:"customer"`

	Stage   domain.Stage   `json:"stage"`
	Channel domain.Channel `json:"channel"`
	Contact Contact        `json:"contact"`

	Held        bool                 `json:"held"`
	HoldReason  string               `json:"holdReason,omitempty"`
	Suggestions []domain.PolicyMatch `json:"suggestions,omitempty"`
	Matches     []domain.PolicyMatch `json:"matches,omitempty"`
}

// Actionable reports whether a reminder should go out for this item.
func (q *QueueItem) Actionable() bool {
	return q.Stage > domain.StageNone && !q.Held
}

// BuildQueue lists every customer with an outstanding balance, with the
// channel resolved for their current stage. Ordered by stage (highest first),
// then outstanding (largest first), then name.
func BuildQueue(summaries []*CustomerSummary, p *domain.Protocol) []*QueueItem {
	var queue []*QueueItem
	for _, s := range summaries {
		if !s.TotalOutstanding.IsPositive() {
			continue
		}
		channel := rules.ResolveChannel(s.CurrentEscalation, p)
		queue = append(queue, &QueueItem{
			Summary: s,
			Stage:   s.CurrentEscalation,
			Channel: channel,
			Contact: ResolveContact(s.Record, s.CurrentEscalation, channel),
		})
	}

	slices.SortStableFunc(queue, func(a, b *QueueItem) int {
		if c := cmp.Compare(b.Stage, a.Stage); c != 0 {
			return c
		}
		if c := b.Summary.TotalOutstanding.Cmp(a.Summary.TotalOutstanding); c != 0 {
			return c
		}
		return cmp.Compare(a.Summary.Key(), b.Summary.Key())
	})
	return queue
}

// PolicyInput builds the policy engine input for this item.
func (q *QueueItem) PolicyInput(tenantID string) *rules.PolicyInput {
	return &rules.PolicyInput{
		TenantID:       tenantID,
		Customer:       q.Summary.Ref,
		CustomerName:   q.Summary.Name,
		Stage:          q.Stage,
		Risk:           q.Summary.RiskLevel,
		Outstanding:    q.Summary.TotalOutstanding.InexactFloat64(),
		MaxOverdueDays: q.Summary.MaxOverdueDays,
		InvoiceCount:   q.Summary.UnpaidCount,
		Channel:        q.Channel,
	}
}

// ApplyPolicies folds policy matches into the item. Matches must be in
// priority order. The first holding match holds the item, the first channel
// override replaces the channel and the rest become suggestions.
func (q *QueueItem) ApplyPolicies(matches []domain.PolicyMatch) {
	q.Matches = matches
	overridden := false

	for _, m := range matches {
		switch {
		case m.Action.Holds():
			if !q.Held {
				q.Held = true
				q.HoldReason = string(m.Action) + ": " + m.Name
			}
		case m.Action == domain.ActionOverrideChannel:
			if !overridden && m.Channel.Valid() {
				overridden = true
				q.Channel = m.Channel
				q.Contact = ResolveContact(q.Summary.Record, q.Stage, q.Channel)
			}
		default:
			q.Suggestions = append(q.Suggestions, m)
		}
	}
}

// Contact is who a reminder goes to and at which address.
type Contact struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

// ResolveContact picks the recipient for a stage and channel. A stage
// contact wins over the customer's defaults. EMAIL uses an email address,
// every other channel uses a phone number. Virtual customers have no contact.
func ResolveContact(c *domain.Customer, stage domain.Stage, ch domain.Channel) Contact {
	if c == nil {
		return Contact{}
	}

	sc := c.StageContacts[stage]
	contact := Contact{Name: firstPresent(sc.Name, c.ContactPerson, c.Name)}

	if ch == domain.ChannelEmail {
		contact.Address = firstPresent(sc.Email, c.Email)
	} else {
		contact.Address = firstPresent(sc.Phone, c.Phone)
	}
	return contact
}

func firstPresent(values ...string) string {
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v != "" && !strings.EqualFold(v, "N/A") {
			return v
		}
	}
	return ""
}
