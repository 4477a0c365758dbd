package aggregate

import (
	"fmt"
	"strings"

	"github.com/opensource-finance/vasool/internal/domain"
)

// Tone is the register of a reminder draft.
type Tone string

const (
	ToneFriendly     Tone = "Friendly"
	ToneProfessional Tone = "Professional"
	ToneFirm         Tone = "Firm & Urgent"
)

// ToneFor maps a stage to the draft tone.
func ToneFor(stage domain.Stage) Tone {
	switch {
	case stage >= domain.Stage4:
		return ToneFirm
	case stage >= domain.Stage3:
		return ToneProfessional
	default:
		return ToneFriendly
	}
}

// PaymentLinkPlaceholder is replaced with the customer's payment link.
const PaymentLinkPlaceholder = "[PAYMENT_LINK]"

// Draft is a reminder message ready for review before dispatch.
type Draft struct {
	Channel   domain.Channel `json:"channel"`
	Tone      Tone           `json:"tone"`
	Recipient Contact        `json:"recipient"`
	Subject   string         `json:"subject,omitempty"`
	Body      string         `json:"body"`
}

// DraftMessage composes a reminder for a queue item. Short channels get a
// single paragraph; email gets a greeting and sign-off. payLink replaces
// the payment link placeholder when set.
func DraftMessage(item *QueueItem, payLink string) *Draft {
	tone := ToneFor(item.Stage)
	name := item.Contact.Name
	if name == "" {
		name = item.Summary.Name
	}
	amount := item.Summary.TotalOutstanding.StringFixed(2)
	cur := item.Summary.Currency
	if cur == "" {
		cur = domain.DefaultCurrency
	}

	var line string
	switch tone {
	case ToneFirm:
		line = fmt.Sprintf("Your account shows %s %s overdue by %d days. Please settle immediately to avoid further action.", cur, amount, item.Summary.MaxOverdueDays)
	case ToneProfessional:
		line = fmt.Sprintf("Our records show %s %s outstanding on your account. Kindly arrange payment at the earliest.", cur, amount)
	default:
		line = fmt.Sprintf("This is a friendly reminder that %s %s is due on your account.", cur, amount)
	}
	line += " Pay here: " + PaymentLinkPlaceholder

	d := &Draft{
		Channel:   item.Channel,
		Tone:      tone,
		Recipient: item.Contact,
	}

	switch item.Channel {
	case domain.ChannelEmail:
		d.Subject = "Payment Reminder: " + item.Summary.Name
		d.Body = fmt.Sprintf("Dear %s,\n\n%s\n\nRegards,\nAccounts Receivable", name, line)
	case domain.ChannelCall:
		d.Body = fmt.Sprintf("Call %s regarding %s %s outstanding (%s).", name, cur, amount, tone)
	default:
		d.Body = fmt.Sprintf("Hi %s, %s", name, line)
	}

	if payLink != "" {
		d.Body = strings.ReplaceAll(d.Body, PaymentLinkPlaceholder, payLink)
	}
	return d
}
