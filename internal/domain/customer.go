package domain

import (
	"strings"
	"time"
)

// VirtualIDPrefix prefixes ids of customers synthesized from invoice names.
const VirtualIDPrefix = "virtual-"

// NameKey normalizes a customer name for matching: trimmed and lower-cased.
func NameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// CustomerKind distinguishes stored customers from ones inferred from invoices.
type CustomerKind string

const (
	CustomerReal    CustomerKind = "real"
	CustomerVirtual CustomerKind = "virtual"
)

// CustomerRef identifies a customer either by record id or by normalized name.
type CustomerRef struct {
	Kind    CustomerKind `json:"kind"`
	ID      string       `json:"id,omitempty"`
	NameKey string       `json:"nameKey"`
}

// RealRef refers to a stored customer record.
func RealRef(id, name string) CustomerRef {
	return CustomerRef{Kind: CustomerReal, ID: id, NameKey: NameKey(name)}
}

// VirtualRef refers to a customer known only through invoice names.
func VirtualRef(name string) CustomerRef {
	return CustomerRef{Kind: CustomerVirtual, NameKey: NameKey(name)}
}

// IsVirtual reports whether the reference has no backing record.
func (r CustomerRef) IsVirtual() bool { return r.Kind == CustomerVirtual }

// String renders the id used in APIs: the record id, or "virtual-<key>".
func (r CustomerRef) String() string {
	if r.Kind == CustomerReal {
		return r.ID
	}
	return VirtualIDPrefix + r.NameKey
}

// ParseCustomerRef parses the output of CustomerRef.String.
func ParseCustomerRef(s string) CustomerRef {
	if key, ok := strings.CutPrefix(s, VirtualIDPrefix); ok {
		return VirtualRef(key)
	}
	return CustomerRef{Kind: CustomerReal, ID: s}
}

// StageContact is who to reach at a given escalation stage.
type StageContact struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// Customer is a stored customer record. Outstanding totals, stage and risk
// are derived from invoices on every read and are not part of the record.
type Customer struct {
	ID            string                 `json:"id"`
	TenantID      string                 `json:"tenantId"`
	Name          string                 `json:"name"`
	ContactPerson string                 `json:"contactPerson"`
	Email         string                 `json:"email"`
	Phone         string                 `json:"phone"`
	AIEnabled     bool                   `json:"aiEnabled"`
	StageContacts map[Stage]StageContact `json:"stageContacts"`
	CreatedAt     time.Time              `json:"createdAt"`
	UpdatedAt     time.Time              `json:"updatedAt"`
}

// Ref returns the customer's reference.
func (c *Customer) Ref() CustomerRef {
	return RealRef(c.ID, c.Name)
}

// NameKey is the normalized customer name.
func (c *Customer) NameKey() string {
	return NameKey(c.Name)
}
