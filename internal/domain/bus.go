package domain

import (
	"context"
)

// EventBus defines the interface for event-driven communication.
// Supports Go channels (Community) or NATS (Pro).
// All methods require tenantID for strict multi-tenancy isolation.
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, tenantID string, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, tenantID string, topic string, handler MessageHandler) (Subscription, error)

	// Request sends a message and waits for a response (request-reply pattern).
	Request(ctx context.Context, tenantID string, topic string, payload []byte) ([]byte, error)

	// Reply answers a message received through Request. Messages without a
	// reply address are ignored.
	Reply(ctx context.Context, msg *Message, payload []byte) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
	TenantID  string            `json:"tenantId"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	ReplyTo   string            `json:"replyTo,omitempty"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string `mapstructure:"type"`

	// Channel settings (Community tier)
	ChannelBufferSize int `mapstructure:"channel_buffer_size"`

	// NATS settings (Pro tier)
	NATSUrl           string `mapstructure:"nats_url"`
	NATSToken         string `mapstructure:"nats_token"`
	NATSMaxReconnects int    `mapstructure:"nats_max_reconnects"`
	NATSReconnectWait int    `mapstructure:"nats_reconnect_wait"` // seconds
}

// Standard topic names for the collections pipeline.
const (
	TopicProtocolCommitted  = "vasool.protocol.committed"
	TopicSweepRequested     = "vasool.sweep.requested"
	TopicReminderDue        = "vasool.reminder.due"
	TopicReminderDispatched = "vasool.reminder.dispatched"
	TopicPaymentRecorded    = "vasool.payment.recorded"
)

// SweepRequest asks the worker to build the reminder queue for a tenant.
type SweepRequest struct {
	RequestID string `json:"requestId"`
	Today     Date   `json:"today"`
}

// ReminderDue is published for each queue item that should be contacted.
type ReminderDue struct {
	RequestID  string        `json:"requestId"`
	Customer   CustomerRef   `json:"customer"`
	Name       string        `json:"name"`
	Stage      Stage         `json:"stage"`
	Channel    Channel       `json:"channel"`
	Recipient  string        `json:"recipient,omitempty"`
	Risk       RiskLevel     `json:"risk"`
	Amount     string        `json:"outstanding"`
	Suggestion PolicyAction  `json:"suggestion,omitempty"`
	Matches    []PolicyMatch `json:"matches,omitempty"`
}

// SweepResult is the reply to a sweep request.
type SweepResult struct {
	RequestID string `json:"requestId"`
	Queued    int    `json:"queued"`
	Held      int    `json:"held"`
	Published int    `json:"published"`
	Skipped   int    `json:"skipped"`
}
