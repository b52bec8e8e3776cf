package domain

import (
	"context"
	"time"
)

// EventBus defines the interface for event-driven communication.
// Supports Go channels (Community) or NATS (Pro). The decision path
// publishes and moves on; subscribers own their errors.
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)

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
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata,omitempty"`
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
	Type string

	// Channel settings (Community tier)
	ChannelBufferSize int

	// NATS settings (Pro tier)
	NATSUrl           string
	NATSToken         string
	NATSMaxReconnects int
	NATSReconnectWait int // seconds
}

// Standard topic names for the fire-and-forget side-effect pipeline.
const (
	TopicActionRecorded     = "warden.action.recorded"
	TopicSuspiciousDetected = "warden.suspicious.detected"
	TopicUserBlocked        = "warden.user.blocked"
)

// ActionRecordedEvent is the bus payload for a recorded gameplay action.
type ActionRecordedEvent struct {
	Record *ActionRecord `json:"record"`
}

// SuspiciousDetectedEvent is the bus payload for a detector or auditor match.
type SuspiciousDetectedEvent struct {
	Activity *SuspiciousActivity `json:"activity"`
}

// UserBlockedEvent is published when an event pushes a user into the
// blocked state.
type UserBlockedEvent struct {
	UserID    string    `json:"userId"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}
