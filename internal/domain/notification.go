package domain

import "time"

// NotificationKind names what happened.
type NotificationKind string

const (
	NotifyTransition   NotificationKind = "payment.transition"
	NotifyDeadLettered NotificationKind = "event.dead_lettered"
)

// Notification is sent to collaborators after the pipeline changes something
// they may care about. Delivery is best effort.
type Notification struct {
	Kind       NotificationKind `json:"kind"`
	Reference  string           `json:"payment_reference"`
	Gateway    Gateway          `json:"gateway"`
	FromStatus PaymentStatus    `json:"from_status,omitempty"`
	ToStatus   PaymentStatus    `json:"to_status,omitempty"`
	EventKey   string           `json:"idempotency_key"`
	Source     EventSource      `json:"source,omitempty"`
	Reason     string           `json:"reason,omitempty"`
	At         time.Time        `json:"at"`
}
