package model

// CheckoutEventType labels a push event on a checkout's event channel.
type CheckoutEventType string

const (
	// EventSnapshot carries the full snapshot after any state change.
	EventSnapshot CheckoutEventType = "snapshot"
	// EventPaid signals that settlement confirmed the checkout's order.
	EventPaid CheckoutEventType = "paid"
)

// CheckoutEvent is the message published to a checkout's Redis channel and
// forwarded to WebSocket subscribers.
type CheckoutEvent struct {
	Type     CheckoutEventType `json:"type"`
	Phase    CheckoutPhase     `json:"phase"`
	Snapshot *CheckoutSnapshot `json:"snapshot,omitempty"`
}
