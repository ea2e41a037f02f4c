package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// OrderStatus enumerates order lifecycle states.
type OrderStatus string

const (
	OrderStatusPending       OrderStatus = "PENDING"
	OrderStatusPaid          OrderStatus = "PAID"
	OrderStatusFreeConfirmed OrderStatus = "FREE_CONFIRMED"
	OrderStatusCanceled      OrderStatus = "CANCELED"
	OrderStatusExpired       OrderStatus = "EXPIRED"
)

// IsTerminal reports whether the order can no longer change state.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusPaid || s == OrderStatusFreeConfirmed ||
		s == OrderStatusCanceled || s == OrderStatusExpired
}

// IsConfirmed reports whether the order represents a completed enrollment.
func (s OrderStatus) IsConfirmed() bool {
	return s == OrderStatusPaid || s == OrderStatusFreeConfirmed
}

// Order is a server-issued enrollment order. From the checkout's perspective
// an order is append-only: it is never recreated for the same confirmed
// selection, only reused or explicitly voided before a retry.
type Order struct {
	ID                 uuid.UUID       `json:"id"`
	CheckoutID         uuid.UUID       `json:"checkout_id"`
	ParentID           int             `json:"parent_id"`
	OfferingID         uuid.UUID       `json:"offering_id"`
	Fingerprint        string          `json:"fingerprint"`
	ChildIDs           []int           `json:"child_ids"`
	TotalCents         int64           `json:"total_cents"`
	Status             OrderStatus     `json:"status"`
	PaymentSessionID   *string         `json:"payment_session_id,omitempty"`
	PaymentRedirectURL *string         `json:"payment_redirect_url,omitempty"`
	LineItems          json.RawMessage `json:"line_items,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	SettledAt          *time.Time      `json:"settled_at,omitempty"`
}

// WaitlistEntry records a child waiting for a slot in a full offering.
type WaitlistEntry struct {
	ID         uuid.UUID `json:"id"`
	OfferingID uuid.UUID `json:"offering_id"`
	ChildID    int       `json:"child_id"`
	ParentID   int       `json:"parent_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// JoinWaitlistRequest is the payload for joining a waitlist.
type JoinWaitlistRequest struct {
	OfferingID uuid.UUID `json:"offering_id" binding:"required"`
	ChildID    int       `json:"child_id" binding:"required"`
}
