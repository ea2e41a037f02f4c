package model

import "time"

// DiscountKind distinguishes percentage from fixed-amount codes.
type DiscountKind string

const (
	DiscountKindPercent DiscountKind = "PERCENT"
	DiscountKindFixed   DiscountKind = "FIXED"
)

// DiscountCode is a server-owned discount descriptor. The checkout never
// invents one locally; an applied discount always originates from a
// successful validation round-trip.
type DiscountCode struct {
	Code      string       `json:"code"`
	Kind      DiscountKind `json:"kind"`
	// Value is a percentage (0-100) for PERCENT codes, cents for FIXED codes.
	Value     int64      `json:"value"`
	Active    bool       `json:"active"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether the code is past its expiry at the given time.
func (d *DiscountCode) Expired(now time.Time) bool {
	return d.ExpiresAt != nil && d.ExpiresAt.Before(now)
}
