package model

import (
	"time"

	"github.com/google/uuid"
)

// OfferingStatus enumerates the lifecycle states of a class offering.
type OfferingStatus string

const (
	OfferingStatusDraft    OfferingStatus = "DRAFT"
	OfferingStatusOpen     OfferingStatus = "OPEN"
	OfferingStatusClosed   OfferingStatus = "CLOSED"
	OfferingStatusArchived OfferingStatus = "ARCHIVED"
)

// Offering is a purchasable class instance with price, schedule and capacity.
// Within a checkout it is an immutable snapshot fetched once at initialization
// and re-fetched only on explicit retry.
type Offering struct {
	ID            uuid.UUID      `json:"id"`
	ProgramID     uuid.UUID      `json:"program_id"`
	Name          string         `json:"name"`
	Description   string         `json:"description,omitempty"`
	PriceCents    int64          `json:"price_cents"`
	Capacity      int            `json:"capacity"`
	EnrolledCount int            `json:"enrolled_count"`
	Schedule      string         `json:"schedule,omitempty"`
	Status        OfferingStatus `json:"status"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// OfferingFee is a custom fee attached to an offering. Required fees are
// implicitly charged for every selected child; optional fees are chosen
// per child during checkout.
type OfferingFee struct {
	ID          uuid.UUID `json:"id"`
	OfferingID  uuid.UUID `json:"offering_id"`
	Name        string    `json:"name"`
	AmountCents int64     `json:"amount_cents"`
	Required    bool      `json:"required"`
}

// Program is the scope identifier for an offering: waiver requirements and
// sibling discounts are configured at the program/school level.
type Program struct {
	ID                   uuid.UUID `json:"id"`
	SchoolID             uuid.UUID `json:"school_id"`
	Name                 string    `json:"name"`
	SiblingDiscountCents int64     `json:"sibling_discount_cents"`
}
