package model

import (
	"time"

	"github.com/google/uuid"
)

// CheckoutPhase names the states of the checkout state machine.
type CheckoutPhase string

const (
	PhaseIdle                   CheckoutPhase = "IDLE"
	PhaseInitializing           CheckoutPhase = "INITIALIZING"
	PhaseReady                  CheckoutPhase = "READY"
	PhaseWaiverChecking         CheckoutPhase = "WAIVER_CHECKING"
	PhaseWaiverBlocked          CheckoutPhase = "WAIVER_BLOCKED"
	PhaseFeeAndPaymentSelection CheckoutPhase = "FEE_AND_PAYMENT_SELECTION"
	PhaseOrderPreview           CheckoutPhase = "ORDER_PREVIEW"
	PhaseOrderCreating          CheckoutPhase = "ORDER_CREATING"
	PhaseAwaitingPayment        CheckoutPhase = "AWAITING_PAYMENT"
	PhasePaymentSucceeded       CheckoutPhase = "PAYMENT_SUCCEEDED"
	PhaseWaitlisted             CheckoutPhase = "WAITLISTED"
	PhaseFatal                  CheckoutPhase = "FATAL"
)

// IsTerminal reports whether the checkout flow has ended.
func (p CheckoutPhase) IsTerminal() bool {
	return p == PhasePaymentSucceeded || p == PhaseWaitlisted || p == PhaseFatal
}

// WaiverCheckState tracks the per-child waiver requirement lifecycle.
type WaiverCheckState string

const (
	WaiverUnchecked WaiverCheckState = "UNCHECKED"
	WaiverChecking  WaiverCheckState = "CHECKING"
	WaiverCleared   WaiverCheckState = "CLEARED"
	WaiverBlocked   WaiverCheckState = "BLOCKED"
)

// ChildWaiverState is the snapshot entry for one child's waiver requirement.
type ChildWaiverState struct {
	State   WaiverCheckState `json:"state"`
	Pending []WaiverTemplate `json:"pending,omitempty"`
}

// PaymentMethod enumerates how a paid order will be settled.
type PaymentMethod string

const (
	PaymentMethodCard         PaymentMethod = "CARD"
	PaymentMethodInstallments PaymentMethod = "INSTALLMENTS"
)

// InstallmentPlan describes a selected installment schedule. It is only
// meaningful when the payment method is INSTALLMENTS.
type InstallmentPlan struct {
	Count               int   `json:"count"`
	PerInstallmentCents int64 `json:"per_installment_cents,omitempty"`
	// FirstInstallmentCents absorbs any cent remainder of an uneven split.
	FirstInstallmentCents int64 `json:"first_installment_cents,omitempty"`
}

// PriceLineKind labels a preview line item.
type PriceLineKind string

const (
	LineBasePrice       PriceLineKind = "BASE_PRICE"
	LineRequiredFee     PriceLineKind = "REQUIRED_FEE"
	LineOptionalFee     PriceLineKind = "OPTIONAL_FEE"
	LineSiblingDiscount PriceLineKind = "SIBLING_DISCOUNT"
	LineDiscountCode    PriceLineKind = "DISCOUNT_CODE"
	LineProcessingFee   PriceLineKind = "PROCESSING_FEE"
)

// PriceLine is one server-computed line item in a price preview.
type PriceLine struct {
	Kind        PriceLineKind `json:"kind"`
	Label       string        `json:"label"`
	ChildID     *int          `json:"child_id,omitempty"`
	AmountCents int64         `json:"amount_cents"`
}

// PricePreview is the authoritative server-computed breakdown for the current
// selection. Display totals always come from here, never from client math.
type PricePreview struct {
	Lines       []PriceLine      `json:"lines"`
	TotalCents  int64            `json:"total_cents"`
	Installment *InstallmentPlan `json:"installment,omitempty"`
	ComputedAt  time.Time        `json:"computed_at"`
}

// CheckoutError is the last failure recorded on a snapshot, scoped to the
// step that produced it so a retry can resume rather than restart.
type CheckoutError struct {
	Code      string `json:"code"`
	Step      string `json:"step"`
	Retryable bool   `json:"retryable"`
}

// OrderRef is the snapshot's view of its created order.
type OrderRef struct {
	ID               uuid.UUID   `json:"id"`
	TotalCents       int64       `json:"total_cents"`
	Status           OrderStatus `json:"status"`
	PaymentSessionID string      `json:"payment_session_id,omitempty"`
	RedirectURL      string      `json:"redirect_url,omitempty"`
}

// CheckoutSnapshot is the complete state bag one checkout exposes to the UI.
// Exactly one of {no order yet, order pending payment, payment succeeded,
// waitlisted, fatal} holds at any time; Phase encodes which.
type CheckoutSnapshot struct {
	ID       uuid.UUID `json:"id"`
	ParentID int       `json:"parent_id"`

	OfferingID uuid.UUID        `json:"offering_id"`
	Offering   *Offering        `json:"offering,omitempty"`
	Fees       []OfferingFee    `json:"fees,omitempty"`
	Program    *Program         `json:"program,omitempty"`
	Children   []ChildCandidate `json:"children,omitempty"`

	// Selected is the set of chosen child ids, insertion-ordered.
	Selected []int `json:"selected"`
	// WaiverStates maps child id → waiver requirement state. An entry is
	// created the first time a child is selected and is never redundantly
	// re-fetched within the session.
	WaiverStates map[int]*ChildWaiverState `json:"waiver_states"`
	// FeeSelection maps child id → chosen optional fee ids. Required fees
	// are implicit for every selected child.
	FeeSelection map[int][]uuid.UUID `json:"fee_selection"`

	Discount      *DiscountCode    `json:"discount,omitempty"`
	PaymentMethod PaymentMethod    `json:"payment_method,omitempty"`
	Plan          *InstallmentPlan `json:"plan,omitempty"`
	Preview       *PricePreview    `json:"preview,omitempty"`

	Fingerprint string         `json:"fingerprint,omitempty"`
	Order       *OrderRef      `json:"order,omitempty"`
	Phase       CheckoutPhase  `json:"phase"`
	LastError   *CheckoutError `json:"last_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsSelected reports whether the given child is in the selection set.
func (s *CheckoutSnapshot) IsSelected(childID int) bool {
	for _, id := range s.Selected {
		if id == childID {
			return true
		}
	}
	return false
}

// ChildByID returns the candidate record for a child, or nil.
func (s *CheckoutSnapshot) ChildByID(childID int) *ChildCandidate {
	for i := range s.Children {
		if s.Children[i].ID == childID {
			return &s.Children[i]
		}
	}
	return nil
}

// InitializeCheckoutRequest is the payload for starting a checkout.
type InitializeCheckoutRequest struct {
	OfferingID uuid.UUID `json:"offering_id" binding:"required"`
}

// SelectPaymentMethodRequest is the payload for choosing a payment method.
type SelectPaymentMethodRequest struct {
	Method PaymentMethod `json:"method" binding:"required,oneof=CARD INSTALLMENTS"`
}

// SelectInstallmentPlanRequest is the payload for choosing a plan.
type SelectInstallmentPlanRequest struct {
	Count int `json:"count" binding:"required,min=2,max=12"`
}

// ToggleFeeRequest is the payload for toggling one optional fee for a child.
type ToggleFeeRequest struct {
	ChildID int       `json:"child_id" binding:"required"`
	FeeID   uuid.UUID `json:"fee_id" binding:"required"`
}

// ApplyDiscountRequest is the payload for applying a discount code.
type ApplyDiscountRequest struct {
	Code string `json:"code" binding:"required,min=1,max=40"`
}
