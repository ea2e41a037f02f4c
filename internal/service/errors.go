package service

import "errors"

// Sentinel errors shared across checkout operations. Handlers translate these
// into response error codes.
var (
	// ErrInvalidPhase is returned when an operation is attempted in a phase
	// that does not permit it (e.g. toggling a child after an order exists).
	ErrInvalidPhase = errors.New("operation not allowed in current checkout phase")

	// ErrNotOwner is returned when a parent addresses a checkout that belongs
	// to a different account.
	ErrNotOwner = errors.New("checkout belongs to another parent")

	// ErrChildNotFound is returned when the child id is not among the
	// checkout's candidates.
	ErrChildNotFound = errors.New("child not found on this account")

	// ErrChildAlreadyEnrolled is returned when selecting a child that already
	// holds a confirmed enrollment in the target offering.
	ErrChildAlreadyEnrolled = errors.New("child already enrolled in this offering")

	// ErrWaiverBlocked is returned when payment or fee selection, or order
	// creation, is attempted while a selected child still has unsigned
	// required waivers.
	ErrWaiverBlocked = errors.New("selected child has unsigned required waivers")

	// ErrDiscountInvalid is returned for unknown or inactive discount codes.
	ErrDiscountInvalid = errors.New("discount code not valid")

	// ErrDiscountExpired is returned for codes past their expiry.
	ErrDiscountExpired = errors.New("discount code expired")

	// ErrFeeNotOptional is returned when toggling a required or unknown fee.
	ErrFeeNotOptional = errors.New("fee is not an optional fee of this offering")

	// ErrPlanRequiresInstallments is returned when a plan is chosen while the
	// payment method is not INSTALLMENTS.
	ErrPlanRequiresInstallments = errors.New("installment plan requires the INSTALLMENTS payment method")

	// ErrPaymentMismatch is returned when a payment return references a
	// session that does not belong to the checkout's order.
	ErrPaymentMismatch = errors.New("payment session does not match this checkout")

	// ErrNoPendingOrder is returned when a payment action needs a pending
	// order and none exists.
	ErrNoPendingOrder = errors.New("checkout has no pending order")

	// ErrReceiptUnavailable is returned when a receipt is requested before
	// the order is confirmed.
	ErrReceiptUnavailable = errors.New("receipt available only for confirmed orders")

	// ErrOfferingClosed is returned when initializing against an offering
	// that is not open for enrollment.
	ErrOfferingClosed = errors.New("offering is not open for enrollment")
)
