package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrInvalidCredentials ErrCode = "INVALID_CREDENTIALS"
	ErrSessionInvalidated ErrCode = "SESSION_INVALIDATED"
	ErrTokenRequired      ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid       ErrCode = "TOKEN_INVALID"
	ErrTokenExpired       ErrCode = "TOKEN_EXPIRED"
	ErrParentAccessOnly   ErrCode = "PARENT_ACCESS_ONLY"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound ErrCode = "NOT_FOUND"
	ErrConflict ErrCode = "CONFLICT"

	// ─── Checkout-specific ─────────────────────────────────────────────
	ErrOfferingNotFound    ErrCode = "OFFERING_NOT_FOUND"
	ErrCheckoutPhase       ErrCode = "CHECKOUT_PHASE_INVALID"
	ErrChildNotFound       ErrCode = "CHILD_NOT_FOUND"
	ErrWaiverBlocked       ErrCode = "WAIVER_BLOCKED"
	ErrDiscountInvalid     ErrCode = "DISCOUNT_INVALID"
	ErrDiscountExpired     ErrCode = "DISCOUNT_EXPIRED"
	ErrCapacityConflict    ErrCode = "CAPACITY_CONFLICT"
	ErrPaymentSession      ErrCode = "PAYMENT_SESSION_FAILED"
	ErrPaymentMismatch     ErrCode = "PAYMENT_SESSION_MISMATCH"
	ErrReceiptUnavailable  ErrCode = "RECEIPT_UNAVAILABLE"
	ErrWaitlistDuplicate   ErrCode = "WAITLIST_DUPLICATE"
	ErrCheckoutUnavailable ErrCode = "CHECKOUT_UNAVAILABLE"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrInvalidCredentials:
		return "Email or password is incorrect."
	case ErrSessionInvalidated:
		return "Your session has ended. Please sign in again."
	case ErrTokenRequired:
		return "An authentication token is required."
	case ErrTokenInvalid:
		return "The authentication token is not valid."
	case ErrTokenExpired:
		return "The authentication token has expired."
	case ErrParentAccessOnly:
		return "This resource is restricted to parent accounts."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validation failed. Please check your input."
	case ErrInvalidID:
		return "The ID format is not valid."
	case ErrInvalidPayload:
		return "The request payload is not valid."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "The resource was not found."
	case ErrConflict:
		return "The resource already exists."

	// ─── Checkout-specific ─────────────────────────────────────────────
	case ErrOfferingNotFound:
		return "This class could not be found. It may have been removed."
	case ErrCheckoutPhase:
		return "This action is not available at the current checkout step."
	case ErrChildNotFound:
		return "The selected child was not found on your account."
	case ErrWaiverBlocked:
		return "Required waivers must be signed before payment."
	case ErrDiscountInvalid:
		return "That discount code is not valid."
	case ErrDiscountExpired:
		return "That discount code has expired."
	case ErrCapacityConflict:
		return "This class filled up before your order completed. You can join the waitlist."
	case ErrPaymentSession:
		return "We could not start the payment session. Please try again."
	case ErrPaymentMismatch:
		return "The payment session does not match this order."
	case ErrReceiptUnavailable:
		return "A receipt is only available after payment is complete."
	case ErrWaitlistDuplicate:
		return "This child is already on the waitlist for this class."
	case ErrCheckoutUnavailable:
		return "This checkout has expired. Please start again."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Too many requests. Please try again later."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "An internal server error occurred."
	default:
		return "An unexpected error occurred."
	}
}
