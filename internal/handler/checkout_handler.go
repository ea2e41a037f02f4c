package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/fieldday/fieldday-backend/internal/middleware"
	"github.com/fieldday/fieldday-backend/internal/model"
	"github.com/fieldday/fieldday-backend/internal/repository"
	"github.com/fieldday/fieldday-backend/internal/response"
	"github.com/fieldday/fieldday-backend/internal/service"
	"github.com/fieldday/fieldday-backend/internal/validator"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// CheckoutHandler exposes the checkout orchestrator over HTTP. Every action
// returns the full snapshot so the UI renders from one source of truth.
type CheckoutHandler struct {
	checkoutService *service.CheckoutService
}

// NewCheckoutHandler creates a new CheckoutHandler.
func NewCheckoutHandler(checkoutService *service.CheckoutService) *CheckoutHandler {
	return &CheckoutHandler{checkoutService: checkoutService}
}

// InitializeCheckout godoc
// POST /api/v1/parent/checkouts
// Starts a checkout for one offering.
func (h *CheckoutHandler) InitializeCheckout(c *gin.Context) {
	claims := middleware.GetClaims(c)

	var req model.InitializeCheckoutRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	snap, err := h.checkoutService.Initialize(c.Request.Context(), claims.UserID, req.OfferingID)
	if err != nil {
		failCheckout(c, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"checkout": snap})
}

// GetCheckout godoc
// GET /api/v1/parent/checkouts/:checkout_id
// Returns the current checkout snapshot.
func (h *CheckoutHandler) GetCheckout(c *gin.Context) {
	claims := middleware.GetClaims(c)

	checkoutID, ok := parseCheckoutID(c)
	if !ok {
		return
	}

	snap, err := h.checkoutService.Get(c.Request.Context(), claims.UserID, checkoutID)
	if err != nil {
		failCheckout(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"checkout": snap})
}

// ToggleChild godoc
// POST /api/v1/parent/checkouts/:checkout_id/children/:child_id/toggle
// Selects or deselects a child for enrollment.
func (h *CheckoutHandler) ToggleChild(c *gin.Context) {
	claims := middleware.GetClaims(c)

	checkoutID, ok := parseCheckoutID(c)
	if !ok {
		return
	}
	childID, err := strconv.Atoi(c.Param("child_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	snap, err := h.checkoutService.ToggleChild(c.Request.Context(), claims.UserID, checkoutID, childID)
	if err != nil {
		failCheckout(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"checkout": snap})
}

// SignWaivers godoc
// POST /api/v1/parent/checkouts/:checkout_id/waivers/sign
// Records a batch of waiver signatures for a blocked child.
func (h *CheckoutHandler) SignWaivers(c *gin.Context) {
	claims := middleware.GetClaims(c)

	checkoutID, ok := parseCheckoutID(c)
	if !ok {
		return
	}

	var req model.SignWaiversRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	snap, err := h.checkoutService.SignWaivers(c.Request.Context(), claims.UserID, checkoutID, &req)
	if err != nil {
		failCheckout(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"checkout": snap})
}

// SelectPaymentMethod godoc
// POST /api/v1/parent/checkouts/:checkout_id/payment-method
func (h *CheckoutHandler) SelectPaymentMethod(c *gin.Context) {
	claims := middleware.GetClaims(c)

	checkoutID, ok := parseCheckoutID(c)
	if !ok {
		return
	}

	var req model.SelectPaymentMethodRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	snap, err := h.checkoutService.SelectPaymentMethod(c.Request.Context(), claims.UserID, checkoutID, req.Method)
	if err != nil {
		failCheckout(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"checkout": snap})
}

// SelectInstallmentPlan godoc
// POST /api/v1/parent/checkouts/:checkout_id/installment-plan
func (h *CheckoutHandler) SelectInstallmentPlan(c *gin.Context) {
	claims := middleware.GetClaims(c)

	checkoutID, ok := parseCheckoutID(c)
	if !ok {
		return
	}

	var req model.SelectInstallmentPlanRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	snap, err := h.checkoutService.SelectInstallmentPlan(c.Request.Context(), claims.UserID, checkoutID, req.Count)
	if err != nil {
		failCheckout(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"checkout": snap})
}

// ToggleFee godoc
// POST /api/v1/parent/checkouts/:checkout_id/fees/toggle
// Toggles one optional fee for one selected child.
func (h *CheckoutHandler) ToggleFee(c *gin.Context) {
	claims := middleware.GetClaims(c)

	checkoutID, ok := parseCheckoutID(c)
	if !ok {
		return
	}

	var req model.ToggleFeeRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	snap, err := h.checkoutService.ToggleFee(c.Request.Context(), claims.UserID, checkoutID, req.ChildID, req.FeeID)
	if err != nil {
		failCheckout(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"checkout": snap})
}

// ApplyDiscount godoc
// POST /api/v1/parent/checkouts/:checkout_id/discount
// Validates and applies a discount code. Rejection leaves the checkout
// untouched, including any previously applied code.
func (h *CheckoutHandler) ApplyDiscount(c *gin.Context) {
	claims := middleware.GetClaims(c)

	checkoutID, ok := parseCheckoutID(c)
	if !ok {
		return
	}

	var req model.ApplyDiscountRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	snap, err := h.checkoutService.ApplyDiscount(c.Request.Context(), claims.UserID, checkoutID, req.Code)
	if err != nil {
		failCheckout(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"checkout": snap})
}

// RemoveDiscount godoc
// DELETE /api/v1/parent/checkouts/:checkout_id/discount
func (h *CheckoutHandler) RemoveDiscount(c *gin.Context) {
	claims := middleware.GetClaims(c)

	checkoutID, ok := parseCheckoutID(c)
	if !ok {
		return
	}

	snap, err := h.checkoutService.RemoveDiscount(c.Request.Context(), claims.UserID, checkoutID)
	if err != nil {
		failCheckout(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"checkout": snap})
}

// GetPreview godoc
// GET /api/v1/parent/checkouts/:checkout_id/preview
// Recomputes and returns the authoritative price preview.
func (h *CheckoutHandler) GetPreview(c *gin.Context) {
	claims := middleware.GetClaims(c)

	checkoutID, ok := parseCheckoutID(c)
	if !ok {
		return
	}

	snap, err := h.checkoutService.Preview(c.Request.Context(), claims.UserID, checkoutID)
	if err != nil {
		failCheckout(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"preview": snap.Preview,
		"phase":   snap.Phase,
	})
}

// CreateOrder godoc
// POST /api/v1/parent/checkouts/:checkout_id/order
// Converts the confirmed preview into an order. Idempotent: repeated calls
// for the same confirmed selection land on the same order.
func (h *CheckoutHandler) CreateOrder(c *gin.Context) {
	claims := middleware.GetClaims(c)

	checkoutID, ok := parseCheckoutID(c)
	if !ok {
		return
	}

	snap, err := h.checkoutService.CreateOrder(c.Request.Context(), claims.UserID, checkoutID)
	if err != nil {
		failCheckout(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"checkout": snap})
}

// PaymentReturn godoc
// GET /api/v1/parent/checkouts/:checkout_id/payment/return
// Browser return from the hosted payment page. The snapshot flips to
// PAYMENT_SUCCEEDED only once settlement confirmed the order.
func (h *CheckoutHandler) PaymentReturn(c *gin.Context) {
	claims := middleware.GetClaims(c)

	checkoutID, ok := parseCheckoutID(c)
	if !ok {
		return
	}

	snap, err := h.checkoutService.CompletePaymentReturn(c.Request.Context(), claims.UserID, checkoutID, c.Query("session_id"))
	if err != nil {
		failCheckout(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"checkout": snap})
}

// CancelPayment godoc
// POST /api/v1/parent/checkouts/:checkout_id/payment/cancel
// Voids the pending order and returns the checkout to the preview.
func (h *CheckoutHandler) CancelPayment(c *gin.Context) {
	claims := middleware.GetClaims(c)

	checkoutID, ok := parseCheckoutID(c)
	if !ok {
		return
	}

	snap, err := h.checkoutService.CancelPayment(c.Request.Context(), claims.UserID, checkoutID)
	if err != nil {
		failCheckout(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"checkout": snap})
}

// RetryCheckout godoc
// POST /api/v1/parent/checkouts/:checkout_id/retry
// Resumes a failed checkout at the step that failed.
func (h *CheckoutHandler) RetryCheckout(c *gin.Context) {
	claims := middleware.GetClaims(c)

	checkoutID, ok := parseCheckoutID(c)
	if !ok {
		return
	}

	snap, err := h.checkoutService.Retry(c.Request.Context(), claims.UserID, checkoutID)
	if err != nil {
		failCheckout(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"checkout": snap})
}

// JoinWaitlist godoc
// POST /api/v1/parent/checkouts/:checkout_id/waitlist
// Puts one child on the offering's waitlist after a capacity conflict.
func (h *CheckoutHandler) JoinWaitlist(c *gin.Context) {
	claims := middleware.GetClaims(c)

	checkoutID, ok := parseCheckoutID(c)
	if !ok {
		return
	}

	var req struct {
		ChildID int `json:"child_id" binding:"required"`
	}
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	entry, err := h.checkoutService.JoinWaitlist(c.Request.Context(), claims.UserID, checkoutID, req.ChildID)
	if err != nil {
		failCheckout(c, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"entry": entry})
}

// GetReceipt godoc
// GET /api/v1/parent/checkouts/:checkout_id/receipt
// Returns a plain-text receipt for a confirmed order.
func (h *CheckoutHandler) GetReceipt(c *gin.Context) {
	claims := middleware.GetClaims(c)

	checkoutID, ok := parseCheckoutID(c)
	if !ok {
		return
	}

	receipt, err := h.checkoutService.Receipt(c.Request.Context(), claims.UserID, checkoutID)
	if err != nil {
		failCheckout(c, err)
		return
	}

	c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(receipt))
}

func parseCheckoutID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("checkout_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return uuid.Nil, false
	}
	return id, true
}

// failCheckout maps orchestrator errors onto the response envelope.
func failCheckout(c *gin.Context, err error) {
	switch {
	case errors.Is(err, repository.ErrSnapshotNotFound):
		response.Fail(c, http.StatusGone, response.ErrCheckoutUnavailable)
	case errors.Is(err, service.ErrNotOwner):
		response.Fail(c, http.StatusForbidden, response.ErrParentAccessOnly)
	case errors.Is(err, service.ErrOfferingClosed):
		response.Fail(c, http.StatusNotFound, response.ErrOfferingNotFound)
	case errors.Is(err, service.ErrInvalidPhase):
		response.Fail(c, http.StatusConflict, response.ErrCheckoutPhase)
	case errors.Is(err, service.ErrChildNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrChildNotFound)
	case errors.Is(err, service.ErrChildAlreadyEnrolled):
		response.Fail(c, http.StatusConflict, response.ErrConflict)
	case errors.Is(err, service.ErrWaiverBlocked):
		response.Fail(c, http.StatusConflict, response.ErrWaiverBlocked)
	case errors.Is(err, service.ErrDiscountInvalid):
		response.Fail(c, http.StatusUnprocessableEntity, response.ErrDiscountInvalid)
	case errors.Is(err, service.ErrDiscountExpired):
		response.Fail(c, http.StatusUnprocessableEntity, response.ErrDiscountExpired)
	case errors.Is(err, service.ErrFeeNotOptional):
		response.Fail(c, http.StatusUnprocessableEntity, response.ErrValidation)
	case errors.Is(err, service.ErrPlanRequiresInstallments):
		response.Fail(c, http.StatusUnprocessableEntity, response.ErrValidation)
	case errors.Is(err, service.ErrPaymentMismatch):
		response.Fail(c, http.StatusConflict, response.ErrPaymentMismatch)
	case errors.Is(err, service.ErrNoPendingOrder):
		response.Fail(c, http.StatusConflict, response.ErrCheckoutPhase)
	case errors.Is(err, service.ErrReceiptUnavailable):
		response.Fail(c, http.StatusConflict, response.ErrReceiptUnavailable)
	case errors.Is(err, repository.ErrCapacityConflict):
		response.Fail(c, http.StatusConflict, response.ErrCapacityConflict)
	case errors.Is(err, repository.ErrAlreadyWaitlisted):
		response.Fail(c, http.StatusConflict, response.ErrWaitlistDuplicate)
	default:
		response.FailRetryable(c, http.StatusInternalServerError, response.ErrInternal)
	}
}
