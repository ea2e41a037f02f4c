package handler

import (
	"encoding/json"
	"net/http"

	"github.com/fieldday/fieldday-backend/internal/config"
	"github.com/fieldday/fieldday-backend/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// PaymentWebhookHandler receives settlement notifications from the payment
// gateway. It only verifies and enqueues; the settlement worker applies the
// state change, so a webhook burst cannot stall the gateway's retries.
type PaymentWebhookHandler struct {
	rdb            *redis.Client
	paymentService *service.PaymentService
	log            zerolog.Logger
}

// NewPaymentWebhookHandler creates a new PaymentWebhookHandler.
func NewPaymentWebhookHandler(rdb *redis.Client, paymentService *service.PaymentService, log zerolog.Logger) *PaymentWebhookHandler {
	return &PaymentWebhookHandler{
		rdb:            rdb,
		paymentService: paymentService,
		log:            log.With().Str("component", "payment_webhook").Logger(),
	}
}

// Notify godoc
// POST /api/v1/payments/notify
// Gateway settlement webhook. Signature-verified, then queued for the
// settlement worker. Responds 200 on accepted notifications so the gateway
// stops retrying.
func (h *PaymentWebhookHandler) Notify(c *gin.Context) {
	var n service.GatewayNotification
	if err := c.ShouldBindJSON(&n); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "invalid payload"})
		return
	}

	if !h.paymentService.VerifySignature(&n) {
		h.log.Warn().
			Str("order_id", n.OrderID).
			Str("transaction_id", n.TransactionID).
			Msg("Webhook signature mismatch")
		c.JSON(http.StatusForbidden, gin.H{"status": "invalid signature"})
		return
	}

	payload, err := json.Marshal(n)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error"})
		return
	}

	if err := h.rdb.RPush(c.Request.Context(), config.WorkerKey.SettlePaymentsQueue, payload).Err(); err != nil {
		h.log.Error().Err(err).Str("order_id", n.OrderID).Msg("Failed to enqueue settlement")
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error"})
		return
	}

	h.log.Info().
		Str("order_id", n.OrderID).
		Str("transaction_status", n.TransactionStatus).
		Msg("Settlement notification queued")

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
