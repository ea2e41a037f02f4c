package service

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/fieldday/fieldday-backend/internal/model"
	midtrans "github.com/midtrans/midtrans-go"
	"github.com/midtrans/midtrans-go/snap"
	"github.com/rs/zerolog"
)

// snapAPI is the subset of the Midtrans Snap client used here; narrowed so
// tests can substitute a fake gateway.
type snapAPI interface {
	CreateTransaction(req *snap.Request) (*snap.Response, *midtrans.Error)
}

// PaymentService owns the hosted-payment handoff: it creates Snap sessions
// for paid orders and verifies gateway notification signatures. It never
// touches card data; the hosted page does.
type PaymentService struct {
	client    snapAPI
	serverKey string
	log       zerolog.Logger
}

// NewPaymentService creates a PaymentService backed by the Midtrans Snap API.
func NewPaymentService(serverKey string, production bool, log zerolog.Logger) *PaymentService {
	env := midtrans.Sandbox
	if production {
		env = midtrans.Production
	}

	client := &snap.Client{}
	client.New(serverKey, env)

	return &PaymentService{
		client:    client,
		serverKey: serverKey,
		log:       log.With().Str("component", "payment_service").Logger(),
	}
}

// CreateSession opens a hosted payment session for the order and returns the
// opaque session token plus the redirect URL for the browser handoff.
func (s *PaymentService) CreateSession(ctx context.Context, order *model.Order, parent *model.Parent) (sessionID, redirectURL string, err error) {
	if order.TotalCents <= 0 {
		return "", "", errors.New("payment session requires a non-zero total")
	}

	req := &snap.Request{
		TransactionDetails: midtrans.TransactionDetails{
			OrderID:  order.ID.String(),
			GrossAmt: order.TotalCents,
		},
		CustomerDetail: &midtrans.CustomerDetails{
			FName: parent.Name,
			Email: parent.Email,
		},
	}

	resp, mErr := s.client.CreateTransaction(req)
	if mErr != nil {
		return "", "", fmt.Errorf("create snap transaction: %w", mErr)
	}

	s.log.Info().
		Str("order_id", order.ID.String()).
		Int64("total_cents", order.TotalCents).
		Msg("Payment session created")

	return resp.Token, resp.RedirectURL, nil
}

// GatewayNotification is the webhook payload posted by the gateway when a
// transaction changes state.
type GatewayNotification struct {
	OrderID           string `json:"order_id"`
	StatusCode        string `json:"status_code"`
	GrossAmount       string `json:"gross_amount"`
	SignatureKey      string `json:"signature_key"`
	TransactionStatus string `json:"transaction_status"`
	TransactionID     string `json:"transaction_id"`
}

// Settled reports whether the notification represents a completed payment.
func (n *GatewayNotification) Settled() bool {
	return n.TransactionStatus == "settlement" || n.TransactionStatus == "capture"
}

// VerifySignature checks the webhook's sha512 signature
// (order_id + status_code + gross_amount + server key).
func (s *PaymentService) VerifySignature(n *GatewayNotification) bool {
	payload := n.OrderID + n.StatusCode + n.GrossAmount + s.serverKey
	sum := sha512.Sum512([]byte(payload))
	return hex.EncodeToString(sum[:]) == n.SignatureKey
}
