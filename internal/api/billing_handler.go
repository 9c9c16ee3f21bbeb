package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"linkrole-backend-go/internal/core"
)

// Webhook bodies are small JSON envelopes; anything bigger is not a
// legitimate provider event.
const webhookBodyLimit = 1 << 20 // 1 MiB

// BillingHandler handles the payment-provider webhook endpoints. These
// routes are public: providers authenticate with a signature over the raw
// request body, so no body-parsing middleware may run before the service
// verifies it.
type BillingHandler struct {
	billingService core.BillingService
	logger         *zap.Logger
}

// NewBillingHandler creates a new BillingHandler.
func NewBillingHandler(bs core.BillingService, logger *zap.Logger) *BillingHandler {
	return &BillingHandler{billingService: bs, logger: logger}
}

// HandleStripeWebhook handles POST /api/v1/billing/webhooks/stripe.
//
// Response contract:
//   - 200 {"received": true} — event accepted, intentionally ignored, or
//     routed to the pending-payments fallback
//   - 400 — missing/malformed signature header or signature mismatch;
//     redelivery will not help, the caller should fix the secret
//   - 500 — processing/store failure; the provider should redeliver
func (h *BillingHandler) HandleStripeWebhook(c *gin.Context) {
	signature := c.GetHeader("Stripe-Signature")
	if signature == "" {
		h.logger.Warn("Stripe webhook without Stripe-Signature header")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Missing Stripe-Signature header"})
		return
	}

	payload, ok := h.readRawBody(c)
	if !ok {
		return
	}

	if err := h.billingService.HandleStripeWebhook(c.Request.Context(), signature, payload); err != nil {
		if errors.Is(err, core.ErrWebhookSignature) {
			h.logger.Warn("Stripe webhook signature rejected", zap.Error(err))
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Webhook signature verification failed"})
			return
		}
		h.logger.Error("Stripe webhook processing failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Webhook processing error"})
		return
	}

	c.JSON(http.StatusOK, WebhookAck{Received: true})
}

// HandleFlutterwaveWebhook handles POST /api/v1/billing/webhooks/flutterwave
// for the legacy Flutterwave integration. Flutterwave authenticates with a
// shared secret in the verif-hash header; a mismatch is a 401.
func (h *BillingHandler) HandleFlutterwaveWebhook(c *gin.Context) {
	payload, ok := h.readRawBody(c)
	if !ok {
		return
	}

	verifHash := c.GetHeader("verif-hash")
	if err := h.billingService.HandleFlutterwaveWebhook(c.Request.Context(), verifHash, payload); err != nil {
		if errors.Is(err, core.ErrInvalidWebhookHash) {
			h.logger.Warn("Flutterwave webhook hash rejected")
			c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "Invalid signature"})
			return
		}
		h.logger.Error("Flutterwave webhook processing failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Webhook processing error"})
		return
	}

	c.JSON(http.StatusOK, WebhookAck{Received: true})
}

// readRawBody reads the exact request bytes for signature verification.
// Returns ok=false after writing an error response.
func (h *BillingHandler) readRawBody(c *gin.Context) ([]byte, bool) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, webhookBodyLimit)
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.logger.Error("Failed to read webhook request body", zap.Error(err))
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Failed to read webhook payload"})
		return nil, false
	}
	return payload, true
}
