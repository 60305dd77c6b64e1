package api

import (
	"io"
	"net/http"

	"BookEmpire-server/middleware"

	"github.com/gin-gonic/gin"
)

// Upper bound on an accepted webhook body.
const maxWebhookBody = 65536

type checkoutRequest struct {
	PriceID  string `json:"priceId" binding:"required"`
	PlanName string `json:"planName" binding:"required,oneof=professional enterprise"`
}

// Checkout POST /api/stripe/checkout
func (h *Handler) Checkout(c *gin.Context) {
	user := middleware.CurrentUser(c)

	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, errValidation(err))
		return
	}

	sess, err := h.billing.Checkout(c.Request.Context(), user, req.PriceID, req.PlanName)
	if err != nil {
		h.respondError(c, &HTTPError{
			Code:    http.StatusInternalServerError,
			Message: "Failed to create checkout session",
			Cause:   err,
		})
		return
	}
	c.JSON(http.StatusOK, sess)
}

// StripeWebhook verifies and applies a payment-provider event.
// POST /api/stripe/webhook
func (h *Handler) StripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		h.respondError(c, errBadRequest("could not read body", err))
		return
	}

	event, err := h.billing.ConstructEvent(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		h.respondError(c, errBadRequest("Invalid signature", err))
		return
	}

	if err := h.billing.HandleEvent(c.Request.Context(), event); err != nil {
		h.respondError(c, &HTTPError{
			Code:    http.StatusInternalServerError,
			Message: "Webhook handler failed",
			Cause:   err,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}
