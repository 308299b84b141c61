package handler

import (
	"echoscribe/internal/billing"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

const maxWebhookBody = 1 << 20

// handleBillingWebhook handles POST /v1/webhooks/billing. Unverifiable or malformed
// deliveries get 400, store failures 500 so the processor redelivers, everything else 200.
func (s *Server) handleBillingWebhook(c *gin.Context) {
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		errorJSON(c, http.StatusBadRequest, "unreadable body")
		return
	}

	evt, err := s.deps.Verifier.Verify(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		s.logger.Warn("rejected billing webhook", "error", err)
		switch {
		case errors.Is(err, billing.ErrMissingSignature):
			errorJSON(c, http.StatusBadRequest, "missing signature")
		case errors.Is(err, billing.ErrInvalidSignature):
			errorJSON(c, http.StatusBadRequest, "invalid signature")
		default:
			errorJSON(c, http.StatusBadRequest, "malformed event")
		}
		return
	}

	outcome, err := s.deps.Reconciler.Reconcile(c.Request.Context(), evt)
	if err != nil {
		if errors.Is(err, billing.ErrMalformedEvent) {
			errorJSON(c, http.StatusBadRequest, "malformed event")
			return
		}
		errorJSON(c, http.StatusInternalServerError, "failed to process event")
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true, "outcome": outcome})
}
