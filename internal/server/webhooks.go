package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	webhookdomain "github.com/nimbuspay/nimbus/internal/webhook/domain"
)

// SignatureHeader carries the processor's HMAC signature over the raw body.
const SignatureHeader = "X-Nimbus-Signature"

// HandlePaymentWebhook ingests one processor delivery. Anything the
// dispatcher classifies as permanent is acknowledged with 200 so the
// processor stops redelivering; transient failures return 500 and rely on
// the processor's retry.
func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	result, err := s.dispatcher.Handle(c.Request.Context(), payload, c.GetHeader(SignatureHeader))
	if err != nil {
		if errors.Is(err, webhookdomain.ErrInvalidSignature) || errors.Is(err, webhookdomain.ErrMalformedEvent) {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"status": string(result)})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": string(result)})
}
