package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	ledgerdomain "github.com/nimbuspay/nimbus/internal/ledger/domain"
	paymentdomain "github.com/nimbuspay/nimbus/internal/payment/domain"
	"github.com/nimbuspay/nimbus/internal/processor"
	subscriptiondomain "github.com/nimbuspay/nimbus/internal/subscription/domain"
	webhookdomain "github.com/nimbuspay/nimbus/internal/webhook/domain"
	"gorm.io/gorm"
)

type errorPayload struct {
	Type       string     `json:"type"`
	Message    string     `json:"message"`
	EligibleAt *time.Time `json:"eligible_at,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var ErrInvalidRequest = errors.New("invalid_request")

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	var notYet *subscriptiondomain.DowngradeNotYetEligibleError
	if errors.As(err, &notYet) {
		eligibleAt := notYet.EligibleAt
		return http.StatusConflict, errorPayload{
			Type:       "downgrade_not_yet_eligible",
			Message:    "downgrades are only accepted near the end of the current period",
			EligibleAt: &eligibleAt,
		}
	}

	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, webhookdomain.ErrInvalidSignature),
		errors.Is(err, webhookdomain.ErrMalformedEvent),
		errors.Is(err, ledgerdomain.ErrInvalidTenant),
		errors.Is(err, ledgerdomain.ErrInvalidAmount),
		errors.Is(err, ledgerdomain.ErrInvalidCurrency),
		errors.Is(err, ledgerdomain.ErrInvalidSourceRef),
		errors.Is(err, subscriptiondomain.ErrInvalidTargetStatus):
		return http.StatusBadRequest, errorPayload{
			Type:    "invalid_request",
			Message: err.Error(),
		}
	case errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound),
		errors.Is(err, subscriptiondomain.ErrUnknownPlan),
		errors.Is(err, paymentdomain.ErrRecordNotFound),
		errors.Is(err, ledgerdomain.ErrUnknownSourceRef),
		errors.Is(err, gorm.ErrRecordNotFound):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: err.Error(),
		}
	case errors.Is(err, ledgerdomain.ErrInsufficientBalance),
		errors.Is(err, ledgerdomain.ErrOverRefund),
		errors.Is(err, subscriptiondomain.ErrIllegalTransition),
		errors.Is(err, subscriptiondomain.ErrPlanUnchanged),
		errors.Is(err, subscriptiondomain.ErrChangeAlreadyPending),
		errors.Is(err, subscriptiondomain.ErrSubscriptionNotActive),
		errors.Is(err, subscriptiondomain.ErrSubscriptionExists):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: err.Error(),
		}
	case errors.Is(err, processor.ErrExternalDependencyTimeout):
		return http.StatusGatewayTimeout, errorPayload{
			Type:    "upstream_timeout",
			Message: "payment processor timed out",
		}
	case errors.Is(err, processor.ErrExternalDependencyError):
		return http.StatusBadGateway, errorPayload{
			Type:    "upstream_error",
			Message: "payment processor rejected the request",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}
