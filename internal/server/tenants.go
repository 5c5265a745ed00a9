package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	ledgerdomain "github.com/nimbuspay/nimbus/internal/ledger/domain"
	subscriptiondomain "github.com/nimbuspay/nimbus/internal/subscription/domain"
)

type subscriptionResponse struct {
	TenantID           string     `json:"tenant_id"`
	PlanID             string     `json:"plan_id"`
	Status             string     `json:"status"`
	CurrentPeriodStart *time.Time `json:"current_period_start,omitempty"`
	CurrentPeriodEnd   *time.Time `json:"current_period_end,omitempty"`
	TrialEnd           *time.Time `json:"trial_end,omitempty"`
}

func subscriptionToResponse(sub *subscriptiondomain.Subscription) subscriptionResponse {
	return subscriptionResponse{
		TenantID:           sub.TenantID.String(),
		PlanID:             sub.PlanID,
		Status:             string(sub.Status),
		CurrentPeriodStart: sub.CurrentPeriodStart,
		CurrentPeriodEnd:   sub.CurrentPeriodEnd,
		TrialEnd:           sub.TrialEnd,
	}
}

func tenantParam(c *gin.Context) (snowflake.ID, bool) {
	raw := strings.TrimSpace(c.Param("tenant_id"))
	id, err := snowflake.ParseString(raw)
	if err != nil || id == 0 {
		AbortWithError(c, ErrInvalidRequest)
		return 0, false
	}
	return id, true
}

func (s *Server) GetSubscription(c *gin.Context) {
	tenantID, ok := tenantParam(c)
	if !ok {
		return
	}

	sub, err := s.subscriptionSvc.GetByTenant(c.Request.Context(), tenantID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, subscriptionToResponse(sub))
}

type changePlanRequest struct {
	PlanID string `json:"plan_id" binding:"required"`
}

func (s *Server) ChangePlan(c *gin.Context) {
	tenantID, ok := tenantParam(c)
	if !ok {
		return
	}

	var req changePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	result, err := s.subscriptionSvc.ChangePlan(c.Request.Context(), tenantID, req.PlanID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if result.Applied {
		c.JSON(http.StatusOK, gin.H{
			"status":          "applied",
			"prorated_credit": result.ProratedCredit,
		})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"status":       "scheduled",
		"effective_at": result.EffectiveAt,
	})
}

func (s *Server) CancelSubscription(c *gin.Context) {
	tenantID, ok := tenantParam(c)
	if !ok {
		return
	}

	if err := s.subscriptionSvc.CancelSubscription(c.Request.Context(), tenantID, "api.cancel_requested"); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "canceled"})
}

func (s *Server) GetCreditBalance(c *gin.Context) {
	tenantID, ok := tenantParam(c)
	if !ok {
		return
	}

	balance, err := s.ledgerSvc.Balance(c.Request.Context(), tenantID, 0)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"tenant_id": tenantID.String(),
		"balance":   balance,
	})
}

type consumeCreditsRequest struct {
	Amount       int64          `json:"amount" binding:"required"`
	OperationRef string         `json:"operation_ref"`
	Metadata     map[string]any `json:"metadata"`
}

func (s *Server) ConsumeCredits(c *gin.Context) {
	tenantID, ok := tenantParam(c)
	if !ok {
		return
	}

	var req consumeCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	err := s.ledgerSvc.Consume(c.Request.Context(), ledgerdomain.ConsumeRequest{
		TenantID:     tenantID,
		Amount:       req.Amount,
		OperationRef: req.OperationRef,
		Metadata:     req.Metadata,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	balance, err := s.ledgerSvc.Balance(c.Request.Context(), tenantID, 0)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"tenant_id": tenantID.String(),
		"balance":   balance,
	})
}

type paymentRecordResponse struct {
	ID            string     `json:"id"`
	RecordType    string     `json:"record_type"`
	Amount        int64      `json:"amount"`
	Currency      string     `json:"currency"`
	Status        string     `json:"status"`
	ExternalRef   *string    `json:"external_ref,omitempty"`
	DisputeStatus *string    `json:"dispute_status,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	DisputedAt    *time.Time `json:"disputed_at,omitempty"`
}

func (s *Server) ListPayments(c *gin.Context) {
	tenantID, ok := tenantParam(c)
	if !ok {
		return
	}

	records, err := s.paymentRepo.ListByTenant(c.Request.Context(), s.db, tenantID, 50)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	out := make([]paymentRecordResponse, 0, len(records))
	for _, record := range records {
		item := paymentRecordResponse{
			ID:          record.ID.String(),
			RecordType:  string(record.RecordType),
			Amount:      record.Amount,
			Currency:    record.Currency,
			Status:      string(record.Status),
			ExternalRef: record.ExternalRef,
			CreatedAt:   record.CreatedAt,
			DisputedAt:  record.DisputedAt,
		}
		if record.DisputeStatus != nil {
			status := string(*record.DisputeStatus)
			item.DisputeStatus = &status
		}
		out = append(out, item)
	}

	c.JSON(http.StatusOK, gin.H{"payments": out})
}
