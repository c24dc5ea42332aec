package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sakauchipilates-dotcom/ShapeNote-sub001/internal/response"
	"github.com/sakauchipilates-dotcom/ShapeNote-sub001/internal/services"
	"github.com/sakauchipilates-dotcom/ShapeNote-sub001/pkg/logging"
)

// PurchaseResponse reports how a purchase flow ended. Cancelled and pending
// are normal outcomes distinguishable from hard failures.
type PurchaseResponse struct {
	Outcome   string `json:"outcome"`
	IsActive  bool   `json:"is_active"`
	ExpiresAt string `json:"expires_at,omitempty"`
	ProductID string `json:"product_id,omitempty"`
}

// PurchaseSubscription runs the purchase flow for the authenticated user
// POST /api/subscription/purchase
func PurchaseSubscription(c *gin.Context) {
	result, err := deps.Orchestrator.Purchase(c.Request.Context())
	if err != nil {
		writePurchaseError(c, err)
		return
	}
	writePurchaseResult(c, result)
}

// RestoreSubscription re-commits the user's latest recorded transaction
// POST /api/subscription/restore
func RestoreSubscription(c *gin.Context) {
	result, err := deps.Orchestrator.Restore(c.Request.Context())
	if err != nil {
		writePurchaseError(c, err)
		return
	}
	writePurchaseResult(c, result)
}

func writePurchaseResult(c *gin.Context, result *services.PurchaseResult) {
	resp := PurchaseResponse{Outcome: string(result.Outcome)}

	if result.Outcome == services.OutcomeCompleted {
		if userID, ok := c.Get("user_id"); ok && deps.Cache != nil {
			if err := deps.Cache.Invalidate(c.Request.Context(), userID.(string)); err != nil {
				logging.Errorf("Failed to invalidate status cache: %v", err)
			}
		}
		resp.IsActive = gateActive(*result.Entitlement)
		if result.Entitlement.ExpiresAt != nil {
			resp.ExpiresAt = result.Entitlement.ExpiresAt.Format(time.RFC3339)
		}
		resp.ProductID = result.Transaction.ProductID
		response.JSON(c, http.StatusOK, response.Success(resp))
		return
	}

	// Cancelled and pending are expected flow, not defects
	status := http.StatusOK
	if result.Outcome == services.OutcomePending {
		status = http.StatusAccepted
	}
	response.JSON(c, status, response.Success(resp))
}

func writePurchaseError(c *gin.Context, err error) {
	code := services.ErrorCode(err)
	status := http.StatusInternalServerError
	switch code {
	case services.CodeNoCurrentUser:
		status = http.StatusUnauthorized
	case services.CodeProductNotFound, services.CodeNothingToRestore:
		status = http.StatusNotFound
	case services.CodePurchaseBusy:
		status = http.StatusConflict
	case services.CodeVerificationFailed:
		status = http.StatusBadRequest
	case services.CodeStoreUnavailable:
		status = http.StatusServiceUnavailable
	case services.CodeWriteRejected:
		status = http.StatusForbidden
	}

	var pe *services.PurchaseError
	message := "Purchase failed"
	if errors.As(err, &pe) {
		message = pe.Error()
	}
	logging.Errorf("Purchase flow failed - code: %s, error: %v", code, err)
	response.JSON(c, status, response.ErrorWithCode(string(code), message))
}
