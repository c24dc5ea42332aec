package api

import (
	"github.com/gin-gonic/gin"

	"github.com/sakauchipilates-dotcom/ShapeNote-sub001/internal/services"
	"github.com/sakauchipilates-dotcom/ShapeNote-sub001/internal/store"
)

// Dependencies holds the subscription subsystem instances the handlers use.
type Dependencies struct {
	Orchestrator *services.PurchaseOrchestrator
	Store        store.EntitlementStore
	Cache        *services.EntitlementCache // optional
}

var deps *Dependencies

// InitSubscriptionAPI wires the handler dependencies
func InitSubscriptionAPI(d *Dependencies) {
	deps = d
}

// SetupRoutes sets up all routes
func SetupRoutes(r *gin.Engine, authMiddleware gin.HandlerFunc) {
	// API route group
	api := r.Group("/api")
	{
		// Subscription routes (require an authenticated user)
		subscription := api.Group("/subscription")
		subscription.Use(authMiddleware)
		{
			subscription.POST("/purchase", PurchaseSubscription)
			subscription.POST("/restore", RestoreSubscription)
			subscription.GET("/status", GetEntitlementStatus)
			subscription.GET("/watch", WatchEntitlement)
		}
	}

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"service": "subscription-service",
		})
	})
}
