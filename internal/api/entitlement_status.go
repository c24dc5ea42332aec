package api

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sakauchipilates-dotcom/ShapeNote-sub001/internal/models"
	"github.com/sakauchipilates-dotcom/ShapeNote-sub001/internal/response"
	"github.com/sakauchipilates-dotcom/ShapeNote-sub001/internal/services"
	"github.com/sakauchipilates-dotcom/ShapeNote-sub001/pkg/logging"
)

// gateActive is the only validity computation on the HTTP surface; it defers
// to the centralized predicate so screens cannot drift from the gate.
func gateActive(state models.EntitlementState) bool {
	return models.IsActive(state, time.Now())
}

// GetEntitlementStatus reports whether the user's entitlement is currently
// active
// GET /api/subscription/status
func GetEntitlementStatus(c *gin.Context) {
	userID := c.GetString("user_id")

	// Short-TTL cache in front of the store read
	if deps.Cache != nil {
		cached, err := deps.Cache.GetStatus(c.Request.Context(), userID)
		if err != nil {
			logging.Errorf("Status cache read failed - user: %s, error: %v", userID, err)
		} else if cached != nil {
			response.SuccessJSON(c, cached)
			return
		}
	}

	state, err := deps.Store.Fetch(c.Request.Context(), userID)
	if err != nil {
		response.ErrorJSON(c, http.StatusServiceUnavailable, "Entitlement store unavailable")
		return
	}

	status := &services.CachedStatus{
		IsActive: gateActive(state),
		Tier:     string(state.Tier),
	}
	if state.ExpiresAt != nil {
		status.ExpiresAt = state.ExpiresAt.Format(time.RFC3339)
	}

	if deps.Cache != nil {
		if err := deps.Cache.SetStatus(c.Request.Context(), userID, status); err != nil {
			logging.Errorf("Status cache write failed - user: %s, error: %v", userID, err)
		}
	}
	response.SuccessJSON(c, status)
}

// WatchEntitlement streams access flips for the authenticated user as
// server-sent events until the client disconnects
// GET /api/subscription/watch
func WatchEntitlement(c *gin.Context) {
	userID := c.GetString("user_id")
	ctx := c.Request.Context()

	events := make(chan bool, 8)
	errs := make(chan error, 1)

	gate, err := services.NewAccessGate(ctx, deps.Store, userID, services.AccessGateOptions{
		OnError: func(err error) {
			select {
			case errs <- err:
			default:
			}
		},
	})
	if err != nil {
		response.ErrorJSON(c, http.StatusServiceUnavailable, "Failed to subscribe to entitlement feed")
		return
	}
	defer gate.Close()

	unsubscribe := gate.Subscribe(func(active bool) {
		select {
		case events <- active:
		default:
			// slow client; it will catch up on the next flip
		}
	})
	defer unsubscribe()

	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Stream(func(w io.Writer) bool {
		select {
		case active := <-events:
			c.SSEvent("entitlement", gin.H{"is_active": active})
			return true
		case err := <-errs:
			c.SSEvent("error", gin.H{"message": err.Error()})
			return false
		case <-ctx.Done():
			return false
		}
	})
}
