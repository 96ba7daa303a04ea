package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/savagegamesllc-ui/chat-factions-sub001/internal/eventsub"
	"github.com/savagegamesllc-ui/chat-factions-sub001/internal/store"
)

// HandleListenerStart turns ingestion on for a streamer. Repeated starts
// succeed with already=true.
func (h *Handlers) HandleListenerStart(c *gin.Context) {
	tenantID := c.Param("tenant")
	already := h.listeners.Start(tenantID)
	status := h.listeners.Status(tenantID)

	c.JSON(http.StatusOK, gin.H{
		"running":    status.Running,
		"started_at": status.StartedAt,
		"already":    already,
	})
}

// HandleListenerStop turns ingestion off for a streamer
func (h *Handlers) HandleListenerStop(c *gin.Context) {
	tenantID := c.Param("tenant")
	already := h.listeners.Stop(tenantID)
	status := h.listeners.Status(tenantID)

	c.JSON(http.StatusOK, gin.H{
		"running":    status.Running,
		"started_at": status.StartedAt,
		"already":    already,
	})
}

// HandleListenerStatus reports a streamer's ingestion state
func (h *Handlers) HandleListenerStatus(c *gin.Context) {
	status := h.listeners.Status(c.Param("tenant"))
	c.JSON(http.StatusOK, gin.H{
		"running":    status.Running,
		"started_at": status.StartedAt,
	})
}

// ReconcileRequest selects which subscription types to ensure
type ReconcileRequest struct {
	Types []string `json:"types"`
}

// defaultSubscriptionTypes is what a streamer gets when the request body
// names none.
var defaultSubscriptionTypes = []string{
	"channel.cheer",
	"channel.subscribe",
	"channel.subscription.gift",
}

// HandleReconcile ensures the desired EventSub subscriptions exist for a
// streamer. Scope problems come back as 409 with the missing scopes so the
// dashboard can send the streamer back through OAuth.
func (h *Handlers) HandleReconcile(c *gin.Context) {
	tenantID := c.Param("tenant")

	var req ReconcileRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
			return
		}
	}
	if len(req.Types) == 0 {
		req.Types = defaultSubscriptionTypes
	}

	streamer, err := h.streamers.GetStreamer(c.Request.Context(), tenantID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "streamer not found"})
			return
		}
		h.logger.WithError(err).Error("Failed to load streamer")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load streamer"})
		return
	}

	tenant := eventsub.Tenant{
		StreamerID:        streamer.ID,
		BroadcasterUserID: streamer.TwitchUserID,
		GrantedScopes:     streamer.Scopes,
	}

	result, err := h.reconciler.EnsureSubscriptions(c.Request.Context(), tenant, req.Types)
	if err != nil {
		var scopeErr *eventsub.ScopeError
		if errors.As(err, &scopeErr) {
			h.countReconcile("scope_error")
			c.JSON(http.StatusConflict, gin.H{
				"error":          "re-authorization required",
				"missing_scopes": scopeErr.Missing,
			})
			return
		}

		h.countReconcile("error")
		h.logger.WithError(err).WithField("tenant_id", tenantID).Error("Reconciliation failed")

		// Partial results still matter to the caller
		response := gin.H{"error": err.Error()}
		if result != nil {
			response["created"] = result.Created
			response["skipped"] = result.Skipped
		}
		c.JSON(http.StatusBadGateway, response)
		return
	}

	h.countReconcile("ok")
	c.JSON(http.StatusOK, result)
}

// HandleListSubscriptions lists every subscription registered for the app
// credential at the provider
func (h *Handlers) HandleListSubscriptions(c *gin.Context) {
	subs, err := h.reconciler.ListSubscriptions(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to list subscriptions")
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": subs, "total": len(subs)})
}

// HandleDeleteSubscription removes one subscription at the provider
func (h *Handlers) HandleDeleteSubscription(c *gin.Context) {
	if err := h.reconciler.DeleteSubscription(c.Request.Context(), c.Param("id")); err != nil {
		h.logger.WithError(err).Error("Failed to delete subscription")
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// HandleNotFound provides a custom 404 handler
func (h *Handlers) HandleNotFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{
		"error":   "not_found",
		"message": "Endpoint not found",
	})
}

func (h *Handlers) countReconcile(result string) {
	if h.metrics != nil {
		h.metrics.ReconcileRuns.WithLabelValues(result).Inc()
	}
}
