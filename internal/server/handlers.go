// internal/server/handlers.go
package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "push-dispatch/internal/common/errors"
	"push-dispatch/internal/models"
	"push-dispatch/internal/registry"
)

type notifyRequest struct {
	models.NotificationRequest
	DeviceIDs []string `json:"deviceIds,omitempty"`
	Tags      []string `json:"tags,omitempty"`
}

// handleNotify fans one notification out to every matching subscriber.
// Delivery failures do not fail the call; the response embeds the
// per-recipient statistics even when every send failed.
func (s *Server) handleNotify() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req notifyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		sel := models.Selector{DeviceIDs: req.DeviceIDs, Tags: req.Tags}
		result, err := s.dispatcher.Dispatch(c.Request.Context(), &req.NotificationRequest, sel, actorFromContext(c))
		if err != nil {
			s.writeDispatchError(c, err)
			return
		}
		if result.NoRecipients {
			c.JSON(http.StatusNotFound, gin.H{
				"error":          "no active subscriptions matched",
				"notificationId": result.NotificationID,
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"result":  result,
		})
	}
}

type notifyTestRequest struct {
	models.NotificationRequest
	DeviceID string `json:"deviceId" binding:"required"`
}

func (s *Server) handleNotifyTest() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req notifyTestRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "deviceId is required"})
			return
		}

		outcome, err := s.dispatcher.DispatchSingle(c.Request.Context(), req.DeviceID, &req.NotificationRequest)
		if err != nil {
			s.writeDispatchError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"success": outcome.Class == models.OutcomeDelivered,
			"outcome": outcome,
		})
	}
}

func (s *Server) writeDispatchError(c *gin.Context, err error) {
	var derr *apperrors.DispatchError
	if errors.As(err, &derr) {
		switch derr.Code {
		case apperrors.ErrCodeRequestInvalid:
			c.JSON(http.StatusBadRequest, gin.H{"error": derr.Message, "details": derr.Details})
			return
		case apperrors.ErrCodeSubscriberNotFound:
			c.JSON(http.StatusNotFound, gin.H{"error": derr.Message})
			return
		case apperrors.ErrCodeRegistryUnavailable:
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": derr.Message})
			return
		}
	}
	s.log.Error("dispatch failed", map[string]interface{}{"error": err.Error()})
	c.JSON(http.StatusInternalServerError, gin.H{"error": "dispatch failed"})
}

type subscribeRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
	Keys     struct {
		P256dh string `json:"p256dh" binding:"required"`
		Auth   string `json:"auth" binding:"required"`
	} `json:"keys" binding:"required"`
	DeviceType string   `json:"deviceType,omitempty"`
	Tags       []string `json:"tags,omitempty"`
}

// handleSubscribe registers or reactivates a subscription. The browser
// keys are sealed before anything touches the store.
func (s *Server) handleSubscribe() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req subscribeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "endpoint and keys are required"})
			return
		}

		sealed, err := s.sealer.Encrypt(models.KeyMaterial{
			P256dh: req.Keys.P256dh,
			Auth:   req.Keys.Auth,
		})
		if err != nil {
			s.log.Error("key sealing failed", map[string]interface{}{"error": err.Error()})
			c.JSON(http.StatusInternalServerError, gin.H{"error": "subscription failed"})
			return
		}

		id, err := s.store.Upsert(c.Request.Context(), registry.Registration{
			Endpoint:   req.Endpoint,
			Keys:       sealed,
			Origin:     c.GetHeader("Origin"),
			UserAgent:  c.GetHeader("User-Agent"),
			DeviceType: req.DeviceType,
			Tags:       req.Tags,
		})
		if err != nil {
			s.log.Error("subscription upsert failed", map[string]interface{}{"error": err.Error()})
			c.JSON(http.StatusInternalServerError, gin.H{"error": "subscription failed"})
			return
		}

		c.JSON(http.StatusCreated, gin.H{"success": true, "id": id})
	}
}

type endpointRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
}

func (s *Server) handleUnsubscribe() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req endpointRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "endpoint is required"})
			return
		}

		if err := s.store.Unsubscribe(c.Request.Context(), req.Endpoint); err != nil {
			s.log.Error("unsubscribe failed", map[string]interface{}{"error": err.Error()})
			c.JSON(http.StatusInternalServerError, gin.H{"error": "unsubscribe failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

func (s *Server) handleSubscriptionStatus() gin.HandlerFunc {
	return func(c *gin.Context) {
		endpoint := c.Query("endpoint")
		if endpoint == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "endpoint query parameter is required"})
			return
		}

		status, err := s.store.StatusByEndpoint(c.Request.Context(), endpoint)
		if err != nil {
			if errors.Is(err, apperrors.ErrSubscriberNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "subscription not found"})
				return
			}
			s.log.Error("status lookup failed", map[string]interface{}{"error": err.Error()})
			c.JSON(http.StatusInternalServerError, gin.H{"error": "status lookup failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": status})
	}
}

type clickRequest struct {
	Endpoint       string `json:"endpoint" binding:"required"`
	NotificationID string `json:"notificationId,omitempty"`
	Action         string `json:"action,omitempty"`
}

// handleNotificationClick records a client interaction, best-effort.
func (s *Server) handleNotificationClick() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req clickRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "endpoint is required"})
			return
		}

		if err := s.auditor.RecordClick(c.Request.Context(), req.Endpoint, req.NotificationID, req.Action); err != nil {
			s.log.Warn("click record failed", map[string]interface{}{"error": err.Error()})
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

func (s *Server) handleAdminStats() gin.HandlerFunc {
	return func(c *gin.Context) {
		counts, err := s.store.CountByStatus(c.Request.Context())
		if err != nil {
			s.log.Error("stats query failed", map[string]interface{}{"error": err.Error()})
			c.JSON(http.StatusInternalServerError, gin.H{"error": "stats unavailable"})
			return
		}

		recent, err := s.auditor.RecentSends(c.Request.Context(), 20)
		if err != nil {
			s.log.Error("recent sends query failed", map[string]interface{}{"error": err.Error()})
			c.JSON(http.StatusInternalServerError, gin.H{"error": "stats unavailable"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"subscribers": counts,
			"recentSends": recent,
		})
	}
}
