package api

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"ravenmail/internal/db"
	"ravenmail/internal/models"
	"ravenmail/internal/push"
)

const (
	defaultStatsDays = 7
	maxStatsDays     = 90
)

var errUnavailable = gin.H{"error": "push notifications unavailable"}

type subscribeRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
	Keys     struct {
		P256dh string `json:"p256dh" binding:"required"`
		Auth   string `json:"auth" binding:"required"`
	} `json:"keys"`
	UserAgent  string `json:"userAgent"`
	DeviceType string `json:"deviceType"`
}

type unsubscribeRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
}

func (s *Server) vapidPublicKey(c *gin.Context) {
	if !s.deps.Push.Available() {
		c.JSON(http.StatusServiceUnavailable, errUnavailable)
		return
	}
	c.JSON(http.StatusOK, gin.H{"publicKey": s.deps.Push.PublicKey()})
}

func (s *Server) subscribe(c *gin.Context) {
	if !s.deps.Push.Available() {
		c.JSON(http.StatusServiceUnavailable, errUnavailable)
		return
	}

	var req subscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid subscription"})
		return
	}
	if !s.validEndpoint(req.Endpoint) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid push endpoint"})
		return
	}

	if err := push.ValidateKeys(req.Keys.P256dh, req.Keys.Auth); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid subscription keys"})
		return
	}

	userAgent := req.UserAgent
	if userAgent == "" {
		userAgent = c.Request.UserAgent()
	}

	identity := identityFrom(c)
	sub, err := s.deps.Subscriptions.Upsert(c.Request.Context(), &models.Subscription{
		UserID:     identity.UserID,
		Endpoint:   req.Endpoint,
		P256dh:     req.Keys.P256dh,
		Auth:       req.Keys.Auth,
		UserAgent:  userAgent,
		DeviceType: req.DeviceType,
	})
	if err != nil {
		s.log.Errorf("Failed to store subscription for user %s: %v", identity.UserID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store subscription"})
		return
	}

	s.log.Infof("User %s subscribed device %s", identity.UserID, sub.ID)
	c.JSON(http.StatusCreated, gin.H{
		"subscriptionId": sub.ID,
		"publicKey":      s.deps.Push.PublicKey(),
	})
}

// validEndpoint requires an absolute URL, and https in production
func (s *Server) validEndpoint(endpoint string) bool {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return false
	}
	if u.Scheme == "https" {
		return true
	}
	return !s.production && u.Scheme == "http"
}

func (s *Server) unsubscribe(c *gin.Context) {
	var req unsubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	identity := identityFrom(c)
	err := s.deps.Subscriptions.DeleteByEndpoint(c.Request.Context(), identity.UserID, req.Endpoint)
	if errors.Is(err, db.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Subscription not found"})
		return
	}
	if err != nil {
		s.log.Errorf("Failed to remove subscription for user %s: %v", identity.UserID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to remove subscription"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) listSubscriptions(c *gin.Context) {
	identity := identityFrom(c)
	subs, err := s.deps.Subscriptions.ListByUser(c.Request.Context(), identity.UserID)
	if err != nil {
		s.log.Errorf("Failed to list subscriptions for user %s: %v", identity.UserID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list subscriptions"})
		return
	}
	if subs == nil {
		subs = []models.Subscription{}
	}
	c.JSON(http.StatusOK, gin.H{"subscriptions": subs})
}

func (s *Server) sendTest(c *gin.Context) {
	if !s.deps.Push.Available() {
		c.JSON(http.StatusServiceUnavailable, errUnavailable)
		return
	}
	identity := identityFrom(c)
	result := s.deps.Push.SendTestNotification(c.Request.Context(), identity.UserID)
	c.JSON(http.StatusOK, result)
}

func (s *Server) stats(c *gin.Context) {
	days := defaultStatsDays
	if raw := c.Query("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxStatsDays {
			c.JSON(http.StatusBadRequest, gin.H{"error": "days must be between 1 and 90"})
			return
		}
		days = n
	}

	identity := identityFrom(c)
	since := time.Now().Add(-time.Duration(days) * 24 * time.Hour)
	stats, err := s.deps.Push.Stats(c.Request.Context(), identity.UserID, since)
	if err != nil {
		s.log.Errorf("Failed to load stats for user %s: %v", identity.UserID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load statistics"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"days": days, "stats": stats})
}
