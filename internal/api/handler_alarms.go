package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tennis-alarm-backend/internal/model"
)

type alarmRequest struct {
	SubscriptionID string `json:"subscription_id" binding:"required"`
	CourtGroup     string `json:"court_group" binding:"required"`
	Date           string `json:"date" binding:"required"`
}

type alarmResponse struct {
	CourtGroup string    `json:"court_group"`
	Date       string    `json:"date"`
	CreatedAt  time.Time `json:"created_at"`
}

// normalizeDate accepts YYYY-MM-DD or YYYYMMDD and returns YYYYMMDD.
func normalizeDate(raw string) (string, bool) {
	d := strings.ReplaceAll(strings.TrimSpace(raw), "-", "")
	if _, err := time.Parse("20060102", d); err != nil {
		return "", false
	}
	return d, true
}

func (r *alarmRequest) key() (model.AlarmKey, bool) {
	date, ok := normalizeDate(r.Date)
	group := strings.TrimSpace(r.CourtGroup)
	if !ok || group == "" {
		return model.AlarmKey{}, false
	}
	return model.AlarmKey{SubscriptionID: r.SubscriptionID, CourtGroup: group, Date: date}, true
}

// AddAlarm registers a watch on one court group and date.
func (h *Handler) AddAlarm(c *gin.Context) {
	var req alarmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	key, ok := req.key()
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid court_group or date"})
		return
	}

	created, err := h.store.AddAlarm(c.Request.Context(), &model.Alarm{
		SubscriptionID: key.SubscriptionID,
		CourtGroup:     key.CourtGroup,
		Date:           key.Date,
	})
	if err != nil {
		h.log.Error("add alarm failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to add alarm"})
		return
	}

	if !created {
		c.JSON(http.StatusOK, gin.H{"status": "exists"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": "added"})
}

// ListAlarms returns a subscriber's alarms, newest first.
func (h *Handler) ListAlarms(c *gin.Context) {
	subscriptionID := c.Query("subscription_id")
	if subscriptionID == "" {
		c.JSON(http.StatusOK, []alarmResponse{})
		return
	}

	alarms, err := h.store.AlarmsFor(c.Request.Context(), subscriptionID)
	if err != nil {
		h.log.Error("list alarms failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list alarms"})
		return
	}

	out := make([]alarmResponse, 0, len(alarms))
	for _, a := range alarms {
		out = append(out, alarmResponse{CourtGroup: a.CourtGroup, Date: a.Date, CreatedAt: a.CreatedAt})
	}
	c.JSON(http.StatusOK, out)
}

// DeleteAlarm removes an alarm together with its baseline.
func (h *Handler) DeleteAlarm(c *gin.Context) {
	var req alarmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	key, ok := req.key()
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid court_group or date"})
		return
	}

	if err := h.store.DeleteAlarm(c.Request.Context(), key); err != nil {
		h.log.Error("delete alarm failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete alarm"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}
