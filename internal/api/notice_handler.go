package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/smartcharger/charging-server/internal/api/middleware"
	"github.com/smartcharger/charging-server/internal/coremodel"
	"github.com/smartcharger/charging-server/internal/notify"
	"github.com/smartcharger/charging-server/internal/storage"
)

// ThresholdStore 用户级超时预警阈值存储
type ThresholdStore interface {
	Get(ctx context.Context, userID int64) (minutes int, ok bool, err error)
	Set(ctx context.Context, userID int64, minutes int) error
	Clear(ctx context.Context, userID int64) error
}

// NoticeHandler 预警通知API处理器
type NoticeHandler struct {
	dispatcher *notify.Dispatcher
	thresholds ThresholdStore // Redis未启用时为nil
	// 系统默认阈值（分钟），用户未自定义时返回
	defaultThresholdMin int
	logger              *zap.Logger
}

func NewNoticeHandler(dispatcher *notify.Dispatcher, thresholds ThresholdStore, defaultThresholdMin int, logger *zap.Logger) *NoticeHandler {
	return &NoticeHandler{
		dispatcher:          dispatcher,
		thresholds:          thresholds,
		defaultThresholdMin: defaultThresholdMin,
		logger:              logger,
	}
}

// List 本人通知列表，支持类型与已读过滤
// @Router /api/v1/notices [get]
func (h *NoticeHandler) List(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, "缺少用户身份")
		return
	}

	var filter storage.NoticeFilter
	if v := c.Query("type"); v != "" {
		t := coremodel.NoticeType(v)
		filter.Type = &t
	}
	if v := c.Query("is_read"); v != "" {
		b := v == "true"
		filter.IsRead = &b
	}

	page := parsePage(c)
	list, total, err := h.dispatcher.List(c.Request.Context(), userID, filter, page)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, pagedData{List: list, Total: total, Page: page.Page, PageSize: page.Size})
}

// UnreadCount 未读数
// @Router /api/v1/notices/unread-count [get]
func (h *NoticeHandler) UnreadCount(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, "缺少用户身份")
		return
	}
	count, err := h.dispatcher.UnreadCount(c.Request.Context(), userID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, gin.H{"unread": count})
}

// MarkRead 标记单条已读
// @Router /api/v1/notices/{id}/read [post]
func (h *NoticeHandler) MarkRead(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, "缺少用户身份")
		return
	}
	id, err := pathID(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的通知ID")
		return
	}
	if err := h.dispatcher.MarkRead(c.Request.Context(), userID, id); err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, nil)
}

// MarkAllRead 全部标记已读
// @Router /api/v1/notices/read-all [post]
func (h *NoticeHandler) MarkAllRead(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, "缺少用户身份")
		return
	}
	if err := h.dispatcher.MarkAllRead(c.Request.Context(), userID); err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, nil)
}

// Delete 删除单条通知
// @Router /api/v1/notices/{id} [delete]
func (h *NoticeHandler) Delete(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, "缺少用户身份")
		return
	}
	id, err := pathID(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的通知ID")
		return
	}
	if err := h.dispatcher.Delete(c.Request.Context(), userID, id); err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, nil)
}

// GetThreshold 查询本人超时预警阈值（分钟）
// @Router /api/v1/notices/threshold [get]
func (h *NoticeHandler) GetThreshold(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, "缺少用户身份")
		return
	}
	if h.thresholds == nil {
		respondOK(c, gin.H{"minutes": h.defaultThresholdMin, "custom": false})
		return
	}

	minutes, custom, err := h.thresholds.Get(c.Request.Context(), userID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	if !custom {
		minutes = h.defaultThresholdMin
	}
	respondOK(c, gin.H{"minutes": minutes, "custom": custom})
}

// ThresholdRequest 设置阈值请求，minutes为0时清除自定义
type ThresholdRequest struct {
	Minutes int `json:"minutes" binding:"min=0,max=1440"`
}

// SetThreshold 设置本人超时预警阈值
// @Router /api/v1/notices/threshold [put]
func (h *NoticeHandler) SetThreshold(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, "缺少用户身份")
		return
	}
	if h.thresholds == nil {
		respondError(c, http.StatusServiceUnavailable, "阈值存储未启用")
		return
	}

	var req ThresholdRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "无效的请求: "+err.Error())
		return
	}

	var err error
	if req.Minutes == 0 {
		err = h.thresholds.Clear(c.Request.Context(), userID)
	} else {
		err = h.thresholds.Set(c.Request.Context(), userID, req.Minutes)
	}
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, nil)
}
