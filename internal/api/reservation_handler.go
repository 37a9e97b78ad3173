package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/smartcharger/charging-server/internal/api/middleware"
	"github.com/smartcharger/charging-server/internal/coremodel"
	"github.com/smartcharger/charging-server/internal/metrics"
	"github.com/smartcharger/charging-server/internal/service"
	"github.com/smartcharger/charging-server/internal/storage"
)

// ReservationHandler 预约API处理器
type ReservationHandler struct {
	svc     *service.ReservationService
	metrics *metrics.AppMetrics
	logger  *zap.Logger
}

func NewReservationHandler(svc *service.ReservationService, m *metrics.AppMetrics, logger *zap.Logger) *ReservationHandler {
	return &ReservationHandler{svc: svc, metrics: m, logger: logger}
}

// CreateReservationRequest 创建预约请求
type CreateReservationRequest struct {
	PileID    int64     `json:"pile_id" binding:"required"`
	VehicleID *int64    `json:"vehicle_id"`
	StartTime time.Time `json:"start_time" binding:"required"`
	EndTime   time.Time `json:"end_time" binding:"required"`
}

// Create 创建预约
// @Router /api/v1/reservations [post]
func (h *ReservationHandler) Create(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, "缺少用户身份")
		return
	}

	var req CreateReservationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "无效的请求: "+err.Error())
		return
	}

	resv, err := h.svc.Create(c.Request.Context(), service.ReservationInput{
		UserID:    userID,
		PileID:    req.PileID,
		VehicleID: req.VehicleID,
		Window:    coremodel.Window{Start: req.StartTime, End: req.EndTime},
	})
	if err != nil {
		if h.metrics != nil {
			h.metrics.ReservationTotal.WithLabelValues("rejected").Inc()
		}
		respondServiceError(c, err)
		return
	}

	if h.metrics != nil {
		h.metrics.ReservationTotal.WithLabelValues("created").Inc()
	}
	respondOK(c, resv)
}

// CancelReservationRequest 取消预约请求
type CancelReservationRequest struct {
	Reason string `json:"reason"`
}

// Cancel 取消预约，仅限本人且窗口尚未开始
// @Router /api/v1/reservations/{id}/cancel [post]
func (h *ReservationHandler) Cancel(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, "缺少用户身份")
		return
	}
	id, err := pathID(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的预约ID")
		return
	}

	var req CancelReservationRequest
	_ = c.ShouldBindJSON(&req)

	if err := h.svc.Cancel(c.Request.Context(), userID, id, req.Reason); err != nil {
		respondServiceError(c, err)
		return
	}
	if h.metrics != nil {
		h.metrics.ReservationTotal.WithLabelValues("cancelled").Inc()
	}
	respondOK(c, nil)
}

// Current 当前未完成预约，没有时data为空
// @Router /api/v1/reservations/current [get]
func (h *ReservationHandler) Current(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, "缺少用户身份")
		return
	}
	resv, err := h.svc.Current(c.Request.Context(), userID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, resv)
}

// Get 查询单条预约，仅限本人
func (h *ReservationHandler) Get(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, "缺少用户身份")
		return
	}
	id, err := pathID(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的预约ID")
		return
	}
	resv, err := h.svc.Get(c.Request.Context(), userID, id)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, resv)
}

// List 本人预约列表，支持状态过滤
// @Router /api/v1/reservations [get]
func (h *ReservationHandler) List(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, "缺少用户身份")
		return
	}

	filter := storage.ReservationFilter{UserID: &userID}
	if v := c.Query("status"); v != "" {
		s := coremodel.ReservationStatus(v)
		filter.Status = &s
	}

	page := parsePage(c)
	list, total, err := h.svc.List(c.Request.Context(), filter, page)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, pagedData{List: list, Total: total, Page: page.Page, PageSize: page.Size})
}
