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

// ChargingHandler 充电会话API处理器
type ChargingHandler struct {
	svc     *service.ChargingService
	repo    storage.CoreRepo
	metrics *metrics.AppMetrics
	logger  *zap.Logger
}

func NewChargingHandler(svc *service.ChargingService, repo storage.CoreRepo, m *metrics.AppMetrics, logger *zap.Logger) *ChargingHandler {
	return &ChargingHandler{svc: svc, repo: repo, metrics: m, logger: logger}
}

// StartChargingRequest 开始充电请求
type StartChargingRequest struct {
	PileID    int64  `json:"pile_id" binding:"required"`
	VehicleID *int64 `json:"vehicle_id"`
}

// Start 开始充电，占用桩并消耗本人的有效预约
// @Router /api/v1/charging-records/start [post]
func (h *ChargingHandler) Start(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, "缺少用户身份")
		return
	}

	var req StartChargingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "无效的请求: "+err.Error())
		return
	}

	rec, err := h.svc.Start(c.Request.Context(), service.StartInput{
		UserID:    userID,
		PileID:    req.PileID,
		VehicleID: req.VehicleID,
	})
	if err != nil {
		if h.metrics != nil {
			h.metrics.ChargingSessionTotal.WithLabelValues("rejected").Inc()
		}
		respondServiceError(c, err)
		return
	}

	if h.metrics != nil {
		h.metrics.ChargingSessionTotal.WithLabelValues("started").Inc()
		h.metrics.ActiveSessionGauge.Inc()
	}
	h.logger.Info("charging started",
		zap.Int64("user_id", userID),
		zap.Int64("pile_id", req.PileID),
		zap.String("record_no", rec.RecordNo))
	respondOK(c, rec)
}

// EndChargingRequest 结束充电请求
type EndChargingRequest struct {
	ElectricQuantity float64 `json:"electric_quantity"`
}

// End 结束充电并结算费用
// @Router /api/v1/charging-records/{id}/end [post]
func (h *ChargingHandler) End(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, "缺少用户身份")
		return
	}
	id, err := pathID(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的记录ID")
		return
	}

	var req EndChargingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "无效的请求: "+err.Error())
		return
	}

	rec, err := h.svc.End(c.Request.Context(), service.EndInput{
		UserID:           userID,
		RecordID:         id,
		ElectricQuantity: req.ElectricQuantity,
	})
	if err != nil {
		if h.metrics != nil {
			h.metrics.ChargingSessionTotal.WithLabelValues("end_failed").Inc()
		}
		respondServiceError(c, err)
		return
	}

	if h.metrics != nil {
		h.metrics.ChargingSessionTotal.WithLabelValues("completed").Inc()
		h.metrics.ActiveSessionGauge.Dec()
	}
	respondOK(c, rec)
}

// Current 当前进行中的会话，没有时data为空
// @Router /api/v1/charging-records/current [get]
func (h *ChargingHandler) Current(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, "缺少用户身份")
		return
	}
	rec, err := h.svc.Current(c.Request.Context(), userID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, rec)
}

// Get 查询单条记录，仅限本人
func (h *ChargingHandler) Get(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, "缺少用户身份")
		return
	}
	id, err := pathID(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的记录ID")
		return
	}
	rec, err := h.svc.Get(c.Request.Context(), userID, id)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, rec)
}

// List 本人充电记录列表，支持状态与起止日期过滤
// @Router /api/v1/charging-records [get]
func (h *ChargingHandler) List(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, "缺少用户身份")
		return
	}

	filter := storage.RecordFilter{UserID: &userID}
	if v := c.Query("status"); v != "" {
		s := coremodel.RecordStatus(v)
		filter.Status = &s
	}
	if v := c.Query("from"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.From = &t
		}
	}
	if v := c.Query("to"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.To = &t
		}
	}

	page := parsePage(c)
	list, total, err := h.svc.List(c.Request.Context(), filter, page)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, pagedData{List: list, Total: total, Page: page.Page, PageSize: page.Size})
}

// ListViolations 本人超时占位违规记录
// @Router /api/v1/violations [get]
func (h *ChargingHandler) ListViolations(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, "缺少用户身份")
		return
	}
	page := parsePage(c)
	list, total, err := h.repo.ListViolationsByUser(c.Request.Context(), userID, page)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, pagedData{List: list, Total: total, Page: page.Page, PageSize: page.Size})
}
