package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/smartcharger/charging-server/internal/api/middleware"
	"github.com/smartcharger/charging-server/internal/coremodel"
	"github.com/smartcharger/charging-server/internal/service"
)

// FaultHandler 故障报修API处理器
type FaultHandler struct {
	svc    *service.FaultService
	logger *zap.Logger
}

func NewFaultHandler(svc *service.FaultService, logger *zap.Logger) *FaultHandler {
	return &FaultHandler{svc: svc, logger: logger}
}

// ReportFaultRequest 报修请求
type ReportFaultRequest struct {
	PileID      int64  `json:"pile_id" binding:"required"`
	Description string `json:"description" binding:"required"`
}

// Report 上报故障，桩立即流转FAULT并通知受影响用户
// @Router /api/v1/fault-reports [post]
func (h *FaultHandler) Report(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, "缺少用户身份")
		return
	}

	var req ReportFaultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "无效的请求: "+err.Error())
		return
	}

	report, err := h.svc.Report(c.Request.Context(), &userID, req.PileID, req.Description)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, report)
}

// Get 查询报修单，本人或管理端
func (h *FaultHandler) Get(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的报修ID")
		return
	}

	isAdmin := c.GetBool("is_admin")
	userID, _ := middleware.UserID(c)
	if !isAdmin && userID == 0 {
		respondError(c, http.StatusUnauthorized, "缺少用户身份")
		return
	}

	report, err := h.svc.Get(c.Request.Context(), userID, id, isAdmin)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, report)
}

// List 报修单列表（管理端），支持桩与状态过滤
// @Router /api/v1/admin/fault-reports [get]
func (h *FaultHandler) List(c *gin.Context) {
	var pileID *int64
	if v := c.Query("pile_id"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			pileID = &id
		}
	}
	var status *coremodel.FaultStatus
	if v := c.Query("status"); v != "" {
		s := coremodel.FaultStatus(v)
		status = &s
	}

	page := parsePage(c)
	list, total, err := h.svc.List(c.Request.Context(), pileID, status, page)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, pagedData{List: list, Total: total, Page: page.Page, PageSize: page.Size})
}

// HandleFaultRequest 处理报修单请求
type HandleFaultRequest struct {
	Status string `json:"status" binding:"required"`
	Remark string `json:"remark"`
}

// Handle 处理报修单（管理端）。
// 置RESOLVED且桩上无其它未了结报修时，桩恢复IDLE。
// @Router /api/v1/admin/fault-reports/{id}/handle [post]
func (h *FaultHandler) Handle(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的报修ID")
		return
	}

	var req HandleFaultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "无效的请求: "+err.Error())
		return
	}

	// 管理端身份可无用户ID，处理人记0
	handlerID, _ := middleware.UserID(c)
	report, err := h.svc.Handle(c.Request.Context(), handlerID, id,
		coremodel.FaultStatus(req.Status), req.Remark)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, report)
}
