package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/smartcharger/charging-server/internal/coremodel"
	"github.com/smartcharger/charging-server/internal/service"
	"github.com/smartcharger/charging-server/internal/storage"
)

// PriceHandler 费用配置API处理器
type PriceHandler struct {
	catalog *service.PriceCatalog
	billing *service.BillingCalculator
	repo    storage.CoreRepo
	logger  *zap.Logger
}

func NewPriceHandler(catalog *service.PriceCatalog, billing *service.BillingCalculator, repo storage.CoreRepo, logger *zap.Logger) *PriceHandler {
	return &PriceHandler{catalog: catalog, billing: billing, repo: repo, logger: logger}
}

// Estimate 按当前价格预估费用
// @Router /api/v1/price-configs/estimate [get]
func (h *PriceHandler) Estimate(c *gin.Context) {
	pileType := coremodel.PileType(c.Query("pile_type"))
	quantity, err := strconv.ParseFloat(c.Query("quantity"), 64)
	if err != nil {
		respondError(c, http.StatusBadRequest, "quantity 必须为数字")
		return
	}

	breakdown, err := h.billing.Estimate(c.Request.Context(), pileType, quantity)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, breakdown)
}

// Resolve 查询某桩型当前生效的费用配置
// @Router /api/v1/price-configs/current [get]
func (h *PriceHandler) Resolve(c *gin.Context) {
	pileType := coremodel.PileType(c.Query("pile_type"))
	cfg, err := h.catalog.Resolve(c.Request.Context(), pileType, time.Now())
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, cfg)
}

// PriceConfigRequest 创建/更新费用配置请求
type PriceConfigRequest struct {
	ID          int64      `json:"id"`
	PileType    string     `json:"pile_type" binding:"required"`
	PricePerKwh float64    `json:"price_per_kwh" binding:"required"`
	ServiceFee  float64    `json:"service_fee"`
	StartTime   *time.Time `json:"start_time"`
	EndTime     *time.Time `json:"end_time"`
	IsActive    *bool      `json:"is_active"`
}

// Upsert 创建或更新费用配置（管理端），不回溯已结算费用
// @Router /api/v1/admin/price-configs [post]
func (h *PriceHandler) Upsert(c *gin.Context) {
	var req PriceConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "无效的请求: "+err.Error())
		return
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	cfg, err := h.catalog.Upsert(c.Request.Context(), service.UpsertInput{
		ID:          req.ID,
		PileType:    coremodel.PileType(req.PileType),
		PricePerKwh: req.PricePerKwh,
		ServiceFee:  req.ServiceFee,
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
		IsActive:    active,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, cfg)
}

// Deactivate 停用费用配置（管理端）
// @Router /api/v1/admin/price-configs/{id}/deactivate [post]
func (h *PriceHandler) Deactivate(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的配置ID")
		return
	}
	if err := h.catalog.Deactivate(c.Request.Context(), id); err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, nil)
}

// List 费用配置列表（管理端）
// @Router /api/v1/admin/price-configs [get]
func (h *PriceHandler) List(c *gin.Context) {
	var pileType *coremodel.PileType
	if v := c.Query("pile_type"); v != "" {
		t := coremodel.PileType(v)
		pileType = &t
	}
	var isActive *bool
	if v := c.Query("is_active"); v != "" {
		b := v == "true"
		isActive = &b
	}

	page := parsePage(c)
	list, total, err := h.repo.ListPriceConfigs(c.Request.Context(), pileType, isActive, page)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, pagedData{List: list, Total: total, Page: page.Page, PageSize: page.Size})
}
