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

// PileHandler 充电桩API处理器
type PileHandler struct {
	piles        *service.PileService
	reservations *service.ReservationService
	logger       *zap.Logger
}

func NewPileHandler(piles *service.PileService, reservations *service.ReservationService, logger *zap.Logger) *PileHandler {
	return &PileHandler{piles: piles, reservations: reservations, logger: logger}
}

// PileRequest 创建/更新充电桩请求
type PileRequest struct {
	Code     string   `json:"code" binding:"required"`
	Location string   `json:"location" binding:"required"`
	Lng      *float64 `json:"lng"`
	Lat      *float64 `json:"lat"`
	Type     string   `json:"type" binding:"required"`
	PowerKW  float64  `json:"power_kw" binding:"required"`
}

func (r *PileRequest) toInput() service.PileInput {
	return service.PileInput{
		Code:     r.Code,
		Location: r.Location,
		Lng:      r.Lng,
		Lat:      r.Lat,
		Type:     coremodel.PileType(r.Type),
		PowerKW:  r.PowerKW,
	}
}

// Create 创建充电桩（管理端）
// @Router /api/v1/admin/piles [post]
func (h *PileHandler) Create(c *gin.Context) {
	var req PileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "无效的请求: "+err.Error())
		return
	}

	pile, err := h.piles.Create(c.Request.Context(), req.toInput())
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, pile)
}

// Update 更新充电桩静态属性（管理端），不影响状态
// @Router /api/v1/admin/piles/{id} [put]
func (h *PileHandler) Update(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的桩ID")
		return
	}
	var req PileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "无效的请求: "+err.Error())
		return
	}

	pile, err := h.piles.Update(c.Request.Context(), id, req.toInput())
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, pile)
}

// Delete 下线充电桩（管理端），仅空闲且无未完成预约时允许
// @Router /api/v1/admin/piles/{id} [delete]
func (h *PileHandler) Delete(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的桩ID")
		return
	}
	if err := h.piles.Delete(c.Request.Context(), id); err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, nil)
}

// Vacate 确认挪车（管理端/后台），OVERTIME桩恢复空闲
// @Router /api/v1/admin/piles/{id}/vacate [post]
func (h *PileHandler) Vacate(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的桩ID")
		return
	}
	if err := h.piles.Vacate(c.Request.Context(), id); err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, nil)
}

// Get 查询单桩
func (h *PileHandler) Get(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的桩ID")
		return
	}
	pile, err := h.piles.Get(c.Request.Context(), id)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, pile)
}

// List 桩列表，支持按状态/类型过滤
// @Router /api/v1/piles [get]
func (h *PileHandler) List(c *gin.Context) {
	var status *coremodel.PileStatus
	if v := c.Query("status"); v != "" {
		s := coremodel.PileStatus(v)
		status = &s
	}
	var pileType *coremodel.PileType
	if v := c.Query("type"); v != "" {
		t := coremodel.PileType(v)
		pileType = &t
	}

	page := parsePage(c)
	list, total, err := h.piles.List(c.Request.Context(), status, pileType, page)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, pagedData{List: list, Total: total, Page: page.Page, PageSize: page.Size})
}

// CheckAvailability 查询桩在给定时间窗内是否可预约
// @Router /api/v1/piles/{id}/availability [get]
func (h *PileHandler) CheckAvailability(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的桩ID")
		return
	}
	start, err1 := time.Parse(time.RFC3339, c.Query("start"))
	end, err2 := time.Parse(time.RFC3339, c.Query("end"))
	if err1 != nil || err2 != nil {
		respondError(c, http.StatusBadRequest, "start/end 必须为RFC3339时间")
		return
	}

	available, err := h.reservations.CheckAvailability(c.Request.Context(),
		id, coremodel.Window{Start: start, End: end})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, gin.H{"available": available})
}

// pathID 解析路径中的数字ID
func pathID(c *gin.Context, name string) (int64, error) {
	return strconv.ParseInt(c.Param(name), 10, 64)
}

// parsePage 解析分页参数，默认第1页20条
func parsePage(c *gin.Context) storage.ListPage {
	page := storage.ListPage{Page: 1, Size: 20}
	if v := c.Query("page"); v != "" {
		if vv, e := strconv.Atoi(v); e == nil && vv > 0 {
			page.Page = vv
		}
	}
	if v := c.Query("page_size"); v != "" {
		if vv, e := strconv.Atoi(v); e == nil && vv > 0 && vv <= 200 {
			page.Size = vv
		}
	}
	return page
}
