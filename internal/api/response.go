package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/smartcharger/charging-server/internal/coremodel"
)

// StandardResponse 标准响应格式
type StandardResponse struct {
	Code      int         `json:"code"`           // 0=成功, >0=错误码
	Message   string      `json:"message"`        // 消息
	Data      interface{} `json:"data,omitempty"` // 业务数据
	RequestID string      `json:"request_id"`     // 请求追踪ID
	Timestamp int64       `json:"timestamp"`      // 时间戳
}

func respondOK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, StandardResponse{
		Code:      0,
		Message:   "ok",
		Data:      data,
		RequestID: c.GetString("request_id"),
		Timestamp: time.Now().Unix(),
	})
}

func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, StandardResponse{
		Code:      status,
		Message:   message,
		RequestID: c.GetString("request_id"),
		Timestamp: time.Now().Unix(),
	})
}

// respondServiceError 业务错误按哨兵分类映射HTTP状态码
func respondServiceError(c *gin.Context, err error) {
	respondError(c, classifyError(err), err.Error())
}

func classifyError(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, coremodel.ErrInvalidInput),
		errors.Is(err, coremodel.ErrInvalidWindow):
		return http.StatusBadRequest
	case errors.Is(err, coremodel.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, coremodel.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, coremodel.ErrSlotConflict),
		errors.Is(err, coremodel.ErrInvalidStateTransition),
		errors.Is(err, coremodel.ErrPriceConfigConflict),
		errors.Is(err, coremodel.ErrAmbiguousPriceConfig):
		return http.StatusConflict
	case errors.Is(err, coremodel.ErrNoActivePriceConfig):
		return http.StatusUnprocessableEntity
	case errors.Is(err, coremodel.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// pagedData 分页响应体
type pagedData struct {
	List     interface{} `json:"list"`
	Total    int64       `json:"total"`
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
}
