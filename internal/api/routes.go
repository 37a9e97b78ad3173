package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/smartcharger/charging-server/internal/api/middleware"
	"github.com/smartcharger/charging-server/internal/config"
	"github.com/smartcharger/charging-server/internal/metrics"
)

// Handlers 路由注册所需的处理器集合
type Handlers struct {
	Pile        *PileHandler
	Reservation *ReservationHandler
	Charging    *ChargingHandler
	Price       *PriceHandler
	Notice      *NoticeHandler
	Fault       *FaultHandler
	WS          *WSHandler
}

// RegisterRoutes 注册全部业务路由。
// /api/v1 下的用户接口依赖X-User-ID身份；/api/v1/admin 需API Key。
func RegisterRoutes(r *gin.Engine, h Handlers, cfg config.HTTPConfig, m *metrics.AppMetrics, logger *zap.Logger) {
	r.Use(middleware.RequestTracing())
	r.Use(middleware.Metrics(m))
	r.Use(middleware.RateLimit(cfg.RateLimit, cfg.RateBurst))

	v1 := r.Group("/api/v1")
	v1.Use(middleware.Identity())

	// 充电桩（查询公开）
	v1.GET("/piles", h.Pile.List)
	v1.GET("/piles/:id", h.Pile.Get)
	v1.GET("/piles/:id/availability", h.Pile.CheckAvailability)

	// 预约
	v1.POST("/reservations", h.Reservation.Create)
	v1.GET("/reservations", h.Reservation.List)
	v1.GET("/reservations/current", h.Reservation.Current)
	v1.GET("/reservations/:id", h.Reservation.Get)
	v1.POST("/reservations/:id/cancel", h.Reservation.Cancel)

	// 充电会话
	v1.POST("/charging-records/start", h.Charging.Start)
	v1.GET("/charging-records", h.Charging.List)
	v1.GET("/charging-records/current", h.Charging.Current)
	v1.GET("/charging-records/:id", h.Charging.Get)
	v1.POST("/charging-records/:id/end", h.Charging.End)
	v1.GET("/violations", h.Charging.ListViolations)

	// 费用
	v1.GET("/price-configs/estimate", h.Price.Estimate)
	v1.GET("/price-configs/current", h.Price.Resolve)

	// 通知
	v1.GET("/notices", h.Notice.List)
	v1.GET("/notices/unread-count", h.Notice.UnreadCount)
	v1.POST("/notices/:id/read", h.Notice.MarkRead)
	v1.POST("/notices/read-all", h.Notice.MarkAllRead)
	v1.DELETE("/notices/:id", h.Notice.Delete)
	v1.GET("/notices/threshold", h.Notice.GetThreshold)
	v1.PUT("/notices/threshold", h.Notice.SetThreshold)

	// 故障报修
	v1.POST("/fault-reports", h.Fault.Report)
	v1.GET("/fault-reports/:id", h.Fault.Get)

	// 通知推送
	if h.WS != nil {
		v1.GET("/ws", h.WS.Serve)
	}

	// 管理端
	admin := v1.Group("/admin")
	admin.Use(middleware.AdminAuth(cfg.AdminAPIKey, logger))
	admin.POST("/piles", h.Pile.Create)
	admin.PUT("/piles/:id", h.Pile.Update)
	admin.DELETE("/piles/:id", h.Pile.Delete)
	admin.POST("/piles/:id/vacate", h.Pile.Vacate)
	admin.POST("/price-configs", h.Price.Upsert)
	admin.GET("/price-configs", h.Price.List)
	admin.POST("/price-configs/:id/deactivate", h.Price.Deactivate)
	admin.GET("/fault-reports", h.Fault.List)
	admin.GET("/fault-reports/:id", h.Fault.Get)
	admin.POST("/fault-reports/:id/handle", h.Fault.Handle)

	logger.Info("api routes registered")
}
