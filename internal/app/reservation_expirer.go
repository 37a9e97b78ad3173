package app

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/smartcharger/charging-server/internal/metrics"
	"github.com/smartcharger/charging-server/internal/service"
)

// ReservationExpirer 预约过期巡检。
// 定期把窗口结束仍未开始充电的PENDING预约置为EXPIRED并释放桩。
type ReservationExpirer struct {
	reservations *service.ReservationService
	metrics      *metrics.AppMetrics
	logger       *zap.Logger

	sweepInterval time.Duration
	batchLimit    int

	statsSwept   int64
	statsExpired int64
}

func NewReservationExpirer(reservations *service.ReservationService, m *metrics.AppMetrics,
	logger *zap.Logger, sweepInterval time.Duration) *ReservationExpirer {
	return &ReservationExpirer{
		reservations:  reservations,
		metrics:       m,
		logger:        logger,
		sweepInterval: sweepInterval,
		batchLimit:    500,
	}
}

// Start 启动巡检，ctx取消后退出
func (e *ReservationExpirer) Start(ctx context.Context) {
	e.logger.Info("reservation expirer started",
		zap.Duration("sweep_interval", e.sweepInterval))

	ticker := time.NewTicker(e.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("reservation expirer stopped",
				zap.Int64("swept", e.statsSwept),
				zap.Int64("expired", e.statsExpired))
			return
		case <-ticker.C:
			if _, err := e.Sweep(ctx); err != nil {
				e.logger.Error("reservation expire sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep 执行一次巡检，返回本次过期的预约数
func (e *ReservationExpirer) Sweep(ctx context.Context) (int, error) {
	e.statsSwept++
	if e.metrics != nil {
		e.metrics.ExpireSweepTotal.Inc()
	}

	expired, err := e.reservations.ExpireDue(ctx, e.batchLimit)
	if err != nil {
		return expired, err
	}
	if expired > 0 {
		e.statsExpired += int64(expired)
		if e.metrics != nil {
			e.metrics.ReservationExpired.Add(float64(expired))
		}
		e.logger.Info("reservations expired", zap.Int("count", expired))
	}
	return expired, nil
}
