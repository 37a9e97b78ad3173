package app

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/smartcharger/charging-server/internal/coremodel"
	"github.com/smartcharger/charging-server/internal/metrics"
	"github.com/smartcharger/charging-server/internal/pilelock"
	"github.com/smartcharger/charging-server/internal/service"
	"github.com/smartcharger/charging-server/internal/storage"
	"github.com/smartcharger/charging-server/internal/storage/models"
)

// OvertimeNotifier 超时预警通知出口
type OvertimeNotifier interface {
	OvertimeWarning(ctx context.Context, userID, pileID, recordID int64, pileCode string, overtimeMinutes int32) (*models.WarningNotice, error)
}

// ThresholdSource 用户级预警阈值来源，未设置时回落到系统默认
type ThresholdSource interface {
	Get(ctx context.Context, userID int64) (minutes int, ok bool, err error)
}

// OvertimeMonitor 超时占位巡检。
// 定期扫描已完成未挪车的充电记录：占位超过宽限阈值且桩上
// 没有更新的承诺时，桩和记录流转为OVERTIME，创建唯一一条
// 违规记录并下发超时预警。逐条隔离失败，可安全重复执行。
type OvertimeMonitor struct {
	repo       storage.CoreRepo
	locks      *pilelock.Keyed
	notifier   OvertimeNotifier
	thresholds ThresholdSource
	metrics    *metrics.AppMetrics
	logger     *zap.Logger

	sweepInterval time.Duration
	grace         time.Duration
	batchLimit    int
	now           func() time.Time

	statsSwept      int64
	statsViolations int64
}

// NewOvertimeMonitor 创建超时巡检。thresholds/notifier/metrics均可为nil。
func NewOvertimeMonitor(repo storage.CoreRepo, locks *pilelock.Keyed, notifier OvertimeNotifier,
	thresholds ThresholdSource, m *metrics.AppMetrics, logger *zap.Logger,
	sweepInterval, grace time.Duration) *OvertimeMonitor {
	return &OvertimeMonitor{
		repo:          repo,
		locks:         locks,
		notifier:      notifier,
		thresholds:    thresholds,
		metrics:       m,
		logger:        logger,
		sweepInterval: sweepInterval,
		grace:         grace,
		batchLimit:    500,
		now:           time.Now,
	}
}

// Start 启动巡检，ctx取消后退出
func (m *OvertimeMonitor) Start(ctx context.Context) {
	m.logger.Info("overtime monitor started",
		zap.Duration("sweep_interval", m.sweepInterval),
		zap.Duration("grace", m.grace))

	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("overtime monitor stopped",
				zap.Int64("swept", m.statsSwept),
				zap.Int64("violations", m.statsViolations))
			return
		case <-ticker.C:
			if _, err := m.Sweep(ctx); err != nil {
				m.logger.Error("overtime sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep 执行一次巡检，返回本次检出的违规数
func (m *OvertimeMonitor) Sweep(ctx context.Context) (int, error) {
	m.statsSwept++
	if m.metrics != nil {
		m.metrics.OvertimeSweepTotal.Inc()
	}

	now := m.now()
	records, err := m.repo.ListUnvacatedRecords(ctx, now, m.batchLimit)
	if err != nil {
		return 0, err
	}

	flagged := 0
	for i := range records {
		rec := &records[i]
		threshold := m.userThreshold(ctx, rec.UserID)
		elapsed := now.Sub(*rec.EndTime)
		if elapsed < threshold {
			continue
		}

		ok, err := m.flag(ctx, rec, elapsed, threshold)
		if err != nil {
			m.logger.Error("flag overtime record failed",
				zap.Int64("record_id", rec.ID),
				zap.Error(err))
			continue
		}
		if ok {
			flagged++
			m.statsViolations++
			if m.metrics != nil {
				m.metrics.ViolationTotal.Inc()
			}
		}
	}

	if flagged > 0 {
		m.logger.Info("overtime sweep done",
			zap.Int("checked", len(records)),
			zap.Int("flagged", flagged))
	}
	return flagged, nil
}

// flag 处理一条超时记录。幂等：已有违规记录时不再重复生效。
func (m *OvertimeMonitor) flag(ctx context.Context, rec *models.ChargingRecord, elapsed, threshold time.Duration) (bool, error) {
	var (
		flagged  bool
		pileCode string
	)
	overtimeMinutes := int32((elapsed - threshold) / time.Minute)

	err := m.locks.WithLock(rec.PileID, func() error {
		return m.repo.WithTx(ctx, func(repo storage.CoreRepo) error {
			// 幂等检查：一条充电记录至多一条违规
			existing, err := repo.GetViolationByRecord(ctx, rec.ID)
			if err != nil {
				return err
			}
			if existing != nil {
				return nil
			}

			// 锁内重读，记录可能已被并发流转
			cur, err := repo.GetRecord(ctx, rec.ID)
			if err != nil {
				return err
			}
			if cur.Status != coremodel.RecordCompleted {
				return nil
			}

			pile, err := repo.GetPile(ctx, rec.PileID)
			if err != nil {
				return err
			}
			pileCode = pile.Code

			// 桩已有更新的承诺（新的会话/预约/故障处理中）时本条不再追责
			latest, err := repo.GetLatestRecordByPile(ctx, rec.PileID)
			if err != nil {
				return err
			}
			if latest != nil && latest.ID != rec.ID {
				return nil
			}
			if pile.Status != coremodel.PileStatusIdle && pile.Status != coremodel.PileStatusOvertime {
				return nil
			}

			if pile.Status == coremodel.PileStatusIdle {
				next, err := service.PileTransition(pile.Status, service.EventOvertimeDetected)
				if err != nil {
					return err
				}
				if err := repo.UpdatePileStatus(ctx, rec.PileID, next); err != nil {
					return err
				}
			}
			if err := repo.UpdateRecordStatus(ctx, rec.ID, coremodel.RecordOvertime); err != nil {
				return err
			}
			if err := repo.CreateViolation(ctx, &models.ViolationRecord{
				ChargingRecordID: rec.ID,
				UserID:           rec.UserID,
				PileID:           rec.PileID,
				OvertimeMinutes:  overtimeMinutes,
				DetectedAt:       m.now(),
			}); err != nil {
				return err
			}

			flagged = true
			return nil
		})
	})
	if err != nil || !flagged {
		return false, err
	}

	// 通知在事务外下发，失败不影响违规落库
	if m.notifier != nil {
		if _, err := m.notifier.OvertimeWarning(ctx, rec.UserID, rec.PileID, rec.ID, pileCode, overtimeMinutes); err != nil {
			m.logger.Error("send overtime warning failed",
				zap.Int64("record_id", rec.ID),
				zap.Error(err))
		}
	}

	m.logger.Info("overtime violation flagged",
		zap.Int64("record_id", rec.ID),
		zap.Int64("pile_id", rec.PileID),
		zap.Int32("overtime_minutes", overtimeMinutes))
	return true, nil
}

// userThreshold 用户级阈值，未设置回落系统默认
func (m *OvertimeMonitor) userThreshold(ctx context.Context, userID int64) time.Duration {
	if m.thresholds == nil {
		return m.grace
	}
	minutes, ok, err := m.thresholds.Get(ctx, userID)
	if err != nil {
		m.logger.Warn("load user threshold failed", zap.Int64("user_id", userID), zap.Error(err))
		return m.grace
	}
	if !ok || minutes <= 0 {
		return m.grace
	}
	return time.Duration(minutes) * time.Minute
}
