package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/smartcharger/charging-server/internal/coremodel"
	"github.com/smartcharger/charging-server/internal/pilelock"
	"github.com/smartcharger/charging-server/internal/storage"
	"github.com/smartcharger/charging-server/internal/storage/models"
)

// FaultNotifier 故障通知出口
type FaultNotifier interface {
	FaultNotice(ctx context.Context, userID, pileID int64, pileCode string) (*models.WarningNotice, error)
}

// FaultService 故障报修。
// 报修把桩打到FAULT并通知受影响用户；修复确认把桩放回IDLE。
type FaultService struct {
	repo     storage.CoreRepo
	locks    *pilelock.Keyed
	notifier FaultNotifier
	logger   *zap.Logger
}

// NewFaultService 创建故障报修服务。notifier可为nil（不下发通知）。
func NewFaultService(repo storage.CoreRepo, locks *pilelock.Keyed, notifier FaultNotifier, logger *zap.Logger) *FaultService {
	return &FaultService{repo: repo, locks: locks, notifier: notifier, logger: logger}
}

// Report 提交故障报修：创建PENDING报修单，桩流转到FAULT。
// userID为nil表示系统自动上报。
func (s *FaultService) Report(ctx context.Context, userID *int64, pileID int64, description string) (*models.FaultReport, error) {
	if strings.TrimSpace(description) == "" {
		return nil, fmt.Errorf("%w: fault description required", coremodel.ErrInvalidInput)
	}

	var (
		report   *models.FaultReport
		affected []int64
		pileCode string
	)
	err := s.locks.WithLock(pileID, func() error {
		return s.repo.WithTx(ctx, func(repo storage.CoreRepo) error {
			pile, err := repo.GetPile(ctx, pileID)
			if err != nil {
				return err
			}
			pileCode = pile.Code

			report = &models.FaultReport{
				UserID:      userID,
				PileID:      pileID,
				Description: description,
				Status:      coremodel.FaultPending,
			}
			if err := repo.CreateFaultReport(ctx, report); err != nil {
				return err
			}

			// 已在FAULT的桩保持不动，只累计报修单
			if pile.Status != coremodel.PileStatusFault {
				next, err := PileTransition(pile.Status, EventReportFault)
				if err != nil {
					return err
				}
				if err := repo.UpdatePileStatus(ctx, pileID, next); err != nil {
					return err
				}
			}

			affected, err = s.affectedUsers(ctx, repo, pileID)
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	// 通知在事务外下发，失败只记日志
	if s.notifier != nil {
		for _, uid := range affected {
			if _, err := s.notifier.FaultNotice(ctx, uid, pileID, pileCode); err != nil {
				s.logger.Error("send fault notice failed",
					zap.Int64("user_id", uid),
					zap.Int64("pile_id", pileID),
					zap.Error(err))
			}
		}
	}

	s.logger.Info("fault reported",
		zap.Int64("fault_report_id", report.ID),
		zap.Int64("pile_id", pileID))
	return report, nil
}

// Handle 管理员处理报修：PENDING→PROCESSING→RESOLVED。
// 全部报修单修复后，桩从FAULT放回IDLE。
func (s *FaultService) Handle(ctx context.Context, handlerID, reportID int64, status coremodel.FaultStatus, remark string) (*models.FaultReport, error) {
	if status != coremodel.FaultProcessing && status != coremodel.FaultResolved {
		return nil, fmt.Errorf("%w: handle status must be PROCESSING or RESOLVED", coremodel.ErrInvalidInput)
	}

	report, err := s.repo.GetFaultReport(ctx, reportID)
	if err != nil {
		return nil, err
	}

	err = s.locks.WithLock(report.PileID, func() error {
		return s.repo.WithTx(ctx, func(repo storage.CoreRepo) error {
			report, err = repo.GetFaultReport(ctx, reportID)
			if err != nil {
				return err
			}
			if report.Status == coremodel.FaultResolved {
				return fmt.Errorf("%w: fault report already resolved", coremodel.ErrInvalidStateTransition)
			}

			report.Status = status
			report.HandlerID = &handlerID
			if r := strings.TrimSpace(remark); r != "" {
				report.HandleRemark = &r
			}
			if err := repo.UpdateFaultReport(ctx, report); err != nil {
				return err
			}

			if status == coremodel.FaultResolved {
				return s.restorePile(ctx, repo, report.PileID)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("fault report handled",
		zap.Int64("fault_report_id", reportID),
		zap.Int64("handler_id", handlerID),
		zap.String("status", string(status)))
	return report, nil
}

// Get 查询报修单，非管理员校验归属
func (s *FaultService) Get(ctx context.Context, userID int64, reportID int64, isAdmin bool) (*models.FaultReport, error) {
	report, err := s.repo.GetFaultReport(ctx, reportID)
	if err != nil {
		return nil, err
	}
	if !isAdmin && (report.UserID == nil || *report.UserID != userID) {
		return nil, fmt.Errorf("%w: fault report %d", coremodel.ErrUnauthorized, reportID)
	}
	return report, nil
}

// List 分页查询报修单
func (s *FaultService) List(ctx context.Context, pileID *int64, status *coremodel.FaultStatus, page storage.ListPage) ([]models.FaultReport, int64, error) {
	return s.repo.ListFaultReports(ctx, pileID, status, page)
}

// affectedUsers 受故障影响需要通知的用户：
// 当前充电中的用户和桩上未使用预约的持有人，去重。
func (s *FaultService) affectedUsers(ctx context.Context, repo storage.CoreRepo, pileID int64) ([]int64, error) {
	seen := map[int64]struct{}{}
	var users []int64

	rec, err := repo.GetActiveRecordByPile(ctx, pileID)
	if err != nil {
		return nil, err
	}
	if rec != nil {
		seen[rec.UserID] = struct{}{}
		users = append(users, rec.UserID)
	}

	resvs, err := repo.ListActiveReservationsByPile(ctx, pileID)
	if err != nil {
		return nil, err
	}
	for i := range resvs {
		if _, ok := seen[resvs[i].UserID]; ok {
			continue
		}
		seen[resvs[i].UserID] = struct{}{}
		users = append(users, resvs[i].UserID)
	}
	return users, nil
}

// restorePile 最后一张报修单修复后恢复充电桩
func (s *FaultService) restorePile(ctx context.Context, repo storage.CoreRepo, pileID int64) error {
	open, err := repo.CountOpenFaultsByPile(ctx, pileID)
	if err != nil {
		return err
	}
	if open > 0 {
		return nil
	}
	pile, err := repo.GetPile(ctx, pileID)
	if err != nil {
		return err
	}
	if pile.Status != coremodel.PileStatusFault {
		return nil
	}
	next, err := PileTransition(pile.Status, EventResolveFault)
	if err != nil {
		return err
	}
	return repo.UpdatePileStatus(ctx, pileID, next)
}
