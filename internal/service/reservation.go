package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/smartcharger/charging-server/internal/coremodel"
	"github.com/smartcharger/charging-server/internal/pilelock"
	"github.com/smartcharger/charging-server/internal/storage"
	"github.com/smartcharger/charging-server/internal/storage/models"
)

// ReservationInput 创建预约请求
type ReservationInput struct {
	UserID    int64
	PileID    int64
	VehicleID *int64
	Window    coremodel.Window
}

// ReservationService 预约调度。
// 创建/取消/过期都在桩级互斥 + 事务内完成读-判-写，
// 预约写入与桩状态流转要么同时生效要么都不生效。
type ReservationService struct {
	repo   storage.CoreRepo
	locks  *pilelock.Keyed
	users  *pilelock.Keyed
	policy Policy
	logger *zap.Logger
	now    func() time.Time
}

// NewReservationService 创建预约调度服务
func NewReservationService(repo storage.CoreRepo, locks *pilelock.Keyed, policy Policy, logger *zap.Logger) *ReservationService {
	return &ReservationService{repo: repo, locks: locks, users: pilelock.New(), policy: policy, logger: logger, now: time.Now}
}

// Create 创建预约。
// 校验时间窗、单用户单预约守卫、桩上时间窗冲突，成功后桩IDLE→RESERVED。
func (s *ReservationService) Create(ctx context.Context, in ReservationInput) (*models.Reservation, error) {
	now := s.now()
	if err := s.validateWindow(in.Window, now); err != nil {
		return nil, err
	}

	var created *models.Reservation
	// 用户锁在外、桩锁在内，串行化同一用户的并发创建请求
	err := s.users.WithLock(in.UserID, func() error {
		// 单用户同一时刻最多一条进行中预约
		existing, err := s.repo.GetActiveReservationByUser(ctx, in.UserID)
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("%w: user %d already has a pending reservation", coremodel.ErrSlotConflict, in.UserID)
		}

		return s.locks.WithLock(in.PileID, func() error {
			return s.repo.WithTx(ctx, func(repo storage.CoreRepo) error {
				pile, err := repo.GetPile(ctx, in.PileID)
				if err != nil {
					return err
				}
				if pile.Status == coremodel.PileStatusFault || pile.Status == coremodel.PileStatusOvertime {
					return fmt.Errorf("%w: reserve on %s pile", coremodel.ErrInvalidStateTransition, pile.Status)
				}

				if err := s.checkConflicts(ctx, repo, in.PileID, in.Window); err != nil {
					return err
				}

				resv := &models.Reservation{
					ReservationNo: newReservationNo(),
					UserID:        in.UserID,
					PileID:        in.PileID,
					VehicleID:     in.VehicleID,
					StartTime:     in.Window.Start,
					EndTime:       in.Window.End,
					Status:        coremodel.ReservationPending,
				}
				if err := repo.CreateReservation(ctx, resv); err != nil {
					return err
				}

				// 桩空闲则占用；已是RESERVED（同桩不重叠的后续预约）保持不变
				if pile.Status == coremodel.PileStatusIdle {
					next, err := PileTransition(pile.Status, EventReserve)
					if err != nil {
						return err
					}
					if err := repo.UpdatePileStatus(ctx, in.PileID, next); err != nil {
						return err
					}
				}

				created = resv
				return nil
			})
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("reservation created",
		zap.Int64("reservation_id", created.ID),
		zap.String("reservation_no", created.ReservationNo),
		zap.Int64("user_id", in.UserID),
		zap.Int64("pile_id", in.PileID),
		zap.Time("start_time", in.Window.Start),
		zap.Time("end_time", in.Window.End))
	return created, nil
}

// Cancel 用户取消预约。仅PENDING且时间窗尚未开始时允许。
func (s *ReservationService) Cancel(ctx context.Context, userID, reservationID int64, reason string) error {
	resv, err := s.repo.GetReservation(ctx, reservationID)
	if err != nil {
		return err
	}
	if resv.UserID != userID {
		return fmt.Errorf("%w: reservation %d", coremodel.ErrUnauthorized, reservationID)
	}

	return s.locks.WithLock(resv.PileID, func() error {
		return s.repo.WithTx(ctx, func(repo storage.CoreRepo) error {
			// 锁内重读，避免并发期间状态已变
			resv, err := repo.GetReservation(ctx, reservationID)
			if err != nil {
				return err
			}
			if resv.Status.Terminal() {
				return fmt.Errorf("%w: cancel %s reservation", coremodel.ErrInvalidStateTransition, resv.Status)
			}
			if !s.now().Before(resv.StartTime) {
				return fmt.Errorf("%w: cancel after window start", coremodel.ErrInvalidStateTransition)
			}

			var cancelReason *string
			if r := strings.TrimSpace(reason); r != "" {
				cancelReason = &r
			}
			if err := repo.UpdateReservationStatus(ctx, reservationID, coremodel.ReservationCancelled, cancelReason); err != nil {
				return err
			}
			if err := s.releasePile(ctx, repo, resv.PileID); err != nil {
				return err
			}

			s.logger.Info("reservation cancelled",
				zap.Int64("reservation_id", reservationID),
				zap.Int64("user_id", userID))
			return nil
		})
	})
}

// Expire 单条预约过期：PENDING → EXPIRED并释放充电桩
func (s *ReservationService) Expire(ctx context.Context, reservationID int64) error {
	resv, err := s.repo.GetReservation(ctx, reservationID)
	if err != nil {
		return err
	}

	return s.locks.WithLock(resv.PileID, func() error {
		return s.repo.WithTx(ctx, func(repo storage.CoreRepo) error {
			resv, err := repo.GetReservation(ctx, reservationID)
			if err != nil {
				return err
			}
			if resv.Status != coremodel.ReservationPending {
				// 已被取消/已开始充电，过期任务与请求线程赛跑属正常情况
				return nil
			}
			if err := repo.UpdateReservationStatus(ctx, reservationID, coremodel.ReservationExpired, nil); err != nil {
				return err
			}
			if err := s.releasePile(ctx, repo, resv.PileID); err != nil {
				return err
			}

			s.logger.Info("reservation expired",
				zap.Int64("reservation_id", reservationID),
				zap.Int64("pile_id", resv.PileID))
			return nil
		})
	})
}

// ExpireDue 批量处理已到期的预约，逐条隔离失败，返回成功条数。
// 由后台任务按分钟级节拍调用。
func (s *ReservationService) ExpireDue(ctx context.Context, limit int) (int, error) {
	due, err := s.repo.ListExpiredReservations(ctx, s.now(), limit)
	if err != nil {
		return 0, err
	}

	expired := 0
	for i := range due {
		if err := s.Expire(ctx, due[i].ID); err != nil {
			s.logger.Error("expire reservation failed",
				zap.Int64("reservation_id", due[i].ID),
				zap.Error(err))
			continue
		}
		expired++
	}
	return expired, nil
}

// CheckAvailability 只读冲突检查，复用与Create相同的重叠判定
func (s *ReservationService) CheckAvailability(ctx context.Context, pileID int64, window coremodel.Window) (bool, error) {
	if !window.Start.Before(window.End) {
		return false, fmt.Errorf("%w: end must be after start", coremodel.ErrInvalidWindow)
	}

	pile, err := s.repo.GetPile(ctx, pileID)
	if err != nil {
		return false, err
	}
	if pile.Status == coremodel.PileStatusFault || pile.Status == coremodel.PileStatusOvertime {
		return false, nil
	}

	if err := s.checkConflicts(ctx, s.repo, pileID, window); err != nil {
		if errors.Is(err, coremodel.ErrSlotConflict) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Get 查询预约详情，校验归属
func (s *ReservationService) Get(ctx context.Context, userID, reservationID int64) (*models.Reservation, error) {
	resv, err := s.repo.GetReservation(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	if resv.UserID != userID {
		return nil, fmt.Errorf("%w: reservation %d", coremodel.ErrUnauthorized, reservationID)
	}
	return resv, nil
}

// Current 查询用户当前进行中预约，没有时返回 (nil, nil)
func (s *ReservationService) Current(ctx context.Context, userID int64) (*models.Reservation, error) {
	return s.repo.GetActiveReservationByUser(ctx, userID)
}

// List 分页查询预约历史
func (s *ReservationService) List(ctx context.Context, filter storage.ReservationFilter, page storage.ListPage) ([]models.Reservation, int64, error) {
	return s.repo.ListReservations(ctx, filter, page)
}

func (s *ReservationService) validateWindow(w coremodel.Window, now time.Time) error {
	if !w.Start.After(now) {
		return fmt.Errorf("%w: start must be in the future", coremodel.ErrInvalidWindow)
	}
	if !w.Start.Before(w.End) {
		return fmt.Errorf("%w: end must be after start", coremodel.ErrInvalidWindow)
	}
	if w.Duration() > s.policy.MaxReservationDuration {
		return fmt.Errorf("%w: duration exceeds %s", coremodel.ErrInvalidWindow, s.policy.MaxReservationDuration)
	}
	return nil
}

// checkConflicts 半开区间重叠判定：[s1,e1) 与 [s2,e2) 重叠 ⇔ s1<e2 && s2<e1。
// 进行中的充电会话没有结束时间，按右端开放处理。
func (s *ReservationService) checkConflicts(ctx context.Context, repo storage.CoreRepo, pileID int64, window coremodel.Window) error {
	active, err := repo.ListActiveReservationsByPile(ctx, pileID)
	if err != nil {
		return err
	}
	for i := range active {
		if window.Overlaps(active[i].Window()) {
			return fmt.Errorf("%w: overlaps reservation %d", coremodel.ErrSlotConflict, active[i].ID)
		}
	}

	rec, err := repo.GetActiveRecordByPile(ctx, pileID)
	if err != nil {
		return err
	}
	if rec != nil && rec.StartTime.Before(window.End) {
		return fmt.Errorf("%w: pile %d has an active charging session", coremodel.ErrSlotConflict, pileID)
	}
	return nil
}

// releasePile 释放充电桩：桩处于RESERVED且无其余进行中预约时回到IDLE
func (s *ReservationService) releasePile(ctx context.Context, repo storage.CoreRepo, pileID int64) error {
	pile, err := repo.GetPile(ctx, pileID)
	if err != nil {
		return err
	}
	if pile.Status != coremodel.PileStatusReserved {
		return nil
	}
	remaining, err := repo.ListActiveReservationsByPile(ctx, pileID)
	if err != nil {
		return err
	}
	if len(remaining) > 0 {
		return nil
	}
	next, err := PileTransition(pile.Status, EventReleaseReservation)
	if err != nil {
		return err
	}
	return repo.UpdatePileStatus(ctx, pileID, next)
}

func newReservationNo() string {
	return "R" + strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", ""))[:21]
}
