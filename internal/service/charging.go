package service

import (
	"context"
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

// StartInput 开始充电请求
type StartInput struct {
	UserID    int64
	PileID    int64
	VehicleID *int64
}

// EndInput 结束充电请求
type EndInput struct {
	UserID           int64
	RecordID         int64
	ElectricQuantity float64
}

// ChargingService 充电会话管理。
// 开始/结束都在桩级互斥 + 事务内完成，会话与桩状态同生同灭。
type ChargingService struct {
	repo    storage.CoreRepo
	locks   *pilelock.Keyed
	users   *pilelock.Keyed
	billing *BillingCalculator
	policy  Policy
	logger  *zap.Logger
	now     func() time.Time
}

// NewChargingService 创建充电会话服务
func NewChargingService(repo storage.CoreRepo, locks *pilelock.Keyed, billing *BillingCalculator, policy Policy, logger *zap.Logger) *ChargingService {
	return &ChargingService{repo: repo, locks: locks, users: pilelock.New(), billing: billing, policy: policy, logger: logger, now: time.Now}
}

// Start 开始充电。
// 空闲桩直接开始；已预约的桩只有预约持有人可以开始，
// 且允许比预约开始时间提前不超过 EarlyStartWindow。
// 命中本人预约时把预约流转为COMPLETED（预约被消费）。
func (s *ChargingService) Start(ctx context.Context, in StartInput) (*models.ChargingRecord, error) {
	var created *models.ChargingRecord
	// 用户锁在外、桩锁在内，串行化同一用户的并发开始请求
	err := s.users.WithLock(in.UserID, func() error {
		// 单用户同一时刻最多一条进行中会话
		active, err := s.repo.GetActiveRecordByUser(ctx, in.UserID)
		if err != nil {
			return err
		}
		if active != nil {
			return fmt.Errorf("%w: user %d already charging", coremodel.ErrSlotConflict, in.UserID)
		}

		return s.locks.WithLock(in.PileID, func() error {
			return s.repo.WithTx(ctx, func(repo storage.CoreRepo) error {
				pile, err := repo.GetPile(ctx, in.PileID)
				if err != nil {
					return err
				}

				now := s.now()
				consumed, err := s.claimReservation(ctx, repo, pile, in.UserID, now)
				if err != nil {
					return err
				}

				next, err := PileTransition(pile.Status, EventStartCharge)
				if err != nil {
					return err
				}

				// 把当前生效电价锁进记录，结算只认这份快照
				cfg, err := s.billing.Snapshot(ctx, pile.Type, now)
				if err != nil {
					return err
				}
				cfgID, pricePerKwh, serviceFee := cfg.ID, cfg.PricePerKwh, cfg.ServiceFee

				rec := &models.ChargingRecord{
					RecordNo:      newRecordNo(),
					UserID:        in.UserID,
					PileID:        in.PileID,
					VehicleID:     in.VehicleID,
					StartTime:     now,
					Status:        coremodel.RecordCharging,
					PriceConfigID: &cfgID,
					PricePerKwh:   &pricePerKwh,
					ServiceFee:    &serviceFee,
				}
				if consumed != nil {
					rec.ReservationID = &consumed.ID
				}
				if err := repo.CreateRecord(ctx, rec); err != nil {
					return err
				}
				if consumed != nil {
					if err := repo.UpdateReservationStatus(ctx, consumed.ID, coremodel.ReservationCompleted, nil); err != nil {
						return err
					}
				}
				if err := repo.UpdatePileStatus(ctx, in.PileID, next); err != nil {
					return err
				}

				created = rec
				return nil
			})
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("charging started",
		zap.Int64("record_id", created.ID),
		zap.String("record_no", created.RecordNo),
		zap.Int64("user_id", in.UserID),
		zap.Int64("pile_id", in.PileID))
	return created, nil
}

// End 结束充电：写入结束时间/时长/电量，按开始充电时锁定的费用快照结算，
// 记录流转为COMPLETED。桩仍在充电中则回到IDLE；
// 桩已因故障等原因离开CHARGING时只结算记录，不动桩状态。
func (s *ChargingService) End(ctx context.Context, in EndInput) (*models.ChargingRecord, error) {
	if in.ElectricQuantity < 0 {
		return nil, fmt.Errorf("%w: electric quantity must not be negative", coremodel.ErrInvalidInput)
	}

	rec, err := s.repo.GetRecord(ctx, in.RecordID)
	if err != nil {
		return nil, err
	}
	if rec.UserID != in.UserID {
		return nil, fmt.Errorf("%w: charging record %d", coremodel.ErrUnauthorized, in.RecordID)
	}

	var closed *models.ChargingRecord
	err = s.locks.WithLock(rec.PileID, func() error {
		return s.repo.WithTx(ctx, func(repo storage.CoreRepo) error {
			rec, err := repo.GetRecord(ctx, in.RecordID)
			if err != nil {
				return err
			}
			if rec.Status != coremodel.RecordCharging {
				return fmt.Errorf("%w: end %s record", coremodel.ErrInvalidStateTransition, rec.Status)
			}

			pile, err := repo.GetPile(ctx, rec.PileID)
			if err != nil {
				return err
			}

			fee, err := s.billing.Finalize(ctx, rec, pile.Type, in.ElectricQuantity)
			if err != nil {
				return err
			}

			endTime := s.now()
			durationMin := int32(endTime.Sub(rec.StartTime) / time.Minute)
			rec.EndTime = &endTime
			rec.DurationMin = &durationMin
			rec.ElectricQuantity = &in.ElectricQuantity
			rec.Fee = &fee
			rec.Status = coremodel.RecordCompleted
			if err := repo.CloseRecord(ctx, rec); err != nil {
				return err
			}
			// 故障上报等已把桩带离CHARGING时，结束只结算记录，不改桩状态
			if pile.Status == coremodel.PileStatusCharging {
				next, err := PileTransition(pile.Status, EventEndCharge)
				if err != nil {
					return err
				}
				if err := repo.UpdatePileStatus(ctx, rec.PileID, next); err != nil {
					return err
				}
			}

			closed = rec
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("charging ended",
		zap.Int64("record_id", closed.ID),
		zap.Int64("user_id", in.UserID),
		zap.Int64("pile_id", closed.PileID),
		zap.Int32("duration_min", *closed.DurationMin),
		zap.Float64("fee", *closed.Fee))
	return closed, nil
}

// Get 查询充电记录，校验归属
func (s *ChargingService) Get(ctx context.Context, userID, recordID int64) (*models.ChargingRecord, error) {
	rec, err := s.repo.GetRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if rec.UserID != userID {
		return nil, fmt.Errorf("%w: charging record %d", coremodel.ErrUnauthorized, recordID)
	}
	return rec, nil
}

// Current 查询用户当前充电中会话，没有时返回 (nil, nil)
func (s *ChargingService) Current(ctx context.Context, userID int64) (*models.ChargingRecord, error) {
	return s.repo.GetActiveRecordByUser(ctx, userID)
}

// List 分页查询充电历史
func (s *ChargingService) List(ctx context.Context, filter storage.RecordFilter, page storage.ListPage) ([]models.ChargingRecord, int64, error) {
	return s.repo.ListRecords(ctx, filter, page)
}

// claimReservation 开始充电前的预约核对。
// 桩上存在他人未过期预约则拒绝；本人预约在提前窗口内则返回待消费的预约。
func (s *ChargingService) claimReservation(ctx context.Context, repo storage.CoreRepo, pile *models.ChargingPile, userID int64, now time.Time) (*models.Reservation, error) {
	active, err := repo.ListActiveReservationsByPile(ctx, pile.ID)
	if err != nil {
		return nil, err
	}

	var own *models.Reservation
	for i := range active {
		r := &active[i]
		if !r.EndTime.After(now) {
			// 已到期未被后台任务扫到的预约，不构成占用
			continue
		}
		if r.UserID != userID {
			return nil, fmt.Errorf("%w: pile %d is reserved by another user", coremodel.ErrSlotConflict, pile.ID)
		}
		if own == nil && r.StartTime.Before(now.Add(s.policy.EarlyStartWindow)) {
			own = r
		}
	}

	if pile.Status == coremodel.PileStatusReserved && own == nil {
		return nil, fmt.Errorf("%w: no claimable reservation on pile %d", coremodel.ErrSlotConflict, pile.ID)
	}
	return own, nil
}

func newRecordNo() string {
	return "C" + strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", ""))[:21]
}
