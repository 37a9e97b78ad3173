package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/smartcharger/charging-server/internal/coremodel"
	"github.com/smartcharger/charging-server/internal/pilelock"
	"github.com/smartcharger/charging-server/internal/storage"
	"github.com/smartcharger/charging-server/internal/storage/models"
)

// PileInput 创建/更新充电桩的静态属性
type PileInput struct {
	Code     string
	Location string
	Lng      *float64
	Lat      *float64
	Type     coremodel.PileType
	PowerKW  float64
}

// PileService 充电桩台账。
// 静态属性在此维护；status 列只允许经状态机流转修改。
type PileService struct {
	repo   storage.CoreRepo
	locks  *pilelock.Keyed
	logger *zap.Logger
}

// NewPileService 创建充电桩台账服务
func NewPileService(repo storage.CoreRepo, locks *pilelock.Keyed, logger *zap.Logger) *PileService {
	return &PileService{repo: repo, locks: locks, logger: logger}
}

// Create 登记新桩，初始状态恒为IDLE
func (s *PileService) Create(ctx context.Context, in PileInput) (*models.ChargingPile, error) {
	if err := validatePileInput(in); err != nil {
		return nil, err
	}

	pile := &models.ChargingPile{
		Code:     in.Code,
		Location: in.Location,
		Lng:      in.Lng,
		Lat:      in.Lat,
		Type:     in.Type,
		PowerKW:  in.PowerKW,
		Status:   coremodel.PileStatusIdle,
	}
	if err := s.repo.CreatePile(ctx, pile); err != nil {
		return nil, err
	}

	s.logger.Info("pile created",
		zap.Int64("pile_id", pile.ID),
		zap.String("code", pile.Code),
		zap.String("type", string(pile.Type)))
	return pile, nil
}

// Update 更新静态属性，不触碰状态
func (s *PileService) Update(ctx context.Context, id int64, in PileInput) (*models.ChargingPile, error) {
	if err := validatePileInput(in); err != nil {
		return nil, err
	}

	pile, err := s.repo.GetPile(ctx, id)
	if err != nil {
		return nil, err
	}

	pile.Code = in.Code
	pile.Location = in.Location
	pile.Lng = in.Lng
	pile.Lat = in.Lat
	pile.Type = in.Type
	pile.PowerKW = in.PowerKW
	if err := s.repo.UpdatePileAttrs(ctx, pile); err != nil {
		return nil, err
	}
	return pile, nil
}

// Get 查询单桩
func (s *PileService) Get(ctx context.Context, id int64) (*models.ChargingPile, error) {
	return s.repo.GetPile(ctx, id)
}

// List 分页查询
func (s *PileService) List(ctx context.Context, status *coremodel.PileStatus, pileType *coremodel.PileType, page storage.ListPage) ([]models.ChargingPile, int64, error) {
	return s.repo.ListPiles(ctx, status, pileType, page)
}

// Delete 删除充电桩。仅允许删除IDLE且无未完成预约的桩。
func (s *PileService) Delete(ctx context.Context, id int64) error {
	return s.locks.WithLock(id, func() error {
		return s.repo.WithTx(ctx, func(repo storage.CoreRepo) error {
			pile, err := repo.GetPile(ctx, id)
			if err != nil {
				return err
			}
			if pile.Status != coremodel.PileStatusIdle {
				return fmt.Errorf("%w: pile %d is %s", coremodel.ErrInvalidStateTransition, id, pile.Status)
			}
			active, err := repo.ListActiveReservationsByPile(ctx, id)
			if err != nil {
				return err
			}
			if len(active) > 0 {
				return fmt.Errorf("%w: pile %d has pending reservations", coremodel.ErrSlotConflict, id)
			}
			return repo.DeletePile(ctx, id)
		})
	})
}

// Vacate 超时占位挪车确认：OVERTIME → IDLE
func (s *PileService) Vacate(ctx context.Context, pileID int64) error {
	return s.locks.WithLock(pileID, func() error {
		return s.repo.WithTx(ctx, func(repo storage.CoreRepo) error {
			pile, err := repo.GetPile(ctx, pileID)
			if err != nil {
				return err
			}
			next, err := PileTransition(pile.Status, EventVacate)
			if err != nil {
				return err
			}
			if err := repo.UpdatePileStatus(ctx, pileID, next); err != nil {
				return err
			}
			s.logger.Info("pile vacated", zap.Int64("pile_id", pileID))
			return nil
		})
	})
}

func validatePileInput(in PileInput) error {
	if in.Code == "" {
		return fmt.Errorf("%w: pile code required", coremodel.ErrInvalidInput)
	}
	if in.Location == "" {
		return fmt.Errorf("%w: pile location required", coremodel.ErrInvalidInput)
	}
	if !in.Type.Valid() {
		return fmt.Errorf("%w: unknown pile type %q", coremodel.ErrInvalidInput, in.Type)
	}
	if in.PowerKW <= 0 {
		return fmt.Errorf("%w: rated power must be positive", coremodel.ErrInvalidInput)
	}
	return nil
}
