package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/smartcharger/charging-server/internal/coremodel"
	"github.com/smartcharger/charging-server/internal/storage"
	"github.com/smartcharger/charging-server/internal/storage/models"
)

// PriceCatalog 费用配置目录。
// 读多写少：Resolve 无锁并发安全；写入校验冲突，保证
// 同一桩型同一时刻至多命中一条生效配置；若历史数据已出现
// 重叠，Resolve 显式报 Ambiguous，绝不静默取其一。
type PriceCatalog struct {
	repo   storage.CoreRepo
	logger *zap.Logger
}

// NewPriceCatalog 创建费用配置目录
func NewPriceCatalog(repo storage.CoreRepo, logger *zap.Logger) *PriceCatalog {
	return &PriceCatalog{repo: repo, logger: logger}
}

// Resolve 解析指定桩型在 instant 时刻的唯一生效配置。
// 零条命中 → ErrNoActivePriceConfig；多条命中 → ErrAmbiguousPriceConfig。
func (c *PriceCatalog) Resolve(ctx context.Context, pileType coremodel.PileType, instant time.Time) (*models.PriceConfig, error) {
	if !pileType.Valid() {
		return nil, fmt.Errorf("%w: unknown pile type %q", coremodel.ErrInvalidInput, pileType)
	}

	configs, err := c.repo.ListActivePriceConfigs(ctx, pileType)
	if err != nil {
		return nil, err
	}

	var hit *models.PriceConfig
	for i := range configs {
		cfg := &configs[i]
		if !cfg.CoversAt(instant) {
			continue
		}
		if hit != nil {
			c.logger.Warn("price config ambiguous",
				zap.String("pile_type", string(pileType)),
				zap.Time("instant", instant),
				zap.Int64("config_a", hit.ID),
				zap.Int64("config_b", cfg.ID))
			return nil, fmt.Errorf("%w: type %s at %s", coremodel.ErrAmbiguousPriceConfig, pileType, instant.Format(time.RFC3339))
		}
		hit = cfg
	}

	if hit == nil {
		return nil, fmt.Errorf("%w: type %s at %s", coremodel.ErrNoActivePriceConfig, pileType, instant.Format(time.RFC3339))
	}
	return hit, nil
}

// UpsertInput 创建/更新配置的入参
type UpsertInput struct {
	ID          int64 // 0表示新建
	PileType    coremodel.PileType
	PricePerKwh float64
	ServiceFee  float64
	StartTime   *time.Time
	EndTime     *time.Time
	IsActive    bool
}

// Upsert 创建或更新费用配置。
// 生效配置之间窗口不得重叠（ErrPriceConfigConflict）。
// 不回溯已结算的充电记录费用。
func (c *PriceCatalog) Upsert(ctx context.Context, in UpsertInput) (*models.PriceConfig, error) {
	if !in.PileType.Valid() {
		return nil, fmt.Errorf("%w: unknown pile type %q", coremodel.ErrInvalidInput, in.PileType)
	}
	if in.PricePerKwh <= 0 {
		return nil, fmt.Errorf("%w: price per kwh must be positive", coremodel.ErrInvalidInput)
	}
	if in.ServiceFee < 0 {
		return nil, fmt.Errorf("%w: service fee must not be negative", coremodel.ErrInvalidInput)
	}
	if in.StartTime != nil && in.EndTime != nil && !in.StartTime.Before(*in.EndTime) {
		return nil, fmt.Errorf("%w: start must be before end", coremodel.ErrInvalidWindow)
	}

	if in.IsActive {
		if err := c.checkConflict(ctx, in); err != nil {
			return nil, err
		}
	}

	cfg := &models.PriceConfig{
		ID:          in.ID,
		PileType:    in.PileType,
		PricePerKwh: in.PricePerKwh,
		ServiceFee:  in.ServiceFee,
		StartTime:   in.StartTime,
		EndTime:     in.EndTime,
		IsActive:    in.IsActive,
	}

	var err error
	if in.ID == 0 {
		err = c.repo.CreatePriceConfig(ctx, cfg)
	} else {
		err = c.repo.UpdatePriceConfig(ctx, cfg)
	}
	if err != nil {
		return nil, err
	}

	c.logger.Info("price config upserted",
		zap.Int64("id", cfg.ID),
		zap.String("pile_type", string(cfg.PileType)),
		zap.Float64("price_per_kwh", cfg.PricePerKwh),
		zap.Bool("is_active", cfg.IsActive))
	return cfg, nil
}

// Deactivate 停用配置，不影响已结算费用
func (c *PriceCatalog) Deactivate(ctx context.Context, id int64) error {
	cfg, err := c.repo.GetPriceConfig(ctx, id)
	if err != nil {
		return err
	}
	cfg.IsActive = false
	if err := c.repo.UpdatePriceConfig(ctx, cfg); err != nil {
		return err
	}
	c.logger.Info("price config deactivated", zap.Int64("id", id))
	return nil
}

// checkConflict 新配置与现有生效配置窗口重叠检查（空侧视为无界）
func (c *PriceCatalog) checkConflict(ctx context.Context, in UpsertInput) error {
	existing, err := c.repo.ListActivePriceConfigs(ctx, in.PileType)
	if err != nil {
		return err
	}
	for i := range existing {
		other := &existing[i]
		if other.ID == in.ID {
			continue
		}
		if openWindowsOverlap(in.StartTime, in.EndTime, other.StartTime, other.EndTime) {
			return fmt.Errorf("%w: overlaps config %d", coremodel.ErrPriceConfigConflict, other.ID)
		}
	}
	return nil
}

// openWindowsOverlap 判定两个可开放边界的窗口是否重叠：s1 < e2 && s2 < e1，
// 缺失的边界按无穷处理。
func openWindowsOverlap(s1, e1, s2, e2 *time.Time) bool {
	before := func(a, b *time.Time) bool {
		// a(或无穷小) < b(或无穷大)
		if a == nil || b == nil {
			return true
		}
		return a.Before(*b)
	}
	return before(s1, e2) && before(s2, e1)
}
