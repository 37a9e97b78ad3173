package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/smartcharger/charging-server/internal/coremodel"
	"github.com/smartcharger/charging-server/internal/storage/models"
)

// FeeBreakdown 费用明细
type FeeBreakdown struct {
	ElectricQuantity float64 `json:"electricQuantity"` // 充电量（度）
	PricePerKwh      float64 `json:"pricePerKwh"`      // 电价（元/度）
	ServiceFee       float64 `json:"serviceFee"`       // 每次服务费（元）
	ElectricityFee   float64 `json:"electricityFee"`   // 电费小计（元）
	Total            float64 `json:"total"`            // 总费用（元）
}

// BillingCalculator 计费引擎。
// 纯计算，无副作用；费用 = 电量×电价 + 服务费，四舍五入保留2位。
type BillingCalculator struct {
	catalog *PriceCatalog
	now     func() time.Time
}

// NewBillingCalculator 创建计费引擎
func NewBillingCalculator(catalog *PriceCatalog) *BillingCalculator {
	return &BillingCalculator{catalog: catalog, now: time.Now}
}

// Estimate 以当前时刻的生效配置预估费用
func (b *BillingCalculator) Estimate(ctx context.Context, pileType coremodel.PileType, quantity float64) (*FeeBreakdown, error) {
	if quantity < 0 {
		return nil, fmt.Errorf("%w: electric quantity must not be negative", coremodel.ErrInvalidInput)
	}
	cfg, err := b.catalog.Resolve(ctx, pileType, b.now())
	if err != nil {
		return nil, err
	}
	bd := computeFee(quantity, cfg)
	return &bd, nil
}

// Snapshot 解析 at 时刻的生效配置，供开始充电时把价格锁进记录
func (b *BillingCalculator) Snapshot(ctx context.Context, pileType coremodel.PileType, at time.Time) (*models.PriceConfig, error) {
	return b.catalog.Resolve(ctx, pileType, at)
}

// Finalize 结算一条充电记录的费用。
// 优先使用记录上开始充电时锁定的价格快照，期间调价与停用配置均不影响本单；
// 无快照的历史记录退回按 startTime 解析配置。
func (b *BillingCalculator) Finalize(ctx context.Context, rec *models.ChargingRecord, pileType coremodel.PileType, quantity float64) (float64, error) {
	if rec.PricePerKwh != nil && rec.ServiceFee != nil {
		cfg := &models.PriceConfig{PricePerKwh: *rec.PricePerKwh, ServiceFee: *rec.ServiceFee}
		return computeFee(quantity, cfg).Total, nil
	}
	cfg, err := b.catalog.Resolve(ctx, pileType, rec.StartTime)
	if err != nil {
		return 0, err
	}
	return computeFee(quantity, cfg).Total, nil
}

// computeFee 费用计算：quantity*pricePerKwh + serviceFee，逐项四舍五入
func computeFee(quantity float64, cfg *models.PriceConfig) FeeBreakdown {
	electricity := roundHalfUp(quantity * cfg.PricePerKwh)
	total := roundHalfUp(electricity + cfg.ServiceFee)
	return FeeBreakdown{
		ElectricQuantity: quantity,
		PricePerKwh:      cfg.PricePerKwh,
		ServiceFee:       cfg.ServiceFee,
		ElectricityFee:   electricity,
		Total:            total,
	}
}

// roundHalfUp 四舍五入到分
func roundHalfUp(v float64) float64 {
	return math.Floor(v*100+0.5) / 100
}
