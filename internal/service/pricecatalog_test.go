package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smartcharger/charging-server/internal/coremodel"
	"github.com/smartcharger/charging-server/internal/storage/storagetest"
)

func newTestCatalog(t *testing.T) (*PriceCatalog, *storagetest.FakeRepo) {
	t.Helper()
	repo := storagetest.NewFakeRepo()
	return NewPriceCatalog(repo, zap.NewNop()), repo
}

func timePtr(v time.Time) *time.Time { return &v }

// TestResolve_NoActiveConfig 无生效配置时报NoActivePriceConfig
func TestResolve_NoActiveConfig(t *testing.T) {
	catalog, _ := newTestCatalog(t)

	_, err := catalog.Resolve(context.Background(), coremodel.PileTypeAC, time.Now())
	assert.ErrorIs(t, err, coremodel.ErrNoActivePriceConfig)
}

// TestResolve_SingleHit 唯一命中
func TestResolve_SingleHit(t *testing.T) {
	catalog, _ := newTestCatalog(t)

	created, err := catalog.Upsert(context.Background(), UpsertInput{
		PileType:    coremodel.PileTypeDC,
		PricePerKwh: 1.2,
		ServiceFee:  2.0,
		IsActive:    true,
	})
	require.NoError(t, err)

	cfg, err := catalog.Resolve(context.Background(), coremodel.PileTypeDC, time.Now())
	require.NoError(t, err)
	assert.Equal(t, created.ID, cfg.ID)
	assert.Equal(t, 1.2, cfg.PricePerKwh)
}

// TestResolve_TypeIsolated 不同桩型的配置互不命中
func TestResolve_TypeIsolated(t *testing.T) {
	catalog, _ := newTestCatalog(t)

	_, err := catalog.Upsert(context.Background(), UpsertInput{
		PileType:    coremodel.PileTypeDC,
		PricePerKwh: 1.2,
		IsActive:    true,
	})
	require.NoError(t, err)

	_, err = catalog.Resolve(context.Background(), coremodel.PileTypeAC, time.Now())
	assert.ErrorIs(t, err, coremodel.ErrNoActivePriceConfig)
}

// TestResolve_WindowFilter 命中按生效窗口过滤，窗口外报NoActive
func TestResolve_WindowFilter(t *testing.T) {
	catalog, _ := newTestCatalog(t)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	_, err := catalog.Upsert(context.Background(), UpsertInput{
		PileType:    coremodel.PileTypeAC,
		PricePerKwh: 0.8,
		StartTime:   timePtr(base),
		EndTime:     timePtr(base.Add(24 * time.Hour)),
		IsActive:    true,
	})
	require.NoError(t, err)

	_, err = catalog.Resolve(context.Background(), coremodel.PileTypeAC, base.Add(time.Hour))
	assert.NoError(t, err)

	_, err = catalog.Resolve(context.Background(), coremodel.PileTypeAC, base.Add(48*time.Hour))
	assert.ErrorIs(t, err, coremodel.ErrNoActivePriceConfig)

	_, err = catalog.Resolve(context.Background(), coremodel.PileTypeAC, base.Add(-time.Hour))
	assert.ErrorIs(t, err, coremodel.ErrNoActivePriceConfig)
}

// TestResolve_Ambiguous 历史数据窗口重叠时显式报Ambiguous，不静默取其一
func TestResolve_Ambiguous(t *testing.T) {
	catalog, repo := newTestCatalog(t)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	// 绕过Upsert冲突检查，直造重叠数据
	for i := 0; i < 2; i++ {
		cfg, err := catalog.Upsert(context.Background(), UpsertInput{
			PileType:    coremodel.PileTypeAC,
			PricePerKwh: 0.8,
			StartTime:   timePtr(base),
			EndTime:     timePtr(base.Add(24 * time.Hour)),
			IsActive:    false,
		})
		require.NoError(t, err)
		cfg.IsActive = true
		require.NoError(t, repo.UpdatePriceConfig(context.Background(), cfg))
	}

	_, err := catalog.Resolve(context.Background(), coremodel.PileTypeAC, base.Add(time.Hour))
	assert.ErrorIs(t, err, coremodel.ErrAmbiguousPriceConfig)
}

// TestUpsert_Validation 入参校验
func TestUpsert_Validation(t *testing.T) {
	catalog, _ := newTestCatalog(t)
	ctx := context.Background()

	_, err := catalog.Upsert(ctx, UpsertInput{PileType: "SUPER", PricePerKwh: 1})
	assert.ErrorIs(t, err, coremodel.ErrInvalidInput)

	_, err = catalog.Upsert(ctx, UpsertInput{PileType: coremodel.PileTypeAC, PricePerKwh: 0})
	assert.ErrorIs(t, err, coremodel.ErrInvalidInput)

	_, err = catalog.Upsert(ctx, UpsertInput{PileType: coremodel.PileTypeAC, PricePerKwh: 1, ServiceFee: -1})
	assert.ErrorIs(t, err, coremodel.ErrInvalidInput)

	now := time.Now()
	_, err = catalog.Upsert(ctx, UpsertInput{
		PileType:    coremodel.PileTypeAC,
		PricePerKwh: 1,
		StartTime:   timePtr(now),
		EndTime:     timePtr(now.Add(-time.Hour)),
	})
	assert.ErrorIs(t, err, coremodel.ErrInvalidWindow)
}

// TestUpsert_Conflict 与现有生效配置窗口重叠被拒绝
func TestUpsert_Conflict(t *testing.T) {
	catalog, _ := newTestCatalog(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	_, err := catalog.Upsert(ctx, UpsertInput{
		PileType:    coremodel.PileTypeAC,
		PricePerKwh: 0.8,
		StartTime:   timePtr(base),
		EndTime:     timePtr(base.Add(24 * time.Hour)),
		IsActive:    true,
	})
	require.NoError(t, err)

	// 窗口重叠
	_, err = catalog.Upsert(ctx, UpsertInput{
		PileType:    coremodel.PileTypeAC,
		PricePerKwh: 0.9,
		StartTime:   timePtr(base.Add(12 * time.Hour)),
		EndTime:     timePtr(base.Add(36 * time.Hour)),
		IsActive:    true,
	})
	assert.ErrorIs(t, err, coremodel.ErrPriceConfigConflict)

	// 无界窗口与一切生效配置重叠
	_, err = catalog.Upsert(ctx, UpsertInput{
		PileType:    coremodel.PileTypeAC,
		PricePerKwh: 0.9,
		IsActive:    true,
	})
	assert.ErrorIs(t, err, coremodel.ErrPriceConfigConflict)

	// 相接不相交的窗口允许
	_, err = catalog.Upsert(ctx, UpsertInput{
		PileType:    coremodel.PileTypeAC,
		PricePerKwh: 0.9,
		StartTime:   timePtr(base.Add(24 * time.Hour)),
		EndTime:     timePtr(base.Add(48 * time.Hour)),
		IsActive:    true,
	})
	assert.NoError(t, err)

	// 停用配置不参与冲突
	_, err = catalog.Upsert(ctx, UpsertInput{
		PileType:    coremodel.PileTypeAC,
		PricePerKwh: 0.9,
		StartTime:   timePtr(base),
		EndTime:     timePtr(base.Add(24 * time.Hour)),
		IsActive:    false,
	})
	assert.NoError(t, err)
}

// TestDeactivate 停用后不再命中
func TestDeactivate(t *testing.T) {
	catalog, _ := newTestCatalog(t)
	ctx := context.Background()

	cfg, err := catalog.Upsert(ctx, UpsertInput{
		PileType:    coremodel.PileTypeDC,
		PricePerKwh: 1.5,
		IsActive:    true,
	})
	require.NoError(t, err)

	require.NoError(t, catalog.Deactivate(ctx, cfg.ID))

	_, err = catalog.Resolve(ctx, coremodel.PileTypeDC, time.Now())
	assert.ErrorIs(t, err, coremodel.ErrNoActivePriceConfig)
}
