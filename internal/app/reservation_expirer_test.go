package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smartcharger/charging-server/internal/coremodel"
	"github.com/smartcharger/charging-server/internal/pilelock"
	"github.com/smartcharger/charging-server/internal/service"
	"github.com/smartcharger/charging-server/internal/storage/models"
	"github.com/smartcharger/charging-server/internal/storage/storagetest"
)

// TestExpirerSweep 窗口已结束的PENDING预约过期并释放桩
func TestExpirerSweep(t *testing.T) {
	ctx := context.Background()
	repo := storagetest.NewFakeRepo()
	svc := service.NewReservationService(repo, pilelock.New(), service.DefaultPolicy(), zap.NewNop())
	e := NewReservationExpirer(svc, nil, zap.NewNop(), time.Minute)

	pile := &models.ChargingPile{
		Code:    "E-001",
		Type:    coremodel.PileTypeAC,
		PowerKW: 7,
		Status:  coremodel.PileStatusReserved,
	}
	require.NoError(t, repo.CreatePile(ctx, pile))

	start := time.Now().Add(-2 * time.Hour)
	end := time.Now().Add(-time.Hour)
	resv := &models.Reservation{
		ReservationNo: "R-E001",
		UserID:        1,
		PileID:        pile.ID,
		StartTime:     start,
		EndTime:       end,
		Status:        coremodel.ReservationPending,
	}
	require.NoError(t, repo.CreateReservation(ctx, resv))

	expired, err := e.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	got, err := repo.GetReservation(ctx, resv.ID)
	require.NoError(t, err)
	assert.Equal(t, coremodel.ReservationExpired, got.Status)

	p, err := repo.GetPile(ctx, pile.ID)
	require.NoError(t, err)
	assert.Equal(t, coremodel.PileStatusIdle, p.Status)

	// 再次巡检无事发生
	expired, err = e.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, expired)
}
