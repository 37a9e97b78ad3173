package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smartcharger/charging-server/internal/coremodel"
	"github.com/smartcharger/charging-server/internal/pilelock"
	"github.com/smartcharger/charging-server/internal/storage"
	"github.com/smartcharger/charging-server/internal/storage/models"
	"github.com/smartcharger/charging-server/internal/storage/storagetest"
)

func newTestReservation(t *testing.T) (*ReservationService, *storagetest.FakeRepo) {
	t.Helper()
	repo := storagetest.NewFakeRepo()
	svc := NewReservationService(repo, pilelock.New(), DefaultPolicy(), zap.NewNop())
	return svc, repo
}

func seedPile(t *testing.T, repo *storagetest.FakeRepo, status coremodel.PileStatus) *models.ChargingPile {
	t.Helper()
	pile := &models.ChargingPile{
		Code:     "P-" + string(status),
		Location: "测试车位",
		Type:     coremodel.PileTypeDC,
		PowerKW:  120,
		Status:   status,
	}
	require.NoError(t, repo.CreatePile(context.Background(), pile))
	return pile
}

func futureWindow(offset, length time.Duration) coremodel.Window {
	start := time.Now().Add(offset)
	return coremodel.Window{Start: start, End: start.Add(length)}
}

// TestCreateReservation 创建成功：预约PENDING，桩IDLE→RESERVED
func TestCreateReservation(t *testing.T) {
	svc, repo := newTestReservation(t)
	pile := seedPile(t, repo, coremodel.PileStatusIdle)

	resv, err := svc.Create(context.Background(), ReservationInput{
		UserID: 1,
		PileID: pile.ID,
		Window: futureWindow(time.Hour, time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, coremodel.ReservationPending, resv.Status)
	assert.NotEmpty(t, resv.ReservationNo)

	got, err := repo.GetPile(context.Background(), pile.ID)
	require.NoError(t, err)
	assert.Equal(t, coremodel.PileStatusReserved, got.Status)
}

// TestCreateReservation_InvalidWindow 时间窗校验在任何状态变更之前
func TestCreateReservation_InvalidWindow(t *testing.T) {
	svc, repo := newTestReservation(t)
	pile := seedPile(t, repo, coremodel.PileStatusIdle)
	ctx := context.Background()

	cases := []struct {
		name   string
		window coremodel.Window
	}{
		{"起点在过去", futureWindow(-time.Hour, time.Hour)},
		{"终点不晚于起点", coremodel.Window{Start: time.Now().Add(time.Hour), End: time.Now().Add(time.Hour)}},
		{"超过最大时长", futureWindow(time.Hour, 5*time.Hour)},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := svc.Create(ctx, ReservationInput{UserID: 1, PileID: pile.ID, Window: c.window})
			assert.ErrorIs(t, err, coremodel.ErrInvalidWindow)
		})
	}

	// 拒绝后无任何状态残留
	got, err := repo.GetPile(ctx, pile.ID)
	require.NoError(t, err)
	assert.Equal(t, coremodel.PileStatusIdle, got.Status)
	list, _, err := repo.ListReservations(ctx, storage.ReservationFilter{}, storage.ListPage{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

// TestCreateReservation_SlotConflict 重叠时间窗被拒绝，已有预约不受影响
func TestCreateReservation_SlotConflict(t *testing.T) {
	svc, repo := newTestReservation(t)
	pile := seedPile(t, repo, coremodel.PileStatusIdle)
	ctx := context.Background()

	base := time.Now().Add(time.Hour)
	first, err := svc.Create(ctx, ReservationInput{
		UserID: 1,
		PileID: pile.ID,
		Window: coremodel.Window{Start: base, End: base.Add(time.Hour)},
	})
	require.NoError(t, err)

	// [10:30,11:30) 与 [10:00,11:00) 重叠
	_, err = svc.Create(ctx, ReservationInput{
		UserID: 2,
		PileID: pile.ID,
		Window: coremodel.Window{Start: base.Add(30 * time.Minute), End: base.Add(90 * time.Minute)},
	})
	assert.ErrorIs(t, err, coremodel.ErrSlotConflict)

	got, err := repo.GetReservation(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, coremodel.ReservationPending, got.Status)
}

// TestCreateReservation_AdjacentWindows 相接不重叠的时间窗允许共存
func TestCreateReservation_AdjacentWindows(t *testing.T) {
	svc, repo := newTestReservation(t)
	pile := seedPile(t, repo, coremodel.PileStatusIdle)
	ctx := context.Background()

	base := time.Now().Add(time.Hour)
	_, err := svc.Create(ctx, ReservationInput{
		UserID: 1,
		PileID: pile.ID,
		Window: coremodel.Window{Start: base, End: base.Add(time.Hour)},
	})
	require.NoError(t, err)

	_, err = svc.Create(ctx, ReservationInput{
		UserID: 2,
		PileID: pile.ID,
		Window: coremodel.Window{Start: base.Add(time.Hour), End: base.Add(2 * time.Hour)},
	})
	assert.NoError(t, err, "半开区间相接不算重叠")
}

// TestCreateReservation_OnePerUser 单用户同一时刻至多一条进行中预约
func TestCreateReservation_OnePerUser(t *testing.T) {
	svc, repo := newTestReservation(t)
	p1 := seedPile(t, repo, coremodel.PileStatusIdle)
	p2 := seedPile(t, repo, coremodel.PileStatusIdle)
	ctx := context.Background()

	_, err := svc.Create(ctx, ReservationInput{UserID: 1, PileID: p1.ID, Window: futureWindow(time.Hour, time.Hour)})
	require.NoError(t, err)

	_, err = svc.Create(ctx, ReservationInput{UserID: 1, PileID: p2.ID, Window: futureWindow(3 * time.Hour, time.Hour)})
	assert.ErrorIs(t, err, coremodel.ErrSlotConflict)
}

// TestCreateReservation_ConcurrentSameUser 同一用户并发预约两个不同的桩，
// 用户级串行化保证只有一个成功，不会出现双预约。
func TestCreateReservation_ConcurrentSameUser(t *testing.T) {
	svc, repo := newTestReservation(t)
	p1 := seedPile(t, repo, coremodel.PileStatusIdle)
	p2 := seedPile(t, repo, coremodel.PileStatusIdle)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, pileID := range []int64{p1.ID, p2.ID} {
		wg.Add(1)
		go func(i int, id int64) {
			defer wg.Done()
			_, errs[i] = svc.Create(context.Background(), ReservationInput{
				UserID: 1,
				PileID: id,
				Window: futureWindow(time.Duration(i+1)*time.Hour, time.Hour),
			})
		}(i, pileID)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, coremodel.ErrSlotConflict)
		}
	}
	assert.Equal(t, 1, succeeded, "单用户同一时刻至多一条进行中预约")
}

// TestCreateReservation_FaultPile 故障桩拒绝预约
func TestCreateReservation_FaultPile(t *testing.T) {
	svc, repo := newTestReservation(t)
	pile := seedPile(t, repo, coremodel.PileStatusFault)

	_, err := svc.Create(context.Background(), ReservationInput{
		UserID: 1, PileID: pile.ID, Window: futureWindow(time.Hour, time.Hour),
	})
	assert.ErrorIs(t, err, coremodel.ErrInvalidStateTransition)
}

// TestCreateReservation_ConcurrentOverlap 并发创建重叠预约只有一个成功。
// 这是桩级互斥的核心回归：无互斥时两个请求都会看到无冲突而双双成功。
func TestCreateReservation_ConcurrentOverlap(t *testing.T) {
	svc, repo := newTestReservation(t)
	pile := seedPile(t, repo, coremodel.PileStatusIdle)

	base := time.Now().Add(time.Hour)
	window := coremodel.Window{Start: base, End: base.Add(time.Hour)}

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Create(context.Background(), ReservationInput{
				UserID: int64(i + 1),
				PileID: pile.ID,
				Window: window,
			})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, coremodel.ErrSlotConflict)
		}
	}
	assert.Equal(t, 1, succeeded, "重叠窗口只允许一个预约成功")
}

// TestCancelReservation 取消：预约CANCELLED，桩回到IDLE
func TestCancelReservation(t *testing.T) {
	svc, repo := newTestReservation(t)
	pile := seedPile(t, repo, coremodel.PileStatusIdle)
	ctx := context.Background()

	resv, err := svc.Create(ctx, ReservationInput{UserID: 1, PileID: pile.ID, Window: futureWindow(time.Hour, time.Hour)})
	require.NoError(t, err)

	require.NoError(t, svc.Cancel(ctx, 1, resv.ID, "行程有变"))

	got, err := repo.GetReservation(ctx, resv.ID)
	require.NoError(t, err)
	assert.Equal(t, coremodel.ReservationCancelled, got.Status)
	require.NotNil(t, got.CancelReason)
	assert.Equal(t, "行程有变", *got.CancelReason)

	p, err := repo.GetPile(ctx, pile.ID)
	require.NoError(t, err)
	assert.Equal(t, coremodel.PileStatusIdle, p.Status)
}

// TestCancelReservation_NotOwner 非归属人取消被拒绝
func TestCancelReservation_NotOwner(t *testing.T) {
	svc, repo := newTestReservation(t)
	pile := seedPile(t, repo, coremodel.PileStatusIdle)
	ctx := context.Background()

	resv, err := svc.Create(ctx, ReservationInput{UserID: 1, PileID: pile.ID, Window: futureWindow(time.Hour, time.Hour)})
	require.NoError(t, err)

	err = svc.Cancel(ctx, 2, resv.ID, "")
	assert.ErrorIs(t, err, coremodel.ErrUnauthorized)
}

// TestCancelReservation_Terminal 终态预约不可再取消
func TestCancelReservation_Terminal(t *testing.T) {
	svc, repo := newTestReservation(t)
	pile := seedPile(t, repo, coremodel.PileStatusIdle)
	ctx := context.Background()

	resv, err := svc.Create(ctx, ReservationInput{UserID: 1, PileID: pile.ID, Window: futureWindow(time.Hour, time.Hour)})
	require.NoError(t, err)
	require.NoError(t, svc.Cancel(ctx, 1, resv.ID, ""))

	err = svc.Cancel(ctx, 1, resv.ID, "")
	assert.ErrorIs(t, err, coremodel.ErrInvalidStateTransition)
}

// TestExpireDue 过期批处理：到期PENDING→EXPIRED，桩释放
func TestExpireDue(t *testing.T) {
	svc, repo := newTestReservation(t)
	pile := seedPile(t, repo, coremodel.PileStatusReserved)
	ctx := context.Background()

	// 直造一条已到期的PENDING预约
	resv := &models.Reservation{
		ReservationNo: "R-EXPIRED",
		UserID:        1,
		PileID:        pile.ID,
		StartTime:     time.Now().Add(-2 * time.Hour),
		EndTime:       time.Now().Add(-time.Hour),
		Status:        coremodel.ReservationPending,
	}
	require.NoError(t, repo.CreateReservation(ctx, resv))

	n, err := svc.ExpireDue(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := repo.GetReservation(ctx, resv.ID)
	require.NoError(t, err)
	assert.Equal(t, coremodel.ReservationExpired, got.Status)

	p, err := repo.GetPile(ctx, pile.ID)
	require.NoError(t, err)
	assert.Equal(t, coremodel.PileStatusIdle, p.Status)
}

// TestCheckAvailability 只读冲突检查与Create同一判定
func TestCheckAvailability(t *testing.T) {
	svc, repo := newTestReservation(t)
	pile := seedPile(t, repo, coremodel.PileStatusIdle)
	ctx := context.Background()

	base := time.Now().Add(time.Hour)
	_, err := svc.Create(ctx, ReservationInput{
		UserID: 1,
		PileID: pile.ID,
		Window: coremodel.Window{Start: base, End: base.Add(time.Hour)},
	})
	require.NoError(t, err)

	ok, err := svc.CheckAvailability(ctx, pile.ID, coremodel.Window{Start: base.Add(30 * time.Minute), End: base.Add(90 * time.Minute)})
	require.NoError(t, err)
	assert.False(t, ok, "重叠窗口不可用")

	ok, err = svc.CheckAvailability(ctx, pile.ID, coremodel.Window{Start: base.Add(time.Hour), End: base.Add(2 * time.Hour)})
	require.NoError(t, err)
	assert.True(t, ok, "相接窗口可用")
}
