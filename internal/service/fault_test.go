package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smartcharger/charging-server/internal/coremodel"
	"github.com/smartcharger/charging-server/internal/pilelock"
	"github.com/smartcharger/charging-server/internal/storage/models"
	"github.com/smartcharger/charging-server/internal/storage/storagetest"
)

// recordingNotifier 记录下发的故障通知
type recordingNotifier struct {
	sent []int64 // 收到通知的用户
}

func (n *recordingNotifier) FaultNotice(ctx context.Context, userID, pileID int64, pileCode string) (*models.WarningNotice, error) {
	n.sent = append(n.sent, userID)
	return &models.WarningNotice{UserID: userID, Type: coremodel.NoticeFaultNotice}, nil
}

func newTestFault(t *testing.T) (*FaultService, *recordingNotifier, *storagetest.FakeRepo) {
	t.Helper()
	repo := storagetest.NewFakeRepo()
	notifier := &recordingNotifier{}
	svc := NewFaultService(repo, pilelock.New(), notifier, zap.NewNop())
	return svc, notifier, repo
}

func int64Ptr(v int64) *int64 { return &v }

// TestReportFault 报修：报修单PENDING，桩流转到FAULT
func TestReportFault(t *testing.T) {
	svc, _, repo := newTestFault(t)
	pile := seedPile(t, repo, coremodel.PileStatusIdle)
	ctx := context.Background()

	report, err := svc.Report(ctx, int64Ptr(1), pile.ID, "充电枪无法解锁")
	require.NoError(t, err)
	assert.Equal(t, coremodel.FaultPending, report.Status)

	p, err := repo.GetPile(ctx, pile.ID)
	require.NoError(t, err)
	assert.Equal(t, coremodel.PileStatusFault, p.Status)
}

// TestReportFault_AnyState 任意非FAULT状态都可被打到FAULT
func TestReportFault_AnyState(t *testing.T) {
	svc, _, repo := newTestFault(t)
	ctx := context.Background()

	for _, status := range []coremodel.PileStatus{
		coremodel.PileStatusIdle,
		coremodel.PileStatusReserved,
		coremodel.PileStatusCharging,
		coremodel.PileStatusOvertime,
	} {
		pile := seedPile(t, repo, status)
		_, err := svc.Report(ctx, nil, pile.ID, "设备异响")
		require.NoError(t, err, "from %s", status)

		p, err := repo.GetPile(ctx, pile.ID)
		require.NoError(t, err)
		assert.Equal(t, coremodel.PileStatusFault, p.Status)
	}
}

// TestReportFault_NotifiesAffectedUsers 通知充电中用户与预约持有人
func TestReportFault_NotifiesAffectedUsers(t *testing.T) {
	svc, notifier, repo := newTestFault(t)
	pile := seedPile(t, repo, coremodel.PileStatusCharging)
	ctx := context.Background()

	require.NoError(t, repo.CreateRecord(ctx, &models.ChargingRecord{
		RecordNo:  "C-1",
		UserID:    7,
		PileID:    pile.ID,
		StartTime: time.Now(),
		Status:    coremodel.RecordCharging,
	}))
	require.NoError(t, repo.CreateReservation(ctx, &models.Reservation{
		ReservationNo: "R-1",
		UserID:        8,
		PileID:        pile.ID,
		StartTime:     time.Now().Add(2 * time.Hour),
		EndTime:       time.Now().Add(3 * time.Hour),
		Status:        coremodel.ReservationPending,
	}))

	_, err := svc.Report(ctx, int64Ptr(7), pile.ID, "桩体冒烟")
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{7, 8}, notifier.sent)
}

// TestReportFault_EmptyDescription 描述必填
func TestReportFault_EmptyDescription(t *testing.T) {
	svc, _, repo := newTestFault(t)
	pile := seedPile(t, repo, coremodel.PileStatusIdle)

	_, err := svc.Report(context.Background(), int64Ptr(1), pile.ID, "  ")
	assert.ErrorIs(t, err, coremodel.ErrInvalidInput)
}

// TestHandleFault_Resolved 全部报修单修复后桩回到IDLE
func TestHandleFault_Resolved(t *testing.T) {
	svc, _, repo := newTestFault(t)
	pile := seedPile(t, repo, coremodel.PileStatusIdle)
	ctx := context.Background()

	report, err := svc.Report(ctx, int64Ptr(1), pile.ID, "屏幕黑屏")
	require.NoError(t, err)

	handled, err := svc.Handle(ctx, 99, report.ID, coremodel.FaultResolved, "更换主板")
	require.NoError(t, err)
	assert.Equal(t, coremodel.FaultResolved, handled.Status)
	require.NotNil(t, handled.HandlerID)
	assert.Equal(t, int64(99), *handled.HandlerID)

	p, err := repo.GetPile(ctx, pile.ID)
	require.NoError(t, err)
	assert.Equal(t, coremodel.PileStatusIdle, p.Status)
}

// TestHandleFault_OpenReportsKeepFault 还有未修复报修单时桩保持FAULT
func TestHandleFault_OpenReportsKeepFault(t *testing.T) {
	svc, _, repo := newTestFault(t)
	pile := seedPile(t, repo, coremodel.PileStatusIdle)
	ctx := context.Background()

	first, err := svc.Report(ctx, int64Ptr(1), pile.ID, "插座松动")
	require.NoError(t, err)
	_, err = svc.Report(ctx, int64Ptr(2), pile.ID, "指示灯不亮")
	require.NoError(t, err)

	_, err = svc.Handle(ctx, 99, first.ID, coremodel.FaultResolved, "已紧固")
	require.NoError(t, err)

	p, err := repo.GetPile(ctx, pile.ID)
	require.NoError(t, err)
	assert.Equal(t, coremodel.PileStatusFault, p.Status, "仍有未修复报修单")
}

// TestHandleFault_Processing PROCESSING不恢复桩
func TestHandleFault_Processing(t *testing.T) {
	svc, _, repo := newTestFault(t)
	pile := seedPile(t, repo, coremodel.PileStatusIdle)
	ctx := context.Background()

	report, err := svc.Report(ctx, int64Ptr(1), pile.ID, "噪音过大")
	require.NoError(t, err)

	handled, err := svc.Handle(ctx, 99, report.ID, coremodel.FaultProcessing, "已派单")
	require.NoError(t, err)
	assert.Equal(t, coremodel.FaultProcessing, handled.Status)

	p, err := repo.GetPile(ctx, pile.ID)
	require.NoError(t, err)
	assert.Equal(t, coremodel.PileStatusFault, p.Status)
}

// TestHandleFault_InvalidStatus 只接受PROCESSING/RESOLVED
func TestHandleFault_InvalidStatus(t *testing.T) {
	svc, _, repo := newTestFault(t)
	pile := seedPile(t, repo, coremodel.PileStatusIdle)
	ctx := context.Background()

	report, err := svc.Report(ctx, int64Ptr(1), pile.ID, "无法充电")
	require.NoError(t, err)

	_, err = svc.Handle(ctx, 99, report.ID, coremodel.FaultPending, "")
	assert.ErrorIs(t, err, coremodel.ErrInvalidInput)
}

// TestGetFaultReport_Ownership 非管理员只能查自己的报修单
func TestGetFaultReport_Ownership(t *testing.T) {
	svc, _, repo := newTestFault(t)
	pile := seedPile(t, repo, coremodel.PileStatusIdle)
	ctx := context.Background()

	report, err := svc.Report(ctx, int64Ptr(1), pile.ID, "电缆破损")
	require.NoError(t, err)

	_, err = svc.Get(ctx, 1, report.ID, false)
	assert.NoError(t, err)

	_, err = svc.Get(ctx, 2, report.ID, false)
	assert.ErrorIs(t, err, coremodel.ErrUnauthorized)

	_, err = svc.Get(ctx, 2, report.ID, true)
	assert.NoError(t, err, "管理员可查任意报修单")
}
