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
	"github.com/smartcharger/charging-server/internal/storage/models"
	"github.com/smartcharger/charging-server/internal/storage/storagetest"
)

type recordingOvertimeNotifier struct {
	calls []int32
}

func (n *recordingOvertimeNotifier) OvertimeWarning(ctx context.Context, userID, pileID, recordID int64, pileCode string, overtimeMinutes int32) (*models.WarningNotice, error) {
	n.calls = append(n.calls, overtimeMinutes)
	return &models.WarningNotice{UserID: userID}, nil
}

type mapThresholds struct {
	m map[int64]int
}

func (s *mapThresholds) Get(ctx context.Context, userID int64) (int, bool, error) {
	v, ok := s.m[userID]
	return v, ok, nil
}

func newTestMonitor(repo *storagetest.FakeRepo, notifier OvertimeNotifier, thresholds ThresholdSource, grace time.Duration) *OvertimeMonitor {
	return NewOvertimeMonitor(repo, pilelock.New(), notifier, thresholds, nil, zap.NewNop(), time.Minute, grace)
}

func seedVacancy(t *testing.T, repo *storagetest.FakeRepo, userID int64, endedAgo time.Duration) (*models.ChargingPile, *models.ChargingRecord) {
	t.Helper()
	ctx := context.Background()
	pile := &models.ChargingPile{
		Code:    "M-001",
		Type:    coremodel.PileTypeDC,
		PowerKW: 120,
		Status:  coremodel.PileStatusIdle,
	}
	require.NoError(t, repo.CreatePile(ctx, pile))

	end := time.Now().Add(-endedAgo)
	rec := &models.ChargingRecord{
		RecordNo:  "C-M001",
		UserID:    userID,
		PileID:    pile.ID,
		StartTime: end.Add(-time.Hour),
		EndTime:   &end,
		Status:    coremodel.RecordCompleted,
	}
	require.NoError(t, repo.CreateRecord(ctx, rec))
	return pile, rec
}

// TestSweep_FlagsOvertime 结束20分钟未挪车、宽限15分钟：检出违规，超时5分钟
func TestSweep_FlagsOvertime(t *testing.T) {
	ctx := context.Background()
	repo := storagetest.NewFakeRepo()
	notifier := &recordingOvertimeNotifier{}
	m := newTestMonitor(repo, notifier, nil, 15*time.Minute)

	pile, rec := seedVacancy(t, repo, 1, 20*time.Minute)

	flagged, err := m.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, flagged)

	v, err := repo.GetViolationByRecord(ctx, rec.ID)
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, int32(5), v.OvertimeMinutes)
	assert.Equal(t, int64(1), v.UserID)

	got, err := repo.GetPile(ctx, pile.ID)
	require.NoError(t, err)
	assert.Equal(t, coremodel.PileStatusOvertime, got.Status)

	cur, err := repo.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, coremodel.RecordOvertime, cur.Status)

	require.Len(t, notifier.calls, 1)
	assert.Equal(t, int32(5), notifier.calls[0])
}

// TestSweep_Idempotent 重复巡检不重复检出
func TestSweep_Idempotent(t *testing.T) {
	ctx := context.Background()
	repo := storagetest.NewFakeRepo()
	notifier := &recordingOvertimeNotifier{}
	m := newTestMonitor(repo, notifier, nil, 15*time.Minute)
	seedVacancy(t, repo, 1, 20*time.Minute)

	_, err := m.Sweep(ctx)
	require.NoError(t, err)

	flagged, err := m.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, flagged)
	assert.Len(t, notifier.calls, 1)
}

// TestSweep_WithinGrace 宽限期内不检出
func TestSweep_WithinGrace(t *testing.T) {
	ctx := context.Background()
	repo := storagetest.NewFakeRepo()
	m := newTestMonitor(repo, &recordingOvertimeNotifier{}, nil, 30*time.Minute)
	seedVacancy(t, repo, 1, 20*time.Minute)

	flagged, err := m.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, flagged)
}

// TestSweep_UserThreshold 用户级阈值覆盖系统默认
func TestSweep_UserThreshold(t *testing.T) {
	ctx := context.Background()
	repo := storagetest.NewFakeRepo()
	notifier := &recordingOvertimeNotifier{}
	thresholds := &mapThresholds{m: map[int64]int{1: 10}}
	m := newTestMonitor(repo, notifier, thresholds, 30*time.Minute)
	_, rec := seedVacancy(t, repo, 1, 20*time.Minute)

	flagged, err := m.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, flagged)

	v, err := repo.GetViolationByRecord(ctx, rec.ID)
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, int32(10), v.OvertimeMinutes)
}

// TestSweep_NewerCommitmentSkipped 桩上已有更新的会话时不追责旧记录
func TestSweep_NewerCommitmentSkipped(t *testing.T) {
	ctx := context.Background()
	repo := storagetest.NewFakeRepo()
	m := newTestMonitor(repo, &recordingOvertimeNotifier{}, nil, 15*time.Minute)
	pile, rec := seedVacancy(t, repo, 1, 20*time.Minute)

	// 另一用户已开始新的充电
	require.NoError(t, repo.CreateRecord(ctx, &models.ChargingRecord{
		RecordNo:  "C-M002",
		UserID:    2,
		PileID:    pile.ID,
		StartTime: time.Now(),
		Status:    coremodel.RecordCharging,
	}))
	require.NoError(t, repo.UpdatePileStatus(ctx, pile.ID, coremodel.PileStatusCharging))

	flagged, err := m.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, flagged)

	v, err := repo.GetViolationByRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.Nil(t, v)
}
