package notify

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smartcharger/charging-server/internal/coremodel"
	"github.com/smartcharger/charging-server/internal/storage"
	redisq "github.com/smartcharger/charging-server/internal/storage/redis"
	"github.com/smartcharger/charging-server/internal/storage/storagetest"
)

// memQueue 记录入队消息的内存队列
type memQueue struct {
	mu   sync.Mutex
	msgs []*redisq.NoticeMessage
	fail bool
}

func (q *memQueue) Enqueue(_ context.Context, msg *redisq.NoticeMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.fail {
		return assert.AnError
	}
	q.msgs = append(q.msgs, msg)
	return nil
}

func newTestDispatcher(t *testing.T, queue Queue) (*Dispatcher, *storagetest.FakeRepo) {
	t.Helper()
	repo := storagetest.NewFakeRepo()
	return NewDispatcher(repo, queue, DefaultTemplates(), zap.NewNop()), repo
}

// TestNotify 通知落库为PENDING并进入投递队列
func TestNotify(t *testing.T) {
	queue := &memQueue{}
	d, repo := newTestDispatcher(t, queue)
	ctx := context.Background()

	n, err := d.OvertimeWarning(ctx, 1, 10, 100, "A-001", 25)
	require.NoError(t, err)
	assert.Equal(t, coremodel.SendPending, n.SendStatus)
	assert.Contains(t, n.Content, "A-001")
	assert.Contains(t, n.Content, "25")
	require.NotNil(t, n.OvertimeMinutes)
	assert.Equal(t, int32(25), *n.OvertimeMinutes)

	require.Len(t, queue.msgs, 1)
	assert.Equal(t, n.ID, queue.msgs[0].NoticeID)

	count, err := repo.CountUnreadNotices(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

// TestNotify_QueueDown 入队失败不回滚落库
func TestNotify_QueueDown(t *testing.T) {
	d, repo := newTestDispatcher(t, &memQueue{fail: true})
	ctx := context.Background()

	n, err := d.FaultNotice(ctx, 1, 10, "A-001")
	require.NoError(t, err)

	got, err := repo.GetNotice(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, coremodel.SendPending, got.SendStatus)
}

// TestNotify_NilQueue 未启用redis时仅落库
func TestNotify_NilQueue(t *testing.T) {
	d, _ := newTestDispatcher(t, nil)
	_, err := d.ReservationReminder(context.Background(), 1, 10, 5, "A-001")
	require.NoError(t, err)
}

// TestNotify_InvalidType 未知通知类型被拒
func TestNotify_InvalidType(t *testing.T) {
	d, _ := newTestDispatcher(t, nil)
	_, err := d.Notify(context.Background(), Input{UserID: 1, Type: "BOGUS"})
	assert.ErrorIs(t, err, coremodel.ErrInvalidInput)
}

// TestMarkRead_Ownership 非归属人操作返回未授权
func TestMarkRead_Ownership(t *testing.T) {
	d, _ := newTestDispatcher(t, nil)
	ctx := context.Background()

	n, err := d.IdleReminder(ctx, 1, 10, "A-001")
	require.NoError(t, err)

	assert.ErrorIs(t, d.MarkRead(ctx, 2, n.ID), coremodel.ErrUnauthorized)
	require.NoError(t, d.MarkRead(ctx, 1, n.ID))

	list, total, err := d.List(ctx, 1, storage.NoticeFilter{}, storage.ListPage{Page: 1, Size: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, list, 1)
	assert.True(t, list[0].IsRead)
}
