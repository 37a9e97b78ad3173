package app

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smartcharger/charging-server/internal/coremodel"
	"github.com/smartcharger/charging-server/internal/storage/models"
	redisq "github.com/smartcharger/charging-server/internal/storage/redis"
	"github.com/smartcharger/charging-server/internal/storage/storagetest"
)

// memNoticeSource 内存队列，测试用
type memNoticeSource struct {
	pending []*redisq.NoticeMessage
	dead    []*redisq.NoticeMessage
}

func (q *memNoticeSource) Dequeue(ctx context.Context) (*redisq.NoticeMessage, error) {
	if len(q.pending) == 0 {
		return nil, nil
	}
	msg := q.pending[0]
	q.pending = q.pending[1:]
	return msg, nil
}

func (q *memNoticeSource) Requeue(ctx context.Context, msg *redisq.NoticeMessage, errMsg string) (bool, error) {
	msg.Retries++
	if msg.Retries >= msg.MaxRetry {
		q.dead = append(q.dead, msg)
		return false, nil
	}
	q.pending = append(q.pending, msg)
	return true, nil
}

// fakePusher 记录推送，offline时模拟用户不在线
type fakePusher struct {
	offline  bool
	payloads [][]byte
}

func (p *fakePusher) Push(userID int64, payload []byte) error {
	if p.offline {
		return errors.New("user offline")
	}
	p.payloads = append(p.payloads, payload)
	return nil
}

func seedNotice(t *testing.T, repo *storagetest.FakeRepo) *models.WarningNotice {
	t.Helper()
	n := &models.WarningNotice{
		UserID:     1,
		Type:       coremodel.NoticeOvertimeWarning,
		Content:    "测试通知",
		SendStatus: coremodel.SendPending,
	}
	require.NoError(t, repo.CreateNotice(context.Background(), n))
	return n
}

// TestNoticeWorker_Delivers 在线用户：推送成功并置SENT
func TestNoticeWorker_Delivers(t *testing.T) {
	ctx := context.Background()
	repo := storagetest.NewFakeRepo()
	n := seedNotice(t, repo)

	queue := &memNoticeSource{pending: []*redisq.NoticeMessage{{
		ID: "m1", NoticeID: n.ID, UserID: n.UserID,
		Type: string(n.Type), Content: n.Content, MaxRetry: 3,
	}}}
	pusher := &fakePusher{}
	w := NewNoticeWorker(queue, pusher, repo, nil, zap.NewNop(), 10)

	w.ProcessOne(ctx)

	require.Len(t, pusher.payloads, 1)
	assert.Contains(t, string(pusher.payloads[0]), "测试通知")

	got, err := repo.GetNotice(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, coremodel.SendSent, got.SendStatus)
	assert.Equal(t, int64(1), w.Stats()["sent"])
}

// TestNoticeWorker_RetriesThenDead 离线用户：重试耗尽进死信并置FAILED
func TestNoticeWorker_RetriesThenDead(t *testing.T) {
	ctx := context.Background()
	repo := storagetest.NewFakeRepo()
	n := seedNotice(t, repo)

	queue := &memNoticeSource{pending: []*redisq.NoticeMessage{{
		ID: "m1", NoticeID: n.ID, UserID: n.UserID,
		Type: string(n.Type), Content: n.Content, MaxRetry: 3,
	}}}
	w := NewNoticeWorker(queue, &fakePusher{offline: true}, repo, nil, zap.NewNop(), 10)

	for i := 0; i < 3; i++ {
		w.ProcessOne(ctx)
	}

	assert.Empty(t, queue.pending)
	require.Len(t, queue.dead, 1)

	got, err := repo.GetNotice(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, coremodel.SendFailed, got.SendStatus)
	assert.Equal(t, int64(2), w.Stats()["retried"])
}

// TestNoticeWorker_EmptyQueue 空队列不报错
func TestNoticeWorker_EmptyQueue(t *testing.T) {
	repo := storagetest.NewFakeRepo()
	w := NewNoticeWorker(&memNoticeSource{}, &fakePusher{}, repo, nil, zap.NewNop(), 10)
	w.ProcessOne(context.Background())
	assert.Zero(t, w.Stats()["sent"])
}
