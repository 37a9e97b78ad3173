package app

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/smartcharger/charging-server/internal/coremodel"
	"github.com/smartcharger/charging-server/internal/metrics"
	"github.com/smartcharger/charging-server/internal/storage"
	redisq "github.com/smartcharger/charging-server/internal/storage/redis"
)

// NoticeSource 通知投递队列
type NoticeSource interface {
	Dequeue(ctx context.Context) (*redisq.NoticeMessage, error)
	Requeue(ctx context.Context, msg *redisq.NoticeMessage, errMsg string) (requeued bool, err error)
}

// NoticePusher 在线推送通道（WebSocket集线器）
type NoticePusher interface {
	Push(userID int64, payload []byte) error
}

// noticePayload 推送给客户端的消息体
type noticePayload struct {
	NoticeID int64  `json:"notice_id"`
	Type     string `json:"type"`
	Content  string `json:"content"`
}

// NoticeWorker 通知投递Worker。
// 从Redis队列取消息推送给在线用户，DB端通知状态随之流转：
// 推送成功置SENT；失败重回队列，重试耗尽进死信并置FAILED。
// 通知本体始终在DB，用户离线也能在列表里看到。
type NoticeWorker struct {
	queue      NoticeSource
	pusher     NoticePusher
	repo       storage.CoreRepo
	metrics    *metrics.AppMetrics
	logger     *zap.Logger
	throttleMs int
	stopC      chan struct{}

	sent    atomic.Int64
	failed  atomic.Int64
	retried atomic.Int64
}

func NewNoticeWorker(queue NoticeSource, pusher NoticePusher, repo storage.CoreRepo,
	m *metrics.AppMetrics, logger *zap.Logger, throttleMs int) *NoticeWorker {
	if throttleMs <= 0 {
		throttleMs = 100
	}
	return &NoticeWorker{
		queue:      queue,
		pusher:     pusher,
		repo:       repo,
		metrics:    m,
		logger:     logger,
		throttleMs: throttleMs,
		stopC:      make(chan struct{}),
	}
}

// Start 启动Worker，ctx取消或Stop后退出
func (w *NoticeWorker) Start(ctx context.Context) {
	w.logger.Info("notice worker started", zap.Int("throttle_ms", w.throttleMs))

	ticker := time.NewTicker(time.Duration(w.throttleMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("notice worker stopping")
			return
		case <-w.stopC:
			w.logger.Info("notice worker stopped")
			return
		case <-ticker.C:
			w.ProcessOne(ctx)
		}
	}
}

// Stop 停止Worker
func (w *NoticeWorker) Stop() {
	close(w.stopC)
}

// ProcessOne 处理一条消息，队列为空时直接返回
func (w *NoticeWorker) ProcessOne(ctx context.Context) {
	msg, err := w.queue.Dequeue(ctx)
	if err != nil {
		w.logger.Error("dequeue notice failed", zap.Error(err))
		return
	}
	if msg == nil {
		return
	}

	payload, err := json.Marshal(noticePayload{
		NoticeID: msg.NoticeID,
		Type:     msg.Type,
		Content:  msg.Content,
	})
	if err != nil {
		w.markFailed(ctx, msg, err.Error())
		return
	}

	if err := w.pusher.Push(msg.UserID, payload); err != nil {
		w.logger.Debug("push notice failed",
			zap.String("msg_id", msg.ID),
			zap.Int64("user_id", msg.UserID),
			zap.Error(err))
		w.markFailed(ctx, msg, err.Error())
		return
	}

	if err := w.repo.UpdateNoticeSendStatus(ctx, msg.NoticeID, coremodel.SendSent); err != nil {
		w.logger.Error("mark notice sent failed",
			zap.Int64("notice_id", msg.NoticeID),
			zap.Error(err))
	}
	w.sent.Add(1)
	if w.metrics != nil {
		w.metrics.NoticeTotal.WithLabelValues("sent").Inc()
	}
	w.logger.Info("notice delivered",
		zap.String("msg_id", msg.ID),
		zap.Int64("user_id", msg.UserID),
		zap.String("type", msg.Type))
}

// markFailed 失败处理：未耗尽重试则重回队列，否则进死信并标记FAILED
func (w *NoticeWorker) markFailed(ctx context.Context, msg *redisq.NoticeMessage, errMsg string) {
	w.failed.Add(1)
	requeued, err := w.queue.Requeue(ctx, msg, errMsg)
	if err != nil {
		w.logger.Error("requeue notice failed",
			zap.String("msg_id", msg.ID),
			zap.Error(err))
		return
	}

	if requeued {
		w.retried.Add(1)
		if w.metrics != nil {
			w.metrics.NoticeTotal.WithLabelValues("retried").Inc()
		}
		return
	}

	// 死信：用户长时间不在线，放弃在线推送，DB里仍可见
	if err := w.repo.UpdateNoticeSendStatus(ctx, msg.NoticeID, coremodel.SendFailed); err != nil {
		w.logger.Error("mark notice failed failed",
			zap.Int64("notice_id", msg.NoticeID),
			zap.Error(err))
	}
	if w.metrics != nil {
		w.metrics.NoticeTotal.WithLabelValues("dead").Inc()
	}
	w.logger.Warn("notice moved to dead queue",
		zap.String("msg_id", msg.ID),
		zap.Int64("user_id", msg.UserID),
		zap.String("error", errMsg))
}

// Stats Worker统计
func (w *NoticeWorker) Stats() map[string]int64 {
	return map[string]int64{
		"sent":    w.sent.Load(),
		"failed":  w.failed.Load(),
		"retried": w.retried.Load(),
	}
}
