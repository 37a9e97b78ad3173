package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/smartcharger/charging-server/internal/coremodel"
	"github.com/smartcharger/charging-server/internal/storage"
	"github.com/smartcharger/charging-server/internal/storage/models"
	redisq "github.com/smartcharger/charging-server/internal/storage/redis"
)

// 投递重试上限，超过进入死信队列
const defaultMaxRetry = 3

// Input 创建通知的参数
type Input struct {
	UserID           int64
	Type             coremodel.NoticeType
	Content          string
	PileID           *int64
	ChargingRecordID *int64
	ReservationID    *int64
	OvertimeMinutes  *int32
}

// Sender 引擎各处下发通知的出口
type Sender interface {
	Notify(ctx context.Context, in Input) (*models.WarningNotice, error)
}

// Queue 投递队列抽象
type Queue interface {
	Enqueue(ctx context.Context, msg *redisq.NoticeMessage) error
}

// Dispatcher 通知分发器。
// 通知先以PENDING落库，再进投递队列由worker异步送达；
// 队列不可用时通知仍然落库，投递状态留在PENDING等待补偿。
type Dispatcher struct {
	repo   storage.CoreRepo
	queue  Queue
	tmpl   *Templates
	logger *zap.Logger
}

// NewDispatcher 创建通知分发器。queue可为nil（未启用redis时通知仅落库）。
func NewDispatcher(repo storage.CoreRepo, queue Queue, tmpl *Templates, logger *zap.Logger) *Dispatcher {
	if tmpl == nil {
		tmpl = DefaultTemplates()
	}
	return &Dispatcher{repo: repo, queue: queue, tmpl: tmpl, logger: logger}
}

// Notify 创建一条PENDING通知并安排投递
func (d *Dispatcher) Notify(ctx context.Context, in Input) (*models.WarningNotice, error) {
	if !in.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown notice type %q", coremodel.ErrInvalidInput, in.Type)
	}

	n := &models.WarningNotice{
		UserID:           in.UserID,
		Type:             in.Type,
		PileID:           in.PileID,
		ChargingRecordID: in.ChargingRecordID,
		ReservationID:    in.ReservationID,
		Content:          in.Content,
		OvertimeMinutes:  in.OvertimeMinutes,
		SendStatus:       coremodel.SendPending,
	}
	if err := d.repo.CreateNotice(ctx, n); err != nil {
		return nil, err
	}

	if d.queue != nil {
		msg := &redisq.NoticeMessage{
			ID:        uuid.New().String(),
			NoticeID:  n.ID,
			UserID:    n.UserID,
			Type:      string(n.Type),
			Content:   n.Content,
			MaxRetry:  defaultMaxRetry,
			CreatedAt: time.Now(),
			UpdatedAt: time.Now(),
		}
		if err := d.queue.Enqueue(ctx, msg); err != nil {
			// 入队失败不回滚落库，等待补偿扫描
			d.logger.Error("enqueue notice failed",
				zap.Int64("notice_id", n.ID),
				zap.Error(err))
		}
	}

	d.logger.Info("notice created",
		zap.Int64("notice_id", n.ID),
		zap.Int64("user_id", n.UserID),
		zap.String("type", string(n.Type)))
	return n, nil
}

// OvertimeWarning 超时占位预警
func (d *Dispatcher) OvertimeWarning(ctx context.Context, userID, pileID, recordID int64, pileCode string, overtimeMinutes int32) (*models.WarningNotice, error) {
	return d.Notify(ctx, Input{
		UserID:           userID,
		Type:             coremodel.NoticeOvertimeWarning,
		Content:          d.tmpl.Render(coremodel.NoticeOvertimeWarning, pileCode, overtimeMinutes),
		PileID:           &pileID,
		ChargingRecordID: &recordID,
		OvertimeMinutes:  &overtimeMinutes,
	})
}

// FaultNotice 故障通知
func (d *Dispatcher) FaultNotice(ctx context.Context, userID, pileID int64, pileCode string) (*models.WarningNotice, error) {
	return d.Notify(ctx, Input{
		UserID:  userID,
		Type:    coremodel.NoticeFaultNotice,
		Content: d.tmpl.Render(coremodel.NoticeFaultNotice, pileCode),
		PileID:  &pileID,
	})
}

// ReservationReminder 预约开始提醒
func (d *Dispatcher) ReservationReminder(ctx context.Context, userID, pileID, reservationID int64, pileCode string) (*models.WarningNotice, error) {
	return d.Notify(ctx, Input{
		UserID:        userID,
		Type:          coremodel.NoticeReservationReminder,
		Content:       d.tmpl.Render(coremodel.NoticeReservationReminder, pileCode),
		PileID:        &pileID,
		ReservationID: &reservationID,
	})
}

// IdleReminder 空闲提醒
func (d *Dispatcher) IdleReminder(ctx context.Context, userID, pileID int64, pileCode string) (*models.WarningNotice, error) {
	return d.Notify(ctx, Input{
		UserID:  userID,
		Type:    coremodel.NoticeIdleReminder,
		Content: d.tmpl.Render(coremodel.NoticeIdleReminder, pileCode),
		PileID:  &pileID,
	})
}

// List 分页查询用户通知
func (d *Dispatcher) List(ctx context.Context, userID int64, f storage.NoticeFilter, page storage.ListPage) ([]models.WarningNotice, int64, error) {
	return d.repo.ListNoticesByUser(ctx, userID, f, page)
}

// UnreadCount 未读通知数
func (d *Dispatcher) UnreadCount(ctx context.Context, userID int64) (int64, error) {
	return d.repo.CountUnreadNotices(ctx, userID)
}

// MarkRead 标记已读，仅通知归属人可操作
func (d *Dispatcher) MarkRead(ctx context.Context, userID, noticeID int64) error {
	if err := d.checkOwner(ctx, userID, noticeID); err != nil {
		return err
	}
	return d.repo.MarkNoticeRead(ctx, noticeID)
}

// MarkAllRead 全部标记已读
func (d *Dispatcher) MarkAllRead(ctx context.Context, userID int64) error {
	return d.repo.MarkAllNoticesRead(ctx, userID)
}

// Delete 删除通知，仅通知归属人可操作
func (d *Dispatcher) Delete(ctx context.Context, userID, noticeID int64) error {
	if err := d.checkOwner(ctx, userID, noticeID); err != nil {
		return err
	}
	return d.repo.DeleteNotice(ctx, noticeID)
}

func (d *Dispatcher) checkOwner(ctx context.Context, userID, noticeID int64) error {
	n, err := d.repo.GetNotice(ctx, noticeID)
	if err != nil {
		return err
	}
	if n.UserID != userID {
		return fmt.Errorf("%w: notice %d", coremodel.ErrUnauthorized, noticeID)
	}
	return nil
}
