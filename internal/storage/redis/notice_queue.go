package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// Redis Key前缀
	noticeQueueKey = "notice:queue" // 待投递队列（Sorted Set，按创建时间排序）
	noticeDeadKey  = "notice:dead"  // 死信队列（List）
)

// NoticeMessage 投递队列中的通知消息
type NoticeMessage struct {
	ID        string    `json:"id"`         // 消息ID（唯一）
	NoticeID  int64     `json:"notice_id"`  // 预警通知ID
	UserID    int64     `json:"user_id"`    // 目标用户ID
	Type      string    `json:"type"`       // 通知类型
	Content   string    `json:"content"`    // 通知内容
	Retries   int       `json:"retries"`    // 已重试次数
	MaxRetry  int       `json:"max_retry"`  // 最大重试次数
	CreatedAt time.Time `json:"created_at"` // 创建时间
	UpdatedAt time.Time `json:"updated_at"` // 更新时间
}

// NoticeQueue Redis通知投递队列
type NoticeQueue struct {
	client *Client
}

// NewNoticeQueue 创建通知投递队列
func NewNoticeQueue(client *Client) *NoticeQueue {
	return &NoticeQueue{client: client}
}

// Enqueue 入队（添加待投递通知）
func (q *NoticeQueue) Enqueue(ctx context.Context, msg *NoticeMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal notice message: %w", err)
	}

	// score为创建时间戳，先创建的先投递
	return q.client.ZAdd(ctx, noticeQueueKey, redis.Z{
		Score:  float64(msg.CreatedAt.UnixNano()),
		Member: msg.ID + ":" + string(data),
	}).Err()
}

// Dequeue 出队（取一条待投递通知，队列为空返回nil）
func (q *NoticeQueue) Dequeue(ctx context.Context) (*NoticeMessage, error) {
	result, err := q.client.ZPopMin(ctx, noticeQueueKey, 1).Result()
	if err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return nil, nil
	}

	member := result[0].Member.(string)
	msg, err := parseNoticeMessage(member)
	if err != nil {
		return nil, fmt.Errorf("parse notice message: %w", err)
	}
	return msg, nil
}

// Requeue 投递失败重新入队，超过最大重试次数进入死信队列。
// 返回true表示已重新入队，false表示进入死信。
func (q *NoticeQueue) Requeue(ctx context.Context, msg *NoticeMessage, errMsg string) (bool, error) {
	msg.Retries++
	msg.UpdatedAt = time.Now()

	if msg.Retries < msg.MaxRetry {
		return true, q.Enqueue(ctx, msg)
	}

	dead := map[string]interface{}{
		"message":   msg,
		"error":     errMsg,
		"failed_at": time.Now(),
	}
	data, _ := json.Marshal(dead)
	return false, q.client.LPush(ctx, noticeDeadKey, data).Err()
}

// GetPendingCount 待投递通知数量
func (q *NoticeQueue) GetPendingCount(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, noticeQueueKey).Result()
}

// GetDeadCount 死信通知数量
func (q *NoticeQueue) GetDeadCount(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, noticeDeadKey).Result()
}

// parseNoticeMessage 解析 "ID:JSON" 格式的队列成员
func parseNoticeMessage(member string) (*NoticeMessage, error) {
	idx := strings.IndexByte(member, ':')
	if idx < 0 {
		return nil, fmt.Errorf("invalid message format")
	}

	var msg NoticeMessage
	if err := json.Unmarshal([]byte(member[idx+1:]), &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
