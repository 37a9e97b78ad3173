package redis

import (
	"context"
	"errors"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// 用户级超时占位预警阈值，Hash: user_id -> 分钟数
const thresholdKey = "notice:threshold"

// ThresholdStore 用户级预警阈值存储。
// 未设置的用户回落到系统默认值（由调用方决定）。
type ThresholdStore struct {
	client *Client
}

// NewThresholdStore 创建阈值存储
func NewThresholdStore(client *Client) *ThresholdStore {
	return &ThresholdStore{client: client}
}

// Get 查询用户阈值（分钟），未设置时ok=false
func (s *ThresholdStore) Get(ctx context.Context, userID int64) (minutes int, ok bool, err error) {
	v, err := s.client.HGet(ctx, thresholdKey, strconv.FormatInt(userID, 10)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	minutes, err = strconv.Atoi(v)
	if err != nil {
		return 0, false, nil
	}
	return minutes, true, nil
}

// Set 设置用户阈值（分钟）
func (s *ThresholdStore) Set(ctx context.Context, userID int64, minutes int) error {
	return s.client.HSet(ctx, thresholdKey, strconv.FormatInt(userID, 10), strconv.Itoa(minutes)).Err()
}

// Clear 清除用户阈值，回落到系统默认
func (s *ThresholdStore) Clear(ctx context.Context, userID int64) error {
	return s.client.HDel(ctx, thresholdKey, strconv.FormatInt(userID, 10)).Err()
}
