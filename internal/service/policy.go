package service

import "time"

// Policy 引擎策略参数，由配置装配，各服务只读
type Policy struct {
	// MaxReservationDuration 单次预约最大时长
	MaxReservationDuration time.Duration
	// EarlyStartWindow 预约开始前允许提前开始充电的窗口
	EarlyStartWindow time.Duration
	// OvertimeGrace 充电结束后允许占位的宽限时长（可被用户级阈值覆盖）
	OvertimeGrace time.Duration
}

// DefaultPolicy 缺省策略
func DefaultPolicy() Policy {
	return Policy{
		MaxReservationDuration: 4 * time.Hour,
		EarlyStartWindow:       30 * time.Minute,
		OvertimeGrace:          30 * time.Minute,
	}
}
