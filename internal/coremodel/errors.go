package coremodel

import "errors"

// 引擎统一错误类别。业务层始终用 %w 包装后上抛，
// API 层通过 errors.Is 映射 HTTP 状态码，禁止吞错。
var (
	// ErrInvalidWindow 时间窗非法（起点不在未来 / 终点不晚于起点 / 超过最大时长）
	ErrInvalidWindow = errors.New("invalid time window")
	// ErrInvalidInput 请求参数非法
	ErrInvalidInput = errors.New("invalid input")
	// ErrSlotConflict 同一桩上预约/会话时间重叠
	ErrSlotConflict = errors.New("slot conflict")
	// ErrInvalidStateTransition 非法的充电桩状态流转
	ErrInvalidStateTransition = errors.New("invalid state transition")
	// ErrNoActivePriceConfig 当前无可用费用配置
	ErrNoActivePriceConfig = errors.New("no active price config")
	// ErrAmbiguousPriceConfig 同一桩型同一时刻命中多条费用配置
	ErrAmbiguousPriceConfig = errors.New("ambiguous price config")
	// ErrPriceConfigConflict 新配置与现有生效配置时间窗冲突
	ErrPriceConfigConflict = errors.New("price config conflict")
	// ErrNotFound 目标实体不存在
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized 操作者不拥有目标资源
	ErrUnauthorized = errors.New("unauthorized")
	// ErrUnavailable 基础设施不可用（引擎内不重试）
	ErrUnavailable = errors.New("unavailable")
)
