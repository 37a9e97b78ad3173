package coremodel

import "time"

// PileType 充电桩类型
type PileType string

const (
	PileTypeAC PileType = "AC" // 交流慢充
	PileTypeDC PileType = "DC" // 直流快充
)

// Valid 是否为已知类型
func (t PileType) Valid() bool {
	return t == PileTypeAC || t == PileTypeDC
}

// PileStatus 充电桩状态枚举（唯一权威定义，状态流转见 service/pilestate.go）
type PileStatus string

const (
	PileStatusIdle     PileStatus = "IDLE"     // 空闲
	PileStatusReserved PileStatus = "RESERVED" // 已预约
	PileStatusCharging PileStatus = "CHARGING" // 充电中
	PileStatusOvertime PileStatus = "OVERTIME" // 超时占位
	PileStatusFault    PileStatus = "FAULT"    // 故障
)

// ReservationStatus 预约状态枚举
// PENDING 是唯一持有桩占用承诺的非终态，其余均为终态。
type ReservationStatus string

const (
	ReservationPending   ReservationStatus = "PENDING"   // 待使用
	ReservationCompleted ReservationStatus = "COMPLETED" // 已完成（核销为充电会话）
	ReservationCancelled ReservationStatus = "CANCELLED" // 已取消
	ReservationExpired   ReservationStatus = "EXPIRED"   // 已过期
)

// Terminal 预约是否处于终态
func (s ReservationStatus) Terminal() bool {
	return s != ReservationPending
}

// RecordStatus 充电记录状态枚举
type RecordStatus string

const (
	RecordCharging  RecordStatus = "CHARGING"  // 充电中
	RecordCompleted RecordStatus = "COMPLETED" // 已完成
	RecordCancelled RecordStatus = "CANCELLED" // 已取消
	RecordOvertime  RecordStatus = "OVERTIME"  // 超时占位
)

// NoticeType 预警通知类型
type NoticeType string

const (
	NoticeIdleReminder        NoticeType = "IDLE_REMINDER"        // 空闲提醒
	NoticeOvertimeWarning     NoticeType = "OVERTIME_WARNING"     // 超时占位预警
	NoticeFaultNotice         NoticeType = "FAULT_NOTICE"         // 故障通知
	NoticeReservationReminder NoticeType = "RESERVATION_REMINDER" // 预约提醒
)

// Valid 是否为已知通知类型
func (t NoticeType) Valid() bool {
	switch t {
	case NoticeIdleReminder, NoticeOvertimeWarning, NoticeFaultNotice, NoticeReservationReminder:
		return true
	}
	return false
}

// SendStatus 通知发送状态
type SendStatus string

const (
	SendPending SendStatus = "PENDING" // 待发送
	SendSent    SendStatus = "SENT"    // 已发送
	SendFailed  SendStatus = "FAILED"  // 发送失败
)

// FaultStatus 故障报修状态
type FaultStatus string

const (
	FaultPending    FaultStatus = "PENDING"    // 待处理
	FaultProcessing FaultStatus = "PROCESSING" // 处理中
	FaultResolved   FaultStatus = "RESOLVED"   // 已修复
)

// Window 半开时间窗 [Start, End)
type Window struct {
	Start time.Time
	End   time.Time
}

// Overlaps 两个半开区间是否重叠：s1 < e2 && s2 < e1
func (w Window) Overlaps(other Window) bool {
	return w.Start.Before(other.End) && other.Start.Before(w.End)
}

// Contains 时刻是否落在窗口内（含起点，不含终点）
func (w Window) Contains(at time.Time) bool {
	return !at.Before(w.Start) && at.Before(w.End)
}

// Duration 窗口时长
func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}
