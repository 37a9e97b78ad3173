package models

import (
	"time"

	"github.com/smartcharger/charging-server/internal/coremodel"
)

// 注意：
// - 保持与 db/migrations/0001_init_up.sql 完全对齐
// - 不使用 gorm.Model，显式声明每个字段，避免隐式 DeletedAt
// - 状态列统一存 coremodel 的字符串枚举

// ChargingPile 映射 charging_pile 表
type ChargingPile struct {
	ID int64 `gorm:"column:id;primaryKey;autoIncrement"`
	// 桩编号，对外唯一标识
	Code     string             `gorm:"column:code;type:varchar(50);not null;uniqueIndex"`
	Location string             `gorm:"column:location;type:text;not null"`
	Lng      *float64           `gorm:"column:lng;type:numeric(10,7)"`
	Lat      *float64           `gorm:"column:lat;type:numeric(10,7)"`
	Type     coremodel.PileType `gorm:"column:type;type:varchar(20);not null"`
	// 额定功率（kW）
	PowerKW float64 `gorm:"column:power_kw;type:numeric(10,2);not null"`
	// 状态仅由状态机修改
	Status    coremodel.PileStatus `gorm:"column:status;type:varchar(20);not null;default:IDLE"`
	CreatedAt time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}

func (ChargingPile) TableName() string { return "charging_pile" }

// Reservation 映射 reservation 表
type Reservation struct {
	ID            int64  `gorm:"column:id;primaryKey;autoIncrement"`
	ReservationNo string `gorm:"column:reservation_no;type:varchar(40);not null;uniqueIndex"`
	UserID        int64  `gorm:"column:user_id;not null;index"`
	PileID        int64  `gorm:"column:pile_id;not null;index:idx_reservation_pile_status,priority:1"`
	// 车辆可空：来源系统存在无车辆预约
	VehicleID *int64                      `gorm:"column:vehicle_id"`
	StartTime time.Time                   `gorm:"column:start_time;not null"`
	EndTime   time.Time                   `gorm:"column:end_time;not null"`
	Status    coremodel.ReservationStatus `gorm:"column:status;type:varchar(20);not null;index:idx_reservation_pile_status,priority:2"`
	// 取消原因，仅CANCELLED时有值
	CancelReason *string   `gorm:"column:cancel_reason;type:text"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Reservation) TableName() string { return "reservation" }

// Window 返回预约的半开时间窗
func (r *Reservation) Window() coremodel.Window {
	return coremodel.Window{Start: r.StartTime, End: r.EndTime}
}

// ChargingRecord 映射 charging_record 表
type ChargingRecord struct {
	ID       int64  `gorm:"column:id;primaryKey;autoIncrement"`
	RecordNo string `gorm:"column:record_no;type:varchar(40);not null;uniqueIndex"`
	UserID   int64  `gorm:"column:user_id;not null;index"`
	PileID   int64  `gorm:"column:pile_id;not null;index:idx_record_pile_status,priority:1"`
	// 关联预约，直接充电时为空
	ReservationID *int64     `gorm:"column:reservation_id"`
	VehicleID     *int64     `gorm:"column:vehicle_id"`
	StartTime     time.Time  `gorm:"column:start_time;not null"`
	EndTime       *time.Time `gorm:"column:end_time"`
	// 时长（分钟），结束时写入
	DurationMin *int32 `gorm:"column:duration_min"`
	// 充电量（度）
	ElectricQuantity *float64 `gorm:"column:electric_quantity;type:numeric(10,2)"`
	// 开始充电时刻锁定的费用配置快照，结算只认快照，期间调价不影响本单
	PriceConfigID *int64   `gorm:"column:price_config_id"`
	PricePerKwh   *float64 `gorm:"column:price_per_kwh;type:numeric(10,2)"`
	ServiceFee    *float64 `gorm:"column:service_fee;type:numeric(10,2)"`
	// 费用（元），结算后不可变（OVERTIME流转除外）
	Fee       *float64               `gorm:"column:fee;type:numeric(10,2)"`
	Status    coremodel.RecordStatus `gorm:"column:status;type:varchar(20);not null;index:idx_record_pile_status,priority:2"`
	CreatedAt time.Time              `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time              `gorm:"column:updated_at;autoUpdateTime"`
}

func (ChargingRecord) TableName() string { return "charging_record" }

// PriceConfig 映射 price_config 表
type PriceConfig struct {
	ID       int64              `gorm:"column:id;primaryKey;autoIncrement"`
	PileType coremodel.PileType `gorm:"column:pile_type;type:varchar(20);not null;index"`
	// 电价（元/度）
	PricePerKwh float64 `gorm:"column:price_per_kwh;type:numeric(10,2);not null"`
	// 每次服务费（元），与电量无关
	ServiceFee float64 `gorm:"column:service_fee;type:numeric(10,2);not null;default:0"`
	// 生效窗口，空侧开放
	StartTime *time.Time `gorm:"column:start_time"`
	EndTime   *time.Time `gorm:"column:end_time"`
	IsActive  bool       `gorm:"column:is_active;not null;default:true"`
	CreatedAt time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (PriceConfig) TableName() string { return "price_config" }

// CoversAt 判定配置的生效窗口是否覆盖 at（空侧视为无界）
func (p *PriceConfig) CoversAt(at time.Time) bool {
	if p.StartTime != nil && at.Before(*p.StartTime) {
		return false
	}
	if p.EndTime != nil && !at.Before(*p.EndTime) {
		return false
	}
	return true
}

// ViolationRecord 映射 violation_record 表
// 仅由超时巡检创建，一条充电记录至多一条，创建后不可变。
type ViolationRecord struct {
	ID               int64     `gorm:"column:id;primaryKey;autoIncrement"`
	ChargingRecordID int64     `gorm:"column:charging_record_id;not null;uniqueIndex"`
	UserID           int64     `gorm:"column:user_id;not null;index"`
	PileID           int64     `gorm:"column:pile_id;not null"`
	OvertimeMinutes  int32     `gorm:"column:overtime_minutes;not null"`
	DetectedAt       time.Time `gorm:"column:detected_at;not null"`
	CreatedAt        time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (ViolationRecord) TableName() string { return "violation_record" }

// WarningNotice 映射 warning_notice 表
type WarningNotice struct {
	ID     int64                `gorm:"column:id;primaryKey;autoIncrement"`
	UserID int64                `gorm:"column:user_id;not null;index:idx_notice_user_read,priority:1"`
	Type   coremodel.NoticeType `gorm:"column:type;type:varchar(50);not null"`
	// 关联实体，按类型可空
	PileID           *int64               `gorm:"column:pile_id"`
	ChargingRecordID *int64               `gorm:"column:charging_record_id"`
	ReservationID    *int64               `gorm:"column:reservation_id"`
	Content          string               `gorm:"column:content;type:text;not null"`
	OvertimeMinutes  *int32               `gorm:"column:overtime_minutes"`
	IsRead           bool                 `gorm:"column:is_read;not null;default:false;index:idx_notice_user_read,priority:2"`
	SendStatus       coremodel.SendStatus `gorm:"column:send_status;type:varchar(20);not null;default:PENDING"`
	CreatedAt        time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}

func (WarningNotice) TableName() string { return "warning_notice" }

// FaultReport 映射 fault_report 表
type FaultReport struct {
	ID int64 `gorm:"column:id;primaryKey;autoIncrement"`
	// 报修人，系统自动上报时为空
	UserID       *int64                `gorm:"column:user_id"`
	PileID       int64                 `gorm:"column:pile_id;not null;index"`
	Description  string                `gorm:"column:description;type:text;not null"`
	Status       coremodel.FaultStatus `gorm:"column:status;type:varchar(20);not null;default:PENDING"`
	HandlerID    *int64                `gorm:"column:handler_id"`
	HandleRemark *string               `gorm:"column:handle_remark;type:text"`
	CreatedAt    time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}

func (FaultReport) TableName() string { return "fault_report" }
