package storage

import (
	"context"
	"time"

	"github.com/smartcharger/charging-server/internal/coremodel"
	"github.com/smartcharger/charging-server/internal/storage/models"
)

// ListPage 分页参数，页码从1开始
type ListPage struct {
	Page int
	Size int
}

// Offset 计算偏移量
func (p ListPage) Offset() int {
	if p.Page < 1 {
		return 0
	}
	return (p.Page - 1) * p.Size
}

// ReservationFilter 预约列表过滤条件
type ReservationFilter struct {
	UserID *int64
	PileID *int64
	Status *coremodel.ReservationStatus
}

// RecordFilter 充电记录列表过滤条件
type RecordFilter struct {
	UserID *int64
	PileID *int64
	Status *coremodel.RecordStatus
	// 起止日期过滤（按 start_time），空侧开放
	From *time.Time
	To   *time.Time
}

// NoticeFilter 通知列表过滤条件
type NoticeFilter struct {
	Type   *coremodel.NoticeType
	IsRead *bool
}

// CoreRepo 面向引擎核心的存储抽象。
// 约束：
// - 业务层禁止直接写 SQL，统一通过本接口访问
// - 实现需要提供事务封装 WithTx，保证核心路径原子性
// - 接口必须保持 DB-agnostic（面向模型与基础类型）
type CoreRepo interface {
	// ---------- 事务 ----------
	// WithTx 在单个事务中执行 fn，fn 内通过传入 repo 的读写都在同一事务中。
	// 嵌套调用复用当前事务。
	WithTx(ctx context.Context, fn func(repo CoreRepo) error) error

	// ---------- 充电桩 ----------
	CreatePile(ctx context.Context, pile *models.ChargingPile) error
	GetPile(ctx context.Context, id int64) (*models.ChargingPile, error)
	GetPileByCode(ctx context.Context, code string) (*models.ChargingPile, error)
	UpdatePileAttrs(ctx context.Context, pile *models.ChargingPile) error
	// UpdatePileStatus 仅更新状态列，调用方必须已通过状态机校验
	UpdatePileStatus(ctx context.Context, id int64, status coremodel.PileStatus) error
	ListPiles(ctx context.Context, status *coremodel.PileStatus, pileType *coremodel.PileType, page ListPage) ([]models.ChargingPile, int64, error)
	DeletePile(ctx context.Context, id int64) error

	// ---------- 预约 ----------
	CreateReservation(ctx context.Context, r *models.Reservation) error
	GetReservation(ctx context.Context, id int64) (*models.Reservation, error)
	// ListActiveReservationsByPile 指定桩上全部非终态预约
	ListActiveReservationsByPile(ctx context.Context, pileID int64) ([]models.Reservation, error)
	// GetActiveReservationByUser 用户当前进行中的预约（至多一条）
	GetActiveReservationByUser(ctx context.Context, userID int64) (*models.Reservation, error)
	// UpdateReservationStatus 更新预约状态与取消原因
	UpdateReservationStatus(ctx context.Context, id int64, status coremodel.ReservationStatus, cancelReason *string) error
	// ListExpiredReservations 窗口已结束但仍为PENDING的预约
	ListExpiredReservations(ctx context.Context, now time.Time, limit int) ([]models.Reservation, error)
	ListReservations(ctx context.Context, f ReservationFilter, page ListPage) ([]models.Reservation, int64, error)

	// ---------- 充电记录 ----------
	CreateRecord(ctx context.Context, rec *models.ChargingRecord) error
	GetRecord(ctx context.Context, id int64) (*models.ChargingRecord, error)
	// GetActiveRecordByPile 指定桩上CHARGING中的记录
	GetActiveRecordByPile(ctx context.Context, pileID int64) (*models.ChargingRecord, error)
	// GetActiveRecordByUser 用户当前充电中的记录（至多一条）
	GetActiveRecordByUser(ctx context.Context, userID int64) (*models.ChargingRecord, error)
	// GetLatestRecordByPile 指定桩上最近创建的记录
	GetLatestRecordByPile(ctx context.Context, pileID int64) (*models.ChargingRecord, error)
	// CloseRecord 写入结束字段并流转状态（结算）
	CloseRecord(ctx context.Context, rec *models.ChargingRecord) error
	// UpdateRecordStatus 仅流转状态（OVERTIME等）
	UpdateRecordStatus(ctx context.Context, id int64, status coremodel.RecordStatus) error
	// ListUnvacatedRecords 已完成且结束时间早于cutoff的记录，供超时巡检
	ListUnvacatedRecords(ctx context.Context, cutoff time.Time, limit int) ([]models.ChargingRecord, error)
	ListRecords(ctx context.Context, f RecordFilter, page ListPage) ([]models.ChargingRecord, int64, error)

	// ---------- 费用配置 ----------
	CreatePriceConfig(ctx context.Context, cfg *models.PriceConfig) error
	GetPriceConfig(ctx context.Context, id int64) (*models.PriceConfig, error)
	UpdatePriceConfig(ctx context.Context, cfg *models.PriceConfig) error
	// ListActivePriceConfigs 指定类型的全部生效配置（窗口过滤由调用方完成）
	ListActivePriceConfigs(ctx context.Context, pileType coremodel.PileType) ([]models.PriceConfig, error)
	ListPriceConfigs(ctx context.Context, pileType *coremodel.PileType, isActive *bool, page ListPage) ([]models.PriceConfig, int64, error)

	// ---------- 违规记录 ----------
	CreateViolation(ctx context.Context, v *models.ViolationRecord) error
	// GetViolationByRecord 按充电记录查违规（幂等检查用）
	GetViolationByRecord(ctx context.Context, chargingRecordID int64) (*models.ViolationRecord, error)
	ListViolationsByUser(ctx context.Context, userID int64, page ListPage) ([]models.ViolationRecord, int64, error)

	// ---------- 预警通知 ----------
	CreateNotice(ctx context.Context, n *models.WarningNotice) error
	GetNotice(ctx context.Context, id int64) (*models.WarningNotice, error)
	ListNoticesByUser(ctx context.Context, userID int64, f NoticeFilter, page ListPage) ([]models.WarningNotice, int64, error)
	CountUnreadNotices(ctx context.Context, userID int64) (int64, error)
	MarkNoticeRead(ctx context.Context, id int64) error
	MarkAllNoticesRead(ctx context.Context, userID int64) error
	DeleteNotice(ctx context.Context, id int64) error
	UpdateNoticeSendStatus(ctx context.Context, id int64, status coremodel.SendStatus) error

	// ---------- 故障报修 ----------
	CreateFaultReport(ctx context.Context, f *models.FaultReport) error
	GetFaultReport(ctx context.Context, id int64) (*models.FaultReport, error)
	UpdateFaultReport(ctx context.Context, f *models.FaultReport) error
	ListFaultReports(ctx context.Context, pileID *int64, status *coremodel.FaultStatus, page ListPage) ([]models.FaultReport, int64, error)
	// CountOpenFaultsByPile 指定桩上未修复的报修数
	CountOpenFaultsByPile(ctx context.Context, pileID int64) (int64, error)
}
