package gormrepo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/smartcharger/charging-server/internal/coremodel"
	"github.com/smartcharger/charging-server/internal/storage"
	"github.com/smartcharger/charging-server/internal/storage/models"
)

// Repository 基于 GORM 的 CoreRepo 实现。
// 使用 isTx 标记区分事务上下文，避免嵌套事务重复 Begin/Commit。
type Repository struct {
	db   *gorm.DB
	isTx bool
}

// New 返回一个使用给定 *gorm.DB 的 CoreRepo 实例。
func New(db *gorm.DB) storage.CoreRepo {
	return &Repository{db: db}
}

// WithTx 复用现有事务或开启新事务执行 fn。
func (r *Repository) WithTx(ctx context.Context, fn func(storage.CoreRepo) error) error {
	if r.isTx {
		return fn(r)
	}

	tx := r.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return fmt.Errorf("%w: begin tx: %v", coremodel.ErrUnavailable, tx.Error)
	}

	child := &Repository{db: tx, isTx: true}
	if err := fn(child); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit().Error; err != nil {
		return fmt.Errorf("%w: commit tx: %v", coremodel.ErrUnavailable, err)
	}
	return nil
}

// firstOrNotFound 统一把 gorm 的未命中映射为 coremodel.ErrNotFound
func firstOrNotFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s", coremodel.ErrNotFound, what)
	}
	return err
}

// ---------- 充电桩 ----------

func (r *Repository) CreatePile(ctx context.Context, pile *models.ChargingPile) error {
	return r.db.WithContext(ctx).Create(pile).Error
}

func (r *Repository) GetPile(ctx context.Context, id int64) (*models.ChargingPile, error) {
	var pile models.ChargingPile
	if err := r.db.WithContext(ctx).First(&pile, id).Error; err != nil {
		return nil, firstOrNotFound(err, fmt.Sprintf("pile %d", id))
	}
	return &pile, nil
}

func (r *Repository) GetPileByCode(ctx context.Context, code string) (*models.ChargingPile, error) {
	var pile models.ChargingPile
	err := r.db.WithContext(ctx).Where("code = ?", code).First(&pile).Error
	if err != nil {
		return nil, firstOrNotFound(err, "pile code "+code)
	}
	return &pile, nil
}

// UpdatePileAttrs 更新静态属性，不触碰 status 列。
func (r *Repository) UpdatePileAttrs(ctx context.Context, pile *models.ChargingPile) error {
	return r.db.WithContext(ctx).Model(&models.ChargingPile{}).
		Where("id = ?", pile.ID).
		Updates(map[string]interface{}{
			"code":     pile.Code,
			"location": pile.Location,
			"lng":      pile.Lng,
			"lat":      pile.Lat,
			"type":     pile.Type,
			"power_kw": pile.PowerKW,
		}).Error
}

func (r *Repository) UpdatePileStatus(ctx context.Context, id int64, status coremodel.PileStatus) error {
	res := r.db.WithContext(ctx).Model(&models.ChargingPile{}).
		Where("id = ?", id).
		Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: pile %d", coremodel.ErrNotFound, id)
	}
	return nil
}

func (r *Repository) ListPiles(ctx context.Context, status *coremodel.PileStatus, pileType *coremodel.PileType, page storage.ListPage) ([]models.ChargingPile, int64, error) {
	q := r.db.WithContext(ctx).Model(&models.ChargingPile{})
	if status != nil {
		q = q.Where("status = ?", *status)
	}
	if pileType != nil {
		q = q.Where("type = ?", *pileType)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var piles []models.ChargingPile
	err := q.Order("id DESC").Limit(page.Size).Offset(page.Offset()).Find(&piles).Error
	return piles, total, err
}

func (r *Repository) DeletePile(ctx context.Context, id int64) error {
	res := r.db.WithContext(ctx).Delete(&models.ChargingPile{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: pile %d", coremodel.ErrNotFound, id)
	}
	return nil
}

// ---------- 预约 ----------

func (r *Repository) CreateReservation(ctx context.Context, resv *models.Reservation) error {
	return r.db.WithContext(ctx).Create(resv).Error
}

func (r *Repository) GetReservation(ctx context.Context, id int64) (*models.Reservation, error) {
	var resv models.Reservation
	if err := r.db.WithContext(ctx).First(&resv, id).Error; err != nil {
		return nil, firstOrNotFound(err, fmt.Sprintf("reservation %d", id))
	}
	return &resv, nil
}

func (r *Repository) ListActiveReservationsByPile(ctx context.Context, pileID int64) ([]models.Reservation, error) {
	var list []models.Reservation
	err := r.db.WithContext(ctx).
		Where("pile_id = ? AND status = ?", pileID, coremodel.ReservationPending).
		Order("start_time ASC").
		Find(&list).Error
	return list, err
}

// GetActiveReservationByUser 无进行中预约时返回 (nil, nil)。
func (r *Repository) GetActiveReservationByUser(ctx context.Context, userID int64) (*models.Reservation, error) {
	var resv models.Reservation
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, coremodel.ReservationPending).
		First(&resv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &resv, nil
}

func (r *Repository) UpdateReservationStatus(ctx context.Context, id int64, status coremodel.ReservationStatus, cancelReason *string) error {
	updates := map[string]interface{}{"status": status}
	if cancelReason != nil {
		updates["cancel_reason"] = *cancelReason
	}
	res := r.db.WithContext(ctx).Model(&models.Reservation{}).
		Where("id = ?", id).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: reservation %d", coremodel.ErrNotFound, id)
	}
	return nil
}

func (r *Repository) ListExpiredReservations(ctx context.Context, now time.Time, limit int) ([]models.Reservation, error) {
	var list []models.Reservation
	err := r.db.WithContext(ctx).
		Where("status = ? AND end_time < ?", coremodel.ReservationPending, now).
		Order("end_time ASC").
		Limit(limit).
		Find(&list).Error
	return list, err
}

func (r *Repository) ListReservations(ctx context.Context, f storage.ReservationFilter, page storage.ListPage) ([]models.Reservation, int64, error) {
	q := r.db.WithContext(ctx).Model(&models.Reservation{})
	if f.UserID != nil {
		q = q.Where("user_id = ?", *f.UserID)
	}
	if f.PileID != nil {
		q = q.Where("pile_id = ?", *f.PileID)
	}
	if f.Status != nil {
		q = q.Where("status = ?", *f.Status)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var list []models.Reservation
	err := q.Order("created_at DESC").Limit(page.Size).Offset(page.Offset()).Find(&list).Error
	return list, total, err
}

// ---------- 充电记录 ----------

func (r *Repository) CreateRecord(ctx context.Context, rec *models.ChargingRecord) error {
	return r.db.WithContext(ctx).Create(rec).Error
}

func (r *Repository) GetRecord(ctx context.Context, id int64) (*models.ChargingRecord, error) {
	var rec models.ChargingRecord
	if err := r.db.WithContext(ctx).First(&rec, id).Error; err != nil {
		return nil, firstOrNotFound(err, fmt.Sprintf("charging record %d", id))
	}
	return &rec, nil
}

// GetActiveRecordByPile 无充电中记录时返回 (nil, nil)。
func (r *Repository) GetActiveRecordByPile(ctx context.Context, pileID int64) (*models.ChargingRecord, error) {
	var rec models.ChargingRecord
	err := r.db.WithContext(ctx).
		Where("pile_id = ? AND status = ?", pileID, coremodel.RecordCharging).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetActiveRecordByUser 无充电中记录时返回 (nil, nil)。
func (r *Repository) GetActiveRecordByUser(ctx context.Context, userID int64) (*models.ChargingRecord, error) {
	var rec models.ChargingRecord
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, coremodel.RecordCharging).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetLatestRecordByPile 桩上无记录时返回 (nil, nil)。
func (r *Repository) GetLatestRecordByPile(ctx context.Context, pileID int64) (*models.ChargingRecord, error) {
	var rec models.ChargingRecord
	err := r.db.WithContext(ctx).
		Where("pile_id = ?", pileID).
		Order("created_at DESC").
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// CloseRecord 一次写入全部结束字段，只允许从CHARGING流转。
func (r *Repository) CloseRecord(ctx context.Context, rec *models.ChargingRecord) error {
	res := r.db.WithContext(ctx).Model(&models.ChargingRecord{}).
		Where("id = ? AND status = ?", rec.ID, coremodel.RecordCharging).
		Updates(map[string]interface{}{
			"end_time":          rec.EndTime,
			"duration_min":      rec.DurationMin,
			"electric_quantity": rec.ElectricQuantity,
			"fee":               rec.Fee,
			"status":            rec.Status,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: charging record %d not in CHARGING", coremodel.ErrNotFound, rec.ID)
	}
	return nil
}

func (r *Repository) UpdateRecordStatus(ctx context.Context, id int64, status coremodel.RecordStatus) error {
	res := r.db.WithContext(ctx).Model(&models.ChargingRecord{}).
		Where("id = ?", id).
		Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: charging record %d", coremodel.ErrNotFound, id)
	}
	return nil
}

func (r *Repository) ListUnvacatedRecords(ctx context.Context, cutoff time.Time, limit int) ([]models.ChargingRecord, error) {
	var list []models.ChargingRecord
	err := r.db.WithContext(ctx).
		Where("status = ? AND end_time IS NOT NULL AND end_time < ?", coremodel.RecordCompleted, cutoff).
		Order("end_time ASC").
		Limit(limit).
		Find(&list).Error
	return list, err
}

func (r *Repository) ListRecords(ctx context.Context, f storage.RecordFilter, page storage.ListPage) ([]models.ChargingRecord, int64, error) {
	q := r.db.WithContext(ctx).Model(&models.ChargingRecord{})
	if f.UserID != nil {
		q = q.Where("user_id = ?", *f.UserID)
	}
	if f.PileID != nil {
		q = q.Where("pile_id = ?", *f.PileID)
	}
	if f.Status != nil {
		q = q.Where("status = ?", *f.Status)
	}
	if f.From != nil {
		q = q.Where("start_time >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("start_time < ?", *f.To)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var list []models.ChargingRecord
	err := q.Order("start_time DESC").Limit(page.Size).Offset(page.Offset()).Find(&list).Error
	return list, total, err
}

// ---------- 费用配置 ----------

func (r *Repository) CreatePriceConfig(ctx context.Context, cfg *models.PriceConfig) error {
	return r.db.WithContext(ctx).Create(cfg).Error
}

func (r *Repository) GetPriceConfig(ctx context.Context, id int64) (*models.PriceConfig, error) {
	var cfg models.PriceConfig
	if err := r.db.WithContext(ctx).First(&cfg, id).Error; err != nil {
		return nil, firstOrNotFound(err, fmt.Sprintf("price config %d", id))
	}
	return &cfg, nil
}

func (r *Repository) UpdatePriceConfig(ctx context.Context, cfg *models.PriceConfig) error {
	res := r.db.WithContext(ctx).Model(&models.PriceConfig{}).
		Where("id = ?", cfg.ID).
		Updates(map[string]interface{}{
			"price_per_kwh": cfg.PricePerKwh,
			"service_fee":   cfg.ServiceFee,
			"start_time":    cfg.StartTime,
			"end_time":      cfg.EndTime,
			"is_active":     cfg.IsActive,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: price config %d", coremodel.ErrNotFound, cfg.ID)
	}
	return nil
}

func (r *Repository) ListActivePriceConfigs(ctx context.Context, pileType coremodel.PileType) ([]models.PriceConfig, error) {
	var list []models.PriceConfig
	err := r.db.WithContext(ctx).
		Where("pile_type = ? AND is_active = ?", pileType, true).
		Order("created_at DESC").
		Find(&list).Error
	return list, err
}

func (r *Repository) ListPriceConfigs(ctx context.Context, pileType *coremodel.PileType, isActive *bool, page storage.ListPage) ([]models.PriceConfig, int64, error) {
	q := r.db.WithContext(ctx).Model(&models.PriceConfig{})
	if pileType != nil {
		q = q.Where("pile_type = ?", *pileType)
	}
	if isActive != nil {
		q = q.Where("is_active = ?", *isActive)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var list []models.PriceConfig
	err := q.Order("created_at DESC").Limit(page.Size).Offset(page.Offset()).Find(&list).Error
	return list, total, err
}

// ---------- 违规记录 ----------

func (r *Repository) CreateViolation(ctx context.Context, v *models.ViolationRecord) error {
	return r.db.WithContext(ctx).Create(v).Error
}

// GetViolationByRecord 未检出过违规时返回 (nil, nil)。
func (r *Repository) GetViolationByRecord(ctx context.Context, chargingRecordID int64) (*models.ViolationRecord, error) {
	var v models.ViolationRecord
	err := r.db.WithContext(ctx).
		Where("charging_record_id = ?", chargingRecordID).
		First(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *Repository) ListViolationsByUser(ctx context.Context, userID int64, page storage.ListPage) ([]models.ViolationRecord, int64, error) {
	q := r.db.WithContext(ctx).Model(&models.ViolationRecord{}).Where("user_id = ?", userID)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var list []models.ViolationRecord
	err := q.Order("detected_at DESC").Limit(page.Size).Offset(page.Offset()).Find(&list).Error
	return list, total, err
}

// ---------- 预警通知 ----------

func (r *Repository) CreateNotice(ctx context.Context, n *models.WarningNotice) error {
	return r.db.WithContext(ctx).Create(n).Error
}

func (r *Repository) GetNotice(ctx context.Context, id int64) (*models.WarningNotice, error) {
	var n models.WarningNotice
	if err := r.db.WithContext(ctx).First(&n, id).Error; err != nil {
		return nil, firstOrNotFound(err, fmt.Sprintf("notice %d", id))
	}
	return &n, nil
}

func (r *Repository) ListNoticesByUser(ctx context.Context, userID int64, f storage.NoticeFilter, page storage.ListPage) ([]models.WarningNotice, int64, error) {
	q := r.db.WithContext(ctx).Model(&models.WarningNotice{}).Where("user_id = ?", userID)
	if f.Type != nil {
		q = q.Where("type = ?", *f.Type)
	}
	if f.IsRead != nil {
		q = q.Where("is_read = ?", *f.IsRead)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var list []models.WarningNotice
	err := q.Order("created_at DESC").Limit(page.Size).Offset(page.Offset()).Find(&list).Error
	return list, total, err
}

func (r *Repository) CountUnreadNotices(ctx context.Context, userID int64) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.WarningNotice{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Count(&count).Error
	return count, err
}

func (r *Repository) MarkNoticeRead(ctx context.Context, id int64) error {
	res := r.db.WithContext(ctx).Model(&models.WarningNotice{}).
		Where("id = ?", id).
		Update("is_read", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: notice %d", coremodel.ErrNotFound, id)
	}
	return nil
}

func (r *Repository) MarkAllNoticesRead(ctx context.Context, userID int64) error {
	return r.db.WithContext(ctx).Model(&models.WarningNotice{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Update("is_read", true).Error
}

func (r *Repository) DeleteNotice(ctx context.Context, id int64) error {
	res := r.db.WithContext(ctx).Delete(&models.WarningNotice{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: notice %d", coremodel.ErrNotFound, id)
	}
	return nil
}

func (r *Repository) UpdateNoticeSendStatus(ctx context.Context, id int64, status coremodel.SendStatus) error {
	return r.db.WithContext(ctx).Model(&models.WarningNotice{}).
		Where("id = ?", id).
		Update("send_status", status).Error
}

// ---------- 故障报修 ----------

func (r *Repository) CreateFaultReport(ctx context.Context, f *models.FaultReport) error {
	return r.db.WithContext(ctx).Create(f).Error
}

func (r *Repository) GetFaultReport(ctx context.Context, id int64) (*models.FaultReport, error) {
	var f models.FaultReport
	if err := r.db.WithContext(ctx).First(&f, id).Error; err != nil {
		return nil, firstOrNotFound(err, fmt.Sprintf("fault report %d", id))
	}
	return &f, nil
}

func (r *Repository) UpdateFaultReport(ctx context.Context, f *models.FaultReport) error {
	res := r.db.WithContext(ctx).Model(&models.FaultReport{}).
		Where("id = ?", f.ID).
		Updates(map[string]interface{}{
			"status":        f.Status,
			"handler_id":    f.HandlerID,
			"handle_remark": f.HandleRemark,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: fault report %d", coremodel.ErrNotFound, f.ID)
	}
	return nil
}

func (r *Repository) ListFaultReports(ctx context.Context, pileID *int64, status *coremodel.FaultStatus, page storage.ListPage) ([]models.FaultReport, int64, error) {
	q := r.db.WithContext(ctx).Model(&models.FaultReport{})
	if pileID != nil {
		q = q.Where("pile_id = ?", *pileID)
	}
	if status != nil {
		q = q.Where("status = ?", *status)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var list []models.FaultReport
	err := q.Order("created_at DESC").Limit(page.Size).Offset(page.Offset()).Find(&list).Error
	return list, total, err
}

func (r *Repository) CountOpenFaultsByPile(ctx context.Context, pileID int64) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.FaultReport{}).
		Where("pile_id = ? AND status <> ?", pileID, coremodel.FaultResolved).
		Count(&count).Error
	return count, err
}
