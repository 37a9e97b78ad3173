// Package storagetest 提供内存版CoreRepo，供服务层与后台任务的单元测试使用。
package storagetest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/smartcharger/charging-server/internal/coremodel"
	"github.com/smartcharger/charging-server/internal/storage"
	"github.com/smartcharger/charging-server/internal/storage/models"
)

// FakeRepo 内存实现。WithTx不模拟回滚，只保证fn内读写可见。
type FakeRepo struct {
	mu sync.Mutex

	piles        map[int64]models.ChargingPile
	reservations map[int64]models.Reservation
	records      map[int64]models.ChargingRecord
	prices       map[int64]models.PriceConfig
	violations   map[int64]models.ViolationRecord
	notices      map[int64]models.WarningNotice
	faults       map[int64]models.FaultReport

	nextID int64
}

// NewFakeRepo 创建空的内存仓储
func NewFakeRepo() *FakeRepo {
	return &FakeRepo{
		piles:        map[int64]models.ChargingPile{},
		reservations: map[int64]models.Reservation{},
		records:      map[int64]models.ChargingRecord{},
		prices:       map[int64]models.PriceConfig{},
		violations:   map[int64]models.ViolationRecord{},
		notices:      map[int64]models.WarningNotice{},
		faults:       map[int64]models.FaultReport{},
	}
}

var _ storage.CoreRepo = (*FakeRepo)(nil)

func (r *FakeRepo) id() int64 {
	r.nextID++
	return r.nextID
}

func notFound(what string) error {
	return fmt.Errorf("%w: %s", coremodel.ErrNotFound, what)
}

// WithTx 直接在当前仓储上执行fn
func (r *FakeRepo) WithTx(ctx context.Context, fn func(repo storage.CoreRepo) error) error {
	return fn(r)
}

// ---------- 充电桩 ----------

func (r *FakeRepo) CreatePile(ctx context.Context, pile *models.ChargingPile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	pile.ID = r.id()
	pile.CreatedAt = time.Now()
	pile.UpdatedAt = pile.CreatedAt
	r.piles[pile.ID] = *pile
	return nil
}

func (r *FakeRepo) GetPile(ctx context.Context, id int64) (*models.ChargingPile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.piles[id]
	if !ok {
		return nil, notFound("charging pile")
	}
	return &p, nil
}

func (r *FakeRepo) GetPileByCode(ctx context.Context, code string) (*models.ChargingPile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.piles {
		if p.Code == code {
			p := p
			return &p, nil
		}
	}
	return nil, notFound("charging pile")
}

func (r *FakeRepo) UpdatePileAttrs(ctx context.Context, pile *models.ChargingPile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.piles[pile.ID]
	if !ok {
		return notFound("charging pile")
	}
	status := cur.Status
	cur = *pile
	cur.Status = status
	cur.UpdatedAt = time.Now()
	r.piles[pile.ID] = cur
	return nil
}

func (r *FakeRepo) UpdatePileStatus(ctx context.Context, id int64, status coremodel.PileStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.piles[id]
	if !ok {
		return notFound("charging pile")
	}
	p.Status = status
	p.UpdatedAt = time.Now()
	r.piles[id] = p
	return nil
}

func (r *FakeRepo) ListPiles(ctx context.Context, status *coremodel.PileStatus, pileType *coremodel.PileType, page storage.ListPage) ([]models.ChargingPile, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var list []models.ChargingPile
	for _, p := range r.piles {
		if status != nil && p.Status != *status {
			continue
		}
		if pileType != nil && p.Type != *pileType {
			continue
		}
		list = append(list, p)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return paginate(list, page), int64(len(list)), nil
}

func (r *FakeRepo) DeletePile(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.piles[id]; !ok {
		return notFound("charging pile")
	}
	delete(r.piles, id)
	return nil
}

// ---------- 预约 ----------

func (r *FakeRepo) CreateReservation(ctx context.Context, resv *models.Reservation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	resv.ID = r.id()
	resv.CreatedAt = time.Now()
	resv.UpdatedAt = resv.CreatedAt
	r.reservations[resv.ID] = *resv
	return nil
}

func (r *FakeRepo) GetReservation(ctx context.Context, id int64) (*models.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.reservations[id]
	if !ok {
		return nil, notFound("reservation")
	}
	return &v, nil
}

func (r *FakeRepo) ListActiveReservationsByPile(ctx context.Context, pileID int64) ([]models.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var list []models.Reservation
	for _, v := range r.reservations {
		if v.PileID == pileID && v.Status == coremodel.ReservationPending {
			list = append(list, v)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].StartTime.Before(list[j].StartTime) })
	return list, nil
}

func (r *FakeRepo) GetActiveReservationByUser(ctx context.Context, userID int64) (*models.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range r.reservations {
		if v.UserID == userID && v.Status == coremodel.ReservationPending {
			v := v
			return &v, nil
		}
	}
	return nil, nil
}

func (r *FakeRepo) UpdateReservationStatus(ctx context.Context, id int64, status coremodel.ReservationStatus, cancelReason *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.reservations[id]
	if !ok {
		return notFound("reservation")
	}
	v.Status = status
	if cancelReason != nil {
		v.CancelReason = cancelReason
	}
	v.UpdatedAt = time.Now()
	r.reservations[id] = v
	return nil
}

func (r *FakeRepo) ListExpiredReservations(ctx context.Context, now time.Time, limit int) ([]models.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var list []models.Reservation
	for _, v := range r.reservations {
		if v.Status == coremodel.ReservationPending && v.EndTime.Before(now) {
			list = append(list, v)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].EndTime.Before(list[j].EndTime) })
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

func (r *FakeRepo) ListReservations(ctx context.Context, f storage.ReservationFilter, page storage.ListPage) ([]models.Reservation, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var list []models.Reservation
	for _, v := range r.reservations {
		if f.UserID != nil && v.UserID != *f.UserID {
			continue
		}
		if f.PileID != nil && v.PileID != *f.PileID {
			continue
		}
		if f.Status != nil && v.Status != *f.Status {
			continue
		}
		list = append(list, v)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID > list[j].ID })
	return paginate(list, page), int64(len(list)), nil
}

// ---------- 充电记录 ----------

func (r *FakeRepo) CreateRecord(ctx context.Context, rec *models.ChargingRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec.ID = r.id()
	rec.CreatedAt = time.Now()
	rec.UpdatedAt = rec.CreatedAt
	r.records[rec.ID] = *rec
	return nil
}

func (r *FakeRepo) GetRecord(ctx context.Context, id int64) (*models.ChargingRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.records[id]
	if !ok {
		return nil, notFound("charging record")
	}
	return &v, nil
}

func (r *FakeRepo) GetActiveRecordByPile(ctx context.Context, pileID int64) (*models.ChargingRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range r.records {
		if v.PileID == pileID && v.Status == coremodel.RecordCharging {
			v := v
			return &v, nil
		}
	}
	return nil, nil
}

func (r *FakeRepo) GetActiveRecordByUser(ctx context.Context, userID int64) (*models.ChargingRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range r.records {
		if v.UserID == userID && v.Status == coremodel.RecordCharging {
			v := v
			return &v, nil
		}
	}
	return nil, nil
}

func (r *FakeRepo) GetLatestRecordByPile(ctx context.Context, pileID int64) (*models.ChargingRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *models.ChargingRecord
	for _, v := range r.records {
		if v.PileID != pileID {
			continue
		}
		v := v
		if latest == nil || v.ID > latest.ID {
			latest = &v
		}
	}
	return latest, nil
}

func (r *FakeRepo) CloseRecord(ctx context.Context, rec *models.ChargingRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.records[rec.ID]
	if !ok || cur.Status != coremodel.RecordCharging {
		return notFound("charging record in CHARGING")
	}
	cur.EndTime = rec.EndTime
	cur.DurationMin = rec.DurationMin
	cur.ElectricQuantity = rec.ElectricQuantity
	cur.Fee = rec.Fee
	cur.Status = rec.Status
	cur.UpdatedAt = time.Now()
	r.records[rec.ID] = cur
	return nil
}

func (r *FakeRepo) UpdateRecordStatus(ctx context.Context, id int64, status coremodel.RecordStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.records[id]
	if !ok {
		return notFound("charging record")
	}
	v.Status = status
	v.UpdatedAt = time.Now()
	r.records[id] = v
	return nil
}

func (r *FakeRepo) ListUnvacatedRecords(ctx context.Context, cutoff time.Time, limit int) ([]models.ChargingRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var list []models.ChargingRecord
	for _, v := range r.records {
		if v.Status == coremodel.RecordCompleted && v.EndTime != nil && v.EndTime.Before(cutoff) {
			list = append(list, v)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].EndTime.Before(*list[j].EndTime) })
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

func (r *FakeRepo) ListRecords(ctx context.Context, f storage.RecordFilter, page storage.ListPage) ([]models.ChargingRecord, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var list []models.ChargingRecord
	for _, v := range r.records {
		if f.UserID != nil && v.UserID != *f.UserID {
			continue
		}
		if f.PileID != nil && v.PileID != *f.PileID {
			continue
		}
		if f.Status != nil && v.Status != *f.Status {
			continue
		}
		if f.From != nil && v.StartTime.Before(*f.From) {
			continue
		}
		if f.To != nil && !v.StartTime.Before(*f.To) {
			continue
		}
		list = append(list, v)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID > list[j].ID })
	return paginate(list, page), int64(len(list)), nil
}

// ---------- 费用配置 ----------

func (r *FakeRepo) CreatePriceConfig(ctx context.Context, cfg *models.PriceConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg.ID = r.id()
	cfg.CreatedAt = time.Now()
	cfg.UpdatedAt = cfg.CreatedAt
	r.prices[cfg.ID] = *cfg
	return nil
}

func (r *FakeRepo) GetPriceConfig(ctx context.Context, id int64) (*models.PriceConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.prices[id]
	if !ok {
		return nil, notFound("price config")
	}
	return &v, nil
}

func (r *FakeRepo) UpdatePriceConfig(ctx context.Context, cfg *models.PriceConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.prices[cfg.ID]; !ok {
		return notFound("price config")
	}
	cfg.UpdatedAt = time.Now()
	r.prices[cfg.ID] = *cfg
	return nil
}

func (r *FakeRepo) ListActivePriceConfigs(ctx context.Context, pileType coremodel.PileType) ([]models.PriceConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var list []models.PriceConfig
	for _, v := range r.prices {
		if v.PileType == pileType && v.IsActive {
			list = append(list, v)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list, nil
}

func (r *FakeRepo) ListPriceConfigs(ctx context.Context, pileType *coremodel.PileType, isActive *bool, page storage.ListPage) ([]models.PriceConfig, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var list []models.PriceConfig
	for _, v := range r.prices {
		if pileType != nil && v.PileType != *pileType {
			continue
		}
		if isActive != nil && v.IsActive != *isActive {
			continue
		}
		list = append(list, v)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return paginate(list, page), int64(len(list)), nil
}

// ---------- 违规记录 ----------

func (r *FakeRepo) CreateViolation(ctx context.Context, v *models.ViolationRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cur := range r.violations {
		if cur.ChargingRecordID == v.ChargingRecordID {
			return fmt.Errorf("duplicate violation for record %d", v.ChargingRecordID)
		}
	}
	v.ID = r.id()
	v.CreatedAt = time.Now()
	r.violations[v.ID] = *v
	return nil
}

func (r *FakeRepo) GetViolationByRecord(ctx context.Context, chargingRecordID int64) (*models.ViolationRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range r.violations {
		if v.ChargingRecordID == chargingRecordID {
			v := v
			return &v, nil
		}
	}
	return nil, nil
}

func (r *FakeRepo) ListViolationsByUser(ctx context.Context, userID int64, page storage.ListPage) ([]models.ViolationRecord, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var list []models.ViolationRecord
	for _, v := range r.violations {
		if v.UserID == userID {
			list = append(list, v)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID > list[j].ID })
	return paginate(list, page), int64(len(list)), nil
}

// ---------- 预警通知 ----------

func (r *FakeRepo) CreateNotice(ctx context.Context, n *models.WarningNotice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n.ID = r.id()
	n.CreatedAt = time.Now()
	n.UpdatedAt = n.CreatedAt
	r.notices[n.ID] = *n
	return nil
}

func (r *FakeRepo) GetNotice(ctx context.Context, id int64) (*models.WarningNotice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.notices[id]
	if !ok {
		return nil, notFound("warning notice")
	}
	return &v, nil
}

func (r *FakeRepo) ListNoticesByUser(ctx context.Context, userID int64, f storage.NoticeFilter, page storage.ListPage) ([]models.WarningNotice, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var list []models.WarningNotice
	for _, v := range r.notices {
		if v.UserID != userID {
			continue
		}
		if f.Type != nil && v.Type != *f.Type {
			continue
		}
		if f.IsRead != nil && v.IsRead != *f.IsRead {
			continue
		}
		list = append(list, v)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID > list[j].ID })
	return paginate(list, page), int64(len(list)), nil
}

func (r *FakeRepo) CountUnreadNotices(ctx context.Context, userID int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, v := range r.notices {
		if v.UserID == userID && !v.IsRead {
			n++
		}
	}
	return n, nil
}

func (r *FakeRepo) MarkNoticeRead(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.notices[id]
	if !ok {
		return notFound("warning notice")
	}
	v.IsRead = true
	v.UpdatedAt = time.Now()
	r.notices[id] = v
	return nil
}

func (r *FakeRepo) MarkAllNoticesRead(ctx context.Context, userID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, v := range r.notices {
		if v.UserID == userID && !v.IsRead {
			v.IsRead = true
			v.UpdatedAt = time.Now()
			r.notices[id] = v
		}
	}
	return nil
}

func (r *FakeRepo) DeleteNotice(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.notices[id]; !ok {
		return notFound("warning notice")
	}
	delete(r.notices, id)
	return nil
}

func (r *FakeRepo) UpdateNoticeSendStatus(ctx context.Context, id int64, status coremodel.SendStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.notices[id]
	if !ok {
		return notFound("warning notice")
	}
	v.SendStatus = status
	v.UpdatedAt = time.Now()
	r.notices[id] = v
	return nil
}

// ---------- 故障报修 ----------

func (r *FakeRepo) CreateFaultReport(ctx context.Context, f *models.FaultReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	f.ID = r.id()
	f.CreatedAt = time.Now()
	f.UpdatedAt = f.CreatedAt
	r.faults[f.ID] = *f
	return nil
}

func (r *FakeRepo) GetFaultReport(ctx context.Context, id int64) (*models.FaultReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.faults[id]
	if !ok {
		return nil, notFound("fault report")
	}
	return &v, nil
}

func (r *FakeRepo) UpdateFaultReport(ctx context.Context, f *models.FaultReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.faults[f.ID]; !ok {
		return notFound("fault report")
	}
	f.UpdatedAt = time.Now()
	r.faults[f.ID] = *f
	return nil
}

func (r *FakeRepo) ListFaultReports(ctx context.Context, pileID *int64, status *coremodel.FaultStatus, page storage.ListPage) ([]models.FaultReport, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var list []models.FaultReport
	for _, v := range r.faults {
		if pileID != nil && v.PileID != *pileID {
			continue
		}
		if status != nil && v.Status != *status {
			continue
		}
		list = append(list, v)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID > list[j].ID })
	return paginate(list, page), int64(len(list)), nil
}

func (r *FakeRepo) CountOpenFaultsByPile(ctx context.Context, pileID int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, v := range r.faults {
		if v.PileID == pileID && v.Status != coremodel.FaultResolved {
			n++
		}
	}
	return n, nil
}

func paginate[T any](list []T, page storage.ListPage) []T {
	if page.Size <= 0 {
		return list
	}
	off := page.Offset()
	if off >= len(list) {
		return nil
	}
	end := off + page.Size
	if end > len(list) {
		end = len(list)
	}
	return list[off:end]
}
