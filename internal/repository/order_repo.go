package repository

import (
	"context"
	"errors"
	"time"

	"rentalpay/internal/model"
	"rentalpay/pkg/bizerr"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	ErrOrderNotFound     = bizerr.New(bizerr.KindNotFound, "订单不存在")
	ErrInvalidTransition = bizerr.New(bizerr.KindStateConflict, "订单状态流转不合法")
)

type OrderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) Create(ctx context.Context, tx *gorm.DB, order *model.RentalOrder) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(order).Error
}

func (r *OrderRepository) GetByOrderNo(ctx context.Context, orderNo string) (*model.RentalOrder, error) {
	var order model.RentalOrder
	err := r.db.WithContext(ctx).Where("order_no = ?", orderNo).First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

// ExistsOrderNo 订单号是否已被占用（订单号生成的有界重试用）
func (r *OrderRepository) ExistsOrderNo(ctx context.Context, orderNo string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.RentalOrder{}).
		Where("order_no = ?", orderNo).
		Count(&count).Error
	return count > 0, err
}

// CountOverlapping 统计同资源、占用状态、档期与 [start, end) 重叠的订单数
//
// 半开区间重叠条件：existing.start < end AND start < existing.end
func (r *OrderRepository) CountOverlapping(ctx context.Context, resourceID int64, start, end time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.RentalOrder{}).
		Where("resource_id = ?", resourceID).
		Where("status IN ?", model.OccupyingStatuses()).
		Where("start_date < ? AND ? < end_date", end, start).
		Count(&count).Error
	return count, err
}

// UpdateStatus 条件更新订单主状态
//
// 【关键点】前置状态写进 WHERE 条件，状态检查和写入是同一条原子语句，
// 并发下同一条边只会有一个请求生效（RowsAffected=1），落败方拿到
// 状态冲突错误。目标状态对应的时间戳在同一条语句内盖章。
func (r *OrderRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, orderNo string, fromStatus, toStatus string) error {
	if !model.CanTransitionTo(fromStatus, toStatus) {
		return ErrInvalidTransition
	}

	if tx == nil {
		tx = r.db
	}

	now := time.Now()
	updates := map[string]interface{}{
		"status": toStatus,
	}

	switch toStatus {
	case model.OrderStatusPaid:
		updates["paid_at"] = &now
		updates["payment_status"] = model.PaymentStatusPaid
	case model.OrderStatusPickup:
		updates["pickup_at"] = &now
	case model.OrderStatusReturn:
		updates["return_at"] = &now
	case model.OrderStatusCompleted:
		updates["completed_at"] = &now
	}

	result := tx.WithContext(ctx).
		Model(&model.RentalOrder{}).
		Where("order_no = ? AND status = ?", orderNo, fromStatus).
		Updates(updates)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// Cancel 条件取消订单，盖章原因、时间和应退金额
func (r *OrderRepository) Cancel(ctx context.Context, tx *gorm.DB, orderNo, fromStatus, reason string, refundAmount decimal.Decimal) error {
	if !model.CanTransitionTo(fromStatus, model.OrderStatusCancelled) {
		return ErrInvalidTransition
	}

	if tx == nil {
		tx = r.db
	}

	now := time.Now()
	result := tx.WithContext(ctx).
		Model(&model.RentalOrder{}).
		Where("order_no = ? AND status = ?", orderNo, fromStatus).
		Updates(map[string]interface{}{
			"status":        model.OrderStatusCancelled,
			"cancel_reason": reason,
			"cancelled_at":  &now,
			"refund_amount": refundAmount,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// UpdatePaymentStatus 条件更新支付状态（退款完成时 PAID -> REFUNDED）
func (r *OrderRepository) UpdatePaymentStatus(ctx context.Context, tx *gorm.DB, orderNo, fromStatus, toStatus string) error {
	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.RentalOrder{}).
		Where("order_no = ? AND payment_status = ?", orderNo, fromStatus).
		Update("payment_status", toStatus)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// MarkRefunded 订单整体退款完成：CANCELLED -> REFUNDED，同时翻转支付状态
func (r *OrderRepository) MarkRefunded(ctx context.Context, tx *gorm.DB, orderNo string) error {
	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.RentalOrder{}).
		Where("order_no = ? AND status = ?", orderNo, model.OrderStatusCancelled).
		Updates(map[string]interface{}{
			"status":         model.OrderStatusRefunded,
			"payment_status": model.PaymentStatusRefunded,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// ============================================================
// 押金子状态
// ============================================================

func depositColumns(kind string) (statusCol, refundedAtCol string, ok bool) {
	switch kind {
	case model.DepositKindVehicle:
		return "vehicle_deposit_status", "vehicle_deposit_refunded_at", true
	case model.DepositKindViolation:
		return "violation_deposit_status", "violation_deposit_refunded_at", true
	}
	return "", "", false
}

// MarkDepositPaid 押金支付：UNPAID -> PAID
func (r *OrderRepository) MarkDepositPaid(ctx context.Context, tx *gorm.DB, orderNo, kind string) error {
	statusCol, _, ok := depositColumns(kind)
	if !ok {
		return bizerr.Newf(bizerr.KindValidation, "未知押金类型: %s", kind)
	}

	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.RentalOrder{}).
		Where("order_no = ? AND "+statusCol+" = ?", orderNo, model.DepositStatusUnpaid).
		Update(statusCol, model.DepositStatusPaid)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return bizerr.New(bizerr.KindStateConflict, "押金状态不允许支付")
	}
	return nil
}

// MarkDepositRefunded 押金退还：PAID -> REFUNDED（全额）或 DEDUCTED（有扣款）
func (r *OrderRepository) MarkDepositRefunded(ctx context.Context, tx *gorm.DB, orderNo, kind string, deduction decimal.Decimal, reason string) error {
	statusCol, refundedAtCol, ok := depositColumns(kind)
	if !ok {
		return bizerr.Newf(bizerr.KindValidation, "未知押金类型: %s", kind)
	}

	if tx == nil {
		tx = r.db
	}

	toStatus := model.DepositStatusRefunded
	updates := map[string]interface{}{}
	if deduction.IsPositive() {
		toStatus = model.DepositStatusDeducted
		updates["deposit_deduction"] = gorm.Expr("deposit_deduction + ?", deduction)
		updates["deposit_deduction_reason"] = reason
	}
	now := time.Now()
	updates[statusCol] = toStatus
	updates[refundedAtCol] = &now

	result := tx.WithContext(ctx).
		Model(&model.RentalOrder{}).
		Where("order_no = ? AND "+statusCol+" = ?", orderNo, model.DepositStatusPaid).
		Updates(updates)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return bizerr.New(bizerr.KindStateConflict, "押金状态不允许退还")
	}
	return nil
}

// SetViolationDepositExpectedRefundAt 盖章违章押金的预计退还时间
func (r *OrderRepository) SetViolationDepositExpectedRefundAt(ctx context.Context, tx *gorm.DB, orderNo string, at time.Time) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).
		Model(&model.RentalOrder{}).
		Where("order_no = ? AND violation_deposit_status = ?", orderNo, model.DepositStatusPaid).
		Update("violation_deposit_expected_refund_at", &at).Error
}

// ============================================================
// 定时任务查询
// ============================================================

// GetPaymentTimedOut 超过未支付时限的待支付订单
func (r *OrderRepository) GetPaymentTimedOut(ctx context.Context, before time.Time, limit int) ([]*model.RentalOrder, error) {
	var orders []*model.RentalOrder
	err := r.db.WithContext(ctx).
		Where("status = ? AND payment_status = ? AND created_at < ?",
			model.OrderStatusPending, model.PaymentStatusUnpaid, before).
		Limit(limit).
		Find(&orders).Error
	return orders, err
}

// GetDepositAutoRefundable 违章押金已付、未退、未盖预计退还时间，
// 且还车/完成时间早于 cutoff 的订单（押金自动退还任务消费）
func (r *OrderRepository) GetDepositAutoRefundable(ctx context.Context, cutoff time.Time, limit int) ([]*model.RentalOrder, error) {
	var orders []*model.RentalOrder
	err := r.db.WithContext(ctx).
		Where("violation_deposit_status = ?", model.DepositStatusPaid).
		Where("violation_deposit_refunded_at IS NULL").
		Where("violation_deposit_expected_refund_at IS NULL").
		Where("(return_at IS NOT NULL AND return_at <= ?) OR (completed_at IS NOT NULL AND completed_at <= ?)", cutoff, cutoff).
		Limit(limit).
		Find(&orders).Error
	return orders, err
}

func (r *OrderRepository) ListByUserID(ctx context.Context, userID int64, page, pageSize int) ([]*model.RentalOrder, int64, error) {
	var orders []*model.RentalOrder
	var total int64

	query := r.db.WithContext(ctx).Model(&model.RentalOrder{}).Where("user_id = ?", userID)

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&orders).Error

	return orders, total, err
}
