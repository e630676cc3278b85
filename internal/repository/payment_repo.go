package repository

import (
	"context"
	"errors"
	"time"

	"rentalpay/internal/model"
	"rentalpay/pkg/bizerr"

	"gorm.io/gorm"
)

var (
	ErrPaymentNotFound       = bizerr.New(bizerr.KindNotFound, "支付单不存在")
	ErrPaymentStatusConflict = bizerr.New(bizerr.KindStateConflict, "支付单状态不允许该操作")
)

type PaymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) Create(ctx context.Context, tx *gorm.DB, record *model.PaymentRecord) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(record).Error
}

func (r *PaymentRepository) GetByPaymentNo(ctx context.Context, paymentNo string) (*model.PaymentRecord, error) {
	var record model.PaymentRecord
	err := r.db.WithContext(ctx).Where("payment_no = ?", paymentNo).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return &record, nil
}

// GetActiveByOrderNo 订单当前的非终态支付单，没有则返回 nil
// "一个订单至多一条活跃支付单"的读取侧
func (r *PaymentRepository) GetActiveByOrderNo(ctx context.Context, orderNo string) (*model.PaymentRecord, error) {
	var record model.PaymentRecord
	err := r.db.WithContext(ctx).
		Where("order_no = ? AND status IN ?", orderNo, model.PaymentNonTerminalStatuses()).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// GetPaidByOrderNo 订单已支付成功的支付单（退款入口用）
func (r *PaymentRepository) GetPaidByOrderNo(ctx context.Context, orderNo string) (*model.PaymentRecord, error) {
	var record model.PaymentRecord
	err := r.db.WithContext(ctx).
		Where("order_no = ? AND status = ?", orderNo, model.PaymentRecordStatusPaid).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return &record, nil
}

// MarkPaid 支付成功：PENDING/PAYING -> PAID，盖支付时间、存渠道流水号
//
// 【关键点】回调幂等的核心：条件更新命中 0 行时调用方再读一次状态，
// 已是 PAID 就按"已处理"吸收，不重复记账
func (r *PaymentRepository) MarkPaid(ctx context.Context, tx *gorm.DB, paymentNo, thirdPartyTxnNo string) error {
	if tx == nil {
		tx = r.db
	}

	now := time.Now()
	result := tx.WithContext(ctx).
		Model(&model.PaymentRecord{}).
		Where("payment_no = ? AND status IN ?", paymentNo, model.PaymentNonTerminalStatuses()).
		Updates(map[string]interface{}{
			"status":             model.PaymentRecordStatusPaid,
			"paid_at":            &now,
			"third_party_txn_no": thirdPartyTxnNo,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrPaymentStatusConflict
	}
	return nil
}

// MarkPaying 渠道下单成功：PENDING -> PAYING，存渠道受理单号和客户端参数
func (r *PaymentRepository) MarkPaying(ctx context.Context, tx *gorm.DB, paymentNo, thirdPartyOrderNo, gatewayParams string) error {
	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.PaymentRecord{}).
		Where("payment_no = ? AND status = ?", paymentNo, model.PaymentRecordStatusPending).
		Updates(map[string]interface{}{
			"status":               model.PaymentRecordStatusPaying,
			"third_party_order_no": thirdPartyOrderNo,
			"gateway_params":       gatewayParams,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrPaymentStatusConflict
	}
	return nil
}

// MarkFailed 支付失败终态
func (r *PaymentRepository) MarkFailed(ctx context.Context, tx *gorm.DB, paymentNo string) error {
	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.PaymentRecord{}).
		Where("payment_no = ? AND status IN ?", paymentNo, model.PaymentNonTerminalStatuses()).
		Update("status", model.PaymentRecordStatusFailed)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrPaymentStatusConflict
	}
	return nil
}

// MarkRefunded 原支付单退款完成：PAID -> REFUNDED
func (r *PaymentRepository) MarkRefunded(ctx context.Context, tx *gorm.DB, paymentNo string) error {
	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.PaymentRecord{}).
		Where("payment_no = ? AND status = ?", paymentNo, model.PaymentRecordStatusPaid).
		Update("status", model.PaymentRecordStatusRefunded)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrPaymentStatusConflict
	}
	return nil
}

// FailActiveByOrderNo 把订单下所有仍在途的支付单落为 FAILED
// 超时取消任务用，没有活跃支付单时静默成功
func (r *PaymentRepository) FailActiveByOrderNo(ctx context.Context, tx *gorm.DB, orderNo string) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).
		Model(&model.PaymentRecord{}).
		Where("order_no = ? AND status IN ?", orderNo, model.PaymentNonTerminalStatuses()).
		Update("status", model.PaymentRecordStatusFailed).Error
}
