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
	ErrRefundNotFound       = bizerr.New(bizerr.KindNotFound, "退款单不存在")
	ErrRefundStatusConflict = bizerr.New(bizerr.KindStateConflict, "退款单状态不允许该操作")
)

type RefundRepository struct {
	db *gorm.DB
}

func NewRefundRepository(db *gorm.DB) *RefundRepository {
	return &RefundRepository{db: db}
}

func (r *RefundRepository) Create(ctx context.Context, tx *gorm.DB, record *model.RefundRecord) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(record).Error
}

func (r *RefundRepository) GetByRefundNo(ctx context.Context, refundNo string) (*model.RefundRecord, error) {
	var record model.RefundRecord
	err := r.db.WithContext(ctx).Where("refund_no = ?", refundNo).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRefundNotFound
		}
		return nil, err
	}
	return &record, nil
}

// GetActiveByOrderNo 订单当前的非 FAILED 退款单，没有则返回 nil
// "一个订单至多一条活跃退款单"的读取侧
func (r *RefundRepository) GetActiveByOrderNo(ctx context.Context, orderNo string) (*model.RefundRecord, error) {
	var record model.RefundRecord
	err := r.db.WithContext(ctx).
		Where("order_no = ? AND status <> ?", orderNo, model.RefundStatusFailed).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// MarkProcessing 开始执行退款：PENDING/FAILED -> PROCESSING
func (r *RefundRepository) MarkProcessing(ctx context.Context, tx *gorm.DB, refundNo string) error {
	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.RefundRecord{}).
		Where("refund_no = ? AND status IN ?", refundNo,
			[]string{model.RefundStatusPending, model.RefundStatusFailed}).
		Update("status", model.RefundStatusProcessing)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRefundStatusConflict
	}
	return nil
}

// MarkRefunded 退款成功终态，盖完成时间、存渠道退款单号
func (r *RefundRepository) MarkRefunded(ctx context.Context, tx *gorm.DB, refundNo, thirdPartyRefundNo string) error {
	if tx == nil {
		tx = r.db
	}

	now := time.Now()
	result := tx.WithContext(ctx).
		Model(&model.RefundRecord{}).
		Where("refund_no = ? AND status = ?", refundNo, model.RefundStatusProcessing).
		Updates(map[string]interface{}{
			"status":                model.RefundStatusRefunded,
			"refunded_at":           &now,
			"third_party_refund_no": thirdPartyRefundNo,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRefundStatusConflict
	}
	return nil
}

// MarkFailed 退款失败，记录原因；订单/支付单保持原状，
// 之后允许另起新退款单
func (r *RefundRepository) MarkFailed(ctx context.Context, tx *gorm.DB, refundNo, reason string) error {
	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.RefundRecord{}).
		Where("refund_no = ? AND status = ?", refundNo, model.RefundStatusProcessing).
		Updates(map[string]interface{}{
			"status":         model.RefundStatusFailed,
			"failure_reason": reason,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRefundStatusConflict
	}
	return nil
}
