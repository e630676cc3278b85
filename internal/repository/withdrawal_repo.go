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
	ErrWithdrawalNotFound       = bizerr.New(bizerr.KindNotFound, "提现申请不存在")
	ErrWithdrawalStatusConflict = bizerr.New(bizerr.KindStateConflict, "提现申请已处理")
)

type WithdrawalRepository struct {
	db *gorm.DB
}

func NewWithdrawalRepository(db *gorm.DB) *WithdrawalRepository {
	return &WithdrawalRepository{db: db}
}

func (r *WithdrawalRepository) Create(ctx context.Context, tx *gorm.DB, req *model.WithdrawalRequest) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(req).Error
}

func (r *WithdrawalRepository) GetByWithdrawalNo(ctx context.Context, withdrawalNo string) (*model.WithdrawalRequest, error) {
	var req model.WithdrawalRequest
	err := r.db.WithContext(ctx).Where("withdrawal_no = ?", withdrawalNo).First(&req).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWithdrawalNotFound
		}
		return nil, err
	}
	return &req, nil
}

// Settle 审批落章：PENDING -> APPROVED/REJECTED，记录审批人和备注
func (r *WithdrawalRepository) Settle(ctx context.Context, tx *gorm.DB, withdrawalNo, toStatus string, operatorID int64, remark string) error {
	if tx == nil {
		tx = r.db
	}

	now := time.Now()
	result := tx.WithContext(ctx).
		Model(&model.WithdrawalRequest{}).
		Where("withdrawal_no = ? AND status = ?", withdrawalNo, model.WithdrawalStatusPending).
		Updates(map[string]interface{}{
			"status":       toStatus,
			"operator_id":  operatorID,
			"remark":       remark,
			"processed_at": &now,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrWithdrawalStatusConflict
	}
	return nil
}
