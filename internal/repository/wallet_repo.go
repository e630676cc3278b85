package repository

import (
	"context"
	"errors"

	"rentalpay/internal/model"
	"rentalpay/pkg/bizerr"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrWalletNotFound   = bizerr.New(bizerr.KindNotFound, "钱包不存在")
	ErrWalletFrozen     = bizerr.New(bizerr.KindStateConflict, "钱包已被冻结")
	ErrBalanceNotEnough = bizerr.New(bizerr.KindInsufficientBalance, "可用余额不足")
	ErrFrozenNotEnough  = bizerr.New(bizerr.KindStateConflict, "冻结金额不足")
)

type WalletRepository struct {
	db *gorm.DB
}

func NewWalletRepository(db *gorm.DB) *WalletRepository {
	return &WalletRepository{db: db}
}

func (r *WalletRepository) GetByUserID(ctx context.Context, userID int64) (*model.Wallet, error) {
	var wallet model.Wallet
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&wallet).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return &wallet, nil
}

// GetByUserIDForUpdate 行锁读取，钱包是热点共享行，
// 变更余额前必须先锁行再在同一事务内条件更新
func (r *WalletRepository) GetByUserIDForUpdate(ctx context.Context, tx *gorm.DB, userID int64) (*model.Wallet, error) {
	var wallet model.Wallet
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		First(&wallet).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return &wallet, nil
}

// GetOrCreate 首次访问惰性建钱包
// OnConflict DoNothing 兜住并发首访，两个请求最终读到同一行
func (r *WalletRepository) GetOrCreate(ctx context.Context, userID int64) (*model.Wallet, error) {
	wallet, err := r.GetByUserID(ctx, userID)
	if err == nil {
		return wallet, nil
	}
	if !errors.Is(err, ErrWalletNotFound) {
		return nil, err
	}

	newWallet := &model.Wallet{
		UserID: userID,
		Status: model.WalletStatusNormal,
	}

	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoNothing: true,
		}).
		Create(newWallet).Error
	if err != nil {
		return nil, err
	}

	return r.GetByUserID(ctx, userID)
}

// Debit 消费扣款
//
// 【关键点】可用余额检查写进 WHERE 条件，检查和扣减是同一条原子语句，
// 并发扣款不会把余额打穿。命中 0 行时回读钱包区分失败原因。
func (r *WalletRepository) Debit(ctx context.Context, tx *gorm.DB, userID int64, amount decimal.Decimal) error {
	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.Wallet{}).
		Where("user_id = ? AND status = ? AND balance - frozen_amount >= ?",
			userID, model.WalletStatusNormal, amount).
		Updates(map[string]interface{}{
			"balance":       gorm.Expr("balance - ?", amount),
			"total_consume": gorm.Expr("total_consume + ?", amount),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		wallet, err := r.GetByUserID(ctx, userID)
		if err != nil {
			return err
		}
		if wallet.Status == model.WalletStatusFrozen {
			return ErrWalletFrozen
		}
		return ErrBalanceNotEnough
	}

	return nil
}

// Credit 退款入账
func (r *WalletRepository) Credit(ctx context.Context, tx *gorm.DB, userID int64, amount decimal.Decimal) error {
	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.Wallet{}).
		Where("user_id = ?", userID).
		Update("balance", gorm.Expr("balance + ?", amount))

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrWalletNotFound
	}
	return nil
}

// Recharge 充值入账，累计充值总额
func (r *WalletRepository) Recharge(ctx context.Context, tx *gorm.DB, userID int64, amount decimal.Decimal) error {
	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.Wallet{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"balance":        gorm.Expr("balance + ?", amount),
			"total_recharge": gorm.Expr("total_recharge + ?", amount),
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrWalletNotFound
	}
	return nil
}

// Freeze 提现申请冻结：不减余额，只增加冻结金额
func (r *WalletRepository) Freeze(ctx context.Context, tx *gorm.DB, userID int64, amount decimal.Decimal) error {
	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.Wallet{}).
		Where("user_id = ? AND status = ? AND balance - frozen_amount >= ?",
			userID, model.WalletStatusNormal, amount).
		Update("frozen_amount", gorm.Expr("frozen_amount + ?", amount))

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		wallet, err := r.GetByUserID(ctx, userID)
		if err != nil {
			return err
		}
		if wallet.Status == model.WalletStatusFrozen {
			return ErrWalletFrozen
		}
		return ErrBalanceNotEnough
	}
	return nil
}

// Unfreeze 提现驳回解冻：只减冻结金额，余额不变
func (r *WalletRepository) Unfreeze(ctx context.Context, tx *gorm.DB, userID int64, amount decimal.Decimal) error {
	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.Wallet{}).
		Where("user_id = ? AND frozen_amount >= ?", userID, amount).
		Update("frozen_amount", gorm.Expr("frozen_amount - ?", amount))

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrFrozenNotEnough
	}
	return nil
}

// SettleWithdrawal 提现审批通过：余额和冻结金额同时扣减，累计提现总额
func (r *WalletRepository) SettleWithdrawal(ctx context.Context, tx *gorm.DB, userID int64, amount decimal.Decimal) error {
	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.Wallet{}).
		Where("user_id = ? AND frozen_amount >= ? AND balance >= ?", userID, amount, amount).
		Updates(map[string]interface{}{
			"balance":          gorm.Expr("balance - ?", amount),
			"frozen_amount":    gorm.Expr("frozen_amount - ?", amount),
			"total_withdrawal": gorm.Expr("total_withdrawal + ?", amount),
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrFrozenNotEnough
	}
	return nil
}

// Adjust 管理员调账，delta 可正可负
// 条件保证调整后 balance 仍不低于冻结金额
func (r *WalletRepository) Adjust(ctx context.Context, tx *gorm.DB, userID int64, delta decimal.Decimal) error {
	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.Wallet{}).
		Where("user_id = ? AND balance + ? >= frozen_amount", userID, delta).
		Update("balance", gorm.Expr("balance + ?", delta))

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrBalanceNotEnough
	}
	return nil
}

// ============================================================
// 钱包流水
// ============================================================

func (r *WalletRepository) CreateTransaction(ctx context.Context, tx *gorm.DB, txn *model.WalletTransaction) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(txn).Error
}

// SumTransactions 流水金额求和，对账用：结果必须等于钱包当前余额
func (r *WalletRepository) SumTransactions(ctx context.Context, walletID int64) (decimal.Decimal, error) {
	var sum decimal.NullDecimal
	err := r.db.WithContext(ctx).
		Model(&model.WalletTransaction{}).
		Where("wallet_id = ?", walletID).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&sum).Error
	if err != nil {
		return decimal.Zero, err
	}
	if !sum.Valid {
		return decimal.Zero, nil
	}
	return sum.Decimal, nil
}

func (r *WalletRepository) ListTransactions(ctx context.Context, userID int64, page, pageSize int) ([]*model.WalletTransaction, int64, error) {
	var transactions []*model.WalletTransaction
	var total int64

	query := r.db.WithContext(ctx).Model(&model.WalletTransaction{}).Where("user_id = ?", userID)

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&transactions).Error

	return transactions, total, err
}
