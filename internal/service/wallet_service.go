package service

import (
	"context"
	"fmt"
	"log"

	"rentalpay/internal/model"
	"rentalpay/internal/repository"
	"rentalpay/pkg/bizerr"
	"rentalpay/pkg/idgen"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// WalletService 钱包账本
//
// 【关键点】每一个会改余额的操作都是一个数据库事务：
// 行锁读钱包 -> 条件更新余额 -> 写入恰好一条带前后快照的流水。
// 三步要么全部成功要么全部回滚，余额和流水永远对得上。
//
// 冻结/解冻不改余额，流水金额记 0，只为审计留痕，
// 这样"流水求和等于余额"的对账不变式始终成立。
type WalletService struct {
	db             *gorm.DB
	walletRepo     *repository.WalletRepository
	withdrawalRepo *repository.WithdrawalRepository
}

func NewWalletService(db *gorm.DB) *WalletService {
	return &WalletService{
		db:             db,
		walletRepo:     repository.NewWalletRepository(db),
		withdrawalRepo: repository.NewWithdrawalRepository(db),
	}
}

// GetWallet 查询钱包，首次访问惰性创建
func (s *WalletService) GetWallet(ctx context.Context, userID int64) (*model.Wallet, error) {
	return s.walletRepo.GetOrCreate(ctx, userID)
}

func (s *WalletService) ListTransactions(ctx context.Context, userID int64, page, pageSize int) ([]*model.WalletTransaction, int64, error) {
	return s.walletRepo.ListTransactions(ctx, userID, page, pageSize)
}

// Reconcile 对账：流水求和必须等于当前余额
func (s *WalletService) Reconcile(ctx context.Context, userID int64) (bool, error) {
	wallet, err := s.walletRepo.GetByUserID(ctx, userID)
	if err != nil {
		return false, err
	}
	sum, err := s.walletRepo.SumTransactions(ctx, wallet.ID)
	if err != nil {
		return false, err
	}
	return sum.Equal(wallet.Balance), nil
}

// Consume 消费扣款，独立事务版本
func (s *WalletService) Consume(ctx context.Context, userID int64, amount decimal.Decimal, relatedNo, relatedType, remark string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		return s.ConsumeTx(ctx, tx, userID, amount, relatedNo, relatedType, remark)
	})
}

// ConsumeTx 消费扣款，挂接到外部事务
// 支付服务在自己的事务里扣钱包时走这个入口，保证支付单、订单、
// 余额、流水四者同一事务边界
func (s *WalletService) ConsumeTx(ctx context.Context, tx *gorm.DB, userID int64, amount decimal.Decimal, relatedNo, relatedType, remark string) error {
	if !amount.IsPositive() {
		return bizerr.New(bizerr.KindValidation, "扣款金额必须大于0")
	}

	wallet, err := s.walletRepo.GetByUserIDForUpdate(ctx, tx, userID)
	if err != nil {
		return err
	}

	if err := s.walletRepo.Debit(ctx, tx, userID, amount); err != nil {
		return err
	}

	txn := &model.WalletTransaction{
		TransactionNo: idgen.GenerateTransactionNo(),
		WalletID:      wallet.ID,
		UserID:        userID,
		Type:          model.WalletTxnTypeConsume,
		Amount:        amount.Neg(),
		BalanceBefore: wallet.Balance,
		BalanceAfter:  wallet.Balance.Sub(amount),
		RelatedNo:     relatedNo,
		RelatedType:   relatedType,
		Remark:        remark,
	}
	return s.walletRepo.CreateTransaction(ctx, tx, txn)
}

// Refund 退款入账，独立事务版本
func (s *WalletService) Refund(ctx context.Context, userID int64, amount decimal.Decimal, relatedNo, relatedType, remark string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		return s.RefundTx(ctx, tx, userID, amount, relatedNo, relatedType, remark)
	})
}

// RefundTx 退款入账，挂接到外部事务
func (s *WalletService) RefundTx(ctx context.Context, tx *gorm.DB, userID int64, amount decimal.Decimal, relatedNo, relatedType, remark string) error {
	if !amount.IsPositive() {
		return bizerr.New(bizerr.KindValidation, "退款金额必须大于0")
	}

	wallet, err := s.walletRepo.GetByUserIDForUpdate(ctx, tx, userID)
	if err != nil {
		return err
	}

	if err := s.walletRepo.Credit(ctx, tx, userID, amount); err != nil {
		return err
	}

	txn := &model.WalletTransaction{
		TransactionNo: idgen.GenerateTransactionNo(),
		WalletID:      wallet.ID,
		UserID:        userID,
		Type:          model.WalletTxnTypeRefund,
		Amount:        amount,
		BalanceBefore: wallet.Balance,
		BalanceAfter:  wallet.Balance.Add(amount),
		RelatedNo:     relatedNo,
		RelatedType:   relatedType,
		Remark:        remark,
	}
	return s.walletRepo.CreateTransaction(ctx, tx, txn)
}

// Recharge 充值（简化版，实际应走支付渠道）
func (s *WalletService) Recharge(ctx context.Context, userID int64, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return bizerr.New(bizerr.KindValidation, "充值金额必须大于0")
	}

	if _, err := s.walletRepo.GetOrCreate(ctx, userID); err != nil {
		return err
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		wallet, err := s.walletRepo.GetByUserIDForUpdate(ctx, tx, userID)
		if err != nil {
			return err
		}

		if err := s.walletRepo.Recharge(ctx, tx, userID, amount); err != nil {
			return err
		}

		txn := &model.WalletTransaction{
			TransactionNo: idgen.GenerateTransactionNo(),
			WalletID:      wallet.ID,
			UserID:        userID,
			Type:          model.WalletTxnTypeRecharge,
			Amount:        amount,
			BalanceBefore: wallet.Balance,
			BalanceAfter:  wallet.Balance.Add(amount),
			RelatedType:   model.RelatedTypeManual,
			Remark:        "钱包充值",
		}
		return s.walletRepo.CreateTransaction(ctx, tx, txn)
	})
}

// Adjust 管理员调账，delta 可正可负，必须记录操作人和备注
func (s *WalletService) Adjust(ctx context.Context, userID int64, delta decimal.Decimal, operatorID int64, remark string) error {
	if delta.IsZero() {
		return bizerr.New(bizerr.KindValidation, "调账金额不能为0")
	}
	if remark == "" {
		return bizerr.New(bizerr.KindValidation, "调账必须填写备注")
	}

	if _, err := s.walletRepo.GetOrCreate(ctx, userID); err != nil {
		return err
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		wallet, err := s.walletRepo.GetByUserIDForUpdate(ctx, tx, userID)
		if err != nil {
			return err
		}

		if err := s.walletRepo.Adjust(ctx, tx, userID, delta); err != nil {
			return err
		}

		txn := &model.WalletTransaction{
			TransactionNo: idgen.GenerateTransactionNo(),
			WalletID:      wallet.ID,
			UserID:        userID,
			Type:          model.WalletTxnTypeAdjustment,
			Amount:        delta,
			BalanceBefore: wallet.Balance,
			BalanceAfter:  wallet.Balance.Add(delta),
			RelatedType:   model.RelatedTypeManual,
			OperatorID:    operatorID,
			Remark:        remark,
		}
		return s.walletRepo.CreateTransaction(ctx, tx, txn)
	})
}

// RequestWithdrawal 提现申请：金额从余额移入冻结（余额不减），
// 生成 PENDING 提现单等待审批
func (s *WalletService) RequestWithdrawal(ctx context.Context, userID int64, amount decimal.Decimal) (*model.WithdrawalRequest, error) {
	if !amount.IsPositive() {
		return nil, bizerr.New(bizerr.KindValidation, "提现金额必须大于0")
	}

	if _, err := s.walletRepo.GetOrCreate(ctx, userID); err != nil {
		return nil, err
	}

	withdrawal := &model.WithdrawalRequest{
		WithdrawalNo: idgen.GenerateWithdrawalNo(),
		UserID:       userID,
		Amount:       amount,
		Status:       model.WithdrawalStatusPending,
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		wallet, err := s.walletRepo.GetByUserIDForUpdate(ctx, tx, userID)
		if err != nil {
			return err
		}

		if err := s.walletRepo.Freeze(ctx, tx, userID, amount); err != nil {
			return err
		}

		if err := s.withdrawalRepo.Create(ctx, tx, withdrawal); err != nil {
			return err
		}

		// 冻结不动余额，流水金额为 0，只留审计痕迹
		txn := &model.WalletTransaction{
			TransactionNo: idgen.GenerateTransactionNo(),
			WalletID:      wallet.ID,
			UserID:        userID,
			Type:          model.WalletTxnTypeFreeze,
			Amount:        decimal.Zero,
			BalanceBefore: wallet.Balance,
			BalanceAfter:  wallet.Balance,
			RelatedNo:     withdrawal.WithdrawalNo,
			RelatedType:   model.RelatedTypeWithdrawal,
			Remark:        fmt.Sprintf("提现冻结 %s", amount.StringFixed(2)),
		}
		return s.walletRepo.CreateTransaction(ctx, tx, txn)
	})
	if err != nil {
		return nil, err
	}

	log.Printf("提现申请已创建: withdrawalNo=%s, userID=%d, amount=%s",
		withdrawal.WithdrawalNo, userID, amount.StringFixed(2))
	return withdrawal, nil
}

// ApproveWithdrawal 提现审批通过：扣余额、清冻结、记 WITHDRAWAL 流水
func (s *WalletService) ApproveWithdrawal(ctx context.Context, withdrawalNo string, operatorID int64, remark string) error {
	withdrawal, err := s.withdrawalRepo.GetByWithdrawalNo(ctx, withdrawalNo)
	if err != nil {
		return err
	}
	if withdrawal.Status != model.WithdrawalStatusPending {
		return repository.ErrWithdrawalStatusConflict
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.withdrawalRepo.Settle(ctx, tx, withdrawalNo, model.WithdrawalStatusApproved, operatorID, remark); err != nil {
			return err
		}

		wallet, err := s.walletRepo.GetByUserIDForUpdate(ctx, tx, withdrawal.UserID)
		if err != nil {
			return err
		}

		if err := s.walletRepo.SettleWithdrawal(ctx, tx, withdrawal.UserID, withdrawal.Amount); err != nil {
			return err
		}

		txn := &model.WalletTransaction{
			TransactionNo: idgen.GenerateTransactionNo(),
			WalletID:      wallet.ID,
			UserID:        withdrawal.UserID,
			Type:          model.WalletTxnTypeWithdrawal,
			Amount:        withdrawal.Amount.Neg(),
			BalanceBefore: wallet.Balance,
			BalanceAfter:  wallet.Balance.Sub(withdrawal.Amount),
			RelatedNo:     withdrawalNo,
			RelatedType:   model.RelatedTypeWithdrawal,
			OperatorID:    operatorID,
			Remark:        remark,
		}
		return s.walletRepo.CreateTransaction(ctx, tx, txn)
	})
}

// RejectWithdrawal 提现驳回：只解冻，余额不变
func (s *WalletService) RejectWithdrawal(ctx context.Context, withdrawalNo string, operatorID int64, remark string) error {
	withdrawal, err := s.withdrawalRepo.GetByWithdrawalNo(ctx, withdrawalNo)
	if err != nil {
		return err
	}
	if withdrawal.Status != model.WithdrawalStatusPending {
		return repository.ErrWithdrawalStatusConflict
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.withdrawalRepo.Settle(ctx, tx, withdrawalNo, model.WithdrawalStatusRejected, operatorID, remark); err != nil {
			return err
		}

		wallet, err := s.walletRepo.GetByUserIDForUpdate(ctx, tx, withdrawal.UserID)
		if err != nil {
			return err
		}

		if err := s.walletRepo.Unfreeze(ctx, tx, withdrawal.UserID, withdrawal.Amount); err != nil {
			return err
		}

		txn := &model.WalletTransaction{
			TransactionNo: idgen.GenerateTransactionNo(),
			WalletID:      wallet.ID,
			UserID:        withdrawal.UserID,
			Type:          model.WalletTxnTypeUnfreeze,
			Amount:        decimal.Zero,
			BalanceBefore: wallet.Balance,
			BalanceAfter:  wallet.Balance,
			RelatedNo:     withdrawalNo,
			RelatedType:   model.RelatedTypeWithdrawal,
			OperatorID:    operatorID,
			Remark:        remark,
		}
		return s.walletRepo.CreateTransaction(ctx, tx, txn)
	})
}
