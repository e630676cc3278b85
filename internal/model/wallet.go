package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================================
// 钱包与钱包流水
// ============================================================================
//
// 不变式（任何时刻都必须成立）：
//   balance >= 0
//   0 <= frozen_amount <= balance
//   available = balance - frozen_amount >= 0（只推导，不落库）
//
// 钱包余额的每一次变动必须在同一个数据库事务内写入恰好一条流水，
// 流水带变动前后余额快照。对一个钱包的全部流水金额求和等于当前余额，
// 这是对账的唯一依据。
// ============================================================================

const (
	WalletStatusNormal = "NORMAL"
	WalletStatusFrozen = "FROZEN"
)

// Wallet 用户钱包表，一个用户恰好一条（唯一索引保证）
// 首次访问时惰性创建，永不删除
type Wallet struct {
	ID              int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID          int64           `gorm:"uniqueIndex;not null" json:"user_id"`
	Balance         decimal.Decimal `gorm:"type:decimal(10,2);not null;default:0" json:"balance"`
	FrozenAmount    decimal.Decimal `gorm:"type:decimal(10,2);not null;default:0" json:"frozen_amount"`
	Status          string          `gorm:"type:varchar(16);not null;default:NORMAL" json:"status"`
	TotalRecharge   decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"total_recharge"`
	TotalConsume    decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"total_consume"`
	TotalWithdrawal decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"total_withdrawal"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Wallet) TableName() string {
	return "wallets"
}

// AvailableBalance 可用余额，始终推导，不单独存储
func (w *Wallet) AvailableBalance() decimal.Decimal {
	return w.Balance.Sub(w.FrozenAmount)
}

const (
	WalletTxnTypeRecharge   = "RECHARGE"   // 充值
	WalletTxnTypeConsume    = "CONSUME"    // 消费（支付扣款）
	WalletTxnTypeRefund     = "REFUND"     // 退款入账
	WalletTxnTypeWithdrawal = "WITHDRAWAL" // 提现出账
	WalletTxnTypeAdjustment = "ADJUSTMENT" // 管理员调账
	WalletTxnTypeFreeze     = "FREEZE"     // 冻结（提现申请）
	WalletTxnTypeUnfreeze   = "UNFREEZE"   // 解冻（提现驳回）
)

// 流水关联实体类型
const (
	RelatedTypeOrder      = "ORDER"
	RelatedTypePayment    = "PAYMENT"
	RelatedTypeRefund     = "REFUND"
	RelatedTypeDeposit    = "DEPOSIT"
	RelatedTypeWithdrawal = "WITHDRAWAL"
	RelatedTypeManual     = "MANUAL"
)

// WalletTransaction 钱包流水表
//
// 【重要】流水表设计原则：
// 1. 只追加，不修改，不删除 —— 保证审计可追溯
// 2. 每笔流水必须关联业务单号 —— 便于对账
// 3. 记录变动前后余额 —— 便于校验余额一致性
type WalletTransaction struct {
	ID            int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionNo string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"transaction_no"`
	WalletID      int64           `gorm:"index;not null" json:"wallet_id"`
	UserID        int64           `gorm:"index;not null" json:"user_id"`
	Type          string          `gorm:"type:varchar(20);not null" json:"type"`
	Amount        decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"amount"` // 正数入账，负数出账
	BalanceBefore decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"balance_before"`
	BalanceAfter  decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"balance_after"`
	RelatedNo     string          `gorm:"type:varchar(64);index" json:"related_no"`
	RelatedType   string          `gorm:"type:varchar(20)" json:"related_type"`
	OperatorID    int64           `json:"operator_id"` // 调账操作人，普通流水为 0
	Remark        string          `gorm:"type:varchar(256)" json:"remark"`
	CreatedAt     time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
}

func (WalletTransaction) TableName() string {
	return "wallet_transactions"
}
