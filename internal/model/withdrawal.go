package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// 提现申请状态：申请时冻结金额，审批通过后扣减余额并清除冻结，
// 驳回则只解冻，余额不变
const (
	WithdrawalStatusPending  = "PENDING"
	WithdrawalStatusApproved = "APPROVED"
	WithdrawalStatusRejected = "REJECTED"
)

// WithdrawalRequest 提现申请表
type WithdrawalRequest struct {
	ID           int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	WithdrawalNo string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"withdrawal_no"`
	UserID       int64           `gorm:"index;not null" json:"user_id"`
	Amount       decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"amount"`
	Status       string          `gorm:"type:varchar(16);index;not null;default:PENDING" json:"status"`
	OperatorID   int64           `json:"operator_id"` // 审批人
	Remark       string          `gorm:"type:varchar(256)" json:"remark"`
	ProcessedAt  *time.Time      `json:"processed_at"`
	CreatedAt    time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (WithdrawalRequest) TableName() string {
	return "withdrawal_requests"
}
