package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================================
// 退款单状态机
// ============================================================================
//
//   PENDING -> PROCESSING -> REFUNDED | FAILED
//   FAILED  -> PROCESSING   （失败后允许重新发起处理）
//
// 退款金额不得超过原支付单金额；一个订单至多一条非 FAILED 退款单。
// FAILED 终态允许另起新退款单，而不是复用旧单重试。
// ============================================================================

const (
	RefundStatusPending    = "PENDING"
	RefundStatusProcessing = "PROCESSING"
	RefundStatusRefunded   = "REFUNDED"
	RefundStatusFailed     = "FAILED"
)

var validRefundTransitions = map[string][]string{
	RefundStatusPending:    {RefundStatusProcessing},
	RefundStatusProcessing: {RefundStatusRefunded, RefundStatusFailed},
	RefundStatusFailed:     {RefundStatusProcessing},
}

// RefundCanTransitionTo 退款单状态流转校验
func RefundCanTransitionTo(currentStatus, targetStatus string) bool {
	allowed, exists := validRefundTransitions[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowed {
		if s == targetStatus {
			return true
		}
	}
	return false
}

// RefundRecord 退款单表
type RefundRecord struct {
	ID                 int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	RefundNo           string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"refund_no"`
	OrderNo            string          `gorm:"type:varchar(64);index;not null" json:"order_no"`
	PaymentNo          string          `gorm:"type:varchar(64);index;not null" json:"payment_no"`
	UserID             int64           `gorm:"index;not null" json:"user_id"`
	Amount             decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"amount"`
	Reason             string          `gorm:"type:varchar(256)" json:"reason"`
	Status             string          `gorm:"type:varchar(20);index;not null" json:"status"`
	ThirdPartyRefundNo string          `gorm:"type:varchar(64)" json:"third_party_refund_no"`
	FailureReason      string          `gorm:"type:varchar(256)" json:"failure_reason"`
	RefundedAt         *time.Time      `json:"refunded_at"`
	CreatedAt          time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt          time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (RefundRecord) TableName() string {
	return "refund_records"
}
