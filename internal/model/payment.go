package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================================
// 支付单状态机
// ============================================================================
//
//   PENDING -> PAYING -> PAID
//   PENDING -> PAID          （钱包支付同步完成，不经过 PAYING）
//   PENDING/PAYING -> FAILED | CANCELLED
//   PAID -> REFUNDED
//
// 一个订单同一时刻至多存在一条非终态（PENDING/PAYING）支付单。
// 支付单到达 PAID 后除退款流转外不可变。
// ============================================================================

const (
	PaymentRecordStatusPending   = "PENDING"
	PaymentRecordStatusPaying    = "PAYING"
	PaymentRecordStatusPaid      = "PAID"
	PaymentRecordStatusFailed    = "FAILED"
	PaymentRecordStatusCancelled = "CANCELLED"
	PaymentRecordStatusRefunded  = "REFUNDED"
)

const (
	PaymentPlatformWallet = "WALLET"
	PaymentPlatformAlipay = "ALIPAY"
	PaymentPlatformWechat = "WECHAT"
)

var validPaymentTransitions = map[string][]string{
	PaymentRecordStatusPending: {PaymentRecordStatusPaying, PaymentRecordStatusPaid, PaymentRecordStatusFailed, PaymentRecordStatusCancelled},
	PaymentRecordStatusPaying:  {PaymentRecordStatusPaid, PaymentRecordStatusFailed, PaymentRecordStatusCancelled},
	PaymentRecordStatusPaid:    {PaymentRecordStatusRefunded},
}

// PaymentCanTransitionTo 支付单状态流转校验
func PaymentCanTransitionTo(currentStatus, targetStatus string) bool {
	allowed, exists := validPaymentTransitions[currentStatus]
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

// PaymentNonTerminalStatuses 非终态集合，用于"至多一条活跃支付单"检查
func PaymentNonTerminalStatuses() []string {
	return []string{PaymentRecordStatusPending, PaymentRecordStatusPaying}
}

// IsExternalPlatform 是否第三方支付渠道（两段式：下单 + 异步回调）
func IsExternalPlatform(platform string) bool {
	return platform == PaymentPlatformAlipay || platform == PaymentPlatformWechat
}

// PaymentRecord 支付单表
// 记录每一次支付尝试；GatewayParams 保存渠道下单返回的客户端参数原文
type PaymentRecord struct {
	ID                int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	PaymentNo         string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"payment_no"`
	OrderNo           string          `gorm:"type:varchar(64);index;not null" json:"order_no"`
	UserID            int64           `gorm:"index;not null" json:"user_id"`
	Amount            decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"amount"`
	Platform          string          `gorm:"type:varchar(16);not null" json:"platform"`
	Status            string          `gorm:"type:varchar(20);index;not null" json:"status"`
	ThirdPartyOrderNo string          `gorm:"type:varchar(64);index" json:"third_party_order_no"` // 渠道受理单号
	ThirdPartyTxnNo   string          `gorm:"type:varchar(64)" json:"third_party_txn_no"`         // 渠道支付流水号（回调带回）
	GatewayParams     string          `gorm:"type:text" json:"gateway_params"`
	ExpiredAt         time.Time       `gorm:"not null;index" json:"expired_at"`
	PaidAt            *time.Time      `json:"paid_at"`
	CreatedAt         time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (PaymentRecord) TableName() string {
	return "payment_records"
}
