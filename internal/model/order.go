package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================================
// 租赁订单状态机
// ============================================================================
//
// 主状态流转：
//
//   PENDING -> PAID -> PICKUP -> USING -> RETURN -> COMPLETED
//
// CANCELLED 可以从 PENDING/PAID/PICKUP/USING/RETURN 进入；
// REFUNDED 只能从 CANCELLED 进入。
// 表中没有列出的边一律拒绝，实体保持不变。
// ============================================================================

const (
	OrderStatusPending   = "PENDING"
	OrderStatusPaid      = "PAID"
	OrderStatusPickup    = "PICKUP"
	OrderStatusUsing     = "USING"
	OrderStatusReturn    = "RETURN"
	OrderStatusCompleted = "COMPLETED"
	OrderStatusCancelled = "CANCELLED"
	OrderStatusRefunded  = "REFUNDED"
)

const (
	PaymentStatusUnpaid   = "UNPAID"
	PaymentStatusPaid     = "PAID"
	PaymentStatusRefunded = "REFUNDED"
)

const (
	ResourceTypeVehicle  = "VEHICLE"
	ResourceTypeTour     = "TOUR"
	ResourceTypeCampsite = "CAMPSITE"
)

var validOrderTransitions = map[string][]string{
	OrderStatusPending:   {OrderStatusPaid, OrderStatusCancelled},
	OrderStatusPaid:      {OrderStatusPickup, OrderStatusCancelled},
	OrderStatusPickup:    {OrderStatusUsing, OrderStatusCancelled},
	OrderStatusUsing:     {OrderStatusReturn, OrderStatusCancelled},
	OrderStatusReturn:    {OrderStatusCompleted, OrderStatusCancelled},
	OrderStatusCancelled: {OrderStatusRefunded},
}

// CanTransitionTo 订单主状态流转校验
func CanTransitionTo(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := validOrderTransitions[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowedStatuses {
		if s == targetStatus {
			return true
		}
	}
	return false
}

// OccupyingStatuses 占用资源档期的状态集合
// 处于这些状态的订单参与同资源的日期重叠检查
func OccupyingStatuses() []string {
	return []string{
		OrderStatusPending,
		OrderStatusPaid,
		OrderStatusPickup,
		OrderStatusUsing,
		OrderStatusReturn,
	}
}

// DateRangesOverlap 半开区间 [start, end) 重叠判断
// end 为退租日，当天资源即可再次出租，所以不算占用
func DateRangesOverlap(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

// CancelRefundRate 取消订单的退款比例
// 距离起租时间 >= 24 小时全额退，否则退 90%
func CancelRefundRate(startDate, now time.Time) decimal.Decimal {
	if startDate.Sub(now) >= 24*time.Hour {
		return decimal.NewFromInt(1)
	}
	return decimal.NewFromFloat(0.90)
}

// ComputeCancelRefund 按取消时间计算应退金额，保留两位小数
func ComputeCancelRefund(totalPrice decimal.Decimal, startDate, now time.Time) decimal.Decimal {
	return totalPrice.Mul(CancelRefundRate(startDate, now)).Round(2)
}

// ============================================================================
// 押金子状态机（车辆押金/违章押金相互独立）
// ============================================================================
//
//   UNPAID -> PAID -> REFUNDED | DEDUCTED
//
// 全额退押为 REFUNDED；有扣款（扣款额 > 0）为 DEDUCTED 并记录原因。
// 违章押金支付后若未当场扣除，预计退还时间设为还车后 30 天，
// 由押金自动退还定时任务消费。
// ============================================================================

const (
	DepositStatusUnpaid   = "UNPAID"
	DepositStatusPaid     = "PAID"
	DepositStatusRefunded = "REFUNDED"
	DepositStatusDeducted = "DEDUCTED"
)

const (
	DepositKindVehicle   = "VEHICLE"
	DepositKindViolation = "VIOLATION"
)

// ViolationDepositHoldDays 违章押金预计退还的滞留天数
const ViolationDepositHoldDays = 30

var validDepositTransitions = map[string][]string{
	DepositStatusUnpaid: {DepositStatusPaid},
	DepositStatusPaid:   {DepositStatusRefunded, DepositStatusDeducted},
}

// DepositCanTransitionTo 押金子状态流转校验
func DepositCanTransitionTo(currentStatus, targetStatus string) bool {
	allowed, exists := validDepositTransitions[currentStatus]
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

// RentalOrder 租赁订单表
//
// 【重要】价格与押金不变式：
// 1. TotalDeposit == VehicleDeposit + ViolationDeposit
// 2. TotalPrice 一旦写入不再变化，除非订单进入取消/退款流程
// 3. 订单只通过声明的状态流转修改，永不物理删除
type RentalOrder struct {
	ID           int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderNo      string `gorm:"type:varchar(64);uniqueIndex;not null" json:"order_no"`
	UserID       int64  `gorm:"index;not null" json:"user_id"`
	ResourceID   int64  `gorm:"index;not null" json:"resource_id"`
	ResourceType string `gorm:"type:varchar(16);not null" json:"resource_type"`

	StartDate time.Time `gorm:"not null" json:"start_date"`
	EndDate   time.Time `gorm:"not null" json:"end_date"` // 半开区间，当天不占用

	BasePrice      decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"base_price"`
	InsurancePrice decimal.Decimal `gorm:"type:decimal(10,2);not null;default:0" json:"insurance_price"`
	AddonPrice     decimal.Decimal `gorm:"type:decimal(10,2);not null;default:0" json:"addon_price"`
	TotalPrice     decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"total_price"`

	VehicleDeposit   decimal.Decimal `gorm:"type:decimal(10,2);not null;default:0" json:"vehicle_deposit"`
	ViolationDeposit decimal.Decimal `gorm:"type:decimal(10,2);not null;default:0" json:"violation_deposit"`
	TotalDeposit     decimal.Decimal `gorm:"type:decimal(10,2);not null;default:0" json:"total_deposit"`

	VehicleDepositStatus             string          `gorm:"type:varchar(16);not null;default:UNPAID" json:"vehicle_deposit_status"`
	ViolationDepositStatus           string          `gorm:"type:varchar(16);not null;default:UNPAID" json:"violation_deposit_status"`
	VehicleDepositRefundedAt         *time.Time      `json:"vehicle_deposit_refunded_at"`
	ViolationDepositRefundedAt       *time.Time      `json:"violation_deposit_refunded_at"`
	// 违章押金预计退还时间，押金自动退还任务按此扫描
	ViolationDepositExpectedRefundAt *time.Time      `gorm:"index" json:"violation_deposit_expected_refund_at"`
	DepositDeduction                 decimal.Decimal `gorm:"type:decimal(10,2);not null;default:0" json:"deposit_deduction"`
	DepositDeductionReason           string          `gorm:"type:varchar(256)" json:"deposit_deduction_reason"`

	Status        string `gorm:"type:varchar(20);index;not null" json:"status"`
	PaymentStatus string `gorm:"type:varchar(20);index;not null;default:UNPAID" json:"payment_status"`

	RefundAmount decimal.Decimal `gorm:"type:decimal(10,2);not null;default:0" json:"refund_amount"`
	CancelReason string          `gorm:"type:varchar(256)" json:"cancel_reason"`

	PaidAt      *time.Time `json:"paid_at"`
	PickupAt    *time.Time `json:"pickup_at"`
	ReturnAt    *time.Time `json:"return_at"`
	CompletedAt *time.Time `json:"completed_at"`
	CancelledAt *time.Time `json:"cancelled_at"`

	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (RentalOrder) TableName() string {
	return "rental_orders"
}
