package service

import (
	"context"
	"log"
	"time"

	"rentalpay/internal/config"
	"rentalpay/internal/inventory"
	"rentalpay/internal/model"
	"rentalpay/internal/repository"
	"rentalpay/pkg/bizerr"
	"rentalpay/pkg/idgen"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// 押金未配置时按日租金推导默认值
var (
	defaultVehicleDepositDays   = decimal.NewFromInt(10)
	defaultViolationDepositDays = decimal.NewFromInt(5)
)

// RefundCreator 取消订单后的退款发起方（由退款服务实现）
// 用接口断开订单服务与退款服务的相互引用
type RefundCreator interface {
	CreateRefund(ctx context.Context, orderNo, reason string) (*model.RefundRecord, error)
}

type OrderService struct {
	db            *gorm.DB
	cfg           *config.Config
	orderRepo     *repository.OrderRepository
	paymentRepo   *repository.PaymentRepository
	inventorySvc  inventory.Service
	walletSvc     *WalletService
	refundCreator RefundCreator
}

func NewOrderService(db *gorm.DB, cfg *config.Config, inventorySvc inventory.Service, walletSvc *WalletService) *OrderService {
	return &OrderService{
		db:           db,
		cfg:          cfg,
		orderRepo:    repository.NewOrderRepository(db),
		paymentRepo:  repository.NewPaymentRepository(db),
		inventorySvc: inventorySvc,
		walletSvc:    walletSvc,
	}
}

// SetRefundCreator 注入退款发起方（服务组装时调用一次）
func (s *OrderService) SetRefundCreator(rc RefundCreator) {
	s.refundCreator = rc
}

type CreateOrderRequest struct {
	UserID         int64
	ResourceID     int64
	ResourceType   string
	StartDate      time.Time
	EndDate        time.Time // 半开区间
	InsurancePrice decimal.Decimal
	AddonPrice     decimal.Decimal
}

// CreateOrder 下单
//
// 流程：资源可用性 -> 档期重叠检查 -> 价目卡计价 -> 押金推导 ->
// 订单号有界重试 -> 落库 -> 占用资源。
// 重叠检查和插入之间存在窗口，极端并发下可能各查各过；
// 新单仍是 PENDING 未支付，超时取消任务会把僵尸单收走。
func (s *OrderService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*model.RentalOrder, error) {
	if req.UserID <= 0 {
		return nil, bizerr.New(bizerr.KindValidation, "用户ID不合法")
	}
	switch req.ResourceType {
	case model.ResourceTypeVehicle, model.ResourceTypeTour, model.ResourceTypeCampsite:
	default:
		return nil, bizerr.Newf(bizerr.KindValidation, "未知资源类型: %s", req.ResourceType)
	}
	if !req.EndDate.After(req.StartDate) {
		return nil, bizerr.New(bizerr.KindValidation, "租期区间不合法")
	}
	if req.InsurancePrice.IsNegative() || req.AddonPrice.IsNegative() {
		return nil, bizerr.New(bizerr.KindValidation, "附加项金额不能为负")
	}

	available, err := s.inventorySvc.IsAvailable(ctx, req.ResourceID, req.StartDate, req.EndDate)
	if err != nil {
		return nil, err
	}
	if !available {
		return nil, bizerr.New(bizerr.KindStateConflict, "资源不可租")
	}

	// 档期重叠检查：与同资源所有占用状态订单的 [start, end) 比较
	overlapping, err := s.orderRepo.CountOverlapping(ctx, req.ResourceID, req.StartDate, req.EndDate)
	if err != nil {
		return nil, err
	}
	if overlapping > 0 {
		return nil, bizerr.New(bizerr.KindStateConflict, "所选档期已被占用")
	}

	rateCard, err := s.inventorySvc.GetRateCard(ctx, req.ResourceID)
	if err != nil {
		return nil, err
	}

	days := int64(req.EndDate.Sub(req.StartDate).Hours() / 24)
	if days < 1 {
		days = 1
	}
	basePrice := rateCard.DailyPrice.Mul(decimal.NewFromInt(days)).Round(2)
	totalPrice := basePrice.Add(req.InsurancePrice).Add(req.AddonPrice).Round(2)

	vehicleDeposit := rateCard.DailyPrice.Mul(defaultVehicleDepositDays).Round(2)
	if rateCard.VehicleDeposit != nil {
		vehicleDeposit = *rateCard.VehicleDeposit
	}
	violationDeposit := rateCard.DailyPrice.Mul(defaultViolationDepositDays).Round(2)
	if rateCard.ViolationDeposit != nil {
		violationDeposit = *rateCard.ViolationDeposit
	}

	orderNo, err := s.generateOrderNo(ctx)
	if err != nil {
		return nil, err
	}

	order := &model.RentalOrder{
		OrderNo:                orderNo,
		UserID:                 req.UserID,
		ResourceID:             req.ResourceID,
		ResourceType:           req.ResourceType,
		StartDate:              req.StartDate,
		EndDate:                req.EndDate,
		BasePrice:              basePrice,
		InsurancePrice:         req.InsurancePrice,
		AddonPrice:             req.AddonPrice,
		TotalPrice:             totalPrice,
		VehicleDeposit:         vehicleDeposit,
		ViolationDeposit:       violationDeposit,
		TotalDeposit:           vehicleDeposit.Add(violationDeposit),
		VehicleDepositStatus:   model.DepositStatusUnpaid,
		ViolationDepositStatus: model.DepositStatusUnpaid,
		Status:                 model.OrderStatusPending,
		PaymentStatus:          model.PaymentStatusUnpaid,
	}

	if err := s.orderRepo.Create(ctx, nil, order); err != nil {
		return nil, err
	}

	if err := s.inventorySvc.Reserve(ctx, req.ResourceID); err != nil {
		// 占用钩子失败不回滚订单，超时任务兜底
		log.Printf("[OrderService] 资源占用钩子失败: orderNo=%s, resourceID=%d, err=%v",
			orderNo, req.ResourceID, err)
	}

	return order, nil
}

// generateOrderNo 订单号生成 + 唯一性检查，有界重试
func (s *OrderService) generateOrderNo(ctx context.Context) (string, error) {
	maxRetry := s.cfg.Business.OrderNoMaxRetry
	for i := 0; i < maxRetry; i++ {
		orderNo := idgen.GenerateOrderNo()
		exists, err := s.orderRepo.ExistsOrderNo(ctx, orderNo)
		if err != nil {
			return "", err
		}
		if !exists {
			return orderNo, nil
		}
	}
	return "", bizerr.Newf(bizerr.KindStateConflict, "订单号生成失败，已重试%d次", maxRetry)
}

func (s *OrderService) GetOrder(ctx context.Context, orderNo string) (*model.RentalOrder, error) {
	return s.orderRepo.GetByOrderNo(ctx, orderNo)
}

func (s *OrderService) ListUserOrders(ctx context.Context, userID int64, page, pageSize int) ([]*model.RentalOrder, int64, error) {
	return s.orderRepo.ListByUserID(ctx, userID, page, pageSize)
}

// Pickup 取车/入营
func (s *OrderService) Pickup(ctx context.Context, orderNo string) error {
	return s.orderRepo.UpdateStatus(ctx, nil, orderNo, model.OrderStatusPaid, model.OrderStatusPickup)
}

// StartUsing 开始使用
func (s *OrderService) StartUsing(ctx context.Context, orderNo string) error {
	return s.orderRepo.UpdateStatus(ctx, nil, orderNo, model.OrderStatusPickup, model.OrderStatusUsing)
}

// Return 还车：盖还车时间；违章押金若已付且未扣，盖预计退还时间（+30天），
// 这是押金自动退还链路的挂钩点
func (s *OrderService) Return(ctx context.Context, orderNo string) error {
	err := s.orderRepo.UpdateStatus(ctx, nil, orderNo, model.OrderStatusUsing, model.OrderStatusReturn)
	if err != nil {
		return err
	}

	expectedAt := time.Now().AddDate(0, 0, s.cfg.Business.DepositHoldDays)
	if err := s.orderRepo.SetViolationDepositExpectedRefundAt(ctx, nil, orderNo, expectedAt); err != nil {
		// 盖章失败不影响还车本身，自动退还任务会兜底
		log.Printf("[OrderService] 违章押金预计退还时间盖章失败: orderNo=%s, err=%v", orderNo, err)
	}
	return nil
}

// Complete 完成订单，同时释放资源
func (s *OrderService) Complete(ctx context.Context, orderNo string) error {
	order, err := s.orderRepo.GetByOrderNo(ctx, orderNo)
	if err != nil {
		return err
	}

	if err := s.orderRepo.UpdateStatus(ctx, nil, orderNo, model.OrderStatusReturn, model.OrderStatusCompleted); err != nil {
		return err
	}

	if err := s.inventorySvc.Release(ctx, order.ResourceID); err != nil {
		log.Printf("[OrderService] 资源释放钩子失败: orderNo=%s, err=%v", orderNo, err)
	}
	return nil
}

// Cancel 取消订单
//
// 【关键点】取消是权威动作，退款是尽力而为的后续：
// 已支付订单取消时按时间策略算出应退金额并同步发起退款单创建，
// 创建失败只记日志等人工跟进，绝不回滚取消本身。
func (s *OrderService) Cancel(ctx context.Context, orderNo, reason string) error {
	order, err := s.orderRepo.GetByOrderNo(ctx, orderNo)
	if err != nil {
		return err
	}

	if !model.CanTransitionTo(order.Status, model.OrderStatusCancelled) {
		return bizerr.Newf(bizerr.KindStateConflict, "订单状态不允许取消: %s", order.Status)
	}

	wasPaid := order.PaymentStatus == model.PaymentStatusPaid

	refundAmount := decimal.Zero
	if wasPaid {
		// >=24小时全额退，不足24小时退90%
		refundAmount = model.ComputeCancelRefund(order.TotalPrice, order.StartDate, time.Now())
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.orderRepo.Cancel(ctx, tx, orderNo, order.Status, reason, refundAmount); err != nil {
			return err
		}
		// 在途支付单一并落为失败
		return s.paymentRepo.FailActiveByOrderNo(ctx, tx, orderNo)
	})
	if err != nil {
		return err
	}

	if err := s.inventorySvc.Release(ctx, order.ResourceID); err != nil {
		log.Printf("[OrderService] 资源释放钩子失败: orderNo=%s, err=%v", orderNo, err)
	}

	if wasPaid && s.refundCreator != nil {
		if _, err := s.refundCreator.CreateRefund(ctx, orderNo, reason); err != nil {
			// 刻意吞掉：取消已生效，退款单创建失败人工跟进
			log.Printf("[OrderService] 取消后发起退款失败，需人工跟进: orderNo=%s, amount=%s, err=%v",
				orderNo, refundAmount.StringFixed(2), err)
		}
	}

	log.Printf("[OrderService] 订单已取消: orderNo=%s, reason=%s, refundAmount=%s",
		orderNo, reason, refundAmount.StringFixed(2))
	return nil
}

// ============================================================
// 押金子状态操作
// ============================================================

// PayDeposit 支付押金：提交金额必须与配置的押金金额完全一致，
// 钱包扣款与押金状态流转同一事务
func (s *OrderService) PayDeposit(ctx context.Context, orderNo, kind string, amount decimal.Decimal) error {
	order, err := s.orderRepo.GetByOrderNo(ctx, orderNo)
	if err != nil {
		return err
	}

	var required decimal.Decimal
	switch kind {
	case model.DepositKindVehicle:
		required = order.VehicleDeposit
	case model.DepositKindViolation:
		required = order.ViolationDeposit
	default:
		return bizerr.Newf(bizerr.KindValidation, "未知押金类型: %s", kind)
	}

	if !amount.Equal(required) {
		return bizerr.Newf(bizerr.KindValidation, "押金金额不符，应为 %s", required.StringFixed(2))
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.orderRepo.MarkDepositPaid(ctx, tx, orderNo, kind); err != nil {
			return err
		}
		return s.walletSvc.ConsumeTx(ctx, tx, order.UserID, amount,
			orderNo, model.RelatedTypeDeposit, "押金支付-"+kind)
	})
}

// RefundDeposit 退还押金：全额退为 REFUNDED，有扣款为 DEDUCTED 并记录原因，
// 实退金额（押金 - 扣款）入钱包，流转与入账同一事务
func (s *OrderService) RefundDeposit(ctx context.Context, orderNo, kind string, deduction decimal.Decimal, reason string) error {
	if deduction.IsNegative() {
		return bizerr.New(bizerr.KindValidation, "扣款金额不能为负")
	}
	if deduction.IsPositive() && reason == "" {
		return bizerr.New(bizerr.KindValidation, "押金扣款必须填写原因")
	}

	order, err := s.orderRepo.GetByOrderNo(ctx, orderNo)
	if err != nil {
		return err
	}

	var depositAmount decimal.Decimal
	switch kind {
	case model.DepositKindVehicle:
		depositAmount = order.VehicleDeposit
	case model.DepositKindViolation:
		depositAmount = order.ViolationDeposit
	default:
		return bizerr.Newf(bizerr.KindValidation, "未知押金类型: %s", kind)
	}

	if deduction.GreaterThan(depositAmount) {
		return bizerr.New(bizerr.KindValidation, "扣款金额不能超过押金金额")
	}

	refundAmount := depositAmount.Sub(deduction)

	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.orderRepo.MarkDepositRefunded(ctx, tx, orderNo, kind, deduction, reason); err != nil {
			return err
		}
		if refundAmount.IsPositive() {
			return s.walletSvc.RefundTx(ctx, tx, order.UserID, refundAmount,
				orderNo, model.RelatedTypeDeposit, "押金退还-"+kind)
		}
		return nil
	})
}
