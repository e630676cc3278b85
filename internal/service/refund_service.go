package service

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"rentalpay/internal/config"
	"rentalpay/internal/gateway"
	"rentalpay/internal/infrastructure/lock"
	"rentalpay/internal/model"
	"rentalpay/internal/repository"
	"rentalpay/pkg/bizerr"
	"rentalpay/pkg/idgen"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type RefundService struct {
	db          *gorm.DB
	redisClient *redis.Client
	cfg         *config.Config
	registry    *gateway.Registry
	orderRepo   *repository.OrderRepository
	paymentRepo *repository.PaymentRepository
	refundRepo  *repository.RefundRepository
	outboxRepo  *repository.OutboxRepository
	walletSvc   *WalletService
}

func NewRefundService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config,
	registry *gateway.Registry, walletSvc *WalletService) *RefundService {
	return &RefundService{
		db:          db,
		redisClient: redisClient,
		cfg:         cfg,
		registry:    registry,
		orderRepo:   repository.NewOrderRepository(db),
		paymentRepo: repository.NewPaymentRepository(db),
		refundRepo:  repository.NewRefundRepository(db),
		outboxRepo:  repository.NewOutboxRepository(db),
		walletSvc:   walletSvc,
	}
}

type refundResultPayload struct {
	RefundNo   string `json:"refund_no"`
	OrderNo    string `json:"order_no"`
	PaymentNo  string `json:"payment_no"`
	UserID     int64  `json:"user_id"`
	Amount     string `json:"amount"`
	Status     string `json:"status"`
	RefundedAt string `json:"refunded_at"`
}

// CreateRefund 发起退款单
//
// 前置：订单已支付；存在 PAID 支付单；无在途退款单。
// 金额优先取订单上取消时算好的应退金额，订单没记则全额退。
func (s *RefundService) CreateRefund(ctx context.Context, orderNo, reason string) (*model.RefundRecord, error) {
	order, err := s.orderRepo.GetByOrderNo(ctx, orderNo)
	if err != nil {
		return nil, err
	}
	// 订单侧 REFUNDED 只能从 CANCELLED 进（见 RentalOrder.CanTransitionTo），
	// 这里提前拦住，免得退款执行到最后一步才在订单流转上炸掉
	if order.Status != model.OrderStatusCancelled {
		return nil, bizerr.Newf(bizerr.KindStateConflict, "仅已取消订单可退款: status=%s", order.Status)
	}
	if order.PaymentStatus != model.PaymentStatusPaid {
		return nil, bizerr.Newf(bizerr.KindStateConflict, "订单未支付，无款可退: paymentStatus=%s", order.PaymentStatus)
	}

	payment, err := s.paymentRepo.GetPaidByOrderNo(ctx, orderNo)
	if err != nil {
		return nil, err
	}

	active, err := s.refundRepo.GetActiveByOrderNo(ctx, orderNo)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, bizerr.Newf(bizerr.KindStateConflict, "该订单已有在途退款单: %s", active.RefundNo)
	}

	amount := payment.Amount
	if order.RefundAmount.IsPositive() {
		amount = order.RefundAmount
	}
	if amount.GreaterThan(payment.Amount) {
		return nil, bizerr.New(bizerr.KindValidation, "退款金额不能超过原支付金额")
	}

	record := &model.RefundRecord{
		RefundNo:  idgen.GenerateRefundNo(),
		OrderNo:   orderNo,
		PaymentNo: payment.PaymentNo,
		UserID:    order.UserID,
		Amount:    amount,
		Reason:    reason,
		Status:    model.RefundStatusPending,
	}
	if err := s.refundRepo.Create(ctx, nil, record); err != nil {
		return nil, err
	}

	log.Printf("[RefundService] 退款单已创建: refundNo=%s, orderNo=%s, amount=%s",
		record.RefundNo, orderNo, amount.StringFixed(2))
	return record, nil
}

// ProcessRefund 执行退款
//
// 同一订单的退款执行用 Redis 锁串行化。PENDING/FAILED 先流转到
// PROCESSING 占坑，然后按原支付渠道把钱退回去：
// 钱包单内同步入账；第三方渠道调退款接口，渠道报错置 FAILED 留待重试。
// PROCESSING 态的单子允许重入：上一次执行在占坑后中断（落库失败、
// 进程退出）时，重试从派发处接着跑，不会卡死在 PROCESSING。
func (s *RefundService) ProcessRefund(ctx context.Context, refundNo string) error {
	record, err := s.refundRepo.GetByRefundNo(ctx, refundNo)
	if err != nil {
		return err
	}
	if record.Status == model.RefundStatusRefunded {
		return nil
	}

	refundLock := lock.NewRefundLock(s.redisClient, record.OrderNo, uuid.NewString())
	acquired, err := refundLock.TryLock(ctx)
	if err != nil {
		return err
	}
	if !acquired {
		return bizerr.New(bizerr.KindStateConflict, "该订单退款处理中，请勿重复操作")
	}
	defer func() {
		if err := refundLock.Unlock(context.Background()); err != nil {
			log.Printf("[RefundService] 解锁失败: orderNo=%s, err=%v", record.OrderNo, err)
		}
	}()

	return s.processRefundLocked(ctx, record)
}

func (s *RefundService) processRefundLocked(ctx context.Context, record *model.RefundRecord) error {
	if record.Status != model.RefundStatusProcessing {
		if err := s.refundRepo.MarkProcessing(ctx, nil, record.RefundNo); err != nil {
			return err
		}
	}

	payment, err := s.paymentRepo.GetByPaymentNo(ctx, record.PaymentNo)
	if err != nil {
		return err
	}

	if payment.Platform == model.PaymentPlatformWallet {
		return s.refundToWallet(ctx, record)
	}
	return s.refundViaGateway(ctx, record, payment)
}

// refundToWallet 原路退回钱包，入账与各状态流转同一事务。
// 事务失败时整体回滚，没有钱到账，置 FAILED 留待重试。
func (s *RefundService) refundToWallet(ctx context.Context, record *model.RefundRecord) error {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.walletSvc.RefundTx(ctx, tx, record.UserID, record.Amount,
			record.OrderNo, model.RelatedTypeRefund, "订单退款"); err != nil {
			return err
		}
		return s.settleRefund(ctx, tx, record, "")
	})
	if err != nil {
		s.markRefundFailed(ctx, record.RefundNo, err)
		return err
	}

	log.Printf("[RefundService] 钱包退款成功: refundNo=%s, orderNo=%s, amount=%s",
		record.RefundNo, record.OrderNo, record.Amount.StringFixed(2))
	return nil
}

// refundViaGateway 第三方渠道退款
// 【设计思考】渠道调用在事务外：外部 HTTP 不能裹进 DB 事务。
// 渠道成功后落库若失败，下一次重试会再次调渠道——渠道退款接口
// 按 out_refund_no 幂等，重复请求返回同一结果，不会重复打款。
func (s *RefundService) refundViaGateway(ctx context.Context, record *model.RefundRecord, payment *model.PaymentRecord) error {
	gw, ok := s.registry.Get(payment.Platform)
	if !ok {
		return bizerr.Newf(bizerr.KindValidation, "不支持的退款平台: %s", payment.Platform)
	}

	thirdPartyRefundNo, err := gw.Refund(ctx, record.PaymentNo, record.RefundNo, record.Amount)
	if err != nil {
		s.markRefundFailed(ctx, record.RefundNo, err)
		return bizerr.Wrap(bizerr.KindGateway, "渠道退款失败", err)
	}

	// 渠道已打款，落库失败不置 FAILED（FAILED 允许另起新退款单，会二次打款），
	// 保持 PROCESSING 由重入路径补落库
	err = s.db.Transaction(func(tx *gorm.DB) error {
		return s.settleRefund(ctx, tx, record, thirdPartyRefundNo)
	})
	if err != nil {
		return err
	}

	log.Printf("[RefundService] 渠道退款成功: refundNo=%s, orderNo=%s, thirdPartyRefundNo=%s",
		record.RefundNo, record.OrderNo, thirdPartyRefundNo)
	return nil
}

// markRefundFailed 置 FAILED 留待重试，失败原因截断后入库
func (s *RefundService) markRefundFailed(ctx context.Context, refundNo string, cause error) {
	reason := cause.Error()
	if len(reason) > 250 {
		reason = reason[:250]
	}
	if err := s.refundRepo.MarkFailed(ctx, nil, refundNo, reason); err != nil {
		log.Printf("[RefundService] 退款置FAILED失败: refundNo=%s, err=%v", refundNo, err)
	}
}

// settleRefund 退款到账后的统一落库：退款单、支付单、订单三方状态一起翻转
func (s *RefundService) settleRefund(ctx context.Context, tx *gorm.DB, record *model.RefundRecord, thirdPartyRefundNo string) error {
	if err := s.refundRepo.MarkRefunded(ctx, tx, record.RefundNo, thirdPartyRefundNo); err != nil {
		return err
	}
	if err := s.paymentRepo.MarkRefunded(ctx, tx, record.PaymentNo); err != nil {
		return err
	}
	if err := s.orderRepo.MarkRefunded(ctx, tx, record.OrderNo); err != nil {
		return err
	}
	return s.enqueueRefundResult(ctx, tx, record)
}

func (s *RefundService) GetRefund(ctx context.Context, refundNo string) (*model.RefundRecord, error) {
	return s.refundRepo.GetByRefundNo(ctx, refundNo)
}

func (s *RefundService) enqueueRefundResult(ctx context.Context, tx *gorm.DB, record *model.RefundRecord) error {
	payload, err := json.Marshal(refundResultPayload{
		RefundNo:   record.RefundNo,
		OrderNo:    record.OrderNo,
		PaymentNo:  record.PaymentNo,
		UserID:     record.UserID,
		Amount:     record.Amount.StringFixed(2),
		Status:     model.RefundStatusRefunded,
		RefundedAt: time.Now().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	return s.outboxRepo.Create(ctx, tx, &model.OutboxMessage{
		MessageKey: record.OrderNo,
		Topic:      s.cfg.Kafka.Topic.RefundResult,
		Payload:    string(payload),
		Status:     model.OutboxStatusPending,
	})
}
