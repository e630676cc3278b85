package service

import (
	"context"
	"encoding/json"
	"errors"
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
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type PaymentService struct {
	db          *gorm.DB
	redisClient *redis.Client
	cfg         *config.Config
	registry    *gateway.Registry
	orderRepo   *repository.OrderRepository
	paymentRepo *repository.PaymentRepository
	outboxRepo  *repository.OutboxRepository
	walletSvc   *WalletService
}

func NewPaymentService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config,
	registry *gateway.Registry, walletSvc *WalletService) *PaymentService {
	return &PaymentService{
		db:          db,
		redisClient: redisClient,
		cfg:         cfg,
		registry:    registry,
		orderRepo:   repository.NewOrderRepository(db),
		paymentRepo: repository.NewPaymentRepository(db),
		outboxRepo:  repository.NewOutboxRepository(db),
		walletSvc:   walletSvc,
	}
}

// paymentResultPayload 支付结果通知消息体（经 outbox 投递到 Kafka）
type paymentResultPayload struct {
	PaymentNo string `json:"payment_no"`
	OrderNo   string `json:"order_no"`
	UserID    int64  `json:"user_id"`
	Amount    string `json:"amount"`
	Platform  string `json:"platform"`
	Status    string `json:"status"`
	PaidAt    string `json:"paid_at"`
}

// CreatePayment 发起支付
//
// 【关键点】同一订单的支付发起用 Redis 分布式锁串行化，
// 锁粒度是单个订单号，不同订单互不排队。
// 锁内先查活跃支付单：已有在途支付单时原样返回（幂等），不再建新单。
func (s *PaymentService) CreatePayment(ctx context.Context, userID int64, orderNo, platform string, amount decimal.Decimal) (*model.PaymentRecord, error) {
	order, err := s.orderRepo.GetByOrderNo(ctx, orderNo)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, bizerr.New(bizerr.KindValidation, "无权操作该订单")
	}
	if order.Status != model.OrderStatusPending {
		return nil, bizerr.Newf(bizerr.KindStateConflict, "订单状态不允许支付: %s", order.Status)
	}
	// 提交金额必须与订单应付金额分文不差
	if !amount.Equal(order.TotalPrice) {
		return nil, bizerr.Newf(bizerr.KindValidation, "支付金额不符，应付 %s", order.TotalPrice.StringFixed(2))
	}
	if platform != model.PaymentPlatformWallet {
		if _, ok := s.registry.Get(platform); !ok {
			return nil, bizerr.Newf(bizerr.KindValidation, "不支持的支付平台: %s", platform)
		}
	}

	payLock := lock.NewPaymentLock(s.redisClient, orderNo, uuid.NewString())
	acquired, err := payLock.TryLock(ctx)
	if err != nil {
		return nil, err
	}
	if !acquired {
		return nil, bizerr.New(bizerr.KindStateConflict, "该订单正在支付中，请勿重复操作")
	}
	defer func() {
		if err := payLock.Unlock(context.Background()); err != nil {
			log.Printf("[PaymentService] 解锁失败: orderNo=%s, err=%v", orderNo, err)
		}
	}()

	return s.createPaymentLocked(ctx, order, platform)
}

// createPaymentLocked 锁内的支付发起逻辑（测试从这里进，绕开 Redis）
func (s *PaymentService) createPaymentLocked(ctx context.Context, order *model.RentalOrder, platform string) (*model.PaymentRecord, error) {
	active, err := s.paymentRepo.GetActiveByOrderNo(ctx, order.OrderNo)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return active, nil
	}

	record := &model.PaymentRecord{
		PaymentNo: idgen.GeneratePaymentNo(),
		OrderNo:   order.OrderNo,
		UserID:    order.UserID,
		Amount:    order.TotalPrice,
		Platform:  platform,
		Status:    model.PaymentRecordStatusPending,
		ExpiredAt: time.Now().Add(time.Duration(s.cfg.Business.PaymentExpireMinutes) * time.Minute),
	}

	if platform == model.PaymentPlatformWallet {
		return s.payWithWallet(ctx, order, record)
	}
	return s.payWithGateway(ctx, order, record)
}

// payWithWallet 钱包支付：同步完成
// 【设计思考】支付单先单独落库，留下每次支付尝试的痕迹（与渠道路径
// 一致）；钱包扣款、支付单置 PAID、订单置 PAID、结果通知落 outbox
// 四步同一事务——不存在"扣了钱但订单没变"的中间态。
// 扣款失败（余额不足、钱包冻结）只把支付单翻成 FAILED，订单留在
// PENDING 等用户换渠道再付。
func (s *PaymentService) payWithWallet(ctx context.Context, order *model.RentalOrder, record *model.PaymentRecord) (*model.PaymentRecord, error) {
	if err := s.paymentRepo.Create(ctx, nil, record); err != nil {
		return nil, err
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.walletSvc.ConsumeTx(ctx, tx, order.UserID, record.Amount,
			order.OrderNo, model.RelatedTypeOrder, "订单支付"); err != nil {
			return err
		}
		if err := s.paymentRepo.MarkPaid(ctx, tx, record.PaymentNo, ""); err != nil {
			return err
		}
		if err := s.orderRepo.UpdateStatus(ctx, tx, order.OrderNo,
			model.OrderStatusPending, model.OrderStatusPaid); err != nil {
			return err
		}
		return s.enqueuePaymentResult(ctx, tx, record, model.PaymentRecordStatusPaid)
	})
	if err != nil {
		if markErr := s.paymentRepo.MarkFailed(ctx, nil, record.PaymentNo); markErr != nil {
			log.Printf("[PaymentService] 钱包扣款失败后置FAILED失败: paymentNo=%s, err=%v",
				record.PaymentNo, markErr)
		}
		return nil, err
	}

	record.Status = model.PaymentRecordStatusPaid
	log.Printf("[PaymentService] 钱包支付成功: paymentNo=%s, orderNo=%s, amount=%s",
		record.PaymentNo, record.OrderNo, record.Amount.StringFixed(2))
	return record, nil
}

// payWithGateway 第三方支付：两段式
// 先落 PENDING 支付单再调渠道；渠道受理成功置 PAYING 并保存客户端参数，
// 渠道报错置 FAILED。实际到账靠异步回调。
func (s *PaymentService) payWithGateway(ctx context.Context, order *model.RentalOrder, record *model.PaymentRecord) (*model.PaymentRecord, error) {
	gw, ok := s.registry.Get(record.Platform)
	if !ok {
		return nil, bizerr.Newf(bizerr.KindValidation, "不支持的支付平台: %s", record.Platform)
	}

	if err := s.paymentRepo.Create(ctx, nil, record); err != nil {
		return nil, err
	}

	result, err := gw.CreateOrder(ctx, record.PaymentNo, record.Amount, "租赁订单-"+order.OrderNo)
	if err != nil {
		if markErr := s.paymentRepo.MarkFailed(ctx, nil, record.PaymentNo); markErr != nil {
			log.Printf("[PaymentService] 渠道下单失败后置FAILED失败: paymentNo=%s, err=%v",
				record.PaymentNo, markErr)
		}
		return nil, bizerr.Wrap(bizerr.KindGateway, "渠道下单失败", err)
	}

	paramsJSON, _ := json.Marshal(result.ClientParams)
	if err := s.paymentRepo.MarkPaying(ctx, nil, record.PaymentNo,
		result.ThirdPartyOrderNo, string(paramsJSON)); err != nil {
		return nil, err
	}

	record.Status = model.PaymentRecordStatusPaying
	record.ThirdPartyOrderNo = result.ThirdPartyOrderNo
	record.GatewayParams = string(paramsJSON)
	return record, nil
}

// HandlePaymentCallback 渠道异步回调
//
// 返回值是应答体原文，由 handler 原样写回渠道。
// 幂等：同一笔回调重放时支付单已是 PAID，直接回成功应答，
// 绝不把重复通知当错误回给渠道（否则渠道会一直重试）。
func (s *PaymentService) HandlePaymentCallback(ctx context.Context, platform string, params map[string]string) (string, error) {
	gw, ok := s.registry.Get(platform)
	if !ok {
		return "", bizerr.Newf(bizerr.KindValidation, "未知回调平台: %s", platform)
	}

	if !gw.VerifySignature(params) {
		log.Printf("[PaymentService] 回调验签失败: platform=%s, params=%v", platform, params)
		return gw.FailAck(), bizerr.New(bizerr.KindGateway, "回调验签失败")
	}

	paymentNo := params["out_trade_no"]
	if paymentNo == "" {
		return gw.FailAck(), bizerr.New(bizerr.KindValidation, "回调缺少 out_trade_no")
	}

	if status := params["trade_status"]; status != "" && status != "TRADE_SUCCESS" {
		// 非成功通知只记录，不推进状态
		log.Printf("[PaymentService] 非成功回调忽略: paymentNo=%s, tradeStatus=%s", paymentNo, status)
		return gw.SuccessAck(), nil
	}

	record, err := s.paymentRepo.GetByPaymentNo(ctx, paymentNo)
	if err != nil {
		return gw.FailAck(), err
	}

	if money := params["money"]; money != "" && money != record.Amount.StringFixed(2) {
		log.Printf("[PaymentService] 回调金额不符: paymentNo=%s, expect=%s, got=%s",
			paymentNo, record.Amount.StringFixed(2), money)
		return gw.FailAck(), bizerr.New(bizerr.KindGateway, "回调金额不符")
	}

	if record.Status == model.PaymentRecordStatusPaid {
		return gw.SuccessAck(), nil
	}
	if record.Status == model.PaymentRecordStatusFailed {
		// 支付单超时置 FAILED 后渠道才通知成功：渠道侧已扣款而系统未入账。
		// 回成功止住渠道重试，资金差异留痕等人工核对
		log.Printf("[PaymentService] 回调成功但支付单已置FAILED，渠道已扣款未入账，需人工跟进: paymentNo=%s, tradeNo=%s",
			paymentNo, params["trade_no"])
		return gw.SuccessAck(), nil
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.paymentRepo.MarkPaid(ctx, tx, paymentNo, params["trade_no"]); err != nil {
			return err
		}
		if err := s.orderRepo.UpdateStatus(ctx, tx, record.OrderNo,
			model.OrderStatusPending, model.OrderStatusPaid); err != nil {
			return err
		}
		record.Status = model.PaymentRecordStatusPaid
		return s.enqueuePaymentResult(ctx, tx, record, model.PaymentRecordStatusPaid)
	})
	if err != nil {
		// 并发回调：另一个请求先行置了 PAID，吸收为成功
		if errors.Is(err, repository.ErrPaymentStatusConflict) {
			return gw.SuccessAck(), nil
		}
		return gw.FailAck(), err
	}

	log.Printf("[PaymentService] 回调处理成功: paymentNo=%s, orderNo=%s, tradeNo=%s",
		paymentNo, record.OrderNo, params["trade_no"])
	return gw.SuccessAck(), nil
}

func (s *PaymentService) QueryPayment(ctx context.Context, paymentNo string) (*model.PaymentRecord, error) {
	return s.paymentRepo.GetByPaymentNo(ctx, paymentNo)
}

func (s *PaymentService) enqueuePaymentResult(ctx context.Context, tx *gorm.DB, record *model.PaymentRecord, status string) error {
	payload, err := json.Marshal(paymentResultPayload{
		PaymentNo: record.PaymentNo,
		OrderNo:   record.OrderNo,
		UserID:    record.UserID,
		Amount:    record.Amount.StringFixed(2),
		Platform:  record.Platform,
		Status:    status,
		PaidAt:    time.Now().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	return s.outboxRepo.Create(ctx, tx, &model.OutboxMessage{
		MessageKey: record.OrderNo,
		Topic:      s.cfg.Kafka.Topic.PaymentResult,
		Payload:    string(payload),
		Status:     model.OutboxStatusPending,
	})
}
