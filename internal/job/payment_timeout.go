package job

import (
	"context"
	"log"
	"time"

	"rentalpay/internal/config"
	"rentalpay/internal/repository"
	"rentalpay/internal/service"

	"gorm.io/gorm"
)

// PaymentTimeoutJob 支付超时取消任务
// 周期扫描超过未支付时限的待支付订单，逐单取消并释放档期。
// 单个订单取消失败只记日志，不影响同批其他订单。
type PaymentTimeoutJob struct {
	db        *gorm.DB
	orderRepo *repository.OrderRepository
	orderSvc  *service.OrderService
	cfg       *config.Config
	stopCh    chan struct{}
	interval  time.Duration
	batchSize int
}

func NewPaymentTimeoutJob(db *gorm.DB, cfg *config.Config, orderSvc *service.OrderService) *PaymentTimeoutJob {
	return &PaymentTimeoutJob{
		db:        db,
		orderRepo: repository.NewOrderRepository(db),
		orderSvc:  orderSvc,
		cfg:       cfg,
		stopCh:    make(chan struct{}),
		interval:  time.Duration(cfg.Business.PaymentTimeoutScanMin) * time.Minute,
		batchSize: 100,
	}
}

func (j *PaymentTimeoutJob) Start(ctx context.Context) {
	log.Println("[PaymentTimeoutJob] 支付超时取消任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[PaymentTimeoutJob] 收到停止信号，任务退出")
			return
		case <-j.stopCh:
			log.Println("[PaymentTimeoutJob] 任务停止")
			return
		case <-ticker.C:
			j.cancelTimedOutOrders(ctx)
		}
	}
}

func (j *PaymentTimeoutJob) Stop() {
	close(j.stopCh)
}

func (j *PaymentTimeoutJob) cancelTimedOutOrders(ctx context.Context) {
	before := time.Now().Add(-time.Duration(j.cfg.Business.PaymentExpireMinutes) * time.Minute)
	orders, err := j.orderRepo.GetPaymentTimedOut(ctx, before, j.batchSize)
	if err != nil {
		log.Printf("[PaymentTimeoutJob] 查询超时订单失败: %v", err)
		return
	}

	if len(orders) == 0 {
		return
	}

	log.Printf("[PaymentTimeoutJob] 发现 %d 个支付超时订单", len(orders))

	cancelledCount := 0
	for _, order := range orders {
		// 走服务层取消：一并失败在途支付单、释放资源占用
		if err := j.orderSvc.Cancel(ctx, order.OrderNo, "支付超时自动取消"); err != nil {
			log.Printf("[PaymentTimeoutJob] 取消订单失败: orderNo=%s, err=%v", order.OrderNo, err)
			continue
		}
		cancelledCount++
		log.Printf("[PaymentTimeoutJob] 订单已超时取消: orderNo=%s, userID=%d, amount=%s",
			order.OrderNo, order.UserID, order.TotalPrice.StringFixed(2))
	}

	log.Printf("[PaymentTimeoutJob] 本次取消 %d 个超时订单", cancelledCount)
}
