package job

import (
	"context"
	"log"
	"time"

	"rentalpay/internal/config"
	"rentalpay/internal/model"
	"rentalpay/internal/repository"
	"rentalpay/internal/service"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// DepositAutoRefundJob 违章押金自动退还任务
// 兜底链路：违章押金已付、一直没人盖预计退还时间也没人退，
// 且还车/完成已超过押金冻结期（默认30天）的订单，全额退回钱包。
type DepositAutoRefundJob struct {
	db        *gorm.DB
	orderRepo *repository.OrderRepository
	orderSvc  *service.OrderService
	cfg       *config.Config
	stopCh    chan struct{}
	interval  time.Duration
	batchSize int
}

func NewDepositAutoRefundJob(db *gorm.DB, cfg *config.Config, orderSvc *service.OrderService) *DepositAutoRefundJob {
	return &DepositAutoRefundJob{
		db:        db,
		orderRepo: repository.NewOrderRepository(db),
		orderSvc:  orderSvc,
		cfg:       cfg,
		stopCh:    make(chan struct{}),
		interval:  time.Duration(cfg.Business.DepositRefundScanHours) * time.Hour,
		batchSize: 200,
	}
}

func (j *DepositAutoRefundJob) Start(ctx context.Context) {
	log.Println("[DepositAutoRefundJob] 押金自动退还任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	// 启动即跑一轮，不等首个周期
	j.refundDueDeposits(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Println("[DepositAutoRefundJob] 收到停止信号，任务退出")
			return
		case <-j.stopCh:
			log.Println("[DepositAutoRefundJob] 任务停止")
			return
		case <-ticker.C:
			j.refundDueDeposits(ctx)
		}
	}
}

func (j *DepositAutoRefundJob) Stop() {
	close(j.stopCh)
}

func (j *DepositAutoRefundJob) refundDueDeposits(ctx context.Context) {
	cutoff := time.Now().AddDate(0, 0, -j.cfg.Business.DepositHoldDays)
	orders, err := j.orderRepo.GetDepositAutoRefundable(ctx, cutoff, j.batchSize)
	if err != nil {
		log.Printf("[DepositAutoRefundJob] 查询待退押金订单失败: %v", err)
		return
	}

	if len(orders) == 0 {
		return
	}

	log.Printf("[DepositAutoRefundJob] 发现 %d 个待自动退押金订单", len(orders))

	processedCount, failedCount := 0, 0
	for _, order := range orders {
		err := j.orderSvc.RefundDeposit(ctx, order.OrderNo, model.DepositKindViolation, decimal.Zero, "")
		if err != nil {
			failedCount++
			log.Printf("[DepositAutoRefundJob] 押金退还失败: orderNo=%s, err=%v", order.OrderNo, err)
			continue
		}
		processedCount++
		log.Printf("[DepositAutoRefundJob] 违章押金已自动退还: orderNo=%s, userID=%d, amount=%s",
			order.OrderNo, order.UserID, order.ViolationDeposit.StringFixed(2))
	}

	log.Printf("[DepositAutoRefundJob] 本轮完成: 成功 %d, 失败 %d", processedCount, failedCount)
}
