package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rentalpay/internal/config"
	"rentalpay/internal/gateway"
	"rentalpay/internal/handler"
	"rentalpay/internal/infrastructure/cache"
	"rentalpay/internal/infrastructure/database"
	"rentalpay/internal/infrastructure/mq"
	"rentalpay/internal/inventory"
	"rentalpay/internal/job"
	"rentalpay/internal/service"
	"rentalpay/pkg/idgen"
)

func main() {
	// 加载配置
	cfg := config.LoadConfig("config/config.yaml")

	// 初始化 ID 生成器
	idgen.Init(1)

	// 初始化 MySQL
	db := database.InitMySQL(&cfg.MySQL)

	// 初始化 Redis
	redisClient := cache.InitRedis(&cfg.Redis)

	// 初始化 Kafka
	mq.InitKafka(&cfg.Kafka)
	defer mq.CloseKafka()

	// 支付渠道注册表（按配置启用）
	registry := gateway.NewRegistry(cfg.Gateways)

	// 组装服务
	inventorySvc := inventory.NewService(db)
	walletSvc := service.NewWalletService(db)
	orderSvc := service.NewOrderService(db, cfg, inventorySvc, walletSvc)
	paymentSvc := service.NewPaymentService(db, redisClient, cfg, registry, walletSvc)
	refundSvc := service.NewRefundService(db, redisClient, cfg, registry, walletSvc)
	// 取消订单后的退款发起走退款服务
	orderSvc.SetRefundCreator(refundSvc)

	// 创建上下文（用于优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 启动后台任务
	outboxSender := job.NewOutboxSender(db, cfg)
	go outboxSender.Start(ctx)

	paymentTimeoutJob := job.NewPaymentTimeoutJob(db, cfg, orderSvc)
	go paymentTimeoutJob.Start(ctx)

	depositRefundJob := job.NewDepositAutoRefundJob(db, cfg, orderSvc)
	go depositRefundJob.Start(ctx)

	// 设置路由
	h := handler.NewHandler(walletSvc, orderSvc, paymentSvc, refundSvc)
	router := handler.SetupRouter(h)

	// 启动 HTTP 服务
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// 在 goroutine 中启动服务器
	go func() {
		log.Printf("服务启动，监听端口: %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("服务启动失败: %v", err)
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("正在关闭服务...")

	// 取消上下文，停止后台任务
	cancel()

	// 关闭 HTTP 服务（等待最多5秒）
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("服务关闭异常: %v", err)
	}

	log.Println("服务已关闭")
}
