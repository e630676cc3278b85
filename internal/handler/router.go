package handler

import (
	"github.com/gin-gonic/gin"
)

// SetupRouter 配置路由
func SetupRouter(h *Handler) *gin.Engine {
	// 设置 gin 为发布模式（减少日志输出）
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	// 注册中间件
	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())

	// API 路由组
	api := r.Group("/api/v1")
	{
		// 钱包相关
		wallet := api.Group("/wallet")
		{
			wallet.GET("/detail", h.GetWallet)
			wallet.GET("/transactions", h.ListWalletTransactions)
			wallet.GET("/reconcile", h.ReconcileWallet)
			wallet.POST("/recharge", h.Recharge)
			wallet.POST("/adjust", h.Adjust)
			wallet.POST("/withdraw/request", h.RequestWithdrawal)
			wallet.POST("/withdraw/approve", h.ApproveWithdrawal)
			wallet.POST("/withdraw/reject", h.RejectWithdrawal)
		}

		// 订单相关
		order := api.Group("/order")
		{
			order.POST("/create", h.CreateOrder)
			order.GET("/detail", h.GetOrder)
			order.GET("/list", h.ListOrders)
			order.POST("/pickup", h.Pickup)
			order.POST("/start", h.StartUsing)
			order.POST("/return", h.ReturnOrder)
			order.POST("/complete", h.CompleteOrder)
			order.POST("/cancel", h.CancelOrder)
			order.POST("/deposit/pay", h.PayDeposit)
			order.POST("/deposit/refund", h.RefundDeposit)
		}

		// 支付相关
		payment := api.Group("/payment")
		{
			payment.POST("/create", h.CreatePayment)
			payment.GET("/detail", h.QueryPayment)
			// 渠道回调应答体是原文，不走统一信封
			payment.POST("/notify/:platform", h.PaymentNotify)
		}

		// 退款相关
		refund := api.Group("/refund")
		{
			refund.POST("/create", h.CreateRefund)
			refund.POST("/process", h.ProcessRefund)
			refund.GET("/detail", h.QueryRefund)
		}
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
