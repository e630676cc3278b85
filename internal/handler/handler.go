package handler

import (
	"strconv"
	"time"

	"rentalpay/internal/service"
	"rentalpay/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	walletService  *service.WalletService
	orderService   *service.OrderService
	paymentService *service.PaymentService
	refundService  *service.RefundService
}

// NewHandler 创建处理器实例，服务在 main 中组装后注入
func NewHandler(walletSvc *service.WalletService, orderSvc *service.OrderService,
	paymentSvc *service.PaymentService, refundSvc *service.RefundService) *Handler {
	return &Handler{
		walletService:  walletSvc,
		orderService:   orderSvc,
		paymentService: paymentSvc,
		refundService:  refundSvc,
	}
}

func parseUserID(c *gin.Context) (int64, bool) {
	userID, err := strconv.ParseInt(c.Query("user_id"), 10, 64)
	if err != nil || userID <= 0 {
		response.ParamError(c, "user_id 参数错误")
		return 0, false
	}
	return userID, true
}

func parseAmount(c *gin.Context, raw string) (decimal.Decimal, bool) {
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		response.ParamError(c, "金额格式错误: "+raw)
		return decimal.Zero, false
	}
	return amount, true
}

// ============================================================
// 钱包相关接口
// ============================================================

// GetWallet 查询钱包
// GET /api/v1/wallet/detail?user_id=xxx
func (h *Handler) GetWallet(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}

	wallet, err := h.walletService.GetWallet(c.Request.Context(), userID)
	if err != nil {
		response.BizError(c, err)
		return
	}

	response.Success(c, gin.H{
		"user_id":           wallet.UserID,
		"balance":           wallet.Balance,
		"frozen_amount":     wallet.FrozenAmount,
		"available_balance": wallet.AvailableBalance(),
		"status":            wallet.Status,
	})
}

// ListWalletTransactions 查询钱包流水
// GET /api/v1/wallet/transactions?user_id=xxx&page=1&page_size=10
func (h *Handler) ListWalletTransactions(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))

	transactions, total, err := h.walletService.ListTransactions(c.Request.Context(), userID, page, pageSize)
	if err != nil {
		response.BizError(c, err)
		return
	}

	response.Success(c, gin.H{
		"list":      transactions,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// RechargeRequest 充值请求
type RechargeRequest struct {
	UserID int64  `json:"user_id" binding:"required"`
	Amount string `json:"amount" binding:"required"`
}

// Recharge 充值接口（简化版，实际应该走支付渠道）
// POST /api/v1/wallet/recharge
func (h *Handler) Recharge(c *gin.Context) {
	var req RechargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	amount, ok := parseAmount(c, req.Amount)
	if !ok {
		return
	}

	if err := h.walletService.Recharge(c.Request.Context(), req.UserID, amount); err != nil {
		response.BizError(c, err)
		return
	}

	response.Success(c, gin.H{"message": "充值成功"})
}

// AdjustRequest 人工调账请求
type AdjustRequest struct {
	UserID     int64  `json:"user_id" binding:"required"`
	Delta      string `json:"delta" binding:"required"`
	OperatorID int64  `json:"operator_id" binding:"required"`
	Remark     string `json:"remark" binding:"required"`
}

// Adjust 人工调账（正数补入，负数扣减）
// POST /api/v1/wallet/adjust
func (h *Handler) Adjust(c *gin.Context) {
	var req AdjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	delta, ok := parseAmount(c, req.Delta)
	if !ok {
		return
	}

	if err := h.walletService.Adjust(c.Request.Context(), req.UserID, delta, req.OperatorID, req.Remark); err != nil {
		response.BizError(c, err)
		return
	}

	response.Success(c, gin.H{"message": "调账成功"})
}

// WithdrawRequest 提现申请请求
type WithdrawRequest struct {
	UserID int64  `json:"user_id" binding:"required"`
	Amount string `json:"amount" binding:"required"`
}

// RequestWithdrawal 申请提现
// POST /api/v1/wallet/withdraw/request
func (h *Handler) RequestWithdrawal(c *gin.Context) {
	var req WithdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	amount, ok := parseAmount(c, req.Amount)
	if !ok {
		return
	}

	withdrawal, err := h.walletService.RequestWithdrawal(c.Request.Context(), req.UserID, amount)
	if err != nil {
		response.BizError(c, err)
		return
	}

	response.Success(c, gin.H{
		"withdrawal_no": withdrawal.WithdrawalNo,
		"status":        withdrawal.Status,
		"amount":        withdrawal.Amount,
	})
}

// WithdrawReviewRequest 提现审批请求
type WithdrawReviewRequest struct {
	WithdrawalNo string `json:"withdrawal_no" binding:"required"`
	OperatorID   int64  `json:"operator_id" binding:"required"`
	Remark       string `json:"remark"`
}

// ApproveWithdrawal 审批通过提现
// POST /api/v1/wallet/withdraw/approve
func (h *Handler) ApproveWithdrawal(c *gin.Context) {
	var req WithdrawReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	if err := h.walletService.ApproveWithdrawal(c.Request.Context(), req.WithdrawalNo, req.OperatorID, req.Remark); err != nil {
		response.BizError(c, err)
		return
	}

	response.Success(c, gin.H{"message": "提现已打款"})
}

// RejectWithdrawal 驳回提现
// POST /api/v1/wallet/withdraw/reject
func (h *Handler) RejectWithdrawal(c *gin.Context) {
	var req WithdrawReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	if err := h.walletService.RejectWithdrawal(c.Request.Context(), req.WithdrawalNo, req.OperatorID, req.Remark); err != nil {
		response.BizError(c, err)
		return
	}

	response.Success(c, gin.H{"message": "提现已驳回"})
}

// ReconcileWallet 钱包对账：流水合计与余额是否一致
// GET /api/v1/wallet/reconcile?user_id=xxx
func (h *Handler) ReconcileWallet(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}

	consistent, err := h.walletService.Reconcile(c.Request.Context(), userID)
	if err != nil {
		response.BizError(c, err)
		return
	}

	response.Success(c, gin.H{
		"user_id":    userID,
		"consistent": consistent,
	})
}

// ============================================================
// 订单相关接口
// ============================================================

// CreateOrderRequest 创建订单请求
type CreateOrderRequest struct {
	UserID         int64  `json:"user_id" binding:"required"`
	ResourceID     int64  `json:"resource_id" binding:"required"`
	ResourceType   string `json:"resource_type" binding:"required"` // VEHICLE / TOUR / CAMPSITE
	StartDate      string `json:"start_date" binding:"required"`    // 2006-01-02
	EndDate        string `json:"end_date" binding:"required"`      // 半开区间，不含当天
	InsurancePrice string `json:"insurance_price"`
	AddonPrice     string `json:"addon_price"`
}

// CreateOrder 创建租赁订单
// POST /api/v1/order/create
func (h *Handler) CreateOrder(c *gin.Context) {
	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	startDate, err := time.Parse(dateLayout, req.StartDate)
	if err != nil {
		response.ParamError(c, "start_date 格式错误")
		return
	}
	endDate, err := time.Parse(dateLayout, req.EndDate)
	if err != nil {
		response.ParamError(c, "end_date 格式错误")
		return
	}

	insurancePrice := decimal.Zero
	if req.InsurancePrice != "" {
		if insurancePrice, err = decimal.NewFromString(req.InsurancePrice); err != nil {
			response.ParamError(c, "insurance_price 格式错误")
			return
		}
	}
	addonPrice := decimal.Zero
	if req.AddonPrice != "" {
		if addonPrice, err = decimal.NewFromString(req.AddonPrice); err != nil {
			response.ParamError(c, "addon_price 格式错误")
			return
		}
	}

	order, err := h.orderService.CreateOrder(c.Request.Context(), &service.CreateOrderRequest{
		UserID:         req.UserID,
		ResourceID:     req.ResourceID,
		ResourceType:   req.ResourceType,
		StartDate:      startDate,
		EndDate:        endDate,
		InsurancePrice: insurancePrice,
		AddonPrice:     addonPrice,
	})
	if err != nil {
		response.BizError(c, err)
		return
	}

	response.Success(c, gin.H{
		"order_no":      order.OrderNo,
		"status":        order.Status,
		"total_price":   order.TotalPrice,
		"total_deposit": order.TotalDeposit,
	})
}

// GetOrder 查询订单详情
// GET /api/v1/order/detail?order_no=xxx
func (h *Handler) GetOrder(c *gin.Context) {
	orderNo := c.Query("order_no")
	if orderNo == "" {
		response.ParamError(c, "order_no 参数不能为空")
		return
	}

	order, err := h.orderService.GetOrder(c.Request.Context(), orderNo)
	if err != nil {
		response.BizError(c, err)
		return
	}

	response.Success(c, order)
}

// ListOrders 查询用户订单列表
// GET /api/v1/order/list?user_id=xxx&page=1&page_size=10
func (h *Handler) ListOrders(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))

	orders, total, err := h.orderService.ListUserOrders(c.Request.Context(), userID, page, pageSize)
	if err != nil {
		response.BizError(c, err)
		return
	}

	response.Success(c, gin.H{
		"list":      orders,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

type orderNoRequest struct {
	OrderNo string `json:"order_no" binding:"required"`
}

// Pickup 取车/入营
// POST /api/v1/order/pickup
func (h *Handler) Pickup(c *gin.Context) {
	var req orderNoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	if err := h.orderService.Pickup(c.Request.Context(), req.OrderNo); err != nil {
		response.BizError(c, err)
		return
	}
	response.Success(c, gin.H{"message": "已取车"})
}

// StartUsing 开始使用
// POST /api/v1/order/start
func (h *Handler) StartUsing(c *gin.Context) {
	var req orderNoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	if err := h.orderService.StartUsing(c.Request.Context(), req.OrderNo); err != nil {
		response.BizError(c, err)
		return
	}
	response.Success(c, gin.H{"message": "使用中"})
}

// ReturnOrder 还车
// POST /api/v1/order/return
func (h *Handler) ReturnOrder(c *gin.Context) {
	var req orderNoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	if err := h.orderService.Return(c.Request.Context(), req.OrderNo); err != nil {
		response.BizError(c, err)
		return
	}
	response.Success(c, gin.H{"message": "已还车"})
}

// CompleteOrder 完成订单
// POST /api/v1/order/complete
func (h *Handler) CompleteOrder(c *gin.Context) {
	var req orderNoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	if err := h.orderService.Complete(c.Request.Context(), req.OrderNo); err != nil {
		response.BizError(c, err)
		return
	}
	response.Success(c, gin.H{"message": "订单已完成"})
}

// CancelOrderRequest 取消订单请求
type CancelOrderRequest struct {
	OrderNo string `json:"order_no" binding:"required"`
	Reason  string `json:"reason"`
}

// CancelOrder 取消订单
// POST /api/v1/order/cancel
func (h *Handler) CancelOrder(c *gin.Context) {
	var req CancelOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	if err := h.orderService.Cancel(c.Request.Context(), req.OrderNo, req.Reason); err != nil {
		response.BizError(c, err)
		return
	}

	response.Success(c, gin.H{"message": "订单已取消"})
}

// DepositPayRequest 押金支付请求
type DepositPayRequest struct {
	OrderNo string `json:"order_no" binding:"required"`
	Kind    string `json:"kind" binding:"required"` // VEHICLE / VIOLATION
	Amount  string `json:"amount" binding:"required"`
}

// PayDeposit 支付押金
// POST /api/v1/order/deposit/pay
func (h *Handler) PayDeposit(c *gin.Context) {
	var req DepositPayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	amount, ok := parseAmount(c, req.Amount)
	if !ok {
		return
	}

	if err := h.orderService.PayDeposit(c.Request.Context(), req.OrderNo, req.Kind, amount); err != nil {
		response.BizError(c, err)
		return
	}

	response.Success(c, gin.H{"message": "押金已支付"})
}

// DepositRefundRequest 押金退还请求
type DepositRefundRequest struct {
	OrderNo   string `json:"order_no" binding:"required"`
	Kind      string `json:"kind" binding:"required"`
	Deduction string `json:"deduction"` // 不填视为全额退
	Reason    string `json:"reason"`
}

// RefundDeposit 退还押金
// POST /api/v1/order/deposit/refund
func (h *Handler) RefundDeposit(c *gin.Context) {
	var req DepositRefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	deduction := decimal.Zero
	if req.Deduction != "" {
		var err error
		if deduction, err = decimal.NewFromString(req.Deduction); err != nil {
			response.ParamError(c, "deduction 格式错误")
			return
		}
	}

	if err := h.orderService.RefundDeposit(c.Request.Context(), req.OrderNo, req.Kind, deduction, req.Reason); err != nil {
		response.BizError(c, err)
		return
	}

	response.Success(c, gin.H{"message": "押金已退还"})
}

// ============================================================
// 支付相关接口
// ============================================================

// CreatePaymentRequest 发起支付请求
type CreatePaymentRequest struct {
	UserID   int64  `json:"user_id" binding:"required"`
	OrderNo  string `json:"order_no" binding:"required"`
	Platform string `json:"platform" binding:"required"` // WALLET / ALIPAY / WECHAT
	Amount   string `json:"amount" binding:"required"`   // 必须等于订单应付金额
}

// CreatePayment 发起支付
// POST /api/v1/payment/create
//
// 钱包支付同步返回 PAID；第三方支付返回 PAYING 和渠道客户端参数。
func (h *Handler) CreatePayment(c *gin.Context) {
	var req CreatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	amount, ok := parseAmount(c, req.Amount)
	if !ok {
		return
	}

	record, err := h.paymentService.CreatePayment(c.Request.Context(), req.UserID, req.OrderNo, req.Platform, amount)
	if err != nil {
		response.BizError(c, err)
		return
	}

	response.Success(c, gin.H{
		"payment_no":     record.PaymentNo,
		"order_no":       record.OrderNo,
		"amount":         record.Amount,
		"platform":       record.Platform,
		"status":         record.Status,
		"gateway_params": record.GatewayParams,
		"expired_at":     record.ExpiredAt,
	})
}

// QueryPayment 查询支付单
// GET /api/v1/payment/detail?payment_no=xxx
func (h *Handler) QueryPayment(c *gin.Context) {
	paymentNo := c.Query("payment_no")
	if paymentNo == "" {
		response.ParamError(c, "payment_no 参数不能为空")
		return
	}

	record, err := h.paymentService.QueryPayment(c.Request.Context(), paymentNo)
	if err != nil {
		response.BizError(c, err)
		return
	}

	response.Success(c, record)
}

// PaymentNotify 渠道异步回调
// POST /api/v1/payment/notify/:platform
//
// 【关键点】应答体必须是渠道要求的原文（如 "success"），
// 不能套统一 JSON 信封，否则渠道判定通知失败会一直重试。
func (h *Handler) PaymentNotify(c *gin.Context) {
	platform := c.Param("platform")

	params := make(map[string]string)
	if err := c.Request.ParseForm(); err == nil {
		for key, values := range c.Request.Form {
			if len(values) > 0 {
				params[key] = values[0]
			}
		}
	}

	ack, err := h.paymentService.HandlePaymentCallback(c.Request.Context(), platform, params)
	if err != nil && ack == "" {
		c.String(400, "invalid platform")
		return
	}

	c.String(200, ack)
}

// ============================================================
// 退款相关接口
// ============================================================

// CreateRefundRequest 发起退款单请求
type CreateRefundRequest struct {
	OrderNo string `json:"order_no" binding:"required"`
	Reason  string `json:"reason"`
}

// CreateRefund 发起退款单
// POST /api/v1/refund/create
func (h *Handler) CreateRefund(c *gin.Context) {
	var req CreateRefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	record, err := h.refundService.CreateRefund(c.Request.Context(), req.OrderNo, req.Reason)
	if err != nil {
		response.BizError(c, err)
		return
	}

	response.Success(c, gin.H{
		"refund_no": record.RefundNo,
		"order_no":  record.OrderNo,
		"amount":    record.Amount,
		"status":    record.Status,
	})
}

// ProcessRefundRequest 执行退款请求
type ProcessRefundRequest struct {
	RefundNo string `json:"refund_no" binding:"required"`
}

// ProcessRefund 执行退款
// POST /api/v1/refund/process
func (h *Handler) ProcessRefund(c *gin.Context) {
	var req ProcessRefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	if err := h.refundService.ProcessRefund(c.Request.Context(), req.RefundNo); err != nil {
		response.BizError(c, err)
		return
	}

	response.Success(c, gin.H{"message": "退款已完成"})
}

// QueryRefund 查询退款单
// GET /api/v1/refund/detail?refund_no=xxx
func (h *Handler) QueryRefund(c *gin.Context) {
	refundNo := c.Query("refund_no")
	if refundNo == "" {
		response.ParamError(c, "refund_no 参数不能为空")
		return
	}

	record, err := h.refundService.GetRefund(c.Request.Context(), refundNo)
	if err != nil {
		response.BizError(c, err)
		return
	}

	response.Success(c, record)
}
