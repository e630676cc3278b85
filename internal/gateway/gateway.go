package gateway

import (
	"context"
	"strings"

	"rentalpay/internal/config"

	"github.com/shopspring/decimal"
)

// ============================================================================
// 第三方支付渠道适配层
// ============================================================================
//
// 结算核心只依赖下面这个三方法契约，渠道内部协议（签名、报文格式、
// 应答体）全部被隔离在实现里。新增渠道只需要实现 PaymentGateway
// 并在配置里启用，核心代码不动。
// ============================================================================

// CreateOrderResult 渠道下单结果
type CreateOrderResult struct {
	ThirdPartyOrderNo string            // 渠道受理单号
	ClientParams      map[string]string // 返回给客户端发起支付的参数
}

// PaymentGateway 渠道契约：下单、验签、退款
type PaymentGateway interface {
	Platform() string

	// CreateOrder 渠道下单，outTradeNo 为我方支付单号
	CreateOrder(ctx context.Context, outTradeNo string, amount decimal.Decimal, description string) (*CreateOrderResult, error)

	// VerifySignature 校验异步回调参数的签名
	VerifySignature(params map[string]string) bool

	// Refund 渠道退款，返回渠道退款单号
	Refund(ctx context.Context, outTradeNo, outRefundNo string, amount decimal.Decimal) (string, error)

	// SuccessAck / FailAck 回调应答体原文，必须按渠道要求原样返回
	SuccessAck() string
	FailAck() string
}

// Registry 按平台标识索引的渠道注册表
type Registry struct {
	gateways map[string]PaymentGateway
}

// NewRegistry 从配置构建注册表，只注册启用的渠道
func NewRegistry(cfgs map[string]config.GatewayConfig) *Registry {
	r := &Registry{gateways: make(map[string]PaymentGateway)}
	for name, cfg := range cfgs {
		if !cfg.Enabled {
			continue
		}
		r.Register(newEpayGateway(strings.ToUpper(name), cfg))
	}
	return r
}

// Register 注册渠道实现（测试时注入假渠道也走这里）
func (r *Registry) Register(g PaymentGateway) {
	r.gateways[strings.ToUpper(g.Platform())] = g
}

// Get 按平台取渠道，未启用的平台返回 false
func (r *Registry) Get(platform string) (PaymentGateway, bool) {
	g, ok := r.gateways[strings.ToUpper(platform)]
	return g, ok
}
