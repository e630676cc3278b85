package gateway

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"rentalpay/internal/config"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// epayGateway 易支付风格的聚合渠道实现
//
// 协议：表单 POST + MD5 签名。签名方式为业内通用做法：
// 参数按 key 升序排列拼接成 k1=v1&k2=v2...，末尾追加商户密钥后取
// MD5 十六进制小写。sign 和空值参数不参与签名。
// 两个平台（支付宝/微信）走同一套报文，只是商户号、密钥和应答体不同。
type epayGateway struct {
	platform string
	cfg      config.GatewayConfig
	client   *http.Client
}

func newEpayGateway(platform string, cfg config.GatewayConfig) *epayGateway {
	return &epayGateway{
		platform: platform,
		cfg:      cfg,
		// 渠道调用必须有超时兜底，失败落 FAILED 终态而不是挂起
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (g *epayGateway) Platform() string {
	return g.platform
}

func (g *epayGateway) SuccessAck() string {
	return g.cfg.SuccessAck
}

func (g *epayGateway) FailAck() string {
	return g.cfg.FailAck
}

// Sign 计算参数签名
func Sign(params map[string]string, secret string) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if k == "sign" || v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(params[k])
	}
	sb.WriteString(secret)

	sum := md5.Sum([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}

func (g *epayGateway) VerifySignature(params map[string]string) bool {
	sign, ok := params["sign"]
	if !ok || sign == "" {
		return false
	}
	return Sign(params, g.cfg.Secret) == sign
}

type epayResponse struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	TradeNo  string `json:"trade_no"`
	PayURL   string `json:"pay_url"`
	RefundNo string `json:"refund_no"`
}

func (g *epayGateway) CreateOrder(ctx context.Context, outTradeNo string, amount decimal.Decimal, description string) (*CreateOrderResult, error) {
	params := map[string]string{
		"merchant_id":  g.cfg.MerchantID,
		"out_trade_no": outTradeNo,
		"amount":       amount.StringFixed(2),
		"description":  description,
		"notify_url":   g.cfg.NotifyURL,
		"nonce":        uuid.NewString(),
	}
	params["sign"] = Sign(params, g.cfg.Secret)

	resp, err := g.post(ctx, g.cfg.GatewayURL+"/create", params)
	if err != nil {
		return nil, err
	}
	if resp.Code != 0 {
		return nil, fmt.Errorf("渠道下单被拒绝: code=%d, message=%s", resp.Code, resp.Message)
	}

	return &CreateOrderResult{
		ThirdPartyOrderNo: resp.TradeNo,
		ClientParams: map[string]string{
			"pay_url":      resp.PayURL,
			"out_trade_no": outTradeNo,
			"trade_no":     resp.TradeNo,
			"amount":       amount.StringFixed(2),
		},
	}, nil
}

func (g *epayGateway) Refund(ctx context.Context, outTradeNo, outRefundNo string, amount decimal.Decimal) (string, error) {
	params := map[string]string{
		"merchant_id":   g.cfg.MerchantID,
		"out_trade_no":  outTradeNo,
		"out_refund_no": outRefundNo,
		"amount":        amount.StringFixed(2),
		"nonce":         uuid.NewString(),
	}
	params["sign"] = Sign(params, g.cfg.Secret)

	resp, err := g.post(ctx, g.cfg.GatewayURL+"/refund", params)
	if err != nil {
		return "", err
	}
	if resp.Code != 0 {
		return "", fmt.Errorf("渠道退款被拒绝: code=%d, message=%s", resp.Code, resp.Message)
	}

	return resp.RefundNo, nil
}

func (g *epayGateway) post(ctx context.Context, endpoint string, params map[string]string) (*epayResponse, error) {
	form := url.Values{}
	for k, v := range params {
		form.Set(k, v)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	httpResp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("请求渠道失败: %w", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取渠道响应失败: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("渠道返回异常状态: status=%d, body=%s", httpResp.StatusCode, body)
	}

	var resp epayResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("解析渠道响应失败: %w", err)
	}
	return &resp, nil
}
