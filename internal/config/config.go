package config

import (
	"log"

	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server   ServerConfig             `mapstructure:"server"`
	MySQL    MySQLConfig              `mapstructure:"mysql"`
	Redis    RedisConfig              `mapstructure:"redis"`
	Kafka    KafkaConfig              `mapstructure:"kafka"`
	Gateways map[string]GatewayConfig `mapstructure:"gateways"`
	Business BusinessConfig           `mapstructure:"business"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	PaymentResult string `mapstructure:"payment_result"`
	RefundResult  string `mapstructure:"refund_result"`
}

// GatewayConfig 第三方支付渠道配置，key 为平台标识（alipay/wechat）
type GatewayConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	MerchantID string `mapstructure:"merchant_id"`
	Secret     string `mapstructure:"secret"`      // 签名密钥
	GatewayURL string `mapstructure:"gateway_url"` // 渠道下单/退款地址
	NotifyURL  string `mapstructure:"notify_url"`  // 异步回调地址
	SuccessAck string `mapstructure:"success_ack"` // 回调成功应答体（渠道要求的原文）
	FailAck    string `mapstructure:"fail_ack"`    // 回调失败应答体
}

type BusinessConfig struct {
	PaymentExpireMinutes    int `mapstructure:"payment_expire_minutes"`     // 支付单有效期，默认 15 分钟
	PaymentTimeoutScanMin   int `mapstructure:"payment_timeout_scan_min"`   // 超时取消任务间隔，默认 5 分钟
	DepositRefundScanHours  int `mapstructure:"deposit_refund_scan_hours"`  // 押金自动退还任务间隔，默认 24 小时
	DepositHoldDays         int `mapstructure:"deposit_hold_days"`          // 违章押金滞留天数，默认 30 天
	OrderNoMaxRetry         int `mapstructure:"order_no_max_retry"`         // 订单号生成重试上限
	MaxRetryCount           int `mapstructure:"max_retry_count"`            // outbox 消息最大重试次数
}

var GlobalConfig *Config

// LoadConfig 加载配置文件
func LoadConfig(configPath string) *Config {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		log.Fatalf("读取配置文件失败: %v", err)
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		log.Fatalf("解析配置文件失败: %v", err)
	}

	applyDefaults(config)
	GlobalConfig = config
	return config
}

func applyDefaults(c *Config) {
	if c.Business.PaymentExpireMinutes <= 0 {
		c.Business.PaymentExpireMinutes = 15
	}
	if c.Business.PaymentTimeoutScanMin <= 0 {
		c.Business.PaymentTimeoutScanMin = 5
	}
	if c.Business.DepositRefundScanHours <= 0 {
		c.Business.DepositRefundScanHours = 24
	}
	if c.Business.DepositHoldDays <= 0 {
		c.Business.DepositHoldDays = 30
	}
	if c.Business.OrderNoMaxRetry <= 0 {
		c.Business.OrderNoMaxRetry = 10
	}
	if c.Business.MaxRetryCount <= 0 {
		c.Business.MaxRetryCount = 3
	}
}
