package bizerr

import (
	"errors"
	"fmt"
)

// Kind 业务错误分类
//
// 【设计思考】为什么用错误分类而不是直接抛字符串？
//
// 核心链路（下单/支付/退款/钱包）的每一种失败都必须让调用方能够区分：
//   - 参数错误 -> 用户可以改正后重试
//   - 资源不存在 -> 404 语义
//   - 状态冲突 -> 409 语义，通常被幂等逻辑吸收
//   - 余额不足 -> 业务专属 4xx
//   - 渠道错误 -> 对应记录落为 FAILED 终态
//
// 通过 errors.As 提取 *Error 后按 Kind 分发，避免用字符串匹配错误信息。
type Kind int

const (
	KindValidation          Kind = iota + 1 // 参数/金额校验失败
	KindNotFound                            // 订单/支付单/退款单/钱包不存在
	KindStateConflict                       // 非法状态流转、重复的活跃记录
	KindInsufficientBalance                 // 可用余额不足
	KindGateway                             // 第三方支付渠道失败
)

// Error 业务错误，携带分类和底层原因
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is 支持 errors.Is 按分类比较（哨兵错误见下方）
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// 各分类的哨兵错误，便于 errors.Is 判断
var (
	ErrValidation          = &Error{Kind: KindValidation}
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrStateConflict       = &Error{Kind: KindStateConflict}
	ErrInsufficientBalance = &Error{Kind: KindInsufficientBalance}
	ErrGateway             = &Error{Kind: KindGateway}
)

// KindOf 提取错误分类；非业务错误返回 0
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
