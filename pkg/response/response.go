package response

import (
	"errors"
	"net/http"

	"rentalpay/pkg/bizerr"

	"github.com/gin-gonic/gin"
)

const (
	CodeSuccess     = 0
	CodeParamError  = 400
	CodeNotFound    = 404
	CodeConflict    = 409
	CodeServerError = 500
)

const (
	CodeOrderNotFound       = 1001
	CodeInvalidTransition   = 1002
	CodeBalanceNotEnough    = 1003
	CodeDuplicateRequest    = 1004
	CodeWalletNotFound      = 1005
	CodePaymentFailed       = 1006
	CodeRefundFailed        = 1007
	CodeGatewayError        = 1008
	CodeResourceUnavailable = 1009
)

type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

func Error(c *gin.Context, code int, message string) {
	c.JSON(http.StatusOK, Response{
		Code:    code,
		Message: message,
	})
}

func ParamError(c *gin.Context, message string) {
	Error(c, CodeParamError, message)
}

func ServerError(c *gin.Context, message string) {
	Error(c, CodeServerError, message)
}

// BizError 按业务错误分类映射响应码
func BizError(c *gin.Context, err error) {
	var e *bizerr.Error
	if !errors.As(err, &e) {
		ServerError(c, err.Error())
		return
	}

	switch e.Kind {
	case bizerr.KindValidation:
		Error(c, CodeParamError, e.Message)
	case bizerr.KindNotFound:
		Error(c, CodeNotFound, e.Message)
	case bizerr.KindStateConflict:
		Error(c, CodeConflict, e.Message)
	case bizerr.KindInsufficientBalance:
		Error(c, CodeBalanceNotEnough, e.Message)
	case bizerr.KindGateway:
		Error(c, CodeGatewayError, e.Message)
	default:
		ServerError(c, e.Message)
	}
}
