package service

import (
	"context"
	"testing"
	"time"

	"rentalpay/internal/gateway"
	"rentalpay/internal/model"
	"rentalpay/pkg/bizerr"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGateway 测试用渠道实现
type fakeGateway struct {
	platform      string
	verifyOK      bool
	createResult  *gateway.CreateOrderResult
	createErr     error
	refundNo      string
	refundErr     error
	refundedItems []string
}

func (f *fakeGateway) Platform() string { return f.platform }

func (f *fakeGateway) CreateOrder(ctx context.Context, outTradeNo string, amount decimal.Decimal, description string) (*gateway.CreateOrderResult, error) {
	return f.createResult, f.createErr
}

func (f *fakeGateway) VerifySignature(params map[string]string) bool { return f.verifyOK }

func (f *fakeGateway) Refund(ctx context.Context, outTradeNo, outRefundNo string, amount decimal.Decimal) (string, error) {
	f.refundedItems = append(f.refundedItems, outRefundNo)
	return f.refundNo, f.refundErr
}

func (f *fakeGateway) SuccessAck() string { return "success" }
func (f *fakeGateway) FailAck() string    { return "failure" }

func newTestRegistry(gw *fakeGateway) *gateway.Registry {
	r := gateway.NewRegistry(nil)
	r.Register(gw)
	return r
}

func TestCreatePayment_AmountMismatchRejected(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	gw := &fakeGateway{platform: "ALIPAY"}
	svc := NewPaymentService(gormDB, nil, testConfig(), newTestRegistry(gw), NewWalletService(gormDB))

	mock.ExpectQuery("SELECT (.+) FROM `rental_orders`").
		WillReturnRows(orderRow("RO1", model.OrderStatusPending, model.PaymentStatusUnpaid, "430.00", time.Now().Add(48*time.Hour)))

	_, err := svc.CreatePayment(context.Background(), 100, "RO1", "ALIPAY", decimal.RequireFromString("429.99"))
	require.Error(t, err)
	assert.Equal(t, bizerr.KindValidation, bizerr.KindOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func pendingOrder(orderNo, totalPrice string) *model.RentalOrder {
	return &model.RentalOrder{
		OrderNo:       orderNo,
		UserID:        100,
		Status:        model.OrderStatusPending,
		PaymentStatus: model.PaymentStatusUnpaid,
		TotalPrice:    mustDecimal(totalPrice),
	}
}

func TestCreatePayment_WalletSuccess(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	svc := NewPaymentService(gormDB, nil, testConfig(), newTestRegistry(&fakeGateway{platform: "ALIPAY"}), NewWalletService(gormDB))

	// 无在途支付单
	mock.ExpectQuery("SELECT (.+) FROM `payment_records`").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	// 支付单先单独落库留痕
	mock.ExpectExec("INSERT INTO `payment_records`").
		WillReturnResult(sqlmock.NewResult(1, 1))

	// 扣款、支付单置 PAID、订单置 PAID、outbox 同一事务
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM `wallets` (.+)FOR UPDATE").
		WillReturnRows(walletRow("430.00", "0.00", model.WalletStatusNormal))
	mock.ExpectExec("UPDATE `wallets` SET").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO `wallet_transactions`").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE `payment_records` SET").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE `rental_orders` SET").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO `outbox_message`").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	record, err := svc.createPaymentLocked(context.Background(), pendingOrder("RO1", "430.00"), model.PaymentPlatformWallet)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentRecordStatusPaid, record.Status)
	assert.True(t, record.Amount.Equal(mustDecimal("430.00")))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreatePayment_WalletInsufficientMarksRecordFailed(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	svc := NewPaymentService(gormDB, nil, testConfig(), newTestRegistry(&fakeGateway{platform: "ALIPAY"}), NewWalletService(gormDB))

	mock.ExpectQuery("SELECT (.+) FROM `payment_records`").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectExec("INSERT INTO `payment_records`").
		WillReturnResult(sqlmock.NewResult(1, 1))

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM `wallets` (.+)FOR UPDATE").
		WillReturnRows(walletRow("10.00", "0.00", model.WalletStatusNormal))
	mock.ExpectExec("UPDATE `wallets` SET").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT (.+) FROM `wallets`").
		WillReturnRows(walletRow("10.00", "0.00", model.WalletStatusNormal))
	mock.ExpectRollback()
	// 扣款失败：事务整体回滚，支付单留痕并翻 FAILED，订单不动
	mock.ExpectExec("UPDATE `payment_records` SET").
		WillReturnResult(sqlmock.NewResult(0, 1))

	_, err := svc.createPaymentLocked(context.Background(), pendingOrder("RO1", "430.00"), model.PaymentPlatformWallet)
	require.Error(t, err)
	assert.Equal(t, bizerr.KindInsufficientBalance, bizerr.KindOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreatePayment_ExistingActiveReturnedUnchanged(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	svc := NewPaymentService(gormDB, nil, testConfig(), newTestRegistry(&fakeGateway{platform: "ALIPAY"}), NewWalletService(gormDB))

	// 在途支付单直接原样返回，不再落新单
	mock.ExpectQuery("SELECT (.+) FROM `payment_records`").
		WillReturnRows(paymentRow("PAY1", "RO1", model.PaymentRecordStatusPaying, "430.00"))

	record, err := svc.createPaymentLocked(context.Background(), pendingOrder("RO1", "430.00"), "ALIPAY")
	require.NoError(t, err)
	assert.Equal(t, "PAY1", record.PaymentNo)
	assert.Equal(t, model.PaymentRecordStatusPaying, record.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandlePaymentCallback_UnknownPlatform(t *testing.T) {
	gormDB, _ := setupMockDB(t)
	svc := NewPaymentService(gormDB, nil, testConfig(), newTestRegistry(&fakeGateway{platform: "ALIPAY"}), NewWalletService(gormDB))

	ack, err := svc.HandlePaymentCallback(context.Background(), "UNIONPAY", map[string]string{})
	require.Error(t, err)
	assert.Empty(t, ack)
}

func TestHandlePaymentCallback_BadSignature(t *testing.T) {
	gormDB, _ := setupMockDB(t)
	gw := &fakeGateway{platform: "ALIPAY", verifyOK: false}
	svc := NewPaymentService(gormDB, nil, testConfig(), newTestRegistry(gw), NewWalletService(gormDB))

	ack, err := svc.HandlePaymentCallback(context.Background(), "ALIPAY", map[string]string{
		"out_trade_no": "PAY1",
		"sign":         "forged",
	})
	require.Error(t, err)
	assert.Equal(t, "failure", ack)
	assert.Equal(t, bizerr.KindGateway, bizerr.KindOf(err))
}

func TestHandlePaymentCallback_NonSuccessStatusAbsorbed(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	gw := &fakeGateway{platform: "ALIPAY", verifyOK: true}
	svc := NewPaymentService(gormDB, nil, testConfig(), newTestRegistry(gw), NewWalletService(gormDB))

	// 非成功通知回成功应答但不动状态，不应有任何 SQL
	ack, err := svc.HandlePaymentCallback(context.Background(), "ALIPAY", map[string]string{
		"out_trade_no": "PAY1",
		"trade_status": "TRADE_CLOSED",
	})
	require.NoError(t, err)
	assert.Equal(t, "success", ack)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func paymentRow(paymentNo, orderNo, status, amount string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "payment_no", "order_no", "user_id", "amount", "platform", "status", "expired_at",
	}).AddRow(1, paymentNo, orderNo, 100, amount, model.PaymentPlatformAlipay, status, time.Now().Add(10*time.Minute))
}

func TestHandlePaymentCallback_AlreadyPaidIdempotent(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	gw := &fakeGateway{platform: "ALIPAY", verifyOK: true}
	svc := NewPaymentService(gormDB, nil, testConfig(), newTestRegistry(gw), NewWalletService(gormDB))

	mock.ExpectQuery("SELECT (.+) FROM `payment_records`").
		WillReturnRows(paymentRow("PAY1", "RO1", model.PaymentRecordStatusPaid, "430.00"))

	// 重放的回调：支付单已是 PAID，直接回成功应答
	ack, err := svc.HandlePaymentCallback(context.Background(), "ALIPAY", map[string]string{
		"out_trade_no": "PAY1",
		"trade_status": "TRADE_SUCCESS",
		"trade_no":     "T456",
	})
	require.NoError(t, err)
	assert.Equal(t, "success", ack)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandlePaymentCallback_LateSuccessOnFailedRecordAbsorbed(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	gw := &fakeGateway{platform: "ALIPAY", verifyOK: true}
	svc := NewPaymentService(gormDB, nil, testConfig(), newTestRegistry(gw), NewWalletService(gormDB))

	// 支付单已超时置 FAILED：回成功止住渠道重试，不推进状态（留痕人工核对）
	mock.ExpectQuery("SELECT (.+) FROM `payment_records`").
		WillReturnRows(paymentRow("PAY1", "RO1", model.PaymentRecordStatusFailed, "430.00"))

	ack, err := svc.HandlePaymentCallback(context.Background(), "ALIPAY", map[string]string{
		"out_trade_no": "PAY1",
		"trade_status": "TRADE_SUCCESS",
		"money":        "430.00",
	})
	require.NoError(t, err)
	assert.Equal(t, "success", ack)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandlePaymentCallback_AmountMismatch(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	gw := &fakeGateway{platform: "ALIPAY", verifyOK: true}
	svc := NewPaymentService(gormDB, nil, testConfig(), newTestRegistry(gw), NewWalletService(gormDB))

	mock.ExpectQuery("SELECT (.+) FROM `payment_records`").
		WillReturnRows(paymentRow("PAY1", "RO1", model.PaymentRecordStatusPaying, "430.00"))

	ack, err := svc.HandlePaymentCallback(context.Background(), "ALIPAY", map[string]string{
		"out_trade_no": "PAY1",
		"trade_status": "TRADE_SUCCESS",
		"money":        "0.01",
	})
	require.Error(t, err)
	assert.Equal(t, "failure", ack)
}

func TestHandlePaymentCallback_Success(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	gw := &fakeGateway{platform: "ALIPAY", verifyOK: true}
	svc := NewPaymentService(gormDB, nil, testConfig(), newTestRegistry(gw), NewWalletService(gormDB))

	mock.ExpectQuery("SELECT (.+) FROM `payment_records`").
		WillReturnRows(paymentRow("PAY1", "RO1", model.PaymentRecordStatusPaying, "430.00"))

	mock.ExpectBegin()
	// 支付单置 PAID、订单置 PAID、结果通知落 outbox，同一事务
	mock.ExpectExec("UPDATE `payment_records` SET").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE `rental_orders` SET").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO `outbox_message`").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	ack, err := svc.HandlePaymentCallback(context.Background(), "ALIPAY", map[string]string{
		"out_trade_no": "PAY1",
		"trade_status": "TRADE_SUCCESS",
		"trade_no":     "T456",
		"money":        "430.00",
	})
	require.NoError(t, err)
	assert.Equal(t, "success", ack)
	assert.NoError(t, mock.ExpectationsWereMet())
}
