package service

import (
	"context"
	"testing"

	"rentalpay/internal/model"
	"rentalpay/pkg/bizerr"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cancelledOrderRow(orderNo, refundAmount string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "order_no", "user_id", "status", "payment_status", "total_price", "refund_amount",
	}).AddRow(1, orderNo, 100, model.OrderStatusCancelled, model.PaymentStatusPaid, "430.00", refundAmount)
}

func TestCreateRefund_UsesOrderRefundAmount(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	svc := NewRefundService(gormDB, nil, testConfig(), newTestRegistry(&fakeGateway{platform: "ALIPAY"}), NewWalletService(gormDB))

	mock.ExpectQuery("SELECT (.+) FROM `rental_orders`").
		WillReturnRows(cancelledOrderRow("RO1", "387.00"))
	mock.ExpectQuery("SELECT (.+) FROM `payment_records`").
		WillReturnRows(paymentRow("PAY1", "RO1", model.PaymentRecordStatusPaid, "430.00"))
	// 无在途退款单
	mock.ExpectQuery("SELECT (.+) FROM `refund_records`").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectExec("INSERT INTO `refund_records`").
		WillReturnResult(sqlmock.NewResult(1, 1))

	record, err := svc.CreateRefund(context.Background(), "RO1", "行程有变")
	require.NoError(t, err)

	// 退款金额优先取订单上取消时算好的应退金额
	assert.True(t, record.Amount.Equal(mustDecimal("387.00")))
	assert.Equal(t, model.RefundStatusPending, record.Status)
	assert.Equal(t, "PAY1", record.PaymentNo)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRefund_FullAmountWhenOrderHasNone(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	svc := NewRefundService(gormDB, nil, testConfig(), newTestRegistry(&fakeGateway{platform: "ALIPAY"}), NewWalletService(gormDB))

	mock.ExpectQuery("SELECT (.+) FROM `rental_orders`").
		WillReturnRows(cancelledOrderRow("RO1", "0.00"))
	mock.ExpectQuery("SELECT (.+) FROM `payment_records`").
		WillReturnRows(paymentRow("PAY1", "RO1", model.PaymentRecordStatusPaid, "430.00"))
	mock.ExpectQuery("SELECT (.+) FROM `refund_records`").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectExec("INSERT INTO `refund_records`").
		WillReturnResult(sqlmock.NewResult(1, 1))

	record, err := svc.CreateRefund(context.Background(), "RO1", "行程有变")
	require.NoError(t, err)
	assert.True(t, record.Amount.Equal(mustDecimal("430.00")))
}

func TestCreateRefund_ActiveRefundRejected(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	svc := NewRefundService(gormDB, nil, testConfig(), newTestRegistry(&fakeGateway{platform: "ALIPAY"}), NewWalletService(gormDB))

	mock.ExpectQuery("SELECT (.+) FROM `rental_orders`").
		WillReturnRows(cancelledOrderRow("RO1", "387.00"))
	mock.ExpectQuery("SELECT (.+) FROM `payment_records`").
		WillReturnRows(paymentRow("PAY1", "RO1", model.PaymentRecordStatusPaid, "430.00"))
	mock.ExpectQuery("SELECT (.+) FROM `refund_records`").
		WillReturnRows(sqlmock.NewRows([]string{"id", "refund_no", "order_no", "status"}).
			AddRow(1, "REF1", "RO1", model.RefundStatusProcessing))

	_, err := svc.CreateRefund(context.Background(), "RO1", "行程有变")
	require.Error(t, err)
	assert.Equal(t, bizerr.KindStateConflict, bizerr.KindOf(err))
}

func TestCreateRefund_UncancelledOrderRejected(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	svc := NewRefundService(gormDB, nil, testConfig(), newTestRegistry(&fakeGateway{platform: "ALIPAY"}), NewWalletService(gormDB))

	mock.ExpectQuery("SELECT (.+) FROM `rental_orders`").
		WillReturnRows(sqlmock.NewRows([]string{"id", "order_no", "user_id", "status", "payment_status"}).
			AddRow(1, "RO1", 100, model.OrderStatusPaid, model.PaymentStatusPaid))

	_, err := svc.CreateRefund(context.Background(), "RO1", "行程有变")
	require.Error(t, err)
	assert.Equal(t, bizerr.KindStateConflict, bizerr.KindOf(err))
}

func refundRecordRow(refundNo, paymentNo, status, amount string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "refund_no", "order_no", "payment_no", "user_id", "amount", "status",
	}).AddRow(1, refundNo, "RO1", paymentNo, 100, amount, status)
}

func TestProcessRefund_WalletPath(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	svc := NewRefundService(gormDB, nil, testConfig(), newTestRegistry(&fakeGateway{platform: "ALIPAY"}), NewWalletService(gormDB))

	record := &model.RefundRecord{
		RefundNo:  "REF1",
		OrderNo:   "RO1",
		PaymentNo: "PAY1",
		UserID:    100,
		Amount:    mustDecimal("387.00"),
		Status:    model.RefundStatusPending,
	}

	// PENDING -> PROCESSING 占坑
	mock.ExpectExec("UPDATE `refund_records` SET").
		WillReturnResult(sqlmock.NewResult(0, 1))
	// 原支付走的钱包
	mock.ExpectQuery("SELECT (.+) FROM `payment_records`").
		WillReturnRows(sqlmock.NewRows([]string{"id", "payment_no", "order_no", "platform", "status", "amount"}).
			AddRow(1, "PAY1", "RO1", model.PaymentPlatformWallet, model.PaymentRecordStatusPaid, "430.00"))

	mock.ExpectBegin()
	// 钱包入账
	mock.ExpectQuery("SELECT (.+) FROM `wallets` (.+)FOR UPDATE").
		WillReturnRows(walletRow("70.00", "0.00", model.WalletStatusNormal))
	mock.ExpectExec("UPDATE `wallets` SET").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO `wallet_transactions`").
		WillReturnResult(sqlmock.NewResult(1, 1))
	// 退款单、支付单、订单三方状态翻转
	mock.ExpectExec("UPDATE `refund_records` SET").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE `payment_records` SET").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE `rental_orders` SET").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO `outbox_message`").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := svc.processRefundLocked(context.Background(), record)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessRefund_WalletCreditFailureMarksFailed(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	svc := NewRefundService(gormDB, nil, testConfig(), newTestRegistry(&fakeGateway{platform: "ALIPAY"}), NewWalletService(gormDB))

	record := &model.RefundRecord{
		RefundNo:  "REF1",
		OrderNo:   "RO1",
		PaymentNo: "PAY1",
		UserID:    100,
		Amount:    mustDecimal("387.00"),
		Status:    model.RefundStatusPending,
	}

	mock.ExpectExec("UPDATE `refund_records` SET").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT (.+) FROM `payment_records`").
		WillReturnRows(sqlmock.NewRows([]string{"id", "payment_no", "order_no", "platform", "status", "amount"}).
			AddRow(1, "PAY1", "RO1", model.PaymentPlatformWallet, model.PaymentRecordStatusPaid, "430.00"))

	// 入账事务中途失败整体回滚
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM `wallets` (.+)FOR UPDATE").
		WillReturnError(assert.AnError)
	mock.ExpectRollback()
	// 退款单翻 FAILED 留待重试，不能卡在 PROCESSING
	mock.ExpectExec("UPDATE `refund_records` SET").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := svc.processRefundLocked(context.Background(), record)
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessRefund_ReentersProcessingRecord(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	svc := NewRefundService(gormDB, nil, testConfig(), newTestRegistry(&fakeGateway{platform: "ALIPAY"}), NewWalletService(gormDB))

	// 上一次执行在占坑后中断，单子停在 PROCESSING
	record := &model.RefundRecord{
		RefundNo:  "REF1",
		OrderNo:   "RO1",
		PaymentNo: "PAY1",
		UserID:    100,
		Amount:    mustDecimal("387.00"),
		Status:    model.RefundStatusProcessing,
	}

	// 不再占坑，直接派发补落库
	mock.ExpectQuery("SELECT (.+) FROM `payment_records`").
		WillReturnRows(sqlmock.NewRows([]string{"id", "payment_no", "order_no", "platform", "status", "amount"}).
			AddRow(1, "PAY1", "RO1", model.PaymentPlatformWallet, model.PaymentRecordStatusPaid, "430.00"))

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM `wallets` (.+)FOR UPDATE").
		WillReturnRows(walletRow("70.00", "0.00", model.WalletStatusNormal))
	mock.ExpectExec("UPDATE `wallets` SET").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO `wallet_transactions`").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE `refund_records` SET").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE `payment_records` SET").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE `rental_orders` SET").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO `outbox_message`").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := svc.processRefundLocked(context.Background(), record)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessRefund_GatewayFailureMarksFailed(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	gw := &fakeGateway{platform: "ALIPAY", refundErr: assert.AnError}
	svc := NewRefundService(gormDB, nil, testConfig(), newTestRegistry(gw), NewWalletService(gormDB))

	record := &model.RefundRecord{
		RefundNo:  "REF1",
		OrderNo:   "RO1",
		PaymentNo: "PAY1",
		UserID:    100,
		Amount:    mustDecimal("387.00"),
		Status:    model.RefundStatusPending,
	}

	mock.ExpectExec("UPDATE `refund_records` SET").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT (.+) FROM `payment_records`").
		WillReturnRows(paymentRow("PAY1", "RO1", model.PaymentRecordStatusPaid, "430.00"))
	// 渠道报错：退款单落 FAILED 留待重试
	mock.ExpectExec("UPDATE `refund_records` SET").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := svc.processRefundLocked(context.Background(), record)
	require.Error(t, err)
	assert.Equal(t, bizerr.KindGateway, bizerr.KindOf(err))
	assert.Equal(t, []string{"REF1"}, gw.refundedItems)
	assert.NoError(t, mock.ExpectationsWereMet())
}
