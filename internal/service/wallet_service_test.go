package service

import (
	"context"
	"testing"

	"rentalpay/internal/model"
	"rentalpay/pkg/bizerr"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustDecimal(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func walletRow(balance, frozen, status string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "user_id", "balance", "frozen_amount", "status"}).
		AddRow(1, 100, balance, frozen, status)
}

func TestConsume_Success(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	svc := NewWalletService(gormDB)

	mock.ExpectBegin()
	// 行锁读 -> 条件扣减 -> 一条流水，同一事务
	mock.ExpectQuery("SELECT (.+) FROM `wallets` (.+)FOR UPDATE").
		WillReturnRows(walletRow("500.00", "0.00", model.WalletStatusNormal))
	mock.ExpectExec("UPDATE `wallets` SET").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO `wallet_transactions`").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := svc.Consume(context.Background(), 100, decimal.RequireFromString("430.00"),
		"RO1", model.RelatedTypeOrder, "订单支付")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConsume_BalanceNotEnoughRollsBack(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	svc := NewWalletService(gormDB)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM `wallets` (.+)FOR UPDATE").
		WillReturnRows(walletRow("10.00", "0.00", model.WalletStatusNormal))
	// 余额检查在 WHERE 里，没命中行
	mock.ExpectExec("UPDATE `wallets` SET").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT (.+) FROM `wallets`").
		WillReturnRows(walletRow("10.00", "0.00", model.WalletStatusNormal))
	mock.ExpectRollback()

	err := svc.Consume(context.Background(), 100, decimal.RequireFromString("430.00"),
		"RO1", model.RelatedTypeOrder, "订单支付")
	require.Error(t, err)
	assert.Equal(t, bizerr.KindInsufficientBalance, bizerr.KindOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConsume_NonPositiveAmountRejected(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	svc := NewWalletService(gormDB)

	mock.ExpectBegin()
	mock.ExpectRollback()

	err := svc.Consume(context.Background(), 100, decimal.Zero, "RO1", model.RelatedTypeOrder, "订单支付")
	require.Error(t, err)
	assert.Equal(t, bizerr.KindValidation, bizerr.KindOf(err))
}

func TestRefund_Success(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	svc := NewWalletService(gormDB)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM `wallets` (.+)FOR UPDATE").
		WillReturnRows(walletRow("70.00", "0.00", model.WalletStatusNormal))
	mock.ExpectExec("UPDATE `wallets` SET").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO `wallet_transactions`").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := svc.Refund(context.Background(), 100, decimal.RequireFromString("430.00"),
		"RO1", model.RelatedTypeRefund, "订单退款")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReconcile(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	svc := NewWalletService(gormDB)

	mock.ExpectQuery("SELECT (.+) FROM `wallets`").
		WillReturnRows(walletRow("70.00", "0.00", model.WalletStatusNormal))
	// 流水求和与余额一致
	mock.ExpectQuery("SELECT COALESCE").
		WillReturnRows(sqlmock.NewRows([]string{"total"}).AddRow("70.00"))

	consistent, err := svc.Reconcile(context.Background(), 100)
	require.NoError(t, err)
	assert.True(t, consistent)
}

func TestReconcile_Mismatch(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	svc := NewWalletService(gormDB)

	mock.ExpectQuery("SELECT (.+) FROM `wallets`").
		WillReturnRows(walletRow("70.00", "0.00", model.WalletStatusNormal))
	mock.ExpectQuery("SELECT COALESCE").
		WillReturnRows(sqlmock.NewRows([]string{"total"}).AddRow("69.00"))

	consistent, err := svc.Reconcile(context.Background(), 100)
	require.NoError(t, err)
	assert.False(t, consistent)
}
