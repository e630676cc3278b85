package job

import (
	"context"
	"testing"
	"time"

	"rentalpay/internal/config"
	"rentalpay/internal/inventory"
	"rentalpay/internal/model"
	"rentalpay/internal/service"
	"rentalpay/pkg/idgen"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

func init() {
	idgen.Init(1)
}

func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      db,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)
	return gormDB, mock
}

func jobConfig() *config.Config {
	return &config.Config{
		Business: config.BusinessConfig{
			PaymentExpireMinutes:   15,
			PaymentTimeoutScanMin:  5,
			DepositRefundScanHours: 24,
			DepositHoldDays:        30,
			OrderNoMaxRetry:        10,
			MaxRetryCount:          3,
		},
	}
}

func dueOrderRows(orderNo string, completedAt time.Time) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "order_no", "user_id", "resource_id", "status",
		"violation_deposit", "violation_deposit_status", "completed_at",
	}).AddRow(1, orderNo, 100, 7, model.OrderStatusCompleted,
		"500.00", model.DepositStatusPaid, completedAt)
}

func TestRefundDueDeposits(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	cfg := jobConfig()
	orderSvc := service.NewOrderService(gormDB, cfg, inventory.NewService(gormDB), service.NewWalletService(gormDB))
	j := NewDepositAutoRefundJob(gormDB, cfg, orderSvc)

	completedAt := time.Now().AddDate(0, 0, -31)

	// 扫出一个完成 31 天、违章押金一直没退的订单
	mock.ExpectQuery("SELECT (.+) FROM `rental_orders`").
		WillReturnRows(dueOrderRows("RO1", completedAt))

	// 退押金走服务层：读订单 -> 押金流转 + 钱包入账同一事务
	mock.ExpectQuery("SELECT (.+) FROM `rental_orders`").
		WillReturnRows(dueOrderRows("RO1", completedAt))
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE `rental_orders` SET").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT (.+) FROM `wallets` (.+)FOR UPDATE").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "balance", "frozen_amount", "status"}).
			AddRow(1, 100, "70.00", "0.00", model.WalletStatusNormal))
	mock.ExpectExec("UPDATE `wallets` SET").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO `wallet_transactions`").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	j.refundDueDeposits(context.Background())

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRefundDueDeposits_NothingDue(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	cfg := jobConfig()
	orderSvc := service.NewOrderService(gormDB, cfg, inventory.NewService(gormDB), service.NewWalletService(gormDB))
	j := NewDepositAutoRefundJob(gormDB, cfg, orderSvc)

	mock.ExpectQuery("SELECT (.+) FROM `rental_orders`").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	j.refundDueDeposits(context.Background())

	assert.NoError(t, mock.ExpectationsWereMet())
}
