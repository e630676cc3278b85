package service

import (
	"context"
	"testing"
	"time"

	"rentalpay/internal/config"
	"rentalpay/internal/inventory"
	"rentalpay/internal/model"
	"rentalpay/pkg/bizerr"
	"rentalpay/pkg/idgen"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
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

func testConfig() *config.Config {
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

// fakeInventory 测试用库存实现
type fakeInventory struct {
	available bool
	rateCard  *inventory.RateCard
	reserved  []int64
	released  []int64
}

func (f *fakeInventory) IsAvailable(ctx context.Context, resourceID int64, start, end time.Time) (bool, error) {
	return f.available, nil
}

func (f *fakeInventory) GetRateCard(ctx context.Context, resourceID int64) (*inventory.RateCard, error) {
	return f.rateCard, nil
}

func (f *fakeInventory) Reserve(ctx context.Context, resourceID int64) error {
	f.reserved = append(f.reserved, resourceID)
	return nil
}

func (f *fakeInventory) Release(ctx context.Context, resourceID int64) error {
	f.released = append(f.released, resourceID)
	return nil
}

// fakeRefundCreator 记录取消后发起的退款
type fakeRefundCreator struct {
	orderNos []string
	err      error
}

func (f *fakeRefundCreator) CreateRefund(ctx context.Context, orderNo, reason string) (*model.RefundRecord, error) {
	f.orderNos = append(f.orderNos, orderNo)
	return &model.RefundRecord{RefundNo: "REF-test", OrderNo: orderNo}, f.err
}

func TestCreateOrder_PricingAndDepositDefaults(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	inv := &fakeInventory{
		available: true,
		rateCard:  &inventory.RateCard{DailyPrice: decimal.RequireFromString("100.00")},
	}
	svc := NewOrderService(gormDB, testConfig(), inv, NewWalletService(gormDB))

	// 档期重叠检查
	mock.ExpectQuery("SELECT count").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	// 订单号唯一性检查
	mock.ExpectQuery("SELECT count").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec("INSERT INTO `rental_orders`").
		WillReturnResult(sqlmock.NewResult(1, 1))

	start := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	order, err := svc.CreateOrder(context.Background(), &CreateOrderRequest{
		UserID:         100,
		ResourceID:     7,
		ResourceType:   model.ResourceTypeVehicle,
		StartDate:      start,
		EndDate:        start.AddDate(0, 0, 4),
		InsurancePrice: decimal.RequireFromString("20.00"),
		AddonPrice:     decimal.RequireFromString("10.00"),
	})
	require.NoError(t, err)

	// 4 天 × 100 + 保险 20 + 附加 10
	assert.True(t, order.BasePrice.Equal(decimal.RequireFromString("400.00")))
	assert.True(t, order.TotalPrice.Equal(decimal.RequireFromString("430.00")))
	// 价目卡未配置押金时按日租金推导：车辆押金 10 天、违章押金 5 天
	assert.True(t, order.VehicleDeposit.Equal(decimal.RequireFromString("1000.00")))
	assert.True(t, order.ViolationDeposit.Equal(decimal.RequireFromString("500.00")))
	assert.True(t, order.TotalDeposit.Equal(decimal.RequireFromString("1500.00")))
	assert.Equal(t, model.OrderStatusPending, order.Status)
	assert.Equal(t, model.DepositStatusUnpaid, order.VehicleDepositStatus)

	// 下单成功后资源被占用
	assert.Equal(t, []int64{7}, inv.reserved)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateOrder_ExplicitDepositsFromRateCard(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	vehicleDeposit := decimal.RequireFromString("3000.00")
	violationDeposit := decimal.RequireFromString("2000.00")
	inv := &fakeInventory{
		available: true,
		rateCard: &inventory.RateCard{
			DailyPrice:       decimal.RequireFromString("100.00"),
			VehicleDeposit:   &vehicleDeposit,
			ViolationDeposit: &violationDeposit,
		},
	}
	svc := NewOrderService(gormDB, testConfig(), inv, NewWalletService(gormDB))

	mock.ExpectQuery("SELECT count").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery("SELECT count").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec("INSERT INTO `rental_orders`").
		WillReturnResult(sqlmock.NewResult(1, 1))

	start := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	order, err := svc.CreateOrder(context.Background(), &CreateOrderRequest{
		UserID:       100,
		ResourceID:   7,
		ResourceType: model.ResourceTypeVehicle,
		StartDate:    start,
		EndDate:      start.AddDate(0, 0, 2),
	})
	require.NoError(t, err)

	assert.True(t, order.VehicleDeposit.Equal(vehicleDeposit))
	assert.True(t, order.ViolationDeposit.Equal(violationDeposit))
}

func TestCreateOrder_DateOverlapRejected(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	inv := &fakeInventory{
		available: true,
		rateCard:  &inventory.RateCard{DailyPrice: decimal.RequireFromString("100.00")},
	}
	svc := NewOrderService(gormDB, testConfig(), inv, NewWalletService(gormDB))

	mock.ExpectQuery("SELECT count").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	start := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	_, err := svc.CreateOrder(context.Background(), &CreateOrderRequest{
		UserID:       100,
		ResourceID:   7,
		ResourceType: model.ResourceTypeVehicle,
		StartDate:    start,
		EndDate:      start.AddDate(0, 0, 4),
	})
	require.Error(t, err)
	assert.Equal(t, bizerr.KindStateConflict, bizerr.KindOf(err))
	assert.Empty(t, inv.reserved)
}

func TestCreateOrder_InvalidDateRange(t *testing.T) {
	gormDB, _ := setupMockDB(t)
	inv := &fakeInventory{available: true}
	svc := NewOrderService(gormDB, testConfig(), inv, NewWalletService(gormDB))

	start := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	_, err := svc.CreateOrder(context.Background(), &CreateOrderRequest{
		UserID:       100,
		ResourceID:   7,
		ResourceType: model.ResourceTypeVehicle,
		StartDate:    start,
		EndDate:      start, // 空区间
	})
	require.Error(t, err)
	assert.Equal(t, bizerr.KindValidation, bizerr.KindOf(err))
}

func orderRow(orderNo, status, paymentStatus string, totalPrice string, startDate time.Time) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "order_no", "user_id", "resource_id", "status", "payment_status", "total_price", "start_date",
	}).AddRow(1, orderNo, 100, 7, status, paymentStatus, totalPrice, startDate)
}

func TestCancel_PaidOrderTriggersRefund(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	inv := &fakeInventory{available: true}
	svc := NewOrderService(gormDB, testConfig(), inv, NewWalletService(gormDB))
	refunds := &fakeRefundCreator{}
	svc.SetRefundCreator(refunds)

	startDate := time.Now().Add(48 * time.Hour)
	mock.ExpectQuery("SELECT (.+) FROM `rental_orders`").
		WillReturnRows(orderRow("RO1", model.OrderStatusPaid, model.PaymentStatusPaid, "430.00", startDate))

	mock.ExpectBegin()
	// 订单取消 + 在途支付单落败，同一事务
	mock.ExpectExec("UPDATE `rental_orders` SET").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE `payment_records` SET").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := svc.Cancel(context.Background(), "RO1", "行程有变")
	require.NoError(t, err)

	// 资源释放 + 退款单发起
	assert.Equal(t, []int64{7}, inv.released)
	assert.Equal(t, []string{"RO1"}, refunds.orderNos)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCancel_RefundCreationFailureDoesNotFailCancel(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	inv := &fakeInventory{available: true}
	svc := NewOrderService(gormDB, testConfig(), inv, NewWalletService(gormDB))
	refunds := &fakeRefundCreator{err: bizerr.New(bizerr.KindStateConflict, "已有在途退款单")}
	svc.SetRefundCreator(refunds)

	mock.ExpectQuery("SELECT (.+) FROM `rental_orders`").
		WillReturnRows(orderRow("RO1", model.OrderStatusPaid, model.PaymentStatusPaid, "430.00", time.Now().Add(time.Hour)))

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE `rental_orders` SET").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE `payment_records` SET").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	// 退款单创建失败只记日志，取消本身成功
	err := svc.Cancel(context.Background(), "RO1", "行程有变")
	assert.NoError(t, err)
	assert.Equal(t, []string{"RO1"}, refunds.orderNos)
}

func TestCancel_CompletedOrderRejected(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	inv := &fakeInventory{available: true}
	svc := NewOrderService(gormDB, testConfig(), inv, NewWalletService(gormDB))

	mock.ExpectQuery("SELECT (.+) FROM `rental_orders`").
		WillReturnRows(orderRow("RO1", model.OrderStatusCompleted, model.PaymentStatusPaid, "430.00", time.Now()))

	err := svc.Cancel(context.Background(), "RO1", "行程有变")
	require.Error(t, err)
	assert.Equal(t, bizerr.KindStateConflict, bizerr.KindOf(err))
	assert.Empty(t, inv.released)
}
