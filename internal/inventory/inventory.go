package inventory

import (
	"context"
	"errors"
	"time"

	"rentalpay/internal/model"
	"rentalpay/pkg/bizerr"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ============================================================================
// 资源/库存协作方
// ============================================================================
//
// 车辆、旅行团批次、营位的管理属于外围 CRUD，不在结算核心内。
// 订单域只通过下面的窄接口与之协作，测试时注入假实现。
// ============================================================================

// RateCard 资源价目卡：日租金 + 押金配置（可为空，下单时推导默认值）
type RateCard struct {
	DailyPrice       decimal.Decimal
	VehicleDeposit   *decimal.Decimal
	ViolationDeposit *decimal.Decimal
}

// Service 资源协作方契约
type Service interface {
	// IsAvailable 资源在给定档期 [start, end) 是否可租
	IsAvailable(ctx context.Context, resourceID int64, start, end time.Time) (bool, error)

	// GetRateCard 读取资源价目卡
	GetRateCard(ctx context.Context, resourceID int64) (*RateCard, error)

	// Reserve / Release 订单流转时的占用/释放钩子
	Reserve(ctx context.Context, resourceID int64) error
	Release(ctx context.Context, resourceID int64) error
}

// gormService 基于 resources 表的默认实现
type gormService struct {
	db *gorm.DB
}

func NewService(db *gorm.DB) Service {
	return &gormService{db: db}
}

func (s *gormService) IsAvailable(ctx context.Context, resourceID int64, start, end time.Time) (bool, error) {
	var res model.Resource
	err := s.db.WithContext(ctx).Where("id = ?", resourceID).First(&res).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, bizerr.New(bizerr.KindNotFound, "资源不存在")
		}
		return false, err
	}
	if !res.Active {
		return false, nil
	}
	if !end.After(start) {
		return false, bizerr.New(bizerr.KindValidation, "档期区间不合法")
	}
	return true, nil
}

func (s *gormService) GetRateCard(ctx context.Context, resourceID int64) (*RateCard, error) {
	var res model.Resource
	err := s.db.WithContext(ctx).Where("id = ?", resourceID).First(&res).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, bizerr.New(bizerr.KindNotFound, "资源不存在")
		}
		return nil, err
	}
	return &RateCard{
		DailyPrice:       res.DailyPrice,
		VehicleDeposit:   res.VehicleDeposit,
		ViolationDeposit: res.ViolationDeposit,
	}, nil
}

// Reserve 档期占用由订单侧的日期重叠检查保证，
// 这里的钩子留给需要物理占用标记的资源实现
func (s *gormService) Reserve(ctx context.Context, resourceID int64) error {
	return nil
}

func (s *gormService) Release(ctx context.Context, resourceID int64) error {
	return nil
}
