package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Resource 可租赁资源表（车辆/旅行团批次/营位）
// 订单域只通过 inventory 包的窄接口访问它，不直接依赖表结构
type Resource struct {
	ID         int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	Name       string          `gorm:"type:varchar(128);not null" json:"name"`
	Type       string          `gorm:"type:varchar(16);index;not null" json:"type"`
	DailyPrice decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"daily_price"`
	// 押金配置，NULL 表示未配置，下单时按日租金推导默认值
	VehicleDeposit   *decimal.Decimal `gorm:"type:decimal(10,2)" json:"vehicle_deposit"`
	ViolationDeposit *decimal.Decimal `gorm:"type:decimal(10,2)" json:"violation_deposit"`
	Active           bool             `gorm:"not null;default:true" json:"active"`
	CreatedAt        time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Resource) TableName() string {
	return "resources"
}
