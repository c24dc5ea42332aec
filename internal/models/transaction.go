package models

import (
	"time"

	"gorm.io/gorm"
)

// BaseModel provides common fields for all database models
type BaseModel struct {
	ID        uint           `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"deleted_at" gorm:"index"`
}

// PurchaseTransaction 一次已验证的购买交易
// 仅存在于单次购买流程期间，不会原样持久化，
// 只会投影为 EntitlementState 写入用户文档
type PurchaseTransaction struct {
	ProductID             string
	TransactionID         string
	OriginalTransactionID string

	// 购买时间，来自签名交易记录
	PurchaseDate time.Time

	// 提供方声明的订阅过期时间，非续订商品为空。
	// 为空时提交阶段按固定账期推算过期时间
	ExpiresDate *time.Time

	// 环境：sandbox 或 production
	Environment string
}

// TransactionRecord 交易台账
// 记录每笔已验证并提交的交易，交易ID唯一，
// 用于提交去重（提供方重投递时安全重放）和恢复购买
type TransactionRecord struct {
	BaseModel

	UserID string `json:"user_id" gorm:"not null;size:128;index"`

	// 交易标识
	TransactionID         string `json:"transaction_id" gorm:"not null;size:100;uniqueIndex"`
	OriginalTransactionID string `json:"original_transaction_id" gorm:"size:100;index"`

	// 产品信息
	ProductID string `json:"product_id" gorm:"size:100"`

	// 环境
	Environment string `json:"environment" gorm:"size:20"`

	// 时间
	PurchasedAt time.Time  `json:"purchased_at"`
	ExpiresAt   *time.Time `json:"expires_at"`

	// 向提供方确认的时间，未确认为空
	AcknowledgedAt *time.Time `json:"acknowledged_at"`
}

// TableName 指定表名
func (TransactionRecord) TableName() string {
	return "transaction_records"
}
