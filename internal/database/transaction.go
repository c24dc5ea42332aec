package database

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/sakauchipilates-dotcom/ShapeNote-sub001/internal/models"
	"github.com/sakauchipilates-dotcom/ShapeNote-sub001/pkg/logging"
)

// Ledger 交易台账访问层
// 交易ID唯一，重复记录同一笔交易是幂等操作，
// 提供方重投递同一交易时不会产生第二行
type Ledger struct {
	db *gorm.DB
}

// NewLedger 创建台账实例（使用全局数据库连接）
func NewLedger() *Ledger {
	return &Ledger{db: DB}
}

// NewLedgerWithDB 使用指定连接创建台账实例（测试用）
func NewLedgerWithDB(db *gorm.DB) *Ledger {
	return &Ledger{db: db}
}

// RecordTransaction 记录一笔已验证的交易
// 按 transaction_id 去重，已存在时不修改原记录
func (l *Ledger) RecordTransaction(userID string, tx *models.PurchaseTransaction) error {
	record := models.TransactionRecord{
		UserID:                userID,
		TransactionID:         tx.TransactionID,
		OriginalTransactionID: tx.OriginalTransactionID,
		ProductID:             tx.ProductID,
		Environment:           tx.Environment,
		PurchasedAt:           tx.PurchaseDate,
		ExpiresAt:             tx.ExpiresDate,
	}

	// 使用 FirstOrCreate 避免重复
	result := l.db.Where("transaction_id = ?", tx.TransactionID).FirstOrCreate(&record)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		logging.Infof("Transaction already recorded - transaction_id: %s", tx.TransactionID)
	}
	return nil
}

// MarkAcknowledged 标记交易已向提供方确认
func (l *Ledger) MarkAcknowledged(transactionID string, at time.Time) error {
	return l.db.Model(&models.TransactionRecord{}).
		Where("transaction_id = ?", transactionID).
		Update("acknowledged_at", at).Error
}

// GetTransactionByID 按交易ID查询台账记录
func (l *Ledger) GetTransactionByID(transactionID string) (*models.TransactionRecord, error) {
	var record models.TransactionRecord
	err := l.db.Where("transaction_id = ?", transactionID).First(&record).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// LatestTransaction 获取用户最近一笔交易（用于恢复购买）
// 没有记录时返回 (nil, nil)
func (l *Ledger) LatestTransaction(userID string) (*models.TransactionRecord, error) {
	var record models.TransactionRecord
	err := l.db.Where("user_id = ?", userID).
		Order("purchased_at DESC").
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}
