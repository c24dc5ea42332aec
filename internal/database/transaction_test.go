package database

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/sakauchipilates-dotcom/ShapeNote-sub001/internal/models"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.TransactionRecord{}))
	return NewLedgerWithDB(db)
}

func testTransaction(id string, purchased time.Time) *models.PurchaseTransaction {
	return &models.PurchaseTransaction{
		ProductID:             "com.shapenote.premium.monthly",
		TransactionID:         id,
		OriginalTransactionID: "orig-1",
		PurchaseDate:          purchased,
		Environment:           "sandbox",
	}
}

func TestLedgerRecordTransactionIsIdempotent(t *testing.T) {
	ledger := newTestLedger(t)
	tx := testTransaction("txn-1", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))

	require.NoError(t, ledger.RecordTransaction("u1", tx))
	require.NoError(t, ledger.RecordTransaction("u1", tx))

	var count int64
	require.NoError(t, ledger.db.Model(&models.TransactionRecord{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestLedgerMarkAcknowledged(t *testing.T) {
	ledger := newTestLedger(t)
	tx := testTransaction("txn-2", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, ledger.RecordTransaction("u1", tx))

	ackedAt := time.Date(2024, 1, 1, 0, 1, 0, 0, time.UTC)
	require.NoError(t, ledger.MarkAcknowledged("txn-2", ackedAt))

	record, err := ledger.GetTransactionByID("txn-2")
	require.NoError(t, err)
	require.NotNil(t, record.AcknowledgedAt)
	assert.WithinDuration(t, ackedAt, *record.AcknowledgedAt, time.Second)
}

func TestLedgerLatestTransaction(t *testing.T) {
	ledger := newTestLedger(t)

	older := testTransaction("txn-3", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	newer := testTransaction("txn-4", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, ledger.RecordTransaction("u1", older))
	require.NoError(t, ledger.RecordTransaction("u1", newer))

	latest, err := ledger.LatestTransaction("u1")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "txn-4", latest.TransactionID)

	none, err := ledger.LatestTransaction("nobody")
	require.NoError(t, err)
	assert.Nil(t, none)
}
