package repository

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/boletapp/scan-engine/internal/domain"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// TransactionModel is the persistence model for the transactions table.
// Line items are stored denormalized as a JSON column: they are only ever
// read back as a whole with their transaction.
type TransactionModel struct {
	ID        string          `gorm:"type:uuid;primaryKey"`
	UserID    string          `gorm:"type:varchar(128);not null;index"`
	BatchID   string          `gorm:"type:uuid;not null"`
	Merchant  string          `gorm:"type:varchar(255);not null"`
	Date      string          `gorm:"type:varchar(10)"`
	Total     decimal.Decimal `gorm:"type:numeric(14,2);not null"`
	Category  string          `gorm:"type:varchar(64)"`
	Items     datatypes.JSON  `gorm:"type:jsonb"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (TransactionModel) TableName() string {
	return "transactions"
}

type itemRecord struct {
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity"`
	Category string          `json:"category,omitempty"`
}

func transactionModelFromDomain(t *domain.Transaction) (*TransactionModel, error) {
	if t == nil {
		return nil, nil
	}

	records := make([]itemRecord, len(t.Items))
	for i, item := range t.Items {
		records[i] = itemRecord{
			Name:     item.Name,
			Price:    item.Price,
			Quantity: item.Quantity,
			Category: item.Category,
		}
	}
	itemsJSON, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("failed to encode transaction items: %w", err)
	}

	return &TransactionModel{
		ID:        t.ID,
		UserID:    t.UserID,
		BatchID:   t.BatchID,
		Merchant:  t.Merchant,
		Date:      t.Date,
		Total:     t.Total,
		Category:  t.Category,
		Items:     datatypes.JSON(itemsJSON),
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}, nil
}

func transactionModelToDomain(m *TransactionModel) (*domain.Transaction, error) {
	if m == nil {
		return nil, nil
	}

	var records []itemRecord
	if len(m.Items) > 0 {
		if err := json.Unmarshal(m.Items, &records); err != nil {
			return nil, fmt.Errorf("failed to decode transaction items: %w", err)
		}
	}

	items := make([]domain.ReceiptItem, len(records))
	for i, record := range records {
		items[i] = domain.ReceiptItem{
			Name:     record.Name,
			Price:    record.Price,
			Quantity: record.Quantity,
			Category: record.Category,
		}
	}

	return &domain.Transaction{
		ID:        m.ID,
		UserID:    m.UserID,
		BatchID:   m.BatchID,
		Merchant:  m.Merchant,
		Date:      m.Date,
		Total:     m.Total,
		Category:  m.Category,
		Items:     items,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}, nil
}
