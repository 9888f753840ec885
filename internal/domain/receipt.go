package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ReceiptItem is a single extracted line item.
type ReceiptItem struct {
	Name     string
	Price    decimal.Decimal
	Quantity int
	Category string
}

// Receipt is the structured payload extracted from one receipt image by the
// vision provider. It is the minimum contract the pipeline relies on.
type Receipt struct {
	Merchant string
	Date     string
	Total    decimal.Decimal
	Category string
	Items    []ReceiptItem
}

func (r *Receipt) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: receipt is required", ErrValidation)
	}
	if strings.TrimSpace(r.Merchant) == "" {
		return fmt.Errorf("%w: merchant is required", ErrValidation)
	}
	if strings.TrimSpace(r.Date) != "" {
		if _, err := time.Parse("2006-01-02", strings.TrimSpace(r.Date)); err != nil {
			return fmt.Errorf("%w: date %q is not an ISO-8601 date", ErrValidation, r.Date)
		}
	}
	if r.Total.IsNegative() {
		return fmt.Errorf("%w: total must not be negative", ErrValidation)
	}
	for i, item := range r.Items {
		if strings.TrimSpace(item.Name) == "" {
			return fmt.Errorf("%w: item %d name is required", ErrValidation, i)
		}
		if item.Quantity < 0 {
			return fmt.Errorf("%w: item %d quantity must not be negative", ErrValidation, i)
		}
	}
	return nil
}

// Transaction is the durable record written through the persistence gateway
// once the user approves a review item. The pipeline holds no reference to
// it after a successful write.
type Transaction struct {
	ID        string
	UserID    string
	BatchID   string
	Merchant  string
	Date      string
	Total     decimal.Decimal
	Category  string
	Items     []ReceiptItem
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewTransaction builds a transaction from an extracted (or user-edited)
// receipt. The caller supplies identity fields; receipt content is copied.
func NewTransaction(id, userID, batchID string, receipt Receipt) Transaction {
	items := make([]ReceiptItem, len(receipt.Items))
	copy(items, receipt.Items)

	return Transaction{
		ID:       id,
		UserID:   userID,
		BatchID:  batchID,
		Merchant: receipt.Merchant,
		Date:     receipt.Date,
		Total:    receipt.Total,
		Category: receipt.Category,
		Items:    items,
	}
}

func (t *Transaction) Validate() error {
	if t == nil {
		return fmt.Errorf("%w: transaction is required", ErrValidation)
	}
	if strings.TrimSpace(t.UserID) == "" {
		return fmt.Errorf("%w: user id is required", ErrValidation)
	}
	if strings.TrimSpace(t.Merchant) == "" {
		return fmt.Errorf("%w: merchant is required", ErrValidation)
	}
	return nil
}
