package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/boletapp/scan-engine/internal/domain"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

var _ TransactionGateway = (*GormTransactionRepo)(nil)

// GormTransactionRepo is the gorm-backed transaction store.
type GormTransactionRepo struct {
	db *gorm.DB
}

func NewGormTransactionRepo(db *gorm.DB) *GormTransactionRepo {
	return &GormTransactionRepo{db: db}
}

func (r *GormTransactionRepo) Save(ctx context.Context, tx *domain.Transaction) (string, error) {
	if err := tx.Validate(); err != nil {
		return "", &PersistenceError{
			Kind:    PersistenceInvalid,
			Message: "transaction rejected before write",
			Cause:   err,
		}
	}

	if strings.TrimSpace(tx.ID) == "" {
		tx.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = now
	}
	tx.UpdatedAt = now

	model, err := transactionModelFromDomain(tx)
	if err != nil {
		return "", &PersistenceError{
			Kind:    PersistenceInvalid,
			Message: "transaction could not be encoded",
			Cause:   err,
		}
	}

	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return "", mapGormError(err)
	}

	return model.ID, nil
}

func (r *GormTransactionRepo) GetByID(ctx context.Context, userID, id string) (*domain.Transaction, error) {
	var model TransactionModel
	err := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: transaction %q", domain.ErrNotFound, id)
		}
		return nil, mapGormError(err)
	}

	return transactionModelToDomain(&model)
}

func (r *GormTransactionRepo) ListByUser(ctx context.Context, userID string, params ListParams) ([]domain.Transaction, int64, error) {
	page := params.Page
	if page < 1 {
		page = 1
	}
	pageSize := params.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	query := r.db.WithContext(ctx).Model(&TransactionModel{}).Where("user_id = ?", userID)
	if strings.TrimSpace(params.Category) != "" {
		query = query.Where("category = ?", strings.TrimSpace(params.Category))
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, mapGormError(err)
	}

	var models []TransactionModel
	err := query.
		Order("date DESC, created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		return nil, 0, mapGormError(err)
	}

	transactions := make([]domain.Transaction, 0, len(models))
	for i := range models {
		tx, err := transactionModelToDomain(&models[i])
		if err != nil {
			return nil, 0, err
		}
		transactions = append(transactions, *tx)
	}

	return transactions, total, nil
}

func (r *GormTransactionRepo) Delete(ctx context.Context, userID, id string) error {
	result := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Delete(&TransactionModel{})
	if result.Error != nil {
		return mapGormError(result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: transaction %q", domain.ErrNotFound, id)
	}
	return nil
}

// mapGormError folds database failures into the gateway error taxonomy.
func mapGormError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, gorm.ErrInvalidData), errors.Is(err, gorm.ErrDuplicatedKey):
		return &PersistenceError{Kind: PersistenceInvalid, Message: "write rejected by store", Cause: err}
	case errors.Is(err, gorm.ErrInvalidTransaction):
		return &PersistenceError{Kind: PersistenceUnknown, Message: "store transaction failed", Cause: err}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission denied"):
		return &PersistenceError{Kind: PersistenceUnauthorized, Message: "store denied the write", Cause: err}
	case strings.Contains(msg, "disk full"), strings.Contains(msg, "quota"):
		return &PersistenceError{Kind: PersistenceQuotaExceeded, Message: "store quota exhausted", Cause: err}
	case strings.Contains(msg, "duplicate key"), strings.Contains(msg, "unique constraint"),
		strings.Contains(msg, "check constraint"), strings.Contains(msg, "not-null constraint"):
		return &PersistenceError{Kind: PersistenceInvalid, Message: "write rejected by store", Cause: err}
	}

	return &PersistenceError{Kind: PersistenceUnknown, Message: "store write failed", Cause: err}
}
