package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/boletapp/scan-engine/internal/domain"
)

// PersistenceKind classifies a gateway failure for the partial-save
// warning surfaced to the user.
type PersistenceKind string

const (
	PersistenceUnauthorized  PersistenceKind = "UNAUTHORIZED"
	PersistenceQuotaExceeded PersistenceKind = "QUOTA_EXCEEDED"
	PersistenceInvalid       PersistenceKind = "INVALID"
	PersistenceUnknown       PersistenceKind = "UNKNOWN"
)

func (k PersistenceKind) String() string { return string(k) }

// PersistenceError is a typed failure from the transaction store.
type PersistenceError struct {
	Kind    PersistenceKind
	Message string
	Cause   error
}

func (e *PersistenceError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 3)
	parts = append(parts, fmt.Sprintf("persistence error (%s)", e.Kind))

	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *PersistenceError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// ClassifyPersistenceError maps any gateway error to a PersistenceKind.
func ClassifyPersistenceError(err error) PersistenceKind {
	if err == nil {
		return ""
	}

	var persistenceErr *PersistenceError
	if errors.As(err, &persistenceErr) {
		return persistenceErr.Kind
	}
	if errors.Is(err, domain.ErrValidation) {
		return PersistenceInvalid
	}
	return PersistenceUnknown
}

// ListParams controls transaction listing for the insights consumer.
type ListParams struct {
	Category string
	Page     int
	PageSize int
}

// TransactionGateway is the durable transaction store port. Save must only
// be called for items the user explicitly approved or edited.
type TransactionGateway interface {
	Save(ctx context.Context, tx *domain.Transaction) (string, error)
	GetByID(ctx context.Context, userID, id string) (*domain.Transaction, error)
	ListByUser(ctx context.Context, userID string, params ListParams) ([]domain.Transaction, int64, error)
	Delete(ctx context.Context, userID, id string) error
}
