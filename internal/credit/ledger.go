package credit

import (
	"context"
	"errors"
)

// ErrInsufficientCredits is returned when a user has no scan credits left.
var ErrInsufficientCredits = errors.New("insufficient scan credits")

// Ledger meters scan credits. One credit covers one whole batch and is
// charged at most once per batch, only after the batch's first transaction
// has been durably saved.
type Ledger interface {
	// Balance returns the user's current credit balance.
	Balance(ctx context.Context, userID string) (int64, error)

	// TopUp adds credits and returns the new balance.
	TopUp(ctx context.Context, userID string, amount int64) (int64, error)

	// ChargeBatch deducts one credit for the batch. It is idempotent per
	// batch: the first call charges and returns true, later calls are
	// no-ops returning false. Returns ErrInsufficientCredits when the
	// balance is empty and the batch has not been charged before.
	ChargeBatch(ctx context.Context, userID, batchID string) (bool, error)
}
