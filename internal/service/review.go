package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/boletapp/scan-engine/internal/credit"
	"github.com/boletapp/scan-engine/internal/domain"
	"github.com/boletapp/scan-engine/internal/observability"
	"github.com/boletapp/scan-engine/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// BuildReviewItems wraps every terminal non-cancelled unit in an undecided
// review item, preserving original index order. Cancelled units were never
// attempted and are never shown for review.
func BuildReviewItems(batch *domain.Batch) []*domain.ReviewItem {
	if batch == nil {
		return nil
	}

	items := make([]*domain.ReviewItem, 0, len(batch.Units))
	for i := range batch.Units {
		unit := &batch.Units[i]
		if unit.Status != domain.UnitSucceeded && unit.Status != domain.UnitFailed {
			continue
		}
		items = append(items, &domain.ReviewItem{
			Unit:     unit,
			Decision: domain.DecisionUndecided,
		})
	}
	return items
}

// SaveError pairs a review item with the persistence failure it hit.
type SaveError struct {
	Item *domain.ReviewItem
	Err  error
}

// CommitResult reports the outcome of committing a batch's review items.
type CommitResult struct {
	Saved      []domain.Transaction
	SaveErrors []SaveError
}

// Reconciler applies user review decisions and commits approved items
// through the persistence gateway.
type Reconciler struct {
	gateway repository.TransactionGateway
	credits credit.Ledger
	logger  *zap.Logger
	metrics *observability.Metrics
	newID   func() string
}

func NewReconciler(gateway repository.TransactionGateway, credits credit.Ledger, logger *zap.Logger) (*Reconciler, error) {
	if gateway == nil {
		return nil, fmt.Errorf("transaction gateway is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Reconciler{
		gateway: gateway,
		credits: credits,
		logger:  logger,
		newID:   uuid.NewString,
	}, nil
}

func (r *Reconciler) SetMetrics(metrics *observability.Metrics) {
	if r == nil {
		return
	}
	r.metrics = metrics
}

// Commit writes one transaction per approved or edited item. Writes are
// attempted independently: one failure never blocks the rest. Items whose
// write already succeeded in an earlier call are skipped, so the gateway
// is invoked at most once per item. The batch's single credit is charged
// only after its first durable save.
func (r *Reconciler) Commit(ctx context.Context, batch *domain.Batch, items []*domain.ReviewItem) (*CommitResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if batch == nil {
		return nil, fmt.Errorf("%w: batch is required", domain.ErrValidation)
	}

	logger := observability.WithContextLogger(r.logger, observability.WithBatchID(ctx, batch.ID))
	result := &CommitResult{}

	for _, item := range items {
		if item == nil {
			continue
		}
		if item.Decision != domain.DecisionApproved && item.Decision != domain.DecisionEdited {
			continue
		}
		if item.CommittedID != "" {
			continue
		}

		receipt, err := item.ReceiptForCommit()
		if err != nil {
			return nil, err
		}

		tx := domain.NewTransaction(r.newID(), batch.UserID, batch.ID, *receipt)
		savedID, err := r.gateway.Save(ctx, &tx)
		if err != nil {
			kind := repository.ClassifyPersistenceError(err)
			logger.Warn("transaction save failed",
				zap.Int("unitIndex", item.Unit.Index),
				zap.String("errorKind", kind.String()),
				zap.Error(err),
			)
			if r.metrics != nil {
				r.metrics.IncCommitFailed(kind.String())
			}
			result.SaveErrors = append(result.SaveErrors, SaveError{Item: item, Err: err})
			continue
		}

		tx.ID = savedID
		item.CommittedID = savedID
		result.Saved = append(result.Saved, tx)
		if r.metrics != nil {
			r.metrics.IncCommitSaved()
		}

		if len(result.Saved) == 1 {
			r.chargeBatchCredit(ctx, logger, batch)
		}
	}

	return result, nil
}

// chargeBatchCredit deducts the batch's single credit. The ledger is
// idempotent per batch, so a repeated commit never double-charges. A
// charge failure is logged, never propagated: the transaction is already
// durable and the user must not lose it over a metering hiccup.
func (r *Reconciler) chargeBatchCredit(ctx context.Context, logger *zap.Logger, batch *domain.Batch) {
	if r.credits == nil {
		return
	}

	charged, err := r.credits.ChargeBatch(ctx, batch.UserID, batch.ID)
	if err != nil {
		if errors.Is(err, credit.ErrInsufficientCredits) {
			logger.Warn("credit balance empty at charge time", zap.String("userId", batch.UserID))
			return
		}
		logger.Error("credit charge failed", zap.Error(err))
		return
	}
	if charged && r.metrics != nil {
		r.metrics.IncCreditCharged()
	}
}
