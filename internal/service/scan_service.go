package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/boletapp/scan-engine/internal/credit"
	"github.com/boletapp/scan-engine/internal/domain"
	"github.com/boletapp/scan-engine/internal/observability"
	"go.uber.org/zap"
)

// ScanService owns the batch session registry and orchestrates the full
// pipeline: submit, process, cancel, review, commit, summarize. Each batch
// runs on its own goroutine; within a batch everything is strictly
// sequential.
type ScanService struct {
	processor    *Processor
	reconciler   *Reconciler
	credits      credit.Ledger
	maxBatchSize int
	logger       *zap.Logger
	metrics      *observability.Metrics

	mu       sync.RWMutex
	sessions map[string]*BatchSession
}

func NewScanService(processor *Processor, reconciler *Reconciler, credits credit.Ledger, maxBatchSize int, logger *zap.Logger) (*ScanService, error) {
	if processor == nil {
		return nil, fmt.Errorf("processor is required")
	}
	if reconciler == nil {
		return nil, fmt.Errorf("reconciler is required")
	}
	if maxBatchSize < 1 || maxBatchSize > domain.MaxBatchSize {
		maxBatchSize = domain.MaxBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ScanService{
		processor:    processor,
		reconciler:   reconciler,
		credits:      credits,
		maxBatchSize: maxBatchSize,
		logger:       logger,
		sessions:     make(map[string]*BatchSession),
	}, nil
}

func (s *ScanService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
	s.processor.SetMetrics(metrics)
	s.reconciler.SetMetrics(metrics)
}

// Submit validates the upload, seeds a batch of pending units, and starts
// processing on a dedicated goroutine. Validation failures reject the
// whole submission before any unit is created.
func (s *ScanService) Submit(ctx context.Context, userID string, images []domain.BatchImage) (*BatchSession, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", domain.ErrValidation)
	}
	if len(images) > s.maxBatchSize {
		return nil, fmt.Errorf("%w: batch size exceeds %d (got %d)", domain.ErrValidation, s.maxBatchSize, len(images))
	}

	if s.credits != nil {
		balance, err := s.credits.Balance(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("credit balance check failed: %w", err)
		}
		if balance <= 0 {
			return nil, credit.ErrInsufficientCredits
		}
	}

	batch, err := domain.NewBatch(userID, images)
	if err != nil {
		return nil, err
	}

	session := newBatchSession(batch)

	s.mu.Lock()
	s.sessions[batch.ID] = session
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.IncBatchSubmitted()
	}
	s.logger.Info("batch submitted",
		zap.String("batchId", batch.ID),
		zap.Int("units", len(batch.Units)),
	)

	// The run is deliberately detached from the request context: the UI
	// polls for progress while processing continues. Per-call timeouts
	// still bound every analysis call.
	go s.run(observability.WithBatchID(context.Background(), batch.ID), session)

	return session, nil
}

func (s *ScanService) run(ctx context.Context, session *BatchSession) {
	result, err := s.processor.Run(ctx, session.batch, session.canceller, session.appendProgress)
	if err != nil {
		observability.WithContextLogger(s.logger, ctx).Error("batch run aborted", zap.Error(err))
	}
	session.finishRun(result, err)
}

// Session returns the batch session, enforcing owner isolation: a batch is
// only observable by the user that created it.
func (s *ScanService) Session(batchID, userID string) (*BatchSession, error) {
	s.mu.RLock()
	session, ok := s.sessions[batchID]
	s.mu.RUnlock()

	if !ok || session.UserID() != userID {
		return nil, fmt.Errorf("%w: batch %q", domain.ErrNotFound, batchID)
	}
	return session, nil
}

// Cancel signals advisory cancellation. Units already terminal are kept;
// the in-flight unit, if any, runs to completion before the sweep.
func (s *ScanService) Cancel(batchID, userID string) error {
	session, err := s.Session(batchID, userID)
	if err != nil {
		return err
	}

	session.canceller.Cancel()
	if s.metrics != nil {
		s.metrics.IncBatchCancelled()
	}
	s.logger.Info("batch cancellation requested", zap.String("batchId", batchID))
	return nil
}

// Decide records the user's review decision for one unit.
func (s *ScanService) Decide(batchID, userID string, index int, decision domain.Decision, edited *domain.Receipt) error {
	session, err := s.Session(batchID, userID)
	if err != nil {
		return err
	}

	session.mu.Lock()
	defer session.mu.Unlock()

	if session.phase == PhaseProcessing {
		return fmt.Errorf("%w: batch %q is still processing", domain.ErrValidation, batchID)
	}

	item, ok := session.reviewItem(index)
	if !ok {
		return fmt.Errorf("%w: no review item for unit %d", domain.ErrNotFound, index)
	}

	switch decision {
	case domain.DecisionApproved:
		return item.Approve()
	case domain.DecisionEdited:
		if edited == nil {
			return fmt.Errorf("%w: edited receipt payload is required", domain.ErrValidation)
		}
		return item.Edit(*edited)
	case domain.DecisionDiscarded:
		item.Discard()
		return nil
	}
	return fmt.Errorf("%w: decision %q is not applicable", domain.ErrValidation, decision)
}

// Commit persists approved and edited items and projects the batch
// summary. Repeating a commit only attempts items that have not been
// saved yet; the summary always covers everything saved so far. A commit
// with no save errors releases the session, so the batch is gone from the
// registry once the response is built. A partial commit keeps the session
// so the failed items can be retried.
func (s *ScanService) Commit(ctx context.Context, batchID, userID string) (*CommitResult, BatchSummary, error) {
	session, err := s.Session(batchID, userID)
	if err != nil {
		return nil, BatchSummary{}, err
	}

	result, summary, err := s.commitSession(ctx, session)
	if err != nil {
		return nil, BatchSummary{}, err
	}

	if len(result.SaveErrors) == 0 {
		s.mu.Lock()
		delete(s.sessions, batchID)
		s.mu.Unlock()
		s.logger.Info("batch session released after commit", zap.String("batchId", batchID))
	}
	return result, summary, nil
}

func (s *ScanService) commitSession(ctx context.Context, session *BatchSession) (*CommitResult, BatchSummary, error) {
	session.mu.Lock()
	defer session.mu.Unlock()

	if session.phase == PhaseProcessing {
		return nil, BatchSummary{}, fmt.Errorf("%w: batch %q is still processing", domain.ErrValidation, session.BatchID())
	}

	result, err := s.reconciler.Commit(ctx, session.batch, session.items)
	if err != nil {
		return nil, BatchSummary{}, err
	}

	session.saved = append(session.saved, result.Saved...)
	if len(result.SaveErrors) == 0 {
		session.phase = PhaseCommitted
	}

	summary := ProjectSummary(session.saved, session.batch.CountByStatus(domain.UnitFailed))
	return result, summary, nil
}

// Discard drops the session, e.g. when the user navigates away. Committed
// transactions are unaffected; they are owned by persistence.
func (s *ScanService) Discard(batchID, userID string) error {
	session, err := s.Session(batchID, userID)
	if err != nil {
		return err
	}

	session.canceller.Cancel()

	s.mu.Lock()
	delete(s.sessions, batchID)
	s.mu.Unlock()

	s.logger.Info("batch session discarded", zap.String("batchId", batchID))
	return nil
}
