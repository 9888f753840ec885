package service

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/boletapp/scan-engine/internal/analysis"
	"github.com/boletapp/scan-engine/internal/domain"
	"github.com/boletapp/scan-engine/internal/observability"
	"go.uber.org/zap"
)

const defaultAnalyzeTimeout = 30 * time.Second

// Canceller is the advisory cancellation token for one batch run. It is
// checked only at unit boundaries; an analysis call already in flight
// always runs to completion.
type Canceller struct {
	cancelled atomic.Bool
}

func NewCanceller() *Canceller { return &Canceller{} }

func (c *Canceller) Cancel() {
	if c == nil {
		return
	}
	c.cancelled.Store(true)
}

func (c *Canceller) Cancelled() bool {
	if c == nil {
		return false
	}
	return c.cancelled.Load()
}

// ProgressEvent is emitted on every unit state transition. Transitions for
// one unit are contiguous and units advance in strictly increasing index
// order, so the event stream is a complete ordered log of the run.
type ProgressEvent struct {
	Index           int
	Total           int
	Status          domain.UnitStatus
	MerchantPreview string
	ErrorSummary    string
}

// ProgressFunc receives ordered progress events. Callbacks run on the
// processor's goroutine and must not block.
type ProgressFunc func(event ProgressEvent)

// BatchRunResult is the outcome of draining one batch.
type BatchRunResult struct {
	// Completed holds every unit that reached SUCCEEDED or FAILED, in
	// original index order.
	Completed []*domain.BatchUnit
	Cancelled bool
}

// Processor drives a batch queue to completion or cancellation, strictly
// one unit in flight at a time. Sequential processing bounds external
// vision load to one concurrent call, keeps progress reporting monotonic,
// and makes per-batch credit accounting race-free.
type Processor struct {
	analyzer       analysis.Analyzer
	analyzeTimeout time.Duration
	logger         *zap.Logger
	metrics        *observability.Metrics
	now            func() time.Time
}

func NewProcessor(analyzer analysis.Analyzer, analyzeTimeout time.Duration, logger *zap.Logger) (*Processor, error) {
	if analyzer == nil {
		return nil, fmt.Errorf("analyzer is required")
	}
	if analyzeTimeout <= 0 {
		analyzeTimeout = defaultAnalyzeTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Processor{
		analyzer:       analyzer,
		analyzeTimeout: analyzeTimeout,
		logger:         logger,
		now:            time.Now,
	}, nil
}

func (p *Processor) SetMetrics(metrics *observability.Metrics) {
	if p == nil {
		return
	}
	p.metrics = metrics
}

// Run processes units in ascending index order until the queue drains or
// the canceller fires. A unit failure never aborts the batch; the unit is
// marked failed and processing continues. On cancellation every remaining
// pending unit is cancelled in one sweep and Run returns with whatever
// completed. The returned error is reserved for state-machine violations,
// which are bugs in the caller, never expected runtime conditions.
func (p *Processor) Run(ctx context.Context, batch *domain.Batch, canceller *Canceller, onProgress ProgressFunc) (*BatchRunResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if batch == nil {
		return nil, fmt.Errorf("%w: batch is required", domain.ErrValidation)
	}

	logger := observability.WithContextLogger(p.logger, observability.WithBatchID(ctx, batch.ID))
	total := len(batch.Units)
	cancelled := false

	for {
		if canceller.Cancelled() || ctx.Err() != nil {
			if indices := batch.CancelPending(); len(indices) > 0 {
				logger.Info("batch cancelled, pending units abandoned",
					zap.Int("cancelledUnits", len(indices)),
				)
				for _, index := range indices {
					emitProgress(onProgress, ProgressEvent{
						Index:  index,
						Total:  total,
						Status: domain.UnitCancelled,
					})
				}
			}
			cancelled = true
			break
		}

		unit := batch.NextPending()
		if unit == nil {
			break
		}

		if err := batch.MarkProcessing(unit.Index); err != nil {
			return nil, err
		}
		emitProgress(onProgress, unitProgress(unit, total))

		receipt, analyzeErr := p.analyzeUnit(ctx, unit)

		if analyzeErr == nil {
			if err := batch.MarkSucceeded(unit.Index, receipt); err != nil {
				return nil, err
			}
			if p.metrics != nil {
				p.metrics.IncUnitSucceeded()
			}
			emitProgress(onProgress, unitProgress(unit, total))
			continue
		}

		kind := analysis.ClassifyError(analyzeErr)
		if err := batch.MarkFailed(unit.Index, &domain.UnitError{
			Kind:    kind.String(),
			Message: analyzeErr.Error(),
		}); err != nil {
			return nil, err
		}
		if p.metrics != nil {
			p.metrics.IncUnitFailed(strings.ToLower(kind.String()))
		}
		logger.Warn("unit analysis failed",
			zap.Int("unitIndex", unit.Index),
			zap.String("errorKind", kind.String()),
			zap.Error(analyzeErr),
		)
		emitProgress(onProgress, unitProgress(unit, total))
	}

	completed := make([]*domain.BatchUnit, 0, total)
	for i := range batch.Units {
		if status := batch.Units[i].Status; status == domain.UnitSucceeded || status == domain.UnitFailed {
			completed = append(completed, &batch.Units[i])
		}
	}

	logger.Info("batch run finished",
		zap.Int("total", total),
		zap.Int("completed", len(completed)),
		zap.Bool("cancelled", cancelled),
	)

	return &BatchRunResult{Completed: completed, Cancelled: cancelled}, nil
}

func (p *Processor) analyzeUnit(ctx context.Context, unit *domain.BatchUnit) (*domain.Receipt, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.analyzeTimeout)
	defer cancel()

	start := p.now()
	receipt, err := p.analyzer.Analyze(callCtx, domain.BatchImage{
		Data:     unit.SourceImage,
		MimeType: unit.MimeType,
	})
	if p.metrics != nil {
		p.metrics.ObserveAnalysisDuration(p.now().Sub(start))
	}

	return receipt, err
}

func unitProgress(unit *domain.BatchUnit, total int) ProgressEvent {
	event := ProgressEvent{
		Index:  unit.Index,
		Total:  total,
		Status: unit.Status,
	}
	if unit.Result != nil {
		event.MerchantPreview = unit.Result.Merchant
	}
	if unit.Err != nil {
		event.ErrorSummary = unit.Err.Error()
	}
	return event
}

func emitProgress(onProgress ProgressFunc, event ProgressEvent) {
	if onProgress == nil {
		return
	}
	onProgress(event)
}
