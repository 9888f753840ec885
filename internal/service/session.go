package service

import (
	"sync"

	"github.com/boletapp/scan-engine/internal/domain"
)

// BatchPhase tracks where a batch session is in its lifecycle.
type BatchPhase string

const (
	PhaseProcessing BatchPhase = "PROCESSING"
	PhaseReview     BatchPhase = "REVIEW"
	PhaseCommitted  BatchPhase = "COMMITTED"
)

func (p BatchPhase) String() string { return string(p) }

// BatchSession is the in-memory state for one batch. While the run is
// active the batch itself is owned by the processor goroutine; concurrent
// readers are served from the unit projections, which are only updated
// from progress events under the mutex. Once finishRun has executed the
// batch is quiescent and safe to read under the same mutex.
type BatchSession struct {
	mu sync.Mutex

	batch     *domain.Batch
	canceller *Canceller
	phase     BatchPhase
	units     []UnitView
	progress  []ProgressEvent
	items     []*domain.ReviewItem
	cancelled bool
	saved     []domain.Transaction
	runErr    error

	done chan struct{}
}

func newBatchSession(batch *domain.Batch) *BatchSession {
	units := make([]UnitView, len(batch.Units))
	for i := range batch.Units {
		units[i] = UnitView{Index: batch.Units[i].Index, Status: batch.Units[i].Status}
	}
	return &BatchSession{
		batch:     batch,
		canceller: NewCanceller(),
		phase:     PhaseProcessing,
		units:     units,
		done:      make(chan struct{}),
	}
}

// BatchID returns the session's batch identifier.
func (s *BatchSession) BatchID() string {
	return s.batch.ID
}

// UserID returns the owning user.
func (s *BatchSession) UserID() string {
	return s.batch.UserID
}

// Done is closed once processing finishes (drain or cancellation).
func (s *BatchSession) Done() <-chan struct{} {
	return s.done
}

func (s *BatchSession) appendProgress(event ProgressEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.progress = append(s.progress, event)
	if event.Index >= 0 && event.Index < len(s.units) {
		s.units[event.Index] = UnitView{
			Index:           event.Index,
			Status:          event.Status,
			MerchantPreview: event.MerchantPreview,
			ErrorSummary:    event.ErrorSummary,
		}
	}
}

func (s *BatchSession) finishRun(result *BatchRunResult, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runErr = err
	if result != nil {
		s.cancelled = result.Cancelled
	}
	// The processor is done with the batch; reconcile the projections from
	// the final unit states and release the image payloads, which are only
	// needed for analysis.
	for i := range s.batch.Units {
		unit := &s.batch.Units[i]
		unit.SourceImage = nil
		view := UnitView{Index: unit.Index, Status: unit.Status}
		if unit.Result != nil {
			view.MerchantPreview = unit.Result.Merchant
		}
		if unit.Err != nil {
			view.ErrorSummary = unit.Err.Error()
		}
		s.units[i] = view
	}
	s.items = BuildReviewItems(s.batch)
	s.phase = PhaseReview
	close(s.done)
}

// UnitView is a read-only projection of one unit for the progress surface.
type UnitView struct {
	Index           int
	Status          domain.UnitStatus
	MerchantPreview string
	ErrorSummary    string
}

// Snapshot is a consistent read of the session for the UI.
type Snapshot struct {
	BatchID   string
	Phase     BatchPhase
	Total     int
	Processed int
	Cancelled bool
	Units     []UnitView
	Progress  []ProgressEvent
}

// Snapshot copies the session's observable state under the lock.
func (s *BatchSession) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	units := make([]UnitView, len(s.units))
	copy(units, s.units)
	processed := 0
	for _, view := range units {
		if view.Status == domain.UnitSucceeded || view.Status == domain.UnitFailed {
			processed++
		}
	}

	progress := make([]ProgressEvent, len(s.progress))
	copy(progress, s.progress)

	return Snapshot{
		BatchID:   s.batch.ID,
		Phase:     s.phase,
		Total:     len(units),
		Processed: processed,
		Cancelled: s.cancelled,
		Units:     units,
		Progress:  progress,
	}
}

// ReviewItemView is a read-only projection of one review item.
type ReviewItemView struct {
	Index        int
	Status       domain.UnitStatus
	Decision     domain.Decision
	Receipt      *domain.Receipt
	ErrorKind    string
	ErrorSummary string
	CommittedID  string
}

// ReviewItems returns the review surface, in original index order. Empty
// until processing finishes.
func (s *BatchSession) ReviewItems() []ReviewItemView {
	s.mu.Lock()
	defer s.mu.Unlock()

	views := make([]ReviewItemView, 0, len(s.items))
	for _, item := range s.items {
		view := ReviewItemView{
			Index:       item.Unit.Index,
			Status:      item.Unit.Status,
			Decision:    item.Decision,
			CommittedID: item.CommittedID,
		}
		switch {
		case item.EditedReceipt != nil:
			view.Receipt = item.EditedReceipt
		case item.Unit.Result != nil:
			view.Receipt = item.Unit.Result
		}
		if item.Unit.Err != nil {
			view.ErrorKind = item.Unit.Err.Kind
			view.ErrorSummary = item.Unit.Err.Error()
		}
		views = append(views, view)
	}
	return views
}

func (s *BatchSession) reviewItem(index int) (*domain.ReviewItem, bool) {
	for _, item := range s.items {
		if item.Unit.Index == index {
			return item, true
		}
	}
	return nil, false
}
