package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MaxBatchSize is the hard per-batch image limit. It bounds worst-case
// batch duration and external API cost per submission.
const MaxBatchSize = 10

// BatchImage is a single submitted receipt image.
type BatchImage struct {
	Data     []byte
	MimeType string
}

// Batch is the aggregate for one upload session: an ordered job queue of
// units in upload order. It is owned exclusively by the session that
// created it and is never shared across sessions.
type Batch struct {
	ID          string
	UserID      string
	Units       []BatchUnit
	CreatedAt   time.Time
	CancelledAt *time.Time
}

// NewBatch validates a submission and seeds one pending unit per image,
// preserving input order end to end.
func NewBatch(userID string, images []BatchImage) (*Batch, error) {
	if len(images) == 0 {
		return nil, fmt.Errorf("%w: batch must include at least one image", ErrValidation)
	}
	if len(images) > MaxBatchSize {
		return nil, fmt.Errorf("%w: batch size exceeds %d (got %d)", ErrValidation, MaxBatchSize, len(images))
	}

	units := make([]BatchUnit, len(images))
	for i, img := range images {
		if len(img.Data) == 0 {
			return nil, fmt.Errorf("%w: image %d is empty", ErrValidation, i)
		}
		units[i] = BatchUnit{
			Index:       i,
			SourceImage: img.Data,
			MimeType:    img.MimeType,
			Status:      UnitPending,
		}
	}

	return &Batch{
		ID:        uuid.NewString(),
		UserID:    userID,
		Units:     units,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// NextPending returns the lowest-index unit still pending, or nil. It is a
// pure read; the caller transitions status explicitly via MarkProcessing.
func (b *Batch) NextPending() *BatchUnit {
	for i := range b.Units {
		if b.Units[i].Status == UnitPending {
			return &b.Units[i]
		}
	}
	return nil
}

// Unit returns the unit at index or an error for an out-of-range index.
func (b *Batch) Unit(index int) (*BatchUnit, error) {
	if index < 0 || index >= len(b.Units) {
		return nil, fmt.Errorf("%w: unit index %d out of range", ErrNotFound, index)
	}
	return &b.Units[index], nil
}

func (b *Batch) MarkProcessing(index int) error {
	unit, err := b.Unit(index)
	if err != nil {
		return err
	}
	return unit.transition(UnitProcessing)
}

func (b *Batch) MarkSucceeded(index int, result *Receipt) error {
	unit, err := b.Unit(index)
	if err != nil {
		return err
	}
	if result == nil {
		return fmt.Errorf("%w: unit %d marked succeeded without a result", ErrInvalidTransition, index)
	}
	if err := unit.transition(UnitSucceeded); err != nil {
		return err
	}
	unit.Result = result
	unit.Err = nil
	return nil
}

func (b *Batch) MarkFailed(index int, unitErr *UnitError) error {
	unit, err := b.Unit(index)
	if err != nil {
		return err
	}
	if unitErr == nil {
		return fmt.Errorf("%w: unit %d marked failed without an error", ErrInvalidTransition, index)
	}
	if err := unit.transition(UnitFailed); err != nil {
		return err
	}
	unit.Err = unitErr
	unit.Result = nil
	return nil
}

// CancelPending flips every still-pending unit to cancelled in one sweep
// and stamps the batch. Units already processing or terminal are untouched:
// in-flight work always runs to completion and completed work is preserved.
// Returns the indices that were cancelled.
func (b *Batch) CancelPending() []int {
	cancelled := make([]int, 0, len(b.Units))
	for i := range b.Units {
		if b.Units[i].Status == UnitPending {
			b.Units[i].Status = UnitCancelled
			cancelled = append(cancelled, i)
		}
	}
	if b.CancelledAt == nil {
		now := time.Now().UTC()
		b.CancelledAt = &now
	}
	return cancelled
}

// Settled reports whether every unit has reached a terminal state.
func (b *Batch) Settled() bool {
	for i := range b.Units {
		if !b.Units[i].Status.IsTerminal() {
			return false
		}
	}
	return true
}

// CountByStatus returns how many units currently hold the given status.
func (b *Batch) CountByStatus(status UnitStatus) int {
	count := 0
	for i := range b.Units {
		if b.Units[i].Status == status {
			count++
		}
	}
	return count
}
