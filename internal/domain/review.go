package domain

import (
	"fmt"
	"strings"
)

// Decision represents the user's choice for one completed unit.
type Decision string

const (
	DecisionUndecided Decision = "UNDECIDED"
	DecisionApproved  Decision = "APPROVED"
	DecisionEdited    Decision = "EDITED"
	DecisionDiscarded Decision = "DISCARDED"
)

func (d Decision) String() string { return string(d) }

func (d Decision) IsValid() bool {
	switch d {
	case DecisionUndecided, DecisionApproved, DecisionEdited, DecisionDiscarded:
		return true
	}
	return false
}

func ParseDecisionFromString(s string) (Decision, error) {
	d := Decision(strings.ToUpper(strings.TrimSpace(s)))
	if !d.IsValid() {
		return "", fmt.Errorf("%w: invalid decision %q", ErrValidation, s)
	}
	return d, nil
}

// ReviewItem wraps a terminal unit with the user's pending decision. Only
// succeeded and failed units become review items; cancelled units were
// never attempted and are not shown.
type ReviewItem struct {
	Unit     *BatchUnit
	Decision Decision

	// EditedReceipt replaces Unit.Result at commit time when the decision
	// is EDITED.
	EditedReceipt *Receipt

	// CommittedID is set once this item's transaction has been durably
	// saved; it makes commit idempotent per item.
	CommittedID string
}

// Approve accepts the extracted receipt as-is.
func (r *ReviewItem) Approve() error {
	if r.Unit.Status != UnitSucceeded {
		return fmt.Errorf("%w: cannot approve a %s unit", ErrValidation, r.Unit.Status)
	}
	r.Decision = DecisionApproved
	r.EditedReceipt = nil
	return nil
}

// Edit replaces the extracted payload before commit. A failed extraction
// cannot be hand-edited; the image must be resubmitted as a new batch.
func (r *ReviewItem) Edit(receipt Receipt) error {
	if r.Unit.Status != UnitSucceeded {
		return fmt.Errorf("%w: cannot edit a %s unit", ErrValidation, r.Unit.Status)
	}
	if err := receipt.Validate(); err != nil {
		return err
	}
	r.Decision = DecisionEdited
	r.EditedReceipt = &receipt
	return nil
}

// Discard drops the item. Always legal regardless of unit outcome.
func (r *ReviewItem) Discard() {
	r.Decision = DecisionDiscarded
	r.EditedReceipt = nil
}

// ReceiptForCommit returns the payload a commit should persist: the edited
// receipt when present, otherwise the extracted one.
func (r *ReviewItem) ReceiptForCommit() (*Receipt, error) {
	switch r.Decision {
	case DecisionApproved:
		if r.Unit.Result == nil {
			return nil, fmt.Errorf("%w: approved unit %d has no result", ErrInvalidTransition, r.Unit.Index)
		}
		return r.Unit.Result, nil
	case DecisionEdited:
		if r.EditedReceipt == nil {
			return nil, fmt.Errorf("%w: edited unit %d has no payload", ErrInvalidTransition, r.Unit.Index)
		}
		return r.EditedReceipt, nil
	}
	return nil, fmt.Errorf("%w: decision %s is not committable", ErrValidation, r.Decision)
}
