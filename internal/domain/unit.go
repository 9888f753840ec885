package domain

import (
	"fmt"
	"strings"
)

// UnitStatus represents the lifecycle state of a single receipt image
// inside a batch.
type UnitStatus string

const (
	UnitPending    UnitStatus = "PENDING"
	UnitProcessing UnitStatus = "PROCESSING"
	UnitSucceeded  UnitStatus = "SUCCEEDED"
	UnitFailed     UnitStatus = "FAILED"
	UnitCancelled  UnitStatus = "CANCELLED"
)

func (s UnitStatus) String() string { return string(s) }

func (s UnitStatus) IsValid() bool {
	switch s {
	case UnitPending, UnitProcessing, UnitSucceeded, UnitFailed, UnitCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is allowed.
func (s UnitStatus) IsTerminal() bool {
	switch s {
	case UnitSucceeded, UnitFailed, UnitCancelled:
		return true
	}
	return false
}

func ParseUnitStatusFromString(s string) (UnitStatus, error) {
	st := UnitStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid unit status %q", ErrValidation, s)
	}
	return st, nil
}

// UnitError is the typed analysis failure attached to a failed unit.
type UnitError struct {
	Kind    string
	Message string
}

func (e *UnitError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Message == "" {
		return e.Kind
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// BatchUnit is one image's journey through the pipeline. Index is the
// position in the original upload and is stable for the life of the batch.
type BatchUnit struct {
	Index       int
	SourceImage []byte
	MimeType    string
	Status      UnitStatus
	Result      *Receipt
	Err         *UnitError
}

// transitionAllowed encodes the per-unit state machine:
// Pending -> Processing -> {Succeeded | Failed}, Pending -> Cancelled.
// Processing units always run to completion, so Cancelled is only
// reachable from Pending. Terminal states have no outgoing edges.
func transitionAllowed(from, to UnitStatus) bool {
	switch from {
	case UnitPending:
		return to == UnitProcessing || to == UnitCancelled
	case UnitProcessing:
		return to == UnitSucceeded || to == UnitFailed
	}
	return false
}

func (u *BatchUnit) transition(to UnitStatus) error {
	if !transitionAllowed(u.Status, to) {
		return fmt.Errorf("%w: unit %d cannot move %s -> %s", ErrInvalidTransition, u.Index, u.Status, to)
	}
	u.Status = to
	return nil
}
