package domain

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func succeededItem(t *testing.T, merchant string) *ReviewItem {
	t.Helper()

	batch, err := NewBatch("user-1", testImages(1))
	if err != nil {
		t.Fatalf("NewBatch() error = %v", err)
	}
	if err := batch.MarkProcessing(0); err != nil {
		t.Fatalf("MarkProcessing() error = %v", err)
	}
	if err := batch.MarkSucceeded(0, testReceipt(merchant)); err != nil {
		t.Fatalf("MarkSucceeded() error = %v", err)
	}
	return &ReviewItem{Unit: &batch.Units[0], Decision: DecisionUndecided}
}

func failedItem(t *testing.T) *ReviewItem {
	t.Helper()

	batch, err := NewBatch("user-1", testImages(1))
	if err != nil {
		t.Fatalf("NewBatch() error = %v", err)
	}
	if err := batch.MarkProcessing(0); err != nil {
		t.Fatalf("MarkProcessing() error = %v", err)
	}
	if err := batch.MarkFailed(0, &UnitError{Kind: "MALFORMED_INPUT", Message: "unreadable image"}); err != nil {
		t.Fatalf("MarkFailed() error = %v", err)
	}
	return &ReviewItem{Unit: &batch.Units[0], Decision: DecisionUndecided}
}

func TestReviewItemApprove(t *testing.T) {
	t.Parallel()

	item := succeededItem(t, "jumbo")
	if err := item.Approve(); err != nil {
		t.Fatalf("Approve() error = %v", err)
	}
	if item.Decision != DecisionApproved {
		t.Fatalf("decision = %s, want APPROVED", item.Decision)
	}
}

func TestReviewItemApproveFailedUnitRejected(t *testing.T) {
	t.Parallel()

	item := failedItem(t)
	if err := item.Approve(); !errors.Is(err, ErrValidation) {
		t.Fatalf("Approve() on failed unit error = %v, want ErrValidation", err)
	}
}

func TestReviewItemEditReplacesPayload(t *testing.T) {
	t.Parallel()

	item := succeededItem(t, "extracted-name")
	edited := Receipt{
		Merchant: "corrected-name",
		Date:     "2026-08-30",
		Total:    decimal.RequireFromString("12.50"),
		Category: "restaurants",
	}
	if err := item.Edit(edited); err != nil {
		t.Fatalf("Edit() error = %v", err)
	}
	if item.Decision != DecisionEdited {
		t.Fatalf("decision = %s, want EDITED", item.Decision)
	}

	receipt, err := item.ReceiptForCommit()
	if err != nil {
		t.Fatalf("ReceiptForCommit() error = %v", err)
	}
	if receipt.Merchant != "corrected-name" {
		t.Fatalf("merchant = %q, want the edited name", receipt.Merchant)
	}
}

func TestReviewItemEditFailedUnitRejected(t *testing.T) {
	t.Parallel()

	item := failedItem(t)
	err := item.Edit(Receipt{Merchant: "x", Total: decimal.Zero})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("Edit() on failed unit error = %v, want ErrValidation", err)
	}
}

func TestReviewItemDiscardAlwaysLegal(t *testing.T) {
	t.Parallel()

	succeeded := succeededItem(t, "jumbo")
	succeeded.Discard()
	if succeeded.Decision != DecisionDiscarded {
		t.Fatalf("decision = %s, want DISCARDED", succeeded.Decision)
	}

	failed := failedItem(t)
	failed.Discard()
	if failed.Decision != DecisionDiscarded {
		t.Fatalf("decision = %s, want DISCARDED", failed.Decision)
	}
}

func TestReceiptForCommitUndecidedRejected(t *testing.T) {
	t.Parallel()

	item := succeededItem(t, "jumbo")
	if _, err := item.ReceiptForCommit(); !errors.Is(err, ErrValidation) {
		t.Fatalf("ReceiptForCommit() on undecided item error = %v, want ErrValidation", err)
	}
}

func TestParseDecisionFromString(t *testing.T) {
	t.Parallel()

	decision, err := ParseDecisionFromString(" approved ")
	if err != nil {
		t.Fatalf("ParseDecisionFromString() error = %v", err)
	}
	if decision != DecisionApproved {
		t.Fatalf("decision = %s, want APPROVED", decision)
	}

	if _, err := ParseDecisionFromString("maybe"); !errors.Is(err, ErrValidation) {
		t.Fatalf("ParseDecisionFromString(maybe) error = %v, want ErrValidation", err)
	}
}
