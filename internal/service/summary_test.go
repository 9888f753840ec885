package service

import (
	"testing"

	"github.com/boletapp/scan-engine/internal/domain"
	"github.com/shopspring/decimal"
)

func TestProjectSummarySumsSavedTotals(t *testing.T) {
	t.Parallel()

	saved := []domain.Transaction{
		{ID: "tx-1", Total: decimal.RequireFromString("10.00")},
		{ID: "tx-2", Total: decimal.RequireFromString("20.00")},
		{ID: "tx-3", Total: decimal.RequireFromString("30.00")},
	}

	summary := ProjectSummary(saved, 0)

	if want := decimal.RequireFromString("60.00"); !summary.TotalAmount.Equal(want) {
		t.Fatalf("TotalAmount = %s, want %s", summary.TotalAmount, want)
	}
	if summary.TransactionCount != 3 {
		t.Fatalf("TransactionCount = %d, want 3", summary.TransactionCount)
	}
	if summary.FailedCount != 0 {
		t.Fatalf("FailedCount = %d, want 0", summary.FailedCount)
	}
}

func TestProjectSummaryAllFailed(t *testing.T) {
	t.Parallel()

	summary := ProjectSummary(nil, 4)

	if !summary.TotalAmount.IsZero() {
		t.Fatalf("TotalAmount = %s, want 0", summary.TotalAmount)
	}
	if summary.TransactionCount != 0 {
		t.Fatalf("TransactionCount = %d, want 0", summary.TransactionCount)
	}
	if summary.FailedCount != 4 {
		t.Fatalf("FailedCount = %d, want 4", summary.FailedCount)
	}
}

func TestProjectSummaryCarriesFailedAlongsideSaved(t *testing.T) {
	t.Parallel()

	saved := []domain.Transaction{
		{ID: "tx-1", Total: decimal.RequireFromString("15.50")},
	}

	summary := ProjectSummary(saved, 2)

	if want := decimal.RequireFromString("15.50"); !summary.TotalAmount.Equal(want) {
		t.Fatalf("TotalAmount = %s, want %s", summary.TotalAmount, want)
	}
	if summary.TransactionCount != 1 || summary.FailedCount != 2 {
		t.Fatalf("counts = (%d saved, %d failed), want (1, 2)", summary.TransactionCount, summary.FailedCount)
	}
}
