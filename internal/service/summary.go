package service

import (
	"github.com/boletapp/scan-engine/internal/domain"
	"github.com/shopspring/decimal"
)

// BatchSummary is the end-of-batch aggregate shown to the user and fed to
// the insights consumer. Derived, never persisted by the pipeline.
type BatchSummary struct {
	TotalAmount      decimal.Decimal
	TransactionCount int
	FailedCount      int
}

// ProjectSummary sums totals over the durably saved transactions. It is a
// total function: an all-failed batch projects to zero totals with the
// failure count carried through, which is a valid displayable outcome.
func ProjectSummary(saved []domain.Transaction, failedCount int) BatchSummary {
	total := decimal.Zero
	for i := range saved {
		total = total.Add(saved[i].Total)
	}

	return BatchSummary{
		TotalAmount:      total,
		TransactionCount: len(saved),
		FailedCount:      failedCount,
	}
}
