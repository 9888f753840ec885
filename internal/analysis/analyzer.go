package analysis

import (
	"context"

	"github.com/boletapp/scan-engine/internal/domain"
)

// Analyzer is the inbound image analysis port: one receipt image in,
// structured receipt data or a typed error out. Implementations must make
// exactly one upstream call per invocation; any retry is a new explicit
// call by the caller.
type Analyzer interface {
	Analyze(ctx context.Context, image domain.BatchImage) (*domain.Receipt, error)
}

// AnalyzerFunc adapts a function to the Analyzer interface.
type AnalyzerFunc func(ctx context.Context, image domain.BatchImage) (*domain.Receipt, error)

func (f AnalyzerFunc) Analyze(ctx context.Context, image domain.BatchImage) (*domain.Receipt, error) {
	return f(ctx, image)
}
