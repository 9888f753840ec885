package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/boletapp/scan-engine/internal/analysis"
	"github.com/boletapp/scan-engine/internal/credit"
	"github.com/boletapp/scan-engine/internal/domain"
	"github.com/boletapp/scan-engine/internal/repository"
	"github.com/shopspring/decimal"
)

func testImages(n int) []domain.BatchImage {
	images := make([]domain.BatchImage, n)
	for i := range images {
		images[i] = domain.BatchImage{Data: []byte{0xFF, 0xD8, byte(i)}, MimeType: "image/jpeg"}
	}
	return images
}

func receiptWithTotal(merchant, total string) *domain.Receipt {
	return &domain.Receipt{
		Merchant: merchant,
		Date:     "2026-08-30",
		Total:    decimal.RequireFromString(total),
		Category: "groceries",
	}
}

// sequenceAnalyzer replays canned per-index outcomes and records call order.
type sequenceAnalyzer struct {
	mu       sync.Mutex
	outcomes map[int]analyzerOutcome
	calls    int
	order    []int
	onCall   func(call int)
}

type analyzerOutcome struct {
	receipt *domain.Receipt
	err     error
}

func newSequenceAnalyzer() *sequenceAnalyzer {
	return &sequenceAnalyzer{outcomes: make(map[int]analyzerOutcome)}
}

func (a *sequenceAnalyzer) succeedAt(index int, receipt *domain.Receipt) {
	a.outcomes[index] = analyzerOutcome{receipt: receipt}
}

func (a *sequenceAnalyzer) failAt(index int, err error) {
	a.outcomes[index] = analyzerOutcome{err: err}
}

func (a *sequenceAnalyzer) Analyze(ctx context.Context, image domain.BatchImage) (*domain.Receipt, error) {
	a.mu.Lock()
	call := a.calls
	a.calls++
	a.order = append(a.order, call)
	onCall := a.onCall
	a.mu.Unlock()

	if onCall != nil {
		onCall(call)
	}

	outcome, ok := a.outcomes[call]
	if !ok {
		return receiptWithTotal(fmt.Sprintf("merchant-%d", call), "1.00"), nil
	}
	if outcome.err != nil {
		return nil, outcome.err
	}
	return outcome.receipt, nil
}

var _ analysis.Analyzer = (*sequenceAnalyzer)(nil)

// fakeGateway is an in-memory transaction store with injectable failures.
type fakeGateway struct {
	mu        sync.Mutex
	saveFn    func(ctx context.Context, tx *domain.Transaction) (string, error)
	saved     []domain.Transaction
	saveCalls int
}

func (g *fakeGateway) Save(ctx context.Context, tx *domain.Transaction) (string, error) {
	g.mu.Lock()
	g.saveCalls++
	g.mu.Unlock()

	if g.saveFn != nil {
		id, err := g.saveFn(ctx, tx)
		if err != nil {
			return "", err
		}
		g.mu.Lock()
		g.saved = append(g.saved, *tx)
		g.mu.Unlock()
		return id, nil
	}

	g.mu.Lock()
	g.saved = append(g.saved, *tx)
	g.mu.Unlock()
	return tx.ID, nil
}

func (g *fakeGateway) GetByID(ctx context.Context, userID, id string) (*domain.Transaction, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := range g.saved {
		if g.saved[i].ID == id && g.saved[i].UserID == userID {
			tx := g.saved[i]
			return &tx, nil
		}
	}
	return nil, fmt.Errorf("%w: transaction %q", domain.ErrNotFound, id)
}

func (g *fakeGateway) ListByUser(ctx context.Context, userID string, params repository.ListParams) ([]domain.Transaction, int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []domain.Transaction
	for i := range g.saved {
		if g.saved[i].UserID == userID {
			out = append(out, g.saved[i])
		}
	}
	return out, int64(len(out)), nil
}

func (g *fakeGateway) Delete(ctx context.Context, userID, id string) error {
	return nil
}

var _ repository.TransactionGateway = (*fakeGateway)(nil)

// fakeLedger meters credits in memory with per-batch charge markers.
type fakeLedger struct {
	mu      sync.Mutex
	balance int64
	charged map[string]bool
}

func newFakeLedger(balance int64) *fakeLedger {
	return &fakeLedger{balance: balance, charged: make(map[string]bool)}
}

func (l *fakeLedger) Balance(ctx context.Context, userID string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balance, nil
}

func (l *fakeLedger) TopUp(ctx context.Context, userID string, amount int64) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balance += amount
	return l.balance, nil
}

func (l *fakeLedger) ChargeBatch(ctx context.Context, userID, batchID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.charged[batchID] {
		return false, nil
	}
	if l.balance <= 0 {
		return false, fmt.Errorf("charge %s: %w", batchID, credit.ErrInsufficientCredits)
	}
	l.balance--
	l.charged[batchID] = true
	return true, nil
}

func (l *fakeLedger) chargeCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.charged)
}
