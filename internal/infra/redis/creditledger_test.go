package redis

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/boletapp/scan-engine/internal/credit"
	goredis "github.com/redis/go-redis/v9"
)

func newTestLedger(t *testing.T) *RedisCreditLedger {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() error = %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := goredis.NewClient(&goredis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() {
		_ = rdb.Close()
	})

	ledger, err := NewRedisCreditLedger(rdb)
	if err != nil {
		t.Fatalf("NewRedisCreditLedger() error = %v", err)
	}
	return ledger
}

func TestRedisCreditLedgerTopUpAndBalance(t *testing.T) {
	t.Parallel()

	ledger := newTestLedger(t)
	ctx := context.Background()

	balance, err := ledger.Balance(ctx, "user-1")
	if err != nil {
		t.Fatalf("Balance() error = %v", err)
	}
	if balance != 0 {
		t.Fatalf("fresh balance = %d, want 0", balance)
	}

	balance, err = ledger.TopUp(ctx, "user-1", 5)
	if err != nil {
		t.Fatalf("TopUp() error = %v", err)
	}
	if balance != 5 {
		t.Fatalf("balance after top-up = %d, want 5", balance)
	}

	balance, err = ledger.TopUp(ctx, "user-1", 3)
	if err != nil {
		t.Fatalf("TopUp() error = %v", err)
	}
	if balance != 8 {
		t.Fatalf("balance after second top-up = %d, want 8", balance)
	}
}

func TestRedisCreditLedgerTopUpRejectsNonPositive(t *testing.T) {
	t.Parallel()

	ledger := newTestLedger(t)

	if _, err := ledger.TopUp(context.Background(), "user-1", 0); err == nil {
		t.Fatal("TopUp(0) must fail")
	}
	if _, err := ledger.TopUp(context.Background(), "user-1", -2); err == nil {
		t.Fatal("TopUp(-2) must fail")
	}
}

func TestRedisCreditLedgerChargesBatchOnce(t *testing.T) {
	t.Parallel()

	ledger := newTestLedger(t)
	ctx := context.Background()

	if _, err := ledger.TopUp(ctx, "user-1", 2); err != nil {
		t.Fatalf("TopUp() error = %v", err)
	}

	charged, err := ledger.ChargeBatch(ctx, "user-1", "batch-1")
	if err != nil {
		t.Fatalf("ChargeBatch() error = %v", err)
	}
	if !charged {
		t.Fatal("first charge for a batch must deduct")
	}

	charged, err = ledger.ChargeBatch(ctx, "user-1", "batch-1")
	if err != nil {
		t.Fatalf("repeat ChargeBatch() error = %v", err)
	}
	if charged {
		t.Fatal("repeat charge for the same batch must be a no-op")
	}

	balance, err := ledger.Balance(ctx, "user-1")
	if err != nil {
		t.Fatalf("Balance() error = %v", err)
	}
	if balance != 1 {
		t.Fatalf("balance = %d, one batch must cost exactly one credit", balance)
	}
}

func TestRedisCreditLedgerChargeEmptyBalance(t *testing.T) {
	t.Parallel()

	ledger := newTestLedger(t)

	_, err := ledger.ChargeBatch(context.Background(), "user-1", "batch-1")
	if !errors.Is(err, credit.ErrInsufficientCredits) {
		t.Fatalf("ChargeBatch() error = %v, want ErrInsufficientCredits", err)
	}
}

func TestRedisCreditLedgerValidation(t *testing.T) {
	t.Parallel()

	ledger := newTestLedger(t)
	ctx := context.Background()

	if _, err := ledger.Balance(ctx, ""); err == nil {
		t.Fatal("Balance() with empty user id must fail")
	}
	if _, err := ledger.ChargeBatch(ctx, "user-1", " "); err == nil {
		t.Fatal("ChargeBatch() with blank batch id must fail")
	}
}
