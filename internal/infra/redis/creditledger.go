package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/boletapp/scan-engine/internal/credit"
	goredis "github.com/redis/go-redis/v9"
)

const (
	// chargeMarkerTTL bounds how long a batch's charged marker is kept.
	// A batch session never outlives a day; after that the marker is
	// only garbage.
	chargeMarkerTTL = 24 * time.Hour
)

// chargeScript deducts one credit for a batch at most once, atomically.
// Returns 1 when charged now, 0 when the batch was already charged, and
// -1 when the balance is empty.
var chargeScript = goredis.NewScript(`
if redis.call("EXISTS", KEYS[2]) == 1 then
  return 0
end
local balance = tonumber(redis.call("GET", KEYS[1]) or "0")
if balance <= 0 then
  return -1
end
redis.call("DECR", KEYS[1])
redis.call("SET", KEYS[2], 1, "EX", ARGV[1])
return 1
`)

var _ credit.Ledger = (*RedisCreditLedger)(nil)

// RedisCreditLedger meters scan credits in Redis. The charge operation is
// a Lua script so the balance check, decrement, and per-batch marker are
// one atomic step.
type RedisCreditLedger struct {
	client *goredis.Client
	script *goredis.Script
}

func NewRedisCreditLedger(client *goredis.Client) (*RedisCreditLedger, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	return &RedisCreditLedger{
		client: client,
		script: chargeScript,
	}, nil
}

func (l *RedisCreditLedger) Balance(ctx context.Context, userID string) (int64, error) {
	if err := l.validate(userID); err != nil {
		return 0, err
	}

	balance, err := l.client.Get(ctx, balanceKey(userID)).Int64()
	if err != nil {
		if err == goredis.Nil {
			return 0, nil
		}
		return 0, fmt.Errorf("credit balance read failed: %w", err)
	}
	return balance, nil
}

func (l *RedisCreditLedger) TopUp(ctx context.Context, userID string, amount int64) (int64, error) {
	if err := l.validate(userID); err != nil {
		return 0, err
	}
	if amount <= 0 {
		return 0, fmt.Errorf("top-up amount must be positive (got %d)", amount)
	}

	balance, err := l.client.IncrBy(ctx, balanceKey(userID), amount).Result()
	if err != nil {
		return 0, fmt.Errorf("credit top-up failed: %w", err)
	}
	return balance, nil
}

func (l *RedisCreditLedger) ChargeBatch(ctx context.Context, userID, batchID string) (bool, error) {
	if err := l.validate(userID); err != nil {
		return false, err
	}
	if strings.TrimSpace(batchID) == "" {
		return false, fmt.Errorf("batch id is required")
	}

	keys := []string{balanceKey(userID), chargedKey(batchID)}
	result, err := l.script.Run(ctx, l.client, keys, int(chargeMarkerTTL.Seconds())).Int64()
	if err != nil {
		return false, fmt.Errorf("credit charge script failed: %w", err)
	}

	switch result {
	case 1:
		return true, nil
	case 0:
		return false, nil
	default:
		return false, credit.ErrInsufficientCredits
	}
}

func (l *RedisCreditLedger) validate(userID string) error {
	if l == nil || l.client == nil {
		return fmt.Errorf("credit ledger is not initialized")
	}
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("user id is required")
	}
	return nil
}

func balanceKey(userID string) string {
	return fmt.Sprintf("credits:balance:%s", userID)
}

func chargedKey(batchID string) string {
	return fmt.Sprintf("credits:charged:%s", batchID)
}
