package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// BudgetResult is the outcome of a token budget check.
type BudgetResult struct {
	Allowed     bool
	SpentTokens int64
	LimitTokens int64
}

// BudgetTracker counts output tokens consumed per key per UTC day.
type BudgetTracker struct {
	rdb *redis.Client
}

// NewBudgetTracker creates a budget tracker. With a nil client every check
// passes.
func NewBudgetTracker(rdb *redis.Client) *BudgetTracker {
	return &BudgetTracker{rdb: rdb}
}

func dailyBudgetKey(keyID string) string {
	day := time.Now().UTC().Format("2006-01-02")
	return fmt.Sprintf("mirage:budget:daily:%s:%s", keyID, day)
}

// Check reports whether the key is under its daily output-token budget.
func (b *BudgetTracker) Check(ctx context.Context, keyID string, limitTokens int64) (BudgetResult, error) {
	if b.rdb == nil {
		return BudgetResult{Allowed: true, LimitTokens: limitTokens}, nil
	}

	spent, err := b.rdb.Get(ctx, dailyBudgetKey(keyID)).Int64()
	if err != nil && err != redis.Nil {
		// Fail open on Redis errors.
		return BudgetResult{Allowed: true, LimitTokens: limitTokens}, nil
	}

	return BudgetResult{
		Allowed:     spent < limitTokens,
		SpentTokens: spent,
		LimitTokens: limitTokens,
	}, nil
}

// Record adds output tokens to the key's daily counter. The counter expires
// an hour past end of day UTC.
func (b *BudgetTracker) Record(ctx context.Context, keyID string, tokens int64) error {
	if b.rdb == nil || tokens <= 0 {
		return nil
	}

	key := dailyBudgetKey(keyID)
	pipe := b.rdb.Pipeline()
	pipe.IncrBy(ctx, key, tokens)
	now := time.Now().UTC()
	endOfDay := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
	pipe.Expire(ctx, key, endOfDay.Sub(now)+time.Hour)
	_, err := pipe.Exec(ctx)
	return err
}
