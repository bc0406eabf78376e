package ledger

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/shareregistry/shareledger/internal/shared"
)

// BalanceAggregator derives each shareholder's latest known balance: the
// balance_after of the last movement in ascending-date order whose value is
// non-null. Shareholders with no recorded balance are absent from the
// result; absence means "no recorded balance", not zero.
type BalanceAggregator struct {
	repo   RepositoryPort
	cache  *BalanceCache
	logger *slog.Logger
}

// NewBalanceAggregator builds the aggregator. A nil cache disables caching.
func NewBalanceAggregator(repo RepositoryPort, cache *BalanceCache, logger *slog.Logger) *BalanceAggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &BalanceAggregator{repo: repo, cache: cache, logger: logger}
}

// Latest returns the latest non-null balance per requested shareholder.
// Scoped callers bypass the cache entirely: cached entries hold the
// unscoped view, and serving them under a company scope would leak rows
// the scope filters out.
func (a *BalanceAggregator) Latest(ctx context.Context, shareholderIDs []string) (map[string]decimal.Decimal, error) {
	if len(shareholderIDs) == 0 {
		return nil, shared.Invalidf("shareholder id set must not be empty")
	}
	useCache := a.cache != nil && shared.ScopeFromContext(ctx) == ""

	balances := make(map[string]decimal.Decimal)
	misses := shareholderIDs
	if useCache {
		misses = make([]string, 0, len(shareholderIDs))
		for _, id := range shareholderIDs {
			entry, ok := a.cache.Get(ctx, id)
			if !ok {
				misses = append(misses, id)
				continue
			}
			if entry.Known {
				balances[id] = entry.Balance
			}
		}
	}
	if len(misses) == 0 {
		return balances, nil
	}

	rows, err := a.repo.ListBalanceRows(ctx, misses)
	if err != nil {
		return nil, err
	}

	fetched := make(map[string]decimal.Decimal)
	for _, row := range rows {
		if !row.BalanceAfter.Valid {
			// Null balances never overwrite an earlier recorded value.
			continue
		}
		fetched[row.ShareholderID] = row.BalanceAfter.Decimal
	}

	for _, id := range misses {
		balance, known := fetched[id]
		if known {
			balances[id] = balance
		}
		if useCache {
			a.cache.Set(ctx, id, balanceEntry{Known: known, Balance: balance})
		}
	}
	return balances, nil
}

// Invalidate drops the cached balance for one shareholder after a write.
func (a *BalanceAggregator) Invalidate(ctx context.Context, shareholderID string) {
	if a.cache == nil {
		return
	}
	if err := a.cache.Invalidate(ctx, shareholderID); err != nil {
		a.logger.Warn("balance cache invalidation failed",
			slog.String("shareholder_id", shareholderID),
			slog.Any("error", err),
		)
	}
}

type balanceEntry struct {
	Known   bool            `json:"known"`
	Balance decimal.Decimal `json:"balance"`
}

// BalanceCache is a short-TTL read-through cache for aggregated balances.
// It only ever holds the unscoped view of a shareholder's balance; scoped
// lookups go straight to the store. Cache failures degrade to store reads;
// they are never surfaced.
type BalanceCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewBalanceCache wraps a redis client.
func NewBalanceCache(client *redis.Client, ttl time.Duration, logger *slog.Logger) *BalanceCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &BalanceCache{client: client, ttl: ttl, logger: logger}
}

func balanceKey(shareholderID string) string {
	return "ledger:balance:" + shareholderID
}

// Get returns the cached entry and whether it was present.
func (c *BalanceCache) Get(ctx context.Context, shareholderID string) (balanceEntry, bool) {
	payload, err := c.client.Get(ctx, balanceKey(shareholderID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("balance cache read failed", slog.Any("error", err))
		}
		return balanceEntry{}, false
	}
	var entry balanceEntry
	if err := json.Unmarshal(payload, &entry); err != nil {
		return balanceEntry{}, false
	}
	return entry, true
}

// Set stores an entry; "no recorded balance" is cached too so repeated
// lookups of balance-less shareholders skip the store.
func (c *BalanceCache) Set(ctx context.Context, shareholderID string, entry balanceEntry) {
	payload, err := json.Marshal(entry)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, balanceKey(shareholderID), payload, c.ttl).Err(); err != nil {
		c.logger.Warn("balance cache write failed", slog.Any("error", err))
	}
}

// Invalidate removes the cached entry for one shareholder.
func (c *BalanceCache) Invalidate(ctx context.Context, shareholderID string) error {
	return c.client.Del(ctx, balanceKey(shareholderID)).Err()
}
