package price

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/1hive/gardens-points/service/persist"
)

const cacheTTL = 24 * time.Hour

// Quoter is the raw price source behind the oracle.
type Quoter interface {
	TokenUSDPrice(ctx context.Context, chainID persist.ChainID, token persist.Address, symbol string) (float64, error)
}

// Oracle caches quotes per chain and token for the cache TTL, so a run that
// touches the same pool token across many pools fetches it once and repeated
// runs within a day reuse the pinned snapshot.
type Oracle struct {
	quoter Quoter

	mu      sync.Mutex
	entries map[string]persist.PriceCacheEntry
	dirty   bool

	now func() time.Time
}

func NewOracle(quoter Quoter) *Oracle {
	return &Oracle{
		quoter:  quoter,
		entries: map[string]persist.PriceCacheEntry{},
		now:     time.Now,
	}
}

func cacheKey(chainID persist.ChainID, token persist.Address) string {
	return fmt.Sprintf("%d-%s", chainID, token)
}

// Hydrate loads a pinned price cache. Expired entries load anyway and are
// refreshed lazily on first use.
func (o *Oracle) Hydrate(cache persist.PriceCache) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for k, v := range cache.Entries {
		o.entries[k] = v
	}
}

func (o *Oracle) Snapshot() (persist.PriceCache, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := persist.PriceCache{
		UpdatedAt: o.now().UnixMilli(),
		TTLMillis: cacheTTL.Milliseconds(),
		Entries:   map[string]persist.PriceCacheEntry{},
	}
	for k, v := range o.entries {
		out.Entries[k] = v
	}
	return out, o.dirty
}

// USDPrice returns the cached quote when fresh, otherwise fetches and caches.
func (o *Oracle) USDPrice(ctx context.Context, chainID persist.ChainID, token persist.Address, symbol string) (float64, error) {
	key := cacheKey(chainID, token)
	now := o.now().UnixMilli()

	o.mu.Lock()
	if entry, ok := o.entries[key]; ok && now-entry.FetchedAt < cacheTTL.Milliseconds() {
		o.mu.Unlock()
		return entry.Price, nil
	}
	o.mu.Unlock()

	v, err := o.quoter.TokenUSDPrice(ctx, chainID, token, symbol)
	if err != nil {
		return 0, err
	}

	o.mu.Lock()
	o.entries[key] = persist.PriceCacheEntry{Price: v, FetchedAt: now, Symbol: symbol}
	o.dirty = true
	o.mu.Unlock()
	return v, nil
}
