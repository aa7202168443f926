package price

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1hive/gardens-points/service/persist"
)

type countingQuoter struct {
	price float64
	err   error
	calls int
}

func (q *countingQuoter) TokenUSDPrice(ctx context.Context, chainID persist.ChainID, token persist.Address, symbol string) (float64, error) {
	q.calls++
	return q.price, q.err
}

func TestOracle(t *testing.T) {
	token := persist.NewAddress("0x00000000000000000000000000000000000000aa")

	t.Run("serves repeat lookups from cache", func(t *testing.T) {
		q := &countingQuoter{price: 1.5}
		o := NewOracle(q)
		for i := 0; i < 3; i++ {
			v, err := o.USDPrice(context.Background(), 100, token, "HNY")
			require.NoError(t, err)
			assert.Equal(t, 1.5, v)
		}
		assert.Equal(t, 1, q.calls)
	})

	t.Run("refetches once the entry expires", func(t *testing.T) {
		q := &countingQuoter{price: 1.5}
		o := NewOracle(q)
		clock := time.Now()
		o.now = func() time.Time { return clock }

		_, err := o.USDPrice(context.Background(), 100, token, "HNY")
		require.NoError(t, err)

		clock = clock.Add(25 * time.Hour)
		_, err = o.USDPrice(context.Background(), 100, token, "HNY")
		require.NoError(t, err)
		assert.Equal(t, 2, q.calls)
	})

	t.Run("hydrated entries suppress fetches and leave the cache clean", func(t *testing.T) {
		q := &countingQuoter{err: errors.New("should not be called")}
		o := NewOracle(q)
		o.Hydrate(persist.PriceCache{Entries: map[string]persist.PriceCacheEntry{
			cacheKey(100, token): {Price: 2.25, FetchedAt: time.Now().UnixMilli(), Symbol: "HNY"},
		}})

		v, err := o.USDPrice(context.Background(), 100, token, "HNY")
		require.NoError(t, err)
		assert.Equal(t, 2.25, v)
		assert.Zero(t, q.calls)

		_, dirty := o.Snapshot()
		assert.False(t, dirty)
	})

	t.Run("fetch errors propagate without caching", func(t *testing.T) {
		q := &countingQuoter{err: errors.New("rate limited")}
		o := NewOracle(q)
		_, err := o.USDPrice(context.Background(), 100, token, "HNY")
		require.Error(t, err)
		_, dirty := o.Snapshot()
		assert.False(t, dirty)
	})
}

func TestParseOverrides(t *testing.T) {
	out := parseOverrides(`{"HNY": 12.5, "GDV": "0.8", "SEED": {"price": "3", "label": "manual"}}`)
	assert.Equal(t, 12.5, out["HNY"])
	assert.Equal(t, 0.8, out["GDV"])
	assert.Equal(t, 3.0, out["SEED"])

	assert.Empty(t, parseOverrides("not json"))
	assert.Empty(t, parseOverrides(""))
}
