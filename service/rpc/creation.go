package rpc

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/1hive/gardens-points/service/logger"
	"github.com/1hive/gardens-points/service/persist"
)

// CreationBlockIndex caches the block at which each contract first had code.
// A nil entry records that the contract had no code at the last probe height;
// misses are pinned for inspection but re-searched on the next call, since
// the contract may be deployed between runs.
type CreationBlockIndex struct {
	mu      sync.Mutex
	entries map[string]*persist.BlockNumber
	dirty   bool
}

func NewCreationBlockIndex() *CreationBlockIndex {
	return &CreationBlockIndex{entries: map[string]*persist.BlockNumber{}}
}

// Hydrate loads a pinned cache payload. A campaign-version mismatch clears
// the index entirely, since entries are clamped to the window's start block.
func (c *CreationBlockIndex) Hydrate(cache persist.CreationBlockCache, campaignVersion string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cache.CampaignVersion != campaignVersion {
		c.entries = map[string]*persist.BlockNumber{}
		return
	}
	for k, v := range cache.Entries {
		c.entries[k] = v
	}
}

// Snapshot returns the payload to pin and whether anything changed since the
// last hydrate.
func (c *CreationBlockIndex) Snapshot(campaignVersion string) (persist.CreationBlockCache, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := persist.CreationBlockCache{
		UpdatedAt:       time.Now().UnixMilli(),
		CampaignVersion: campaignVersion,
		Entries:         map[string]*persist.BlockNumber{},
	}
	for k, v := range c.entries {
		out.Entries[k] = v
	}
	return out, c.dirty
}

func (c *CreationBlockIndex) lookup(key string) (*persist.BlockNumber, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	return v, ok
}

func (c *CreationBlockIndex) store(key string, v *persist.BlockNumber) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = v
	c.dirty = true
}

// FindCreationBlock locates the first block in [lowerBound, upperBound] at
// which contract had bytecode. Contracts deployed before lowerBound clamp to
// it. It returns (nil, nil) when the contract has no code at upperBound; a
// miss is not authoritative and the search reruns on the next call. Probe
// errors are treated as the code being absent at that height so a flaky
// archive node cannot wedge the search; the result only ever overshoots,
// which keeps the window conservative.
func (c *CreationBlockIndex) FindCreationBlock(ctx context.Context, client ChainClient, contract persist.Address, lowerBound, upperBound uint64) (*persist.BlockNumber, error) {
	key := contract.String()
	if cached, ok := c.lookup(key); ok && cached != nil {
		return cached, nil
	}

	code, err := client.CodeAt(ctx, contract.Common(), new(big.Int).SetUint64(upperBound))
	if err != nil {
		return nil, err
	}
	if len(code) == 0 {
		c.store(key, nil)
		return nil, nil
	}

	low, high := lowerBound, upperBound
	for low < high {
		mid := low + (high-low)/2
		code, err := client.CodeAt(ctx, contract.Common(), new(big.Int).SetUint64(mid))
		if err != nil {
			logger.For(ctx).Warnf("code probe failed at block %d for %s: %s", mid, contract, err)
			low = mid + 1
			continue
		}
		if len(code) > 0 {
			high = mid
		} else {
			low = mid + 1
		}
	}

	result := persist.BlockNumber(high)
	c.store(key, &result)
	return &result, nil
}
