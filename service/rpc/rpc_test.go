package rpc

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1hive/gardens-points/service/persist"
)

// fakeChain serves headers from a timestamp slice (index = block number),
// code from a creation-height map, and logs from a fixed set.
type fakeChain struct {
	timestamps   []int64
	creationAt   map[common.Address]uint64
	logs         []types.Log
	maxRange     uint64
	filterCalls  int
	headerProbes int
}

func (f *fakeChain) BlockNumber(ctx context.Context) (uint64, error) {
	return uint64(len(f.timestamps) - 1), nil
}

func (f *fakeChain) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	f.headerProbes++
	n := number.Uint64()
	if n >= uint64(len(f.timestamps)) {
		return nil, errors.New("block not found")
	}
	return &types.Header{Number: number, Time: uint64(f.timestamps[n])}, nil
}

func (f *fakeChain) CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error) {
	created, ok := f.creationAt[contract]
	if !ok {
		return nil, nil
	}
	if blockNumber.Uint64() >= created {
		return []byte{0x60}, nil
	}
	return nil, nil
}

func (f *fakeChain) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	f.filterCalls++
	from, to := q.FromBlock.Uint64(), q.ToBlock.Uint64()
	if f.maxRange > 0 && to-from+1 > f.maxRange {
		return nil, errors.New("query returned more than 10000 results, range is too large")
	}
	var out []types.Log
	for _, l := range f.logs {
		if l.BlockNumber >= from && l.BlockNumber <= to {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeChain) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return nil, errors.New("not supported")
}

func linearTimestamps(n int, start, step int64) []int64 {
	out := make([]int64, n)
	for i := range out {
		out[i] = start + int64(i)*step
	}
	return out
}

func TestFindBlockAtOrAfter(t *testing.T) {
	chain := &fakeChain{timestamps: linearTimestamps(1000, 1_700_000_000, 12)}

	t.Run("finds the first block at or past the target", func(t *testing.T) {
		// Block 500 is exactly at target, so it wins over 501.
		got, err := FindBlockAtOrAfter(context.Background(), chain, 1_700_000_000+500*12, 0, 999)
		require.NoError(t, err)
		assert.Equal(t, uint64(500), got)

		// Target between 500 and 501 rounds up.
		got, err = FindBlockAtOrAfter(context.Background(), chain, 1_700_000_000+500*12+1, 0, 999)
		require.NoError(t, err)
		assert.Equal(t, uint64(501), got)
	})

	t.Run("clamps to the upper bound when the target is in the future", func(t *testing.T) {
		got, err := FindBlockAtOrAfter(context.Background(), chain, 2_000_000_000, 0, 999)
		require.NoError(t, err)
		assert.Equal(t, uint64(999), got)
	})
}

func TestFindBlockAtOrBefore(t *testing.T) {
	chain := &fakeChain{timestamps: linearTimestamps(1000, 1_700_000_000, 12)}

	got, err := FindBlockAtOrBefore(context.Background(), chain, 1_700_000_000+500*12+1, 0, 999)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), got)

	got, err = FindBlockAtOrBefore(context.Background(), chain, 1_600_000_000, 0, 999)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), got)
}

func TestFindCreationBlock(t *testing.T) {
	contract := persist.NewAddress("0x00000000000000000000000000000000000000aa")
	missing := persist.NewAddress("0x00000000000000000000000000000000000000bb")
	chain := &fakeChain{
		timestamps: linearTimestamps(1000, 1_700_000_000, 12),
		creationAt: map[common.Address]uint64{contract.Common(): 321},
	}
	idx := NewCreationBlockIndex()

	t.Run("locates the first block with code", func(t *testing.T) {
		got, err := idx.FindCreationBlock(context.Background(), chain, contract, 0, 999)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, persist.BlockNumber(321), *got)
	})

	t.Run("finds deployments past the window start", func(t *testing.T) {
		late := persist.NewAddress("0x00000000000000000000000000000000000000cc")
		chain.creationAt[late.Common()] = 500
		got, err := NewCreationBlockIndex().FindCreationBlock(context.Background(), chain, late, 100, 999)
		require.NoError(t, err)
		require.NotNil(t, got, "a contract deployed mid-window must be found")
		assert.Equal(t, persist.BlockNumber(500), *got)
	})

	t.Run("clamps deployments before the window start", func(t *testing.T) {
		got, err := NewCreationBlockIndex().FindCreationBlock(context.Background(), chain, contract, 400, 999)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, persist.BlockNumber(400), *got)
	})

	t.Run("records absent contracts as nil", func(t *testing.T) {
		got, err := idx.FindCreationBlock(context.Background(), chain, missing, 0, 999)
		require.NoError(t, err)
		assert.Nil(t, got)

		snap, dirty := idx.Snapshot("v1")
		assert.True(t, dirty)
		entry, ok := snap.Entries[missing.String()]
		require.True(t, ok, "miss must be cached, not just skipped")
		assert.Nil(t, entry)
	})

	t.Run("re-searches recorded misses", func(t *testing.T) {
		chain.creationAt[missing.Common()] = 700
		got, err := idx.FindCreationBlock(context.Background(), chain, missing, 0, 999)
		require.NoError(t, err)
		require.NotNil(t, got, "a contract deployed after a miss must be picked up")
		assert.Equal(t, persist.BlockNumber(700), *got)
	})

	t.Run("campaign mismatch clears hydrated entries", func(t *testing.T) {
		snap, _ := idx.Snapshot("v1")
		fresh := NewCreationBlockIndex()
		fresh.Hydrate(snap, "v2")
		_, ok := fresh.lookup(contract.String())
		assert.False(t, ok)
	})
}

func transferLog(block uint64, index uint, from, to persist.Address, value int64) types.Log {
	return types.Log{
		BlockNumber: block,
		Index:       index,
		TxHash:      common.HexToHash(fmt.Sprintf("0x%064x", block*1000+uint64(index))),
		Topics: []common.Hash{
			transferTopic,
			common.BytesToHash(from.Common().Bytes()),
			common.BytesToHash(to.Common().Bytes()),
		},
		Data: common.LeftPadBytes(big.NewInt(value).Bytes(), 32),
	}
}

func TestTransfersTo(t *testing.T) {
	token := persist.NewAddress("0x00000000000000000000000000000000000000cc")
	pool := persist.NewAddress("0x00000000000000000000000000000000000000dd")
	chain := &fakeChain{
		timestamps: linearTimestamps(50_000, 1_700_000_000, 12),
		logs: []types.Log{
			transferLog(100, 0, "0x0000000000000000000000000000000000000001", pool, 5),
			transferLog(15_000, 3, "0x0000000000000000000000000000000000000002", pool, 7),
			transferLog(30_000, 1, "0x0000000000000000000000000000000000000003", pool, 9),
		},
	}

	t.Run("fetches, decodes and caches the window", func(t *testing.T) {
		f := NewLogFetcher()
		logs, err := f.TransfersTo(context.Background(), chain, token, pool, 0, 20_000)
		require.NoError(t, err)
		require.Len(t, logs, 2)
		assert.Equal(t, "5", logs[0].Value)
		assert.Equal(t, pool, logs[0].To)

		calls := chain.filterCalls
		logs, err = f.TransfersTo(context.Background(), chain, token, pool, 0, 20_000)
		require.NoError(t, err)
		assert.Len(t, logs, 2)
		assert.Equal(t, calls, chain.filterCalls, "covered window must be served from cache")
	})

	t.Run("extends the cached window forward only", func(t *testing.T) {
		f := NewLogFetcher()
		_, err := f.TransfersTo(context.Background(), chain, token, pool, 0, 20_000)
		require.NoError(t, err)

		logs, err := f.TransfersTo(context.Background(), chain, token, pool, 10_000, 35_000)
		require.NoError(t, err)
		require.Len(t, logs, 2)
		assert.Equal(t, persist.BlockNumber(15_000), logs[0].BlockNumber)
		assert.Equal(t, persist.BlockNumber(30_000), logs[1].BlockNumber)

		snap, dirty := f.Snapshot("v1")
		assert.True(t, dirty)
		entry := snap.Entries[persist.TransferCacheKey(token, pool)]
		assert.Equal(t, persist.BlockNumber(0), entry.StartBlock)
		assert.Equal(t, persist.BlockNumber(35_000), entry.EndBlock)
	})

	t.Run("halves the chunk size on range complaints", func(t *testing.T) {
		chain := &fakeChain{
			timestamps: linearTimestamps(50_000, 1_700_000_000, 12),
			logs:       []types.Log{transferLog(100, 0, "0x0000000000000000000000000000000000000001", pool, 5)},
			maxRange:   1000,
		}
		f := NewLogFetcher()
		logs, err := f.TransfersTo(context.Background(), chain, token, pool, 0, 5_000)
		require.NoError(t, err)
		assert.Len(t, logs, 1)
	})

	t.Run("clamps to the chain head", func(t *testing.T) {
		f := NewLogFetcher()
		_, err := f.TransfersTo(context.Background(), chain, token, pool, 0, 10_000_000)
		require.NoError(t, err)
		snap, _ := f.Snapshot("v1")
		entry := snap.Entries[persist.TransferCacheKey(token, pool)]
		assert.Equal(t, persist.BlockNumber(49_999), entry.EndBlock)
	})
}

func TestMergeLogs(t *testing.T) {
	a := []persist.TransferLog{
		{TxHash: "0x1", LogIndex: 0, BlockNumber: 10},
		{TxHash: "0x2", LogIndex: 1, BlockNumber: 20},
	}
	b := []persist.TransferLog{
		{TxHash: "0x2", LogIndex: 1, BlockNumber: 20},
		{TxHash: "0x3", LogIndex: 0, BlockNumber: 5},
		{TxHash: "0x2", LogIndex: 0, BlockNumber: 20},
	}
	merged := mergeLogs(a, b)
	require.Len(t, merged, 4)
	assert.Equal(t, persist.BlockNumber(5), merged[0].BlockNumber)
	assert.Equal(t, uint(0), merged[2].LogIndex)
	assert.Equal(t, uint(1), merged[3].LogIndex)
}

func TestRetryableLogErr(t *testing.T) {
	assert.True(t, retryableLogErr(errors.New("query Range Is Too Large")))
	assert.True(t, retryableLogErr(errors.New("request timed out")))
	assert.True(t, retryableLogErr(errors.New("missing block at number 123")))
	assert.False(t, retryableLogErr(errors.New("invalid argument")))
	assert.False(t, retryableLogErr(nil))
}
