package rpc

import (
	"context"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/1hive/gardens-points/service/logger"
	"github.com/1hive/gardens-points/service/persist"
)

// transferTopic is keccak256("Transfer(address,address,uint256)").
var transferTopic = common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")

const (
	maxLogRange = 10000
	minLogRange = 200
)

// retryableLogErr matches provider complaints that shrink, not abort, a
// getLogs call.
func retryableLogErr(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"range is too large", "timed out", "timeout", "block at number", "blocknotfound"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// LogFetcher pulls ERC-20 Transfer logs in adaptive chunks and maintains the
// per-token, per-recipient window cache that gets pinned between runs.
type LogFetcher struct {
	mu      sync.Mutex
	entries map[string]persist.TransferLogCacheEntry
	dirty   bool
}

func NewLogFetcher() *LogFetcher {
	return &LogFetcher{entries: map[string]persist.TransferLogCacheEntry{}}
}

// Hydrate loads a pinned cache payload. Transfer logs are immutable chain
// facts, so a campaign-version mismatch keeps the entries; the windows just
// get extended to cover the new campaign.
func (f *LogFetcher) Hydrate(cache persist.TransferLogCache) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k, v := range cache.Entries {
		f.entries[k] = v
	}
}

func (f *LogFetcher) Snapshot(campaignVersion string) (persist.TransferLogCache, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := persist.TransferLogCache{
		UpdatedAt:       time.Now().UnixMilli(),
		CampaignVersion: campaignVersion,
		Entries:         map[string]persist.TransferLogCacheEntry{},
	}
	for k, v := range f.entries {
		out.Entries[k] = v
	}
	return out, f.dirty
}

// TransfersTo returns all Transfer logs of token into recipient within
// [fromBlock, toBlock], serving from cache where the window is already
// covered and fetching only the uncovered edges.
func (f *LogFetcher) TransfersTo(ctx context.Context, client ChainClient, token, recipient persist.Address, fromBlock, toBlock uint64) ([]persist.TransferLog, error) {
	if latest, err := client.BlockNumber(ctx); err == nil && toBlock > latest {
		toBlock = latest
	}
	if fromBlock > toBlock {
		return nil, nil
	}

	key := persist.TransferCacheKey(token, recipient)
	f.mu.Lock()
	entry, ok := f.entries[key]
	f.mu.Unlock()

	if !ok {
		logs, err := f.fetchRange(ctx, client, token, recipient, fromBlock, toBlock)
		if err != nil {
			return nil, err
		}
		f.put(key, persist.TransferLogCacheEntry{
			StartBlock: persist.BlockNumber(fromBlock),
			EndBlock:   persist.BlockNumber(toBlock),
			Logs:       logs,
		})
		return logs, nil
	}

	merged := entry.Logs
	start, end := uint64(entry.StartBlock), uint64(entry.EndBlock)
	changed := false

	if fromBlock < start {
		gap, err := f.fetchRange(ctx, client, token, recipient, fromBlock, start-1)
		if err != nil {
			return nil, err
		}
		merged = mergeLogs(merged, gap)
		start = fromBlock
		changed = true
	}
	if toBlock > end {
		ext, err := f.fetchRange(ctx, client, token, recipient, end+1, toBlock)
		if err != nil {
			return nil, err
		}
		merged = mergeLogs(merged, ext)
		end = toBlock
		changed = true
	}
	if changed {
		f.put(key, persist.TransferLogCacheEntry{
			StartBlock: persist.BlockNumber(start),
			EndBlock:   persist.BlockNumber(end),
			Logs:       merged,
		})
	}

	out := make([]persist.TransferLog, 0, len(merged))
	for _, l := range merged {
		if uint64(l.BlockNumber) >= fromBlock && uint64(l.BlockNumber) <= toBlock {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *LogFetcher) put(key string, entry persist.TransferLogCacheEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[key] = entry
	f.dirty = true
}

// fetchRange walks [fromBlock, toBlock] with a chunk size that halves on
// range/timeout complaints. A chunk that still fails at the floor size is
// skipped so one unhealthy height cannot sink the whole run.
func (f *LogFetcher) fetchRange(ctx context.Context, client ChainClient, token, recipient persist.Address, fromBlock, toBlock uint64) ([]persist.TransferLog, error) {
	var out []persist.TransferLog
	chunk := uint64(maxLogRange)
	cursor := fromBlock
	for cursor <= toBlock {
		high := cursor + chunk - 1
		if high > toBlock {
			high = toBlock
		}
		logs, err := client.FilterLogs(ctx, ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(cursor),
			ToBlock:   new(big.Int).SetUint64(high),
			Addresses: []common.Address{token.Common()},
			Topics: [][]common.Hash{
				{transferTopic},
				nil,
				{common.BytesToHash(recipient.Common().Bytes())},
			},
		})
		if err != nil {
			if retryableLogErr(err) {
				if chunk > minLogRange {
					chunk = chunk / 2
					if chunk < minLogRange {
						chunk = minLogRange
					}
					continue
				}
				logger.For(ctx).Warnf("skipping log chunk %d-%d for %s: %s", cursor, high, token, err)
				cursor = high + 1
				continue
			}
			return nil, err
		}
		for _, l := range logs {
			out = append(out, decodeTransfer(l))
		}
		cursor = high + 1
	}
	return out, nil
}

func decodeTransfer(l types.Log) persist.TransferLog {
	t := persist.TransferLog{
		TxHash:      l.TxHash.Hex(),
		LogIndex:    l.Index,
		BlockNumber: persist.BlockNumber(l.BlockNumber),
		Value:       new(big.Int).SetBytes(l.Data).String(),
	}
	if len(l.Topics) > 1 {
		t.From = persist.NewAddress(common.BytesToAddress(l.Topics[1].Bytes()).Hex())
	}
	if len(l.Topics) > 2 {
		t.To = persist.NewAddress(common.BytesToAddress(l.Topics[2].Bytes()).Hex())
	}
	return t
}

// mergeLogs unions two log sets, deduping on txHash_logIndex and ordering by
// (blockNumber, logIndex).
func mergeLogs(a, b []persist.TransferLog) []persist.TransferLog {
	seen := map[string]bool{}
	out := make([]persist.TransferLog, 0, len(a)+len(b))
	for _, set := range [][]persist.TransferLog{a, b} {
		for _, l := range set {
			if seen[l.Key()] {
				continue
			}
			seen[l.Key()] = true
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BlockNumber != out[j].BlockNumber {
			return out[i].BlockNumber < out[j].BlockNumber
		}
		return out[i].LogIndex < out[j].LogIndex
	})
	return out
}
