package rpc

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// ChainClient is the slice of the ethclient surface the pipeline needs.
// *ethclient.Client satisfies it; tests swap in fakes.
type ChainClient interface {
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

var _ ChainClient = (*ethclient.Client)(nil)

// Dial connects to an RPC endpoint.
func Dial(ctx context.Context, url string) (*ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", url, err)
	}
	return client, nil
}

func headerTime(ctx context.Context, client ChainClient, block uint64) (int64, error) {
	h, err := client.HeaderByNumber(ctx, new(big.Int).SetUint64(block))
	if err != nil {
		return 0, err
	}
	return int64(h.Time), nil
}

// FindBlockAtOrAfter returns the lowest block in [lowerBound, upperBound]
// whose timestamp is >= target. When every block in the range is earlier it
// returns upperBound.
func FindBlockAtOrAfter(ctx context.Context, client ChainClient, target int64, lowerBound, upperBound uint64) (uint64, error) {
	low, high := lowerBound, upperBound
	for low < high {
		mid := low + (high-low)/2
		ts, err := headerTime(ctx, client, mid)
		if err != nil {
			return 0, fmt.Errorf("header at %d: %w", mid, err)
		}
		if ts >= target {
			high = mid
		} else {
			low = mid + 1
		}
	}
	return high, nil
}

// FindBlockAtOrBefore returns the highest block in [lowerBound, upperBound]
// whose timestamp is <= target. When every block in the range is later it
// returns lowerBound.
func FindBlockAtOrBefore(ctx context.Context, client ChainClient, target int64, lowerBound, upperBound uint64) (uint64, error) {
	low, high := lowerBound, upperBound
	for low < high {
		mid := low + (high-low+1)/2
		ts, err := headerTime(ctx, client, mid)
		if err != nil {
			return 0, fmt.Errorf("header at %d: %w", mid, err)
		}
		if ts <= target {
			low = mid
		} else {
			high = mid - 1
		}
	}
	return low, nil
}
