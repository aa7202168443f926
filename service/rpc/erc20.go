package rpc

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/1hive/gardens-points/service/persist"
)

var (
	decimalsSelector = common.Hex2Bytes("313ce567")
	symbolSelector   = common.Hex2Bytes("95d89b41")
)

// TokenDecimals reads decimals() from an ERC-20 contract.
func TokenDecimals(ctx context.Context, client ChainClient, token persist.Address) (uint8, error) {
	to := token.Common()
	ret, err := client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: decimalsSelector}, nil)
	if err != nil {
		return 0, fmt.Errorf("decimals() on %s: %w", token, err)
	}
	if len(ret) == 0 {
		return 0, fmt.Errorf("decimals() on %s: empty return", token)
	}
	return uint8(new(big.Int).SetBytes(ret).Uint64()), nil
}

// TokenSymbol reads symbol() from an ERC-20 contract. Handles both the
// string ABI encoding and the legacy bytes32 one.
func TokenSymbol(ctx context.Context, client ChainClient, token persist.Address) (string, error) {
	to := token.Common()
	ret, err := client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: symbolSelector}, nil)
	if err != nil {
		return "", fmt.Errorf("symbol() on %s: %w", token, err)
	}
	if len(ret) == 32 {
		return strings.TrimRight(string(ret), "\x00"), nil
	}
	if len(ret) >= 64 {
		length := new(big.Int).SetBytes(ret[32:64]).Uint64()
		if 64+length <= uint64(len(ret)) {
			return string(ret[64 : 64+length]), nil
		}
	}
	return "", fmt.Errorf("symbol() on %s: unexpected return of %d bytes", token, len(ret))
}
