package persist

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Address is a lowercased hex EVM address. All map keys and cache entries use
// this form so that lookups are case-insensitive.
type Address string

func NewAddress(s string) Address {
	return Address(strings.ToLower(strings.TrimSpace(s)))
}

func (a Address) String() string { return string(a) }

func (a Address) Common() common.Address {
	return common.HexToAddress(string(a))
}

// IsZero reports whether a is empty or the zero address.
func (a Address) IsZero() bool {
	return a == "" || a == "0x0000000000000000000000000000000000000000"
}

// ChainID is a numeric EVM chain identifier.
type ChainID int64

func (c ChainID) String() string { return fmt.Sprintf("%d", c) }

// BlockNumber is a block height on some chain.
type BlockNumber uint64

func (b BlockNumber) Uint64() uint64 { return uint64(b) }

// TransferLog is one decoded ERC-20 Transfer event. Value is kept as a
// decimal string so cache payloads round-trip without precision loss.
type TransferLog struct {
	TxHash      string      `json:"txHash"`
	LogIndex    uint        `json:"logIndex"`
	BlockNumber BlockNumber `json:"blockNumber"`
	From        Address     `json:"from"`
	To          Address     `json:"to"`
	Value       string      `json:"value"`
}

// Key identifies a log uniquely within a chain for dedup on cache merges.
func (t TransferLog) Key() string {
	return fmt.Sprintf("%s_%d", t.TxHash, t.LogIndex)
}

// ValueBig parses the decimal amount; malformed values read as zero.
func (t TransferLog) ValueBig() *big.Int {
	v, ok := new(big.Int).SetString(t.Value, 10)
	if !ok {
		return big.NewInt(0)
	}
	return v
}

// TransferCacheKey builds the per-token, per-recipient cache entry key.
func TransferCacheKey(token, recipient Address) string {
	return fmt.Sprintf("%s_%s", token, recipient)
}

// TransferLogCacheEntry is the cached log window for one token/recipient pair.
type TransferLogCacheEntry struct {
	StartBlock BlockNumber   `json:"startBlock"`
	EndBlock   BlockNumber   `json:"endBlock"`
	Logs       []TransferLog `json:"logs"`
}

// FlowEvent is one Superfluid flow-rate update, ordered by Timestamp.
type FlowEvent struct {
	Sender    Address `json:"sender"`
	Timestamp int64   `json:"timestamp"`
	// FlowRate is the per-second token rate in wei after this update.
	FlowRate string `json:"flowRate"`
}

func (f FlowEvent) FlowRateBig() *big.Int {
	v, ok := new(big.Int).SetString(f.FlowRate, 10)
	if !ok {
		return big.NewInt(0)
	}
	return v
}

// Member is one staked member of a community.
type Member struct {
	Wallet       Address `json:"wallet"`
	StakedTokens string  `json:"stakedTokens"`
}

func (m Member) StakedBig() *big.Int {
	v, ok := new(big.Int).SetString(m.StakedTokens, 10)
	if !ok {
		return big.NewInt(0)
	}
	return v
}

// WalletActivity is one attributed accrual line used in the response debug
// payload and for the governance split.
type WalletActivity struct {
	Wallet       Address `json:"wallet"`
	ChainID      ChainID `json:"chainId"`
	Source       string  `json:"source"`
	AmountUSD    float64 `json:"amountUsd"`
	Points       int64   `json:"points"`
	SharePercent float64 `json:"sharePercent,omitempty"`
}

// WalletBreakdown is the final per-wallet score across categories.
type WalletBreakdown struct {
	Address          Address `json:"address"`
	FundPoints       int64   `json:"fundPoints"`
	StreamPoints     int64   `json:"streamPoints"`
	GovernancePoints int64   `json:"governanceStakePoints"`
	FarcasterPoints  int64   `json:"farcasterPoints"`
	TotalPoints      int64   `json:"totalPoints"`
	EnsName          string  `json:"ensName,omitempty"`
	EnsAvatar        string  `json:"ensAvatar,omitempty"`
	FarcasterUser    string  `json:"farcasterUsername,omitempty"`
}
