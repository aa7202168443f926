package points

import (
	"math"
	"strings"

	"github.com/1hive/gardens-points/env"
	"github.com/1hive/gardens-points/service/persist"
)

// Variant carries the literal constants of one campaign route. The two
// campaigns were tuned independently, so nothing here is derived.
type Variant struct {
	Name         string
	TargetChains []persist.ChainID

	// BonusCommunity contributions are multiplied as they accrue, again
	// on the community entry, and once more at the stake split.
	BonusCommunity  persist.Address
	BonusChain      persist.ChainID
	BonusMultiplier float64

	// TokenFilter restricts pools to one funding token. Zero accepts all.
	TokenFilter persist.Address
	// TokenDenominated skips the price oracle and scores raw token
	// amounts at a unit price.
	TokenDenominated bool

	MinTransferUSD     float64
	MinStreamSenderUSD float64
	// MinPointsUSD zeroes a category whose accrued value is below it.
	MinPointsUSD float64
	// PointDivisor converts accrued value to points before flooring.
	PointDivisor float64
	// GovernanceBonusFloor grants bonus-community members at least one
	// governance point whenever they accrued any stake value at all.
	GovernanceBonusFloor bool

	SnapshotName string
	// BaseSnapshotName is the warm-start fallback read when the variant
	// has never pinned a snapshot of its own.
	BaseSnapshotName    string
	SnapshotSeedCID     string
	BaseSnapshotSeedCID string
	RunLogName          string

	FarcasterUsername string
	ExcludedWallets   map[persist.Address]bool
	// BackfillUsernames resolves missing Farcaster usernames through the
	// verification lookup for wallets outside the follower set.
	BackfillUsernames bool

	LedgerAPIKey     string
	LedgerCampaignID int64
	DryRun           bool

	NotionDatabaseID   string
	NotionDataSourceID string
}

// MultiChain is the USD-denominated campaign across all production chains.
func MultiChain() Variant {
	multiplier := env.GetFloat64("SUPERFLUID_BONUS_MULTIPLIER")
	if multiplier <= 0 {
		multiplier = 3
	}
	return Variant{
		Name:                 "superfluid-points",
		TargetChains:         []persist.ChainID{137, 42220, 8453, 100, 42161, 10},
		BonusCommunity:       persist.NewAddress("0xec83d957f8aa4e9601bc74608ebcbc862eca52ab"),
		BonusChain:           8453,
		BonusMultiplier:      multiplier,
		MinTransferUSD:       10,
		MinStreamSenderUSD:   10,
		MinPointsUSD:         10,
		PointDivisor:         1,
		GovernanceBonusFloor: true,
		SnapshotName:         "superfluid-activity-points",
		BaseSnapshotName:     "superfluid-activity-points",
		SnapshotSeedCID:      env.GetString("SUPERFLUID_POINTS_SNAPSHOT_CID"),
		BaseSnapshotSeedCID:  env.GetString("SUPERFLUID_POINTS_SNAPSHOT_CID"),
		RunLogName:           "superfluid-points-run-logs",
		FarcasterUsername:    env.GetString("FARCASTER_GARDENS_USERNAME"),
		ExcludedWallets:      parseExcludedWallets(env.GetString("SUPERFLUID_EXCLUDE_WALLETS")),
		LedgerAPIKey:         env.GetString("SUPERFLUID_POINT_API_KEY"),
		LedgerCampaignID:     env.GetInt64("SUPERFLUID_POINT_SYSTEM_ID"),
		DryRun:               env.GetBool("STACK_DRY_RUN"),
		NotionDatabaseID:     env.GetString("NOTION_DB_ID"),
		NotionDataSourceID:   env.GetString("NOTION_DATA_SOURCE_ID"),
	}
}

// GoodDollar is the token-denominated campaign on Celo. Points floor by 1000
// tokens, no minimums apply, and the bonus community doubles value the same
// way the USD campaign triples it.
func GoodDollar() Variant {
	snapshotCID := env.GetString("SUPERFLUID_GD_POINTS_SNAPSHOT_CID")
	if snapshotCID == "" {
		snapshotCID = env.GetString("SUPERFLUID_POINTS_SNAPSHOT_CID")
	}
	return Variant{
		Name:                "superfluid-points-gd",
		TargetChains:        []persist.ChainID{42220},
		BonusCommunity:      persist.NewAddress("0xf42c9ca2b10010142e2bac34ebdddb0b82177684"),
		BonusChain:          42220,
		BonusMultiplier:     2,
		TokenFilter:         persist.NewAddress("0x62b8b11039fcfe5ab0c56e502b1c372a3d2a9c7a"),
		TokenDenominated:    true,
		PointDivisor:        1000,
		SnapshotName:        "superfluid-activity-points-gd",
		BaseSnapshotName:    "superfluid-activity-points",
		SnapshotSeedCID:     snapshotCID,
		BaseSnapshotSeedCID: env.GetString("SUPERFLUID_POINTS_SNAPSHOT_CID"),
		RunLogName:          "superfluid-points-run-logs-gd",
		FarcasterUsername:   gdFarcasterUsername(),
		ExcludedWallets:     parseExcludedWallets(env.GetString("SUPERFLUID_GD_EXCLUDE_WALLETS")),
		BackfillUsernames:   true,
		LedgerAPIKey:        env.GetString("SUPERFLUID_POINT_GD_API_KEY"),
		LedgerCampaignID:    env.GetInt64("SUPERFLUID_POINT_GD_SYSTEM_ID"),
		DryRun:              gdDryRun(),
		NotionDatabaseID:    env.GetString("NOTION_GD_DB_ID"),
		NotionDataSourceID:  env.GetString("NOTION_GD_DATA_SOURCE_ID"),
	}
}

func gdFarcasterUsername() string {
	if u := env.GetString("FARCASTER_GOODDOLLAR_USERNAME"); u != "" {
		return u
	}
	return "gooddollar"
}

func gdDryRun() bool {
	for _, key := range []string{"SUPERFLUID_POINT_GD_DRY_RUN", "STACK_GD_DRY_RUN", "STACK_DRY_RUN"} {
		if v := env.GetString(key); v != "" {
			return strings.EqualFold(v, "true")
		}
	}
	return false
}

func parseExcludedWallets(raw string) map[persist.Address]bool {
	out := map[persist.Address]bool{}
	for _, part := range strings.Split(raw, ",") {
		addr := persist.NewAddress(part)
		if strings.HasPrefix(addr.String(), "0x") {
			out[addr] = true
		}
	}
	return out
}

// IsBonusCommunity reports whether the community gets the multiplier.
func (v Variant) IsBonusCommunity(chainID persist.ChainID, communityID persist.Address) bool {
	return chainID == v.BonusChain && !communityID.IsZero() && communityID == v.BonusCommunity
}

// AccrualBonus is the multiplier applied to individual contributions as they
// accrue into a pool belonging to communityID.
func (v Variant) AccrualBonus(chainID persist.ChainID, communityID persist.Address) float64 {
	if v.IsBonusCommunity(chainID, communityID) {
		return v.BonusMultiplier
	}
	return 1
}

// FundPoints floors the accrued funding value into points.
func (v Variant) FundPoints(usd float64) int64 {
	if usd < v.MinPointsUSD {
		return 0
	}
	return int64(math.Floor(usd / v.PointDivisor))
}

// StreamPoints floors the accrued stream value into points.
func (v Variant) StreamPoints(usd float64) int64 {
	if usd < v.MinPointsUSD {
		return 0
	}
	return int64(math.Floor(usd / v.PointDivisor))
}

// GovernancePoints floors the governance-stake share into points.
// Bonus-community members never floor to zero once they accrued anything.
func (v Variant) GovernancePoints(raw float64, bonusMember bool) int64 {
	if raw <= 0 {
		return 0
	}
	pts := int64(math.Floor(raw / v.PointDivisor))
	if v.GovernanceBonusFloor && bonusMember && pts < 1 {
		pts = 1
	}
	return pts
}

// FarcasterPoints grants one point per follower primary wallet.
func (v Variant) FarcasterPoints(follower bool) int64 {
	if follower {
		return 1
	}
	return 0
}
