package points

import (
	"sort"
	"strconv"
	"strings"

	"github.com/1hive/gardens-points/service/notion"
	"github.com/1hive/gardens-points/service/persist"
)

// Aggregate merges every chain's contribution plus the Farcaster follower
// sets into one campaign-wide view.
type Aggregate struct {
	Totals           map[persist.Address]*WalletTotals
	GovernanceStake  map[persist.Address]float64
	BonusMembers     map[persist.Address]bool
	FollowerWallets  map[persist.Address]bool
	DiscardedWallets map[persist.Address]bool
	Activities       map[persist.Address][]persist.WalletActivity
}

func NewAggregate() *Aggregate {
	return &Aggregate{
		Totals:           map[persist.Address]*WalletTotals{},
		GovernanceStake:  map[persist.Address]float64{},
		BonusMembers:     map[persist.Address]bool{},
		FollowerWallets:  map[persist.Address]bool{},
		DiscardedWallets: map[persist.Address]bool{},
		Activities:       map[persist.Address][]persist.WalletActivity{},
	}
}

func (a *Aggregate) Merge(res *ChainResult) {
	for addr, totals := range res.Totals {
		agg := a.Totals[addr]
		if agg == nil {
			agg = &WalletTotals{}
			a.Totals[addr] = agg
		}
		agg.FundUSD += totals.FundUSD
		agg.StreamUSD += totals.StreamUSD
	}
	for addr, pts := range res.GovernanceStake {
		a.GovernanceStake[addr] += pts
	}
	for _, addr := range res.BonusMembers {
		a.BonusMembers[addr] = true
	}
	for addr, activities := range res.Activities {
		a.Activities[addr] = append(a.Activities[addr], activities...)
	}
}

// AllAddresses is the sorted union of every wallet that touched the campaign,
// including zero-point ones so retractions and identity lookups see them.
func (a *Aggregate) AllAddresses() []persist.Address {
	seen := map[persist.Address]bool{}
	add := func(addr persist.Address) {
		if !addr.IsZero() {
			seen[addr] = true
		}
	}
	for addr := range a.Totals {
		add(addr)
	}
	for addr := range a.GovernanceStake {
		add(addr)
	}
	for addr := range a.BonusMembers {
		add(addr)
	}
	for addr := range a.FollowerWallets {
		add(addr)
	}
	for addr := range a.DiscardedWallets {
		add(addr)
	}
	for addr := range a.Activities {
		add(addr)
	}
	out := make([]persist.Address, 0, len(seen))
	for addr := range seen {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// BuildTargets floors accrued value into per-category points, applying the
// exclusion list and dropping wallets that end at zero.
func BuildTargets(v Variant, a *Aggregate) []PointTarget {
	var targets []PointTarget
	for _, addr := range a.AllAddresses() {
		if v.ExcludedWallets[addr] {
			continue
		}
		totals := a.Totals[addr]
		if totals == nil {
			totals = &WalletTotals{}
		}
		target := PointTarget{
			Address:          addr,
			FundPoints:       v.FundPoints(totals.FundUSD),
			StreamPoints:     v.StreamPoints(totals.StreamUSD),
			GovernancePoints: v.GovernancePoints(a.GovernanceStake[addr], a.BonusMembers[addr]),
			FarcasterPoints:  v.FarcasterPoints(a.FollowerWallets[addr]),
			FundUSD:          totals.FundUSD,
			StreamUSD:        totals.StreamUSD,
		}
		target.TotalPoints = target.FundPoints + target.StreamPoints + target.GovernancePoints + target.FarcasterPoints
		if target.TotalPoints <= 0 {
			continue
		}
		targets = append(targets, target)
	}
	return targets
}

// WalletReport is the response-facing breakdown: the snapshot row plus the
// accrued value and audit trail behind it.
type WalletReport struct {
	persist.WalletBreakdown
	FundUSD    float64                  `json:"fundUsd"`
	StreamUSD  float64                  `json:"streamUsd"`
	Activities []persist.WalletActivity `json:"activities"`
	Checksum   string                   `json:"checksum"`
}

// Identity is the resolved off-chain identity attached to a wallet.
type Identity struct {
	EnsName           string
	EnsAvatar         string
	FarcasterUsername string
}

// BuildReports attaches identities and activities to the point targets.
func BuildReports(targets []PointTarget, identities map[persist.Address]Identity, activities map[persist.Address][]persist.WalletActivity) []WalletReport {
	reports := make([]WalletReport, 0, len(targets))
	for _, t := range targets {
		id := identities[t.Address]
		b := persist.WalletBreakdown{
			Address:          t.Address,
			FundPoints:       t.FundPoints,
			StreamPoints:     t.StreamPoints,
			GovernancePoints: t.GovernancePoints,
			FarcasterPoints:  t.FarcasterPoints,
			TotalPoints:      t.TotalPoints,
			EnsName:          id.EnsName,
			EnsAvatar:        id.EnsAvatar,
			FarcasterUser:    id.FarcasterUsername,
		}
		reports = append(reports, WalletReport{
			WalletBreakdown: b,
			FundUSD:         t.FundUSD,
			StreamUSD:       t.StreamUSD,
			Activities:      activities[t.Address],
			Checksum:        notion.Checksum(b),
		})
	}
	return reports
}

// BuildCSV renders the fallback export consumed when the leaderboard sync is
// down. The header is part of the external contract; do not reorder it.
func BuildCSV(reports []WalletReport) string {
	var b strings.Builder
	b.WriteString("Wallet,Total Pts,Fund Pts,Stream Pts,Superfluid Activity Pts,Governance Stake Pts,Farcaster Pts")
	for _, r := range reports {
		b.WriteString("\n")
		b.WriteString(strings.Join([]string{
			r.Address.String(),
			strconv.FormatInt(r.TotalPoints, 10),
			strconv.FormatInt(r.FundPoints, 10),
			strconv.FormatInt(r.StreamPoints, 10),
			strconv.FormatInt(r.GovernancePoints, 10),
			strconv.FormatInt(r.FarcasterPoints, 10),
		}, ","))
	}
	return b.String()
}

// SnapshotWallets strips the reports down to the pinned snapshot rows.
func SnapshotWallets(reports []WalletReport) []persist.WalletBreakdown {
	wallets := make([]persist.WalletBreakdown, 0, len(reports))
	for _, r := range reports {
		wallets = append(wallets, r.WalletBreakdown)
	}
	return wallets
}
