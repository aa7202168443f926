package points

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1hive/gardens-points/service/persist"
)

func TestAggregateMerge(t *testing.T) {
	agg := NewAggregate()
	a := persist.NewAddress("0xaa")
	b := persist.NewAddress("0xbb")

	agg.Merge(&ChainResult{
		ChainID:         100,
		Totals:          map[persist.Address]*WalletTotals{a: {FundUSD: 40}},
		GovernanceStake: map[persist.Address]float64{b: 5},
		BonusMembers:    []persist.Address{b},
	})
	agg.Merge(&ChainResult{
		ChainID: 137,
		Totals:  map[persist.Address]*WalletTotals{a: {FundUSD: 10, StreamUSD: 25}},
	})

	assert.InDelta(t, 50.0, agg.Totals[a].FundUSD, 1e-9)
	assert.InDelta(t, 25.0, agg.Totals[a].StreamUSD, 1e-9)
	assert.InDelta(t, 5.0, agg.GovernanceStake[b], 1e-9)
	assert.True(t, agg.BonusMembers[b])
	assert.Equal(t, []persist.Address{a, b}, agg.AllAddresses())
}

func TestBuildTargetsFloorsAndDrops(t *testing.T) {
	v := multiChainForTest()
	v.ExcludedWallets = map[persist.Address]bool{persist.NewAddress("0xee"): true}

	agg := NewAggregate()
	funder := persist.NewAddress("0xaa")
	dust := persist.NewAddress("0xbb")
	excluded := persist.NewAddress("0xee")
	follower := persist.NewAddress("0xcc")
	bonusMember := persist.NewAddress("0xdd")

	agg.Totals[funder] = &WalletTotals{FundUSD: 50.7, StreamUSD: 12.2}
	agg.Totals[dust] = &WalletTotals{FundUSD: 9.99}
	agg.Totals[excluded] = &WalletTotals{FundUSD: 500}
	agg.FollowerWallets[follower] = true
	agg.GovernanceStake[bonusMember] = 0.3
	agg.BonusMembers[bonusMember] = true

	targets := BuildTargets(v, agg)
	byAddr := map[persist.Address]PointTarget{}
	for _, tt := range targets {
		byAddr[tt.Address] = tt
	}

	require.Len(t, targets, 3)
	assert.Equal(t, int64(50), byAddr[funder].FundPoints)
	assert.Equal(t, int64(12), byAddr[funder].StreamPoints)
	assert.Equal(t, int64(62), byAddr[funder].TotalPoints)
	assert.NotContains(t, byAddr, dust, "sub-threshold wallets never make the list")
	assert.NotContains(t, byAddr, excluded)
	assert.Equal(t, int64(1), byAddr[follower].FarcasterPoints)
	assert.Equal(t, int64(1), byAddr[bonusMember].GovernancePoints, "bonus members floor at one point")
}

func TestBuildReportsChecksum(t *testing.T) {
	funder := persist.NewAddress("0xaa")
	targets := []PointTarget{{
		Address:     funder,
		FundPoints:  50,
		TotalPoints: 50,
		FundUSD:     50,
	}}
	identities := map[persist.Address]Identity{
		funder: {EnsName: "funder.eth", FarcasterUsername: "funder"},
	}
	activities := map[persist.Address][]persist.WalletActivity{
		funder: {{Wallet: funder, ChainID: 100, Source: "fund", AmountUSD: 50}},
	}

	reports := BuildReports(targets, identities, activities)
	require.Len(t, reports, 1)
	assert.Equal(t, "0xaa|50|0|0|0|50", reports[0].Checksum)
	assert.Equal(t, "funder.eth", reports[0].EnsName)
	assert.Equal(t, "funder", reports[0].FarcasterUser)
	require.Len(t, reports[0].Activities, 1)
	assert.Equal(t, "fund", reports[0].Activities[0].Source)
}

func TestBuildCSV(t *testing.T) {
	reports := []WalletReport{
		{WalletBreakdown: persist.WalletBreakdown{
			Address: "0xaa", TotalPoints: 62, FundPoints: 50, StreamPoints: 12,
		}},
		{WalletBreakdown: persist.WalletBreakdown{
			Address: "0xbb", TotalPoints: 4, GovernancePoints: 3, FarcasterPoints: 1,
		}},
	}

	csv := BuildCSV(reports)
	lines := strings.Split(csv, "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "Wallet,Total Pts,Fund Pts,Stream Pts,Superfluid Activity Pts,Governance Stake Pts,Farcaster Pts", lines[0])
	assert.Equal(t, "0xaa,62,50,12,0,0", lines[1])
	assert.Equal(t, "0xbb,4,0,0,3,1", lines[2])
}

func TestSnapshotWallets(t *testing.T) {
	reports := []WalletReport{{
		WalletBreakdown: persist.WalletBreakdown{Address: "0xaa", TotalPoints: 5},
		FundUSD:         50,
		Checksum:        "0xaa|0|0|0|0|5",
	}}
	wallets := SnapshotWallets(reports)
	require.Len(t, wallets, 1)
	assert.Equal(t, persist.WalletBreakdown{Address: "0xaa", TotalPoints: 5}, wallets[0])
}
