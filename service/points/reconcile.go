package points

import (
	"sort"

	"github.com/1hive/gardens-points/service/ledger"
	"github.com/1hive/gardens-points/service/persist"
)

// baseEventNames are the categories this pipeline grants. History can carry
// additional names; those are reconciled to zero rather than dropped.
var baseEventNames = []string{"fundPoints", "streamPoints", "governanceStakePoints", "farcasterPoints"}

// PointTarget is the desired ledger state for one wallet.
type PointTarget struct {
	Address          persist.Address `json:"address"`
	FundPoints       int64           `json:"fundPoints"`
	StreamPoints     int64           `json:"streamPoints"`
	GovernancePoints int64           `json:"governanceStakePoints"`
	FarcasterPoints  int64           `json:"farcasterPoints"`
	TotalPoints      int64           `json:"totalPoints"`
	FundUSD          float64         `json:"fundUsd"`
	StreamUSD        float64         `json:"streamUsd"`
}

func (t PointTarget) pointsFor(category string) int64 {
	switch category {
	case "fundPoints":
		return t.FundPoints
	case "streamPoints":
		return t.StreamPoints
	case "governanceStakePoints":
		return t.GovernancePoints
	case "farcasterPoints":
		return t.FarcasterPoints
	default:
		return 0
	}
}

// Update summarizes the reconciliation of one wallet for the response.
type Update struct {
	Address  persist.Address `json:"address"`
	Added    int64           `json:"added"`
	Total    int64           `json:"total"`
	Existing int64           `json:"existing"`
	Target   int64           `json:"target"`
}

// Reconciliation is the delta plan that moves the ledger to the targets.
type Reconciliation struct {
	Events  []ledger.Event
	Updates []Update
}

// Reconcile folds the ledger history into per-category totals and emits the
// per-category deltas that bring each wallet to its target. Wallets present
// in history but absent from the targets are retracted to zero, because
// accounts missing from a push keep their previous totals.
func Reconcile(history []ledger.Event, targets []PointTarget) Reconciliation {
	categories := append([]string{}, baseEventNames...)
	known := map[string]bool{}
	for _, name := range categories {
		known[name] = true
	}
	var extras []string
	for _, e := range history {
		if e.EventName != "" && !known[e.EventName] {
			known[e.EventName] = true
			extras = append(extras, e.EventName)
		}
	}
	sort.Strings(extras)
	categories = append(categories, extras...)

	existing := map[persist.Address]map[string]int64{}
	var historyOrder []persist.Address
	for _, e := range history {
		if e.EventName == "" || e.Account.IsZero() {
			continue
		}
		byCategory := existing[e.Account]
		if byCategory == nil {
			byCategory = map[string]int64{}
			existing[e.Account] = byCategory
			historyOrder = append(historyOrder, e.Account)
		}
		byCategory[e.EventName] += e.Points
	}

	rec := Reconciliation{}
	targeted := map[persist.Address]bool{}
	for _, target := range targets {
		targeted[target.Address] = true
		byCategory := existing[target.Address]
		var added, existingTotal int64
		for _, pts := range byCategory {
			existingTotal += pts
		}
		for _, name := range categories {
			delta := target.pointsFor(name) - byCategory[name]
			if delta == 0 {
				continue
			}
			if delta > 0 {
				added += delta
			}
			rec.Events = append(rec.Events, ledger.Event{
				EventName: name,
				Account:   target.Address,
				Points:    delta,
				Metadata: map[string]any{
					"category": name,
					"target":   target.pointsFor(name),
					"existing": byCategory[name],
				},
			})
		}
		rec.Updates = append(rec.Updates, Update{
			Address:  target.Address,
			Added:    added,
			Total:    target.TotalPoints,
			Existing: existingTotal,
			Target:   target.TotalPoints,
		})
	}

	for _, account := range historyOrder {
		if targeted[account] {
			continue
		}
		byCategory := existing[account]
		var existingTotal int64
		for _, pts := range byCategory {
			existingTotal += pts
		}
		for _, name := range categories {
			if byCategory[name] == 0 {
				continue
			}
			rec.Events = append(rec.Events, ledger.Event{
				EventName: name,
				Account:   account,
				Points:    -byCategory[name],
				Metadata: map[string]any{
					"category": name,
					"target":   int64(0),
					"existing": byCategory[name],
				},
			})
		}
		rec.Updates = append(rec.Updates, Update{
			Address:  account,
			Existing: existingTotal,
		})
	}

	return rec
}
