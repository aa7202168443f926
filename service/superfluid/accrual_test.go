package superfluid

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/1hive/gardens-points/service/persist"
)

const (
	windowStart = int64(1_000_000)
	windowEnd   = int64(1_003_600)
	// oneTokenPerSecond is 1e18 wei/s with 18 decimals.
	oneTokenPerSecond = "1000000000000000000"
)

func TestAccrueBySender(t *testing.T) {
	alice := persist.NewAddress("0x00000000000000000000000000000000000000a1")
	bob := persist.NewAddress("0x00000000000000000000000000000000000000b2")

	t.Run("pre-window update sets the rate without accruing", func(t *testing.T) {
		res := AccrueBySender(AccrualParams{
			Events: []persist.FlowEvent{
				{Sender: alice, Timestamp: windowStart - 500, FlowRate: oneTokenPerSecond},
			},
			TokenDecimals: 18,
			PriceUSD:      2,
			WindowStart:   windowStart,
			WindowEnd:     windowEnd,
			Now:           windowEnd,
		})
		// 3600s inside the window at $2/token-second, nothing before it.
		assert.InDelta(t, 7200.0, res.PerSender[alice], 0.001)
		assert.InDelta(t, 7200.0, res.TotalUSD, 0.001)
	})

	t.Run("rate changes split the window into segments", func(t *testing.T) {
		res := AccrueBySender(AccrualParams{
			Events: []persist.FlowEvent{
				{Sender: alice, Timestamp: windowStart, FlowRate: oneTokenPerSecond},
				{Sender: alice, Timestamp: windowStart + 1000, FlowRate: "2000000000000000000"},
				{Sender: alice, Timestamp: windowStart + 2000, FlowRate: "0"},
			},
			TokenDecimals: 18,
			PriceUSD:      1,
			WindowStart:   windowStart,
			WindowEnd:     windowEnd,
			Now:           windowEnd,
		})
		// 1000s at 1 t/s, 1000s at 2 t/s, then closed.
		assert.InDelta(t, 3000.0, res.PerSender[alice], 0.001)
	})

	t.Run("open stream is capped at the current time", func(t *testing.T) {
		res := AccrueBySender(AccrualParams{
			Events: []persist.FlowEvent{
				{Sender: alice, Timestamp: windowStart + 100, FlowRate: oneTokenPerSecond},
			},
			TokenDecimals: 18,
			PriceUSD:      1,
			WindowStart:   windowStart,
			WindowEnd:     windowEnd,
			Now:           windowStart + 600,
		})
		assert.InDelta(t, 500.0, res.PerSender[alice], 0.001)
	})

	t.Run("senders below the minimum count only toward the unfiltered total", func(t *testing.T) {
		res := AccrueBySender(AccrualParams{
			Events: []persist.FlowEvent{
				{Sender: alice, Timestamp: windowStart, FlowRate: oneTokenPerSecond},
				// Bob streams 5e15 wei/s for the hour: $18 total at $1.
				{Sender: bob, Timestamp: windowStart, FlowRate: "5000000000000000"},
			},
			TokenDecimals: 18,
			PriceUSD:      1,
			WindowStart:   windowStart,
			WindowEnd:     windowEnd,
			MinSenderUSD:  100,
			Now:           windowEnd,
		})
		assert.Contains(t, res.PerSender, alice)
		assert.NotContains(t, res.PerSender, bob)
		assert.InDelta(t, 3600.0, res.TotalUSD, 0.001)
		assert.InDelta(t, 3618.0, res.TotalUSDAll, 0.001)
	})

	t.Run("a stream closed before the window accrues nothing", func(t *testing.T) {
		res := AccrueBySender(AccrualParams{
			Events: []persist.FlowEvent{
				{Sender: alice, Timestamp: windowStart - 2000, FlowRate: oneTokenPerSecond},
				{Sender: alice, Timestamp: windowStart - 1000, FlowRate: "0"},
			},
			TokenDecimals: 18,
			PriceUSD:      1,
			WindowStart:   windowStart,
			WindowEnd:     windowEnd,
			Now:           windowEnd,
		})
		assert.Empty(t, res.PerSender)
		assert.Zero(t, res.TotalUSDAll)
	})
}
