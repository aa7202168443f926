package superfluid

import (
	"math/big"
	"sort"
	"time"

	"github.com/1hive/gardens-points/service/persist"
)

// AccrualParams describes one pool's stream accrual over the campaign window.
type AccrualParams struct {
	Events        []persist.FlowEvent
	TokenDecimals uint8
	PriceUSD      float64
	WindowStart   int64
	WindowEnd     int64
	// MinSenderUSD drops senders whose accrued total is below it from
	// PerSender and TotalUSD. Zero keeps everyone.
	MinSenderUSD float64
	// Now caps open-ended streams; zero means the wall clock.
	Now int64
}

// AccrualResult is the per-sender accrued value.
type AccrualResult struct {
	PerSender map[persist.Address]float64
	// TotalUSD sums senders at or above the minimum; TotalUSDAll sums
	// everyone and feeds the community split.
	TotalUSD    float64
	TotalUSDAll float64
}

type rateUpdate struct {
	timestamp int64
	flowRate  *big.Int
}

// AccrueBySender integrates per-second flow rates over the window. Updates at
// or before the window start set the running rate without accruing; the final
// segment runs to min(now, windowEnd) so live streams count up to the moment
// of the run.
func AccrueBySender(p AccrualParams) AccrualResult {
	now := p.Now
	if now == 0 {
		now = time.Now().Unix()
	}
	effectiveEnd := p.WindowEnd
	if now < effectiveEnd {
		effectiveEnd = now
	}

	bySender := map[persist.Address][]rateUpdate{}
	for _, ev := range p.Events {
		if ev.Sender.IsZero() {
			continue
		}
		bySender[ev.Sender] = append(bySender[ev.Sender], rateUpdate{
			timestamp: ev.Timestamp,
			flowRate:  ev.FlowRateBig(),
		})
	}

	scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(p.TokenDecimals)), nil))
	segmentUSD := func(rate *big.Int, seconds int64) float64 {
		streamed := new(big.Int).Mul(rate, big.NewInt(seconds))
		amount, _ := new(big.Float).Quo(new(big.Float).SetInt(streamed), scale).Float64()
		return amount * p.PriceUSD
	}

	out := AccrualResult{PerSender: map[persist.Address]float64{}}
	for sender, updates := range bySender {
		sort.Slice(updates, func(i, j int) bool { return updates[i].timestamp < updates[j].timestamp })

		lastTs := p.WindowStart
		lastRate := big.NewInt(0)
		total := 0.0

		for _, upd := range updates {
			if upd.timestamp <= p.WindowStart {
				lastRate = upd.flowRate
				lastTs = p.WindowStart
				continue
			}
			segEnd := upd.timestamp
			if segEnd > effectiveEnd {
				segEnd = effectiveEnd
			}
			if lastTs < segEnd && lastRate.Sign() > 0 {
				total += segmentUSD(lastRate, segEnd-lastTs)
			}
			lastTs = upd.timestamp
			lastRate = upd.flowRate
			if lastTs >= effectiveEnd {
				break
			}
		}
		if lastTs < effectiveEnd && lastRate.Sign() > 0 {
			total += segmentUSD(lastRate, effectiveEnd-lastTs)
		}

		if total > 0 {
			out.TotalUSDAll += total
			if total >= p.MinSenderUSD {
				out.TotalUSD += total
				out.PerSender[sender] = total
			}
		}
	}
	return out
}
