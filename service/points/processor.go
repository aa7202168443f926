package points

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/1hive/gardens-points/service/logger"
	"github.com/1hive/gardens-points/service/persist"
	"github.com/1hive/gardens-points/service/subgraph"
	"github.com/1hive/gardens-points/service/superfluid"
)

// ChainBackend is the on-chain surface the processor needs from one chain.
type ChainBackend interface {
	BlockAtOrAfter(ctx context.Context, target int64) (uint64, error)
	BlockAtOrBefore(ctx context.Context, target int64) (uint64, error)
	// CreationBlock searches from lowerBound up to the chain head.
	CreationBlock(ctx context.Context, contract persist.Address, lowerBound uint64) (*persist.BlockNumber, error)
	TransfersTo(ctx context.Context, token, recipient persist.Address, fromBlock, toBlock uint64) ([]persist.TransferLog, error)
	TokenDecimals(ctx context.Context, token persist.Address) (uint8, error)
	TokenSymbol(ctx context.Context, token persist.Address) (string, error)
}

// GardensSource reads pools and communities from the gardens subgraph.
type GardensSource interface {
	Pools(ctx context.Context) ([]subgraph.Strategy, error)
	Communities(ctx context.Context) ([]subgraph.Community, error)
}

// StreamSource reads super tokens and flow updates from the Superfluid
// subgraph.
type StreamSource interface {
	ResolveSuperToken(ctx context.Context, token persist.Address) (*subgraph.SuperToken, error)
	FlowUpdates(ctx context.Context, receiver, token persist.Address) []persist.FlowEvent
}

// PriceSource quotes tokens in USD.
type PriceSource interface {
	USDPrice(ctx context.Context, chainID persist.ChainID, token persist.Address, symbol string) (float64, error)
}

// WalletTotals is one wallet's accrued value before flooring into points.
type WalletTotals struct {
	FundUSD   float64 `json:"fundUsd"`
	StreamUSD float64 `json:"streamUsd"`
}

// MissingPrice marks a pool token the oracle could not quote; its pool is
// skipped and surfaced in the response for a manual override.
type MissingPrice struct {
	Address persist.Address `json:"address"`
	Symbol  string          `json:"symbol"`
}

type FetchedPrice struct {
	Token    persist.Address `json:"token"`
	Symbol   string          `json:"symbol"`
	PriceUSD float64         `json:"priceUsd"`
}

// NativePool is a pool whose funding token already is a super token, so
// direct transfers count as funding.
type NativePool struct {
	PoolAddress persist.Address `json:"poolAddress"`
	Token       persist.Address `json:"token"`
}

type ProcessedPool struct {
	PoolAddress     persist.Address `json:"poolAddress"`
	Token           persist.Address `json:"token"`
	SuperfluidToken persist.Address `json:"superfluidToken,omitempty"`
	Title           string          `json:"title,omitempty"`
}

type ProcessedCommunity struct {
	CommunityID   persist.Address `json:"communityId"`
	CommunityName string          `json:"communityName,omitempty"`
	FundUSD       float64         `json:"fundUsd"`
	StreamUSD     float64         `json:"streamUsd"`
	Pools         []ProcessedPool `json:"pools"`
}

type BlockBounds struct {
	StartBlock uint64 `json:"startBlock"`
	EndBlock   uint64 `json:"endBlock"`
}

type ChainDebug struct {
	PoolsProcessed       int `json:"poolsProcessed"`
	FlowUpdateCount      int `json:"flowUpdateCount"`
	GovernanceStakeCount int `json:"governanceStakeCount"`
}

// ChainResult is everything one chain contributes to the campaign.
type ChainResult struct {
	ChainID            persist.ChainID
	Totals             map[persist.Address]*WalletTotals
	GovernanceStake    map[persist.Address]float64
	BonusMembers       []persist.Address
	Bounds             BlockBounds
	StreamTotalsByPool map[persist.Address]float64
	MissingPrices      []MissingPrice
	FetchedPrices      []FetchedPrice
	NativePools        []NativePool
	Communities        []ProcessedCommunity
	Activities         map[persist.Address][]persist.WalletActivity
	Debug              ChainDebug
}

// ChainProcessor accrues one chain's pools over the campaign window.
type ChainProcessor struct {
	Variant Variant
	ChainID persist.ChainID
	Backend ChainBackend
	Gardens GardensSource
	Streams StreamSource
	Prices  PriceSource
	// Now caps open streams; zero means the wall clock.
	Now func() time.Time
}

type communityInfo struct {
	id      persist.Address
	name    string
	members []persist.Member
}

type communityAccrual struct {
	fundUSD   float64
	streamUSD float64
	members   []persist.Member
	isBonus   bool
}

func (p *ChainProcessor) now() int64 {
	if p.Now != nil {
		return p.Now().Unix()
	}
	return time.Now().Unix()
}

// Process runs the full pool loop and community split for the window.
func (p *ChainProcessor) Process(ctx context.Context, windowStart, windowEnd int64) (*ChainResult, error) {
	ctx = logger.NewContextWithFields(ctx, logrus.Fields{"chainID": p.ChainID})

	startBlock, err := p.Backend.BlockAtOrAfter(ctx, windowStart)
	if err != nil {
		return nil, fmt.Errorf("resolving start block on chain %d: %w", p.ChainID, err)
	}
	endBlock, err := p.Backend.BlockAtOrBefore(ctx, windowEnd)
	if err != nil {
		return nil, fmt.Errorf("resolving end block on chain %d: %w", p.ChainID, err)
	}

	pools, err := p.Gardens.Pools(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching pools on chain %d: %w", p.ChainID, err)
	}
	communities, err := p.Gardens.Communities(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching communities on chain %d: %w", p.ChainID, err)
	}

	res := &ChainResult{
		ChainID:            p.ChainID,
		Totals:             map[persist.Address]*WalletTotals{},
		GovernanceStake:    map[persist.Address]float64{},
		Bounds:             BlockBounds{StartBlock: startBlock, EndBlock: endBlock},
		StreamTotalsByPool: map[persist.Address]float64{},
		Activities:         map[persist.Address][]persist.WalletActivity{},
	}

	communityByPool, bonusMembers := p.indexCommunities(communities)
	res.BonusMembers = bonusMembers

	superTokens := map[persist.Address]*subgraph.SuperToken{}
	superTokenSeen := map[persist.Address]bool{}
	decimals := map[persist.Address]uint8{}

	communityTotals := map[persist.Address]*communityAccrual{}
	processed := map[persist.Address]*ProcessedCommunity{}
	var communityOrder []persist.Address

	for _, pool := range pools {
		res.Debug.PoolsProcessed++
		if !p.Variant.TokenFilter.IsZero() && pool.Token != p.Variant.TokenFilter {
			continue
		}
		if pool.IsSignaling() {
			logger.For(ctx).Warnf("skipping signaling pool %s", pool.ID)
			continue
		}

		symbol := ""
		priceUSD := 1.0
		if p.Variant.TokenDenominated {
			symbol, _ = p.Backend.TokenSymbol(ctx, pool.Token)
		} else {
			symbol, err = p.Backend.TokenSymbol(ctx, pool.Token)
			if err != nil {
				logger.For(ctx).Warnf("failed to read symbol for %s: %s", pool.Token, err)
			}
			priceUSD, err = p.Prices.USDPrice(ctx, p.ChainID, pool.Token, symbol)
			if err != nil {
				logger.For(ctx).Warnf("no price for %s (%s): %s", pool.Token, symbol, err)
				res.MissingPrices = append(res.MissingPrices, MissingPrice{Address: pool.Token, Symbol: symbol})
				continue
			}
		}
		res.FetchedPrices = append(res.FetchedPrices, FetchedPrice{Token: pool.Token, Symbol: symbol, PriceUSD: priceUSD})

		if !superTokenSeen[pool.Token] {
			st, err := p.Streams.ResolveSuperToken(ctx, pool.Token)
			if err != nil {
				return nil, fmt.Errorf("resolving super token for %s: %w", pool.Token, err)
			}
			superTokens[pool.Token] = st
			superTokenSeen[pool.Token] = true
		}
		superToken := superTokens[pool.Token]
		if superToken == nil {
			logger.For(ctx).Warnf("super token not found for %s, skipping pool %s", pool.Token, pool.ID)
			continue
		}
		if superToken.SameAsUnderlying {
			res.NativePools = append(res.NativePools, NativePool{PoolAddress: pool.ID, Token: pool.Token})
		}

		hasConfiguredSuperToken := !pool.SuperfluidToken.IsZero()
		if !hasConfiguredSuperToken && !superToken.SameAsUnderlying {
			logger.For(ctx).Warnf("skipping pool %s: no superfluid token configured and %s is not a native super token", pool.ID, pool.Token)
			continue
		}
		superfluidToken := pool.SuperfluidToken
		if superfluidToken.IsZero() {
			superfluidToken = superToken.ID
		}

		superDecimals, err := p.cachedDecimals(ctx, decimals, superfluidToken)
		if err != nil {
			return nil, fmt.Errorf("reading decimals for %s: %w", superfluidToken, err)
		}
		var tokenDecimals uint8
		if superToken.SameAsUnderlying {
			tokenDecimals, err = p.cachedDecimals(ctx, decimals, pool.Token)
			if err != nil {
				return nil, fmt.Errorf("reading decimals for %s: %w", pool.Token, err)
			}
		}

		creation, err := p.Backend.CreationBlock(ctx, pool.ID, startBlock)
		if err != nil {
			return nil, fmt.Errorf("finding creation block of %s: %w", pool.ID, err)
		}
		poolStartBlock := startBlock
		if creation != nil && creation.Uint64() > poolStartBlock {
			poolStartBlock = creation.Uint64()
		}
		if poolStartBlock > endBlock {
			logger.For(ctx).Warnf("skipping pool %s: created after window end", pool.ID)
			continue
		}

		community := communityByPool[pool.ID]
		var communityID persist.Address
		if community != nil {
			communityID = community.id
		}
		bonus := p.Variant.AccrualBonus(p.ChainID, communityID)

		if superToken.SameAsUnderlying {
			if err := p.accrueFunding(ctx, res, pool, tokenDecimals, priceUSD, bonus, poolStartBlock, endBlock); err != nil {
				return nil, err
			}
		}

		streamTotalAll := 0.0
		flowUpdates := p.Streams.FlowUpdates(ctx, pool.ID, superfluidToken)
		res.Debug.FlowUpdateCount += len(flowUpdates)
		if len(flowUpdates) > 0 {
			accrued := superfluid.AccrueBySender(superfluid.AccrualParams{
				Events:        flowUpdates,
				TokenDecimals: superDecimals,
				PriceUSD:      priceUSD,
				WindowStart:   windowStart,
				WindowEnd:     windowEnd,
				MinSenderUSD:  p.Variant.MinStreamSenderUSD,
				Now:           p.now(),
			})
			streamTotalAll = accrued.TotalUSDAll * bonus
			for sender, usd := range accrued.PerSender {
				totals := res.Totals[sender]
				if totals == nil {
					totals = &WalletTotals{}
					res.Totals[sender] = totals
				}
				totals.StreamUSD += usd * bonus
				res.Activities[sender] = append(res.Activities[sender], persist.WalletActivity{
					Wallet:    sender,
					ChainID:   p.ChainID,
					Source:    "stream",
					AmountUSD: usd * bonus,
				})
			}
			if accrued.TotalUSD == 0 {
				logger.For(ctx).Infof("stream total below threshold for pool %s (all senders %.2f)", pool.ID, accrued.TotalUSDAll)
			}
		}
		if streamTotalAll > 0 {
			res.StreamTotalsByPool[pool.ID] += streamTotalAll
		}

		if community != nil {
			entry := communityTotals[community.id]
			if entry == nil {
				entry = &communityAccrual{members: community.members}
				communityTotals[community.id] = entry
				communityOrder = append(communityOrder, community.id)
			}
			var fundForCommunity float64
			if superToken.SameAsUnderlying {
				fundForCommunity = p.fundValueToPool(ctx, pool, tokenDecimals, priceUSD, poolStartBlock, endBlock) * bonus
				entry.fundUSD += fundForCommunity
			}
			entry.streamUSD += streamTotalAll
			entry.isBonus = p.Variant.IsBonusCommunity(p.ChainID, community.id)

			pc := processed[community.id]
			if pc == nil {
				pc = &ProcessedCommunity{CommunityID: community.id, CommunityName: community.name}
				processed[community.id] = pc
			}
			pc.StreamUSD += streamTotalAll
			pc.FundUSD += fundForCommunity
			pc.Pools = append(pc.Pools, ProcessedPool{
				PoolAddress:     pool.ID,
				Token:           pool.Token,
				SuperfluidToken: superfluidToken,
				Title:           pool.Title,
			})
		}
	}

	p.splitCommunityTotals(res, communityTotals, communityOrder)

	for _, id := range communityOrder {
		res.Communities = append(res.Communities, *processed[id])
	}
	res.Debug.GovernanceStakeCount = len(communityTotals)
	return res, nil
}

// indexCommunities maps each pool to its community and collects the bonus
// community's members. The token filter narrows community pools the same way
// it narrows the pool loop.
func (p *ChainProcessor) indexCommunities(communities []subgraph.Community) (map[persist.Address]*communityInfo, []persist.Address) {
	byPool := map[persist.Address]*communityInfo{}
	var bonusMembers []persist.Address
	for _, comm := range communities {
		info := &communityInfo{id: comm.ID, name: comm.Name, members: comm.Members}
		if p.Variant.IsBonusCommunity(p.ChainID, comm.ID) {
			for _, m := range comm.Members {
				if m.Wallet.IsZero() {
					continue
				}
				bonusMembers = append(bonusMembers, m.Wallet)
			}
		}
		for _, s := range comm.Strategies {
			if !p.Variant.TokenFilter.IsZero() && s.Token != p.Variant.TokenFilter {
				continue
			}
			byPool[s.ID] = info
		}
	}
	return byPool, bonusMembers
}

func (p *ChainProcessor) cachedDecimals(ctx context.Context, cache map[persist.Address]uint8, token persist.Address) (uint8, error) {
	if d, ok := cache[token]; ok {
		return d, nil
	}
	d, err := p.Backend.TokenDecimals(ctx, token)
	if err != nil {
		return 0, err
	}
	cache[token] = d
	return d, nil
}

// accrueFunding credits direct transfers into the pool to their senders.
func (p *ChainProcessor) accrueFunding(ctx context.Context, res *ChainResult, pool subgraph.Strategy, tokenDecimals uint8, priceUSD, bonus float64, fromBlock, toBlock uint64) error {
	if fromBlock > toBlock {
		return nil
	}
	logs, err := p.Backend.TransfersTo(ctx, pool.Token, pool.ID, fromBlock, toBlock)
	if err != nil {
		return fmt.Errorf("fetching transfers of %s to %s: %w", pool.Token, pool.ID, err)
	}
	for _, log := range logs {
		if log.From.IsZero() {
			continue
		}
		usd := transferValueUSD(log, tokenDecimals, priceUSD)
		if usd < p.Variant.MinTransferUSD {
			continue
		}
		delta := usd * bonus
		totals := res.Totals[log.From]
		if totals == nil {
			totals = &WalletTotals{}
			res.Totals[log.From] = totals
		}
		totals.FundUSD += delta
		res.Activities[log.From] = append(res.Activities[log.From], persist.WalletActivity{
			Wallet:    log.From,
			ChainID:   p.ChainID,
			Source:    "fund",
			AmountUSD: delta,
		})
	}
	return nil
}

// fundValueToPool sums qualifying inbound transfer value for the community
// entry; the caller layers the accrual bonus on top and the split multiplies
// the bonus community once more. Fetch errors degrade to zero so one pool
// cannot sink its community.
func (p *ChainProcessor) fundValueToPool(ctx context.Context, pool subgraph.Strategy, tokenDecimals uint8, priceUSD float64, fromBlock, toBlock uint64) float64 {
	if fromBlock > toBlock {
		return 0
	}
	logs, err := p.Backend.TransfersTo(ctx, pool.Token, pool.ID, fromBlock, toBlock)
	if err != nil {
		logger.For(ctx).Errorf("failed to fetch pool transfers for %s: %s", pool.ID, err)
		return 0
	}
	total := 0.0
	for _, log := range logs {
		usd := transferValueUSD(log, tokenDecimals, priceUSD)
		if usd >= p.Variant.MinTransferUSD {
			total += usd
		}
	}
	return total
}

// splitCommunityTotals distributes each community's accrued value to its
// members by stake share.
func (p *ChainProcessor) splitCommunityTotals(res *ChainResult, totals map[persist.Address]*communityAccrual, order []persist.Address) {
	for _, id := range order {
		entry := totals[id]
		totalPts := entry.fundUSD + entry.streamUSD
		if totalPts <= 0 {
			continue
		}
		if entry.isBonus {
			totalPts *= p.Variant.BonusMultiplier
		}
		totalStake := new(big.Float)
		for _, m := range entry.members {
			totalStake.Add(totalStake, new(big.Float).SetInt(m.StakedBig()))
		}
		if totalStake.Sign() == 0 {
			continue
		}
		for _, m := range entry.members {
			if m.Wallet.IsZero() {
				continue
			}
			share, _ := new(big.Float).Quo(new(big.Float).SetInt(m.StakedBig()), totalStake).Float64()
			points := totalPts * share
			if points <= 0 {
				continue
			}
			res.GovernanceStake[m.Wallet] += points
			res.Activities[m.Wallet] = append(res.Activities[m.Wallet], persist.WalletActivity{
				Wallet:       m.Wallet,
				ChainID:      p.ChainID,
				Source:       "governance",
				AmountUSD:    points,
				SharePercent: share * 100,
			})
		}
	}
}

func transferValueUSD(log persist.TransferLog, tokenDecimals uint8, priceUSD float64) float64 {
	scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(tokenDecimals)), nil))
	amount, _ := new(big.Float).Quo(new(big.Float).SetInt(log.ValueBig()), scale).Float64()
	return amount * priceUSD
}
