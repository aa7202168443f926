package points

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/1hive/gardens-points/service/logger"
	"github.com/1hive/gardens-points/service/notion"
	"github.com/1hive/gardens-points/service/persist"
	"github.com/1hive/gardens-points/service/rpc"
	"github.com/1hive/gardens-points/service/subgraph"
)

// ManualBounds echoes the resolved block window per chain so a stuck run can
// be replayed by hand.
type ManualBounds struct {
	Chains         map[persist.ChainID]BlockBounds `json:"chains"`
	StartTimestamp int64                           `json:"startTimestamp"`
	EndTimestamp   int64                           `json:"endTimestamp"`
}

// RunResult is the success payload of one cron invocation.
type RunResult struct {
	Message                   string                                          `json:"message"`
	CSV                       string                                          `json:"csv"`
	Updated                   []Update                                        `json:"updated"`
	Totals                    map[persist.Address]*WalletTotals               `json:"totals"`
	MissingPrices             []MissingPrice                                  `json:"missingPrices"`
	OverrideTemplate          map[persist.Address]string                      `json:"overrideTemplate"`
	ManualBounds              ManualBounds                                    `json:"manualBounds"`
	NativePoolsByChain        map[persist.ChainID][]NativePool                `json:"nativePoolsByChain"`
	CommunitiesByChain        map[persist.ChainID][]ProcessedCommunity        `json:"communitiesByChain"`
	WalletBreakdown           []WalletReport                                  `json:"walletBreakdown"`
	NotionSync                notion.SyncResult                               `json:"notionSync"`
	FarcasterFollowerWallets  []persist.Address                               `json:"farcasterFollowerWallets"`
	FarcasterDiscardedWallets []persist.Address                               `json:"farcasterDiscardedWallets"`
	FetchedPricesByChain      map[persist.ChainID][]FetchedPrice              `json:"fetchedPricesByChain"`
	StreamTotalsByChain       map[persist.ChainID]map[persist.Address]float64 `json:"streamTotalsByChain"`
	CreationBlockCacheCID     string                                          `json:"creationBlockCacheCid,omitempty"`
	TransferLogCacheCID       string                                          `json:"transferLogCacheCid,omitempty"`
	PointsSnapshotCID         string                                          `json:"pointsSnapshotCid,omitempty"`
	RunLogsCID                string                                          `json:"runLogsCid,omitempty"`
	CampaignWindow            CampaignWindow                                  `json:"campaignWindow"`
	DryRun                    bool                                            `json:"dryRun"`
	Debug                     map[persist.ChainID]ChainDebug                  `json:"debug"`
}

// Run executes the full pipeline: accrue every chain, reconcile the ledger,
// sync the leaderboard, and pin the snapshot. The caller flushes caches and
// pins run logs on the error path.
func (s *Service) Run(ctx context.Context) (*RunResult, error) {
	if s.Ledger == nil {
		return nil, ErrLedgerNotConfigured{Err: s.ledgerErr}
	}
	s.hydrateCaches(ctx)

	windowStart, windowEnd := s.Campaign.StartSec(), s.Campaign.EndSec()
	res := &RunResult{
		Totals:               map[persist.Address]*WalletTotals{},
		MissingPrices:        []MissingPrice{},
		OverrideTemplate:     map[persist.Address]string{},
		ManualBounds:         ManualBounds{Chains: map[persist.ChainID]BlockBounds{}, StartTimestamp: windowStart, EndTimestamp: windowEnd},
		NativePoolsByChain:   map[persist.ChainID][]NativePool{},
		CommunitiesByChain:   map[persist.ChainID][]ProcessedCommunity{},
		FetchedPricesByChain: map[persist.ChainID][]FetchedPrice{},
		StreamTotalsByChain:  map[persist.ChainID]map[persist.Address]float64{},
		CampaignWindow:       s.Campaign.Window(),
		DryRun:               s.Variant.DryRun,
		Debug:                map[persist.ChainID]ChainDebug{},
	}

	agg := NewAggregate()
	followerWallets := s.resolveFollowers(ctx, agg)
	res.FarcasterFollowerWallets = followerWallets
	for addr := range agg.DiscardedWallets {
		res.FarcasterDiscardedWallets = append(res.FarcasterDiscardedWallets, addr)
	}
	sort.Slice(res.FarcasterDiscardedWallets, func(i, j int) bool {
		return res.FarcasterDiscardedWallets[i] < res.FarcasterDiscardedWallets[j]
	})

	for _, chainID := range s.Variant.TargetChains {
		chainRes, err := s.processChain(ctx, chainID, windowStart, windowEnd)
		if err != nil {
			return nil, err
		}
		agg.Merge(chainRes)
		res.ManualBounds.Chains[chainID] = chainRes.Bounds
		res.NativePoolsByChain[chainID] = chainRes.NativePools
		res.CommunitiesByChain[chainID] = chainRes.Communities
		res.FetchedPricesByChain[chainID] = chainRes.FetchedPrices
		res.MissingPrices = append(res.MissingPrices, chainRes.MissingPrices...)
		if len(chainRes.StreamTotalsByPool) > 0 {
			res.StreamTotalsByChain[chainID] = chainRes.StreamTotalsByPool
		}
		res.Debug[chainID] = chainRes.Debug
	}

	res.Totals = agg.Totals
	for _, mp := range res.MissingPrices {
		res.OverrideTemplate[mp.Address] = ""
	}

	targets := BuildTargets(s.Variant, agg)
	identities := s.resolveIdentities(ctx, agg, targets)

	history, err := s.Ledger.AllEvents(ctx)
	if err != nil {
		return nil, fmt.Errorf("sweeping ledger history: %w", err)
	}
	rec := Reconcile(history, targets)
	res.Updated = rec.Updates
	if len(rec.Events) > 0 && !s.Variant.DryRun {
		if err := s.Ledger.SendEvents(ctx, rec.Events); err != nil {
			return nil, fmt.Errorf("pushing ledger events: %w", err)
		}
	} else if s.Variant.DryRun {
		logger.For(ctx).Infof("dry run, skipping %d ledger events", len(rec.Events))
	}

	reports := BuildReports(targets, identities, agg.Activities)
	res.WalletBreakdown = reports
	res.CSV = BuildCSV(reports)
	res.NotionSync = s.Notion.Sync(ctx, SnapshotWallets(reports))
	res.PointsSnapshotCID = s.pinSnapshot(ctx, reports)
	res.CreationBlockCacheCID, res.TransferLogCacheCID = s.FlushCaches(ctx)
	res.Message = fmt.Sprintf("Processed %d wallets across %d chains", len(reports), len(s.Variant.TargetChains))
	return res, nil
}

// processChain builds one chain's processor from its endpoints and runs it.
func (s *Service) processChain(ctx context.Context, chainID persist.ChainID, windowStart, windowEnd int64) (*ChainResult, error) {
	endpoints, err := EndpointsFor(chainID)
	if err != nil {
		return nil, err
	}
	client, err := s.dial(ctx, endpoints.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dialing chain %d: %w", chainID, err)
	}

	processor := &ChainProcessor{
		Variant: s.Variant,
		ChainID: chainID,
		Backend: &rpcBackend{client: client, creation: s.Creation, logs: s.Logs},
		Gardens: subgraph.NewClient(endpoints.PrimarySubgraphURL(), endpoints.FallbackSubgraphURL()),
		Streams: subgraph.NewSuperfluidClient(endpoints.SuperfluidURL()),
		Prices:  s.Oracle,
	}
	started := time.Now()
	chainRes, err := processor.Process(ctx, windowStart, windowEnd)
	if err != nil {
		return nil, err
	}
	logger.For(ctx).Infof("chain %d processed in %s (%d pools, %d flow updates)",
		chainID, time.Since(started), chainRes.Debug.PoolsProcessed, chainRes.Debug.FlowUpdateCount)
	return chainRes, nil
}

// resolveFollowers loads the campaign account's followers and their primary
// wallets. Failures degrade to an empty set; points from other categories
// still settle.
func (s *Service) resolveFollowers(ctx context.Context, agg *Aggregate) []persist.Address {
	if s.Farcaster.Disabled() {
		return nil
	}
	fid, err := s.Farcaster.AccountFid(ctx)
	if err != nil {
		logger.For(ctx).Errorf("failed to resolve campaign farcaster account: %s", err)
		return nil
	}
	fids := s.Farcaster.FollowerFids(ctx, fid)
	wallets := s.Farcaster.PrimaryWallets(ctx, fids)
	for _, addr := range wallets.Primary {
		agg.FollowerWallets[addr] = true
	}
	for addr := range wallets.Discarded {
		agg.DiscardedWallets[addr] = true
	}
	s.mu.Lock()
	for addr, username := range wallets.Usernames {
		s.usernameCache[addr] = username
	}
	s.mu.Unlock()
	return wallets.Primary
}

// resolveIdentities attaches ENS names and Farcaster usernames to every
// address that will appear in the breakdown.
func (s *Service) resolveIdentities(ctx context.Context, agg *Aggregate, targets []PointTarget) map[persist.Address]Identity {
	identities := map[persist.Address]Identity{}

	if s.Ens != nil && !s.skipIdentity {
		resolved := s.Ens.ResolveAll(ctx, agg.AllAddresses(), 4)
		for addr, entry := range resolved {
			id := identities[addr]
			if entry.Name != nil {
				id.EnsName = *entry.Name
			}
			if entry.Avatar != nil {
				id.EnsAvatar = *entry.Avatar
			}
			identities[addr] = id
		}
	}

	s.mu.Lock()
	for addr, username := range s.usernameCache {
		id := identities[addr]
		id.FarcasterUsername = username
		identities[addr] = id
	}
	s.mu.Unlock()

	if s.Variant.BackfillUsernames && !s.Farcaster.Disabled() {
		for _, t := range targets {
			if identities[t.Address].FarcasterUsername != "" {
				continue
			}
			username, err := s.Farcaster.UsernameByVerification(ctx, t.Address)
			if err != nil || username == "" {
				continue
			}
			id := identities[t.Address]
			id.FarcasterUsername = username
			identities[t.Address] = id
			s.mu.Lock()
			s.usernameCache[t.Address] = username
			s.mu.Unlock()
		}
	}
	return identities
}

// rpcBackend adapts the shared rpc caches and one chain client to the
// processor's backend surface.
type rpcBackend struct {
	client   rpc.ChainClient
	creation *rpc.CreationBlockIndex
	logs     *rpc.LogFetcher
}

func (b *rpcBackend) BlockAtOrAfter(ctx context.Context, target int64) (uint64, error) {
	latest, err := b.client.BlockNumber(ctx)
	if err != nil {
		return 0, err
	}
	return rpc.FindBlockAtOrAfter(ctx, b.client, target, 0, latest)
}

func (b *rpcBackend) BlockAtOrBefore(ctx context.Context, target int64) (uint64, error) {
	latest, err := b.client.BlockNumber(ctx)
	if err != nil {
		return 0, err
	}
	return rpc.FindBlockAtOrBefore(ctx, b.client, target, 0, latest)
}

func (b *rpcBackend) CreationBlock(ctx context.Context, contract persist.Address, lowerBound uint64) (*persist.BlockNumber, error) {
	latest, err := b.client.BlockNumber(ctx)
	if err != nil {
		return nil, err
	}
	return b.creation.FindCreationBlock(ctx, b.client, contract, lowerBound, latest)
}

func (b *rpcBackend) TransfersTo(ctx context.Context, token, recipient persist.Address, fromBlock, toBlock uint64) ([]persist.TransferLog, error) {
	return b.logs.TransfersTo(ctx, b.client, token, recipient, fromBlock, toBlock)
}

func (b *rpcBackend) TokenDecimals(ctx context.Context, token persist.Address) (uint8, error) {
	return rpc.TokenDecimals(ctx, b.client, token)
}

func (b *rpcBackend) TokenSymbol(ctx context.Context, token persist.Address) (string, error) {
	return rpc.TokenSymbol(ctx, b.client, token)
}
