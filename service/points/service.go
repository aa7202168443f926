package points

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/1hive/gardens-points/env"
	"github.com/1hive/gardens-points/service/ens"
	"github.com/1hive/gardens-points/service/farcaster"
	"github.com/1hive/gardens-points/service/ledger"
	"github.com/1hive/gardens-points/service/logger"
	"github.com/1hive/gardens-points/service/notion"
	"github.com/1hive/gardens-points/service/persist"
	"github.com/1hive/gardens-points/service/pinata"
	"github.com/1hive/gardens-points/service/price"
	"github.com/1hive/gardens-points/service/rpc"
)

// ErrLedgerNotConfigured means the run cannot start because the points
// ledger credentials are missing or invalid.
type ErrLedgerNotConfigured struct {
	Err error
}

func (e ErrLedgerNotConfigured) Error() string {
	return fmt.Sprintf("points ledger not configured: %s", e.Err)
}

func (e ErrLedgerNotConfigured) Unwrap() error { return e.Err }

// Service holds one variant's clients and process-wide caches. It is built
// once per process; concurrent runs of the same variant race on the caches
// and are expected to be prevented by the cron scheduler, not by locking.
type Service struct {
	Variant  Variant
	Campaign Campaign

	Pinata    *pinata.Client
	Notion    *notion.Client
	Farcaster *farcaster.Client
	Ledger    *ledger.Client
	Oracle    *price.Oracle
	Ens       *ens.Resolver

	Creation *rpc.CreationBlockIndex
	Logs     *rpc.LogFetcher

	ledgerErr  error
	httpClient *http.Client

	blockCacheName    string
	transferCacheName string
	priceCacheName    string

	skipIdentity bool
	pinRunLogs   bool

	hydrateOnce sync.Once

	mu            sync.Mutex
	creationCID   string
	transferCID   string
	usernameCache map[persist.Address]string

	// dial is swappable for tests.
	dial func(ctx context.Context, url string) (rpc.ChainClient, error)
}

// NewService wires a variant's full dependency set from the environment.
// A missing ledger credential is deferred to Run so the campaign-ended check
// can still answer without it.
func NewService(ctx context.Context, v Variant, campaign Campaign) *Service {
	httpClient := &http.Client{Timeout: 30 * time.Second}
	s := &Service{
		Variant:    v,
		Campaign:   campaign,
		Pinata:     pinata.NewClient(httpClient),
		Notion:     notion.NewClientForDatabase(httpClient, v.NotionDatabaseID, v.NotionDataSourceID),
		Farcaster:  farcaster.NewClientForAccount(httpClient, v.FarcasterUsername),
		Creation:   rpc.NewCreationBlockIndex(),
		Logs:       rpc.NewLogFetcher(),
		httpClient: httpClient,

		blockCacheName:    cacheName("SUPERFLUID_BLOCK_CACHE_NAME", "superfluid-creation-blocks"),
		transferCacheName: cacheName("SUPERFLUID_TRANSFER_CACHE_NAME", "superfluid-transfer-logs"),
		priceCacheName:    cacheName("SUPERFLUID_PRICE_CACHE_NAME", "superfluid-token-prices"),

		skipIdentity: env.GetBool("SUPERFLUID_SKIP_IDENTITY_RESOLUTION"),
		pinRunLogs:   env.GetBool("SUPERFLUID_PIN_RUN_LOGS"),

		creationCID:   env.GetString("SUPERFLUID_BLOCK_CACHE_CID"),
		transferCID:   env.GetString("SUPERFLUID_TRANSFER_CACHE_CID"),
		usernameCache: map[persist.Address]string{},

		dial: func(ctx context.Context, url string) (rpc.ChainClient, error) {
			return rpc.Dial(ctx, url)
		},
	}

	s.Ledger, s.ledgerErr = ledger.NewClient(httpClient, env.GetString("SUPERFLUID_POINT_API_BASE_URL"), v.LedgerAPIKey, v.LedgerCampaignID)

	if !v.TokenDenominated {
		s.Oracle = price.NewOracle(price.NewProvider(httpClient))
	}

	if mainnetURL := env.GetString("RPC_URL_MAINNET"); mainnetURL != "" && !s.skipIdentity {
		if client, err := rpc.Dial(ctx, mainnetURL); err != nil {
			logger.For(ctx).Warnf("mainnet dial failed, identity resolution disabled: %s", err)
		} else {
			s.Ens = ens.NewResolver(client, httpClient)
		}
	}

	return s
}

func cacheName(key, fallback string) string {
	if v := env.GetString(key); v != "" {
		return v
	}
	return fallback
}

// hydrateCaches warm-starts every cache from its latest pin, preferring the
// pin tagged with this campaign version and falling back to the seed CIDs.
// Runs once per process; later runs reuse in-memory state.
func (s *Service) hydrateCaches(ctx context.Context) {
	s.hydrateOnce.Do(func() {
		version := s.Campaign.Version()

		var creationCache persist.CreationBlockCache
		if cid := s.latestOrSeed(ctx, s.blockCacheName, version, s.CreationCacheCID()); cid != "" {
			if err := s.Pinata.ReadJSON(ctx, cid, &creationCache); err != nil {
				logger.For(ctx).Warnf("failed to read creation block cache %s: %s", cid, err)
			} else {
				s.Creation.Hydrate(creationCache, version)
				logger.For(ctx).Infof("hydrated %d creation block entries from %s", len(creationCache.Entries), cid)
			}
		}

		var transferCache persist.TransferLogCache
		if cid := s.latestOrSeed(ctx, s.transferCacheName, version, s.TransferCacheCID()); cid != "" {
			if err := s.Pinata.ReadJSON(ctx, cid, &transferCache); err != nil {
				logger.For(ctx).Warnf("failed to read transfer log cache %s: %s", cid, err)
			} else {
				s.Logs.Hydrate(transferCache)
				logger.For(ctx).Infof("hydrated %d transfer log entries from %s", len(transferCache.Entries), cid)
			}
		}

		if s.Oracle != nil {
			var priceCache persist.PriceCache
			if cid := s.latestOrSeed(ctx, s.priceCacheName, version, ""); cid != "" {
				if err := s.Pinata.ReadJSON(ctx, cid, &priceCache); err != nil {
					logger.For(ctx).Warnf("failed to read price cache %s: %s", cid, err)
				} else {
					s.Oracle.Hydrate(priceCache)
				}
			}
		}

		s.hydrateSnapshot(ctx)
	})
}

// hydrateSnapshot seeds the identity caches from the previous points
// snapshot, trying the variant's own snapshot before the shared base one.
func (s *Service) hydrateSnapshot(ctx context.Context) {
	attempts := []struct {
		name string
		seed string
	}{
		{s.Variant.SnapshotName, s.Variant.SnapshotSeedCID},
		{s.Variant.BaseSnapshotName, s.Variant.BaseSnapshotSeedCID},
	}
	for _, attempt := range attempts {
		cid, err := s.Pinata.LatestPin(ctx, attempt.name, nil)
		if err != nil || cid == "" {
			cid = attempt.seed
		}
		if cid == "" {
			continue
		}
		var snap persist.Snapshot
		if err := s.Pinata.ReadJSON(ctx, cid, &snap); err != nil {
			logger.For(ctx).Warnf("failed to read points snapshot %s: %s", cid, err)
			continue
		}
		if s.Ens != nil {
			s.Ens.Hydrate(snap.EnsCache)
		}
		s.mu.Lock()
		for _, w := range snap.Wallets {
			if w.FarcasterUser != "" {
				s.usernameCache[w.Address] = w.FarcasterUser
			}
		}
		s.mu.Unlock()
		logger.For(ctx).Infof("hydrated identity caches from snapshot %s (%d wallets)", cid, len(snap.Wallets))
		return
	}
}

func (s *Service) latestOrSeed(ctx context.Context, name, version, seed string) string {
	cid, err := s.Pinata.LatestPin(ctx, name, map[string]string{"campaignVersion": version})
	if err != nil {
		logger.For(ctx).Warnf("pin lookup failed for %s: %s", name, err)
	}
	if cid == "" {
		cid = seed
	}
	return cid
}

// CreationCacheCID is the latest pinned creation block cache, surfaced in
// both the success and error payloads.
func (s *Service) CreationCacheCID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creationCID
}

// TransferCacheCID is the latest pinned transfer log cache.
func (s *Service) TransferCacheCID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transferCID
}

// FlushCaches pins every dirty cache and returns the creation and transfer
// cache CIDs for the response. Safe to call on the error path.
func (s *Service) FlushCaches(ctx context.Context) (creationCID, transferCID string) {
	version := s.Campaign.Version()
	keyvalues := map[string]string{"campaignVersion": version}

	if payload, dirty := s.Creation.Snapshot(version); dirty && s.Pinata.CanWrite() {
		cid, err := s.Pinata.PinJSON(ctx, s.blockCacheName, keyvalues, payload)
		if err != nil {
			logger.For(ctx).Warnf("failed to pin creation block cache: %s", err)
		} else if cid != "" {
			s.mu.Lock()
			s.creationCID = cid
			s.mu.Unlock()
		}
	}
	if payload, dirty := s.Logs.Snapshot(version); dirty && s.Pinata.CanWrite() {
		cid, err := s.Pinata.PinJSON(ctx, s.transferCacheName, keyvalues, payload)
		if err != nil {
			logger.For(ctx).Warnf("failed to pin transfer log cache: %s", err)
		} else if cid != "" {
			s.mu.Lock()
			s.transferCID = cid
			s.mu.Unlock()
		}
	}
	// ENS entries travel inside the points snapshot, not their own pin.
	if s.Oracle != nil {
		if payload, dirty := s.Oracle.Snapshot(); dirty && s.Pinata.CanWrite() {
			if _, err := s.Pinata.PinJSON(ctx, s.priceCacheName, keyvalues, payload); err != nil {
				logger.For(ctx).Warnf("failed to pin price cache: %s", err)
			}
		}
	}
	return s.CreationCacheCID(), s.TransferCacheCID()
}

// PinRunLog pins the captured log transcript when enabled. Returns the CID
// or empty.
func (s *Service) PinRunLog(ctx context.Context, lines []string) string {
	if !s.pinRunLogs || len(lines) == 0 || !s.Pinata.CanWrite() {
		return ""
	}
	payload := persist.RunLog{
		UpdatedAt:       time.Now().UnixMilli(),
		CampaignVersion: s.Campaign.Version(),
		Lines:           lines,
	}
	cid, err := s.Pinata.PinJSON(ctx, s.Variant.RunLogName, map[string]string{"campaignVersion": s.Campaign.Version()}, payload)
	if err != nil {
		logger.For(ctx).Warnf("failed to pin run log: %s", err)
		return ""
	}
	return cid
}

// pinSnapshot pins the points snapshot with the identity cache for the next
// run's warm start.
func (s *Service) pinSnapshot(ctx context.Context, reports []WalletReport) string {
	if len(reports) == 0 || !s.Pinata.CanWrite() {
		return ""
	}
	snap := persist.Snapshot{
		UpdatedAt: time.Now().UnixMilli(),
		Wallets:   SnapshotWallets(reports),
	}
	if s.Ens != nil {
		snap.EnsCache, _ = s.Ens.Snapshot()
	}
	cid, err := s.Pinata.PinJSON(ctx, s.Variant.SnapshotName, map[string]string{"campaignVersion": s.Campaign.Version()}, snap)
	if err != nil {
		logger.For(ctx).Warnf("failed to pin points snapshot: %s", err)
		return ""
	}
	logger.For(ctx).Infof("pinned points snapshot %s (%d wallets)", cid, len(snap.Wallets))
	return cid
}
