package persist

// Cache payloads pinned to the content store. Shapes are stable: a new
// deployment must be able to hydrate blobs pinned by the previous one.

// CreationBlockCache maps contract address to the block it first had code, or
// nil when the contract does not exist on the chain at all.
type CreationBlockCache struct {
	UpdatedAt       int64                   `json:"updatedAt"`
	CampaignVersion string                  `json:"campaignVersion"`
	Entries         map[string]*BlockNumber `json:"entries"`
}

// TransferLogCache maps token_recipient keys to their covered block windows.
type TransferLogCache struct {
	UpdatedAt       int64                            `json:"updatedAt"`
	CampaignVersion string                           `json:"campaignVersion"`
	Entries         map[string]TransferLogCacheEntry `json:"entries"`
}

// PriceCacheEntry is one cached USD quote.
type PriceCacheEntry struct {
	Price     float64 `json:"price"`
	FetchedAt int64   `json:"fetchedAt"`
	Symbol    string  `json:"symbol,omitempty"`
}

// PriceCache holds chainID-token keyed quotes with a shared TTL.
type PriceCache struct {
	UpdatedAt int64                      `json:"updatedAt"`
	TTLMillis int64                      `json:"ttlMs"`
	Entries   map[string]PriceCacheEntry `json:"entries"`
}

// EnsCacheEntry is one resolved identity. Name is nil when the reverse
// lookup missed, so misses are not retried until the entry expires.
type EnsCacheEntry struct {
	Address   Address `json:"address"`
	Name      *string `json:"name"`
	Avatar    *string `json:"avatar"`
	FetchedAt int64   `json:"fetchedAt"`
	// AvatarFetchedAt lets avatars refresh on their own clock once the
	// name is known.
	AvatarFetchedAt int64 `json:"avatarFetchedAt,omitempty"`
}

// Snapshot is the pinned activity-points blob: the latest breakdowns plus the
// identity cache that warm-starts the next run.
type Snapshot struct {
	UpdatedAt int64             `json:"updatedAt"`
	Wallets   []WalletBreakdown `json:"wallets"`
	EnsCache  []EnsCacheEntry   `json:"ensCache,omitempty"`
}

// RunLog is the pinned log transcript of one invocation.
type RunLog struct {
	UpdatedAt       int64    `json:"updatedAt"`
	CampaignVersion string   `json:"campaignVersion"`
	Lines           []string `json:"lines"`
}
