package price

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/1hive/gardens-points/env"
	"github.com/1hive/gardens-points/service/logger"
	"github.com/1hive/gardens-points/service/persist"
	"github.com/1hive/gardens-points/util"
	"github.com/1hive/gardens-points/util/retry"
)

func init() {
	env.RegisterValidation("COINGECKO_API_KEY", "required")
}

// platformByChain maps EVM chain ids to CoinGecko asset platforms.
var platformByChain = map[persist.ChainID]string{
	137:   "polygon-pos",
	42220: "celo",
	8453:  "base",
	100:   "xdai",
	42161: "arbitrum-one",
	10:    "optimistic-ethereum",
}

// llamaChainByID maps chain ids to DefiLlama chain slugs for the fallback.
var llamaChainByID = map[persist.ChainID]string{
	137:   "polygon",
	42220: "celo",
	8453:  "base",
	100:   "xdai",
	42161: "arbitrum",
	10:    "optimism",
}

// ErrUnsupportedChain means no price platform is configured for the chain.
type ErrUnsupportedChain struct {
	ChainID persist.ChainID
}

func (e ErrUnsupportedChain) Error() string {
	return fmt.Sprintf("no price platform for chain %d", e.ChainID)
}

// Provider fetches USD quotes from CoinGecko, falling back to DefiLlama when
// CoinGecko has no listing. Symbol-keyed overrides win over both.
type Provider struct {
	httpClient *http.Client
	baseURL    string
	llamaURL   string
	apiKey     string
	usePro     bool
	overrides  map[string]float64
}

func NewProvider(httpClient *http.Client) *Provider {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	base := env.GetString("COINGECKO_API_BASE")
	usePro := env.GetBool("COINGECKO_USE_PRO")
	apiKey := env.GetString("COINGECKO_API_KEY")
	if base == "" {
		if usePro && !strings.HasPrefix(strings.ToLower(apiKey), "demo") {
			base = "https://pro-api.coingecko.com/api/v3"
		} else {
			base = "https://api.coingecko.com/api/v3"
		}
	}
	return &Provider{
		httpClient: httpClient,
		baseURL:    base,
		llamaURL:   "https://coins.llama.fi",
		apiKey:     apiKey,
		usePro:     usePro,
		overrides:  parseOverrides(env.GetString("COINGECKO_PRICE_OVERRIDES")),
	}
}

// parseOverrides reads the symbol-to-price JSON map; entries may be numbers,
// numeric strings, or objects with a price field.
func parseOverrides(raw string) map[string]float64 {
	out := map[string]float64{}
	if raw == "" {
		return out
	}
	var parsed map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		logger.For(nil).Warnf("ignoring unparseable price overrides: %s", err)
		return out
	}
	for symbol, entry := range parsed {
		if v, ok := coercePrice(entry); ok {
			out[strings.ToUpper(symbol)] = v
			continue
		}
		var obj struct {
			Price json.RawMessage `json:"price"`
		}
		if err := json.Unmarshal(entry, &obj); err == nil && obj.Price != nil {
			if v, ok := coercePrice(obj.Price); ok {
				out[strings.ToUpper(symbol)] = v
			}
		}
	}
	return out
}

// coercePrice accepts both numeric and stringified prices.
func coercePrice(raw json.RawMessage) (float64, bool) {
	var num float64
	if err := json.Unmarshal(raw, &num); err == nil {
		return num, true
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		if v, err := strconv.ParseFloat(str, 64); err == nil {
			return v, true
		}
	}
	return 0, false
}

// TokenUSDPrice returns the current USD quote for token on chainID.
func (p *Provider) TokenUSDPrice(ctx context.Context, chainID persist.ChainID, token persist.Address, symbol string) (float64, error) {
	if v, ok := p.overrides[strings.ToUpper(symbol)]; ok {
		return v, nil
	}
	platform, ok := platformByChain[chainID]
	if !ok {
		return 0, ErrUnsupportedChain{ChainID: chainID}
	}
	v, err := p.fromCoinGecko(ctx, platform, token)
	if err == nil {
		return v, nil
	}
	logger.For(ctx).Warnf("coingecko quote failed for %s on %d, trying defillama: %s", token, chainID, err)
	if v, llamaErr := p.fromDefiLlama(ctx, chainID, token); llamaErr == nil {
		return v, nil
	}
	return 0, err
}

func (p *Provider) fromCoinGecko(ctx context.Context, platform string, token persist.Address) (float64, error) {
	u := fmt.Sprintf("%s/simple/token_price/%s?contract_addresses=%s&vs_currencies=usd",
		p.baseURL, platform, url.QueryEscape(token.String()))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")
	if p.apiKey != "" {
		if p.usePro {
			req.Header.Set("x-cg-pro-api-key", p.apiKey)
		} else {
			req.Header.Set("x-cg-demo-api-key", p.apiKey)
		}
	}
	resp, err := retry.RetryRequest(p.httpClient, req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, util.ErrHTTP{URL: u, Status: resp.StatusCode, Err: util.BodyAsError(resp)}
	}
	var body map[string]struct {
		USD *float64 `json:"usd"`
	}
	if err := util.UnmarshallBody(&body, resp.Body); err != nil {
		return 0, err
	}
	entry, ok := body[token.String()]
	if !ok || entry.USD == nil {
		return 0, fmt.Errorf("no coingecko quote for %s", token)
	}
	return *entry.USD, nil
}

func (p *Provider) fromDefiLlama(ctx context.Context, chainID persist.ChainID, token persist.Address) (float64, error) {
	slug, ok := llamaChainByID[chainID]
	if !ok {
		return 0, ErrUnsupportedChain{ChainID: chainID}
	}
	coin := fmt.Sprintf("%s:%s", slug, token)
	u := fmt.Sprintf("%s/prices/current/%s", p.llamaURL, coin)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, err
	}
	resp, err := retry.RetryRequest(p.httpClient, req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, util.ErrHTTP{URL: u, Status: resp.StatusCode, Err: util.BodyAsError(resp)}
	}
	var body struct {
		Coins map[string]struct {
			Price float64 `json:"price"`
		} `json:"coins"`
	}
	if err := util.UnmarshallBody(&body, resp.Body); err != nil {
		return 0, err
	}
	entry, ok := body.Coins[coin]
	if !ok {
		return 0, fmt.Errorf("no defillama quote for %s", coin)
	}
	return entry.Price, nil
}
