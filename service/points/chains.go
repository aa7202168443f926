package points

import (
	"fmt"

	"github.com/1hive/gardens-points/env"
	"github.com/1hive/gardens-points/service/persist"
)

// ChainEndpoints is the per-chain connection config, read from env by the
// chain's short name (RPC_URL_BASE, SUBGRAPH_URL_BASE and so on).
type ChainEndpoints struct {
	RPCURL                         string
	SubgraphURL                    string
	PublishedSubgraphURL           string
	SuperfluidSubgraphURL          string
	PublishedSuperfluidSubgraphURL string
}

var chainEnvNames = map[persist.ChainID]string{
	137:   "MATIC",
	42220: "CELO",
	8453:  "BASE",
	100:   "GNOSIS",
	42161: "ARBITRUM",
	10:    "OPTIMISM",
}

func EndpointsFor(chainID persist.ChainID) (ChainEndpoints, error) {
	name, ok := chainEnvNames[chainID]
	if !ok {
		return ChainEndpoints{}, fmt.Errorf("no endpoint config for chain %d", chainID)
	}
	e := ChainEndpoints{
		RPCURL:                         env.GetString("RPC_URL_" + name),
		SubgraphURL:                    env.GetString("SUBGRAPH_URL_" + name),
		PublishedSubgraphURL:           env.GetString("PUBLISHED_SUBGRAPH_URL_" + name),
		SuperfluidSubgraphURL:          env.GetString("SUPERFLUID_SUBGRAPH_URL_" + name),
		PublishedSuperfluidSubgraphURL: env.GetString("PUBLISHED_SUPERFLUID_SUBGRAPH_URL_" + name),
	}
	if e.RPCURL == "" || e.SubgraphURL == "" {
		return ChainEndpoints{}, fmt.Errorf("missing rpc or subgraph url for chain %d", chainID)
	}
	if e.SuperfluidURL() == "" {
		return ChainEndpoints{}, fmt.Errorf("missing superfluid subgraph url for chain %d", chainID)
	}
	return e, nil
}

// PrimarySubgraphURL prefers the published deployment over the hosted one.
func (e ChainEndpoints) PrimarySubgraphURL() string {
	if e.PublishedSubgraphURL != "" {
		return e.PublishedSubgraphURL
	}
	return e.SubgraphURL
}

// FallbackSubgraphURL is the hosted deployment when it differs from the
// primary, used to retry failed queries.
func (e ChainEndpoints) FallbackSubgraphURL() string {
	if e.SubgraphURL != "" && e.SubgraphURL != e.PrimarySubgraphURL() {
		return e.SubgraphURL
	}
	return ""
}

func (e ChainEndpoints) SuperfluidURL() string {
	if e.PublishedSuperfluidSubgraphURL != "" {
		return e.PublishedSuperfluidSubgraphURL
	}
	return e.SuperfluidSubgraphURL
}
