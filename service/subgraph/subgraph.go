package subgraph

import (
	"context"
	"fmt"
	"strconv"

	"github.com/machinebox/graphql"

	"github.com/1hive/gardens-points/service/logger"
	"github.com/1hive/gardens-points/service/persist"
)

// Client queries a gardens subgraph, falling back to a secondary endpoint
// when the primary (usually the published gateway deployment) errors.
type Client struct {
	primary  *graphql.Client
	fallback *graphql.Client
}

func NewClient(primaryURL, fallbackURL string) *Client {
	c := &Client{primary: graphql.NewClient(primaryURL)}
	if fallbackURL != "" && fallbackURL != primaryURL {
		c.fallback = graphql.NewClient(fallbackURL)
	}
	return c
}

// parseUnix reads subgraph timestamp strings; malformed values read as zero.
func parseUnix(s string) int64 {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func (c *Client) run(ctx context.Context, req *graphql.Request, resp any) error {
	err := c.primary.Run(ctx, req, resp)
	if err != nil && c.fallback != nil {
		logger.For(ctx).Warnf("primary subgraph failed, retrying on fallback: %s", err)
		return c.fallback.Run(ctx, req, resp)
	}
	return err
}

const poolsQuery = `
  query superfluidPools {
    cvstrategies(where: { isEnabled: true, archived: false }, first: 1000) {
      id
      poolId
      token
      metadata {
        title
      }
      config {
        superfluidToken
        proposalType
      }
    }
  }`

type strategyResult struct {
	ID       string `json:"id"`
	PoolID   string `json:"poolId"`
	Token    string `json:"token"`
	Metadata *struct {
		Title string `json:"title"`
	} `json:"metadata"`
	Config struct {
		SuperfluidToken string `json:"superfluidToken"`
		ProposalType    string `json:"proposalType"`
	} `json:"config"`
}

// Strategy is one enabled funding pool strategy.
type Strategy struct {
	ID              persist.Address
	PoolID          string
	Token           persist.Address
	Title           string
	SuperfluidToken persist.Address
	ProposalType    string
}

// IsSignaling reports whether the strategy only signals and moves no funds.
func (s Strategy) IsSignaling() bool { return s.ProposalType == "0" }

func (r strategyResult) toStrategy() Strategy {
	s := Strategy{
		ID:              persist.NewAddress(r.ID),
		PoolID:          r.PoolID,
		Token:           persist.NewAddress(r.Token),
		SuperfluidToken: persist.NewAddress(r.Config.SuperfluidToken),
		ProposalType:    r.Config.ProposalType,
	}
	if r.Metadata != nil {
		s.Title = r.Metadata.Title
	}
	return s
}

// Pools returns every enabled, unarchived strategy on the chain.
func (c *Client) Pools(ctx context.Context) ([]Strategy, error) {
	var resp struct {
		CVStrategies []strategyResult `json:"cvstrategies"`
	}
	if err := c.run(ctx, graphql.NewRequest(poolsQuery), &resp); err != nil {
		return nil, fmt.Errorf("fetching pools: %w", err)
	}
	out := make([]Strategy, 0, len(resp.CVStrategies))
	for _, r := range resp.CVStrategies {
		out = append(out, r.toStrategy())
	}
	return out, nil
}

const communitiesQuery = `
  query communities {
    registryCommunities(where: { archived: false }, first: 1000) {
      id
      communityName
      members(first: 1000) {
        memberAddress
        stakedTokens
      }
      strategies(where: { archived: false, isEnabled: true }, first: 1000) {
        id
        token
        metadata {
          title
        }
        config {
          superfluidToken
          proposalType
        }
      }
    }
  }`

// Community is a registry community with its staked members and pools.
type Community struct {
	ID         persist.Address
	Name       string
	Members    []persist.Member
	Strategies []Strategy
}

// Communities returns every unarchived community with members and pools.
func (c *Client) Communities(ctx context.Context) ([]Community, error) {
	var resp struct {
		RegistryCommunities []struct {
			ID            string `json:"id"`
			CommunityName string `json:"communityName"`
			Members       []struct {
				MemberAddress string `json:"memberAddress"`
				StakedTokens  string `json:"stakedTokens"`
			} `json:"members"`
			Strategies []strategyResult `json:"strategies"`
		} `json:"registryCommunities"`
	}
	if err := c.run(ctx, graphql.NewRequest(communitiesQuery), &resp); err != nil {
		return nil, fmt.Errorf("fetching communities: %w", err)
	}
	out := make([]Community, 0, len(resp.RegistryCommunities))
	for _, rc := range resp.RegistryCommunities {
		comm := Community{
			ID:   persist.NewAddress(rc.ID),
			Name: rc.CommunityName,
		}
		for _, m := range rc.Members {
			staked := m.StakedTokens
			if staked == "" {
				staked = "0"
			}
			comm.Members = append(comm.Members, persist.Member{
				Wallet:       persist.NewAddress(m.MemberAddress),
				StakedTokens: staked,
			})
		}
		for _, s := range rc.Strategies {
			comm.Strategies = append(comm.Strategies, s.toStrategy())
		}
		out = append(out, comm)
	}
	return out, nil
}
