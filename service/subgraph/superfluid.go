package subgraph

import (
	"context"
	"fmt"

	"github.com/machinebox/graphql"

	"github.com/1hive/gardens-points/service/logger"
	"github.com/1hive/gardens-points/service/persist"
)

// SuperfluidClient queries a chain's Superfluid protocol subgraph.
type SuperfluidClient struct {
	client *graphql.Client
}

func NewSuperfluidClient(url string) *SuperfluidClient {
	return &SuperfluidClient{client: graphql.NewClient(url)}
}

const superTokenQuery = `
  query superToken($token: String!) {
    tokens(
      where: {
        and: [
          { isSuperToken: true }
          { or: [{ underlyingToken: $token }, { id: $token }] }
        ]
      }
      orderBy: isListed
      orderDirection: desc
      first: 1000
    ) {
      id
      name
      isListed
      symbol
      createdAtBlockNumber
    }
  }`

// SuperToken is the wrapper token streams flow in.
type SuperToken struct {
	ID persist.Address
	// SameAsUnderlying is true when the pool token already is the super
	// token, so transfers and streams share a denomination.
	SameAsUnderlying bool
}

// ResolveSuperToken finds the super token wrapping token, preferring an exact
// id match over wrappers. Returns nil when the chain has none.
func (c *SuperfluidClient) ResolveSuperToken(ctx context.Context, token persist.Address) (*SuperToken, error) {
	req := graphql.NewRequest(superTokenQuery)
	req.Var("token", token.String())
	var resp struct {
		Tokens []struct {
			ID string `json:"id"`
		} `json:"tokens"`
	}
	if err := c.client.Run(ctx, req, &resp); err != nil {
		return nil, fmt.Errorf("resolving super token for %s: %w", token, err)
	}
	if len(resp.Tokens) == 0 {
		return nil, nil
	}
	found := persist.NewAddress(resp.Tokens[0].ID)
	for _, t := range resp.Tokens {
		if persist.NewAddress(t.ID) == token {
			found = token
			break
		}
	}
	return &SuperToken{ID: found, SameAsUnderlying: found == token}, nil
}

const flowUpdatesQuery = `
  query flowUpdates($receiver: String!, $token: String!) {
    flowUpdatedEvents(
      first: 1000
      where: { receiver: $receiver, token: $token }
      orderBy: timestamp
      orderDirection: asc
    ) {
      sender {
        id
      }
      flowRate
      timestamp
    }
  }`

// FlowUpdates returns every flow-rate change into receiver for token,
// ordered by timestamp. Failures degrade to an empty set so one broken
// protocol subgraph does not sink the whole chain pass.
func (c *SuperfluidClient) FlowUpdates(ctx context.Context, receiver, token persist.Address) []persist.FlowEvent {
	req := graphql.NewRequest(flowUpdatesQuery)
	req.Var("receiver", receiver.String())
	req.Var("token", token.String())
	var resp struct {
		FlowUpdatedEvents []struct {
			Sender struct {
				ID string `json:"id"`
			} `json:"sender"`
			FlowRate  string `json:"flowRate"`
			Timestamp string `json:"timestamp"`
		} `json:"flowUpdatedEvents"`
	}
	if err := c.client.Run(ctx, req, &resp); err != nil {
		logger.For(ctx).Errorf("fetching flow updates for receiver %s token %s: %s", receiver, token, err)
		return nil
	}
	out := make([]persist.FlowEvent, 0, len(resp.FlowUpdatedEvents))
	for _, ev := range resp.FlowUpdatedEvents {
		out = append(out, persist.FlowEvent{
			Sender:    persist.NewAddress(ev.Sender.ID),
			Timestamp: parseUnix(ev.Timestamp),
			FlowRate:  ev.FlowRate,
		})
	}
	return out
}
