package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/1hive/gardens-points/service/logger"
	"github.com/1hive/gardens-points/service/persist"
	"github.com/1hive/gardens-points/util"
	"github.com/1hive/gardens-points/util/retry"
)

const (
	defaultBaseURL = "https://cms.superfluid.pro"
	pageLimit      = 100
	pushBatchSize  = 250
)

// Event is one granted (or retracted) point delta in the ledger.
type Event struct {
	EventName string          `json:"eventName"`
	Account   persist.Address `json:"account"`
	Points    int64           `json:"points"`
	Metadata  map[string]any  `json:"metadata,omitempty"`
}

// Client reads and writes the external points ledger for one campaign.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	campaignID int64
}

// ErrMissingCredentials means the ledger API key or campaign id is unset.
type ErrMissingCredentials struct {
	Var string
}

func (e ErrMissingCredentials) Error() string {
	return fmt.Sprintf("%s is required", e.Var)
}

func NewClient(httpClient *http.Client, baseURL, apiKey string, campaignID int64) (*Client, error) {
	if apiKey == "" {
		return nil, ErrMissingCredentials{Var: "api key"}
	}
	if campaignID == 0 {
		return nil, ErrMissingCredentials{Var: "campaign id"}
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		apiKey:     apiKey,
		campaignID: campaignID,
	}, nil
}

type eventsResponse struct {
	Events []struct {
		EventName string  `json:"eventName"`
		Event     string  `json:"event"`
		Account   string  `json:"account"`
		Address   string  `json:"address"`
		Points    float64 `json:"points"`
	} `json:"events"`
	Pagination *struct {
		HasNextPage bool `json:"hasNextPage"`
	} `json:"pagination"`
}

// AllEvents pages through the full event history of the campaign. The
// reconciler folds it into per-address running totals.
func (c *Client) AllEvents(ctx context.Context) ([]Event, error) {
	var out []Event
	page := 1
	for {
		params := url.Values{
			"campaignId": {fmt.Sprintf("%d", c.campaignID)},
			"limit":      {fmt.Sprintf("%d", pageLimit)},
			"page":       {fmt.Sprintf("%d", page)},
		}
		u := fmt.Sprintf("%s/points/events?%s", c.baseURL, params.Encode())
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := retry.RetryRequest(c.httpClient, req)
		if err != nil {
			return nil, err
		}
		var body eventsResponse
		if resp.StatusCode != http.StatusOK {
			err := util.ErrHTTP{URL: u, Status: resp.StatusCode, Err: util.BodyAsError(resp)}
			resp.Body.Close()
			return nil, err
		}
		if err := util.UnmarshallBody(&body, resp.Body); err != nil {
			resp.Body.Close()
			return nil, err
		}
		resp.Body.Close()

		for _, e := range body.Events {
			name := e.EventName
			if name == "" {
				name = e.Event
			}
			account := e.Account
			if account == "" {
				account = e.Address
			}
			out = append(out, Event{
				EventName: name,
				Account:   persist.NewAddress(account),
				Points:    int64(e.Points),
			})
		}
		if body.Pagination == nil || !body.Pagination.HasNextPage || len(body.Events) == 0 {
			return out, nil
		}
		page++
	}
}

// SendEvents pushes deltas in batches. Accounts missing from a push keep
// their current ledger totals, which is why the caller emits explicit
// negative deltas to retract.
func (c *Client) SendEvents(ctx context.Context, events []Event) error {
	for _, batch := range util.Chunk(events, pushBatchSize) {
		body, err := json.Marshal(map[string]any{
			"campaignId": c.campaignID,
			"events":     batch,
		})
		if err != nil {
			return err
		}
		u := fmt.Sprintf("%s/points/push", c.baseURL)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-API-Key", c.apiKey)
		resp, err := retry.RetryRequest(c.httpClient, req)
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			err := util.ErrHTTP{URL: u, Status: resp.StatusCode, Err: util.BodyAsError(resp)}
			resp.Body.Close()
			return err
		}
		var pushed struct {
			PushRequestID int64 `json:"pushRequestId"`
			EventCount    int64 `json:"eventCount"`
		}
		if err := util.UnmarshallBody(&pushed, resp.Body); err != nil {
			resp.Body.Close()
			return err
		}
		resp.Body.Close()
		logger.For(ctx).Infof("pushed %d ledger events (request %d)", pushed.EventCount, pushed.PushRequestID)
	}
	return nil
}
