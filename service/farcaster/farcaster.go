package farcaster

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/1hive/gardens-points/env"
	"github.com/1hive/gardens-points/service/logger"
	"github.com/1hive/gardens-points/service/persist"
	"github.com/1hive/gardens-points/util"
	"github.com/1hive/gardens-points/util/retry"
)

const (
	defaultBaseURL  = "https://api.farcaster.xyz/v2"
	followersLimit  = 50
	defaultUsername = "gardens"
)

// Client talks to the Farcaster API. A client without an auth token is
// disabled: every lookup degrades to an empty result so the pipeline runs
// without the integration.
type Client struct {
	httpClient *http.Client
	baseURL    string
	authToken  string

	accountUsername string
	accountFid      int64
}

func NewClient(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	username := env.GetString("FARCASTER_GARDENS_USERNAME")
	if username == "" {
		username = defaultUsername
	}
	return &Client{
		httpClient:      httpClient,
		baseURL:         defaultBaseURL,
		authToken:       env.GetString("FARCASTER_API_KEY"),
		accountUsername: username,
	}
}

// NewClientForAccount follows a different account than the default one, for
// campaigns run under their own Farcaster handle.
func NewClientForAccount(httpClient *http.Client, username string) *Client {
	c := NewClient(httpClient)
	if username != "" {
		c.accountUsername = username
		c.accountFid = 0
	}
	return c
}

// Disabled reports whether the integration is off for lack of an API key.
func (c *Client) Disabled() bool { return c.authToken == "" }

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	u := fmt.Sprintf("%s/%s", c.baseURL, path)
	if len(params) > 0 {
		u = fmt.Sprintf("%s?%s", u, params.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.authToken))
	resp, err := retry.RetryRequest(c.httpClient, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return util.ErrHTTP{URL: u, Status: resp.StatusCode, Err: util.BodyAsError(resp)}
	}
	return util.UnmarshallBody(out, resp.Body)
}

// AccountFid resolves the configured account username to its fid, caching
// the answer for the life of the client.
func (c *Client) AccountFid(ctx context.Context) (int64, error) {
	if c.Disabled() {
		return 0, nil
	}
	if c.accountFid != 0 {
		return c.accountFid, nil
	}
	var resp struct {
		Result struct {
			User struct {
				Fid int64 `json:"fid"`
			} `json:"user"`
		} `json:"result"`
	}
	params := url.Values{"username": {c.accountUsername}}
	if err := c.get(ctx, "user-by-username", params, &resp); err != nil {
		return 0, fmt.Errorf("resolving account %q: %w", c.accountUsername, err)
	}
	c.accountFid = resp.Result.User.Fid
	return c.accountFid, nil
}

// FollowerFids pages through the followers of fid. A failed page logs and
// returns what was collected so far.
func (c *Client) FollowerFids(ctx context.Context, fid int64) []int64 {
	if c.Disabled() {
		return nil
	}
	seen := map[int64]bool{}
	var out []int64
	cursor := ""
	for {
		params := url.Values{
			"fid":   {fmt.Sprintf("%d", fid)},
			"limit": {fmt.Sprintf("%d", followersLimit)},
		}
		if cursor != "" {
			params.Set("cursor", cursor)
		}
		var resp struct {
			Result struct {
				Users []struct {
					Fid int64 `json:"fid"`
				} `json:"users"`
				Next *struct {
					Cursor string `json:"cursor"`
				} `json:"next"`
			} `json:"result"`
		}
		if err := c.get(ctx, "followers", params, &resp); err != nil {
			logger.For(ctx).Warnf("farcaster followers fetch failed: %s", err)
			return out
		}
		for _, u := range resp.Result.Users {
			if u.Fid != 0 && !seen[u.Fid] {
				seen[u.Fid] = true
				out = append(out, u.Fid)
			}
		}
		if resp.Result.Next == nil || resp.Result.Next.Cursor == "" {
			return out
		}
		cursor = resp.Result.Next.Cursor
	}
}

type userResult struct {
	Result struct {
		User *struct {
			Fid               int64    `json:"fid"`
			Username          string   `json:"username"`
			DisplayName       string   `json:"displayName"`
			CustodyAddress    string   `json:"custodyAddress"`
			VerifiedAddresses []string `json:"verifiedAddresses"`
			Verifications     []string `json:"verifications"`
		} `json:"user"`
		Extras *struct {
			EthWallets   []string `json:"ethWallets"`
			WalletLabels []struct {
				Address string `json:"address"`
				Label   string `json:"label"`
			} `json:"walletLabels"`
		} `json:"extras"`
	} `json:"result"`
}

// Wallets is the outcome of resolving a set of fids to addresses.
type Wallets struct {
	// Primary holds each user's chosen wallet; Discarded holds the rest,
	// kept only so identity resolution can skip re-deriving them.
	Primary   []persist.Address
	Discarded map[persist.Address]bool
	Usernames map[persist.Address]string
}

// PrimaryWallets resolves each fid to one primary wallet. Wallets labeled
// "primary" win, then verified addresses, linked eth wallets, the custody
// address, and legacy verifications.
func (c *Client) PrimaryWallets(ctx context.Context, fids []int64) Wallets {
	out := Wallets{
		Discarded: map[persist.Address]bool{},
		Usernames: map[persist.Address]string{},
	}
	if c.Disabled() || len(fids) == 0 {
		return out
	}
	seen := map[persist.Address]bool{}
	for _, fid := range fids {
		var resp userResult
		params := url.Values{"fid": {fmt.Sprintf("%d", fid)}}
		if err := c.get(ctx, "user-by-fid", params, &resp); err != nil {
			logger.For(ctx).Warnf("farcaster user fetch failed for fid %d: %s", fid, err)
			continue
		}
		u := resp.Result.User
		if u == nil {
			continue
		}

		var labeled, ethWallets []string
		if extras := resp.Result.Extras; extras != nil {
			for _, wl := range extras.WalletLabels {
				if strings.Contains(strings.ToLower(wl.Label), "primary") {
					labeled = append(labeled, wl.Address)
				}
			}
			ethWallets = extras.EthWallets
		}
		priority := collectValid(labeled, u.VerifiedAddresses, ethWallets, []string{u.CustodyAddress}, u.Verifications)
		if len(priority) == 0 {
			logger.For(ctx).Warnf("farcaster user %q (fid %d) has no addresses", u.Username, fid)
			continue
		}

		chosen := priority[0]
		if !seen[chosen] {
			seen[chosen] = true
			out.Primary = append(out.Primary, chosen)
		}
		if u.Username != "" {
			out.Usernames[chosen] = u.Username
		}
		for _, other := range priority[1:] {
			out.Discarded[other] = true
		}
	}
	return out
}

// UsernameByVerification finds the username that verified addr, used to
// backfill display names for wallets that earned points without following.
func (c *Client) UsernameByVerification(ctx context.Context, addr persist.Address) (string, error) {
	if c.Disabled() {
		return "", nil
	}
	var resp userResult
	params := url.Values{"address": {addr.String()}}
	if err := c.get(ctx, "user-by-verification", params, &resp); err != nil {
		return "", err
	}
	if resp.Result.User == nil {
		return "", nil
	}
	return resp.Result.User.Username, nil
}

// collectValid flattens candidate lists to lowercased hex addresses,
// preserving priority order and dropping junk.
func collectValid(lists ...[]string) []persist.Address {
	var out []persist.Address
	for _, list := range lists {
		for _, c := range list {
			if strings.HasPrefix(strings.ToLower(c), "0x") {
				out = append(out, persist.NewAddress(c))
			}
		}
	}
	return out
}
