package pinata

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	shell "github.com/ipfs/go-ipfs-api"

	"github.com/1hive/gardens-points/env"
	"github.com/1hive/gardens-points/service/logger"
	"github.com/1hive/gardens-points/util"
	"github.com/1hive/gardens-points/util/retry"
)

const (
	defaultAPIURL     = "https://api.pinata.cloud"
	defaultGatewayURL = "https://gateway.pinata.cloud"
)

// Client pins JSON blobs to Pinata and reads them back, either through a
// local IPFS API node or the public gateway.
type Client struct {
	httpClient *http.Client
	apiURL     string
	gatewayURL string
	jwt        string
	groupID    string
	ipfs       *shell.Shell
}

func NewClient(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	c := &Client{
		httpClient: httpClient,
		apiURL:     defaultAPIURL,
		gatewayURL: defaultGatewayURL,
		jwt:        env.GetString("PINATA_JWT"),
		groupID:    env.GetString("PINATA_GROUP_ID"),
	}
	if gw := env.GetString("IPFS_GATEWAY"); gw != "" {
		c.gatewayURL = strings.TrimRight(gw, "/")
	}
	if api := env.GetString("IPFS_API_URL"); api != "" {
		c.ipfs = shell.NewShellWithClient(api, httpClient)
	}
	return c
}

// CanWrite reports whether pinning credentials are configured. Reads work
// without them as long as a CID is known.
func (c *Client) CanWrite() bool { return c.jwt != "" }

// PinJSON pins payload under the given metadata name and keyvalues and
// returns the resulting CID.
func (c *Client) PinJSON(ctx context.Context, name string, keyvalues map[string]string, payload any) (string, error) {
	if !c.CanWrite() {
		return "", nil
	}
	kv := map[string]any{}
	for k, v := range keyvalues {
		kv[k] = v
	}
	body := map[string]any{
		"pinataContent": payload,
		"pinataMetadata": map[string]any{
			"name":      name,
			"keyvalues": kv,
		},
	}
	if c.groupID != "" {
		body["pinataOptions"] = map[string]any{"groupId": c.groupID}
	}
	buf, err := json.Marshal(body)
	if err != nil {
		return "", err
	}
	u := fmt.Sprintf("%s/pinning/pinJSONToIPFS", c.apiURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(buf))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.jwt))
	resp, err := retry.RetryRequest(c.httpClient, req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", util.ErrHTTP{URL: u, Status: resp.StatusCode, Err: util.BodyAsError(resp)}
	}
	var out struct {
		IpfsHash string `json:"IpfsHash"`
	}
	if err := util.UnmarshallBody(&out, resp.Body); err != nil {
		return "", err
	}
	logger.For(ctx).Infof("pinned %s as %s", name, out.IpfsHash)
	return out.IpfsHash, nil
}

// LatestPin returns the newest pinned CID matching the metadata name and
// exact keyvalue matches, or empty when none exists.
func (c *Client) LatestPin(ctx context.Context, name string, keyvalues map[string]string) (string, error) {
	if !c.CanWrite() {
		return "", nil
	}
	params := url.Values{
		"status":         {"pinned"},
		"metadata[name]": {name},
		"pageLimit":      {"1"},
		"pageOffset":     {"0"},
	}
	if len(keyvalues) > 0 {
		kv := map[string]map[string]string{}
		for k, v := range keyvalues {
			kv[k] = map[string]string{"value": v, "op": "eq"}
		}
		encoded, err := json.Marshal(kv)
		if err != nil {
			return "", err
		}
		params.Set("metadata[keyvalues]", string(encoded))
	}
	u := fmt.Sprintf("%s/data/pinList?%s", c.apiURL, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.jwt))
	resp, err := retry.RetryRequest(c.httpClient, req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", util.ErrHTTP{URL: u, Status: resp.StatusCode, Err: util.BodyAsError(resp)}
	}
	var out struct {
		Rows []struct {
			IpfsPinHash string `json:"ipfs_pin_hash"`
		} `json:"rows"`
	}
	if err := util.UnmarshallBody(&out, resp.Body); err != nil {
		return "", err
	}
	if len(out.Rows) == 0 {
		return "", nil
	}
	return out.Rows[0].IpfsPinHash, nil
}

// ReadJSON fetches a pinned blob into out, preferring the IPFS API node and
// falling back to the HTTP gateway.
func (c *Client) ReadJSON(ctx context.Context, cid string, out any) error {
	if cid == "" {
		return fmt.Errorf("no cid to read")
	}
	if c.ipfs != nil {
		r, err := c.ipfs.Cat(cid)
		if err == nil {
			defer r.Close()
			return util.UnmarshallBody(out, r)
		}
		logger.For(ctx).Warnf("ipfs api read failed for %s, using gateway: %s", cid, err)
	}
	u := fmt.Sprintf("%s/ipfs/%s", c.gatewayURL, cid)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
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
