package notion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/1hive/gardens-points/env"
	"github.com/1hive/gardens-points/service/logger"
	"github.com/1hive/gardens-points/service/persist"
	"github.com/1hive/gardens-points/util"
)

const (
	defaultBaseURL = "https://api.notion.com/v1"
	notionVersion  = "2022-06-28"
)

var dbIDPattern = regexp.MustCompile(`[0-9a-f]{32}`)

// Client mirrors the campaign leaderboard into a Notion database. A client
// without credentials is disabled and every call becomes a no-op; the client
// also disables itself when the database turns out to be unreachable, so one
// misconfigured workspace cannot fail the whole run.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	databaseID string

	dataSourceID    string
	checksumEnsured bool
	disabled        bool
}

func NewClient(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	c := &Client{
		httpClient:   httpClient,
		baseURL:      defaultBaseURL,
		token:        env.GetString("NOTION_TOKEN"),
		databaseID:   normalizeDatabaseID(env.GetString("NOTION_DB_ID")),
		dataSourceID: strings.TrimSpace(env.GetString("NOTION_DATA_SOURCE_ID")),
	}
	return c
}

// NewClientForDatabase targets a specific database instead of the default
// one, for campaigns that keep their own leaderboard.
func NewClientForDatabase(httpClient *http.Client, databaseID, dataSourceID string) *Client {
	c := NewClient(httpClient)
	c.databaseID = normalizeDatabaseID(databaseID)
	c.dataSourceID = strings.TrimSpace(dataSourceID)
	return c
}

// normalizeDatabaseID extracts the 32-hex database id from a raw id or URL.
func normalizeDatabaseID(raw string) string {
	raw = strings.TrimSpace(raw)
	if m := dbIDPattern.FindString(strings.ToLower(strings.ReplaceAll(raw, "-", ""))); m != "" {
		return m
	}
	return raw
}

// Enabled reports whether the sync is configured and still healthy.
func (c *Client) Enabled() bool {
	return c.token != "" && c.databaseID != "" && !c.disabled
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader *bytes.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(buf)
	} else {
		reader = bytes.NewReader(nil)
	}
	u := fmt.Sprintf("%s/%s", c.baseURL, path)
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.token))
	req.Header.Set("Notion-Version", notionVersion)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		err := util.ErrHTTP{URL: u, Status: resp.StatusCode, Err: util.BodyAsError(resp)}
		c.maybeDisable(ctx, err)
		return err
	}
	if out == nil {
		return nil
	}
	return util.UnmarshallBody(out, resp.Body)
}

// maybeDisable turns the sync off when the database itself is unreachable,
// as opposed to a transient page-level failure.
func (c *Client) maybeDisable(ctx context.Context, err error) {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "could not find database") || strings.Contains(msg, "invalid_request_url") {
		logger.For(ctx).Error("notion database unreachable, disabling sync")
		c.disabled = true
	}
}

type databaseResponse struct {
	Properties  map[string]json.RawMessage `json:"properties"`
	DataSources []struct {
		ID string `json:"id"`
	} `json:"data_sources"`
}

// ensureDataSource resolves the database's data source id, preferring the
// configured one.
func (c *Client) ensureDataSource(ctx context.Context) (string, error) {
	if c.dataSourceID != "" {
		return c.dataSourceID, nil
	}
	var db databaseResponse
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("databases/%s", c.databaseID), nil, &db); err != nil {
		return "", err
	}
	if len(db.DataSources) > 0 {
		c.dataSourceID = db.DataSources[0].ID
	}
	return c.dataSourceID, nil
}

// ensureChecksumProperty adds the Checksum rich_text column when an older
// database predates it. Without it every row would rewrite every run.
func (c *Client) ensureChecksumProperty(ctx context.Context) error {
	if c.checksumEnsured {
		return nil
	}
	var db databaseResponse
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("databases/%s", c.databaseID), nil, &db); err != nil {
		return err
	}
	if _, ok := db.Properties["Checksum"]; ok {
		c.checksumEnsured = true
		return nil
	}
	body := map[string]any{
		"properties": map[string]any{
			"Checksum": map[string]any{"rich_text": map[string]any{}},
		},
	}
	if err := c.do(ctx, http.MethodPatch, fmt.Sprintf("databases/%s", c.databaseID), body, nil); err != nil {
		return err
	}
	c.checksumEnsured = true
	logger.For(ctx).Infof("added Checksum property to notion database %s", c.databaseID)
	return nil
}

type queryResponse struct {
	Results []struct {
		ID         string `json:"id"`
		Archived   bool   `json:"archived"`
		Properties struct {
			Wallet struct {
				Title []struct {
					PlainText string `json:"plain_text"`
				} `json:"title"`
			} `json:"Wallet"`
			TotalPts struct {
				Number float64 `json:"number"`
			} `json:"Total Pts"`
			Checksum struct {
				RichText []struct {
					PlainText string `json:"plain_text"`
				} `json:"rich_text"`
			} `json:"Checksum"`
		} `json:"properties"`
	} `json:"results"`
	NextCursor string `json:"next_cursor"`
	HasMore    bool   `json:"has_more"`
}

// query runs a database query against the data source when one is known,
// falling back to the database endpoint.
func (c *Client) query(ctx context.Context, body map[string]any) (*queryResponse, error) {
	path := fmt.Sprintf("databases/%s/query", c.databaseID)
	if ds, err := c.ensureDataSource(ctx); err == nil && ds != "" {
		path = fmt.Sprintf("data_sources/%s/query", ds)
	}
	var out queryResponse
	if err := c.do(ctx, http.MethodPost, path, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func walletProperties(b persist.WalletBreakdown, checksum string) map[string]any {
	return map[string]any{
		"Wallet": map[string]any{
			"title": []any{map[string]any{"text": map[string]any{"content": b.Address.String()}}},
		},
		"Add Funds":        map[string]any{"number": b.FundPoints},
		"Stream Funds":     map[string]any{"number": b.StreamPoints},
		"Governance Stake": map[string]any{"number": b.GovernancePoints},
		"Farcaster":        map[string]any{"number": b.FarcasterPoints},
		"Total Pts":        map[string]any{"number": b.TotalPoints},
		"Checksum": map[string]any{
			"rich_text": []any{map[string]any{"text": map[string]any{"content": checksum}}},
		},
	}
}

func (c *Client) updatePage(ctx context.Context, pageID string, body map[string]any) error {
	return c.do(ctx, http.MethodPatch, fmt.Sprintf("pages/%s", pageID), body, nil)
}

func (c *Client) createPage(ctx context.Context, properties map[string]any) error {
	ds, err := c.ensureDataSource(ctx)
	if err != nil {
		return err
	}
	var parent map[string]any
	if ds != "" {
		parent = map[string]any{"type": "data_source_id", "data_source_id": ds}
	} else {
		parent = map[string]any{"type": "database_id", "database_id": c.databaseID}
	}
	body := map[string]any{"parent": parent, "properties": properties}
	return c.do(ctx, http.MethodPost, "pages", body, nil)
}
