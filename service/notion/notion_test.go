package notion

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1hive/gardens-points/service/persist"
)

func breakdown(addr string, fund, stream, gov, farcaster int64) persist.WalletBreakdown {
	return persist.WalletBreakdown{
		Address:          persist.NewAddress(addr),
		FundPoints:       fund,
		StreamPoints:     stream,
		GovernancePoints: gov,
		FarcasterPoints:  farcaster,
		TotalPoints:      fund + stream + gov + farcaster,
	}
}

func TestChecksum(t *testing.T) {
	b := breakdown("0x00000000000000000000000000000000000000AA", 50, 0, 0, 0)
	assert.Equal(t, "0x00000000000000000000000000000000000000aa|50|0|0|0|50", Checksum(b))
}

func TestNormalizeDatabaseID(t *testing.T) {
	assert.Equal(t, "0123456789abcdef0123456789abcdef",
		normalizeDatabaseID(" 01234567-89ab-cdef-0123-456789abcdef "))
	assert.Equal(t, "not-a-db-id", normalizeDatabaseID("not-a-db-id"))
}

// notionFake records pages created, updated, and archived.
type notionFake struct {
	t        *testing.T
	pages    map[string]map[string]any // pageID -> page JSON
	creates  int
	updates  map[string][]map[string]any
	checksum bool
}

func newNotionFake(t *testing.T) *notionFake {
	return &notionFake{t: t, pages: map[string]map[string]any{}, updates: map[string][]map[string]any{}, checksum: true}
}

func (f *notionFake) addPage(pageID, wallet, checksum string, archived bool) {
	f.pages[pageID] = map[string]any{
		"id":       pageID,
		"archived": archived,
		"properties": map[string]any{
			"Wallet":   map[string]any{"title": []any{map[string]any{"plain_text": wallet}}},
			"Checksum": map[string]any{"rich_text": []any{map[string]any{"plain_text": checksum}}},
		},
	}
}

func (f *notionFake) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/databases/"):
			props := map[string]any{"Wallet": map[string]any{}}
			if f.checksum {
				props["Checksum"] = map[string]any{}
			}
			json.NewEncoder(w).Encode(map[string]any{
				"properties":   props,
				"data_sources": []any{map[string]any{"id": "ds-1"}},
			})
		case r.Method == http.MethodPatch && strings.HasPrefix(r.URL.Path, "/databases/"):
			f.checksum = true
			fmt.Fprint(w, `{}`)
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/query"):
			results := []any{}
			for _, p := range f.pages {
				results = append(results, p)
			}
			json.NewEncoder(w).Encode(map[string]any{"results": results, "has_more": false})
		case r.Method == http.MethodPost && r.URL.Path == "/pages":
			f.creates++
			fmt.Fprint(w, `{}`)
		case r.Method == http.MethodPatch && strings.HasPrefix(r.URL.Path, "/pages/"):
			pageID := strings.TrimPrefix(r.URL.Path, "/pages/")
			var body map[string]any
			require.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))
			f.updates[pageID] = append(f.updates[pageID], body)
			fmt.Fprint(w, `{}`)
		default:
			http.Error(w, "unexpected call "+r.Method+" "+r.URL.Path, http.StatusBadRequest)
		}
	})
}

func newTestClient(t *testing.T, f *notionFake) *Client {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	return &Client{
		httpClient: srv.Client(),
		baseURL:    srv.URL,
		token:      "secret",
		databaseID: "0123456789abcdef0123456789abcdef",
	}
}

func TestSync(t *testing.T) {
	t.Run("creates new rows and skips unchanged ones", func(t *testing.T) {
		f := newNotionFake(t)
		unchanged := breakdown("0x00000000000000000000000000000000000000aa", 50, 0, 0, 0)
		f.addPage("page-1", unchanged.Address.String(), Checksum(unchanged), false)

		c := newTestClient(t, f)
		res := c.Sync(context.Background(), []persist.WalletBreakdown{
			unchanged,
			breakdown("0x00000000000000000000000000000000000000bb", 10, 20, 0, 1),
		})

		assert.True(t, res.Attempted)
		assert.True(t, res.Success)
		assert.Equal(t, 2, res.Processed)
		assert.Zero(t, res.Failed)
		assert.Equal(t, 1, f.creates, "only the new wallet creates a page")
		assert.Empty(t, f.updates["page-1"], "matching checksum must skip the update")
	})

	t.Run("updates rows whose points changed", func(t *testing.T) {
		f := newNotionFake(t)
		f.addPage("page-1", "0x00000000000000000000000000000000000000aa", "stale-checksum", false)

		c := newTestClient(t, f)
		res := c.Sync(context.Background(), []persist.WalletBreakdown{
			breakdown("0x00000000000000000000000000000000000000aa", 75, 0, 0, 0),
		})

		assert.True(t, res.Success)
		require.Len(t, f.updates["page-1"], 1)
		_, hasProps := f.updates["page-1"][0]["properties"]
		assert.True(t, hasProps)
	})

	t.Run("unarchives before updating", func(t *testing.T) {
		f := newNotionFake(t)
		f.addPage("page-1", "0x00000000000000000000000000000000000000aa", "stale", true)

		c := newTestClient(t, f)
		c.Sync(context.Background(), []persist.WalletBreakdown{
			breakdown("0x00000000000000000000000000000000000000aa", 75, 0, 0, 0),
		})

		require.Len(t, f.updates["page-1"], 2)
		assert.Equal(t, false, f.updates["page-1"][0]["archived"])
	})

	t.Run("archives wallets that dropped off the board", func(t *testing.T) {
		f := newNotionFake(t)
		f.addPage("page-gone", "0x00000000000000000000000000000000000000cc", "whatever", false)

		c := newTestClient(t, f)
		res := c.Sync(context.Background(), []persist.WalletBreakdown{
			breakdown("0x00000000000000000000000000000000000000aa", 5, 0, 0, 0),
		})

		assert.Equal(t, 1, res.Archived)
		require.Len(t, f.updates["page-gone"], 1)
		assert.Equal(t, true, f.updates["page-gone"][0]["archived"])
	})

	t.Run("disabled client does nothing", func(t *testing.T) {
		c := &Client{httpClient: http.DefaultClient, baseURL: defaultBaseURL}
		res := c.Sync(context.Background(), []persist.WalletBreakdown{breakdown("0xaa", 1, 0, 0, 0)})
		assert.False(t, res.Attempted)
	})
}

func TestDisableOnMissingDatabase(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"Could not find database with ID"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	c := &Client{
		httpClient: srv.Client(),
		baseURL:    srv.URL,
		token:      "secret",
		databaseID: "0123456789abcdef0123456789abcdef",
	}
	res := c.Sync(context.Background(), []persist.WalletBreakdown{breakdown("0xaa", 1, 0, 0, 0)})
	assert.True(t, res.Attempted)
	assert.False(t, res.Success)
	assert.False(t, c.Enabled())
}
