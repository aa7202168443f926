package farcaster

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1hive/gardens-points/service/persist"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &Client{
		httpClient:      srv.Client(),
		baseURL:         srv.URL,
		authToken:       "test-key",
		accountUsername: "gardens",
	}
}

func TestDisabledClient(t *testing.T) {
	c := &Client{httpClient: http.DefaultClient, baseURL: defaultBaseURL, accountUsername: "gardens"}
	require.True(t, c.Disabled())

	fid, err := c.AccountFid(context.Background())
	require.NoError(t, err)
	assert.Zero(t, fid)
	assert.Empty(t, c.FollowerFids(context.Background(), 123))
	assert.Empty(t, c.PrimaryWallets(context.Background(), []int64{1}).Primary)
}

func TestAccountFid(t *testing.T) {
	var calls int
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, "/user-by-username", r.URL.Path)
		assert.Equal(t, "gardens", r.URL.Query().Get("username"))
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"result":{"user":{"fid":42}}}`)
	}))

	fid, err := c.AccountFid(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(42), fid)

	fid, err = c.AccountFid(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(42), fid)
	assert.Equal(t, 1, calls, "fid must be cached per client")
}

func TestFollowerFids(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/followers", r.URL.Path)
		assert.Equal(t, "7", r.URL.Query().Get("fid"))
		if r.URL.Query().Get("cursor") == "" {
			fmt.Fprint(w, `{"result":{"users":[{"fid":1},{"fid":2}],"next":{"cursor":"page2"}}}`)
			return
		}
		assert.Equal(t, "page2", r.URL.Query().Get("cursor"))
		fmt.Fprint(w, `{"result":{"users":[{"fid":2},{"fid":3}]}}`)
	}))

	fids := c.FollowerFids(context.Background(), 7)
	assert.Equal(t, []int64{1, 2, 3}, fids)
}

func TestPrimaryWallets(t *testing.T) {
	users := map[string]any{
		// Labeled primary wallet wins over everything else.
		"1": map[string]any{
			"result": map[string]any{
				"user": map[string]any{
					"fid":               1,
					"username":          "alice",
					"custodyAddress":    "0x00000000000000000000000000000000000000C0",
					"verifiedAddresses": []string{"0x00000000000000000000000000000000000000V1"},
				},
				"extras": map[string]any{
					"ethWallets": []string{"0x00000000000000000000000000000000000000E1"},
					"walletLabels": []any{
						map[string]any{"address": "0x00000000000000000000000000000000000000A1", "label": "Primary Wallet"},
					},
				},
			},
		},
		// No labels: verified address wins.
		"2": map[string]any{
			"result": map[string]any{
				"user": map[string]any{
					"fid":               2,
					"username":          "bob",
					"custodyAddress":    "0x00000000000000000000000000000000000000C2",
					"verifiedAddresses": []string{"0x00000000000000000000000000000000000000B2"},
				},
			},
		},
		// Only a custody address.
		"3": map[string]any{
			"result": map[string]any{
				"user": map[string]any{
					"fid":            3,
					"username":       "carol",
					"custodyAddress": "0x00000000000000000000000000000000000000C3",
				},
			},
		},
		// No addresses at all: skipped.
		"4": map[string]any{
			"result": map[string]any{
				"user": map[string]any{"fid": 4, "username": "dave"},
			},
		},
	}
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/user-by-fid", r.URL.Path)
		json.NewEncoder(w).Encode(users[r.URL.Query().Get("fid")])
	}))

	got := c.PrimaryWallets(context.Background(), []int64{1, 2, 3, 4})
	require.Len(t, got.Primary, 3)
	assert.Equal(t, persist.NewAddress("0x00000000000000000000000000000000000000A1"), got.Primary[0])
	assert.Equal(t, persist.NewAddress("0x00000000000000000000000000000000000000B2"), got.Primary[1])
	assert.Equal(t, persist.NewAddress("0x00000000000000000000000000000000000000C3"), got.Primary[2])

	assert.Equal(t, "alice", got.Usernames[got.Primary[0]])
	assert.True(t, got.Discarded[persist.NewAddress("0x00000000000000000000000000000000000000E1")])
	assert.True(t, got.Discarded[persist.NewAddress("0x00000000000000000000000000000000000000C0")])
	assert.False(t, got.Discarded[got.Primary[0]])
}

func TestUsernameByVerification(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/user-by-verification", r.URL.Path)
		if r.URL.Query().Get("address") == "0x00000000000000000000000000000000000000aa" {
			fmt.Fprint(w, `{"result":{"user":{"fid":9,"username":"eve"}}}`)
			return
		}
		fmt.Fprint(w, `{"result":{}}`)
	}))

	name, err := c.UsernameByVerification(context.Background(), persist.NewAddress("0x00000000000000000000000000000000000000AA"))
	require.NoError(t, err)
	assert.Equal(t, "eve", name)

	name, err = c.UsernameByVerification(context.Background(), persist.NewAddress("0x00000000000000000000000000000000000000BB"))
	require.NoError(t, err)
	assert.Empty(t, name)
}
