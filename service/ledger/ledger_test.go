package ledger

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
	c, err := NewClient(srv.Client(), srv.URL, "test-key", 77)
	require.NoError(t, err)
	return c
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(nil, "", "", 77)
	assert.ErrorAs(t, err, &ErrMissingCredentials{})

	_, err = NewClient(nil, "", "key", 0)
	assert.ErrorAs(t, err, &ErrMissingCredentials{})
}

func TestAllEvents(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/points/events", r.URL.Path)
		assert.Equal(t, "77", r.URL.Query().Get("campaignId"))
		assert.Equal(t, "100", r.URL.Query().Get("limit"))
		switch r.URL.Query().Get("page") {
		case "1":
			// Mixed legacy field names must normalize.
			fmt.Fprint(w, `{
				"events":[
					{"eventName":"fundPoints","account":"0x00000000000000000000000000000000000000AA","points":50},
					{"event":"streamPoints","address":"0x00000000000000000000000000000000000000BB","points":20}
				],
				"pagination":{"hasNextPage":true}
			}`)
		case "2":
			fmt.Fprint(w, `{
				"events":[{"eventName":"fundPoints","account":"0x00000000000000000000000000000000000000aa","points":-10}],
				"pagination":{"hasNextPage":false}
			}`)
		}
	}))

	events, err := c.AllEvents(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "fundPoints", events[0].EventName)
	assert.Equal(t, persist.NewAddress("0x00000000000000000000000000000000000000AA"), events[0].Account)
	assert.Equal(t, int64(50), events[0].Points)
	assert.Equal(t, "streamPoints", events[1].EventName)
	assert.Equal(t, persist.NewAddress("0x00000000000000000000000000000000000000BB"), events[1].Account)
	assert.Equal(t, int64(-10), events[2].Points)
}

func TestSendEventsBatches(t *testing.T) {
	var batches [][]Event
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/points/push", r.URL.Path)
		require.Equal(t, "test-key", r.Header.Get("X-API-Key"))
		var body struct {
			CampaignID int64   `json:"campaignId"`
			Events     []Event `json:"events"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, int64(77), body.CampaignID)
		batches = append(batches, body.Events)
		fmt.Fprintf(w, `{"message":"ok","pushRequestId":1,"eventCount":%d}`, len(body.Events))
	}))

	events := make([]Event, 600)
	for i := range events {
		events[i] = Event{EventName: "fundPoints", Account: "0x00000000000000000000000000000000000000aa", Points: 1}
	}
	require.NoError(t, c.SendEvents(context.Background(), events))
	require.Len(t, batches, 3)
	assert.Len(t, batches[0], 250)
	assert.Len(t, batches[1], 250)
	assert.Len(t, batches[2], 100)
}
