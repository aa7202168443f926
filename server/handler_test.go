package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1hive/gardens-points/service/points"
)

func testRouter(t *testing.T, svc *points.Service) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	viper.Set("CRON_SECRET", "test-secret")
	t.Cleanup(func() { viper.Set("CRON_SECRET", "") })

	router := gin.New()
	return HandlersInit(router, svc, svc)
}

func get(router *gin.Engine, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestCronAuthRejectsBadToken(t *testing.T) {
	svc := &points.Service{}
	router := testRouter(t, svc)

	assert.Equal(t, http.StatusUnauthorized, get(router, "/api/superfluid-points", "").Code)
	assert.Equal(t, http.StatusUnauthorized, get(router, "/api/superfluid-points", "wrong").Code)
	assert.Equal(t, http.StatusUnauthorized, get(router, "/api/superfluid-points-gd", "wrong").Code)
}

func TestHealthCheckUnauthenticated(t *testing.T) {
	router := testRouter(t, &points.Service{})
	assert.Equal(t, http.StatusOK, get(router, "/alive", "").Code)
}

func TestCampaignEndedShortCircuits(t *testing.T) {
	svc := &points.Service{
		Variant:  points.Variant{Name: "superfluid-points"},
		Campaign: points.Campaign{StartMS: 0, EndMS: time.Now().Add(-time.Hour).UnixMilli()},
	}
	router := testRouter(t, svc)

	w := get(router, "/api/superfluid-points", "test-secret")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "Campaign has ended", body["message"])
}

func TestMissingLedgerCredentials(t *testing.T) {
	svc := &points.Service{
		Variant:  points.Variant{Name: "superfluid-points"},
		Campaign: points.Campaign{StartMS: 0, EndMS: time.Now().Add(time.Hour).UnixMilli()},
	}
	router := testRouter(t, svc)

	w := get(router, "/api/superfluid-points", "test-secret")
	require.Equal(t, http.StatusInternalServerError, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "Stack client not configured", body["error"])
}
