package adminapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khoa-s-development/SentinelProxy-sub002/config"
	"github.com/khoa-s-development/SentinelProxy-sub002/server"
)

const testAPIKey = "test-key"

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.NewDefaultConfig()
	manager, err := server.NewSecurityManager(cfg.Security)
	require.NoError(t, err)

	s, err := New(manager, config.AdminAPIConfig{
		Enabled: true,
		Addr:    "127.0.0.1:0",
		APIKey:  testAPIKey,
	})
	require.NoError(t, err)
	return s
}

func doRequest(t *testing.T, s *Server, method, path string, body interface{}, apiKey string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	rec := httptest.NewRecorder()
	s.setupRoutes().ServeHTTP(rec, req)
	return rec
}

func TestNewRequiresAPIKey(t *testing.T) {
	cfg := config.NewDefaultConfig()
	manager, err := server.NewSecurityManager(cfg.Security)
	require.NoError(t, err)

	_, err = New(manager, config.AdminAPIConfig{Addr: "127.0.0.1:0"})
	assert.Error(t, err)
}

func TestAuthMiddleware(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, "GET", "/api/v1/status", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(t, s, "GET", "/api/v1/status", nil, "wrong-key")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doRequest(t, s, "GET", "/api/v1/status", nil, testAPIKey)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpointUnauthenticated(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, "GET", "/metrics", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "sentinel_")
}

func TestStatusEndpoint(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, "GET", "/api/v1/status", nil, testAPIKey)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats server.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, "medium", stats.SecurityLevel)
}

func TestSecurityLevelEndpoints(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, "PUT", "/api/v1/security/level", SetLevelRequest{Level: "extreme"}, testAPIKey)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, s, "GET", "/api/v1/security/level", nil, testAPIKey)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "extreme", resp["level"])

	rec = doRequest(t, s, "PUT", "/api/v1/security/level", SetLevelRequest{Level: "paranoid"}, testAPIKey)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBlacklistEndpoints(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, "POST", "/api/v1/blacklist",
		BlacklistRequest{Address: "10.0.0.1", Reason: "abuse", Duration: "1h"}, testAPIKey)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, s.manager.Access().IsBlacklisted("10.0.0.1"))

	rec = doRequest(t, s, "GET", "/api/v1/blacklist/10.0.0.1", nil, testAPIKey)
	require.Equal(t, http.StatusOK, rec.Code)
	var check map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &check))
	assert.Equal(t, true, check["blacklisted"])

	rec = doRequest(t, s, "DELETE", "/api/v1/blacklist/10.0.0.1", nil, testAPIKey)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, s.manager.Access().IsBlacklisted("10.0.0.1"))

	// Validation failures.
	rec = doRequest(t, s, "POST", "/api/v1/blacklist", BlacklistRequest{}, testAPIKey)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = doRequest(t, s, "POST", "/api/v1/blacklist",
		BlacklistRequest{Address: "10.0.0.1", Duration: "soon"}, testAPIKey)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWhitelistEndpoints(t *testing.T) {
	s := newTestServer(t)

	require.NoError(t, s.manager.Access().Blacklist("10.0.0.1", "abuse", 0))

	rec := doRequest(t, s, "POST", "/api/v1/whitelist",
		WhitelistRequest{Address: "10.0.0.1", Reason: "operator"}, testAPIKey)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, s.manager.Access().IsWhitelisted("10.0.0.1"))
	assert.False(t, s.manager.Access().IsBlacklisted("10.0.0.1"))

	rec = doRequest(t, s, "DELETE", "/api/v1/whitelist/10.0.0.1", nil, testAPIKey)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, s.manager.Access().IsWhitelisted("10.0.0.1"))
}

func TestTrafficEndpoint(t *testing.T) {
	s := newTestServer(t)

	require.True(t, s.manager.AnalyzeConnection("10.0.0.1", 25565))
	require.True(t, s.manager.AnalyzeConnection("10.0.0.1", 443))

	rec := doRequest(t, s, "GET", "/api/v1/addresses/10.0.0.1/traffic", nil, testAPIKey)
	require.Equal(t, http.StatusOK, rec.Code)

	var snap map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, float64(2), snap["connection_rate"])
	assert.Equal(t, float64(2), snap["distinct_ports"])
}

func TestEventCountEndpoint(t *testing.T) {
	s := newTestServer(t)

	s.manager.AddSecurityEvent("10.0.0.1", "port_scan")
	s.manager.AddSecurityEvent("10.0.0.1", "port_scan")

	rec := doRequest(t, s, "GET", "/api/v1/addresses/10.0.0.1/events/port_scan", nil, testAPIKey)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, float64(2), resp["count"])
}
