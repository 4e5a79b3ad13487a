package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frstrtr/rebot-sub001/config"
	"github.com/frstrtr/rebot-sub001/node"
)

func newTestGateway(t *testing.T) (*node.Node, *httptest.Server) {
	t.Helper()
	cfg, err := config.Load()
	require.NoError(t, err)
	cfg.DataDir = t.TempDir()
	cfg.P2P.ListenPort = 0

	n, err := node.NewNode(cfg)
	require.NoError(t, err)
	require.NoError(t, n.Start())
	t.Cleanup(func() { n.Stop() })

	s := NewServer(n, ":0", true)
	ts := httptest.NewServer(s.router)
	t.Cleanup(ts.Close)
	return n, ts
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestReportAndGetSpammer(t *testing.T) {
	_, ts := newTestGateway(t)

	resp := postJSON(t, ts.URL+"/api/v1/report", map[string]interface{}{
		"user_id":    "5967544195",
		"note":       "crypto scam",
		"is_spammer": true,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, true, body["changed"])

	resp, err := http.Get(ts.URL + "/api/v1/spammer/5967544195")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body = decodeBody(t, resp)
	assert.Equal(t, true, body["found"])
	assert.Equal(t, true, body["is_spammer"])

	record, ok := body["record"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "crypto scam", record["note"])
}

func TestGetUnknownSpammer(t *testing.T) {
	_, ts := newTestGateway(t)

	resp, err := http.Get(ts.URL + "/api/v1/spammer/424242")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, false, body["found"])
	assert.Equal(t, false, body["is_spammer"])
}

func TestReportRequiresUserID(t *testing.T) {
	_, ts := newTestGateway(t)

	resp := postJSON(t, ts.URL+"/api/v1/report", map[string]interface{}{"note": "nothing"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDeleteSpammer(t *testing.T) {
	_, ts := newTestGateway(t)

	resp := postJSON(t, ts.URL+"/api/v1/report", map[string]interface{}{
		"user_id":    "77",
		"is_spammer": true,
	})
	resp.Body.Close()

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/v1/spammer/77", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, true, body["existed"])

	resp, err = http.Get(ts.URL + "/api/v1/spammer/77")
	require.NoError(t, err)
	body = decodeBody(t, resp)
	assert.Equal(t, false, body["found"])
}

func TestListSpammers(t *testing.T) {
	_, ts := newTestGateway(t)

	for _, id := range []string{"1", "2", "3"} {
		resp := postJSON(t, ts.URL+"/api/v1/report", map[string]interface{}{
			"user_id":    id,
			"is_spammer": true,
		})
		resp.Body.Close()
	}

	resp, err := http.Get(ts.URL + "/api/v1/spammers")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, float64(3), body["count"])

	spammers, ok := body["spammers"].([]interface{})
	require.True(t, ok)
	assert.Len(t, spammers, 3)
}

func TestStatusAndHealth(t *testing.T) {
	n, ts := newTestGateway(t)

	resp, err := http.Get(ts.URL + "/api/v1/status")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, n.ID(), body["node_id"])

	resp, err = http.Get(ts.URL + "/api/v1/health")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body = decodeBody(t, resp)
	assert.Equal(t, "healthy", body["status"])
}
