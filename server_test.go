package librarian

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amarack/librarian/resource"
)

func testServer(t *testing.T) (*Broker, *httptest.Server) {
	t.Helper()
	b, err := New(Config{})
	require.NoError(t, err)
	srv := httptest.NewServer(b.Handler())
	t.Cleanup(srv.Close)
	return b, srv
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewReader([]byte(body)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestHealth(t *testing.T) {
	_, srv := testServer(t)
	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetricsExposed(t *testing.T) {
	_, srv := testServer(t)
	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSearchRejectsMalformedBody(t *testing.T) {
	_, srv := testServer(t)
	assert.Equal(t, http.StatusBadRequest,
		post(t, srv.URL+"/v1/search", `{"query": 42}`).StatusCode)
	assert.Equal(t, http.StatusBadRequest,
		post(t, srv.URL+"/v1/search", `{"query": ""}`).StatusCode)
	assert.Equal(t, http.StatusBadRequest,
		post(t, srv.URL+"/v1/search", `{"query": "x", "types": ["scroll"]}`).StatusCode)
}

func TestTransformRejectsMalformedBody(t *testing.T) {
	_, srv := testServer(t)
	assert.Equal(t, http.StatusBadRequest,
		post(t, srv.URL+"/v1/transform", `{"kind": "sideways"}`).StatusCode)
}

func TestLookupRejectsUnknownKind(t *testing.T) {
	_, srv := testServer(t)
	assert.Equal(t, http.StatusBadRequest,
		post(t, srv.URL+"/v1/lookup/scroll", `{"id":{"identifier":"i","resource_id":"k"}}`).StatusCode)
}

// A well-formed search against an empty fleet is a valid response, not a
// transport error.
func TestSearchEmptyFleet(t *testing.T) {
	_, srv := testServer(t)
	resp := post(t, srv.URL+"/v1/search", `{"query":"x","types":["page"],"params":{"num_requested":5,"start_at":0}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var sr resource.SearchResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sr))
	assert.True(t, strings.HasPrefix(sr.Error, "No library support"))
}

func TestEndpointsAndCapabilitiesRoutes(t *testing.T) {
	b, srv := testServer(t)
	b.Connect(context.Background(), resource.ConnectRequest{
		Hostname: "h1", Port: 1, GroupID: "g",
		SupportedTypes: []resource.Type{resource.TypePage},
		DynamicTransforms: []resource.DynamicTransformID{
			{Name: "related", FromType: resource.TypePage},
		},
	})

	resp, err := http.Get(srv.URL + "/v1/endpoints")
	require.NoError(t, err)
	defer resp.Body.Close()
	var endpoints struct {
		Endpoints []struct {
			Key     string `json:"key"`
			GroupID string `json:"group_id"`
		} `json:"endpoints"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&endpoints))
	require.Len(t, endpoints.Endpoints, 1)
	assert.Equal(t, "g", endpoints.Endpoints[0].GroupID)

	resp2, err := http.Get(srv.URL + "/v1/capabilities")
	require.NoError(t, err)
	defer resp2.Body.Close()
	var caps struct {
		SupportedTypes    []resource.Type               `json:"supported_types"`
		DynamicTransforms []resource.DynamicTransformID `json:"dynamic_transforms"`
	}
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&caps))
	assert.Equal(t, []resource.Type{resource.TypePage}, caps.SupportedTypes)
	require.Len(t, caps.DynamicTransforms, 1)
}

func TestConnectOverHTTP(t *testing.T) {
	_, srv := testServer(t)

	resp := post(t, srv.URL+"/v1/connect",
		`{"hostname":"h1","port":9000,"supported_types":["page"]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var cr resource.ConnectResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&cr))
	assert.Len(t, cr.Key, 8)
	assert.Empty(t, cr.Error)

	// Invalid connect requests are refused in the response, not the
	// transport.
	resp2 := post(t, srv.URL+"/v1/connect", `{"hostname":"","port":9000}`)
	require.Equal(t, http.StatusOK, resp2.StatusCode)
	var refused resource.ConnectResponse
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&refused))
	assert.Empty(t, refused.Key)
	assert.NotEmpty(t, refused.Error)
}
