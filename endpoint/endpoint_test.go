package endpoint

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amarack/librarian/endpoint/memstore"
	"github.com/amarack/librarian/resource"
)

// stubBroker answers /v1/connect with a fixed response.
func stubBroker(t *testing.T, resp resource.ConnectResponse) (host string, port int, requests *[]resource.ConnectRequest) {
	t.Helper()
	requests = &[]resource.ConnectRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/connect", r.URL.Path)
		var req resource.ConnectRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		*requests = append(*requests, req)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err = strconv.Atoi(u.Port())
	require.NoError(t, err)
	return u.Hostname(), port, requests
}

func newHandler(t *testing.T, brokerHost string, brokerPort int) *Handler {
	t.Helper()
	store := memstore.Sample()
	return New(store, Options{
		Hostname:          "localhost",
		Port:              8082,
		BrokerHostname:    brokerHost,
		BrokerPort:        brokerPort,
		RequestedKey:      "wanted01",
		SupportedTypes:    store.SupportedTypes(),
		DynamicTransforms: store.DynamicTransforms(),
	})
}

func TestConnectAcknowledged(t *testing.T) {
	host, port, requests := stubBroker(t, resource.ConnectResponse{Key: "granted1"})
	h := newHandler(t, host, port)

	assert.Equal(t, StateDisconnected, h.State())
	require.NoError(t, h.Connect(context.Background()))
	assert.Equal(t, StateServing, h.State())
	// The canonical key from the broker replaces the requested one.
	assert.Equal(t, "granted1", h.Key())

	require.Len(t, *requests, 1)
	assert.Equal(t, "wanted01", (*requests)[0].RequestedKey)
	assert.Len(t, (*requests)[0].SupportedTypes, 8)
}

func TestConnectRefusedStaysDisconnected(t *testing.T) {
	host, port, _ := stubBroker(t, resource.ConnectResponse{Error: "requested key is held by a different endpoint: wanted01"})
	h := newHandler(t, host, port)

	err := h.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateDisconnected, h.State())
	assert.Empty(t, h.Key())
}

func TestRoutesRefuseUntilServing(t *testing.T) {
	h := newHandler(t, "localhost", 1)
	srv := httptest.NewServer(h.Routes())
	t.Cleanup(srv.Close)

	body, _ := json.Marshal(resource.SearchRequest{Query: "x", Types: []resource.Type{resource.TypePage}})
	resp, err := http.Post(srv.URL+"/v1/search", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

// serving returns a handler in the Serving state with key "granted1".
func serving(t *testing.T) (*Handler, *httptest.Server) {
	t.Helper()
	host, port, _ := stubBroker(t, resource.ConnectResponse{Key: "granted1"})
	h := newHandler(t, host, port)
	require.NoError(t, h.Connect(context.Background()))
	srv := httptest.NewServer(h.Routes())
	t.Cleanup(srv.Close)
	return h, srv
}

func TestSearchStampsResourceIDs(t *testing.T) {
	_, srv := serving(t)

	body, _ := json.Marshal(resource.SearchRequest{
		Query: "delta",
		Types: []resource.Type{resource.TypePage},
	})
	resp, err := http.Post(srv.URL+"/v1/search", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var sr resource.SearchResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sr))
	require.NotEmpty(t, sr.Results)
	for _, r := range sr.Results {
		assert.Equal(t, "granted1", r.ID.ResourceID)
	}
}

func TestTransformDispatchesByKind(t *testing.T) {
	_, srv := serving(t)

	body, _ := json.Marshal(resource.TransformRequest{
		Kind: resource.TransformContents,
		ID:   resource.AccessIdentifier{Identifier: "page-delta", ResourceID: "granted1"},
		From: resource.TypePage,
		To:   resource.TypePicture,
	})
	resp, err := http.Post(srv.URL+"/v1/transform", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var sr resource.SearchResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sr))
	require.Len(t, sr.Results, 1)
	assert.Equal(t, "Oosterscheldekering from the air", sr.Results[0].Title)
	assert.Equal(t, "granted1", sr.Results[0].ID.ResourceID)
}

func TestTransformUnknownKind(t *testing.T) {
	_, srv := serving(t)

	resp, err := http.Post(srv.URL+"/v1/transform", "application/json",
		bytes.NewReader([]byte(`{"kind":"sideways","id":{"identifier":"x","resource_id":"granted1"}}`)))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLookupMismatchedResourceID(t *testing.T) {
	_, srv := serving(t)

	body, _ := json.Marshal(resource.LookupRequest{
		ID: resource.AccessIdentifier{Identifier: "page-delta", ResourceID: "someoneel"},
	})
	resp, err := http.Post(srv.URL+"/v1/lookup/page", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var page resource.Page
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&page))
	assert.Equal(t, "Received lookup with mismatched resource ID: someoneel vs granted1", page.ID.Error)
	assert.Empty(t, page.Title)
}

func TestLookupMatch(t *testing.T) {
	_, srv := serving(t)

	body, _ := json.Marshal(resource.LookupRequest{
		ID: resource.AccessIdentifier{Identifier: "per-vanveen", ResourceID: "granted1"},
	})
	resp, err := http.Post(srv.URL+"/v1/lookup/person", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var person resource.Person
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&person))
	assert.Equal(t, "Johan van Veen", person.FullName)
	assert.Empty(t, person.ID.Error)
}

func TestLookupUnknownKind(t *testing.T) {
	_, srv := serving(t)

	resp, err := http.Post(srv.URL+"/v1/lookup/scroll", "application/json",
		bytes.NewReader([]byte(`{"id":{"identifier":"x","resource_id":"granted1"}}`)))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestShutdownStopsServing(t *testing.T) {
	h, srv := serving(t)
	h.Shutdown()
	assert.Equal(t, StateTerminated, h.State())

	body, _ := json.Marshal(resource.SearchRequest{Query: "x", Types: []resource.Type{resource.TypePage}})
	resp, err := http.Post(srv.URL+"/v1/search", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
