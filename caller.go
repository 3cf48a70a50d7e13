package librarian

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/amarack/librarian/resource"
)

// endpointClient is the live handle the broker holds for each connected
// endpoint. It speaks the endpoint's JSON-over-HTTP surface.
type endpointClient struct {
	baseURL    string
	httpClient *http.Client
}

func newEndpointClient(hostname string, port int) *endpointClient {
	return &endpointClient{
		baseURL: fmt.Sprintf("http://%s:%d", hostname, port),
		// Per-call deadlines come from the dispatcher's context; the client
		// timeout is only a backstop against leaked connections.
		httpClient: &http.Client{Timeout: 2 * time.Minute},
	}
}

func (c *endpointClient) Search(ctx context.Context, req resource.SearchRequest) (*resource.SearchResponse, error) {
	var resp resource.SearchResponse
	if err := c.postJSON(ctx, "/v1/search", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *endpointClient) Transform(ctx context.Context, req resource.TransformRequest) (*resource.SearchResponse, error) {
	var resp resource.SearchResponse
	if err := c.postJSON(ctx, "/v1/transform", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *endpointClient) Lookup(ctx context.Context, kind resource.Type, req resource.LookupRequest) (json.RawMessage, error) {
	body, err := c.post(ctx, "/v1/lookup/"+string(kind), req)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(body), nil
}

func (c *endpointClient) postJSON(ctx context.Context, path string, in, out interface{}) error {
	body, err := c.post(ctx, path, in)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding endpoint reply: %w", err)
	}
	return nil
}

func (c *endpointClient) post(ctx context.Context, path string, in interface{}) ([]byte, error) {
	payload, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading endpoint reply: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("endpoint returned status %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}
