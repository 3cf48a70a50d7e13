// Package client is a thin helper for talking to a broker. It validates
// requests before they leave the process — ill-formed contents transforms
// and unknown type names are caller errors, not wire traffic — and decodes
// typed lookup records.
package client

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

// Client talks to one broker.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Client for the broker at host:port.
func New(host string, port int) *Client {
	return &Client{
		baseURL:    fmt.Sprintf("http://%s:%d", host, port),
		httpClient: &http.Client{Timeout: 2 * time.Minute},
	}
}

// Search runs a query across the fleet.
func (c *Client) Search(ctx context.Context, req resource.SearchRequest) (*resource.SearchResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	var resp resource.SearchResponse
	if err := c.postJSON(ctx, "/v1/search", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Transform runs one of the nine transforms. Contents transforms that break
// the containment relation are rejected here, before any network traffic.
func (c *Client) Transform(ctx context.Context, req resource.TransformRequest) (*resource.SearchResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	var resp resource.SearchResponse
	if err := c.postJSON(ctx, "/v1/transform", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// LookupCollection fetches a collection record.
func (c *Client) LookupCollection(ctx context.Context, req resource.LookupRequest) (*resource.Collection, error) {
	var out resource.Collection
	if err := c.lookup(ctx, resource.TypeCollection, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// LookupPage fetches a page record.
func (c *Client) LookupPage(ctx context.Context, req resource.LookupRequest) (*resource.Page, error) {
	var out resource.Page
	if err := c.lookup(ctx, resource.TypePage, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// LookupPicture fetches a picture record.
func (c *Client) LookupPicture(ctx context.Context, req resource.LookupRequest) (*resource.Picture, error) {
	var out resource.Picture
	if err := c.lookup(ctx, resource.TypePicture, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// LookupVideo fetches a video record.
func (c *Client) LookupVideo(ctx context.Context, req resource.LookupRequest) (*resource.Video, error) {
	var out resource.Video
	if err := c.lookup(ctx, resource.TypeVideo, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// LookupAudio fetches an audio record.
func (c *Client) LookupAudio(ctx context.Context, req resource.LookupRequest) (*resource.Audio, error) {
	var out resource.Audio
	if err := c.lookup(ctx, resource.TypeAudio, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// LookupPerson fetches a person record.
func (c *Client) LookupPerson(ctx context.Context, req resource.LookupRequest) (*resource.Person, error) {
	var out resource.Person
	if err := c.lookup(ctx, resource.TypePerson, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// LookupLocation fetches a location record.
func (c *Client) LookupLocation(ctx context.Context, req resource.LookupRequest) (*resource.Location, error) {
	var out resource.Location
	if err := c.lookup(ctx, resource.TypeLocation, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// LookupOrganization fetches an organization record.
func (c *Client) LookupOrganization(ctx context.Context, req resource.LookupRequest) (*resource.Organization, error) {
	var out resource.Organization
	if err := c.lookup(ctx, resource.TypeOrganization, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) lookup(ctx context.Context, kind resource.Type, req resource.LookupRequest, out interface{}) error {
	if req.ID.ResourceID == "" {
		return fmt.Errorf("access identifier resource_id is required")
	}
	return c.postJSON(ctx, "/v1/lookup/"+string(kind), req, out)
}

func (c *Client) postJSON(ctx context.Context, path string, in, out interface{}) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return fmt.Errorf("reading broker reply: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return fmt.Errorf("broker returned status %d: %s", httpResp.StatusCode, string(body))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding broker reply: %w", err)
	}
	return nil
}
