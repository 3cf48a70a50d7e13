// Package endpoint implements the library-side protocol handler: it joins a
// broker on startup, then serves broker-issued search, transform, and
// lookup requests by delegating to a DataStore.
package endpoint

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/amarack/librarian/internal/logging"
	"github.com/amarack/librarian/resource"
)

// State is the endpoint lifecycle state.
type State int

// Endpoint lifecycle states. Requests are only handled while Serving.
const (
	StateDisconnected State = iota
	StateAwaitingAck
	StateServing
	StateTerminated
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateAwaitingAck:
		return "awaiting_ack"
	case StateServing:
		return "serving"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// MismatchedResourceMessage is stamped into lookup stubs when a lookup
// reaches an endpoint that does not own the named resource.
func MismatchedResourceMessage(got, ours string) string {
	return fmt.Sprintf("Received lookup with mismatched resource ID: %s vs %s", got, ours)
}

// Options configure an endpoint handler.
type Options struct {
	// Hostname and Port are this endpoint's reachable address, advertised
	// to the broker.
	Hostname string
	Port     int
	// BrokerHostname and BrokerPort locate the broker.
	BrokerHostname string
	BrokerPort     int
	// GroupID joins an existing replica group; empty mints a fresh one.
	GroupID string
	// RequestedKey asks the broker for a specific key; empty accepts a
	// generated one.
	RequestedKey string
	// SupportedTypes and DynamicTransforms are the advertised capabilities.
	SupportedTypes    []resource.Type
	DynamicTransforms []resource.DynamicTransformID
}

// Handler is the endpoint-side protocol handler.
type Handler struct {
	opts       Options
	store      DataStore
	httpClient *http.Client

	mu    sync.RWMutex
	state State
	key   string
}

// New creates a Handler in the Disconnected state.
func New(store DataStore, opts Options) *Handler {
	return &Handler{
		opts:       opts,
		store:      store,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		state:      StateDisconnected,
	}
}

// State returns the current lifecycle state.
func (h *Handler) State() State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

// Key returns the broker-assigned key, empty until Serving.
func (h *Handler) Key() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.key
}

// Connect registers with the broker. On acknowledgement the canonical key
// from the broker replaces any requested one and the handler starts serving.
// A refusal leaves the handler Disconnected; it will not handle requests.
func (h *Handler) Connect(ctx context.Context) error {
	h.setState(StateAwaitingAck)

	req := resource.ConnectRequest{
		Hostname:          h.opts.Hostname,
		Port:              h.opts.Port,
		GroupID:           h.opts.GroupID,
		RequestedKey:      h.opts.RequestedKey,
		SupportedTypes:    h.opts.SupportedTypes,
		DynamicTransforms: h.opts.DynamicTransforms,
	}
	if err := req.Validate(); err != nil {
		h.setState(StateDisconnected)
		return err
	}

	resp, err := h.postConnect(ctx, req)
	if err != nil {
		h.setState(StateDisconnected)
		return err
	}
	if resp.Error != "" {
		logging.FromContext(ctx).Error("broker refused connection", "error", resp.Error)
		h.setState(StateDisconnected)
		return fmt.Errorf("broker refused connection: %s", resp.Error)
	}

	h.mu.Lock()
	h.key = resp.Key
	h.state = StateServing
	h.mu.Unlock()

	logging.FromContext(ctx).Info("connected to broker",
		"key", resp.Key,
		"broker", fmt.Sprintf("%s:%d", h.opts.BrokerHostname, h.opts.BrokerPort),
	)
	return nil
}

// Shutdown marks the handler Terminated; subsequent requests are refused.
func (h *Handler) Shutdown() {
	h.setState(StateTerminated)
}

func (h *Handler) setState(s State) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
}

func (h *Handler) postConnect(ctx context.Context, req resource.ConnectRequest) (*resource.ConnectResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("http://%s:%d/v1/connect", h.opts.BrokerHostname, h.opts.BrokerPort)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := h.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("connecting to broker: %w", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, err
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("broker returned status %d: %s", httpResp.StatusCode, string(body))
	}
	var resp resource.ConnectResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decoding connect response: %w", err)
	}
	return &resp, nil
}

// Routes builds the HTTP surface the broker dispatches to.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(logging.Middleware)
	r.Use(h.requireServing)

	r.Post("/v1/search", h.handleSearch)
	r.Post("/v1/transform", h.handleTransform)
	r.Post("/v1/lookup/{kind}", h.handleLookup)

	return r
}

// requireServing refuses requests until the broker has acknowledged the
// connection.
func (h *Handler) requireServing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.State() != StateServing {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"error": "endpoint is not serving: " + h.State().String(),
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req resource.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	resp, err := h.store.RunSearch(r.Context(), req)
	h.writeResponse(r.Context(), w, resp, err)
}

func (h *Handler) handleTransform(w http.ResponseWriter, r *http.Request) {
	var req resource.TransformRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var (
		resp *resource.SearchResponse
		err  error
	)
	switch req.Kind {
	case resource.TransformContainer:
		resp, err = h.store.RunContainerTransform(r.Context(), req)
	case resource.TransformContents:
		resp, err = h.store.RunContentsTransform(r.Context(), req)
	case resource.TransformOverlaps:
		resp, err = h.store.RunOverlaps(r.Context(), req)
	case resource.TransformOccurAsObj:
		resp, err = h.store.RunOccurAsObject(r.Context(), req)
	case resource.TransformOccurAsSubj:
		resp, err = h.store.RunOccurAsSubject(r.Context(), req)
	case resource.TransformOccurHasObj:
		resp, err = h.store.RunOccurHasObject(r.Context(), req)
	case resource.TransformOccurHasSubj:
		resp, err = h.store.RunOccurHasSubject(r.Context(), req)
	case resource.TransformNearbyLocs:
		resp, err = h.store.RunNearbyLocations(r.Context(), req)
	case resource.TransformDynamic:
		resp, err = h.store.RunDynamic(r.Context(), req)
	default:
		http.Error(w, fmt.Sprintf("unknown transform kind: %q", req.Kind), http.StatusBadRequest)
		return
	}
	h.writeResponse(r.Context(), w, resp, err)
}

// writeResponse stamps the endpoint key into every result and replies.
// Store errors become wire-level response errors, never transport failures.
func (h *Handler) writeResponse(ctx context.Context, w http.ResponseWriter, resp *resource.SearchResponse, err error) {
	if err != nil {
		logging.FromContext(ctx).Error("store error", "error", err.Error())
		resp = &resource.SearchResponse{
			Results: []resource.SearchResult{},
			Error:   err.Error(),
		}
	}
	h.prepareToSend(resp)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// prepareToSend rewrites each result's resource id to this endpoint's
// broker-assigned key, so clients can route follow-up transforms and
// lookups back here.
func (h *Handler) prepareToSend(resp *resource.SearchResponse) {
	key := h.Key()
	for i := range resp.Results {
		resp.Results[i].ID.ResourceID = key
	}
}

func (h *Handler) handleLookup(w http.ResponseWriter, r *http.Request) {
	kind, err := resource.Parse(chi.URLParam(r, "kind"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var req resource.LookupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ours := h.Key()
	if req.ID.ResourceID != ours {
		h.writeLookup(w, resource.LookupStub(kind, req.ID, MismatchedResourceMessage(req.ID.ResourceID, ours)))
		return
	}

	record, err := h.lookup(r.Context(), kind, req)
	if err != nil {
		logging.FromContext(r.Context()).Error("lookup store error", "kind", kind, "error", err.Error())
		h.writeLookup(w, resource.LookupStub(kind, req.ID, err.Error()))
		return
	}
	h.writeLookup(w, record)
}

func (h *Handler) lookup(ctx context.Context, kind resource.Type, req resource.LookupRequest) (interface{}, error) {
	switch kind {
	case resource.TypeCollection:
		return h.store.LookupCollection(ctx, req)
	case resource.TypePage:
		return h.store.LookupPage(ctx, req)
	case resource.TypePicture:
		return h.store.LookupPicture(ctx, req)
	case resource.TypeVideo:
		return h.store.LookupVideo(ctx, req)
	case resource.TypeAudio:
		return h.store.LookupAudio(ctx, req)
	case resource.TypePerson:
		return h.store.LookupPerson(ctx, req)
	case resource.TypeLocation:
		return h.store.LookupLocation(ctx, req)
	case resource.TypeOrganization:
		return h.store.LookupOrganization(ctx, req)
	default:
		return nil, fmt.Errorf("unknown resource type: %q", kind)
	}
}

func (h *Handler) writeLookup(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
