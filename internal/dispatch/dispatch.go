// Package dispatch issues broker requests to selected endpoints and reduces
// their replies into a single response.
//
// A search or transform fans out to every target concurrently and merges
// result lists by concatenation in completion order; the order is
// unspecified. Partial failures are absorbed: as long as one endpoint
// answers, the client sees its results and no error. Lookups always have a
// single target and reply with a typed stub when the target is unknown.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/amarack/librarian/internal/circuitbreaker"
	"github.com/amarack/librarian/internal/logging"
	"github.com/amarack/librarian/internal/metrics"
	"github.com/amarack/librarian/internal/registry"
	"github.com/amarack/librarian/resource"
)

// DefaultTimeout bounds each endpoint call when no timeout is configured.
const DefaultTimeout = 30 * time.Second

// NoSupportMessage is the client-visible error when no endpoint can serve
// the operation.
func NoSupportMessage(op string) string {
	return "No library support for this operation: " + op
}

// AllFailedMessage is the client-visible error when every targeted endpoint
// failed.
func AllFailedMessage(op string) string {
	return "Error in responses from libraries for operation: " + op
}

// UnrecognizedResourceMessage is stamped into lookup stubs for keys the
// broker has never seen.
func UnrecognizedResourceMessage(key string) string {
	return "Received lookup with unrecognized resource ID: " + key
}

// CallerLookup resolves an endpoint key to its live handle.
type CallerLookup func(key string) (registry.Caller, bool)

// BreakerConfig configures the per-endpoint circuit breakers. A nil config
// disables breaking entirely.
type BreakerConfig struct {
	FailureThreshold int
	SuccessThreshold int
	Timeout          time.Duration
}

// Options tune a Dispatcher.
type Options struct {
	// Timeout bounds each endpoint call. Zero means DefaultTimeout.
	Timeout time.Duration
	// Breaker enables per-endpoint circuit breaking when non-nil.
	Breaker *BreakerConfig
}

// Dispatcher fans requests out to endpoints and aggregates replies.
type Dispatcher struct {
	lookup  CallerLookup
	timeout time.Duration

	breakerCfg *BreakerConfig
	mu         sync.Mutex
	breakers   map[string]*circuitbreaker.CircuitBreaker
}

// New creates a Dispatcher resolving endpoints through lookup.
func New(lookup CallerLookup, opts Options) *Dispatcher {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Dispatcher{
		lookup:     lookup,
		timeout:    timeout,
		breakerCfg: opts.Breaker,
		breakers:   make(map[string]*circuitbreaker.CircuitBreaker),
	}
}

// Search dispatches a search to targets and merges the replies.
func (d *Dispatcher) Search(ctx context.Context, req resource.SearchRequest, targets []string) *resource.SearchResponse {
	return d.fanOut(ctx, "search", targets, func(ctx context.Context, c registry.Caller) (*resource.SearchResponse, error) {
		return c.Search(ctx, req)
	})
}

// Transform dispatches a transform to targets and merges the replies.
func (d *Dispatcher) Transform(ctx context.Context, req resource.TransformRequest, targets []string) *resource.SearchResponse {
	return d.fanOut(ctx, req.Operation(), targets, func(ctx context.Context, c registry.Caller) (*resource.SearchResponse, error) {
		return c.Transform(ctx, req)
	})
}

// Lookup dispatches a lookup to the endpoint named by the access identifier.
// An unregistered key produces the typed stub immediately, without any
// network call.
func (d *Dispatcher) Lookup(ctx context.Context, kind resource.Type, req resource.LookupRequest) json.RawMessage {
	key := req.ID.ResourceID
	caller, ok := d.lookup(key)
	if !ok {
		return marshalStub(kind, req.ID, UnrecognizedResourceMessage(key))
	}

	raw, err := d.callLookup(ctx, key, caller, kind, req)
	if err != nil {
		logging.FromContext(ctx).Warn("lookup call failed", "endpoint", key, "error", err.Error())
		return marshalStub(kind, req.ID, fmt.Sprintf("lookup failed: %v", err))
	}
	return raw
}

func (d *Dispatcher) callLookup(ctx context.Context, key string, caller registry.Caller, kind resource.Type, req resource.LookupRequest) (json.RawMessage, error) {
	cb := d.breakerFor(key)
	if cb != nil && !cb.Allow() {
		metrics.EndpointErrors.WithLabelValues(key, "circuit_open").Inc()
		metrics.CircuitBreakerState.WithLabelValues(key).Set(float64(cb.State()))
		return nil, circuitbreaker.ErrCircuitOpen
	}

	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	raw, err := caller.Lookup(callCtx, kind, req)
	d.record(key, cb, err)
	return raw, err
}

func marshalStub(kind resource.Type, id resource.AccessIdentifier, msg string) json.RawMessage {
	b, _ := json.Marshal(resource.LookupStub(kind, id, msg))
	return b
}

type outcome struct {
	key  string
	resp *resource.SearchResponse
	err  error
}

// fanOut runs call against every target concurrently and reduces. The
// single-target reply is returned as-is, including any endpoint-level error
// field; with two or more targets an error-bearing reply counts as a failed
// leg of the reduction.
func (d *Dispatcher) fanOut(ctx context.Context, op string, targets []string, call func(context.Context, registry.Caller) (*resource.SearchResponse, error)) *resource.SearchResponse {
	metrics.FanoutSize.Observe(float64(len(targets)))

	if len(targets) == 0 {
		return &resource.SearchResponse{
			Results: []resource.SearchResult{},
			Error:   NoSupportMessage(op),
		}
	}

	ch := make(chan outcome, len(targets))
	var wg sync.WaitGroup
	for _, key := range targets {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			resp, err := d.callOne(ctx, key, call)
			ch <- outcome{key: key, resp: resp, err: err}
		}(key)
	}
	wg.Wait()
	close(ch)

	log := logging.FromContext(ctx)

	if len(targets) == 1 {
		out := <-ch
		if out.err != nil {
			log.Warn("endpoint call failed", "operation", op, "endpoint", out.key, "error", out.err.Error())
			return &resource.SearchResponse{
				Results: []resource.SearchResult{},
				Error:   AllFailedMessage(op),
			}
		}
		return out.resp
	}

	merged := &resource.SearchResponse{Results: []resource.SearchResult{}}
	succeeded := 0
	for out := range ch {
		switch {
		case out.err != nil:
			log.Warn("endpoint call failed", "operation", op, "endpoint", out.key, "error", out.err.Error())
		case out.resp.Error != "":
			metrics.EndpointErrors.WithLabelValues(out.key, "endpoint_error").Inc()
			log.Warn("endpoint reported error", "operation", op, "endpoint", out.key, "error", out.resp.Error)
		default:
			merged.Results = append(merged.Results, out.resp.Results...)
			succeeded++
		}
	}

	if succeeded == 0 {
		merged.Error = AllFailedMessage(op)
	}
	return merged
}

// callOne runs a single endpoint call with timeout and breaker accounting.
func (d *Dispatcher) callOne(ctx context.Context, key string, call func(context.Context, registry.Caller) (*resource.SearchResponse, error)) (*resource.SearchResponse, error) {
	caller, ok := d.lookup(key)
	if !ok {
		return nil, fmt.Errorf("no live handle for endpoint %s", key)
	}

	cb := d.breakerFor(key)
	if cb != nil && !cb.Allow() {
		metrics.EndpointErrors.WithLabelValues(key, "circuit_open").Inc()
		metrics.CircuitBreakerState.WithLabelValues(key).Set(float64(cb.State()))
		return nil, circuitbreaker.ErrCircuitOpen
	}

	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	resp, err := call(callCtx, caller)
	d.record(key, cb, err)
	if err != nil {
		errType := "call_error"
		if errors.Is(err, context.DeadlineExceeded) {
			errType = "timeout"
		}
		metrics.EndpointErrors.WithLabelValues(key, errType).Inc()
		return nil, err
	}
	if resp == nil {
		return nil, fmt.Errorf("empty reply from endpoint %s", key)
	}
	return resp, nil
}

// breakerFor returns the breaker for key, creating it on first use. Returns
// nil when breaking is disabled.
func (d *Dispatcher) breakerFor(key string) *circuitbreaker.CircuitBreaker {
	if d.breakerCfg == nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	cb, ok := d.breakers[key]
	if !ok {
		cb = circuitbreaker.New(d.breakerCfg.FailureThreshold, d.breakerCfg.SuccessThreshold, d.breakerCfg.Timeout)
		d.breakers[key] = cb
	}
	return cb
}

func (d *Dispatcher) record(key string, cb *circuitbreaker.CircuitBreaker, err error) {
	if cb == nil {
		return
	}
	if err != nil {
		cb.RecordFailure()
	} else {
		cb.RecordSuccess()
	}
	metrics.CircuitBreakerState.WithLabelValues(key).Set(float64(cb.State()))
}
