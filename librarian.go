// Package librarian implements a federated search-and-lookup broker for a
// heterogeneous library of cultural-heritage resources.
//
// The Broker type is the main entry point: create one with New, expose its
// wire surface with Handler, and let endpoints join via /v1/connect. Client
// searches fan out across every endpoint whose advertised types match;
// transforms stay within the group owning the named resource; lookups go to
// exactly the owning endpoint.
//
// Plugins hook the request pipeline and are configured via [Config], which
// can be loaded from a YAML or JSON file using [LoadConfig].
package librarian

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/amarack/librarian/internal/dispatch"
	"github.com/amarack/librarian/internal/logging"
	"github.com/amarack/librarian/internal/metrics"
	"github.com/amarack/librarian/internal/registry"
	"github.com/amarack/librarian/internal/router"
	"github.com/amarack/librarian/plugin"
	"github.com/amarack/librarian/resource"
)

// ServiceName is the logical name the broker announces on its wire surface;
// clients and endpoints discover it at a plain (host, port) address.
const ServiceName = "library-service"

// Broker is the central process clients and endpoints talk to.
type Broker struct {
	config     Config
	registry   *registry.Registry
	dispatcher *dispatch.Dispatcher
	plugins    *plugin.Manager
}

// New creates a Broker from the given configuration.
func New(cfg Config) (*Broker, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	reg := registry.New()

	var timeout time.Duration
	if cfg.DispatchTimeout != "" {
		timeout, _ = time.ParseDuration(cfg.DispatchTimeout)
	}

	var breaker *dispatch.BreakerConfig
	if cb := cfg.CircuitBreaker; cb != nil {
		cbTimeout, _ := time.ParseDuration(cb.Timeout)
		breaker = &dispatch.BreakerConfig{
			FailureThreshold: cb.FailureThreshold,
			SuccessThreshold: cb.SuccessThreshold,
			Timeout:          cbTimeout,
		}
	}

	return &Broker{
		config:     cfg,
		registry:   reg,
		dispatcher: dispatch.New(reg.CallerFor, dispatch.Options{Timeout: timeout, Breaker: breaker}),
		plugins:    plugin.NewManager(),
	}, nil
}

// Registry exposes the endpoint table, mainly for the info routes and tests.
func (b *Broker) Registry() *registry.Registry {
	return b.registry
}

// RegisterPlugin registers a plugin at the given lifecycle stage.
func (b *Broker) RegisterPlugin(stage plugin.Stage, p plugin.Plugin) error {
	return b.plugins.Register(stage, p)
}

// LoadPlugins initializes and registers plugins from the broker
// configuration. A plugin named at several stages shares one instance, so
// stateful plugins (the search cache) see both sides of a request.
func (b *Broker) LoadPlugins() error {
	instances := make(map[string]plugin.Plugin)
	for _, pc := range b.config.Plugins {
		if !pc.Enabled {
			continue
		}
		p, ok := instances[pc.Name]
		if !ok {
			factory, found := plugin.GetFactory(pc.Name)
			if !found {
				return fmt.Errorf("unknown plugin: %s", pc.Name)
			}
			p = factory()
			if err := p.Init(pc.Config); err != nil {
				return fmt.Errorf("plugin %s init failed: %w", pc.Name, err)
			}
			instances[pc.Name] = p
		}
		if err := b.plugins.Register(plugin.Stage(pc.Stage), p); err != nil {
			return fmt.Errorf("plugin %s register failed: %w", pc.Name, err)
		}
	}
	return nil
}

// Connect admits an endpoint. Refusals are carried in the response error
// field, never as a transport failure.
func (b *Broker) Connect(ctx context.Context, req resource.ConnectRequest) resource.ConnectResponse {
	log := logging.FromContext(ctx)

	key, err := b.registry.Connect(req, newEndpointClient(req.Hostname, req.Port))
	if err != nil {
		log.Warn("endpoint connect refused",
			"hostname", req.Hostname,
			"port", req.Port,
			"requested_key", req.RequestedKey,
			"error", err.Error(),
		)
		return resource.ConnectResponse{Error: err.Error()}
	}

	metrics.ConnectedEndpoints.Set(float64(b.registry.Len()))
	log.Info("endpoint connected",
		"key", key,
		"hostname", req.Hostname,
		"port", req.Port,
		"types", len(req.SupportedTypes),
		"dynamic_transforms", len(req.DynamicTransforms),
	)
	return resource.ConnectResponse{Key: key}
}

// Search routes a search across every endpoint supporting the requested
// types and merges the replies.
func (b *Broker) Search(ctx context.Context, req resource.SearchRequest) *resource.SearchResponse {
	start := time.Now()

	pctx := plugin.NewSearchContext(&req)
	if resp, done := b.runBefore(ctx, pctx); done {
		return resp
	}
	req = *pctx.Search

	targets := router.SearchTargets(b.registry.Snapshot(), req)
	pctx.Metadata["fan_out"] = len(targets)

	resp := b.dispatcher.Search(ctx, req, targets)
	b.finish(ctx, pctx, resp, start, len(targets))
	return resp
}

// Transform routes one of the nine transforms within the group owning the
// named resource.
func (b *Broker) Transform(ctx context.Context, req resource.TransformRequest) *resource.SearchResponse {
	start := time.Now()

	pctx := plugin.NewTransformContext(&req)
	if resp, done := b.runBefore(ctx, pctx); done {
		return resp
	}
	req = *pctx.Transform

	targets := router.TransformTargets(b.registry.Snapshot(), req)
	pctx.Metadata["fan_out"] = len(targets)

	resp := b.dispatcher.Transform(ctx, req, targets)
	b.finish(ctx, pctx, resp, start, len(targets))
	return resp
}

// Lookup fetches a single typed record from the endpoint named by the
// access identifier. The reply is always well formed: unknown keys yield a
// typed stub whose identifier carries the error.
func (b *Broker) Lookup(ctx context.Context, kind resource.Type, req resource.LookupRequest) json.RawMessage {
	start := time.Now()
	op := "lookup:" + string(kind)

	raw := b.dispatcher.Lookup(ctx, kind, req)

	latency := time.Since(start)
	metrics.RequestsTotal.WithLabelValues(op, "success").Inc()
	metrics.DispatchDuration.WithLabelValues(op).Observe(latency.Seconds())
	logging.FromContext(ctx).Debug("lookup completed",
		"operation", op,
		"resource_id", req.ID.ResourceID,
		"latency_ms", latency.Milliseconds(),
	)
	return raw
}

// runBefore runs the before-request plugins. The returned response is
// non-nil when the pipeline already produced an answer (rejection or cache
// hit); done is true in that case.
func (b *Broker) runBefore(ctx context.Context, pctx *plugin.Context) (*resource.SearchResponse, bool) {
	if !b.plugins.HasPlugins() {
		return nil, false
	}
	if err := b.plugins.RunBefore(ctx, pctx); err != nil {
		metrics.RequestsTotal.WithLabelValues(pctx.Operation, "rejected").Inc()
		pctx.Error = err
		b.plugins.RunOnError(ctx, pctx)
		return &resource.SearchResponse{
			Results: []resource.SearchResult{},
			Error:   err.Error(),
		}, true
	}
	if pctx.Response != nil {
		metrics.RequestsTotal.WithLabelValues(pctx.Operation, "success").Inc()
		return pctx.Response, true
	}
	return nil, false
}

// finish runs after-request plugins and records metrics and the completion
// log line for a dispatched request.
func (b *Broker) finish(ctx context.Context, pctx *plugin.Context, resp *resource.SearchResponse, start time.Time, fanOut int) {
	latency := time.Since(start)

	if b.plugins.HasPlugins() {
		pctx.Response = resp
		_ = b.plugins.RunAfter(ctx, pctx)
	}

	status := "success"
	switch {
	case resp.Error == "":
	case strings.HasPrefix(resp.Error, "No library support"):
		status = "no_support"
	default:
		status = "error"
	}
	metrics.RequestsTotal.WithLabelValues(pctx.Operation, status).Inc()
	metrics.DispatchDuration.WithLabelValues(pctx.Operation).Observe(latency.Seconds())

	logging.FromContext(ctx).Info("request completed",
		"operation", pctx.Operation,
		"status", status,
		"fan_out", fanOut,
		"results", len(resp.Results),
		"latency_ms", latency.Milliseconds(),
	)
}
