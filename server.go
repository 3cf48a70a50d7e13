package librarian

import (
	"encoding/json"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/amarack/librarian/internal/logging"
	"github.com/amarack/librarian/internal/metrics"
	"github.com/amarack/librarian/internal/ratelimit"
	"github.com/amarack/librarian/resource"
)

// Handler builds the broker's HTTP surface. Request and response bodies are
// the JSON forms of the records in the resource package; operational errors
// travel inside those records, so handlers only answer non-200 for malformed
// requests.
func (b *Broker) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(logging.Middleware)
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			w.Header().Set("X-Service", ServiceName)
			next.ServeHTTP(w, req)
		})
	})
	if rl := b.config.RateLimit; rl != nil {
		r.Use(rateLimitMiddleware(rl.RequestsPerSecond, rl.Burst))
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Post("/v1/connect", b.handleConnect)
	r.Post("/v1/search", b.handleSearch)
	r.Post("/v1/transform", b.handleTransform)
	r.Post("/v1/lookup/{kind}", b.handleLookup)

	r.Get("/v1/capabilities", b.handleCapabilities)
	r.Get("/v1/endpoints", b.handleEndpoints)

	return r
}

func (b *Broker) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req resource.ConnectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, b.Connect(r.Context(), req))
}

func (b *Broker) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req resource.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, b.Search(r.Context(), req))
}

func (b *Broker) handleTransform(w http.ResponseWriter, r *http.Request) {
	var req resource.TransformRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, b.Transform(r.Context(), req))
}

func (b *Broker) handleLookup(w http.ResponseWriter, r *http.Request) {
	kind, err := resource.Parse(chi.URLParam(r, "kind"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req resource.LookupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	raw := b.Lookup(r.Context(), kind, req)
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(raw)
}

// handleCapabilities reports the broker-wide capability unions. The unions
// are informational: admission never consults them.
func (b *Broker) handleCapabilities(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]interface{}{
		"supported_types":    b.registry.UnionTypes(),
		"dynamic_transforms": b.registry.UnionDynamicTransforms(),
	})
}

func (b *Broker) handleEndpoints(w http.ResponseWriter, _ *http.Request) {
	type endpointInfo struct {
		Key               string                        `json:"key"`
		GroupID           string                        `json:"group_id"`
		SupportedTypes    []resource.Type               `json:"supported_types"`
		DynamicTransforms []resource.DynamicTransformID `json:"dynamic_transforms,omitempty"`
	}
	records := b.registry.Records()
	out := make([]endpointInfo, 0, len(records))
	for _, rec := range records {
		out = append(out, endpointInfo{
			Key:               rec.Key,
			GroupID:           rec.GroupID,
			SupportedTypes:    rec.SupportedTypes,
			DynamicTransforms: rec.DynamicTransforms,
		})
	}
	writeJSON(w, map[string]interface{}{"endpoints": out})
}

func rateLimitMiddleware(ratePerSecond, burst float64) func(http.Handler) http.Handler {
	store := ratelimit.NewStore(ratePerSecond, burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !store.Allow(clientIP(r)) {
				metrics.RateLimitRejections.WithLabelValues("ip").Inc()
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP keys rate limiting by address, not by connection.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
