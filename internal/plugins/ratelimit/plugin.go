// Package ratelimit provides a broker plugin that enforces request rate
// limits using an in-memory token bucket. Configure it at the
// before_request stage so over-budget requests are rejected before they fan
// out to the fleet.
package ratelimit

import (
	"context"
	"fmt"

	"github.com/amarack/librarian/internal/metrics"
	rl "github.com/amarack/librarian/internal/ratelimit"
	"github.com/amarack/librarian/plugin"
)

func init() {
	plugin.RegisterFactory("rate-limit", func() plugin.Plugin {
		return &Plugin{}
	})
}

// Plugin enforces a token-bucket rate limit on incoming requests.
type Plugin struct {
	limiter *rl.Limiter
}

// Name returns the plugin identifier.
func (p *Plugin) Name() string { return "rate-limit" }

// Type returns the plugin category.
func (p *Plugin) Type() plugin.Kind { return plugin.KindRateLimit }

// Init reads config keys:
//   - requests_per_second (float64 or int, default 100)
//   - burst (float64 or int, default rps)
func (p *Plugin) Init(config map[string]interface{}) error {
	rps := 100.0
	burst := 0.0

	if v, ok := config["requests_per_second"]; ok {
		switch val := v.(type) {
		case float64:
			rps = val
		case int:
			rps = float64(val)
		default:
			return fmt.Errorf("rate-limit: requests_per_second must be a number")
		}
	}
	if v, ok := config["burst"]; ok {
		switch val := v.(type) {
		case float64:
			burst = val
		case int:
			burst = float64(val)
		default:
			return fmt.Errorf("rate-limit: burst must be a number")
		}
	}

	p.limiter = rl.New(rps, burst)
	return nil
}

// Execute rejects the request when the bucket is depleted.
func (p *Plugin) Execute(_ context.Context, pctx *plugin.Context) error {
	if pctx.Response != nil || pctx.Error != nil {
		return nil
	}
	if !p.limiter.Allow() {
		metrics.RateLimitRejections.WithLabelValues("plugin").Inc()
		pctx.Reject = true
		pctx.Reason = "rate limit exceeded"
	}
	return nil
}
