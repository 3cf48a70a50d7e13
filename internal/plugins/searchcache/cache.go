// Package searchcache provides a search-cache plugin that stores merged
// search responses in memory and serves them on exact-match hits, sparing
// the fleet a fan-out for repeated queries. Register it with a blank import:
//
//	_ "github.com/amarack/librarian/internal/plugins/searchcache"
package searchcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/amarack/librarian/internal/cache"
	"github.com/amarack/librarian/plugin"
	"github.com/amarack/librarian/resource"
)

func init() {
	plugin.RegisterFactory("search-cache", func() plugin.Plugin {
		return &SearchCache{}
	})
}

// SearchCache caches merged search responses keyed by the full request.
// Only searches are cached: transforms are scoped to a live resource and
// lookups never reach the plugin pipeline.
type SearchCache struct {
	store *cache.Memory
}

// Name returns the plugin identifier.
func (c *SearchCache) Name() string { return "search-cache" }

// Type returns the plugin category.
func (c *SearchCache) Type() plugin.Kind { return plugin.KindCache }

// Init reads config keys:
//   - max_age (seconds, default 300)
//   - max_entries (default 1000)
func (c *SearchCache) Init(config map[string]interface{}) error {
	maxAge := 300
	// Loaded config files deliver numeric values as float64 (YAML is converted
	// through JSON); configs built in code may pass int. Handle both.
	switch v := config["max_age"].(type) {
	case int:
		maxAge = v
	case float64:
		maxAge = int(v)
	}

	maxEntries := 1000
	switch v := config["max_entries"].(type) {
	case int:
		maxEntries = v
	case float64:
		maxEntries = int(v)
	}

	c.store = cache.NewMemory(maxEntries, time.Duration(maxAge)*time.Second)
	return nil
}

// Execute checks for a hit (before request) or stores the merged response
// (after request).
func (c *SearchCache) Execute(_ context.Context, pctx *plugin.Context) error {
	if pctx.Search == nil {
		return nil
	}

	key := cacheKey(pctx.Search)

	if pctx.Response == nil {
		// before_request: lookup
		if resp, ok := c.store.Get(key); ok {
			pctx.Response = resp
			pctx.Skip = true
			pctx.Metadata["cache_hit"] = true
		}
		return nil
	}

	// after_request: store, but never cache error responses.
	if pctx.Metadata["cache_hit"] == true || pctx.Response.Error != "" {
		return nil
	}
	c.store.Set(key, pctx.Response)
	return nil
}

func cacheKey(req *resource.SearchRequest) string {
	raw := fmt.Sprintf("%s\n%v\n%d:%d:%s",
		req.Query, req.Types,
		req.Params.NumRequested, req.Params.StartAt, req.Params.Language)
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}
