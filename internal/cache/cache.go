// Package cache provides the Cache interface used by the search-cache
// plugin. The default in-process implementation is Memory.
package cache

import "github.com/amarack/librarian/resource"

// Cache defines the interface for search-response caching.
type Cache interface {
	Get(key string) (*resource.SearchResponse, bool)
	Set(key string, resp *resource.SearchResponse)
	Delete(key string)
	Len() int
	Clear()
}
