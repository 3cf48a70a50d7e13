// Package plugin defines the Plugin interface and the lifecycle stages used
// to hook into the broker request pipeline.
//
// Plugins are registered by name via RegisterFactory and loaded by the
// broker at startup. The plugin.Context carries the request and response
// through each stage, and plugins may modify, reject, or answer requests.
//
// Built-in plugins live in the internal/plugins/* packages and are
// registered by importing them with a blank import (e.g.
// _ "github.com/amarack/librarian/internal/plugins/querylog").
package plugin

import (
	"context"

	"github.com/amarack/librarian/resource"
)

// Plugin is the interface all plugins must implement.
type Plugin interface {
	Name() string
	Type() Kind
	Init(config map[string]interface{}) error
	Execute(ctx context.Context, pctx *Context) error
}

// Kind categorizes plugins.
type Kind string

// Kind constants define the supported plugin categories.
const (
	KindLogging   Kind = "logging"
	KindCache     Kind = "cache"
	KindRateLimit Kind = "ratelimit"
	KindTransform Kind = "transform"
)

// Stage defines when a plugin runs in the request lifecycle.
type Stage string

// Stage constants define the execution phases within the broker pipeline.
const (
	StageBeforeRequest Stage = "before_request"
	StageAfterRequest  Stage = "after_request"
	StageOnError       Stage = "on_error"
)

// Context provides access to request/response data for plugins. Exactly one
// of Search and Transform is set, matching Operation.
type Context struct {
	Operation string
	Search    *resource.SearchRequest
	Transform *resource.TransformRequest
	Response  *resource.SearchResponse
	Metadata  map[string]interface{}
	Error     error
	Skip      bool
	Reject    bool
	Reason    string
}

// NewSearchContext creates a plugin context for a search request.
func NewSearchContext(req *resource.SearchRequest) *Context {
	return &Context{
		Operation: "search",
		Search:    req,
		Metadata:  make(map[string]interface{}),
	}
}

// NewTransformContext creates a plugin context for a transform request.
func NewTransformContext(req *resource.TransformRequest) *Context {
	return &Context{
		Operation: req.Operation(),
		Transform: req,
		Metadata:  make(map[string]interface{}),
	}
}
