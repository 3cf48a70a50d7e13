package plugin

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amarack/librarian/resource"
)

type testPlugin struct {
	name    string
	execute func(*Context) error
	calls   int
}

func (p *testPlugin) Name() string                           { return p.name }
func (p *testPlugin) Type() Kind                             { return KindTransform }
func (p *testPlugin) Init(map[string]interface{}) error      { return nil }
func (p *testPlugin) Execute(_ context.Context, pctx *Context) error {
	p.calls++
	if p.execute != nil {
		return p.execute(pctx)
	}
	return nil
}

func TestManagerStages(t *testing.T) {
	m := NewManager()
	assert.False(t, m.HasPlugins())

	before := &testPlugin{name: "b"}
	after := &testPlugin{name: "a"}
	onErr := &testPlugin{name: "e"}
	require.NoError(t, m.Register(StageBeforeRequest, before))
	require.NoError(t, m.Register(StageAfterRequest, after))
	require.NoError(t, m.Register(StageOnError, onErr))
	assert.True(t, m.HasPlugins())

	assert.Error(t, m.Register("sideways", &testPlugin{name: "x"}))

	pctx := NewSearchContext(&resource.SearchRequest{Query: "x", Types: []resource.Type{resource.TypePage}})
	require.NoError(t, m.RunBefore(context.Background(), pctx))
	require.NoError(t, m.RunAfter(context.Background(), pctx))
	m.RunOnError(context.Background(), pctx)

	assert.Equal(t, 1, before.calls)
	assert.Equal(t, 1, after.calls)
	assert.Equal(t, 1, onErr.calls)
}

func TestRunBeforeReject(t *testing.T) {
	m := NewManager()
	rejecting := &testPlugin{name: "limiter", execute: func(pctx *Context) error {
		pctx.Reject = true
		pctx.Reason = "too many requests"
		return nil
	}}
	second := &testPlugin{name: "second"}
	require.NoError(t, m.Register(StageBeforeRequest, rejecting))
	require.NoError(t, m.Register(StageBeforeRequest, second))

	err := m.RunBefore(context.Background(), NewSearchContext(&resource.SearchRequest{Query: "x"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too many requests")
	assert.Equal(t, 0, second.calls, "rejection stops the chain")
}

func TestRunBeforeSkip(t *testing.T) {
	m := NewManager()
	skipping := &testPlugin{name: "cache", execute: func(pctx *Context) error {
		pctx.Response = &resource.SearchResponse{}
		pctx.Skip = true
		return nil
	}}
	second := &testPlugin{name: "second"}
	require.NoError(t, m.Register(StageBeforeRequest, skipping))
	require.NoError(t, m.Register(StageBeforeRequest, second))

	pctx := NewSearchContext(&resource.SearchRequest{Query: "x"})
	require.NoError(t, m.RunBefore(context.Background(), pctx))
	assert.NotNil(t, pctx.Response)
	assert.Equal(t, 0, second.calls, "skip short-circuits the chain")
}

func TestRunBeforeError(t *testing.T) {
	m := NewManager()
	failing := &testPlugin{name: "boom", execute: func(*Context) error {
		return fmt.Errorf("bad config")
	}}
	require.NoError(t, m.Register(StageBeforeRequest, failing))

	err := m.RunBefore(context.Background(), NewSearchContext(&resource.SearchRequest{Query: "x"}))
	assert.ErrorContains(t, err, "plugin boom failed")
}

// After-request plugin errors are logged, not propagated.
func TestRunAfterSwallowsErrors(t *testing.T) {
	m := NewManager()
	failing := &testPlugin{name: "boom", execute: func(*Context) error {
		return fmt.Errorf("disk full")
	}}
	require.NoError(t, m.Register(StageAfterRequest, failing))

	assert.NoError(t, m.RunAfter(context.Background(), NewSearchContext(&resource.SearchRequest{Query: "x"})))
}

func TestFactoryRegistry(t *testing.T) {
	RegisterFactory("test-factory", func() Plugin { return &testPlugin{name: "test-factory"} })

	f, ok := GetFactory("test-factory")
	require.True(t, ok)
	assert.Equal(t, "test-factory", f().Name())

	_, ok = GetFactory("missing")
	assert.False(t, ok)
	assert.Contains(t, RegisteredPlugins(), "test-factory")
}

func TestContextConstructors(t *testing.T) {
	s := NewSearchContext(&resource.SearchRequest{Query: "x"})
	assert.Equal(t, "search", s.Operation)
	assert.NotNil(t, s.Metadata)

	tr := NewTransformContext(&resource.TransformRequest{Kind: resource.TransformOverlaps})
	assert.Equal(t, "transform:overlaps", tr.Operation)
	assert.Nil(t, tr.Search)
	assert.NotNil(t, tr.Transform)
}
