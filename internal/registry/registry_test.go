package registry

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amarack/librarian/resource"
)

type nopCaller struct{}

func (nopCaller) Search(context.Context, resource.SearchRequest) (*resource.SearchResponse, error) {
	return &resource.SearchResponse{}, nil
}

func (nopCaller) Transform(context.Context, resource.TransformRequest) (*resource.SearchResponse, error) {
	return &resource.SearchResponse{}, nil
}

func (nopCaller) Lookup(context.Context, resource.Type, resource.LookupRequest) (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}

func connectReq(mutate func(*resource.ConnectRequest)) resource.ConnectRequest {
	req := resource.ConnectRequest{
		Hostname:       "localhost",
		Port:           8082,
		SupportedTypes: []resource.Type{resource.TypePage},
	}
	if mutate != nil {
		mutate(&req)
	}
	return req
}

var keyPattern = regexp.MustCompile(`^[a-zA-Z0-9]{8}$`)

func TestConnectAssignsKey(t *testing.T) {
	g := New()
	key, err := g.Connect(connectReq(nil), nopCaller{})
	require.NoError(t, err)
	assert.Regexp(t, keyPattern, key)
	assert.Equal(t, 1, g.Len())

	// The fresh endpoint is immediately routable by its advertised types.
	snap := g.Snapshot()
	assert.Contains(t, snap.KeysSupporting([]resource.Type{resource.TypePage}), key)
}

func TestConnectGrantsRequestedKey(t *testing.T) {
	g := New()
	key, err := g.Connect(connectReq(func(r *resource.ConnectRequest) {
		r.RequestedKey = "abc12345"
	}), nopCaller{})
	require.NoError(t, err)
	assert.Equal(t, "abc12345", key)
}

func TestConnectReconnectIdempotent(t *testing.T) {
	g := New()
	req := connectReq(func(r *resource.ConnectRequest) {
		r.RequestedKey = "abc12345"
		r.GroupID = "g1"
	})

	k1, err := g.Connect(req, nopCaller{})
	require.NoError(t, err)
	k2, err := g.Connect(req, nopCaller{})
	require.NoError(t, err)
	assert.Equal(t, k1, k2)
	assert.Equal(t, 1, g.Len())
	// Reconnect does not duplicate the group membership.
	snap := g.Snapshot()
	assert.Len(t, snap.GroupMembersSupporting(resource.TypePage, "g1"), 1)
}

func TestConnectRefusesCollisions(t *testing.T) {
	g := New()
	_, err := g.Connect(connectReq(func(r *resource.ConnectRequest) {
		r.RequestedKey = "abc12345"
		r.GroupID = "g1"
	}), nopCaller{})
	require.NoError(t, err)

	for _, tt := range []struct {
		name   string
		mutate func(*resource.ConnectRequest)
	}{
		{"different host", func(r *resource.ConnectRequest) { r.Hostname = "otherhost" }},
		{"different port", func(r *resource.ConnectRequest) { r.Port = 9999 }},
		{"different group", func(r *resource.ConnectRequest) { r.GroupID = "g2" }},
	} {
		t.Run(tt.name, func(t *testing.T) {
			req := connectReq(func(r *resource.ConnectRequest) {
				r.RequestedKey = "abc12345"
				r.GroupID = "g1"
			})
			tt.mutate(&req)
			_, err := g.Connect(req, nopCaller{})
			assert.ErrorIs(t, err, ErrRefused)
		})
	}

	// Refusal stored nothing.
	assert.Equal(t, 1, g.Len())
}

func TestConnectMintsGroup(t *testing.T) {
	g := New()
	k1, err := g.Connect(connectReq(nil), nopCaller{})
	require.NoError(t, err)
	k2, err := g.Connect(connectReq(func(r *resource.ConnectRequest) { r.Port = 8083 }), nopCaller{})
	require.NoError(t, err)

	snap := g.Snapshot()
	g1, err := snap.GroupIDOf(resource.AccessIdentifier{ResourceID: k1})
	require.NoError(t, err)
	g2, err := snap.GroupIDOf(resource.AccessIdentifier{ResourceID: k2})
	require.NoError(t, err)
	assert.NotEqual(t, g1, g2, "absent group ids mint distinct groups")
	assert.Len(t, snap.GroupMembersSupporting(resource.TypePage, g1), 1)
}

func TestConnectReconnectWithMintedGroup(t *testing.T) {
	g := New()
	req := connectReq(func(r *resource.ConnectRequest) { r.RequestedKey = "abc12345" })
	k1, err := g.Connect(req, nopCaller{})
	require.NoError(t, err)
	// A reconnect that still omits the group id matches the minted group.
	k2, err := g.Connect(req, nopCaller{})
	require.NoError(t, err)
	assert.Equal(t, k1, k2)
}

func TestConnectJoinsExistingGroup(t *testing.T) {
	g := New()
	k1, err := g.Connect(connectReq(func(r *resource.ConnectRequest) { r.GroupID = "shared" }), nopCaller{})
	require.NoError(t, err)
	k2, err := g.Connect(connectReq(func(r *resource.ConnectRequest) {
		r.GroupID = "shared"
		r.Port = 8083
	}), nopCaller{})
	require.NoError(t, err)

	snap := g.Snapshot()
	assert.ElementsMatch(t, []string{k1, k2},
		snap.GroupMembersSupporting(resource.TypePage, "shared"))
}

func TestUnions(t *testing.T) {
	g := New()
	dt := resource.DynamicTransformID{Name: "related", FromType: resource.TypePage}

	_, err := g.Connect(connectReq(func(r *resource.ConnectRequest) {
		r.SupportedTypes = []resource.Type{resource.TypePage, resource.TypePicture}
		r.DynamicTransforms = []resource.DynamicTransformID{dt}
	}), nopCaller{})
	require.NoError(t, err)
	_, err = g.Connect(connectReq(func(r *resource.ConnectRequest) {
		r.Port = 8083
		r.SupportedTypes = []resource.Type{resource.TypeAudio}
	}), nopCaller{})
	require.NoError(t, err)

	assert.ElementsMatch(t,
		[]resource.Type{resource.TypePage, resource.TypePicture, resource.TypeAudio},
		g.UnionTypes())
	assert.True(t, g.SupportsType(resource.TypeAudio))
	assert.False(t, g.SupportsType(resource.TypeVideo))
	assert.True(t, g.SupportsDynamicTransform(dt))
	assert.False(t, g.SupportsDynamicTransform(
		resource.DynamicTransformID{Name: "related", FromType: resource.TypePicture}),
		"dynamic transforms are keyed by name and from-type")
}

func TestSnapshotSelectors(t *testing.T) {
	g := New()
	dt := resource.DynamicTransformID{Name: "related", FromType: resource.TypePage}

	kPage, err := g.Connect(connectReq(func(r *resource.ConnectRequest) {
		r.GroupID = "g"
		r.DynamicTransforms = []resource.DynamicTransformID{dt}
	}), nopCaller{})
	require.NoError(t, err)
	kAudio, err := g.Connect(connectReq(func(r *resource.ConnectRequest) {
		r.GroupID = "g"
		r.Port = 8083
		r.SupportedTypes = []resource.Type{resource.TypeAudio}
	}), nopCaller{})
	require.NoError(t, err)
	kOther, err := g.Connect(connectReq(func(r *resource.ConnectRequest) {
		r.GroupID = "h"
		r.Port = 8084
	}), nopCaller{})
	require.NoError(t, err)

	snap := g.Snapshot()

	assert.ElementsMatch(t, []string{kPage, kOther},
		snap.KeysSupporting([]resource.Type{resource.TypePage}))
	assert.ElementsMatch(t, []string{kPage, kAudio, kOther},
		snap.KeysSupporting([]resource.Type{resource.TypePage, resource.TypeAudio}))

	assert.Equal(t, []string{kPage}, snap.GroupMembersSupporting(resource.TypePage, "g"))
	assert.Equal(t, []string{kAudio}, snap.GroupMembersSupporting(resource.TypeAudio, "g"))
	assert.Empty(t, snap.GroupMembersSupporting(resource.TypeVideo, "g"))
	assert.Empty(t, snap.GroupMembersSupporting(resource.TypePage, "nope"))

	assert.Equal(t, []string{kPage}, snap.GroupMembersSupportingDynamic(dt, "g"))
	assert.Empty(t, snap.GroupMembersSupportingDynamic(
		resource.DynamicTransformID{Name: "related", FromType: resource.TypeAudio}, "g"))

	_, err = snap.GroupIDOf(resource.AccessIdentifier{ResourceID: "ZZZZ"})
	assert.True(t, errors.Is(err, ErrUnknownResource))
}

func TestSnapshotIsStable(t *testing.T) {
	g := New()
	_, err := g.Connect(connectReq(func(r *resource.ConnectRequest) { r.GroupID = "g" }), nopCaller{})
	require.NoError(t, err)

	snap := g.Snapshot()
	before := snap.KeysSupporting([]resource.Type{resource.TypePage})

	_, err = g.Connect(connectReq(func(r *resource.ConnectRequest) {
		r.GroupID = "g"
		r.Port = 8090
	}), nopCaller{})
	require.NoError(t, err)

	assert.Equal(t, before, snap.KeysSupporting([]resource.Type{resource.TypePage}),
		"a taken snapshot must not observe later connects")
}
