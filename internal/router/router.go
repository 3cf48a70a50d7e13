// Package router selects the endpoints that receive a request. It is a pure
// function of the request and a registry snapshot: searches fan out across
// the whole fleet by type capability, every other operation is scoped to the
// group that owns the named resource, and lookups go to exactly the owning
// endpoint.
package router

import (
	"github.com/amarack/librarian/internal/registry"
	"github.com/amarack/librarian/resource"
)

// SearchTargets returns the keys of every endpoint, in any group, that
// supports at least one of the requested types.
func SearchTargets(snap *registry.Snapshot, req resource.SearchRequest) []string {
	return snap.KeysSupporting(req.Types)
}

// TransformTargets returns the group-scoped target set for a transform.
// An unknown resource id yields an empty set: routing nowhere produces the
// standard no-support response downstream.
func TransformTargets(snap *registry.Snapshot, req resource.TransformRequest) []string {
	groupID, err := snap.GroupIDOf(req.ID)
	if err != nil {
		return nil
	}

	switch req.Kind {
	case resource.TransformContents:
		// Contents transforms route on the result type, not the source.
		return snap.GroupMembersSupporting(req.To, groupID)
	case resource.TransformNearbyLocs:
		return snap.GroupMembersSupporting(resource.TypeLocation, groupID)
	case resource.TransformDynamic:
		if req.Transform == nil {
			return nil
		}
		return snap.GroupMembersSupportingDynamic(*req.Transform, groupID)
	default:
		// Container, overlaps, and the four occurrence transforms all route
		// on the source type.
		return snap.GroupMembersSupporting(req.From, groupID)
	}
}

// LookupTargets returns the singleton target for a lookup: the endpoint
// named by the access identifier. The dispatcher decides whether that key
// is actually registered.
func LookupTargets(req resource.LookupRequest) []string {
	return []string{req.ID.ResourceID}
}
