// Package registry tracks the endpoints connected to the broker: their keys,
// group membership, advertised capabilities, and live call handles.
//
// State is guarded by a single RWMutex; only Connect mutates. Readers take
// a Snapshot so routing sees one consistent view per request. There is no
// deregistration path: records live for the broker's lifetime.
package registry

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/amarack/librarian/resource"
)

// Caller sends wire requests to a connected endpoint. The broker builds one
// per endpoint when the connection is admitted.
type Caller interface {
	Search(ctx context.Context, req resource.SearchRequest) (*resource.SearchResponse, error)
	Transform(ctx context.Context, req resource.TransformRequest) (*resource.SearchResponse, error)
	Lookup(ctx context.Context, kind resource.Type, req resource.LookupRequest) (json.RawMessage, error)
}

// ErrRefused is returned when a requested key is already held by a different
// endpoint.
var ErrRefused = errors.New("requested key is held by a different endpoint")

// ErrUnknownResource is returned when an access identifier names a key that
// was never registered.
var ErrUnknownResource = errors.New("unknown resource id")

// Record is one registered endpoint.
type Record struct {
	Key               string
	GroupID           string
	Hostname          string
	Port              int
	SupportedTypes    []resource.Type
	DynamicTransforms []resource.DynamicTransformID
	Caller            Caller

	// autoGroup marks a group id minted by the broker rather than supplied
	// by the endpoint; a reconnect that omits the group id still matches.
	autoGroup bool
}

// SupportsType reports whether the endpoint advertised t.
func (r Record) SupportsType(t resource.Type) bool {
	for _, st := range r.SupportedTypes {
		if st == t {
			return true
		}
	}
	return false
}

// SupportsDynamicTransform reports whether the endpoint advertised dt
// (name and from-type both match).
func (r Record) SupportsDynamicTransform(dt resource.DynamicTransformID) bool {
	for _, d := range r.DynamicTransforms {
		if d == dt {
			return true
		}
	}
	return false
}

// Registry is the broker-side endpoint table.
type Registry struct {
	mu              sync.RWMutex
	endpoints       map[string]Record
	groups          map[string][]string
	unionTypes      map[resource.Type]struct{}
	unionTransforms map[resource.DynamicTransformID]struct{}
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		endpoints:       make(map[string]Record),
		groups:          make(map[string][]string),
		unionTypes:      make(map[resource.Type]struct{}),
		unionTransforms: make(map[resource.DynamicTransformID]struct{}),
	}
}

const (
	keyAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	keyLength   = 8
)

// newKey generates a random 8-character alphanumeric endpoint key.
func newKey() string {
	b := make([]byte, keyLength)
	_, _ = rand.Read(b)
	for i := range b {
		b[i] = keyAlphabet[int(b[i])%len(keyAlphabet)]
	}
	return string(b)
}

// Connect admits an endpoint and returns its assigned key.
//
// A requested key that is free is granted. A requested key that is taken is
// granted idempotently when (hostname, port, group) match the existing
// record — a reconnect — and refused with ErrRefused otherwise; on refusal
// no state changes. Without a requested key a fresh random key is assigned.
// An absent group id mints a new single-member group.
func (g *Registry) Connect(req resource.ConnectRequest, caller Caller) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	key := req.RequestedKey
	if key != "" {
		if existing, ok := g.endpoints[key]; ok {
			sameGroup := req.GroupID == existing.GroupID ||
				(req.GroupID == "" && existing.autoGroup)
			if existing.Hostname == req.Hostname && existing.Port == req.Port && sameGroup {
				// Reconnect: same key, no state change.
				return key, nil
			}
			return "", fmt.Errorf("%w: %s", ErrRefused, key)
		}
	} else {
		for {
			key = newKey()
			if _, taken := g.endpoints[key]; !taken {
				break
			}
		}
	}

	groupID := req.GroupID
	autoGroup := false
	if groupID == "" {
		groupID = uuid.NewString()
		autoGroup = true
	}

	g.endpoints[key] = Record{
		Key:               key,
		GroupID:           groupID,
		Hostname:          req.Hostname,
		Port:              req.Port,
		SupportedTypes:    append([]resource.Type(nil), req.SupportedTypes...),
		DynamicTransforms: append([]resource.DynamicTransformID(nil), req.DynamicTransforms...),
		Caller:            caller,
		autoGroup:         autoGroup,
	}
	g.groups[groupID] = append(g.groups[groupID], key)

	for _, t := range req.SupportedTypes {
		g.unionTypes[t] = struct{}{}
	}
	for _, dt := range req.DynamicTransforms {
		g.unionTransforms[dt] = struct{}{}
	}

	return key, nil
}

// CallerFor returns the live handle for key.
func (g *Registry) CallerFor(key string) (Caller, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	rec, ok := g.endpoints[key]
	if !ok {
		return nil, false
	}
	return rec.Caller, true
}

// Len returns the number of registered endpoints.
func (g *Registry) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.endpoints)
}

// Records returns a copy of every endpoint record, ordered by key.
func (g *Registry) Records() []Record {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Record, 0, len(g.endpoints))
	for _, rec := range g.endpoints {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// SupportsType reports whether any registered endpoint supports t. The
// predicate is informational: routing to an empty target set already yields
// the standard no-support response.
func (g *Registry) SupportsType(t resource.Type) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.unionTypes[t]
	return ok
}

// SupportsDynamicTransform reports whether any registered endpoint supports
// dt. Informational, like SupportsType.
func (g *Registry) SupportsDynamicTransform(dt resource.DynamicTransformID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.unionTransforms[dt]
	return ok
}

// UnionTypes returns the union of all advertised type sets, sorted.
func (g *Registry) UnionTypes() []resource.Type {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]resource.Type, 0, len(g.unionTypes))
	for t := range g.unionTypes {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// UnionDynamicTransforms returns the union of all advertised dynamic
// transforms, sorted by name then from-type.
func (g *Registry) UnionDynamicTransforms() []resource.DynamicTransformID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]resource.DynamicTransformID, 0, len(g.unionTransforms))
	for dt := range g.unionTransforms {
		out = append(out, dt)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].FromType < out[j].FromType
	})
	return out
}

// Snapshot returns a consistent copy of the registry for routing. Records
// share the live Caller handles but the maps are copied, so a concurrent
// Connect never changes a snapshot already taken.
func (g *Registry) Snapshot() *Snapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()

	endpoints := make(map[string]Record, len(g.endpoints))
	for k, rec := range g.endpoints {
		endpoints[k] = rec
	}
	groups := make(map[string][]string, len(g.groups))
	for id, members := range g.groups {
		groups[id] = append([]string(nil), members...)
	}
	return &Snapshot{endpoints: endpoints, groups: groups}
}

// Snapshot is an immutable view of the registry taken at one instant.
type Snapshot struct {
	endpoints map[string]Record
	groups    map[string][]string
}

// Has reports whether key is registered.
func (s *Snapshot) Has(key string) bool {
	_, ok := s.endpoints[key]
	return ok
}

// KeysSupporting returns the keys of endpoints whose supported-type set
// intersects types, sorted for deterministic routing.
func (s *Snapshot) KeysSupporting(types []resource.Type) []string {
	keys := make([]string, 0)
	for key, rec := range s.endpoints {
		for _, t := range types {
			if rec.SupportsType(t) {
				keys = append(keys, key)
				break
			}
		}
	}
	sort.Strings(keys)
	return keys
}

// GroupMembersSupporting returns the members of group groupID that support
// t, sorted.
func (s *Snapshot) GroupMembersSupporting(t resource.Type, groupID string) []string {
	keys := make([]string, 0)
	for _, key := range s.groups[groupID] {
		if rec, ok := s.endpoints[key]; ok && rec.SupportsType(t) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

// GroupMembersSupportingDynamic returns the members of group groupID that
// advertise dt, sorted.
func (s *Snapshot) GroupMembersSupportingDynamic(dt resource.DynamicTransformID, groupID string) []string {
	keys := make([]string, 0)
	for _, key := range s.groups[groupID] {
		if rec, ok := s.endpoints[key]; ok && rec.SupportsDynamicTransform(dt) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

// GroupIDOf resolves the owning group of the endpoint named by id.
func (s *Snapshot) GroupIDOf(id resource.AccessIdentifier) (string, error) {
	rec, ok := s.endpoints[id.ResourceID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownResource, id.ResourceID)
	}
	return rec.GroupID, nil
}
