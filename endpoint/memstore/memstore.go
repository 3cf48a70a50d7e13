// Package memstore provides an in-memory DataStore backed by a seeded
// object graph. It powers the endpoint CLI and the integration tests; a
// production deployment would put a real index behind the same interface.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/amarack/librarian/resource"
)

// Object seeds one resource into the store. Parent names the identifier of
// the containing object ("" for collections); containment must follow the
// resource-type hierarchy.
type Object struct {
	ID        string
	Type      resource.Type
	Title     string
	Text      string
	Parent    string
	URL       string
	Latitude  float64
	Longitude float64
	BirthDate string
	DeathDate string
}

// TransformFunc resolves a dynamic transform against the store.
type TransformFunc func(s *Store, req resource.TransformRequest) []resource.SearchResult

// Store is a thread-safe in-memory object graph.
type Store struct {
	mu       sync.RWMutex
	types    map[resource.Type]bool
	objects  map[string]Object
	children map[string][]string
	dynamic  map[resource.DynamicTransformID]TransformFunc
}

// New creates a Store holding the given resource types.
func New(types ...resource.Type) *Store {
	held := make(map[resource.Type]bool, len(types))
	for _, t := range types {
		held[t] = true
	}
	return &Store{
		types:    held,
		objects:  make(map[string]Object),
		children: make(map[string][]string),
		dynamic:  make(map[resource.DynamicTransformID]TransformFunc),
	}
}

// Add seeds an object. Duplicate identifiers overwrite.
func (s *Store) Add(o Object) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.objects[o.ID]; !exists && o.Parent != "" {
		s.children[o.Parent] = append(s.children[o.Parent], o.ID)
	}
	s.objects[o.ID] = o
}

// RegisterDynamic installs a dynamic transform under dt.
func (s *Store) RegisterDynamic(dt resource.DynamicTransformID, fn TransformFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dynamic[dt] = fn
}

// DynamicTransforms lists the registered dynamic transforms for capability
// advertisement, sorted by name then from-type.
func (s *Store) DynamicTransforms() []resource.DynamicTransformID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]resource.DynamicTransformID, 0, len(s.dynamic))
	for dt := range s.dynamic {
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

// SupportedTypes lists the held types, sorted.
func (s *Store) SupportedTypes() []resource.Type {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]resource.Type, 0, len(s.types))
	for t := range s.types {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s *Store) holds(t resource.Type) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.types[t]
}

func unsupported(t resource.Type) *resource.SearchResponse {
	return &resource.SearchResponse{
		Results: []resource.SearchResult{},
		Error:   fmt.Sprintf("type %s is not held by this library", t),
	}
}

func empty() *resource.SearchResponse {
	return &resource.SearchResponse{Results: []resource.SearchResult{}}
}

func (s *Store) result(o Object) resource.SearchResult {
	snippet := o.Text
	if len(snippet) > 120 {
		snippet = snippet[:120]
	}
	return resource.SearchResult{
		ID:      resource.AccessIdentifier{Identifier: o.ID},
		Type:    o.Type,
		Title:   o.Title,
		Snippet: snippet,
	}
}

// window applies the request's paging parameters.
func window(results []resource.SearchResult, params resource.PageParams) []resource.SearchResult {
	start := params.StartAt
	if start < 0 {
		start = 0
	}
	if start >= len(results) {
		return []resource.SearchResult{}
	}
	results = results[start:]
	if params.NumRequested > 0 && params.NumRequested < len(results) {
		results = results[:params.NumRequested]
	}
	return results
}

// RunSearch matches the query case-insensitively against titles and texts
// of the requested types.
func (s *Store) RunSearch(_ context.Context, req resource.SearchRequest) (*resource.SearchResponse, error) {
	supportedAny := false
	for _, t := range req.Types {
		if s.holds(t) {
			supportedAny = true
			break
		}
	}
	if !supportedAny {
		return &resource.SearchResponse{
			Results: []resource.SearchResult{},
			Error:   fmt.Sprintf("none of the requested types are held by this library: %v", req.Types),
		}, nil
	}

	wanted := make(map[resource.Type]bool, len(req.Types))
	for _, t := range req.Types {
		if s.holds(t) {
			wanted[t] = true
		}
	}
	query := strings.ToLower(req.Query)

	s.mu.RLock()
	matches := make([]resource.SearchResult, 0)
	for _, o := range s.objects {
		if !wanted[o.Type] {
			continue
		}
		if strings.Contains(strings.ToLower(o.Title), query) ||
			strings.Contains(strings.ToLower(o.Text), query) {
			matches = append(matches, s.result(o))
		}
	}
	s.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool { return matches[i].ID.Identifier < matches[j].ID.Identifier })
	return &resource.SearchResponse{Results: window(matches, req.Params)}, nil
}

// RunContainerTransform returns the object containing the named resource.
func (s *Store) RunContainerTransform(_ context.Context, req resource.TransformRequest) (*resource.SearchResponse, error) {
	if !s.holds(req.From) {
		return unsupported(req.From), nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.objects[req.ID.Identifier]
	if !ok || o.Parent == "" {
		return empty(), nil
	}
	parent, ok := s.objects[o.Parent]
	if !ok {
		return empty(), nil
	}
	return &resource.SearchResponse{
		Results: window([]resource.SearchResult{s.result(parent)}, req.Params),
	}, nil
}

// RunContentsTransform returns the named resource's children of the
// requested result type.
func (s *Store) RunContentsTransform(_ context.Context, req resource.TransformRequest) (*resource.SearchResponse, error) {
	if !s.holds(req.To) {
		return unsupported(req.To), nil
	}
	return s.childrenOfType(req.ID.Identifier, req.To, req.Params), nil
}

// RunOverlaps returns other resources of the same type under the same
// container.
func (s *Store) RunOverlaps(_ context.Context, req resource.TransformRequest) (*resource.SearchResponse, error) {
	if !s.holds(req.From) {
		return unsupported(req.From), nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.objects[req.ID.Identifier]
	if !ok || o.Parent == "" {
		return empty(), nil
	}
	results := make([]resource.SearchResult, 0)
	for _, siblingID := range s.children[o.Parent] {
		if siblingID == o.ID {
			continue
		}
		if sibling, ok := s.objects[siblingID]; ok && sibling.Type == req.From {
			results = append(results, s.result(sibling))
		}
	}
	return &resource.SearchResponse{Results: window(results, req.Params)}, nil
}

// RunOccurAsObject returns entities of the requested type occurring within
// the named resource.
func (s *Store) RunOccurAsObject(ctx context.Context, req resource.TransformRequest) (*resource.SearchResponse, error) {
	return s.occursWithin(req)
}

// RunOccurAsSubject mirrors RunOccurAsObject for subject occurrences; the
// seeded graph does not distinguish grammatical roles.
func (s *Store) RunOccurAsSubject(ctx context.Context, req resource.TransformRequest) (*resource.SearchResponse, error) {
	return s.occursWithin(req)
}

// RunOccurHasObject returns hosts of the requested type containing the
// named entity.
func (s *Store) RunOccurHasObject(ctx context.Context, req resource.TransformRequest) (*resource.SearchResponse, error) {
	return s.hostsOf(req)
}

// RunOccurHasSubject mirrors RunOccurHasObject.
func (s *Store) RunOccurHasSubject(ctx context.Context, req resource.TransformRequest) (*resource.SearchResponse, error) {
	return s.hostsOf(req)
}

func (s *Store) occursWithin(req resource.TransformRequest) (*resource.SearchResponse, error) {
	if !s.holds(req.From) {
		return unsupported(req.From), nil
	}
	return s.childrenOfType(req.ID.Identifier, req.From, req.Params), nil
}

func (s *Store) hostsOf(req resource.TransformRequest) (*resource.SearchResponse, error) {
	if !s.holds(req.From) {
		return unsupported(req.From), nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	results := make([]resource.SearchResult, 0)
	for cur, ok := s.objects[req.ID.Identifier]; ok && cur.Parent != ""; {
		parent, found := s.objects[cur.Parent]
		if !found {
			break
		}
		if parent.Type == req.From {
			results = append(results, s.result(parent))
		}
		cur, ok = parent, found
	}
	return &resource.SearchResponse{Results: window(results, req.Params)}, nil
}

func (s *Store) childrenOfType(id string, t resource.Type, params resource.PageParams) *resource.SearchResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()
	results := make([]resource.SearchResult, 0)
	for _, childID := range s.children[id] {
		if child, ok := s.objects[childID]; ok && child.Type == t {
			results = append(results, s.result(child))
		}
	}
	return &resource.SearchResponse{Results: window(results, params)}
}

// RunNearbyLocations returns the locations closest to the named one, nearest
// first.
func (s *Store) RunNearbyLocations(_ context.Context, req resource.TransformRequest) (*resource.SearchResponse, error) {
	if !s.holds(resource.TypeLocation) {
		return unsupported(resource.TypeLocation), nil
	}

	s.mu.RLock()
	origin, ok := s.objects[req.ID.Identifier]
	if !ok || origin.Type != resource.TypeLocation {
		s.mu.RUnlock()
		return empty(), nil
	}
	type scored struct {
		res  resource.SearchResult
		dist float64
	}
	candidates := make([]scored, 0)
	for _, o := range s.objects {
		if o.Type != resource.TypeLocation || o.ID == origin.ID {
			continue
		}
		dLat := o.Latitude - origin.Latitude
		dLon := o.Longitude - origin.Longitude
		candidates = append(candidates, scored{res: s.result(o), dist: dLat*dLat + dLon*dLon})
	}
	s.mu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].dist != candidates[j].dist {
			return candidates[i].dist < candidates[j].dist
		}
		return candidates[i].res.ID.Identifier < candidates[j].res.ID.Identifier
	})
	results := make([]resource.SearchResult, len(candidates))
	for i, c := range candidates {
		results[i] = c.res
	}
	return &resource.SearchResponse{Results: window(results, req.Params)}, nil
}

// RunDynamic resolves a registered dynamic transform. An unregistered
// transform on a held type yields empty results with no error.
func (s *Store) RunDynamic(_ context.Context, req resource.TransformRequest) (*resource.SearchResponse, error) {
	if req.Transform == nil {
		return empty(), nil
	}
	if !s.holds(req.Transform.FromType) {
		return unsupported(req.Transform.FromType), nil
	}

	s.mu.RLock()
	fn := s.dynamic[*req.Transform]
	s.mu.RUnlock()
	if fn == nil {
		return empty(), nil
	}
	return &resource.SearchResponse{Results: window(fn(s, req), req.Params)}, nil
}

// get returns the object when it exists with the expected type.
func (s *Store) get(id string, t resource.Type) (Object, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.objects[id]
	if !ok || o.Type != t {
		return Object{}, false
	}
	return o, true
}

func (s *Store) childIDs(id string, t resource.Type) []resource.AccessIdentifier {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]resource.AccessIdentifier, 0)
	for _, childID := range s.children[id] {
		if child, ok := s.objects[childID]; ok && child.Type == t {
			out = append(out, resource.AccessIdentifier{Identifier: child.ID})
		}
	}
	return out
}

// LookupCollection resolves a collection record.
func (s *Store) LookupCollection(_ context.Context, req resource.LookupRequest) (*resource.Collection, error) {
	o, ok := s.get(req.ID.Identifier, resource.TypeCollection)
	if !ok {
		return s.missing(resource.TypeCollection, req.ID).(*resource.Collection), nil
	}
	return &resource.Collection{
		ID:      req.ID,
		Title:   o.Title,
		Summary: o.Text,
		Pages:   s.childIDs(o.ID, resource.TypePage),
	}, nil
}

// LookupPage resolves a page record.
func (s *Store) LookupPage(_ context.Context, req resource.LookupRequest) (*resource.Page, error) {
	o, ok := s.get(req.ID.Identifier, resource.TypePage)
	if !ok {
		return s.missing(resource.TypePage, req.ID).(*resource.Page), nil
	}
	return &resource.Page{
		ID:            req.ID,
		Title:         o.Title,
		FullText:      o.Text,
		Pictures:      s.childIDs(o.ID, resource.TypePicture),
		Videos:        s.childIDs(o.ID, resource.TypeVideo),
		Audios:        s.childIDs(o.ID, resource.TypeAudio),
		Persons:       s.childIDs(o.ID, resource.TypePerson),
		Locations:     s.childIDs(o.ID, resource.TypeLocation),
		Organizations: s.childIDs(o.ID, resource.TypeOrganization),
	}, nil
}

// LookupPicture resolves a picture record.
func (s *Store) LookupPicture(_ context.Context, req resource.LookupRequest) (*resource.Picture, error) {
	o, ok := s.get(req.ID.Identifier, resource.TypePicture)
	if !ok {
		return s.missing(resource.TypePicture, req.ID).(*resource.Picture), nil
	}
	return &resource.Picture{ID: req.ID, Caption: o.Title, URL: o.URL}, nil
}

// LookupVideo resolves a video record.
func (s *Store) LookupVideo(_ context.Context, req resource.LookupRequest) (*resource.Video, error) {
	o, ok := s.get(req.ID.Identifier, resource.TypeVideo)
	if !ok {
		return s.missing(resource.TypeVideo, req.ID).(*resource.Video), nil
	}
	return &resource.Video{ID: req.ID, Caption: o.Title, URL: o.URL}, nil
}

// LookupAudio resolves an audio record.
func (s *Store) LookupAudio(_ context.Context, req resource.LookupRequest) (*resource.Audio, error) {
	o, ok := s.get(req.ID.Identifier, resource.TypeAudio)
	if !ok {
		return s.missing(resource.TypeAudio, req.ID).(*resource.Audio), nil
	}
	return &resource.Audio{ID: req.ID, Caption: o.Title, URL: o.URL}, nil
}

// LookupPerson resolves a person record.
func (s *Store) LookupPerson(_ context.Context, req resource.LookupRequest) (*resource.Person, error) {
	o, ok := s.get(req.ID.Identifier, resource.TypePerson)
	if !ok {
		return s.missing(resource.TypePerson, req.ID).(*resource.Person), nil
	}
	return &resource.Person{ID: req.ID, FullName: o.Title, BirthDate: o.BirthDate, DeathDate: o.DeathDate}, nil
}

// LookupLocation resolves a location record.
func (s *Store) LookupLocation(_ context.Context, req resource.LookupRequest) (*resource.Location, error) {
	o, ok := s.get(req.ID.Identifier, resource.TypeLocation)
	if !ok {
		return s.missing(resource.TypeLocation, req.ID).(*resource.Location), nil
	}
	return &resource.Location{ID: req.ID, FullName: o.Title, Latitude: o.Latitude, Longitude: o.Longitude}, nil
}

// LookupOrganization resolves an organization record.
func (s *Store) LookupOrganization(_ context.Context, req resource.LookupRequest) (*resource.Organization, error) {
	o, ok := s.get(req.ID.Identifier, resource.TypeOrganization)
	if !ok {
		return s.missing(resource.TypeOrganization, req.ID).(*resource.Organization), nil
	}
	return &resource.Organization{ID: req.ID, FullName: o.Title}, nil
}

func (s *Store) missing(kind resource.Type, id resource.AccessIdentifier) interface{} {
	return resource.LookupStub(kind, id, fmt.Sprintf("no %s with identifier %q", kind, id.Identifier))
}
