package endpoint

import (
	"context"

	"github.com/amarack/librarian/resource"
)

// DataStore is the local store an endpoint serves from. The protocol handler
// delegates every broker-issued request to it.
//
// Contract for non-support, observable by clients in both cases:
//   - a type the store does not hold: empty results with the error field set
//   - a held type under an operation the store cannot run: empty results,
//     no error
type DataStore interface {
	RunSearch(ctx context.Context, req resource.SearchRequest) (*resource.SearchResponse, error)

	RunContainerTransform(ctx context.Context, req resource.TransformRequest) (*resource.SearchResponse, error)
	RunContentsTransform(ctx context.Context, req resource.TransformRequest) (*resource.SearchResponse, error)
	RunOverlaps(ctx context.Context, req resource.TransformRequest) (*resource.SearchResponse, error)
	RunOccurAsObject(ctx context.Context, req resource.TransformRequest) (*resource.SearchResponse, error)
	RunOccurAsSubject(ctx context.Context, req resource.TransformRequest) (*resource.SearchResponse, error)
	RunOccurHasObject(ctx context.Context, req resource.TransformRequest) (*resource.SearchResponse, error)
	RunOccurHasSubject(ctx context.Context, req resource.TransformRequest) (*resource.SearchResponse, error)
	RunNearbyLocations(ctx context.Context, req resource.TransformRequest) (*resource.SearchResponse, error)
	RunDynamic(ctx context.Context, req resource.TransformRequest) (*resource.SearchResponse, error)

	LookupCollection(ctx context.Context, req resource.LookupRequest) (*resource.Collection, error)
	LookupPage(ctx context.Context, req resource.LookupRequest) (*resource.Page, error)
	LookupPicture(ctx context.Context, req resource.LookupRequest) (*resource.Picture, error)
	LookupVideo(ctx context.Context, req resource.LookupRequest) (*resource.Video, error)
	LookupAudio(ctx context.Context, req resource.LookupRequest) (*resource.Audio, error)
	LookupPerson(ctx context.Context, req resource.LookupRequest) (*resource.Person, error)
	LookupLocation(ctx context.Context, req resource.LookupRequest) (*resource.Location, error)
	LookupOrganization(ctx context.Context, req resource.LookupRequest) (*resource.Organization, error)
}
