package memstore

import "github.com/amarack/librarian/resource"

// Sample builds a store seeded with a small waterworks-history corpus. The
// endpoint CLI serves it out of the box so a broker fleet can be exercised
// without a real index.
func Sample() *Store {
	s := New(resource.Types...)

	objects := []Object{
		{ID: "col-waterworks", Type: resource.TypeCollection, Title: "Dutch Waterworks",
			Text: "Flood control and land reclamation in the Netherlands."},

		{ID: "page-delta", Type: resource.TypePage, Parent: "col-waterworks", Title: "The Delta Works",
			Text: "The Delta Works protect the Rhine-Meuse-Scheldt delta. Johan van Veen drafted the first plans for Rijkswaterstaat."},
		{ID: "page-zuiderzee", Type: resource.TypePage, Parent: "col-waterworks", Title: "The Zuiderzee Works",
			Text: "The Zuiderzee Works closed the Zuiderzee with the Afsluitdijk, a plan by Cornelis Lely."},

		{ID: "pic-oosterschelde", Type: resource.TypePicture, Parent: "page-delta", Title: "Oosterscheldekering from the air",
			URL: "https://images.example.org/oosterschelde.jpg"},
		{ID: "vid-closure", Type: resource.TypeVideo, Parent: "page-delta", Title: "Closing the storm surge barrier",
			URL: "https://media.example.org/closure.mp4"},
		{ID: "aud-interview", Type: resource.TypeAudio, Parent: "page-zuiderzee", Title: "Interview on the Afsluitdijk",
			URL: "https://media.example.org/afsluitdijk.ogg"},

		{ID: "per-vanveen", Type: resource.TypePerson, Parent: "page-delta", Title: "Johan van Veen",
			BirthDate: "1893-12-21", DeathDate: "1959-12-09"},
		{ID: "per-lely", Type: resource.TypePerson, Parent: "page-zuiderzee", Title: "Cornelis Lely",
			BirthDate: "1854-09-23", DeathDate: "1929-01-22"},

		{ID: "loc-oosterschelde", Type: resource.TypeLocation, Parent: "page-delta", Title: "Oosterschelde",
			Latitude: 51.616, Longitude: 3.883},
		{ID: "loc-afsluitdijk", Type: resource.TypeLocation, Parent: "page-zuiderzee", Title: "Afsluitdijk",
			Latitude: 53.004, Longitude: 5.173},
		{ID: "loc-neeltjejans", Type: resource.TypeLocation, Parent: "page-delta", Title: "Neeltje Jans",
			Latitude: 51.625, Longitude: 3.722},

		{ID: "org-rws", Type: resource.TypeOrganization, Parent: "page-delta", Title: "Rijkswaterstaat"},
	}
	for _, o := range objects {
		s.Add(o)
	}

	// "related" surfaces the other pages under the same container.
	s.RegisterDynamic(
		resource.DynamicTransformID{Name: "related", FromType: resource.TypePage},
		func(s *Store, req resource.TransformRequest) []resource.SearchResult {
			resp, _ := s.RunOverlaps(nil, resource.TransformRequest{
				Kind: resource.TransformOverlaps,
				ID:   req.ID,
				From: resource.TypePage,
			})
			return resp.Results
		},
	)

	return s
}
