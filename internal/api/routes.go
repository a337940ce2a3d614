package api

import "net/http"

// Handlers groups every route handler of the service.
type Handlers struct {
	Health      *HealthHandlers
	Search      *SearchHandlers
	Discovery   *DiscoveryHandlers
	Descriptors *DescriptorHandlers
	Metrics     http.Handler
	// Idempotency wraps descriptor creation and may be nil.
	Idempotency func(http.Handler) http.Handler
}

// Register mounts all routes on mux. limitSearch wraps the search and
// similarity routes (rate limiting) and may be nil.
func (h *Handlers) Register(mux *http.ServeMux, limitSearch func(http.Handler) http.Handler) {
	limited := func(fn http.HandlerFunc) http.Handler {
		if limitSearch == nil {
			return fn
		}
		return limitSearch(fn)
	}

	mux.HandleFunc("/health", h.Health.Health)
	mux.HandleFunc("/ready", h.Health.Ready)
	if h.Metrics != nil {
		mux.Handle("GET /metrics", h.Metrics)
	}

	mux.Handle("GET /descriptors/search", limited(h.Search.Search))
	mux.Handle("GET /descriptors/facets", limited(h.Search.Facets))
	mux.Handle("GET /descriptors/browse", limited(h.Search.Browse))

	mux.Handle("POST /descriptors/similar", limited(h.Discovery.Similar))
	mux.Handle("POST /descriptors/related", limited(h.Discovery.RelatedByText))
	mux.Handle("GET /descriptors/{id}/related", limited(h.Discovery.RelatedByID))

	var create http.Handler = http.HandlerFunc(h.Descriptors.Create)
	if h.Idempotency != nil {
		create = h.Idempotency(create)
	}
	mux.Handle("POST /descriptors", create)
	mux.HandleFunc("GET /descriptors/{id}", h.Descriptors.Get)
	mux.HandleFunc("PUT /descriptors/{id}", h.Descriptors.Update)
	mux.HandleFunc("DELETE /descriptors/{id}", h.Descriptors.Delete)
	mux.HandleFunc("POST /descriptors/{id}/restore", h.Descriptors.Restore)
}
