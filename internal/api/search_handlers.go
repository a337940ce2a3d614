package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/lukeboustridge-prog/Worldskills-sub002/internal/descriptor"
	"github.com/lukeboustridge-prog/Worldskills-sub002/internal/search"
	"github.com/lukeboustridge-prog/Worldskills-sub002/internal/validate"
)

// SearchHandlers serves descriptor search, facet and browse requests.
type SearchHandlers struct {
	engine *search.Engine
}

// NewSearchHandlers creates a new SearchHandlers instance.
func NewSearchHandlers(engine *search.Engine) *SearchHandlers {
	return &SearchHandlers{engine: engine}
}

// parseSearchRequest reads q, skill, category, quality, page and pageSize.
// Out-of-range paging is left to the engine to clamp; malformed values are rejected.
func parseSearchRequest(r *http.Request) (search.Request, string) {
	query := r.URL.Query()
	var req search.Request
	var err error

	if req.Query, err = validate.SearchQuery(query.Get("q")); err != nil {
		return req, "Invalid q: " + err.Error()
	}
	if req.SkillArea, err = validate.FilterValue(query.Get("skill")); err != nil {
		return req, "Invalid skill: " + err.Error()
	}
	if req.Category, err = validate.FilterValue(query.Get("category")); err != nil {
		return req, "Invalid category: " + err.Error()
	}
	if raw := strings.TrimSpace(query.Get("quality")); raw != "" {
		q := descriptor.QualityIndicator(strings.ToUpper(raw))
		if !q.Valid() {
			return req, "quality must be one of NEEDS_REVIEW, REFERENCE, GOOD, EXCELLENT"
		}
		req.QualityIndicator = q
	}
	if raw := query.Get("page"); raw != "" {
		if req.Page, err = strconv.Atoi(raw); err != nil {
			return req, "page must be an integer"
		}
	}
	if raw := query.Get("pageSize"); raw != "" {
		if req.PageSize, err = strconv.Atoi(raw); err != nil {
			return req, "pageSize must be an integer"
		}
	}
	return req, ""
}

// Search handles GET /descriptors/search.
func (h *SearchHandlers) Search(w http.ResponseWriter, r *http.Request) {
	req, msg := parseSearchRequest(r)
	if msg != "" {
		writeCodedError(w, r, ErrCodeValidation, msg)
		return
	}

	resp, err := h.engine.Search(r.Context(), req)
	if err != nil {
		WriteStoreError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// Facets handles GET /descriptors/facets. Only q narrows the counts.
func (h *SearchHandlers) Facets(w http.ResponseWriter, r *http.Request) {
	q, err := validate.SearchQuery(r.URL.Query().Get("q"))
	if err != nil {
		writeCodedError(w, r, ErrCodeValidation, "Invalid q: "+err.Error())
		return
	}

	facets, err := h.engine.FacetCounts(r.Context(), q)
	if err != nil {
		WriteStoreError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, facets)
}

// Browse handles GET /descriptors/browse: one result page and the facets for
// the same query, computed concurrently.
func (h *SearchHandlers) Browse(w http.ResponseWriter, r *http.Request) {
	req, msg := parseSearchRequest(r)
	if msg != "" {
		writeCodedError(w, r, ErrCodeValidation, msg)
		return
	}

	resp, err := h.engine.Browse(r.Context(), req)
	if err != nil {
		WriteStoreError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, resp)
}
