package api

import (
	"net/http"
	"strconv"

	"github.com/lukeboustridge-prog/Worldskills-sub002/internal/discovery"
	"github.com/lukeboustridge-prog/Worldskills-sub002/internal/validate"
)

// DiscoveryHandlers serves duplicate and related-descriptor lookups.
type DiscoveryHandlers struct {
	engine *discovery.Engine
}

// NewDiscoveryHandlers creates a new DiscoveryHandlers instance.
func NewDiscoveryHandlers(engine *discovery.Engine) *DiscoveryHandlers {
	return &DiscoveryHandlers{engine: engine}
}

// similarityBody is the JSON body of POST /descriptors/similar and
// POST /descriptors/related. Unset threshold and limit take server defaults.
type similarityBody struct {
	Text      string   `json:"text"`
	Threshold *float64 `json:"threshold"`
	ExcludeID string   `json:"excludeId"`
	Limit     *int     `json:"limit"`
}

// tuning validates the optional threshold and limit.
func tuning(threshold *float64, limit *int) (float64, int, string) {
	var t float64
	var l int
	if threshold != nil {
		v, err := validate.Threshold(*threshold)
		if err != nil {
			return 0, 0, err.Error()
		}
		t = v
	}
	if limit != nil {
		if *limit < 1 {
			return 0, 0, "limit must be at least 1"
		}
		l = *limit
	}
	return t, l, ""
}

// Similar handles POST /descriptors/similar (duplicate warnings while authoring).
func (h *DiscoveryHandlers) Similar(w http.ResponseWriter, r *http.Request) {
	var body similarityBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeCodedError(w, r, ErrCodeBadRequest, "Invalid JSON body")
		return
	}
	text, err := validate.SimilarityText(body.Text)
	if err != nil {
		writeCodedError(w, r, ErrCodeValidation, "Invalid text: "+err.Error())
		return
	}
	threshold, limit, msg := tuning(body.Threshold, body.Limit)
	if msg != "" {
		writeCodedError(w, r, ErrCodeValidation, msg)
		return
	}

	matches, err := h.engine.FindSimilar(r.Context(), discovery.SimilarRequest{
		Text:      text,
		Threshold: threshold,
		ExcludeID: body.ExcludeID,
		Limit:     limit,
	})
	if err != nil {
		WriteStoreError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, matches)
}

// RelatedByText handles POST /descriptors/related.
func (h *DiscoveryHandlers) RelatedByText(w http.ResponseWriter, r *http.Request) {
	var body similarityBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeCodedError(w, r, ErrCodeBadRequest, "Invalid JSON body")
		return
	}
	text, err := validate.SimilarityText(body.Text)
	if err != nil {
		writeCodedError(w, r, ErrCodeValidation, "Invalid text: "+err.Error())
		return
	}
	threshold, limit, msg := tuning(body.Threshold, body.Limit)
	if msg != "" {
		writeCodedError(w, r, ErrCodeValidation, msg)
		return
	}

	matches, err := h.engine.FindRelated(r.Context(), discovery.RelatedRequest{
		Text:      text,
		Threshold: threshold,
		Limit:     limit,
	})
	if err != nil {
		WriteStoreError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, matches)
}

// RelatedByID handles GET /descriptors/{id}/related?threshold=&limit=.
func (h *DiscoveryHandlers) RelatedByID(w http.ResponseWriter, r *http.Request) {
	id, err := validate.ID(r.PathValue("id"))
	if err != nil {
		writeCodedError(w, r, ErrCodeValidation, "Invalid descriptor id")
		return
	}

	var threshold *float64
	var limit *int
	query := r.URL.Query()
	if raw := query.Get("threshold"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			writeCodedError(w, r, ErrCodeValidation, "threshold must be a number")
			return
		}
		threshold = &v
	}
	if raw := query.Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			writeCodedError(w, r, ErrCodeValidation, "limit must be an integer")
			return
		}
		limit = &v
	}
	t, l, msg := tuning(threshold, limit)
	if msg != "" {
		writeCodedError(w, r, ErrCodeValidation, msg)
		return
	}

	matches, err := h.engine.FindRelated(r.Context(), discovery.RelatedRequest{
		SourceID:  id,
		Threshold: t,
		Limit:     l,
	})
	if err != nil {
		WriteStoreError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, matches)
}
