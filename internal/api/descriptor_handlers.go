package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/lukeboustridge-prog/Worldskills-sub002/internal/descriptor"
	"github.com/lukeboustridge-prog/Worldskills-sub002/internal/discovery"
	"github.com/lukeboustridge-prog/Worldskills-sub002/internal/validate"
)

// DescriptorHandlers serves descriptor create, read, update, delete and restore.
type DescriptorHandlers struct {
	repo      descriptor.Repository
	discovery *discovery.Engine
}

// NewDescriptorHandlers creates a new DescriptorHandlers instance. The
// discovery engine supplies duplicate warnings on create.
func NewDescriptorHandlers(repo descriptor.Repository, discoveryEngine *discovery.Engine) *DescriptorHandlers {
	return &DescriptorHandlers{repo: repo, discovery: discoveryEngine}
}

// DescriptorRequest is the JSON body of create and update requests.
type DescriptorRequest struct {
	Code             string   `json:"code"`
	CriterionName    string   `json:"criterionName"`
	Excellent        string   `json:"excellent"`
	Good             string   `json:"good"`
	Pass             string   `json:"pass"`
	BelowPass        string   `json:"belowPass"`
	SkillNames       []string `json:"skillNames"`
	Sector           *string  `json:"sector"`
	Category         *string  `json:"category"`
	QualityIndicator string   `json:"qualityIndicator"`
	Tags             []string `json:"tags"`
	AuthorID         *string  `json:"authorId"`
	// Version enables an optimistic concurrency check on update when non-zero.
	Version int `json:"version"`
}

// CreateDescriptorResponse carries the stored descriptor and any existing
// descriptors with a similar criterion name.
type CreateDescriptorResponse struct {
	Descriptor        *descriptor.Descriptor   `json:"descriptor"`
	DuplicateWarnings []discovery.SimilarMatch `json:"duplicateWarnings"`
}

// toDescriptor validates the request fields and builds a descriptor.
func (req *DescriptorRequest) toDescriptor() (*descriptor.Descriptor, string) {
	code, err := validate.Code(req.Code)
	if err != nil {
		return nil, "Invalid code: " + err.Error()
	}
	name, err := validate.CriterionName(req.CriterionName)
	if err != nil {
		return nil, "Invalid criterionName: " + err.Error()
	}
	levels := []*string{&req.Excellent, &req.Good, &req.Pass, &req.BelowPass}
	for _, level := range levels {
		v, err := validate.LevelText(*level)
		if err != nil {
			return nil, "Invalid level description: " + err.Error()
		}
		*level = v
	}
	for _, skill := range req.SkillNames {
		if _, err := validate.FilterValue(skill); err != nil {
			return nil, "Invalid skill name: " + err.Error()
		}
	}
	quality := descriptor.QualityIndicator(strings.ToUpper(strings.TrimSpace(req.QualityIndicator)))
	if quality != "" && !quality.Valid() {
		return nil, "qualityIndicator must be one of NEEDS_REVIEW, REFERENCE, GOOD, EXCELLENT"
	}

	return &descriptor.Descriptor{
		Code:             code,
		CriterionName:    name,
		Excellent:        req.Excellent,
		Good:             req.Good,
		Pass:             req.Pass,
		BelowPass:        req.BelowPass,
		SkillNames:       req.SkillNames,
		Sector:           req.Sector,
		Category:         req.Category,
		QualityIndicator: quality,
		Tags:             req.Tags,
		AuthorID:         req.AuthorID,
		Version:          req.Version,
	}, ""
}

// pathID reads and validates the {id} path segment.
func pathID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, err := validate.ID(r.PathValue("id"))
	if err != nil {
		writeCodedError(w, r, ErrCodeValidation, "Invalid descriptor id")
		return "", false
	}
	return id, true
}

// Create handles POST /descriptors.
func (h *DescriptorHandlers) Create(w http.ResponseWriter, r *http.Request) {
	var req DescriptorRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeCodedError(w, r, ErrCodeBadRequest, "Invalid JSON body")
		return
	}
	d, msg := req.toDescriptor()
	if msg != "" {
		writeCodedError(w, r, ErrCodeValidation, msg)
		return
	}

	created, err := h.repo.Create(r.Context(), d)
	if err != nil {
		WriteStoreError(w, r, err)
		return
	}

	// A failed duplicate lookup does not undo the create.
	warnings, err := h.discovery.FindSimilar(r.Context(), discovery.SimilarRequest{
		Text:      created.CriterionName,
		ExcludeID: created.ID,
	})
	if err != nil {
		slog.WarnContext(r.Context(), "duplicate check failed after create",
			slog.String("descriptor_id", created.ID),
			slog.String("error", err.Error()))
		warnings = []discovery.SimilarMatch{}
	}

	writeJSON(w, r, http.StatusCreated, CreateDescriptorResponse{
		Descriptor:        created,
		DuplicateWarnings: warnings,
	})
}

// Get handles GET /descriptors/{id}.
func (h *DescriptorHandlers) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	d, err := h.repo.GetByID(r.Context(), id, false)
	if err != nil {
		WriteStoreError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, d)
}

// Update handles PUT /descriptors/{id}.
func (h *DescriptorHandlers) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req DescriptorRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeCodedError(w, r, ErrCodeBadRequest, "Invalid JSON body")
		return
	}
	d, msg := req.toDescriptor()
	if msg != "" {
		writeCodedError(w, r, ErrCodeValidation, msg)
		return
	}
	d.ID = id

	updated, err := h.repo.Update(r.Context(), d)
	if err != nil {
		WriteStoreError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, updated)
}

// Delete handles DELETE /descriptors/{id} by setting the soft delete marker.
func (h *DescriptorHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.repo.SoftDelete(r.Context(), id); err != nil {
		WriteStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Restore handles POST /descriptors/{id}/restore.
func (h *DescriptorHandlers) Restore(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	restored, err := h.repo.Restore(r.Context(), id)
	if err != nil {
		WriteStoreError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, restored)
}
