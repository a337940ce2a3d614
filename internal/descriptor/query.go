package descriptor

import "github.com/lukeboustridge-prog/Worldskills-sub002/internal/textindex"

// Filter is the shared match predicate of search, count and facet queries.
type Filter struct {
	// Query is the parsed text query. Nil means no text constraint; a query
	// with no usable terms matches nothing.
	Query *textindex.Query

	SkillArea        string
	Category         string
	QualityIndicator QualityIndicator

	// IncludeDeleted opts into soft-deleted descriptors. Administrative use only.
	IncludeDeleted bool
}

// Ranked reports whether results are ordered by relevance.
func (f Filter) Ranked() bool {
	return f.Query != nil
}

// Page is a limit/offset window.
type Page struct {
	Limit  int
	Offset int
}

// ScoredDescriptor is a search hit. Rank is nil for unranked queries.
type ScoredDescriptor struct {
	Descriptor *Descriptor
	Rank       *float64
}

// FacetDimension names a grouping dimension.
type FacetDimension string

const (
	FacetSkillArea FacetDimension = "skill_area"
	FacetCategory  FacetDimension = "category"
	FacetQuality   FacetDimension = "quality_indicator"
)

// FacetCount is the number of matching descriptors carrying one dimension value.
type FacetCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// SimilarityQuery asks for descriptors whose criterion name resembles Text.
type SimilarityQuery struct {
	Text      string
	Threshold float64
	ExcludeID string
	Limit     int
}

// SimilarityMatch is a descriptor with its trigram similarity to the probe.
type SimilarityMatch struct {
	Descriptor *Descriptor
	Similarity float64
}
