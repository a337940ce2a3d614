package descriptor

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a descriptor does not exist or is soft-deleted.
	ErrNotFound = errors.New("descriptor not found")
	// ErrAlreadyExists is returned when creating a descriptor whose id is taken.
	ErrAlreadyExists = errors.New("descriptor already exists")
	// ErrDuplicateCode is returned when a live descriptor sharing a skill already uses the code.
	ErrDuplicateCode = errors.New("descriptor code already used in this skill")
	// ErrVersionConflict is returned when an update carries a stale version.
	ErrVersionConflict = errors.New("descriptor was modified concurrently")

	// ErrInvalidID is returned when a caller-supplied id is not a UUID.
	ErrInvalidID = errors.New("descriptor id must be a UUID")
	// ErrInvalidName is returned when the criterion name is empty.
	ErrInvalidName = errors.New("criterion name is required")
	// ErrInvalidCode is returned when the code is empty.
	ErrInvalidCode = errors.New("code is required")
	// ErrInvalidSkills is returned when no skill name is given.
	ErrInvalidSkills = errors.New("at least one skill name is required")
	// ErrInvalidQuality is returned for an unknown quality indicator.
	ErrInvalidQuality = errors.New("unknown quality indicator")

	// ErrUnknownFacet is returned for an unsupported facet dimension.
	ErrUnknownFacet = errors.New("unknown facet dimension")
)

// BatchError reports the first rejected record of a bulk write.
type BatchError struct {
	Index int
	Code  string
	Err   error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("record %d (code %q): %v", e.Index, e.Code, e.Err)
}

func (e *BatchError) Unwrap() error {
	return e.Err
}

// IsValidationError reports whether err is one of the field validation errors.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrInvalidName) ||
		errors.Is(err, ErrInvalidCode) ||
		errors.Is(err, ErrInvalidSkills) ||
		errors.Is(err, ErrInvalidQuality)
}

// Repository is the persistent, text-indexed descriptor store.
type Repository interface {
	// Create validates and stores a new descriptor, assigning an id when empty.
	Create(ctx context.Context, d *Descriptor) (*Descriptor, error)

	// Update replaces the editable fields of a live descriptor, bumping version
	// and updated_at. A non-zero Version must match the stored version.
	Update(ctx context.Context, d *Descriptor) (*Descriptor, error)

	// SoftDelete sets the delete marker. Deleted descriptors disappear from
	// every search, facet and similarity query.
	SoftDelete(ctx context.Context, id string) error

	// Restore clears the delete marker.
	Restore(ctx context.Context, id string) (*Descriptor, error)

	// GetByID returns a descriptor. Deleted descriptors are returned only when includeDeleted is set.
	GetByID(ctx context.Context, id string, includeDeleted bool) (*Descriptor, error)

	// ReplaceAll hard-deletes the corpus and inserts ds in one transaction.
	ReplaceAll(ctx context.Context, ds []*Descriptor) (int, error)

	// SearchDescriptors returns one page of descriptors matching the filter.
	// With a query, results are ranked by rank DESC then id ASC; without,
	// they are ordered by criterion name then id and carry no rank.
	SearchDescriptors(ctx context.Context, f Filter, p Page, weights [4]float64) ([]ScoredDescriptor, error)

	// CountDescriptors counts all descriptors matching the filter.
	CountDescriptors(ctx context.Context, f Filter) (int, error)

	// FacetCounts groups the descriptors matching the filter by one dimension,
	// ordered by count DESC then name ASC. Blank values are skipped.
	FacetCounts(ctx context.Context, f Filter, dim FacetDimension) ([]FacetCount, error)

	// FindSimilar returns descriptors whose criterion name is at least
	// q.Threshold similar to q.Text, ordered by similarity DESC then id ASC.
	FindSimilar(ctx context.Context, q SimilarityQuery) ([]SimilarityMatch, error)

	// FindSimilarTo is FindSimilar using the criterion name of a live
	// descriptor, excluding the descriptor itself.
	FindSimilarTo(ctx context.Context, sourceID string, threshold float64, limit int) ([]SimilarityMatch, error)
}
