package descriptor

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lukeboustridge-prog/Worldskills-sub002/internal/similarity"
	"github.com/lukeboustridge-prog/Worldskills-sub002/internal/textindex"
)

// InMemoryRepository is an in-memory implementation of Repository.
// Used for testing and development. Queries take the read lock; writes take the
// write lock and update both indexes before releasing it.
type InMemoryRepository struct {
	mu      sync.RWMutex
	records map[string]*Descriptor
	text    *textindex.Index
	names   *similarity.Index
	now     func() time.Time
	logger  *slog.Logger
}

// NewInMemoryRepository creates a new in-memory descriptor repository.
func NewInMemoryRepository(logger *slog.Logger) *InMemoryRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &InMemoryRepository{
		records: make(map[string]*Descriptor),
		text:    textindex.NewIndex(),
		names:   similarity.NewIndex(),
		now:     time.Now,
		logger:  logger,
	}
}

// SetClock overrides the time source. Intended for tests.
func (r *InMemoryRepository) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// put stores a copy and refreshes both indexes. Caller holds the write lock.
func (r *InMemoryRepository) put(d *Descriptor) {
	stored := d.Clone()
	r.records[stored.ID] = stored
	r.text.Put(stored.ID, stored.Document())
	r.names.Put(stored.ID, stored.CriterionName)
}

// codeTaken reports whether a live descriptor other than excludeID shares a
// skill with d and uses its code. Caller holds a lock.
func (r *InMemoryRepository) codeTaken(d *Descriptor, excludeID string) bool {
	for id, other := range r.records {
		if id == excludeID || other.IsDeleted() || other.Code != d.Code {
			continue
		}
		if other.SharesSkill(d) {
			return true
		}
	}
	return false
}

// Create validates and stores a new descriptor.
func (r *InMemoryRepository) Create(ctx context.Context, d *Descriptor) (*Descriptor, error) {
	rec := d.Clone()
	rec.Normalize()
	if err := rec.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if _, ok := r.records[rec.ID]; ok {
		return nil, ErrAlreadyExists
	}
	if r.codeTaken(rec, "") {
		return nil, ErrDuplicateCode
	}

	now := r.now().UTC()
	rec.Version = 1
	rec.CreatedAt = now
	rec.UpdatedAt = now
	rec.DeletedAt = nil
	r.put(rec)

	r.logger.Debug("descriptor created",
		slog.String("descriptor_id", rec.ID),
		slog.String("code", rec.Code))
	return rec.Clone(), nil
}

// Update replaces the editable fields of a live descriptor.
func (r *InMemoryRepository) Update(ctx context.Context, d *Descriptor) (*Descriptor, error) {
	rec := d.Clone()
	rec.Normalize()
	if err := rec.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.records[rec.ID]
	if !ok || existing.IsDeleted() {
		return nil, ErrNotFound
	}
	if rec.Version != 0 && rec.Version != existing.Version {
		return nil, ErrVersionConflict
	}
	if r.codeTaken(rec, rec.ID) {
		return nil, ErrDuplicateCode
	}

	rec.Version = existing.Version + 1
	rec.CreatedAt = existing.CreatedAt
	rec.UpdatedAt = r.now().UTC()
	rec.DeletedAt = nil
	if rec.AuthorID == nil {
		rec.AuthorID = copyString(existing.AuthorID)
	}
	r.put(rec)
	return rec.Clone(), nil
}

// SoftDelete sets the delete marker on a live descriptor.
func (r *InMemoryRepository) SoftDelete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.records[id]
	if !ok || existing.IsDeleted() {
		return ErrNotFound
	}
	now := r.now().UTC()
	existing.DeletedAt = &now
	existing.UpdatedAt = now
	return nil
}

// Restore clears the delete marker. Restoring a live descriptor is a no-op.
func (r *InMemoryRepository) Restore(ctx context.Context, id string) (*Descriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	if existing.IsDeleted() {
		if r.codeTaken(existing, id) {
			return nil, ErrDuplicateCode
		}
		existing.DeletedAt = nil
		existing.UpdatedAt = r.now().UTC()
	}
	return existing.Clone(), nil
}

// GetByID retrieves a descriptor by its ID.
func (r *InMemoryRepository) GetByID(ctx context.Context, id string, includeDeleted bool) (*Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	existing, ok := r.records[id]
	if !ok || (existing.IsDeleted() && !includeDeleted) {
		return nil, ErrNotFound
	}
	return existing.Clone(), nil
}

// ReplaceAll swaps the whole corpus. Nothing changes when any record is invalid.
func (r *InMemoryRepository) ReplaceAll(ctx context.Context, ds []*Descriptor) (int, error) {
	prepared, err := prepareBatch(ds)
	if err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.records = make(map[string]*Descriptor, len(prepared))
	r.text = textindex.NewIndex()
	r.names = similarity.NewIndex()
	now := r.now().UTC()
	for _, rec := range prepared {
		rec.Version = 1
		rec.CreatedAt = now
		rec.UpdatedAt = now
		rec.DeletedAt = nil
		r.put(rec)
	}

	r.logger.Info("descriptor corpus replaced", slog.Int("count", len(prepared)))
	return len(prepared), nil
}

// ValidateBatch reports the first record ReplaceAll would reject, without
// writing anything.
func ValidateBatch(ds []*Descriptor) error {
	_, err := prepareBatch(ds)
	return err
}

// Conflicts returns ErrAlreadyExists when d reuses the id of a record in
// batch, or ErrDuplicateCode when it reuses a code within a shared skill.
// Records are compared as given; normalize them first.
func Conflicts(batch []*Descriptor, d *Descriptor) error {
	for _, prev := range batch {
		if d.ID != "" && prev.ID == d.ID {
			return ErrAlreadyExists
		}
		if prev.Code == d.Code && prev.SharesSkill(d) {
			return ErrDuplicateCode
		}
	}
	return nil
}

// prepareBatch normalizes and validates a replacement corpus, assigning ids and
// rejecting duplicate ids or codes within the batch.
func prepareBatch(ds []*Descriptor) ([]*Descriptor, error) {
	out := make([]*Descriptor, 0, len(ds))
	ids := make(map[string]struct{}, len(ds))
	for i, d := range ds {
		rec := d.Clone()
		rec.Normalize()
		if err := rec.Validate(); err != nil {
			return nil, &BatchError{Index: i, Code: rec.Code, Err: err}
		}
		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		if _, ok := ids[rec.ID]; ok {
			return nil, &BatchError{Index: i, Code: rec.Code, Err: ErrAlreadyExists}
		}
		ids[rec.ID] = struct{}{}
		if err := Conflicts(out, rec); err != nil {
			return nil, &BatchError{Index: i, Code: rec.Code, Err: err}
		}
		out = append(out, rec)
	}
	return out, nil
}

// matches applies the structured part of the filter. Caller holds a lock.
func (f Filter) matches(d *Descriptor) bool {
	if d.IsDeleted() && !f.IncludeDeleted {
		return false
	}
	if f.SkillArea != "" && !d.HasSkill(f.SkillArea) {
		return false
	}
	if f.Category != "" && (d.Category == nil || *d.Category != f.Category) {
		return false
	}
	if f.QualityIndicator != "" && d.QualityIndicator != f.QualityIndicator {
		return false
	}
	return true
}

// matching returns the ids of descriptors satisfying the filter. Caller holds a lock.
func (r *InMemoryRepository) matching(f Filter) []string {
	var candidates []string
	if f.Query != nil {
		candidates = r.text.Match(*f.Query)
	} else {
		candidates = make([]string, 0, len(r.records))
		for id := range r.records {
			candidates = append(candidates, id)
		}
	}
	out := candidates[:0]
	for _, id := range candidates {
		if rec, ok := r.records[id]; ok && f.matches(rec) {
			out = append(out, id)
		}
	}
	return out
}

// SearchDescriptors returns one page of descriptors matching the filter.
func (r *InMemoryRepository) SearchDescriptors(ctx context.Context, f Filter, p Page, weights [4]float64) ([]ScoredDescriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.matching(f)
	hits := make([]ScoredDescriptor, 0, len(ids))
	for _, id := range ids {
		hit := ScoredDescriptor{Descriptor: r.records[id]}
		if f.Ranked() {
			rank := r.text.Rank(id, *f.Query, weights)
			hit.Rank = &rank
		}
		hits = append(hits, hit)
	}

	if f.Ranked() {
		sort.Slice(hits, func(i, j int) bool {
			if *hits[i].Rank != *hits[j].Rank {
				return *hits[i].Rank > *hits[j].Rank
			}
			return hits[i].Descriptor.ID < hits[j].Descriptor.ID
		})
	} else {
		sort.Slice(hits, func(i, j int) bool {
			a := strings.ToLower(hits[i].Descriptor.CriterionName)
			b := strings.ToLower(hits[j].Descriptor.CriterionName)
			if a != b {
				return a < b
			}
			return hits[i].Descriptor.ID < hits[j].Descriptor.ID
		})
	}

	window := pageWindow(hits, p)
	out := make([]ScoredDescriptor, len(window))
	for i, h := range window {
		out[i] = ScoredDescriptor{Descriptor: h.Descriptor.Clone(), Rank: h.Rank}
	}
	return out, nil
}

func pageWindow[T any](items []T, p Page) []T {
	if p.Offset < 0 {
		p.Offset = 0
	}
	if p.Offset >= len(items) {
		return nil
	}
	end := len(items)
	if p.Limit > 0 && p.Offset+p.Limit < end {
		end = p.Offset + p.Limit
	}
	return items[p.Offset:end]
}

// CountDescriptors counts all descriptors matching the filter.
func (r *InMemoryRepository) CountDescriptors(ctx context.Context, f Filter) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.matching(f)), nil
}

// FacetCounts groups matching descriptors by one dimension.
func (r *InMemoryRepository) FacetCounts(ctx context.Context, f Filter, dim FacetDimension) ([]FacetCount, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[string]int)
	for _, id := range r.matching(f) {
		rec := r.records[id]
		switch dim {
		case FacetSkillArea:
			// SkillNames are de-duplicated by Normalize, so each skill counts once per record.
			for _, s := range rec.SkillNames {
				if s != "" {
					counts[s]++
				}
			}
		case FacetCategory:
			if rec.Category != nil && *rec.Category != "" {
				counts[*rec.Category]++
			}
		case FacetQuality:
			if rec.QualityIndicator != "" {
				counts[string(rec.QualityIndicator)]++
			}
		default:
			return nil, ErrUnknownFacet
		}
	}
	return sortFacets(counts), nil
}

func sortFacets(counts map[string]int) []FacetCount {
	out := make([]FacetCount, 0, len(counts))
	for name, n := range counts {
		out = append(out, FacetCount{Name: name, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// FindSimilar returns live descriptors whose criterion name resembles q.Text.
func (r *InMemoryRepository) FindSimilar(ctx context.Context, q SimilarityQuery) ([]SimilarityMatch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.findSimilar(q), nil
}

// findSimilar runs the trigram lookup. Caller holds a lock.
func (r *InMemoryRepository) findSimilar(q SimilarityQuery) []SimilarityMatch {
	hits := r.names.Search(q.Text, q.Threshold, func(id string) bool {
		rec, ok := r.records[id]
		return ok && id != q.ExcludeID && !rec.IsDeleted()
	})
	if q.Limit > 0 && len(hits) > q.Limit {
		hits = hits[:q.Limit]
	}
	out := make([]SimilarityMatch, len(hits))
	for i, h := range hits {
		out[i] = SimilarityMatch{Descriptor: r.records[h.ID].Clone(), Similarity: h.Similarity}
	}
	return out
}

// FindSimilarTo returns descriptors resembling a live source descriptor.
func (r *InMemoryRepository) FindSimilarTo(ctx context.Context, sourceID string, threshold float64, limit int) ([]SimilarityMatch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	source, ok := r.records[sourceID]
	if !ok || source.IsDeleted() {
		return nil, ErrNotFound
	}
	return r.findSimilar(SimilarityQuery{
		Text:      source.CriterionName,
		Threshold: threshold,
		ExcludeID: sourceID,
		Limit:     limit,
	}), nil
}
