package descriptor

import (
	"context"
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/lukeboustridge-prog/Worldskills-sub002/internal/textindex"
)

const (
	idWorkplace  = "00000000-0000-0000-0000-000000000001"
	idSafetyProc = "00000000-0000-0000-0000-000000000002"
	idHandTools  = "00000000-0000-0000-0000-000000000003"
	idWeldBead   = "00000000-0000-0000-0000-000000000004"
	idIsolation  = "00000000-0000-0000-0000-000000000005"
	idMissing    = "00000000-0000-0000-0000-0000000000ff"
)

var testWeights = [4]float64{0.1, 0.2, 0.4, 1.0}

func strPtr(s string) *string { return &s }

// fixtureCorpus is a small corpus spanning three skills.
func fixtureCorpus() []*Descriptor {
	return []*Descriptor{
		{
			ID: idWorkplace, Code: "A1", CriterionName: "Workplace safety procedures",
			Excellent:  "Applies all safety procedures without prompting",
			Good:       "Applies most procedures with occasional prompting",
			Pass:       "Applies procedures when reminded",
			BelowPass:  "Does not apply procedures",
			SkillNames: []string{"Welding"}, Category: strPtr("Safety"), QualityIndicator: QualityGood,
		},
		{
			ID: idSafetyProc, Code: "A2", CriterionName: "Safety procedures in the workplace",
			Excellent: "Explains every step", Good: "Explains most steps",
			SkillNames: []string{"Carpentry"}, Category: strPtr("Safety"), QualityIndicator: QualityReference,
		},
		{
			ID: idHandTools, Code: "B1", CriterionName: "Selects appropriate hand tools",
			Excellent: "Chooses tools with attention to safety", Pass: "Chooses usable tools",
			SkillNames: []string{"Carpentry"}, Category: strPtr("Tools"), QualityIndicator: QualityExcellent,
		},
		{
			ID: idWeldBead, Code: "B2", CriterionName: "Weld bead consistency",
			Excellent: "Uniform bead along the full seam", BelowPass: "Irregular bead",
			SkillNames: []string{"Welding"}, QualityIndicator: QualityNeedsReview,
		},
		{
			ID: idIsolation, Code: "C1", CriterionName: "Electrical isolation",
			Excellent:  "Follows lockout safety rules before work",
			SkillNames: []string{"Electrical Installations", "Welding"}, Category: strPtr("Safety"), QualityIndicator: QualityGood,
		},
	}
}

func seed(t *testing.T, repo Repository) {
	t.Helper()
	n, err := repo.ReplaceAll(context.Background(), fixtureCorpus())
	if err != nil {
		t.Fatalf("failed to seed corpus: %v", err)
	}
	if n != 5 {
		t.Fatalf("expected 5 seeded descriptors, got %d", n)
	}
}

func parsed(q string) *textindex.Query {
	query := textindex.Parse(q)
	return &query
}

func hitIDs(hits []ScoredDescriptor) []string {
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.Descriptor.ID
	}
	return out
}

func matchIDs(matches []SimilarityMatch) []string {
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = m.Descriptor.ID
	}
	return out
}

// runRepositoryContract exercises behavior every Repository must share.
// newRepo must return an empty repository.
func runRepositoryContract(t *testing.T, newRepo func(t *testing.T) Repository) {
	ctx := context.Background()

	t.Run("ranked search orders name matches first", func(t *testing.T) {
		repo := newRepo(t)
		seed(t, repo)

		hits, err := repo.SearchDescriptors(ctx, Filter{Query: parsed("safety")}, Page{Limit: 20}, testWeights)
		if err != nil {
			t.Fatalf("search failed: %v", err)
		}
		want := []string{idWorkplace, idSafetyProc, idHandTools, idIsolation}
		if got := hitIDs(hits); !reflect.DeepEqual(got, want) {
			t.Fatalf("expected %v, got %v", want, got)
		}
		for i, h := range hits {
			if h.Rank == nil {
				t.Fatalf("hit %d has no rank", i)
			}
			if i > 0 && *h.Rank > *hits[i-1].Rank {
				t.Errorf("rank increased at %d: %f > %f", i, *h.Rank, *hits[i-1].Rank)
			}
		}
	})

	t.Run("unranked search orders by name", func(t *testing.T) {
		repo := newRepo(t)
		seed(t, repo)

		hits, err := repo.SearchDescriptors(ctx, Filter{}, Page{Limit: 20}, testWeights)
		if err != nil {
			t.Fatalf("search failed: %v", err)
		}
		want := []string{idIsolation, idSafetyProc, idHandTools, idWeldBead, idWorkplace}
		if got := hitIDs(hits); !reflect.DeepEqual(got, want) {
			t.Fatalf("expected %v, got %v", want, got)
		}
		for _, h := range hits {
			if h.Rank != nil {
				t.Errorf("expected no rank for unranked search, got %f", *h.Rank)
			}
		}
	})

	t.Run("filters narrow results", func(t *testing.T) {
		repo := newRepo(t)
		seed(t, repo)

		tests := []struct {
			name   string
			filter Filter
			want   int
		}{
			{name: "skill", filter: Filter{SkillArea: "Welding"}, want: 3},
			{name: "category", filter: Filter{Category: "Safety"}, want: 3},
			{name: "quality", filter: Filter{QualityIndicator: QualityGood}, want: 2},
			{name: "query and skill", filter: Filter{Query: parsed("safety"), SkillArea: "Welding"}, want: 2},
			{name: "unknown skill", filter: Filter{SkillArea: "Plumbing"}, want: 0},
			{name: "stop words only", filter: Filter{Query: parsed("the")}, want: 0},
			{name: "exclusion", filter: Filter{Query: parsed("safety -tools")}, want: 3},
			{name: "phrase", filter: Filter{Query: parsed(`"hand tools"`)}, want: 1},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				total, err := repo.CountDescriptors(ctx, tt.filter)
				if err != nil {
					t.Fatalf("count failed: %v", err)
				}
				if total != tt.want {
					t.Errorf("expected %d, got %d", tt.want, total)
				}
				hits, err := repo.SearchDescriptors(ctx, tt.filter, Page{Limit: 20}, testWeights)
				if err != nil {
					t.Fatalf("search failed: %v", err)
				}
				if len(hits) != total {
					t.Errorf("search returned %d hits, count says %d", len(hits), total)
				}
			})
		}
	})

	t.Run("pages are disjoint", func(t *testing.T) {
		repo := newRepo(t)
		seed(t, repo)

		f := Filter{Query: parsed("safety")}
		first, err := repo.SearchDescriptors(ctx, f, Page{Limit: 2, Offset: 0}, testWeights)
		if err != nil {
			t.Fatalf("search failed: %v", err)
		}
		second, err := repo.SearchDescriptors(ctx, f, Page{Limit: 2, Offset: 2}, testWeights)
		if err != nil {
			t.Fatalf("search failed: %v", err)
		}
		third, err := repo.SearchDescriptors(ctx, f, Page{Limit: 2, Offset: 4}, testWeights)
		if err != nil {
			t.Fatalf("search failed: %v", err)
		}
		if !reflect.DeepEqual(hitIDs(first), []string{idWorkplace, idSafetyProc}) {
			t.Errorf("unexpected first page: %v", hitIDs(first))
		}
		if !reflect.DeepEqual(hitIDs(second), []string{idHandTools, idIsolation}) {
			t.Errorf("unexpected second page: %v", hitIDs(second))
		}
		if len(third) != 0 {
			t.Errorf("expected empty third page, got %v", hitIDs(third))
		}
	})

	t.Run("facet counts", func(t *testing.T) {
		repo := newRepo(t)
		seed(t, repo)

		tests := []struct {
			dim  FacetDimension
			want []FacetCount
		}{
			{dim: FacetSkillArea, want: []FacetCount{{"Welding", 3}, {"Carpentry", 2}, {"Electrical Installations", 1}}},
			{dim: FacetCategory, want: []FacetCount{{"Safety", 3}, {"Tools", 1}}},
			{dim: FacetQuality, want: []FacetCount{{"GOOD", 2}, {"EXCELLENT", 1}, {"NEEDS_REVIEW", 1}, {"REFERENCE", 1}}},
		}
		for _, tt := range tests {
			t.Run(string(tt.dim), func(t *testing.T) {
				got, err := repo.FacetCounts(ctx, Filter{}, tt.dim)
				if err != nil {
					t.Fatalf("facets failed: %v", err)
				}
				if !reflect.DeepEqual(got, tt.want) {
					t.Errorf("expected %v, got %v", tt.want, got)
				}
			})
		}

		got, err := repo.FacetCounts(ctx, Filter{Query: parsed("safety")}, FacetCategory)
		if err != nil {
			t.Fatalf("facets failed: %v", err)
		}
		want := []FacetCount{{"Safety", 3}, {"Tools", 1}}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("expected %v for query facets, got %v", want, got)
		}
	})

	t.Run("similarity", func(t *testing.T) {
		repo := newRepo(t)
		seed(t, repo)

		matches, err := repo.FindSimilar(ctx, SimilarityQuery{Text: "Workplace safety procedures", Threshold: 0.4, Limit: 5})
		if err != nil {
			t.Fatalf("find similar failed: %v", err)
		}
		if got := matchIDs(matches); !reflect.DeepEqual(got, []string{idWorkplace, idSafetyProc}) {
			t.Fatalf("expected [%s %s], got %v", idWorkplace, idSafetyProc, got)
		}
		if math.Abs(matches[0].Similarity-1) > 1e-6 || math.Abs(matches[1].Similarity-0.8) > 1e-6 {
			t.Errorf("unexpected similarities: %f, %f", matches[0].Similarity, matches[1].Similarity)
		}

		excluded, err := repo.FindSimilar(ctx, SimilarityQuery{Text: "Workplace safety procedures", Threshold: 0.4, ExcludeID: idWorkplace, Limit: 5})
		if err != nil {
			t.Fatalf("find similar failed: %v", err)
		}
		if got := matchIDs(excluded); !reflect.DeepEqual(got, []string{idSafetyProc}) {
			t.Errorf("expected only %s, got %v", idSafetyProc, got)
		}

		limited, err := repo.FindSimilar(ctx, SimilarityQuery{Text: "Workplace safety procedures", Threshold: 0.4, Limit: 1})
		if err != nil {
			t.Fatalf("find similar failed: %v", err)
		}
		if len(limited) != 1 {
			t.Errorf("expected limit to cap results at 1, got %d", len(limited))
		}
	})

	t.Run("related crosses skill groupings", func(t *testing.T) {
		repo := newRepo(t)
		seed(t, repo)

		matches, err := repo.FindSimilarTo(ctx, idSafetyProc, 0.3, 5)
		if err != nil {
			t.Fatalf("find similar to failed: %v", err)
		}
		if got := matchIDs(matches); !reflect.DeepEqual(got, []string{idWorkplace}) {
			t.Fatalf("expected [%s], got %v", idWorkplace, got)
		}
		if matches[0].Descriptor.SharesSkill(&Descriptor{SkillNames: []string{"Carpentry"}}) {
			t.Error("expected the related descriptor to come from another skill")
		}

		if _, err := repo.FindSimilarTo(ctx, idMissing, 0.3, 5); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound for missing source, got %v", err)
		}
		if _, err := repo.FindSimilarTo(ctx, "not-a-uuid", 0.3, 5); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound for malformed source id, got %v", err)
		}
	})

	t.Run("soft delete hides everywhere", func(t *testing.T) {
		repo := newRepo(t)
		seed(t, repo)

		if err := repo.SoftDelete(ctx, idWorkplace); err != nil {
			t.Fatalf("soft delete failed: %v", err)
		}
		if err := repo.SoftDelete(ctx, idWorkplace); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound deleting twice, got %v", err)
		}

		hits, err := repo.SearchDescriptors(ctx, Filter{Query: parsed("safety")}, Page{Limit: 20}, testWeights)
		if err != nil {
			t.Fatalf("search failed: %v", err)
		}
		for _, id := range hitIDs(hits) {
			if id == idWorkplace {
				t.Error("deleted descriptor returned by search")
			}
		}
		if total, _ := repo.CountDescriptors(ctx, Filter{}); total != 4 {
			t.Errorf("expected 4 live descriptors, got %d", total)
		}
		if total, _ := repo.CountDescriptors(ctx, Filter{IncludeDeleted: true}); total != 5 {
			t.Errorf("expected 5 descriptors including deleted, got %d", total)
		}
		skills, _ := repo.FacetCounts(ctx, Filter{}, FacetSkillArea)
		wantSkills := []FacetCount{{"Carpentry", 2}, {"Welding", 2}, {"Electrical Installations", 1}}
		if !reflect.DeepEqual(skills, wantSkills) {
			t.Errorf("expected %v after delete, got %v", wantSkills, skills)
		}
		similar, _ := repo.FindSimilar(ctx, SimilarityQuery{Text: "Workplace safety procedures", Threshold: 0.4, Limit: 5})
		if got := matchIDs(similar); !reflect.DeepEqual(got, []string{idSafetyProc}) {
			t.Errorf("expected deleted descriptor excluded from similarity, got %v", got)
		}
		if _, err := repo.FindSimilarTo(ctx, idWorkplace, 0.3, 5); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound for deleted source, got %v", err)
		}

		if _, err := repo.GetByID(ctx, idWorkplace, false); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound for deleted descriptor, got %v", err)
		}
		got, err := repo.GetByID(ctx, idWorkplace, true)
		if err != nil || !got.IsDeleted() {
			t.Errorf("expected deleted descriptor with includeDeleted, got %v, %v", got, err)
		}

		restored, err := repo.Restore(ctx, idWorkplace)
		if err != nil {
			t.Fatalf("restore failed: %v", err)
		}
		if restored.IsDeleted() {
			t.Error("expected restored descriptor to be live")
		}
		if total, _ := repo.CountDescriptors(ctx, Filter{}); total != 5 {
			t.Errorf("expected 5 live descriptors after restore, got %d", total)
		}
	})

	t.Run("create and update", func(t *testing.T) {
		repo := newRepo(t)
		seed(t, repo)

		created, err := repo.Create(ctx, &Descriptor{
			Code: " D1 ", CriterionName: "  Measures joint gaps ",
			SkillNames: []string{"Welding", "Welding", " "},
		})
		if err != nil {
			t.Fatalf("create failed: %v", err)
		}
		if created.ID == "" || created.Version != 1 || created.Code != "D1" {
			t.Errorf("unexpected created descriptor: %+v", created)
		}
		if created.QualityIndicator != QualityNeedsReview {
			t.Errorf("expected default quality indicator, got %q", created.QualityIndicator)
		}
		if !reflect.DeepEqual(created.SkillNames, []string{"Welding"}) {
			t.Errorf("expected normalized skills, got %v", created.SkillNames)
		}

		if _, err := repo.Create(ctx, &Descriptor{Code: "A1", CriterionName: "Other", SkillNames: []string{"Welding"}}); !errors.Is(err, ErrDuplicateCode) {
			t.Errorf("expected ErrDuplicateCode, got %v", err)
		}
		if _, err := repo.Create(ctx, &Descriptor{Code: "A1", CriterionName: "Other", SkillNames: []string{"Plumbing"}}); err != nil {
			t.Errorf("expected code reuse in another skill to succeed, got %v", err)
		}
		if _, err := repo.Create(ctx, &Descriptor{Code: "X", CriterionName: " ", SkillNames: []string{"Welding"}}); !errors.Is(err, ErrInvalidName) {
			t.Errorf("expected ErrInvalidName, got %v", err)
		}

		hits, err := repo.SearchDescriptors(ctx, Filter{Query: parsed("joint gaps")}, Page{Limit: 20}, testWeights)
		if err != nil {
			t.Fatalf("search failed: %v", err)
		}
		if !reflect.DeepEqual(hitIDs(hits), []string{created.ID}) {
			t.Errorf("expected new descriptor to be searchable, got %v", hitIDs(hits))
		}

		edit := created.Clone()
		edit.CriterionName = "Measures root gaps"
		updated, err := repo.Update(ctx, edit)
		if err != nil {
			t.Fatalf("update failed: %v", err)
		}
		if updated.Version != 2 {
			t.Errorf("expected version 2, got %d", updated.Version)
		}
		if updated.UpdatedAt.Before(created.UpdatedAt) {
			t.Error("expected updated_at to move forward")
		}
		if n, _ := repo.CountDescriptors(ctx, Filter{Query: parsed("joint")}); n != 0 {
			t.Errorf("expected old text to leave the index, got %d matches", n)
		}
		if n, _ := repo.CountDescriptors(ctx, Filter{Query: parsed("root")}); n != 1 {
			t.Errorf("expected new text to be indexed, got %d matches", n)
		}

		if _, err := repo.Update(ctx, edit); !errors.Is(err, ErrVersionConflict) {
			t.Errorf("expected ErrVersionConflict for stale version, got %v", err)
		}
		missing := edit.Clone()
		missing.ID = idMissing
		missing.Version = 0
		if _, err := repo.Update(ctx, missing); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		clash := updated.Clone()
		clash.Code = "A1"
		clash.Version = 0
		if _, err := repo.Update(ctx, clash); !errors.Is(err, ErrDuplicateCode) {
			t.Errorf("expected ErrDuplicateCode on update, got %v", err)
		}
	})

	t.Run("replace all rejects invalid batches", func(t *testing.T) {
		repo := newRepo(t)
		seed(t, repo)

		batch := fixtureCorpus()
		batch[3].Code = batch[0].Code
		_, err := repo.ReplaceAll(ctx, batch)
		var batchErr *BatchError
		if !errors.As(err, &batchErr) || !errors.Is(err, ErrDuplicateCode) {
			t.Fatalf("expected duplicate code batch error, got %v", err)
		}
		if batchErr.Index != 3 {
			t.Errorf("expected failure at record 3, got %d", batchErr.Index)
		}
		if total, _ := repo.CountDescriptors(ctx, Filter{}); total != 5 {
			t.Errorf("expected corpus untouched, got %d descriptors", total)
		}

		n, err := repo.ReplaceAll(ctx, fixtureCorpus()[:2])
		if err != nil || n != 2 {
			t.Fatalf("replace failed: %d, %v", n, err)
		}
		if total, _ := repo.CountDescriptors(ctx, Filter{IncludeDeleted: true}); total != 2 {
			t.Errorf("expected 2 descriptors after replace, got %d", total)
		}
	})

	t.Run("non-uuid ids are validation errors", func(t *testing.T) {
		repo := newRepo(t)
		seed(t, repo)

		legacy := &Descriptor{ID: "legacy-7", Code: "Z1", CriterionName: "Legacy record", SkillNames: []string{"Welding"}}
		_, err := repo.Create(ctx, legacy)
		if !errors.Is(err, ErrInvalidID) || !IsValidationError(err) {
			t.Fatalf("expected ErrInvalidID validation error, got %v", err)
		}

		batch := fixtureCorpus()
		batch[2].ID = "legacy-7"
		_, err = repo.ReplaceAll(ctx, batch)
		var batchErr *BatchError
		if !errors.As(err, &batchErr) || batchErr.Index != 2 || !errors.Is(err, ErrInvalidID) {
			t.Fatalf("expected ErrInvalidID at record 2, got %v", err)
		}
		if total, _ := repo.CountDescriptors(ctx, Filter{}); total != 5 {
			t.Errorf("expected corpus untouched, got %d descriptors", total)
		}
	})
}
