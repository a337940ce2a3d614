package descriptor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestInMemoryRepository_Contract(t *testing.T) {
	runRepositoryContract(t, func(t *testing.T) Repository {
		return NewInMemoryRepository(nil)
	})
}

// TestInMemoryRepository_ReturnsCopies verifies callers cannot mutate stored records.
func TestInMemoryRepository_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryRepository(nil)
	seed(t, repo)

	got, err := repo.GetByID(ctx, idWorkplace, false)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	got.CriterionName = "Mutated"
	got.SkillNames[0] = "Mutated"

	again, _ := repo.GetByID(ctx, idWorkplace, false)
	if again.CriterionName != "Workplace safety procedures" || again.SkillNames[0] != "Welding" {
		t.Errorf("stored record was modified through a returned copy: %+v", again)
	}
}

func TestInMemoryRepository_Timestamps(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryRepository(nil)
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	repo.SetClock(func() time.Time { return now })

	created, err := repo.Create(ctx, &Descriptor{Code: "T1", CriterionName: "Timing", SkillNames: []string{"Welding"}})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if !created.CreatedAt.Equal(now) || !created.UpdatedAt.Equal(now) {
		t.Errorf("expected timestamps %v, got %v / %v", now, created.CreatedAt, created.UpdatedAt)
	}

	now = now.Add(time.Hour)
	updated, err := repo.Update(ctx, created)
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if !updated.CreatedAt.Equal(created.CreatedAt) {
		t.Error("expected created_at to be preserved")
	}
	if !updated.UpdatedAt.Equal(now) {
		t.Errorf("expected updated_at %v, got %v", now, updated.UpdatedAt)
	}

	now = now.Add(time.Hour)
	if err := repo.SoftDelete(ctx, created.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	deleted, _ := repo.GetByID(ctx, created.ID, true)
	if deleted.DeletedAt == nil || !deleted.DeletedAt.Equal(now) {
		t.Errorf("expected deleted_at %v, got %v", now, deleted.DeletedAt)
	}
}

func TestInMemoryRepository_RestoreCodeClash(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryRepository(nil)

	first, err := repo.Create(ctx, &Descriptor{Code: "R1", CriterionName: "First", SkillNames: []string{"Welding"}})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := repo.SoftDelete(ctx, first.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := repo.Create(ctx, &Descriptor{Code: "R1", CriterionName: "Second", SkillNames: []string{"Welding"}}); err != nil {
		t.Fatalf("expected code to be free after delete, got %v", err)
	}
	if _, err := repo.Restore(ctx, first.ID); !errors.Is(err, ErrDuplicateCode) {
		t.Errorf("expected ErrDuplicateCode restoring into a taken code, got %v", err)
	}
	if _, err := repo.Restore(ctx, idMissing); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestInMemoryRepository_CreateExistingID(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryRepository(nil)
	seed(t, repo)

	_, err := repo.Create(ctx, &Descriptor{ID: idWorkplace, Code: "Z9", CriterionName: "Dup", SkillNames: []string{"Welding"}})
	if !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestInMemoryRepository_CanceledContext(t *testing.T) {
	repo := NewInMemoryRepository(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := repo.SearchDescriptors(ctx, Filter{}, Page{Limit: 10}, testWeights); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if _, err := repo.FindSimilar(ctx, SimilarityQuery{Text: "abc"}); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestInMemoryRepository_UnknownFacet(t *testing.T) {
	repo := NewInMemoryRepository(nil)
	seed(t, repo)
	if _, err := repo.FacetCounts(context.Background(), Filter{}, "colour"); !errors.Is(err, ErrUnknownFacet) {
		t.Errorf("expected ErrUnknownFacet, got %v", err)
	}
}

// TestInMemoryRepository_ConcurrentAccess runs readers alongside writers; run with -race.
func TestInMemoryRepository_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryRepository(nil)
	seed(t, repo)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, _ = repo.SearchDescriptors(ctx, Filter{Query: parsed("safety")}, Page{Limit: 5}, testWeights)
				_, _ = repo.FindSimilar(ctx, SimilarityQuery{Text: "safety procedures", Threshold: 0.3})
			}
		}()
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				d, err := repo.Create(ctx, &Descriptor{
					Code:          "W" + string(rune('a'+n)) + string(rune('a'+j%26)) + string(rune('a'+j/26)),
					CriterionName: "Concurrent safety check",
					SkillNames:    []string{"Welding"},
				})
				if err == nil {
					_ = repo.SoftDelete(ctx, d.ID)
				}
			}
		}(i)
	}
	wg.Wait()

	if total, _ := repo.CountDescriptors(ctx, Filter{}); total != 5 {
		t.Errorf("expected 5 live descriptors after concurrent churn, got %d", total)
	}
}
