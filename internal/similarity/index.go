package similarity

import "sort"

// Match is an indexed entry scored against a probe text.
type Match struct {
	ID         string
	Similarity float64
}

// Index maps trigrams to the ids of entries containing them.
// It is not safe for concurrent use.
type Index struct {
	postings map[string]map[string]struct{}
	entries  map[string]map[string]struct{}
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{
		postings: make(map[string]map[string]struct{}),
		entries:  make(map[string]map[string]struct{}),
	}
}

// Put indexes text under id, replacing any previous entry.
func (ix *Index) Put(id, text string) {
	ix.Remove(id)
	grams := Trigrams(text)
	ix.entries[id] = grams
	for g := range grams {
		set, ok := ix.postings[g]
		if !ok {
			set = make(map[string]struct{})
			ix.postings[g] = set
		}
		set[id] = struct{}{}
	}
}

// Remove drops the entry for id. Unknown ids are ignored.
func (ix *Index) Remove(id string) {
	grams, ok := ix.entries[id]
	if !ok {
		return
	}
	for g := range grams {
		if set, ok := ix.postings[g]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(ix.postings, g)
			}
		}
	}
	delete(ix.entries, id)
}

// Len returns the number of indexed entries.
func (ix *Index) Len() int {
	return len(ix.entries)
}

// Search returns entries whose similarity to text is at least threshold, ordered
// by similarity descending then id ascending. Only entries sharing a trigram with
// text are considered, so a zero threshold still requires some overlap. keep, when
// non-nil, filters candidates before scoring.
func (ix *Index) Search(text string, threshold float64, keep func(id string) bool) []Match {
	probe := Trigrams(text)
	if len(probe) == 0 {
		return nil
	}
	common := make(map[string]int)
	for g := range probe {
		for id := range ix.postings[g] {
			common[id]++
		}
	}
	var out []Match
	for id, c := range common {
		if keep != nil && !keep(id) {
			continue
		}
		sim := ratio(c, len(probe), len(ix.entries[id]))
		if sim >= threshold {
			out = append(out, Match{ID: id, Similarity: sim})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		return out[i].ID < out[j].ID
	})
	return out
}
