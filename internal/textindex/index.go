package textindex

import (
	"sort"

	"github.com/lukeboustridge-prog/Worldskills-sub002/internal/ranking"
)

// Index is an inverted index from lexeme to document ids, keeping the full
// document for phrase checks and ranking.
type Index struct {
	postings map[string]map[string]struct{}
	docs     map[string]Document
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{
		postings: make(map[string]map[string]struct{}),
		docs:     make(map[string]Document),
	}
}

// Put indexes a document, replacing any previous document with the same id.
func (ix *Index) Put(id string, doc Document) {
	ix.Remove(id)
	ix.docs[id] = doc
	for lexeme := range doc.lexemes {
		set, ok := ix.postings[lexeme]
		if !ok {
			set = make(map[string]struct{})
			ix.postings[lexeme] = set
		}
		set[id] = struct{}{}
	}
}

// Remove drops a document from the index. Unknown ids are ignored.
func (ix *Index) Remove(id string) {
	doc, ok := ix.docs[id]
	if !ok {
		return
	}
	for lexeme := range doc.lexemes {
		if set, ok := ix.postings[lexeme]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(ix.postings, lexeme)
			}
		}
	}
	delete(ix.docs, id)
}

// Len returns the number of indexed documents.
func (ix *Index) Len() int {
	return len(ix.docs)
}

// Document returns the indexed document for id.
func (ix *Index) Document(id string) (Document, bool) {
	doc, ok := ix.docs[id]
	return doc, ok
}

// Match returns the ids of documents matching the query, sorted.
func (ix *Index) Match(q Query) []string {
	if q.IsEmpty() {
		return nil
	}
	var out []string
	for id := range ix.candidates(q) {
		if Matches(ix.docs[id], q) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// candidates narrows the scan to documents holding a lexeme from the most
// selective positive clause. Queries made only of exclusions scan everything.
func (ix *Index) candidates(q Query) map[string]struct{} {
	var best map[string]struct{}
	found := false
	for _, c := range q.Clauses {
		if !c.positive() || hasNegated(c) {
			continue
		}
		set := make(map[string]struct{})
		for _, t := range c.Alternatives {
			for id := range ix.postings[t.Lexemes[0].Lexeme] {
				set[id] = struct{}{}
			}
		}
		if !found || len(set) < len(best) {
			best = set
			found = true
		}
	}
	if found {
		return best
	}
	all := make(map[string]struct{}, len(ix.docs))
	for id := range ix.docs {
		all[id] = struct{}{}
	}
	return all
}

func hasNegated(c Clause) bool {
	for _, t := range c.Alternatives {
		if t.Negated {
			return true
		}
	}
	return false
}

// Rank scores an indexed document against the query. Unknown or non-matching
// documents score 0.
func (ix *Index) Rank(id string, q Query, weights [4]float64) float64 {
	doc, ok := ix.docs[id]
	if !ok || !Matches(doc, q) {
		return 0
	}
	return Score(doc, q, weights)
}

type coverEvent struct {
	pos    int
	weight Weight
	clause int
}

// Score computes a cover-density rank in [0, 1). Each minimal window covering
// one occurrence of every positive clause adds the harmonic weight of its
// members divided by the number of extra positions in the window. The sum s is
// normalized as s/(s+1).
func Score(doc Document, q Query, weights [4]float64) float64 {
	var events []coverEvent
	k := 0
	for _, c := range q.Clauses {
		if !c.positive() {
			continue
		}
		before := len(events)
		for _, t := range c.Alternatives {
			if t.Negated {
				continue
			}
			for _, o := range t.positions(doc) {
				events = append(events, coverEvent{pos: o.Pos, weight: o.Weight, clause: k})
			}
		}
		if len(events) == before {
			// A positive clause satisfied only through an exclusion contributes no position.
			continue
		}
		k++
	}
	if k == 0 {
		return 0
	}
	sort.Slice(events, func(i, j int) bool {
		if events[i].pos != events[j].pos {
			return events[i].pos < events[j].pos
		}
		return events[i].clause < events[j].clause
	})
	counts := make([]int, k)
	covered := 0
	raw := 0.0
	l := 0
	for r := range events {
		if counts[events[r].clause] == 0 {
			covered++
		}
		counts[events[r].clause]++
		for covered == k {
			for counts[events[l].clause] > 1 {
				counts[events[l].clause]--
				l++
			}
			raw += coverScore(events[l:r+1], k, weights)
			counts[events[l].clause]--
			covered--
			l++
		}
	}
	return ranking.NormalizeRank(raw)
}

func coverScore(window []coverEvent, k int, weights [4]float64) float64 {
	seen := make(map[int]bool, k)
	invSum := 0.0
	for _, e := range window {
		if seen[e.clause] {
			continue
		}
		seen[e.clause] = true
		w := weights[e.weight]
		if w <= 0 {
			w = 0.1
		}
		invSum += 1 / w
	}
	span := window[len(window)-1].pos - window[0].pos
	noise := span - (k - 1)
	if noise < 0 {
		noise = 0
	}
	return (float64(k) / invSum) / float64(1+noise)
}
