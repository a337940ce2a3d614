package textindex

import (
	"strings"
	"unicode"
)

// PhraseLexeme is one lexeme of a term with its offset from the first lexeme.
type PhraseLexeme struct {
	Lexeme string
	Offset int
}

// Term is a single word or quoted phrase from the query.
type Term struct {
	Raw     string
	Phrase  bool
	Negated bool
	Lexemes []PhraseLexeme
}

// Clause is a set of alternatives joined by "or". A clause matches when any alternative does.
type Clause struct {
	Alternatives []Term
}

// Query is a conjunction of clauses.
type Query struct {
	Clauses []Clause
}

type queryItem struct {
	or   bool
	term Term
}

// Parse turns web-search style input into a Query. Terms that reduce to nothing
// after stop word removal are dropped.
func Parse(input string) Query {
	var items []queryItem
	runes := []rune(input)
	negate := false
	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			negate = false
			i++
		case r == '"':
			j := i + 1
			for j < len(runes) && runes[j] != '"' {
				j++
			}
			items = append(items, queryItem{term: newTerm(string(runes[i+1:j]), true, negate)})
			negate = false
			i = j + 1
		case r == '-' && !negate && i+1 < len(runes) && !unicode.IsSpace(runes[i+1]):
			negate = true
			i++
		default:
			j := i
			for j < len(runes) && !unicode.IsSpace(runes[j]) && runes[j] != '"' {
				j++
			}
			word := string(runes[i:j])
			if !negate && strings.EqualFold(word, "or") {
				items = append(items, queryItem{or: true})
			} else {
				items = append(items, queryItem{term: newTerm(word, false, negate)})
			}
			negate = false
			i = j
		}
	}

	var q Query
	pendingOr := false
	for _, it := range items {
		if it.or {
			pendingOr = len(q.Clauses) > 0
			continue
		}
		if len(it.term.Lexemes) == 0 {
			continue
		}
		if pendingOr {
			last := &q.Clauses[len(q.Clauses)-1]
			last.Alternatives = append(last.Alternatives, it.term)
			pendingOr = false
			continue
		}
		q.Clauses = append(q.Clauses, Clause{Alternatives: []Term{it.term}})
	}
	return q
}

func newTerm(raw string, phrase, negated bool) Term {
	t := Term{Raw: raw, Phrase: phrase, Negated: negated}
	first := -1
	for _, tok := range tokenize(raw) {
		lexeme, ok := Normalize(tok.word)
		if !ok {
			continue
		}
		if first < 0 {
			first = tok.pos
		}
		t.Lexemes = append(t.Lexemes, PhraseLexeme{Lexeme: lexeme, Offset: tok.pos - first})
	}
	return t
}

// IsEmpty reports whether the query has no usable terms.
func (q Query) IsEmpty() bool {
	return len(q.Clauses) == 0
}

// HasPositive reports whether at least one clause can match on its own.
func (q Query) HasPositive() bool {
	for _, c := range q.Clauses {
		if c.positive() {
			return true
		}
	}
	return false
}

func (c Clause) positive() bool {
	for _, t := range c.Alternatives {
		if !t.Negated {
			return true
		}
	}
	return false
}

// String renders the query in websearch_to_tsquery syntax.
func (q Query) String() string {
	clauses := make([]string, 0, len(q.Clauses))
	for _, c := range q.Clauses {
		alts := make([]string, 0, len(c.Alternatives))
		for _, t := range c.Alternatives {
			alts = append(alts, t.String())
		}
		clauses = append(clauses, strings.Join(alts, " or "))
	}
	return strings.Join(clauses, " ")
}

func (t Term) String() string {
	var b strings.Builder
	if t.Negated {
		b.WriteByte('-')
	}
	if t.Phrase {
		b.WriteByte('"')
		b.WriteString(t.Raw)
		b.WriteByte('"')
	} else {
		b.WriteString(t.Raw)
	}
	return b.String()
}

// Matches reports whether the document satisfies every clause.
func Matches(doc Document, q Query) bool {
	if q.IsEmpty() {
		return false
	}
	for _, c := range q.Clauses {
		if !c.matches(doc) {
			return false
		}
	}
	return true
}

func (c Clause) matches(doc Document) bool {
	for _, t := range c.Alternatives {
		if t.matches(doc) {
			return true
		}
	}
	return false
}

func (t Term) matches(doc Document) bool {
	found := len(t.positions(doc)) > 0
	if t.Negated {
		return !found
	}
	return found
}

// positions returns the start positions where the term occurs in the document.
func (t Term) positions(doc Document) []Occurrence {
	if len(t.Lexemes) == 0 {
		return nil
	}
	starts := doc.Occurrences(t.Lexemes[0].Lexeme)
	if len(t.Lexemes) == 1 {
		return starts
	}
	var out []Occurrence
	for _, s := range starts {
		ok := true
		for _, pl := range t.Lexemes[1:] {
			if !hasPos(doc.Occurrences(pl.Lexeme), s.Pos+pl.Offset) {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, s)
		}
	}
	return out
}

func hasPos(occ []Occurrence, pos int) bool {
	for _, o := range occ {
		if o.Pos == pos {
			return true
		}
		if o.Pos > pos {
			return false
		}
	}
	return false
}
