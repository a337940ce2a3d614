package textindex

import (
	"sort"
	"strings"
	"unicode"

	"github.com/kljensen/snowball"
)

// Weight is a relevance tier label, ordered like the Postgres weight array {D, C, B, A}.
type Weight int

const (
	WeightD Weight = iota
	WeightC
	WeightB
	WeightA
)

// Label returns the single-letter label used by setweight.
func (w Weight) Label() string {
	switch w {
	case WeightA:
		return "A"
	case WeightB:
		return "B"
	case WeightC:
		return "C"
	default:
		return "D"
	}
}

// Field is one source text contributing to a document at a given weight.
type Field struct {
	Text   string
	Weight Weight
}

// Occurrence is a single lexeme position inside a document.
type Occurrence struct {
	Pos    int
	Weight Weight
}

// Document is the weighted, position-aware representation of a record.
type Document struct {
	lexemes map[string][]Occurrence
	length  int
}

// token is a word with its 1-based position in the source text.
type token struct {
	word string
	pos  int
}

// stopWords is the English stop word list used by the Postgres english configuration.
var stopWords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`i me my myself we our ours ourselves you your yours yourself
		yourselves he him his himself she her hers herself it its itself they them their theirs
		themselves what which who whom this that these those am is are was were be been being have
		has had having do does did doing a an the and but if or because as until while of at by for
		with about against between into through during before after above below to from up down in
		out on off over under again further then once here there when where why how all any both
		each few more most other some such no nor not only own same so than too very s t can will
		just don should now`) {
		stopWords[w] = struct{}{}
	}
}

// IsStopWord reports whether the lower-cased word is ignored by the index.
func IsStopWord(word string) bool {
	_, ok := stopWords[word]
	return ok
}

// tokenize splits text into lower-cased alphanumeric words. Positions count every
// word, including stop words, so phrase distances survive stop word removal.
func tokenize(text string) []token {
	var tokens []token
	pos := 0
	for _, w := range strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		pos++
		tokens = append(tokens, token{word: strings.ToLower(w), pos: pos})
	}
	return tokens
}

// Normalize maps a lower-cased word to its lexeme. Stop words return false.
func Normalize(word string) (string, bool) {
	if word == "" || IsStopWord(word) {
		return "", false
	}
	stemmed, err := snowball.Stem(word, "english", true)
	if err != nil || stemmed == "" {
		return word, true
	}
	return stemmed, true
}

// NewDocument builds a document from fields in order. Positions continue across
// fields the way concatenated tsvectors do. Empty fields contribute nothing.
func NewDocument(fields ...Field) Document {
	doc := Document{lexemes: make(map[string][]Occurrence)}
	offset := 0
	for _, f := range fields {
		tokens := tokenize(f.Text)
		for _, t := range tokens {
			lexeme, ok := Normalize(t.word)
			if !ok {
				continue
			}
			doc.lexemes[lexeme] = append(doc.lexemes[lexeme], Occurrence{Pos: offset + t.pos, Weight: f.Weight})
		}
		offset += len(tokens)
	}
	doc.length = offset
	return doc
}

// Occurrences returns the positions of a lexeme, in ascending order.
func (d Document) Occurrences(lexeme string) []Occurrence {
	return d.lexemes[lexeme]
}

// Has reports whether the document contains the lexeme.
func (d Document) Has(lexeme string) bool {
	return len(d.lexemes[lexeme]) > 0
}

// Lexemes returns the distinct lexemes of the document, sorted.
func (d Document) Lexemes() []string {
	out := make([]string, 0, len(d.lexemes))
	for l := range d.lexemes {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of word positions in the document.
func (d Document) Len() int {
	return d.length
}
