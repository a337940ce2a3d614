// Package textindex builds weighted multi-field search documents and evaluates
// web-search style queries against them.
//
// The persistent store keeps the same representation in Postgres as a generated
// tsvector column (criterion name at weight A, performance level descriptions at
// weight B) and evaluates queries with websearch_to_tsquery. This package is the
// Go-side contract for that behavior:
//
//   - Parse turns raw user input into a Query. Bare words are AND-ed, quoted
//     phrases match as phrases, a leading minus excludes a term and "or" joins
//     alternatives. Query.String renders the canonical form handed to Postgres.
//   - NewDocument tokenizes, drops English stop words and stems the remaining
//     words, recording positions and weights.
//   - Index is an inverted index with positions used by the in-memory store.
//     Matching walks posting lists; ranking is a cover-density score normalized
//     to [0, 1).
//
// Index is not safe for concurrent use; callers own the locking.
package textindex
