// Package search ranks and pages descriptor queries and aggregates facet
// counts over the same match predicate.
//
// The engine holds no index of its own. Every call is delegated to a Store
// (Postgres or the in-memory repository) with the request context, and the
// page query and the total count run concurrently.
package search
