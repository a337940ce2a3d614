package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/lukeboustridge-prog/Worldskills-sub002/internal/descriptor"
	"github.com/lukeboustridge-prog/Worldskills-sub002/internal/ranking"
	"github.com/lukeboustridge-prog/Worldskills-sub002/internal/textindex"
	"github.com/lukeboustridge-prog/Worldskills-sub002/internal/tracing"
)

// Default paging limits and latency budget.
const (
	MaxPage         = 20
	DefaultPageSize = 20
	MaxPageSize     = 100
	LatencyBudget   = 100 * time.Millisecond
)

// Operation labels used for metrics and logs.
const (
	OpSearch = "search"
	OpFacets = "facets"
	OpBrowse = "browse"
)

// Store is the part of the descriptor repository the engine reads from.
type Store interface {
	SearchDescriptors(ctx context.Context, f descriptor.Filter, p descriptor.Page, weights [4]float64) ([]descriptor.ScoredDescriptor, error)
	CountDescriptors(ctx context.Context, f descriptor.Filter) (int, error)
	FacetCounts(ctx context.Context, f descriptor.Filter, dim descriptor.FacetDimension) ([]descriptor.FacetCount, error)
}

// Observer receives one sample per engine call.
type Observer interface {
	Observe(operation string, duration time.Duration, results int, slow bool, err error)
}

// Limits bounds paging and sets the per-call latency budget.
type Limits struct {
	MaxPage         int
	DefaultPageSize int
	MaxPageSize     int
	LatencyBudget   time.Duration
}

// DefaultLimits returns the standard paging limits.
func DefaultLimits() Limits {
	return Limits{
		MaxPage:         MaxPage,
		DefaultPageSize: DefaultPageSize,
		MaxPageSize:     MaxPageSize,
		LatencyBudget:   LatencyBudget,
	}
}

// Engine runs descriptor searches. It is stateless and safe for concurrent use.
type Engine struct {
	store    Store
	weights  ranking.FieldWeights
	limits   Limits
	observer Observer
	logger   *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithWeights sets the rank tier weights.
func WithWeights(w ranking.FieldWeights) Option {
	return func(e *Engine) { e.weights = w }
}

// WithLimits overrides the paging limits. Non-positive fields keep their defaults.
func WithLimits(l Limits) Option {
	return func(e *Engine) {
		if l.MaxPage > 0 {
			e.limits.MaxPage = l.MaxPage
		}
		if l.MaxPageSize > 0 {
			e.limits.MaxPageSize = l.MaxPageSize
		}
		if l.DefaultPageSize > 0 {
			e.limits.DefaultPageSize = l.DefaultPageSize
		}
		if l.LatencyBudget > 0 {
			e.limits.LatencyBudget = l.LatencyBudget
		}
	}
}

// WithObserver records per-call latency and result counts.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// WithLogger sets the logger used for slow-call warnings.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates a search engine over store.
func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:   store,
		weights: ranking.DefaultWeights().Fields,
		limits:  DefaultLimits(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Request is a search query with structured filters.
type Request struct {
	Query            string
	SkillArea        string
	Category         string
	QualityIndicator descriptor.QualityIndicator
	Page             int
	PageSize         int
}

// Result is a descriptor with its relevance rank. Rank is null when the
// request carried no query.
type Result struct {
	*descriptor.Descriptor
	Rank *float64 `json:"rank"`
}

// Response is one page of search results.
type Response struct {
	Results  []Result `json:"results"`
	Total    int      `json:"total"`
	Page     int      `json:"page"`
	PageSize int      `json:"pageSize"`
	HasMore  bool     `json:"hasMore"`
}

// Facets holds grouped counts for each facet dimension.
type Facets struct {
	SkillAreas []descriptor.FacetCount `json:"skillAreas"`
	Categories []descriptor.FacetCount `json:"categories"`
	Qualities  []descriptor.FacetCount `json:"qualityIndicators"`
}

// BrowseResponse combines a result page with facet counts for the same query.
type BrowseResponse struct {
	Search Response `json:"search"`
	Facets Facets   `json:"facets"`
}

// clampPage applies the paging limits.
func (e *Engine) clampPage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if page > e.limits.MaxPage {
		page = e.limits.MaxPage
	}
	if pageSize <= 0 {
		pageSize = e.limits.DefaultPageSize
	}
	if pageSize > e.limits.MaxPageSize {
		pageSize = e.limits.MaxPageSize
	}
	return page, pageSize
}

// queryFilter builds the text part of the predicate. Blank input means no query.
func queryFilter(raw string) descriptor.Filter {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return descriptor.Filter{}
	}
	q := textindex.Parse(raw)
	return descriptor.Filter{Query: &q}
}

// Search returns one ranked (or name-ordered) page plus the exact total.
// The page and the count run concurrently; either failing fails the call.
func (e *Engine) Search(ctx context.Context, req Request) (resp *Response, err error) {
	start := time.Now()
	defer func() { e.observe(ctx, OpSearch, start, resultCount(resp), err) }()

	page, pageSize := e.clampPage(req.Page, req.PageSize)
	ctx, endSpan := tracing.StartSpan(ctx, "search.descriptors")
	defer func() { endSpan(err) }()
	tracing.SetAttributes(ctx,
		attribute.Bool("search.ranked", strings.TrimSpace(req.Query) != ""),
		attribute.Int("search.page", page),
		attribute.Int("search.page_size", pageSize))
	filter := queryFilter(req.Query)
	filter.SkillArea = strings.TrimSpace(req.SkillArea)
	filter.Category = strings.TrimSpace(req.Category)
	filter.QualityIndicator = req.QualityIndicator

	var hits []descriptor.ScoredDescriptor
	var total int

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		hits, err = e.store.SearchDescriptors(gctx, filter,
			descriptor.Page{Limit: pageSize, Offset: (page - 1) * pageSize}, e.weights.Array())
		if err != nil {
			return fmt.Errorf("search descriptors: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		total, err = e.store.CountDescriptors(gctx, filter)
		if err != nil {
			return fmt.Errorf("count descriptors: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	results := make([]Result, len(hits))
	for i, h := range hits {
		results[i] = Result{Descriptor: h.Descriptor, Rank: h.Rank}
	}
	return &Response{
		Results:  results,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
		HasMore:  page*pageSize < total && page < e.limits.MaxPage,
	}, nil
}

// FacetCounts groups the descriptors matching query (no structured filters)
// by skill area, category and quality indicator. The three aggregates run
// concurrently.
func (e *Engine) FacetCounts(ctx context.Context, query string) (facets *Facets, err error) {
	start := time.Now()
	defer func() { e.observe(ctx, OpFacets, start, facetCount(facets), err) }()
	ctx, endSpan := tracing.StartSpan(ctx, "search.facets")
	defer func() { endSpan(err) }()

	filter := queryFilter(query)
	facets = &Facets{}

	g, gctx := errgroup.WithContext(ctx)
	dims := []struct {
		dim descriptor.FacetDimension
		dst *[]descriptor.FacetCount
	}{
		{descriptor.FacetSkillArea, &facets.SkillAreas},
		{descriptor.FacetCategory, &facets.Categories},
		{descriptor.FacetQuality, &facets.Qualities},
	}
	for _, d := range dims {
		g.Go(func() error {
			counts, err := e.store.FacetCounts(gctx, filter, d.dim)
			if err != nil {
				return fmt.Errorf("count %s facets: %w", d.dim, err)
			}
			if counts == nil {
				counts = []descriptor.FacetCount{}
			}
			tracing.AddEvent(ctx, "facet_computed",
				attribute.String("facet.dimension", string(d.dim)),
				attribute.Int("facet.buckets", len(counts)))
			*d.dst = counts
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return facets, nil
}

// Browse runs Search and FacetCounts for the same query in parallel.
func (e *Engine) Browse(ctx context.Context, req Request) (resp *BrowseResponse, err error) {
	start := time.Now()
	defer func() {
		n := 0
		if resp != nil {
			n = len(resp.Search.Results)
		}
		e.observe(ctx, OpBrowse, start, n, err)
	}()
	ctx, endSpan := tracing.StartSpan(ctx, "search.browse")
	defer func() { endSpan(err) }()

	var searchResp *Response
	var facets *Facets

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		searchResp, err = e.Search(gctx, req)
		return err
	})
	g.Go(func() error {
		var err error
		facets, err = e.FacetCounts(gctx, req.Query)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &BrowseResponse{Search: *searchResp, Facets: *facets}, nil
}

func (e *Engine) observe(ctx context.Context, op string, start time.Time, results int, err error) {
	elapsed := time.Since(start)
	slow := elapsed > e.limits.LatencyBudget
	if slow {
		e.logger.WarnContext(ctx, "descriptor search over latency budget",
			slog.String("operation", op),
			slog.Duration("duration", elapsed),
			slog.Duration("budget", e.limits.LatencyBudget),
			slog.Int("results", results))
	}
	if err != nil {
		e.logger.ErrorContext(ctx, "descriptor search failed",
			slog.String("operation", op),
			slog.String("error", err.Error()))
	}
	if e.observer != nil {
		e.observer.Observe(op, elapsed, results, slow, err)
	}
}

func resultCount(resp *Response) int {
	if resp == nil {
		return 0
	}
	return len(resp.Results)
}

func facetCount(f *Facets) int {
	if f == nil {
		return 0
	}
	return len(f.SkillAreas) + len(f.Categories) + len(f.Qualities)
}
