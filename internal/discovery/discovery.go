// Package discovery finds descriptors whose criterion names resemble a probe:
// duplicate warnings while authoring and related-item panels across skills.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"

	"github.com/lukeboustridge-prog/Worldskills-sub002/internal/descriptor"
	"github.com/lukeboustridge-prog/Worldskills-sub002/internal/tracing"
)

// Defaults for similarity lookups.
const (
	DefaultDuplicateThreshold = 0.4
	DefaultRelatedThreshold   = 0.3
	DefaultLimit              = 5
	MaxLimit                  = 50
	MinTextLength             = 3
)

// Operation labels used for metrics and logs.
const (
	OpSimilar = "similar"
	OpRelated = "related"
)

// ErrNoSource is returned when a related lookup names neither a source id nor text.
var ErrNoSource = errors.New("source id or text is required")

// Store is the similarity primitive of the descriptor repository.
type Store interface {
	FindSimilar(ctx context.Context, q descriptor.SimilarityQuery) ([]descriptor.SimilarityMatch, error)
	FindSimilarTo(ctx context.Context, sourceID string, threshold float64, limit int) ([]descriptor.SimilarityMatch, error)
}

// Observer receives one sample per lookup.
type Observer interface {
	Observe(operation string, duration time.Duration, matches int, err error)
}

// Config holds the thresholds and limits applied when a request leaves them unset.
type Config struct {
	DuplicateThreshold float64
	RelatedThreshold   float64
	DefaultLimit       int
	MaxLimit           int
}

// DefaultConfig returns the standard thresholds and limits.
func DefaultConfig() Config {
	return Config{
		DuplicateThreshold: DefaultDuplicateThreshold,
		RelatedThreshold:   DefaultRelatedThreshold,
		DefaultLimit:       DefaultLimit,
		MaxLimit:           MaxLimit,
	}
}

// Engine answers duplicate and related lookups. It is safe for concurrent use.
type Engine struct {
	store    Store
	cfg      Config
	observer Observer
	logger   *slog.Logger
}

// NewEngine creates a discovery engine. Zero fields in cfg fall back to defaults.
func NewEngine(store Store, cfg Config, observer Observer, logger *slog.Logger) *Engine {
	def := DefaultConfig()
	if cfg.DuplicateThreshold <= 0 || cfg.DuplicateThreshold > 1 {
		cfg.DuplicateThreshold = def.DuplicateThreshold
	}
	if cfg.RelatedThreshold <= 0 || cfg.RelatedThreshold > 1 {
		cfg.RelatedThreshold = def.RelatedThreshold
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = def.MaxLimit
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = def.DefaultLimit
	}
	if cfg.DefaultLimit > cfg.MaxLimit {
		cfg.DefaultLimit = cfg.MaxLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, cfg: cfg, observer: observer, logger: logger}
}

// SimilarRequest asks for possible duplicates of Text. Zero Threshold and
// Limit take the configured defaults.
type SimilarRequest struct {
	Text      string
	Threshold float64
	ExcludeID string
	Limit     int
}

// SimilarMatch is a possible duplicate.
type SimilarMatch struct {
	ID            string  `json:"id"`
	Code          string  `json:"code"`
	Name          string  `json:"criterionName"`
	GroupingLabel string  `json:"skillName"`
	Similarity    float64 `json:"similarity"`
}

// RelatedRequest asks for descriptors related to an existing descriptor
// (SourceID) or to raw Text. SourceID wins when both are set.
type RelatedRequest struct {
	SourceID  string
	Text      string
	Threshold float64
	Limit     int
}

// RelatedMatch is a related descriptor from any skill.
type RelatedMatch struct {
	ID               string                      `json:"id"`
	Code             string                      `json:"code"`
	Name             string                      `json:"criterionName"`
	SkillNames       []string                    `json:"skillNames"`
	Category         *string                     `json:"category"`
	Sector           *string                     `json:"sector"`
	QualityIndicator descriptor.QualityIndicator `json:"qualityIndicator"`
	Similarity       float64                     `json:"similarity"`
}

func (e *Engine) threshold(requested, fallback float64) float64 {
	if requested <= 0 {
		return fallback
	}
	if requested > 1 {
		return 1
	}
	return requested
}

func (e *Engine) limit(requested int) int {
	if requested <= 0 {
		return e.cfg.DefaultLimit
	}
	if requested > e.cfg.MaxLimit {
		return e.cfg.MaxLimit
	}
	return requested
}

// tooShort reports whether trimmed text is below the minimum probe length.
func tooShort(text string) bool {
	return utf8.RuneCountInString(text) < MinTextLength
}

// FindSimilar returns live descriptors whose names resemble req.Text, most
// similar first. Text shorter than three characters yields no matches.
func (e *Engine) FindSimilar(ctx context.Context, req SimilarRequest) (out []SimilarMatch, err error) {
	start := time.Now()
	defer func() { e.observe(ctx, OpSimilar, start, len(out), err) }()
	ctx, endSpan := tracing.StartSpan(ctx, "discovery.similar")
	defer func() { endSpan(err) }()

	text := strings.TrimSpace(req.Text)
	if tooShort(text) {
		return []SimilarMatch{}, nil
	}

	matches, err := e.store.FindSimilar(ctx, descriptor.SimilarityQuery{
		Text:      text,
		Threshold: e.threshold(req.Threshold, e.cfg.DuplicateThreshold),
		ExcludeID: strings.TrimSpace(req.ExcludeID),
		Limit:     e.limit(req.Limit),
	})
	if err != nil {
		return nil, fmt.Errorf("find similar descriptors: %w", err)
	}

	out = make([]SimilarMatch, len(matches))
	for i, m := range matches {
		out[i] = SimilarMatch{
			ID:            m.Descriptor.ID,
			Code:          m.Descriptor.Code,
			Name:          m.Descriptor.CriterionName,
			GroupingLabel: m.Descriptor.GroupingLabel(),
			Similarity:    m.Similarity,
		}
	}
	return out, nil
}

// FindRelated returns descriptors from any skill whose names resemble the
// source descriptor or the given text. A missing or deleted source returns
// descriptor.ErrNotFound.
func (e *Engine) FindRelated(ctx context.Context, req RelatedRequest) (out []RelatedMatch, err error) {
	start := time.Now()
	defer func() { e.observe(ctx, OpRelated, start, len(out), err) }()
	ctx, endSpan := tracing.StartSpan(ctx, "discovery.related")
	defer func() { endSpan(err) }()

	threshold := e.threshold(req.Threshold, e.cfg.RelatedThreshold)
	limit := e.limit(req.Limit)
	tracing.SetAttributes(ctx,
		attribute.Float64("discovery.threshold", threshold),
		attribute.Int("discovery.limit", limit))

	var matches []descriptor.SimilarityMatch
	switch sourceID, text := strings.TrimSpace(req.SourceID), strings.TrimSpace(req.Text); {
	case sourceID != "":
		matches, err = e.store.FindSimilarTo(ctx, sourceID, threshold, limit)
	case text != "":
		if tooShort(text) {
			return []RelatedMatch{}, nil
		}
		matches, err = e.store.FindSimilar(ctx, descriptor.SimilarityQuery{
			Text:      text,
			Threshold: threshold,
			Limit:     limit,
		})
	default:
		return nil, ErrNoSource
	}
	if err != nil {
		return nil, fmt.Errorf("find related descriptors: %w", err)
	}

	out = make([]RelatedMatch, len(matches))
	for i, m := range matches {
		d := m.Descriptor
		out[i] = RelatedMatch{
			ID:               d.ID,
			Code:             d.Code,
			Name:             d.CriterionName,
			SkillNames:       d.SkillNames,
			Category:         d.Category,
			Sector:           d.Sector,
			QualityIndicator: d.QualityIndicator,
			Similarity:       m.Similarity,
		}
	}
	return out, nil
}

func (e *Engine) observe(ctx context.Context, op string, start time.Time, matches int, err error) {
	elapsed := time.Since(start)
	if err != nil && !errors.Is(err, descriptor.ErrNotFound) && !errors.Is(err, ErrNoSource) {
		e.logger.ErrorContext(ctx, "descriptor similarity lookup failed",
			slog.String("operation", op),
			slog.Duration("duration", elapsed),
			slog.String("error", err.Error()))
	}
	if e.observer != nil {
		e.observer.Observe(op, elapsed, matches, err)
	}
}
