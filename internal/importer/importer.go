package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lukeboustridge-prog/Worldskills-sub002/internal/descriptor"
)

// Writer is the part of the descriptor repository an import needs.
type Writer interface {
	Create(ctx context.Context, d *descriptor.Descriptor) (*descriptor.Descriptor, error)
	ReplaceAll(ctx context.Context, ds []*descriptor.Descriptor) (int, error)
}

// Options controls an import run.
type Options struct {
	// Replace swaps the whole corpus in one transaction. Any invalid record
	// aborts the run and leaves the stored corpus untouched.
	Replace bool
	// DryRun validates the file without writing.
	DryRun bool
}

// RecordError describes a record that was skipped.
type RecordError struct {
	Index int    `json:"index"`
	Code  string `json:"code"`
	Err   string `json:"error"`
}

// Report summarizes an import run.
type Report struct {
	Source  string        `json:"source"`
	Read    int           `json:"read"`
	Created int           `json:"created"`
	Skipped int           `json:"skipped"`
	Errors  []RecordError `json:"errors,omitempty"`
}

// Importer writes decoded records to a repository.
type Importer struct {
	repo   Writer
	logger *slog.Logger
}

// New creates an Importer.
func New(repo Writer, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{repo: repo, logger: logger}
}

// Run reads src and writes its records. In append mode records that fail
// validation, or collide with an earlier record or a stored code, are skipped
// and reported; any other store error stops the run. A dry run applies the same
// file checks as the write it stands in for.
func (im *Importer) Run(ctx context.Context, src Source, opts Options) (*Report, error) {
	body, err := src.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	records, err := Decode(body)
	if err != nil {
		return nil, err
	}

	report := &Report{Source: src.Name(), Read: len(records)}
	descriptors := make([]*descriptor.Descriptor, 0, len(records))
	indexes := make([]int, 0, len(records))
	accepted := make([]*descriptor.Descriptor, 0, len(records))
	for i, rec := range records {
		d := rec.Descriptor()
		check := d.Clone()
		check.Normalize()
		if err := check.Validate(); err != nil {
			if opts.Replace {
				return nil, &descriptor.BatchError{Index: i, Code: check.Code, Err: err}
			}
			report.skip(i, check.Code, err)
			continue
		}
		if !opts.Replace {
			if err := descriptor.Conflicts(accepted, check); err != nil {
				report.skip(i, check.Code, err)
				continue
			}
			accepted = append(accepted, check)
		}
		descriptors = append(descriptors, d)
		indexes = append(indexes, i)
	}

	if opts.Replace {
		// Every record passed Validate, so batch indexes match file indexes.
		if err := descriptor.ValidateBatch(descriptors); err != nil {
			return nil, err
		}
	}

	if opts.DryRun {
		im.logger.InfoContext(ctx, "import validated",
			slog.String("source", report.Source),
			slog.Int("valid", len(descriptors)),
			slog.Int("skipped", report.Skipped))
		return report, nil
	}

	if opts.Replace {
		n, err := im.repo.ReplaceAll(ctx, descriptors)
		if err != nil {
			return nil, fmt.Errorf("replace descriptors: %w", err)
		}
		report.Created = n
		im.logger.InfoContext(ctx, "descriptor corpus imported",
			slog.String("source", report.Source),
			slog.String("mode", "replace"),
			slog.Int("created", n))
		return report, nil
	}

	for i, d := range descriptors {
		if _, err := im.repo.Create(ctx, d); err != nil {
			if isSkippable(err) {
				report.skip(indexes[i], d.Code, err)
				continue
			}
			return report, fmt.Errorf("create descriptor %q: %w", d.Code, err)
		}
		report.Created++
	}

	im.logger.InfoContext(ctx, "descriptors imported",
		slog.String("source", report.Source),
		slog.String("mode", "append"),
		slog.Int("created", report.Created),
		slog.Int("skipped", report.Skipped))
	return report, nil
}

func (r *Report) skip(index int, code string, err error) {
	r.Skipped++
	r.Errors = append(r.Errors, RecordError{Index: index, Code: code, Err: err.Error()})
}

func isSkippable(err error) bool {
	return descriptor.IsValidationError(err) ||
		errors.Is(err, descriptor.ErrDuplicateCode) ||
		errors.Is(err, descriptor.ErrAlreadyExists)
}
