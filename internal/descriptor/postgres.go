package descriptor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/lukeboustridge-prog/Worldskills-sub002/internal/tracing"
)

const table = "descriptors"

// uniqueViolation is the Postgres SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// descriptorColumns is the projection shared by every read. It is qualified
// with the alias d so it can be used in self-joins.
const descriptorColumns = `d.id, d.code, d.criterion_name, d.excellent, d.good, d.pass, d.below_pass,
		d.skill_names, d.sector, d.category, d.quality_indicator, d.tags, d.version,
		d.author_id, d.created_at, d.updated_at, d.deleted_at`

// PostgresRepository implements Repository using PostgreSQL. Text matching
// uses the generated search_vector column; similarity uses pg_trgm.
type PostgresRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresRepository creates a new PostgresRepository.
func NewPostgresRepository(db *sql.DB, logger *slog.Logger) *PostgresRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresRepository{db: db, logger: logger}
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanDescriptor reads descriptorColumns followed by any extra destinations.
func scanDescriptor(row rowScanner, extra ...any) (*Descriptor, error) {
	d := &Descriptor{}
	var sector, category, author sql.NullString
	var quality string
	var deletedAt sql.NullTime
	dest := []any{
		&d.ID, &d.Code, &d.CriterionName, &d.Excellent, &d.Good, &d.Pass, &d.BelowPass,
		pq.Array(&d.SkillNames), &sector, &category, &quality, pq.Array(&d.Tags), &d.Version,
		&author, &d.CreatedAt, &d.UpdatedAt, &deletedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	d.QualityIndicator = QualityIndicator(quality)
	if sector.Valid {
		d.Sector = &sector.String
	}
	if category.Valid {
		d.Category = &category.String
	}
	if author.Valid {
		d.AuthorID = &author.String
	}
	if deletedAt.Valid {
		t := deletedAt.Time.UTC()
		d.DeletedAt = &t
	}
	d.CreatedAt = d.CreatedAt.UTC()
	d.UpdatedAt = d.UpdatedAt.UTC()
	if d.Tags == nil {
		d.Tags = []string{}
	}
	return d, nil
}

func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func (r *PostgresRepository) rollback(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		r.logger.Warn("failed to rollback transaction",
			slog.String("error", err.Error()))
	}
}

// lockCode serializes writers competing for the same code until the
// transaction ends.
func lockCode(ctx context.Context, tx *sql.Tx, code string) error {
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, code); err != nil {
		return fmt.Errorf("failed to lock code: %w", err)
	}
	return nil
}

// codeTaken checks the code uniqueness rule inside tx.
func codeTaken(ctx context.Context, tx *sql.Tx, d *Descriptor, excludeID string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM descriptors
			WHERE code = $1 AND skill_names && $2 AND deleted_at IS NULL
			  AND ($3 = '' OR id::text <> $3)
		)
	`
	var taken bool
	if err := tx.QueryRowContext(ctx, query, d.Code, pq.Array(d.SkillNames), excludeID).Scan(&taken); err != nil {
		return false, fmt.Errorf("failed to check code: %w", err)
	}
	return taken, nil
}

// Create validates and stores a new descriptor.
func (r *PostgresRepository) Create(ctx context.Context, d *Descriptor) (created *Descriptor, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, table, tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

	rec := d.Clone()
	rec.Normalize()
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer r.rollback(tx)

	if err := lockCode(ctx, tx, rec.Code); err != nil {
		return nil, err
	}
	taken, err := codeTaken(ctx, tx, rec, "")
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, ErrDuplicateCode
	}

	query := `
		INSERT INTO descriptors AS d (
			id, code, criterion_name, excellent, good, pass, below_pass,
			skill_names, sector, category, quality_indicator, tags, author_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING ` + descriptorColumns

	created, err = scanDescriptor(tx.QueryRowContext(ctx, query,
		rec.ID, rec.Code, rec.CriterionName, rec.Excellent, rec.Good, rec.Pass, rec.BelowPass,
		pq.Array(rec.SkillNames), nullable(rec.Sector), nullable(rec.Category),
		string(rec.QualityIndicator), pq.Array(rec.Tags), nullable(rec.AuthorID),
	))
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return nil, ErrAlreadyExists
		}
		r.logger.Error("failed to insert descriptor",
			slog.String("error", err.Error()),
			slog.String("code", rec.Code))
		return nil, fmt.Errorf("failed to insert descriptor: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return created, nil
}

// Update replaces the editable fields of a live descriptor.
func (r *PostgresRepository) Update(ctx context.Context, d *Descriptor) (updated *Descriptor, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, table, tracing.DBOperationUpdate)
	defer func() { endSpan(err) }()

	rec := d.Clone()
	rec.Normalize()
	if rec.ID == "" {
		return nil, ErrNotFound
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}

	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer r.rollback(tx)

	var current int
	err = tx.QueryRowContext(ctx,
		`SELECT version FROM descriptors WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`,
		rec.ID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load descriptor: %w", err)
	}
	if rec.Version != 0 && rec.Version != current {
		return nil, ErrVersionConflict
	}

	if err := lockCode(ctx, tx, rec.Code); err != nil {
		return nil, err
	}
	taken, err := codeTaken(ctx, tx, rec, rec.ID)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, ErrDuplicateCode
	}

	query := `
		UPDATE descriptors AS d SET
			code = $2, criterion_name = $3, excellent = $4, good = $5, pass = $6, below_pass = $7,
			skill_names = $8, sector = $9, category = $10, quality_indicator = $11, tags = $12,
			author_id = COALESCE($13, d.author_id),
			version = d.version + 1, updated_at = NOW()
		WHERE d.id = $1
		RETURNING ` + descriptorColumns

	updated, err = scanDescriptor(tx.QueryRowContext(ctx, query,
		rec.ID, rec.Code, rec.CriterionName, rec.Excellent, rec.Good, rec.Pass, rec.BelowPass,
		pq.Array(rec.SkillNames), nullable(rec.Sector), nullable(rec.Category),
		string(rec.QualityIndicator), pq.Array(rec.Tags), nullable(rec.AuthorID),
	))
	if err != nil {
		r.logger.Error("failed to update descriptor",
			slog.String("error", err.Error()),
			slog.String("descriptor_id", rec.ID))
		return nil, fmt.Errorf("failed to update descriptor: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return updated, nil
}

// SoftDelete sets the delete marker on a live descriptor.
func (r *PostgresRepository) SoftDelete(ctx context.Context, id string) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, table, tracing.DBOperationDelete)
	defer func() { endSpan(err) }()

	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE descriptors SET deleted_at = NOW(), updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL`,
		id)
	if err != nil {
		return fmt.Errorf("failed to delete descriptor: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Restore clears the delete marker. Restoring a live descriptor is a no-op.
func (r *PostgresRepository) Restore(ctx context.Context, id string) (restored *Descriptor, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, table, tracing.DBOperationUpdate)
	defer func() { endSpan(err) }()

	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}

	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer r.rollback(tx)

	existing, err := scanDescriptor(tx.QueryRowContext(ctx,
		`SELECT `+descriptorColumns+` FROM descriptors d WHERE d.id = $1 FOR UPDATE`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load descriptor: %w", err)
	}
	if !existing.IsDeleted() {
		return existing, tx.Commit()
	}

	if err := lockCode(ctx, tx, existing.Code); err != nil {
		return nil, err
	}
	taken, err := codeTaken(ctx, tx, existing, id)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, ErrDuplicateCode
	}

	restored, err = scanDescriptor(tx.QueryRowContext(ctx,
		`UPDATE descriptors AS d SET deleted_at = NULL, updated_at = NOW() WHERE d.id = $1 RETURNING `+descriptorColumns,
		id))
	if err != nil {
		return nil, fmt.Errorf("failed to restore descriptor: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return restored, nil
}

// GetByID retrieves a descriptor by its ID.
func (r *PostgresRepository) GetByID(ctx context.Context, id string, includeDeleted bool) (found *Descriptor, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, table, tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}

	query := `SELECT ` + descriptorColumns + ` FROM descriptors d WHERE d.id = $1 AND ($2 OR d.deleted_at IS NULL)`
	found, err = scanDescriptor(r.db.QueryRowContext(ctx, query, id, includeDeleted))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get descriptor: %w", err)
	}
	return found, nil
}

// ReplaceAll hard-deletes the corpus and bulk inserts ds in one transaction.
func (r *PostgresRepository) ReplaceAll(ctx context.Context, ds []*Descriptor) (n int, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, table, tracing.DBOperationExec)
	defer func() { endSpan(err) }()

	prepared, err := prepareBatch(ds)
	if err != nil {
		return 0, err
	}

	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer r.rollback(tx)

	if _, err := tx.ExecContext(ctx, `DELETE FROM descriptors`); err != nil {
		return 0, fmt.Errorf("failed to clear descriptors: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO descriptors (
			id, code, criterion_name, excellent, good, pass, below_pass,
			skill_names, sector, category, quality_indicator, tags, author_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, rec := range prepared {
		_, err := stmt.ExecContext(ctx,
			rec.ID, rec.Code, rec.CriterionName, rec.Excellent, rec.Good, rec.Pass, rec.BelowPass,
			pq.Array(rec.SkillNames), nullable(rec.Sector), nullable(rec.Category),
			string(rec.QualityIndicator), pq.Array(rec.Tags), nullable(rec.AuthorID),
		)
		if err != nil {
			return 0, &BatchError{Index: i, Code: rec.Code, Err: err}
		}
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	r.logger.Info("descriptor corpus replaced", slog.Int("count", len(prepared)))
	return len(prepared), nil
}

// predicate renders the WHERE clause for f, appending bind values to args.
// A query with no usable terms renders as an empty tsquery, which matches nothing.
func predicate(f Filter, args *[]any) string {
	bind := func(v any) string {
		*args = append(*args, v)
		return "$" + strconv.Itoa(len(*args))
	}

	var conds []string
	if !f.IncludeDeleted {
		conds = append(conds, "d.deleted_at IS NULL")
	}
	if f.Query != nil {
		conds = append(conds, "d.search_vector @@ websearch_to_tsquery('english', "+bind(f.Query.String())+")")
	}
	if f.SkillArea != "" {
		conds = append(conds, bind(f.SkillArea)+" = ANY(d.skill_names)")
	}
	if f.Category != "" {
		conds = append(conds, "d.category = "+bind(f.Category))
	}
	if f.QualityIndicator != "" {
		conds = append(conds, "d.quality_indicator = "+bind(string(f.QualityIndicator)))
	}
	if len(conds) == 0 {
		return "TRUE"
	}
	return strings.Join(conds, " AND ")
}

// SearchDescriptors returns one page of descriptors matching the filter.
func (r *PostgresRepository) SearchDescriptors(ctx context.Context, f Filter, p Page, weights [4]float64) (hits []ScoredDescriptor, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, table, tracing.DBOperationSearch)
	defer func() { endSpan(err) }()

	var args []any
	where := predicate(f, &args)

	var query string
	if f.Ranked() {
		args = append(args, pq.Array(weights[:]), f.Query.String())
		w, q := len(args)-1, len(args)
		query = fmt.Sprintf(`
			SELECT %s,
			       ts_rank_cd($%d::float4[], d.search_vector, websearch_to_tsquery('english', $%d), 32) AS rank
			FROM descriptors d
			WHERE %s
			ORDER BY rank DESC, d.id ASC
			LIMIT $%d OFFSET $%d
		`, descriptorColumns, w, q, where, len(args)+1, len(args)+2)
	} else {
		query = fmt.Sprintf(`
			SELECT %s
			FROM descriptors d
			WHERE %s
			ORDER BY lower(d.criterion_name) COLLATE "C" ASC, d.id ASC
			LIMIT $%d OFFSET $%d
		`, descriptorColumns, where, len(args)+1, len(args)+2)
	}
	args = append(args, p.Limit, p.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("descriptor search failed",
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("failed to search descriptors: %w", err)
	}
	defer rows.Close()

	hits = []ScoredDescriptor{}
	for rows.Next() {
		var hit ScoredDescriptor
		if f.Ranked() {
			var rank float64
			hit.Descriptor, err = scanDescriptor(rows, &rank)
			hit.Rank = &rank
		} else {
			hit.Descriptor, err = scanDescriptor(rows)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to scan descriptor: %w", err)
		}
		hits = append(hits, hit)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating descriptors: %w", err)
	}
	return hits, nil
}

// CountDescriptors counts all descriptors matching the filter.
func (r *PostgresRepository) CountDescriptors(ctx context.Context, f Filter) (total int, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, table, tracing.DBOperationSearch)
	defer func() { endSpan(err) }()

	var args []any
	query := `SELECT COUNT(*) FROM descriptors d WHERE ` + predicate(f, &args)
	if err = r.db.QueryRowContext(ctx, query, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to count descriptors: %w", err)
	}
	return total, nil
}

// FacetCounts groups matching descriptors by one dimension.
func (r *PostgresRepository) FacetCounts(ctx context.Context, f Filter, dim FacetDimension) (counts []FacetCount, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, table, tracing.DBOperationSearch)
	defer func() { endSpan(err) }()

	var args []any
	where := predicate(f, &args)

	var query string
	switch dim {
	case FacetSkillArea:
		query = `
			SELECT s.name, COUNT(DISTINCT d.id) AS n
			FROM descriptors d CROSS JOIN LATERAL unnest(d.skill_names) AS s(name)
			WHERE ` + where + ` AND s.name <> ''
			GROUP BY s.name
			ORDER BY n DESC, s.name COLLATE "C" ASC`
	case FacetCategory:
		query = `
			SELECT d.category, COUNT(*) AS n
			FROM descriptors d
			WHERE ` + where + ` AND d.category IS NOT NULL AND d.category <> ''
			GROUP BY d.category
			ORDER BY n DESC, d.category COLLATE "C" ASC`
	case FacetQuality:
		query = `
			SELECT d.quality_indicator, COUNT(*) AS n
			FROM descriptors d
			WHERE ` + where + ` AND d.quality_indicator <> ''
			GROUP BY d.quality_indicator
			ORDER BY n DESC, d.quality_indicator COLLATE "C" ASC`
	default:
		return nil, ErrUnknownFacet
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count %s facets: %w", dim, err)
	}
	defer rows.Close()

	counts = []FacetCount{}
	for rows.Next() {
		var c FacetCount
		if err = rows.Scan(&c.Name, &c.Count); err != nil {
			return nil, fmt.Errorf("failed to scan facet: %w", err)
		}
		counts = append(counts, c)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating facets: %w", err)
	}
	return counts, nil
}

// beginSimilarity opens a read-only transaction with the pg_trgm threshold set
// for its duration, so the % operator can use the trigram index.
func (r *PostgresRepository) beginSimilarity(ctx context.Context, threshold float64) (*sql.Tx, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`SELECT set_config('pg_trgm.similarity_threshold', $1, true)`,
		strconv.FormatFloat(threshold, 'f', -1, 64)); err != nil {
		r.rollback(tx)
		return nil, fmt.Errorf("failed to set similarity threshold: %w", err)
	}
	return tx, nil
}

func scanMatches(rows *sql.Rows) ([]SimilarityMatch, error) {
	defer rows.Close()
	matches := []SimilarityMatch{}
	for rows.Next() {
		var m SimilarityMatch
		var err error
		if m.Descriptor, err = scanDescriptor(rows, &m.Similarity); err != nil {
			return nil, fmt.Errorf("failed to scan match: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating matches: %w", err)
	}
	return matches, nil
}

// FindSimilar returns live descriptors whose criterion name resembles q.Text.
func (r *PostgresRepository) FindSimilar(ctx context.Context, q SimilarityQuery) (matches []SimilarityMatch, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, table, tracing.DBOperationSimilarity)
	defer func() { endSpan(err) }()

	tx, err := r.beginSimilarity(ctx, q.Threshold)
	if err != nil {
		return nil, err
	}
	defer r.rollback(tx)

	query := `
		SELECT ` + descriptorColumns + `, similarity(d.criterion_name, $1) AS sim
		FROM descriptors d
		WHERE d.criterion_name % $1
		  AND similarity(d.criterion_name, $1) >= $2
		  AND d.deleted_at IS NULL
		  AND ($3 = '' OR d.id::text <> $3)
		ORDER BY sim DESC, d.id ASC
		LIMIT $4`

	rows, err := tx.QueryContext(ctx, query, q.Text, q.Threshold, q.ExcludeID, limitOrAll(q.Limit))
	if err != nil {
		return nil, fmt.Errorf("failed to find similar descriptors: %w", err)
	}
	return scanMatches(rows)
}

// FindSimilarTo returns descriptors resembling a live source descriptor.
func (r *PostgresRepository) FindSimilarTo(ctx context.Context, sourceID string, threshold float64, limit int) (matches []SimilarityMatch, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, table, tracing.DBOperationSimilarity)
	defer func() { endSpan(err) }()

	if _, err := uuid.Parse(sourceID); err != nil {
		return nil, ErrNotFound
	}

	tx, err := r.beginSimilarity(ctx, threshold)
	if err != nil {
		return nil, err
	}
	defer r.rollback(tx)

	var exists bool
	if err = tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM descriptors WHERE id = $1 AND deleted_at IS NULL)`,
		sourceID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to load source descriptor: %w", err)
	}
	if !exists {
		return nil, ErrNotFound
	}

	query := `
		SELECT ` + descriptorColumns + `, similarity(d.criterion_name, s.criterion_name) AS sim
		FROM descriptors s
		JOIN descriptors d ON d.id <> s.id AND d.criterion_name % s.criterion_name
		WHERE s.id = $1
		  AND d.deleted_at IS NULL
		  AND similarity(d.criterion_name, s.criterion_name) >= $2
		ORDER BY sim DESC, d.id ASC
		LIMIT $3`

	rows, err := tx.QueryContext(ctx, query, sourceID, threshold, limitOrAll(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to find related descriptors: %w", err)
	}
	return scanMatches(rows)
}

// limitOrAll maps a non-positive limit to NULL, which LIMIT treats as no limit.
func limitOrAll(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}
