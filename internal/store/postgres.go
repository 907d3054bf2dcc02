package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/tm2bridge/tm2bridge/internal/apperr"
	"github.com/tm2bridge/tm2bridge/internal/models"
)

// PostgresStore is the Store implementation backed by Postgres + pgvector.
type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Close() {}

// --- source_codes / target_codes -------------------------------------------------

type sourceRow struct {
	ID              string         `db:"id"`
	Code            string         `db:"code"`
	System          string         `db:"system"`
	Term            string         `db:"term"`
	TermNormalized  string         `db:"term_normalized"`
	NativeScript    string         `db:"native_script"`
	ShortDefinition string         `db:"short_definition"`
	LongDefinition  string         `db:"long_definition"`
	EnglishName     string         `db:"english_name"`
	SearchableText  string         `db:"searchable_text"`
	Embedding       *pgvector.Vector `db:"embedding"`
}

func (r sourceRow) toModel() models.SourceCode {
	m := models.SourceCode{
		ID:              r.ID,
		Code:            r.Code,
		System:          models.System(r.System),
		Term:            r.Term,
		TermNormalized:  r.TermNormalized,
		NativeScript:    r.NativeScript,
		ShortDefinition: r.ShortDefinition,
		LongDefinition:  r.LongDefinition,
		EnglishName:     r.EnglishName,
		SearchableText:  r.SearchableText,
	}
	if r.Embedding != nil {
		m.Embedding = r.Embedding.Slice()
	}
	return m
}

type targetRow struct {
	ID                 string           `db:"id"`
	Code               string           `db:"code"`
	Title              string           `db:"title"`
	Definition         string           `db:"definition"`
	Category           string           `db:"category"`
	ParentCode         string           `db:"parent_code"`
	Synonyms           pq.StringArray   `db:"synonyms"`
	Inclusions         pq.StringArray   `db:"inclusions"`
	Exclusions         pq.StringArray   `db:"exclusions"`
	TraditionalSystems pq.StringArray   `db:"traditional_systems"`
	Embedding          *pgvector.Vector `db:"embedding"`
}

func (r targetRow) toModel() models.TargetCode {
	m := models.TargetCode{
		ID:                 r.ID,
		Code:               r.Code,
		Title:              r.Title,
		Definition:         r.Definition,
		Category:           r.Category,
		ParentCode:         r.ParentCode,
		Synonyms:           []string(r.Synonyms),
		Inclusions:         []string(r.Inclusions),
		Exclusions:         []string(r.Exclusions),
		TraditionalSystems: []string(r.TraditionalSystems),
	}
	if r.Embedding != nil {
		m.Embedding = r.Embedding.Slice()
	}
	return m
}

func (s *PostgresStore) FindSource(ctx context.Context, code string, system models.System) (*models.SourceCode, error) {
	var row sourceRow
	err := s.db.GetContext(ctx, &row,
		`SELECT id, code, system, term, term_normalized, native_script, short_definition,
		        long_definition, english_name, searchable_text, embedding
		 FROM source_codes WHERE code = $1 AND system = $2`, code, string(system))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDBUnavailable, "find_source", err)
	}
	m := row.toModel()
	return &m, nil
}

func (s *PostgresStore) FindTarget(ctx context.Context, code string) (*models.TargetCode, error) {
	var row targetRow
	err := s.db.GetContext(ctx, &row,
		`SELECT id, code, title, definition, category, parent_code, synonyms, inclusions,
		        exclusions, traditional_systems, embedding
		 FROM target_codes WHERE code = $1`, code)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDBUnavailable, "find_target", err)
	}
	m := row.toModel()
	return &m, nil
}

// --- candidate retrieval -----------------------------------------------------------

func (s *PostgresStore) SearchTargetByVector(ctx context.Context, vec []float32, k int, minSimilarity float64) ([]ScoredTarget, error) {
	v := pgvector.NewVector(vec)
	rows, err := s.db.QueryxContext(ctx,
		`SELECT id, code, title, definition, category, parent_code, synonyms, inclusions,
		        exclusions, traditional_systems, 1 - (embedding <=> $1) AS score
		 FROM target_codes
		 WHERE embedding IS NOT NULL AND 1 - (embedding <=> $1) >= $2
		 ORDER BY embedding <=> $1 ASC, code ASC
		 LIMIT $3`, v, minSimilarity, k)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDBUnavailable, "search_target_by_vector", err)
	}
	defer rows.Close()
	return scanScoredTargets(rows)
}

func (s *PostgresStore) SearchTargetFulltext(ctx context.Context, query string, k int) ([]ScoredTarget, error) {
	rows, err := s.db.QueryxContext(ctx,
		`SELECT id, code, title, definition, category, parent_code, synonyms, inclusions,
		        exclusions, traditional_systems,
		        ts_rank(to_tsvector('english', title || ' ' || COALESCE(definition, '')),
		                plainto_tsquery('english', $1)) AS score
		 FROM target_codes
		 WHERE to_tsvector('english', title || ' ' || COALESCE(definition, ''))
		       @@ plainto_tsquery('english', $1)
		 ORDER BY score DESC, code ASC
		 LIMIT $2`, query, k)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDBUnavailable, "search_target_fulltext", err)
	}
	defer rows.Close()
	return scanScoredTargets(rows)
}

// SearchTargetByKeywords scores each target row by the fraction of
// keywords present (case-insensitively) in title ∪ definition, dropping
// zero-score rows, per the retriever's keyword-fallback contract.
func (s *PostgresStore) SearchTargetByKeywords(ctx context.Context, keywords []string, k int) ([]ScoredTarget, error) {
	if len(keywords) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryxContext(ctx,
		`SELECT id, code, title, definition, category, parent_code, synonyms, inclusions,
		        exclusions, traditional_systems,
		        (SELECT count(*)::float / $2
		         FROM unnest($1::text[]) AS kw
		         WHERE position(lower(kw) in lower(title || ' ' || COALESCE(definition, ''))) > 0
		        ) AS score
		 FROM target_codes
		 WHERE (SELECT count(*)::float / $2
		         FROM unnest($1::text[]) AS kw
		         WHERE position(lower(kw) in lower(title || ' ' || COALESCE(definition, ''))) > 0) > 0
		 ORDER BY score DESC, code ASC
		 LIMIT $3`, pq.Array(keywords), float64(len(keywords)), k)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDBUnavailable, "search_target_by_keywords", err)
	}
	defer rows.Close()
	return scanScoredTargets(rows)
}

func scanScoredTargets(rows *sqlx.Rows) ([]ScoredTarget, error) {
	var out []ScoredTarget
	for rows.Next() {
		var r struct {
			ID                 string         `db:"id"`
			Code               string         `db:"code"`
			Title              string         `db:"title"`
			Definition         string         `db:"definition"`
			Category           string         `db:"category"`
			ParentCode         string         `db:"parent_code"`
			Synonyms           pq.StringArray `db:"synonyms"`
			Inclusions         pq.StringArray `db:"inclusions"`
			Exclusions         pq.StringArray `db:"exclusions"`
			TraditionalSystems pq.StringArray `db:"traditional_systems"`
			Score              float64        `db:"score"`
		}
		if err := rows.StructScan(&r); err != nil {
			return nil, apperr.Wrap(apperr.KindDBUnavailable, "scan candidate", err)
		}
		out = append(out, ScoredTarget{
			Target: models.TargetCode{
				ID:                 r.ID,
				Code:               r.Code,
				Title:              r.Title,
				Definition:         r.Definition,
				Category:           r.Category,
				ParentCode:         r.ParentCode,
				Synonyms:           []string(r.Synonyms),
				Inclusions:         []string(r.Inclusions),
				Exclusions:         []string(r.Exclusions),
				TraditionalSystems: []string(r.TraditionalSystems),
			},
			Score: r.Score,
		})
	}
	return out, rows.Err()
}

// --- mappings -----------------------------------------------------------------------

func (s *PostgresStore) UpsertMapping(ctx context.Context, sourceID, targetID string, fields UpsertMappingFields) (*models.Mapping, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDBUnavailable, "upsert_mapping begin", err)
	}
	defer tx.Rollback()

	var existing struct {
		MappingSource string `db:"mapping_source"`
	}
	err = tx.GetContext(ctx, &existing,
		`SELECT mapping_source FROM mappings WHERE source_id = $1 AND target_id = $2 FOR UPDATE`,
		sourceID, targetID)

	var row mappingRow
	switch {
	case errors.Is(err, sql.ErrNoRows):
		row, err = insertMapping(ctx, tx, sourceID, targetID, fields)
	case err != nil:
		return nil, apperr.Wrap(apperr.KindDBUnavailable, "upsert_mapping lookup", err)
	case existing.MappingSource == string(models.MappingSourceHumanValidated):
		// A human action owns equivalence/confidence/validation fields; the
		// upsert only bumps updated_at.
		row, err = touchMapping(ctx, tx, sourceID, targetID)
	default:
		row, err = updateMapping(ctx, tx, sourceID, targetID, fields)
	}
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, apperr.Wrap(apperr.KindDBUnavailable, "upsert_mapping commit", err)
	}
	m := row.toModel()
	return &m, nil
}

// FindMappingBySource returns the most recently updated mapping for a
// source code, used by the sync batch endpoint which only looks up
// existing mappings and never runs the pipeline.
func (s *PostgresStore) FindMappingBySource(ctx context.Context, sourceID string) (*models.Mapping, error) {
	var row mappingRow
	err := s.db.GetContext(ctx, &row,
		`SELECT id, source_id, target_id, equivalence, confidence, mapping_source,
		        validation_status, validator, validated_at, reasoning, created_at, updated_at
		 FROM mappings WHERE source_id = $1 ORDER BY updated_at DESC LIMIT 1`, sourceID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDBUnavailable, "find_mapping_by_source", err)
	}
	m := row.toModel()
	return &m, nil
}

type mappingRow struct {
	ID               string         `db:"id"`
	SourceID         string         `db:"source_id"`
	TargetID         string         `db:"target_id"`
	Equivalence      string         `db:"equivalence"`
	Confidence       float64        `db:"confidence"`
	MappingSource    string         `db:"mapping_source"`
	ValidationStatus string         `db:"validation_status"`
	Validator        sql.NullString `db:"validator"`
	ValidatedAt      sql.NullTime   `db:"validated_at"`
	Reasoning        string         `db:"reasoning"`
	CreatedAt        time.Time      `db:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at"`
}

func (r mappingRow) toModel() models.Mapping {
	m := models.Mapping{
		ID:               r.ID,
		SourceRef:        r.SourceID,
		TargetRef:        r.TargetID,
		Equivalence:      models.Equivalence(r.Equivalence),
		Confidence:       r.Confidence,
		MappingSource:    models.MappingSource(r.MappingSource),
		ValidationStatus: models.ValidationStatus(r.ValidationStatus),
		Reasoning:        r.Reasoning,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
	if r.Validator.Valid {
		m.Validator = &r.Validator.String
	}
	if r.ValidatedAt.Valid {
		m.ValidatedAt = &r.ValidatedAt.Time
	}
	return m
}

func insertMapping(ctx context.Context, tx *sqlx.Tx, sourceID, targetID string, f UpsertMappingFields) (mappingRow, error) {
	var row mappingRow
	err := tx.GetContext(ctx, &row,
		`INSERT INTO mappings (id, source_id, target_id, equivalence, confidence, mapping_source, reasoning)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, source_id, target_id, equivalence, confidence, mapping_source,
		           validation_status, validator, validated_at, reasoning, created_at, updated_at`,
		uuid.NewString(), sourceID, targetID, string(f.Equivalence), f.Confidence, string(f.MappingSource), f.Reasoning)
	if err != nil {
		return row, apperr.Wrap(apperr.KindDBUnavailable, "upsert_mapping insert", err)
	}
	return row, nil
}

func updateMapping(ctx context.Context, tx *sqlx.Tx, sourceID, targetID string, f UpsertMappingFields) (mappingRow, error) {
	var row mappingRow
	err := tx.GetContext(ctx, &row,
		`UPDATE mappings SET equivalence = $3, confidence = $4, mapping_source = $5,
		        reasoning = $6, updated_at = now()
		 WHERE source_id = $1 AND target_id = $2
		 RETURNING id, source_id, target_id, equivalence, confidence, mapping_source,
		           validation_status, validator, validated_at, reasoning, created_at, updated_at`,
		sourceID, targetID, string(f.Equivalence), f.Confidence, string(f.MappingSource), f.Reasoning)
	if err != nil {
		return row, apperr.Wrap(apperr.KindDBUnavailable, "upsert_mapping update", err)
	}
	return row, nil
}

func touchMapping(ctx context.Context, tx *sqlx.Tx, sourceID, targetID string) (mappingRow, error) {
	var row mappingRow
	err := tx.GetContext(ctx, &row,
		`UPDATE mappings SET updated_at = now()
		 WHERE source_id = $1 AND target_id = $2
		 RETURNING id, source_id, target_id, equivalence, confidence, mapping_source,
		           validation_status, validator, validated_at, reasoning, created_at, updated_at`,
		sourceID, targetID)
	if err != nil {
		return row, apperr.Wrap(apperr.KindDBUnavailable, "upsert_mapping touch", err)
	}
	return row, nil
}

func (s *PostgresStore) ListMappings(ctx context.Context, filters models.MappingFilters, page, limit int, sort string) (models.Page[models.Mapping], error) {
	var where []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	q := `SELECT m.id, m.source_id, m.target_id, m.equivalence, m.confidence, m.mapping_source,
	             m.validation_status, m.validator, m.validated_at, m.reasoning, m.created_at, m.updated_at
	      FROM mappings m
	      JOIN source_codes sc ON sc.id = m.source_id
	      JOIN target_codes tc ON tc.id = m.target_id`
	countQ := `SELECT count(*) FROM mappings m
	           JOIN source_codes sc ON sc.id = m.source_id
	           JOIN target_codes tc ON tc.id = m.target_id`

	if filters.System != "" {
		where = append(where, "sc.system = "+arg(string(filters.System)))
	}
	if filters.Equivalence != "" {
		where = append(where, "m.equivalence = "+arg(string(filters.Equivalence)))
	}
	if filters.MinConfidence != nil {
		where = append(where, "m.confidence >= "+arg(*filters.MinConfidence))
	}
	if filters.MaxConfidence != nil {
		where = append(where, "m.confidence <= "+arg(*filters.MaxConfidence))
	}
	if filters.Query != "" {
		like := "%" + strings.ToLower(filters.Query) + "%"
		where = append(where, "(lower(sc.term) LIKE "+arg(like)+" OR lower(tc.title) LIKE "+arg(like)+")")
	}

	if len(where) > 0 {
		clause := " WHERE " + strings.Join(where, " AND ")
		q += clause
		countQ += clause
	}

	var total int
	if err := s.db.GetContext(ctx, &total, countQ, args...); err != nil {
		return models.Page[models.Mapping]{}, apperr.Wrap(apperr.KindDBUnavailable, "list_mappings count", err)
	}

	orderCol := map[string]string{
		"created_at":  "m.created_at",
		"confidence":  "m.confidence",
		"equivalence": "m.equivalence",
	}[sort]
	if orderCol == "" {
		orderCol = "m.created_at"
	}
	q += fmt.Sprintf(" ORDER BY %s DESC LIMIT %s OFFSET %s", orderCol, arg(limit), arg((page-1)*limit))

	rows, err := s.db.QueryxContext(ctx, q, args...)
	if err != nil {
		return models.Page[models.Mapping]{}, apperr.Wrap(apperr.KindDBUnavailable, "list_mappings", err)
	}
	defer rows.Close()

	var items []models.Mapping
	for rows.Next() {
		var r mappingRow
		if err := rows.StructScan(&r); err != nil {
			return models.Page[models.Mapping]{}, apperr.Wrap(apperr.KindDBUnavailable, "list_mappings scan", err)
		}
		items = append(items, r.toModel())
	}
	return models.Page[models.Mapping]{Items: items, TotalCount: total, Page: page, Limit: limit}, rows.Err()
}

func (s *PostgresStore) AggregateMappingStats(ctx context.Context) (models.MappingStats, error) {
	stats := models.MappingStats{
		BySource:           map[models.MappingSource]int{},
		ByValidationStatus: map[models.ValidationStatus]int{},
	}

	var totals struct {
		Total float64 `db:"total"`
		Avg   sql.NullFloat64 `db:"avg_confidence"`
	}
	if err := s.db.GetContext(ctx, &totals,
		`SELECT count(*)::float AS total, avg(confidence) AS avg_confidence FROM mappings`); err != nil {
		return stats, apperr.Wrap(apperr.KindDBUnavailable, "aggregate_mapping_stats totals", err)
	}
	stats.Total = int(totals.Total)
	if totals.Avg.Valid {
		stats.AverageConfidence = totals.Avg.Float64
	}

	rows, err := s.db.QueryxContext(ctx, `SELECT mapping_source, count(*) AS n FROM mappings GROUP BY mapping_source`)
	if err != nil {
		return stats, apperr.Wrap(apperr.KindDBUnavailable, "aggregate_mapping_stats by_source", err)
	}
	for rows.Next() {
		var src string
		var n int
		if err := rows.Scan(&src, &n); err != nil {
			rows.Close()
			return stats, apperr.Wrap(apperr.KindDBUnavailable, "aggregate_mapping_stats scan", err)
		}
		stats.BySource[models.MappingSource(src)] = n
	}
	rows.Close()

	rows, err = s.db.QueryxContext(ctx, `SELECT validation_status, count(*) AS n FROM mappings GROUP BY validation_status`)
	if err != nil {
		return stats, apperr.Wrap(apperr.KindDBUnavailable, "aggregate_mapping_stats by_status", err)
	}
	defer rows.Close()
	for rows.Next() {
		var st string
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return stats, apperr.Wrap(apperr.KindDBUnavailable, "aggregate_mapping_stats scan", err)
		}
		stats.ByValidationStatus[models.ValidationStatus(st)] = n
	}
	return stats, rows.Err()
}

// --- autocomplete / expand -----------------------------------------------------------

func (s *PostgresStore) AutocompleteSource(ctx context.Context, q string, system models.System, limit int) ([]models.SourceCode, error) {
	like := "%" + strings.ToLower(q) + "%"
	query := `SELECT id, code, system, term, term_normalized, native_script, short_definition,
	                  long_definition, english_name, searchable_text, embedding
	           FROM source_codes
	           WHERE (lower(term) LIKE $1 OR lower(english_name) LIKE $1 OR lower(code) LIKE $1)`
	args := []any{like}
	if system != "" {
		query += " AND system = $2"
		args = append(args, string(system))
	}
	query += fmt.Sprintf(" ORDER BY code ASC LIMIT %d", limit)

	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDBUnavailable, "autocomplete_source", err)
	}
	defer rows.Close()
	var out []models.SourceCode
	for rows.Next() {
		var r sourceRow
		if err := rows.StructScan(&r); err != nil {
			return nil, apperr.Wrap(apperr.KindDBUnavailable, "autocomplete_source scan", err)
		}
		out = append(out, r.toModel())
	}
	return out, rows.Err()
}

func (s *PostgresStore) AutocompleteTarget(ctx context.Context, q string, limit int) ([]models.TargetCode, error) {
	like := "%" + strings.ToLower(q) + "%"
	rows, err := s.db.QueryxContext(ctx,
		`SELECT id, code, title, definition, category, parent_code, synonyms, inclusions,
		        exclusions, traditional_systems, embedding
		 FROM target_codes
		 WHERE lower(title) LIKE $1 OR lower(code) LIKE $1
		 ORDER BY code ASC LIMIT $2`, like, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDBUnavailable, "autocomplete_target", err)
	}
	defer rows.Close()
	var out []models.TargetCode
	for rows.Next() {
		var r targetRow
		if err := rows.StructScan(&r); err != nil {
			return nil, apperr.Wrap(apperr.KindDBUnavailable, "autocomplete_target scan", err)
		}
		out = append(out, r.toModel())
	}
	return out, rows.Err()
}

func (s *PostgresStore) ExpandSource(ctx context.Context, filter string, count, offset int) ([]models.SourceCode, int, error) {
	like := "%" + strings.ToLower(filter) + "%"
	var total int
	if err := s.db.GetContext(ctx, &total,
		`SELECT count(*) FROM source_codes
		 WHERE lower(term) LIKE $1 OR lower(english_name) LIKE $1 OR lower(searchable_text) LIKE $1`, like); err != nil {
		return nil, 0, apperr.Wrap(apperr.KindDBUnavailable, "expand_source count", err)
	}

	rows, err := s.db.QueryxContext(ctx,
		`SELECT id, code, system, term, term_normalized, native_script, short_definition,
		        long_definition, english_name, searchable_text, embedding
		 FROM source_codes
		 WHERE lower(term) LIKE $1 OR lower(english_name) LIKE $1 OR lower(searchable_text) LIKE $1
		 ORDER BY code ASC LIMIT $2 OFFSET $3`, like, count, offset)
	if err != nil {
		return nil, 0, apperr.Wrap(apperr.KindDBUnavailable, "expand_source", err)
	}
	defer rows.Close()
	var out []models.SourceCode
	for rows.Next() {
		var r sourceRow
		if err := rows.StructScan(&r); err != nil {
			return nil, 0, apperr.Wrap(apperr.KindDBUnavailable, "expand_source scan", err)
		}
		out = append(out, r.toModel())
	}
	return out, total, rows.Err()
}

// --- embedding coverage / backfill ----------------------------------------------------

func (s *PostgresStore) SourceEmbeddingCoverage(ctx context.Context) (models.EmbeddingCoverage, error) {
	return coverage(ctx, s.db, "source_codes")
}

func (s *PostgresStore) TargetEmbeddingCoverage(ctx context.Context) (models.EmbeddingCoverage, error) {
	return coverage(ctx, s.db, "target_codes")
}

func coverage(ctx context.Context, db *sqlx.DB, table string) (models.EmbeddingCoverage, error) {
	var row struct {
		Total int `db:"total"`
		With  int `db:"with_vector"`
	}
	err := db.GetContext(ctx, &row,
		fmt.Sprintf(`SELECT count(*) AS total, count(embedding) AS with_vector FROM %s`, table))
	if err != nil {
		return models.EmbeddingCoverage{}, apperr.Wrap(apperr.KindDBUnavailable, "embedding_coverage", err)
	}
	return models.EmbeddingCoverage{Total: row.Total, WithVector: row.With}, nil
}

func (s *PostgresStore) SourcesMissingEmbedding(ctx context.Context, limit int) ([]models.SourceCode, error) {
	rows, err := s.db.QueryxContext(ctx,
		`SELECT id, code, system, term, term_normalized, native_script, short_definition,
		        long_definition, english_name, searchable_text, embedding
		 FROM source_codes WHERE embedding IS NULL LIMIT $1`, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDBUnavailable, "sources_missing_embedding", err)
	}
	defer rows.Close()
	var out []models.SourceCode
	for rows.Next() {
		var r sourceRow
		if err := rows.StructScan(&r); err != nil {
			return nil, apperr.Wrap(apperr.KindDBUnavailable, "sources_missing_embedding scan", err)
		}
		out = append(out, r.toModel())
	}
	return out, rows.Err()
}

func (s *PostgresStore) TargetsMissingEmbedding(ctx context.Context, limit int) ([]models.TargetCode, error) {
	rows, err := s.db.QueryxContext(ctx,
		`SELECT id, code, title, definition, category, parent_code, synonyms, inclusions,
		        exclusions, traditional_systems, embedding
		 FROM target_codes WHERE embedding IS NULL LIMIT $1`, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDBUnavailable, "targets_missing_embedding", err)
	}
	defer rows.Close()
	var out []models.TargetCode
	for rows.Next() {
		var r targetRow
		if err := rows.StructScan(&r); err != nil {
			return nil, apperr.Wrap(apperr.KindDBUnavailable, "targets_missing_embedding scan", err)
		}
		out = append(out, r.toModel())
	}
	return out, rows.Err()
}

func (s *PostgresStore) SetSourceEmbedding(ctx context.Context, id string, vec []float32) error {
	v := pgvector.NewVector(vec)
	_, err := s.db.ExecContext(ctx, `UPDATE source_codes SET embedding = $2, updated_at = now() WHERE id = $1`, id, v)
	if err != nil {
		return apperr.Wrap(apperr.KindDBUnavailable, "set_source_embedding", err)
	}
	return nil
}

func (s *PostgresStore) SetTargetEmbedding(ctx context.Context, id string, vec []float32) error {
	v := pgvector.NewVector(vec)
	_, err := s.db.ExecContext(ctx, `UPDATE target_codes SET embedding = $2, updated_at = now() WHERE id = $1`, id, v)
	if err != nil {
		return apperr.Wrap(apperr.KindDBUnavailable, "set_target_embedding", err)
	}
	return nil
}

// --- audit ----------------------------------------------------------------------------

func (s *PostgresStore) RecordAudit(ctx context.Context, r models.AuditRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_logs (action, resource_type, resource_id, actor, ip, user_agent, method,
		                          path, request_body, response_status, duration_ms, metadata)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		r.Action, r.ResourceType, nullable(r.ResourceID), nullable(r.Actor), nullable(r.IP),
		nullable(r.UserAgent), nullable(r.Method), nullable(r.Path), nullable(r.RequestBody),
		r.ResponseStatus, r.DurationMS, jsonbOrNil(r.Metadata))
	if err != nil {
		return apperr.Wrap(apperr.KindDBUnavailable, "record_audit", err)
	}
	return nil
}

func (s *PostgresStore) ListAudit(ctx context.Context, page, limit int) (models.Page[models.AuditRecord], error) {
	var total int
	if err := s.db.GetContext(ctx, &total, `SELECT count(*) FROM audit_logs`); err != nil {
		return models.Page[models.AuditRecord]{}, apperr.Wrap(apperr.KindDBUnavailable, "list_audit count", err)
	}

	rows, err := s.db.QueryxContext(ctx,
		`SELECT action, resource_type, resource_id, actor, ip, user_agent, method, path,
		        request_body, response_status, duration_ms, created_at
		 FROM audit_logs ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, (page-1)*limit)
	if err != nil {
		return models.Page[models.AuditRecord]{}, apperr.Wrap(apperr.KindDBUnavailable, "list_audit", err)
	}
	defer rows.Close()

	var items []models.AuditRecord
	for rows.Next() {
		var r struct {
			Action         string         `db:"action"`
			ResourceType   string         `db:"resource_type"`
			ResourceID     sql.NullString `db:"resource_id"`
			Actor          sql.NullString `db:"actor"`
			IP             sql.NullString `db:"ip"`
			UserAgent      sql.NullString `db:"user_agent"`
			Method         sql.NullString `db:"method"`
			Path           sql.NullString `db:"path"`
			RequestBody    sql.NullString `db:"request_body"`
			ResponseStatus sql.NullInt64  `db:"response_status"`
			DurationMS     sql.NullInt64  `db:"duration_ms"`
			CreatedAt      time.Time      `db:"created_at"`
		}
		if err := rows.StructScan(&r); err != nil {
			return models.Page[models.AuditRecord]{}, apperr.Wrap(apperr.KindDBUnavailable, "list_audit scan", err)
		}
		items = append(items, models.AuditRecord{
			Action:         r.Action,
			ResourceType:   r.ResourceType,
			ResourceID:     r.ResourceID.String,
			Actor:          r.Actor.String,
			IP:             r.IP.String,
			UserAgent:      r.UserAgent.String,
			Method:         r.Method.String,
			Path:           r.Path.String,
			RequestBody:    r.RequestBody.String,
			ResponseStatus: int(r.ResponseStatus.Int64),
			DurationMS:     r.DurationMS.Int64,
			CreatedAt:      r.CreatedAt,
		})
	}
	return models.Page[models.AuditRecord]{Items: items, TotalCount: total, Page: page, Limit: limit}, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func jsonbOrNil(m map[string]any) any {
	if len(m) == 0 {
		return nil
	}
	return m
}
