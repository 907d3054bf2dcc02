// Package store defines the persistence contract and its Postgres
// implementation: source/target catalogs, resolved mappings, and the
// audit trail.
package store

import (
	"context"

	"github.com/tm2bridge/tm2bridge/internal/models"
)

// ScoredTarget pairs a target code with the retrieval score that
// produced it, in whatever units that retrieval method uses (cosine
// similarity, full-text rank, or keyword-overlap fraction).
type ScoredTarget struct {
	Target models.TargetCode
	Score  float64
}

// UpsertMappingFields are the fields a pipeline run wants written for a
// resolved (source, target) pair.
type UpsertMappingFields struct {
	Equivalence   models.Equivalence
	Confidence    float64
	MappingSource models.MappingSource
	Reasoning     string
}

// Store is the persistence contract described in the component design:
// every operation either returns a well-formed result or fails with an
// apperr.Kind of NotFound, Conflict, or DBUnavailable (transient).
type Store interface {
	FindSource(ctx context.Context, code string, system models.System) (*models.SourceCode, error)
	FindTarget(ctx context.Context, code string) (*models.TargetCode, error)

	SearchTargetFulltext(ctx context.Context, query string, k int) ([]ScoredTarget, error)
	SearchTargetByKeywords(ctx context.Context, keywords []string, k int) ([]ScoredTarget, error)
	SearchTargetByVector(ctx context.Context, vec []float32, k int, minSimilarity float64) ([]ScoredTarget, error)

	UpsertMapping(ctx context.Context, sourceID, targetID string, fields UpsertMappingFields) (*models.Mapping, error)
	FindMappingBySource(ctx context.Context, sourceID string) (*models.Mapping, error)
	ListMappings(ctx context.Context, filters models.MappingFilters, page, limit int, sort string) (models.Page[models.Mapping], error)
	AggregateMappingStats(ctx context.Context) (models.MappingStats, error)

	AutocompleteSource(ctx context.Context, q string, system models.System, limit int) ([]models.SourceCode, error)
	AutocompleteTarget(ctx context.Context, q string, limit int) ([]models.TargetCode, error)
	ExpandSource(ctx context.Context, filter string, count, offset int) ([]models.SourceCode, int, error)

	SourceEmbeddingCoverage(ctx context.Context) (models.EmbeddingCoverage, error)
	TargetEmbeddingCoverage(ctx context.Context) (models.EmbeddingCoverage, error)
	SourcesMissingEmbedding(ctx context.Context, limit int) ([]models.SourceCode, error)
	TargetsMissingEmbedding(ctx context.Context, limit int) ([]models.TargetCode, error)
	SetSourceEmbedding(ctx context.Context, id string, vec []float32) error
	SetTargetEmbedding(ctx context.Context, id string, vec []float32) error

	RecordAudit(ctx context.Context, record models.AuditRecord) error
	ListAudit(ctx context.Context, page, limit int) (models.Page[models.AuditRecord], error)

	Close()
}
