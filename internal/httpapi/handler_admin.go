package httpapi

import (
	"context"
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v5"

	"github.com/tm2bridge/tm2bridge/internal/apperr"
	"github.com/tm2bridge/tm2bridge/internal/cache"
	"github.com/tm2bridge/tm2bridge/internal/models"
)

// adminCacheStatsHandler handles GET /admin/cache/stats.
func (s *Server) adminCacheStatsHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, statsByName(s.caches))
}

func statsByName(c *cache.Caches) map[string]cache.Stats {
	out := make(map[string]cache.Stats, 4)
	for name, named := range c.All() {
		out[name] = named.Stats()
	}
	return out
}

// adminCacheClearHandler handles POST /admin/cache/clear?name=. Clears
// every named cache when name is omitted.
func (s *Server) adminCacheClearHandler(c *echo.Context) error {
	name := c.QueryParam("name")
	all := s.caches.All()

	if name == "" {
		for _, named := range all {
			named.Clear()
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "cleared all"})
	}

	named, ok := all[name]
	if !ok {
		return writeAppError(c, apperr.New(apperr.KindValidation, "unknown cache name '"+name+"'"))
	}
	named.Clear()
	return c.JSON(http.StatusOK, map[string]string{"status": "cleared " + name})
}

// adminAuditHandler handles GET /admin/audit?page=&limit=.
func (s *Server) adminAuditHandler(c *echo.Context) error {
	page := queryInt(c, "page", 1)
	limit := queryInt(c, "limit", 50)
	if limit > 200 {
		limit = 200
	}

	result, err := s.store.ListAudit(c.Request().Context(), page, limit)
	if err != nil {
		return writeAppError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// adminEmbeddingStatsHandler handles GET /admin/embeddings/stats.
func (s *Server) adminEmbeddingStatsHandler(c *echo.Context) error {
	ctx := c.Request().Context()

	source, err := s.store.SourceEmbeddingCoverage(ctx)
	if err != nil {
		return writeAppError(c, err)
	}
	target, err := s.store.TargetEmbeddingCoverage(ctx)
	if err != nil {
		return writeAppError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"source": map[string]any{
			"total":            source.Total,
			"with_vector":      source.WithVector,
			"coverage_percent": source.Percentage(),
		},
		"target": map[string]any{
			"total":            target.Total,
			"with_vector":      target.WithVector,
			"coverage_percent": target.Percentage(),
		},
	})
}

// adminRateLimitStatsHandler handles GET /admin/rate-limit/stats.
func (s *Server) adminRateLimitStatsHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, s.limiter.Snapshot())
}

// adminWHOProbeHandler handles GET /admin/who-probe: runs the
// connectivity probe on demand rather than serving a cached result.
func (s *Server) adminWHOProbeHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, s.probe.Ping(c.Request().Context()))
}

const embeddingInitBatchSize = 500

// embeddingInitResult reports how many rows were backfilled.
type embeddingInitResult struct {
	SourcesEmbedded int `json:"sources_embedded"`
	TargetsEmbedded int `json:"targets_embedded"`
}

// adminEmbeddingsInitHandler handles POST /admin/embeddings/init: backfills
// the embedding column for every source/target row that has none, one
// bounded batch per call so a large catalog doesn't block the request
// indefinitely; call it repeatedly until admin/embeddings/stats reports
// full coverage.
func (s *Server) adminEmbeddingsInitHandler(c *echo.Context) error {
	ctx := c.Request().Context()
	limit := queryInt(c, "limit", embeddingInitBatchSize)
	if limit > embeddingInitBatchSize {
		limit = embeddingInitBatchSize
	}

	result := embeddingInitResult{}

	sources, err := s.store.SourcesMissingEmbedding(ctx, limit)
	if err != nil {
		return writeAppError(c, err)
	}
	if n, err := s.embedSources(ctx, sources); err != nil {
		return writeAppError(c, err)
	} else {
		result.SourcesEmbedded = n
	}

	targets, err := s.store.TargetsMissingEmbedding(ctx, limit)
	if err != nil {
		return writeAppError(c, err)
	}
	if n, err := s.embedTargets(ctx, targets); err != nil {
		return writeAppError(c, err)
	} else {
		result.TargetsEmbedded = n
	}

	return c.JSON(http.StatusOK, result)
}

func (s *Server) embedSources(ctx context.Context, sources []models.SourceCode) (int, error) {
	if len(sources) == 0 {
		return 0, nil
	}
	texts := make([]string, len(sources))
	for i, src := range sources {
		texts[i] = sourceEmbeddingText(src)
	}
	vecs, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return 0, err
	}
	for i, src := range sources {
		if err := s.store.SetSourceEmbedding(ctx, src.ID, vecs[i]); err != nil {
			return i, err
		}
	}
	return len(sources), nil
}

func (s *Server) embedTargets(ctx context.Context, targets []models.TargetCode) (int, error) {
	if len(targets) == 0 {
		return 0, nil
	}
	texts := make([]string, len(targets))
	for i, t := range targets {
		texts[i] = targetEmbeddingText(t)
	}
	vecs, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return 0, err
	}
	for i, t := range targets {
		if err := s.store.SetTargetEmbedding(ctx, t.ID, vecs[i]); err != nil {
			return i, err
		}
	}
	return len(targets), nil
}

func sourceEmbeddingText(s models.SourceCode) string {
	for _, c := range []string{s.ShortDefinition, s.EnglishName, s.LongDefinition, s.SearchableText, s.Term} {
		if strings.TrimSpace(c) != "" {
			return c
		}
	}
	return s.Code
}

func targetEmbeddingText(t models.TargetCode) string {
	for _, c := range []string{t.Definition, t.Title} {
		if strings.TrimSpace(c) != "" {
			return c
		}
	}
	return t.Code
}
