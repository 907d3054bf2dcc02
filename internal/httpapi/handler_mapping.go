package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	echo "github.com/labstack/echo/v5"

	"github.com/tm2bridge/tm2bridge/internal/apperr"
	"github.com/tm2bridge/tm2bridge/internal/cache"
	"github.com/tm2bridge/tm2bridge/internal/models"
	"github.com/tm2bridge/tm2bridge/internal/pipeline"
	"github.com/tm2bridge/tm2bridge/internal/store"
)

var validate = validator.New()

// translateHandler handles POST /mapping: the interactive single-code
// translate, cache-first, falling through to the mapping pipeline.
func (s *Server) translateHandler(c *echo.Context) error {
	var req translateRequest
	if err := c.Bind(&req); err != nil {
		return writeAppError(c, apperr.New(apperr.KindValidation, "malformed request body"))
	}
	if err := validate.Struct(req); err != nil {
		return writeAppError(c, apperr.Wrap(apperr.KindValidation, "invalid request", err))
	}

	system := models.System(req.System)
	ctx, cancel := context.WithTimeout(c.Request().Context(), s.cfg.RequestDeadline)
	defer cancel()

	start := time.Now()

	key := cache.MappingKey(req.System, req.Code)
	if cached, ok := s.caches.Mappings.Get(key); ok {
		state := cached.(*pipeline.State)
		return c.JSON(http.StatusOK, translateResponse{
			Success: true,
			Source:  "cached",
			Mapping: mappingBody{
				Source:      toSourceSummary(state.Source),
				Target:      toTargetSummary(state.Target),
				Equivalence: string(state.Equivalence),
				Confidence:  state.Confidence,
				Reasoning:   state.Reasoning,
			},
			ProcessingTimeMS: time.Since(start).Milliseconds(),
		})
	}

	source, err := s.store.FindSource(ctx, req.Code, system)
	if err != nil {
		return writeAppError(c, err)
	}

	result, err := s.pipeline.Run(ctx, *source)
	if err != nil {
		if ctx.Err() != nil {
			return writeAppError(c, pipeline.DeadlineError())
		}
		return writeAppError(c, err)
	}

	body := mappingBody{
		Source:      toSourceSummary(*source),
		Target:      toTargetSummary(result.Target),
		Equivalence: string(result.Equivalence),
		Confidence:  result.Confidence,
		Reasoning:   result.Reasoning,
	}

	if result.Target != nil {
		mappingSource := models.MappingSourceAIValidated
		if _, err := s.store.UpsertMapping(ctx, source.ID, result.Target.ID, store.UpsertMappingFields{
			Equivalence:   result.Equivalence,
			Confidence:    result.Confidence,
			MappingSource: mappingSource,
			Reasoning:     result.Reasoning,
		}); err != nil {
			// Persistence failures after a successful adjudication are
			// swallowed: the caller still gets the mapping.
			s.caches.Mappings.Invalidate(key)
		} else {
			s.caches.Mappings.Set(key, result)
		}
	}

	return c.JSON(http.StatusOK, translateResponse{
		Success:          result.Target != nil,
		Source:           "ai_workflow",
		Mapping:          body,
		ProcessingTimeMS: time.Since(start).Milliseconds(),
	})
}

// listMappingsHandler handles GET /mapping.
func (s *Server) listMappingsHandler(c *echo.Context) error {
	filters := models.MappingFilters{}
	if v := c.QueryParam("system"); v != "" {
		filters.System = models.System(v)
	}
	if v := c.QueryParam("status"); v != "" {
		filters.Equivalence = models.Equivalence(v)
	}
	if v := c.QueryParam("min_confidence"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			filters.MinConfidence = &f
		}
	}

	page := queryInt(c, "page", 1)
	limit := queryInt(c, "limit", 20)
	if limit > 100 {
		limit = 100
	}

	result, err := s.store.ListMappings(c.Request().Context(), filters, page, limit, "created_at")
	if err != nil {
		return writeAppError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// exportMappingsHandler handles GET /mapping/export — a CSV/NDJSON dump
// of resolved mappings, supplementing the distilled list-only surface.
func (s *Server) exportMappingsHandler(c *echo.Context) error {
	format := c.QueryParam("format")
	if format == "" {
		format = "ndjson"
	}

	page, limit := 1, 100
	var all []models.Mapping
	for {
		result, err := s.store.ListMappings(c.Request().Context(), models.MappingFilters{}, page, limit, "created_at")
		if err != nil {
			return writeAppError(c, err)
		}
		all = append(all, result.Items...)
		if len(result.Items) < limit {
			break
		}
		page++
	}

	if format == "csv" {
		return writeMappingsCSV(c, all)
	}
	return writeMappingsNDJSON(c, all)
}

func queryInt(c *echo.Context, key string, def int) int {
	v := c.QueryParam(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return def
	}
	return n
}
