package httpapi

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/tm2bridge/tm2bridge/internal/apperr"
	"github.com/tm2bridge/tm2bridge/internal/jobqueue"
	"github.com/tm2bridge/tm2bridge/internal/models"
)

const maxSyncBatchSize = 100

// batchSyncHandler handles POST /mapping/batch: a lookup-only batch
// that returns existing mappings without running the pipeline.
func (s *Server) batchSyncHandler(c *echo.Context) error {
	var req batchSyncRequest
	if err := c.Bind(&req); err != nil {
		return writeAppError(c, apperr.New(apperr.KindValidation, "malformed request body"))
	}
	if len(req.Codes) > maxSyncBatchSize {
		return writeAppError(c, apperr.New(apperr.KindValidation, "batch size exceeds maximum of 100"))
	}
	if err := validate.Struct(req); err != nil {
		return writeAppError(c, apperr.Wrap(apperr.KindValidation, "invalid request", err))
	}

	ctx := c.Request().Context()
	results := make([]batchSyncItemResult, 0, len(req.Codes))
	found := 0

	for _, item := range req.Codes {
		system := models.System(item.System)
		source, err := s.store.FindSource(ctx, item.Code, system)
		if err != nil {
			results = append(results, batchSyncItemResult{Code: item.Code, System: item.System, Found: false})
			continue
		}

		m, err := s.store.FindMappingBySource(ctx, source.ID)
		if err != nil {
			results = append(results, batchSyncItemResult{Code: item.Code, System: item.System, Found: false})
			continue
		}

		target, err := s.store.FindTarget(ctx, m.TargetRef)
		if err != nil {
			results = append(results, batchSyncItemResult{Code: item.Code, System: item.System, Found: false})
			continue
		}

		body := mappingBody{
			Source:      toSourceSummary(*source),
			Target:      toTargetSummary(target),
			Equivalence: string(m.Equivalence),
			Confidence:  m.Confidence,
			Reasoning:   m.Reasoning,
		}
		results = append(results, batchSyncItemResult{Code: item.Code, System: item.System, Found: true, Mapping: &body})
		found++
	}

	return c.JSON(http.StatusOK, batchSyncResponse{Total: len(req.Codes), Found: found, Results: results})
}

// batchAsyncHandler handles POST /mapping/batch/async: admits a job and
// returns immediately.
func (s *Server) batchAsyncHandler(c *echo.Context) error {
	var req batchAsyncRequest
	if err := c.Bind(&req); err != nil {
		return writeAppError(c, apperr.New(apperr.KindValidation, "malformed request body"))
	}
	if err := validate.Struct(req); err != nil {
		return writeAppError(c, apperr.Wrap(apperr.KindValidation, "invalid request", err))
	}

	items := make([]jobqueue.Item, len(req.Codes))
	for i, item := range req.Codes {
		items[i] = jobqueue.Item{Code: item.Code, System: models.System(item.System)}
	}

	job := s.jobs.Submit(jobqueue.SubmitRequest{
		Items:       items,
		Actor:       s.identity(c),
		CallbackURL: req.CallbackURL,
		SaveResults: req.SaveResults,
	})

	return c.JSON(http.StatusAccepted, jobStatusResponse{
		JobID:    job.ID,
		Status:   string(job.Status),
		Progress: toProgressBody(job.Progress),
	})
}

// batchStatusHandler handles GET /mapping/batch/:id.
func (s *Server) batchStatusHandler(c *echo.Context) error {
	job, ok := s.jobs.Get(c.Param("id"))
	if !ok {
		return writeAppError(c, apperr.ErrNotFound)
	}
	return c.JSON(http.StatusOK, jobStatusResponse{
		JobID:    job.ID,
		Status:   string(job.Status),
		Progress: toProgressBody(job.Progress),
	})
}

// batchResultsHandler handles GET /mapping/batch/:id/results.
func (s *Server) batchResultsHandler(c *echo.Context) error {
	job, ok := s.jobs.Get(c.Param("id"))
	if !ok {
		return writeAppError(c, apperr.ErrNotFound)
	}

	results := make([]batchItemResult, len(job.Items))
	for i, item := range job.Items {
		r := batchItemResult{Code: item.Code, System: string(item.System), Status: string(item.Status), Error: item.Error}
		if item.Result != nil {
			body := mappingBody{
				Source:      toSourceSummary(item.Result.Source),
				Target:      toTargetSummary(item.Result.Target),
				Equivalence: string(item.Result.Equivalence),
				Confidence:  item.Result.Confidence,
				Reasoning:   item.Result.Reasoning,
			}
			r.Mapping = &body
		}
		results[i] = r
	}

	return c.JSON(http.StatusOK, batchResultsResponse{JobID: job.ID, Status: string(job.Status), Results: results})
}

// batchCancelHandler handles DELETE /mapping/batch/:id.
func (s *Server) batchCancelHandler(c *echo.Context) error {
	if !s.jobs.Cancel(c.Param("id")) {
		return writeAppError(c, apperr.ErrNotFound)
	}
	return c.NoContent(http.StatusNoContent)
}
