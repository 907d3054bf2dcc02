// Package jobqueue runs batch mapping jobs: a bounded in-process FIFO
// with K concurrent workers, sequential per-job item processing, a
// small inter-item delay, cancellation, progress events and an
// optional completion webhook. Jobs are in-memory only; they do not
// survive a restart.
package jobqueue

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tm2bridge/tm2bridge/internal/apperr"
	"github.com/tm2bridge/tm2bridge/internal/metrics"
	"github.com/tm2bridge/tm2bridge/internal/models"
	"github.com/tm2bridge/tm2bridge/internal/pipeline"
	"github.com/tm2bridge/tm2bridge/internal/store"
)

// defaultItemDelay is used when New is given a zero delay.
const defaultItemDelay = 500 * time.Millisecond

// Item is one code submitted as part of a batch job.
type Item struct {
	Code   string
	System models.System
}

// SubmitRequest is the admission-time payload.
type SubmitRequest struct {
	Items       []Item
	Actor       string
	CallbackURL string
	SaveResults bool
}

// ProgressListener receives a best-effort notification after each item
// completes. Implementations must not block; delivery failures are not
// retried.
type ProgressListener func(job *models.BatchJob)

type job struct {
	record     *models.BatchJob
	cancelCh   chan struct{}
	cancelOnce sync.Once
	doneAt     time.Time
}

// Queue is the bounded in-process FIFO job runner.
type Queue struct {
	store     store.Store
	pipeline  *pipeline.Pipeline
	maxConc   int
	itemDelay time.Duration
	retention time.Duration

	mu       sync.Mutex
	jobs     map[string]*job
	pending  []string
	active   int

	listener ProgressListener
	admit    chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	httpClient *http.Client
}

func New(st store.Store, pl *pipeline.Pipeline, maxConcurrent int, itemDelay, retention time.Duration, listener ProgressListener) *Queue {
	if itemDelay <= 0 {
		itemDelay = defaultItemDelay
	}
	q := &Queue{
		store:      st,
		pipeline:   pl,
		maxConc:    maxConcurrent,
		itemDelay:  itemDelay,
		retention:  retention,
		jobs:       make(map[string]*job),
		listener:   listener,
		admit:      make(chan struct{}, 1),
		stopCh:     make(chan struct{}),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	q.wg.Add(1)
	go q.driveLoop()
	q.wg.Add(1)
	go q.reapLoop()
	return q
}

// Submit enqueues a job and returns its initial record (status PENDING).
func (q *Queue) Submit(req SubmitRequest) *models.BatchJob {
	items := make([]models.BatchItem, len(req.Items))
	for i, it := range req.Items {
		items[i] = models.BatchItem{Code: it.Code, System: it.System, Status: models.BatchItemPending}
	}

	record := &models.BatchJob{
		ID:          uuid.NewString(),
		Status:      models.JobPending,
		Items:       items,
		Progress:    models.JobProgress{Total: len(items)},
		CreatedAt:   time.Now(),
		Actor:       req.Actor,
		CallbackURL: req.CallbackURL,
		SaveResults: req.SaveResults,
	}

	q.mu.Lock()
	q.jobs[record.ID] = &job{record: record}
	q.pending = append(q.pending, record.ID)
	metrics.JobQueueDepth.Set(float64(len(q.pending)))
	q.mu.Unlock()

	q.wake()
	return record
}

// Get returns a copy of the job's current record.
func (q *Queue) Get(id string) (*models.BatchJob, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[id]
	if !ok {
		return nil, false
	}
	copied := *j.record
	return &copied, true
}

// Cancel marks a PENDING or PROCESSING job CANCELLED. Returns false if
// the job is not found or already terminal.
func (q *Queue) Cancel(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[id]
	if !ok {
		return false
	}
	switch j.record.Status {
	case models.JobPending:
		j.record.Status = models.JobCancelled
		now := time.Now()
		j.record.CompletedAt = &now
		q.removePending(id)
		metrics.JobQueueDepth.Set(float64(len(q.pending)))
		return true
	case models.JobProcessing:
		// Stops admission of subsequent items; the item already in
		// flight runs to completion.
		if j.cancelCh != nil {
			j.cancelOnce.Do(func() { close(j.cancelCh) })
		}
		return true
	default:
		return false
	}
}

func (q *Queue) removePending(id string) {
	out := q.pending[:0]
	for _, p := range q.pending {
		if p != id {
			out = append(out, p)
		}
	}
	q.pending = out
}

func (q *Queue) wake() {
	select {
	case q.admit <- struct{}{}:
	default:
	}
}

// Stop signals the driver and reap loops to stop and waits for them.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() { close(q.stopCh) })
	q.wg.Wait()
}

// driveLoop admits up to maxConc jobs concurrently from the FIFO.
func (q *Queue) driveLoop() {
	defer q.wg.Done()
	for {
		select {
		case <-q.stopCh:
			return
		case <-q.admit:
		case <-time.After(200 * time.Millisecond):
		}
		for {
			id, ok := q.tryClaim()
			if !ok {
				break
			}
			q.wg.Add(1)
			go q.runJob(id)
		}
	}
}

func (q *Queue) tryClaim() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.active >= q.maxConc || len(q.pending) == 0 {
		return "", false
	}
	id := q.pending[0]
	q.pending = q.pending[1:]
	q.active++
	metrics.JobQueueDepth.Set(float64(len(q.pending)))
	metrics.JobQueueActive.Set(float64(q.active))
	return id, true
}

func (q *Queue) runJob(id string) {
	defer q.wg.Done()
	defer func() {
		q.mu.Lock()
		q.active--
		metrics.JobQueueActive.Set(float64(q.active))
		q.mu.Unlock()
		q.wake()
	}()

	q.mu.Lock()
	j := q.jobs[id]
	j.cancelCh = make(chan struct{})
	j.record.Status = models.JobProcessing
	now := time.Now()
	j.record.StartedAt = &now
	q.mu.Unlock()

	// Each item runs on its own context so a cancel request only
	// prevents the next item from starting; the item already running
	// is allowed to complete.
	cancelled := false
	for i := range j.record.Items {
		select {
		case <-j.cancelCh:
			cancelled = true
		default:
		}
		if cancelled {
			break
		}

		itemCtx, itemCancel := context.WithCancel(context.Background())
		q.processItem(itemCtx, j, i)
		itemCancel()
		q.notify(j.record)

		if i < len(j.record.Items)-1 {
			select {
			case <-j.cancelCh:
			case <-time.After(q.itemDelay):
			}
		}
	}

	q.finish(j, cancelled)
}

func (q *Queue) processItem(ctx context.Context, j *job, idx int) {
	item := &j.record.Items[idx]

	sourcePtr, err := q.store.FindSource(ctx, item.Code, item.System)
	if err != nil {
		item.Status = models.BatchItemFailed
		if apperr.KindOf(err) == apperr.KindNotFound {
			item.Error = "code not found"
		} else {
			item.Error = err.Error()
		}
		j.record.Progress.Completed++
		j.record.Progress.Failed++
		return
	}
	source := *sourcePtr

	result, err := q.pipeline.Run(ctx, source)
	if err != nil {
		item.Status = models.BatchItemFailed
		item.Error = err.Error()
		j.record.Progress.Completed++
		j.record.Progress.Failed++
		return
	}

	item.Status = models.BatchItemCompleted
	item.Result = &models.TranslateResult{
		Source:      source,
		Target:      result.Target,
		Equivalence: result.Equivalence,
		Confidence:  result.Confidence,
		Reasoning:   result.Reasoning,
	}
	j.record.Progress.Completed++
	j.record.Progress.Successful++

	if j.record.SaveResults && result.Target != nil {
		_, err := q.store.UpsertMapping(ctx, source.ID, result.Target.ID, store.UpsertMappingFields{
			Equivalence:   result.Equivalence,
			Confidence:    result.Confidence,
			MappingSource: models.MappingSourceAIValidated,
			Reasoning:     result.Reasoning,
		})
		if err != nil {
			slog.Error("batch job failed to persist mapping", "job_id", j.record.ID, "code", item.Code, "error", err)
		}
	}
}

func (q *Queue) finish(j *job, cancelled bool) {
	q.mu.Lock()
	now := time.Now()
	j.record.CompletedAt = &now
	j.doneAt = now

	switch {
	case cancelled:
		j.record.Status = models.JobCancelled
	case j.record.Progress.Successful > 0:
		j.record.Status = models.JobCompleted
	default:
		j.record.Status = models.JobFailed
	}
	record := *j.record
	q.mu.Unlock()

	q.notify(&record)

	if record.CallbackURL != "" {
		go q.postCallback(&record)
	}
}

func (q *Queue) notify(r *models.BatchJob) {
	if q.listener == nil {
		return
	}
	copied := *r
	q.listener(&copied)
}

type callbackPayload struct {
	JobID       string             `json:"job_id"`
	Status      models.JobStatus   `json:"status"`
	Progress    models.JobProgress `json:"progress"`
	CompletedAt *time.Time         `json:"completed_at"`
}

func (q *Queue) postCallback(r *models.BatchJob) {
	body, err := json.Marshal(callbackPayload{JobID: r.ID, Status: r.Status, Progress: r.Progress, CompletedAt: r.CompletedAt})
	if err != nil {
		slog.Error("batch job callback encode failed", "job_id", r.ID, "error", err)
		return
	}
	resp, err := q.httpClient.Post(r.CallbackURL, "application/json", bytes.NewReader(body))
	if err != nil {
		slog.Error("batch job callback delivery failed", "job_id", r.ID, "error", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		slog.Error("batch job callback rejected", "job_id", r.ID, "status", resp.StatusCode)
	}
}

// reapLoop discards terminal jobs older than the retention window.
func (q *Queue) reapLoop() {
	defer q.wg.Done()
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-q.stopCh:
			return
		case <-ticker.C:
			q.reap()
		}
	}
}

func (q *Queue) reap() {
	cutoff := time.Now().Add(-q.retention)
	q.mu.Lock()
	defer q.mu.Unlock()
	for id, j := range q.jobs {
		if j.doneAt.IsZero() {
			continue
		}
		if j.doneAt.Before(cutoff) {
			delete(q.jobs, id)
		}
	}
}
