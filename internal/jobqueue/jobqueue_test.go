package jobqueue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tm2bridge/tm2bridge/internal/apperr"
	"github.com/tm2bridge/tm2bridge/internal/llmadjudicator"
	"github.com/tm2bridge/tm2bridge/internal/models"
	"github.com/tm2bridge/tm2bridge/internal/pipeline"
	"github.com/tm2bridge/tm2bridge/internal/retriever"
	"github.com/tm2bridge/tm2bridge/internal/store"
)

type fakeStore struct {
	store.Store
	sources      map[string]models.SourceCode
	fulltextHits []store.ScoredTarget
}

func (f *fakeStore) FindSource(ctx context.Context, code string, system models.System) (*models.SourceCode, error) {
	if s, ok := f.sources[code]; ok {
		return &s, nil
	}
	return nil, apperr.ErrNotFound
}

func (f *fakeStore) SearchTargetByVector(ctx context.Context, vec []float32, k int, minSimilarity float64) ([]store.ScoredTarget, error) {
	return nil, nil
}
func (f *fakeStore) SearchTargetFulltext(ctx context.Context, query string, k int) ([]store.ScoredTarget, error) {
	return f.fulltextHits, nil
}
func (f *fakeStore) SearchTargetByKeywords(ctx context.Context, keywords []string, k int) ([]store.ScoredTarget, error) {
	return nil, nil
}
func (f *fakeStore) UpsertMapping(ctx context.Context, sourceID, targetID string, fields store.UpsertMappingFields) (*models.Mapping, error) {
	return &models.Mapping{}, nil
}

type noopEmbedder struct{}

func (noopEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error)    { return nil, nil }
func (noopEmbedder) EmbedDocument(ctx context.Context, text string) ([]float32, error) { return nil, nil }
func (noopEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, nil
}

type noopAdjudicator struct{}

func (noopAdjudicator) Adjudicate(ctx context.Context, source models.SourceCode, candidates []llmadjudicator.CandidateInput) (*llmadjudicator.Judgment, error) {
	return nil, nil
}

func newTestQueue(maxConc int, sources map[string]models.SourceCode) *Queue {
	st := &fakeStore{sources: sources}
	ret := retriever.New(st)
	pl := pipeline.New(noopEmbedder{}, ret, noopAdjudicator{}, nil)
	return New(st, pl, maxConc, time.Millisecond, 24*time.Hour, nil)
}

func awaitTerminal(t *testing.T, q *Queue, id string) *models.BatchJob {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		j, ok := q.Get(id)
		require.True(t, ok)
		switch j.Status {
		case models.JobCompleted, models.JobFailed, models.JobCancelled:
			return j
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s did not reach a terminal state in time", id)
	return nil
}

func TestSubmit_RunsAllItemsAndCompletes(t *testing.T) {
	q := newTestQueue(2, map[string]models.SourceCode{
		"AY-1": {ID: "src-1", Code: "AY-1", System: models.SystemAyurveda, Term: "Vata"},
	})
	defer q.Stop()

	job := q.Submit(SubmitRequest{Items: []Item{{Code: "AY-1", System: models.SystemAyurveda}}})
	assert.Equal(t, models.JobPending, job.Status)

	final := awaitTerminal(t, q, job.ID)
	assert.Equal(t, models.JobCompleted, final.Status)
	assert.Equal(t, 1, final.Progress.Completed)
	assert.Equal(t, 1, final.Progress.Successful)
}

func TestSubmit_UnknownCodeFailsItem(t *testing.T) {
	q := newTestQueue(2, map[string]models.SourceCode{})
	defer q.Stop()

	job := q.Submit(SubmitRequest{Items: []Item{{Code: "missing", System: models.SystemAyurveda}}})

	final := awaitTerminal(t, q, job.ID)
	assert.Equal(t, models.JobFailed, final.Status)
	assert.Equal(t, models.BatchItemFailed, final.Items[0].Status)
	assert.Equal(t, "code not found", final.Items[0].Error)
}

func TestCancel_PendingJobCancelsImmediately(t *testing.T) {
	q := newTestQueue(0, nil) // maxConc 0: nothing ever gets claimed
	defer q.Stop()

	job := q.Submit(SubmitRequest{Items: []Item{{Code: "AY-1", System: models.SystemAyurveda}}})
	require.True(t, q.Cancel(job.ID))

	got, ok := q.Get(job.ID)
	require.True(t, ok)
	assert.Equal(t, models.JobCancelled, got.Status)
}

func TestCancel_UnknownJobReturnsFalse(t *testing.T) {
	q := newTestQueue(1, nil)
	defer q.Stop()
	assert.False(t, q.Cancel("does-not-exist"))
}

// blockingAdjudicator lets a test pause the pipeline mid-item: it
// signals entered once called, then waits for proceed.
type blockingAdjudicator struct {
	entered chan struct{}
	proceed chan struct{}
}

func (a *blockingAdjudicator) Adjudicate(ctx context.Context, source models.SourceCode, candidates []llmadjudicator.CandidateInput) (*llmadjudicator.Judgment, error) {
	close(a.entered)
	<-a.proceed
	return &llmadjudicator.Judgment{SelectedCode: candidates[0].Code, Confidence: 0.7, Equivalence: models.EquivalenceInexact, Reasoning: "ok"}, nil
}

func TestCancel_ProcessingJobLetsCurrentItemComplete(t *testing.T) {
	adj := &blockingAdjudicator{entered: make(chan struct{}), proceed: make(chan struct{})}
	target := models.TargetCode{ID: "tgt-1", Code: "TM2-1", Title: "title"}
	st := &fakeStore{
		sources: map[string]models.SourceCode{
			"AY-1": {ID: "src-1", Code: "AY-1", System: models.SystemAyurveda, Term: "Vata"},
			"AY-2": {ID: "src-2", Code: "AY-2", System: models.SystemAyurveda, Term: "Pitta"},
		},
		fulltextHits: []store.ScoredTarget{{Target: target, Score: 0.5}},
	}
	ret := retriever.New(st)
	pl := pipeline.New(noopEmbedder{}, ret, adj, nil)
	q := New(st, pl, 1, time.Millisecond, 24*time.Hour, nil)
	defer q.Stop()

	job := q.Submit(SubmitRequest{Items: []Item{
		{Code: "AY-1", System: models.SystemAyurveda},
		{Code: "AY-2", System: models.SystemAyurveda},
	}})

	select {
	case <-adj.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("first item never reached the adjudicator")
	}

	require.True(t, q.Cancel(job.ID))
	close(adj.proceed)

	final := awaitTerminal(t, q, job.ID)
	assert.Equal(t, models.JobCancelled, final.Status)
	assert.Equal(t, models.BatchItemCompleted, final.Items[0].Status)
	assert.Equal(t, models.BatchItemPending, final.Items[1].Status)
}
