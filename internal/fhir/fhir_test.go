package fhir

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tm2bridge/tm2bridge/internal/apperr"
	"github.com/tm2bridge/tm2bridge/internal/cache"
	"github.com/tm2bridge/tm2bridge/internal/llmadjudicator"
	"github.com/tm2bridge/tm2bridge/internal/models"
	"github.com/tm2bridge/tm2bridge/internal/pipeline"
	"github.com/tm2bridge/tm2bridge/internal/retriever"
	"github.com/tm2bridge/tm2bridge/internal/store"
)

type fakeStore struct {
	store.Store
	sources      map[string]models.SourceCode // keyed by code
	targets      map[string]models.TargetCode // keyed by code
	expand       []models.SourceCode
	vectorHits   []store.ScoredTarget
	upsertCalled int
}

func (f *fakeStore) SearchTargetByVector(ctx context.Context, vec []float32, k int, minSimilarity float64) ([]store.ScoredTarget, error) {
	return f.vectorHits, nil
}
func (f *fakeStore) SearchTargetFulltext(ctx context.Context, query string, k int) ([]store.ScoredTarget, error) {
	return nil, nil
}
func (f *fakeStore) SearchTargetByKeywords(ctx context.Context, keywords []string, k int) ([]store.ScoredTarget, error) {
	return nil, nil
}
func (f *fakeStore) UpsertMapping(ctx context.Context, sourceID, targetID string, fields store.UpsertMappingFields) (*models.Mapping, error) {
	f.upsertCalled++
	return &models.Mapping{}, nil
}

type noopEmbedder struct{}

func (noopEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error)    { return []float32{0.1}, nil }
func (noopEmbedder) EmbedDocument(ctx context.Context, text string) ([]float32, error) { return nil, nil }
func (noopEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, nil
}

func (f *fakeStore) FindSource(ctx context.Context, code string, system models.System) (*models.SourceCode, error) {
	if s, ok := f.sources[code]; ok {
		return &s, nil
	}
	return nil, apperr.ErrNotFound
}

func (f *fakeStore) FindTarget(ctx context.Context, code string) (*models.TargetCode, error) {
	if tc, ok := f.targets[code]; ok {
		return &tc, nil
	}
	return nil, apperr.ErrNotFound
}

func (f *fakeStore) ExpandSource(ctx context.Context, filter string, count, offset int) ([]models.SourceCode, int, error) {
	return f.expand, len(f.expand), nil
}

func TestLookup_SourceFound(t *testing.T) {
	st := &fakeStore{sources: map[string]models.SourceCode{
		"AY-1": {Code: "AY-1", System: models.SystemAyurveda, Term: "Vata", EnglishName: "Wind humor", NativeScript: "वात"},
	}}
	f := New(st, nil, nil)

	body, err := f.Lookup(context.Background(), models.SystemAyurveda, "AY-1")
	require.NoError(t, err)
	assert.Equal(t, "Parameters", body["resourceType"])
}

func TestLookup_NotFoundReturnsOperationOutcome(t *testing.T) {
	st := &fakeStore{sources: map[string]models.SourceCode{}}
	f := New(st, nil, nil)

	body, err := f.Lookup(context.Background(), models.SystemAyurveda, "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Equal(t, "OperationOutcome", body["resourceType"])
}

func TestLookup_FallsBackToTargetWhenSystemInvalid(t *testing.T) {
	st := &fakeStore{targets: map[string]models.TargetCode{
		"TM2-1": {Code: "TM2-1", Title: "Disorder of wind"},
	}}
	f := New(st, nil, nil)

	body, err := f.Lookup(context.Background(), models.System(""), "TM2-1")
	require.NoError(t, err)
	assert.Equal(t, "Parameters", body["resourceType"])
}

func TestExpand_ReturnsTotalAndContains(t *testing.T) {
	st := &fakeStore{expand: []models.SourceCode{
		{Code: "AY-1", System: models.SystemAyurveda, Term: "Vata"},
		{Code: "AY-2", System: models.SystemAyurveda, Term: "Pitta"},
	}}
	f := New(st, nil, nil)

	body, err := f.Expand(context.Background(), "", 20, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, body["total"])
	contains, ok := body["contains"].([]any)
	require.True(t, ok)
	assert.Len(t, contains, 2)
}

func TestLowerEquivalence(t *testing.T) {
	assert.Equal(t, "equivalent", lowerEquivalence(models.EquivalenceEquivalent))
	assert.Equal(t, "unmatched", lowerEquivalence(models.EquivalenceUnmatched))
}

func newTestCaches() *cache.Caches {
	return cache.NewCaches(10, time.Minute, 10, time.Minute, 10, time.Minute, 10, time.Minute)
}

func TestTranslate_CacheHitSkipsPipeline(t *testing.T) {
	caches := newTestCaches()
	caches.Mappings.Set(cache.MappingKey("ayurveda", "AY-1"), &pipeline.State{
		Source:      models.SourceCode{Code: "AY-1"},
		Target:      &models.TargetCode{Code: "TM2-1", Title: "Disorder of wind"},
		Equivalence: models.EquivalenceEquivalent,
		Confidence:  0.95,
	})
	st := &fakeStore{} // FindSource would fail: proves the pipeline path is never reached
	f := New(st, nil, caches)

	body, err := f.Translate(context.Background(), models.SystemAyurveda, "AY-1")
	require.NoError(t, err)
	assert.Equal(t, true, body["parameter"].([]any)[0].(map[string]any)["valueBoolean"])
	assert.Equal(t, 0, st.upsertCalled)
}

func TestTranslate_MissPersistsAndPopulatesCache(t *testing.T) {
	caches := newTestCaches()
	st := &fakeStore{
		sources:    map[string]models.SourceCode{"AY-1": {ID: "src-1", Code: "AY-1", System: models.SystemAyurveda, Term: "Vata"}},
		vectorHits: []store.ScoredTarget{{Target: models.TargetCode{ID: "tgt-1", Code: "TM2-1", Title: "Disorder of wind"}, Score: 0.95}},
	}
	ret := retriever.New(st)
	pl := pipeline.New(noopEmbedder{}, ret, &noopAdjudicator{}, caches)
	f := New(st, pl, caches)

	body, err := f.Translate(context.Background(), models.SystemAyurveda, "AY-1")
	require.NoError(t, err)
	assert.Equal(t, true, body["parameter"].([]any)[0].(map[string]any)["valueBoolean"])
	assert.Equal(t, 1, st.upsertCalled)

	_, ok := caches.Mappings.Get(cache.MappingKey("ayurveda", "AY-1"))
	assert.True(t, ok)
}

type noopAdjudicator struct{}

func (noopAdjudicator) Adjudicate(ctx context.Context, source models.SourceCode, candidates []llmadjudicator.CandidateInput) (*llmadjudicator.Judgment, error) {
	return nil, nil
}
