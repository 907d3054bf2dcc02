package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tm2bridge/tm2bridge/internal/cache"
	"github.com/tm2bridge/tm2bridge/internal/embedder"
	"github.com/tm2bridge/tm2bridge/internal/llmadjudicator"
	"github.com/tm2bridge/tm2bridge/internal/models"
	"github.com/tm2bridge/tm2bridge/internal/retriever"
	"github.com/tm2bridge/tm2bridge/internal/store"
)

// fakeStore implements store.Store with only the retrieval methods the
// pipeline's retriever actually calls wired up; everything else panics
// if exercised, which would mean a test reached further than expected.
type fakeStore struct {
	store.Store
	vectorHits  []store.ScoredTarget
	fulltextHits []store.ScoredTarget
	keywordHits []store.ScoredTarget
}

func (f *fakeStore) SearchTargetByVector(ctx context.Context, vec []float32, k int, minSimilarity float64) ([]store.ScoredTarget, error) {
	return f.vectorHits, nil
}

func (f *fakeStore) SearchTargetFulltext(ctx context.Context, query string, k int) ([]store.ScoredTarget, error) {
	return f.fulltextHits, nil
}

func (f *fakeStore) SearchTargetByKeywords(ctx context.Context, keywords []string, k int) ([]store.ScoredTarget, error) {
	return f.keywordHits, nil
}

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return f.vec, f.err
}
func (f *fakeEmbedder) EmbedDocument(ctx context.Context, text string) ([]float32, error) {
	return f.vec, f.err
}
func (f *fakeEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vec
	}
	return out, f.err
}

type fakeAdjudicator struct {
	judgment *llmadjudicator.Judgment
	err      error
}

func (f *fakeAdjudicator) Adjudicate(ctx context.Context, source models.SourceCode, candidates []llmadjudicator.CandidateInput) (*llmadjudicator.Judgment, error) {
	return f.judgment, f.err
}

func target(code string) models.TargetCode {
	return models.TargetCode{ID: code, Code: code, Title: "title-" + code, Definition: "definition for " + code}
}

func newPipeline(t *testing.T, vectorHits []store.ScoredTarget, emb embedder.Embedder, adj llmadjudicator.Adjudicator) *Pipeline {
	t.Helper()
	st := &fakeStore{vectorHits: vectorHits}
	ret := retriever.New(st)
	return New(emb, ret, adj, nil)
}

func TestNormalize_FallsThroughToCode(t *testing.T) {
	p := &Pipeline{}
	s := &State{Source: models.SourceCode{Code: "AY-001"}}
	p.normalize(s)
	assert.Equal(t, "ay-001", s.Normalized)
	assert.Contains(t, s.Errors, "No text")
}

func TestNormalize_PrefersShortDefinition(t *testing.T) {
	p := &Pipeline{}
	s := &State{Source: models.SourceCode{
		Code:            "AY-001",
		Term:            "Vata Dosha",
		ShortDefinition: "  Imbalance Of Vata  ",
	}}
	p.normalize(s)
	assert.Equal(t, "imbalance of vata", s.Normalized)
	assert.Empty(t, s.Errors)
}

func TestRun_NoCandidatesYieldsUnmatched(t *testing.T) {
	p := newPipeline(t, nil, &fakeEmbedder{vec: []float32{0.1, 0.2}}, &fakeAdjudicator{})
	state, err := p.Run(context.Background(), models.SourceCode{Code: "X1", Term: "something"})
	require.NoError(t, err)
	assert.Nil(t, state.Target)
	assert.Equal(t, models.EquivalenceUnmatched, state.Equivalence)
	assert.Equal(t, "No candidates", state.Reasoning)
}

func TestRun_HighConfidenceBypassesAdjudicator(t *testing.T) {
	hits := []store.ScoredTarget{{Target: target("TM2-1"), Score: 0.95}}
	adj := &fakeAdjudicator{err: assertUnused{}}
	p := newPipeline(t, hits, &fakeEmbedder{vec: []float32{0.1}}, adj)

	state, err := p.Run(context.Background(), models.SourceCode{Code: "X1", Term: "something"})
	require.NoError(t, err)
	require.NotNil(t, state.Target)
	assert.Equal(t, "TM2-1", state.Target.Code)
	assert.Equal(t, models.EquivalenceEquivalent, state.Equivalence)
	assert.GreaterOrEqual(t, state.Confidence, highConfidenceFloor)
}

func TestHighConfidenceBypass_FloorsLowerScore(t *testing.T) {
	p := &Pipeline{}
	s := &State{}
	p.highConfidenceBypass(s, retriever.Candidate{Target: target("TM2-1"), Score: 0.8})
	assert.Equal(t, highConfidenceFloor, s.Confidence)
}

func TestRun_AdjudicatesBelowThreshold(t *testing.T) {
	hits := []store.ScoredTarget{{Target: target("TM2-1"), Score: 0.6}, {Target: target("TM2-2"), Score: 0.5}}
	judgment := &llmadjudicator.Judgment{SelectedCode: "TM2-2", Confidence: 0.8, Equivalence: models.EquivalenceWider, Reasoning: "close enough"}
	p := newPipeline(t, hits, &fakeEmbedder{vec: []float32{0.1}}, &fakeAdjudicator{judgment: judgment})

	state, err := p.Run(context.Background(), models.SourceCode{Code: "X1", Term: "something"})
	require.NoError(t, err)
	require.NotNil(t, state.Target)
	assert.Equal(t, "TM2-2", state.Target.Code)
	assert.Equal(t, models.EquivalenceWider, state.Equivalence)
	assert.Equal(t, 0.8, state.Confidence)
}

func TestRun_AdjudicatorFailureFallsBackToTopCandidate(t *testing.T) {
	hits := []store.ScoredTarget{{Target: target("TM2-1"), Score: 0.6}}
	p := newPipeline(t, hits, &fakeEmbedder{vec: []float32{0.1}}, &fakeAdjudicator{err: assertUnused{}})

	state, err := p.Run(context.Background(), models.SourceCode{Code: "X1", Term: "something"})
	require.NoError(t, err)
	require.NotNil(t, state.Target)
	assert.Equal(t, "TM2-1", state.Target.Code)
	assert.Equal(t, models.EquivalenceInexact, state.Equivalence)
	assert.Equal(t, 0.5, state.Confidence)
	assert.NotEmpty(t, state.Errors)
}

func TestRun_EmbedFailureDegradesGracefully(t *testing.T) {
	// With no embedding the vector tier is skipped, so the candidate has
	// to come from the full-text tier.
	hits := []store.ScoredTarget{{Target: target("TM2-1"), Score: 0.95}}
	st := &fakeStore{fulltextHits: hits}
	p := New(&fakeEmbedder{err: assertUnused{}}, retriever.New(st), &fakeAdjudicator{}, nil)

	state, err := p.Run(context.Background(), models.SourceCode{Code: "X1", Term: "something"})
	require.NoError(t, err)
	assert.Nil(t, state.Embedding)
	assert.NotEmpty(t, state.Errors)
	require.NotNil(t, state.Target)
}

// assertUnused is a trivial error used to simulate upstream failures
// without pulling in apperr construction details irrelevant to these tests.
type assertUnused struct{}

func (assertUnused) Error() string { return "simulated failure" }

// countingEmbedder counts EmbedQuery calls, to prove the embeddings
// cache is consulted before the embedder is invoked.
type countingEmbedder struct {
	fakeEmbedder
	calls int
}

func (c *countingEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	c.calls++
	return c.fakeEmbedder.EmbedQuery(ctx, text)
}

func TestEmbed_SecondCallWithSameTextHitsCache(t *testing.T) {
	caches := cache.NewCaches(10, time.Minute, 10, time.Minute, 10, time.Minute, 10, time.Minute)
	emb := &countingEmbedder{fakeEmbedder: fakeEmbedder{vec: []float32{0.1, 0.2}}}
	st := &fakeStore{}
	ret := retriever.New(st)
	p := New(emb, ret, &fakeAdjudicator{}, caches)

	s1 := &State{Source: models.SourceCode{Code: "X1", Term: "same text"}}
	p.normalize(s1)
	p.embed(context.Background(), s1)

	s2 := &State{Source: models.SourceCode{Code: "X2", Term: "same text"}}
	p.normalize(s2)
	p.embed(context.Background(), s2)

	assert.Equal(t, 1, emb.calls)
	assert.Equal(t, s1.Embedding, s2.Embedding)
}
