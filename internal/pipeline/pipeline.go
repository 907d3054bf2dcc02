// Package pipeline implements the mapping pipeline's linear state
// machine: normalize → embed → search → route → (bypass | adjudicate).
// Persistence and the mappings cache are handled outside the pipeline,
// in the handler; the pipeline itself only uses the embeddings cache.
package pipeline

import (
	"strings"
	"time"

	"context"

	"github.com/tm2bridge/tm2bridge/internal/apperr"
	"github.com/tm2bridge/tm2bridge/internal/cache"
	"github.com/tm2bridge/tm2bridge/internal/embedder"
	"github.com/tm2bridge/tm2bridge/internal/llmadjudicator"
	"github.com/tm2bridge/tm2bridge/internal/metrics"
	"github.com/tm2bridge/tm2bridge/internal/models"
	"github.com/tm2bridge/tm2bridge/internal/retriever"
)

const (
	highConfidenceThreshold = 0.9
	highConfidenceFloor     = 0.85
	adjudicateCandidateMax  = 3
)

// State is the per-request ephemeral pipeline state. It never leaks
// across requests.
type State struct {
	Source     models.SourceCode
	Normalized string
	Embedding  []float32
	Candidates []retriever.Candidate

	Target      *models.TargetCode
	Confidence  float64
	Equivalence models.Equivalence
	Reasoning   string

	Errors    []string
	ElapsedMS int64
}

// Pipeline wires the embedder, retriever and adjudicator together.
type Pipeline struct {
	embedder    embedder.Embedder
	retriever   *retriever.Retriever
	adjudicator llmadjudicator.Adjudicator
	caches      *cache.Caches
}

func New(emb embedder.Embedder, ret *retriever.Retriever, adj llmadjudicator.Adjudicator, caches *cache.Caches) *Pipeline {
	return &Pipeline{embedder: emb, retriever: ret, adjudicator: adj, caches: caches}
}

// Run executes the full state machine for one source code and returns
// the terminal state. It never returns an error for degraded paths
// (embed/adjudicate failure); those are recorded in State.Errors and
// the pipeline still reaches a terminal outcome. It returns an error
// only if ctx is already done or the retriever itself fails (a Store
// failure, which the caller should treat as 5xx, not as UNMATCHED).
func (p *Pipeline) Run(ctx context.Context, source models.SourceCode) (*State, error) {
	start := time.Now()
	s := &State{Source: source}

	p.normalize(s)
	p.embed(ctx, s)

	if err := p.search(ctx, s); err != nil {
		return nil, err
	}

	p.route(ctx, s)

	s.ElapsedMS = time.Since(start).Milliseconds()
	metrics.PipelineOutcomesTotal.WithLabelValues(string(s.Equivalence)).Inc()
	metrics.PipelineDuration.Observe(time.Since(start).Seconds())
	return s, nil
}

// normalize builds the INIT → NORMALIZED transition.
func (p *Pipeline) normalize(s *State) {
	candidates := []string{
		s.Source.ShortDefinition, s.Source.EnglishName, s.Source.LongDefinition,
		s.Source.Term, s.Source.TermNormalized,
	}
	for _, c := range candidates {
		if strings.TrimSpace(c) != "" {
			s.Normalized = strings.ToLower(strings.TrimSpace(c))
			return
		}
	}
	s.Errors = append(s.Errors, "No text")
	s.Normalized = strings.ToLower(strings.TrimSpace(s.Source.Code))
}

// embed builds the NORMALIZED → EMBEDDED transition. Failures degrade
// gracefully: embedding becomes empty and retrieval falls through to
// the lexical/keyword tiers. The embeddings cache is consulted first,
// keyed on the first 100 characters of the normalized text.
func (p *Pipeline) embed(ctx context.Context, s *State) {
	var key string
	if p.caches != nil {
		key = cache.EmbeddingKey(s.Normalized)
		if cached, ok := p.caches.Embeddings.Get(key); ok {
			s.Embedding, _ = cached.([]float32)
			return
		}
	}

	vec, err := p.embedder.EmbedQuery(ctx, s.Normalized)
	if err != nil {
		s.Embedding = nil
		s.Errors = append(s.Errors, "embed failure: "+err.Error())
		return
	}
	s.Embedding = vec

	if p.caches != nil && vec != nil {
		p.caches.Embeddings.Set(key, vec)
	}
}

// search builds the EMBEDDED → SEARCHED transition.
func (p *Pipeline) search(ctx context.Context, s *State) error {
	candidates, err := p.retriever.Retrieve(ctx, s.Normalized, s.Embedding)
	if err != nil {
		return err
	}
	s.Candidates = candidates
	return nil
}

// route builds the SEARCHED → terminal transition, running the
// high-confidence bypass or the adjudicator as appropriate.
func (p *Pipeline) route(ctx context.Context, s *State) {
	if len(s.Candidates) == 0 {
		s.Target = nil
		s.Confidence = 0
		s.Equivalence = models.EquivalenceUnmatched
		s.Reasoning = "No candidates"
		return
	}

	top := s.Candidates[0]
	if top.Score > highConfidenceThreshold {
		p.highConfidenceBypass(s, top)
		return
	}
	p.adjudicate(ctx, s)
}

func (p *Pipeline) highConfidenceBypass(s *State, top retriever.Candidate) {
	target := top.Target
	s.Target = &target
	conf := top.Score
	if conf < highConfidenceFloor {
		conf = highConfidenceFloor
	}
	s.Confidence = conf
	s.Equivalence = models.EquivalenceEquivalent
	s.Reasoning = "High confidence text match"
}

func (p *Pipeline) adjudicate(ctx context.Context, s *State) {
	n := adjudicateCandidateMax
	if len(s.Candidates) < n {
		n = len(s.Candidates)
	}
	inputs := make([]llmadjudicator.CandidateInput, n)
	for i := 0; i < n; i++ {
		t := s.Candidates[i].Target
		inputs[i] = llmadjudicator.CandidateInput{Code: t.Code, Title: t.Title, Definition: t.Definition}
	}

	judgment, err := p.adjudicator.Adjudicate(ctx, s.Source, inputs)
	if err != nil {
		s.Errors = append(s.Errors, err.Error())
		top := s.Candidates[0].Target
		s.Target = &top
		s.Confidence = 0.5
		s.Equivalence = models.EquivalenceInexact
		s.Reasoning = "AI validation failed; using top search result"
		return
	}

	for i := 0; i < n; i++ {
		if s.Candidates[i].Target.Code == judgment.SelectedCode {
			t := s.Candidates[i].Target
			s.Target = &t
			break
		}
	}
	s.Confidence = judgment.Confidence
	s.Equivalence = judgment.Equivalence
	s.Reasoning = judgment.Reasoning
}

// DeadlineError wraps the 504 payload the handler returns on pipeline
// deadline expiry.
func DeadlineError() error {
	return apperr.Wrap(apperr.KindDeadline, "mapping timeout; retry via the async batch endpoint", nil)
}
