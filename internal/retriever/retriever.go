// Package retriever implements the three-tier candidate retrieval
// algorithm: vector similarity, falling back to lexical full-text,
// falling back to keyword-token containment.
package retriever

import (
	"context"
	"strings"

	"github.com/tm2bridge/tm2bridge/internal/store"
)

const (
	topK            = 10
	keywordK        = 15
	vectorMinSim    = 0.5
	minKeywordLen   = 3
	maxKeywords     = 5
)

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "from": true,
	"that": true, "this": true, "disorder": true, "disease": true,
}

// Candidate is the retriever's output: a ranked list of targets with
// the retrieval-method-specific score that produced the ranking.
type Candidate = store.ScoredTarget

// Retriever is the component the mapping pipeline's Search step calls.
type Retriever struct {
	store store.Store
}

func New(st store.Store) *Retriever {
	return &Retriever{store: st}
}

// Retrieve runs the deterministic three-tier fallback described in the
// component design and returns up to K=10 ranked candidates. embedding
// is the already-computed query embedding (may be nil if the pipeline's
// embed step failed); when non-nil it is used directly so the retriever
// never re-embeds.
func (r *Retriever) Retrieve(ctx context.Context, text string, embedding []float32) ([]Candidate, error) {
	if len(embedding) > 0 {
		vecHits, err := r.store.SearchTargetByVector(ctx, embedding, topK, vectorMinSim)
		if err != nil {
			return nil, err
		}
		if len(vecHits) >= 1 {
			return vecHits, nil
		}
	}

	ftHits, err := r.store.SearchTargetFulltext(ctx, text, topK)
	if err != nil {
		return nil, err
	}
	if len(ftHits) >= 1 {
		return ftHits, nil
	}

	keywords := deriveKeywords(text)
	if len(keywords) == 0 {
		return nil, nil
	}

	kwHits, err := r.store.SearchTargetByKeywords(ctx, keywords, keywordK)
	if err != nil {
		return nil, err
	}
	if len(kwHits) > topK {
		kwHits = kwHits[:topK]
	}
	return kwHits, nil
}

func deriveKeywords(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || r == '-' || r == '|'
	})

	var out []string
	for _, f := range fields {
		f = strings.ToLower(f)
		if len(f) <= minKeywordLen {
			continue
		}
		if stopWords[f] {
			continue
		}
		out = append(out, f)
		if len(out) == maxKeywords {
			break
		}
	}
	return out
}
