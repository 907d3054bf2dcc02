// Package llmadjudicator produces a structured judgment — selected
// target code, confidence, equivalence, rationale — from a compact
// prompt over the top candidates, via the Anthropic API.
package llmadjudicator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/tm2bridge/tm2bridge/internal/apperr"
	"github.com/tm2bridge/tm2bridge/internal/config"
	"github.com/tm2bridge/tm2bridge/internal/models"
)

// CandidateInput is the trimmed shape passed to the adjudicator for
// each candidate: code, title, and a truncated definition.
type CandidateInput struct {
	Code       string
	Title      string
	Definition string
}

// Judgment is the adjudicator's structured output.
type Judgment struct {
	SelectedCode string
	Confidence   float64
	Equivalence  models.Equivalence
	Reasoning    string
}

// Adjudicator is the contract the pipeline depends on.
type Adjudicator interface {
	Adjudicate(ctx context.Context, source models.SourceCode, candidates []CandidateInput) (*Judgment, error)
}

const definitionTruncateLen = 280

// AnthropicAdjudicator calls the Anthropic messages API with a fixed,
// short prompt template and a bounded output length.
type AnthropicAdjudicator struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

func New(cfg config.LLMConfig) *AnthropicAdjudicator {
	return &AnthropicAdjudicator{
		client:    anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:     cfg.Model,
		maxTokens: int64(cfg.MaxTokens),
	}
}

func (a *AnthropicAdjudicator) Adjudicate(ctx context.Context, source models.SourceCode, candidates []CandidateInput) (*Judgment, error) {
	if len(candidates) == 0 {
		return nil, apperr.Wrap(apperr.KindUpstreamUnavailable, "adjudicator failure: no candidates", nil)
	}

	prompt := buildPrompt(source, candidates)

	resp, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: a.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamUnavailable, "adjudicator failure: request", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if tb := block.AsAny(); tb != nil {
			if t, ok := tb.(anthropic.TextBlock); ok {
				text.WriteString(t.Text)
			}
		}
	}

	obj, err := extractBalancedJSON(text.String())
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamUnavailable, "adjudicator failure: unparseable response", err)
	}

	var raw struct {
		SelectedCode string  `json:"selected_code"`
		Confidence   float64 `json:"confidence"`
		Equivalence  string  `json:"equivalence"`
		Reasoning    string  `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(obj), &raw); err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamUnavailable, "adjudicator failure: malformed judgment", err)
	}

	valid := false
	for _, c := range candidates {
		if c.Code == raw.SelectedCode {
			valid = true
			break
		}
	}
	if !valid {
		return nil, apperr.Wrap(apperr.KindUpstreamUnavailable,
			fmt.Sprintf("adjudicator failure: selected_code %q not among candidates", raw.SelectedCode), nil)
	}

	return &Judgment{
		SelectedCode: raw.SelectedCode,
		Confidence:   raw.Confidence,
		Equivalence:  models.Equivalence(strings.ToUpper(raw.Equivalence)),
		Reasoning:    raw.Reasoning,
	}, nil
}

func buildPrompt(source models.SourceCode, candidates []CandidateInput) string {
	var b strings.Builder
	b.WriteString("You are matching a traditional medicine term to the closest ICD-11 Traditional Medicine Module 2 code.\n")
	fmt.Fprintf(&b, "Source term: %s (%s)\n", source.Term, source.System)
	if source.EnglishName != "" {
		fmt.Fprintf(&b, "English name: %s\n", source.EnglishName)
	}
	b.WriteString("Candidates:\n")
	for _, c := range candidates {
		def := c.Definition
		if len(def) > definitionTruncateLen {
			def = def[:definitionTruncateLen]
		}
		fmt.Fprintf(&b, "- %s: %s — %s\n", c.Code, c.Title, def)
	}
	b.WriteString("Respond with exactly one JSON object: " +
		`{"selected_code": "...", "confidence": 0.0, "equivalence": "EQUIVALENT|WIDER|NARROWER|INEXACT|UNMATCHED", "reasoning": "..."}` + "\n")
	return b.String()
}

// extractBalancedJSON locates the first balanced {...} object in s, the
// same recovery strategy the source system's regex-based parser used.
func extractBalancedJSON(s string) (string, error) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", fmt.Errorf("no JSON object found")
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		switch {
		case escaped:
			escaped = false
		case ch == '\\':
			escaped = true
		case ch == '"':
			inString = !inString
		case inString:
			// inside a string literal, braces don't count
		case ch == '{':
			depth++
		case ch == '}':
			depth--
			if depth == 0 {
				return s[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("unbalanced JSON object")
}
