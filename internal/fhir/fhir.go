// Package fhir builds the Parameters/OperationOutcome JSON shapes for
// the three exposed FHIR R4 operations. It holds no state of its own;
// every call reads the store (and, for $translate, runs the mapping
// pipeline) and returns a plain map ready to be marshaled as JSON.
package fhir

import (
	"context"

	"github.com/tm2bridge/tm2bridge/internal/apperr"
	"github.com/tm2bridge/tm2bridge/internal/cache"
	"github.com/tm2bridge/tm2bridge/internal/models"
	"github.com/tm2bridge/tm2bridge/internal/pipeline"
	"github.com/tm2bridge/tm2bridge/internal/store"
)

const targetSystemURI = "http://id.who.int/icd/release/11/tm2"

var sourceLanguage = map[models.System]string{
	models.SystemAyurveda: "sa",
	models.SystemSiddha:   "ta",
	models.SystemUnani:    "ur",
}

// Facade is the component the HTTP layer mounts behind /fhir.
type Facade struct {
	store    store.Store
	pipeline *pipeline.Pipeline
	caches   *cache.Caches
}

func New(st store.Store, pl *pipeline.Pipeline, caches *cache.Caches) *Facade {
	return &Facade{store: st, pipeline: pl, caches: caches}
}

// Lookup implements CodeSystem/$lookup(system, code).
func (f *Facade) Lookup(ctx context.Context, system models.System, code string) (map[string]any, error) {
	if system.Valid() {
		src, err := f.store.FindSource(ctx, code, system)
		if err != nil {
			if apperr.KindOf(err) == apperr.KindNotFound {
				return operationOutcome("error", "not-found", "code '"+code+"' not found in system '"+string(system)+"'"), apperr.ErrNotFound
			}
			return nil, err
		}
		return lookupSourceResponse(system, *src), nil
	}

	target, err := f.store.FindTarget(ctx, code)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return operationOutcome("error", "not-found", "code '"+code+"' not found"), apperr.ErrNotFound
		}
		return nil, err
	}
	return lookupTargetResponse(*target), nil
}

func lookupSourceResponse(system models.System, src models.SourceCode) map[string]any {
	name := src.EnglishName
	if name == "" {
		name = src.Term
	}
	params := []any{
		param("name", "valueString", name),
		param("display", "valueString", src.Term),
		param("definition", "valueString", src.ShortDefinition),
	}
	if src.NativeScript != "" {
		params = append(params, map[string]any{
			"name": "designation",
			"part": []any{
				map[string]any{"name": "language", "valueCode": sourceLanguage[system]},
				map[string]any{"name": "value", "valueString": src.NativeScript},
			},
		})
	}
	return map[string]any{
		"resourceType": "Parameters",
		"parameter":    params,
	}
}

func lookupTargetResponse(t models.TargetCode) map[string]any {
	return map[string]any{
		"resourceType": "Parameters",
		"parameter": []any{
			param("name", "valueString", t.Title),
			param("display", "valueString", t.Title),
			param("definition", "valueString", t.Definition),
		},
	}
}

// Translate implements ConceptMap/$translate(code, system, target?),
// sharing the mappings cache and persistence path with the interactive
// POST /mapping handler: a hit returns the cached decision without
// re-running (LLM-nondeterministic) adjudication, and a miss persists
// a successful match via UpsertMapping before returning.
func (f *Facade) Translate(ctx context.Context, system models.System, code string) (map[string]any, error) {
	key := cache.MappingKey(string(system), code)
	if cached, ok := f.caches.Mappings.Get(key); ok {
		state := cached.(*pipeline.State)
		return translateBody(state), nil
	}

	source, err := f.store.FindSource(ctx, code, system)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return operationOutcome("error", "not-found", "code '"+code+"' not found in system '"+string(system)+"'"), apperr.ErrNotFound
		}
		return nil, err
	}

	result, err := f.pipeline.Run(ctx, *source)
	if err != nil {
		return nil, err
	}

	if result.Target != nil {
		if _, err := f.store.UpsertMapping(ctx, source.ID, result.Target.ID, store.UpsertMappingFields{
			Equivalence:   result.Equivalence,
			Confidence:    result.Confidence,
			MappingSource: models.MappingSourceAIValidated,
			Reasoning:     result.Reasoning,
		}); err != nil {
			f.caches.Mappings.Invalidate(key)
		} else {
			f.caches.Mappings.Set(key, result)
		}
	}

	return translateBody(result), nil
}

func translateBody(result *pipeline.State) map[string]any {
	if result.Target == nil {
		return map[string]any{
			"resourceType": "Parameters",
			"parameter": []any{
				param("name", "valueBoolean", false),
			},
		}
	}

	return map[string]any{
		"resourceType": "Parameters",
		"parameter": []any{
			param("name", "valueBoolean", true),
			map[string]any{
				"name": "match",
				"part": []any{
					map[string]any{"name": "equivalence", "valueCode": string(lowerEquivalence(result.Equivalence))},
					map[string]any{
						"name": "concept",
						"valueCoding": map[string]any{
							"system":  targetSystemURI,
							"code":    result.Target.Code,
							"display": result.Target.Title,
						},
					},
					map[string]any{"name": "source", "valueString": "AI_VALIDATED"},
					map[string]any{"name": "confidence", "valueDecimal": result.Confidence},
				},
			},
		},
	}
}

func lowerEquivalence(e models.Equivalence) string {
	s := string(e)
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}

// Expand implements ValueSet/$expand(filter?, count?, offset?) — a
// paginated substring listing of the source catalog.
func (f *Facade) Expand(ctx context.Context, filter string, count, offset int) (map[string]any, error) {
	codes, total, err := f.store.ExpandSource(ctx, filter, count, offset)
	if err != nil {
		return nil, err
	}

	contains := make([]any, len(codes))
	for i, c := range codes {
		contains[i] = map[string]any{
			"system":  sourceSystemURI(c.System),
			"code":    c.Code,
			"display": c.Term,
		}
	}

	return map[string]any{
		"total":    total,
		"offset":   offset,
		"contains": contains,
	}, nil
}

func sourceSystemURI(system models.System) string {
	return "http://tm2bridge.local/fhir/CodeSystem/" + string(system)
}

func param(name, valueKey string, value any) map[string]any {
	return map[string]any{"name": name, valueKey: value}
}

// operationOutcome builds a minimal FHIR OperationOutcome.
func operationOutcome(severity, code, diagnostics string) map[string]any {
	return map[string]any{
		"resourceType": "OperationOutcome",
		"issue": []map[string]any{
			{"severity": severity, "code": code, "diagnostics": diagnostics},
		},
	}
}
