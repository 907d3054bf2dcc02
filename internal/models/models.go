// Package models holds the domain entities shared across the store,
// pipeline, job queue and HTTP layers.
package models

import "time"

// System identifies a traditional medicine classification.
type System string

const (
	SystemAyurveda System = "ayurveda"
	SystemSiddha   System = "siddha"
	SystemUnani    System = "unani"
)

func (s System) Valid() bool {
	switch s {
	case SystemAyurveda, SystemSiddha, SystemUnani:
		return true
	}
	return false
}

// Equivalence is the FHIR-style relation between a source and target concept.
type Equivalence string

const (
	EquivalenceEquivalent Equivalence = "EQUIVALENT"
	EquivalenceWider      Equivalence = "WIDER"
	EquivalenceNarrower   Equivalence = "NARROWER"
	EquivalenceInexact    Equivalence = "INEXACT"
	EquivalenceUnmatched  Equivalence = "UNMATCHED"
	EquivalenceDisjoint   Equivalence = "DISJOINT"
)

// MappingSource records the provenance of a Mapping row.
type MappingSource string

const (
	MappingSourceDeterministic  MappingSource = "DETERMINISTIC"
	MappingSourceSemantic       MappingSource = "SEMANTIC"
	MappingSourceAIValidated    MappingSource = "AI_VALIDATED"
	MappingSourceHumanValidated MappingSource = "HUMAN_VALIDATED"
)

// ValidationStatus tracks human review of a Mapping.
type ValidationStatus string

const (
	ValidationPending     ValidationStatus = "PENDING"
	ValidationApproved    ValidationStatus = "APPROVED"
	ValidationRejected    ValidationStatus = "REJECTED"
	ValidationNeedsReview ValidationStatus = "NEEDS_REVIEW"
)

// SourceCode is a code in the Ayurveda, Siddha or Unani catalog.
type SourceCode struct {
	ID              string
	Code            string
	System          System
	Term            string
	TermNormalized  string
	NativeScript    string
	ShortDefinition string
	LongDefinition  string
	EnglishName     string
	SearchableText  string
	Embedding       []float32
}

// TargetCode is a code in the ICD-11 TM2 catalog.
type TargetCode struct {
	ID                 string
	Code               string
	Title              string
	Definition         string
	Category           string
	ParentCode         string
	Synonyms           []string
	Inclusions         []string
	Exclusions         []string
	TraditionalSystems []string
	Embedding          []float32
}

// Mapping is a resolved (source, target) pair with provenance.
type Mapping struct {
	ID               string
	SourceRef        string
	TargetRef        string
	Equivalence      Equivalence
	Confidence       float64
	MappingSource    MappingSource
	ValidationStatus ValidationStatus
	Validator        *string
	ValidatedAt      *time.Time
	Reasoning        string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// AuditRecord captures one request for the audit trail.
type AuditRecord struct {
	Action         string
	ResourceType   string
	ResourceID     string
	Actor          string
	IP             string
	UserAgent      string
	Method         string
	Path           string
	RequestBody    string
	ResponseStatus int
	DurationMS     int64
	Metadata       map[string]any
	CreatedAt      time.Time
}

// EmbeddingCoverage is a derived, non-stored summary of embedding fill rate.
type EmbeddingCoverage struct {
	Total      int
	WithVector int
}

func (c EmbeddingCoverage) Percentage() float64 {
	if c.Total == 0 {
		return 0
	}
	return 100 * float64(c.WithVector) / float64(c.Total)
}

// MappingFilters narrows a list_mappings query.
type MappingFilters struct {
	System        System
	Equivalence   Equivalence
	MinConfidence *float64
	MaxConfidence *float64
	Query         string
}

// Page is a generic pagination envelope.
type Page[T any] struct {
	Items      []T
	TotalCount int
	Page       int
	Limit      int
}

// MappingStats aggregates confidence and provenance across all mappings.
type MappingStats struct {
	Total              int
	AverageConfidence  float64
	BySource           map[MappingSource]int
	ByValidationStatus map[ValidationStatus]int
}

// BatchItemStatus is the per-item lifecycle state within a BatchJob.
type BatchItemStatus string

const (
	BatchItemPending   BatchItemStatus = "PENDING"
	BatchItemCompleted BatchItemStatus = "COMPLETED"
	BatchItemFailed    BatchItemStatus = "FAILED"
)

// BatchItem is one code within a BatchJob.
type BatchItem struct {
	Code   string
	System System
	Status BatchItemStatus
	Result *TranslateResult
	Error  string
}

// JobStatus is the lifecycle state of a BatchJob.
type JobStatus string

const (
	JobPending    JobStatus = "PENDING"
	JobProcessing JobStatus = "PROCESSING"
	JobCompleted  JobStatus = "COMPLETED"
	JobFailed     JobStatus = "FAILED"
	JobCancelled  JobStatus = "CANCELLED"
)

// JobProgress summarizes item completion within a BatchJob.
type JobProgress struct {
	Total      int
	Completed  int
	Successful int
	Failed     int
}

func (p JobProgress) Percentage() int {
	if p.Total == 0 || p.Completed == 0 {
		return 0
	}
	return (100 * p.Completed) / p.Total
}

// BatchJob is the in-memory-only record of an asynchronous batch translate.
type BatchJob struct {
	ID          string
	Status      JobStatus
	Items       []BatchItem
	Progress    JobProgress
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	Actor       string
	CallbackURL string
	SaveResults bool
}

// TranslateResult is the outcome of running the mapping pipeline for one code.
type TranslateResult struct {
	Source      SourceCode
	Target      *TargetCode
	Equivalence Equivalence
	Confidence  float64
	Reasoning   string
	Cached      bool
}
