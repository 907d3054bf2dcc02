package httpapi

import "github.com/tm2bridge/tm2bridge/internal/models"

// translateRequest is the body of POST /mapping.
type translateRequest struct {
	Code    string `json:"code" validate:"required"`
	System  string `json:"system" validate:"required,oneof=ayurveda siddha unani"`
	Term    string `json:"term,omitempty"`
	Context string `json:"context,omitempty"`
}

type sourceSummary struct {
	Code        string `json:"code"`
	System      string `json:"system"`
	Term        string `json:"term"`
	EnglishName string `json:"english_name,omitempty"`
}

type targetSummary struct {
	Code  string `json:"code"`
	Title string `json:"title"`
}

type mappingBody struct {
	Source      sourceSummary  `json:"source"`
	Target      *targetSummary `json:"target"`
	Equivalence string         `json:"equivalence"`
	Confidence  float64        `json:"confidence"`
	Reasoning   string         `json:"reasoning"`
}

type translateResponse struct {
	Success          bool        `json:"success"`
	Source           string      `json:"source"`
	Mapping          mappingBody `json:"mapping"`
	ProcessingTimeMS int64       `json:"processing_time_ms"`
}

func toSourceSummary(s models.SourceCode) sourceSummary {
	return sourceSummary{Code: s.Code, System: string(s.System), Term: s.Term, EnglishName: s.EnglishName}
}

func toTargetSummary(t *models.TargetCode) *targetSummary {
	if t == nil {
		return nil
	}
	return &targetSummary{Code: t.Code, Title: t.Title}
}

// batchCodeItem is one entry of a sync/async batch request.
type batchCodeItem struct {
	Code   string `json:"code" validate:"required"`
	System string `json:"system" validate:"required,oneof=ayurveda siddha unani"`
}

type batchSyncRequest struct {
	Codes []batchCodeItem `json:"codes" validate:"required,min=1,max=100,dive"`
}

type batchSyncItemResult struct {
	Code    string       `json:"code"`
	System  string       `json:"system"`
	Found   bool         `json:"found"`
	Mapping *mappingBody `json:"mapping,omitempty"`
}

type batchSyncResponse struct {
	Total   int                   `json:"total"`
	Found   int                   `json:"found"`
	Results []batchSyncItemResult `json:"results"`
}

type batchAsyncRequest struct {
	Codes       []batchCodeItem `json:"codes" validate:"required,min=1,max=1000,dive"`
	SaveResults bool            `json:"save_results"`
	CallbackURL string          `json:"callback_url,omitempty"`
}

type progressBody struct {
	Total      int `json:"total"`
	Completed  int `json:"completed"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
	Percentage int `json:"percentage"`
}

type jobStatusResponse struct {
	JobID           string       `json:"job_id"`
	Status          string       `json:"status"`
	Progress        progressBody `json:"progress"`
	EstimatedTimeMS int64        `json:"estimated_time_ms,omitempty"`
}

func toProgressBody(p models.JobProgress) progressBody {
	return progressBody{Total: p.Total, Completed: p.Completed, Successful: p.Successful, Failed: p.Failed, Percentage: p.Percentage()}
}

type batchItemResult struct {
	Code    string       `json:"code"`
	System  string       `json:"system"`
	Status  string       `json:"status"`
	Mapping *mappingBody `json:"mapping,omitempty"`
	Error   string       `json:"error,omitempty"`
}

type batchResultsResponse struct {
	JobID   string            `json:"job_id"`
	Status  string            `json:"status"`
	Results []batchItemResult `json:"results"`
}
