package server

import "github.com/kris-hansen/sheetsmith/utils/processor"

// ProcessResponse answers POST /process. The download links are set once the
// job is ready.
type ProcessResponse struct {
	JobID      string `json:"jobId"`
	Status     string `json:"status"`
	IdealURL   string `json:"idealUrl,omitempty"`
	LogURL     string `json:"logUrl,omitempty"`
	SummaryURL string `json:"summaryUrl,omitempty"`
	Message    string `json:"message,omitempty"`
}

// FinalizeResponse answers POST /finalize/{jobId}
type FinalizeResponse struct {
	JobID   string `json:"jobId"`
	Status  string `json:"status"`
	Source  string `json:"source,omitempty"`
	Message string `json:"message"`
}

// JobResponse is the status document of GET /jobs/{jobId}
type JobResponse struct {
	processor.Job
	Downloads map[string]string `json:"downloads,omitempty"`
}

// HealthResponse answers GET /health
type HealthResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is the body of every non-2xx answer
type ErrorResponse struct {
	Error string `json:"error"`
}
