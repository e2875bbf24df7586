package models

import "time"

// ExtractionStatus represents the lifecycle state of an extraction
type ExtractionStatus string

const (
	StatusPending     ExtractionStatus = "pending"
	StatusRunning     ExtractionStatus = "running"
	StatusSuccess     ExtractionStatus = "success"
	StatusFailed      ExtractionStatus = "failed"
	StatusTimeout     ExtractionStatus = "timeout"
	StatusBlocked     ExtractionStatus = "blocked"
	StatusRateLimited ExtractionStatus = "rate_limited"
)

// ErrorKind classifies dispatch-layer failures. The orchestrator is the
// error boundary: engine errors are converted into one of these, never
// re-raised to the caller.
type ErrorKind string

const (
	ErrBackendUnavailable ErrorKind = "BackendUnavailable" // all relevant breakers open
	ErrCircuitOpen        ErrorKind = "CircuitOpen"        // specific breaker rejected
	ErrAuthFailed         ErrorKind = "AuthenticationFailed"
	ErrTimeout            ErrorKind = "Timeout"
	ErrRateLimited        ErrorKind = "RateLimited" // HTTP 429 or pool exhaustion
	ErrHTTP               ErrorKind = "HttpError"
	ErrNoProxyAvailable   ErrorKind = "NoProxyAvailable"
	ErrExtractorCrashed   ErrorKind = "ExtractorCrashed" // unexpected engine failure, wrapped
)

// ExtractionResult represents the outcome of a single extraction.
// Created exactly once per request, never mutated after return.
type ExtractionResult struct {
	RequestID string           `json:"request_id"`
	Status    ExtractionStatus `json:"status"`
	Backend   Backend          `json:"backend,omitempty"`

	// Response details
	StatusCode   int           `json:"status_code,omitempty"`
	ResponseTime time.Duration `json:"response_time,omitempty"`
	FinalURL     string        `json:"final_url,omitempty"`

	// Extracted payload
	Data    map[string]interface{} `json:"data,omitempty"`
	RawHTML string                 `json:"raw_html,omitempty"`
	Links   []string               `json:"links,omitempty"`
	Images  []string               `json:"images,omitempty"`

	// Error information
	ErrorKind    ErrorKind `json:"error_kind,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`

	// Proxy information
	ProxyUsed    string `json:"proxy_used,omitempty"`
	ProxyCountry string `json:"proxy_country,omitempty"`

	RetryCount int `json:"retry_count,omitempty"`
}

// Succeeded reports whether the extraction completed successfully.
func (r *ExtractionResult) Succeeded() bool {
	return r.Status == StatusSuccess
}

// FailedResult builds a failed result carrying an error kind. The
// dispatch layer uses this to satisfy its never-throw contract.
func FailedResult(requestID string, kind ErrorKind, message string) *ExtractionResult {
	return &ExtractionResult{
		RequestID:    requestID,
		Status:       StatusFailed,
		ErrorKind:    kind,
		ErrorMessage: message,
	}
}

// ExtractionResponse is the caller-facing wrapper returned by the HTTP API.
type ExtractionResponse struct {
	Success        bool              `json:"success"`
	Result         *ExtractionResult `json:"result,omitempty"`
	ProcessingTime time.Duration     `json:"processing_time"`
	Backend        Backend           `json:"backend_used,omitempty"`
	RequestID      string            `json:"request_id"`
}

// BatchExtractionResponse wraps a batch of results; order matches the
// order of the submitted requests.
type BatchExtractionResponse struct {
	Success        bool                `json:"success"`
	Results        []*ExtractionResult `json:"results"`
	ProcessingTime time.Duration       `json:"processing_time"`
	RequestID      string              `json:"request_id"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version"`
	Uptime    time.Duration     `json:"uptime"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}
