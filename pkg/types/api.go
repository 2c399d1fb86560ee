package types

import "time"

// InferRequest represents a single inference request payload.
type InferRequest struct {
	// Required text to run inference on.
	// example: The quick brown fox jumps over the lazy dog.
	Text string `json:"text" example:"The quick brown fox jumps over the lazy dog."`
	// Optional model name. If empty, the server default is used.
	// example: summarizer
	Model string `json:"model,omitempty" example:"summarizer"`
	// Model version. Defaults to v1 when omitted.
	// example: v1
	Version string `json:"version,omitempty" example:"v1"`
	// Optional model-specific parameter overrides, merged over the
	// model's default parameters.
	Parameters map[string]any `json:"parameters,omitempty"`
}

// BatchInferRequest wraps multiple inference requests submitted together.
// Results correspond positionally to the requests.
type BatchInferRequest struct {
	Requests []InferRequest `json:"requests"`
}

// InferResponse is the result of one inference request. A failed model
// invocation is reported here with Success=false rather than as a
// transport-level error.
type InferResponse struct {
	// Whether the inference succeeded.
	// example: true
	Success bool `json:"success" example:"true"`
	// Inference output text (empty on failure).
	Result string `json:"result,omitempty"`
	// Model that served the request, in name:version form.
	// example: summarizer:v1
	ModelUsed string `json:"model_used" example:"summarizer:v1"`
	// Latency measured from submission to resolution, in milliseconds.
	// example: 12.45
	LatencyMS float64 `json:"latency_ms" example:"12.45"`
	// Server-generated unique request identifier.
	// example: 7b1c6a9e-0f1f-4f35-b7a9-2f6d3f3f9a11
	RequestID string `json:"request_id" example:"7b1c6a9e-0f1f-4f35-b7a9-2f6d3f3f9a11"`
	// Response timestamp (UTC).
	Timestamp time.Time `json:"timestamp"`
	// Error message if the request failed.
	Error string `json:"error,omitempty"`
	// Additional metadata (e.g. model_type).
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ModelInfo describes a catalogued model and its current load state.
type ModelInfo struct {
	// Model name.
	// example: sentiment
	Name string `json:"name" example:"sentiment"`
	// Model version.
	// example: v1
	Version string `json:"version" example:"v1"`
	// Model type (summarizer, classifier, generator, other).
	// example: classifier
	Type string `json:"type" example:"classifier"`
	// Human-readable description.
	// example: Sentiment analysis classifier
	Description string `json:"description,omitempty" example:"Sentiment analysis classifier"`
	// Upstream model reference the descriptor points at.
	// example: cardiffnlp/twitter-roberta-base-sentiment-latest
	ModelRef string `json:"model_ref,omitempty" example:"cardiffnlp/twitter-roberta-base-sentiment-latest"`
	// Current registry state (unloaded, loading, ready, unloading, failed).
	// example: ready
	State string `json:"state" example:"ready"`
	// Default parameters applied to requests for this model.
	Parameters map[string]any `json:"parameters,omitempty"`
	// Last load/unload error, if the model is in the failed state.
	Error string `json:"error,omitempty"`
}

// ModelsResponse wraps the model listing returned by GET /models.
type ModelsResponse struct {
	Models []ModelInfo `json:"models"`
}

// ModelOpResponse reports the outcome of a load or unload operation.
type ModelOpResponse struct {
	// Model key in name:version form.
	// example: generator:v1
	Model string `json:"model" example:"generator:v1"`
	// Registry state after the operation.
	// example: ready
	State string `json:"state" example:"ready"`
}

// MetricsResponse is the aggregator snapshot returned by GET /metrics.
type MetricsResponse struct {
	// Total requests resolved.
	// example: 1042
	TotalRequests uint64 `json:"total_requests" example:"1042"`
	// Requests that resolved successfully.
	// example: 1024
	SuccessfulRequests uint64 `json:"successful_requests" example:"1024"`
	// Requests that resolved with an error.
	// example: 18
	FailedRequests uint64 `json:"failed_requests" example:"18"`
	// Running average latency in milliseconds.
	// example: 23.7
	AverageLatencyMS float64 `json:"average_latency_ms" example:"23.7"`
	// Request counts keyed by name:version.
	RequestsPerModel map[string]uint64 `json:"requests_per_model"`
	// Snapshot timestamp (UTC).
	Timestamp time.Time `json:"timestamp"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	// Service health status.
	// example: healthy
	Status string `json:"status" example:"healthy"`
	// Server version.
	// example: 1.0.0
	Version string `json:"version" example:"1.0.0"`
	// Health check timestamp (UTC).
	Timestamp time.Time `json:"timestamp"`
	// Keys of models currently loaded, in name:version form.
	ModelsLoaded []string `json:"models_loaded"`
	// Process uptime in seconds.
	// example: 3600.5
	UptimeSeconds float64 `json:"uptime_seconds" example:"3600.5"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}
