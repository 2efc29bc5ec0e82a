// Package observability provides OpenTelemetry metrics and tracing for the grader API.
package observability

// Metric names (Prometheus / OpenTelemetry).
const (
	MetricNameHTTPRequests           = "grader_http_requests_total"
	MetricNameHTTPDuration           = "grader_http_request_duration_seconds"
	MetricNameAssessments            = "grader_assessments_total"
	MetricNameAssessmentDuration     = "grader_assessment_duration_seconds"
	MetricNameParseStatus            = "grader_llm_reply_parse_total"
	MetricNameLLMCalls               = "grader_llm_calls_total"
	MetricNameLLMDuration            = "grader_llm_call_duration_seconds"
	MetricNameLLMTokens              = "grader_llm_tokens_total"
	MetricNameIndexingRuns           = "grader_indexing_runs_total"
	MetricNameIndexingDuration       = "grader_indexing_duration_seconds"
	MetricNameChunksIndexed          = "grader_chunks_indexed_total"
	MetricNameIndexingQueueDepth     = "grader_indexing_queue_depth"
	MetricNameEmbeddingBatches       = "grader_embedding_batches_total"
	MetricNameEmbeddingDuration      = "grader_embedding_batch_duration_seconds"
	MetricNameEmbeddingProviderError = "grader_embedding_provider_errors_total"
	MetricNameCacheHits              = "grader_cache_hits_total"
	MetricNameCacheMisses            = "grader_cache_misses_total"
)

// Attribute keys.
const (
	AttrReason   = "reason"
	AttrStatus   = "status"
	AttrState    = "state"
	AttrRole     = "role"
	AttrProvider = "provider"
	AttrKind     = "kind"
	AttrCache    = "cache"
)

// AllowedAssessmentOutcomes for grader_assessments_total.
var AllowedAssessmentOutcomes = map[string]bool{
	"success":   true,
	"retryable": true,
	"failed":    true,
}

// AllowedAssessmentStates for the state attribute of failed assessments.
var AllowedAssessmentStates = map[string]bool{
	"none":        true,
	"loading":     true,
	"embedding":   true,
	"searching":   true,
	"prompting":   true,
	"awaiting_llm": true,
	"parsing":     true,
	"persisting":  true,
}

// AllowedParseStatuses for grader_llm_reply_parse_total.
var AllowedParseStatuses = map[string]bool{
	"complete": true,
	"partial":  true,
	"failed":   true,
}

// AllowedRunStatuses for indexing runs, LLM calls and embedding batches.
var AllowedRunStatuses = map[string]bool{
	"success": true,
	"resumed": true,
	"skipped": true,
	"error":   true,
	"timeout": true,
}

// AllowedRoles for the owner-role attribute on indexing metrics.
var AllowedRoles = map[string]bool{
	"answer_key":     true,
	"student_answer": true,
}

// AllowedEmbeddingProviderReasons for grader_embedding_provider_errors_total.
var AllowedEmbeddingProviderReasons = map[string]bool{
	"provider_unavailable": true,
	"dimension_mismatch":   true,
	"rate_limit_wait":      true,
	"invalid_input":        true,
}

// AllowedCacheNames for cache hit/miss metrics.
var AllowedCacheNames = map[string]bool{
	"query_embedding":      true,
	"answer_key_get_by_id": true,
}

// NormalizeReason returns reason if in allowed, otherwise "other".
func NormalizeReason(reason string, allowed map[string]bool) string {
	if allowed[reason] {
		return reason
	}

	return "other"
}

// NormalizeCacheName returns name if known, otherwise "other".
func NormalizeCacheName(name string) string {
	return NormalizeReason(name, AllowedCacheNames)
}
