package models

import "strings"

// FailureCode is the specific reason a job, source, or sub-task failed.
// The set is closed: adding a member is a source change.
type FailureCode string

// Failure codes, grouped by category.
const (
	// timeout
	FailureTimeoutJobOverall FailureCode = "timeout_job_overall"
	FailureTimeoutPerSource  FailureCode = "timeout_per_source"
	FailureTimeoutPerSubTask FailureCode = "timeout_per_subtask"
	FailureTimeoutPolling    FailureCode = "timeout_polling"

	// network
	FailureConnectionRefused   FailureCode = "connection_refused"
	FailureConnectionTimeout   FailureCode = "connection_timeout"
	FailureDNSResolutionFailed FailureCode = "dns_resolution_failed"
	FailureNetworkUnreachable  FailureCode = "network_unreachable"
	FailureSSLHandshakeFailed  FailureCode = "ssl_handshake_failed"

	// service
	FailureServiceUnavailable FailureCode = "service_unavailable"
	FailureServiceOverloaded  FailureCode = "service_overloaded"
	FailureServiceError       FailureCode = "service_error"

	// content
	FailureEmptyContent     FailureCode = "empty_content"
	FailureParseError       FailureCode = "parse_error"
	FailureInvalidURL       FailureCode = "invalid_url"
	FailureBlockedByRobots  FailureCode = "blocked_by_robots"
	FailureBlockedByCaptcha FailureCode = "blocked_by_captcha"
	FailureContentTooLarge  FailureCode = "content_too_large"

	// processing
	FailureAnalysisFailed   FailureCode = "analysis_failed"
	FailureExtractionFailed FailureCode = "extraction_failed"

	// job
	FailureCancelled            FailureCode = "cancelled"
	FailureDuplicateCallback    FailureCode = "duplicate_callback"
	FailureInvalidCallbackToken FailureCode = "invalid_callback_token"

	FailureUnknown FailureCode = "unknown"
)

// FailureCategory is the coarse grouping of a FailureCode.
type FailureCategory string

// Failure categories.
const (
	CategoryTimeout    FailureCategory = "timeout"
	CategoryNetwork    FailureCategory = "network"
	CategoryService    FailureCategory = "service"
	CategoryContent    FailureCategory = "content"
	CategoryProcessing FailureCategory = "processing"
	CategoryJob        FailureCategory = "job"
	CategoryUnknown    FailureCategory = "unknown"
)

// codeCategories is the static code → category table.
var codeCategories = map[FailureCode]FailureCategory{
	FailureTimeoutJobOverall: CategoryTimeout,
	FailureTimeoutPerSource:  CategoryTimeout,
	FailureTimeoutPerSubTask: CategoryTimeout,
	FailureTimeoutPolling:    CategoryTimeout,

	FailureConnectionRefused:   CategoryNetwork,
	FailureConnectionTimeout:   CategoryNetwork,
	FailureDNSResolutionFailed: CategoryNetwork,
	FailureNetworkUnreachable:  CategoryNetwork,
	FailureSSLHandshakeFailed:  CategoryNetwork,

	FailureServiceUnavailable: CategoryService,
	FailureServiceOverloaded:  CategoryService,
	FailureServiceError:       CategoryService,

	FailureEmptyContent:     CategoryContent,
	FailureParseError:       CategoryContent,
	FailureInvalidURL:       CategoryContent,
	FailureBlockedByRobots:  CategoryContent,
	FailureBlockedByCaptcha: CategoryContent,
	FailureContentTooLarge:  CategoryContent,

	FailureAnalysisFailed:   CategoryProcessing,
	FailureExtractionFailed: CategoryProcessing,

	FailureCancelled:            CategoryJob,
	FailureDuplicateCallback:    CategoryJob,
	FailureInvalidCallbackToken: CategoryJob,

	FailureUnknown: CategoryUnknown,
}

// Category returns the category for a code, or CategoryUnknown for codes
// outside the closed set.
func (c FailureCode) Category() FailureCategory {
	if cat, ok := codeCategories[c]; ok {
		return cat
	}
	return CategoryUnknown
}

// FailureReason pairs a specific code with its category.
type FailureReason struct {
	Code     FailureCode     `json:"code"`
	Category FailureCategory `json:"category"`
}

// Reason builds a FailureReason from a code.
func Reason(code FailureCode) FailureReason {
	return FailureReason{Code: code, Category: code.Category()}
}

// inferenceRules maps error-message substrings to codes. Matching is
// case-insensitive and first match wins, so more specific patterns must
// come before the patterns they overlap.
var inferenceRules = []struct {
	pattern string
	code    FailureCode
}{
	{"blocked by captcha", FailureBlockedByCaptcha},
	{"captcha", FailureBlockedByCaptcha},
	{"robots.txt", FailureBlockedByRobots},
	{"disallowed by robots", FailureBlockedByRobots},
	{"ssl", FailureSSLHandshakeFailed},
	{"tls handshake", FailureSSLHandshakeFailed},
	{"certificate", FailureSSLHandshakeFailed},
	{"no such host", FailureDNSResolutionFailed},
	{"dns", FailureDNSResolutionFailed},
	{"connection refused", FailureConnectionRefused},
	{"connection reset", FailureConnectionRefused},
	{"network is unreachable", FailureNetworkUnreachable},
	{"no route to host", FailureNetworkUnreachable},
	{"i/o timeout", FailureConnectionTimeout},
	{"connection timed out", FailureConnectionTimeout},
	{"context deadline exceeded", FailureConnectionTimeout},
	{"deadline exceeded", FailureConnectionTimeout},
	{"service overloaded", FailureServiceOverloaded},
	{"too many requests", FailureServiceOverloaded},
	{"429", FailureServiceOverloaded},
	{"service unavailable", FailureServiceUnavailable},
	{"503", FailureServiceUnavailable},
	{"bad gateway", FailureServiceUnavailable},
	{"502", FailureServiceUnavailable},
	{"internal server error", FailureServiceError},
	{"500", FailureServiceError},
	{"content too large", FailureContentTooLarge},
	{"empty content", FailureEmptyContent},
	{"empty response", FailureEmptyContent},
	{"invalid url", FailureInvalidURL},
	{"unsupported protocol", FailureInvalidURL},
	{"parse error", FailureParseError},
	{"failed to parse", FailureParseError},
	{"unmarshal", FailureParseError},
	{"invalid json", FailureParseError},
	{"extraction failed", FailureExtractionFailed},
	{"analysis failed", FailureAnalysisFailed},
	{"cancelled", FailureCancelled},
	{"canceled", FailureCancelled},
	{"timeout", FailureTimeoutPerSource},
	{"timed out", FailureTimeoutPerSource},
}

// InferFailure maps an error message to a FailureReason using the ordered
// rule table. Unmatched messages map to the unknown code.
func InferFailure(message string) FailureReason {
	lower := strings.ToLower(message)
	for _, rule := range inferenceRules {
		if strings.Contains(lower, rule.pattern) {
			return Reason(rule.code)
		}
	}
	return Reason(FailureUnknown)
}

// Retryable reports whether a failed sub-task with this reason may be
// redispatched. Content errors are never retried; service errors retry only
// on overload.
func (r FailureReason) Retryable() bool {
	switch r.Category {
	case CategoryNetwork, CategoryTimeout:
		return true
	case CategoryService:
		return r.Code == FailureServiceOverloaded
	}
	return false
}
