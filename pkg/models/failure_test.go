package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInferFailure(t *testing.T) {
	tests := []struct {
		name     string
		message  string
		code     FailureCode
		category FailureCategory
	}{
		{"connection refused", "dial tcp 10.0.0.1:443: connection refused", FailureConnectionRefused, CategoryNetwork},
		{"dns", "lookup example.invalid: no such host", FailureDNSResolutionFailed, CategoryNetwork},
		{"tls", "tls handshake failure", FailureSSLHandshakeFailed, CategoryNetwork},
		{"unavailable", "upstream returned 503 Service Unavailable", FailureServiceUnavailable, CategoryService},
		{"overloaded", "429 too many requests", FailureServiceOverloaded, CategoryService},
		{"captcha beats parse", "parse error: page blocked by captcha", FailureBlockedByCaptcha, CategoryContent},
		{"parse", "failed to parse provider payload", FailureParseError, CategoryContent},
		{"empty", "provider returned empty content", FailureEmptyContent, CategoryContent},
		{"deadline", "context deadline exceeded", FailureConnectionTimeout, CategoryNetwork},
		{"generic timeout", "request timed out", FailureTimeoutPerSource, CategoryTimeout},
		{"cancelled", "operation cancelled by caller", FailureCancelled, CategoryJob},
		{"unknown", "something inexplicable happened", FailureUnknown, CategoryUnknown},
		{"empty message", "", FailureUnknown, CategoryUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reason := InferFailure(tt.message)
			assert.Equal(t, tt.code, reason.Code)
			assert.Equal(t, tt.category, reason.Category)
		})
	}
}

func TestFailureCodeCategory(t *testing.T) {
	assert.Equal(t, CategoryTimeout, FailureTimeoutJobOverall.Category())
	assert.Equal(t, CategoryJob, FailureDuplicateCallback.Category())
	assert.Equal(t, CategoryUnknown, FailureCode("made_up_code").Category())
}

func TestFailureReasonRetryable(t *testing.T) {
	assert.True(t, Reason(FailureConnectionRefused).Retryable())
	assert.True(t, Reason(FailureTimeoutPerSubTask).Retryable())
	assert.True(t, Reason(FailureServiceOverloaded).Retryable())
	assert.False(t, Reason(FailureServiceUnavailable).Retryable())
	assert.False(t, Reason(FailureParseError).Retryable())
	assert.False(t, Reason(FailureBlockedByCaptcha).Retryable())
	assert.False(t, Reason(FailureEmptyContent).Retryable())
	assert.False(t, Reason(FailureUnknown).Retryable())
}

func TestParseStance(t *testing.T) {
	assert.Equal(t, StancePro, ParseStance("pro"))
	assert.Equal(t, StanceCon, ParseStance(" CON "))
	assert.Equal(t, StanceNeutral, ParseStance("neutral"))
	assert.Equal(t, StanceNeutral, ParseStance(""))
	assert.Equal(t, StanceNeutral, ParseStance("wildly-unsure"))
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, JobStatusPending.Terminal())
	assert.False(t, JobStatusRunning.Terminal())
	assert.True(t, JobStatusCompleted.Terminal())
	assert.True(t, JobStatusTimeout.Terminal())

	assert.False(t, AiJobStatusInProgress.Terminal())
	assert.True(t, AiJobStatusPartialSuccess.Terminal())

	assert.False(t, SubTaskStatusInProgress.Terminal())
	assert.True(t, SubTaskStatusCancelled.Terminal())
}
