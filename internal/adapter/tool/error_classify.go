package tool

import (
	"errors"
	"strings"

	"github.com/DanielMax937/round-table-sub000/internal/domain"
)

// retryableSentinels mark failures that usually clear on their own.
var retryableSentinels = []error{
	domain.ErrTimeout,
	domain.ErrProviderError,
	domain.ErrRateLimit,
	domain.ErrCircuitOpen,
}

// retryablePatterns catch transport errors that carry no sentinel. Matched
// case-insensitively.
var retryablePatterns = []string{
	"connection refused",
	"connection reset",
	"no such host",
	"timeout",
	"deadline exceeded",
	"temporarily unavailable",
	"service unavailable",
	"try again",
}

// classifyToolError reports whether a tool failure is transient.
func classifyToolError(err error) bool {
	if err == nil {
		return false
	}
	for _, sentinel := range retryableSentinels {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	lower := strings.ToLower(err.Error())
	for _, p := range retryablePatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
