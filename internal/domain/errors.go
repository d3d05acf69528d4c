package domain

import (
	"errors"
	"fmt"
)

// Category sentinels. Use with NewSubSystemError for subsystem-specific errors.
var (
	ErrNotFound      = fmt.Errorf("not found")
	ErrDuplicate     = fmt.Errorf("duplicate")
	ErrTimeout       = fmt.Errorf("operation timed out")
	ErrLimitReached  = fmt.Errorf("limit reached")
	ErrInvalidInput  = fmt.Errorf("invalid input")
	ErrProviderError = fmt.Errorf("provider error")
)

// Sentinel errors for the domain layer.
var (
	ErrProviderNotFound = fmt.Errorf("llm provider not found")
	ErrToolNotFound     = fmt.Errorf("tool not found")
	ErrDuplicateTool    = fmt.Errorf("tool already registered")
	ErrConfigLoad       = fmt.Errorf("failed to load configuration")
	ErrDecryption       = fmt.Errorf("decryption failed")

	// Discussion errors.
	ErrMaxRoundsReached    = fmt.Errorf("round table reached max rounds")
	ErrRoundTableNotActive = fmt.Errorf("round table is not active")
	ErrStreamFailed        = fmt.Errorf("model stream failed")
	ErrPersistence         = fmt.Errorf("persistence failed")

	// Job errors.
	ErrJobNotPending = fmt.Errorf("job is not pending")
	ErrWorkerClosed  = fmt.Errorf("job worker closed")
	ErrNoBallots     = fmt.Errorf("no valid ballots")

	// Search errors.
	ErrCacheMiss    = errors.New("cache miss")
	ErrEmptyContent = fmt.Errorf("empty content")
	ErrSSRFBlocked  = fmt.Errorf("url targets a private or reserved address")

	// Resilience errors.
	ErrContextOverflow = fmt.Errorf("context window exceeded")
	ErrRateLimit       = fmt.Errorf("rate limit exceeded")
	ErrAuthInvalid     = fmt.Errorf("authentication failed")
	ErrToolFailure     = fmt.Errorf("tool execution failed")
	ErrCircuitOpen     = fmt.Errorf("circuit breaker open")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op        string // operation name (e.g., "Orchestrator.Run")
	Err       error  // underlying sentinel or wrapped error
	Detail    string // human-readable detail
	SubSystem string // subsystem identifier (e.g., "store", "job"); used for ErrorCode dispatch
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// NewSubSystemError creates a DomainError tagged with a subsystem for ErrorCode dispatch.
func NewSubSystemError(subsystem, op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail, SubSystem: subsystem}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsRetryableError reports whether err is a transient error that may succeed on retry.
func IsRetryableError(err error) bool {
	return errors.Is(err, ErrRateLimit) || errors.Is(err, ErrTimeout) || errors.Is(err, ErrCircuitOpen)
}

// ErrorCode is a machine-parseable error category surfaced to API clients.
type ErrorCode string

const (
	CodeUnknown            ErrorCode = "UNKNOWN"
	CodeProviderNotFound   ErrorCode = "PROVIDER_NOT_FOUND"
	CodeToolNotFound       ErrorCode = "TOOL_NOT_FOUND"
	CodeDuplicateTool      ErrorCode = "DUPLICATE_TOOL"
	CodeToolFailure        ErrorCode = "TOOL_FAILURE"
	CodeConfigLoad         ErrorCode = "CONFIG_LOAD"
	CodeDecryption         ErrorCode = "DECRYPTION"
	CodeMaxRoundsReached   ErrorCode = "MAX_ROUNDS_REACHED"
	CodeRoundTableInactive ErrorCode = "ROUND_TABLE_NOT_ACTIVE"
	CodeStreamFailed       ErrorCode = "STREAM_FAILED"
	CodePersistence        ErrorCode = "PERSISTENCE"
	CodeJobNotPending      ErrorCode = "JOB_NOT_PENDING"
	CodeWorkerClosed       ErrorCode = "WORKER_CLOSED"
	CodeNoBallots          ErrorCode = "NO_BALLOTS"
	CodeContextOverflow    ErrorCode = "CONTEXT_OVERFLOW"
	CodeRateLimit          ErrorCode = "RATE_LIMIT"
	CodeAuthInvalid        ErrorCode = "AUTH_INVALID"
	CodeCircuitOpen        ErrorCode = "CIRCUIT_OPEN"
	CodeSSRFBlocked        ErrorCode = "SSRF_BLOCKED"

	// Subsystem-specific codes resolved through subSystemCodeMap.
	CodeRoundTableNotFound ErrorCode = "ROUND_TABLE_NOT_FOUND"
	CodeRoundNotFound      ErrorCode = "ROUND_NOT_FOUND"
	CodeJobNotFound        ErrorCode = "JOB_NOT_FOUND"
	CodeSearchTimeout      ErrorCode = "SEARCH_TIMEOUT"
	CodeJobLimitReached    ErrorCode = "JOB_LIMIT_REACHED"

	// Category error codes used when no subsystem-specific code matches.
	CodeNotFound      ErrorCode = "NOT_FOUND"
	CodeDuplicate     ErrorCode = "DUPLICATE"
	CodeTimeout       ErrorCode = "TIMEOUT"
	CodeLimitReached  ErrorCode = "LIMIT_REACHED"
	CodeInvalidInput  ErrorCode = "INVALID_INPUT"
	CodeProviderError ErrorCode = "PROVIDER_ERROR"
)

var errorCodeMap = map[error]ErrorCode{
	ErrNotFound:      CodeNotFound,
	ErrDuplicate:     CodeDuplicate,
	ErrTimeout:       CodeTimeout,
	ErrLimitReached:  CodeLimitReached,
	ErrInvalidInput:  CodeInvalidInput,
	ErrProviderError: CodeProviderError,

	ErrProviderNotFound:    CodeProviderNotFound,
	ErrToolNotFound:        CodeToolNotFound,
	ErrDuplicateTool:       CodeDuplicateTool,
	ErrToolFailure:         CodeToolFailure,
	ErrConfigLoad:          CodeConfigLoad,
	ErrDecryption:          CodeDecryption,
	ErrMaxRoundsReached:    CodeMaxRoundsReached,
	ErrRoundTableNotActive: CodeRoundTableInactive,
	ErrStreamFailed:        CodeStreamFailed,
	ErrPersistence:         CodePersistence,
	ErrJobNotPending:       CodeJobNotPending,
	ErrWorkerClosed:        CodeWorkerClosed,
	ErrNoBallots:           CodeNoBallots,
	ErrContextOverflow:     CodeContextOverflow,
	ErrRateLimit:           CodeRateLimit,
	ErrAuthInvalid:         CodeAuthInvalid,
	ErrCircuitOpen:         CodeCircuitOpen,
	ErrSSRFBlocked:         CodeSSRFBlocked,
}

var subSystemCodeMap = map[error]map[string]ErrorCode{
	ErrNotFound: {
		"roundtable": CodeRoundTableNotFound,
		"round":      CodeRoundNotFound,
		"job":        CodeJobNotFound,
	},
	ErrTimeout: {
		"search": CodeSearchTimeout,
	},
	ErrLimitReached: {
		"job": CodeJobLimitReached,
	},
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It unwraps DomainError and uses errors.Is to match sentinel errors.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	var de *DomainError
	if errors.As(err, &de) {
		if code := de.Code(); code != CodeUnknown {
			return code
		}
	}

	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}

	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
// If SubSystem is set, checks the subSystemCodeMap for a specific code.
func (e *DomainError) Code() ErrorCode {
	if e.SubSystem != "" {
		if subsysMap, ok := subSystemCodeMap[e.Err]; ok {
			if code, ok := subsysMap[e.SubSystem]; ok {
				return code
			}
		}
	}
	if code, ok := errorCodeMap[e.Err]; ok {
		return code
	}
	return CodeUnknown
}
