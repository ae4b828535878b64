// Package errors provides structured error handling for indexkeeper.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Index store errors (open, commit, corruption)
//   - 3XX: Coordination errors (locks, bus)
//   - 4XX: Validation errors
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryStore indicates index store errors.
	CategoryStore Category = "STORE"
	// CategoryCoordination indicates lock and broadcast errors.
	CategoryCoordination Category = "COORDINATION"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// Store errors (200-299)
	ErrCodeIndexOpen    = "ERR_201_INDEX_OPEN"
	ErrCodeIndexCommit  = "ERR_202_INDEX_COMMIT"
	ErrCodeIndexClosed  = "ERR_203_INDEX_CLOSED"
	ErrCodeCorruptIndex = "ERR_205_CORRUPT_INDEX"

	// Coordination errors (300-399)
	ErrCodeLockContention   = "ERR_301_LOCK_CONTENTION"
	ErrCodeBuildLockTimeout = "ERR_302_BUILD_LOCK_TIMEOUT"
	ErrCodePublishFailed    = "ERR_303_PUBLISH_FAILED"
	ErrCodeBusUnavailable   = "ERR_304_BUS_UNAVAILABLE"

	// Validation errors (400-499)
	ErrCodeInvalidInput   = "ERR_401_INVALID_INPUT"
	ErrCodeUnknownType    = "ERR_402_UNKNOWN_TYPE"
	ErrCodeInvalidQuery   = "ERR_403_INVALID_QUERY"
	ErrCodeInvalidMessage = "ERR_404_INVALID_MESSAGE"
	ErrCodeNotFound       = "ERR_405_NOT_FOUND"

	// Internal errors (500-599)
	ErrCodeInternal     = "ERR_501_INTERNAL"
	ErrCodeSearchFailed = "ERR_502_SEARCH_FAILED"
	ErrCodeIndexFailed  = "ERR_503_INDEX_FAILED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryStore
	case '3':
		return CategoryCoordination
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeCorruptIndex:
		return SeverityFatal
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeLockContention, ErrCodeNotFound, ErrCodeBusUnavailable:
		return true
	default:
		return false
	}
}
