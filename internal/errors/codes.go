// Package errors provides structured error handling for Engram.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Resource access errors (file, path, permission)
//   - 3XX: Remote vector backend errors
//   - 4XX: Validation and protocol errors
//   - 5XX: Persistence (store) errors
//   - 6XX: Integration errors (absent optional external tools)
//   - 7XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryResource indicates file and path access errors.
	CategoryResource Category = "RESOURCE"
	// CategoryRemote indicates remote vector backend errors.
	CategoryRemote Category = "REMOTE"
	// CategoryValidation indicates caller input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryProtocol indicates malformed wire/queue input errors.
	CategoryProtocol Category = "PROTOCOL"
	// CategoryPersistence indicates persistent store errors.
	CategoryPersistence Category = "PERSISTENCE"
	// CategoryIntegration indicates absent optional external tools.
	CategoryIntegration Category = "INTEGRATION"
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

	// Resource access errors (200-299)
	ErrCodeFileNotFound   = "ERR_201_FILE_NOT_FOUND"
	ErrCodeFilePermission = "ERR_202_FILE_PERMISSION"
	ErrCodeInvalidPath    = "ERR_203_INVALID_PATH"
	ErrCodeLockHeld       = "ERR_204_LOCK_HELD"

	// Remote backend errors (300-399, retryable)
	ErrCodeRemoteUnavailable = "ERR_301_REMOTE_UNAVAILABLE"
	ErrCodeRemoteTimeout     = "ERR_302_REMOTE_TIMEOUT"
	ErrCodeRemoteSearch      = "ERR_303_REMOTE_SEARCH"
	ErrCodeRemoteUpsert      = "ERR_304_REMOTE_UPSERT"
	ErrCodeRemoteDelete      = "ERR_305_REMOTE_DELETE"

	// Validation and protocol errors (400-499)
	ErrCodeInvalidInput      = "ERR_401_INVALID_INPUT"
	ErrCodeDimensionMismatch = "ERR_402_DIMENSION_MISMATCH"
	ErrCodeMalformedEntry    = "ERR_403_MALFORMED_ENTRY"
	ErrCodeQueryEmpty        = "ERR_404_QUERY_EMPTY"
	ErrCodeUnknownEntryType  = "ERR_405_UNKNOWN_ENTRY_TYPE"

	// Persistence errors (500-599, retryable)
	ErrCodeStoreInit   = "ERR_501_STORE_INIT"
	ErrCodeStoreQuery  = "ERR_502_STORE_QUERY"
	ErrCodeStoreSave   = "ERR_503_STORE_SAVE"
	ErrCodeStoreDelete = "ERR_504_STORE_DELETE"

	// Integration errors (600-699)
	ErrCodeToolMissing = "ERR_601_TOOL_MISSING"

	// Internal errors (700-799)
	ErrCodeInternal        = "ERR_701_INTERNAL"
	ErrCodeEmbeddingFailed = "ERR_702_EMBEDDING_FAILED"
	ErrCodePanic           = "ERR_703_PANIC"
)

// protocolCodes distinguishes protocol errors from validation errors within
// the shared 4XX range.
var protocolCodes = map[string]struct{}{
	ErrCodeMalformedEntry:   {},
	ErrCodeUnknownEntryType: {},
}

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if _, ok := protocolCodes[code]; ok {
		return CategoryProtocol
	}
	if len(code) < 7 {
		return CategoryInternal
	}

	// Leading digit of the numeric portion
	// (e.g., '3' from "ERR_301_REMOTE_UNAVAILABLE").
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryResource
	case '3':
		return CategoryRemote
	case '4':
		return CategoryValidation
	case '5':
		return CategoryPersistence
	case '6':
		return CategoryIntegration
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeStoreInit, ErrCodeConfigInvalid, ErrCodeConfigNotFound:
		// Store init and corrupt configuration are fatal at startup.
		return SeverityFatal
	}

	// Retryable codes describe transient conditions.
	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
// Remote backend and persistence errors are transient; everything else is not.
func isRetryableCode(code string) bool {
	switch categoryFromCode(code) {
	case CategoryRemote, CategoryPersistence:
		return true
	default:
		return false
	}
}
