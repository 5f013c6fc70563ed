// Package errors provides structured error types for the archive pipeline.
// Every error carries a category, code, message and a fatal flag so callers
// can tell a failed archive from a logged-only problem.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by pipeline stage.
type ErrorCategory string

const (
	ErrCategorySchema      ErrorCategory = "SCHEMA"
	ErrCategoryStaging     ErrorCategory = "STAGING"
	ErrCategoryExtraction  ErrorCategory = "EXTRACTION"
	ErrCategoryBulkLoad    ErrorCategory = "BULK_LOAD"
	ErrCategoryTransaction ErrorCategory = "TRANSACTION"
	ErrCategoryCleanup     ErrorCategory = "CLEANUP"
	ErrCategoryUsage       ErrorCategory = "USAGE"
	ErrCategoryIO          ErrorCategory = "IO"
)

// Error codes for each category.
const (
	// Schema codes
	CodeProvisionFailed = "PROVISION_FAILED"

	// Staging codes
	CodeUploadFailed   = "UPLOAD_FAILED"
	CodeDownloadFailed = "DOWNLOAD_FAILED"
	CodeCodecFailed    = "CODEC_FAILED"

	// Extraction codes
	CodeFieldMissing = "FIELD_MISSING"
	CodeCoerceFailed = "COERCE_FAILED"
	CodeLineDropped  = "LINE_DROPPED"

	// Bulk load codes
	CodeLoadAborted = "LOAD_ABORTED"

	// Transaction codes
	CodeBeginFailed   = "BEGIN_FAILED"
	CodeDeleteFailed  = "DELETE_FAILED"
	CodeDeriveFailed  = "DERIVE_FAILED"
	CodeCommitFailed  = "COMMIT_FAILED"
	CodeRolledBack    = "ROLLED_BACK"
	CodeConnectFailed = "CONNECT_FAILED"

	// Cleanup codes
	CodeRemoveFailed   = "REMOVE_FAILED"
	CodeRollbackFailed = "ROLLBACK_FAILED"

	// Usage codes
	CodeMissingArgument = "MISSING_ARGUMENT"
	CodeInvalidConfig   = "INVALID_CONFIG"

	// IO codes
	CodeReadFailed = "READ_FAILED"
)

// ArchiveError is the structured error type used throughout the pipeline.
type ArchiveError struct {
	Category ErrorCategory
	Code     string
	Message  string
	Details  map[string]interface{}
	Cause    error
	Fatal    bool
}

// Error returns a formatted error string.
func (e *ArchiveError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *ArchiveError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *ArchiveError) Is(target error) bool {
	var t *ArchiveError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new ArchiveError.
func New(category ErrorCategory, code, message string) *ArchiveError {
	return &ArchiveError{
		Category: category,
		Code:     code,
		Message:  message,
		Fatal:    isFatal(category),
	}
}

// Wrap creates a new ArchiveError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *ArchiveError {
	return &ArchiveError{
		Category: category,
		Code:     code,
		Message:  message,
		Cause:    cause,
		Fatal:    isFatal(category),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *ArchiveError) WithDetails(details map[string]interface{}) *ArchiveError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsFatal checks whether an error (or its chain) aborts an archive run.
// Errors that are not ArchiveErrors are treated as fatal.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var ae *ArchiveError
	if errors.As(err, &ae) {
		return ae.Fatal
	}
	return true
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not an ArchiveError.
func GetCategory(err error) ErrorCategory {
	var ae *ArchiveError
	if errors.As(err, &ae) {
		return ae.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not an ArchiveError.
func GetCode(err error) string {
	var ae *ArchiveError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}

// HasCategory reports whether any ArchiveError in the chain has the category.
func HasCategory(err error, category ErrorCategory) bool {
	for err != nil {
		var ae *ArchiveError
		if !errors.As(err, &ae) {
			return false
		}
		if ae.Category == category {
			return true
		}
		err = ae.Cause
	}
	return false
}

// isFatal: field gaps and cleanup problems are logged, never propagated.
func isFatal(category ErrorCategory) bool {
	switch category {
	case ErrCategoryExtraction, ErrCategoryCleanup:
		return false
	default:
		return true
	}
}

// Convenience constructors for common errors.

func NewSchemaError(message string, cause error) *ArchiveError {
	return Wrap(ErrCategorySchema, CodeProvisionFailed, message, cause)
}

func NewStagingError(code, message string, cause error) *ArchiveError {
	return Wrap(ErrCategoryStaging, code, message, cause)
}

func NewExtractionGap(code, message string) *ArchiveError {
	return New(ErrCategoryExtraction, code, message)
}

func NewBulkLoadError(message string, cause error) *ArchiveError {
	return Wrap(ErrCategoryBulkLoad, CodeLoadAborted, message, cause)
}

func NewTransactionError(code, message string, cause error) *ArchiveError {
	return Wrap(ErrCategoryTransaction, code, message, cause)
}

func NewCleanupError(code, message string, cause error) *ArchiveError {
	return Wrap(ErrCategoryCleanup, code, message, cause)
}

func NewUsageError(code, message string) *ArchiveError {
	return New(ErrCategoryUsage, code, message)
}

func NewIOError(message string, cause error) *ArchiveError {
	return Wrap(ErrCategoryIO, CodeReadFailed, message, cause)
}
