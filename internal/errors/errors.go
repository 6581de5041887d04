package errors

import (
	"errors"
	"fmt"
)

// SagittaError is the structured error type used across sync, index and search.
type SagittaError struct {
	// Code is the unique error code (e.g., "ERR_301_STORE_UNAVAILABLE").
	Code string

	// Message is the human-readable error message.
	Message string

	Category Category
	Severity Severity

	// Details holds extra context (repo, path, collection).
	Details map[string]string

	// Cause is the underlying error.
	Cause error

	// Retryable reports whether the same call may succeed later.
	Retryable bool

	// Suggestion is an actionable hint for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *SagittaError) Error() string {
	if e.Cause != nil && e.Cause.Error() != e.Message {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *SagittaError) Unwrap() error {
	return e.Cause
}

// Is matches another SagittaError by code, so the sentinels below work with
// errors.Is.
func (e *SagittaError) Is(target error) bool {
	t, ok := target.(*SagittaError)
	return ok && e.Code == t.Code
}

// WithDetail adds a key-value detail and returns e for chaining.
func (e *SagittaError) WithDetail(key, value string) *SagittaError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion sets the user hint and returns e for chaining.
func (e *SagittaError) WithSuggestion(suggestion string) *SagittaError {
	e.Suggestion = suggestion
	return e
}

// New creates a SagittaError; category, severity and retryability derive from code.
func New(code string, message string, cause error) *SagittaError {
	return &SagittaError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a SagittaError from err, reusing its message. Nil stays nil.
func Wrap(code string, err error) *SagittaError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// Sentinels for errors.Is checks.
var (
	ErrStoreUnavailable   = &SagittaError{Code: ErrCodeStoreUnavailable}
	ErrCollectionMissing  = &SagittaError{Code: ErrCodeCollectionMissing}
	ErrVocabularyPersist  = &SagittaError{Code: ErrCodeVocabularyPersist}
	ErrEmbeddingFailed    = &SagittaError{Code: ErrCodeEmbeddingFailed}
	ErrTokenizationFailed = &SagittaError{Code: ErrCodeTokenizationFailed}
	ErrRepoNotFound       = &SagittaError{Code: ErrCodeRepoNotFound}
	ErrSyncInProgress     = &SagittaError{Code: ErrCodeSyncInProgress}
)

// TokenizationError marks a chunk whose text could not be tokenized. The chunk
// is skipped; the sync continues.
func TokenizationError(path string, cause error) *SagittaError {
	return New(ErrCodeTokenizationFailed, "tokenization failed", cause).WithDetail("path", path)
}

// EmbeddingError is returned once embedding retries are exhausted.
func EmbeddingError(message string, cause error) *SagittaError {
	return New(ErrCodeEmbeddingFailed, message, cause)
}

// StoreUnavailable aborts the current sync attempt without moving the watermark.
func StoreUnavailable(op string, cause error) *SagittaError {
	return New(ErrCodeStoreUnavailable, "vector store unavailable during "+op, cause).
		WithSuggestion("Check that the vector store is running and reachable, then retry the sync.")
}

// CollectionMissingOrEmpty reports a collection that cannot back a NoOp sync.
func CollectionMissingOrEmpty(collection string, exists bool) *SagittaError {
	msg := "collection is empty"
	if !exists {
		msg = "collection does not exist"
	}
	return New(ErrCodeCollectionMissing, msg, nil).WithDetail("collection", collection)
}

// VocabularyPersistenceError aborts a sync before any point references an
// unpersisted token id.
func VocabularyPersistenceError(message string, cause error) *SagittaError {
	return New(ErrCodeVocabularyPersist, message, cause)
}

// GitError wraps a failed git invocation.
func GitError(message string, cause error) *SagittaError {
	return New(ErrCodeGitFailed, message, cause)
}

// RepoNotFound reports an unregistered repository.
func RepoNotFound(repo string) *SagittaError {
	return New(ErrCodeRepoNotFound, fmt.Sprintf("repository %q is not registered", repo), nil).
		WithSuggestion("Register it first with: sagitta repo add <path>")
}

// SyncInProgress is returned when the per-repository lock is already held.
func SyncInProgress(repo string) *SagittaError {
	return New(ErrCodeSyncInProgress, fmt.Sprintf("a sync of %q is already running", repo), nil)
}

// ConfigError creates a configuration error.
func ConfigError(message string, cause error) *SagittaError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// ValidationError creates an input validation error.
func ValidationError(message string, cause error) *SagittaError {
	return New(ErrCodeInvalidInput, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *SagittaError {
	return New(ErrCodeInternal, message, cause)
}

// As returns the first SagittaError in err's chain.
func As(err error) (*SagittaError, bool) {
	var se *SagittaError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// IsRetryable reports whether err carries a retryable SagittaError.
func IsRetryable(err error) bool {
	se, ok := As(err)
	return ok && se.Retryable
}

// IsFatal reports whether err carries a fatal SagittaError.
func IsFatal(err error) bool {
	se, ok := As(err)
	return ok && se.Severity == SeverityFatal
}

// GetCode returns the code of the first SagittaError in err's chain, or "".
func GetCode(err error) string {
	if se, ok := As(err); ok {
		return se.Code
	}
	return ""
}

// HasCode reports whether any SagittaError in err's chain has code.
func HasCode(err error, code string) bool {
	return errors.Is(err, &SagittaError{Code: code})
}

// Is is errors.Is from the standard library.
func Is(err, target error) bool {
	return errors.Is(err, target)
}
