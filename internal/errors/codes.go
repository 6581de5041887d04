// Package errors provides structured error handling for sagitta.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: IO and local persistence errors
//   - 3XX: Network, store and git errors
//   - 4XX: Validation errors
//   - 5XX: Internal and pipeline errors
package errors

// Category defines error categories for classification.
type Category string

const (
	CategoryConfig     Category = "CONFIG"
	CategoryIO         Category = "IO"
	CategoryNetwork    Category = "NETWORK"
	CategoryValidation Category = "VALIDATION"
	CategoryInternal   Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal aborts the current sync attempt.
	SeverityFatal Severity = "FATAL"
	// SeverityError fails one operation; callers may continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning is degraded operation (skipped chunk, retry pending).
	SeverityWarning Severity = "WARNING"
	// SeverityInfo is informational only.
	SeverityInfo Severity = "INFO"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// IO errors (200-299)
	ErrCodeFileNotFound      = "ERR_201_FILE_NOT_FOUND"
	ErrCodeFileRead          = "ERR_202_FILE_READ"
	ErrCodeStatePersist      = "ERR_206_STATE_PERSIST"
	ErrCodeVocabularyPersist = "ERR_207_VOCABULARY_PERSIST"

	// Network errors (300-399)
	ErrCodeStoreUnavailable = "ERR_301_STORE_UNAVAILABLE"
	ErrCodeStoreTimeout     = "ERR_302_STORE_TIMEOUT"
	ErrCodeEmbeddingBackend = "ERR_303_EMBEDDING_BACKEND"
	ErrCodeGitFailed        = "ERR_304_GIT_FAILED"
	ErrCodeStoreRequest     = "ERR_305_STORE_REQUEST"

	// Validation errors (400-499)
	ErrCodeInvalidInput      = "ERR_401_INVALID_INPUT"
	ErrCodeDimensionMismatch = "ERR_402_DIMENSION_MISMATCH"
	ErrCodeQueryEmpty        = "ERR_404_QUERY_EMPTY"
	ErrCodeCollectionMissing = "ERR_405_COLLECTION_MISSING"
	ErrCodeRepoNotFound      = "ERR_406_REPO_NOT_FOUND"
	ErrCodeTokenizerMismatch = "ERR_407_TOKENIZER_MISMATCH"

	// Internal errors (500-599)
	ErrCodeInternal           = "ERR_501_INTERNAL"
	ErrCodeEmbeddingFailed    = "ERR_502_EMBEDDING_FAILED"
	ErrCodeTokenizationFailed = "ERR_503_TOKENIZATION_FAILED"
	ErrCodeChunkingFailed     = "ERR_504_CHUNKING_FAILED"
	ErrCodeIndexFailed        = "ERR_505_INDEX_FAILED"
	ErrCodeSearchFailed       = "ERR_506_SEARCH_FAILED"
	ErrCodeSyncInProgress     = "ERR_507_SYNC_IN_PROGRESS"
)

// categoryFromCode reads the category digit of "ERR_NXX_...".
func categoryFromCode(code string) Category {
	if len(code) < 5 {
		return CategoryInternal
	}
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIO
	case '3':
		return CategoryNetwork
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeVocabularyPersist, ErrCodeStatePersist, ErrCodeStoreUnavailable,
		ErrCodeStoreTimeout, ErrCodeTokenizerMismatch:
		return SeverityFatal
	case ErrCodeTokenizationFailed, ErrCodeEmbeddingFailed, ErrCodeChunkingFailed:
		return SeverityWarning
	case ErrCodeCollectionMissing:
		return SeverityInfo
	default:
		return SeverityError
	}
}

func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeStoreUnavailable, ErrCodeStoreTimeout, ErrCodeEmbeddingBackend,
		ErrCodeEmbeddingFailed, ErrCodeSyncInProgress:
		return true
	default:
		return false
	}
}
