package backup

import (
	"errors"
	"fmt"
	"strings"
)

// BackupError represents errors that occur during backup and restore operations
type BackupError struct {
	Type    BackupErrorType        `json:"type"`
	Message string                 `json:"message"`
	Cause   error                  `json:"-"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface
func (e *BackupError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause error
func (e *BackupError) Unwrap() error {
	return e.Cause
}

// BackupErrorType represents different types of backup errors
type BackupErrorType string

const (
	BackupErrorTypeRecordNotFound   BackupErrorType = "RECORD_NOT_FOUND"
	BackupErrorTypeUnknownStrategy  BackupErrorType = "UNKNOWN_STRATEGY_ERROR"
	BackupErrorTypeProcessLaunch    BackupErrorType = "PROCESS_LAUNCH_ERROR"
	BackupErrorTypeIntegrity        BackupErrorType = "INTEGRITY_MISMATCH"
	BackupErrorTypeDiagnosticOutput BackupErrorType = "DIAGNOSTIC_OUTPUT_ERROR"
	BackupErrorTypeProcess          BackupErrorType = "PROCESS_ERROR"
	BackupErrorTypeRestore          BackupErrorType = "RESTORE_ERROR"
	BackupErrorTypePrepare          BackupErrorType = "PREPARE_ERROR"
	BackupErrorTypeStorage          BackupErrorType = "STORAGE_ERROR"
	BackupErrorTypeValidation       BackupErrorType = "VALIDATION_ERROR"
	BackupErrorTypeNotFound         BackupErrorType = "NOT_FOUND_ERROR"
	BackupErrorTypeInvalidState     BackupErrorType = "INVALID_STATE"
	BackupErrorTypeConfiguration    BackupErrorType = "CONFIGURATION_ERROR"
)

// NewBackupError creates a new BackupError
func NewBackupError(errorType BackupErrorType, message string, cause error) *BackupError {
	return &BackupError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// WithContext adds context information to the error
func (e *BackupError) WithContext(key string, value interface{}) *BackupError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// Common error constructors
func NewRecordNotFoundError(id string) *BackupError {
	return NewBackupError(BackupErrorTypeRecordNotFound, fmt.Sprintf("backup record %s not found", id), nil).
		WithContext("backup_id", id)
}

func NewUnknownStrategyError(kind string, key StrategyKey) *BackupError {
	return NewBackupError(BackupErrorTypeUnknownStrategy,
		fmt.Sprintf("unknown %s strategy %s", kind, key), nil).
		WithContext("kind", kind).
		WithContext("namespace", key.Namespace).
		WithContext("name", key.Name)
}

func NewProcessLaunchError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeProcessLaunch, message, cause)
}

func NewIntegrityError(segment, expected, actual string) *BackupError {
	return NewBackupError(BackupErrorTypeIntegrity,
		fmt.Sprintf("segment %s checksum mismatch", segment), nil).
		WithContext("segment", segment).
		WithContext("expected", expected).
		WithContext("actual", actual)
}

// maxStderrExcerpt bounds the stderr text carried in an error message
const maxStderrExcerpt = 256

func NewDiagnosticOutputError(stderr string) *BackupError {
	message := "command wrote to stderr"
	if excerpt := stderrExcerpt(stderr); excerpt != "" {
		message += ": " + excerpt
	}
	return NewBackupError(BackupErrorTypeDiagnosticOutput, message, nil).
		WithContext("stderr", stderr)
}

// stderrExcerpt flattens stderr onto one line and truncates it
func stderrExcerpt(stderr string) string {
	excerpt := strings.Join(strings.Fields(stderr), " ")
	if len(excerpt) > maxStderrExcerpt {
		excerpt = excerpt[:maxStderrExcerpt] + "..."
	}
	return excerpt
}

func NewProcessError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeProcess, message, cause)
}

func NewRestoreError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeRestore, message, cause)
}

func NewPrepareError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypePrepare, message, cause)
}

func NewStorageError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeStorage, message, cause)
}

func NewValidationError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeValidation, message, cause)
}

func NewNotFoundError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeNotFound, message, cause)
}

func NewInvalidStateError(from, to BackupState) *BackupError {
	return NewBackupError(BackupErrorTypeInvalidState,
		fmt.Sprintf("cannot transition from %s to %s", from, to), nil).
		WithContext("from", string(from)).
		WithContext("to", string(to))
}

func NewConfigurationError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeConfiguration, message, cause)
}

// ValidationError represents validation-specific errors
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value,omitempty"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// ValidationErrors represents a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	return fmt.Sprintf("%d validation errors: %s (and %d more)", len(e), e[0].Error(), len(e)-1)
}

// Add adds a validation error to the collection
func (e *ValidationErrors) Add(field, message string, value interface{}) {
	*e = append(*e, ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	})
}

// HasErrors returns true if there are validation errors
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// ErrorType returns the BackupErrorType of err, or "" when err is not a BackupError
func ErrorType(err error) BackupErrorType {
	var backupErr *BackupError
	if errors.As(err, &backupErr) {
		return backupErr.Type
	}
	return ""
}

func IsRecordNotFound(err error) bool    { return ErrorType(err) == BackupErrorTypeRecordNotFound }
func IsUnknownStrategy(err error) bool   { return ErrorType(err) == BackupErrorTypeUnknownStrategy }
func IsIntegrityMismatch(err error) bool { return ErrorType(err) == BackupErrorTypeIntegrity }
func IsNotFound(err error) bool          { return ErrorType(err) == BackupErrorTypeNotFound }
func IsInvalidState(err error) bool      { return ErrorType(err) == BackupErrorTypeInvalidState }

// IsRetryable reports whether the operation may succeed when repeated.
// Nothing inside the segment loop retries; this is for callers above the agent.
func IsRetryable(err error) bool {
	switch ErrorType(err) {
	case BackupErrorTypeStorage, BackupErrorTypeProcessLaunch:
		return true
	default:
		return false
	}
}
