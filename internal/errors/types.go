package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different categories of errors.
type ErrorType string

const (
	ErrorTypeIO        ErrorType = "io"
	ErrorTypeParse     ErrorType = "parse"
	ErrorTypeReference ErrorType = "reference"
	ErrorTypeCollision ErrorType = "collision"
	ErrorTypeConfig    ErrorType = "config"
	ErrorTypeTemplate  ErrorType = "template"
	ErrorTypeInternal  ErrorType = "internal"
)

// Common error codes.
const (
	ErrCodeIO               = "ERR_IO"
	ErrCodeParse            = "ERR_PARSE"
	ErrCodeSchemaStrict     = "ERR_SCHEMA_STRICT"
	ErrCodeSchemaFragment   = "ERR_SCHEMA_FRAGMENT"
	ErrCodeRefMalformed     = "ERR_REF_MALFORMED"
	ErrCodeRefNotFound      = "ERR_REF_NOT_FOUND"
	ErrCodeRefCycle         = "ERR_REF_CYCLE"
	ErrCodeRefNotObject     = "ERR_REF_NOT_OBJECT"
	ErrCodeRefReservedKey   = "ERR_REF_RESERVED_KEY"
	ErrCodeRefInvalidObject = "ERR_REF_INVALID_OBJECT"
	ErrCodeRefNotString     = "ERR_REF_NOT_STRING"
	ErrCodeOutputCollision  = "ERR_OUTPUT_COLLISION"
	ErrCodeConfigNotFound   = "ERR_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid    = "ERR_CONFIG_INVALID"
	ErrCodeNotAFile         = "ERR_NOT_A_FILE"
	ErrCodeNotADirectory    = "ERR_NOT_A_DIRECTORY"
	ErrCodeTemplateParse    = "ERR_TEMPLATE_PARSE"
	ErrCodeTemplateExec     = "ERR_TEMPLATE_EXEC"
	ErrCodeInternalError    = "ERR_INTERNAL"
)

// Sentinel values for errors.Is. Matching compares Type and Code only.
var (
	ErrIO                 = &PigError{Type: ErrorTypeIO, Code: ErrCodeIO}
	ErrParse              = &PigError{Type: ErrorTypeParse, Code: ErrCodeParse}
	ErrSchemaStrict       = &PigError{Type: ErrorTypeParse, Code: ErrCodeSchemaStrict}
	ErrSchemaFragment     = &PigError{Type: ErrorTypeParse, Code: ErrCodeSchemaFragment}
	ErrRefMalformed       = &PigError{Type: ErrorTypeReference, Code: ErrCodeRefMalformed}
	ErrRefNotFound        = &PigError{Type: ErrorTypeReference, Code: ErrCodeRefNotFound}
	ErrRefCycle           = &PigError{Type: ErrorTypeReference, Code: ErrCodeRefCycle}
	ErrRefNotObject       = &PigError{Type: ErrorTypeReference, Code: ErrCodeRefNotObject}
	ErrRefReservedKey     = &PigError{Type: ErrorTypeReference, Code: ErrCodeRefReservedKey}
	ErrRefInvalidObject   = &PigError{Type: ErrorTypeReference, Code: ErrCodeRefInvalidObject}
	ErrRefNotString       = &PigError{Type: ErrorTypeReference, Code: ErrCodeRefNotString}
	ErrOutputCollision    = &PigError{Type: ErrorTypeCollision, Code: ErrCodeOutputCollision}
	ErrConfigNotFound     = &PigError{Type: ErrorTypeConfig, Code: ErrCodeConfigNotFound}
	ErrConfigInvalid      = &PigError{Type: ErrorTypeConfig, Code: ErrCodeConfigInvalid}
	ErrNotAFile           = &PigError{Type: ErrorTypeConfig, Code: ErrCodeNotAFile}
	ErrNotADirectory      = &PigError{Type: ErrorTypeConfig, Code: ErrCodeNotADirectory}
	ErrTemplateParse      = &PigError{Type: ErrorTypeTemplate, Code: ErrCodeTemplateParse}
	ErrTemplateExec       = &PigError{Type: ErrorTypeTemplate, Code: ErrCodeTemplateExec}
)

// PigError is a structured error type with context.
type PigError struct {
	Type     ErrorType
	Code     string
	Message  string
	Cause    error
	Context  map[string]interface{}
	FilePath string
	// Keys is the key path inside FilePath the error refers to, if any.
	Keys []string
	// Chain is the ordered list of references that led to the error.
	Chain []string
}

// Error implements the error interface.
func (e *PigError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}

	if e.FilePath != "" {
		location := e.FilePath
		if len(e.Keys) > 0 {
			location += "#/" + strings.Join(e.Keys, "/")
		}
		parts = append(parts, location)
	}

	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")

	if len(e.Chain) > 0 {
		result += ": " + strings.Join(e.Chain, " -> ")
	}

	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *PigError) Unwrap() error {
	return e.Cause
}

// Is implements error comparison.
func (e *PigError) Is(target error) bool {
	var t *PigError
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}

	return false
}

// WithContext adds context information to the error.
func (e *PigError) WithContext(key string, value interface{}) *PigError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value

	return e
}

// WithLocation adds the file and key path the error refers to.
func (e *PigError) WithLocation(filePath string, keys ...string) *PigError {
	e.FilePath = filePath
	e.Keys = keys

	return e
}

// WithChain attaches the reference chain that produced the error.
func (e *PigError) WithChain(chain []string) *PigError {
	e.Chain = chain

	return e
}

// Error creation functions

// NewIOError creates an I/O error.
func NewIOError(message string, cause error) *PigError {
	return &PigError{
		Type:    ErrorTypeIO,
		Code:    ErrCodeIO,
		Message: message,
		Cause:   cause,
	}
}

// NewParseError creates a parse error.
func NewParseError(code, message string, cause error) *PigError {
	return &PigError{
		Type:    ErrorTypeParse,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewReferenceError creates a reference resolution error.
func NewReferenceError(code, message string) *PigError {
	return &PigError{
		Type:    ErrorTypeReference,
		Code:    code,
		Message: message,
	}
}

// NewCollisionError creates an output collision error.
func NewCollisionError(message string) *PigError {
	return &PigError{
		Type:    ErrorTypeCollision,
		Code:    ErrCodeOutputCollision,
		Message: message,
	}
}

// NewConfigError creates a configuration error.
func NewConfigError(code, message string) *PigError {
	return &PigError{
		Type:    ErrorTypeConfig,
		Code:    code,
		Message: message,
	}
}

// NewTemplateError creates a template parse or execution error.
func NewTemplateError(code, message string, cause error) *PigError {
	return &PigError{
		Type:    ErrorTypeTemplate,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewInternalError creates an internal error.
func NewInternalError(message string, cause error) *PigError {
	return &PigError{
		Type:    ErrorTypeInternal,
		Code:    ErrCodeInternalError,
		Message: message,
		Cause:   cause,
	}
}

// WrapIO wraps err as an I/O error about path, returning nil for a nil err.
func WrapIO(err error, op, path string) error {
	if err == nil {
		return nil
	}

	var pe *PigError
	if errors.As(err, &pe) {
		return err
	}

	return NewIOError(op, err).WithLocation(path)
}

// TypeOf returns the error type of err, or the empty type if err is not a PigError.
func TypeOf(err error) ErrorType {
	var pe *PigError
	if errors.As(err, &pe) {
		return pe.Type
	}

	return ""
}

// IsReferenceError checks if an error came from reference resolution.
func IsReferenceError(err error) bool {
	return TypeOf(err) == ErrorTypeReference
}

// Logger interface for error logging.
type Logger interface {
	Error(ctx context.Context, err error, msg string, fields ...interface{})
}

// Report logs err with its structured fields. It is a no-op for a nil err.
func Report(ctx context.Context, logger Logger, err error) {
	if err == nil || logger == nil {
		return
	}

	var pe *PigError
	if !errors.As(err, &pe) {
		logger.Error(ctx, err, "Unhandled error occurred")
		return
	}

	fields := []interface{}{"type", string(pe.Type), "code", pe.Code}
	if pe.FilePath != "" {
		fields = append(fields, "file", pe.FilePath)
	}
	if len(pe.Keys) > 0 {
		fields = append(fields, "keys", strings.Join(pe.Keys, "/"))
	}
	if len(pe.Chain) > 0 {
		fields = append(fields, "chain", strings.Join(pe.Chain, " -> "))
	}
	for k, v := range pe.Context {
		fields = append(fields, k, v)
	}

	logger.Error(ctx, err, pe.Message, fields...)
}
