package model

import "fmt"

// ModelError reports malformed or incomplete invoice input data.
type ModelError struct {
	Field   string
	Message string
	Cause   error
}

func (e *ModelError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("invalid invoice data: %s: %s (%v)", e.Field, e.Message, e.Cause)
	}
	return fmt.Sprintf("invalid invoice data: %s: %s", e.Field, e.Message)
}

func (e *ModelError) Unwrap() error {
	return e.Cause
}

// NewModelError creates a new model error
func NewModelError(field, message string, cause error) *ModelError {
	return &ModelError{
		Field:   field,
		Message: message,
		Cause:   cause,
	}
}

// ParseError represents malformed XML with format context
type ParseError struct {
	Format  string
	Field   string
	Message string
	Cause   error
}

func (e *ParseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (%v)", e.Format, e.Field, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Format, e.Field, e.Message)
}

func (e *ParseError) Unwrap() error {
	return e.Cause
}

// NewParseError creates a new parse error
func NewParseError(format, field, message string, cause error) *ParseError {
	return &ParseError{
		Format:  format,
		Field:   field,
		Message: message,
		Cause:   cause,
	}
}

// ConversionError is returned when a document cannot be mapped to or from
// the neutral model (unknown dialect, unsupported target).
type ConversionError struct {
	Source  string
	Target  string
	Message string
	Cause   error
}

func (e *ConversionError) Error() string {
	msg := fmt.Sprintf("conversion failed [%s -> %s]: %s", e.Source, e.Target, e.Message)
	if e.Cause != nil {
		msg += fmt.Sprintf(" (%v)", e.Cause)
	}
	return msg
}

func (e *ConversionError) Unwrap() error {
	return e.Cause
}

// NewConversionError creates a new conversion error
func NewConversionError(source, target, message string, cause error) *ConversionError {
	return &ConversionError{
		Source:  source,
		Target:  target,
		Message: message,
		Cause:   cause,
	}
}

// ConfigError reports missing tenant configuration or credentials.
// Not retryable without operator intervention.
type ConfigError struct {
	TenantID string
	Message  string
	Cause    error
}

func (e *ConfigError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("configuration error for tenant %q: %s (%v)", e.TenantID, e.Message, e.Cause)
	}
	return fmt.Sprintf("configuration error for tenant %q: %s", e.TenantID, e.Message)
}

func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// NewConfigError creates a new config error
func NewConfigError(tenantID, message string, cause error) *ConfigError {
	return &ConfigError{
		TenantID: tenantID,
		Message:  message,
		Cause:    cause,
	}
}
