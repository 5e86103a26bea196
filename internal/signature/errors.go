package signature

import "fmt"

// Error codes for signing and verification
const (
	ErrCodeNoSignature      = "NO_SIGNATURE"
	ErrCodeInvalidSignature = "INVALID_SIGNATURE"
	ErrCodeDigestMismatch   = "DIGEST_MISMATCH"
	ErrCodeUnsupportedAlgo  = "UNSUPPORTED_ALGORITHM"
	ErrCodeCertExpired      = "CERT_EXPIRED"
	ErrCodeCertNotYetValid  = "CERT_NOT_YET_VALID"
	ErrCodeCertRevoked      = "CERT_REVOKED"
	ErrCodeChainInvalid     = "CHAIN_INVALID"
	ErrCodeOCSPUnavailable  = "OCSP_UNAVAILABLE"
	ErrCodeKeyUnavailable   = "KEY_UNAVAILABLE"
	ErrCodeCertUnavailable  = "CERT_UNAVAILABLE"
)

// SignatureError describes a signature that could not be produced or checked
type SignatureError struct {
	Code    string
	Field   string
	Message string
	Cause   error
}

func (e *SignatureError) Error() string {
	if e.Field != "" && e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (%v)", e.Code, e.Field, e.Message, e.Cause)
	}
	if e.Field != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s (%v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *SignatureError) Unwrap() error {
	return e.Cause
}

// NewSignatureError creates a new signature error
func NewSignatureError(code, field, message string, cause error) *SignatureError {
	return &SignatureError{
		Code:    code,
		Field:   field,
		Message: message,
		Cause:   cause,
	}
}

// KeyError means the tenant's private key could not be loaded or used
type KeyError struct {
	TenantID string
	Message  string
	Cause    error
}

func (e *KeyError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] tenant %s: %s (%v)", ErrCodeKeyUnavailable, e.TenantID, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] tenant %s: %s", ErrCodeKeyUnavailable, e.TenantID, e.Message)
}

func (e *KeyError) Unwrap() error {
	return e.Cause
}

// NewKeyError creates a new key error
func NewKeyError(tenantID, message string, cause error) *KeyError {
	return &KeyError{TenantID: tenantID, Message: message, Cause: cause}
}

// CertError means the tenant's certificate could not be loaded or parsed
type CertError struct {
	TenantID string
	Message  string
	Cause    error
}

func (e *CertError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] tenant %s: %s (%v)", ErrCodeCertUnavailable, e.TenantID, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] tenant %s: %s", ErrCodeCertUnavailable, e.TenantID, e.Message)
}

func (e *CertError) Unwrap() error {
	return e.Cause
}

// NewCertError creates a new certificate error
func NewCertError(tenantID, message string, cause error) *CertError {
	return &CertError{TenantID: tenantID, Message: message, Cause: cause}
}

// ErrNoSignature returns error when no signature found in document
func ErrNoSignature() *SignatureError {
	return NewSignatureError(ErrCodeNoSignature, "", "No ds:Signature element found.", nil)
}

// ErrInvalidSignature returns error when the signature value does not verify
func ErrInvalidSignature(cause error) *SignatureError {
	return NewSignatureError(ErrCodeInvalidSignature, "SignatureValue", "signature validation failed", cause)
}

// ErrDigestMismatch returns error when a reference digest differs
func ErrDigestMismatch(uri string) *SignatureError {
	if uri == "" {
		uri = "document"
	}
	return NewSignatureError(ErrCodeDigestMismatch, "Reference", fmt.Sprintf("digest mismatch for %s", uri), nil)
}

// ErrUnsupportedAlgorithm returns error for an algorithm URI this package does not implement
func ErrUnsupportedAlgorithm(uri string) *SignatureError {
	return NewSignatureError(ErrCodeUnsupportedAlgo, "", fmt.Sprintf("unsupported algorithm: %s", uri), nil)
}

// ErrCertExpired returns error when certificate has expired
func ErrCertExpired(subject string) *SignatureError {
	return NewSignatureError(ErrCodeCertExpired, "certificate", fmt.Sprintf("certificate expired: %s", subject), nil)
}

// ErrCertNotYetValid returns error when certificate is not yet valid
func ErrCertNotYetValid(subject string) *SignatureError {
	return NewSignatureError(ErrCodeCertNotYetValid, "certificate", fmt.Sprintf("certificate not yet valid: %s", subject), nil)
}

// ErrCertRevoked returns error when certificate has been revoked
func ErrCertRevoked(subject string) *SignatureError {
	return NewSignatureError(ErrCodeCertRevoked, "certificate", fmt.Sprintf("certificate revoked: %s", subject), nil)
}

// ErrChainInvalid returns error when certificate chain is invalid
func ErrChainInvalid(cause error) *SignatureError {
	return NewSignatureError(ErrCodeChainInvalid, "chain", "certificate chain validation failed", cause)
}

// ErrOCSPUnavailable returns error when OCSP check fails
func ErrOCSPUnavailable(cause error) *SignatureError {
	return NewSignatureError(ErrCodeOCSPUnavailable, "ocsp", "OCSP check unavailable", cause)
}
