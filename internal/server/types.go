package server

import (
	"time"

	"github.com/rezonia/einvoice-engine/internal/gateway"
	"github.com/rezonia/einvoice-engine/internal/processor"
	"github.com/rezonia/einvoice-engine/internal/validation"
)

// DetectResponse is the response for the detect endpoint
type DetectResponse struct {
	Format string `json:"format"`
	Root   string `json:"root,omitempty"`
	Size   int    `json:"size"`
}

// ValidationResponse is the response for the validate endpoint
type ValidationResponse struct {
	Format string `json:"format"`
	validation.Result
}

// InvoiceResponse is the response for the invoices endpoint. The signed
// document is included only once the pipeline reached the signing stage.
type InvoiceResponse struct {
	*processor.Result
	SignedXML string `json:"signed_xml,omitempty"`
}

// SubmissionResponse wraps a registry status or an operation outcome
type SubmissionResponse struct {
	Submission *gateway.Submission `json:"submission,omitempty"`
	Status     *gateway.Status     `json:"status,omitempty"`
}

// CancelRequest is the body of a cancellation request
type CancelRequest struct {
	Reason string `json:"reason"`
}

// ErrorResponse is the standard error response
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// HealthResponse is the response for the health endpoint
type HealthResponse struct {
	Status string    `json:"status"`
	Time   time.Time `json:"time"`
}
