// Package delivery keeps the append-only audit trail of registry calls. The
// Orchestrator wraps every submit, query, cancel and payment notification
// and writes exactly one Entry per attempt, whatever the outcome.
package delivery

import (
	"context"
	"time"
)

// Operation names a kind of registry call
type Operation string

const (
	OperationSend          Operation = "send"
	OperationQuery         Operation = "query"
	OperationCancel        Operation = "cancel"
	OperationPaymentStatus Operation = "payment-status"
)

// Entry is one audited registry call
type Entry struct {
	ID              string    `json:"id"`
	DocumentID      string    `json:"document_id"`
	TenantID        string    `json:"tenant_id"`
	Operation       Operation `json:"operation"`
	Channel         string    `json:"channel,omitempty"`
	RequestPayload  string    `json:"request_payload,omitempty"`
	ResponsePayload string    `json:"response_payload,omitempty"`
	ResponseCode    string    `json:"response_code,omitempty"`
	HTTPStatus      int       `json:"http_status,omitempty"`
	DurationMs      int64     `json:"duration_ms"`
	ErrorDetail     string    `json:"error_detail,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// Failed reports whether the attempt ended in an error or a rejection
func (e Entry) Failed() bool {
	return e.ErrorDetail != ""
}

// LogSink stores entries. Implementations must keep entries for the same
// document in the order they were appended.
type LogSink interface {
	Append(ctx context.Context, e Entry) error
}
