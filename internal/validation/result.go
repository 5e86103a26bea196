// Package validation checks invoices at three layers: the neutral model,
// the serialized document's schema (structural) and a fixed rule set over
// the document's content (business rules).
package validation

import (
	"fmt"
	"strings"

	"github.com/rezonia/einvoice-engine/internal/model"
)

// Layer names the validation stage that produced a result
type Layer string

const (
	LayerModel         Layer = "model"
	LayerStructural    Layer = "structural"
	LayerBusinessRules Layer = "business-rules"
	LayerComplete      Layer = "complete"
)

// Result is the outcome of a validation layer. Validation failures are
// reported through this value, never as errors.
type Result struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings,omitempty"`
	Layer    Layer    `json:"layer"`

	// Degraded is set when the structural layer could only check
	// well-formedness because no schema was available.
	Degraded bool `json:"degraded,omitempty"`
}

// Success creates a passing result
func Success(layer Layer) Result {
	return Result{Valid: true, Errors: []string{}, Layer: layer}
}

// Failed creates a failing result. At least one error is always present.
func Failed(layer Layer, errs ...string) Result {
	if len(errs) == 0 {
		errs = []string{"validation failed"}
	}
	return Result{Valid: false, Errors: append([]string(nil), errs...), Layer: layer}
}

// WithWarnings returns a copy carrying additional warnings
func (r Result) WithWarnings(warnings ...string) Result {
	if len(warnings) == 0 {
		return r
	}
	out := r
	out.Warnings = append(append([]string(nil), r.Warnings...), warnings...)
	return out
}

// Err converts a failed result into a *Failure, or nil when valid
func (r Result) Err() error {
	if r.Valid {
		return nil
	}
	return &Failure{Layer: r.Layer, Errors: r.Errors}
}

// Failure is a validation result surfaced as an error, for callers such as
// the CLI that need one.
type Failure struct {
	Layer  Layer
	Errors []string
}

func (e *Failure) Error() string {
	return fmt.Sprintf("%s validation failed: %s", e.Layer, strings.Join(e.Errors, "; "))
}

// ValidateModel runs the neutral model's own rules
func ValidateModel(inv model.Invoice) Result {
	msgs := inv.ValidationMessages()
	if len(msgs) == 0 {
		return Success(LayerModel)
	}
	return Failed(LayerModel, msgs...)
}
