package validation

import (
	"bytes"
	"context"

	"github.com/beevik/etree"
	"github.com/go-faster/errors"
	"github.com/sirupsen/logrus"

	"github.com/rezonia/einvoice-engine/internal/codec"
)

const degradedWarning = "schema unavailable: document checked for well-formedness only"

// Validator runs the structural and business-rule layers over a serialized
// document.
type Validator struct {
	schema SchemaValidator
	logger logrus.FieldLogger
}

// Option configures a Validator
type Option func(*Validator)

// WithSchemaValidator sets the XSD backend. Without one the structural layer
// always degrades to well-formedness.
func WithSchemaValidator(s SchemaValidator) Option {
	return func(v *Validator) {
		v.schema = s
	}
}

// WithLogger sets the logger
func WithLogger(l logrus.FieldLogger) Option {
	return func(v *Validator) {
		v.logger = l
	}
}

// NewValidator creates a Validator
func NewValidator(opts ...Option) *Validator {
	v := &Validator{
		logger: logrus.StandardLogger().WithField("component", "validation"),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func parseDocument(content []byte) (*etree.Document, error) {
	if len(bytes.TrimSpace(content)) == 0 {
		return nil, errors.New("document is empty")
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(content); err != nil {
		return nil, errors.Wrap(err, "document is not well-formed XML")
	}
	if doc.Root() == nil {
		return nil, errors.New("document has no root element")
	}
	return doc, nil
}

// ValidateXSD checks well-formedness and, when a schema is available, XSD
// conformance. A missing schema is not a failure: the result is valid with
// Degraded set and a warning attached.
func (v *Validator) ValidateXSD(ctx context.Context, content []byte, format codec.Format) Result {
	if _, err := parseDocument(content); err != nil {
		return Failed(LayerStructural, err.Error())
	}

	if v.schema == nil {
		return v.degraded(format)
	}

	err := v.schema.ValidateSchema(ctx, content, format)
	switch {
	case err == nil:
		return Success(LayerStructural)
	case errors.Is(err, ErrSchemaUnavailable):
		return v.degraded(format)
	}

	var schemaErr *SchemaError
	if errors.As(err, &schemaErr) {
		return Failed(LayerStructural, schemaErr.Messages...)
	}
	v.logger.WithError(err).WithField("format", format).Warn("Schema validation could not run")
	return Failed(LayerStructural, err.Error())
}

func (v *Validator) degraded(format codec.Format) Result {
	v.logger.WithField("format", format).Debug("No schema available, checked well-formedness only")
	res := Success(LayerStructural).WithWarnings(degradedWarning)
	res.Degraded = true
	return res
}

// ValidateSchematron applies the business rule set. The dialect is taken from
// the document root, so one error is reported per missing mandatory node
// even for unrecognized documents.
func (v *Validator) ValidateSchematron(content []byte) Result {
	doc, err := parseDocument(content)
	if err != nil {
		return Failed(LayerBusinessRules, err.Error())
	}

	format := formatOf(doc.Root())
	if errs := checkRules(doc.Root(), format); len(errs) > 0 {
		return Failed(LayerBusinessRules, errs...)
	}
	return Success(LayerBusinessRules)
}

func formatOf(root *etree.Element) codec.Format {
	switch root.NamespaceURI() {
	case codec.NSFacturae:
		return codec.FormatFacturae
	case codec.NSUBLInvoice, codec.NSUBLCreditNote:
		return codec.FormatUBL
	}
	switch root.Tag {
	case "Facturae":
		return codec.FormatFacturae
	case "Invoice", "CreditNote":
		return codec.FormatUBL
	}
	return codec.FormatUnknown
}

// Validate runs the structural layer then the business-rule layer and stops
// at the first failure, returning that layer's result. Only a full pass is
// tagged LayerComplete.
func (v *Validator) Validate(ctx context.Context, content []byte, format codec.Format) Result {
	structural := v.ValidateXSD(ctx, content, format)
	if !structural.Valid {
		return structural
	}

	rules := v.ValidateSchematron(content)
	if !rules.Valid {
		return rules.WithWarnings(structural.Warnings...)
	}

	res := Success(LayerComplete).WithWarnings(structural.Warnings...)
	res.Degraded = structural.Degraded
	return res
}
