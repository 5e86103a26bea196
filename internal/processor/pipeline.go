// Package processor runs an invoice from plain data to a registry
// submission: model validation, serialization, document validation,
// signing and submission, stopping at the first stage that fails.
package processor

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/rezonia/einvoice-engine/internal/codec"
	"github.com/rezonia/einvoice-engine/internal/gateway"
	"github.com/rezonia/einvoice-engine/internal/model"
	"github.com/rezonia/einvoice-engine/internal/signature"
	"github.com/rezonia/einvoice-engine/internal/validation"
)

// Stage names a pipeline step
type Stage string

const (
	StageModel     Stage = "model"
	StageSerialize Stage = "serialize"
	StageValidate  Stage = "validate"
	StageSign      Stage = "sign"
	StageSubmit    Stage = "submit"
	StageDone      Stage = "done"
)

func (s Stage) String() string {
	return string(s)
}

// Submitter sends a signed document. *delivery.Orchestrator implements it.
type Submitter interface {
	Send(ctx context.Context, documentID, tenantID string, signedXML []byte) (*gateway.Submission, error)
}

// Result carries everything produced up to the stage the pipeline stopped
// at. Stage is StageDone only when the registry accepted the submission.
type Result struct {
	Stage      Stage               `json:"stage"`
	DocumentID string              `json:"document_id,omitempty"`
	Invoice    *model.Invoice      `json:"-"`
	Validation validation.Result   `json:"validation"`
	XML        []byte              `json:"-"`
	SignedXML  []byte              `json:"-"`
	Submission *gateway.Submission `json:"submission,omitempty"`
}

// OK reports whether every stage passed
func (r *Result) OK() bool {
	return r.Stage == StageDone
}

// Pipeline is the orchestration entry point
type Pipeline struct {
	codec      *codec.Codec
	validator  *validation.Validator
	signer     signature.Signer
	submitter  Submitter
	documentID func(tenantID string, inv model.Invoice) string
	logger     logrus.FieldLogger
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithCodec sets the codec used for serialization
func WithCodec(c *codec.Codec) Option {
	return func(p *Pipeline) {
		p.codec = c
	}
}

// WithValidator sets the document validator
func WithValidator(v *validation.Validator) Option {
	return func(p *Pipeline) {
		p.validator = v
	}
}

// WithDocumentID sets how delivery log document IDs are derived
func WithDocumentID(f func(tenantID string, inv model.Invoice) string) Option {
	return func(p *Pipeline) {
		p.documentID = f
	}
}

// WithLogger sets the logger
func WithLogger(l logrus.FieldLogger) Option {
	return func(p *Pipeline) {
		p.logger = l
	}
}

// NewPipeline creates a pipeline. The signer and submitter are required
// collaborators; the codec and validator default to the stock ones.
func NewPipeline(signer signature.Signer, submitter Submitter, opts ...Option) *Pipeline {
	p := &Pipeline{
		signer:     signer,
		submitter:  submitter,
		documentID: defaultDocumentID,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = logrus.StandardLogger().WithField("component", "processor")
	}
	if p.codec == nil {
		p.codec = codec.New()
	}
	if p.validator == nil {
		p.validator = validation.NewValidator()
	}
	return p
}

func defaultDocumentID(tenantID string, inv model.Invoice) string {
	return tenantID + "/" + inv.Number
}

// ProcessInvoice runs the full pipeline. Validation failures come back in
// Result.Validation with a nil error; errors are reserved for malformed
// input, conversion, configuration, key material and registry failures.
func (p *Pipeline) ProcessInvoice(ctx context.Context, data map[string]any, target codec.Format, tenantID string) (*Result, error) {
	res := &Result{Stage: StageModel}
	log := p.logger.WithField("tenant", tenantID).WithField("format", target)

	inv, err := model.FromMap(data)
	if err != nil {
		return res, err
	}
	res.Invoice = &inv
	res.DocumentID = p.documentID(tenantID, inv)
	log = log.WithField("invoice", inv.Number)

	res.Validation = validation.ValidateModel(inv)
	if !res.Validation.Valid {
		log.WithField("errors", len(res.Validation.Errors)).Info("Invoice rejected by model rules")
		return res, nil
	}

	res.Stage = StageSerialize
	res.XML, err = p.codec.Generate(inv, target)
	if err != nil {
		return res, err
	}

	res.Stage = StageValidate
	res.Validation = p.validator.Validate(ctx, res.XML, target)
	if !res.Validation.Valid {
		log.WithField("layer", res.Validation.Layer).WithField("errors", len(res.Validation.Errors)).Info("Document failed validation")
		return res, nil
	}

	res.Stage = StageSign
	res.SignedXML, err = p.signer.Sign(ctx, res.XML, tenantID)
	if err != nil {
		log.WithError(err).Error("Signing failed")
		return res, err
	}

	res.Stage = StageSubmit
	res.Submission, err = p.submitter.Send(ctx, res.DocumentID, tenantID, res.SignedXML)
	if err != nil {
		return res, err
	}
	if res.Submission == nil || !res.Submission.Success {
		log.Info("Submission rejected")
		return res, nil
	}

	res.Stage = StageDone
	log.WithField("registry_number", res.Submission.RegistryNumber).Info("Invoice processed")
	return res, nil
}
