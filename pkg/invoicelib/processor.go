package invoicelib

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/sirupsen/logrus"

	"github.com/rezonia/einvoice-engine/internal/certs"
	"github.com/rezonia/einvoice-engine/internal/codec"
	"github.com/rezonia/einvoice-engine/internal/delivery"
	"github.com/rezonia/einvoice-engine/internal/gateway"
	"github.com/rezonia/einvoice-engine/internal/processor"
	"github.com/rezonia/einvoice-engine/internal/signature"
	"github.com/rezonia/einvoice-engine/internal/signature/xades"
	"github.com/rezonia/einvoice-engine/internal/tenant"
	"github.com/rezonia/einvoice-engine/internal/validation"
)

// Re-export the collaborator contracts and result types
type (
	TenantProvider      = tenant.Provider
	TenantConfig        = tenant.Config
	CertificateProvider = certs.Provider
	LogSink             = delivery.LogSink
	LogEntry            = delivery.Entry
	Gateway             = gateway.Client
	Submission          = gateway.Submission
	Status              = gateway.Status
	ValidationResult    = validation.Result
	VerificationResult  = signature.VerificationResult
	Result              = processor.Result
)

// Tenant environments
const (
	EnvironmentStub       = tenant.EnvironmentStub
	EnvironmentStaging    = tenant.EnvironmentStaging
	EnvironmentProduction = tenant.EnvironmentProduction
)

// NewStaticTenants returns an in-memory tenant provider
func NewStaticTenants(configs ...TenantConfig) TenantProvider {
	return tenant.NewStaticProvider(configs...)
}

// NewCertificateDir returns a provider reading <dir>/<tenant>/cert.pem and
// the encrypted private key next to it
func NewCertificateDir(dir string) CertificateProvider {
	return certs.NewFileProvider(dir)
}

// NewMemoryLog returns an in-memory delivery log
func NewMemoryLog() *delivery.MemorySink {
	return delivery.NewMemorySink()
}

// Options configures an Engine. Tenants and Certificates are required.
type Options struct {
	Tenants      TenantProvider
	Certificates CertificateProvider

	// Gateway overrides the default FACe/FACeB2B/stub router
	Gateway Gateway
	// Log receives one entry per registry call; discarded when nil
	Log LogSink
	// SchemaDir holds the XSD files used with xmllint; empty means the
	// structural layer only checks well-formedness
	SchemaDir      string
	GatewayTimeout time.Duration
	Logger         logrus.FieldLogger
}

// Engine bundles the engine's components behind one value. It is safe for
// concurrent use.
type Engine struct {
	codec        *codec.Codec
	validator    *validation.Validator
	signer       *xades.Signer
	verifier     *xades.Verifier
	orchestrator *delivery.Orchestrator
	pipeline     *processor.Pipeline
}

// NewEngine wires an Engine from opts
func NewEngine(opts Options) (*Engine, error) {
	if opts.Tenants == nil {
		return nil, errors.New("invoicelib: tenant provider is required")
	}
	if opts.Certificates == nil {
		return nil, errors.New("invoicelib: certificate provider is required")
	}
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	component := func(name string) logrus.FieldLogger {
		return log.WithField("component", name)
	}

	var validatorOpts []validation.Option
	if opts.SchemaDir != "" {
		validatorOpts = append(validatorOpts, validation.WithSchemaValidator(validation.NewXmllintValidator(opts.SchemaDir)))
	}
	validatorOpts = append(validatorOpts, validation.WithLogger(component("validation")))

	gw := opts.Gateway
	if gw == nil {
		gwOpts := []gateway.Option{gateway.WithLogger(component("gateway")), gateway.WithCertificates(opts.Certificates)}
		if opts.GatewayTimeout > 0 {
			gwOpts = append(gwOpts, gateway.WithTimeout(opts.GatewayTimeout))
		}
		gw = gateway.NewDefaultRouter(opts.Tenants, gwOpts...)
	}
	sink := opts.Log
	if sink == nil {
		sink = delivery.DiscardSink{}
	}

	e := &Engine{
		codec:     codec.New(codec.WithLogger(component("codec"))),
		validator: validation.NewValidator(validatorOpts...),
		signer:    xades.NewSigner(opts.Certificates, opts.Tenants, xades.WithLogger(component("signer"))),
		verifier:  xades.NewVerifier(xades.WithVerifierLogger(component("verifier"))),
	}
	e.orchestrator = delivery.NewOrchestrator(gw, sink, delivery.WithLogger(component("delivery")))
	e.pipeline = processor.NewPipeline(e.signer, e.orchestrator,
		processor.WithCodec(e.codec),
		processor.WithValidator(e.validator),
		processor.WithLogger(component("processor")),
	)
	return e, nil
}

// Detect identifies the dialect of a document
func (e *Engine) Detect(content []byte) Format {
	return e.codec.DetectFormat(content)
}

// Parse reads a Facturae or UBL document into the neutral model
func (e *Engine) Parse(ctx context.Context, content []byte) (Invoice, error) {
	return e.codec.ToNeutralModel(ctx, content)
}

// Generate serializes an invoice
func (e *Engine) Generate(inv Invoice, target Format) ([]byte, error) {
	return e.codec.Generate(inv, target)
}

// Convert re-expresses a document in another dialect
func (e *Engine) Convert(ctx context.Context, content []byte, target Format) ([]byte, error) {
	return e.codec.ConvertTo(ctx, content, target)
}

// Validate runs structural and business-rule validation on a document
func (e *Engine) Validate(ctx context.Context, content []byte) ValidationResult {
	return e.validator.Validate(ctx, content, e.codec.DetectFormat(content))
}

// Sign embeds a XAdES-EPES signature for tenantID
func (e *Engine) Sign(ctx context.Context, document []byte, tenantID string) ([]byte, error) {
	return e.signer.Sign(ctx, document, tenantID)
}

// Verify checks a signed document
func (e *Engine) Verify(ctx context.Context, document []byte) (*VerificationResult, error) {
	return e.verifier.Verify(ctx, document)
}

// ProcessInvoice builds, validates, signs and submits invoice data
func (e *Engine) ProcessInvoice(ctx context.Context, data map[string]any, target Format, tenantID string) (*Result, error) {
	return e.pipeline.ProcessInvoice(ctx, data, target, tenantID)
}

// Query polls the registry for a submitted document
func (e *Engine) Query(ctx context.Context, registryNumber, tenantID string) (*Status, error) {
	return e.orchestrator.Query(ctx, registryNumber, registryNumber, tenantID)
}

// Cancel asks the registry to cancel a submitted document
func (e *Engine) Cancel(ctx context.Context, registryNumber, reason, tenantID string) (*Submission, error) {
	return e.orchestrator.Cancel(ctx, registryNumber, registryNumber, reason, tenantID)
}

// NotifyPayment tells the registry an invoice was paid; only FACeB2B and
// the stub accept it
func (e *Engine) NotifyPayment(ctx context.Context, registryNumber string, paidAt time.Time, tenantID string) (*Submission, error) {
	return e.orchestrator.NotifyPayment(ctx, registryNumber, registryNumber, paidAt, tenantID)
}
