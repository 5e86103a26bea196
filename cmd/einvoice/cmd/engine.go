package cmd

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/rezonia/einvoice-engine/internal/certs"
	"github.com/rezonia/einvoice-engine/internal/codec"
	"github.com/rezonia/einvoice-engine/internal/delivery"
	"github.com/rezonia/einvoice-engine/internal/gateway"
	"github.com/rezonia/einvoice-engine/internal/processor"
	"github.com/rezonia/einvoice-engine/internal/signature/trust"
	"github.com/rezonia/einvoice-engine/internal/signature/xades"
	"github.com/rezonia/einvoice-engine/internal/tenant"
	"github.com/rezonia/einvoice-engine/internal/validation"
)

// engine holds the components built from configuration. Delivery sinks
// that hold connections are released by close.
type engine struct {
	tenants      *tenant.FileProvider
	certificates *certs.FileProvider
	codec        *codec.Codec
	validator    *validation.Validator
	signer       *xades.Signer
	verifier     *xades.Verifier
	router       *gateway.Router
	memory       *delivery.MemorySink
	orchestrator *delivery.Orchestrator
	pipeline     *processor.Pipeline

	closers []func()
}

func newCodec() *codec.Codec {
	return codec.New(codec.WithLogger(logger("codec")))
}

func newValidator() *validation.Validator {
	var opts []validation.Option
	if cfg.SchemaDir != "" {
		opts = append(opts, validation.WithSchemaValidator(validation.NewXmllintValidator(cfg.SchemaDir)))
	}
	opts = append(opts, validation.WithLogger(logger("validation")))
	return validation.NewValidator(opts...)
}

func newVerifier() (*xades.Verifier, error) {
	opts := []xades.VerifierOption{xades.WithVerifierLogger(logger("verifier"))}
	if cfg.TrustStore != "" {
		var storeOpts []trust.Option
		if cfg.OCSPSoftFail {
			storeOpts = append(storeOpts, trust.WithSoftFail())
		}
		store := trust.NewStore(storeOpts...)
		if err := store.LoadFile(cfg.TrustStore); err != nil {
			return nil, errors.Wrap(err, "load trust store")
		}
		opts = append(opts, xades.WithTrustStore(store))
	}
	return xades.NewVerifier(opts...), nil
}

func newTenants() (*tenant.FileProvider, error) {
	p, err := tenant.NewFileProvider(cfg.TenantsFile)
	if err != nil {
		return nil, errors.Wrap(err, "load tenants")
	}
	return p, nil
}

// newSigningEngine builds what signing needs and nothing that opens
// network connections
func newSigningEngine() (*engine, error) {
	tenants, err := newTenants()
	if err != nil {
		return nil, err
	}
	e := &engine{
		tenants:      tenants,
		certificates: certs.NewFileProvider(cfg.CertificatesDir),
		codec:        newCodec(),
		validator:    newValidator(),
	}
	e.signer = xades.NewSigner(e.certificates, e.tenants, xades.WithLogger(logger("signer")))
	return e, nil
}

// newEngine builds the full stack including the registry gateways and the
// delivery log sinks
func newEngine(ctx context.Context) (*engine, error) {
	e, err := newSigningEngine()
	if err != nil {
		return nil, err
	}
	if e.verifier, err = newVerifier(); err != nil {
		return nil, err
	}

	gwOpts := []gateway.Option{
		gateway.WithLogger(logger("gateway")),
		gateway.WithCertificates(e.certificates),
	}
	if cfg.GatewayTimeout > 0 {
		gwOpts = append(gwOpts, gateway.WithTimeout(cfg.GatewayTimeout))
	}
	if cfg.GatewayEndpoint != "" {
		gwOpts = append(gwOpts, gateway.WithEndpoint(cfg.GatewayEndpoint))
	}
	e.router = gateway.NewDefaultRouter(e.tenants, gwOpts...)

	sink, err := e.sinks(ctx)
	if err != nil {
		e.close()
		return nil, err
	}
	e.orchestrator = delivery.NewOrchestrator(e.router, sink, delivery.WithLogger(logger("delivery")))
	e.pipeline = processor.NewPipeline(e.signer, e.orchestrator,
		processor.WithCodec(e.codec),
		processor.WithValidator(e.validator),
		processor.WithLogger(logger("processor")),
	)
	return e, nil
}

// sinks always keeps an in-memory copy of the log so commands can print
// what they did; Postgres and RabbitMQ are added when configured.
func (e *engine) sinks(ctx context.Context) (delivery.LogSink, error) {
	e.memory = delivery.NewMemorySink()
	sinks := delivery.MultiSink{e.memory}

	if cfg.DatabaseURL != "" {
		pool, err := delivery.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		e.closers = append(e.closers, pool.Close)
		sinks = append(sinks, delivery.NewPostgresSink(pool))
	}

	if cfg.RabbitMQURL != "" {
		amqpSink, err := delivery.DialAMQPSink(cfg.RabbitMQURL, cfg.DeliveryExchange)
		if err != nil {
			return nil, err
		}
		e.closers = append(e.closers, func() {
			if err := amqpSink.Close(); err != nil {
				logger("delivery").WithError(err).Warn("Closing AMQP sink failed")
			}
		})
		sinks = append(sinks, amqpSink)
	}

	return sinks, nil
}

func (e *engine) close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
	e.closers = nil
}
