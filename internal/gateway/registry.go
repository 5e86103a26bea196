package gateway

import (
	"context"
	"encoding/base64"

	"github.com/beevik/etree"
	"github.com/sirupsen/logrus"

	"github.com/rezonia/einvoice-engine/internal/tenant"
)

// protocol describes one registry's SOAP vocabulary. Both registries share
// the request flow in registry and differ only here.
type protocol struct {
	channel    string
	namespace  string
	prefix     string
	staging    string
	production string

	successCode   string
	resultCode    string
	resultMessage string

	submitOp    string
	queryOp     string
	cancelOp    string
	pingOp      string
	registryRef string

	buildSubmit func(op *etree.Element, cfg *tenant.Config, payload []byte)
	buildQuery  func(op *etree.Element, registryNumber string)
	buildCancel func(op *etree.Element, registryNumber, reason string)
	buildPing   func(op *etree.Element)

	statusCode, statusDescription, statusReason string
	cancelCode, cancelDescription, cancelReason string
}

type registry struct {
	p       protocol
	tenants tenant.Provider
	soap    *soapTransport
	o       options
}

func newRegistry(p protocol, tenants tenant.Provider, component string, opts []Option) *registry {
	o := newOptions(component, opts)
	return &registry{
		p:       p,
		tenants: tenants,
		soap:    &soapTransport{channel: p.channel, o: o},
		o:       o,
	}
}

func (r *registry) endpoint(cfg *tenant.Config) string {
	if r.o.endpoint != "" {
		return r.o.endpoint
	}
	if cfg != nil && cfg.Environment == tenant.EnvironmentProduction {
		return r.p.production
	}
	return r.p.staging
}

func (r *registry) operation(name string) *etree.Element {
	el := etree.NewElement(r.p.prefix + ":" + name)
	el.CreateAttr("xmlns:"+r.p.prefix, r.p.namespace)
	return el
}

func (r *registry) call(ctx context.Context, cfg *tenant.Config, name string, op *etree.Element) (*soapResponse, error) {
	return r.soap.call(ctx, cfg, r.endpoint(cfg), name, r.p.namespace+"#"+name, op)
}

// outcome turns a registry answer into a Submission, successful or not
func (r *registry) outcome(resp *soapResponse) *Submission {
	sub := &Submission{
		Channel:    r.p.channel,
		HTTPStatus: resp.HTTPStatus,
		Response:   resp.Raw,
		Timestamp:  r.o.now(),
	}
	code := text(resp.Payload, r.p.resultCode)
	if code == r.p.successCode {
		sub.Success = true
		return sub
	}
	sub.State = StateRejected
	sub.ErrorCode = code
	sub.ErrorMessage = text(resp.Payload, r.p.resultMessage)
	if code == "" {
		sub.ErrorMessage = "response carries no result code"
	}
	return sub
}

func (r *registry) failed(resp *soapResponse, err error) *Submission {
	sub := failedSubmission(r.p.channel, r.o.now(), err)
	if resp != nil {
		sub.Response = resp.Raw
		sub.HTTPStatus = resp.HTTPStatus
	}
	return sub
}

func (r *registry) Submit(ctx context.Context, signedXML []byte, tenantID string) (*Submission, error) {
	if err := checkPayload(signedXML, tenantID); err != nil {
		return failedSubmission(r.p.channel, r.o.now(), err), err
	}
	cfg, err := preflight(ctx, r.tenants, tenantID)
	if err != nil {
		return failedSubmission(r.p.channel, r.o.now(), err), err
	}

	op := r.operation(r.p.submitOp)
	r.p.buildSubmit(op, cfg, signedXML)
	resp, err := r.call(ctx, cfg, r.p.submitOp, op)
	if err != nil {
		return r.failed(resp, err), err
	}

	sub := r.outcome(resp)
	log := r.o.logger.WithField("tenant", tenantID).WithField("payload", fingerprint(signedXML))
	if !sub.Success {
		log.WithField("code", sub.ErrorCode).Warn("Invoice rejected by registry")
		return sub, nil
	}
	sub.RegistryNumber = text(resp.Payload, r.p.registryRef)
	sub.StatusCode = StatusRegistered
	sub.State = StateRegistered
	log.WithField("registry_number", sub.RegistryNumber).Info("Invoice submitted")
	return sub, nil
}

// Query returns StateUnknown without error when the tenant has no
// configuration, so pollers can stop.
func (r *registry) Query(ctx context.Context, registryNumber, tenantID string) (*Status, error) {
	if err := checkRegistryNumber(registryNumber, tenantID); err != nil {
		return nil, err
	}
	cfg, err := r.tenants.Get(ctx, tenantID)
	if err != nil {
		return nil, NewLocalPreflightError(CodeNoTenant, tenantID, "tenant configuration could not be read", err)
	}
	if cfg == nil {
		r.o.logger.WithField("tenant", tenantID).Debug("No tenant configuration, status unknown")
		return unknownStatus(r.p.channel, registryNumber, r.o.now()), nil
	}

	op := r.operation(r.p.queryOp)
	r.p.buildQuery(op, registryNumber)
	resp, err := r.call(ctx, cfg, r.p.queryOp, op)
	if err != nil {
		return nil, err
	}
	if code := text(resp.Payload, r.p.resultCode); code != r.p.successCode {
		return nil, NewRemoteGatewayError(r.p.channel, r.p.queryOp, resp.HTTPStatus, code, text(resp.Payload, r.p.resultMessage), nil)
	}

	st := &Status{
		Channel:                 r.p.channel,
		RegistryNumber:          registryNumber,
		Code:                    text(resp.Payload, r.p.statusCode),
		Description:             text(resp.Payload, r.p.statusDescription),
		Reason:                  text(resp.Payload, r.p.statusReason),
		CancellationCode:        text(resp.Payload, r.p.cancelCode),
		CancellationDescription: text(resp.Payload, r.p.cancelDescription),
		CancellationReason:      text(resp.Payload, r.p.cancelReason),
		HTTPStatus:              resp.HTTPStatus,
		Response:                resp.Raw,
		CheckedAt:               r.o.now(),
	}
	st.State = MapStatus(st.Code)
	r.o.logger.WithFields(logrus.Fields{
		"tenant":          tenantID,
		"registry_number": registryNumber,
		"code":            st.Code,
		"state":           st.State,
	}).Info("Status polled")
	return st, nil
}

func (r *registry) Cancel(ctx context.Context, registryNumber, reason, tenantID string) (*Submission, error) {
	if err := checkRegistryNumber(registryNumber, tenantID); err != nil {
		return failedSubmission(r.p.channel, r.o.now(), err), err
	}
	cfg, err := preflight(ctx, r.tenants, tenantID)
	if err != nil {
		return failedSubmission(r.p.channel, r.o.now(), err), err
	}

	op := r.operation(r.p.cancelOp)
	r.p.buildCancel(op, registryNumber, reason)
	resp, err := r.call(ctx, cfg, r.p.cancelOp, op)
	if err != nil {
		return r.failed(resp, err), err
	}
	sub := r.outcome(resp)
	sub.RegistryNumber = registryNumber
	if sub.Success {
		sub.StatusCode = StatusCancelled
		sub.State = SubmissionState(StatusCancelled)
		r.o.logger.WithField("tenant", tenantID).WithField("registry_number", registryNumber).Info("Cancellation requested")
	}
	return sub, nil
}

func (r *registry) TestConnection(ctx context.Context, tenantID string) error {
	cfg, err := r.tenants.Get(ctx, tenantID)
	if err != nil {
		return NewLocalPreflightError(CodeNoTenant, tenantID, "tenant configuration could not be read", err)
	}
	if cfg == nil {
		return NewLocalPreflightError(CodeNoTenant, tenantID, "no tenant configuration for "+tenantID, nil)
	}
	op := r.operation(r.p.pingOp)
	r.p.buildPing(op)
	resp, err := r.call(ctx, cfg, r.p.pingOp, op)
	if err != nil {
		return err
	}
	if code := text(resp.Payload, r.p.resultCode); code != r.p.successCode {
		return NewRemoteGatewayError(r.p.channel, r.p.pingOp, resp.HTTPStatus, code, text(resp.Payload, r.p.resultMessage), nil)
	}
	return nil
}

func encodePayload(payload []byte) string {
	return base64.StdEncoding.EncodeToString(payload)
}

func fileName(payload []byte) string {
	return "invoice-" + fingerprint(payload) + ".xsig"
}
