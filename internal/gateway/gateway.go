// Package gateway submits signed invoices to the Spanish registries (FACe for
// the public sector, FACeB2B between companies) and reports their status. A
// deterministic stub stands in for both outside production.
package gateway

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"github.com/rezonia/einvoice-engine/internal/certs"
	"github.com/rezonia/einvoice-engine/internal/tenant"
)

// Channel names recorded on submissions and statuses
const (
	ChannelFACe    = string(tenant.ChannelFACe)
	ChannelFACeB2B = string(tenant.ChannelFACeB2B)
	ChannelStub    = "stub"
)

// Client is the capability set shared by every registry
type Client interface {
	Submit(ctx context.Context, signedXML []byte, tenantID string) (*Submission, error)
	Query(ctx context.Context, registryNumber, tenantID string) (*Status, error)
	Cancel(ctx context.Context, registryNumber, reason, tenantID string) (*Submission, error)
	TestConnection(ctx context.Context, tenantID string) error
}

// PaymentNotifier is implemented by registries that accept payment-status
// pushes from the issuer.
type PaymentNotifier interface {
	NotifyPayment(ctx context.Context, registryNumber string, paidAt time.Time, tenantID string) (*Submission, error)
}

// Submission is the outcome of a submit, cancel or payment notification.
// A registry rejection is a Submission with Success=false and a nil error;
// errors are reserved for preflight, transport and cancellation failures.
type Submission struct {
	Success        bool      `json:"success"`
	Channel        string    `json:"channel"`
	RegistryNumber string    `json:"registry_number,omitempty"`
	StatusCode     string    `json:"status_code,omitempty"`
	State          State     `json:"state"`
	ErrorCode      string    `json:"error_code,omitempty"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	HTTPStatus     int       `json:"http_status,omitempty"`
	Response       []byte    `json:"-"`
	Timestamp      time.Time `json:"timestamp"`
}

// Status is a registry's view of a submitted invoice
type Status struct {
	Channel        string `json:"channel"`
	RegistryNumber string `json:"registry_number"`
	Code           string `json:"code,omitempty"`
	Description    string `json:"description,omitempty"`
	Reason         string `json:"reason,omitempty"`
	State          State  `json:"state"`

	CancellationCode        string `json:"cancellation_code,omitempty"`
	CancellationDescription string `json:"cancellation_description,omitempty"`
	CancellationReason      string `json:"cancellation_reason,omitempty"`

	HTTPStatus int       `json:"http_status,omitempty"`
	Response   []byte    `json:"-"`
	CheckedAt  time.Time `json:"checked_at"`
}

// Option configures the gateway clients
type Option func(*options)

type options struct {
	logger   logrus.FieldLogger
	now      func() time.Time
	http     *resty.Client
	endpoint string
	certs    certs.Provider
	timeout  time.Duration
}

func newOptions(component string, opts []Option) options {
	o := options{now: time.Now, timeout: 30 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logrus.StandardLogger().WithField("component", component)
	}
	if o.http == nil {
		o.http = resty.New()
	}
	return o
}

// WithLogger sets the logger
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithClock sets the clock used for timestamps
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithHTTPClient replaces the default resty client
func WithHTTPClient(c *resty.Client) Option {
	return func(o *options) {
		o.http = c
	}
}

// WithEndpoint overrides the per-environment endpoint, mostly for tests
func WithEndpoint(url string) Option {
	return func(o *options) {
		o.endpoint = url
	}
}

// WithCertificates enables TLS client authentication with the tenant's
// certificate material.
func WithCertificates(p certs.Provider) Option {
	return func(o *options) {
		o.certs = p
	}
}

// WithTimeout bounds each registry call. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

func failedSubmission(channel string, now time.Time, err error) *Submission {
	sub := &Submission{Channel: channel, State: StateFailed, Timestamp: now, ErrorMessage: err.Error()}
	var (
		local  *LocalPreflightError
		remote *RemoteGatewayError
	)
	switch {
	case errors.As(err, &local):
		sub.ErrorCode, sub.ErrorMessage = local.Code, local.Message
	case errors.As(err, &remote):
		sub.ErrorCode, sub.HTTPStatus = remote.Code, remote.HTTPStatus
	}
	return sub
}

// preflight resolves the tenant for a submission-type call. It never touches
// the network.
func preflight(ctx context.Context, tenants tenant.Provider, tenantID string) (*tenant.Config, error) {
	cfg, err := tenants.Get(ctx, tenantID)
	if err != nil {
		return nil, NewLocalPreflightError(CodeNoTenant, tenantID, "tenant configuration could not be read", err)
	}
	if cfg == nil {
		return nil, NewLocalPreflightError(CodeNoTenant, tenantID, "no tenant configuration for "+tenantID, nil)
	}
	if !cfg.Active {
		return nil, NewLocalPreflightError(CodeTenantInactive, tenantID, "tenant "+tenantID+" is not active", nil)
	}
	return cfg, nil
}

func checkPayload(signedXML []byte, tenantID string) error {
	if len(signedXML) == 0 {
		return NewLocalPreflightError(CodeEmptyPayload, tenantID, "no signed XML payload provided", nil)
	}
	return nil
}

func checkRegistryNumber(registryNumber, tenantID string) error {
	if registryNumber == "" {
		return NewLocalPreflightError(CodeEmptyRegistry, tenantID, "no registry number provided", nil)
	}
	return nil
}

func unknownStatus(channel, registryNumber string, now time.Time) *Status {
	return &Status{Channel: channel, RegistryNumber: registryNumber, State: StateUnknown, CheckedAt: now}
}
