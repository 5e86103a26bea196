package gateway

import (
	"context"
	"time"

	"github.com/rezonia/einvoice-engine/internal/tenant"
)

// Router dispatches each call to the registry the tenant is configured for:
// the stub in the stub environment, otherwise FACe or FACeB2B by channel.
// Tenants without configuration go to FACe, whose preflight reports them.
type Router struct {
	tenants tenant.Provider
	stub    Client
	face    Client
	faceb2b Client
}

var (
	_ Client          = (*Router)(nil)
	_ PaymentNotifier = (*Router)(nil)
)

// NewRouter wires the three registries
func NewRouter(tenants tenant.Provider, stub, face, faceb2b Client) *Router {
	return &Router{tenants: tenants, stub: stub, face: face, faceb2b: faceb2b}
}

// NewDefaultRouter builds FACe and FACeB2B clients sharing opts plus a stub
func NewDefaultRouter(tenants tenant.Provider, opts ...Option) *Router {
	return NewRouter(tenants, NewStub(opts...), NewFACe(tenants, opts...), NewFACeB2B(tenants, opts...))
}

// ClientFor returns the registry for a tenant
func (r *Router) ClientFor(ctx context.Context, tenantID string) Client {
	cfg, err := r.tenants.Get(ctx, tenantID)
	if err != nil || cfg == nil {
		return r.face
	}
	if cfg.Environment == tenant.EnvironmentStub {
		return r.stub
	}
	if cfg.Channel == tenant.ChannelFACeB2B {
		return r.faceb2b
	}
	return r.face
}

func (r *Router) Submit(ctx context.Context, signedXML []byte, tenantID string) (*Submission, error) {
	if err := checkPayload(signedXML, tenantID); err != nil {
		return failedSubmission("", time.Now(), err), err
	}
	return r.ClientFor(ctx, tenantID).Submit(ctx, signedXML, tenantID)
}

func (r *Router) Query(ctx context.Context, registryNumber, tenantID string) (*Status, error) {
	return r.ClientFor(ctx, tenantID).Query(ctx, registryNumber, tenantID)
}

func (r *Router) Cancel(ctx context.Context, registryNumber, reason, tenantID string) (*Submission, error) {
	return r.ClientFor(ctx, tenantID).Cancel(ctx, registryNumber, reason, tenantID)
}

func (r *Router) TestConnection(ctx context.Context, tenantID string) error {
	return r.ClientFor(ctx, tenantID).TestConnection(ctx, tenantID)
}

// NotifyPayment fails locally when the tenant's registry takes no payment
// notifications.
func (r *Router) NotifyPayment(ctx context.Context, registryNumber string, paidAt time.Time, tenantID string) (*Submission, error) {
	c := r.ClientFor(ctx, tenantID)
	pn, ok := c.(PaymentNotifier)
	if !ok {
		err := NewLocalPreflightError(CodeUnsupported, tenantID, "registry does not accept payment notifications", nil)
		return failedSubmission(channelOf(c), time.Now(), err), err
	}
	return pn.NotifyPayment(ctx, registryNumber, paidAt, tenantID)
}

func channelOf(c Client) string {
	switch c.(type) {
	case *FACe:
		return ChannelFACe
	case *FACeB2B:
		return ChannelFACeB2B
	case *Stub:
		return ChannelStub
	}
	return ""
}
