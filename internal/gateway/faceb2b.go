package gateway

import (
	"context"
	"time"

	"github.com/beevik/etree"

	"github.com/rezonia/einvoice-engine/internal/model"
	"github.com/rezonia/einvoice-engine/internal/tenant"
)

// FACeB2B endpoints
const (
	FACeB2BStagingURL    = "https://se-ws-faceb2b.redsara.es/sv1/invoice"
	FACeB2BProductionURL = "https://ws.faceb2b.gob.es/sv1/invoice"
)

const (
	nsFACeB2B = "https://ws.faceb2b.gob.es/sv1/invoice"
	paymentOp = "NotifyInvoicePayment"
)

var faceb2bProtocol = protocol{
	channel:    ChannelFACeB2B,
	namespace:  nsFACeB2B,
	prefix:     "inv",
	staging:    FACeB2BStagingURL,
	production: FACeB2BProductionURL,

	successCode:   "0",
	resultCode:    "result/code",
	resultMessage: "result/message",

	submitOp:    "SendInvoice",
	queryOp:     "GetInvoiceDetails",
	cancelOp:    "RequestInvoiceCancellation",
	pingOp:      "GetCodes",
	registryRef: "invoiceDetail/registryNumber",

	buildSubmit: func(op *etree.Element, _ *tenant.Config, payload []byte) {
		f := op.CreateElement("request").CreateElement("invoiceFile")
		addText(f, "content", encodePayload(payload))
		addText(f, "name", fileName(payload))
		addText(f, "mime", "application/xml")
	},
	buildQuery: func(op *etree.Element, registryNumber string) {
		addText(op.CreateElement("request"), "registryNumber", registryNumber)
	},
	buildCancel: func(op *etree.Element, registryNumber, reason string) {
		req := op.CreateElement("request")
		addText(req, "registryNumber", registryNumber)
		addText(req, "comment", reason)
	},
	buildPing: func(op *etree.Element) {
		addText(op.CreateElement("request"), "type", "statuses")
	},

	statusCode:        "invoiceDetail/status/code",
	statusDescription: "invoiceDetail/status/name",
	statusReason:      "invoiceDetail/status/reason",
	cancelCode:        "invoiceDetail/cancellation/code",
	cancelDescription: "invoiceDetail/cancellation/name",
	cancelReason:      "invoiceDetail/cancellation/reason",
}

// FACeB2B is the client for the business-to-business platform. Besides the
// common operations it pushes payment notifications.
type FACeB2B struct {
	*registry
}

var (
	_ Client          = (*FACeB2B)(nil)
	_ PaymentNotifier = (*FACeB2B)(nil)
)

// NewFACeB2B creates a FACeB2B client
func NewFACeB2B(tenants tenant.Provider, opts ...Option) *FACeB2B {
	return &FACeB2B{registry: newRegistry(faceb2bProtocol, tenants, "gateway.faceb2b", opts)}
}

// NotifyPayment tells the platform the invoice was paid on paidAt
func (c *FACeB2B) NotifyPayment(ctx context.Context, registryNumber string, paidAt time.Time, tenantID string) (*Submission, error) {
	if err := checkRegistryNumber(registryNumber, tenantID); err != nil {
		return failedSubmission(c.p.channel, c.o.now(), err), err
	}
	cfg, err := preflight(ctx, c.tenants, tenantID)
	if err != nil {
		return failedSubmission(c.p.channel, c.o.now(), err), err
	}

	op := c.operation(paymentOp)
	req := op.CreateElement("request")
	addText(req, "registryNumber", registryNumber)
	addText(req, "paymentDate", paidAt.Format(model.DateLayout))

	resp, err := c.call(ctx, cfg, paymentOp, op)
	if err != nil {
		return c.failed(resp, err), err
	}
	sub := c.outcome(resp)
	sub.RegistryNumber = registryNumber
	if sub.Success {
		sub.StatusCode = StatusPaid
		sub.State = StatePaid
		c.o.logger.WithField("tenant", tenantID).WithField("registry_number", registryNumber).Info("Payment notified")
	}
	return sub, nil
}
