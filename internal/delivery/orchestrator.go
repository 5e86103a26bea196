package delivery

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/rezonia/einvoice-engine/internal/gateway"
)

const defaultSinkTimeout = 5 * time.Second

// Orchestrator runs registry calls and audits each attempt. It never
// retries: a failed call is logged once and returned to the caller.
type Orchestrator struct {
	gateway     gateway.Client
	sink        LogSink
	now         func() time.Time
	newID       func() string
	sinkTimeout time.Duration
	logger      logrus.FieldLogger
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithClock sets the clock used for timestamps and durations
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// WithIDGenerator sets the entry ID generator
func WithIDGenerator(f func() string) Option {
	return func(o *Orchestrator) {
		o.newID = f
	}
}

// WithSinkTimeout bounds each sink append
func WithSinkTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.sinkTimeout = d
	}
}

// WithLogger sets the logger
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *Orchestrator) {
		o.logger = l
	}
}

// NewOrchestrator creates an Orchestrator over a gateway and a sink
func NewOrchestrator(gw gateway.Client, sink LogSink, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		gateway:     gw,
		sink:        sink,
		now:         time.Now,
		newID:       uuid.NewString,
		sinkTimeout: defaultSinkTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = logrus.StandardLogger().WithField("component", "delivery")
	}
	if o.sink == nil {
		o.sink = DiscardSink{}
	}
	return o
}

// Send submits a signed document
func (o *Orchestrator) Send(ctx context.Context, documentID, tenantID string, signedXML []byte) (*gateway.Submission, error) {
	start := o.now()
	sub, err := o.gateway.Submit(ctx, signedXML, tenantID)
	e := o.entry(documentID, tenantID, OperationSend, start)
	e.RequestPayload = string(signedXML)
	fromSubmission(&e, sub, err)
	o.record(ctx, e)
	return sub, err
}

// Query polls the registry status of a submitted document
func (o *Orchestrator) Query(ctx context.Context, documentID, registryNumber, tenantID string) (*gateway.Status, error) {
	start := o.now()
	st, err := o.gateway.Query(ctx, registryNumber, tenantID)
	e := o.entry(documentID, tenantID, OperationQuery, start)
	e.RequestPayload = registryNumber
	if st != nil {
		e.Channel = st.Channel
		e.ResponseCode = st.Code
		e.HTTPStatus = st.HTTPStatus
		e.ResponsePayload = string(st.Response)
	}
	if err != nil {
		e.ErrorDetail = err.Error()
	}
	o.record(ctx, e)
	return st, err
}

// Cancel asks the registry to cancel a document
func (o *Orchestrator) Cancel(ctx context.Context, documentID, registryNumber, reason, tenantID string) (*gateway.Submission, error) {
	start := o.now()
	sub, err := o.gateway.Cancel(ctx, registryNumber, reason, tenantID)
	e := o.entry(documentID, tenantID, OperationCancel, start)
	e.RequestPayload = registryNumber
	fromSubmission(&e, sub, err)
	o.record(ctx, e)
	return sub, err
}

// NotifyPayment pushes a payment notification when the gateway supports it
func (o *Orchestrator) NotifyPayment(ctx context.Context, documentID, registryNumber string, paidAt time.Time, tenantID string) (*gateway.Submission, error) {
	start := o.now()
	var (
		sub *gateway.Submission
		err error
	)
	if pn, ok := o.gateway.(gateway.PaymentNotifier); ok {
		sub, err = pn.NotifyPayment(ctx, registryNumber, paidAt, tenantID)
	} else {
		err = gateway.NewLocalPreflightError(gateway.CodeUnsupported, tenantID, "registry does not accept payment notifications", nil)
	}
	e := o.entry(documentID, tenantID, OperationPaymentStatus, start)
	e.RequestPayload = registryNumber
	fromSubmission(&e, sub, err)
	o.record(ctx, e)
	return sub, err
}

func (o *Orchestrator) entry(documentID, tenantID string, op Operation, start time.Time) Entry {
	end := o.now()
	return Entry{
		ID:         o.newID(),
		DocumentID: documentID,
		TenantID:   tenantID,
		Operation:  op,
		DurationMs: end.Sub(start).Milliseconds(),
		Timestamp:  end,
	}
}

func fromSubmission(e *Entry, sub *gateway.Submission, err error) {
	if sub != nil {
		e.Channel = sub.Channel
		e.ResponsePayload = string(sub.Response)
		e.HTTPStatus = sub.HTTPStatus
		e.ResponseCode = sub.StatusCode
		if !sub.Success {
			e.ResponseCode = sub.ErrorCode
			e.ErrorDetail = sub.ErrorMessage
		}
	}
	if err != nil {
		e.ErrorDetail = err.Error()
	}
}

// record appends e even when ctx is already cancelled. Sink failures are
// logged, never returned: the registry outcome is what the caller needs.
func (o *Orchestrator) record(ctx context.Context, e Entry) {
	sinkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.sinkTimeout)
	defer cancel()

	log := o.logger.WithFields(logrus.Fields{
		"document_id": e.DocumentID,
		"tenant":      e.TenantID,
		"operation":   e.Operation,
		"duration_ms": e.DurationMs,
	})
	if err := o.sink.Append(sinkCtx, e); err != nil {
		log.WithError(err).Warn("Delivery log append failed")
		return
	}
	if e.Failed() {
		log.WithField("error", e.ErrorDetail).Info("Delivery attempt failed")
		return
	}
	log.Debug("Delivery attempt logged")
}
