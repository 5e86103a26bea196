package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// StubPrefix marks registry numbers issued by the stub
const StubPrefix = "STUB-"

// Stub is a deterministic, offline registry. The same tenant and payload
// always yield the same registry number; every query reports the invoice as
// registered and every connection test succeeds.
type Stub struct {
	o options
}

var (
	_ Client          = (*Stub)(nil)
	_ PaymentNotifier = (*Stub)(nil)
)

// NewStub creates a stub registry. Only WithClock and WithLogger apply.
func NewStub(opts ...Option) *Stub {
	return &Stub{o: newOptions("gateway.stub", opts)}
}

// SubmissionID derives the registry number for a payload
func SubmissionID(payload []byte, tenantID string) string {
	h := sha256.New()
	h.Write([]byte(tenantID))
	h.Write([]byte{0})
	h.Write(payload)
	return StubPrefix + hex.EncodeToString(h.Sum(nil))[:20]
}

func (s *Stub) Submit(ctx context.Context, signedXML []byte, tenantID string) (*Submission, error) {
	if err := checkPayload(signedXML, tenantID); err != nil {
		return failedSubmission(ChannelStub, s.o.now(), err), err
	}
	if err := ctx.Err(); err != nil {
		return failedSubmission(ChannelStub, s.o.now(), err), NewCancellationError(ChannelStub, "submit", err)
	}
	sub := &Submission{
		Success:        true,
		Channel:        ChannelStub,
		RegistryNumber: SubmissionID(signedXML, tenantID),
		StatusCode:     StatusRegistered,
		State:          StateRegistered,
		Timestamp:      s.o.now(),
	}
	s.o.logger.WithField("tenant", tenantID).WithField("registry_number", sub.RegistryNumber).Info("Invoice submitted to stub")
	return sub, nil
}

func (s *Stub) Query(ctx context.Context, registryNumber, tenantID string) (*Status, error) {
	if err := checkRegistryNumber(registryNumber, tenantID); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, NewCancellationError(ChannelStub, "query", err)
	}
	return &Status{
		Channel:        ChannelStub,
		RegistryNumber: registryNumber,
		Code:           StatusRegistered,
		Description:    "accepted",
		State:          StateAccepted,
		CheckedAt:      s.o.now(),
	}, nil
}

func (s *Stub) Cancel(ctx context.Context, registryNumber, _, tenantID string) (*Submission, error) {
	if err := checkRegistryNumber(registryNumber, tenantID); err != nil {
		return failedSubmission(ChannelStub, s.o.now(), err), err
	}
	return &Submission{
		Success:        true,
		Channel:        ChannelStub,
		RegistryNumber: registryNumber,
		StatusCode:     StatusCancelled,
		State:          StateCancelled,
		Timestamp:      s.o.now(),
	}, nil
}

func (s *Stub) NotifyPayment(_ context.Context, registryNumber string, _ time.Time, tenantID string) (*Submission, error) {
	if err := checkRegistryNumber(registryNumber, tenantID); err != nil {
		return failedSubmission(ChannelStub, s.o.now(), err), err
	}
	return &Submission{
		Success:        true,
		Channel:        ChannelStub,
		RegistryNumber: registryNumber,
		StatusCode:     StatusPaid,
		State:          StatePaid,
		Timestamp:      s.o.now(),
	}, nil
}

func (s *Stub) TestConnection(context.Context, string) error {
	return nil
}
