package invoicelib_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/einvoice-engine/internal/certs/certstest"
	"github.com/rezonia/einvoice-engine/internal/delivery"
	"github.com/rezonia/einvoice-engine/internal/gateway"
	"github.com/rezonia/einvoice-engine/pkg/invoicelib"
)

func invoiceData() map[string]any {
	return map[string]any{
		"invoice_number": "A-100",
		"issue_date":     "2026-05-04",
		"due_date":       "2026-06-03",
		"seller":         map[string]any{"name": "Servicios Norte SL", "tax_id": "B12345678"},
		"buyer":          map[string]any{"name": "Ayuntamiento de Ejemplo", "tax_id": "P2807900B"},
		"lines": []any{
			map[string]any{"description": "Licencias", "quantity": 4, "price": "12.50", "net_amount": "50.00"},
		},
		"tax_totals":        []any{map[string]any{"taxable_amount": "50.00", "tax_amount": "10.50"}},
		"total_without_tax": "50.00",
		"total_tax":         "10.50",
		"total_with_tax":    "60.50",
		"payment_means":     map[string]any{"iban": "ES91 2100 0418 4502 0005 1332"},
		"administrative_centres": []any{
			map[string]any{"code": "L01280796", "role": "01"},
			map[string]any{"code": "L01280796", "role": "02"},
			map[string]any{"code": "L01280796", "role": "03"},
		},
	}
}

func newEngine(t *testing.T) (*invoicelib.Engine, *delivery.MemorySink) {
	t.Helper()
	dir := t.TempDir()
	certstest.New(t, "SERVICIOS NORTE SL", "B12345678").WriteTenant(t, dir, "acme", "s3cret")

	log := invoicelib.NewMemoryLog()
	engine, err := invoicelib.NewEngine(invoicelib.Options{
		Tenants: invoicelib.NewStaticTenants(invoicelib.TenantConfig{
			TenantID:            "acme",
			Active:              true,
			Environment:         invoicelib.EnvironmentStub,
			CertificatePassword: "s3cret",
		}),
		Certificates: invoicelib.NewCertificateDir(dir),
		Log:          log,
	})
	require.NoError(t, err)
	return engine, log
}

func TestNewEngine_RequiresProviders(t *testing.T) {
	_, err := invoicelib.NewEngine(invoicelib.Options{})
	require.Error(t, err)

	_, err = invoicelib.NewEngine(invoicelib.Options{Tenants: invoicelib.NewStaticTenants()})
	require.Error(t, err)
}

func TestEngine_ProcessInvoiceLifecycle(t *testing.T) {
	ctx := context.Background()
	engine, log := newEngine(t)

	res, err := engine.ProcessInvoice(ctx, invoiceData(), invoicelib.FormatFacturae, "acme")
	require.NoError(t, err)
	require.True(t, res.OK(), "stage %s: %v", res.Stage, res.Validation.Errors)
	registry := res.Submission.RegistryNumber
	assert.Equal(t, gateway.SubmissionID(res.SignedXML, "acme"), registry)

	verified, err := engine.Verify(ctx, res.SignedXML)
	require.NoError(t, err)
	assert.True(t, verified.Valid, "errors: %v", verified.Errors)
	assert.Equal(t, "B12345678", verified.Signer.TaxID)

	status, err := engine.Query(ctx, registry, "acme")
	require.NoError(t, err)
	assert.Equal(t, gateway.StateAccepted, status.State)

	paid, err := engine.NotifyPayment(ctx, registry, time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC), "acme")
	require.NoError(t, err)
	assert.Equal(t, gateway.StatePaid, paid.State)

	cancelled, err := engine.Cancel(ctx, registry, "issued twice", "acme")
	require.NoError(t, err)
	assert.True(t, cancelled.Success)

	assert.Len(t, log.ForDocument("acme/A-100"), 1)
	assert.Len(t, log.ForDocument(registry), 3)
}

func TestEngine_DocumentOperations(t *testing.T) {
	ctx := context.Background()
	engine, _ := newEngine(t)

	inv, err := invoicelib.FromMap(invoiceData())
	require.NoError(t, err)
	require.Empty(t, inv.Validate())

	ubl, err := engine.Generate(inv, invoicelib.FormatUBL)
	require.NoError(t, err)
	assert.Equal(t, invoicelib.FormatUBL, engine.Detect(ubl))

	res := engine.Validate(ctx, ubl)
	assert.True(t, res.Valid, "errors: %v", res.Errors)

	facturae, err := engine.Convert(ctx, ubl, invoicelib.FormatFacturae)
	require.NoError(t, err)
	assert.Equal(t, invoicelib.FormatFacturae, engine.Detect(facturae))

	back, err := engine.Parse(ctx, facturae)
	require.NoError(t, err)
	assert.Equal(t, inv.Number, back.Number)
	assert.True(t, inv.TotalWithTax.Equal(back.TotalWithTax))
	assert.Equal(t, "ES9121000418450200051332", back.PaymentMeans.IBAN)

	signed, err := engine.Sign(ctx, facturae, "acme")
	require.NoError(t, err)
	verified, err := engine.Verify(ctx, signed)
	require.NoError(t, err)
	assert.True(t, verified.Valid)
}

func TestEngine_Errors(t *testing.T) {
	ctx := context.Background()
	engine, _ := newEngine(t)

	_, err := engine.ProcessInvoice(ctx, map[string]any{"invoice_number": "X"}, invoicelib.FormatUBL, "acme")
	var modelErr *invoicelib.ModelError
	require.ErrorAs(t, err, &modelErr)

	_, err = engine.Convert(ctx, []byte(`<Order xmlns="urn:example"/>`), invoicelib.FormatUBL)
	var convErr *invoicelib.ConversionError
	require.ErrorAs(t, err, &convErr)

	_, err = engine.Sign(ctx, []byte("<a/>"), "ghost")
	var cfgErr *invoicelib.ConfigError
	require.ErrorAs(t, err, &cfgErr)

	_, err = invoicelib.ParseFormat("cii")
	require.Error(t, err)
}
